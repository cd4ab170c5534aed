package plugin

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/halverson/webtap/pkg/script"
)

// headAnchor is the injection point for content-execution fragments: the
// closing head-section marker of the document.
const headAnchor = "</head>"

// Runner executes a plugin against a materialized response body. The
// execution provider is injected so the unsafe-evaluation boundary stays in
// one place.
type Runner struct {
	engines map[Kind]script.Engine
	logger  *slog.Logger
}

// NewRunner builds a runner with the JavaScript provider registered. A nil
// logger falls back to slog.Default.
func NewRunner(js script.Engine, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		engines: map[Kind]script.Engine{KindJS: js},
		logger:  logger,
	}
}

// RegisterEngine adds or replaces the provider for a plugin kind.
func (r *Runner) RegisterEngine(kind Kind, e script.Engine) {
	r.engines[kind] = e
}

func (r *Runner) engine(kind Kind) (script.Engine, error) {
	if kind == "" {
		kind = KindJS
	}
	e, ok := r.engines[kind]
	if !ok {
		return nil, fmt.Errorf("no engine registered for kind %q", kind)
	}
	return e, nil
}

// Compile prepares the plugin's delivery-time fragment. A plugin whose
// delivery fragment is empty compiles to nil without error.
func (r *Runner) Compile(d *Definition) (script.Program, error) {
	if strings.TrimSpace(d.DeliveryCode()) == "" {
		return nil, nil
	}
	e, err := r.engine(d.Kind)
	if err != nil {
		return nil, err
	}
	return e.Compile(d.Name, d.DeliveryCode())
}

// Execute runs the plugin against body once and returns the resulting body
// text. The content-execution fragment (if any) is injected first; the
// delivery-time fragment then runs against the post-injection body. A fault
// in either fragment is logged and degrades to "no modification" for that
// fragment only; Execute never fails.
//
// prog is the compiled delivery fragment from Compile; pass nil to compile
// on the fly.
func (r *Runner) Execute(d *Definition, prog script.Program, body, targetURL string, headers map[string]string) string {
	body = r.inject(d, body, targetURL)

	if strings.TrimSpace(d.DeliveryCode()) == "" {
		return body
	}
	if prog == nil {
		var err error
		prog, err = r.Compile(d)
		if err != nil {
			r.logger.Error("plugin compile failed", "plugin", d.Name, "error", err)
			return body
		}
		if prog == nil {
			return body
		}
	}

	out, replaced, err := prog.Run(body, targetURL, headers)
	if err != nil {
		r.logger.Error("plugin execution failed", "plugin", d.Name, "error", err)
		return body
	}
	if !replaced {
		return body
	}
	return out
}

// inject wraps the content-execution fragment in a self-invoking function
// bound to the target URL and the plugin name, and splices it in front of
// the document's closing head marker. A single textual substitution; when
// the anchor is absent the body is returned unmodified.
func (r *Runner) inject(d *Definition, body, targetURL string) string {
	code := d.ContentCode()
	if code == "" {
		return body
	}
	if !strings.Contains(body, headAnchor) {
		return body
	}
	block := "<script>(function(url, plugin) {\n" +
		code +
		"\n})(" + strconv.Quote(targetURL) + ", " + strconv.Quote(d.Name) + ");</script>"
	return strings.Replace(body, headAnchor, block+headAnchor, 1)
}
