package plugin

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/halverson/webtap/pkg/pipeline"
	"github.com/halverson/webtap/pkg/script"
	"github.com/halverson/webtap/pkg/sites"
)

// htmlMarker gates body rewriting to HTML responses.
const htmlMarker = "html"

// Handler is the pipeline unit generated from a plugin definition. It only
// implements the response capability: obtain the current response through
// the continuation, check the site scope and content-type gate, materialize
// the body, run the plugin, and hand back either the rewritten response
// (content-length updated) or the untouched one.
type Handler struct {
	def    *Definition
	runner *Runner
	logger *slog.Logger

	compileOnce sync.Once
	prog        script.Program

	disabled atomic.Bool
}

// NewHandler wraps a definition into a pipeline handler. Handlers generated
// on registry (re)load use the plugin name as their unit id.
func NewHandler(def *Definition, runner *Runner, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{def: def, runner: runner, logger: logger}
}

// ID implements pipeline.Handler.
func (h *Handler) ID() string { return h.def.Name }

// Enabled implements pipeline.Handler.
func (h *Handler) Enabled() bool { return !h.disabled.Load() }

// SetEnabled implements pipeline.Toggler.
func (h *Handler) SetEnabled(enabled bool) { h.disabled.Store(!enabled) }

// Definition returns the owning plugin definition.
func (h *Handler) Definition() *Definition { return h.def }

// OnResponse implements pipeline.ResponseHook.
func (h *Handler) OnResponse(resp *pipeline.Response, next pipeline.RespondNext) *pipeline.Response {
	resp = next()
	if resp == nil || resp.Request == nil {
		return resp
	}
	target := resp.Request.URL
	if !sites.MatchString(h.def.Sites, target) {
		return resp
	}
	ct := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.Contains(ct, htmlMarker) {
		return resp
	}

	text, redeliver, ok := pipeline.PeekText(resp.Body)
	// Keep the redelivery copy either way; the inspection drain must never
	// cost the caller the original payload.
	resp.Body = redeliver
	if !ok {
		return resp
	}

	h.compileOnce.Do(func() {
		prog, err := h.runner.Compile(h.def)
		if err != nil {
			h.logger.Error("plugin compile failed", "plugin", h.def.Name, "error", err)
			return
		}
		h.prog = prog
	})

	rewritten := h.runner.Execute(h.def, h.prog, text, target, flattenHeaders(resp.Header))
	if rewritten == text {
		return resp
	}

	out := resp.Clone()
	out.Body = pipeline.TextBody(rewritten)
	out.Header.Set("Content-Length", strconv.Itoa(len(rewritten)))
	out.Tags = append(out.Tags, h.def.Name)
	return out
}

// flattenHeaders lowers header keys for plugin consumption; plugins look
// headers up by normalized (lowercase) name.
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vv := range h {
		if len(vv) > 0 {
			out[strings.ToLower(k)] = vv[0]
		}
	}
	return out
}
