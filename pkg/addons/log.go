// Package addons provides built-in pipeline middleware and trace consumers.
package addons

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/halverson/webtap/pkg/trace"
)

// colorFor returns an ANSI colour escape for an HTTP status code.
func colorFor(code int) string {
	switch {
	case code >= 500:
		return "\033[31m" // red
	case code >= 400:
		return "\033[33m" // yellow
	case code >= 300:
		return "\033[36m" // cyan
	case code >= 200:
		return "\033[32m" // green
	default:
		return "\033[0m"
	}
}

const resetColor = "\033[0m"

// EventLogger writes one-line summaries of finished exchanges to an
// io.Writer. Format mirrors mitmdump: METHOD STATUS HOST PATH [duration] [size]
type EventLogger struct {
	w       io.Writer
	noColor bool
}

// NewEventLogger creates an EventLogger that writes to w.
func NewEventLogger(w io.Writer, noColor bool) *EventLogger {
	return &EventLogger{w: w, noColor: noColor}
}

// Run subscribes to the trace store and logs completed and errored
// exchanges until ctx is cancelled.
func (l *EventLogger) Run(ctx context.Context, store *trace.Store) {
	ch := store.Subscribe()
	defer store.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if evt.Type == trace.EventComplete || evt.Type == trace.EventError {
				l.Write(evt.Exchange)
			}
		}
	}
}

// Write emits one summary line for an exchange.
func (l *EventLogger) Write(e *trace.Exchange) {
	if e.Request == nil {
		return
	}

	method := fmt.Sprintf("%-7s", e.Request.Method)
	host := e.Request.Host
	if host == "" {
		host = "-"
	}

	path := e.Request.Path
	if path == "" {
		path = "/"
	}

	dur := formatDuration(e.Duration())

	var statusPart string
	if e.Response != nil {
		code := e.Response.StatusCode
		codeStr := fmt.Sprintf("%d", code)
		size := formatSize(len(e.Response.Body))
		if !l.noColor {
			statusPart = fmt.Sprintf("%s%s%s %s", colorFor(code), codeStr, resetColor, size)
		} else {
			statusPart = fmt.Sprintf("%s %s", codeStr, size)
		}
	} else {
		if !l.noColor {
			statusPart = "\033[31mERR\033[0m"
		} else {
			statusPart = "ERR"
		}
	}

	rewrites := ""
	if len(e.RewrittenBy) > 0 {
		rewrites = " [" + strings.Join(e.RewrittenBy, ",") + "]"
	}

	fmt.Fprintf(l.w, "%s %s  %-25s %-50s %s%s\n",
		method, statusPart, truncate(host, 25), truncate(path, 50), dur, rewrites)
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%3dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%3dms", d.Milliseconds())
	default:
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
}

func formatSize(n int) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%dB", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1fK", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1fM", float64(n)/1024/1024)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
