// Package trace records the exchanges that pass through the transport
// facade: a fixed-capacity ring buffer of request/response snapshots with
// pub/sub change events for UIs.
package trace

import (
	"net/http"
	"net/url"
	"time"

	"github.com/halverson/webtap/pkg/pipeline"
)

// State describes the lifecycle stage of an exchange.
type State string

const (
	StateActive   State = "active"
	StateComplete State = "complete"
	StateError    State = "error"
)

// RequestRecord is a snapshot of an intercepted request after the request
// stage ran.
type RequestRecord struct {
	Method  string      `json:"method"`
	URL     string      `json:"url"`
	Host    string      `json:"host"`
	Path    string      `json:"path"`
	Headers http.Header `json:"headers"`
	Body    []byte      `json:"body,omitempty"`
}

// ResponseRecord is a snapshot of a response after the response stage ran.
// Stream bodies are never drained for tracing; BodySkipped marks them.
type ResponseRecord struct {
	StatusCode  int         `json:"statusCode"`
	Headers     http.Header `json:"headers"`
	Body        []byte      `json:"body,omitempty"`
	BodySkipped bool        `json:"bodySkipped,omitempty"`
}

// Exchange is one request/response pair (or one failed forward attempt).
type Exchange struct {
	ID string `json:"id"`

	Request  *RequestRecord  `json:"request"`
	Response *ResponseRecord `json:"response,omitempty"`
	Error    string          `json:"error,omitempty"`

	State State `json:"state"`
	// RewrittenBy lists the handler units that rewrote the response.
	RewrittenBy []string `json:"rewrittenBy,omitempty"`

	Timestamps struct {
		Created time.Time `json:"created"`
		Done    time.Time `json:"done,omitempty"`
	} `json:"timestamps"`
}

// Duration returns elapsed time from creation to completion, or to now for
// in-flight exchanges.
func (e *Exchange) Duration() time.Duration {
	if !e.Timestamps.Done.IsZero() {
		return e.Timestamps.Done.Sub(e.Timestamps.Created)
	}
	return time.Since(e.Timestamps.Created)
}

// NewExchange snapshots a request context into a fresh active exchange.
// bodyCap limits how many request body bytes are retained (0 keeps all).
func NewExchange(req *pipeline.Request, bodyCap int) *Exchange {
	e := &Exchange{ID: req.ID, State: StateActive}
	e.Timestamps.Created = time.Now()

	rec := &RequestRecord{
		Method:  req.Method,
		URL:     req.URL,
		Headers: req.Header.Clone(),
		Body:    capBytes(req.Body, bodyCap),
	}
	if u, err := url.Parse(req.URL); err == nil {
		rec.Host = u.Host
		rec.Path = u.Path
	}
	e.Request = rec
	return e
}

// Complete snapshots the final response onto the exchange. bodyCap limits
// retained body bytes; open-stream bodies are skipped rather than drained.
func (e *Exchange) Complete(resp *pipeline.Response, bodyCap int) {
	rec := &ResponseRecord{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
	}
	if resp.Body.IsStream() {
		rec.BodySkipped = true
	} else if text, ok := pipeline.ToText(resp.Body); ok {
		rec.Body = capBytes([]byte(text), bodyCap)
	}
	e.Response = rec
	e.RewrittenBy = append([]string(nil), resp.Tags...)
	e.State = StateComplete
	e.Timestamps.Done = time.Now()
}

// Fail marks the exchange as errored.
func (e *Exchange) Fail(err error) {
	e.State = StateError
	e.Error = err.Error()
	e.Timestamps.Done = time.Now()
}

func capBytes(b []byte, max int) []byte {
	if len(b) == 0 {
		return nil
	}
	if max > 0 && len(b) > max {
		b = b[:max]
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp
}

// EventType describes the kind of change that occurred to an exchange.
type EventType string

const (
	EventNew      EventType = "new"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event carries an exchange change notification to subscribers.
type Event struct {
	Type     EventType `json:"type"`
	Exchange *Exchange `json:"exchange"`
}
