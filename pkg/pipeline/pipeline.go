// Package pipeline implements the ordered interception chain that requests,
// responses, and stream messages pass through between the multiplexer and
// the underlying transport.
package pipeline

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Handler is one unit in the chain. Units implement whichever hook
// interfaces they need; a unit without a hook for a stage is skipped for
// that stage.
type Handler interface {
	// ID identifies the unit in logs and management calls. Units generated
	// from plugins use the plugin name.
	ID() string
	// Enabled is evaluated per invocation; a disabled unit's capabilities
	// are skipped entirely.
	Enabled() bool
}

// Toggler is implemented by handlers whose enabled state can be flipped
// after registration.
type Toggler interface {
	SetEnabled(enabled bool)
}

// Next continues the request stage. Calling it merges an optional patch into
// the current request and returns the request as mutated so far; a handler
// that never calls it halts propagation to later units (a deliberate
// short-circuit, not an error).
type Next func(patch *RequestPatch) *Request

// RespondNext continues the response stage and yields the current response.
type RespondNext func() *Response

// RequestHook is invoked for outbound requests, in registration order.
type RequestHook interface {
	OnRequest(req *Request, next Next)
}

// ResponseHook is invoked for inbound responses, in registration order.
// The returned response (when non-nil) replaces the current one for
// subsequent units and for delivery.
type ResponseHook interface {
	OnResponse(resp *Response, next RespondNext) *Response
}

// MessageHook is invoked for every stream message in either direction.
// It must return the (possibly unmodified) payload.
type MessageHook interface {
	OnMessage(msg Message, dir Direction) Message
}

// Chain is the ordered, mutable collection of handler units. Stage
// traversal operates on a snapshot of the unit list, so registration and
// removal are safe while traffic is in flight; in-flight stages finish on
// the list they started with.
type Chain struct {
	mu       sync.RWMutex
	handlers []Handler
	logger   *slog.Logger
}

// NewChain returns an empty chain. A nil logger falls back to slog.Default.
func NewChain(logger *slog.Logger) *Chain {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chain{logger: logger}
}

// Add appends one or more units to the end of the chain.
func (c *Chain) Add(handlers ...Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, handlers...)
}

// Remove deletes the first unit with the given id. It reports whether a
// unit was removed.
func (c *Chain) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, h := range c.handlers {
		if h.ID() == id {
			c.handlers = append(c.handlers[:i], c.handlers[i+1:]...)
			return true
		}
	}
	return false
}

// SetEnabled flips the enabled state of the unit with the given id.
// It reports whether such a unit exists and supports toggling.
func (c *Chain) SetEnabled(id string, enabled bool) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, h := range c.handlers {
		if h.ID() != id {
			continue
		}
		if t, ok := h.(Toggler); ok {
			t.SetEnabled(enabled)
			return true
		}
		return false
	}
	return false
}

// Handlers returns a snapshot of the registered units in order.
func (c *Chain) Handlers() []Handler {
	return c.snapshot()
}

func (c *Chain) snapshot() []Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := make([]Handler, len(c.handlers))
	copy(cp, c.handlers)
	return cp
}

// ProcessRequest runs the request through every enabled unit with a request
// capability, in registration order. A unit fault is logged and the stage
// continues with the request as it stood before that unit ran.
func (c *Chain) ProcessRequest(req *Request) *Request {
	for _, h := range c.snapshot() {
		hook, ok := h.(RequestHook)
		if !ok || !h.Enabled() {
			continue
		}
		proceed := false
		next := Next(func(patch *RequestPatch) *Request {
			proceed = true
			patch.apply(req)
			return req
		})
		saved := req.Clone()
		if err := invoke(func() { hook.OnRequest(req, next) }); err != nil {
			c.logger.Error("request handler failed", "handler", h.ID(), "error", err)
			req = saved
			continue
		}
		if !proceed {
			break
		}
	}
	return req
}

// ProcessResponse runs the response through every enabled unit with a
// response capability, in registration order. Each unit's non-nil return
// value becomes the current response for later units.
func (c *Chain) ProcessResponse(resp *Response) *Response {
	for _, h := range c.snapshot() {
		hook, ok := h.(ResponseHook)
		if !ok || !h.Enabled() {
			continue
		}
		proceed := false
		next := RespondNext(func() *Response {
			proceed = true
			return resp
		})
		saved := resp.Clone()
		var out *Response
		if err := invoke(func() { out = hook.OnResponse(resp, next) }); err != nil {
			c.logger.Error("response handler failed", "handler", h.ID(), "error", err)
			resp = saved
			continue
		}
		if out != nil {
			resp = out
		}
		if !proceed {
			break
		}
	}
	return resp
}

// ProcessMessage runs a stream payload through every enabled unit with a
// message capability, in registration order. A faulty unit's output is
// discarded and the payload continues as it stood before that unit ran.
func (c *Chain) ProcessMessage(msg Message, dir Direction) Message {
	for _, h := range c.snapshot() {
		hook, ok := h.(MessageHook)
		if !ok || !h.Enabled() {
			continue
		}
		saved := msg
		var out Message
		if err := invoke(func() { out = hook.OnMessage(msg, dir) }); err != nil {
			c.logger.Error("message handler failed", "handler", h.ID(), "direction", string(dir), "error", err)
			msg = saved
			continue
		}
		msg = out
	}
	return msg
}

// invoke runs fn, converting a panic into an error so one misbehaving unit
// never takes down the chain.
func invoke(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	fn()
	return nil
}

// Middleware is a hand-registered chain unit assembled from optional
// callbacks. Nil callbacks behave as transparent pass-throughs for their
// stage. The zero enabled state is "enabled".
type Middleware struct {
	// Name is the unit id.
	Name string
	// EnabledFn, when set, is consulted per invocation instead of the
	// toggled state.
	EnabledFn func() bool

	Request  func(req *Request, next Next)
	Response func(resp *Response, next RespondNext) *Response
	Message  func(msg Message, dir Direction) Message

	disabled atomic.Bool
}

// ID implements Handler.
func (m *Middleware) ID() string { return m.Name }

// Enabled implements Handler.
func (m *Middleware) Enabled() bool {
	if m.EnabledFn != nil {
		return m.EnabledFn()
	}
	return !m.disabled.Load()
}

// SetEnabled implements Toggler.
func (m *Middleware) SetEnabled(enabled bool) { m.disabled.Store(!enabled) }

// OnRequest implements RequestHook; a nil Request callback passes through.
func (m *Middleware) OnRequest(req *Request, next Next) {
	if m.Request != nil {
		m.Request(req, next)
		return
	}
	next(nil)
}

// OnResponse implements ResponseHook; a nil Response callback passes through.
func (m *Middleware) OnResponse(resp *Response, next RespondNext) *Response {
	if m.Response != nil {
		return m.Response(resp, next)
	}
	return next()
}

// OnMessage implements MessageHook; a nil Message callback passes through.
func (m *Middleware) OnMessage(msg Message, dir Direction) Message {
	if m.Message != nil {
		return m.Message(msg, dir)
	}
	return msg
}
