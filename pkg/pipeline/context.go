package pipeline

import (
	"context"
	"net/http"
)

// Request is the mutable outbound context carried through the request stage.
// Handlers may mutate it directly or through a RequestPatch handed to the
// stage continuation; later handlers observe earlier mutations.
type Request struct {
	// ID identifies the exchange this request belongs to.
	ID string `json:"id,omitempty"`

	URL    string      `json:"url"`
	Method string      `json:"method"`
	Body   []byte      `json:"body,omitempty"`
	Header http.Header `json:"headers"`

	ctx context.Context
}

// NewRequest builds a request context with an empty header map.
func NewRequest(method, rawurl string, body []byte) *Request {
	return &Request{
		URL:    rawurl,
		Method: method,
		Body:   body,
		Header: make(http.Header),
	}
}

// Context returns the cancellation context attached to the request,
// or context.Background when none was set.
func (r *Request) Context() context.Context {
	if r.ctx != nil {
		return r.ctx
	}
	return context.Background()
}

// WithContext attaches a cancellation context. The context is propagated to
// the underlying transport; it does not cancel individual handlers.
func (r *Request) WithContext(ctx context.Context) *Request {
	r.ctx = ctx
	return r
}

// Clone returns a deep copy of the request (headers and body included).
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	body := make([]byte, len(r.Body))
	copy(body, r.Body)
	cp := &Request{
		ID:     r.ID,
		URL:    r.URL,
		Method: r.Method,
		Body:   body,
		Header: r.Header.Clone(),
		ctx:    r.ctx,
	}
	if cp.Header == nil {
		cp.Header = make(http.Header)
	}
	return cp
}

// RequestPatch is a partial request update merged by the stage continuation.
// Zero-valued fields are left untouched; Header entries are set key-wise.
type RequestPatch struct {
	URL    string
	Method string
	Body   []byte
	Header http.Header
}

func (p *RequestPatch) apply(r *Request) {
	if p == nil || r == nil {
		return
	}
	if p.URL != "" {
		r.URL = p.URL
	}
	if p.Method != "" {
		r.Method = p.Method
	}
	if p.Body != nil {
		r.Body = p.Body
	}
	if len(p.Header) > 0 {
		if r.Header == nil {
			r.Header = make(http.Header)
		}
		for k, vv := range p.Header {
			r.Header.Del(k)
			for _, v := range vv {
				r.Header.Add(k, v)
			}
		}
	}
}

// Response is the mutable inbound context carried through the response stage.
type Response struct {
	StatusCode int         `json:"statusCode"`
	Status     string      `json:"status,omitempty"`
	Header     http.Header `json:"headers"`
	Body       Body        `json:"-"`

	// Request is the finalized request context this response answers.
	Request *Request `json:"-"`

	// Tags records the ids of handlers that rewrote the response.
	Tags []string `json:"tags,omitempty"`
}

// NewResponse builds a response context with an empty header map.
func NewResponse(statusCode int, body Body) *Response {
	return &Response{
		StatusCode: statusCode,
		Header:     make(http.Header),
		Body:       body,
	}
}

// Clone returns a copy of the response. Header maps and tags are copied;
// the body value is shared (an open stream cannot be duplicated without
// consuming it, see PeekText).
func (r *Response) Clone() *Response {
	if r == nil {
		return nil
	}
	cp := &Response{
		StatusCode: r.StatusCode,
		Status:     r.Status,
		Header:     r.Header.Clone(),
		Body:       r.Body,
		Request:    r.Request,
		Tags:       append([]string(nil), r.Tags...),
	}
	if cp.Header == nil {
		cp.Header = make(http.Header)
	}
	return cp
}

// Direction labels which way a stream message is travelling.
type Direction string

const (
	// Outbound messages travel from the caller toward the remote peer.
	Outbound Direction = "outbound"
	// Inbound messages travel from the remote peer toward the caller.
	Inbound Direction = "inbound"
)

type messageKind int

const (
	messageNil messageKind = iota
	messageText
	messageBinary
)

// Message is one payload on a bidirectional stream. It is either text or
// binary; the zero Message is the nil payload and passes through stages
// unchanged.
type Message struct {
	kind messageKind
	text string
	data []byte
}

// TextMessage wraps a text payload.
func TextMessage(s string) Message { return Message{kind: messageText, text: s} }

// BinaryMessage wraps a binary payload.
func BinaryMessage(b []byte) Message { return Message{kind: messageBinary, data: b} }

// IsNil reports whether the message carries no payload.
func (m Message) IsNil() bool { return m.kind == messageNil }

// IsText reports whether the payload is text-shaped.
func (m Message) IsText() bool { return m.kind == messageText }

// Text returns the text payload ("" for non-text messages).
func (m Message) Text() string { return m.text }

// Data returns the payload bytes regardless of shape.
func (m Message) Data() []byte {
	if m.kind == messageText {
		return []byte(m.text)
	}
	return m.data
}
