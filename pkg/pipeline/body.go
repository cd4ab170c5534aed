package pipeline

import (
	"bytes"
	"io"
	"strings"
)

type bodyKind int

const (
	bodyNil bodyKind = iota
	bodyText
	bodyBytes
	bodyBuffer
	bodyStream
)

// Body holds a response payload in one of four shapes: decoded text, a byte
// blob, a fixed-size buffer, or an open forward-only stream. The zero Body
// is the absent payload; an absent body is never treated as empty-string
// content.
type Body struct {
	kind   bodyKind
	text   string
	data   []byte
	buf    *bytes.Buffer
	stream io.ReadCloser
}

// TextBody wraps already-decoded text.
func TextBody(s string) Body { return Body{kind: bodyText, text: s} }

// BytesBody wraps a byte blob.
func BytesBody(b []byte) Body { return Body{kind: bodyBytes, data: b} }

// BufferBody wraps a fixed-size buffer.
func BufferBody(buf *bytes.Buffer) Body { return Body{kind: bodyBuffer, buf: buf} }

// StreamBody wraps an open byte stream. The stream is consumed at most once;
// use PeekText to inspect it without losing the deliverable copy.
func StreamBody(rc io.ReadCloser) Body { return Body{kind: bodyStream, stream: rc} }

// IsNil reports whether the body is absent.
func (b Body) IsNil() bool { return b.kind == bodyNil }

// IsStream reports whether the body is an open stream.
func (b Body) IsStream() bool { return b.kind == bodyStream }

// Len returns the payload length in bytes, or -1 when the body is an open
// stream of unknown length.
func (b Body) Len() int {
	switch b.kind {
	case bodyText:
		return len(b.text)
	case bodyBytes:
		return len(b.data)
	case bodyBuffer:
		return b.buf.Len()
	case bodyStream:
		return -1
	default:
		return 0
	}
}

// Reader returns the payload as a stream for delivery. For stream bodies
// this is the underlying stream itself; reading it consumes the body.
func (b Body) Reader() io.ReadCloser {
	switch b.kind {
	case bodyText:
		return io.NopCloser(strings.NewReader(b.text))
	case bodyBytes:
		return io.NopCloser(bytes.NewReader(b.data))
	case bodyBuffer:
		return io.NopCloser(bytes.NewReader(b.buf.Bytes()))
	case bodyStream:
		return b.stream
	default:
		return io.NopCloser(strings.NewReader(""))
	}
}

// ToText decodes a non-stream body to a UTF-8 string. ok is false for
// absent bodies and for open streams (use PeekText for those).
func ToText(b Body) (text string, ok bool) {
	switch b.kind {
	case bodyText:
		return b.text, true
	case bodyBytes:
		return string(b.data), true
	case bodyBuffer:
		return b.buf.String(), true
	default:
		return "", false
	}
}

// PeekText materializes any body shape to text without destroying the
// caller's ability to deliver the original payload. For open streams the
// stream is fully drained and a fresh body over the same bytes is returned
// for redelivery; for every other shape the body itself is handed back.
// ok is false (and redeliver equals b) when the body is absent or the
// stream cannot be read.
func PeekText(b Body) (text string, redeliver Body, ok bool) {
	if b.kind != bodyStream {
		text, ok = ToText(b)
		return text, b, ok
	}
	data, err := io.ReadAll(b.stream)
	b.stream.Close()
	if err != nil {
		// The stream is gone either way; hand back what was read so the
		// caller still delivers as many bytes as arrived.
		return "", BytesBody(data), false
	}
	return string(data), BytesBody(data), true
}
