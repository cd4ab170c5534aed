// Package transport defines the forwarding layer the pipeline wraps: a
// Transport carries requests to their destination and opens duplex message
// streams, and the Facade runs both through the interception chain.
package transport

import (
	"context"
	"net/http"

	"github.com/halverson/webtap/pkg/pipeline"
)

// Meta describes a transport for logging and UI display.
type Meta struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// Conn is an open duplex message stream.
type Conn interface {
	// Send writes one message to the peer.
	Send(msg pipeline.Message) error
	Close() error
}

// ConnectOptions carry handshake parameters for Connect. The zero value
// requests no subprotocol and no extra headers.
type ConnectOptions struct {
	// Protocols are offered to the peer for subprotocol negotiation.
	Protocols []string
	// Header is sent with the opening handshake (auth, Origin, cookies).
	Header http.Header
}

// ConnectHandlers receive stream lifecycle callbacks. Any field may be nil.
type ConnectHandlers struct {
	OnOpen    func(conn Conn)
	OnMessage func(msg pipeline.Message)
	OnClose   func()
	OnError   func(err error)
}

// Transport forwards requests and opens message streams. Implementations
// must be safe for concurrent use.
type Transport interface {
	// Init prepares the transport for use. Called once before any
	// RoundTrip or Connect.
	Init(ctx context.Context) error

	Meta() Meta

	// RoundTrip forwards a request and returns the raw response. Errors
	// are returned as-is; the caller decides how to surface them.
	RoundTrip(req *pipeline.Request) (*pipeline.Response, error)

	// Connect opens a message stream to the given address. Inbound
	// messages are delivered through handlers until the stream closes.
	Connect(ctx context.Context, address string, opts ConnectOptions, handlers ConnectHandlers) (Conn, error)
}
