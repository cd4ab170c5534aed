package transport

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/halverson/webtap/pkg/pipeline"
)

// HTTPTransport is the default transport: net/http for round trips and a
// websocket dialer for message streams.
type HTTPTransport struct {
	client *http.Client
	dialer *websocket.Dialer
	logger *slog.Logger
}

// NewHTTPTransport builds a transport with sane timeouts. A nil client
// gets a default with a 30s overall timeout.
func NewHTTPTransport(client *http.Client, logger *slog.Logger) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPTransport{
		client: client,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger,
	}
}

func (t *HTTPTransport) Init(ctx context.Context) error { return nil }

func (t *HTTPTransport) Meta() Meta { return Meta{Name: "http"} }

// RoundTrip forwards the request with the standard client. The response
// body is left as an open stream; the pipeline decides whether to drain it.
func (t *HTTPTransport) RoundTrip(req *pipeline.Request) (*pipeline.Response, error) {
	hreq, err := http.NewRequestWithContext(req.Context(), req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, vv := range req.Header {
		for _, v := range vv {
			hreq.Header.Add(k, v)
		}
	}

	hresp, err := t.client.Do(hreq)
	if err != nil {
		return nil, err
	}

	return &pipeline.Response{
		StatusCode: hresp.StatusCode,
		Status:     hresp.Status,
		Header:     hresp.Header,
		Body:       pipeline.StreamBody(hresp.Body),
		Request:    req,
	}, nil
}

// Connect dials a websocket and pumps inbound frames to the handlers until
// the socket closes or ctx is cancelled.
func (t *HTTPTransport) Connect(ctx context.Context, address string, opts ConnectOptions, handlers ConnectHandlers) (Conn, error) {
	dialer := *t.dialer
	dialer.Subprotocols = opts.Protocols
	ws, _, err := dialer.DialContext(ctx, address, opts.Header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}

	conn := &wsConn{ws: ws}
	if handlers.OnOpen != nil {
		handlers.OnOpen(conn)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer ws.Close()
		for {
			kind, data, err := ws.ReadMessage()
			if err != nil {
				if handlers.OnError != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					handlers.OnError(err)
				}
				if handlers.OnClose != nil {
					handlers.OnClose()
				}
				return
			}
			if handlers.OnMessage == nil {
				continue
			}
			switch kind {
			case websocket.TextMessage:
				handlers.OnMessage(pipeline.TextMessage(string(data)))
			case websocket.BinaryMessage:
				handlers.OnMessage(pipeline.BinaryMessage(data))
			}
		}
	}()

	go func() {
		select {
		case <-ctx.Done():
			ws.Close()
		case <-done:
		}
	}()

	return conn, nil
}

// wsConn adapts a gorilla websocket to the Conn interface. Writes are
// serialized; gorilla allows only one concurrent writer.
type wsConn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (c *wsConn) Send(msg pipeline.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg.IsText() {
		return c.ws.WriteMessage(websocket.TextMessage, []byte(msg.Text()))
	}
	return c.ws.WriteMessage(websocket.BinaryMessage, msg.Data())
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}
