package control

import (
	"context"
	"encoding/json"

	"github.com/gorilla/websocket"
)

// Conn is one duplex frame channel carrying the control protocol.
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	Close() error
}

// Serve reads requests from conn and writes one response per request until
// the connection closes or ctx is cancelled. Undecodable frames get an
// error response with an empty correlation id.
func (s *Server) Serve(ctx context.Context, conn Conn) error {
	defer conn.Close()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := conn.ReadFrame()
		if err != nil {
			return err
		}

		var req Request
		var resp Response
		if err := json.Unmarshal(frame, &req); err != nil {
			resp = s.fail("", err)
		} else {
			resp = s.Handle(ctx, req)
		}

		out, err := json.Marshal(resp)
		if err != nil {
			s.logger.Error("encoding control response failed", "error", err)
			continue
		}
		if err := conn.WriteFrame(out); err != nil {
			return err
		}
	}
}

// WSConn adapts a server-side gorilla websocket to the Conn interface.
type WSConn struct {
	ws *websocket.Conn
}

// NewWSConn wraps an accepted websocket connection.
func NewWSConn(ws *websocket.Conn) *WSConn { return &WSConn{ws: ws} }

func (c *WSConn) ReadFrame() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *WSConn) WriteFrame(data []byte) error {
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *WSConn) Close() error { return c.ws.Close() }
