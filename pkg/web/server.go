// Package web provides the JSON management API and event feed for webtap.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/halverson/webtap/pkg/control"
	"github.com/halverson/webtap/pkg/trace"
	"github.com/halverson/webtap/pkg/transport"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// Server serves the management REST API, the live event feed, and the
// control-channel endpoint.
type Server struct {
	facade  *transport.Facade
	traces  *trace.Store
	control *control.Server
	port    int
	server  *http.Server
	hub     *wsHub
	logger  *slog.Logger
}

// New creates a web Server over the given facade. control may be nil to
// disable the control-channel endpoint.
func New(facade *transport.Facade, traces *trace.Store, ctrl *control.Server, port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		facade:  facade,
		traces:  traces,
		control: ctrl,
		port:    port,
		hub:     newWSHub(),
		logger:  logger,
	}
}

// Start runs the web server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.run()

	// Subscribe to trace events and broadcast them to WebSocket clients.
	eventCh := s.traces.Subscribe()
	go func() {
		defer s.traces.Unsubscribe(eventCh)
		for {
			select {
			case evt, ok := <-eventCh:
				if !ok {
					return
				}
				data, err := json.Marshal(evt)
				if err == nil {
					s.hub.broadcast <- data
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: corsMiddleware(mux),
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutCtx)
	}()

	s.logger.Info("management API listening", "url", fmt.Sprintf("http://localhost:%d", s.port))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server: %w", err)
	}
	return nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	h := &handlers{facade: s.facade, traces: s.traces, logger: s.logger}

	mux.HandleFunc("GET /api/exchanges", h.listExchanges)
	mux.HandleFunc("GET /api/exchanges/{id}", h.getExchange)
	mux.HandleFunc("DELETE /api/exchanges", h.clearExchanges)

	mux.HandleFunc("GET /api/plugins", h.listPlugins)
	mux.HandleFunc("POST /api/plugins", h.addPlugin)
	mux.HandleFunc("DELETE /api/plugins/{name}", h.removePlugin)
	mux.HandleFunc("PUT /api/plugins/{name}/sites", h.updateSites)
	mux.HandleFunc("PUT /api/plugins/{name}/enabled", h.setEnabled)
	mux.HandleFunc("POST /api/plugins/reload", h.reload)

	mux.HandleFunc("GET /api/middleware", h.listMiddleware)
	mux.HandleFunc("GET /api/status", h.status)

	mux.HandleFunc("GET /ws", s.handleWS)
	if s.control != nil {
		mux.HandleFunc("GET /control", s.handleControl)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := &wsClient{hub: s.hub, conn: conn, send: make(chan []byte, 256)}
	s.hub.register <- client
	go client.writePump()
	go client.readPump()
}

// handleControl upgrades the connection and speaks the control protocol
// over it until either side closes.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	if err := s.control.Serve(r.Context(), control.NewWSConn(conn)); err != nil {
		s.logger.Debug("control session ended", "error", err)
	}
}

// corsMiddleware adds permissive CORS headers (dev-only).
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- WebSocket hub ---

type wsHub struct {
	clients    map[*wsClient]bool
	broadcast  chan []byte
	register   chan *wsClient
	unregister chan *wsClient
	mu         sync.Mutex
}

func newWSHub() *wsHub {
	return &wsHub{
		clients:    make(map[*wsClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
	}
}

func (h *wsHub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					delete(h.clients, c)
					close(c.send)
				}
			}
			h.mu.Unlock()
		}
	}
}

type wsClient struct {
	hub  *wsHub
	conn *websocket.Conn
	send chan []byte
}

func (c *wsClient) writePump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
