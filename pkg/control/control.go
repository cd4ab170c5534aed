// Package control implements the management protocol: a duplex JSON
// message channel through which a remote caller manages plugins and
// middleware at runtime.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/halverson/webtap/pkg/pipeline"
	"github.com/halverson/webtap/pkg/plugin"
)

const (
	// ProtocolMarker tags every frame on the channel.
	ProtocolMarker = "webtap-control"
	// Version is the protocol version; only the major component is
	// checked, and a mismatch logs a warning rather than failing.
	Version = "1.0"
)

// Operation names accepted on the channel.
const (
	OpAddPlugin            = "addPlugin"
	OpRemovePlugin         = "removePlugin"
	OpListPlugins          = "listPlugins"
	OpAddMiddleware        = "addMiddleware"
	OpRemoveMiddleware     = "removeMiddleware"
	OpSetMiddlewareEnabled = "setMiddlewareEnabled"
	OpListMiddleware       = "listMiddleware"
)

// Request is one inbound management frame. ID is a caller-chosen
// correlation id; exactly one Response echoes it.
type Request struct {
	Proto   string          `json:"proto"`
	Version string          `json:"version"`
	ID      string          `json:"id"`
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response answers one Request.
type Response struct {
	Proto   string          `json:"proto"`
	Version string          `json:"version"`
	ID      string          `json:"id"`
	OK      bool            `json:"ok"`
	Error   string          `json:"error,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// PluginPayload carries plugin and middleware definitions over the wire.
type PluginPayload struct {
	Name    string      `json:"name"`
	Sites   []string    `json:"sites"`
	Source  string      `json:"source"`
	Kind    plugin.Kind `json:"kind,omitempty"`
	Enabled *bool       `json:"enabled,omitempty"`
}

// PluginInfo is one entry of a listPlugins result.
type PluginInfo struct {
	Name    string      `json:"name"`
	Sites   []string    `json:"sites"`
	Kind    plugin.Kind `json:"kind,omitempty"`
	Enabled bool        `json:"enabled"`
}

// UnitInfo is one entry of a listMiddleware result.
type UnitInfo struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

// Server dispatches management operations against a registry and a chain.
// Middleware added here is ephemeral: it lives in the chain only and is
// gone after restart.
type Server struct {
	registry *plugin.Registry
	chain    *pipeline.Chain
	runner   *plugin.Runner
	logger   *slog.Logger
}

// NewServer builds a control server over the given management surfaces.
func NewServer(registry *plugin.Registry, chain *pipeline.Chain, runner *plugin.Runner, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{registry: registry, chain: chain, runner: runner, logger: logger}
}

// Handle dispatches one request and returns the single response that
// echoes its correlation id.
func (s *Server) Handle(ctx context.Context, req Request) Response {
	if req.Proto != ProtocolMarker {
		return s.fail(req.ID, fmt.Errorf("unknown protocol %q", req.Proto))
	}
	if major(req.Version) != major(Version) {
		s.logger.Warn("control protocol version mismatch",
			"theirs", req.Version, "ours", Version)
	}

	result, err := s.dispatch(ctx, req)
	if err != nil {
		return s.fail(req.ID, err)
	}
	return Response{Proto: ProtocolMarker, Version: Version, ID: req.ID, OK: true, Result: result}
}

func (s *Server) dispatch(ctx context.Context, req Request) (json.RawMessage, error) {
	switch req.Op {
	case OpAddPlugin:
		return nil, s.addPlugin(ctx, req.Payload)
	case OpRemovePlugin:
		p, err := payload(req.Payload)
		if err != nil {
			return nil, err
		}
		return nil, s.registry.Remove(ctx, p.Name)
	case OpListPlugins:
		return s.listPlugins()
	case OpAddMiddleware:
		return nil, s.addMiddleware(req.Payload)
	case OpRemoveMiddleware:
		p, err := payload(req.Payload)
		if err != nil {
			return nil, err
		}
		if !s.chain.Remove(p.Name) {
			return nil, fmt.Errorf("middleware %q not found", p.Name)
		}
		return nil, nil
	case OpSetMiddlewareEnabled:
		p, err := payload(req.Payload)
		if err != nil {
			return nil, err
		}
		if p.Enabled == nil {
			return nil, fmt.Errorf("missing enabled flag")
		}
		if !s.chain.SetEnabled(p.Name, *p.Enabled) {
			return nil, fmt.Errorf("middleware %q not found", p.Name)
		}
		return nil, nil
	case OpListMiddleware:
		return s.listMiddleware()
	default:
		return nil, fmt.Errorf("unknown operation %q", req.Op)
	}
}

func (s *Server) addPlugin(ctx context.Context, raw json.RawMessage) error {
	p, err := payload(raw)
	if err != nil {
		return err
	}
	def, err := plugin.NewOfKind(p.Name, p.Sites, p.Source, p.Kind)
	if err != nil {
		return err
	}
	return s.registry.Add(ctx, def)
}

// addMiddleware registers an ephemeral handler unit directly in the chain,
// bypassing the persistent store.
func (s *Server) addMiddleware(raw json.RawMessage) error {
	p, err := payload(raw)
	if err != nil {
		return err
	}
	def, err := plugin.NewOfKind(p.Name, p.Sites, p.Source, p.Kind)
	if err != nil {
		return err
	}
	for _, h := range s.chain.Handlers() {
		if h.ID() == def.Name {
			return fmt.Errorf("middleware %q already registered", def.Name)
		}
	}
	s.chain.Add(plugin.NewHandler(def, s.runner, s.logger))
	return nil
}

func (s *Server) listPlugins() (json.RawMessage, error) {
	defs := s.registry.List()
	out := make([]PluginInfo, 0, len(defs))
	for _, d := range defs {
		out = append(out, PluginInfo{
			Name:    d.Name,
			Sites:   d.Sites,
			Kind:    d.Kind,
			Enabled: s.registry.Enabled(d.Name),
		})
	}
	return json.Marshal(out)
}

func (s *Server) listMiddleware() (json.RawMessage, error) {
	handlers := s.chain.Handlers()
	out := make([]UnitInfo, 0, len(handlers))
	for _, h := range handlers {
		out = append(out, UnitInfo{ID: h.ID(), Enabled: h.Enabled()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return json.Marshal(out)
}

func (s *Server) fail(id string, err error) Response {
	return Response{Proto: ProtocolMarker, Version: Version, ID: id, OK: false, Error: err.Error()}
}

func payload(raw json.RawMessage) (*PluginPayload, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("missing payload")
	}
	var p PluginPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &p, nil
}

func major(v string) string {
	if i := strings.IndexByte(v, '.'); i >= 0 {
		return v[:i]
	}
	return v
}
