package control

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halverson/webtap/pkg/pipeline"
	"github.com/halverson/webtap/pkg/plugin"
	"github.com/halverson/webtap/pkg/script"
	"github.com/halverson/webtap/pkg/store"
)

const markerSource = `
return "[X] " + body;
`

func newTestServer(t *testing.T) (*Server, *pipeline.Chain, *plugin.Registry) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	chain := pipeline.NewChain(logger)
	runner := plugin.NewRunner(script.NewJSEngine(), logger)
	registry := plugin.NewRegistry(store.NewMemStore(), chain, runner, logger)
	return NewServer(registry, chain, runner, logger), chain, registry
}

func request(t *testing.T, op, id string, p any) Request {
	t.Helper()
	req := Request{Proto: ProtocolMarker, Version: Version, ID: id, Op: op}
	if p != nil {
		raw, err := json.Marshal(p)
		require.NoError(t, err)
		req.Payload = raw
	}
	return req
}

func TestHandleEchoesCorrelationID(t *testing.T) {
	s, _, _ := newTestServer(t)
	resp := s.Handle(context.Background(), request(t, OpListPlugins, "corr-42", nil))

	assert.Equal(t, "corr-42", resp.ID)
	assert.Equal(t, ProtocolMarker, resp.Proto)
	assert.True(t, resp.OK)
}

func TestHandleToleratesMajorVersionMismatch(t *testing.T) {
	s, _, _ := newTestServer(t)
	req := request(t, OpListMiddleware, "v", nil)
	req.Version = "2.3"
	resp := s.Handle(context.Background(), req)

	// A warning is logged but the request is still served.
	assert.True(t, resp.OK)
	assert.Equal(t, "v", resp.ID)
}

func TestHandleRejectsUnknownProtocol(t *testing.T) {
	s, _, _ := newTestServer(t)
	resp := s.Handle(context.Background(), Request{Proto: "other", ID: "x", Op: OpListPlugins})

	assert.False(t, resp.OK)
	assert.Equal(t, "x", resp.ID)
	assert.Contains(t, resp.Error, "unknown protocol")
}

func TestHandleUnknownOp(t *testing.T) {
	s, _, _ := newTestServer(t)
	resp := s.Handle(context.Background(), request(t, "reboot", "x", nil))

	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "unknown operation")
}

func TestAddListRemovePlugin(t *testing.T) {
	s, _, registry := newTestServer(t)
	ctx := context.Background()

	resp := s.Handle(ctx, request(t, OpAddPlugin, "1", PluginPayload{
		Name: "marker", Sites: []string{"*"}, Source: markerSource,
	}))
	require.True(t, resp.OK, resp.Error)
	require.NotNil(t, registry.Get("marker"))

	resp = s.Handle(ctx, request(t, OpListPlugins, "2", nil))
	require.True(t, resp.OK)
	var infos []PluginInfo
	require.NoError(t, json.Unmarshal(resp.Result, &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "marker", infos[0].Name)
	assert.True(t, infos[0].Enabled)

	resp = s.Handle(ctx, request(t, OpRemovePlugin, "3", PluginPayload{Name: "marker"}))
	require.True(t, resp.OK, resp.Error)
	assert.Nil(t, registry.Get("marker"))
}

func TestAddPluginValidationError(t *testing.T) {
	s, _, _ := newTestServer(t)
	resp := s.Handle(context.Background(), request(t, OpAddPlugin, "1", PluginPayload{
		Name: "", Sites: []string{"*"}, Source: markerSource,
	}))
	assert.False(t, resp.OK)
	assert.NotEmpty(t, resp.Error)
}

func TestMiddlewareLifecycle(t *testing.T) {
	s, chain, registry := newTestServer(t)
	ctx := context.Background()
	enabled := true
	disabled := false

	resp := s.Handle(ctx, request(t, OpAddMiddleware, "1", PluginPayload{
		Name: "ephemeral", Sites: []string{"*"}, Source: markerSource,
	}))
	require.True(t, resp.OK, resp.Error)
	require.Len(t, chain.Handlers(), 1)
	// Ephemeral units never touch the persistent registry.
	assert.Nil(t, registry.Get("ephemeral"))

	resp = s.Handle(ctx, request(t, OpSetMiddlewareEnabled, "2", PluginPayload{Name: "ephemeral", Enabled: &disabled}))
	require.True(t, resp.OK, resp.Error)
	assert.False(t, chain.Handlers()[0].Enabled())

	resp = s.Handle(ctx, request(t, OpSetMiddlewareEnabled, "3", PluginPayload{Name: "ephemeral", Enabled: &enabled}))
	require.True(t, resp.OK, resp.Error)

	resp = s.Handle(ctx, request(t, OpListMiddleware, "4", nil))
	require.True(t, resp.OK)
	var units []UnitInfo
	require.NoError(t, json.Unmarshal(resp.Result, &units))
	require.Len(t, units, 1)
	assert.Equal(t, UnitInfo{ID: "ephemeral", Enabled: true}, units[0])

	resp = s.Handle(ctx, request(t, OpRemoveMiddleware, "5", PluginPayload{Name: "ephemeral"}))
	require.True(t, resp.OK, resp.Error)
	assert.Empty(t, chain.Handlers())
}

func TestAddMiddlewareDuplicateRejected(t *testing.T) {
	s, _, _ := newTestServer(t)
	ctx := context.Background()
	p := PluginPayload{Name: "dup", Sites: []string{"*"}, Source: markerSource}

	require.True(t, s.Handle(ctx, request(t, OpAddMiddleware, "1", p)).OK)
	resp := s.Handle(ctx, request(t, OpAddMiddleware, "2", p))
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Error, "already registered")
}

func TestSetMiddlewareEnabledUnknown(t *testing.T) {
	s, _, _ := newTestServer(t)
	enabled := true
	resp := s.Handle(context.Background(), request(t, OpSetMiddlewareEnabled, "1",
		PluginPayload{Name: "ghost", Enabled: &enabled}))
	assert.False(t, resp.OK)
}

// memConn feeds canned frames and records written responses.
type memConn struct {
	in     [][]byte
	out    [][]byte
	closed bool
}

func (c *memConn) ReadFrame() ([]byte, error) {
	if len(c.in) == 0 {
		return nil, io.EOF
	}
	frame := c.in[0]
	c.in = c.in[1:]
	return frame, nil
}

func (c *memConn) WriteFrame(data []byte) error {
	c.out = append(c.out, data)
	return nil
}

func (c *memConn) Close() error { c.closed = true; return nil }

func TestServeAnswersEachFrame(t *testing.T) {
	s, _, _ := newTestServer(t)

	list, err := json.Marshal(request(t, OpListMiddleware, "a", nil))
	require.NoError(t, err)
	conn := &memConn{in: [][]byte{list, []byte("{not json")}}

	err = s.Serve(context.Background(), conn)
	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, conn.closed)
	require.Len(t, conn.out, 2)

	var first, second Response
	require.NoError(t, json.Unmarshal(conn.out[0], &first))
	require.NoError(t, json.Unmarshal(conn.out[1], &second))
	assert.Equal(t, "a", first.ID)
	assert.True(t, first.OK)
	assert.False(t, second.OK)
	assert.Empty(t, second.ID)
}
