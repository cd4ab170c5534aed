package web

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halverson/webtap/pkg/pipeline"
	"github.com/halverson/webtap/pkg/plugin"
	"github.com/halverson/webtap/pkg/script"
	"github.com/halverson/webtap/pkg/store"
	"github.com/halverson/webtap/pkg/trace"
	"github.com/halverson/webtap/pkg/transport"
)

type stubTransport struct{}

func (stubTransport) Init(ctx context.Context) error { return nil }
func (stubTransport) Meta() transport.Meta           { return transport.Meta{Name: "stub"} }
func (stubTransport) RoundTrip(req *pipeline.Request) (*pipeline.Response, error) {
	return pipeline.NewResponse(200, pipeline.TextBody("ok")), nil
}
func (stubTransport) Connect(ctx context.Context, address string, opts transport.ConnectOptions, handlers transport.ConnectHandlers) (transport.Conn, error) {
	return nil, nil
}

func newTestMux(t *testing.T) (*http.ServeMux, *trace.Store) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	chain := pipeline.NewChain(logger)
	runner := plugin.NewRunner(script.NewJSEngine(), logger)
	registry := plugin.NewRegistry(store.NewMemStore(), chain, runner, logger)
	traces := trace.NewStore(100)
	facade := transport.NewFacade(stubTransport{}, chain, registry, transport.FacadeOptions{Traces: traces})

	s := New(facade, traces, nil, 0, logger)
	mux := http.NewServeMux()
	s.registerRoutes(mux)
	return mux, traces
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestPluginCRUDOverAPI(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := doJSON(t, mux, "POST", "/api/plugins",
		`{"name":"marker","sites":["*"],"source":"return \"[X] \" + body;"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, mux, "GET", "/api/plugins", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var infos []pluginInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "marker", infos[0].Name)
	assert.True(t, infos[0].Enabled)

	rec = doJSON(t, mux, "PUT", "/api/plugins/marker/sites", `{"sites":["example.com"]}`)
	assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = doJSON(t, mux, "PUT", "/api/plugins/marker/enabled", `{"enabled":false}`)
	assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = doJSON(t, mux, "DELETE", "/api/plugins/marker", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, mux, "GET", "/api/plugins", "")
	assert.Equal(t, "[]\n", rec.Body.String())
}

func TestAddPluginRejectsInvalid(t *testing.T) {
	mux, _ := newTestMux(t)
	rec := doJSON(t, mux, "POST", "/api/plugins", `{"name":"","sites":["*"],"source":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExchangeEndpoints(t *testing.T) {
	mux, traces := newTestMux(t)

	e := trace.NewExchange(&pipeline.Request{
		ID: "ex-1", Method: "GET", URL: "https://example.com/a",
		Header: http.Header{},
	}, 0)
	traces.Add(e)

	rec := doJSON(t, mux, "GET", "/api/exchanges", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var all []*trace.Exchange
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all, 1)

	rec = doJSON(t, mux, "GET", "/api/exchanges/ex-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, mux, "GET", "/api/exchanges/other", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Filtered listing.
	rec = doJSON(t, mux, "GET", "/api/exchanges?filter="+`~m+GET`, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all, 1)

	rec = doJSON(t, mux, "GET", "/api/exchanges?filter=%7Ez+bad", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, mux, "DELETE", "/api/exchanges", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, traces.Count())
}

func TestStatusEndpoint(t *testing.T) {
	mux, _ := newTestMux(t)
	rec := doJSON(t, mux, "GET", "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "stub", status["transport"].(map[string]any)["name"])
}
