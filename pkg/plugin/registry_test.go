package plugin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halverson/webtap/pkg/pipeline"
	"github.com/halverson/webtap/pkg/store"
)

func newTestRegistry(t *testing.T, s store.Store) (*Registry, *pipeline.Chain) {
	t.Helper()
	chain := pipeline.NewChain(nil)
	reg := NewRegistry(s, chain, newTestRunner(t), nil)
	return reg, chain
}

func exercise(t *testing.T, chain *pipeline.Chain) string {
	t.Helper()
	resp := pipeline.NewResponse(200, pipeline.TextBody("<html><head><title>Hi</title></head></html>"))
	resp.Header.Set("Content-Type", "text/html")
	resp.Request = pipeline.NewRequest("GET", "http://example.com/", nil)
	out := chain.ProcessResponse(resp)
	text, _ := pipeline.ToText(out.Body)
	return text
}

func TestRegistryRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()

	reg, chain := newTestRegistry(t, s)
	d, err := New("t1", []string{"*"}, titlePlugin)
	require.NoError(t, err)
	require.NoError(t, reg.Add(ctx, d))

	direct := exercise(t, chain)
	assert.Contains(t, direct, "<title>[X] Hi")

	// A fresh registry loaded from the same store must rewrite identically.
	reloaded, chain2 := newTestRegistry(t, s)
	require.NoError(t, reloaded.Load(ctx))

	assert.Equal(t, direct, exercise(t, chain2))
	require.Len(t, reloaded.List(), 1)
	assert.Equal(t, []string{"*"}, reloaded.List()[0].Sites)
}

func TestLoadSkipsDisabledAndCodeless(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()

	seed, _ := newTestRegistry(t, s)
	active, err := New("active", []string{"*"}, titlePlugin)
	require.NoError(t, err)
	require.NoError(t, seed.Add(ctx, active))

	blank, err := New("blank", []string{"*"}, "   ")
	require.NoError(t, err)
	require.NoError(t, seed.Add(ctx, blank))

	off, err := New("off", []string{"*"}, titlePlugin)
	require.NoError(t, err)
	require.NoError(t, seed.Add(ctx, off))
	require.NoError(t, seed.SetEnabled(ctx, "off", false))

	reg, chain := newTestRegistry(t, s)
	require.NoError(t, reg.Load(ctx))

	// All three survive in storage and listings.
	assert.Len(t, reg.List(), 3)
	// Only the enabled plugin with code gets a chain unit.
	handlers := chain.Handlers()
	require.Len(t, handlers, 1)
	assert.Equal(t, "active", handlers[0].ID())
}

func TestRemoveStripsEnabledSet(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()

	reg, chain := newTestRegistry(t, s)
	d, err := New("gone", []string{"*"}, titlePlugin)
	require.NoError(t, err)
	require.NoError(t, reg.Add(ctx, d))
	require.NoError(t, reg.Remove(ctx, "gone"))

	assert.Empty(t, chain.Handlers())
	assert.Nil(t, reg.Get("gone"))

	raw, err := s.Get(ctx, store.NSEnabled, store.EnabledKey)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(raw))

	_, err = s.Get(ctx, store.NSSource, "gone")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateSitesChangesScope(t *testing.T) {
	ctx := context.Background()
	reg, chain := newTestRegistry(t, store.NewMemStore())

	d, err := New("scoped", []string{"other.net"}, titlePlugin)
	require.NoError(t, err)
	require.NoError(t, reg.Add(ctx, d))

	assert.NotContains(t, exercise(t, chain), "[X]")

	require.NoError(t, reg.UpdateSites(ctx, "scoped", []string{"example.com"}))
	assert.Contains(t, exercise(t, chain), "[X]")

	assert.Error(t, reg.UpdateSites(ctx, "scoped", nil), "empty scope is invalid")
	assert.Error(t, reg.UpdateSites(ctx, "missing", []string{"*"}))
}

func TestSetEnabledTogglesLiveHandler(t *testing.T) {
	ctx := context.Background()
	reg, chain := newTestRegistry(t, store.NewMemStore())

	d, err := New("t1", []string{"*"}, titlePlugin)
	require.NoError(t, err)
	require.NoError(t, reg.Add(ctx, d))

	require.NoError(t, reg.SetEnabled(ctx, "t1", false))
	assert.NotContains(t, exercise(t, chain), "[X]")

	require.NoError(t, reg.SetEnabled(ctx, "t1", true))
	assert.Contains(t, exercise(t, chain), "[X]")

	assert.Error(t, reg.SetEnabled(ctx, "missing", true))
}

func TestSetEnabledAfterDisabledLoad(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()

	seed, _ := newTestRegistry(t, s)
	d, err := New("t1", []string{"*"}, titlePlugin)
	require.NoError(t, err)
	require.NoError(t, seed.Add(ctx, d))
	require.NoError(t, seed.SetEnabled(ctx, "t1", false))

	reg, chain := newTestRegistry(t, s)
	require.NoError(t, reg.Load(ctx))
	require.Empty(t, chain.Handlers())

	// Enabling a plugin that was loaded disabled regenerates its handler.
	require.NoError(t, reg.SetEnabled(ctx, "t1", true))
	assert.Contains(t, exercise(t, chain), "[X]")
}

// flakyKeysStore serves reads and writes normally but fails every Keys call.
type flakyKeysStore struct {
	store.Store
	keysErr error
}

func (s *flakyKeysStore) Keys(ctx context.Context, ns string) ([]string, error) {
	return nil, s.keysErr
}

func TestLoadKeepsCurrentSetOnListingFault(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyKeysStore{Store: store.NewMemStore(), keysErr: errors.New("endpoint unreachable")}

	reg, chain := newTestRegistry(t, flaky)
	d, err := New("t1", []string{"*"}, titlePlugin)
	require.NoError(t, err)
	require.NoError(t, reg.Add(ctx, d))
	require.Len(t, chain.Handlers(), 1)

	// A listing fault degrades to a no-op reload, not a startup failure.
	require.NoError(t, reg.Load(ctx))
	assert.Len(t, chain.Handlers(), 1)
	assert.Len(t, reg.List(), 1)
	assert.Contains(t, exercise(t, chain), "[X]")
}

func TestReloadReplacesHandlersWholesale(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()

	reg, chain := newTestRegistry(t, s)
	d, err := New("t1", []string{"*"}, titlePlugin)
	require.NoError(t, err)
	require.NoError(t, reg.Add(ctx, d))
	require.NoError(t, reg.Load(ctx))
	require.NoError(t, reg.Load(ctx))

	// Repeated reloads never duplicate chain units.
	assert.Len(t, chain.Handlers(), 1)
}
