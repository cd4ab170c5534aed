package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, NSSource, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, NSSource, "p1", []byte("return body;")))
	require.NoError(t, s.Set(ctx, NSSource, "p2", []byte("// two")))
	require.NoError(t, s.Set(ctx, NSMeta, "p1", []byte(`{"sites":["*"]}`)))

	got, err := s.Get(ctx, NSSource, "p1")
	require.NoError(t, err)
	assert.Equal(t, "return body;", string(got))

	// Namespaces are isolated.
	keys, err := s.Keys(ctx, NSSource)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p1", "p2"}, keys)

	keys, err = s.Keys(ctx, NSMeta)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p1"}, keys)

	// Overwrite replaces in whole.
	require.NoError(t, s.Set(ctx, NSSource, "p1", []byte("v2")))
	got, err = s.Get(ctx, NSSource, "p1")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(got))

	// Remove is idempotent.
	require.NoError(t, s.Remove(ctx, NSSource, "p1"))
	require.NoError(t, s.Remove(ctx, NSSource, "p1"))
	_, err = s.Get(ctx, NSSource, "p1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemStore(t *testing.T) {
	testStore(t, NewMemStore())
}

func TestFileStore(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	testStore(t, s)
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, NSEnabled, EnabledKey, []byte(`["a","b"]`)))

	reopened, err := NewFileStore(dir)
	require.NoError(t, err)
	got, err := reopened.Get(ctx, NSEnabled, EnabledKey)
	require.NoError(t, err)
	assert.Equal(t, `["a","b"]`, string(got))
}

func TestFileStoreEscapesAwkwardKeys(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	const key = "my plugin/with:odd..chars"
	require.NoError(t, s.Set(ctx, NSSource, key, []byte("x")))

	keys, err := s.Keys(ctx, NSSource)
	require.NoError(t, err)
	assert.Equal(t, []string{key}, keys)

	got, err := s.Get(ctx, NSSource, key)
	require.NoError(t, err)
	assert.Equal(t, "x", string(got))
}
