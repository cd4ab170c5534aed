package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaults(t *testing.T) {
	opts := (&Config{}).ToOptions()

	assert.Equal(t, ":9090", opts.Listen)
	assert.Equal(t, 9091, opts.WebPort)
	assert.Equal(t, 1000, opts.MaxExchanges)
	assert.Equal(t, 1<<20, opts.MaxBodySize)
	assert.Equal(t, "file", opts.Store.Backend)
	assert.Equal(t, ".webtap", opts.Store.Dir)
}

func TestLoadAndOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "webtap.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":8000"
target: http://localhost:3000
web_port: 0
max_exchanges: 50
store:
  backend: minio
  endpoint: localhost:9000
  bucket: webtap
plugins:
  - name: marker
    sites: ["example.com"]
    file: marker.js
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	opts := cfg.ToOptions()

	assert.Equal(t, ":8000", opts.Listen)
	assert.Equal(t, "http://localhost:3000", opts.Target)
	assert.Equal(t, 0, opts.WebPort)
	assert.Equal(t, 50, opts.MaxExchanges)
	assert.Equal(t, "minio", opts.Store.Backend)
	assert.Equal(t, "localhost:9000", opts.Store.MinioConfig().Endpoint)
	require.Len(t, opts.Plugins, 1)
	assert.Equal(t, "marker", opts.Plugins[0].Name)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yml")
	require.NoError(t, os.WriteFile(bad, []byte("listen: [unclosed"), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)
}

func TestFindDefault(t *testing.T) {
	dir := t.TempDir()
	assert.Empty(t, FindDefault(dir))

	path := filepath.Join(dir, "webtap.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: \":1\"\n"), 0o644))
	assert.Equal(t, path, FindDefault(dir))
}

func TestExampleParses(t *testing.T) {
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(Example()), &cfg))
	assert.Equal(t, ":9090", cfg.Listen)
	require.Len(t, cfg.Plugins, 1)
}
