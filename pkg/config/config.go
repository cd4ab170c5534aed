// Package config handles loading webtap configuration from YAML files.
//
// Loading priority (later wins):
//
//  1. Built-in defaults
//  2. Config file (webtap.yml in cwd, or --config path)
//  3. Explicit CLI flags
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/halverson/webtap/pkg/store"
)

// DefaultFilenames lists the config file names searched in the current
// directory when --config is not given.
var DefaultFilenames = []string{"webtap.yml", "webtap.yaml", ".webtap.yml"}

// StoreConfig selects and configures the persistent plugin store.
type StoreConfig struct {
	// Backend is one of "file", "memory", "minio". Default "file".
	Backend string `yaml:"backend"`
	// Dir is the root directory of the file backend.
	Dir string `yaml:"dir"`

	// MinIO backend settings.
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Secure    bool   `yaml:"secure"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
}

// PluginConfig preloads one plugin from a source file at startup.
type PluginConfig struct {
	Name  string   `yaml:"name"`
	Sites []string `yaml:"sites"`
	File  string   `yaml:"file"`
	Kind  string   `yaml:"kind"`
}

// Config is the full YAML configuration for webtap.
type Config struct {
	// Listen is the bridge server address (e.g. ":9090").
	Listen string `yaml:"listen"`

	// Target is the upstream base URL the bridge forwards to.
	Target string `yaml:"target"`

	// WebPort is the port for the management API. 0 disables it.
	WebPort *int `yaml:"web_port"`

	// NoTUI disables the interactive terminal UI.
	NoTUI bool `yaml:"no_tui"`

	// NoColor disables ANSI colours in log output.
	NoColor bool `yaml:"no_color"`

	// MaxExchanges is the ring-buffer capacity for the trace store.
	MaxExchanges *int `yaml:"max_exchanges"`

	// MaxBodySize is the max bytes retained per traced body.
	MaxBodySize *int `yaml:"max_body_size"`

	// Store selects the persistent plugin store backend.
	Store StoreConfig `yaml:"store"`

	// Plugins are loaded into the store at startup.
	Plugins []PluginConfig `yaml:"plugins"`
}

// Options is the resolved runtime configuration.
type Options struct {
	Listen       string
	Target       string
	WebPort      int
	NoTUI        bool
	NoColor      bool
	MaxExchanges int
	MaxBodySize  int
	Store        StoreConfig
	Plugins      []PluginConfig
}

// Load reads and parses a YAML config file from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	return &cfg, nil
}

// FindDefault looks for a config file in dir using DefaultFilenames.
// Returns the path of the first file found, or "" if none exist.
func FindDefault(dir string) string {
	for _, name := range DefaultFilenames {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// ToOptions converts the Config into Options, applying built-in defaults
// for any fields left unset.
func (c *Config) ToOptions() Options {
	opts := Options{
		Listen:       ":9090",
		WebPort:      9091,
		MaxExchanges: 1000,
		MaxBodySize:  1 << 20,
		Store: StoreConfig{
			Backend: "file",
			Dir:     ".webtap",
		},
	}

	if c.Listen != "" {
		opts.Listen = c.Listen
	}
	opts.Target = c.Target
	if c.WebPort != nil {
		opts.WebPort = *c.WebPort
	}
	opts.NoTUI = c.NoTUI
	opts.NoColor = c.NoColor
	if c.MaxExchanges != nil {
		opts.MaxExchanges = *c.MaxExchanges
	}
	if c.MaxBodySize != nil {
		opts.MaxBodySize = *c.MaxBodySize
	}
	if c.Store.Backend != "" {
		opts.Store.Backend = c.Store.Backend
	}
	if c.Store.Dir != "" {
		opts.Store.Dir = c.Store.Dir
	}
	opts.Store.Endpoint = c.Store.Endpoint
	opts.Store.AccessKey = c.Store.AccessKey
	opts.Store.SecretKey = c.Store.SecretKey
	opts.Store.Secure = c.Store.Secure
	opts.Store.Bucket = c.Store.Bucket
	opts.Store.Prefix = c.Store.Prefix
	opts.Plugins = c.Plugins

	return opts
}

// MinioConfig converts the store section into the MinIO client settings.
func (s StoreConfig) MinioConfig() store.MinioConfig {
	return store.MinioConfig{
		Endpoint:  s.Endpoint,
		AccessKey: s.AccessKey,
		SecretKey: s.SecretKey,
		Secure:    s.Secure,
		Bucket:    s.Bucket,
		Prefix:    s.Prefix,
	}
}

// Example returns the canonical example config as a YAML string.
func Example() string {
	return `# webtap configuration
# All fields are optional; CLI flags take precedence over this file.

# Bridge listen address. Requests served here are forwarded to target
# through the interception pipeline.
listen: ":9090"

# Upstream base URL the bridge forwards to.
target: http://localhost:8081

# Port for the management API and event feed. Set to 0 to disable.
web_port: 9091

# Disable the interactive terminal UI (log to stdout instead).
no_tui: false

# Disable ANSI colors in log output.
no_color: false

# Maximum number of exchanges held in memory (ring buffer).
max_exchanges: 1000

# Maximum bytes retained per traced request/response body (1 MiB).
max_body_size: 1048576

# --- Plugin store ---

# backend: file (default), memory, or minio.
store:
  backend: file
  dir: .webtap
  # backend: minio
  # endpoint: localhost:9000
  # access_key: minioadmin
  # secret_key: minioadmin
  # secure: false
  # bucket: webtap
  # prefix: plugins

# --- Preloaded plugins ---

# Each entry reads plugin source from a file and stores it at startup.
plugins:
  - name: title-marker
    sites: ["*"]
    file: plugins/title-marker.js
`
}
