// Package store defines the namespaced key-value store that persists plugin
// definitions across sessions, together with file, in-memory, and MinIO
// backends.
package store

import (
	"context"
	"errors"
)

// Namespaces used by the plugin registry.
const (
	// NSSource holds plugin source text keyed by plugin name.
	NSSource = "source"
	// NSMeta holds plugin metadata ({sites, name, kind}) keyed by plugin name.
	NSMeta = "meta"
	// NSEnabled holds the single enabled-identifier list under EnabledKey.
	NSEnabled = "enabled"
)

// EnabledKey is the key of the enabled-identifier list in NSEnabled.
const EnabledKey = "ids"

// ErrNotFound is returned by Get for absent keys.
var ErrNotFound = errors.New("store: key not found")

// Store is a namespaced key-value store. Implementations must be safe for
// concurrent use.
type Store interface {
	Get(ctx context.Context, ns, key string) ([]byte, error)
	Set(ctx context.Context, ns, key string, value []byte) error
	Remove(ctx context.Context, ns, key string) error
	Keys(ctx context.Context, ns string) ([]string, error)
}
