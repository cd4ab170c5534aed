package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/halverson/webtap/pkg/pipeline"
	"github.com/halverson/webtap/pkg/store"
)

// Registry is the in-memory plugin set, synchronized with the persistent
// store. Load rebuilds it wholesale; mutations persist first and then update
// the live chain, so the chain always reflects stored state.
type Registry struct {
	store  store.Store
	chain  *pipeline.Chain
	runner *Runner
	logger *slog.Logger

	mu       sync.RWMutex
	plugins  map[string]*Definition
	handlers map[string]*Handler
}

// NewRegistry creates an empty registry bound to a store and a chain.
func NewRegistry(s store.Store, chain *pipeline.Chain, runner *Runner, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:    s,
		chain:    chain,
		runner:   runner,
		logger:   logger,
		plugins:  make(map[string]*Definition),
		handlers: make(map[string]*Handler),
	}
}

// Load rebuilds the registry from the store: the in-memory maps are cleared,
// every persisted identifier is re-fetched along with the enabled set, and a
// handler is regenerated for each identifier present in both. Disabled and
// code-less entries are skipped, not removed from storage. Storage faults
// are logged and the load proceeds with whatever was readable; a failed
// identifier listing leaves the current set untouched. Load never fails.
//
// In-flight requests finish on the handler snapshot they started with; see
// pipeline.Chain.
func (r *Registry) Load(ctx context.Context) error {
	ids, err := r.store.Keys(ctx, store.NSSource)
	if err != nil {
		// Keep whatever is live until the store is reachable again.
		r.logger.Warn("listing plugins failed, keeping current set", "error", err)
		return nil
	}
	enabled := r.enabledSet(ctx)

	plugins := make(map[string]*Definition, len(ids))
	handlers := make(map[string]*Handler)

	for _, id := range ids {
		def, err := r.fetch(ctx, id)
		if err != nil {
			r.logger.Warn("skipping unreadable plugin", "plugin", id, "error", err)
			continue
		}
		plugins[id] = def
		if !enabled[id] || !def.HasCode() {
			continue
		}
		handlers[id] = NewHandler(def, r.runner, r.logger)
	}

	r.mu.Lock()
	old := r.handlers
	r.plugins = plugins
	r.handlers = handlers
	r.mu.Unlock()

	for id := range old {
		r.chain.Remove(id)
	}
	names := make([]string, 0, len(handlers))
	for id := range handlers {
		names = append(names, id)
	}
	sort.Strings(names)
	for _, id := range names {
		r.chain.Add(handlers[id])
	}

	r.logger.Info("plugins loaded", "stored", len(plugins), "active", len(handlers))
	return nil
}

// fetch reconstructs one definition from its source and metadata records.
func (r *Registry) fetch(ctx context.Context, id string) (*Definition, error) {
	src, err := r.store.Get(ctx, store.NSSource, id)
	if err != nil {
		return nil, err
	}
	var meta Meta
	raw, err := r.store.Get(ctx, store.NSMeta, id)
	if err == nil {
		if err := json.Unmarshal(raw, &meta); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	d := &Definition{Name: id, Sites: meta.Sites, Source: string(src), Kind: meta.Kind}
	d.split()
	return d, nil
}

// Add validates, persists, and activates a plugin, replacing any existing
// plugin with the same name.
func (r *Registry) Add(ctx context.Context, def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	def.split()

	if err := r.store.Set(ctx, store.NSSource, def.Name, []byte(def.Source)); err != nil {
		return err
	}
	meta, err := def.MarshalMeta()
	if err != nil {
		return err
	}
	if err := r.store.Set(ctx, store.NSMeta, def.Name, meta); err != nil {
		return err
	}
	if err := r.setEnabledID(ctx, def.Name, true); err != nil {
		return err
	}

	h := NewHandler(def, r.runner, r.logger)

	r.mu.Lock()
	_, existed := r.handlers[def.Name]
	r.plugins[def.Name] = def
	r.handlers[def.Name] = h
	r.mu.Unlock()

	if existed {
		r.chain.Remove(def.Name)
	}
	if def.HasCode() {
		r.chain.Add(h)
	}
	return nil
}

// Remove deletes a plugin from storage, strips it from the enabled set, and
// drops its handler from the chain.
func (r *Registry) Remove(ctx context.Context, name string) error {
	if err := r.store.Remove(ctx, store.NSSource, name); err != nil {
		return err
	}
	if err := r.store.Remove(ctx, store.NSMeta, name); err != nil {
		return err
	}
	if err := r.setEnabledID(ctx, name, false); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.plugins, name)
	delete(r.handlers, name)
	r.mu.Unlock()

	r.chain.Remove(name)
	return nil
}

// UpdateSites replaces a plugin's site scope without touching its source.
func (r *Registry) UpdateSites(ctx context.Context, name string, scope []string) error {
	r.mu.RLock()
	def, ok := r.plugins[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("plugin %q not found", name)
	}
	if len(scope) == 0 {
		return fmt.Errorf("plugin %q: empty site scope is invalid", name)
	}

	updated := &Definition{Name: def.Name, Sites: scope, Source: def.Source, Kind: def.Kind}
	updated.split()
	meta, err := updated.MarshalMeta()
	if err != nil {
		return err
	}
	if err := r.store.Set(ctx, store.NSMeta, name, meta); err != nil {
		return err
	}

	h := NewHandler(updated, r.runner, r.logger)
	r.mu.Lock()
	_, hadHandler := r.handlers[name]
	r.plugins[name] = updated
	r.handlers[name] = h
	r.mu.Unlock()

	if hadHandler {
		r.chain.Remove(name)
	}
	if updated.HasCode() {
		r.chain.Add(h)
	}
	return nil
}

// SetEnabled persists the plugin's membership in the enabled set and flips
// its live handler.
func (r *Registry) SetEnabled(ctx context.Context, name string, enabled bool) error {
	r.mu.RLock()
	def, ok := r.plugins[name]
	h := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("plugin %q not found", name)
	}
	if err := r.setEnabledID(ctx, name, enabled); err != nil {
		return err
	}
	if h == nil {
		// Loaded while disabled; generate the handler on first enable.
		if !enabled || !def.HasCode() {
			return nil
		}
		h = NewHandler(def, r.runner, r.logger)
		r.mu.Lock()
		r.handlers[name] = h
		r.mu.Unlock()
		r.chain.Add(h)
		return nil
	}
	h.SetEnabled(enabled)
	return nil
}

// Get returns the definition for name, or nil.
func (r *Registry) Get(name string) *Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.plugins[name]
}

// Enabled reports whether name currently has an active handler unit.
func (r *Registry) Enabled(name string) bool {
	r.mu.RLock()
	h := r.handlers[name]
	r.mu.RUnlock()
	return h != nil && h.Enabled()
}

// List returns all known definitions sorted by name.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Definition, 0, len(r.plugins))
	for _, d := range r.plugins {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// enabledSet reads the persisted enabled-identifier list. Faults are logged
// and yield an empty set; the reload still proceeds.
func (r *Registry) enabledSet(ctx context.Context) map[string]bool {
	out := make(map[string]bool)
	raw, err := r.store.Get(ctx, store.NSEnabled, store.EnabledKey)
	if errors.Is(err, store.ErrNotFound) {
		return out
	}
	if err != nil {
		r.logger.Warn("reading enabled set failed", "error", err)
		return out
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		r.logger.Warn("decoding enabled set failed", "error", err)
		return out
	}
	for _, id := range ids {
		out[id] = true
	}
	return out
}

// setEnabledID adds or strips one identifier in the persisted enabled list.
func (r *Registry) setEnabledID(ctx context.Context, name string, enabled bool) error {
	set := r.enabledSet(ctx)
	if enabled == set[name] {
		return nil
	}
	if enabled {
		set[name] = true
	} else {
		delete(set, name)
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	raw, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return r.store.Set(ctx, store.NSEnabled, store.EnabledKey, raw)
}
