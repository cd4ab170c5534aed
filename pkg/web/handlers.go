package web

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/halverson/webtap/pkg/filter"
	"github.com/halverson/webtap/pkg/plugin"
	"github.com/halverson/webtap/pkg/trace"
	"github.com/halverson/webtap/pkg/transport"
)

type handlers struct {
	facade *transport.Facade
	traces *trace.Store
	logger *slog.Logger
}

func (h *handlers) listExchanges(w http.ResponseWriter, r *http.Request) {
	all := h.traces.All()
	if expr := r.URL.Query().Get("filter"); expr != "" {
		f, err := filter.Parse(expr)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		matched := make([]*trace.Exchange, 0, len(all))
		for _, e := range all {
			if f(e) {
				matched = append(matched, e)
			}
		}
		all = matched
	}
	jsonOK(w, all)
}

func (h *handlers) getExchange(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	e := h.traces.Get(id)
	if e == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	jsonOK(w, e)
}

func (h *handlers) clearExchanges(w http.ResponseWriter, _ *http.Request) {
	h.traces.Clear()
	w.WriteHeader(http.StatusNoContent)
}

type pluginRequest struct {
	Name   string      `json:"name"`
	Sites  []string    `json:"sites"`
	Source string      `json:"source"`
	Kind   plugin.Kind `json:"kind,omitempty"`
}

type pluginInfo struct {
	Name    string      `json:"name"`
	Sites   []string    `json:"sites"`
	Kind    plugin.Kind `json:"kind,omitempty"`
	Enabled bool        `json:"enabled"`
}

func (h *handlers) listPlugins(w http.ResponseWriter, _ *http.Request) {
	registry := h.facade.Registry()
	defs := registry.List()
	out := make([]pluginInfo, 0, len(defs))
	for _, d := range defs {
		out = append(out, pluginInfo{
			Name:    d.Name,
			Sites:   d.Sites,
			Kind:    d.Kind,
			Enabled: registry.Enabled(d.Name),
		})
	}
	jsonOK(w, out)
}

func (h *handlers) addPlugin(w http.ResponseWriter, r *http.Request) {
	var req pluginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	def, err := plugin.NewOfKind(req.Name, req.Sites, req.Source, req.Kind)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.facade.Registry().Add(r.Context(), def); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (h *handlers) removePlugin(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := h.facade.Registry().Remove(r.Context(), name); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) updateSites(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req struct {
		Sites []string `json:"sites"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.facade.Registry().UpdateSites(r.Context(), name, req.Sites); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) setEnabled(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.facade.Registry().SetEnabled(r.Context(), name, req.Enabled); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) reload(w http.ResponseWriter, r *http.Request) {
	if err := h.facade.Reload(r.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) listMiddleware(w http.ResponseWriter, _ *http.Request) {
	type unitInfo struct {
		ID      string `json:"id"`
		Enabled bool   `json:"enabled"`
	}
	units := h.facade.Chain().Handlers()
	out := make([]unitInfo, 0, len(units))
	for _, u := range units {
		out = append(out, unitInfo{ID: u.ID(), Enabled: u.Enabled()})
	}
	jsonOK(w, out)
}

func (h *handlers) status(w http.ResponseWriter, _ *http.Request) {
	jsonOK(w, map[string]any{
		"transport": h.facade.Meta(),
		"exchanges": h.traces.Count(),
		"units":     len(h.facade.Chain().Handlers()),
	})
}

func jsonOK(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
