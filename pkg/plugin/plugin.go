// Package plugin implements operator-supplied interception plugins: the
// marker-split source model, the delivery-time runner with content-fragment
// injection, the generated pipeline handler, and the store-backed registry.
package plugin

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Source markers delimiting the optional content-execution region. Code
// between the markers runs later inside the destination content; everything
// else is delivery-time code.
const (
	BeginContentMarker = "// begin content-context"
	EndContentMarker   = "// end content-context"
)

// Kind selects the execution provider for a plugin's source.
type Kind string

const (
	// KindJS is interpreted JavaScript source (the default).
	KindJS Kind = "js"
	// KindWASM is a precompiled WASI module, base64-encoded in Source.
	KindWASM Kind = "wasm"
)

// Definition is one plugin as created by a management call and persisted in
// the store. Mutation is replace-in-whole, except for the dedicated
// site-scope update on the registry.
type Definition struct {
	// Name is the registry key and the id of the generated handler unit.
	Name string `json:"name"`
	// Sites is the scope pattern list; it must not be empty. A single "*"
	// entry means "all sites".
	Sites []string `json:"sites"`
	// Source is the full plugin text, both regions included.
	Source string `json:"source"`
	// Kind defaults to KindJS when empty.
	Kind Kind `json:"kind,omitempty"`

	// Split once at ingestion; see SplitSource.
	deliveryCode string
	contentCode  string
}

// New validates the fields and splits the source into its two fragments.
func New(name string, sites []string, source string) (*Definition, error) {
	return NewOfKind(name, sites, source, KindJS)
}

// NewOfKind is New with an explicit execution kind.
func NewOfKind(name string, sites []string, source string, kind Kind) (*Definition, error) {
	d := &Definition{Name: name, Sites: sites, Source: source, Kind: kind}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	d.split()
	return d, nil
}

// Validate checks the definition invariants.
func (d *Definition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return errors.New("plugin: name is required")
	}
	if len(d.Sites) == 0 {
		return fmt.Errorf("plugin %q: empty site scope is invalid", d.Name)
	}
	switch d.Kind {
	case "", KindJS, KindWASM:
	default:
		return fmt.Errorf("plugin %q: unknown kind %q", d.Name, d.Kind)
	}
	return nil
}

func (d *Definition) split() {
	if d.Kind == KindWASM {
		d.deliveryCode = d.Source
		d.contentCode = ""
		return
	}
	d.deliveryCode, d.contentCode = SplitSource(d.Source)
}

// DeliveryCode returns the delivery-time fragment (the source minus the
// content-execution region, if any).
func (d *Definition) DeliveryCode() string { return d.deliveryCode }

// ContentCode returns the content-execution fragment, or "" when the source
// has none.
func (d *Definition) ContentCode() string { return d.contentCode }

// HasCode reports whether the plugin carries any executable source.
func (d *Definition) HasCode() bool {
	return strings.TrimSpace(d.deliveryCode) != "" || d.contentCode != ""
}

// SplitSource separates one source blob into the delivery-time fragment and
// the optional content-execution fragment. At most one marker-delimited
// region is recognized; when the markers are absent or unbalanced the whole
// text is delivery-time code. Both fragments are whitespace-trimmed.
func SplitSource(source string) (delivery, content string) {
	begin := strings.Index(source, BeginContentMarker)
	if begin < 0 {
		return strings.TrimSpace(source), ""
	}
	rest := source[begin+len(BeginContentMarker):]
	end := strings.Index(rest, EndContentMarker)
	if end < 0 {
		return strings.TrimSpace(source), ""
	}
	content = strings.TrimSpace(rest[:end])
	delivery = strings.TrimSpace(source[:begin] + rest[end+len(EndContentMarker):])
	return delivery, content
}

// Meta is the persisted metadata record, stored separately from the source.
type Meta struct {
	Name  string   `json:"name"`
	Sites []string `json:"sites"`
	Kind  Kind     `json:"kind,omitempty"`
}

// MarshalMeta encodes the definition's metadata record.
func (d *Definition) MarshalMeta() ([]byte, error) {
	return json.Marshal(Meta{Name: d.Name, Sites: d.Sites, Kind: d.Kind})
}
