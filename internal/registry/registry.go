// Package registry holds the catalog of upstream AI providers.
// The catalog is immutable once loaded; reloads replace the whole table
// atomically so in-flight selections never observe a half-updated view.
package registry

import (
	"fmt"
	"sync/atomic"
)

// AuthMethod identifies how requests to a provider are authenticated.
type AuthMethod string

const (
	AuthBearer AuthMethod = "bearer"
	AuthHeader AuthMethod = "api-key-header"
	AuthNone   AuthMethod = "none"
)

// Descriptor describes a single upstream provider. Descriptors are value
// types; callers receive copies and cannot mutate the catalog through them.
type Descriptor struct {
	ID              string
	BaseEndpoint    string
	AuthMethod      AuthMethod
	APIKey          string
	SupportedModels map[string]struct{}
	PriceInputPer1K float64
	PriceOutputPer1K float64
	QualityScore    float64
	Priority        int
	Enabled         bool
}

// PricePer1K returns the combined input+output price per 1000 units, the
// ordering key for cost-based selection.
func (d Descriptor) PricePer1K() float64 {
	return d.PriceInputPer1K + d.PriceOutputPer1K
}

// SupportsModel reports whether the provider serves the given model name.
func (d Descriptor) SupportsModel(model string) bool {
	_, ok := d.SupportedModels[model]
	return ok
}

// catalog is the immutable table swapped on reload.
type catalog struct {
	ordered []Descriptor // config order, preserved for deterministic tie-breaks
	byID    map[string]int
}

// Registry exposes read access to the provider catalog.
type Registry struct {
	table atomic.Pointer[catalog]
}

// New creates a registry from the initial descriptor set.
// Returns an error on duplicate IDs or descriptors failing validation.
func New(descriptors []Descriptor) (*Registry, error) {
	c, err := buildCatalog(descriptors)
	if err != nil {
		return nil, err
	}
	r := &Registry{}
	r.table.Store(c)
	return r, nil
}

// Reload atomically replaces the whole catalog. On validation failure the
// previous catalog stays in place untouched.
func (r *Registry) Reload(descriptors []Descriptor) error {
	c, err := buildCatalog(descriptors)
	if err != nil {
		return err
	}
	r.table.Store(c)
	return nil
}

// List returns enabled descriptors in config order. No side effects on read.
func (r *Registry) List() []Descriptor {
	c := r.table.Load()
	out := make([]Descriptor, 0, len(c.ordered))
	for _, d := range c.ordered {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out
}

// Get returns the descriptor for the given ID, enabled or not.
func (r *Registry) Get(id string) (Descriptor, bool) {
	c := r.table.Load()
	idx, ok := c.byID[id]
	if !ok {
		return Descriptor{}, false
	}
	return c.ordered[idx], true
}

// Len returns the number of known providers, including disabled ones.
func (r *Registry) Len() int {
	return len(r.table.Load().ordered)
}

func buildCatalog(descriptors []Descriptor) (*catalog, error) {
	c := &catalog{
		ordered: make([]Descriptor, 0, len(descriptors)),
		byID:    make(map[string]int, len(descriptors)),
	}
	for _, d := range descriptors {
		if d.ID == "" {
			return nil, fmt.Errorf("provider descriptor missing id")
		}
		if _, dup := c.byID[d.ID]; dup {
			return nil, fmt.Errorf("duplicate provider id: %s", d.ID)
		}
		if d.QualityScore < 0 || d.QualityScore > 1 {
			return nil, fmt.Errorf("provider %s: quality_score %.2f out of [0,1]", d.ID, d.QualityScore)
		}
		if d.PriceInputPer1K < 0 || d.PriceOutputPer1K < 0 {
			return nil, fmt.Errorf("provider %s: negative price", d.ID)
		}
		c.byID[d.ID] = len(c.ordered)
		c.ordered = append(c.ordered, d)
	}
	return c, nil
}
