// Package catalog turns the service's list of ask types into constructors
// for immutable ask descriptors.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spherical/techread/internal/domain"
)

// askTypeField is the attribute that, when present, carries the wire ask type.
const askTypeField = "ask_type"

// Constructor builds an ask from optional field overrides.
type Constructor func(overrides map[string]any) (domain.AskDescriptor, error)

type spec struct {
	askType  string
	defaults map[string]any
}

// Catalog maps ask names to their declared fields and defaults.
// It is read-only after Load and safe for concurrent use.
type Catalog struct {
	specs map[string]spec
	names []string
}

// Load fetches entries from provider and builds a Catalog.
func Load(ctx context.Context, provider domain.CatalogProvider) (*Catalog, error) {
	entries, err := provider.FetchCatalog(ctx)
	if err != nil {
		if domain.IsType(err, domain.ErrorTypeCatalog) {
			return nil, err
		}
		return nil, domain.CatalogUnavailable("fetch ask catalog", err)
	}
	return FromEntries(entries)
}

// FromEntries builds a Catalog from already fetched entries. Any malformed
// entry fails the whole catalog.
func FromEntries(entries []domain.CatalogEntry) (*Catalog, error) {
	c := &Catalog{specs: make(map[string]spec, len(entries))}

	for i, e := range entries {
		if e.Name == "" {
			return nil, domain.CatalogUnavailable(fmt.Sprintf("entry %d has no name", i), nil)
		}
		if _, dup := c.specs[e.Name]; dup {
			return nil, domain.CatalogUnavailable(fmt.Sprintf("duplicate ask %q", e.Name), nil)
		}

		defaults := domain.CloneAttributes(e.Attributes)
		askType := e.Name
		if v, ok := defaults[askTypeField]; ok {
			if s, ok := v.(string); ok && s != "" {
				askType = s
			}
			delete(defaults, askTypeField)
		}

		c.specs[e.Name] = spec{askType: askType, defaults: defaults}
		c.names = append(c.names, e.Name)
	}

	sort.Strings(c.names)
	return c, nil
}

// Names returns the ask names in sorted order.
func (c *Catalog) Names() []string {
	return append([]string(nil), c.names...)
}

// Len returns the number of ask types.
func (c *Catalog) Len() int {
	return len(c.names)
}

// Has reports whether name is in the catalog.
func (c *Catalog) Has(name string) bool {
	_, ok := c.specs[name]
	return ok
}

// AskType returns the wire ask type for name.
func (c *Catalog) AskType(name string) (string, bool) {
	s, ok := c.specs[name]
	return s.askType, ok
}

// Defaults returns a copy of the declared fields of name.
func (c *Catalog) Defaults(name string) (map[string]any, bool) {
	s, ok := c.specs[name]
	if !ok {
		return nil, false
	}
	return domain.CloneAttributes(s.defaults), true
}

// Constructor returns the constructor for name.
func (c *Catalog) Constructor(name string) (Constructor, bool) {
	s, ok := c.specs[name]
	if !ok {
		return nil, false
	}
	return func(overrides map[string]any) (domain.AskDescriptor, error) {
		return s.build(name, overrides)
	}, true
}

// New constructs an ask by name.
func (c *Catalog) New(name string, overrides map[string]any) (domain.AskDescriptor, error) {
	s, ok := c.specs[name]
	if !ok {
		return domain.AskDescriptor{}, domain.ValidationError(fmt.Sprintf("unknown ask %q", name), nil)
	}
	return s.build(name, overrides)
}

// build overlays overrides on the defaults. Override keys that are not
// declared fields are rejected.
func (s spec) build(name string, overrides map[string]any) (domain.AskDescriptor, error) {
	var unknown []string
	for k := range overrides {
		if _, ok := s.defaults[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return domain.AskDescriptor{}, domain.ValidationError(
			fmt.Sprintf("%s: unknown fields %s", name, strings.Join(unknown, ", ")), nil)
	}

	attrs := make(map[string]any, len(s.defaults))
	for k, v := range s.defaults {
		if o, ok := overrides[k]; ok {
			attrs[k] = o
			continue
		}
		attrs[k] = v
	}

	// NewAskDescriptor deep-copies, so neither the defaults nor the caller's
	// overrides are shared with the result.
	return domain.NewAskDescriptor(s.askType, attrs), nil
}
