// Package condition owns the status-effect catalog and the per-combatant
// ledger of active attachments. The tracker never branches on condition
// names; it deals only in catalog ids, permanence, and remaining duration.
package condition

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Definition is the static description of one condition type, loaded from
// YAML. The catalog is owned by the content library; the engine treats
// definitions as opaque identities plus optional script hook names.
type Definition struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	// OnApply, OnRemove, and OnExpire name optional Lua hook functions run
	// when an attachment of this type is created, removed, or swept.
	OnApply  string `yaml:"on_apply"`
	OnRemove string `yaml:"on_remove"`
	OnExpire string `yaml:"on_expire"`
}

// Catalog holds all known Definitions keyed by ID.
type Catalog struct {
	defs map[string]*Definition
}

// NewCatalog creates an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{defs: make(map[string]*Definition)}
}

// Register adds def to the catalog, overwriting any existing entry with the
// same ID.
//
// Precondition: def must not be nil and def.ID must not be empty.
func (c *Catalog) Register(def *Definition) {
	c.defs[def.ID] = def
}

// Get returns the Definition for id, or (nil, false) if not found.
func (c *Catalog) Get(id string) (*Definition, bool) {
	d, ok := c.defs[id]
	return d, ok
}

// Len returns the number of registered definitions.
func (c *Catalog) Len() int { return len(c.defs) }

// All returns all registered Definitions sorted by ID.
func (c *Catalog) All() []*Definition {
	out := make([]*Definition, 0, len(c.defs))
	for _, d := range c.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LoadDirectory reads every *.yaml file in dir, parses each as a Definition,
// and returns a populated Catalog.
//
// Precondition: dir must be a readable directory.
// Postcondition: Returns a non-nil Catalog, or an error if any file fails to
// parse or declares an empty id.
func LoadDirectory(dir string) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading condition dir %q: %w", dir, err)
	}
	cat := NewCatalog()
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", path, err)
		}
		var def Definition
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&def); err != nil {
			return nil, fmt.Errorf("parsing %q: %w", path, err)
		}
		if def.ID == "" {
			return nil, fmt.Errorf("parsing %q: condition id must not be empty", path)
		}
		cat.Register(&def)
	}
	return cat, nil
}
