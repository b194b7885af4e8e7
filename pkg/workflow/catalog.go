package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tombee/folio/pkg/errors"
)

// Source resolves workflow definitions by id and version.
type Source interface {
	// Get returns a specific version of a workflow.
	Get(ctx context.Context, id string, version int) (*Definition, error)

	// Latest returns the highest registered version of a workflow.
	Latest(ctx context.Context, id string) (*Definition, error)
}

// Summary describes a registered workflow for listings.
type Summary struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Versions    []int  `json:"versions"`
	Latest      int    `json:"latest"`
}

// Catalog is an in-memory, versioned registry of validated definitions.
// A registered version is immutable: re-registering an existing id and
// version is rejected, so runs bound to it never observe an edit.
// It is thread-safe.
type Catalog struct {
	mu   sync.RWMutex
	defs map[string]map[int]*Definition
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		defs: make(map[string]map[int]*Definition),
	}
}

// Register validates and adds a definition. The catalog takes ownership;
// callers must not modify the definition afterwards.
func (c *Catalog) Register(def *Definition) error {
	if def == nil {
		return &errors.ValidationError{
			Field:   "workflow",
			Message: "workflow cannot be nil",
		}
	}
	if def.Graph() == nil {
		def.ApplyDefaults()
		if err := def.Validate(); err != nil {
			return fmt.Errorf("workflow %s: %w", def.ID, err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	versions, ok := c.defs[def.ID]
	if !ok {
		versions = make(map[int]*Definition)
		c.defs[def.ID] = versions
	}
	if _, exists := versions[def.Version]; exists {
		return &errors.ValidationError{
			Field:      "version",
			Message:    fmt.Sprintf("workflow %s version %d is already registered", def.ID, def.Version),
			Suggestion: "definitions are immutable; bump the version to publish a change",
		}
	}
	versions[def.Version] = def
	return nil
}

// Get returns a specific version of a workflow.
func (c *Catalog) Get(ctx context.Context, id string, version int) (*Definition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if def, ok := c.defs[id][version]; ok {
		return def, nil
	}
	return nil, &errors.NotFoundError{
		Resource: "workflow",
		ID:       fmt.Sprintf("%s@%d", id, version),
	}
}

// Latest returns the highest registered version of a workflow.
func (c *Catalog) Latest(ctx context.Context, id string) (*Definition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var latest *Definition
	for _, def := range c.defs[id] {
		if latest == nil || def.Version > latest.Version {
			latest = def
		}
	}
	if latest == nil {
		return nil, &errors.NotFoundError{Resource: "workflow", ID: id}
	}
	return latest, nil
}

// Has reports whether a specific version is registered.
func (c *Catalog) Has(id string, version int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.defs[id][version]
	return ok
}

// List returns a summary of every workflow, sorted by id.
func (c *Catalog) List(ctx context.Context) []Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	summaries := make([]Summary, 0, len(c.defs))
	for id, versions := range c.defs {
		s := Summary{ID: id}
		for v, def := range versions {
			s.Versions = append(s.Versions, v)
			if v > s.Latest {
				s.Latest = v
				s.Name = def.Name
				s.Description = def.Description
			}
		}
		sort.Ints(s.Versions)
		summaries = append(summaries, s)
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].ID < summaries[j].ID })
	return summaries
}

var _ Source = (*Catalog)(nil)
