package handler

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tombee/folio/pkg/errors"
	"github.com/tombee/folio/pkg/workflow"
)

// Registry maintains the collection of registered handlers.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	frozen  bool
}

// NewRegistry creates a new handler registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
	}
}

// Register adds a handler to the registry.
//
// Registration fails fast with a ConfigError when the descriptor cannot be
// honoured: an unknown or engine-interpreted category, a decision handler
// without a vocabulary, a duplicate name, or a frozen registry.
func (r *Registry) Register(desc Descriptor, h Handler) error {
	key := "handlers." + desc.Name

	if h == nil {
		return &errors.ConfigError{Key: key, Reason: "cannot register nil handler"}
	}
	if desc.Name == "" {
		return &errors.ConfigError{Key: "handlers", Reason: "handler name cannot be empty"}
	}
	if !desc.Category.IsValid() {
		return &errors.ConfigError{
			Key:    key,
			Reason: fmt.Sprintf("unknown node type %q", desc.Category),
		}
	}
	if desc.Category.IsControlFlow() {
		return &errors.ConfigError{
			Key:    key,
			Reason: fmt.Sprintf("%s nodes are interpreted by the engine and cannot have handlers", desc.Category),
		}
	}

	if desc.Category == workflow.NodeTypeDecision {
		if len(desc.Labels) == 0 {
			return &errors.ConfigError{
				Key:    key,
				Reason: "decision handlers must declare a label vocabulary",
			}
		}
		labels := make([]string, 0, len(desc.Labels))
		seen := make(map[string]bool, len(desc.Labels))
		for _, label := range desc.Labels {
			label = workflow.NormalizeLabel(label)
			if label == "" || seen[label] {
				return &errors.ConfigError{
					Key:    key,
					Reason: fmt.Sprintf("empty or duplicate label %q", label),
				}
			}
			seen[label] = true
			labels = append(labels, label)
		}
		desc.Labels = labels
	} else if len(desc.Labels) > 0 {
		return &errors.ConfigError{
			Key:    key,
			Reason: "only decision handlers declare labels",
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return &errors.ConfigError{Key: key, Reason: "registry is frozen; register handlers before starting the engine"}
	}
	if _, exists := r.entries[desc.Name]; exists {
		return &errors.ConfigError{Key: key, Reason: "handler already registered"}
	}

	r.entries[desc.Name] = &Entry{Descriptor: desc, Handler: h}
	return nil
}

// MustRegister is like Register but panics on error. Intended for startup wiring.
func (r *Registry) MustRegister(desc Descriptor, h Handler) {
	if err := r.Register(desc, h); err != nil {
		panic(err)
	}
}

// Freeze makes the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether the registry is read-only.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Get retrieves a handler by name.
func (r *Registry) Get(name string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.entries[name]
	if !exists {
		return nil, &errors.NotFoundError{
			Resource: "handler",
			ID:       name,
		}
	}
	return entry, nil
}

// Has checks if a handler is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.entries[name]
	return exists
}

// List returns the descriptors of all registered handlers, sorted by name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descs := make([]Descriptor, 0, len(r.entries))
	for _, entry := range r.entries {
		descs = append(descs, entry.Descriptor)
	}
	sort.Slice(descs, func(i, j int) bool { return descs[i].Name < descs[j].Name })
	return descs
}

// Bind checks a validated definition against the registry: every
// handler-backed node names a registered handler of the same category, and
// every decision node's route table is total over its vocabulary.
func (r *Registry) Bind(def *workflow.Definition) error {
	return def.Walk(func(node *workflow.NodeDefinition) error {
		if !node.Type.IsHandler() {
			return nil
		}
		field := fmt.Sprintf("nodes.%s.handler", node.ID)

		entry, err := r.Get(node.Handler)
		if err != nil {
			return &errors.ValidationError{
				Field:      field,
				Message:    fmt.Sprintf("handler %q is not registered", node.Handler),
				Suggestion: "register the handler before loading workflows that use it",
			}
		}
		if entry.Category != node.Type {
			return &errors.ValidationError{
				Field:   field,
				Message: fmt.Sprintf("handler %q implements %s nodes, not %s", node.Handler, entry.Category, node.Type),
			}
		}

		if node.Type == workflow.NodeTypeDecision {
			for _, label := range node.Decision.Labels {
				if !workflow.InVocabulary(label, entry.Labels) {
					return &errors.ValidationError{
						Field:   fmt.Sprintf("nodes.%s.decision.labels", node.ID),
						Message: fmt.Sprintf("label %q is not in the vocabulary of handler %q", label, node.Handler),
					}
				}
			}
			if err := workflow.CheckRouteTable(node.Decision, Vocabulary(node, entry), "nodes."+node.ID+".decision"); err != nil {
				return err
			}
		}
		return nil
	})
}

// Vocabulary returns the effective label vocabulary of a decision node:
// the node's own labels when declared, otherwise the handler's.
func Vocabulary(node *workflow.NodeDefinition, entry *Entry) []string {
	if node.Decision != nil && len(node.Decision.Labels) > 0 {
		return node.Decision.Labels
	}
	return entry.Labels
}
