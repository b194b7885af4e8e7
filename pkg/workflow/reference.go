package workflow

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/itchyny/gojq"
	"github.com/tombee/folio/pkg/errors"
)

// Reference roots.
const (
	RootTrigger = "trigger"
	RootNodes   = "nodes"
	RootLocal   = "local"
)

// Local names bound inside loop and parallel bodies.
const (
	LocalItem      = "item"
	LocalIndex     = "index"
	LocalAcc       = "acc"
	LocalIteration = "iteration"
	LocalTotal     = "total"
)

var (
	nodeIDPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

	// A path tail is a chain of .field, [n] and ["key"] accessors.
	pathTailPattern = regexp.MustCompile(`^(\.[A-Za-z_][A-Za-z0-9_]*|\[[0-9]+\]|\["[^"\\]*"\])*$`)

	localNames = map[string]bool{
		LocalItem: true, LocalIndex: true, LocalAcc: true, LocalIteration: true, LocalTotal: true,
	}
)

// Scope is the read-only view a reference is resolved against.
type Scope interface {
	// Trigger returns the run's trigger payload.
	Trigger() interface{}

	// NodeOutput returns the output of a concluded node visible in this scope.
	NodeOutput(id string) (interface{}, bool)

	// Local returns a body-local binding such as the current item.
	Local(name string) (interface{}, bool)
}

// Reference is a parsed path into the run view:
//
//	trigger[.path]
//	nodes.<id>[.path]
//	local.<name>[.path]
//
// The path tail is evaluated with jq semantics, so a missing field yields null.
type Reference struct {
	raw  string
	Root string
	Name string // node id or local name
	Path string // jq path tail, empty for the whole value

	code *gojq.Code
}

// ParseReference parses and compiles a reference.
func ParseReference(s string) (*Reference, error) {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return nil, fmt.Errorf("reference is empty")
	}

	ref := &Reference{raw: raw}
	rest := raw

	switch {
	case rest == RootTrigger || strings.HasPrefix(rest, RootTrigger+".") || strings.HasPrefix(rest, RootTrigger+"["):
		ref.Root = RootTrigger
		rest = strings.TrimPrefix(rest, RootTrigger)

	case strings.HasPrefix(rest, RootNodes+"."):
		ref.Root = RootNodes
		ref.Name, rest = splitName(strings.TrimPrefix(rest, RootNodes+"."))
		if !nodeIDPattern.MatchString(ref.Name) {
			return nil, fmt.Errorf("reference %q: invalid node id %q", raw, ref.Name)
		}

	case strings.HasPrefix(rest, RootLocal+"."):
		ref.Root = RootLocal
		ref.Name, rest = splitName(strings.TrimPrefix(rest, RootLocal+"."))
		if !localNames[ref.Name] {
			return nil, fmt.Errorf("reference %q: unknown local %q (expected item, index, acc, iteration or total)", raw, ref.Name)
		}

	default:
		return nil, fmt.Errorf("reference %q must start with trigger, nodes.<id> or local.<name>", raw)
	}

	if !pathTailPattern.MatchString(rest) {
		return nil, fmt.Errorf("reference %q: invalid path %q", raw, rest)
	}
	ref.Path = rest

	if rest != "" {
		src := rest
		if strings.HasPrefix(src, "[") {
			src = "." + src
		}
		query, err := gojq.Parse(src)
		if err != nil {
			return nil, fmt.Errorf("reference %q: %w", raw, err)
		}
		code, err := gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("reference %q: %w", raw, err)
		}
		ref.code = code
	}

	return ref, nil
}

// MustParseReference is like ParseReference but panics on error.
func MustParseReference(s string) *Reference {
	ref, err := ParseReference(s)
	if err != nil {
		panic(err)
	}
	return ref
}

func splitName(s string) (name, rest string) {
	i := strings.IndexAny(s, ".[")
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i:]
}

// String returns the reference as written.
func (r *Reference) String() string { return r.raw }

// Resolve dereferences the reference against a scope.
//
// A root that is absent from the scope is an unresolvable dependency and
// yields a FatalEngineError. A path that cannot be applied to the value
// (indexing a string, for example) yields a PermanentError.
func (r *Reference) Resolve(scope Scope) (interface{}, error) {
	var base interface{}
	switch r.Root {
	case RootTrigger:
		base = scope.Trigger()
	case RootNodes:
		v, ok := scope.NodeOutput(r.Name)
		if !ok {
			return nil, &errors.FatalEngineError{
				Message: fmt.Sprintf("unresolvable reference %s: node %s has no recorded output", r.raw, r.Name),
			}
		}
		base = v
	case RootLocal:
		v, ok := scope.Local(r.Name)
		if !ok {
			return nil, &errors.FatalEngineError{
				Message: fmt.Sprintf("unresolvable reference %s: local %s is not bound here", r.raw, r.Name),
			}
		}
		base = v
	}

	if r.code == nil {
		return base, nil
	}

	iter := r.code.Run(base)
	v, ok := iter.Next()
	if !ok {
		return nil, nil
	}
	if err, isErr := v.(error); isErr {
		return nil, &errors.PermanentError{
			Message: fmt.Sprintf("cannot resolve %s", r.raw),
			Cause:   err,
		}
	}
	return v, nil
}

// ResolveInputs resolves every input slot of a node.
func ResolveInputs(inputs map[string]string, scope Scope) (map[string]interface{}, error) {
	resolved := make(map[string]interface{}, len(inputs))
	for slot, raw := range inputs {
		ref, err := ParseReference(raw)
		if err != nil {
			return nil, &errors.FatalEngineError{Message: fmt.Sprintf("input %s", slot), Cause: err}
		}
		v, err := ref.Resolve(scope)
		if err != nil {
			return nil, errors.Wrapf(err, "input %s", slot)
		}
		resolved[slot] = v
	}
	return resolved, nil
}
