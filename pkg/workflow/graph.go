package workflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tombee/folio/pkg/errors"
)

// EdgeKind distinguishes how control reaches a successor.
type EdgeKind string

const (
	// EdgeNext is a fixed successor edge.
	EdgeNext EdgeKind = "next"

	// EdgeRoute is a decision, branch or switch route.
	EdgeRoute EdgeKind = "route"

	// EdgeFallback is taken only when the source node fails after retries.
	EdgeFallback EdgeKind = "fallback"
)

// Edge is a directed control edge between two nodes of the same graph.
// There is at most one edge per (From, To) pair.
type Edge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Kind EdgeKind `json:"kind"`
}

// Graph is the validated, acyclic control graph of a workflow or body.
type Graph struct {
	entry    string
	nodes    map[string]*NodeDefinition
	order    []string
	position map[string]int
	out      map[string][]Edge
	in       map[string][]Edge

	// guaranteed[id] holds the nodes whose output is present whenever id runs
	guaranteed map[string]map[string]bool
}

// Entry returns the entry node id.
func (g *Graph) Entry() string { return g.entry }

// Node returns the node with the given id in this graph.
func (g *Graph) Node(id string) (*NodeDefinition, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Order returns the node ids in a deterministic topological order.
func (g *Graph) Order() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Position returns the topological index of a node, or -1.
func (g *Graph) Position(id string) int {
	if p, ok := g.position[id]; ok {
		return p
	}
	return -1
}

// Outgoing returns the edges leaving a node.
func (g *Graph) Outgoing(id string) []Edge { return g.out[id] }

// Incoming returns the edges entering a node.
func (g *Graph) Incoming(id string) []Edge { return g.in[id] }

// Len returns the number of nodes in the graph.
func (g *Graph) Len() int { return len(g.order) }

// Guaranteed reports whether the output of dep is present on every path
// that reaches id.
func (g *Graph) Guaranteed(id, dep string) bool {
	return g.guaranteed[id][dep]
}

// successorEdges lists the outgoing edges a node declares, deduplicated by target.
func successorEdges(node *NodeDefinition) []Edge {
	var edges []Edge
	seen := make(map[string]bool)
	add := func(to string, kind EdgeKind) {
		if to == "" || seen[to] {
			return
		}
		seen[to] = true
		edges = append(edges, Edge{From: node.ID, To: to, Kind: kind})
	}

	switch node.Type {
	case NodeTypeDecision:
		if node.Decision != nil {
			for _, label := range sortedKeys(node.Decision.Routes) {
				add(node.Decision.Routes[label], EdgeRoute)
			}
			add(node.Decision.Default, EdgeRoute)
		}
	case NodeTypeBranch:
		if node.Branch != nil {
			add(node.Branch.Then, EdgeRoute)
			add(node.Branch.Else, EdgeRoute)
		}
	case NodeTypeSwitch:
		if node.Switch != nil {
			for _, value := range sortedKeys(node.Switch.Cases) {
				add(node.Switch.Cases[value], EdgeRoute)
			}
			add(node.Switch.Default, EdgeRoute)
		}
	default:
		for _, next := range node.Next {
			add(next, EdgeNext)
		}
	}

	if node.Fallback != "" {
		add(node.Fallback, EdgeFallback)
	}
	return edges
}

// buildGraph indexes nodes, checks edge targets, acyclicity and reachability,
// and computes a deterministic topological order.
func buildGraph(nodes []NodeDefinition, entry, field string) (*Graph, error) {
	g := &Graph{
		entry:    entry,
		nodes:    make(map[string]*NodeDefinition, len(nodes)),
		position: make(map[string]int, len(nodes)),
		out:      make(map[string][]Edge, len(nodes)),
		in:       make(map[string][]Edge, len(nodes)),
	}

	declared := make(map[string]int, len(nodes))
	for i := range nodes {
		g.nodes[nodes[i].ID] = &nodes[i]
		declared[nodes[i].ID] = i
	}

	if entry == "" {
		return nil, &errors.ValidationError{
			Field:      field + ".entry",
			Message:    "entry node is required",
			Suggestion: "set entry to the id of the first node",
		}
	}
	if _, ok := g.nodes[entry]; !ok {
		return nil, &errors.ValidationError{
			Field:   field + ".entry",
			Message: fmt.Sprintf("entry node %q does not exist", entry),
		}
	}

	for i := range nodes {
		node := &nodes[i]
		for _, e := range successorEdges(node) {
			if _, ok := g.nodes[e.To]; !ok {
				return nil, &errors.ValidationError{
					Field:      fmt.Sprintf("%s.%s", field, node.ID),
					Message:    fmt.Sprintf("successor %q does not exist in this graph", e.To),
					Suggestion: "loop and parallel bodies cannot route outside the body, and top-level nodes cannot route into one",
				}
			}
			if e.To == node.ID {
				return nil, &errors.ValidationError{
					Field:      fmt.Sprintf("%s.%s", field, node.ID),
					Message:    "node routes to itself",
					Suggestion: "use a loop node for repetition",
				}
			}
			g.out[node.ID] = append(g.out[node.ID], e)
			g.in[e.To] = append(g.in[e.To], e)
		}
	}

	if len(g.in[entry]) > 0 {
		return nil, &errors.ValidationError{
			Field:   field + ".entry",
			Message: fmt.Sprintf("entry node %q has incoming edges from %s", entry, edgeSources(g.in[entry])),
		}
	}

	if cycle := findCycle(nodes, g.out); cycle != nil {
		return nil, &errors.ValidationError{
			Field:      field,
			Message:    fmt.Sprintf("cycle detected: %s", strings.Join(cycle, " -> ")),
			Suggestion: "repetition must be expressed with a loop node and an iteration cap",
		}
	}

	reachable := map[string]bool{entry: true}
	queue := []string{entry}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, e := range g.out[id] {
			if !reachable[e.To] {
				reachable[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}
	for i := range nodes {
		if !reachable[nodes[i].ID] {
			return nil, &errors.ValidationError{
				Field:   fmt.Sprintf("%s.%s", field, nodes[i].ID),
				Message: fmt.Sprintf("node %q is not reachable from entry %q", nodes[i].ID, entry),
			}
		}
	}

	// Kahn's algorithm, ties broken by declaration order
	indegree := make(map[string]int, len(nodes))
	for id := range g.nodes {
		indegree[id] = len(g.in[id])
	}
	ready := []string{entry}
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return declared[ready[i]] < declared[ready[j]] })
		id := ready[0]
		ready = ready[1:]
		g.position[id] = len(g.order)
		g.order = append(g.order, id)
		for _, e := range g.out[id] {
			indegree[e.To]--
			if indegree[e.To] == 0 {
				ready = append(ready, e.To)
			}
		}
	}

	return g, nil
}

// computeGuarantees runs the dominance-style analysis behind input reference
// validation. A normal edge p->n carries G(p) plus p itself; a fallback edge
// carries only G(p), since p failed. outer seeds the entry node.
func (g *Graph) computeGuarantees(outer map[string]bool) {
	g.guaranteed = make(map[string]map[string]bool, len(g.order))
	for _, id := range g.order {
		if id == g.entry {
			g.guaranteed[id] = copySet(outer)
			continue
		}

		var acc map[string]bool
		for _, e := range g.in[id] {
			carried := copySet(g.guaranteed[e.From])
			if e.Kind != EdgeFallback {
				carried[e.From] = true
			}
			if acc == nil {
				acc = carried
				continue
			}
			for dep := range acc {
				if !carried[dep] {
					delete(acc, dep)
				}
			}
		}
		if acc == nil {
			acc = make(map[string]bool)
		}
		g.guaranteed[id] = acc
	}
}

// findCycle returns the node ids of a cycle, or nil. Three-colour DFS.
func findCycle(nodes []NodeDefinition, out map[string][]Edge) []string {
	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(nodes))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		stack = append(stack, id)
		for _, e := range out[id] {
			switch color[e.To] {
			case grey:
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == e.To {
						cycle = append(append([]string{}, stack[i:]...), e.To)
						break
					}
				}
				return true
			case white:
				if visit(e.To) {
					return true
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for i := range nodes {
		if color[nodes[i].ID] == white && visit(nodes[i].ID) {
			return cycle
		}
	}
	return nil
}

func edgeSources(edges []Edge) string {
	ids := make([]string, 0, len(edges))
	for _, e := range edges {
		ids = append(ids, e.From)
	}
	return strings.Join(ids, ", ")
}

func copySet(in map[string]bool) map[string]bool {
	out := make(map[string]bool, len(in)+1)
	for k, v := range in {
		if v {
			out[k] = true
		}
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
