package execution

import (
	"fmt"
	"sort"

	"github.com/tombee/folio/pkg/errors"
	"github.com/tombee/folio/pkg/workflow"
)

type edgeState int

const (
	edgePending edgeState = iota
	edgeActive
	edgeDead
)

type edgeKey struct{ from, to string }

// Tracker derives the frontier of a graph from the nodes that have concluded.
//
// Each concluded node resolves every outgoing edge as active (the successors
// it chose) or dead. A node with all incoming edges resolved is ready when at
// least one is active, and dead otherwise, in which case its own outgoing
// edges die too. So a join waits for every live path and never for a path
// that a decision, branch or switch ruled out.
type Tracker struct {
	graph     *workflow.Graph
	edges     map[edgeKey]edgeState
	concluded map[string]bool
	dead      map[string]bool
}

// NewTracker creates a tracker for a graph with nothing concluded.
func NewTracker(g *workflow.Graph) *Tracker {
	return &Tracker{
		graph:     g,
		edges:     make(map[edgeKey]edgeState),
		concluded: make(map[string]bool),
		dead:      make(map[string]bool),
	}
}

// Replay rebuilds a tracker from the final records of one scope.
func Replay(g *workflow.Graph, records []Record, scope string) (*Tracker, error) {
	t := NewTracker(g)
	for i := range records {
		r := &records[i]
		if r.Scope != scope || !r.Final {
			continue
		}
		if err := t.Conclude(r.NodeID, r.Routes); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Conclude marks a node finished with the given activated successors.
func (t *Tracker) Conclude(nodeID string, routes []string) error {
	if _, ok := t.graph.Node(nodeID); !ok {
		return &errors.FatalEngineError{
			NodeID:  nodeID,
			Message: "record refers to a node that is not in the workflow graph",
		}
	}
	if t.concluded[nodeID] {
		return &errors.FatalEngineError{
			NodeID:  nodeID,
			Message: "node concluded twice",
		}
	}
	if t.dead[nodeID] {
		return &errors.FatalEngineError{
			NodeID:  nodeID,
			Message: "node ran on a dead path",
		}
	}

	chosen := make(map[string]bool, len(routes))
	for _, r := range routes {
		chosen[r] = true
	}
	for _, e := range t.graph.Outgoing(nodeID) {
		if chosen[e.To] {
			delete(chosen, e.To)
		}
	}
	if len(chosen) > 0 {
		return &errors.FatalEngineError{
			NodeID:  nodeID,
			Message: fmt.Sprintf("routes %v are not successors of the node", keys(chosen)),
		}
	}

	t.concluded[nodeID] = true
	active := make(map[string]bool, len(routes))
	for _, r := range routes {
		active[r] = true
	}
	for _, e := range t.graph.Outgoing(nodeID) {
		if active[e.To] {
			t.edges[edgeKey{e.From, e.To}] = edgeActive
		} else {
			t.edges[edgeKey{e.From, e.To}] = edgeDead
		}
	}
	for _, e := range t.graph.Outgoing(nodeID) {
		t.propagateDead(e.To)
	}
	return nil
}

// propagateDead marks a node dead when all of its incoming edges are dead,
// and continues downstream.
func (t *Tracker) propagateDead(id string) {
	if t.concluded[id] || t.dead[id] {
		return
	}
	for _, e := range t.graph.Incoming(id) {
		if t.edges[edgeKey{e.From, e.To}] != edgeDead {
			return
		}
	}
	t.dead[id] = true
	for _, e := range t.graph.Outgoing(id) {
		t.edges[edgeKey{e.From, e.To}] = edgeDead
	}
	for _, e := range t.graph.Outgoing(id) {
		t.propagateDead(e.To)
	}
}

// Frontier returns the nodes eligible to run, in topological order.
func (t *Tracker) Frontier() []string {
	ready := []string{}
	for _, id := range t.graph.Order() {
		if t.concluded[id] || t.dead[id] {
			continue
		}
		if t.ready(id) {
			ready = append(ready, id)
		}
	}
	return ready
}

func (t *Tracker) ready(id string) bool {
	in := t.graph.Incoming(id)
	if len(in) == 0 {
		return id == t.graph.Entry()
	}
	anyActive := false
	for _, e := range in {
		switch t.edges[edgeKey{e.From, e.To}] {
		case edgePending:
			return false
		case edgeActive:
			anyActive = true
		}
	}
	return anyActive
}

// Concluded reports whether a node has finished.
func (t *Tracker) Concluded(id string) bool { return t.concluded[id] }

// Dead reports whether a node was ruled out by routing.
func (t *Tracker) Dead(id string) bool { return t.dead[id] }

// Done reports whether nothing is left to run.
func (t *Tracker) Done() bool { return len(t.Frontier()) == 0 }

// ActivePredecessors returns the nodes whose edges into id were taken,
// in topological order. Merge nodes union their outputs.
func (t *Tracker) ActivePredecessors(id string) []string {
	var preds []string
	for _, e := range t.graph.Incoming(id) {
		if t.edges[edgeKey{e.From, e.To}] == edgeActive {
			preds = append(preds, e.From)
		}
	}
	sort.Slice(preds, func(i, j int) bool {
		return t.graph.Position(preds[i]) < t.graph.Position(preds[j])
	})
	return preds
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
