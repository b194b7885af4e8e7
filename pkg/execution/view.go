package execution

import (
	"github.com/tombee/folio/pkg/workflow"
	"github.com/tombee/folio/pkg/workflow/expression"
)

// View is the read-only "current view" of a run derived from its log: the
// trigger payload plus the output of every concluded, successful node.
// Sub-runs get a child view that layers their own outputs and local
// bindings over the parent's.
type View struct {
	trigger interface{}
	outputs map[string]interface{}
	local   map[string]interface{}
	parent  *View
}

// NewView creates a top-level view.
func NewView(trigger interface{}) *View {
	return &View{
		trigger: trigger,
		outputs: make(map[string]interface{}),
	}
}

// BuildView replays the successful final records of one scope.
func BuildView(trigger interface{}, records []Record, scope string) *View {
	v := NewView(trigger)
	for i := range records {
		r := &records[i]
		if r.Scope == scope && r.Final && r.Succeeded() {
			v.Set(r.NodeID, r.Output)
		}
	}
	return v
}

// Child creates a view for a sub-run with the given local bindings.
func (v *View) Child(local map[string]interface{}) *View {
	return &View{
		trigger: v.trigger,
		outputs: make(map[string]interface{}),
		local:   local,
		parent:  v,
	}
}

// Set records a node's output in this view.
func (v *View) Set(nodeID string, output interface{}) {
	v.outputs[nodeID] = output
}

// Trigger implements workflow.Scope.
func (v *View) Trigger() interface{} {
	return v.trigger
}

// NodeOutput implements workflow.Scope. Own outputs shadow the parent's.
func (v *View) NodeOutput(id string) (interface{}, bool) {
	for cur := v; cur != nil; cur = cur.parent {
		if out, ok := cur.outputs[id]; ok {
			return out, true
		}
	}
	return nil, false
}

// Local implements workflow.Scope. Inner bindings shadow outer ones.
func (v *View) Local(name string) (interface{}, bool) {
	for cur := v; cur != nil; cur = cur.parent {
		if val, ok := cur.local[name]; ok {
			return val, true
		}
	}
	return nil, false
}

// Nodes flattens the visible node outputs.
func (v *View) Nodes() map[string]interface{} {
	out := make(map[string]interface{})
	v.fill(out, func(cur *View) map[string]interface{} { return cur.outputs })
	return out
}

// Locals flattens the visible local bindings.
func (v *View) Locals() map[string]interface{} {
	out := make(map[string]interface{})
	v.fill(out, func(cur *View) map[string]interface{} { return cur.local })
	return out
}

func (v *View) fill(out map[string]interface{}, pick func(*View) map[string]interface{}) {
	if v.parent != nil {
		v.parent.fill(out, pick)
	}
	for k, val := range pick(v) {
		out[k] = val
	}
}

// ExpressionContext builds the expression evaluation context for this view.
func (v *View) ExpressionContext() map[string]interface{} {
	var local map[string]interface{}
	if locals := v.Locals(); len(locals) > 0 {
		local = locals
	}
	return expression.BuildContext(v.trigger, v.Nodes(), local)
}

var _ workflow.Scope = (*View)(nil)
