package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tombee/folio/pkg/errors"
)

func proc(id string, next ...string) NodeDefinition {
	return NodeDefinition{ID: id, Type: NodeTypeProcessing, Handler: "noop", Next: next}
}

func def(entry string, nodes ...NodeDefinition) *Definition {
	d := &Definition{ID: "test", Entry: entry, Nodes: nodes}
	d.ApplyDefaults()
	return d
}

func requireValidationError(t *testing.T, err error, contains string) {
	t.Helper()
	require.Error(t, err)
	var ve *errors.ValidationError
	require.True(t, errors.As(err, &ve), "expected ValidationError, got %T: %v", err, err)
	assert.Contains(t, err.Error(), contains)
}

func TestValidate_Acyclic(t *testing.T) {
	t.Run("cycle through next", func(t *testing.T) {
		err := def("a", proc("a", "b"), proc("b", "c"), proc("c", "b")).Validate()
		requireValidationError(t, err, "cycle detected: b -> c -> b")
	})

	t.Run("cycle through decision route", func(t *testing.T) {
		triage := NodeDefinition{
			ID: "triage", Type: NodeTypeDecision, Handler: "classify",
			Decision: &DecisionSpec{Routes: map[string]string{"again": "prep", "done": "out"}, Default: "out"},
		}
		err := def("start", proc("start", "prep"), proc("prep", "triage"), triage, proc("out")).Validate()
		requireValidationError(t, err, "cycle detected")
	})

	t.Run("cycle through fallback", func(t *testing.T) {
		a := proc("a", "b")
		b := proc("b")
		b.Fallback = "a"
		err := def("s", proc("s", "a"), a, b).Validate()
		requireValidationError(t, err, "cycle detected")
	})

	t.Run("self loop", func(t *testing.T) {
		err := def("a", proc("a", "a")).Validate()
		requireValidationError(t, err, "routes to itself")
	})

	t.Run("entry with incoming edge", func(t *testing.T) {
		err := def("a", proc("a", "b"), proc("b", "a")).Validate()
		requireValidationError(t, err, "has incoming edges")
	})

	t.Run("diamond is fine", func(t *testing.T) {
		err := def("a", proc("a", "b", "c"), proc("b", "d"), proc("c", "d"), proc("d")).Validate()
		assert.NoError(t, err)
	})

	t.Run("loop body is the only repetition", func(t *testing.T) {
		loop := NodeDefinition{
			ID: "pages", Type: NodeTypeLoop,
			Loop: &LoopSpec{
				MaxIterations: 50,
				Until:         `acc.done == true`,
				Body:          &SubGraph{Entry: "step", Nodes: []NodeDefinition{proc("step")}},
			},
		}
		assert.NoError(t, def("pages", loop).Validate())
	})
}

func TestValidate_Reachability(t *testing.T) {
	err := def("a", proc("a"), proc("orphan")).Validate()
	requireValidationError(t, err, "not reachable")

	err = def("missing", proc("a")).Validate()
	requireValidationError(t, err, "does not exist")

	err = def("a", proc("a", "ghost")).Validate()
	requireValidationError(t, err, `successor "ghost" does not exist`)
}

func TestValidate_DecisionTotality(t *testing.T) {
	decision := func(spec *DecisionSpec) *Definition {
		return def("triage",
			NodeDefinition{ID: "triage", Type: NodeTypeDecision, Handler: "classify", Decision: spec},
			proc("good_path"), proc("poor_path"),
		)
	}

	t.Run("total table", func(t *testing.T) {
		err := decision(&DecisionSpec{
			Labels:  []string{"good", "poor"},
			Routes:  map[string]string{"good": "good_path", "poor": "poor_path"},
			Default: "poor_path",
		}).Validate()
		assert.NoError(t, err)
	})

	t.Run("missing default", func(t *testing.T) {
		err := decision(&DecisionSpec{
			Routes: map[string]string{"good": "good_path", "poor": "poor_path"},
		}).Validate()
		requireValidationError(t, err, "default route")
	})

	t.Run("unrouted vocabulary label", func(t *testing.T) {
		err := decision(&DecisionSpec{
			Labels:  []string{"good", "poor", "illegible"},
			Routes:  map[string]string{"good": "good_path", "poor": "poor_path"},
			Default: "poor_path",
		}).Validate()
		requireValidationError(t, err, `label "illegible" has no route`)
	})

	t.Run("route outside vocabulary", func(t *testing.T) {
		err := decision(&DecisionSpec{
			Labels:  []string{"good"},
			Routes:  map[string]string{"good": "good_path", "poor": "poor_path"},
			Default: "good_path",
		}).Validate()
		requireValidationError(t, err, "not in the label vocabulary")
	})

	t.Run("empty route table", func(t *testing.T) {
		err := decision(&DecisionSpec{Default: "good_path"}).Validate()
		requireValidationError(t, err, "route table")
	})

	t.Run("next on decision node", func(t *testing.T) {
		d := decision(&DecisionSpec{Routes: map[string]string{"good": "good_path", "poor": "poor_path"}, Default: "good_path"})
		d.Nodes[0].Next = Successors{"good_path"}
		requireValidationError(t, d.Validate(), "not next")
	})
}

func TestValidate_BranchAndSwitch(t *testing.T) {
	t.Run("branch needs both successors", func(t *testing.T) {
		err := def("b",
			NodeDefinition{ID: "b", Type: NodeTypeBranch, Branch: &BranchSpec{Condition: "trigger.pages > 10", Then: "x"}},
			proc("x"),
		).Validate()
		requireValidationError(t, err, "both then and else")
	})

	t.Run("branch condition must compile", func(t *testing.T) {
		err := def("b",
			NodeDefinition{ID: "b", Type: NodeTypeBranch, Branch: &BranchSpec{Condition: "trigger.pages >", Then: "x", Else: "y"}},
			proc("x"), proc("y"),
		).Validate()
		requireValidationError(t, err, "failed to compile")
	})

	t.Run("switch needs default", func(t *testing.T) {
		err := def("s",
			NodeDefinition{ID: "s", Type: NodeTypeSwitch, Switch: &SwitchSpec{On: "trigger.script", Cases: map[string]string{"latin": "x"}}},
			proc("x"),
		).Validate()
		requireValidationError(t, err, "default route")
	})

	t.Run("switch reads only guaranteed nodes", func(t *testing.T) {
		err := def("a",
			proc("a", "s"),
			NodeDefinition{ID: "s", Type: NodeTypeSwitch, Switch: &SwitchSpec{On: "nodes.z.script", Cases: map[string]string{"latin": "x"}, Default: "x"}},
			proc("x", "z"), proc("z"),
		).Validate()
		requireValidationError(t, err, "not guaranteed")
	})
}

func TestValidate_TaggedUnion(t *testing.T) {
	t.Run("wrong block", func(t *testing.T) {
		n := proc("a")
		n.Branch = &BranchSpec{Condition: "true", Then: "a", Else: "a"}
		requireValidationError(t, def("a", n).Validate(), "branch block is not allowed on processing nodes")
	})

	t.Run("missing block", func(t *testing.T) {
		requireValidationError(t, def("l", NodeDefinition{ID: "l", Type: NodeTypeLoop}).Validate(), "require a loop block")
	})

	t.Run("handler required", func(t *testing.T) {
		requireValidationError(t, def("a", NodeDefinition{ID: "a", Type: NodeTypeInput}).Validate(), "must name a handler")
	})

	t.Run("control flow cannot name handler", func(t *testing.T) {
		requireValidationError(t, def("m", NodeDefinition{ID: "m", Type: NodeTypeMerge, Handler: "x"}).Validate(), "cannot name a handler")
	})

	t.Run("unknown type", func(t *testing.T) {
		requireValidationError(t, def("a", NodeDefinition{ID: "a", Type: "script"}).Validate(), "unknown node type")
	})

	t.Run("bad id", func(t *testing.T) {
		requireValidationError(t, def("a-b", NodeDefinition{ID: "a-b", Type: NodeTypeInput, Handler: "x"}).Validate(), "invalid node id")
	})
}

func TestValidate_Loops(t *testing.T) {
	body := &SubGraph{Entry: "step", Nodes: []NodeDefinition{proc("step")}}

	t.Run("cap required", func(t *testing.T) {
		err := def("l", NodeDefinition{ID: "l", Type: NodeTypeLoop, Loop: &LoopSpec{Body: body}}).Validate()
		requireValidationError(t, err, "max_iterations")
	})

	t.Run("cap bounded", func(t *testing.T) {
		err := def("l", NodeDefinition{ID: "l", Type: NodeTypeLoop, Loop: &LoopSpec{MaxIterations: MaxLoopIterations + 1, Body: body}}).Validate()
		requireValidationError(t, err, "max_iterations")
	})

	t.Run("body required", func(t *testing.T) {
		err := def("l", NodeDefinition{ID: "l", Type: NodeTypeLoop, Loop: &LoopSpec{MaxIterations: 3}}).Validate()
		requireValidationError(t, err, "require a body")
	})

	t.Run("body cannot route out", func(t *testing.T) {
		escaping := &SubGraph{Entry: "step", Nodes: []NodeDefinition{proc("step", "after")}}
		err := def("l",
			NodeDefinition{ID: "l", Type: NodeTypeLoop, Next: Successors{"after"}, Loop: &LoopSpec{MaxIterations: 3, Body: escaping}},
			proc("after"),
		).Validate()
		requireValidationError(t, err, "does not exist in this graph")
	})

	t.Run("parallel needs over", func(t *testing.T) {
		err := def("p", NodeDefinition{ID: "p", Type: NodeTypeParallel, Parallel: &ParallelSpec{Body: body}}).Validate()
		requireValidationError(t, err, "sequence to fan out over")
	})

	t.Run("ids unique across bodies", func(t *testing.T) {
		dup := &SubGraph{Entry: "p", Nodes: []NodeDefinition{proc("p")}}
		err := def("p", NodeDefinition{ID: "p", Type: NodeTypeLoop, Loop: &LoopSpec{MaxIterations: 2, Body: dup}}).Validate()
		requireValidationError(t, err, "duplicate node id")
	})
}

func TestValidate_References(t *testing.T) {
	withInputs := func(n NodeDefinition, inputs map[string]string) NodeDefinition {
		n.Inputs = inputs
		return n
	}

	t.Run("dominating node", func(t *testing.T) {
		err := def("a", proc("a", "b"), withInputs(proc("b"), map[string]string{"x": "nodes.a.text"})).Validate()
		assert.NoError(t, err)
	})

	t.Run("node on only one path", func(t *testing.T) {
		err := def("a",
			proc("a", "b", "c"), proc("b", "d"), proc("c", "d"),
			withInputs(proc("d"), map[string]string{"x": "nodes.b"}),
		).Validate()
		requireValidationError(t, err, "not guaranteed")
	})

	t.Run("node on every path", func(t *testing.T) {
		err := def("a",
			proc("a", "b", "c"), proc("b", "d"), proc("c", "d"),
			withInputs(proc("d"), map[string]string{"x": "nodes.a"}),
		).Validate()
		assert.NoError(t, err)
	})

	t.Run("downstream node", func(t *testing.T) {
		err := def("a", withInputs(proc("a", "b"), map[string]string{"x": "nodes.b"}), proc("b")).Validate()
		requireValidationError(t, err, "not guaranteed")
	})

	t.Run("fallback cannot read the failed node", func(t *testing.T) {
		risky := proc("risky", "done")
		risky.Fallback = "recover"
		err := def("a",
			proc("a", "risky"), risky, proc("done"),
			withInputs(proc("recover"), map[string]string{"x": "nodes.risky"}),
		).Validate()
		requireValidationError(t, err, "not guaranteed")
	})

	t.Run("fallback can read the failed node's inputs", func(t *testing.T) {
		risky := proc("risky", "done")
		risky.Fallback = "recover"
		err := def("a",
			proc("a", "risky"), risky, proc("done"),
			withInputs(proc("recover"), map[string]string{"x": "nodes.a"}),
		).Validate()
		assert.NoError(t, err)
	})

	t.Run("fallback cannot also be a successor", func(t *testing.T) {
		risky := proc("risky", "done")
		risky.Fallback = "done"
		err := def("risky", risky, proc("done")).Validate()
		requireValidationError(t, err, "also a normal successor")
	})

	t.Run("local outside body", func(t *testing.T) {
		err := def("a", withInputs(proc("a"), map[string]string{"x": "local.item"})).Validate()
		requireValidationError(t, err, "outside a loop or parallel body")
	})

	t.Run("body reads enclosing guaranteed nodes", func(t *testing.T) {
		body := &SubGraph{
			Entry:  "page",
			Output: "nodes.page.text",
			Nodes:  []NodeDefinition{withInputs(proc("page"), map[string]string{"img": "local.item", "lang": "nodes.detect.lang"})},
		}
		err := def("detect",
			proc("detect", "fan"),
			NodeDefinition{ID: "fan", Type: NodeTypeParallel, Parallel: &ParallelSpec{Over: "nodes.detect.pages", Body: body}},
		).Validate()
		assert.NoError(t, err)
	})

	t.Run("top level cannot read body nodes", func(t *testing.T) {
		body := &SubGraph{Entry: "page", Nodes: []NodeDefinition{proc("page")}}
		err := def("fan",
			NodeDefinition{ID: "fan", Type: NodeTypeParallel, Next: Successors{"after"}, Parallel: &ParallelSpec{Over: "trigger.pages", Body: body}},
			withInputs(proc("after"), map[string]string{"x": "nodes.page"}),
		).Validate()
		requireValidationError(t, err, "not guaranteed")
	})
}

func TestValidate_Retry(t *testing.T) {
	n := proc("a")
	n.Retry = &RetryPolicy{MaxAttempts: 3, Backoff: "linear"}
	d := &Definition{ID: "t", Version: 1, Entry: "a", Nodes: []NodeDefinition{n}}
	requireValidationError(t, d.Validate(), "unknown backoff")

	m := NodeDefinition{ID: "m", Type: NodeTypeMerge, Retry: &RetryPolicy{MaxAttempts: 2}}
	requireValidationError(t, def("m", m).Validate(), "handler-backed nodes only")
}

func TestGraph_Guaranteed(t *testing.T) {
	d := def("a", proc("a", "b", "c"), proc("b", "d"), proc("c", "d"), proc("d"))
	require.NoError(t, d.Validate())

	g := d.Graph()
	assert.True(t, g.Guaranteed("d", "a"))
	assert.False(t, g.Guaranteed("d", "b"))
	assert.Equal(t, 4, g.Len())
	assert.Equal(t, 0, g.Position("a"))
	assert.Equal(t, -1, g.Position("zzz"))
	assert.Len(t, g.Incoming("d"), 2)
	assert.Len(t, g.Outgoing("a"), 2)
}
