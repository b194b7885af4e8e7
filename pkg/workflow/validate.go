package workflow

import (
	"fmt"
	"regexp"

	"github.com/tombee/folio/pkg/errors"
	"github.com/tombee/folio/pkg/workflow/expression"
)

var workflowIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Validate checks that the workflow definition is well-formed:
//
//   - node ids are unique across the workflow, bodies included
//   - each node carries exactly the configuration block its type needs
//   - the graph is acyclic, rooted at the entry node and fully reachable
//   - decision, branch and switch route tables are total
//   - loops declare an iteration cap
//   - every input reference reads a node guaranteed to have run on every
//     path reaching the consumer
//
// On success the validated graphs are cached on the definition.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return &errors.ValidationError{
			Field:      "id",
			Message:    "workflow id is required",
			Suggestion: "add 'id: <workflow-id>' to the definition",
		}
	}
	if !workflowIDPattern.MatchString(d.ID) {
		return &errors.ValidationError{
			Field:   "id",
			Message: fmt.Sprintf("invalid workflow id %q", d.ID),
		}
	}
	if d.Version < 1 {
		return &errors.ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("version must be at least 1, got %d", d.Version),
		}
	}
	if len(d.Nodes) == 0 {
		return &errors.ValidationError{
			Field:   "nodes",
			Message: "workflow must have at least one node",
		}
	}

	v := &validator{
		seen: make(map[string]string),
		eval: expression.New(),
	}
	g, err := v.scope(d.Nodes, d.Entry, "nodes", nil, false)
	if err != nil {
		return err
	}
	d.graph = g
	return nil
}

type validator struct {
	// seen maps node ids to where they were declared
	seen map[string]string
	eval *expression.Evaluator
}

// scope validates one graph (the top level or a body) and recurses into bodies.
func (v *validator) scope(nodes []NodeDefinition, entry, field string, outer map[string]bool, inBody bool) (*Graph, error) {
	if len(nodes) == 0 {
		return nil, &errors.ValidationError{
			Field:   field,
			Message: "graph must have at least one node",
		}
	}

	for i := range nodes {
		if err := v.node(&nodes[i], fmt.Sprintf("%s[%d]", field, i)); err != nil {
			return nil, err
		}
	}

	g, err := buildGraph(nodes, entry, field)
	if err != nil {
		return nil, err
	}
	g.computeGuarantees(outer)

	for _, id := range g.order {
		node := g.nodes[id]
		nodeField := fmt.Sprintf("%s.%s", field, id)
		avail := g.guaranteed[id]

		if err := v.references(node, nodeField, avail, inBody); err != nil {
			return nil, err
		}

		body := node.Body()
		if body == nil {
			continue
		}
		bg, err := v.scope(body.Nodes, body.Entry, nodeField+".body", avail, true)
		if err != nil {
			return nil, err
		}
		body.graph = bg

		// Body nodes are visible to the body's output and the loop exit
		// condition even when not guaranteed, since they read the last
		// iteration's view.
		bodyVisible := copySet(avail)
		for _, bid := range bg.order {
			bodyVisible[bid] = true
		}
		if body.Output != "" {
			if err := checkReference(body.Output, nodeField+".body.output", bodyVisible, true); err != nil {
				return nil, err
			}
		}
		if node.Loop != nil && node.Loop.Until != "" {
			if err := expression.ValidateNodeReferences(node.Loop.Until, bodyVisible); err != nil {
				return nil, &errors.ValidationError{Field: nodeField + ".loop.until", Message: err.Error()}
			}
		}
	}

	return g, nil
}

// node checks a single node's shape, independent of the graph around it.
func (v *validator) node(n *NodeDefinition, field string) error {
	if n.ID == "" {
		return &errors.ValidationError{
			Field:      field + ".id",
			Message:    "node id is required",
			Suggestion: "give every node a unique id",
		}
	}
	if !nodeIDPattern.MatchString(n.ID) {
		return &errors.ValidationError{
			Field:      field + ".id",
			Message:    fmt.Sprintf("invalid node id %q", n.ID),
			Suggestion: "node ids must start with a letter or underscore and contain only letters, digits and underscores",
		}
	}
	if prev, dup := v.seen[n.ID]; dup {
		return &errors.ValidationError{
			Field:   field + ".id",
			Message: fmt.Sprintf("duplicate node id %q (first declared at %s)", n.ID, prev),
		}
	}
	v.seen[n.ID] = field
	field = fmt.Sprintf("%s(%s)", field, n.ID)

	if !n.Type.IsValid() {
		return &errors.ValidationError{
			Field:      field + ".type",
			Message:    fmt.Sprintf("unknown node type %q", n.Type),
			Suggestion: "use one of input, processing, decision, extraction, output, integration, branch, switch, merge, loop, parallel",
		}
	}

	if err := checkBlocks(n, field); err != nil {
		return err
	}

	if n.Type.IsHandler() {
		if n.Handler == "" {
			return &errors.ValidationError{
				Field:   field + ".handler",
				Message: fmt.Sprintf("%s nodes must name a handler", n.Type),
			}
		}
	} else {
		if n.Handler != "" {
			return &errors.ValidationError{
				Field:   field + ".handler",
				Message: fmt.Sprintf("%s nodes are interpreted by the engine and cannot name a handler", n.Type),
			}
		}
		if len(n.Inputs) > 0 {
			return &errors.ValidationError{
				Field:   field + ".inputs",
				Message: fmt.Sprintf("%s nodes do not take inputs", n.Type),
			}
		}
		if n.Retry != nil {
			return &errors.ValidationError{
				Field:   field + ".retry",
				Message: "retry policies apply to handler-backed nodes only",
			}
		}
	}

	if len(n.Next) > 0 && !n.Type.HasFixedSuccessors() {
		return &errors.ValidationError{
			Field:      field + ".next",
			Message:    fmt.Sprintf("%s nodes route through their own table, not next", n.Type),
			Suggestion: "move successors into the routes, then/else or cases block",
		}
	}
	nextSet := make(map[string]bool, len(n.Next))
	for _, next := range n.Next {
		if next == "" || nextSet[next] {
			return &errors.ValidationError{
				Field:   field + ".next",
				Message: fmt.Sprintf("empty or duplicate successor %q", next),
			}
		}
		nextSet[next] = true
	}

	if n.Fallback != "" {
		if n.Type.IsControlFlow() && n.Type != NodeTypeLoop && n.Type != NodeTypeParallel {
			return &errors.ValidationError{
				Field:   field + ".fallback",
				Message: fmt.Sprintf("%s nodes cannot declare a fallback", n.Type),
			}
		}
		for _, e := range successorEdges(n) {
			if e.To == n.Fallback && e.Kind != EdgeFallback {
				return &errors.ValidationError{
					Field:      field + ".fallback",
					Message:    fmt.Sprintf("fallback %q is also a normal successor", n.Fallback),
					Suggestion: "a fallback must be a dedicated recovery path",
				}
			}
		}
	}

	if n.Timeout < 0 {
		return &errors.ValidationError{
			Field:   field + ".timeout",
			Message: "timeout cannot be negative",
		}
	}

	for slot, raw := range n.Inputs {
		if _, err := ParseReference(raw); err != nil {
			return &errors.ValidationError{
				Field:   fmt.Sprintf("%s.inputs.%s", field, slot),
				Message: err.Error(),
			}
		}
	}

	if err := validateRetry(n.Retry, field+".retry"); err != nil {
		return err
	}

	switch n.Type {
	case NodeTypeDecision:
		return validateDecision(n.Decision, field+".decision")
	case NodeTypeBranch:
		return v.branch(n.Branch, field+".branch")
	case NodeTypeSwitch:
		return v.switchSpec(n.Switch, field+".switch")
	case NodeTypeMerge:
		if n.Merge != nil && n.Merge.Mode != "" && n.Merge.Mode != MergeModeDeep && n.Merge.Mode != MergeModeKeyed {
			return &errors.ValidationError{
				Field:   field + ".merge.mode",
				Message: fmt.Sprintf("unknown merge mode %q (expected deep or keyed)", n.Merge.Mode),
			}
		}
	case NodeTypeLoop:
		return v.loop(n.Loop, field+".loop")
	case NodeTypeParallel:
		return validateParallel(n.Parallel, field+".parallel")
	}
	return nil
}

// checkBlocks enforces the tagged union: exactly the block matching the type.
func checkBlocks(n *NodeDefinition, field string) error {
	blocks := []struct {
		name string
		set  bool
		typ  NodeType
	}{
		{"decision", n.Decision != nil, NodeTypeDecision},
		{"branch", n.Branch != nil, NodeTypeBranch},
		{"switch", n.Switch != nil, NodeTypeSwitch},
		{"merge", n.Merge != nil, NodeTypeMerge},
		{"loop", n.Loop != nil, NodeTypeLoop},
		{"parallel", n.Parallel != nil, NodeTypeParallel},
	}
	for _, b := range blocks {
		if b.set && b.typ != n.Type {
			return &errors.ValidationError{
				Field:   field + "." + b.name,
				Message: fmt.Sprintf("%s block is not allowed on %s nodes", b.name, n.Type),
			}
		}
		if !b.set && b.typ == n.Type && b.typ != NodeTypeMerge {
			return &errors.ValidationError{
				Field:   field + "." + b.name,
				Message: fmt.Sprintf("%s nodes require a %s block", n.Type, b.name),
			}
		}
	}
	return nil
}

func validateRetry(r *RetryPolicy, field string) error {
	if r == nil {
		return nil
	}
	if r.MaxAttempts < 1 {
		return &errors.ValidationError{
			Field:   field + ".max_attempts",
			Message: fmt.Sprintf("max_attempts must be at least 1, got %d", r.MaxAttempts),
		}
	}
	if r.Backoff != BackoffFixed && r.Backoff != BackoffExponential {
		return &errors.ValidationError{
			Field:   field + ".backoff",
			Message: fmt.Sprintf("unknown backoff %q (expected fixed or exponential)", r.Backoff),
		}
	}
	if r.InitialDelay < 0 || r.MaxDelay < 0 {
		return &errors.ValidationError{
			Field:   field,
			Message: "delays cannot be negative",
		}
	}
	if r.Multiplier < 1 {
		return &errors.ValidationError{
			Field:   field + ".multiplier",
			Message: fmt.Sprintf("multiplier must be at least 1, got %v", r.Multiplier),
		}
	}
	return nil
}

func validateDecision(s *DecisionSpec, field string) error {
	if len(s.Routes) == 0 {
		return &errors.ValidationError{
			Field:      field + ".routes",
			Message:    "decision nodes must declare a route table",
			Suggestion: "map each label the handler can return to a successor",
		}
	}
	if s.Default == "" {
		return &errors.ValidationError{
			Field:      field + ".default",
			Message:    "decision nodes must declare a default route",
			Suggestion: "add 'default: <node>' so every label has a destination",
		}
	}
	for label, target := range s.Routes {
		if label == "" || target == "" {
			return &errors.ValidationError{
				Field:   field + ".routes",
				Message: fmt.Sprintf("route %q -> %q is incomplete", label, target),
			}
		}
	}
	if len(s.Labels) > 0 {
		return CheckRouteTable(s, s.Labels, field)
	}
	return nil
}

// CheckRouteTable verifies that the route table is total over a label
// vocabulary: every label has a route and every route names a label.
func CheckRouteTable(s *DecisionSpec, vocabulary []string, field string) error {
	vocab := make(map[string]bool, len(vocabulary))
	for _, label := range vocabulary {
		label = NormalizeLabel(label)
		vocab[label] = true
		if _, ok := s.Route(label); !ok {
			return &errors.ValidationError{
				Field:      field + ".routes",
				Message:    fmt.Sprintf("label %q has no route", label),
				Suggestion: "every label in the vocabulary must be routed explicitly",
			}
		}
	}
	for _, label := range sortedKeys(s.Routes) {
		if !vocab[NormalizeLabel(label)] {
			return &errors.ValidationError{
				Field:   field + ".routes",
				Message: fmt.Sprintf("route for %q is not in the label vocabulary", label),
			}
		}
	}
	return nil
}

func (v *validator) branch(s *BranchSpec, field string) error {
	if s.Condition == "" {
		return &errors.ValidationError{Field: field + ".condition", Message: "branch condition is required"}
	}
	if s.Then == "" || s.Else == "" {
		return &errors.ValidationError{
			Field:   field,
			Message: "branch nodes must declare both then and else successors",
		}
	}
	if err := v.eval.Check(s.Condition, true); err != nil {
		return &errors.ValidationError{Field: field + ".condition", Message: err.Error()}
	}
	return nil
}

func (v *validator) switchSpec(s *SwitchSpec, field string) error {
	if s.On == "" {
		return &errors.ValidationError{Field: field + ".on", Message: "switch expression is required"}
	}
	if len(s.Cases) == 0 {
		return &errors.ValidationError{Field: field + ".cases", Message: "switch nodes must declare at least one case"}
	}
	if s.Default == "" {
		return &errors.ValidationError{
			Field:      field + ".default",
			Message:    "switch nodes must declare a default route",
			Suggestion: "add 'default: <node>' to make the switch total",
		}
	}
	if err := v.eval.Check(s.On, false); err != nil {
		return &errors.ValidationError{Field: field + ".on", Message: err.Error()}
	}
	return nil
}

func (v *validator) loop(s *LoopSpec, field string) error {
	if s.MaxIterations < 1 || s.MaxIterations > MaxLoopIterations {
		return &errors.ValidationError{
			Field:      field + ".max_iterations",
			Message:    fmt.Sprintf("max_iterations must be between 1 and %d, got %d", MaxLoopIterations, s.MaxIterations),
			Suggestion: "every loop needs an explicit iteration cap",
		}
	}
	if s.Body == nil {
		return &errors.ValidationError{Field: field + ".body", Message: "loop nodes require a body"}
	}
	if s.Over != "" {
		if _, err := ParseReference(s.Over); err != nil {
			return &errors.ValidationError{Field: field + ".over", Message: err.Error()}
		}
	}
	if s.Until != "" {
		if err := v.eval.Check(s.Until, true); err != nil {
			return &errors.ValidationError{Field: field + ".until", Message: err.Error()}
		}
	}
	return nil
}

func validateParallel(s *ParallelSpec, field string) error {
	if s.Over == "" {
		return &errors.ValidationError{
			Field:   field + ".over",
			Message: "parallel nodes require a sequence to fan out over",
		}
	}
	if _, err := ParseReference(s.Over); err != nil {
		return &errors.ValidationError{Field: field + ".over", Message: err.Error()}
	}
	if s.Body == nil {
		return &errors.ValidationError{Field: field + ".body", Message: "parallel nodes require a body"}
	}
	if s.MaxConcurrency < 0 {
		return &errors.ValidationError{
			Field:   field + ".max_concurrency",
			Message: "max_concurrency cannot be negative",
		}
	}
	return nil
}

// references checks that every value a node reads is available where it runs.
func (v *validator) references(n *NodeDefinition, field string, avail map[string]bool, inBody bool) error {
	for _, slot := range sortedKeys(n.Inputs) {
		if err := checkReference(n.Inputs[slot], field+".inputs."+slot, avail, inBody); err != nil {
			return err
		}
	}

	switch {
	case n.Loop != nil && n.Loop.Over != "":
		return checkReference(n.Loop.Over, field+".loop.over", avail, inBody)
	case n.Parallel != nil:
		return checkReference(n.Parallel.Over, field+".parallel.over", avail, inBody)
	case n.Branch != nil:
		return checkExpression(n.Branch.Condition, field+".branch.condition", avail, inBody)
	case n.Switch != nil:
		return checkExpression(n.Switch.On, field+".switch.on", avail, inBody)
	}
	return nil
}

func checkReference(raw, field string, avail map[string]bool, inBody bool) error {
	ref, err := ParseReference(raw)
	if err != nil {
		return &errors.ValidationError{Field: field, Message: err.Error()}
	}
	switch ref.Root {
	case RootNodes:
		if !avail[ref.Name] {
			return &errors.ValidationError{
				Field:      field,
				Message:    fmt.Sprintf("%s reads node %q, which is not guaranteed to have run on every path to this node", raw, ref.Name),
				Suggestion: "read only from nodes that dominate this one, or merge the paths first",
			}
		}
	case RootLocal:
		if !inBody {
			return &errors.ValidationError{
				Field:   field,
				Message: fmt.Sprintf("%s reads a local binding outside a loop or parallel body", raw),
			}
		}
	}
	return nil
}

func checkExpression(expr, field string, avail map[string]bool, inBody bool) error {
	if err := expression.ValidateNodeReferences(expr, avail); err != nil {
		return &errors.ValidationError{Field: field, Message: err.Error()}
	}
	if !inBody && expression.UsesLocal(expr) {
		return &errors.ValidationError{
			Field:   field,
			Message: "expression reads local bindings outside a loop or parallel body",
		}
	}
	return nil
}
