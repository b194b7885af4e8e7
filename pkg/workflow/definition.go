// Package workflow provides the document pipeline's workflow definitions.
//
// A workflow is a named, versioned, immutable graph of nodes with an explicit
// entry node. Definitions are authored as YAML, parsed with ParseDefinition,
// defaulted and validated once, and then shared read-only by every run bound
// to them. Each node belongs to a closed set of categories: handler-backed
// categories (input, processing, decision, extraction, output, integration)
// and engine-interpreted control flow (branch, switch, merge, loop, parallel).
package workflow

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// Definition represents a YAML-based workflow definition.
type Definition struct {
	// ID is the workflow identifier used to start runs
	ID string `yaml:"id" json:"id"`

	// Name is a human-readable title (optional)
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// Description provides human-readable context about the workflow
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Version is the immutable version number of this definition (defaults to 1)
	Version int `yaml:"version" json:"version"`

	// Entry is the id of the first node to run
	Entry string `yaml:"entry" json:"entry"`

	// Nodes are the steps of the workflow graph
	Nodes []NodeDefinition `yaml:"nodes" json:"nodes"`

	graph *Graph
}

// NodeType is the category of a node.
type NodeType string

const (
	// NodeTypeInput brings external data into the run.
	NodeTypeInput NodeType = "input"

	// NodeTypeProcessing transforms existing state.
	NodeTypeProcessing NodeType = "processing"

	// NodeTypeDecision examines content and returns a named route.
	NodeTypeDecision NodeType = "decision"

	// NodeTypeExtraction produces structured records.
	NodeTypeExtraction NodeType = "extraction"

	// NodeTypeOutput persists or emits results.
	NodeTypeOutput NodeType = "output"

	// NodeTypeIntegration calls an external service.
	NodeTypeIntegration NodeType = "integration"

	// NodeTypeBranch selects one of two successors with a boolean expression.
	NodeTypeBranch NodeType = "branch"

	// NodeTypeSwitch selects one of n successors by a discrete value.
	NodeTypeSwitch NodeType = "switch"

	// NodeTypeMerge waits for all live predecessors and unions their outputs.
	NodeTypeMerge NodeType = "merge"

	// NodeTypeLoop runs a body sub-graph once per element, sequentially.
	NodeTypeLoop NodeType = "loop"

	// NodeTypeParallel runs a body sub-graph once per item, concurrently.
	NodeTypeParallel NodeType = "parallel"
)

// AllNodeTypes lists every node category in declaration order.
var AllNodeTypes = []NodeType{
	NodeTypeInput, NodeTypeProcessing, NodeTypeDecision, NodeTypeExtraction,
	NodeTypeOutput, NodeTypeIntegration, NodeTypeBranch, NodeTypeSwitch,
	NodeTypeMerge, NodeTypeLoop, NodeTypeParallel,
}

// IsValid returns true if the node type is one of the known categories.
func (t NodeType) IsValid() bool {
	for _, known := range AllNodeTypes {
		if t == known {
			return true
		}
	}
	return false
}

// IsHandler returns true if nodes of this type delegate to a registered handler.
func (t NodeType) IsHandler() bool {
	switch t {
	case NodeTypeInput, NodeTypeProcessing, NodeTypeDecision,
		NodeTypeExtraction, NodeTypeOutput, NodeTypeIntegration:
		return true
	}
	return false
}

// IsControlFlow returns true if the engine interprets nodes of this type itself.
func (t NodeType) IsControlFlow() bool {
	return t.IsValid() && !t.IsHandler()
}

// HasFixedSuccessors returns true if nodes of this type route through `next`.
func (t NodeType) HasFixedSuccessors() bool {
	switch t {
	case NodeTypeDecision, NodeTypeBranch, NodeTypeSwitch:
		return false
	}
	return t.IsValid()
}

// NodeDefinition is a tagged union over the node categories. Common fields
// apply to every node; exactly the category-specific block matching Type is
// set on control-flow and decision nodes.
type NodeDefinition struct {
	// ID is the unique node identifier within the workflow, including bodies
	ID string `yaml:"id" json:"id"`

	// Type is the node category
	Type NodeType `yaml:"type" json:"type"`

	// Description documents the node (optional)
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Handler names the registered capability for handler-backed categories
	Handler string `yaml:"handler,omitempty" json:"handler,omitempty"`

	// Inputs maps named input slots to references into the run view
	// (e.g. "trigger.document", "nodes.ocr.text", "local.item")
	Inputs map[string]string `yaml:"inputs,omitempty" json:"inputs,omitempty"`

	// Config is the opaque settings payload passed to the handler
	Config map[string]interface{} `yaml:"config,omitempty" json:"config,omitempty"`

	// Next lists fixed successors. Empty means the node ends its path;
	// more than one forks into independent branches.
	Next Successors `yaml:"next,omitempty" json:"next,omitempty"`

	// Retry configures retries for handler-backed nodes
	Retry *RetryPolicy `yaml:"retry,omitempty" json:"retry,omitempty"`

	// Fallback is the node to route to when the node fails after retries
	Fallback string `yaml:"fallback,omitempty" json:"fallback,omitempty"`

	// Timeout bounds each attempt (0 uses the engine default)
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`

	// Decision configures the route table of decision nodes
	Decision *DecisionSpec `yaml:"decision,omitempty" json:"decision,omitempty"`

	// Branch configures branch nodes
	Branch *BranchSpec `yaml:"branch,omitempty" json:"branch,omitempty"`

	// Switch configures switch nodes
	Switch *SwitchSpec `yaml:"switch,omitempty" json:"switch,omitempty"`

	// Merge configures merge nodes (optional)
	Merge *MergeSpec `yaml:"merge,omitempty" json:"merge,omitempty"`

	// Loop configures loop nodes
	Loop *LoopSpec `yaml:"loop,omitempty" json:"loop,omitempty"`

	// Parallel configures parallel nodes
	Parallel *ParallelSpec `yaml:"parallel,omitempty" json:"parallel,omitempty"`
}

// Successors is a list of node ids that also accepts a single scalar in YAML.
type Successors []string

// UnmarshalYAML accepts both `next: ocr` and `next: [ocr, thumbnails]`.
func (s *Successors) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		var id string
		if err := value.Decode(&id); err != nil {
			return err
		}
		if id == "" {
			*s = nil
			return nil
		}
		*s = Successors{id}
		return nil
	case yaml.SequenceNode:
		var ids []string
		if err := value.Decode(&ids); err != nil {
			return err
		}
		*s = ids
		return nil
	default:
		return fmt.Errorf("line %d: next must be a node id or a list of node ids", value.Line)
	}
}

// DecisionSpec is the route table of a decision node. The handler returns a
// label from a closed vocabulary; the table maps labels to successors.
type DecisionSpec struct {
	// Labels narrows or declares the label vocabulary for this node.
	// When empty, the handler's declared vocabulary is used.
	Labels []string `yaml:"labels,omitempty" json:"labels,omitempty"`

	// Routes maps each label to its successor node
	Routes map[string]string `yaml:"routes" json:"routes"`

	// Default is the successor for vocabulary labels without a route
	Default string `yaml:"default" json:"default"`
}

// BranchSpec selects one of two successors.
type BranchSpec struct {
	// Condition is a boolean expression over the run view
	Condition string `yaml:"condition" json:"condition"`

	// Then is the successor when the condition holds
	Then string `yaml:"then" json:"then"`

	// Else is the successor otherwise
	Else string `yaml:"else" json:"else"`
}

// SwitchSpec selects one of n successors by a discrete value.
type SwitchSpec struct {
	// On is an expression producing the value to route on
	On string `yaml:"on" json:"on"`

	// Cases maps values (compared as strings) to successors
	Cases map[string]string `yaml:"cases" json:"cases"`

	// Default is the mandatory successor for unmatched values
	Default string `yaml:"default" json:"default"`
}

// MergeMode controls how a merge node combines predecessor outputs.
type MergeMode string

const (
	// MergeModeDeep unions map outputs key by key, later predecessors winning.
	MergeModeDeep MergeMode = "deep"

	// MergeModeKeyed nests each predecessor's output under its node id.
	MergeModeKeyed MergeMode = "keyed"
)

// MergeSpec configures a merge node.
type MergeSpec struct {
	// Mode is deep (default) or keyed
	Mode MergeMode `yaml:"mode,omitempty" json:"mode,omitempty"`
}

// LoopSpec runs Body once per element of Over, threading an accumulator.
type LoopSpec struct {
	// Over references the sequence to iterate. When empty the body repeats
	// until the exit condition holds or the cap is reached.
	Over string `yaml:"over,omitempty" json:"over,omitempty"`

	// Initial is the starting accumulator value
	Initial interface{} `yaml:"initial,omitempty" json:"initial,omitempty"`

	// Until is an early-exit condition evaluated after each iteration
	Until string `yaml:"until,omitempty" json:"until,omitempty"`

	// MaxIterations caps the loop (required, 1-10000)
	MaxIterations int `yaml:"max_iterations" json:"max_iterations"`

	// Body is the sub-graph run each iteration. Its output becomes the accumulator.
	Body *SubGraph `yaml:"body" json:"body"`
}

// ParallelSpec runs Body once per item of Over, concurrently.
type ParallelSpec struct {
	// Over references the sequence of items
	Over string `yaml:"over" json:"over"`

	// PartialSuccess collects successes and records failed items instead of
	// failing the node on the first unrecoverable item failure
	PartialSuccess bool `yaml:"partial_success,omitempty" json:"partial_success,omitempty"`

	// MaxConcurrency bounds concurrent sub-runs (0 uses the engine default)
	MaxConcurrency int `yaml:"max_concurrency,omitempty" json:"max_concurrency,omitempty"`

	// Body is the sub-graph run per item
	Body *SubGraph `yaml:"body" json:"body"`
}

// SubGraph is a nested graph run by loop and parallel nodes.
type SubGraph struct {
	// Entry is the first body node
	Entry string `yaml:"entry" json:"entry"`

	// Nodes are the body's nodes. They may not route outside the body.
	Nodes []NodeDefinition `yaml:"nodes" json:"nodes"`

	// Output references the value a sub-run produces. Defaults to the
	// output of the last node the sub-run concluded.
	Output string `yaml:"output,omitempty" json:"output,omitempty"`

	graph *Graph
}

// Graph returns the validated body graph.
func (s *SubGraph) Graph() *Graph {
	return s.graph
}

// BackoffKind selects the retry delay curve.
type BackoffKind string

const (
	// BackoffFixed waits InitialDelay between attempts.
	BackoffFixed BackoffKind = "fixed"

	// BackoffExponential multiplies the delay after every attempt.
	BackoffExponential BackoffKind = "exponential"
)

// RetryPolicy configures retries for a handler-backed node.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// Backoff is fixed or exponential (default)
	Backoff BackoffKind `yaml:"backoff,omitempty" json:"backoff,omitempty"`

	// InitialDelay is the wait before the second attempt
	InitialDelay time.Duration `yaml:"initial_delay,omitempty" json:"initial_delay,omitempty"`

	// MaxDelay caps any single wait
	MaxDelay time.Duration `yaml:"max_delay,omitempty" json:"max_delay,omitempty"`

	// Multiplier grows exponential delays
	Multiplier float64 `yaml:"multiplier,omitempty" json:"multiplier,omitempty"`

	// Jitter randomizes each delay between zero and its computed value
	Jitter bool `yaml:"jitter,omitempty" json:"jitter,omitempty"`
}

// Default values for retry configuration.
const (
	// DefaultRetryMaxAttempts is the default number of attempts when a retry block is present.
	DefaultRetryMaxAttempts = 2

	// DefaultRetryInitialDelay is the default wait before the second attempt.
	DefaultRetryInitialDelay = time.Second

	// DefaultRetryMaxDelay caps exponential growth.
	DefaultRetryMaxDelay = 30 * time.Second

	// DefaultRetryMultiplier is the exponential backoff multiplier.
	DefaultRetryMultiplier = 2.0

	// MaxLoopIterations is the highest cap a loop may declare.
	MaxLoopIterations = 10000
)

// ParseDefinition parses a workflow definition from YAML, applies defaults
// and validates it. Unknown fields are rejected.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("failed to parse workflow definition: document is empty")
		}
		return nil, fmt.Errorf("failed to parse workflow definition: %w", err)
	}

	def.ApplyDefaults()

	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow definition: %w", err)
	}

	return &def, nil
}

// ApplyDefaults fills in optional fields. It is idempotent.
func (d *Definition) ApplyDefaults() {
	if d.Version == 0 {
		d.Version = 1
	}
	applyNodeDefaults(d.Nodes)
}

func applyNodeDefaults(nodes []NodeDefinition) {
	for i := range nodes {
		node := &nodes[i]

		if node.Retry != nil {
			r := node.Retry
			if r.MaxAttempts == 0 {
				r.MaxAttempts = DefaultRetryMaxAttempts
			}
			if r.Backoff == "" {
				r.Backoff = BackoffExponential
			}
			if r.InitialDelay == 0 {
				r.InitialDelay = DefaultRetryInitialDelay
			}
			if r.MaxDelay == 0 {
				r.MaxDelay = DefaultRetryMaxDelay
			}
			if r.Multiplier == 0 {
				r.Multiplier = DefaultRetryMultiplier
			}
		}

		if node.Type == NodeTypeMerge {
			if node.Merge == nil {
				node.Merge = &MergeSpec{}
			}
			if node.Merge.Mode == "" {
				node.Merge.Mode = MergeModeDeep
			}
		}

		if node.Decision != nil {
			node.Decision.normalize()
		}

		if node.Loop != nil && node.Loop.Body != nil {
			applyNodeDefaults(node.Loop.Body.Nodes)
		}
		if node.Parallel != nil && node.Parallel.Body != nil {
			applyNodeDefaults(node.Parallel.Body.Nodes)
		}
	}
}

// normalize folds labels and route keys so matching is case-insensitive.
func (s *DecisionSpec) normalize() {
	for i, label := range s.Labels {
		s.Labels[i] = NormalizeLabel(label)
	}
	if len(s.Routes) == 0 {
		return
	}
	routes := make(map[string]string, len(s.Routes))
	for label, target := range s.Routes {
		routes[NormalizeLabel(label)] = target
	}
	s.Routes = routes
}

// Node returns the node with the given id anywhere in the definition,
// including loop and parallel bodies.
func (d *Definition) Node(id string) (*NodeDefinition, bool) {
	return findNode(d.Nodes, id)
}

func findNode(nodes []NodeDefinition, id string) (*NodeDefinition, bool) {
	for i := range nodes {
		node := &nodes[i]
		if node.ID == id {
			return node, true
		}
		if body := node.Body(); body != nil {
			if found, ok := findNode(body.Nodes, id); ok {
				return found, true
			}
		}
	}
	return nil, false
}

// Walk calls fn for every node in the definition, bodies included,
// in declaration order. Walking stops at the first error.
func (d *Definition) Walk(fn func(node *NodeDefinition) error) error {
	return walkNodes(d.Nodes, fn)
}

func walkNodes(nodes []NodeDefinition, fn func(node *NodeDefinition) error) error {
	for i := range nodes {
		if err := fn(&nodes[i]); err != nil {
			return err
		}
		if body := nodes[i].Body(); body != nil {
			if err := walkNodes(body.Nodes, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// Body returns the sub-graph of a loop or parallel node, or nil.
func (n *NodeDefinition) Body() *SubGraph {
	switch {
	case n.Loop != nil:
		return n.Loop.Body
	case n.Parallel != nil:
		return n.Parallel.Body
	}
	return nil
}

// Graph returns the validated top-level graph. It is nil until Validate succeeds.
func (d *Definition) Graph() *Graph {
	return d.graph
}

// Key returns the "id@version" string identifying this definition.
func (d *Definition) Key() string {
	return fmt.Sprintf("%s@%d", d.ID, d.Version)
}
