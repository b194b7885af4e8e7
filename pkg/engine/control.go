package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"dario.cat/mergo"

	"github.com/tombee/folio/pkg/errors"
	"github.com/tombee/folio/pkg/execution"
	"github.com/tombee/folio/pkg/workflow"
)

// Loop termination reasons reported in the loop node's output.
const (
	TerminatedExhausted     = "exhausted"
	TerminatedUntil         = "until"
	TerminatedMaxIterations = "max_iterations"
)

// runMerge joins the paths that reached the node. The tracker only makes a
// merge ready once every live predecessor has concluded.
func (e *Engine) runMerge(ctx context.Context, g *graphRun, node *workflow.NodeDefinition) error {
	ctx = e.observer.NodeStarted(ctx, g.r.id, node.ID, 1)
	rec := e.control(node)

	mode := workflow.MergeModeDeep
	if node.Merge != nil && node.Merge.Mode != "" {
		mode = node.Merge.Mode
	}

	preds := g.tracker.ActivePredecessors(node.ID)
	merged := make(map[string]interface{})
	for _, pred := range preds {
		out, ok := g.view.NodeOutput(pred)
		if !ok {
			// a fallback edge: the predecessor failed and has no output
			continue
		}
		if mode == workflow.MergeModeKeyed {
			merged[pred] = out
			continue
		}
		m, isMap := out.(map[string]interface{})
		if !isMap {
			merged[pred] = out
			continue
		}
		// merge a copy; mergo writes into nested maps in place
		src, err := execution.Normalize(m)
		if err != nil {
			return e.fail(ctx, g, node, rec, &errors.FatalEngineError{RunID: g.r.id, NodeID: node.ID, Message: "merge", Cause: err})
		}
		if err := mergo.Merge(&merged, src.(map[string]interface{}), mergo.WithOverride, mergo.WithAppendSlice); err != nil {
			return e.fail(ctx, g, node, rec, &errors.PermanentError{NodeID: node.ID, Message: fmt.Sprintf("merging output of %s", pred), Cause: err})
		}
	}
	return e.succeed(ctx, g, rec, merged, []string(node.Next))
}

// subRun creates the graph run for one loop iteration or parallel item.
func (e *Engine) subRun(g *graphRun, body *workflow.SubGraph, scope string, local map[string]interface{}) *graphRun {
	if g.scope != "" {
		scope = g.scope + "/" + scope
	}
	return &graphRun{
		r:       g.r,
		scope:   scope,
		graph:   body.Graph(),
		view:    g.view.Child(local),
		tracker: execution.NewTracker(body.Graph()),
		buffer:  &[]execution.Record{},
	}
}

// runBody drives a sub-run and returns its output.
func (e *Engine) runBody(ctx context.Context, sub *graphRun, body *workflow.SubGraph) (interface{}, error) {
	if err := e.drive(ctx, sub); err != nil {
		return nil, err
	}
	if body.Output != "" {
		ref, err := workflow.ParseReference(body.Output)
		if err != nil {
			return nil, &errors.FatalEngineError{RunID: sub.r.id, Message: "body output", Cause: err}
		}
		if ref.Root == workflow.RootNodes {
			// body outputs may name a node on a path this sub-run did not take
			if _, ran := sub.view.NodeOutput(ref.Name); !ran {
				return nil, nil
			}
		}
		return ref.Resolve(sub.view)
	}
	if sub.last == "" {
		return nil, nil
	}
	out, _ := sub.view.NodeOutput(sub.last)
	return out, nil
}

// sequence resolves the items a loop or parallel node iterates over.
// A null value is an empty sequence.
func sequence(nodeID, over string, view *execution.View) ([]interface{}, error) {
	ref, err := workflow.ParseReference(over)
	if err != nil {
		return nil, &errors.FatalEngineError{NodeID: nodeID, Message: "over", Cause: err}
	}
	v, err := ref.Resolve(view)
	if err != nil {
		return nil, err
	}
	switch items := v.(type) {
	case nil:
		return []interface{}{}, nil
	case []interface{}:
		return items, nil
	default:
		return nil, &errors.PermanentError{
			NodeID:  nodeID,
			Message: fmt.Sprintf("%s is %T, not a sequence", over, v),
		}
	}
}

// runLoop runs the body once per element, sequentially, threading the
// accumulator. Without a sequence the body repeats until the exit
// condition holds. Either way the iteration cap bounds the loop.
func (e *Engine) runLoop(ctx context.Context, g *graphRun, node *workflow.NodeDefinition) error {
	ctx = e.observer.NodeStarted(ctx, g.r.id, node.ID, 1)
	rec := e.control(node)
	spec := node.Loop

	var items []interface{}
	total := spec.MaxIterations
	if spec.Over != "" {
		var err error
		if items, err = sequence(node.ID, spec.Over, g.view); err != nil {
			return e.fail(ctx, g, node, rec, err)
		}
		total = len(items)
	}
	limit := total
	if limit > spec.MaxIterations {
		limit = spec.MaxIterations
	}

	acc, err := execution.Normalize(spec.Initial)
	if err != nil {
		return e.fail(ctx, g, node, rec, &errors.PermanentError{NodeID: node.ID, Message: "initial accumulator", Cause: err})
	}

	terminatedBy := TerminatedExhausted
	iterations := 0
	var children []execution.Record
	for i := 0; i < limit; i++ {
		local := map[string]interface{}{
			workflow.LocalIndex:     i,
			workflow.LocalIteration: i + 1,
			workflow.LocalTotal:     total,
			workflow.LocalAcc:       acc,
		}
		if items != nil {
			local[workflow.LocalItem] = items[i]
		}
		sub := e.subRun(g, spec.Body, fmt.Sprintf("%s#%d", node.ID, i), local)
		out, err := e.runBody(ctx, sub, spec.Body)
		children = append(children, *sub.buffer...)
		if err != nil {
			if stderrors.Is(err, errSuspended) {
				return err
			}
			if fwdErr := e.forward(ctx, g, children); fwdErr != nil {
				return fwdErr
			}
			if stderrors.Is(err, errCancelled) {
				return err
			}
			return e.fail(ctx, g, node, rec, errors.Wrapf(unrecorded(err), "iteration %d", i))
		}
		acc = out
		iterations++

		if spec.Until != "" {
			local[workflow.LocalAcc] = acc
			done, err := e.eval.Evaluate(spec.Until, sub.view.ExpressionContext())
			if err != nil {
				if fwdErr := e.forward(ctx, g, children); fwdErr != nil {
					return fwdErr
				}
				return e.fail(ctx, g, node, rec, &errors.PermanentError{NodeID: node.ID, Message: "loop exit condition", Cause: err})
			}
			if done {
				terminatedBy = TerminatedUntil
				break
			}
		}
	}
	if terminatedBy != TerminatedUntil && iterations == spec.MaxIterations && (items == nil || len(items) > spec.MaxIterations) {
		terminatedBy = TerminatedMaxIterations
		e.logger.Warn("loop stopped at its iteration cap", "run_id", g.r.id, "node_id", node.ID, "max_iterations", spec.MaxIterations)
	}

	if err := e.forward(ctx, g, children); err != nil {
		return err
	}
	output := map[string]interface{}{
		"accumulator":   acc,
		"iterations":    float64(iterations),
		"terminated_by": terminatedBy,
	}
	return e.succeed(ctx, g, rec, output, []string(node.Next))
}

// itemResult is the outcome of one parallel sub-run.
type itemResult struct {
	output  interface{}
	err     error
	records []execution.Record
}

// runParallel runs the body once per item concurrently and joins them.
// Results keep item order regardless of completion order. Without
// partial_success the first failed item (by index) fails the node.
func (e *Engine) runParallel(ctx context.Context, g *graphRun, node *workflow.NodeDefinition) error {
	ctx = e.observer.NodeStarted(ctx, g.r.id, node.ID, 1)
	rec := e.control(node)
	spec := node.Parallel

	items, err := sequence(node.ID, spec.Over, g.view)
	if err != nil {
		return e.fail(ctx, g, node, rec, err)
	}

	limit := spec.MaxConcurrency
	if limit <= 0 {
		limit = e.parallelism
	}
	sem := make(chan struct{}, limit)

	e.logger.Debug("starting parallel execution",
		"run_id", g.r.id, "node_id", node.ID, "items", len(items), "max_concurrency", limit)

	results := make([]itemResult, len(items))
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(i int, item interface{}) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				results[i] = itemResult{err: errSuspended}
				return
			}
			defer func() { <-sem }()

			local := map[string]interface{}{
				workflow.LocalItem:  item,
				workflow.LocalIndex: i,
				workflow.LocalTotal: len(items),
			}
			sub := e.subRun(g, spec.Body, fmt.Sprintf("%s[%d]", node.ID, i), local)
			out, err := e.runBody(ctx, sub, spec.Body)
			results[i] = itemResult{output: out, err: err, records: *sub.buffer}
		}(i, item)
	}
	wg.Wait()

	var children []execution.Record
	for i := range results {
		if stderrors.Is(results[i].err, errSuspended) {
			return errSuspended
		}
		children = append(children, results[i].records...)
	}
	if err := e.forward(ctx, g, children); err != nil {
		return err
	}

	entries := make([]interface{}, len(results))
	succeeded, failed := 0, 0
	var firstErr, fatalErr error
	cancelled := false
	for i, res := range results {
		entry := map[string]interface{}{"index": float64(i)}
		switch {
		case res.err == nil:
			succeeded++
			entry["status"] = "succeeded"
			entry["output"] = res.output
		case stderrors.Is(res.err, errCancelled):
			cancelled = true
			entry["status"] = "cancelled"
		default:
			failed++
			err := errors.Wrapf(unrecorded(res.err), "item %d", i)
			entry["status"] = "failed"
			entry["error"] = map[string]interface{}{
				"class":   string(errors.Classify(err)),
				"message": err.Error(),
			}
			if firstErr == nil {
				firstErr = err
			}
			if class := errors.Classify(err); fatalErr == nil && !class.Recoverable() {
				fatalErr = err
			}
		}
		entries[i] = entry
	}
	if cancelled {
		return errCancelled
	}

	e.logger.Debug("parallel execution joined",
		"run_id", g.r.id, "node_id", node.ID, "succeeded", succeeded, "failed", failed)

	switch {
	case fatalErr != nil:
		return e.fail(ctx, g, node, rec, fatalErr)
	case firstErr != nil && !spec.PartialSuccess:
		return e.fail(ctx, g, node, rec, firstErr)
	}
	output := map[string]interface{}{
		"results":   entries,
		"succeeded": float64(succeeded),
		"failed":    float64(failed),
	}
	return e.succeed(ctx, g, rec, output, []string(node.Next))
}

// unrecorded strips the marker that a failure's record is already logged,
// so the enclosing node records its own failure.
func unrecorded(err error) error {
	var recorded *recordedError
	if stderrors.As(err, &recorded) {
		return recorded.err
	}
	return err
}
