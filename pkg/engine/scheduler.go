package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"

	"github.com/oklog/ulid/v2"

	"github.com/tombee/folio/pkg/errors"
	"github.com/tombee/folio/pkg/execution"
	"github.com/tombee/folio/pkg/workflow"
)

var (
	// errSuspended stops a control loop when its context is cancelled.
	// The run stays resumable.
	errSuspended = stderrors.New("run suspended")

	// errCancelled stops a control loop after Cancel.
	errCancelled = stderrors.New("run cancelled")
)

// graphRun drives one graph: the top level of a run, or one loop
// iteration or parallel item. Only the top level writes to the run's
// state; sub-runs buffer their records until the parent node concludes.
type graphRun struct {
	r       *run
	scope   string
	graph   *workflow.Graph
	view    *execution.View
	tracker *execution.Tracker

	// last is the most recent node to conclude successfully
	last string

	// buffer holds a sub-run's records; nil at the top level
	buffer *[]execution.Record
}

func (g *graphRun) root() bool { return g.buffer == nil }

// execute drives a run until it finishes, fails, is cancelled or suspended.
func (e *Engine) execute(ctx context.Context, r *run) {
	defer close(r.done)
	defer e.forget(r)
	defer r.closeSubscribers()

	logger := e.logger.With("run_id", r.id, "workflow_id", r.def.ID, "version", r.def.Version)

	st := r.snapshot()
	tracker, err := execution.Replay(r.def.Graph(), st.Records, "")
	if err != nil {
		e.finish(ctx, r, err)
		return
	}
	g := &graphRun{
		r:       r,
		graph:   r.def.Graph(),
		view:    execution.BuildView(st.Trigger, st.Records, ""),
		tracker: tracker,
	}
	for _, rec := range st.Records {
		if rec.Scope == "" && rec.Final && rec.Succeeded() {
			g.last = rec.NodeID
		}
	}

	if len(st.Records) == 0 {
		logger.Info("run started")
	} else {
		logger.Info("run resumed", "records", len(st.Records), "frontier", tracker.Frontier())
	}

	ctx = e.observer.RunStarted(ctx, st)

	// a failure recorded before the terminal status was persisted
	if failed := failedRoot(st.Records); failed != nil {
		logger.Warn("run resumed after a recorded failure", "node_id", failed.NodeID)
		e.finish(ctx, r, &recordedError{
			nodeID: failed.NodeID,
			class:  failed.Error.Class,
			err:    errors.New(failed.Error.Message),
		})
		return
	}
	err = e.drive(ctx, g)
	if stderrors.Is(err, errSuspended) {
		// a control node may have been interrupted mid-flight; the log
		// still reflects the last appended record
		r.mu.Lock()
		r.state.Frontier = g.tracker.Frontier()
		saveErr := e.save(ctx, r.state)
		st := r.state.Clone()
		r.mu.Unlock()
		if saveErr != nil {
			logger.Error("failed to persist suspended run", "error", saveErr)
		}
		logger.Info("run suspended")
		e.observer.RunFinished(context.WithoutCancel(ctx), st)
		return
	}
	e.finish(ctx, r, err)
}

// finish moves the run to its terminal status and persists it.
func (e *Engine) finish(ctx context.Context, r *run, err error) {
	logger := e.logger.With("run_id", r.id, "workflow_id", r.def.ID)

	r.mu.Lock()
	now := e.now()
	var recorded *recordedError
	switch {
	case err == nil:
		r.state.Finish(execution.StatusSucceeded, now)
		logger.Info("run succeeded", "records", len(r.state.Records))
	case stderrors.Is(err, errCancelled):
		r.state.CancelRequested = true
		r.state.Finish(execution.StatusCancelled, now)
		logger.Info("run cancelled", "records", len(r.state.Records))
	case stderrors.As(err, &recorded):
		// the failing record already carries the error
		r.state.Finish(execution.StatusFailed, now)
		logger.Error("run failed", "node_id", recorded.nodeID, "class", recorded.class, "error", recorded.err)
	default:
		r.state.Fail(execution.NewErrorRecord(err, "", "", 0, now), now)
		logger.Error("run failed", "class", errors.Classify(err), "error", err)
	}
	if saveErr := e.save(ctx, r.state); saveErr != nil {
		logger.Error("failed to persist terminal run state", "error", saveErr)
	}
	st := r.state.Clone()
	r.mu.Unlock()

	e.observer.RunFinished(context.WithoutCancel(ctx), st)
}

// recordedError is a node failure whose final record is already in the log.
type recordedError struct {
	nodeID string
	class  errors.Class
	err    error
}

func (e *recordedError) Error() string { return e.err.Error() }
func (e *recordedError) Unwrap() error { return e.err }

// failedRoot returns the top-level final record that failed without a
// fallback route, if any.
func failedRoot(records []execution.Record) *execution.Record {
	for i := range records {
		rec := &records[i]
		if rec.Scope == "" && rec.Final && rec.Error != nil && len(rec.Routes) == 0 {
			return rec
		}
	}
	return nil
}

// drive runs frontier nodes one at a time until none remain.
func (e *Engine) drive(ctx context.Context, g *graphRun) error {
	for {
		if ctx.Err() != nil {
			return errSuspended
		}
		if g.r.cancelRequested() {
			return errCancelled
		}
		frontier := g.tracker.Frontier()
		if len(frontier) == 0 {
			return nil
		}
		node, ok := g.graph.Node(frontier[0])
		if !ok {
			return &errors.FatalEngineError{RunID: g.r.id, NodeID: frontier[0], Message: "frontier node is missing from the graph"}
		}
		if err := e.step(ctx, g, node); err != nil {
			return err
		}
	}
}

// step executes one node through to a final record.
func (e *Engine) step(ctx context.Context, g *graphRun, node *workflow.NodeDefinition) error {
	switch node.Type {
	case workflow.NodeTypeBranch:
		return e.runBranch(ctx, g, node)
	case workflow.NodeTypeSwitch:
		return e.runSwitch(ctx, g, node)
	case workflow.NodeTypeMerge:
		return e.runMerge(ctx, g, node)
	case workflow.NodeTypeLoop:
		return e.runLoop(ctx, g, node)
	case workflow.NodeTypeParallel:
		return e.runParallel(ctx, g, node)
	default:
		return e.runHandler(ctx, g, node)
	}
}

// record stamps and appends a record. Final records conclude the node in
// the tracker and, on success, publish its output to the view.
func (e *Engine) record(ctx context.Context, g *graphRun, rec execution.Record) error {
	rec.ID = ulid.Make().String()
	rec.Scope = g.scope
	if rec.Final {
		if err := g.tracker.Conclude(rec.NodeID, rec.Routes); err != nil {
			return err
		}
		if rec.Succeeded() {
			g.view.Set(rec.NodeID, rec.Output)
			g.last = rec.NodeID
		}
	}
	e.observer.NodeFinished(ctx, g.r.id, rec)
	return e.forward(ctx, g, []execution.Record{rec})
}

// forward appends records to the graph's sink: the run log at the top
// level, the sub-run buffer otherwise.
func (e *Engine) forward(ctx context.Context, g *graphRun, recs []execution.Record) error {
	if !g.root() {
		*g.buffer = append(*g.buffer, recs...)
		return nil
	}

	r := g.r
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range recs {
		rec = r.state.Append(rec)
		if dropped := r.publish(rec); dropped > 0 {
			e.logger.Warn("record dropped for slow subscribers", "run_id", r.id, "seq", rec.Seq, "subscribers", dropped)
		}
	}
	r.state.Frontier = g.tracker.Frontier()
	return e.save(ctx, r.state)
}

// control builds the record of an engine-interpreted node.
func (e *Engine) control(node *workflow.NodeDefinition) execution.Record {
	now := e.now()
	return execution.Record{
		NodeID:    node.ID,
		NodeType:  node.Type,
		Attempt:   1,
		StartedAt: now,
		EndedAt:   now,
	}
}

func (e *Engine) succeed(ctx context.Context, g *graphRun, rec execution.Record, output interface{}, routes []string) error {
	rec.Output = output
	rec.Routes = routes
	rec.Final = true
	rec.EndedAt = e.now()
	rec.Duration = rec.EndedAt.Sub(rec.StartedAt)
	return e.record(ctx, g, rec)
}

// fail concludes a node with an error. Transient and permanent failures
// route to a declared fallback; everything else stops the graph.
func (e *Engine) fail(ctx context.Context, g *graphRun, node *workflow.NodeDefinition, rec execution.Record, err error) error {
	class := errors.Classify(err)
	rec.Final = true
	rec.EndedAt = e.now()
	rec.Duration = rec.EndedAt.Sub(rec.StartedAt)
	rec.Error = execution.NewErrorRecord(err, node.ID, g.scope, rec.Attempt, rec.EndedAt)

	if class.Recoverable() && node.Fallback != "" {
		rec.Routes = []string{node.Fallback}
		e.logger.Warn("node failed, routing to fallback",
			"run_id", g.r.id, "node_id", node.ID, "scope", g.scope,
			"attempt", rec.Attempt, "class", class, "fallback", node.Fallback, "error", err)
		return e.record(ctx, g, rec)
	}

	if recErr := e.record(ctx, g, rec); recErr != nil {
		return recErr
	}
	return &recordedError{nodeID: node.ID, class: class, err: err}
}

func (e *Engine) runBranch(ctx context.Context, g *graphRun, node *workflow.NodeDefinition) error {
	ctx = e.observer.NodeStarted(ctx, g.r.id, node.ID, 1)
	rec := e.control(node)
	ok, err := e.eval.Evaluate(node.Branch.Condition, g.view.ExpressionContext())
	if err != nil {
		return e.fail(ctx, g, node, rec, &errors.PermanentError{NodeID: node.ID, Message: "branch condition", Cause: err})
	}
	target := node.Branch.Else
	rec.Label = "else"
	if ok {
		target = node.Branch.Then
		rec.Label = "then"
	}
	return e.succeed(ctx, g, rec, ok, []string{target})
}

func (e *Engine) runSwitch(ctx context.Context, g *graphRun, node *workflow.NodeDefinition) error {
	ctx = e.observer.NodeStarted(ctx, g.r.id, node.ID, 1)
	rec := e.control(node)
	value, err := e.eval.Value(node.Switch.On, g.view.ExpressionContext())
	if err != nil {
		return e.fail(ctx, g, node, rec, &errors.PermanentError{NodeID: node.ID, Message: "switch value", Cause: err})
	}
	key := caseKey(value)
	target, ok := node.Switch.Cases[key]
	if !ok {
		target = node.Switch.Default
	}
	rec.Label = key
	return e.succeed(ctx, g, rec, value, []string{target})
}

// caseKey renders a switch value the way case keys are written in YAML.
func caseKey(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	default:
		return fmt.Sprint(val)
	}
}
