// Package engine runs workflow definitions.
//
// Each run is driven by a single control loop that repeatedly derives the
// frontier from the execution log, resolves the next node's inputs from the
// current view, invokes it through the retry manager and appends the
// resulting invocation record. Concurrency exists only inside parallel
// nodes, whose sub-runs execute concurrently and are joined before the
// parent node concludes. State is persisted after every appended record so
// a run interrupted at any point between records can be resumed.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/folio/pkg/errors"
	"github.com/tombee/folio/pkg/execution"
	"github.com/tombee/folio/pkg/handler"
	"github.com/tombee/folio/pkg/workflow"
	"github.com/tombee/folio/pkg/workflow/expression"
)

// DefaultParallelConcurrency is the default maximum number of concurrent
// sub-runs per parallel node. It can be overridden with
// WithParallelConcurrency or per node with max_concurrency.
const DefaultParallelConcurrency = 4

// subscriberBuffer is the per-subscriber record buffer.
const subscriberBuffer = 256

// RunStatus is the observable status of a run.
type RunStatus struct {
	RunID       string                 `json:"run_id"`
	WorkflowID  string                 `json:"workflow_id"`
	Version     int                    `json:"version"`
	Status      execution.Status       `json:"status"`
	Frontier    []string               `json:"frontier"`
	LastError   *execution.ErrorRecord `json:"last_error,omitempty"`
	Records     int                    `json:"records"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

func statusOf(st *execution.State) *RunStatus {
	return &RunStatus{
		RunID:       st.RunID,
		WorkflowID:  st.WorkflowID,
		Version:     st.WorkflowVersion,
		Status:      st.Status,
		Frontier:    append([]string{}, st.Frontier...),
		LastError:   st.LastError(),
		Records:     len(st.Records),
		CreatedAt:   st.CreatedAt,
		UpdatedAt:   st.UpdatedAt,
		CompletedAt: st.CompletedAt,
	}
}

// Engine executes workflow runs. It is safe for concurrent use; independent
// runs share nothing but the read-only handler registry and definitions.
type Engine struct {
	registry *handler.Registry
	defs     workflow.Source
	store    Persister

	logger      *slog.Logger
	observer    Observer
	eval        *expression.Evaluator
	parallelism int
	nodeTimeout time.Duration
	now         func() time.Time

	// base is the parent context of asynchronous runs; Shutdown cancels it
	base context.Context
	stop context.CancelFunc

	mu     sync.Mutex
	active map[string]*run
	bound  map[string]bool
	wg     sync.WaitGroup
}

// New creates an engine. The registry should be frozen before runs start.
func New(registry *handler.Registry, defs workflow.Source, store Persister) *Engine {
	base, stop := context.WithCancel(context.Background())
	return &Engine{
		registry:    registry,
		defs:        defs,
		store:       store,
		logger:      slog.Default(),
		observer:    NopObserver{},
		eval:        expression.New(),
		parallelism: DefaultParallelConcurrency,
		now:         time.Now,
		base:        base,
		stop:        stop,
		active:      make(map[string]*run),
		bound:       make(map[string]bool),
	}
}

// WithLogger sets a custom logger for the engine.
func (e *Engine) WithLogger(logger *slog.Logger) *Engine {
	e.logger = logger
	return e
}

// WithObserver sets the lifecycle observer.
func (e *Engine) WithObserver(o Observer) *Engine {
	if o == nil {
		o = NopObserver{}
	}
	e.observer = o
	return e
}

// WithParallelConcurrency sets the default maximum number of concurrent
// sub-runs of a parallel node.
func (e *Engine) WithParallelConcurrency(max int) *Engine {
	if max <= 0 {
		max = DefaultParallelConcurrency
	}
	e.parallelism = max
	return e
}

// WithNodeTimeout sets the per-attempt timeout for nodes that declare none.
// Zero means no timeout.
func (e *Engine) WithNodeTimeout(d time.Duration) *Engine {
	e.nodeTimeout = d
	return e
}

// WithClock overrides the engine's time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) check() error {
	switch {
	case e.registry == nil:
		return &errors.ConfigError{Key: "engine.registry", Reason: "a handler registry is required"}
	case e.defs == nil:
		return &errors.ConfigError{Key: "engine.workflows", Reason: "a workflow source is required"}
	case e.store == nil:
		return &errors.ConfigError{Key: "engine.store", Reason: "a persister is required"}
	}
	return nil
}

// resolve looks up a workflow by "id" (latest version) or "id@version".
func (e *Engine) resolve(ctx context.Context, ref string) (*workflow.Definition, error) {
	id, version, pinned := strings.Cut(ref, "@")
	if !pinned {
		return e.defs.Latest(ctx, id)
	}
	v, err := strconv.Atoi(version)
	if err != nil || v < 1 {
		return nil, &errors.ValidationError{
			Field:   "workflow",
			Message: fmt.Sprintf("invalid workflow version in %q", ref),
		}
	}
	return e.defs.Get(ctx, id, v)
}

// bind checks a definition against the registry once per id and version.
func (e *Engine) bind(def *workflow.Definition) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.bound[def.Key()] {
		return nil
	}
	if err := e.registry.Bind(def); err != nil {
		return errors.Wrapf(err, "workflow %s", def.Key())
	}
	e.bound[def.Key()] = true
	return nil
}

// prepare creates and persists the state of a new run.
func (e *Engine) prepare(ctx context.Context, workflowRef string, payload interface{}) (*run, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	def, err := e.resolve(ctx, workflowRef)
	if err != nil {
		return nil, err
	}
	if err := e.bind(def); err != nil {
		return nil, err
	}
	trigger, err := execution.Normalize(payload)
	if err != nil {
		return nil, &errors.ValidationError{Field: "trigger", Message: err.Error()}
	}

	st := execution.NewState(uuid.NewString(), def, trigger, e.now())
	if err := e.save(ctx, st); err != nil {
		return nil, err
	}
	return newRun(def, st), nil
}

// StartRun creates a run and executes it in the background. The workflow is
// named by id (latest version) or "id@version". The run is bound to that
// version for its whole lifetime.
func (e *Engine) StartRun(ctx context.Context, workflowRef string, payload interface{}) (string, error) {
	if err := e.base.Err(); err != nil {
		return "", errors.Wrap(err, "engine is shutting down")
	}
	r, err := e.prepare(ctx, workflowRef, payload)
	if err != nil {
		return "", err
	}
	if err := e.launch(r); err != nil {
		return "", err
	}
	return r.id, nil
}

// Run creates a run and executes it to completion on the caller's goroutine.
// Cancelling ctx suspends the run; it can be resumed later.
func (e *Engine) Run(ctx context.Context, workflowRef string, payload interface{}) (*RunStatus, error) {
	r, err := e.prepare(ctx, workflowRef, payload)
	if err != nil {
		return nil, err
	}
	if err := e.register(r); err != nil {
		return nil, err
	}
	e.execute(ctx, r)
	return r.status(), nil
}

// Resume continues a suspended run in the background. The frontier is
// re-derived from the persisted log.
func (e *Engine) Resume(ctx context.Context, runID string) error {
	r, err := e.reload(ctx, runID)
	if err != nil {
		return err
	}
	return e.launch(r)
}

func (e *Engine) reload(ctx context.Context, runID string) (*run, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	if e.isActive(runID) {
		return nil, &errors.ValidationError{
			Field:   "run_id",
			Message: fmt.Sprintf("run %s is already executing", runID),
		}
	}
	snap, err := e.store.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	st := snap.State
	if st.Status.IsTerminal() {
		return nil, &errors.ValidationError{
			Field:   "run_id",
			Message: fmt.Sprintf("run %s is already %s", runID, st.Status),
		}
	}
	def, err := e.defs.Get(ctx, st.WorkflowID, st.WorkflowVersion)
	if err != nil {
		return nil, errors.Wrapf(err, "resume run %s", runID)
	}
	if err := e.bind(def); err != nil {
		return nil, err
	}
	return newRun(def, st), nil
}

// ResumeInterrupted resumes every non-terminal run the persister knows of.
// It is called at startup to pick up runs suspended by a restart.
func (e *Engine) ResumeInterrupted(ctx context.Context) (int, error) {
	lister, ok := e.store.(Lister)
	if !ok {
		return 0, nil
	}
	runs, err := lister.List(ctx)
	if err != nil {
		return 0, err
	}
	resumed := 0
	for _, s := range runs {
		if s.Status.IsTerminal() || e.isActive(s.RunID) {
			continue
		}
		if err := e.Resume(ctx, s.RunID); err != nil {
			e.logger.Warn("failed to resume interrupted run", "run_id", s.RunID, "error", err)
			continue
		}
		resumed++
	}
	return resumed, nil
}

func (e *Engine) register(r *run) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.active[r.id]; ok {
		return &errors.ValidationError{
			Field:   "run_id",
			Message: fmt.Sprintf("run %s is already executing", r.id),
		}
	}
	e.active[r.id] = r
	return nil
}

func (e *Engine) launch(r *run) error {
	if err := e.base.Err(); err != nil {
		return errors.Wrap(err, "engine is shutting down")
	}
	if err := e.register(r); err != nil {
		return err
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.execute(e.base, r)
	}()
	return nil
}

func (e *Engine) forget(r *run) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active[r.id] == r {
		delete(e.active, r.id)
	}
}

func (e *Engine) lookup(runID string) *run {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active[runID]
}

func (e *Engine) isActive(runID string) bool {
	return e.lookup(runID) != nil
}

// Cancel requests cancellation of a run. Cancellation is cooperative: an
// in-flight handler invocation finishes (or times out) first, then the run
// becomes cancelled and no further nodes start. Side effects already applied
// are not rolled back. Cancelling a suspended run marks it cancelled.
func (e *Engine) Cancel(ctx context.Context, runID string) error {
	if r := e.lookup(runID); r != nil {
		r.requestCancel()
		e.logger.Info("run cancellation requested", "run_id", runID)

		// persisted so a run reloaded after a crash stops at its first boundary
		r.mu.Lock()
		defer r.mu.Unlock()
		if r.state.Status.IsTerminal() || r.state.CancelRequested {
			return nil
		}
		r.state.CancelRequested = true
		return e.save(ctx, r.state)
	}

	snap, err := e.store.Load(ctx, runID)
	if err != nil {
		return err
	}
	st := snap.State
	switch st.Status {
	case execution.StatusCancelled:
		return nil
	case execution.StatusSucceeded, execution.StatusFailed:
		return &errors.ValidationError{
			Field:   "run_id",
			Message: fmt.Sprintf("run %s is already %s", runID, st.Status),
		}
	}
	st.CancelRequested = true
	st.Finish(execution.StatusCancelled, e.now())
	e.logger.Info("suspended run cancelled", "run_id", runID)
	return e.save(ctx, st)
}

// Status returns the observable status of a run.
func (e *Engine) Status(ctx context.Context, runID string) (*RunStatus, error) {
	if r := e.lookup(runID); r != nil {
		return r.status(), nil
	}
	snap, err := e.store.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	return statusOf(snap.State), nil
}

// State returns a copy of a run's execution state.
func (e *Engine) State(ctx context.Context, runID string) (*execution.State, error) {
	if r := e.lookup(runID); r != nil {
		return r.snapshot(), nil
	}
	snap, err := e.store.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	return snap.State, nil
}

// Records returns a run's node invocation records in log order.
func (e *Engine) Records(ctx context.Context, runID string) ([]execution.Record, error) {
	st, err := e.State(ctx, runID)
	if err != nil {
		return nil, err
	}
	return st.Records, nil
}

// Extractions returns the outputs of every extraction node that concluded
// successfully, in log order. This feeds the review queue.
func (e *Engine) Extractions(ctx context.Context, runID string) ([]execution.Record, error) {
	records, err := e.Records(ctx, runID)
	if err != nil {
		return nil, err
	}
	out := []execution.Record{}
	for _, rec := range records {
		if rec.NodeType == workflow.NodeTypeExtraction && rec.Final && rec.Succeeded() {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Runs lists the runs known to the persister.
func (e *Engine) Runs(ctx context.Context) ([]execution.Summary, error) {
	lister, ok := e.store.(Lister)
	if !ok {
		return nil, &errors.ConfigError{Key: "store", Reason: "the configured store cannot list runs"}
	}
	return lister.List(ctx)
}

// Prune deletes terminal runs completed more than maxAge ago.
func (e *Engine) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	pruner, ok := e.store.(Pruner)
	if !ok {
		return 0, &errors.ConfigError{Key: "store", Reason: "the configured store does not support pruning"}
	}
	n, err := pruner.Prune(ctx, e.now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger.Info("pruned terminal runs", "count", n, "max_age", maxAge)
	}
	return n, nil
}

// Subscribe streams the records appended to an executing run. The channel
// is closed when the run stops. The returned function unsubscribes.
// A subscriber that falls behind loses records; Records is authoritative.
func (e *Engine) Subscribe(runID string) (<-chan execution.Record, func(), error) {
	r := e.lookup(runID)
	if r == nil {
		return nil, nil, &errors.NotFoundError{Resource: "active run", ID: runID}
	}
	ch, unsubscribe := r.subscribe()
	return ch, unsubscribe, nil
}

// Wait blocks until an executing run stops and returns its status.
func (e *Engine) Wait(ctx context.Context, runID string) (*RunStatus, error) {
	if r := e.lookup(runID); r != nil {
		select {
		case <-r.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return e.Status(ctx, runID)
}

// Shutdown suspends every background run and waits for their control loops
// to persist and exit. Suspended runs keep status running and can be
// resumed by a later engine.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.stop()
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) save(ctx context.Context, st *execution.State) error {
	snap := execution.NewSnapshot(st, e.now())
	if err := e.store.Save(context.WithoutCancel(ctx), st.RunID, snap); err != nil {
		return &errors.FatalEngineError{RunID: st.RunID, Message: "failed to persist execution state", Cause: err}
	}
	return nil
}
