package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/tombee/folio/pkg/errors"
	"github.com/tombee/folio/pkg/execution"
	"github.com/tombee/folio/pkg/handler"
	"github.com/tombee/folio/pkg/workflow"
)

// noRetry is the policy of nodes without a retry block.
var noRetry = workflow.RetryPolicy{MaxAttempts: 1}

// policyFor returns the effective retry policy. Non-idempotent handlers get
// exactly one attempt whatever the node declares.
func policyFor(node *workflow.NodeDefinition, entry *handler.Entry) workflow.RetryPolicy {
	if node.Retry == nil || !entry.Idempotent {
		return noRetry
	}
	return *node.Retry
}

// backoff returns the wait after the given failed attempt (1-based):
// initial * multiplier^(attempt-1) for exponential policies, capped at
// MaxDelay, randomized in [0, delay] when jitter is on.
func backoff(p workflow.RetryPolicy, attempt int) time.Duration {
	delay := float64(p.InitialDelay)
	if p.Backoff != workflow.BackoffFixed {
		mult := p.Multiplier
		if mult < 1 {
			mult = 1
		}
		delay *= math.Pow(mult, float64(attempt-1))
	}
	if p.MaxDelay > 0 {
		delay = math.Min(delay, float64(p.MaxDelay))
	}
	if p.Jitter {
		delay = rand.Float64() * delay
	}
	return time.Duration(int64(delay))
}

// wait sleeps between attempts. Suspension and cancellation both cut it short.
func wait(ctx context.Context, r *run, d time.Duration) error {
	if d <= 0 {
		if ctx.Err() != nil {
			return errSuspended
		}
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return errSuspended
	case <-r.cancelCh:
		return errCancelled
	}
}

// runHandler invokes a handler-backed node under its retry policy. Every
// attempt is recorded; only the last one is final.
func (e *Engine) runHandler(ctx context.Context, g *graphRun, node *workflow.NodeDefinition) error {
	entry, err := e.registry.Get(node.Handler)
	if err != nil {
		return &errors.FatalEngineError{RunID: g.r.id, NodeID: node.ID, Message: "handler is not registered", Cause: err}
	}
	policy := policyFor(node, entry)

	attempt := 1
	if g.root() {
		attempt += g.r.priorAttempts(node.ID)
	}

	for ; ; attempt++ {
		attemptCtx := e.observer.NodeStarted(ctx, g.r.id, node.ID, attempt)
		rec := execution.Record{
			NodeID:    node.ID,
			NodeType:  node.Type,
			Handler:   node.Handler,
			Attempt:   attempt,
			StartedAt: e.now(),
		}

		inputs, err := workflow.ResolveInputs(node.Inputs, g.view)
		if err != nil {
			return e.fail(attemptCtx, g, node, rec, err)
		}
		rec.Inputs = inputs

		callCtx := handler.WithInvocation(attemptCtx, handler.Invocation{
			RunID:           g.r.id,
			WorkflowID:      g.r.def.ID,
			WorkflowVersion: g.r.def.Version,
			NodeID:          node.ID,
			Scope:           g.scope,
			Attempt:         attempt,
		})
		output, err := e.invoke(callCtx, node, entry, inputs)
		if err != nil && ctx.Err() != nil {
			// interrupted, not failed; the attempt reruns on resume
			return errSuspended
		}
		rec.EndedAt = e.now()
		rec.Duration = rec.EndedAt.Sub(rec.StartedAt)

		if err == nil {
			return e.conclude(attemptCtx, g, node, entry, rec, output)
		}

		class := errors.Classify(err)
		if !class.Retryable() || attempt >= policy.MaxAttempts {
			if class.Retryable() && !entry.Idempotent && node.Retry != nil {
				e.logger.Warn("not retrying non-idempotent handler",
					"run_id", g.r.id, "node_id", node.ID, "handler", node.Handler)
			}
			return e.fail(attemptCtx, g, node, rec, err)
		}

		rec.Error = execution.NewErrorRecord(err, node.ID, g.scope, attempt, rec.EndedAt)
		if err := e.record(attemptCtx, g, rec); err != nil {
			return err
		}
		delay := backoff(policy, attempt)
		e.logger.Warn("node attempt failed, retrying",
			"run_id", g.r.id, "node_id", node.ID, "scope", g.scope,
			"attempt", attempt, "max_attempts", policy.MaxAttempts, "delay", delay, "error", err)
		if err := wait(ctx, g.r, delay); err != nil {
			return err
		}
	}
}

// invoke calls the handler once, converting panics, timeouts and
// non-serializable outputs into typed errors.
func (e *Engine) invoke(ctx context.Context, node *workflow.NodeDefinition, entry *handler.Entry, inputs map[string]interface{}) (output interface{}, err error) {
	timeout := node.Timeout
	if timeout == 0 {
		timeout = e.nodeTimeout
	}
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	func() {
		defer func() {
			if p := recover(); p != nil {
				err = &errors.PermanentError{NodeID: node.ID, Message: fmt.Sprintf("handler panicked: %v", p)}
			}
		}()
		output, err = entry.Handler.Invoke(callCtx, inputs, node.Config)
	}()

	if err != nil {
		if stderrors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &errors.TransientError{
				NodeID:  node.ID,
				Message: fmt.Sprintf("attempt timed out after %s", timeout),
				Cause:   err,
			}
		}
		return nil, err
	}

	output, err = execution.Normalize(output)
	if err != nil {
		return nil, &errors.PermanentError{NodeID: node.ID, Message: "invalid handler output", Cause: err}
	}
	return output, nil
}

// conclude records a successful attempt and picks the successors. Decision
// outputs are reduced to the chosen label.
func (e *Engine) conclude(ctx context.Context, g *graphRun, node *workflow.NodeDefinition, entry *handler.Entry, rec execution.Record, output interface{}) error {
	if node.Type != workflow.NodeTypeDecision {
		return e.succeed(ctx, g, rec, output, []string(node.Next))
	}

	label, target, err := route(node, entry, output)
	if err != nil {
		return e.fail(ctx, g, node, rec, err)
	}
	rec.Label = label
	e.logger.Debug("decision routed", "run_id", g.r.id, "node_id", node.ID, "label", label, "target", target)
	return e.succeed(ctx, g, rec, map[string]interface{}{"label": label}, []string{target})
}

// route maps a decision handler's output onto the route table. A label
// outside the node's vocabulary is a RoutingError; a vocabulary label
// without an explicit route takes the default.
func route(node *workflow.NodeDefinition, entry *handler.Entry, output interface{}) (string, string, error) {
	var label string
	switch v := output.(type) {
	case string:
		label = v
	case map[string]interface{}:
		label, _ = v["label"].(string)
	}
	label = workflow.NormalizeLabel(label)
	if label == "" {
		return "", "", &errors.RoutingError{
			NodeID:  node.ID,
			Message: fmt.Sprintf("decision handler returned no label (got %T)", output),
		}
	}

	vocabulary := handler.Vocabulary(node, entry)
	if !workflow.InVocabulary(label, vocabulary) {
		return "", "", &errors.RoutingError{
			NodeID:  node.ID,
			Label:   label,
			Message: fmt.Sprintf("label is not in the declared vocabulary %v", vocabulary),
		}
	}
	if target, ok := node.Decision.Route(label); ok {
		return label, target, nil
	}
	return label, node.Decision.Default, nil
}
