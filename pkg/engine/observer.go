package engine

import (
	"context"

	"github.com/tombee/folio/pkg/execution"
)

// Observer receives run lifecycle callbacks. The engine calls an observer
// from the run's control loop, and from sub-run goroutines for nodes inside
// parallel bodies, so implementations must be safe for concurrent use.
//
// The context returned by RunStarted and NodeStarted is passed to the
// matching finish callback and to the handler, which lets tracing
// observers parent spans. RunFinished is also called when a run suspends;
// its status is then still running.
type Observer interface {
	RunStarted(ctx context.Context, st *execution.State) context.Context
	NodeStarted(ctx context.Context, runID string, node string, attempt int) context.Context
	NodeFinished(ctx context.Context, runID string, rec execution.Record)
	RunFinished(ctx context.Context, st *execution.State)
}

// NopObserver ignores every callback.
type NopObserver struct{}

func (NopObserver) RunStarted(ctx context.Context, _ *execution.State) context.Context { return ctx }
func (NopObserver) NodeStarted(ctx context.Context, _ string, _ string, _ int) context.Context {
	return ctx
}
func (NopObserver) NodeFinished(context.Context, string, execution.Record) {}
func (NopObserver) RunFinished(context.Context, *execution.State) {}

// MultiObserver fans callbacks out to several observers in order.
type MultiObserver []Observer

func (m MultiObserver) RunStarted(ctx context.Context, st *execution.State) context.Context {
	for _, o := range m {
		ctx = o.RunStarted(ctx, st)
	}
	return ctx
}

func (m MultiObserver) NodeStarted(ctx context.Context, runID string, node string, attempt int) context.Context {
	for _, o := range m {
		ctx = o.NodeStarted(ctx, runID, node, attempt)
	}
	return ctx
}

func (m MultiObserver) NodeFinished(ctx context.Context, runID string, rec execution.Record) {
	for _, o := range m {
		o.NodeFinished(ctx, runID, rec)
	}
}

func (m MultiObserver) RunFinished(ctx context.Context, st *execution.State) {
	for _, o := range m {
		o.RunFinished(ctx, st)
	}
}
