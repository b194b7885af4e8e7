// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package tracing

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/folio/pkg/engine"
	"github.com/tombee/folio/pkg/execution"
)

// Span attribute keys.
const (
	AttrRunID           = attribute.Key("folio.run.id")
	AttrRunStatus       = attribute.Key("folio.run.status")
	AttrRunResumed      = attribute.Key("folio.run.resumed")
	AttrWorkflowID      = attribute.Key("folio.workflow.id")
	AttrWorkflowVersion = attribute.Key("folio.workflow.version")
	AttrNodeID          = attribute.Key("folio.node.id")
	AttrNodeType        = attribute.Key("folio.node.type")
	AttrNodeScope       = attribute.Key("folio.node.scope")
	AttrHandler         = attribute.Key("folio.handler")
	AttrAttempt         = attribute.Key("folio.attempt")
	AttrLabel           = attribute.Key("folio.label")
	AttrErrorClass      = attribute.Key("folio.error.class")
)

type runSpanKey struct{}

type nodeSpanKey struct{}

type nodeSpan struct {
	node string
	span trace.Span
}

// Observer turns engine lifecycle callbacks into spans and metrics.
type Observer struct {
	tracer  trace.Tracer
	metrics *Metrics

	mu        sync.Mutex
	workflows map[string]string // run id -> workflow id
}

var _ engine.Observer = (*Observer)(nil)

// NewObserver creates an observer. metrics may be nil.
func NewObserver(tracer trace.Tracer, metrics *Metrics) *Observer {
	return &Observer{
		tracer:    tracer,
		metrics:   metrics,
		workflows: make(map[string]string),
	}
}

// RunStarted opens the run span.
func (o *Observer) RunStarted(ctx context.Context, st *execution.State) context.Context {
	o.mu.Lock()
	o.workflows[st.RunID] = st.WorkflowID
	o.mu.Unlock()
	if o.metrics != nil {
		o.metrics.RunStarted(st.RunID)
	}

	ctx, span := o.tracer.Start(ctx, "run "+st.WorkflowID,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrRunID.String(st.RunID),
			AttrWorkflowID.String(st.WorkflowID),
			AttrWorkflowVersion.Int(st.WorkflowVersion),
			AttrRunResumed.Bool(len(st.Records) > 0),
			attribute.Bool("error", len(st.Errors) > 0),
		),
	)
	return context.WithValue(ctx, runSpanKey{}, span)
}

// NodeStarted opens a span for one node attempt under the run span.
func (o *Observer) NodeStarted(ctx context.Context, runID string, node string, attempt int) context.Context {
	ctx, span := o.tracer.Start(ctx, "node "+node,
		trace.WithAttributes(
			AttrRunID.String(runID),
			AttrNodeID.String(node),
			AttrAttempt.Int(attempt),
		),
	)
	return context.WithValue(ctx, nodeSpanKey{}, nodeSpan{node: node, span: span})
}

// NodeFinished closes the attempt's span and counts it.
func (o *Observer) NodeFinished(ctx context.Context, runID string, rec execution.Record) {
	if o.metrics != nil {
		o.metrics.NodeFinished(ctx, o.workflowOf(runID), rec)
	}

	ns, ok := ctx.Value(nodeSpanKey{}).(nodeSpan)
	if !ok || ns.node != rec.NodeID {
		return
	}
	ns.span.SetAttributes(
		AttrNodeType.String(string(rec.NodeType)),
		AttrNodeScope.String(rec.Scope),
	)
	if rec.Handler != "" {
		ns.span.SetAttributes(AttrHandler.String(rec.Handler))
	}
	if rec.Label != "" {
		ns.span.SetAttributes(AttrLabel.String(rec.Label))
	}
	if rec.Error != nil {
		ns.span.SetAttributes(AttrErrorClass.String(string(rec.Error.Class)))
		ns.span.SetStatus(codes.Error, rec.Error.Message)
	} else {
		ns.span.SetStatus(codes.Ok, "")
	}
	ns.span.End()
}

// RunFinished closes the run span. A run that suspended keeps status
// running and is reported as such.
func (o *Observer) RunFinished(ctx context.Context, st *execution.State) {
	o.mu.Lock()
	delete(o.workflows, st.RunID)
	o.mu.Unlock()

	if o.metrics != nil {
		if st.Status.IsTerminal() {
			o.metrics.RunFinished(ctx, st)
		} else {
			o.metrics.RunSuspended(st.RunID)
		}
	}

	span, ok := ctx.Value(runSpanKey{}).(trace.Span)
	if !ok {
		return
	}
	span.SetAttributes(AttrRunStatus.String(string(st.Status)))
	switch st.Status {
	case execution.StatusFailed:
		msg := "run failed"
		if last := st.LastError(); last != nil {
			msg = last.Message
			span.SetAttributes(AttrErrorClass.String(string(last.Class)))
		}
		span.SetStatus(codes.Error, msg)
	case execution.StatusSucceeded:
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (o *Observer) workflowOf(runID string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.workflows[runID]
}
