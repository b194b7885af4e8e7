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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tombee/folio/internal/store/memory"
	"github.com/tombee/folio/pkg/engine"
	"github.com/tombee/folio/pkg/errors"
	"github.com/tombee/folio/pkg/execution"
	"github.com/tombee/folio/pkg/handler"
	"github.com/tombee/folio/pkg/workflow"
)

type telemetry struct {
	spans  *tracetest.SpanRecorder
	reader *sdkmetric.ManualReader
	obs    *Observer
}

func newTelemetry(t *testing.T) *telemetry {
	t.Helper()
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		_ = mp.Shutdown(context.Background())
	})

	metrics, err := NewMetrics(mp)
	require.NoError(t, err)
	return &telemetry{spans: spans, reader: reader, obs: NewObserver(tp.Tracer("test"), metrics)}
}

func (tm *telemetry) span(t *testing.T, name string) sdktrace.ReadOnlySpan {
	t.Helper()
	for _, s := range tm.spans.Ended() {
		if s.Name() == name {
			return s
		}
	}
	t.Fatalf("no ended span named %q", name)
	return nil
}

// counter sums a counter's data points whose attributes include the given
// key and value. An empty key sums every point.
func (tm *telemetry) counter(t *testing.T, name, key, value string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, tm.reader.Collect(context.Background(), &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, "%s is not an int64 sum", name)
			for _, dp := range sum.DataPoints {
				if key == "" {
					total += dp.Value
					continue
				}
				if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func TestObserver_Callbacks(t *testing.T) {
	tm := newTelemetry(t)
	ctx := context.Background()
	now := time.Now()

	st := &execution.State{RunID: "r1", WorkflowID: "standard", WorkflowVersion: 3, Status: execution.StatusRunning, CreatedAt: now}
	runCtx := tm.obs.RunStarted(ctx, st)
	assert.Equal(t, 1, tm.obs.metrics.ActiveRuns())

	nodeCtx := tm.obs.NodeStarted(runCtx, "r1", "ocr", 1)
	tm.obs.NodeFinished(nodeCtx, "r1", execution.Record{
		NodeID:   "ocr",
		NodeType: workflow.NodeTypeExtraction,
		Handler:  "ocr.tesseract",
		Attempt:  1,
		Error:    &execution.ErrorRecord{Class: errors.ClassTransient, Message: "engine busy"},
		Duration: 20 * time.Millisecond,
	})

	nodeCtx = tm.obs.NodeStarted(runCtx, "r1", "ocr", 2)
	tm.obs.NodeFinished(nodeCtx, "r1", execution.Record{
		NodeID:   "ocr",
		NodeType: workflow.NodeTypeExtraction,
		Handler:  "ocr.tesseract",
		Attempt:  2,
		Final:    true,
		Duration: 30 * time.Millisecond,
	})

	done := now.Add(time.Second)
	st.Status = execution.StatusSucceeded
	st.CompletedAt = &done
	tm.obs.RunFinished(runCtx, st)

	run := tm.span(t, "run standard")
	assert.Equal(t, codes.Ok, run.Status().Code)

	var nodes []sdktrace.ReadOnlySpan
	for _, s := range tm.spans.Ended() {
		if s.Name() == "node ocr" {
			nodes = append(nodes, s)
		}
	}
	require.Len(t, nodes, 2)
	assert.Equal(t, codes.Error, nodes[0].Status().Code)
	assert.Equal(t, "engine busy", nodes[0].Status().Description)
	assert.Equal(t, codes.Ok, nodes[1].Status().Code)
	for _, n := range nodes {
		assert.Equal(t, run.SpanContext().SpanID(), n.Parent().SpanID(), "node spans are children of the run span")
	}

	assert.Equal(t, int64(1), tm.counter(t, "folio_node_attempts_total", "outcome", OutcomeRetried))
	assert.Equal(t, int64(1), tm.counter(t, "folio_node_attempts_total", "outcome", OutcomeSucceeded))
	assert.Equal(t, int64(1), tm.counter(t, "folio_runs_total", "status", "succeeded"))
	assert.Equal(t, 0, tm.obs.metrics.ActiveRuns())
}

func TestObserver_SuspendedRun(t *testing.T) {
	tm := newTelemetry(t)
	st := &execution.State{RunID: "r2", WorkflowID: "classical", Status: execution.StatusRunning}

	ctx := tm.obs.RunStarted(context.Background(), st)
	tm.obs.RunFinished(ctx, st)

	run := tm.span(t, "run classical")
	assert.Equal(t, codes.Unset, run.Status().Code)
	assert.Equal(t, int64(0), tm.counter(t, "folio_runs_total", "", ""), "suspension is not a terminal status")
	assert.Equal(t, 0, tm.obs.metrics.ActiveRuns())
}

func TestObserver_IgnoresForeignContexts(t *testing.T) {
	tm := newTelemetry(t)
	ctx := context.Background()
	st := &execution.State{RunID: "r3", WorkflowID: "fragmentary", Status: execution.StatusFailed}

	// a finish without a matching start must not panic or end other spans
	tm.obs.NodeFinished(ctx, "r3", execution.Record{NodeID: "x", Final: true})
	tm.obs.RunFinished(ctx, st)
	assert.Empty(t, tm.spans.Ended())

	nodeCtx := tm.obs.NodeStarted(ctx, "r3", "parent", 1)
	tm.obs.NodeFinished(nodeCtx, "r3", execution.Record{NodeID: "child", Final: true})
	assert.Empty(t, tm.spans.Ended(), "a record for another node leaves the span open")
}

func TestObserver_WithEngine(t *testing.T) {
	tm := newTelemetry(t)

	reg := handler.NewRegistry()
	reg.MustRegister(handler.Descriptor{Name: "load", Category: workflow.NodeTypeInput, Idempotent: true},
		handler.Func(func(ctx context.Context, in, _ map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"text": "recto"}, nil
		}))
	reg.MustRegister(handler.Descriptor{Name: "store", Category: workflow.NodeTypeOutput, Idempotent: true},
		handler.Func(func(ctx context.Context, in, _ map[string]interface{}) (interface{}, error) {
			return in, nil
		}))
	reg.Freeze()

	def, err := workflow.ParseDefinition([]byte(`
id: traced
entry: load
nodes:
  - id: load
    type: input
    handler: load
    next: store
  - id: store
    type: output
    handler: store
    inputs:
      text: nodes.load.text
`))
	require.NoError(t, err)
	catalog := workflow.NewCatalog()
	require.NoError(t, catalog.Register(def))

	eng := engine.New(reg, catalog, memory.New()).WithObserver(tm.obs)
	status, err := eng.Run(context.Background(), "traced", map[string]interface{}{})
	require.NoError(t, err)
	require.Equal(t, execution.StatusSucceeded, status.Status)

	tm.span(t, "run traced")
	tm.span(t, "node load")
	tm.span(t, "node store")
	assert.Equal(t, int64(2), tm.counter(t, "folio_node_attempts_total", "outcome", OutcomeSucceeded))
	assert.Equal(t, int64(1), tm.counter(t, "folio_runs_total", "workflow", "traced"))
}
