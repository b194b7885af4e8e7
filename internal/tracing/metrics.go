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
	"go.opentelemetry.io/otel/metric"

	"github.com/tombee/folio/pkg/execution"
)

// Node attempt outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeRetried   = "retried"
	OutcomeFailed    = "failed"
)

// Metrics records run and node metrics.
type Metrics struct {
	// Counters
	runsTotal  metric.Int64Counter
	nodesTotal metric.Int64Counter

	// Histograms
	runDuration  metric.Float64Histogram
	nodeDuration metric.Float64Histogram

	// Gauges (using observable gauges)
	activeRuns   map[string]bool
	activeRunsMu sync.RWMutex
}

// NewMetrics creates the instruments on the given meter provider.
func NewMetrics(meterProvider metric.MeterProvider) (*Metrics, error) {
	meter := meterProvider.Meter("folio")

	m := &Metrics{
		activeRuns: make(map[string]bool),
	}

	var err error

	m.runsTotal, err = meter.Int64Counter(
		"folio_runs_total",
		metric.WithDescription("Total number of runs that reached a terminal status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	m.nodesTotal, err = meter.Int64Counter(
		"folio_node_attempts_total",
		metric.WithDescription("Total number of node attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	m.runDuration, err = meter.Float64Histogram(
		"folio_run_duration_seconds",
		metric.WithDescription("Run duration from creation to terminal status"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.nodeDuration, err = meter.Float64Histogram(
		"folio_node_duration_seconds",
		metric.WithDescription("Node attempt duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	_, err = meter.Int64ObservableGauge(
		"folio_active_runs",
		metric.WithDescription("Number of runs currently executing"),
		metric.WithUnit("{run}"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			m.activeRunsMu.RLock()
			count := len(m.activeRuns)
			m.activeRunsMu.RUnlock()
			observer.Observe(int64(count))
			return nil
		}),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RunStarted marks a run as executing.
func (m *Metrics) RunStarted(runID string) {
	m.activeRunsMu.Lock()
	m.activeRuns[runID] = true
	m.activeRunsMu.Unlock()
}

// RunFinished counts a terminal run and records its duration.
func (m *Metrics) RunFinished(ctx context.Context, st *execution.State) {
	m.activeRunsMu.Lock()
	delete(m.activeRuns, st.RunID)
	m.activeRunsMu.Unlock()

	attrs := metric.WithAttributes(
		attribute.String("workflow", st.WorkflowID),
		attribute.String("status", string(st.Status)),
	)
	m.runsTotal.Add(ctx, 1, attrs)
	if st.CompletedAt != nil {
		m.runDuration.Record(ctx, st.CompletedAt.Sub(st.CreatedAt).Seconds(), attrs)
	}
}

// RunSuspended forgets a run that stopped without a terminal status.
func (m *Metrics) RunSuspended(runID string) {
	m.activeRunsMu.Lock()
	delete(m.activeRuns, runID)
	m.activeRunsMu.Unlock()
}

// NodeFinished counts a node attempt.
func (m *Metrics) NodeFinished(ctx context.Context, workflowID string, rec execution.Record) {
	attrs := metric.WithAttributes(
		attribute.String("workflow", workflowID),
		attribute.String("node_type", string(rec.NodeType)),
		attribute.String("handler", rec.Handler),
		attribute.String("outcome", outcome(rec)),
	)
	m.nodesTotal.Add(ctx, 1, attrs)
	if rec.Duration > 0 {
		m.nodeDuration.Record(ctx, rec.Duration.Seconds(), attrs)
	}
}

// ActiveRuns returns the number of runs currently executing.
func (m *Metrics) ActiveRuns() int {
	m.activeRunsMu.RLock()
	defer m.activeRunsMu.RUnlock()
	return len(m.activeRuns)
}

func outcome(rec execution.Record) string {
	switch {
	case rec.Succeeded():
		return OutcomeSucceeded
	case !rec.Final:
		return OutcomeRetried
	default:
		return OutcomeFailed
	}
}
