package engine_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tombee/folio/internal/store/memory"
	"github.com/tombee/folio/pkg/engine"
	"github.com/tombee/folio/pkg/execution"
	"github.com/tombee/folio/pkg/handler"
	"github.com/tombee/folio/pkg/workflow"
)

// harness wires a registry, catalog and store, and counts handler calls.
type harness struct {
	t        *testing.T
	registry *handler.Registry
	catalog  *workflow.Catalog
	store    *memory.Store

	mu    sync.Mutex
	calls map[string]int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return &harness{
		t:        t,
		registry: handler.NewRegistry(),
		catalog:  workflow.NewCatalog(),
		store:    memory.New(),
		calls:    make(map[string]int),
	}
}

func (h *harness) register(desc handler.Descriptor, fn handler.Func) {
	h.t.Helper()
	name := desc.Name
	counted := func(ctx context.Context, inputs, config map[string]interface{}) (interface{}, error) {
		h.mu.Lock()
		h.calls[name]++
		h.mu.Unlock()
		return fn(ctx, inputs, config)
	}
	require.NoError(h.t, h.registry.Register(desc, handler.Func(counted)))
}

// handle registers an idempotent handler.
func (h *harness) handle(name string, category workflow.NodeType, fn handler.Func) {
	h.t.Helper()
	h.register(handler.Descriptor{Name: name, Category: category, Idempotent: true}, fn)
}

func (h *harness) decide(name string, labels []string, fn handler.Func) {
	h.t.Helper()
	h.register(handler.Descriptor{Name: name, Category: workflow.NodeTypeDecision, Idempotent: true, Labels: labels}, fn)
}

func (h *harness) count(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[name]
}

func (h *harness) workflow(src string) *workflow.Definition {
	h.t.Helper()
	def, err := workflow.ParseDefinition([]byte(src))
	require.NoError(h.t, err)
	require.NoError(h.t, h.catalog.Register(def))
	return def
}

func (h *harness) engine() *engine.Engine {
	return engine.New(h.registry, h.catalog, h.store).
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func (h *harness) run(e *engine.Engine, workflowID string, trigger interface{}) (*engine.RunStatus, []execution.Record) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	status, err := e.Run(ctx, workflowID, trigger)
	require.NoError(h.t, err)
	records, err := e.Records(ctx, status.RunID)
	require.NoError(h.t, err)
	return status, records
}

// finals returns the final records of the top-level graph, by node id.
func finals(records []execution.Record) map[string]execution.Record {
	out := make(map[string]execution.Record)
	for _, r := range records {
		if r.Scope == "" && r.Final {
			out[r.NodeID] = r
		}
	}
	return out
}

// order returns the node ids of the top-level final records in log order.
func order(records []execution.Record) []string {
	var ids []string
	for _, r := range records {
		if r.Scope == "" && r.Final {
			ids = append(ids, r.NodeID)
		}
	}
	return ids
}

func echo(key string, value interface{}) handler.Func {
	return func(ctx context.Context, inputs, config map[string]interface{}) (interface{}, error) {
		return map[string]interface{}{key: value}, nil
	}
}
