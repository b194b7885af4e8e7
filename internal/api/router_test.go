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

package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/folio/internal/log"
	"github.com/tombee/folio/internal/store/memory"
	"github.com/tombee/folio/pkg/engine"
	"github.com/tombee/folio/pkg/execution"
	"github.com/tombee/folio/pkg/handler"
	"github.com/tombee/folio/pkg/workflow"
)

const extractWorkflow = `
id: letters
version: 2
entry: load
nodes:
  - id: load
    type: input
    handler: load
    inputs:
      document: trigger.document
    next: entities
  - id: entities
    type: extraction
    handler: entities
    inputs:
      text: nodes.load.text
`

const slowWorkflow = `
id: slow
entry: wait
nodes:
  - id: wait
    type: processing
    handler: block
`

type testServer struct {
	engine  *engine.Engine
	router  *Router
	release chan struct{}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	release := make(chan struct{})

	reg := handler.NewRegistry()
	reg.MustRegister(handler.Descriptor{Name: "load", Category: workflow.NodeTypeInput, Idempotent: true},
		handler.Func(func(ctx context.Context, in, _ map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"text": "Dear Ada, " + in["document"].(string)}, nil
		}))
	reg.MustRegister(handler.Descriptor{Name: "entities", Category: workflow.NodeTypeExtraction, Idempotent: true},
		handler.Func(func(ctx context.Context, in, _ map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"people": []interface{}{"Ada"}}, nil
		}))
	reg.MustRegister(handler.Descriptor{Name: "block", Category: workflow.NodeTypeProcessing, Idempotent: true},
		handler.Func(func(ctx context.Context, in, _ map[string]interface{}) (interface{}, error) {
			select {
			case <-release:
				return "done", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}))
	reg.Freeze()

	catalog := workflow.NewCatalog()
	for _, src := range []string{extractWorkflow, slowWorkflow} {
		def, err := workflow.ParseDefinition([]byte(src))
		require.NoError(t, err)
		require.NoError(t, catalog.Register(def))
	}

	eng := engine.New(reg, catalog, memory.New()).WithLogger(log.Discard())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Shutdown(ctx)
	})

	router := NewRouter(RouterConfig{Version: "1.0.0"}, eng, catalog, log.Discard())
	return &testServer{engine: eng, router: router, release: release}
}

func (s *testServer) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var out map[string]interface{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func (s *testServer) start(t *testing.T, workflowRef, body string) string {
	t.Helper()
	rec, out := s.do(t, http.MethodPost, "/v1/workflows/"+workflowRef+"/runs", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	runID, _ := out["run_id"].(string)
	require.NotEmpty(t, runID)
	assert.Equal(t, "/v1/runs/"+runID, rec.Header().Get("Location"))
	return runID
}

func (s *testServer) wait(t *testing.T, runID string) *engine.RunStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	status, err := s.engine.Wait(ctx, runID)
	require.NoError(t, err)
	return status
}

func TestRouter_RunLifecycle(t *testing.T) {
	s := newTestServer(t)
	runID := s.start(t, "letters", `{"document":"letter-1843.tif"}`)
	s.wait(t, runID)

	rec, out := s.do(t, http.MethodGet, "/v1/runs/"+runID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "succeeded", out["status"])
	assert.Equal(t, "letters", out["workflow_id"])
	assert.Equal(t, float64(2), out["version"])

	rec, out = s.do(t, http.MethodGet, "/v1/runs/"+runID+"/records", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), out["count"])

	rec, out = s.do(t, http.MethodGet, "/v1/runs/"+runID+"/extractions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	extractions := out["extractions"].([]interface{})
	require.Len(t, extractions, 1)
	first := extractions[0].(map[string]interface{})
	assert.Equal(t, "entities", first["node_id"])
	assert.Equal(t, map[string]interface{}{"people": []interface{}{"Ada"}}, first["output"])

	rec, out = s.do(t, http.MethodGet, "/v1/runs?workflow=letters", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), out["count"])

	_, out = s.do(t, http.MethodGet, "/v1/runs?status=failed", "")
	assert.Equal(t, float64(0), out["count"])
}

func TestRouter_StartVersioned(t *testing.T) {
	s := newTestServer(t)
	runID := s.start(t, "letters@2", `{"document":"a.tif"}`)
	assert.Equal(t, execution.StatusSucceeded, s.wait(t, runID).Status)

	rec, out := s.do(t, http.MethodPost, "/v1/workflows/letters@7/runs", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, out["error"], "letters@7")
}

func TestRouter_Errors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		wantStatus int
	}{
		{"unknown workflow", http.MethodPost, "/v1/workflows/nope/runs", `{}`, http.StatusNotFound},
		{"invalid payload", http.MethodPost, "/v1/workflows/letters/runs", `{"document":`, http.StatusBadRequest},
		{"unknown run", http.MethodGet, "/v1/runs/missing", "", http.StatusNotFound},
		{"unknown run records", http.MethodGet, "/v1/runs/missing/records", "", http.StatusNotFound},
		{"cancel unknown run", http.MethodPost, "/v1/runs/missing/cancel", "", http.StatusNotFound},
		{"resume unknown run", http.MethodPost, "/v1/runs/missing/resume", "", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, out := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestRouter_ResumeFinishedRun(t *testing.T) {
	s := newTestServer(t)
	runID := s.start(t, "letters", `{"document":"b.tif"}`)
	s.wait(t, runID)

	rec, out := s.do(t, http.MethodPost, "/v1/runs/"+runID+"/resume", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, out["error"], "already succeeded")
}

func TestRouter_Cancel(t *testing.T) {
	s := newTestServer(t)
	runID := s.start(t, "slow", "")

	rec, out := s.do(t, http.MethodPost, "/v1/runs/"+runID+"/cancel", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "cancelling", out["status"])

	close(s.release)
	assert.Equal(t, execution.StatusCancelled, s.wait(t, runID).Status)
}

func TestRouter_Workflows(t *testing.T) {
	s := newTestServer(t)
	rec, out := s.do(t, http.MethodGet, "/v1/workflows", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), out["count"])

	workflows := out["workflows"].([]interface{})
	first := workflows[0].(map[string]interface{})
	assert.Equal(t, "letters", first["id"])
	assert.Equal(t, float64(2), first["latest"])
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	rec, out := s.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])
	assert.Equal(t, "1.0.0", out["version"])

	rec, _ = s.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code, "metrics are only served once a handler is set")

	s.router.SetMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("folio_active_runs 0\n"))
	}))
	rec, _ = s.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "folio_active_runs")
}

func TestRouter_StreamRecords(t *testing.T) {
	s := newTestServer(t)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	runID := s.start(t, "letters", `{"document":"c.tif"}`)
	s.wait(t, runID)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/runs/"+runID+"/records", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	var events []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
			events = append(events, name)
		}
	}
	assert.Equal(t, []string{"record", "record", "done"}, events)
}
