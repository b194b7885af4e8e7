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

package serve

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/folio/internal/config"
)

const echoWorkflow = `
id: echo
entry: copy
nodes:
  - id: copy
    type: processing
    handler: passthrough
    inputs:
      text: trigger.text
`

const ingestWorkflow = `
id: ingest
entry: read
nodes:
  - id: read
    type: input
    handler: file.read
    inputs:
      path: trigger.document.path
`

func testConfig(t *testing.T) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	wfDir := filepath.Join(dir, "workflows")
	inboxDir := filepath.Join(dir, "inbox")
	require.NoError(t, os.MkdirAll(wfDir, 0o755))
	require.NoError(t, os.MkdirAll(inboxDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(wfDir, "echo.yaml"), []byte(echoWorkflow), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(wfDir, "ingest.yaml"), []byte(ingestWorkflow), 0o600))

	cfg := config.Default()
	cfg.DataDir = filepath.Join(dir, "data")
	cfg.Log.Level = "error"
	cfg.Store.Backend = "memory"
	cfg.Workflows.Dir = wfDir
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Inbox = config.InboxConfig{
		Enabled:  true,
		Dir:      inboxDir,
		Workflow: "ingest",
		Debounce: 20 * time.Millisecond,
	}
	return cfg, inboxDir
}

// startServer runs the server until the test ends and returns its base URL.
func startServer(t *testing.T, cfg *config.Config) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() {
		done <- run(ctx, cfg, options{ready: ready, registry: prometheus.NewRegistry()})
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("server did not shut down")
		}
	})

	select {
	case addr := <-ready:
		return "http://" + addr.String()
	case err := <-done:
		t.Fatalf("server exited early: %v", err)
	case <-time.After(10 * time.Second):
		t.Fatal("server never became ready")
	}
	return ""
}

func getJSON(t *testing.T, url string, v interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if v != nil {
		require.NoError(t, json.Unmarshal(body, v), string(body))
	}
	return resp.StatusCode
}

func TestServe_RunsOverHTTP(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.Inbox.Enabled = false
	base := startServer(t, cfg)

	assert.Equal(t, http.StatusOK, getJSON(t, base+"/health", nil))

	var workflows struct {
		Workflows []struct {
			ID string `json:"id"`
		} `json:"workflows"`
	}
	require.Equal(t, http.StatusOK, getJSON(t, base+"/v1/workflows", &workflows))
	require.Len(t, workflows.Workflows, 2)

	resp, err := http.Post(base+"/v1/workflows/echo/runs", "application/json", strings.NewReader(`{"text":"hello"}`))
	require.NoError(t, err)
	var created struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NotEmpty(t, created.RunID)

	assert.Eventually(t, func() bool {
		var st struct {
			Status string `json:"status"`
		}
		getJSON(t, base+"/v1/runs/"+created.RunID, &st)
		return st.Status == "succeeded"
	}, 5*time.Second, 20*time.Millisecond)

	mresp, err := http.Get(base + "/metrics")
	require.NoError(t, err)
	defer mresp.Body.Close()
	assert.Equal(t, http.StatusOK, mresp.StatusCode)
}

func TestServe_InboxStartsRuns(t *testing.T) {
	cfg, inboxDir := testConfig(t)
	base := startServer(t, cfg)

	require.NoError(t, os.WriteFile(filepath.Join(inboxDir, "letter.txt"), []byte("Dear Ada"), 0o600))

	var runs struct {
		Runs []struct {
			RunID  string `json:"run_id"`
			Status string `json:"status"`
		} `json:"runs"`
	}
	require.Eventually(t, func() bool {
		getJSON(t, base+"/v1/runs?workflow=ingest", &runs)
		return len(runs.Runs) == 1 && runs.Runs[0].Status == "succeeded"
	}, 5*time.Second, 20*time.Millisecond)

	var page struct {
		Records []struct {
			NodeID string                 `json:"node_id"`
			Output map[string]interface{} `json:"output"`
		} `json:"records"`
	}
	getJSON(t, base+"/v1/runs/"+runs.Runs[0].RunID+"/records", &page)
	records := page.Records
	require.NotEmpty(t, records)
	assert.Equal(t, "Dear Ada", records[len(records)-1].Output["content"])
}

func TestServe_MissingWorkflowsDir(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.Workflows.Dir = filepath.Join(t.TempDir(), "absent")
	err := run(context.Background(), cfg, options{registry: prometheus.NewRegistry()})
	require.Error(t, err)
}

type countingPruner struct {
	calls chan time.Duration
}

func (p *countingPruner) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	p.calls <- maxAge
	return 1, nil
}

func TestSweep(t *testing.T) {
	p := &countingPruner{calls: make(chan time.Duration, 8)}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	go func() {
		sweep(ctx, p, config.RetentionConfig{MaxAge: time.Hour, Interval: 10 * time.Millisecond}, logger)
		close(done)
	}()

	for i := 0; i < 2; i++ {
		select {
		case got := <-p.calls:
			assert.Equal(t, time.Hour, got)
		case <-time.After(time.Second):
			t.Fatal("sweep did not prune")
		}
	}
	cancel()
	<-done
	assert.Contains(t, buf.String(), "pruned finished runs")
}

func TestNewCommand(t *testing.T) {
	cmd := NewCommand()
	assert.Equal(t, "serve", cmd.Use)
	assert.Equal(t, "execution", cmd.Annotations["group"])
	for _, name := range []string{"addr", "store", "watch", "resume"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), name)
	}
}
