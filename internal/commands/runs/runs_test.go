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

package runs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/folio/internal/commands/shared"
	"github.com/tombee/folio/pkg/execution"
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
    next: words
  - id: words
    type: extraction
    handler: extract.jq
    inputs:
      text: nodes.copy.text
    config:
      program: '{length: (.text | length)}'
`

const readWorkflow = `
id: read
entry: ingest
nodes:
  - id: ingest
    type: input
    handler: file.read
    inputs:
      path: trigger.path
`

const fetchWorkflow = `
id: fetch
entry: get
nodes:
  - id: get
    type: integration
    handler: http.get
    inputs:
      url: trigger.url
`

// setup writes a config with the file store and a workflows directory
// holding the test workflows.
func setup(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	wfDir := filepath.Join(dir, "workflows")
	require.NoError(t, os.MkdirAll(wfDir, 0o755))
	for name, content := range map[string]string{"echo": echoWorkflow, "read": readWorkflow, "fetch": fetchWorkflow} {
		require.NoError(t, os.WriteFile(filepath.Join(wfDir, name+".yaml"), []byte(content), 0o600))
	}

	cfg := fmt.Sprintf("data_dir: %s\nstore:\n  backend: file\nworkflows:\n  dir: %s\n", filepath.Join(dir, "data"), wfDir)
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))

	shared.SetConfigPathForTest(cfgPath)
	t.Cleanup(func() {
		shared.SetConfigPathForTest("")
		shared.SetJSONForTest(false)
	})
}

// runToEnd starts a workflow in its own runtime and waits for it.
func runToEnd(t *testing.T, ref string, payload map[string]interface{}) string {
	t.Helper()
	ctx := context.Background()
	rt, err := shared.OpenRuntime(ctx, shared.RuntimeOptions{LogOutput: &bytes.Buffer{}})
	require.NoError(t, err)
	defer rt.Close(ctx)

	runID, err := rt.Engine.StartRun(ctx, ref, payload)
	require.NoError(t, err)
	_, err = rt.Engine.Wait(ctx, runID)
	require.NoError(t, err)
	return runID
}

// suspendedRun starts a fetch run against a server that hangs, then closes
// the runtime so the run is persisted as suspended.
func suspendedRun(t *testing.T, url string, started <-chan struct{}) string {
	t.Helper()
	ctx := context.Background()
	rt, err := shared.OpenRuntime(ctx, shared.RuntimeOptions{LogOutput: &bytes.Buffer{}})
	require.NoError(t, err)

	runID, err := rt.Engine.StartRun(ctx, "fetch", map[string]interface{}{"url": url})
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("request never arrived")
	}
	require.NoError(t, rt.Close(ctx))
	return runID
}

// hangingServer blocks requests until released, then answers with JSON.
func hangingServer(t *testing.T) (*httptest.Server, chan struct{}, *atomic.Bool) {
	t.Helper()
	started := make(chan struct{}, 8)
	var released atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !released.Load() {
			started <- struct{}{}
			<-r.Context().Done()
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"pages": 3}`)
	}))
	t.Cleanup(srv.Close)
	return srv, started, &released
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func requireExitCode(t *testing.T, err error, code int) {
	t.Helper()
	var exitErr *shared.ExitError
	require.True(t, errors.As(err, &exitErr), "expected ExitError, got %v", err)
	assert.Equal(t, code, exitErr.Code)
}

func TestListAndStatus(t *testing.T) {
	setup(t)
	ok := runToEnd(t, "echo", map[string]interface{}{"text": "Dear Ada"})
	failed := runToEnd(t, "read", map[string]interface{}{"path": filepath.Join(t.TempDir(), "missing.txt")})

	out, err := execute(t, NewListCommand())
	require.NoError(t, err)
	assert.Contains(t, out, ok)
	assert.Contains(t, out, failed)
	assert.Contains(t, out, "echo@1")

	shared.SetJSONForTest(true)
	out, err = execute(t, NewListCommand(), "--failed")
	require.NoError(t, err)
	var resp listResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Runs, 1)
	assert.Equal(t, failed, resp.Runs[0].RunID)
	shared.SetJSONForTest(false)

	out, err = execute(t, NewStatusCommand(), ok)
	require.NoError(t, err)
	assert.Contains(t, out, "succeeded")

	out, err = execute(t, NewStatusCommand(), failed)
	requireExitCode(t, err, shared.ExitRunFailed)
	assert.Contains(t, out, "failed")

	_, err = execute(t, NewStatusCommand(), "01JNOSUCHRUN")
	assert.Error(t, err)
}

func TestRecords(t *testing.T) {
	setup(t)
	runID := runToEnd(t, "echo", map[string]interface{}{"text": "Dear Ada"})

	out, err := execute(t, NewRecordsCommand(), runID)
	require.NoError(t, err)
	assert.Contains(t, out, "copy")
	assert.Contains(t, out, "words")

	out, err = execute(t, NewRecordsCommand(), runID, "--timeline")
	require.NoError(t, err)
	assert.Contains(t, out, "│")

	shared.SetJSONForTest(true)
	out, err = execute(t, NewRecordsCommand(), runID, "--extractions")
	require.NoError(t, err)
	var resp recordsResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Records, 1)
	assert.Equal(t, "words", resp.Records[0].NodeID)
	assert.Equal(t, map[string]interface{}{"length": float64(8)}, resp.Records[0].Output)

	out, err = execute(t, NewRecordsCommand(), runID, "--node", "copy")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Records, 1)
	assert.Equal(t, "copy", resp.Records[0].NodeID)
}

func TestResumeSuspendedRun(t *testing.T) {
	setup(t)
	srv, started, released := hangingServer(t)
	runID := suspendedRun(t, srv.URL, started)

	out, err := execute(t, NewStatusCommand(), runID)
	requireExitCode(t, err, shared.ExitRunIncomplete)
	assert.Contains(t, out, "get")

	released.Store(true)
	out, err = execute(t, NewResumeCommand(), runID)
	require.NoError(t, err)
	assert.Contains(t, out, "succeeded")

	_, err = execute(t, NewResumeCommand(), runID)
	requireExitCode(t, err, shared.ExitInvalidInput)
}

func TestCancelSuspendedRun(t *testing.T) {
	setup(t)
	srv, started, _ := hangingServer(t)
	runID := suspendedRun(t, srv.URL, started)

	out, err := execute(t, NewCancelCommand(), runID)
	require.NoError(t, err)
	assert.Contains(t, out, "cancelled")

	// cancelling twice is a no-op
	_, err = execute(t, NewCancelCommand(), runID)
	require.NoError(t, err)

	_, err = execute(t, NewResumeCommand(), runID)
	requireExitCode(t, err, shared.ExitInvalidInput)

	done := runToEnd(t, "echo", map[string]interface{}{"text": "x"})
	_, err = execute(t, NewCancelCommand(), done)
	requireExitCode(t, err, shared.ExitInvalidInput)
}

func TestPrune(t *testing.T) {
	setup(t)
	srv, started, _ := hangingServer(t)
	runToEnd(t, "echo", map[string]interface{}{"text": "a"})
	runToEnd(t, "echo", map[string]interface{}{"text": "b"})
	suspended := suspendedRun(t, srv.URL, started)

	// the default retention keeps recent runs
	out, err := execute(t, NewPruneCommand())
	require.NoError(t, err)
	assert.Contains(t, out, "pruned 0 run(s)")

	out, err = execute(t, NewPruneCommand(), "--older-than", "0s")
	require.NoError(t, err)
	assert.Contains(t, out, "pruned 2 run(s)")

	shared.SetJSONForTest(true)
	out, err = execute(t, NewListCommand())
	require.NoError(t, err)
	var resp listResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Runs, 1)
	assert.Equal(t, suspended, resp.Runs[0].RunID)
	assert.Equal(t, execution.StatusRunning, resp.Runs[0].Status)

	_, err = execute(t, NewPruneCommand(), "--older-than", "-1h")
	requireExitCode(t, err, shared.ExitInvalidInput)
}

func TestFilterRuns(t *testing.T) {
	base := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	all := []execution.Summary{
		{RunID: "a", WorkflowID: "standard", Status: execution.StatusSucceeded, CreatedAt: base},
		{RunID: "b", WorkflowID: "classical", Status: execution.StatusFailed, CreatedAt: base.Add(time.Hour)},
		{RunID: "c", WorkflowID: "standard", Status: execution.StatusFailed, CreatedAt: base.Add(2 * time.Hour)},
	}

	ids := func(runs []execution.Summary) []string {
		out := make([]string, 0, len(runs))
		for _, r := range runs {
			out = append(out, r.RunID)
		}
		return out
	}

	assert.Equal(t, []string{"c", "b", "a"}, ids(filterRuns(all, "", "", 0)))
	assert.Equal(t, []string{"c", "b"}, ids(filterRuns(all, "failed", "", 0)))
	assert.Equal(t, []string{"c"}, ids(filterRuns(all, "failed", "standard", 0)))
	assert.Equal(t, []string{"c", "b"}, ids(filterRuns(all, "", "", 2)))
}
