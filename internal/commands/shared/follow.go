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

package shared

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/tombee/folio/internal/cli/timeline"
	"github.com/tombee/folio/pkg/engine"
	"github.com/tombee/folio/pkg/execution"
)

// RunResponse is the JSON output of commands that report a run.
type RunResponse struct {
	JSONResponse
	Run     *engine.RunStatus  `json:"run"`
	Records []execution.Record `json:"records,omitempty"`
}

// FollowRun waits for an executing run, showing the node it is on when
// tty is set. Interrupting ctx suspends the run and returns its persisted
// status instead of an error.
func FollowRun(ctx context.Context, eng *engine.Engine, runID string, w io.Writer, tty bool) (*engine.RunStatus, error) {
	spinner := NewSpinner(w, tty)
	spinner.Start("running " + runID)
	defer spinner.Stop()

	if records, unsubscribe, err := eng.Subscribe(runID); err == nil {
		defer unsubscribe()
		go func() {
			for rec := range records {
				name := rec.NodeID
				if rec.Scope != "" {
					name = rec.Scope + "/" + rec.NodeID
				}
				spinner.Update(RecordSymbol(&rec) + " " + name)
			}
		}()
	}

	st, err := eng.Wait(ctx, runID)
	if err == nil {
		return st, nil
	}
	if ctx.Err() == nil {
		return nil, err
	}

	bg := context.WithoutCancel(ctx)
	shutdownCtx, cancel := context.WithTimeout(bg, 30*time.Second)
	defer cancel()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		return nil, fmt.Errorf("failed to suspend run %s: %w", runID, err)
	}
	return eng.Status(bg, runID)
}

// PrintRun writes a run's status and records, as JSON with --json.
func PrintRun(w io.Writer, command string, st *engine.RunStatus, records []execution.Record, withTimeline bool) error {
	if GetJSON() {
		return EmitJSON(w, RunResponse{
			JSONResponse: JSONResponse{Version: "1.0", Command: command, Success: st.Status == execution.StatusSucceeded},
			Run:          st,
			Records:      records,
		})
	}

	PrintStatus(w, st)
	if len(records) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	PrintRecords(w, records)

	if withTimeline {
		renderer, err := timeline.NewRenderer()
		if err != nil {
			return err
		}
		rendered, err := renderer.Render(fmt.Sprintf("%s@%d", st.WorkflowID, st.Version), records)
		if err != nil {
			return err
		}
		fmt.Fprintln(w)
		fmt.Fprint(w, rendered)
	}
	return nil
}

// RunExitError maps a run status to the command's exit code. The status
// has already been printed, so the error carries no message.
func RunExitError(st *engine.RunStatus) error {
	switch st.Status {
	case execution.StatusSucceeded:
		return nil
	case execution.StatusFailed:
		return &ExitError{Code: ExitRunFailed}
	default:
		return &ExitError{Code: ExitRunIncomplete}
	}
}
