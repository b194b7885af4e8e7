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

// Package runs implements the commands that inspect and control persisted
// runs: runs, status, records, resume, cancel and prune. They open the
// local store directly, so a run executing inside 'folio serve' is only
// visible through its persisted checkpoints.
package runs

import (
	"context"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/folio/internal/commands/completion"
	"github.com/tombee/folio/internal/commands/shared"
	"github.com/tombee/folio/pkg/execution"
)

// NewListCommand creates the runs command.
func NewListCommand() *cobra.Command {
	var (
		status   string
		workflow string
		failed   bool
		limit    int
	)

	cmd := &cobra.Command{
		Use: "runs",
		Annotations: map[string]string{
			"group": "management",
		},
		Short: "List persisted runs",
		Long: `List the runs in the configured store, newest first, optionally filtered
by status or workflow.

See also: folio status, folio records`,
		Example: `  # List all runs
  folio runs

  # List suspended or executing runs
  folio runs --status running

  # List failed runs of one workflow as JSON
  folio runs --workflow standard --failed --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if failed {
				status = string(execution.StatusFailed)
			}
			return listRuns(cmd, status, workflow, limit)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (running, succeeded, failed, cancelled)")
	cmd.Flags().StringVar(&workflow, "workflow", "", "Filter by workflow id")
	cmd.Flags().BoolVar(&failed, "failed", false, "Show only failed runs (shorthand for --status failed)")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of runs to show (0 for all)")
	_ = cmd.RegisterFlagCompletionFunc("status", completion.CompleteRunStatus)

	return cmd
}

type listResponse struct {
	shared.JSONResponse
	Runs []execution.Summary `json:"runs"`
}

func listRuns(cmd *cobra.Command, status, workflow string, limit int) error {
	ctx := cmd.Context()
	rt, err := shared.OpenRuntime(ctx, shared.RuntimeOptions{LogOutput: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer rt.Close(context.WithoutCancel(ctx))

	all, err := rt.Engine.Runs(ctx)
	if err != nil {
		return err
	}

	runs := filterRuns(all, status, workflow, limit)

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		return shared.EmitJSON(out, listResponse{
			JSONResponse: shared.JSONResponse{Version: "1.0", Command: "runs", Success: true},
			Runs:         runs,
		})
	}

	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tWORKFLOW\tSTATUS\tCREATED\tDURATION")
	for _, r := range runs {
		duration := "-"
		if r.CompletedAt != nil {
			duration = shared.FormatElapsed(r.CompletedAt.Sub(r.CreatedAt))
		}
		fmt.Fprintf(w, "%s\t%s@%d\t%s\t%s\t%s\n",
			r.RunID, r.WorkflowID, r.WorkflowVersion, r.Status,
			r.CreatedAt.Local().Format(time.DateTime), duration)
	}
	return w.Flush()
}

// filterRuns applies the filters and orders runs newest first.
func filterRuns(all []execution.Summary, status, workflow string, limit int) []execution.Summary {
	runs := make([]execution.Summary, 0, len(all))
	for _, r := range all {
		if status != "" && string(r.Status) != status {
			continue
		}
		if workflow != "" && r.WorkflowID != workflow {
			continue
		}
		runs = append(runs, r)
	}
	sort.SliceStable(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.After(runs[j].CreatedAt)
		}
		return runs[i].RunID > runs[j].RunID
	})
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs
}
