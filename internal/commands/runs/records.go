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
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tombee/folio/internal/cli/timeline"
	"github.com/tombee/folio/internal/commands/completion"
	"github.com/tombee/folio/internal/commands/shared"
	"github.com/tombee/folio/pkg/execution"
)

type recordsResponse struct {
	shared.JSONResponse
	RunID   string             `json:"run_id"`
	Records []execution.Record `json:"records"`
}

// NewRecordsCommand creates the records command.
func NewRecordsCommand() *cobra.Command {
	var (
		extractions  bool
		showTimeline bool
		node         string
	)

	cmd := &cobra.Command{
		Use: "records <run-id>",
		Annotations: map[string]string{
			"group": "management",
		},
		Short: "Show a run's invocation records",
		Long: `Show the append-only invocation log of a run: one record per node attempt,
with its inputs, output, route label and error.

--extractions keeps only the final successful extraction records, which
is what a reviewer reads.`,
		Example: `  # Show the log of a run
  folio records 01JQ3Z8W6B2N4R7T9V1X3Y5A7C

  # Draw it as a timeline
  folio records 01JQ3Z8W6B2N4R7T9V1X3Y5A7C --timeline

  # Export the extracted fields
  folio records 01JQ3Z8W6B2N4R7T9V1X3Y5A7C --extractions --json | jq '.records[].output'`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteRunIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := shared.OpenRuntime(ctx, shared.RuntimeOptions{LogOutput: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			runID := args[0]
			var records []execution.Record
			if extractions {
				records, err = rt.Engine.Extractions(ctx, runID)
			} else {
				records, err = rt.Engine.Records(ctx, runID)
			}
			if err != nil {
				return err
			}
			records = filterNode(records, node)

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				return shared.EmitJSON(out, recordsResponse{
					JSONResponse: shared.JSONResponse{Version: "1.0", Command: "records", Success: true},
					RunID:        runID,
					Records:      records,
				})
			}

			if len(records) == 0 {
				fmt.Fprintln(out, "No records.")
				return nil
			}
			if showTimeline {
				renderer, err := timeline.NewRenderer()
				if err != nil {
					return err
				}
				rendered, err := renderer.Render(runID, records)
				if err != nil {
					return err
				}
				fmt.Fprint(out, rendered)
				return nil
			}
			shared.PrintRecords(out, records)
			return nil
		},
	}

	cmd.Flags().BoolVar(&extractions, "extractions", false, "Show only final successful extraction records")
	cmd.Flags().BoolVar(&showTimeline, "timeline", false, "Draw the records as a timeline")
	cmd.Flags().StringVar(&node, "node", "", "Show only records of this node id")

	return cmd
}

func filterNode(records []execution.Record, node string) []execution.Record {
	if node == "" {
		return records
	}
	out := make([]execution.Record, 0, len(records))
	for _, rec := range records {
		if rec.NodeID == node {
			out = append(out, rec)
		}
	}
	return out
}
