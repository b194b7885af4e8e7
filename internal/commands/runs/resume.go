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
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tombee/folio/internal/commands/completion"
	"github.com/tombee/folio/internal/commands/shared"
)

// NewResumeCommand creates the resume command.
func NewResumeCommand() *cobra.Command {
	var (
		workflowFile string
		showTimeline bool
	)

	cmd := &cobra.Command{
		Use: "resume <run-id>",
		Annotations: map[string]string{
			"group": "execution",
		},
		Short: "Resume a suspended run",
		Long: `Resume continues a run that was suspended by an interrupt or a shutdown.
The nodes still to run are derived from the persisted log; nodes that
already concluded are not invoked again.

The run stays bound to the workflow version it started with. If that
version came from a file rather than the workflows directory, pass the
file with --workflow.`,
		Example: `  # Resume a run after an interrupt
  folio resume 01JQ3Z8W6B2N4R7T9V1X3Y5A7C

  # Resume a run started from a workflow file
  folio resume 01JQ3Z8W6B2N4R7T9V1X3Y5A7C --workflow standard.yaml`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteActiveRunIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := shared.OpenRuntime(ctx, shared.RuntimeOptions{LogOutput: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			if workflowFile != "" {
				if _, err := rt.Register(workflowFile); err != nil {
					return err
				}
			}

			runID := args[0]
			if err := rt.Engine.Resume(ctx, runID); err != nil {
				return shared.NewInvalidInputError(fmt.Sprintf("cannot resume %s", runID), err)
			}

			st, err := shared.FollowRun(ctx, rt.Engine, runID, cmd.ErrOrStderr(), !shared.GetJSON() && shared.IsTTY())
			if err != nil {
				return err
			}
			records, err := rt.Engine.Records(context.WithoutCancel(ctx), runID)
			if err != nil {
				return err
			}
			if err := shared.PrintRun(cmd.OutOrStdout(), "resume", st, records, showTimeline); err != nil {
				return err
			}
			return shared.RunExitError(st)
		},
	}

	cmd.Flags().StringVarP(&workflowFile, "workflow", "w", "", "Workflow file the run was started from")
	cmd.Flags().BoolVar(&showTimeline, "timeline", false, "Draw a timeline of the run's records")
	return cmd
}
