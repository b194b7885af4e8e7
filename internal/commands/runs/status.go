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

	"github.com/spf13/cobra"

	"github.com/tombee/folio/internal/commands/completion"
	"github.com/tombee/folio/internal/commands/shared"
)

// NewStatusCommand creates the status command.
func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use: "status <run-id>",
		Annotations: map[string]string{
			"group": "management",
		},
		Short: "Show a run's status",
		Long: `Show the status of a persisted run: its workflow version, the nodes
waiting to run, the number of records and the last error.

The exit code reflects the run: 0 succeeded, 1 failed, 4 cancelled or
still running.`,
		Example: `  # Show a run
  folio status 01JQ3Z8W6B2N4R7T9V1X3Y5A7C

  # Check whether a run finished
  folio status 01JQ3Z8W6B2N4R7T9V1X3Y5A7C --json | jq -r '.run.status'`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteRunIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := shared.OpenRuntime(ctx, shared.RuntimeOptions{LogOutput: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			st, err := rt.Engine.Status(ctx, args[0])
			if err != nil {
				return err
			}
			if err := shared.PrintRun(cmd.OutOrStdout(), "status", st, nil, false); err != nil {
				return err
			}
			return shared.RunExitError(st)
		},
	}
}
