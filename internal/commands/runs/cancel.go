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

	"github.com/tombee/folio/internal/commands/completion"
	"github.com/tombee/folio/internal/commands/shared"
)

// NewCancelCommand creates the cancel command.
func NewCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use: "cancel <run-id>",
		Annotations: map[string]string{
			"group": "execution",
		},
		Short: "Cancel a suspended run",
		Long: `Cancel marks a suspended run as cancelled so it can no longer be resumed.
Cancelling a run that already finished is an error; cancelling a
cancelled run does nothing.

A run executing inside 'folio serve' is cancelled through the HTTP API
(POST /v1/runs/{id}/cancel).`,
		Example: `  folio cancel 01JQ3Z8W6B2N4R7T9V1X3Y5A7C`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteActiveRunIDs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := shared.OpenRuntime(ctx, shared.RuntimeOptions{LogOutput: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			runID := args[0]
			if err := rt.Engine.Cancel(ctx, runID); err != nil {
				return shared.NewInvalidInputError(fmt.Sprintf("cannot cancel %s", runID), err)
			}
			st, err := rt.Engine.Status(ctx, runID)
			if err != nil {
				return err
			}
			if shared.GetJSON() {
				return shared.PrintRun(cmd.OutOrStdout(), "cancel", st, nil, false)
			}
			fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK(fmt.Sprintf("run %s is %s", runID, st.Status)))
			return nil
		},
	}
}
