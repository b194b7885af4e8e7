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
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/folio/internal/commands/shared"
)

type pruneResponse struct {
	shared.JSONResponse
	Pruned int    `json:"pruned"`
	MaxAge string `json:"max_age"`
}

// NewPruneCommand creates the prune command.
func NewPruneCommand() *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use: "prune",
		Annotations: map[string]string{
			"group": "management",
		},
		Short: "Delete old finished runs",
		Long: `Prune deletes succeeded, failed and cancelled runs that finished more
than --older-than ago. Running and suspended runs are never pruned.

Without --older-than the retention.max_age setting is used.`,
		Example: `  # Apply the configured retention
  folio prune

  # Delete runs that finished more than a week ago
  folio prune --older-than 168h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := shared.OpenRuntime(ctx, shared.RuntimeOptions{LogOutput: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			maxAge := olderThan
			if !cmd.Flags().Changed("older-than") {
				maxAge = rt.Config.Retention.MaxAge
				if maxAge == 0 {
					return shared.NewInvalidInputError("retention.max_age is 0, which disables pruning; pass --older-than", nil)
				}
			}
			if maxAge < 0 {
				return shared.NewInvalidInputError("--older-than cannot be negative", nil)
			}

			n, err := rt.Engine.Prune(ctx, maxAge)
			if err != nil {
				return err
			}

			if shared.GetJSON() {
				return shared.EmitJSON(cmd.OutOrStdout(), pruneResponse{
					JSONResponse: shared.JSONResponse{Version: "1.0", Command: "prune", Success: true},
					Pruned:       n,
					MaxAge:       maxAge.String(),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK(fmt.Sprintf("pruned %d run(s) older than %s", n, maxAge)))
			return nil
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "Minimum age of a finished run to delete")
	return cmd
}
