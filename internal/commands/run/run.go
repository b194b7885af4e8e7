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

package run

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tombee/folio/internal/commands/shared"
	"github.com/tombee/folio/pkg/execution"
)

func runWorkflow(cmd *cobra.Command, arg string, opts options) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	payload, err := parseInputs(opts.inputs, opts.inputFile, cmd.InOrStdin())
	if err != nil {
		return shared.NewInvalidInputError("invalid trigger payload", err)
	}

	rt, err := shared.OpenRuntime(ctx, shared.RuntimeOptions{LogOutput: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer rt.Close(context.WithoutCancel(ctx))

	ref, err := rt.Resolve(arg)
	if err != nil {
		return err
	}

	runID, err := rt.Engine.StartRun(ctx, ref, payload)
	if err != nil {
		return shared.NewInvalidWorkflowError(fmt.Sprintf("cannot start %s", ref), err)
	}
	rt.Logger.Debug("run started", "run_id", runID, "workflow", ref)

	st, err := shared.FollowRun(ctx, rt.Engine, runID, cmd.ErrOrStderr(), !shared.GetJSON() && shared.IsTTY())
	if err != nil {
		return err
	}

	records, err := rt.Engine.Records(context.WithoutCancel(ctx), runID)
	if err != nil {
		return err
	}

	if err := shared.PrintRun(cmd.OutOrStdout(), "run", st, records, opts.timeline); err != nil {
		return err
	}
	if st.Status == execution.StatusRunning && !shared.GetJSON() {
		fmt.Fprintf(cmd.OutOrStdout(), "\n%s resume with: folio resume %s\n", shared.RenderWarn("suspended;"), runID)
	}

	return shared.RunExitError(st)
}
