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
	"github.com/spf13/cobra"

	"github.com/tombee/folio/internal/commands/completion"
)

// options holds the run command's flags
type options struct {
	inputs    []string
	inputFile string
	timeline  bool
}

// NewCommand creates the run command
func NewCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "run <workflow>",
		Short: "Run a workflow and wait for it to finish",
		Annotations: map[string]string{
			"group": "execution",
		},
		Long: `Run starts a workflow with a trigger payload and waits for it to stop.

The workflow is a YAML file, which is registered first, or a reference to
a workflow in the configured workflows directory ("id" or "id@version").

The trigger payload is built from --input-file (JSON, '-' for stdin) and
--input key=value pairs. Values that parse as JSON keep their type.

Interrupting the command suspends the run instead of cancelling it; it
can be continued with 'folio resume <run-id>'.

Exit codes:
  0  the run succeeded
  1  the run failed
  2  the workflow is invalid
  3  the trigger payload is invalid
  4  the run was cancelled or suspended`,
		Example: `  # Run a workflow file against a document
  folio run standard.yaml --input path=letters/1843-03-01.txt

  # Run a registered workflow version with a JSON payload
  folio run classical@1 --input-file trigger.json
`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteWorkflowFiles,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringSliceVarP(&opts.inputs, "input", "i", nil, "Trigger field in key=value format")
	cmd.Flags().StringVar(&opts.inputFile, "input-file", "", "JSON file with the trigger payload (use '-' for stdin)")
	cmd.Flags().BoolVar(&opts.timeline, "timeline", false, "Draw a timeline of the run's records")

	return cmd
}
