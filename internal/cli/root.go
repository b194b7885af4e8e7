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

package cli

import (
	"github.com/spf13/cobra"

	"github.com/tombee/folio/internal/commands/shared"
)

// SetVersion sets the version information (called from main)
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand creates the root Cobra command for folio
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "folio",
		Short: "folio - adaptive document-processing pipelines",
		Long: `folio runs document-processing workflows: graphs of input, processing,
decision, extraction, integration and output nodes whose routes are chosen
by looking at each document as it is processed.

Runs are persisted after every step, so a run interrupted by a restart can
be resumed where it stopped.

Run 'folio examples' to see the bundled workflows.`,
		SilenceUsage:  true, // Don't show usage on errors
		SilenceErrors: true, // We handle errors ourselves for proper exit codes
	}

	shared.BindFlags(cmd.PersistentFlags())

	return cmd
}

// Build returns the version information set by SetVersion.
func Build() shared.BuildInfo {
	return shared.Build()
}

// HandleExitError handles exit errors with proper exit codes
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
