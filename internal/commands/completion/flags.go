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

package completion

import (
	"github.com/spf13/cobra"
)

// CompleteRunStatus provides completion for --status flag values.
func CompleteRunStatus(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		statuses := []string{
			"running\tRun is executing or suspended",
			"succeeded\tRun reached the end of every live path",
			"failed\tRun stopped on an unhandled failure",
			"cancelled\tRun was cancelled",
		}
		return statuses, cobra.ShellCompDirectiveNoFileComp
	})
}

// CompleteStoreBackends provides completion for store backend names.
func CompleteStoreBackends(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		backends := []string{
			"memory\tIn-process, lost on exit",
			"file\tOne JSON document per run",
			"sqlite\tSQLite database",
			"badger\tBadger key-value store",
		}
		return backends, cobra.ShellCompDirectiveNoFileComp
	})
}
