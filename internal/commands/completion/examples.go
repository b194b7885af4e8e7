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
	"strings"

	"github.com/spf13/cobra"

	"github.com/tombee/folio/internal/examples"
)

// CompleteExampleNames completes the single example argument of
// `folio examples show|copy`. Each name carries the example's summary,
// the first sentence of its description, as the shell hint.
func CompleteExampleNames(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	return SafeCompletionWrapper(func() ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}
		list, err := examples.List()
		if err != nil {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}

		prefix := strings.ToLower(toComplete)
		var completions []string
		for _, ex := range list {
			if !strings.HasPrefix(strings.ToLower(ex.Name), prefix) {
				continue
			}
			completions = append(completions, ex.Name+"\t"+exampleHint(ex))
		}
		return completions, cobra.ShellCompDirectiveNoFileComp
	})
}

func exampleHint(ex examples.Example) string {
	if summary, _, ok := strings.Cut(ex.Description, ". "); ok {
		return summary
	}
	if ex.Description != "" {
		return strings.TrimSuffix(ex.Description, ".")
	}
	return ex.Title
}
