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
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/folio/internal/examples"
)

func TestCompleteExampleNames(t *testing.T) {
	completions, directive := CompleteExampleNames(nil, nil, "")
	assert.Equal(t, cobra.ShellCompDirectiveNoFileComp, directive)

	list, err := examples.List()
	require.NoError(t, err)
	require.Len(t, completions, len(list))
	assert.Contains(t, completions, "classical\tLine-numbered editions")
	assert.Contains(t, completions, "fragmentary\tDamaged transcriptions")
}

func TestCompleteExampleNames_FiltersPrefix(t *testing.T) {
	tests := []struct {
		prefix string
		want   []string
	}{
		{"frag", []string{"fragmentary\tDamaged transcriptions"}},
		{"ST", []string{"standard\tClean digital text"}},
		{"xyz", []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			completions, _ := CompleteExampleNames(nil, nil, tt.prefix)
			assert.Equal(t, tt.want, completions)
		})
	}
}

func TestCompleteExampleNames_OnlyFirstArgument(t *testing.T) {
	completions, _ := CompleteExampleNames(nil, []string{"classical"}, "")
	assert.Empty(t, completions)
}

func TestExampleHint(t *testing.T) {
	assert.Equal(t, "Short", exampleHint(examples.Example{Description: "Short."}))
	assert.Equal(t, "Untitled run", exampleHint(examples.Example{Title: "Untitled run"}))
}
