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

package validate

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tombee/folio/internal/commands/completion"
	"github.com/tombee/folio/internal/commands/shared"
	"github.com/tombee/folio/internal/config"
	"github.com/tombee/folio/internal/handlers"
	"github.com/tombee/folio/internal/log"
	folioerrors "github.com/tombee/folio/pkg/errors"
	"github.com/tombee/folio/pkg/handler"
	"github.com/tombee/folio/pkg/workflow"
)

// workflowMetadata summarizes a valid definition
type workflowMetadata struct {
	ID       string         `json:"id"`
	Name     string         `json:"name,omitempty"`
	Version  int            `json:"version"`
	Entry    string         `json:"entry"`
	Nodes    int            `json:"nodes"`
	Types    map[string]int `json:"types"`
	Handlers []string       `json:"handlers"`
}

type validateResponse struct {
	shared.JSONResponse
	Workflow workflowMetadata `json:"workflow"`
}

// NewCommand creates the validate command
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <workflow>",
		Short: "Validate a workflow definition",
		Annotations: map[string]string{
			"group": "execution",
		},
		Long: `Validate checks that a workflow file parses, that its graph is acyclic
and fully reachable, that every input reference is guaranteed to resolve,
and that every node binds to a built-in handler of the right category.

Nothing is executed and no configuration is required.

See also: folio run, folio examples`,
		Example: `  # Validate a workflow file
  folio validate standard.yaml

  # Validate with JSON output for parsing
  folio validate standard.yaml --json | jq '.workflow.handlers'`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteWorkflowFiles,
		SilenceUsage:      true,
		SilenceErrors:     true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args[0])
		},
	}
	return cmd
}

func runValidate(cmd *cobra.Command, path string) error {
	useJSON := shared.GetJSON()

	data, err := os.ReadFile(path)
	if err != nil {
		je := shared.JSONError{
			Message:    fmt.Sprintf("failed to read workflow file: %v", err),
			Suggestion: "Check that the file path is correct and the file exists",
		}
		return report(cmd, path, je, useJSON)
	}

	def, err := workflow.ParseDefinition(data)
	if err == nil {
		err = bind(def)
	}
	if err != nil {
		return report(cmd, path, toJSONError(err), useJSON)
	}

	meta := describe(def)
	if useJSON {
		return shared.EmitJSON(cmd.OutOrStdout(), validateResponse{
			JSONResponse: shared.JSONResponse{Version: "1.0", Command: "validate", Success: true},
			Workflow:     meta,
		})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, shared.RenderOK(fmt.Sprintf("%s@%d is valid", meta.ID, meta.Version)))
	fmt.Fprintf(out, "  %s %s\n", shared.RenderLabel("entry:   "), meta.Entry)
	fmt.Fprintf(out, "  %s %d\n", shared.RenderLabel("nodes:   "), meta.Nodes)
	if len(meta.Handlers) > 0 {
		fmt.Fprintf(out, "  %s %v\n", shared.RenderLabel("handlers:"), meta.Handlers)
	}
	return nil
}

// bind checks the definition against the built-in handlers.
func bind(def *workflow.Definition) error {
	reg := handler.NewRegistry()
	if err := handlers.Register(reg, config.HandlersConfig{}, log.Discard()); err != nil {
		return err
	}
	return reg.Bind(def)
}

func toJSONError(err error) shared.JSONError {
	je := shared.JSONError{Message: err.Error()}
	var ve *folioerrors.ValidationError
	if errors.As(err, &ve) {
		je.Field = ve.Field
		je.Suggestion = ve.Suggestion
	}
	return je
}

func report(cmd *cobra.Command, path string, je shared.JSONError, useJSON bool) error {
	if useJSON {
		if err := shared.EmitJSONError(cmd.OutOrStdout(), "validate", []shared.JSONError{je}); err != nil {
			return err
		}
		return &shared.ExitError{Code: shared.ExitInvalidWorkflow}
	}

	w := cmd.ErrOrStderr()
	fmt.Fprintf(w, "%s: %s\n", path, shared.RenderError(je.Message))
	if je.Suggestion != "" {
		fmt.Fprintf(w, "  Suggestion: %s\n", je.Suggestion)
	}
	return &shared.ExitError{Code: shared.ExitInvalidWorkflow}
}

func describe(def *workflow.Definition) workflowMetadata {
	meta := workflowMetadata{
		ID:      def.ID,
		Name:    def.Name,
		Version: def.Version,
		Entry:   def.Entry,
		Types:   make(map[string]int),
	}
	seen := make(map[string]bool)
	_ = def.Walk(func(node *workflow.NodeDefinition) error {
		meta.Nodes++
		meta.Types[string(node.Type)]++
		if node.Handler != "" && !seen[node.Handler] {
			seen[node.Handler] = true
			meta.Handlers = append(meta.Handlers, node.Handler)
		}
		return nil
	})
	sort.Strings(meta.Handlers)
	return meta
}
