package examples

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tombee/folio/internal/commands/completion"
	"github.com/tombee/folio/internal/commands/shared"
	"github.com/tombee/folio/internal/examples"
)

// NewCommand creates the examples command
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use: "examples",
		Annotations: map[string]string{
			"group": "workflow",
		},
		Short: "Browse the built-in example workflows",
		Long: `Browse, view and copy the example workflows.

Examples are embedded in the folio binary. Each one routes a different
kind of document: clean text, line-by-line classical sources and damaged
fragments that need reconstruction.`,
	}

	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newShowCmd())
	cmd.AddCommand(newCopyCmd())

	// Default to list if no subcommand specified
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		return newListCmd().RunE(cmd, args)
	}

	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the example workflows",
		Example: `  # List all examples
  folio examples list

  # Extract example names for scripting
  folio examples list --json | jq -r '.[].name'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := examples.List()
			if err != nil {
				return fmt.Errorf("failed to list examples: %w", err)
			}

			out := cmd.OutOrStdout()
			if shared.GetJSON() {
				return shared.EmitJSON(out, list)
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDESCRIPTION")
			fmt.Fprintln(w, "────\t───────────")
			for _, ex := range list {
				fmt.Fprintf(w, "%s\t%s\n", ex.Name, ex.Description)
			}
			w.Flush()

			fmt.Fprintln(out)
			fmt.Fprintln(out, "Use 'folio examples show <name>' to view an example")
			fmt.Fprintln(out, "Use 'folio examples copy <name> [dest]' to copy one into your workflows directory")
			return nil
		},
	}
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <name>",
		Short: "Print an example workflow",
		Example: `  # View an example
  folio examples show fragmentary

  # Save it and run it
  folio examples show standard > standard.yaml
  folio run standard.yaml --input path=letter.txt`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completion.CompleteExampleNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := examples.Get(args[0])
			if err != nil {
				return shared.NewInvalidInputError("", fmt.Errorf("%w (use 'folio examples list' to see available examples)", err))
			}
			_, err = cmd.OutOrStdout().Write(content)
			return err
		},
	}
}

func newCopyCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "copy <name> [dest]",
		Short: "Copy an example to the filesystem",
		Long: `Copy an embedded example workflow to the local filesystem.

If no destination is given the example is written to '<name>.yaml' in the
current directory. A destination directory receives '<name>.yaml'.`,
		Example: `  # Copy to the current directory
  folio examples copy standard

  # Copy into the workflows directory served by 'folio serve'
  folio examples copy classical ~/.config/folio/workflows/`,
		Args:              cobra.RangeArgs(1, 2),
		ValidArgsFunction: completion.CompleteExampleNames,
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if !examples.Exists(name) {
				return shared.NewInvalidInputError(fmt.Sprintf("example %q not found (use 'folio examples list' to see available examples)", name), nil)
			}

			destPath := name + ".yaml"
			if len(args) > 1 {
				destPath = args[1]
			}
			if stat, err := os.Stat(destPath); err == nil && stat.IsDir() {
				destPath = filepath.Join(destPath, name+".yaml")
			}

			if _, err := os.Stat(destPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", destPath)
			}
			if err := examples.CopyTo(name, destPath, true); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), shared.RenderOK(fmt.Sprintf("Copied example %q to %s", name, destPath)))
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")
	return cmd
}
