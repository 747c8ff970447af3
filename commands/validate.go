package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/c360studio/roxid/output"
	"github.com/c360studio/roxid/pipeline"
	"github.com/c360studio/roxid/template"
)

// NewValidateCommand builds the `roxid validate` command.
func NewValidateCommand() *cobra.Command {
	var (
		templates bool
		repoRoot  string
	)

	cmd := &cobra.Command{
		Use:   "validate <pipeline>",
		Short: "Validate a pipeline YAML file",
		Long: `Validate checks a pipeline file in stages: YAML syntax, document
structure, and semantic rules (identifiers, dependencies, cycles).
With --templates the file's template graph is resolved as well.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("pipeline file not found: %s", path)
			}
			out := cmd.OutOrStdout()

			fmt.Fprintf(out, "Validating %s\n", path)

			pl, err := pipeline.ParseFile(path)
			if err != nil {
				fmt.Fprintf(out, "%s %v\n", output.Fail("ERROR:"), err)
				os.Exit(1)
			}
			fmt.Fprintf(out, "  %s YAML syntax valid\n", output.Pass("ok"))

			pipeline.Normalize(pl)
			stages, jobs, steps := countScopes(pl)
			fmt.Fprintf(out, "  %s Structure: %d stages, %d jobs, %d steps\n", output.Pass("ok"), stages, jobs, steps)

			if errs := pipeline.Validate(pl); len(errs) > 0 {
				fmt.Fprintf(out, "%s %d validation error(s):\n", output.Fail("ERROR:"), len(errs))
				for _, verr := range errs {
					fmt.Fprintf(out, "  - [%s] %s\n", verr.Path, verr.Message)
					if verr.Suggestion != "" {
						fmt.Fprintf(out, "    %s\n", output.Dim.Render(verr.Suggestion))
					}
				}
				os.Exit(1)
			}
			fmt.Fprintf(out, "  %s Semantic validation passed\n", output.Pass("ok"))

			if templates {
				root := repoRoot
				if root == "" {
					if cwd, err := os.Getwd(); err == nil {
						root = cwd
					} else {
						root = filepath.Dir(path)
					}
				}
				fmt.Fprintln(out, "Resolving templates...")

				resolved, err := template.NewEngine(root).ResolveFile(path, nil)
				if err != nil {
					fmt.Fprintf(out, "%s template error: %v\n", output.Fail("ERROR:"), err)
					os.Exit(1)
				}
				pipeline.Normalize(resolved)
				rs, rj, rst := countScopes(resolved)
				fmt.Fprintf(out, "  %s Templates resolved: %d stages, %d jobs, %d steps\n", output.Pass("ok"), rs, rj, rst)
			}

			fmt.Fprintln(out)
			fmt.Fprintf(out, "%s Pipeline is valid\n", output.Pass("OK"))
			return nil
		},
	}

	cmd.Flags().BoolVar(&templates, "templates", false, "Also validate template resolution")
	cmd.Flags().StringVar(&repoRoot, "repo-root", "", "Repository root for template resolution")
	return cmd
}
