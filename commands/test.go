package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/c360studio/roxid/config"
	"github.com/c360studio/roxid/harness"
	"github.com/c360studio/roxid/output"
	"github.com/c360studio/roxid/runner"
	"github.com/c360studio/roxid/task"
)

// NewTestCommand builds the `roxid test` command.
func NewTestCommand(cfg *config.Config, logger *slog.Logger) *cobra.Command {
	var (
		filter     string
		format     string
		failFast   bool
		workingDir string
	)

	cmd := &cobra.Command{
		Use:   "test [suite-file]",
		Short: "Run pipeline test suites",
		Long: `Test runs pipeline test suites defined in roxid-test.yml files. With
no argument, suite files are discovered in the working directory and
its tests/ subtree.`,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			reportFormat, err := harness.ParseFormat(format)
			if err != nil {
				return err
			}

			workspace := workingDir
			if workspace == "" {
				workspace = cfg.Run.WorkingDir
			}

			var files []string
			if len(args) == 1 {
				if _, err := os.Stat(args[0]); err != nil {
					return fmt.Errorf("test file not found: %s", args[0])
				}
				files = []string{args[0]}
			} else {
				root := workspace
				if root == "" {
					root, _ = os.Getwd()
				}
				files, err = harness.Discover(root)
				if err != nil {
					return fmt.Errorf("discover test files: %w", err)
				}
			}

			if len(files) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), output.Skip("No test files found. Create a roxid-test.yml file to define tests."))
				return nil
			}

			shell := runner.NewShell(logger)
			var cache *task.Cache
			if cfg.Tasks.CacheDir != "" {
				cache = task.NewCacheAt(cfg.Tasks.CacheDir)
			} else {
				cache = task.NewCache()
			}
			run := &harness.Runner{
				WorkingDir: workspace,
				Filter:     filter,
				FailFast:   failFast,
				Shell:      shell,
				Tasks:      task.NewRunner(cache, shell),
				Containers: runner.NewProvider(workspace, logger),
				Logger:     logger,
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "Running %d test file(s)\n", len(files))

			allPassed := true
			totalPassed, totalFailed, totalSkipped := 0, 0, 0
			for _, file := range files {
				fmt.Fprintf(cmd.ErrOrStderr(), "  %s\n", output.Dim.Render(file))
				suiteResult, err := run.RunFile(cmd.Context(), file)
				if err != nil {
					allPassed = false
					totalFailed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s failed to run test file '%s': %v\n", output.Fail("ERROR:"), file, err)
					continue
				}
				totalPassed += suiteResult.Passed
				totalFailed += suiteResult.Failed
				totalSkipped += suiteResult.Skipped
				if !suiteResult.AllPassed() {
					allPassed = false
				}
				fmt.Fprint(cmd.OutOrStdout(), harness.Report(suiteResult, reportFormat))
			}

			total := totalPassed + totalFailed + totalSkipped
			fmt.Fprintln(cmd.ErrOrStderr())
			if allPassed {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s All %d tests passed (%d passed, %d skipped)\n",
					output.Pass("OK"), total, totalPassed, totalSkipped)
			} else {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s %d of %d tests failed (%d passed, %d failed, %d skipped)\n",
					output.Fail("FAIL"), totalFailed, total, totalPassed, totalFailed, totalSkipped)
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&filter, "filter", "f", "", "Filter tests by name (substring or glob)")
	cmd.Flags().StringVarP(&format, "output", "o", "terminal", "Report format: terminal, junit, tap")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "Stop on the first failing test")
	cmd.Flags().StringVarP(&workingDir, "working-dir", "w", "", "Working directory for test execution")
	return cmd
}
