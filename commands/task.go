package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/c360studio/roxid/config"
	"github.com/c360studio/roxid/output"
	"github.com/c360studio/roxid/task"
)

// NewTaskCommand builds the `roxid task` command group.
func NewTaskCommand(cfg *config.Config) *cobra.Command {
	var cacheDir string

	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage the task cache",
	}
	cmd.PersistentFlags().StringVar(&cacheDir, "task-cache", "", "Task cache directory")

	openCache := func() *task.Cache {
		dir := cacheDir
		if dir == "" {
			dir = cfg.Tasks.CacheDir
		}
		if dir != "" {
			return task.NewCacheAt(dir)
		}
		return task.NewCache()
	}

	cmd.AddCommand(&cobra.Command{
		Use:          "list",
		Short:        "List cached tasks",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cache := openCache()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Tasks cached in %s\n", cache.Dir())

			tasks, err := cache.List()
			if err != nil {
				return fmt.Errorf("list tasks: %w", err)
			}
			if len(tasks) == 0 {
				fmt.Fprintln(out, output.Dim.Render("  No tasks cached"))
				return nil
			}
			for _, entry := range tasks {
				fmt.Fprintf(out, "  %s@%s\n", entry[0], entry[1])
			}
			fmt.Fprintln(out)
			fmt.Fprintln(out, output.Dim.Render(fmt.Sprintf("  %d task(s) total", len(tasks))))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:          "fetch <ref>",
		Short:        "Resolve a task reference into the cache (e.g. Bash@3)",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cache := openCache()
			fmt.Fprintf(cmd.OutOrStdout(), "Fetching %s\n", args[0])

			resolved, err := cache.Get(args[0])
			if err != nil {
				return fmt.Errorf("fetch '%s': %w", args[0], err)
			}
			location := resolved.Dir
			if location == "" {
				location = "builtin"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s Cached %s@%s (%s)\n",
				output.Pass("OK"), resolved.Name, resolved.Version, location)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:          "clear [ref]",
		Short:        "Clear the task cache, or one cached task",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cache := openCache()
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				name, version, err := task.ParseRef(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Clearing %s@%s\n", name, version)
				if err := cache.ClearTask(name, version); err != nil {
					return fmt.Errorf("clear task: %w", err)
				}
				fmt.Fprintf(out, "%s Task removed from cache\n", output.Pass("OK"))
				return nil
			}

			fmt.Fprintln(out, "Clearing all cached tasks")
			if err := cache.Clear(); err != nil {
				return fmt.Errorf("clear cache: %w", err)
			}
			fmt.Fprintf(out, "%s Task cache cleared\n", output.Pass("OK"))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the task cache directory",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), openCache().Dir())
		},
	})

	return cmd
}
