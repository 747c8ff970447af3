// Package commands defines the roxid CLI commands.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/c360studio/roxid/config"
	"github.com/c360studio/roxid/output"
	"github.com/c360studio/roxid/pipeline"
	"github.com/c360studio/roxid/runner"
	"github.com/c360studio/roxid/runtime"
	"github.com/c360studio/roxid/task"
	"github.com/c360studio/roxid/template"
)

// runOptions carries everything one pipeline run needs. Progress goes to
// Progress (human-readable, stderr by default); the JSON summary goes to
// Summary (stdout).
type runOptions struct {
	Variables  map[string]string
	Stage      string
	Job        string
	WorkingDir string
	Env        map[string]string
	TaskCache  string
	Progress   io.Writer
	Summary    io.Writer
	Logger     *slog.Logger
}

// NewRunCommand builds the `roxid run` command.
func NewRunCommand(cfg *config.Config, logger *slog.Logger) *cobra.Command {
	var (
		vars       []string
		stage      string
		job        string
		workingDir string
		taskCache  string
		envFile    string
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "run <pipeline>",
		Short: "Run a pipeline locally",
		Long: `Run resolves templates, builds the execution graph, and executes the
pipeline with local shell and task runners. Progress is rendered to
stderr; a JSON summary of the run is written to stdout.`,
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("pipeline file not found: %s", path)
			}

			callerVars := map[string]string{}
			for k, v := range cfg.Run.Variables {
				callerVars[k] = v
			}
			for _, pair := range vars {
				name, value, found := strings.Cut(pair, "=")
				if !found || name == "" {
					return fmt.Errorf("invalid variable format '%s': expected name=value", pair)
				}
				callerVars[name] = value
			}

			workspace := workingDir
			if workspace == "" {
				workspace = cfg.Run.WorkingDir
			}
			if workspace == "" {
				if cwd, err := os.Getwd(); err == nil {
					workspace = cwd
				}
			}

			env := map[string]string{}
			dotenvPath := envFile
			if dotenvPath == "" {
				dotenvPath = cfg.Run.EnvFile
			}
			if dotenvPath != "" {
				loaded, err := godotenv.Read(dotenvPath)
				if err != nil {
					return fmt.Errorf("load env file '%s': %w", dotenvPath, err)
				}
				env = loaded
			}

			cacheDir := taskCache
			if cacheDir == "" {
				cacheDir = cfg.Tasks.CacheDir
			}

			opts := runOptions{
				Variables:  callerVars,
				Stage:      stage,
				Job:        job,
				WorkingDir: workspace,
				Env:        env,
				TaskCache:  cacheDir,
				Progress:   cmd.ErrOrStderr(),
				Summary:    cmd.OutOrStdout(),
				Logger:     logger,
			}

			if watch {
				return watchAndRun(cmd.Context(), path, opts)
			}

			ok, err := runOnce(cmd.Context(), path, opts)
			if err != nil {
				return err
			}
			if !ok {
				os.Exit(1)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&vars, "var", "v", nil, "Set a variable (repeatable, format: name=value)")
	cmd.Flags().StringVar(&stage, "stage", "", "Run only the named stage")
	cmd.Flags().StringVar(&job, "job", "", "Run only the named job")
	cmd.Flags().StringVarP(&workingDir, "working-dir", "w", "", "Working directory for execution")
	cmd.Flags().StringVar(&taskCache, "task-cache", "", "Task cache directory")
	cmd.Flags().StringVar(&envFile, "env-file", "", "Load extra step environment from a dotenv file")
	cmd.Flags().BoolVar(&watch, "watch", false, "Re-run when the pipeline file changes")
	return cmd
}

// runOnce resolves, executes, and renders one pipeline run. It reports
// whether the run succeeded.
func runOnce(ctx context.Context, path string, opts runOptions) (bool, error) {
	eng := template.NewEngine(filepath.Dir(path))
	pl, err := eng.ResolveFile(path, nil)
	if err != nil {
		return false, fmt.Errorf("resolve pipeline: %w", err)
	}
	pipeline.Normalize(pl)

	name := pl.Name
	if name == "" {
		name = filepath.Base(path)
		pl.Name = name
	}
	stages, jobs, steps := countScopes(pl)
	fmt.Fprintf(opts.Progress, "Pipeline '%s': %d stages, %d jobs, %d steps\n", name, stages, jobs, steps)

	var cache *task.Cache
	if opts.TaskCache != "" {
		cache = task.NewCacheAt(opts.TaskCache)
	} else {
		cache = task.NewCache()
	}
	shell := runner.NewShell(opts.Logger)

	exec := &runtime.Executor{
		Workspace:  opts.WorkingDir,
		Shell:      shell,
		Tasks:      task.NewRunner(cache, shell),
		Containers: runner.NewProvider(opts.WorkingDir, opts.Logger),
		Logger:     opts.Logger,
		CallerVars: opts.Variables,
		Env:        opts.Env,
	}
	if opts.Stage != "" {
		exec.StageFilter = []string{opts.Stage}
	}
	if opts.Job != "" {
		exec.JobFilter = []string{opts.Job}
	}

	sink := runtime.NewChannelSink(256)
	exec.Events = sink

	type outcome struct {
		result *pipeline.ExecutionResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := exec.Execute(ctx, pl)
		sink.Close()
		done <- outcome{result, err}
	}()

	renderEvents(opts.Progress, name, stages, sink.C)

	out := <-done
	if out.err != nil {
		return false, out.err
	}

	summary, err := json.MarshalIndent(out.result, "", "  ")
	if err != nil {
		return false, fmt.Errorf("encode run summary: %w", err)
	}
	fmt.Fprintln(opts.Summary, string(summary))
	return out.result.Success, nil
}

// renderEvents drains the run's event stream into human-readable
// progress lines.
func renderEvents(w io.Writer, pipelineName string, totalStages int, events <-chan runtime.Event) {
	for ev := range events {
		switch ev.Kind {
		case runtime.EventPipelineStarted:
			fmt.Fprintln(w)
			fmt.Fprintln(w, output.Header.Render(fmt.Sprintf("Pipeline '%s' (%d stages)", pipelineName, totalStages)))

		case runtime.EventPipelineCompleted:
			fmt.Fprintln(w)
			if ev.Status.Passed() {
				fmt.Fprintf(w, "%s Pipeline completed successfully in %s\n",
					output.Pass("OK"), output.Duration(ev.Duration))
			} else {
				fmt.Fprintf(w, "%s Pipeline %s after %s\n",
					output.Fail("FAIL"), strings.ToLower(string(ev.Status)), output.Duration(ev.Duration))
			}

		case runtime.EventStageStarted:
			fmt.Fprintf(w, "\n%s\n", output.Header.Render("Stage: "+ev.Stage))

		case runtime.EventStageCompleted:
			if ev.Status == pipeline.StatusSkipped {
				fmt.Fprintf(w, "  Stage '%s' %s: %s\n", ev.Stage, output.Skip("SKIP"), ev.Line)
				continue
			}
			fmt.Fprintf(w, "  Stage '%s' %s (%s)\n", ev.Stage, output.StatusBadge(ev.Status), output.Duration(ev.Duration))

		case runtime.EventJobStarted:
			fmt.Fprintf(w, "    Job '%s'\n", ev.Job)

		case runtime.EventJobCompleted:
			fmt.Fprintf(w, "    Job '%s' %s (%s)\n", ev.Job, output.StatusBadge(ev.Status), output.Duration(ev.Duration))

		case runtime.EventStepStarted:
			fmt.Fprintf(w, "      [Step] %s\n", ev.Step)

		case runtime.EventStepOutput:
			if ev.Stderr {
				fmt.Fprintf(w, "        %s\n", output.Fail(ev.Line))
			} else {
				fmt.Fprintf(w, "        %s\n", ev.Line)
			}

		case runtime.EventVariableSet:
			fmt.Fprintf(w, "        %s\n", output.Dim.Render("[var] "+ev.Line))

		case runtime.EventStepSkipped:
			fmt.Fprintf(w, "        %s %s skipped: %s\n", output.Skip("SKIP"), ev.Step, ev.Line)

		case runtime.EventStepCompleted:
			exitInfo := ""
			if ev.ExitCode != nil && *ev.ExitCode != 0 {
				exitInfo = fmt.Sprintf(" (exit code: %d)", *ev.ExitCode)
			}
			fmt.Fprintf(w, "        %s (%s)%s\n", output.StatusBadge(ev.Status), output.Duration(ev.Duration), exitInfo)
		}
	}
}

// watchAndRun executes the pipeline, then re-executes it whenever the
// file (or anything else in its directory, templates included) changes.
func watchAndRun(ctx context.Context, path string, opts runOptions) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files on save, so watch the directory rather than
	// the file itself.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch '%s': %w", dir, err)
	}

	if _, err := runOnce(ctx, path, opts); err != nil {
		fmt.Fprintf(opts.Progress, "%s %v\n", output.Fail("ERROR:"), err)
	}
	fmt.Fprintf(opts.Progress, "\nWatching %s for changes (Ctrl-C to stop)\n", dir)

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !isPipelineFile(event.Name) {
				continue
			}
			debounce = time.After(200 * time.Millisecond)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(opts.Progress, "%s watch error: %v\n", output.Fail("ERROR:"), err)
		case <-debounce:
			debounce = nil
			fmt.Fprintf(opts.Progress, "\nChange detected, re-running %s\n", path)
			if _, err := runOnce(ctx, path, opts); err != nil {
				fmt.Fprintf(opts.Progress, "%s %v\n", output.Fail("ERROR:"), err)
			}
			fmt.Fprintf(opts.Progress, "\nWatching %s for changes (Ctrl-C to stop)\n", dir)
		}
	}
}

func isPipelineFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yml", ".yaml":
		return true
	}
	return false
}

func countScopes(p *pipeline.Pipeline) (stages, jobs, steps int) {
	stages = len(p.Stages)
	for i := range p.Stages {
		jobs += len(p.Stages[i].Jobs)
		for j := range p.Stages[i].Jobs {
			steps += len(p.Stages[i].Jobs[j].Steps)
		}
	}
	return stages, jobs, steps
}
