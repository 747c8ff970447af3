package task

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360studio/roxid/runtime"
)

// Runner executes task steps: builtin utility tasks map straight onto a
// shell invocation, cached tasks run their manifest's declared entry
// point with inputs exported as INPUT_* environment variables.
type Runner struct {
	Cache *Cache
	Shell runtime.ShellRunner
	// NodePath overrides the node executable used for Node-based tasks.
	NodePath string
}

// NewRunner wires a task runner to a cache and a shell runner.
func NewRunner(cache *Cache, shell runtime.ShellRunner) *Runner {
	return &Runner{Cache: cache, Shell: shell, NodePath: "node"}
}

// RunTask resolves the reference, validates and defaults inputs, and
// executes the task.
func (r *Runner) RunTask(ctx context.Context, req runtime.TaskRequest) (*runtime.ShellOutcome, error) {
	cached, err := r.Cache.Get(req.Ref)
	if err != nil {
		return nil, err
	}
	if err := cached.Manifest.ValidateInputs(req.Inputs); err != nil {
		return nil, err
	}

	inputs := cached.Manifest.DefaultValues()
	for k, v := range req.Inputs {
		inputs[k] = v
	}

	switch cached.Name {
	case "Bash":
		return r.runBashTask(ctx, inputs, req)
	case "PowerShell":
		return r.runPowerShellTask(ctx, inputs, req)
	case "CmdLine":
		return r.runCmdLineTask(ctx, inputs, req)
	}
	return r.runManifestTask(ctx, cached, inputs, req)
}

func (r *Runner) runBashTask(ctx context.Context, inputs map[string]string, req runtime.TaskRequest) (*runtime.ShellOutcome, error) {
	script, err := r.inlineOrFileScript(inputs, req.WorkingDir)
	if err != nil {
		return nil, err
	}
	if args := inputs["arguments"]; args != "" {
		script += " " + args
	}
	return r.Shell.RunShell(ctx, runtime.ShellRequest{
		Shell:        runtime.ShellBash,
		Script:       script,
		WorkingDir:   workingDir(inputs, req.WorkingDir),
		Env:          req.Env,
		FailOnStderr: inputs["failOnStderr"] == "true",
		OnLine:       req.OnLine,
	})
}

func (r *Runner) runPowerShellTask(ctx context.Context, inputs map[string]string, req runtime.TaskRequest) (*runtime.ShellOutcome, error) {
	script, err := r.inlineOrFileScript(inputs, req.WorkingDir)
	if err != nil {
		return nil, err
	}
	kind := runtime.ShellPowerShell
	if inputs["pwsh"] == "true" {
		kind = runtime.ShellPwsh
	}
	return r.Shell.RunShell(ctx, runtime.ShellRequest{
		Shell:                 kind,
		Script:                script,
		WorkingDir:            workingDir(inputs, req.WorkingDir),
		Env:                   req.Env,
		FailOnStderr:          inputs["failOnStderr"] == "true",
		ErrorActionPreference: inputs["errorActionPreference"],
		OnLine:                req.OnLine,
	})
}

func (r *Runner) runCmdLineTask(ctx context.Context, inputs map[string]string, req runtime.TaskRequest) (*runtime.ShellOutcome, error) {
	script := inputs["script"]
	if script == "" {
		return nil, fmt.Errorf("task 'CmdLine' requires input 'script'")
	}
	return r.Shell.RunShell(ctx, runtime.ShellRequest{
		Shell:        runtime.ShellScript,
		Script:       script,
		WorkingDir:   workingDir(inputs, req.WorkingDir),
		Env:          req.Env,
		FailOnStderr: inputs["failOnStderr"] == "true",
		OnLine:       req.OnLine,
	})
}

// runManifestTask executes a cached task by its declared handler.
func (r *Runner) runManifestTask(ctx context.Context, cached *CachedTask, inputs map[string]string, req runtime.TaskRequest) (*runtime.ShellOutcome, error) {
	env := taskEnv(inputs, req)

	if entry := cached.Manifest.NodeEntry(); entry != nil {
		target := filepath.Join(cached.Dir, entry.Target)
		return r.Shell.RunShell(ctx, runtime.ShellRequest{
			Shell:      runtime.ShellScript,
			Script:     fmt.Sprintf("%s '%s'", r.nodePath(), target),
			WorkingDir: req.WorkingDir,
			Env:        env,
			OnLine:     req.OnLine,
		})
	}
	if entry := cached.Manifest.PowerShellEntry(); entry != nil {
		target := filepath.Join(cached.Dir, entry.Target)
		return r.Shell.RunShell(ctx, runtime.ShellRequest{
			Shell:      runtime.ShellPwsh,
			Script:     fmt.Sprintf("& '%s'", target),
			WorkingDir: req.WorkingDir,
			Env:        env,
			OnLine:     req.OnLine,
		})
	}
	return nil, fmt.Errorf("task '%s@%s' declares no supported execution handler", cached.Name, cached.Version)
}

func (r *Runner) nodePath() string {
	if r.NodePath != "" {
		return r.NodePath
	}
	return "node"
}

// inlineOrFileScript reads the script body per the targetType input.
func (r *Runner) inlineOrFileScript(inputs map[string]string, workDir string) (string, error) {
	targetType := inputs["targetType"]
	if targetType == "" {
		targetType = "inline"
	}
	switch targetType {
	case "inline":
		script := inputs["script"]
		if script == "" {
			return "", fmt.Errorf("task requires input 'script' for inline execution")
		}
		return script, nil
	case "filePath":
		path := inputs["filePath"]
		if path == "" {
			return "", fmt.Errorf("task requires input 'filePath' for file execution")
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(workDir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("read task script: %w", err)
		}
		return string(data), nil
	}
	return "", fmt.Errorf("unknown targetType '%s'", targetType)
}

func workingDir(inputs map[string]string, fallback string) string {
	if dir := inputs["workingDirectory"]; dir != "" {
		if filepath.IsAbs(dir) {
			return dir
		}
		return filepath.Join(fallback, dir)
	}
	return fallback
}

// taskEnv layers INPUT_* exports and agent library variables onto the
// request environment.
func taskEnv(inputs map[string]string, req runtime.TaskRequest) map[string]string {
	env := make(map[string]string, len(req.Env)+len(inputs)+3)
	for k, v := range req.Env {
		env[k] = v
	}
	for k, v := range inputs {
		env["INPUT_"+inputEnvName(k)] = v
	}
	env["AGENT_TEMPDIRECTORY"] = os.TempDir()
	env["AGENT_WORKFOLDER"] = req.WorkingDir
	env["SYSTEM_DEFAULTWORKINGDIRECTORY"] = req.WorkingDir
	return env
}

func inputEnvName(name string) string {
	mapped := strings.Map(func(r rune) rune {
		if r == ' ' || r == '.' {
			return '_'
		}
		return r
	}, name)
	return strings.ToUpper(mapped)
}
