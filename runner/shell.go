// Package runner executes shell steps locally or inside Docker
// containers, streaming output line by line.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/c360studio/roxid/runtime"
)

// terminateGrace is how long a process gets between SIGTERM and SIGKILL
// on cancellation.
const terminateGrace = 5 * time.Second

// Shell runs scripts in local interpreters. The zero value is usable.
type Shell struct {
	Logger *slog.Logger
}

// NewShell returns a local shell runner.
func NewShell(logger *slog.Logger) *Shell {
	if logger == nil {
		logger = slog.Default()
	}
	return &Shell{Logger: logger}
}

// interpreter maps a shell kind to its executable and argument list. The
// script body is appended as the final argument.
func interpreter(kind runtime.ShellKind) (string, []string, error) {
	switch kind {
	case runtime.ShellScript:
		return "sh", []string{"-c"}, nil
	case runtime.ShellBash:
		return "bash", []string{"-c"}, nil
	case runtime.ShellPwsh, runtime.ShellPowerShell:
		// Windows PowerShell falls back to pwsh off Windows.
		return "pwsh", []string{"-NoLogo", "-NoProfile", "-Command"}, nil
	}
	return "", nil, fmt.Errorf("unknown shell kind '%s'", kind)
}

// RunShell executes the request's script and streams each output line to
// req.OnLine before returning the captured outcome. With FailOnStderr
// set, any stderr emission forces a non-zero exit code.
func (s *Shell) RunShell(ctx context.Context, req runtime.ShellRequest) (*runtime.ShellOutcome, error) {
	name, args, err := interpreter(req.Shell)
	if err != nil {
		return nil, err
	}

	script := req.Script
	if req.Shell == runtime.ShellPwsh || req.Shell == runtime.ShellPowerShell {
		if pref := req.ErrorActionPreference; pref != "" {
			script = fmt.Sprintf("$ErrorActionPreference = '%s'\n%s", pref, script)
		}
	}

	cmd := exec.CommandContext(ctx, name, append(args, script)...)
	cmd.Dir = req.WorkingDir
	cmd.Env = mergedEnv(req.Env)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = terminateGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("pipe stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("pipe stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}

	outcome := &runtime.ShellOutcome{}
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		outcome.Stdout = readLines(stdout, false, req.OnLine, nil)
	}()
	go func() {
		defer wg.Done()
		outcome.Stderr = readLines(stderr, true, req.OnLine, func() {
			mu.Lock()
			outcome.WroteStderr = true
			mu.Unlock()
		})
	}()
	wg.Wait()

	waitErr := cmd.Wait()
	switch {
	case waitErr == nil:
		outcome.ExitCode = 0
	default:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			outcome.ExitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("wait for %s: %w", name, waitErr)
		}
	}
	if ctx.Err() != nil && outcome.ExitCode == 0 {
		outcome.ExitCode = -1
	}

	if req.FailOnStderr && outcome.WroteStderr && outcome.ExitCode == 0 {
		s.Logger.Debug("failing step on stderr output")
		outcome.ExitCode = 1
	}
	return outcome, nil
}

// readLines forwards each line as it arrives and returns the joined
// capture. onFirst fires once on the first line, before forwarding.
func readLines(r io.Reader, stderr bool, onLine func(string, bool), onFirst func()) string {
	var b strings.Builder
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if onFirst != nil {
			onFirst()
			onFirst = nil
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		if onLine != nil {
			onLine(line, stderr)
		}
	}
	return b.String()
}

// mergedEnv layers extra entries onto the process environment.
func mergedEnv(extra map[string]string) []string {
	if len(extra) == 0 {
		return os.Environ()
	}
	env := os.Environ()
	seen := make(map[string]int, len(env))
	for i, entry := range env {
		if k, _, ok := strings.Cut(entry, "="); ok {
			seen[k] = i
		}
	}
	for k, v := range extra {
		entry := k + "=" + v
		if i, ok := seen[k]; ok {
			env[i] = entry
			continue
		}
		env = append(env, entry)
	}
	return env
}
