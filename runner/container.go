package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/google/uuid"
	shellquote "github.com/kballard/go-shellquote"

	"github.com/c360studio/roxid/pipeline"
	"github.com/c360studio/roxid/runtime"
)

// PullPolicy controls when images are pulled before use.
type PullPolicy string

const (
	PullAlways       PullPolicy = "always"
	PullIfNotPresent PullPolicy = "ifNotPresent"
	PullNever        PullPolicy = "never"
)

// Container runs shell steps inside a Docker container, shelling out to
// the docker CLI. The job's container is created once and each step
// execs into it with the workspace mounted at /workspace.
type Container struct {
	Ref        *pipeline.ContainerRef
	Workspace  string
	PullPolicy PullPolicy
	Logger     *slog.Logger

	handle string
}

// NewContainer returns a runner for the given container reference.
func NewContainer(ref *pipeline.ContainerRef, workspace string, logger *slog.Logger) *Container {
	if logger == nil {
		logger = slog.Default()
	}
	return &Container{
		Ref:        ref,
		Workspace:  workspace,
		PullPolicy: PullIfNotPresent,
		Logger:     logger,
	}
}

// Available reports whether the docker CLI responds.
func Available(ctx context.Context) bool {
	return exec.CommandContext(ctx, "docker", "version").Run() == nil
}

// Start pulls the image per policy and creates the long-lived job
// container, kept alive until Stop.
func (c *Container) Start(ctx context.Context) error {
	if err := c.pullIfNeeded(ctx, c.Ref.Image); err != nil {
		return err
	}

	name := "roxid-" + uuid.NewString()[:8]
	args := []string{
		"create",
		"--name", name,
		"-w", "/workspace",
		"-v", c.Workspace + ":/workspace",
	}
	for k, v := range c.Ref.Env {
		args = append(args, "-e", k+"="+v)
	}
	for _, volume := range c.Ref.Volumes {
		args = append(args, "-v", volume)
	}
	for _, port := range c.Ref.Ports {
		args = append(args, "-p", port)
	}
	if c.Ref.MapDockerSocket != nil && *c.Ref.MapDockerSocket {
		args = append(args, "-v", "/var/run/docker.sock:/var/run/docker.sock")
	}
	if c.Ref.Options != "" {
		opts, err := shellquote.Split(c.Ref.Options)
		if err != nil {
			return fmt.Errorf("parse container options '%s': %w", c.Ref.Options, err)
		}
		args = append(args, opts...)
	}
	args = append(args, c.Ref.Image, "tail", "-f", "/dev/null")

	if out, err := docker(ctx, args...); err != nil {
		return fmt.Errorf("create container for %s: %w: %s", c.Ref.Image, err, out)
	}
	if out, err := docker(ctx, "start", name); err != nil {
		return fmt.Errorf("start container %s: %w: %s", name, err, out)
	}
	c.handle = name
	c.Logger.Info("container started", slog.String("name", name), slog.String("image", c.Ref.Image))
	return nil
}

// Stop removes the job container.
func (c *Container) Stop(ctx context.Context) {
	if c.handle == "" {
		return
	}
	if _, err := docker(ctx, "rm", "-f", c.handle); err != nil {
		c.Logger.Warn("failed to remove container", slog.String("name", c.handle), slog.Any("error", err))
	}
	c.handle = ""
}

// RunShell execs the script inside the job container. PowerShell kinds
// are not supported in containers; the image would need pwsh installed
// and mapped, which local runs do not manage.
func (c *Container) RunShell(ctx context.Context, req runtime.ShellRequest) (*runtime.ShellOutcome, error) {
	if c.handle == "" {
		return nil, fmt.Errorf("container not started")
	}
	shell := "sh"
	if req.Shell == runtime.ShellBash {
		shell = "bash"
	}

	args := []string{"exec", "-w", "/workspace"}
	for k, v := range req.Env {
		args = append(args, "-e", k+"="+v)
	}
	args = append(args, c.handle, shell, "-c", req.Script)

	cmd := exec.CommandContext(ctx, "docker", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("pipe stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("pipe stderr: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("docker exec: %w", err)
	}

	outcome := &runtime.ShellOutcome{}
	done := make(chan struct{})
	go func() {
		outcome.Stdout = readLines(stdout, false, req.OnLine, nil)
		close(done)
	}()
	outcome.Stderr = readLines(stderr, true, req.OnLine, func() {
		outcome.WroteStderr = true
	})
	<-done

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("docker exec wait: %w", err)
		}
		outcome.ExitCode = exitErr.ExitCode()
	}
	if req.FailOnStderr && outcome.WroteStderr && outcome.ExitCode == 0 {
		outcome.ExitCode = 1
	}
	return outcome, nil
}

// StartService launches a detached service container and returns its
// name for teardown.
func StartService(ctx context.Context, name string, ref *pipeline.ContainerRef, logger *slog.Logger) (string, error) {
	containerName := "roxid-svc-" + name + "-" + uuid.NewString()[:8]
	args := []string{"run", "-d", "--name", containerName}
	for k, v := range ref.Env {
		args = append(args, "-e", k+"="+v)
	}
	for _, port := range ref.Ports {
		args = append(args, "-p", port)
	}
	for _, volume := range ref.Volumes {
		args = append(args, "-v", volume)
	}
	args = append(args, ref.Image)

	if out, err := docker(ctx, args...); err != nil {
		return "", fmt.Errorf("start service '%s': %w: %s", name, err, out)
	}
	if logger != nil {
		logger.Info("service container started", slog.String("service", name), slog.String("image", ref.Image))
	}
	return containerName, nil
}

// StopService removes a service container by name.
func StopService(ctx context.Context, containerName string) {
	_, _ = docker(ctx, "rm", "-f", containerName)
}

func (c *Container) pullIfNeeded(ctx context.Context, image string) error {
	switch c.PullPolicy {
	case PullNever:
		return nil
	case PullAlways:
		return pull(ctx, image)
	}
	if _, err := docker(ctx, "image", "inspect", image); err == nil {
		return nil
	}
	return pull(ctx, image)
}

func pull(ctx context.Context, image string) error {
	if out, err := docker(ctx, "pull", image); err != nil {
		return fmt.Errorf("pull %s: %w: %s", image, err, out)
	}
	return nil
}

func docker(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "docker", args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return strings.TrimSpace(buf.String()), err
}
