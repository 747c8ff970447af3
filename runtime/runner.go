package runtime

import (
	"context"

	"github.com/c360studio/roxid/pipeline"
)

// ShellKind selects the interpreter for a shell step.
type ShellKind string

const (
	ShellScript     ShellKind = "script"
	ShellBash       ShellKind = "bash"
	ShellPwsh       ShellKind = "pwsh"
	ShellPowerShell ShellKind = "powershell"
)

// ShellRequest describes one shell invocation. Env entries layer on top
// of the parent process environment. OnLine is called for every output
// line as it streams, before the process exits.
type ShellRequest struct {
	Shell                 ShellKind
	Script                string
	WorkingDir            string
	Env                   map[string]string
	FailOnStderr          bool
	ErrorActionPreference string
	OnLine                func(line string, stderr bool)
}

// ShellOutcome is the captured result of a finished subprocess.
type ShellOutcome struct {
	ExitCode    int
	Stdout      string
	Stderr      string
	WroteStderr bool
}

// ShellRunner executes shell steps. Implementations run the script in a
// local interpreter or inside a container.
type ShellRunner interface {
	RunShell(ctx context.Context, req ShellRequest) (*ShellOutcome, error)
}

// TaskRequest describes one task-step invocation by cache reference.
type TaskRequest struct {
	Ref        string
	Inputs     map[string]string
	Env        map[string]string
	WorkingDir string
	OnLine     func(line string, stderr bool)
}

// TaskRunner resolves Name@Major task references and executes their
// entry points.
type TaskRunner interface {
	RunTask(ctx context.Context, req TaskRequest) (*ShellOutcome, error)
}

// ContainerRunner is a ShellRunner bound to one job container, with an
// explicit lifecycle bracketing the job's steps.
type ContainerRunner interface {
	ShellRunner
	Start(ctx context.Context) error
	Stop(ctx context.Context)
}

// ContainerProvider creates job and service containers. Jobs that
// declare a container or services fail when the executor has no
// provider configured.
type ContainerProvider interface {
	Container(ref *pipeline.ContainerRef) ContainerRunner
	StartService(ctx context.Context, name string, ref *pipeline.ContainerRef) (string, error)
	StopService(ctx context.Context, handle string)
}
