package runtime

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/roxid/pipeline"
)

func TestBuildGraphLevels(t *testing.T) {
	deps := map[string][]string{
		"A": nil,
		"B": {"A"},
		"C": {"A"},
		"D": {"B", "C"},
	}
	g, err := BuildGraph([]string{"A", "B", "C", "D"}, func(n string) []string { return deps[n] })
	require.NoError(t, err)

	require.Len(t, g.Levels, 3)
	assert.Equal(t, []string{"A"}, g.Levels[0])
	assert.ElementsMatch(t, []string{"B", "C"}, g.Levels[1])
	assert.Equal(t, []string{"D"}, g.Levels[2])
	assert.Equal(t, "A", g.Order[0])
}

func TestBuildGraphCycle(t *testing.T) {
	deps := map[string][]string{"A": {"B"}, "B": {"A"}}
	_, err := BuildGraph([]string{"A", "B"}, func(n string) []string { return deps[n] })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular dependency")
}

func TestBuildGraphUnknownDepSuggestion(t *testing.T) {
	deps := map[string][]string{"Build": nil, "Deploy": {"Biuld"}}
	_, err := BuildGraph([]string{"Build", "Deploy"}, func(n string) []string { return deps[n] })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did you mean 'Build'")
}

func TestExpandMatrixConfigs(t *testing.T) {
	job := &pipeline.Job{
		Job: "Build",
		Strategy: &pipeline.Strategy{
			Matrix: &pipeline.Matrix{Configs: []pipeline.MatrixConfig{
				{Name: "linux", Variables: map[string]string{"os": "ubuntu"}},
				{Name: "windows", Variables: map[string]string{"os": "win"}},
			}},
			MaxParallel: 1,
		},
	}
	instances, maxParallel, err := ExpandMatrix(job, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, maxParallel)
	require.Len(t, instances, 2)
	assert.Equal(t, "linux", instances[0].ConfigName)
	assert.Equal(t, "ubuntu", instances[0].Variables["os"])
}

func TestExpandMatrixParallel(t *testing.T) {
	job := &pipeline.Job{Job: "Fan", Strategy: &pipeline.Strategy{Parallel: 3}}
	instances, _, err := ExpandMatrix(job, nil)
	require.NoError(t, err)
	require.Len(t, instances, 3)
	assert.Equal(t, "Job_1", instances[0].ConfigName)
	assert.Equal(t, "Job_3", instances[2].ConfigName)
}

func TestExpandMatrixNoStrategy(t *testing.T) {
	job := &pipeline.Job{Job: "Solo"}
	instances, maxParallel, err := ExpandMatrix(job, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, maxParallel)
	require.Len(t, instances, 1)
	assert.Equal(t, "Solo", instances[0].ConfigName)
}

func TestParseLoggingCommand(t *testing.T) {
	cmd, ok := ParseLoggingCommand("##vso[task.setvariable variable=foo;isOutput=true]bar")
	require.True(t, ok)
	assert.Equal(t, "task", cmd.Area)
	assert.Equal(t, "setvariable", cmd.Action)
	assert.Equal(t, "foo", cmd.Props["variable"])
	assert.Equal(t, "true", cmd.Props["isOutput"])
	assert.Equal(t, "bar", cmd.Value)

	cmd, ok = ParseLoggingCommand("##vso[task.prependpath]/opt/tools/bin")
	require.True(t, ok)
	assert.Equal(t, "prependpath", cmd.Action)
	assert.Equal(t, "/opt/tools/bin", cmd.Value)

	_, ok = ParseLoggingCommand("plain output line")
	assert.False(t, ok)
	_, ok = ParseLoggingCommand("##vso[malformed")
	assert.False(t, ok)
}

// fakeShell records every request and answers via a per-test handler.
type fakeShell struct {
	mu      sync.Mutex
	runs    []ShellRequest
	handler func(req ShellRequest) *ShellOutcome
}

func (f *fakeShell) RunShell(_ context.Context, req ShellRequest) (*ShellOutcome, error) {
	f.mu.Lock()
	f.runs = append(f.runs, req)
	f.mu.Unlock()
	if f.handler != nil {
		return f.handler(req), nil
	}
	return &ShellOutcome{ExitCode: 0}, nil
}

func (f *fakeShell) scripts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.runs))
	for _, r := range f.runs {
		out = append(out, r.Script)
	}
	return out
}

func parsePipeline(t *testing.T, source string) *pipeline.Pipeline {
	t.Helper()
	p, err := pipeline.Parse([]byte(source))
	require.NoError(t, err)
	return p
}

func TestExecuteSimplePipeline(t *testing.T) {
	shell := &fakeShell{}
	exec := &Executor{Shell: shell, Workspace: t.TempDir()}
	p := parsePipeline(t, `
steps:
  - script: echo one
  - script: echo two
`)

	result, err := exec.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.Len(t, result.Stages, 1)
	require.Len(t, result.Stages[0].Jobs, 1)
	require.Len(t, result.Stages[0].Jobs[0].Steps, 2)
	assert.Equal(t, pipeline.StatusSucceeded, result.Stages[0].Status)
	assert.Equal(t, []string{"echo one", "echo two"}, shell.scripts())
}

func TestStepFailureSkipsRemaining(t *testing.T) {
	shell := &fakeShell{handler: func(req ShellRequest) *ShellOutcome {
		if req.Script == "exit 1" {
			return &ShellOutcome{ExitCode: 1}
		}
		return &ShellOutcome{ExitCode: 0}
	}}
	exec := &Executor{Shell: shell, Workspace: t.TempDir()}
	p := parsePipeline(t, `
steps:
  - script: exit 1
  - script: echo unreachable
`)

	result, err := exec.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, result.Success)
	steps := result.Stages[0].Jobs[0].Steps
	assert.Equal(t, pipeline.StatusFailed, steps[0].Status)
	assert.Equal(t, pipeline.StatusSkipped, steps[1].Status)
	assert.Equal(t, []string{"exit 1"}, shell.scripts())
}

func TestContinueOnError(t *testing.T) {
	shell := &fakeShell{handler: func(req ShellRequest) *ShellOutcome {
		if req.Script == "exit 1" {
			return &ShellOutcome{ExitCode: 1}
		}
		return &ShellOutcome{ExitCode: 0}
	}}
	exec := &Executor{Shell: shell, Workspace: t.TempDir()}
	p := parsePipeline(t, `
steps:
  - script: exit 1
    continueOnError: true
  - script: echo next
`)

	result, err := exec.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, result.Success)
	steps := result.Stages[0].Jobs[0].Steps
	assert.Equal(t, pipeline.StatusSucceededWithIssues, steps[0].Status)
	assert.Equal(t, pipeline.StatusSucceeded, steps[1].Status)
}

func TestAlwaysStepRunsAfterFailure(t *testing.T) {
	shell := &fakeShell{handler: func(req ShellRequest) *ShellOutcome {
		if req.Script == "exit 1" {
			return &ShellOutcome{ExitCode: 1}
		}
		return &ShellOutcome{ExitCode: 0}
	}}
	exec := &Executor{Shell: shell, Workspace: t.TempDir()}
	p := parsePipeline(t, `
steps:
  - script: exit 1
  - script: echo cleanup
    condition: always()
  - script: echo on-failure
    condition: failed()
`)

	result, err := exec.Execute(context.Background(), p)
	require.NoError(t, err)
	steps := result.Stages[0].Jobs[0].Steps
	assert.Equal(t, pipeline.StatusSucceeded, steps[1].Status)
	assert.Equal(t, pipeline.StatusSucceeded, steps[2].Status)
}

func TestSetVariableVisibleToLaterSteps(t *testing.T) {
	shell := &fakeShell{handler: func(req ShellRequest) *ShellOutcome {
		if req.Script == "produce" {
			req.OnLine("##vso[task.setvariable variable=greeting]hello", false)
		}
		return &ShellOutcome{ExitCode: 0}
	}}
	exec := &Executor{Shell: shell, Workspace: t.TempDir()}
	p := parsePipeline(t, `
steps:
  - script: produce
  - script: echo $(greeting)
`)

	_, err := exec.Execute(context.Background(), p)
	require.NoError(t, err)
	scripts := shell.scripts()
	require.Len(t, scripts, 2)
	assert.Equal(t, "echo hello", scripts[1])
}

func TestOutputVariableAcrossJobs(t *testing.T) {
	shell := &fakeShell{handler: func(req ShellRequest) *ShellOutcome {
		if req.Script == "produce" {
			req.OnLine("##vso[task.setvariable variable=version;isOutput=true]1.2.3", false)
		}
		return &ShellOutcome{ExitCode: 0}
	}}
	exec := &Executor{Shell: shell, Workspace: t.TempDir()}
	p := parsePipeline(t, `
jobs:
  - job: A
    steps:
      - script: produce
        name: setup
  - job: B
    dependsOn: A
    variables:
      fromA: $[ dependencies.A.outputs['setup.version'] ]
    steps:
      - script: echo $(fromA)
`)

	result, err := exec.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, result.Success)

	jobA := result.FindJob("Build", "A")
	require.NotNil(t, jobA)
	assert.Equal(t, "1.2.3", jobA.Outputs["setup.version"])

	scripts := shell.scripts()
	require.Len(t, scripts, 2)
	assert.Equal(t, "echo 1.2.3", scripts[1])
}

func TestMatrixInstancesGetOwnVariables(t *testing.T) {
	shell := &fakeShell{}
	exec := &Executor{Shell: shell, Workspace: t.TempDir()}
	p := parsePipeline(t, `
jobs:
  - job: Build
    strategy:
      matrix:
        linux:
          goos: linux
        windows:
          goos: windows
    steps:
      - script: build $(goos)
`)

	result, err := exec.Execute(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, result.Stages[0].Jobs, 2)
	names := []string{result.Stages[0].Jobs[0].MatrixConfig, result.Stages[0].Jobs[1].MatrixConfig}
	assert.ElementsMatch(t, []string{"linux", "windows"}, names)
	assert.ElementsMatch(t, []string{"build linux", "build windows"}, shell.scripts())
}

func TestFailedStageCascadesToDependent(t *testing.T) {
	shell := &fakeShell{handler: func(req ShellRequest) *ShellOutcome {
		if req.Script == "exit 1" {
			return &ShellOutcome{ExitCode: 1}
		}
		return &ShellOutcome{ExitCode: 0}
	}}
	exec := &Executor{Shell: shell, Workspace: t.TempDir()}
	p := parsePipeline(t, `
stages:
  - stage: Build
    jobs:
      - job: Compile
        steps:
          - script: exit 1
  - stage: Deploy
    jobs:
      - job: Release
        steps:
          - script: echo deploy
`)

	result, err := exec.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, pipeline.StatusFailed, result.Stages[0].Status)
	assert.Equal(t, pipeline.StatusSkipped, result.Stages[1].Status)
	// Skipped scopes still materialize their declared children.
	require.Len(t, result.Stages[1].Jobs, 1)
	require.Len(t, result.Stages[1].Jobs[0].Steps, 1)
	assert.Equal(t, pipeline.StatusSkipped, result.Stages[1].Jobs[0].Steps[0].Status)
}

func TestCallerVariablesWin(t *testing.T) {
	shell := &fakeShell{}
	exec := &Executor{
		Shell:      shell,
		Workspace:  t.TempDir(),
		CallerVars: map[string]string{"configuration": "Release"},
	}
	p := parsePipeline(t, `
variables:
  configuration: Debug
steps:
  - script: build -c $(configuration)
`)

	_, err := exec.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []string{"build -c Release"}, shell.scripts())
}

func TestRetryCountOnTaskFailure(t *testing.T) {
	attempts := 0
	shell := &fakeShell{handler: func(req ShellRequest) *ShellOutcome {
		attempts++
		if attempts < 3 {
			return &ShellOutcome{ExitCode: 1}
		}
		return &ShellOutcome{ExitCode: 0}
	}}
	exec := &Executor{Shell: shell, Workspace: t.TempDir()}
	p := parsePipeline(t, `
steps:
  - script: flaky
    retryCountOnTaskFailure: 2
`)

	result, err := exec.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, pipeline.StatusSucceeded, result.Stages[0].Jobs[0].Steps[0].Status)
}

func TestStageFilterSkipsUnselected(t *testing.T) {
	shell := &fakeShell{}
	exec := &Executor{Shell: shell, Workspace: t.TempDir(), StageFilter: []string{"Build"}}
	p := parsePipeline(t, `
stages:
  - stage: Build
    jobs:
      - job: Compile
        steps:
          - script: make
  - stage: Docs
    dependsOn: []
    jobs:
      - job: Render
        steps:
          - script: make docs
`)

	result, err := exec.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusSucceeded, result.Stages[0].Status)
	assert.Equal(t, pipeline.StatusSkipped, result.Stages[1].Status)
	assert.Equal(t, []string{"make"}, shell.scripts())
}

func TestStageFilterRunsDependenciesOfSelected(t *testing.T) {
	shell := &fakeShell{handler: func(req ShellRequest) *ShellOutcome {
		return &ShellOutcome{ExitCode: 0}
	}}
	exec := &Executor{Shell: shell, Workspace: t.TempDir(), StageFilter: []string{"Deploy"}}
	p := parsePipeline(t, `
stages:
  - stage: Build
    jobs:
      - job: Compile
        steps:
          - script: make
  - stage: Test
    dependsOn: Build
    jobs:
      - job: Unit
        steps:
          - script: make test
  - stage: Deploy
    dependsOn: Test
    jobs:
      - job: Release
        steps:
          - script: make deploy
  - stage: Docs
    dependsOn: []
    jobs:
      - job: Render
        steps:
          - script: make docs
`)

	result, err := exec.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, pipeline.StatusSucceeded, result.Stages[0].Status)
	assert.Equal(t, pipeline.StatusSucceeded, result.Stages[1].Status)
	assert.Equal(t, pipeline.StatusSucceeded, result.Stages[2].Status)
	assert.Equal(t, pipeline.StatusSkipped, result.Stages[3].Status)
	assert.Equal(t, "Not selected by stage filter", result.Stages[3].SkipReason)
	assert.Equal(t, []string{"make", "make test", "make deploy"}, shell.scripts())
}

func TestExplicitStageConditionSeesDependencies(t *testing.T) {
	shell := &fakeShell{handler: func(req ShellRequest) *ShellOutcome {
		if req.Script == "exit 1" {
			return &ShellOutcome{ExitCode: 1}
		}
		return &ShellOutcome{ExitCode: 0}
	}}
	exec := &Executor{Shell: shell, Workspace: t.TempDir()}
	p := parsePipeline(t, `
stages:
  - stage: Build
    jobs:
      - job: Compile
        steps:
          - script: exit 1
  - stage: Deploy
    dependsOn: Build
    condition: succeeded()
    jobs:
      - job: Release
        steps:
          - script: echo deploy
  - stage: Notify
    dependsOn: Build
    condition: failed()
    jobs:
      - job: Alert
        steps:
          - script: echo alert
`)

	result, err := exec.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusFailed, result.Stages[0].Status)
	assert.Equal(t, pipeline.StatusSkipped, result.Stages[1].Status)
	assert.Equal(t, pipeline.StatusSucceeded, result.Stages[2].Status)
	assert.Equal(t, []string{"exit 1", "echo alert"}, shell.scripts())
}

func TestExplicitJobConditionSeesDependencies(t *testing.T) {
	shell := &fakeShell{handler: func(req ShellRequest) *ShellOutcome {
		if req.Script == "exit 1" {
			return &ShellOutcome{ExitCode: 1}
		}
		return &ShellOutcome{ExitCode: 0}
	}}
	exec := &Executor{Shell: shell, Workspace: t.TempDir()}
	p := parsePipeline(t, `
jobs:
  - job: A
    steps:
      - script: exit 1
  - job: B
    dependsOn: A
    condition: succeeded()
    steps:
      - script: echo unreachable
  - job: C
    dependsOn: A
    condition: always()
    steps:
      - script: echo cleanup
`)

	result, err := exec.Execute(context.Background(), p)
	require.NoError(t, err)
	jobs := result.Stages[0].Jobs
	require.Len(t, jobs, 3)
	byName := map[string]pipeline.Status{}
	for _, jr := range jobs {
		byName[jr.JobName] = jr.Status
	}
	assert.Equal(t, pipeline.StatusFailed, byName["A"])
	assert.Equal(t, pipeline.StatusSkipped, byName["B"])
	assert.Equal(t, pipeline.StatusSucceeded, byName["C"])
	assert.Equal(t, []string{"exit 1", "echo cleanup"}, shell.scripts())
}

func TestSecretsMaskedInOutputEvents(t *testing.T) {
	shell := &fakeShell{handler: func(req ShellRequest) *ShellOutcome {
		if req.Script == "produce" {
			req.OnLine("##vso[task.setvariable variable=token;isSecret=true]s3cret", false)
		}
		if req.Script == "leak" {
			req.OnLine("the token is s3cret", false)
		}
		return &ShellOutcome{ExitCode: 0}
	}}
	sink := NewChannelSink(64)
	exec := &Executor{Shell: shell, Workspace: t.TempDir(), Events: sink}
	p := parsePipeline(t, `
steps:
  - script: produce
  - script: leak
`)

	_, err := exec.Execute(context.Background(), p)
	require.NoError(t, err)
	sink.Close()

	var outputLines []string
	for ev := range sink.C {
		if ev.Kind == EventStepOutput {
			outputLines = append(outputLines, ev.Line)
		}
	}
	require.Contains(t, outputLines, "the token is ***")
}

func TestVariableSetEventMasksSecrets(t *testing.T) {
	shell := &fakeShell{handler: func(req ShellRequest) *ShellOutcome {
		req.OnLine("##vso[task.setvariable variable=plain]visible", false)
		req.OnLine("##vso[task.setvariable variable=token;isSecret=true]s3cret", false)
		return &ShellOutcome{ExitCode: 0}
	}}
	sink := NewChannelSink(64)
	exec := &Executor{Shell: shell, Workspace: t.TempDir(), Events: sink}
	p := parsePipeline(t, `
steps:
  - script: produce
`)

	_, err := exec.Execute(context.Background(), p)
	require.NoError(t, err)
	sink.Close()

	var varLines []string
	for ev := range sink.C {
		if ev.Kind == EventVariableSet {
			varLines = append(varLines, ev.Line)
		}
	}
	assert.Equal(t, []string{"plain = visible", "token = ***"}, varLines)
}

func TestUploadFileAndBuildTagCaptured(t *testing.T) {
	shell := &fakeShell{handler: func(req ShellRequest) *ShellOutcome {
		req.OnLine("##vso[task.uploadfile]/tmp/report.html", false)
		req.OnLine("##vso[task.uploadfile]/tmp/coverage.xml", false)
		req.OnLine("##vso[build.addbuildtag]nightly", false)
		return &ShellOutcome{ExitCode: 0}
	}}
	exec := &Executor{Shell: shell, Workspace: t.TempDir()}
	p := parsePipeline(t, `
steps:
  - script: publish artifacts
`)

	result, err := exec.Execute(context.Background(), p)
	require.NoError(t, err)
	step := result.Stages[0].Jobs[0].Steps[0]
	assert.Equal(t, "/tmp/report.html;/tmp/coverage.xml", step.Outputs["__uploaded_files"])
	assert.Equal(t, "nightly", step.Outputs["__build_tags"])
}

func TestCompletionEventCarriesDurationAndExitCode(t *testing.T) {
	shell := &fakeShell{handler: func(req ShellRequest) *ShellOutcome {
		return &ShellOutcome{ExitCode: 3}
	}}
	sink := NewChannelSink(64)
	exec := &Executor{Shell: shell, Workspace: t.TempDir(), Events: sink}
	p := parsePipeline(t, `
steps:
  - script: fail
`)

	_, err := exec.Execute(context.Background(), p)
	require.NoError(t, err)
	sink.Close()

	for ev := range sink.C {
		if ev.Kind != EventStepCompleted {
			continue
		}
		require.NotNil(t, ev.ExitCode)
		assert.Equal(t, 3, *ev.ExitCode)
	}
}

// fakeContainer serves shell requests in place of a docker exec and
// records its lifecycle.
type fakeContainer struct {
	image   string
	shell   *fakeShell
	started bool
	stopped bool
}

func (f *fakeContainer) Start(_ context.Context) error {
	f.started = true
	return nil
}

func (f *fakeContainer) Stop(_ context.Context) {
	f.stopped = true
}

func (f *fakeContainer) RunShell(ctx context.Context, req ShellRequest) (*ShellOutcome, error) {
	return f.shell.RunShell(ctx, req)
}

type fakeContainerProvider struct {
	mu         sync.Mutex
	containers []*fakeContainer
	services   []string
	stopped    []string
}

func (f *fakeContainerProvider) Container(ref *pipeline.ContainerRef) ContainerRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeContainer{image: ref.Image, shell: &fakeShell{}}
	f.containers = append(f.containers, c)
	return c
}

func (f *fakeContainerProvider) StartService(_ context.Context, name string, _ *pipeline.ContainerRef) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	handle := "svc-" + name
	f.services = append(f.services, handle)
	return handle, nil
}

func (f *fakeContainerProvider) StopService(_ context.Context, handle string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, handle)
}

func TestContainerJobRunsInContainer(t *testing.T) {
	host := &fakeShell{}
	provider := &fakeContainerProvider{}
	exec := &Executor{Shell: host, Containers: provider, Workspace: t.TempDir()}
	p := parsePipeline(t, `
jobs:
  - job: Build
    container: golang:1.22
    steps:
      - script: go build ./...
`)

	result, err := exec.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, result.Success)

	require.Len(t, provider.containers, 1)
	c := provider.containers[0]
	assert.Equal(t, "golang:1.22", c.image)
	assert.True(t, c.started)
	assert.True(t, c.stopped)
	assert.Equal(t, []string{"go build ./..."}, c.shell.scripts())
	assert.Empty(t, host.scripts())
}

func TestServiceContainersStartAndStop(t *testing.T) {
	host := &fakeShell{}
	provider := &fakeContainerProvider{}
	exec := &Executor{Shell: host, Containers: provider, Workspace: t.TempDir()}
	p := parsePipeline(t, `
jobs:
  - job: Integration
    services:
      db: postgres:16
    steps:
      - script: run-tests
`)

	result, err := exec.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, []string{"svc-db"}, provider.services)
	assert.Equal(t, []string{"svc-db"}, provider.stopped)
	// Without a job container the steps stay on the host shell.
	assert.Equal(t, []string{"run-tests"}, host.scripts())
}

func TestContainerJobWithoutProviderFails(t *testing.T) {
	host := &fakeShell{}
	exec := &Executor{Shell: host, Workspace: t.TempDir()}
	p := parsePipeline(t, `
jobs:
  - job: Build
    container: golang:1.22
    steps:
      - script: go build ./...
`)

	result, err := exec.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.False(t, result.Success)
	jr := result.Stages[0].Jobs[0]
	assert.Equal(t, pipeline.StatusFailed, jr.Status)
	assert.Contains(t, jr.SkipReason, "no container runtime is configured")
	assert.Empty(t, host.scripts())
}

func TestEventOrderingWithinStep(t *testing.T) {
	shell := &fakeShell{handler: func(req ShellRequest) *ShellOutcome {
		req.OnLine("line one", false)
		req.OnLine("line two", false)
		return &ShellOutcome{ExitCode: 0}
	}}
	sink := NewChannelSink(64)
	exec := &Executor{Shell: shell, Workspace: t.TempDir(), Events: sink}
	p := parsePipeline(t, `
steps:
  - script: talk
`)

	_, err := exec.Execute(context.Background(), p)
	require.NoError(t, err)
	sink.Close()

	var kinds []EventKind
	for ev := range sink.C {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []EventKind{
		EventPipelineStarted,
		EventStageStarted,
		EventJobStarted,
		EventStepStarted,
		EventStepOutput,
		EventStepOutput,
		EventStepCompleted,
		EventJobCompleted,
		EventStageCompleted,
		EventPipelineCompleted,
	}, kinds)
}
