// Package runtime executes normalized pipelines: it orders stages and
// jobs into parallel levels, expands matrix strategies, evaluates
// runtime conditions, dispatches steps to shell and task runners, and
// streams events as the run progresses.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360studio/roxid/expression"
	"github.com/c360studio/roxid/pipeline"
)

// Executor runs a pipeline against local runners. Zero-value fields get
// sensible defaults from Execute: a discard event sink and the default
// logger. Shell must be set to run shell steps; Tasks must be set to run
// task steps.
type Executor struct {
	Workspace string
	Shell     ShellRunner
	Tasks     TaskRunner
	Events    EventSink
	Logger    *slog.Logger

	// Containers creates job and service containers for jobs that
	// declare them. Left nil, such jobs fail with a configuration error.
	Containers ContainerProvider

	// CallerVars always win over any scope's declared variables.
	CallerVars map[string]string
	// Env is layered into every step's environment.
	Env map[string]string

	// StageFilter and JobFilter, when non-empty, skip scopes whose name
	// is not listed.
	StageFilter []string
	JobFilter   []string
}

// Execute runs the pipeline to completion and returns the full result
// tree. The pipeline is normalized in place first. Cancellation of ctx
// terminates in-flight subprocesses and records remaining scopes as
// Skipped.
func (e *Executor) Execute(ctx context.Context, p *pipeline.Pipeline) (*pipeline.ExecutionResult, error) {
	if e.Events == nil {
		e.Events = discardSink{}
	}
	if e.Logger == nil {
		e.Logger = slog.Default()
	}
	if e.Workspace == "" {
		e.Workspace = "."
	}

	pipeline.Normalize(p)
	graph, err := StageGraph(p)
	if err != nil {
		return nil, err
	}

	result := pipeline.NewExecutionResult(p.Name)
	started := time.Now()
	run := NewRunState()

	rootEng := expression.NewEngine((&exprContext{
		pipelineName: p.Name,
		workspace:    e.Workspace,
		caller:       e.CallerVars,
	}).build())
	rootVars := mergeScopeVariables(nil, p.Variables, e.CallerVars, rootEng)

	e.Events.Emit(newEvent(EventPipelineStarted))
	e.Logger.Info("pipeline started", slog.String("pipeline", p.Name), slog.String("runId", result.RunID))

	stageIndex := map[string]int{}
	result.Stages = make([]pipeline.StageResult, len(p.Stages))
	for i := range p.Stages {
		stageIndex[p.Stages[i].Stage] = i
	}

	// A stage filter pulls in the transitive dependencies of the named
	// stages; a selected stage cannot run without its upstream results.
	stageFilter := expandStageFilter(e.StageFilter, p, graph)

	for _, level := range graph.Levels {
		g := new(errgroup.Group)
		for _, name := range level {
			idx := stageIndex[name]
			stage := &p.Stages[idx]
			g.Go(func() error {
				result.Stages[idx] = e.runStage(ctx, p, stage, graph, stageFilter, rootVars, run)
				return nil
			})
		}
		// Stage failures do not stop the run; downstream conditions see
		// them through the dependency results.
		_ = g.Wait()
	}

	result.Duration = time.Since(started)
	statuses := make([]pipeline.Status, 0, len(result.Stages))
	for i := range result.Stages {
		statuses = append(statuses, result.Stages[i].Status)
	}
	agg := pipeline.AggregateStatus(statuses)
	result.Success = agg != pipeline.StatusFailed && agg != pipeline.StatusCanceled

	finalVars := make(map[string]string, len(rootVars))
	for k, v := range rootVars {
		finalVars[k] = v
	}
	for k, v := range run.variables() {
		finalVars[k] = v
	}
	result.Variables = finalVars

	done := newEvent(EventPipelineCompleted)
	done.Status = agg
	done.Duration = result.Duration
	e.Events.Emit(done)
	e.Logger.Info("pipeline completed",
		slog.String("pipeline", p.Name),
		slog.String("status", string(agg)),
		slog.Duration("duration", result.Duration))
	return result, nil
}

func (e *Executor) runStage(ctx context.Context, p *pipeline.Pipeline, stage *pipeline.Stage, graph *Graph, stageFilter []string, rootVars map[string]string, run *RunState) pipeline.StageResult {
	name := stage.Stage
	if len(stageFilter) > 0 && !containsName(stageFilter, name) {
		return e.materializeStageSkipped(stage, "Not selected by stage filter", run)
	}
	if ctx.Err() != nil {
		return e.materializeStageSkipped(stage, "Run canceled", run)
	}

	deps := graph.Deps(name)
	condCtx := &exprContext{
		pipelineName: p.Name,
		workspace:    e.Workspace,
		stage:        stage,
		vars:         rootVars,
		caller:       e.CallerVars,
		run:          run,
	}
	ok, reason, err := e.evalScopeCondition(stage.Condition, condCtx, deps, func(dep string) (pipeline.Status, bool) {
		return run.stageResult(dep)
	})
	if err != nil {
		e.Logger.Error("stage condition failed", slog.String("stage", name), slog.Any("error", err))
		failed := e.materializeStageSkipped(stage, err.Error(), run)
		failed.Status = pipeline.StatusFailed
		run.recordStage(name, pipeline.StatusFailed, map[string]map[string]string{})
		return failed
	}
	if !ok {
		return e.materializeStageSkipped(stage, reason, run)
	}

	ev := newEvent(EventStageStarted)
	ev.Stage = name
	e.Events.Emit(ev)
	started := time.Now()

	stageEng := expression.NewEngine(condCtx.build())
	stageVars := mergeScopeVariables(rootVars, stage.Variables, e.CallerVars, stageEng)

	sr := pipeline.StageResult{StageName: name, DisplayName: stage.DisplayName}
	jobGraph, err := JobGraph(stage.Jobs)
	if err != nil {
		sr.Status = pipeline.StatusFailed
		sr.SkipReason = err.Error()
		run.recordStage(name, sr.Status, map[string]map[string]string{})
		e.emitStageCompleted(name, sr.Status, started, &sr)
		return sr
	}

	stageSt := newStageState()
	jobIndex := map[string]int{}
	for i := range stage.Jobs {
		jobIndex[stage.Jobs[i].ID()] = i
	}
	jobResults := make([][]pipeline.JobResult, len(stage.Jobs))

	for _, level := range jobGraph.Levels {
		g := new(errgroup.Group)
		for _, jobName := range level {
			idx := jobIndex[jobName]
			job := &stage.Jobs[idx]
			g.Go(func() error {
				jobResults[idx] = e.runJob(ctx, p, stage, job, jobGraph, stageVars, stageSt, run)
				return nil
			})
		}
		_ = g.Wait()
	}

	var statuses []pipeline.Status
	for _, rs := range jobResults {
		for _, jr := range rs {
			sr.Jobs = append(sr.Jobs, jr)
			statuses = append(statuses, jr.Status)
		}
	}
	sr.Status = pipeline.AggregateStatus(statuses)
	_, outputs := stageSt.snapshot()
	run.recordStage(name, sr.Status, outputs)
	e.emitStageCompleted(name, sr.Status, started, &sr)
	return sr
}

func (e *Executor) emitStageCompleted(name string, status pipeline.Status, started time.Time, sr *pipeline.StageResult) {
	sr.Duration = time.Since(started)
	ev := newEvent(EventStageCompleted)
	ev.Stage = name
	ev.Status = status
	ev.Duration = sr.Duration
	e.Events.Emit(ev)
}

func (e *Executor) runJob(ctx context.Context, p *pipeline.Pipeline, stage *pipeline.Stage, job *pipeline.Job, jobGraph *Graph, stageVars map[string]string, stageSt *stageState, run *RunState) []pipeline.JobResult {
	id := job.ID()
	if len(e.JobFilter) > 0 && !containsName(e.JobFilter, id) {
		result := e.materializeJobSkipped(job, id, "Not selected by job filter")
		stageSt.recordJob(id, pipeline.StatusSkipped, nil)
		return []pipeline.JobResult{result}
	}

	condCtx := &exprContext{
		pipelineName: p.Name,
		workspace:    e.Workspace,
		stage:        stage,
		job:          job,
		vars:         stageVars,
		caller:       e.CallerVars,
		run:          run,
		stageSt:      stageSt,
	}
	instances, maxParallel, err := ExpandMatrix(job, expression.NewEngine(condCtx.build()))
	if err != nil {
		stageSt.recordJob(id, pipeline.StatusFailed, nil)
		return []pipeline.JobResult{{
			JobName:     id,
			DisplayName: job.DisplayName,
			Status:      pipeline.StatusFailed,
			SkipReason:  err.Error(),
		}}
	}

	ok, reason, err := e.evalScopeCondition(job.Condition, condCtx, jobGraph.Deps(id), func(dep string) (pipeline.Status, bool) {
		stageSt.mu.Lock()
		defer stageSt.mu.Unlock()
		status, found := stageSt.jobResults[dep]
		return status, found
	})
	if err != nil {
		stageSt.recordJob(id, pipeline.StatusFailed, nil)
		return []pipeline.JobResult{{
			JobName:     id,
			DisplayName: job.DisplayName,
			Status:      pipeline.StatusFailed,
			SkipReason:  err.Error(),
		}}
	}
	if !ok || ctx.Err() != nil {
		if ctx.Err() != nil {
			reason = "Run canceled"
		}
		results := make([]pipeline.JobResult, 0, len(instances))
		for _, inst := range instances {
			jr := e.materializeJobSkipped(job, inst.ConfigName, reason)
			results = append(results, jr)
		}
		stageSt.recordJob(id, pipeline.StatusSkipped, nil)
		return results
	}

	limit := maxParallel
	if limit <= 0 {
		limit = len(instances)
	}
	g := new(errgroup.Group)
	g.SetLimit(limit)
	results := make([]pipeline.JobResult, len(instances))
	for i, inst := range instances {
		i, inst := i, inst
		g.Go(func() error {
			results[i] = e.runInstance(ctx, p, stage, job, inst, stageVars, stageSt, run)
			return nil
		})
	}
	_ = g.Wait()

	for _, jr := range results {
		stageSt.recordJob(id, jr.Status, jr.Outputs)
	}
	return results
}

func (e *Executor) runInstance(ctx context.Context, p *pipeline.Pipeline, stage *pipeline.Stage, job *pipeline.Job, inst Instance, stageVars map[string]string, stageSt *stageState, run *RunState) pipeline.JobResult {
	id := job.ID()
	condCtx := &exprContext{
		pipelineName: p.Name,
		workspace:    e.Workspace,
		stage:        stage,
		job:          job,
		configName:   inst.ConfigName,
		vars:         stageVars,
		caller:       e.CallerVars,
		run:          run,
		stageSt:      stageSt,
	}
	jobEng := expression.NewEngine(condCtx.build())
	vars := mergeScopeVariables(stageVars, job.Variables, e.CallerVars, jobEng)
	if len(inst.Variables) > 0 {
		withMatrix := make(map[string]string, len(vars)+len(inst.Variables))
		for k, v := range vars {
			withMatrix[k] = v
		}
		for k, v := range inst.Variables {
			withMatrix[k] = v
		}
		for k, v := range e.CallerVars {
			withMatrix[k] = v
		}
		vars = withMatrix
	}

	jobSt := newJobState(vars)
	jr := pipeline.JobResult{JobName: id, DisplayName: job.DisplayName}
	if inst.ConfigName != id {
		jr.MatrixConfig = inst.ConfigName
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if job.TimeoutInMinutes > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(job.TimeoutInMinutes)*time.Minute)
		defer cancel()
	}

	ev := newEvent(EventJobStarted)
	ev.Stage = stage.Stage
	ev.Job = inst.ConfigName
	e.Events.Emit(ev)
	started := time.Now()
	e.Logger.Info("job started", slog.String("stage", stage.Stage), slog.String("job", inst.ConfigName))

	shell, cleanup, err := e.jobShell(runCtx, job, inst.ConfigName)
	if err != nil {
		jr.Status = pipeline.StatusFailed
		jr.SkipReason = err.Error()
		jr.Duration = time.Since(started)
		done := newEvent(EventJobCompleted)
		done.Stage = stage.Stage
		done.Job = inst.ConfigName
		done.Status = jr.Status
		done.Duration = jr.Duration
		e.Events.Emit(done)
		e.Logger.Error("job setup failed", slog.String("job", inst.ConfigName), slog.Any("error", err))
		return jr
	}
	defer cleanup()

	statuses := make([]pipeline.Status, 0, len(job.Steps))
	for i := range job.Steps {
		step := &job.Steps[i]
		res := e.executeStep(runCtx, p, stage, job, inst, step, shell, jobSt, stageSt, run)
		jr.Steps = append(jr.Steps, res)
		statuses = append(statuses, res.Status)
		jobSt.recordStep(step.Name, res.Status)
		if res.Status == pipeline.StatusFailed {
			jobSt.markFailed()
		}
	}

	jr.Status = pipeline.AggregateStatus(statuses)
	jr.Duration = time.Since(started)
	jr.Outputs = jobSt.Outputs()
	run.recordVars(jobSt.RuntimeVars())

	done := newEvent(EventJobCompleted)
	done.Stage = stage.Stage
	done.Job = inst.ConfigName
	done.Status = jr.Status
	done.Duration = jr.Duration
	e.Events.Emit(done)
	e.Logger.Info("job completed",
		slog.String("stage", stage.Stage),
		slog.String("job", inst.ConfigName),
		slog.String("status", string(jr.Status)))
	return jr
}

// jobShell selects the shell runner for one job instance, starting its
// declared service and job containers first. The returned cleanup tears
// down whatever was started.
func (e *Executor) jobShell(ctx context.Context, job *pipeline.Job, configName string) (ShellRunner, func(), error) {
	if job.Container == nil && len(job.Services) == 0 {
		return e.Shell, func() {}, nil
	}
	if e.Containers == nil {
		return nil, nil, fmt.Errorf("job '%s' declares containers but no container runtime is configured", job.ID())
	}

	// Teardown must survive job timeout or cancellation.
	stopCtx := context.WithoutCancel(ctx)
	var handles []string
	var jobContainer ContainerRunner
	cleanup := func() {
		if jobContainer != nil {
			jobContainer.Stop(stopCtx)
		}
		for _, handle := range handles {
			e.Containers.StopService(stopCtx, handle)
		}
	}

	for name, ref := range job.Services {
		handle, err := e.Containers.StartService(ctx, name, &ref)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("start service '%s': %w", name, err)
		}
		handles = append(handles, handle)
		e.Logger.Info("service started", slog.String("job", configName), slog.String("service", name))
	}

	if job.Container == nil {
		return e.Shell, cleanup, nil
	}
	c := e.Containers.Container(job.Container)
	if err := c.Start(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("start container '%s': %w", job.Container.Image, err)
	}
	jobContainer = c
	return c, cleanup, nil
}

func (e *Executor) executeStep(ctx context.Context, p *pipeline.Pipeline, stage *pipeline.Stage, job *pipeline.Job, inst Instance, step *pipeline.Step, shell ShellRunner, jobSt *JobState, stageSt *stageState, run *RunState) pipeline.StepResult {
	condCtx := &exprContext{
		pipelineName: p.Name,
		workspace:    e.Workspace,
		stage:        stage,
		job:          job,
		configName:   inst.ConfigName,
		vars:         jobSt.Vars(),
		caller:       e.CallerVars,
		run:          run,
		stageSt:      stageSt,
		jobSt:        jobSt,
	}
	eng := expression.NewEngine(condCtx.build())

	display := step.EffectiveDisplayName()
	if substituted, err := eng.SubstituteMacros(display); err == nil {
		display = substituted
	}
	res := pipeline.StepResult{
		StepName:    step.Name,
		DisplayName: display,
		StartedAt:   time.Now(),
	}

	if !step.Enabled {
		return e.skipStep(stage, inst, res, "Step disabled")
	}
	if ctx.Err() != nil {
		return e.skipStep(stage, inst, res, "Run canceled")
	}

	ok, err := e.evalStepCondition(step.Condition, eng, jobSt)
	if err != nil {
		res.Status = pipeline.StatusFailed
		res.ErrorOutput = err.Error()
		return res
	}
	if !ok {
		reason := "Condition evaluated to false"
		if step.Condition != "" {
			reason = fmt.Sprintf("Condition '%s' evaluated to false", step.Condition)
		}
		return e.skipStep(stage, inst, res, reason)
	}

	ev := newEvent(EventStepStarted)
	ev.Stage = stage.Stage
	ev.Job = inst.ConfigName
	ev.Step = display
	e.Events.Emit(ev)

	stepCtx := ctx
	var cancel context.CancelFunc
	if step.TimeoutInMinutes > 0 {
		stepCtx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutInMinutes)*time.Minute)
		defer cancel()
	}

	attempts := 1 + step.RetryCountOnTaskFailure
	var status pipeline.Status
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			e.Logger.Warn("retrying step",
				slog.String("step", display),
				slog.Int("attempt", attempt+1),
				slog.Int("of", attempts))
		}
		status = e.dispatch(stepCtx, step, display, stage, inst, shell, eng, jobSt, &res)
		if status != pipeline.StatusFailed {
			break
		}
	}

	if status == pipeline.StatusFailed && e.continueOnError(step, eng) {
		status = pipeline.StatusSucceededWithIssues
	}
	res.Status = status
	res.Duration = time.Since(res.StartedAt)

	done := newEvent(EventStepCompleted)
	done.Stage = stage.Stage
	done.Job = inst.ConfigName
	done.Step = display
	done.Status = status
	done.Duration = res.Duration
	done.ExitCode = res.ExitCode
	e.Events.Emit(done)
	return res
}

func (e *Executor) skipStep(stage *pipeline.Stage, inst Instance, res pipeline.StepResult, reason string) pipeline.StepResult {
	res.Status = pipeline.StatusSkipped
	res.SkipReason = reason
	ev := newEvent(EventStepSkipped)
	ev.Stage = stage.Stage
	ev.Job = inst.ConfigName
	ev.Step = res.DisplayName
	ev.Line = reason
	e.Events.Emit(ev)
	return res
}

// dispatch runs the step's action once and returns the raw status, with
// continueOnError not yet applied.
func (e *Executor) dispatch(ctx context.Context, step *pipeline.Step, display string, stage *pipeline.Stage, inst Instance, shell ShellRunner, eng *expression.Engine, jobSt *JobState, res *pipeline.StepResult) pipeline.Status {
	onLine := e.lineHandler(stage.Stage, inst.ConfigName, display, step.Name, jobSt, res)

	var outcome *ShellOutcome
	var err error
	switch action := step.Action.(type) {
	case pipeline.ScriptAction:
		outcome, err = e.runShell(ctx, shell, ShellScript, action.Script, action.WorkingDirectory, "", action.FailOnStderr, step, eng, jobSt, onLine)
	case pipeline.BashAction:
		outcome, err = e.runShell(ctx, shell, ShellBash, action.Bash, action.WorkingDirectory, "", action.FailOnStderr, step, eng, jobSt, onLine)
	case pipeline.PwshAction:
		outcome, err = e.runShell(ctx, shell, ShellPwsh, action.Pwsh, action.WorkingDirectory, action.ErrorActionPreference, action.FailOnStderr, step, eng, jobSt, onLine)
	case pipeline.PowerShellAction:
		outcome, err = e.runShell(ctx, shell, ShellPowerShell, action.PowerShell, action.WorkingDirectory, action.ErrorActionPreference, action.FailOnStderr, step, eng, jobSt, onLine)
	case pipeline.TaskAction:
		outcome, err = e.runTask(ctx, action, step, eng, jobSt, onLine)
	case pipeline.CheckoutAction, pipeline.DownloadAction, pipeline.PublishAction:
		// No-op collaborators on local runs; the step still succeeds.
		zero := 0
		res.ExitCode = &zero
		return pipeline.StatusSucceeded
	case pipeline.TemplateAction:
		res.ErrorOutput = fmt.Sprintf("unresolved template step '%s'; templates must be expanded before execution", action.Path)
		return pipeline.StatusFailed
	default:
		res.ErrorOutput = fmt.Sprintf("unsupported step action %T", step.Action)
		return pipeline.StatusFailed
	}

	if err != nil {
		res.ErrorOutput = err.Error()
		return pipeline.StatusFailed
	}
	res.ExitCode = &outcome.ExitCode
	res.Output = outcome.Stdout
	res.ErrorOutput = outcome.Stderr

	if override, ok := res.Outputs["__complete_result"]; ok {
		delete(res.Outputs, "__complete_result")
		return completionStatus(override)
	}
	if outcome.ExitCode != 0 {
		return pipeline.StatusFailed
	}
	return pipeline.StatusSucceeded
}

func completionStatus(result string) pipeline.Status {
	switch strings.ToLower(result) {
	case "succeededwithissues":
		return pipeline.StatusSucceededWithIssues
	case "failed":
		return pipeline.StatusFailed
	}
	return pipeline.StatusSucceeded
}

func (e *Executor) runShell(ctx context.Context, shell ShellRunner, kind ShellKind, script, workDir, errPref string, failOnStderr bool, step *pipeline.Step, eng *expression.Engine, jobSt *JobState, onLine func(string, bool)) (*ShellOutcome, error) {
	if shell == nil {
		return nil, fmt.Errorf("no shell runner configured")
	}
	script, err := eng.SubstituteMacros(script)
	if err != nil {
		return nil, err
	}
	workDir, err = eng.SubstituteMacros(workDir)
	if err != nil {
		return nil, err
	}
	if workDir == "" {
		workDir = e.Workspace
	} else if !filepath.IsAbs(workDir) {
		workDir = filepath.Join(e.Workspace, workDir)
	}
	return shell.RunShell(ctx, ShellRequest{
		Shell:                 kind,
		Script:                script,
		WorkingDir:            workDir,
		Env:                   e.stepEnv(step, eng, jobSt),
		FailOnStderr:          failOnStderr,
		ErrorActionPreference: errPref,
		OnLine:                onLine,
	})
}

func (e *Executor) runTask(ctx context.Context, action pipeline.TaskAction, step *pipeline.Step, eng *expression.Engine, jobSt *JobState, onLine func(string, bool)) (*ShellOutcome, error) {
	if e.Tasks == nil {
		return nil, fmt.Errorf("no task runner configured for task '%s'", action.Ref)
	}
	inputs := make(map[string]string, len(action.Inputs))
	for k, v := range action.Inputs {
		substituted, err := eng.SubstituteMacros(v)
		if err != nil {
			return nil, err
		}
		inputs[k] = substituted
	}
	return e.Tasks.RunTask(ctx, TaskRequest{
		Ref:        action.Ref,
		Inputs:     inputs,
		Env:        e.stepEnv(step, eng, jobSt),
		WorkingDir: e.Workspace,
		OnLine:     onLine,
	})
}

// stepEnv assembles the environment layered onto the process env:
// variables exported in Azure form, then executor extras, then the
// step's own env block, later overriding earlier.
func (e *Executor) stepEnv(step *pipeline.Step, eng *expression.Engine, jobSt *JobState) map[string]string {
	env := map[string]string{}
	for k, v := range jobSt.Vars() {
		env[envName(k)] = v
	}
	for k, v := range e.Env {
		env[k] = v
	}
	for k, v := range step.Env {
		if substituted, err := eng.SubstituteMacros(v); err == nil {
			v = substituted
		}
		env[k] = v
	}
	if prefix := jobSt.pathPrefix(); len(prefix) > 0 {
		sep := string(os.PathListSeparator)
		env["PATH"] = strings.Join(prefix, sep) + sep + os.Getenv("PATH")
	}
	return env
}

// envName maps a variable name to its exported environment form:
// uppercased with dots and spaces as underscores.
func envName(name string) string {
	mapped := strings.Map(func(r rune) rune {
		if r == '.' || r == ' ' {
			return '_'
		}
		return r
	}, name)
	return strings.ToUpper(mapped)
}

// lineHandler forwards subprocess output to the event stream and applies
// logging commands to the job state as they arrive.
func (e *Executor) lineHandler(stageName, jobName, stepDisplay, stepName string, jobSt *JobState, res *pipeline.StepResult) func(string, bool) {
	return func(line string, stderr bool) {
		if cmd, ok := ParseLoggingCommand(line); ok {
			e.applyLoggingCommand(cmd, stepName, jobSt, res)
			if cmd.Area == "task" && cmd.Action == "setvariable" && cmd.Props["variable"] != "" {
				value := cmd.Value
				if strings.EqualFold(cmd.Props["isSecret"], "true") {
					value = "***"
				}
				ev := newEvent(EventVariableSet)
				ev.Stage = stageName
				ev.Job = jobName
				ev.Step = stepDisplay
				ev.Line = cmd.Props["variable"] + " = " + value
				e.Events.Emit(ev)
			}
			return
		}
		ev := newEvent(EventStepOutput)
		ev.Stage = stageName
		ev.Job = jobName
		ev.Step = stepDisplay
		ev.Line = jobSt.Mask(line)
		ev.Stderr = stderr
		e.Events.Emit(ev)
	}
}

func (e *Executor) applyLoggingCommand(cmd *LoggingCommand, stepName string, jobSt *JobState, res *pipeline.StepResult) {
	if cmd.Area == "build" && cmd.Action == "addbuildtag" {
		appendReserved(res, "__build_tags", cmd.Value)
		return
	}
	if cmd.Area != "task" {
		return
	}
	switch cmd.Action {
	case "setvariable":
		name := cmd.Props["variable"]
		if name == "" {
			return
		}
		isOutput := strings.EqualFold(cmd.Props["isOutput"], "true")
		if strings.EqualFold(cmd.Props["isSecret"], "true") {
			jobSt.AddSecret(cmd.Value)
		}
		jobSt.SetVariable(name, cmd.Value, isOutput, stepName)
		if isOutput && stepName != "" {
			if res.Outputs == nil {
				res.Outputs = map[string]string{}
			}
			res.Outputs[name] = cmd.Value
		}
	case "setsecret":
		jobSt.AddSecret(cmd.Value)
	case "prependpath":
		jobSt.PrependPath(cmd.Value)
	case "uploadfile":
		appendReserved(res, "__uploaded_files", cmd.Value)
	case "complete":
		if res.Outputs == nil {
			res.Outputs = map[string]string{}
		}
		res.Outputs["__complete_result"] = cmd.Props["result"]
	}
}

// appendReserved accumulates repeated capture values under a reserved
// output key, semicolon-joined.
func appendReserved(res *pipeline.StepResult, key, value string) {
	if value == "" {
		return
	}
	if res.Outputs == nil {
		res.Outputs = map[string]string{}
	}
	if existing := res.Outputs[key]; existing != "" {
		res.Outputs[key] = existing + ";" + value
		return
	}
	res.Outputs[key] = value
}

// expandStageFilter widens a stage filter to the transitive dependsOn
// closure of the named stages, so a selected stage's upstream stages
// run instead of being skipped out from under it. Matching is
// case-insensitive against the declared stage names.
func expandStageFilter(filter []string, p *pipeline.Pipeline, graph *Graph) []string {
	if len(filter) == 0 {
		return nil
	}
	selected := map[string]bool{}
	var walk func(name string)
	walk = func(name string) {
		if selected[name] {
			return
		}
		selected[name] = true
		for _, dep := range graph.Deps(name) {
			walk(dep)
		}
	}
	for _, want := range filter {
		for i := range p.Stages {
			if strings.EqualFold(p.Stages[i].Stage, want) {
				walk(p.Stages[i].Stage)
			}
		}
	}

	expanded := make([]string, 0, len(selected))
	for _, name := range graph.Order {
		if selected[name] {
			expanded = append(expanded, name)
		}
	}
	// Unknown names stay in the filter so the run still skips everything
	// rather than silently running the whole pipeline.
	if len(expanded) == 0 {
		return filter
	}
	return expanded
}

// evalScopeCondition decides whether a stage or job runs. An empty
// condition defaults to succeeded() over the scope's dependencies.
func (e *Executor) evalScopeCondition(condition string, condCtx *exprContext, deps []string, depResult func(string) (pipeline.Status, bool)) (bool, string, error) {
	if condition == "" {
		var blocked []string
		for _, dep := range deps {
			status, ok := depResult(dep)
			if !ok || !status.Passed() {
				blocked = append(blocked, dep)
			}
		}
		if len(blocked) > 0 {
			return false, "Upstream not successful: " + strings.Join(blocked, ", "), nil
		}
		return true, "", nil
	}

	ectx := condCtx.build()
	ectx.ScopeDeps = scopeDepStatus(deps, depResult)
	eng := expression.NewEngine(ectx)
	value, err := eng.EvalRuntime(conditionBody(condition))
	if err != nil {
		return false, "", fmt.Errorf("error evaluating condition '%s': %w", condition, err)
	}
	if !value.Truthy() {
		return false, fmt.Sprintf("Condition '%s' evaluated to false", condition), nil
	}
	return true, "", nil
}

// scopeDepStatus folds a scope's dependency results into the status the
// no-argument condition functions evaluate against.
func scopeDepStatus(deps []string, depResult func(string) (pipeline.Status, bool)) *expression.ScopeStatus {
	st := &expression.ScopeStatus{Succeeded: true}
	for _, dep := range deps {
		status, ok := depResult(dep)
		if !ok || !status.Passed() {
			st.Succeeded = false
		}
		switch status {
		case pipeline.StatusFailed:
			st.Failed = true
		case pipeline.StatusCanceled:
			st.Canceled = true
		}
	}
	return st
}

// evalStepCondition decides whether a step runs. An empty condition
// defaults to succeeded(): all prior steps in the job passed.
func (e *Executor) evalStepCondition(condition string, eng *expression.Engine, jobSt *JobState) (bool, error) {
	if condition == "" {
		jobSt.mu.Lock()
		failed := jobSt.failed
		jobSt.mu.Unlock()
		return !failed, nil
	}
	value, err := eng.EvalRuntime(conditionBody(condition))
	if err != nil {
		return false, fmt.Errorf("error evaluating condition '%s': %w", condition, err)
	}
	return value.Truthy(), nil
}

// conditionBody strips a $[ ] wrapper; conditions are also accepted as
// bare expressions.
func conditionBody(condition string) string {
	segments := expression.Extract(condition)
	if len(segments) == 1 && segments[0].Kind == expression.SegmentRuntime {
		return segments[0].Text
	}
	return condition
}

func (e *Executor) continueOnError(step *pipeline.Step, eng *expression.Engine) bool {
	if step.ContinueOnError.Expr == "" {
		return step.ContinueOnError.Literal
	}
	value, err := eng.EvalRuntime(conditionBody(step.ContinueOnError.Expr))
	if err != nil {
		e.Logger.Warn("continueOnError expression failed", slog.Any("error", err))
		return false
	}
	return value.Truthy()
}

// materializeStageSkipped records the whole stage subtree as Skipped so
// results stay shaped like the declared pipeline.
func (e *Executor) materializeStageSkipped(stage *pipeline.Stage, reason string, run *RunState) pipeline.StageResult {
	sr := pipeline.StageResult{
		StageName:   stage.Stage,
		DisplayName: stage.DisplayName,
		Status:      pipeline.StatusSkipped,
		SkipReason:  reason,
	}
	for i := range stage.Jobs {
		job := &stage.Jobs[i]
		sr.Jobs = append(sr.Jobs, e.materializeJobSkipped(job, job.ID(), reason))
	}
	run.recordStage(stage.Stage, pipeline.StatusSkipped, map[string]map[string]string{})

	ev := newEvent(EventStageCompleted)
	ev.Stage = stage.Stage
	ev.Status = pipeline.StatusSkipped
	ev.Line = reason
	e.Events.Emit(ev)
	return sr
}

func (e *Executor) materializeJobSkipped(job *pipeline.Job, configName, reason string) pipeline.JobResult {
	jr := pipeline.JobResult{
		JobName:     job.ID(),
		DisplayName: job.DisplayName,
		Status:      pipeline.StatusSkipped,
		SkipReason:  reason,
	}
	if configName != job.ID() {
		jr.MatrixConfig = configName
	}
	for i := range job.Steps {
		jr.Steps = append(jr.Steps, pipeline.StepResult{
			StepName:    job.Steps[i].Name,
			DisplayName: job.Steps[i].EffectiveDisplayName(),
			Status:      pipeline.StatusSkipped,
			SkipReason:  reason,
		})
	}
	return jr
}

func containsName(names []string, name string) bool {
	for _, candidate := range names {
		if strings.EqualFold(candidate, name) {
			return true
		}
	}
	return false
}
