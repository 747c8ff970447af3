package runtime

import (
	"strings"
	"sync"

	"github.com/c360studio/roxid/expression"
	"github.com/c360studio/roxid/pipeline"
)

// RunState is the run-wide shared state: completed stage results and
// their aggregated outputs. Stages running in the same parallel level
// write concurrently.
type RunState struct {
	mu           sync.Mutex
	stageResults map[string]pipeline.Status
	// stage -> job -> "step.var" -> value
	stageOutputs map[string]map[string]map[string]string
	// finalVars accumulates runtime-set variables across all jobs for
	// the run summary.
	finalVars map[string]string
}

func NewRunState() *RunState {
	return &RunState{
		stageResults: map[string]pipeline.Status{},
		stageOutputs: map[string]map[string]map[string]string{},
		finalVars:    map[string]string{},
	}
}

func (s *RunState) recordVars(vars map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range vars {
		s.finalVars[k] = v
	}
}

func (s *RunState) variables() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.finalVars))
	for k, v := range s.finalVars {
		out[k] = v
	}
	return out
}

func (s *RunState) recordStage(name string, status pipeline.Status, outputs map[string]map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stageResults[name] = status
	s.stageOutputs[name] = outputs
}

func (s *RunState) stageResult(name string) (pipeline.Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.stageResults[name]
	return status, ok
}

// stageState tracks job completion within one running stage.
type stageState struct {
	mu         sync.Mutex
	jobResults map[string]pipeline.Status
	// job -> "step.var" -> value
	jobOutputs map[string]map[string]string
}

func newStageState() *stageState {
	return &stageState{
		jobResults: map[string]pipeline.Status{},
		jobOutputs: map[string]map[string]string{},
	}
}

func (s *stageState) recordJob(id string, status pipeline.Status, outputs map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.jobResults[id]; ok {
		// Matrix instances fold into one logical job result.
		s.jobResults[id] = pipeline.AggregateStatus([]pipeline.Status{existing, status})
		for k, v := range outputs {
			s.jobOutputs[id][k] = v
		}
		return
	}
	s.jobResults[id] = status
	merged := map[string]string{}
	for k, v := range outputs {
		merged[k] = v
	}
	s.jobOutputs[id] = merged
}

func (s *stageState) snapshot() (map[string]pipeline.Status, map[string]map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	results := make(map[string]pipeline.Status, len(s.jobResults))
	for k, v := range s.jobResults {
		results[k] = v
	}
	outputs := make(map[string]map[string]string, len(s.jobOutputs))
	for job, m := range s.jobOutputs {
		copied := make(map[string]string, len(m))
		for k, v := range m {
			copied[k] = v
		}
		outputs[job] = copied
	}
	return results, outputs
}

// JobState is the mutable state of one running job instance: its merged
// variables, runtime-set variables, step outputs, and per-step status.
// Logging-command mutations land here while a subprocess is streaming,
// so access is guarded.
type JobState struct {
	mu sync.Mutex

	// vars is the fully merged variable map the next step sees.
	vars map[string]string
	// runtimeVars holds only variables set via logging commands, so the
	// merge order can be replayed when a new scope layers in.
	runtimeVars map[string]string
	// outputs maps "stepName.varName" to value.
	outputs map[string]string
	steps   map[string]expression.StepInfo

	// prependedPaths collects task.prependpath entries, newest first.
	prependedPaths []string
	// secrets holds values that must be masked in rendered output.
	secrets []string

	failed    bool
	succeeded bool
}

func newJobState(vars map[string]string) *JobState {
	copied := make(map[string]string, len(vars))
	for k, v := range vars {
		copied[k] = v
	}
	return &JobState{
		vars:        copied,
		runtimeVars: map[string]string{},
		outputs:     map[string]string{},
		steps:       map[string]expression.StepInfo{},
		succeeded:   true,
	}
}

// SetVariable applies a task.setvariable logging command. Output
// variables from a named step are additionally recorded in the job's
// output map under the step-qualified key.
func (s *JobState) SetVariable(name, value string, isOutput bool, stepName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[name] = value
	s.runtimeVars[name] = value
	if stepName == "" {
		return
	}
	if isOutput {
		s.outputs[stepName+"."+name] = value
		info := s.steps[stepName]
		if info.Outputs == nil {
			info.Outputs = map[string]expression.Value{}
		}
		info.Outputs[name] = expression.String(value)
		s.steps[stepName] = info
	}
}

// RuntimeVars returns a copy of the variables set by logging commands
// in this job.
func (s *JobState) RuntimeVars() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.runtimeVars))
	for k, v := range s.runtimeVars {
		out[k] = v
	}
	return out
}

func (s *JobState) recordStep(name string, status pipeline.Status) {
	if name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	info := s.steps[name]
	info.Status = expression.StepStatusInfo{
		Succeeded: status.Passed(),
		Failed:    status == pipeline.StatusFailed,
		Skipped:   status == pipeline.StatusSkipped,
	}
	s.steps[name] = info
}

func (s *JobState) markFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = true
	s.succeeded = false
}

// PrependPath records a task.prependpath entry for subsequent steps.
func (s *JobState) PrependPath(dir string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prependedPaths = append([]string{dir}, s.prependedPaths...)
}

func (s *JobState) pathPrefix() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.prependedPaths...)
}

// AddSecret registers a value to mask in rendered output.
func (s *JobState) AddSecret(value string) {
	if value == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets = append(s.secrets, value)
}

// Mask replaces registered secret values in a line with ***.
func (s *JobState) Mask(line string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, secret := range s.secrets {
		line = strings.ReplaceAll(line, secret, "***")
	}
	return line
}

// Vars returns a copy of the current merged variable map.
func (s *JobState) Vars() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make(map[string]string, len(s.vars))
	for k, v := range s.vars {
		copied[k] = v
	}
	return copied
}

// Outputs returns a copy of the job's step-qualified output map.
func (s *JobState) Outputs() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make(map[string]string, len(s.outputs))
	for k, v := range s.outputs {
		copied[k] = v
	}
	return copied
}

// resolveVariableValue expands a declared variable's value at scope
// merge time: runtime $[ ] expressions evaluate now, macros stay
// literal for step-dispatch substitution.
func resolveVariableValue(raw string, eng *expression.Engine) string {
	segments := expression.Extract(raw)
	if len(segments) == 0 {
		return raw
	}
	var b strings.Builder
	for _, seg := range segments {
		switch seg.Kind {
		case expression.SegmentText:
			b.WriteString(seg.Text)
		case expression.SegmentRuntime:
			value, err := eng.EvalRuntime(seg.Text)
			if err != nil {
				b.WriteString("$[" + seg.Text + "]")
				continue
			}
			b.WriteString(value.AsString())
		case expression.SegmentMacro:
			b.WriteString("$(" + seg.Text + ")")
		case expression.SegmentCompileTime:
			// Compile-time forms are gone after template resolution; a
			// survivor renders as its literal text.
			b.WriteString("${{ " + seg.Text + " }}")
		}
	}
	return b.String()
}

// mergeScopeVariables layers a scope's declared variables onto base and
// re-applies caller variables so they always win. Group and template
// entries contribute nothing at runtime.
func mergeScopeVariables(base map[string]string, declared pipeline.VariableList, caller map[string]string, eng *expression.Engine) map[string]string {
	merged := make(map[string]string, len(base)+len(declared)+len(caller))
	for k, v := range base {
		merged[k] = v
	}
	for _, v := range declared {
		if v.Name == "" {
			continue
		}
		merged[v.Name] = resolveVariableValue(v.Value, eng)
	}
	for k, v := range caller {
		merged[k] = v
	}
	return merged
}

// exprContext assembles the expression context for runtime evaluation at
// a given scope.
type exprContext struct {
	pipelineName string
	workspace    string
	stage        *pipeline.Stage
	job          *pipeline.Job
	configName   string
	vars         map[string]string
	caller       map[string]string
	run          *RunState
	stageSt      *stageState
	jobSt        *JobState
	graph        *Graph
}

func (b *exprContext) build() *expression.Context {
	ctx := expression.NewContext()
	ctx.Pipeline = expression.PipelineInfo{Name: b.pipelineName, Workspace: b.workspace}

	for k, v := range b.vars {
		ctx.Variables[k] = expression.String(v)
	}

	if b.stage != nil {
		ctx.Stage = &expression.StageInfo{
			Name:        b.stage.Stage,
			DisplayName: b.stage.DisplayName,
		}
		// Upstream stage results and outputs feed stageDependencies and
		// the status functions.
		if b.run != nil {
			b.run.mu.Lock()
			for name, status := range b.run.stageResults {
				dep := expression.StageDependency{
					Result:  string(status),
					Outputs: map[string]map[string]expression.Value{},
				}
				for job, outs := range b.run.stageOutputs[name] {
					values := make(map[string]expression.Value, len(outs))
					for k, v := range outs {
						values[k] = expression.String(v)
					}
					dep.Outputs[job] = values
				}
				ctx.Dependencies.Stages[name] = dep
			}
			b.run.mu.Unlock()
		}
	}

	if b.jobSt != nil {
		b.jobSt.mu.Lock()
		for name, info := range b.jobSt.steps {
			ctx.Steps[name] = info
		}
		succeeded, failed := b.jobSt.succeeded, b.jobSt.failed
		b.jobSt.mu.Unlock()

		name := b.configName
		display := ""
		if b.job != nil {
			name = b.job.ID()
			display = b.job.DisplayName
		}
		ctx.Job = &expression.JobInfo{
			Name:        name,
			DisplayName: display,
			Status: expression.ScopeStatus{
				Succeeded: succeeded,
				Failed:    failed,
			},
		}
	}

	if b.stageSt != nil {
		results, outputs := b.stageSt.snapshot()
		for id, status := range results {
			dep := expression.JobDependency{
				Result:  string(status),
				Outputs: map[string]expression.Value{},
			}
			for k, v := range outputs[id] {
				dep.Outputs[k] = expression.String(v)
			}
			ctx.Dependencies.Jobs[id] = dep
		}
	}

	return ctx
}
