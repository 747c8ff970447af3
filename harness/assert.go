package harness

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/roxid/pipeline"
)

// Assertion is one check against a finished pipeline run. The YAML form
// is either a bare string (`pipeline_succeeded`) or a single-key mapping
// (`step_succeeded: Build`, `step_output_equals: {step, output, value}`).
type Assertion struct {
	Kind     string
	Target   string
	Output   string
	Expected any
	Pattern  string
	Second   string
	Steps    []string
}

const (
	assertPipelineSucceeded  = "pipeline_succeeded"
	assertPipelineFailed     = "pipeline_failed"
	assertStepSucceeded      = "step_succeeded"
	assertStepFailed         = "step_failed"
	assertStepSkipped        = "step_skipped"
	assertJobSucceeded       = "job_succeeded"
	assertJobFailed          = "job_failed"
	assertJobSkipped         = "job_skipped"
	assertStageSucceeded     = "stage_succeeded"
	assertStageFailed        = "stage_failed"
	assertStageSkipped       = "stage_skipped"
	assertStepOutputEquals   = "step_output_equals"
	assertStepOutputContains = "step_output_contains"
	assertStepRanBefore      = "step_ran_before"
	assertStepsRanInParallel = "steps_ran_in_parallel"
	assertVariableEquals     = "variable_equals"
	assertVariableContains   = "variable_contains"
)

func (a *Assertion) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		switch node.Value {
		case assertPipelineSucceeded, assertPipelineFailed:
			a.Kind = node.Value
			return nil
		}
		return fmt.Errorf("unknown assertion '%s': bare assertions are %s or %s",
			node.Value, assertPipelineSucceeded, assertPipelineFailed)
	}
	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return fmt.Errorf("assertion must be a string or a single-key mapping (line %d)", node.Line)
	}

	key := node.Content[0].Value
	body := node.Content[1]
	a.Kind = key

	switch key {
	case assertPipelineSucceeded, assertPipelineFailed:
		return nil
	case assertStepSucceeded, assertStepFailed, assertStepSkipped,
		assertJobSucceeded, assertJobFailed, assertJobSkipped,
		assertStageSucceeded, assertStageFailed, assertStageSkipped:
		return body.Decode(&a.Target)
	case assertStepOutputEquals:
		var payload struct {
			Step   string `yaml:"step"`
			Output string `yaml:"output"`
			Value  any    `yaml:"value"`
		}
		if err := body.Decode(&payload); err != nil {
			return err
		}
		a.Target = payload.Step
		a.Output = payload.Output
		a.Expected = payload.Value
		return nil
	case assertStepOutputContains:
		var payload struct {
			Step    string `yaml:"step"`
			Pattern string `yaml:"pattern"`
			Output  string `yaml:"output"`
		}
		if err := body.Decode(&payload); err != nil {
			return err
		}
		a.Target = payload.Step
		a.Pattern = payload.Pattern
		a.Output = payload.Output
		return nil
	case assertStepRanBefore:
		var payload struct {
			First  string `yaml:"first"`
			Second string `yaml:"second"`
		}
		if err := body.Decode(&payload); err != nil {
			return err
		}
		a.Target = payload.First
		a.Second = payload.Second
		return nil
	case assertStepsRanInParallel:
		if body.Kind == yaml.SequenceNode {
			return body.Decode(&a.Steps)
		}
		var payload struct {
			Steps []string `yaml:"steps"`
		}
		if err := body.Decode(&payload); err != nil {
			return err
		}
		a.Steps = payload.Steps
		return nil
	case assertVariableEquals:
		var payload struct {
			Name  string `yaml:"name"`
			Value any    `yaml:"value"`
		}
		if err := body.Decode(&payload); err != nil {
			return err
		}
		a.Target = payload.Name
		a.Expected = payload.Value
		return nil
	case assertVariableContains:
		var payload struct {
			Name      string `yaml:"name"`
			Substring string `yaml:"substring"`
		}
		if err := body.Decode(&payload); err != nil {
			return err
		}
		a.Target = payload.Name
		a.Pattern = payload.Substring
		return nil
	}
	return fmt.Errorf("unknown assertion '%s' (line %d)", key, node.Line)
}

func (a Assertion) String() string {
	switch a.Kind {
	case assertPipelineSucceeded, assertPipelineFailed:
		return a.Kind
	case assertStepOutputEquals:
		return fmt.Sprintf("%s(%s.%s == %v)", a.Kind, a.Target, a.Output, a.Expected)
	case assertStepOutputContains:
		return fmt.Sprintf("%s(%s, %q)", a.Kind, a.Target, a.Pattern)
	case assertStepRanBefore:
		return fmt.Sprintf("%s(%s, %s)", a.Kind, a.Target, a.Second)
	case assertStepsRanInParallel:
		return fmt.Sprintf("%s(%s)", a.Kind, strings.Join(a.Steps, ", "))
	case assertVariableEquals:
		return fmt.Sprintf("%s(%s == %v)", a.Kind, a.Target, a.Expected)
	case assertVariableContains:
		return fmt.Sprintf("%s(%s, %q)", a.Kind, a.Target, a.Pattern)
	}
	return fmt.Sprintf("%s(%s)", a.Kind, a.Target)
}

// AssertionResult is the outcome of evaluating one assertion.
type AssertionResult struct {
	Assertion string
	Passed    bool
	Message   string
	Detail    string
}

func pass(assertion Assertion, message string) AssertionResult {
	return AssertionResult{Assertion: assertion.String(), Passed: true, Message: message}
}

func fail(assertion Assertion, message, detail string) AssertionResult {
	return AssertionResult{Assertion: assertion.String(), Message: message, Detail: detail}
}

// Evaluator checks assertions against one execution result.
type Evaluator struct {
	result *pipeline.ExecutionResult
	steps  []stepEntry
}

type stepEntry struct {
	name        string
	displayName string
	stage       string
	job         string
	res         *pipeline.StepResult
}

// NewEvaluator indexes the result's steps for lookup by name or
// display name.
func NewEvaluator(result *pipeline.ExecutionResult) *Evaluator {
	var steps []stepEntry
	for si := range result.Stages {
		stage := &result.Stages[si]
		for ji := range stage.Jobs {
			job := &stage.Jobs[ji]
			for ki := range job.Steps {
				step := &job.Steps[ki]
				steps = append(steps, stepEntry{
					name:        step.StepName,
					displayName: step.DisplayName,
					stage:       stage.StageName,
					job:         job.JobName,
					res:         step,
				})
			}
		}
	}
	return &Evaluator{result: result, steps: steps}
}

// EvaluateAll evaluates every assertion in order.
func (e *Evaluator) EvaluateAll(assertions []Assertion) []AssertionResult {
	results := make([]AssertionResult, 0, len(assertions))
	for _, a := range assertions {
		results = append(results, e.Evaluate(a))
	}
	return results
}

// Evaluate checks one assertion.
func (e *Evaluator) Evaluate(a Assertion) AssertionResult {
	switch a.Kind {
	case assertPipelineSucceeded:
		return e.evalPipelineSucceeded(a)
	case assertPipelineFailed:
		return e.evalPipelineFailed(a)
	case assertStepSucceeded:
		return e.evalStepStatus(a, pipeline.StatusSucceeded)
	case assertStepFailed:
		return e.evalStepStatus(a, pipeline.StatusFailed)
	case assertStepSkipped:
		return e.evalStepStatus(a, pipeline.StatusSkipped)
	case assertJobSucceeded:
		return e.evalJobStatus(a, pipeline.StatusSucceeded)
	case assertJobFailed:
		return e.evalJobStatus(a, pipeline.StatusFailed)
	case assertJobSkipped:
		return e.evalJobStatus(a, pipeline.StatusSkipped)
	case assertStageSucceeded:
		return e.evalStageStatus(a, pipeline.StatusSucceeded)
	case assertStageFailed:
		return e.evalStageStatus(a, pipeline.StatusFailed)
	case assertStageSkipped:
		return e.evalStageStatus(a, pipeline.StatusSkipped)
	case assertStepOutputEquals:
		return e.evalStepOutputEquals(a)
	case assertStepOutputContains:
		return e.evalStepOutputContains(a)
	case assertStepRanBefore:
		return e.evalStepRanBefore(a)
	case assertStepsRanInParallel:
		return e.evalStepsRanInParallel(a)
	case assertVariableEquals:
		return e.evalVariableEquals(a)
	case assertVariableContains:
		return e.evalVariableContains(a)
	}
	return fail(a, fmt.Sprintf("unknown assertion kind '%s'", a.Kind), "")
}

func (e *Evaluator) evalPipelineSucceeded(a Assertion) AssertionResult {
	if e.result.Success {
		return pass(a, "Pipeline completed successfully")
	}
	var failed []string
	for i := range e.result.Stages {
		if e.result.Stages[i].Status == pipeline.StatusFailed {
			failed = append(failed, e.result.Stages[i].StageName)
		}
	}
	return fail(a, "Pipeline did not succeed",
		fmt.Sprintf("Failed stages: [%s]", strings.Join(failed, ", ")))
}

func (e *Evaluator) evalPipelineFailed(a Assertion) AssertionResult {
	if !e.result.Success {
		return pass(a, "Pipeline failed as expected")
	}
	return fail(a, "Pipeline was expected to fail but succeeded", "All stages completed successfully")
}

func (e *Evaluator) evalStepStatus(a Assertion, expected pipeline.Status) AssertionResult {
	entry := e.findStep(a.Target)
	if entry == nil {
		return fail(a, fmt.Sprintf("Step '%s' not found in execution results", a.Target), e.stepsHint())
	}
	if statusMatches(entry.res.Status, expected) {
		return pass(a, fmt.Sprintf("Step '%s' has status %s", a.Target, expected))
	}
	detail := fmt.Sprintf("Actual status: %s", entry.res.Status)
	if entry.res.ErrorOutput != "" {
		detail += ", stderr: " + entry.res.ErrorOutput
	}
	return fail(a, fmt.Sprintf("Step '%s' expected %s but was %s", a.Target, expected, entry.res.Status), detail)
}

func (e *Evaluator) evalJobStatus(a Assertion, expected pipeline.Status) AssertionResult {
	job := e.findJob(a.Target)
	if job == nil {
		return fail(a, fmt.Sprintf("Job '%s' not found in execution results", a.Target), e.jobsHint())
	}
	if statusMatches(job.Status, expected) {
		return pass(a, fmt.Sprintf("Job '%s' has status %s", a.Target, expected))
	}
	return fail(a, fmt.Sprintf("Job '%s' expected %s but was %s", a.Target, expected, job.Status),
		fmt.Sprintf("Actual status: %s", job.Status))
}

func (e *Evaluator) evalStageStatus(a Assertion, expected pipeline.Status) AssertionResult {
	stage := e.findStage(a.Target)
	if stage == nil {
		return fail(a, fmt.Sprintf("Stage '%s' not found in execution results", a.Target), e.stagesHint())
	}
	if statusMatches(stage.Status, expected) {
		return pass(a, fmt.Sprintf("Stage '%s' has status %s", a.Target, expected))
	}
	return fail(a, fmt.Sprintf("Stage '%s' expected %s but was %s", a.Target, expected, stage.Status),
		fmt.Sprintf("Actual status: %s", stage.Status))
}

// statusMatches treats SucceededWithIssues as a success for assertion
// purposes.
func statusMatches(actual, expected pipeline.Status) bool {
	if expected == pipeline.StatusSucceeded {
		return actual.Passed()
	}
	return actual == expected
}

func (e *Evaluator) evalStepOutputEquals(a Assertion) AssertionResult {
	entry := e.findStep(a.Target)
	if entry == nil {
		return fail(a, fmt.Sprintf("Step '%s' not found", a.Target), e.stepsHint())
	}
	actual, ok := entry.res.Outputs[a.Output]
	if !ok {
		names := make([]string, 0, len(entry.res.Outputs))
		for name := range entry.res.Outputs {
			names = append(names, name)
		}
		sort.Strings(names)
		return fail(a, fmt.Sprintf("Step '%s' has no output named '%s'", a.Target, a.Output),
			fmt.Sprintf("Available outputs: [%s]", strings.Join(names, ", ")))
	}
	expected := fmt.Sprintf("%v", a.Expected)
	if actual == expected {
		return pass(a, fmt.Sprintf("Step '%s' output '%s' equals '%s'", a.Target, a.Output, expected))
	}
	return fail(a, fmt.Sprintf("Step '%s' output '%s' does not match", a.Target, a.Output),
		fmt.Sprintf("Expected: '%s', Actual: '%s'", expected, actual))
}

func (e *Evaluator) evalStepOutputContains(a Assertion) AssertionResult {
	entry := e.findStep(a.Target)
	if entry == nil {
		return fail(a, fmt.Sprintf("Step '%s' not found", a.Target), e.stepsHint())
	}
	text := entry.res.Output
	if a.Output != "" {
		text = entry.res.Outputs[a.Output]
	}
	if strings.Contains(text, a.Pattern) {
		return pass(a, fmt.Sprintf("Step '%s' output contains '%s'", a.Target, a.Pattern))
	}
	preview := text
	if len(preview) > 200 {
		preview = preview[:200] + "..."
	}
	return fail(a, fmt.Sprintf("Step '%s' output does not contain '%s'", a.Target, a.Pattern),
		fmt.Sprintf("Actual output: '%s'", preview))
}

func (e *Evaluator) evalStepRanBefore(a Assertion) AssertionResult {
	first := e.findStep(a.Target)
	if first == nil {
		return fail(a, fmt.Sprintf("Step '%s' not found", a.Target), e.stepsHint())
	}
	second := e.findStep(a.Second)
	if second == nil {
		return fail(a, fmt.Sprintf("Step '%s' not found", a.Second), e.stepsHint())
	}
	if first.res.StartedAt.Before(second.res.StartedAt) {
		return pass(a, fmt.Sprintf("Step '%s' started before '%s'", a.Target, a.Second))
	}
	return fail(a, fmt.Sprintf("Step '%s' did not run before '%s'", a.Target, a.Second),
		fmt.Sprintf("'%s' started at %s, '%s' started at %s",
			a.Target, first.res.StartedAt.Format(time.RFC3339Nano),
			a.Second, second.res.StartedAt.Format(time.RFC3339Nano)))
}

func (e *Evaluator) evalStepsRanInParallel(a Assertion) AssertionResult {
	if len(a.Steps) < 2 {
		return fail(a, "steps_ran_in_parallel needs at least two steps", "")
	}
	var entries []*stepEntry
	var missing []string
	for _, name := range a.Steps {
		entry := e.findStep(name)
		if entry == nil {
			missing = append(missing, name)
			continue
		}
		entries = append(entries, entry)
	}
	if len(missing) > 0 {
		return fail(a, fmt.Sprintf("Steps not found: [%s]", strings.Join(missing, ", ")), e.stepsHint())
	}

	// The intervals all overlap when the latest start precedes the
	// earliest finish.
	latestStart := entries[0].res.StartedAt
	earliestEnd := entries[0].res.StartedAt.Add(entries[0].res.Duration)
	for _, entry := range entries[1:] {
		start := entry.res.StartedAt
		end := start.Add(entry.res.Duration)
		if start.After(latestStart) {
			latestStart = start
		}
		if end.Before(earliestEnd) {
			earliestEnd = end
		}
	}
	if latestStart.Before(earliestEnd) {
		return pass(a, "Step execution intervals overlap")
	}
	return fail(a, "Steps did not run in parallel",
		fmt.Sprintf("Latest start %s is not before earliest finish %s",
			latestStart.Format(time.RFC3339Nano), earliestEnd.Format(time.RFC3339Nano)))
}

func (e *Evaluator) evalVariableEquals(a Assertion) AssertionResult {
	actual, ok := e.result.Variables[a.Target]
	if !ok {
		return fail(a, fmt.Sprintf("Variable '%s' not found", a.Target), e.variablesHint())
	}
	expected := fmt.Sprintf("%v", a.Expected)
	if actual == expected {
		return pass(a, fmt.Sprintf("Variable '%s' equals '%s'", a.Target, expected))
	}
	return fail(a, fmt.Sprintf("Variable '%s' does not match", a.Target),
		fmt.Sprintf("Expected: '%s', Actual: '%s'", expected, actual))
}

func (e *Evaluator) evalVariableContains(a Assertion) AssertionResult {
	actual, ok := e.result.Variables[a.Target]
	if !ok {
		return fail(a, fmt.Sprintf("Variable '%s' not found", a.Target), e.variablesHint())
	}
	if strings.Contains(actual, a.Pattern) {
		return pass(a, fmt.Sprintf("Variable '%s' contains '%s'", a.Target, a.Pattern))
	}
	return fail(a, fmt.Sprintf("Variable '%s' does not contain '%s'", a.Target, a.Pattern),
		fmt.Sprintf("Actual value: '%s'", actual))
}

func (e *Evaluator) findStep(name string) *stepEntry {
	for i := range e.steps {
		if e.steps[i].name == name || e.steps[i].displayName == name {
			return &e.steps[i]
		}
	}
	return nil
}

func (e *Evaluator) findJob(name string) *pipeline.JobResult {
	for si := range e.result.Stages {
		jobs := e.result.Stages[si].Jobs
		for ji := range jobs {
			if jobs[ji].JobName == name || jobs[ji].DisplayName == name {
				return &jobs[ji]
			}
		}
	}
	return nil
}

func (e *Evaluator) findStage(name string) *pipeline.StageResult {
	for i := range e.result.Stages {
		if e.result.Stages[i].StageName == name || e.result.Stages[i].DisplayName == name {
			return &e.result.Stages[i]
		}
	}
	return nil
}

func (e *Evaluator) stepsHint() string {
	var names []string
	for _, entry := range e.steps {
		if entry.name != "" {
			names = append(names, entry.name)
		} else if entry.displayName != "" {
			names = append(names, entry.displayName)
		}
	}
	return fmt.Sprintf("Available steps: [%s]", strings.Join(names, ", "))
}

func (e *Evaluator) jobsHint() string {
	var names []string
	for si := range e.result.Stages {
		for ji := range e.result.Stages[si].Jobs {
			names = append(names, e.result.Stages[si].Jobs[ji].JobName)
		}
	}
	return fmt.Sprintf("Available jobs: [%s]", strings.Join(names, ", "))
}

func (e *Evaluator) stagesHint() string {
	var names []string
	for i := range e.result.Stages {
		names = append(names, e.result.Stages[i].StageName)
	}
	return fmt.Sprintf("Available stages: [%s]", strings.Join(names, ", "))
}

func (e *Evaluator) variablesHint() string {
	names := make([]string, 0, len(e.result.Variables))
	for name := range e.result.Variables {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("Available variables: [%s]", strings.Join(names, ", "))
}
