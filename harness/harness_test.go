package harness

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/roxid/pipeline"
	"github.com/c360studio/roxid/runtime"
)

func TestParseSuite(t *testing.T) {
	suite, err := ParseSuite([]byte(`
name: "My test suite"
defaults:
  variables:
    ENV: test
  workingDir: /tmp
tests:
  - name: "Build test"
    pipeline: azure-pipelines.yml
    variables:
      BUILD_CONFIG: Release
    assertions:
      - step_succeeded: Build
      - step_output_contains:
          step: Build
          pattern: "Build succeeded"
  - name: "Deploy skipped on PR"
    pipeline: azure-pipelines.yml
    assertions:
      - step_skipped: Deploy
      - pipeline_succeeded
`))
	require.NoError(t, err)
	assert.Equal(t, "My test suite", suite.Name)
	require.NotNil(t, suite.Defaults)
	assert.Equal(t, "/tmp", suite.Defaults.WorkingDir)
	require.Len(t, suite.Tests, 2)
	assert.Len(t, suite.Tests[0].Assertions, 2)
	assert.Equal(t, "step_succeeded", suite.Tests[0].Assertions[0].Kind)
	assert.Equal(t, "Build", suite.Tests[0].Assertions[0].Target)
	assert.Equal(t, "pipeline_succeeded", suite.Tests[1].Assertions[1].Kind)
}

func TestParseSuiteEmptyTests(t *testing.T) {
	_, err := ParseSuite([]byte("tests: []"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one test")
}

func TestParseSuiteDuplicateNames(t *testing.T) {
	_, err := ParseSuite([]byte(`
tests:
  - name: Same
    pipeline: a.yml
  - name: Same
    pipeline: b.yml
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate test name")
}

func TestParseSuiteUnknownAssertion(t *testing.T) {
	_, err := ParseSuite([]byte(`
tests:
  - name: Bad
    pipeline: a.yml
    assertions:
      - step_exploded: Build
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step_exploded")
}

func TestAssertionForms(t *testing.T) {
	suite, err := ParseSuite([]byte(`
tests:
  - name: Forms
    pipeline: a.yml
    assertions:
      - pipeline_failed
      - step_output_equals:
          step: Build
          output: version
          value: 1.2.3
      - step_ran_before:
          first: Build
          second: Deploy
      - steps_ran_in_parallel: [BuildLinux, BuildWindows]
      - variable_equals:
          name: MODE
          value: fast
      - variable_contains:
          name: LOG
          substring: done
`))
	require.NoError(t, err)
	as := suite.Tests[0].Assertions
	require.Len(t, as, 6)
	assert.Equal(t, "pipeline_failed", as[0].Kind)
	assert.Equal(t, "version", as[1].Output)
	assert.Equal(t, "1.2.3", as[1].Expected)
	assert.Equal(t, "Build", as[2].Target)
	assert.Equal(t, "Deploy", as[2].Second)
	assert.Equal(t, []string{"BuildLinux", "BuildWindows"}, as[3].Steps)
	assert.Equal(t, "fast", as[4].Expected)
	assert.Equal(t, "done", as[5].Pattern)
}

func TestApplyDefaults(t *testing.T) {
	test := Test{
		Name:      "t",
		Pipeline:  "p.yml",
		Variables: map[string]string{"ENV": "prod"},
	}
	defaults := &Defaults{
		Variables:  map[string]string{"ENV": "test", "DEBUG": "false"},
		WorkingDir: "/workspace",
	}
	require.NoError(t, ApplyDefaults(&test, defaults))
	assert.Equal(t, "prod", test.Variables["ENV"])
	assert.Equal(t, "false", test.Variables["DEBUG"])
	assert.Equal(t, "/workspace", test.WorkingDir)
}

func TestDiscover(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "roxid-test.yml"), []byte("tests: []"), 0o644))
	testsDir := filepath.Join(dir, "tests")
	require.NoError(t, os.MkdirAll(testsDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(testsDir, "deploy.roxid-test.yaml"), []byte("tests: []"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(testsDir, "notes.txt"), []byte("x"), 0o644))

	found, err := Discover(dir)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, filepath.Join(dir, "roxid-test.yml"), found[0])
	assert.Equal(t, filepath.Join(testsDir, "deploy.roxid-test.yaml"), found[1])
}

func TestDiscoverEmpty(t *testing.T) {
	found, err := Discover(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, found)
}

func stepResult(name string, status pipeline.Status, startedAt time.Time, d time.Duration) pipeline.StepResult {
	return pipeline.StepResult{
		StepName:  name,
		Status:    status,
		StartedAt: startedAt,
		Duration:  d,
	}
}

func sampleResult() *pipeline.ExecutionResult {
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	build := stepResult("Build", pipeline.StatusSucceeded, base, time.Second)
	build.Output = "Build succeeded with 0 warnings"
	build.Outputs = map[string]string{"version": "1.2.3"}
	deploy := stepResult("Deploy", pipeline.StatusFailed, base.Add(2*time.Second), time.Second)
	deploy.ErrorOutput = "connection timeout"

	return &pipeline.ExecutionResult{
		PipelineName: "sample",
		Success:      false,
		Variables:    map[string]string{"BUILD_CONFIG": "Release"},
		Stages: []pipeline.StageResult{
			{
				StageName: "Build",
				Status:    pipeline.StatusFailed,
				Jobs: []pipeline.JobResult{
					{JobName: "compile", Status: pipeline.StatusFailed, Steps: []pipeline.StepResult{build, deploy}},
				},
			},
			{
				StageName: "Docs",
				Status:    pipeline.StatusSkipped,
				Jobs: []pipeline.JobResult{
					{JobName: "publish", Status: pipeline.StatusSkipped},
				},
			},
		},
	}
}

func TestEvaluatePipelineStatus(t *testing.T) {
	ev := NewEvaluator(sampleResult())

	r := ev.Evaluate(Assertion{Kind: "pipeline_failed"})
	assert.True(t, r.Passed)

	r = ev.Evaluate(Assertion{Kind: "pipeline_succeeded"})
	assert.False(t, r.Passed)
	assert.Contains(t, r.Detail, "Build")
}

func TestEvaluateStepStatus(t *testing.T) {
	ev := NewEvaluator(sampleResult())

	r := ev.Evaluate(Assertion{Kind: "step_succeeded", Target: "Build"})
	assert.True(t, r.Passed)

	r = ev.Evaluate(Assertion{Kind: "step_failed", Target: "Deploy"})
	assert.True(t, r.Passed)

	r = ev.Evaluate(Assertion{Kind: "step_succeeded", Target: "Deploy"})
	assert.False(t, r.Passed)
	assert.Contains(t, r.Detail, "connection timeout")
}

func TestEvaluateStepNotFoundHint(t *testing.T) {
	ev := NewEvaluator(sampleResult())
	r := ev.Evaluate(Assertion{Kind: "step_succeeded", Target: "Missing"})
	assert.False(t, r.Passed)
	assert.Contains(t, r.Detail, "Available steps: [Build, Deploy]")
}

func TestEvaluateJobAndStageStatus(t *testing.T) {
	ev := NewEvaluator(sampleResult())

	assert.True(t, ev.Evaluate(Assertion{Kind: "job_failed", Target: "compile"}).Passed)
	assert.True(t, ev.Evaluate(Assertion{Kind: "job_skipped", Target: "publish"}).Passed)
	assert.True(t, ev.Evaluate(Assertion{Kind: "stage_failed", Target: "Build"}).Passed)
	assert.True(t, ev.Evaluate(Assertion{Kind: "stage_skipped", Target: "Docs"}).Passed)

	r := ev.Evaluate(Assertion{Kind: "job_succeeded", Target: "nope"})
	assert.False(t, r.Passed)
	assert.Contains(t, r.Detail, "Available jobs: [compile, publish]")
}

func TestEvaluateStepOutputs(t *testing.T) {
	ev := NewEvaluator(sampleResult())

	assert.True(t, ev.Evaluate(Assertion{
		Kind: "step_output_equals", Target: "Build", Output: "version", Expected: "1.2.3",
	}).Passed)

	r := ev.Evaluate(Assertion{
		Kind: "step_output_equals", Target: "Build", Output: "missing", Expected: "x",
	})
	assert.False(t, r.Passed)
	assert.Contains(t, r.Detail, "Available outputs: [version]")

	assert.True(t, ev.Evaluate(Assertion{
		Kind: "step_output_contains", Target: "Build", Pattern: "0 warnings",
	}).Passed)

	r = ev.Evaluate(Assertion{
		Kind: "step_output_contains", Target: "Build", Pattern: "nope",
	})
	assert.False(t, r.Passed)
	assert.Contains(t, r.Detail, "Actual output")
}

func TestEvaluateStepOrdering(t *testing.T) {
	ev := NewEvaluator(sampleResult())

	assert.True(t, ev.Evaluate(Assertion{
		Kind: "step_ran_before", Target: "Build", Second: "Deploy",
	}).Passed)
	assert.False(t, ev.Evaluate(Assertion{
		Kind: "step_ran_before", Target: "Deploy", Second: "Build",
	}).Passed)
}

func TestEvaluateStepsRanInParallel(t *testing.T) {
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	result := &pipeline.ExecutionResult{
		Success: true,
		Stages: []pipeline.StageResult{{
			StageName: "Build",
			Status:    pipeline.StatusSucceeded,
			Jobs: []pipeline.JobResult{
				{JobName: "linux", Status: pipeline.StatusSucceeded, Steps: []pipeline.StepResult{
					stepResult("BuildLinux", pipeline.StatusSucceeded, base, 3*time.Second),
				}},
				{JobName: "windows", Status: pipeline.StatusSucceeded, Steps: []pipeline.StepResult{
					stepResult("BuildWindows", pipeline.StatusSucceeded, base.Add(time.Second), 3*time.Second),
					stepResult("Package", pipeline.StatusSucceeded, base.Add(10*time.Second), time.Second),
				}},
			},
		}},
	}
	ev := NewEvaluator(result)

	assert.True(t, ev.Evaluate(Assertion{
		Kind: "steps_ran_in_parallel", Steps: []string{"BuildLinux", "BuildWindows"},
	}).Passed)

	r := ev.Evaluate(Assertion{
		Kind: "steps_ran_in_parallel", Steps: []string{"BuildLinux", "Package"},
	})
	assert.False(t, r.Passed)
	assert.Contains(t, r.Message, "did not run in parallel")
}

func TestEvaluateVariables(t *testing.T) {
	ev := NewEvaluator(sampleResult())

	assert.True(t, ev.Evaluate(Assertion{
		Kind: "variable_equals", Target: "BUILD_CONFIG", Expected: "Release",
	}).Passed)
	assert.True(t, ev.Evaluate(Assertion{
		Kind: "variable_contains", Target: "BUILD_CONFIG", Pattern: "Rel",
	}).Passed)

	r := ev.Evaluate(Assertion{Kind: "variable_equals", Target: "MISSING", Expected: "x"})
	assert.False(t, r.Passed)
	assert.Contains(t, r.Detail, "Available variables: [BUILD_CONFIG]")
}

func TestMatchesFilter(t *testing.T) {
	tests := []struct {
		name   string
		filter string
		want   bool
	}{
		{"Build test", "", true},
		{"Build test", "build", true},
		{"Deploy test", "build", false},
		{"Build test", "Build*", true},
		{"My Build", "Build*", false},
		{"Deploy test", "*test", true},
		{"test suite", "*test", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchesFilter(tt.name, tt.filter), "name=%q filter=%q", tt.name, tt.filter)
	}
}

type fakeShell struct {
	mu   sync.Mutex
	runs []runtime.ShellRequest
}

func (f *fakeShell) RunShell(_ context.Context, req runtime.ShellRequest) (*runtime.ShellOutcome, error) {
	f.mu.Lock()
	f.runs = append(f.runs, req)
	f.mu.Unlock()
	if req.OnLine != nil {
		req.OnLine("ran: "+req.Script, false)
	}
	return &runtime.ShellOutcome{ExitCode: 0, Stdout: "ran: " + req.Script}, nil
}

func TestRunSuiteEndToEnd(t *testing.T) {
	dir := t.TempDir()
	pipelinePath := filepath.Join(dir, "pipeline.yml")
	require.NoError(t, os.WriteFile(pipelinePath, []byte(`
steps:
  - script: echo hello
    name: hello
  - script: echo goodbye
    name: goodbye
`), 0o644))
	suitePath := filepath.Join(dir, "roxid-test.yml")
	require.NoError(t, os.WriteFile(suitePath, []byte(`
name: Smoke
tests:
  - name: hello runs
    pipeline: pipeline.yml
    assertions:
      - pipeline_succeeded
      - step_succeeded: hello
      - step_ran_before:
          first: hello
          second: goodbye
`), 0o644))

	runner := &Runner{WorkingDir: dir, Shell: &fakeShell{}}
	result, err := runner.RunFile(context.Background(), suitePath)
	require.NoError(t, err)
	assert.True(t, result.AllPassed())
	require.Len(t, result.Results, 1)
	assert.True(t, result.Results[0].Passed)
	assert.Len(t, result.Results[0].Assertions, 3)
}

func TestRunSuiteFailFast(t *testing.T) {
	dir := t.TempDir()
	pipelinePath := filepath.Join(dir, "pipeline.yml")
	require.NoError(t, os.WriteFile(pipelinePath, []byte(`
steps:
  - script: echo hi
    name: hi
`), 0o644))

	suite := &Suite{
		Name: "FailFast",
		Tests: []Test{
			{Name: "wrong step", Pipeline: pipelinePath, Assertions: []Assertion{
				{Kind: "step_succeeded", Target: "missing"},
			}},
			{Name: "never runs", Pipeline: pipelinePath, Assertions: []Assertion{
				{Kind: "pipeline_succeeded"},
			}},
		},
	}

	runner := &Runner{WorkingDir: dir, Shell: &fakeShell{}, FailFast: true}
	result, err := runner.RunSuite(context.Background(), suite)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Len(t, result.Results, 1)
	assert.Equal(t, 1, result.Skipped)
}

func TestRunTestPipelineNotFound(t *testing.T) {
	runner := &Runner{Shell: &fakeShell{}}
	tr := runner.RunTest(context.Background(), &Test{
		Name:     "missing",
		Pipeline: "/nonexistent/pipeline.yml",
	})
	assert.False(t, tr.Passed)
	assert.Contains(t, tr.FailureMessage, "Failed to resolve pipeline")
}

func sampleSuiteResult() *SuiteResult {
	return &SuiteResult{
		SuiteName: "Integration Tests",
		Total:     3,
		Passed:    2,
		Failed:    1,
		Duration:  2 * time.Second,
		Results: []TestResult{
			{Name: "Build succeeds", Passed: true, Duration: 150 * time.Millisecond},
			{
				Name:           "Deploy works",
				Duration:       300 * time.Millisecond,
				FailureMessage: "1 of 2 assertions failed",
				Assertions: []AssertionResult{
					{Assertion: "step_succeeded(Build)", Passed: true, Message: "Step 'Build' has status Succeeded"},
					{
						Assertion: "step_succeeded(Deploy)",
						Message:   "Step 'Deploy' expected Succeeded but was Failed",
						Detail:    "Actual status: Failed, stderr: connection timeout",
					},
				},
			},
			{Name: "Cleanup runs", Passed: true, Duration: 100 * time.Millisecond},
		},
	}
}

func TestRenderJUnit(t *testing.T) {
	xml := RenderJUnit(sampleSuiteResult())
	assert.True(t, len(xml) > 0)
	assert.Contains(t, xml, `<?xml version="1.0"`)
	assert.Contains(t, xml, `tests="3"`)
	assert.Contains(t, xml, `failures="1"`)
	assert.Contains(t, xml, `name="Build succeeds"`)
	assert.Contains(t, xml, "<failure")
	assert.Contains(t, xml, "connection timeout")
}

func TestRenderTAP(t *testing.T) {
	tap := RenderTAP(sampleSuiteResult())
	assert.Contains(t, tap, "TAP version 13\n1..3\n")
	assert.Contains(t, tap, "ok 1 - Build succeeds")
	assert.Contains(t, tap, "not ok 2 - Deploy works")
	assert.Contains(t, tap, "ok 3 - Cleanup runs")
	assert.Contains(t, tap, "# pass 2")
	assert.Contains(t, tap, "# fail 1")
}

func TestRenderTerminal(t *testing.T) {
	out := RenderTerminal(sampleSuiteResult())
	assert.Contains(t, out, "Test Suite: Integration Tests")
	assert.Contains(t, out, "Build succeeds")
	assert.Contains(t, out, "Deploy works")
	assert.Contains(t, out, "1 of 3 tests failed")
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("junit")
	require.NoError(t, err)
	assert.Equal(t, FormatJUnit, f)

	f, err = ParseFormat("TAP")
	require.NoError(t, err)
	assert.Equal(t, FormatTAP, f)

	f, err = ParseFormat("console")
	require.NoError(t, err)
	assert.Equal(t, FormatTerminal, f)

	_, err = ParseFormat("html")
	require.Error(t, err)
}

func TestXMLEscape(t *testing.T) {
	assert.Equal(t, "&lt;test&gt;", xmlEscape("<test>"))
	assert.Equal(t, "a &amp; b", xmlEscape("a & b"))
	assert.Equal(t, "&quot;quoted&quot;", xmlEscape(`"quoted"`))
}
