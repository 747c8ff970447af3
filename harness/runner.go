package harness

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/c360studio/roxid/runtime"
	"github.com/c360studio/roxid/template"
)

// TestResult is the outcome of one pipeline test.
type TestResult struct {
	Name           string
	Passed         bool
	Duration       time.Duration
	Assertions     []AssertionResult
	FailureMessage string
	PipelinePath   string
}

// SuiteResult is the outcome of a whole suite run.
type SuiteResult struct {
	SuiteName string
	Results   []TestResult
	Total     int
	Passed    int
	Failed    int
	Skipped   int
	Duration  time.Duration
}

// AllPassed reports whether no test failed.
func (r *SuiteResult) AllPassed() bool { return r.Failed == 0 }

// Runner executes pipeline tests against real runners.
type Runner struct {
	// WorkingDir is the default workspace for pipelines under test.
	WorkingDir string
	// Filter selects tests by name: a glob pattern, or a
	// case-insensitive substring when no glob metacharacters appear.
	Filter string
	// FailFast stops the suite at the first failing test.
	FailFast bool

	Shell      runtime.ShellRunner
	Tasks      runtime.TaskRunner
	Containers runtime.ContainerProvider
	Events     runtime.EventSink
	Logger     *slog.Logger
}

// RunFile loads a suite file and runs it.
func (r *Runner) RunFile(ctx context.Context, path string) (*SuiteResult, error) {
	suite, err := LoadSuite(path)
	if err != nil {
		return nil, err
	}
	return r.RunSuite(ctx, suite)
}

// RunSuite applies defaults and the name filter, then runs each test in
// order.
func (r *Runner) RunSuite(ctx context.Context, suite *Suite) (*SuiteResult, error) {
	started := time.Now()
	name := suite.Name
	if name == "" {
		name = "Pipeline Tests"
	}

	var tests []Test
	for _, test := range suite.Tests {
		if err := ApplyDefaults(&test, suite.Defaults); err != nil {
			return nil, fmt.Errorf("test '%s': apply defaults: %w", test.Name, err)
		}
		if matchesFilter(test.Name, r.Filter) {
			tests = append(tests, test)
		}
	}

	result := &SuiteResult{SuiteName: name, Total: len(tests)}
	for i := range tests {
		tr := r.RunTest(ctx, &tests[i])
		result.Results = append(result.Results, tr)
		if tr.Passed {
			result.Passed++
		} else {
			result.Failed++
		}
		if r.FailFast && !tr.Passed {
			break
		}
	}
	result.Skipped = result.Total - len(result.Results)
	result.Duration = time.Since(started)
	return result, nil
}

// RunTest resolves and executes one test's pipeline, then evaluates its
// assertions.
func (r *Runner) RunTest(ctx context.Context, test *Test) TestResult {
	started := time.Now()
	tr := TestResult{Name: test.Name, PipelinePath: test.Pipeline}

	eng := template.NewEngine(filepath.Dir(test.Pipeline))
	pl, err := eng.ResolveFile(test.Pipeline, test.Parameters)
	if err != nil {
		tr.Duration = time.Since(started)
		tr.FailureMessage = fmt.Sprintf("Failed to resolve pipeline: %v", err)
		return tr
	}

	workspace := test.WorkingDir
	if workspace == "" {
		workspace = r.WorkingDir
	}
	exec := &runtime.Executor{
		Workspace:  workspace,
		Shell:      r.Shell,
		Tasks:      r.Tasks,
		Containers: r.Containers,
		Events:     r.Events,
		Logger:     r.Logger,
		CallerVars: test.Variables,
	}
	result, err := exec.Execute(ctx, pl)
	if err != nil {
		tr.Duration = time.Since(started)
		tr.FailureMessage = fmt.Sprintf("Execution error: %v", err)
		return tr
	}

	tr.Assertions = NewEvaluator(result).EvaluateAll(test.Assertions)
	tr.Passed = true
	failed := 0
	for _, ar := range tr.Assertions {
		if !ar.Passed {
			tr.Passed = false
			failed++
		}
	}
	if !tr.Passed {
		tr.FailureMessage = fmt.Sprintf("%d of %d assertions failed", failed, len(tr.Assertions))
	}
	tr.Duration = time.Since(started)
	return tr
}

func matchesFilter(name, filter string) bool {
	if filter == "" {
		return true
	}
	name = strings.ToLower(name)
	filter = strings.ToLower(filter)
	if strings.ContainsAny(filter, "*?[{") {
		ok, err := doublestar.Match(filter, name)
		return err == nil && ok
	}
	return strings.Contains(name, filter)
}
