package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a step, job, stage, or run.
type Status string

const (
	StatusPending             Status = "Pending"
	StatusRunning             Status = "Running"
	StatusSucceeded           Status = "Succeeded"
	StatusSucceededWithIssues Status = "SucceededWithIssues"
	StatusFailed              Status = "Failed"
	StatusCanceled            Status = "Canceled"
	StatusSkipped             Status = "Skipped"
)

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusSucceededWithIssues, StatusFailed, StatusCanceled, StatusSkipped:
		return true
	}
	return false
}

// Passed reports whether the status counts as a pass for aggregation.
func (s Status) Passed() bool {
	return s == StatusSucceeded || s == StatusSucceededWithIssues
}

// StepResult records the outcome of one step.
type StepResult struct {
	StepName    string            `json:"stepName,omitempty"`
	DisplayName string            `json:"displayName"`
	Status      Status            `json:"status"`
	ExitCode    *int              `json:"exitCode,omitempty"`
	StartedAt   time.Time         `json:"startedAt"`
	Duration    time.Duration     `json:"duration"`
	Output      string            `json:"output,omitempty"`
	ErrorOutput string            `json:"errorOutput,omitempty"`
	SkipReason  string            `json:"skipReason,omitempty"`
	Outputs     map[string]string `json:"outputs,omitempty"`
}

// JobResult records the outcome of one job, or one matrix instance of a
// job (MatrixConfig holds the instance name in that case).
type JobResult struct {
	JobName      string            `json:"jobName"`
	DisplayName  string            `json:"displayName,omitempty"`
	MatrixConfig string            `json:"matrixConfig,omitempty"`
	Status       Status            `json:"status"`
	Steps        []StepResult      `json:"steps"`
	Duration     time.Duration     `json:"duration"`
	Outputs      map[string]string `json:"outputs,omitempty"`
	SkipReason   string            `json:"skipReason,omitempty"`
}

// StageResult records the outcome of one stage.
type StageResult struct {
	StageName   string        `json:"stageName"`
	DisplayName string        `json:"displayName,omitempty"`
	Status      Status        `json:"status"`
	Jobs        []JobResult   `json:"jobs"`
	Duration    time.Duration `json:"duration"`
	SkipReason  string        `json:"skipReason,omitempty"`
}

// ExecutionResult is the full outcome of a pipeline run.
type ExecutionResult struct {
	RunID        string            `json:"runId"`
	PipelineName string            `json:"pipelineName,omitempty"`
	Stages       []StageResult     `json:"stages"`
	Duration     time.Duration     `json:"duration"`
	Success      bool              `json:"success"`
	Variables    map[string]string `json:"variables,omitempty"`
}

// NewExecutionResult allocates a result with a fresh run identifier.
func NewExecutionResult(pipelineName string) *ExecutionResult {
	return &ExecutionResult{
		RunID:        uuid.NewString(),
		PipelineName: pipelineName,
	}
}

// FindJob locates a job result by stage and job name.
func (r *ExecutionResult) FindJob(stageName, jobName string) *JobResult {
	for i := range r.Stages {
		if r.Stages[i].StageName != stageName {
			continue
		}
		for j := range r.Stages[i].Jobs {
			if r.Stages[i].Jobs[j].JobName == jobName {
				return &r.Stages[i].Jobs[j]
			}
		}
	}
	return nil
}

// AggregateStatus folds child statuses into the parent's: any failure
// wins, then issues, then success if anything ran, otherwise skipped.
func AggregateStatus(children []Status) Status {
	if len(children) == 0 {
		return StatusSkipped
	}
	status := StatusSkipped
	anyRan := false
	for _, child := range children {
		switch child {
		case StatusFailed:
			return StatusFailed
		case StatusCanceled:
			return StatusCanceled
		case StatusSucceededWithIssues:
			status = StatusSucceededWithIssues
			anyRan = true
		case StatusSucceeded:
			if status != StatusSucceededWithIssues {
				status = StatusSucceeded
			}
			anyRan = true
		}
	}
	if !anyRan {
		return StatusSkipped
	}
	return status
}
