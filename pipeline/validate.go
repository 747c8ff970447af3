package pipeline

import (
	"fmt"
	"strings"
)

// Validate checks a parsed pipeline for semantic problems: missing
// structure, duplicate identifiers, references to unknown dependencies,
// and dependency cycles. It returns every problem found rather than
// stopping at the first.
func Validate(p *Pipeline) []*ValidationError {
	var errs []*ValidationError

	if len(p.Stages) == 0 && len(p.Jobs) == 0 && len(p.Steps) == 0 && p.Extends == nil {
		errs = append(errs, &ValidationError{
			Message: "pipeline must have stages, jobs, steps, or extends",
			Path:    "pipeline",
		})
	}

	for i := range p.Stages {
		validateStage(&p.Stages[i], fmt.Sprintf("stages[%d]", i), &errs)
	}
	for i := range p.Jobs {
		validateJob(&p.Jobs[i], fmt.Sprintf("jobs[%d]", i), &errs)
	}

	validateStageDependencies(p.Stages, &errs)
	jobsByStage := map[string][]Job{}
	for _, stage := range p.Stages {
		jobsByStage["stages."+stage.Stage] = stage.Jobs
	}
	if len(p.Jobs) > 0 {
		jobsByStage["jobs"] = p.Jobs
	}
	for path, jobs := range jobsByStage {
		validateJobDependencies(jobs, path, &errs)
	}

	return errs
}

func validateStage(stage *Stage, path string, errs *[]*ValidationError) {
	if len(stage.Jobs) == 0 && stage.Template == "" {
		*errs = append(*errs, &ValidationError{
			Message:    "stage must have jobs or reference a template",
			Path:       path,
			Suggestion: "add 'jobs:' or 'template:' to the stage",
		})
	}
	for i := range stage.Jobs {
		validateJob(&stage.Jobs[i], fmt.Sprintf("%s.jobs[%d]", path, i), errs)
	}
}

func validateJob(job *Job, path string, errs *[]*ValidationError) {
	if job.ID() == "" && job.Template == "" {
		*errs = append(*errs, &ValidationError{
			Message:    "job must have 'job:', 'deployment:', or 'template:'",
			Path:       path,
			Suggestion: "add 'job: MyJobName' to identify this job",
		})
	}
	hasHookSteps := job.IsDeployment() && job.Strategy != nil && job.Strategy.Hooks() != nil
	if len(job.Steps) == 0 && job.Template == "" && !hasHookSteps {
		*errs = append(*errs, &ValidationError{
			Message:    "job must have steps",
			Path:       path,
			Suggestion: "add 'steps:' to define what the job should do",
		})
	}
}

func validateStageDependencies(stages []Stage, errs *[]*ValidationError) {
	names := make([]string, 0, len(stages))
	seen := map[string]bool{}
	for _, stage := range stages {
		if stage.Stage == "" {
			continue
		}
		if seen[stage.Stage] {
			*errs = append(*errs, &ValidationError{
				Message: fmt.Sprintf("duplicate stage id '%s'", stage.Stage),
				Path:    "stages",
			})
			continue
		}
		seen[stage.Stage] = true
		names = append(names, stage.Stage)
	}

	for _, stage := range stages {
		for _, dep := range stage.DependsOn.Names {
			if !seen[dep] {
				*errs = append(*errs, &ValidationError{
					Message:    fmt.Sprintf("stage '%s' depends on unknown stage '%s'", stage.Stage, dep),
					Path:       fmt.Sprintf("stages.%s.dependsOn", stage.Stage),
					Suggestion: "available stages: " + strings.Join(names, ", "),
				})
			}
		}
	}

	deps := func(name string) []string {
		for _, stage := range stages {
			if stage.Stage == name {
				return stage.DependsOn.Names
			}
		}
		return nil
	}
	if cycle := detectCycle(names, deps); cycle != nil {
		*errs = append(*errs, &ValidationError{
			Message: "circular dependency detected: " + strings.Join(cycle, " -> "),
			Path:    "stages",
		})
	}
}

func validateJobDependencies(jobs []Job, path string, errs *[]*ValidationError) {
	names := make([]string, 0, len(jobs))
	seen := map[string]bool{}
	for _, job := range jobs {
		id := job.ID()
		if id == "" {
			continue
		}
		if seen[id] {
			*errs = append(*errs, &ValidationError{
				Message: fmt.Sprintf("duplicate job id '%s'", id),
				Path:    path,
			})
			continue
		}
		seen[id] = true
		names = append(names, id)
	}

	for _, job := range jobs {
		id := job.ID()
		if id == "" {
			continue
		}
		for _, dep := range job.DependsOn.Names {
			if !seen[dep] {
				*errs = append(*errs, &ValidationError{
					Message:    fmt.Sprintf("job '%s' depends on unknown job '%s'", id, dep),
					Path:       fmt.Sprintf("%s.%s.dependsOn", path, id),
					Suggestion: "available jobs: " + strings.Join(names, ", "),
				})
			}
		}
	}

	deps := func(name string) []string {
		for _, job := range jobs {
			if job.ID() == name {
				return job.DependsOn.Names
			}
		}
		return nil
	}
	if cycle := detectCycle(names, deps); cycle != nil {
		*errs = append(*errs, &ValidationError{
			Message: "circular dependency detected: " + strings.Join(cycle, " -> "),
			Path:    path,
		})
	}
}

// detectCycle runs a DFS over the dependency graph and returns the first
// cycle found as a node path, or nil.
func detectCycle(nodes []string, deps func(string) []string) []string {
	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)
	state := map[string]int{}
	var path []string

	var visit func(node string) []string
	visit = func(node string) []string {
		switch state[node] {
		case visiting:
			return append(append([]string{}, path...), node)
		case visited:
			return nil
		}
		state[node] = visiting
		path = append(path, node)
		for _, dep := range deps(node) {
			if cycle := visit(dep); cycle != nil {
				return cycle
			}
		}
		path = path[:len(path)-1]
		state[node] = visited
		return nil
	}

	for _, node := range nodes {
		if cycle := visit(node); cycle != nil {
			return cycle
		}
	}
	return nil
}
