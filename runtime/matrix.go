package runtime

import (
	"fmt"
	"sort"

	"github.com/c360studio/roxid/expression"
	"github.com/c360studio/roxid/pipeline"
)

// Instance is one schedulable expansion of a job: the plain job itself,
// one matrix cell, or one slice of a parallel fan-out.
type Instance struct {
	ConfigName string
	// Variables holds the matrix cell's variables, overriding job-level
	// variables of the same name. Empty for parallel and plain jobs.
	Variables map[string]string
}

// ExpandMatrix turns a job's strategy into its instances and the
// concurrency cap for scheduling them (0 means unlimited). Matrix
// expressions are evaluated with runtime semantics against eng.
func ExpandMatrix(job *pipeline.Job, eng *expression.Engine) ([]Instance, int, error) {
	if job.Strategy == nil {
		return []Instance{{ConfigName: job.ID()}}, 0, nil
	}
	maxParallel := job.Strategy.MaxParallel

	if m := job.Strategy.Matrix; m != nil {
		configs := m.Configs
		if m.Expression != "" {
			evaluated, err := evalMatrixExpression(m.Expression, eng)
			if err != nil {
				return nil, 0, err
			}
			configs = evaluated
		}
		if len(configs) == 0 {
			return nil, 0, fmt.Errorf("job '%s': matrix expanded to zero configurations", job.ID())
		}
		instances := make([]Instance, 0, len(configs))
		for _, cfg := range configs {
			instances = append(instances, Instance{
				ConfigName: cfg.Name,
				Variables:  cfg.Variables,
			})
		}
		return instances, maxParallel, nil
	}

	if n := job.Strategy.Parallel; n > 0 {
		instances := make([]Instance, 0, n)
		for i := 1; i <= n; i++ {
			instances = append(instances, Instance{ConfigName: fmt.Sprintf("Job_%d", i)})
		}
		return instances, maxParallel, nil
	}

	return []Instance{{ConfigName: job.ID()}}, maxParallel, nil
}

// evalMatrixExpression resolves a runtime matrix expression to an object
// of configName -> variable map. Object iteration has no inherent order,
// so cells are sorted by name for stable scheduling.
func evalMatrixExpression(expr string, eng *expression.Engine) ([]pipeline.MatrixConfig, error) {
	segments := expression.Extract(expr)
	if len(segments) != 1 || segments[0].Kind != expression.SegmentRuntime {
		return nil, fmt.Errorf("matrix expression must be a single $[ ] form, got '%s'", expr)
	}
	value, err := eng.EvalRuntime(segments[0].Text)
	if err != nil {
		return nil, fmt.Errorf("error evaluating matrix expression: %w", err)
	}
	if value.Kind() != expression.KindObject {
		return nil, fmt.Errorf("matrix expression must produce an object, got '%s'", value.AsString())
	}

	fields := value.Fields()
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	configs := make([]pipeline.MatrixConfig, 0, len(names))
	for _, name := range names {
		vars := map[string]string{}
		for k, v := range fields[name].Fields() {
			vars[k] = v.AsString()
		}
		configs = append(configs, pipeline.MatrixConfig{Name: name, Variables: vars})
	}
	return configs, nil
}
