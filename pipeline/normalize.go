package pipeline

// Normalize folds shorthand forms into the full stages/jobs/steps
// structure and fixes up dependency defaults:
//
//   - a steps-only pipeline becomes one synthetic job in one synthetic
//     stage; a jobs-only pipeline becomes one synthetic stage
//   - a stage without an explicit dependsOn depends on the previous
//     stage; jobs without one have no dependencies
//   - deployment jobs get their hook sequences flattened into the
//     effective step list
//
// After Normalize only Stages is populated.
func Normalize(p *Pipeline) {
	if len(p.Steps) > 0 && len(p.Jobs) == 0 && len(p.Stages) == 0 {
		p.Jobs = JobList{{
			Job:   "Job",
			Pool:  p.Pool,
			Steps: p.Steps,
		}}
		p.Steps = nil
	}

	if len(p.Jobs) > 0 && len(p.Stages) == 0 {
		p.Stages = StageList{{
			Stage: "Build",
			Pool:  p.Pool,
			Jobs:  p.Jobs,
		}}
		p.Jobs = nil
	}

	for i := range p.Stages {
		stage := &p.Stages[i]
		if !stage.DependsOn.Explicit && i > 0 {
			stage.DependsOn.Names = []string{p.Stages[i-1].Stage}
		}
		for j := range stage.Jobs {
			normalizeJob(&stage.Jobs[j])
		}
	}
}

func normalizeJob(job *Job) {
	if !job.IsDeployment() || job.Strategy == nil {
		return
	}
	hooks := job.Strategy.Hooks()
	if hooks == nil {
		return
	}
	var steps StepList
	for _, hook := range hooks.Ordered() {
		steps = append(steps, hook.Steps...)
	}
	job.Steps = steps
}
