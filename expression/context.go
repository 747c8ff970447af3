package expression

// Context holds everything an expression can reference. The executor
// mutates one Context instance as a run progresses; evaluation itself
// never writes to it.
type Context struct {
	// Variables holds the merged variable state for the current scope.
	Variables map[string]Value

	// Parameters holds resolved template parameters. During ${{ each }}
	// expansion the iteration variable is injected here and shadows
	// builtin namespaces other than variables/parameters.
	Parameters map[string]Value

	Pipeline PipelineInfo
	Stage    *StageInfo
	Job      *JobInfo

	// Steps maps step name to its outputs and status, for steps already
	// finished in the current job.
	Steps map[string]StepInfo

	Dependencies Dependencies

	// ScopeDeps summarizes the governing scope's dependency results for
	// the no-argument status functions on stage and job conditions. Step
	// conditions use Job.Status instead.
	ScopeDeps *ScopeStatus

	Env       map[string]Value
	Resources Resources
}

// NewContext returns an empty context with all maps allocated.
func NewContext() *Context {
	return &Context{
		Variables:  map[string]Value{},
		Parameters: map[string]Value{},
		Steps:      map[string]StepInfo{},
		Dependencies: Dependencies{
			Stages: map[string]StageDependency{},
			Jobs:   map[string]JobDependency{},
		},
		Env: map[string]Value{},
		Resources: Resources{
			Pipelines:    map[string]PipelineResource{},
			Repositories: map[string]RepositoryResource{},
		},
	}
}

// Clone returns a deep copy so template scopes can shadow parameters
// without touching the parent context.
func (c *Context) Clone() *Context {
	clone := NewContext()
	for k, v := range c.Variables {
		clone.Variables[k] = v
	}
	for k, v := range c.Parameters {
		clone.Parameters[k] = v
	}
	clone.Pipeline = c.Pipeline
	if c.Stage != nil {
		s := *c.Stage
		clone.Stage = &s
	}
	if c.Job != nil {
		j := *c.Job
		clone.Job = &j
	}
	for k, v := range c.Steps {
		clone.Steps[k] = v
	}
	for k, v := range c.Dependencies.Stages {
		clone.Dependencies.Stages[k] = v
	}
	for k, v := range c.Dependencies.Jobs {
		clone.Dependencies.Jobs[k] = v
	}
	if c.ScopeDeps != nil {
		deps := *c.ScopeDeps
		clone.ScopeDeps = &deps
	}
	for k, v := range c.Env {
		clone.Env[k] = v
	}
	clone.Resources = c.Resources
	return clone
}

// PipelineInfo is the pipeline namespace.
type PipelineInfo struct {
	Name      string
	Workspace string
}

// StageInfo is the stage namespace for the currently executing stage.
type StageInfo struct {
	Name        string
	DisplayName string
}

// JobInfo is the job namespace for the currently executing job.
type JobInfo struct {
	Name        string
	DisplayName string
	Agent       AgentInfo
	Status      ScopeStatus
}

// AgentInfo mirrors the hosted agent context fields that make sense on a
// local run.
type AgentInfo struct {
	Name          string
	OS            string
	TempDirectory string
	WorkFolder    string
}

// ScopeStatus feeds the status functions for the governing scope.
type ScopeStatus struct {
	Succeeded bool
	Failed    bool
	Canceled  bool
}

// StepInfo is one entry in the steps namespace.
type StepInfo struct {
	Outputs map[string]Value
	Status  StepStatusInfo
}

// StepStatusInfo is a finished step's terminal state.
type StepStatusInfo struct {
	Succeeded bool
	Failed    bool
	Skipped   bool
}

// Dependencies groups completed sibling results for condition evaluation
// and output propagation.
type Dependencies struct {
	Stages map[string]StageDependency
	Jobs   map[string]JobDependency
}

// StageDependency is a completed upstream stage: job name to qualified
// output map, plus the stage result string.
type StageDependency struct {
	Outputs map[string]map[string]Value
	Result  string
}

// JobDependency is a completed upstream job in the same stage.
type JobDependency struct {
	Outputs map[string]Value
	Result  string
}

// Resources is the resources namespace.
type Resources struct {
	Pipelines    map[string]PipelineResource
	Repositories map[string]RepositoryResource
}

// PipelineResource is one entry under resources.pipelines.
type PipelineResource struct {
	PipelineID   string
	RunName      string
	RunID        string
	SourceBranch string
	SourceCommit string
}

// RepositoryResource is one entry under resources.repositories.
type RepositoryResource struct {
	Name    string
	Type    string
	Ref     string
	Version string
}
