// Package pipeline defines the typed pipeline document and its YAML
// binding, along with normalization, validation, and result types.
//
// The document model mirrors the Azure DevOps YAML schema: a pipeline
// holds stages, stages hold jobs, jobs hold steps. Shorthand forms
// (top-level jobs or steps) are folded into the full structure by
// Normalize. Several fields are union-typed in YAML (string or struct,
// map or list); those get custom UnmarshalYAML implementations.
package pipeline

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Pipeline is the root document.
type Pipeline struct {
	Name string `yaml:"name,omitempty"`

	// Trigger blocks parse to raw nodes and are ignored on local runs.
	Trigger   *yaml.Node `yaml:"trigger,omitempty"`
	PR        *yaml.Node `yaml:"pr,omitempty"`
	Schedules *yaml.Node `yaml:"schedules,omitempty"`

	Resources  *Resources   `yaml:"resources,omitempty"`
	Variables  VariableList `yaml:"variables,omitempty"`
	Parameters []Parameter  `yaml:"parameters,omitempty"`

	// Exactly one of Stages, Jobs, or Steps is populated in source form.
	// After Normalize only Stages is used.
	Stages StageList `yaml:"stages,omitempty"`
	Jobs   JobList   `yaml:"jobs,omitempty"`
	Steps  StepList  `yaml:"steps,omitempty"`

	Pool    *Pool    `yaml:"pool,omitempty"`
	Extends *Extends `yaml:"extends,omitempty"`
}

// Extends points the whole pipeline at a template to merge into.
type Extends struct {
	Template   string         `yaml:"template"`
	Parameters map[string]any `yaml:"parameters,omitempty"`
}

// Stage groups jobs and carries stage-level dependencies and variables.
type Stage struct {
	Stage       string       `yaml:"stage,omitempty"`
	DisplayName string       `yaml:"displayName,omitempty"`
	DependsOn   DependsOn    `yaml:"dependsOn,omitempty"`
	Condition   string       `yaml:"condition,omitempty"`
	Variables   VariableList `yaml:"variables,omitempty"`
	Jobs        JobList      `yaml:"jobs,omitempty"`
	Pool        *Pool        `yaml:"pool,omitempty"`

	Template   string         `yaml:"template,omitempty"`
	Parameters map[string]any `yaml:"parameters,omitempty"`
}

// Job is one schedulable unit within a stage.
type Job struct {
	Job         string    `yaml:"job,omitempty"`
	Deployment  string    `yaml:"deployment,omitempty"`
	DisplayName string    `yaml:"displayName,omitempty"`
	DependsOn   DependsOn `yaml:"dependsOn,omitempty"`
	Condition   string    `yaml:"condition,omitempty"`

	Strategy  *Strategy               `yaml:"strategy,omitempty"`
	Pool      *Pool                   `yaml:"pool,omitempty"`
	Container *ContainerRef           `yaml:"container,omitempty"`
	Services  map[string]ContainerRef `yaml:"services,omitempty"`

	Variables VariableList `yaml:"variables,omitempty"`
	Steps     StepList     `yaml:"steps,omitempty"`

	TimeoutInMinutes       int        `yaml:"timeoutInMinutes,omitempty"`
	CancelTimeoutInMinutes int        `yaml:"cancelTimeoutInMinutes,omitempty"`
	ContinueOnError        BoolOrExpr `yaml:"continueOnError,omitempty"`
	Environment            *yaml.Node `yaml:"environment,omitempty"`

	Template   string         `yaml:"template,omitempty"`
	Parameters map[string]any `yaml:"parameters,omitempty"`
}

// ID returns the job identifier, whether declared as job or deployment.
func (j *Job) ID() string {
	if j.Job != "" {
		return j.Job
	}
	return j.Deployment
}

// IsDeployment reports whether this is a deployment job with hook-based
// step sequences instead of a plain steps list.
func (j *Job) IsDeployment() bool {
	return j.Deployment != ""
}

// DependsOn distinguishes an absent dependsOn field (implicit chaining
// may apply) from an explicitly empty one (no dependencies).
type DependsOn struct {
	Explicit bool
	Names    []string
}

func (d *DependsOn) UnmarshalYAML(node *yaml.Node) error {
	d.Explicit = true
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" || node.Value == "" {
			return nil
		}
		d.Names = []string{node.Value}
		return nil
	case yaml.SequenceNode:
		return node.Decode(&d.Names)
	}
	return NewParseError("dependsOn must be a string or a list of strings", node.Line, node.Column)
}

func (d DependsOn) MarshalYAML() (any, error) {
	if len(d.Names) == 1 {
		return d.Names[0], nil
	}
	return d.Names, nil
}

// BoolOrExpr is a boolean field that may instead hold a runtime
// expression string, e.g. continueOnError: $[eq(variables.flaky, 'true')].
type BoolOrExpr struct {
	Literal bool
	Expr    string
}

func (b *BoolOrExpr) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return NewParseError("expected a boolean or expression string", node.Line, node.Column)
	}
	switch node.Value {
	case "true", "True":
		b.Literal = true
	case "false", "False", "":
		b.Literal = false
	default:
		b.Expr = node.Value
	}
	return nil
}

func (b BoolOrExpr) MarshalYAML() (any, error) {
	if b.Expr != "" {
		return b.Expr, nil
	}
	return b.Literal, nil
}

// Bool returns the literal value; expressions report false here and are
// evaluated by the executor.
func (b BoolOrExpr) Bool() bool {
	return b.Expr == "" && b.Literal
}

// Variable is one entry in a variables block: a name/value pair, a
// variable group reference, or a template include.
type Variable struct {
	Name     string
	Value    string
	Readonly bool

	Group string

	Template   string
	Parameters map[string]any
}

func (v *Variable) UnmarshalYAML(node *yaml.Node) error {
	var aux struct {
		Name       string         `yaml:"name"`
		Value      string         `yaml:"value"`
		Readonly   bool           `yaml:"readonly"`
		Group      string         `yaml:"group"`
		Template   string         `yaml:"template"`
		Parameters map[string]any `yaml:"parameters"`
	}
	if err := node.Decode(&aux); err != nil {
		return err
	}
	switch {
	case aux.Group != "":
		v.Group = aux.Group
	case aux.Template != "":
		v.Template = aux.Template
		v.Parameters = aux.Parameters
	case aux.Name != "":
		v.Name = aux.Name
		v.Value = aux.Value
		v.Readonly = aux.Readonly
	default:
		return NewParseError("variable entry requires 'name', 'group', or 'template'", node.Line, node.Column)
	}
	return nil
}

func (v Variable) MarshalYAML() (any, error) {
	switch {
	case v.Group != "":
		return map[string]string{"group": v.Group}, nil
	case v.Template != "":
		return map[string]any{"template": v.Template, "parameters": v.Parameters}, nil
	}
	return map[string]any{"name": v.Name, "value": v.Value}, nil
}

// VariableList accepts both the map form (name: value) and the list form
// (- name: n / value: v) of a variables block.
type VariableList []Variable

func (l *VariableList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			*l = append(*l, Variable{
				Name:  node.Content[i].Value,
				Value: node.Content[i+1].Value,
			})
		}
		return nil
	case yaml.SequenceNode:
		for _, item := range node.Content {
			var entry Variable
			if err := item.Decode(&entry); err != nil {
				return err
			}
			*l = append(*l, entry)
		}
		return nil
	}
	return NewParseError("variables must be a map or a list", node.Line, node.Column)
}

// ParameterType enumerates the declared parameter types.
type ParameterType string

const (
	ParamString    ParameterType = "string"
	ParamNumber    ParameterType = "number"
	ParamBoolean   ParameterType = "boolean"
	ParamObject    ParameterType = "object"
	ParamStep      ParameterType = "step"
	ParamStepList  ParameterType = "stepList"
	ParamJob       ParameterType = "job"
	ParamJobList   ParameterType = "jobList"
	ParamStage     ParameterType = "stage"
	ParamStageList ParameterType = "stageList"
)

// Parameter declares a template input.
type Parameter struct {
	Name        string        `yaml:"name"`
	DisplayName string        `yaml:"displayName,omitempty"`
	Type        ParameterType `yaml:"type,omitempty"`
	Default     any           `yaml:"default,omitempty"`
	Values      []any         `yaml:"values,omitempty"`
}

// Pool names an agent pool, either as a bare string or a full spec.
type Pool struct {
	Name    string
	VMImage string
	Demands []string
}

func (p *Pool) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		p.Name = node.Value
		return nil
	}
	var aux struct {
		Name    string     `yaml:"name"`
		VMImage string     `yaml:"vmImage"`
		Demands demandList `yaml:"demands"`
	}
	if err := node.Decode(&aux); err != nil {
		return err
	}
	p.Name = aux.Name
	p.VMImage = aux.VMImage
	p.Demands = aux.Demands
	return nil
}

func (p Pool) MarshalYAML() (any, error) {
	if p.VMImage == "" && len(p.Demands) == 0 {
		return p.Name, nil
	}
	return map[string]any{"name": p.Name, "vmImage": p.VMImage}, nil
}

type demandList []string

func (d *demandList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*d = []string{node.Value}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*d = items
		return nil
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			*d = append(*d, node.Content[i].Value+" -equals "+node.Content[i+1].Value)
		}
		return nil
	}
	return NewParseError("demands must be a string, list, or map", node.Line, node.Column)
}

// ContainerRef is either a bare image name or a full container spec.
type ContainerRef struct {
	Image           string
	Endpoint        string
	Env             map[string]string
	Ports           []string
	Volumes         []string
	Options         string
	MapDockerSocket *bool
}

func (c *ContainerRef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		c.Image = node.Value
		return nil
	}
	var aux struct {
		Image           string            `yaml:"image"`
		Endpoint        string            `yaml:"endpoint"`
		Env             map[string]string `yaml:"env"`
		Ports           []string          `yaml:"ports"`
		Volumes         []string          `yaml:"volumes"`
		Options         string            `yaml:"options"`
		MapDockerSocket *bool             `yaml:"mapDockerSocket"`
	}
	if err := node.Decode(&aux); err != nil {
		return err
	}
	c.Image = aux.Image
	c.Endpoint = aux.Endpoint
	c.Env = aux.Env
	c.Ports = aux.Ports
	c.Volumes = aux.Volumes
	c.Options = aux.Options
	c.MapDockerSocket = aux.MapDockerSocket
	return nil
}

func (c ContainerRef) MarshalYAML() (any, error) {
	if c.Endpoint == "" && len(c.Env) == 0 && len(c.Ports) == 0 && len(c.Volumes) == 0 && c.Options == "" {
		return c.Image, nil
	}
	return map[string]any{"image": c.Image, "options": c.Options}, nil
}

// Strategy holds a matrix or parallel fan-out, or a deployment strategy.
type Strategy struct {
	Matrix      *Matrix `yaml:"matrix,omitempty"`
	Parallel    int     `yaml:"parallel,omitempty"`
	MaxParallel int     `yaml:"maxParallel,omitempty"`

	RunOnce *DeploymentHooks `yaml:"runOnce,omitempty"`
	Rolling *RollingHooks    `yaml:"rolling,omitempty"`
	Canary  *CanaryHooks     `yaml:"canary,omitempty"`
}

// Hooks returns the deployment hook set for whichever deployment
// strategy is present, or nil.
func (s *Strategy) Hooks() *DeploymentHooks {
	switch {
	case s.RunOnce != nil:
		return s.RunOnce
	case s.Rolling != nil:
		return &s.Rolling.DeploymentHooks
	case s.Canary != nil:
		return &s.Canary.DeploymentHooks
	}
	return nil
}

// Matrix is an inline configuration table or a runtime expression that
// yields one.
type Matrix struct {
	Expression string
	Configs    []MatrixConfig
}

// MatrixConfig is one matrix cell: a name and the variables it sets.
type MatrixConfig struct {
	Name      string
	Variables map[string]string
}

func (m *Matrix) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		m.Expression = node.Value
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return NewParseError("matrix must be a map of configurations or an expression", node.Line, node.Column)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		var vars map[string]string
		if err := node.Content[i+1].Decode(&vars); err != nil {
			return err
		}
		m.Configs = append(m.Configs, MatrixConfig{Name: node.Content[i].Value, Variables: vars})
	}
	return nil
}

func (m Matrix) MarshalYAML() (any, error) {
	if m.Expression != "" {
		return m.Expression, nil
	}
	out := map[string]map[string]string{}
	for _, c := range m.Configs {
		out[c.Name] = c.Variables
	}
	return out, nil
}

// DeploymentHooks are the lifecycle step sequences of a deployment job.
// The effective step list is preDeploy, deploy, routeTraffic,
// postRouteTraffic in that order.
type DeploymentHooks struct {
	PreDeploy        *HookSteps `yaml:"preDeploy,omitempty"`
	Deploy           *HookSteps `yaml:"deploy,omitempty"`
	RouteTraffic     *HookSteps `yaml:"routeTraffic,omitempty"`
	PostRouteTraffic *HookSteps `yaml:"postRouteTraffic,omitempty"`
	OnFailure        *HookSteps `yaml:"on_failure,omitempty"`
	OnSuccess        *HookSteps `yaml:"on_success,omitempty"`
}

// Ordered returns the hook sequences that make up the effective step
// list, skipping absent ones.
func (h *DeploymentHooks) Ordered() []*HookSteps {
	var out []*HookSteps
	for _, hook := range []*HookSteps{h.PreDeploy, h.Deploy, h.RouteTraffic, h.PostRouteTraffic} {
		if hook != nil {
			out = append(out, hook)
		}
	}
	return out
}

type RollingHooks struct {
	MaxParallel     int `yaml:"maxParallel,omitempty"`
	DeploymentHooks `yaml:",inline"`
}

type CanaryHooks struct {
	Increments      []int `yaml:"increments,omitempty"`
	DeploymentHooks `yaml:",inline"`
}

// HookSteps is one hook sequence.
type HookSteps struct {
	Pool  *Pool    `yaml:"pool,omitempty"`
	Steps StepList `yaml:"steps,omitempty"`
}

// Resources declares external repositories, containers, and pipelines.
type Resources struct {
	Repositories []RepositoryResource `yaml:"repositories,omitempty"`
	Containers   []ContainerResource  `yaml:"containers,omitempty"`
	Pipelines    []PipelineResource   `yaml:"pipelines,omitempty"`
}

type RepositoryResource struct {
	Repository string     `yaml:"repository"`
	Type       string     `yaml:"type,omitempty"`
	Name       string     `yaml:"name,omitempty"`
	Ref        string     `yaml:"ref,omitempty"`
	Endpoint   string     `yaml:"endpoint,omitempty"`
	Trigger    *yaml.Node `yaml:"trigger,omitempty"`
}

type ContainerResource struct {
	Container string            `yaml:"container"`
	Image     string            `yaml:"image"`
	Endpoint  string            `yaml:"endpoint,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	Ports     []string          `yaml:"ports,omitempty"`
	Volumes   []string          `yaml:"volumes,omitempty"`
	Options   string            `yaml:"options,omitempty"`
}

type PipelineResource struct {
	Pipeline string `yaml:"pipeline"`
	Source   string `yaml:"source"`
	Project  string `yaml:"project,omitempty"`
	Version  string `yaml:"version,omitempty"`
	Branch   string `yaml:"branch,omitempty"`
}

// isDirectiveNode reports whether a list item is a compile-time template
// directive mapping, e.g. "${{ if ... }}:". These survive only in raw
// documents that have not been through template resolution; the tolerant
// list types skip them so a plain parse still succeeds.
func isDirectiveNode(node *yaml.Node) bool {
	if node.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i < len(node.Content); i += 2 {
		if k := node.Content[i].Value; len(k) >= 3 && k[0] == '$' && k[1] == '{' && k[2] == '{' {
			return true
		}
	}
	return false
}

// StageList skips template-directive items during decode.
type StageList []Stage

func (l *StageList) UnmarshalYAML(node *yaml.Node) error {
	return decodeTolerant(node, (*[]Stage)(l), "stages")
}

// JobList skips template-directive items during decode.
type JobList []Job

func (l *JobList) UnmarshalYAML(node *yaml.Node) error {
	return decodeTolerant(node, (*[]Job)(l), "jobs")
}

// StepList skips template-directive items during decode.
type StepList []Step

func (l *StepList) UnmarshalYAML(node *yaml.Node) error {
	return decodeTolerant(node, (*[]Step)(l), "steps")
}

func decodeTolerant[T any](node *yaml.Node, out *[]T, what string) error {
	if node.Kind != yaml.SequenceNode {
		return NewParseError(fmt.Sprintf("%s must be a list", what), node.Line, node.Column)
	}
	for _, item := range node.Content {
		if isDirectiveNode(item) {
			continue
		}
		var v T
		if err := item.Decode(&v); err != nil {
			return err
		}
		*out = append(*out, v)
	}
	return nil
}
