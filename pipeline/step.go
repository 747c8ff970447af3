package pipeline

import (
	"gopkg.in/yaml.v3"
)

// Step is one unit of work inside a job. The action is a tagged variant
// determined by which discriminator key the YAML mapping carries.
type Step struct {
	Name        string
	DisplayName string
	Condition   string

	ContinueOnError         BoolOrExpr
	Enabled                 bool
	TimeoutInMinutes        int
	RetryCountOnTaskFailure int
	Env                     map[string]string

	Action StepAction

	// Source location, for error reporting.
	Line   int
	Column int
}

// StepAction is the variant interface for what a step does.
type StepAction interface {
	stepAction()
}

// ScriptAction runs a command line with the platform default shell.
type ScriptAction struct {
	Script           string
	WorkingDirectory string
	FailOnStderr     bool
}

// BashAction runs a bash script.
type BashAction struct {
	Bash             string
	WorkingDirectory string
	FailOnStderr     bool
}

// PwshAction runs a PowerShell Core script.
type PwshAction struct {
	Pwsh                  string
	WorkingDirectory      string
	FailOnStderr          bool
	ErrorActionPreference string
}

// PowerShellAction runs a Windows PowerShell script.
type PowerShellAction struct {
	PowerShell            string
	WorkingDirectory      string
	FailOnStderr          bool
	ErrorActionPreference string
}

// CheckoutAction checks out a repository. Source is "self", "none", or a
// repository resource name.
type CheckoutAction struct {
	Source     string
	Clean      bool
	FetchDepth int
	LFS        bool
	Submodules string
	Path       string
}

// TaskAction invokes a packaged task by "Name@Major" reference.
type TaskAction struct {
	Ref    string
	Inputs map[string]string
}

// TemplateAction includes steps from a template file. Eliminated during
// template resolution; finding one at execution time is an error.
type TemplateAction struct {
	Path       string
	Parameters map[string]any
}

// DownloadAction downloads pipeline artifacts. Source is "current",
// "none", or a pipeline resource name.
type DownloadAction struct {
	Source   string
	Artifact string
	Patterns string
	Path     string
}

// PublishAction publishes a path as a named artifact.
type PublishAction struct {
	Path     string
	Artifact string
}

func (ScriptAction) stepAction()     {}
func (BashAction) stepAction()       {}
func (PwshAction) stepAction()       {}
func (PowerShellAction) stepAction() {}
func (CheckoutAction) stepAction()   {}
func (TaskAction) stepAction()       {}
func (TemplateAction) stepAction()   {}
func (DownloadAction) stepAction()   {}
func (PublishAction) stepAction()    {}

func (s *Step) UnmarshalYAML(node *yaml.Node) error {
	var aux struct {
		Name                    string            `yaml:"name"`
		DisplayName             string            `yaml:"displayName"`
		Condition               string            `yaml:"condition"`
		ContinueOnError         BoolOrExpr        `yaml:"continueOnError"`
		Enabled                 *bool             `yaml:"enabled"`
		TimeoutInMinutes        int               `yaml:"timeoutInMinutes"`
		RetryCountOnTaskFailure int               `yaml:"retryCountOnTaskFailure"`
		Env                     map[string]string `yaml:"env"`

		Script     *string `yaml:"script"`
		Bash       *string `yaml:"bash"`
		Pwsh       *string `yaml:"pwsh"`
		PowerShell *string `yaml:"powershell"`
		Checkout   *string `yaml:"checkout"`
		Task       *string `yaml:"task"`
		Template   *string `yaml:"template"`
		Download   *string `yaml:"download"`
		Publish    *string `yaml:"publish"`

		WorkingDirectory      string            `yaml:"workingDirectory"`
		FailOnStderr          bool              `yaml:"failOnStderr"`
		ErrorActionPreference string            `yaml:"errorActionPreference"`
		Clean                 bool              `yaml:"clean"`
		FetchDepth            int               `yaml:"fetchDepth"`
		LFS                   bool              `yaml:"lfs"`
		Submodules            string            `yaml:"submodules"`
		Path                  string            `yaml:"path"`
		Inputs                map[string]string `yaml:"inputs"`
		Parameters            map[string]any    `yaml:"parameters"`
		Artifact              string            `yaml:"artifact"`
		Patterns              string            `yaml:"patterns"`
	}
	if err := node.Decode(&aux); err != nil {
		return err
	}

	s.Name = aux.Name
	s.DisplayName = aux.DisplayName
	s.Condition = aux.Condition
	s.ContinueOnError = aux.ContinueOnError
	s.Enabled = aux.Enabled == nil || *aux.Enabled
	s.TimeoutInMinutes = aux.TimeoutInMinutes
	s.RetryCountOnTaskFailure = aux.RetryCountOnTaskFailure
	s.Env = aux.Env
	s.Line = node.Line
	s.Column = node.Column

	switch {
	case aux.Script != nil:
		s.Action = ScriptAction{Script: *aux.Script, WorkingDirectory: aux.WorkingDirectory, FailOnStderr: aux.FailOnStderr}
	case aux.Bash != nil:
		s.Action = BashAction{Bash: *aux.Bash, WorkingDirectory: aux.WorkingDirectory, FailOnStderr: aux.FailOnStderr}
	case aux.Pwsh != nil:
		s.Action = PwshAction{Pwsh: *aux.Pwsh, WorkingDirectory: aux.WorkingDirectory, FailOnStderr: aux.FailOnStderr, ErrorActionPreference: aux.ErrorActionPreference}
	case aux.PowerShell != nil:
		s.Action = PowerShellAction{PowerShell: *aux.PowerShell, WorkingDirectory: aux.WorkingDirectory, FailOnStderr: aux.FailOnStderr, ErrorActionPreference: aux.ErrorActionPreference}
	case aux.Checkout != nil:
		s.Action = CheckoutAction{Source: *aux.Checkout, Clean: aux.Clean, FetchDepth: aux.FetchDepth, LFS: aux.LFS, Submodules: aux.Submodules, Path: aux.Path}
	case aux.Task != nil:
		s.Action = TaskAction{Ref: *aux.Task, Inputs: aux.Inputs}
	case aux.Template != nil:
		s.Action = TemplateAction{Path: *aux.Template, Parameters: aux.Parameters}
	case aux.Download != nil:
		s.Action = DownloadAction{Source: *aux.Download, Artifact: aux.Artifact, Patterns: aux.Patterns, Path: aux.Path}
	case aux.Publish != nil:
		s.Action = PublishAction{Path: *aux.Publish, Artifact: aux.Artifact}
	default:
		return NewParseError(
			"step must specify an action (script, bash, pwsh, powershell, checkout, task, template, download, or publish)",
			node.Line, node.Column)
	}
	return nil
}

func (s Step) MarshalYAML() (any, error) {
	out := map[string]any{}
	if s.Name != "" {
		out["name"] = s.Name
	}
	if s.DisplayName != "" {
		out["displayName"] = s.DisplayName
	}
	if s.Condition != "" {
		out["condition"] = s.Condition
	}
	if !s.Enabled {
		out["enabled"] = false
	}
	if len(s.Env) > 0 {
		out["env"] = s.Env
	}
	switch a := s.Action.(type) {
	case ScriptAction:
		out["script"] = a.Script
	case BashAction:
		out["bash"] = a.Bash
	case PwshAction:
		out["pwsh"] = a.Pwsh
	case PowerShellAction:
		out["powershell"] = a.PowerShell
	case CheckoutAction:
		out["checkout"] = a.Source
	case TaskAction:
		out["task"] = a.Ref
		out["inputs"] = a.Inputs
	case TemplateAction:
		out["template"] = a.Path
		out["parameters"] = a.Parameters
	case DownloadAction:
		out["download"] = a.Source
	case PublishAction:
		out["publish"] = a.Path
		out["artifact"] = a.Artifact
	}
	return out, nil
}

// EffectiveDisplayName picks the best label for UI and results: the
// display name, then the step name, then a summary of the action.
func (s *Step) EffectiveDisplayName() string {
	if s.DisplayName != "" {
		return s.DisplayName
	}
	if s.Name != "" {
		return s.Name
	}
	switch a := s.Action.(type) {
	case ScriptAction:
		return firstLine(a.Script)
	case BashAction:
		return firstLine(a.Bash)
	case PwshAction:
		return firstLine(a.Pwsh)
	case PowerShellAction:
		return firstLine(a.PowerShell)
	case CheckoutAction:
		return "Checkout " + a.Source
	case TaskAction:
		return a.Ref
	case DownloadAction:
		return "Download " + a.Source
	case PublishAction:
		return "Publish " + a.Artifact
	}
	return "Step"
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
