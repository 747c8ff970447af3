// Package task caches Azure DevOps task packages and executes their
// entry points. Lookup order is memory, then the on-disk cache under the
// user cache directory, then builtin stubs for the standard utility
// tasks.
package task

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Manifest is a task.json definition.
type Manifest struct {
	ID                 string            `json:"id"`
	Name               string            `json:"name"`
	FriendlyName       string            `json:"friendlyName,omitempty"`
	Description        string            `json:"description,omitempty"`
	Category           string            `json:"category,omitempty"`
	Author             string            `json:"author,omitempty"`
	Version            Version           `json:"version"`
	InstanceNameFormat string            `json:"instanceNameFormat,omitempty"`
	Inputs             []Input           `json:"inputs,omitempty"`
	OutputVariables    []OutputVariable  `json:"outputVariables,omitempty"`
	Execution          *ExecutionSection `json:"execution,omitempty"`
	Demands            []string          `json:"demands,omitempty"`
}

// Version is the manifest's version block. Azure task manifests use
// PascalCase keys here, unlike the rest of the file.
type Version struct {
	Major int `json:"Major"`
	Minor int `json:"Minor"`
	Patch int `json:"Patch"`
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Input is one declared task input.
type Input struct {
	Name         string   `json:"name"`
	Type         string   `json:"type,omitempty"`
	Label        string   `json:"label,omitempty"`
	DefaultValue string   `json:"defaultValue,omitempty"`
	Required     bool     `json:"required,omitempty"`
	VisibleRule  string   `json:"visibleRule,omitempty"`
	Aliases      []string `json:"aliases,omitempty"`
}

// OutputVariable is a declared task output.
type OutputVariable struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// ExecutionSection holds the manifest's execution handlers, keyed by
// runtime flavor.
type ExecutionSection struct {
	Node        *Execution `json:"Node,omitempty"`
	Node10      *Execution `json:"Node10,omitempty"`
	Node16      *Execution `json:"Node16,omitempty"`
	Node20      *Execution `json:"Node20_1,omitempty"`
	PowerShell  *Execution `json:"PowerShell,omitempty"`
	PowerShell3 *Execution `json:"PowerShell3,omitempty"`
}

// Execution is one entry-point declaration.
type Execution struct {
	Target           string `json:"target"`
	WorkingDirectory string `json:"workingDirectory,omitempty"`
	ArgumentFormat   string `json:"argumentFormat,omitempty"`
}

// ParseManifest decodes a task.json document.
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse task manifest: %w", err)
	}
	if m.Name == "" {
		return nil, fmt.Errorf("task manifest has no name")
	}
	return &m, nil
}

// LoadManifest reads and decodes a task.json file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task manifest: %w", err)
	}
	return ParseManifest(data)
}

// NodeEntry returns the preferred Node handler, oldest flavor first to
// match agent behavior.
func (m *Manifest) NodeEntry() *Execution {
	if m.Execution == nil {
		return nil
	}
	for _, entry := range []*Execution{m.Execution.Node, m.Execution.Node10, m.Execution.Node16, m.Execution.Node20} {
		if entry != nil {
			return entry
		}
	}
	return nil
}

// PowerShellEntry returns the PowerShell handler, if any.
func (m *Manifest) PowerShellEntry() *Execution {
	if m.Execution == nil {
		return nil
	}
	if m.Execution.PowerShell3 != nil {
		return m.Execution.PowerShell3
	}
	return m.Execution.PowerShell
}

// DefaultValues maps input names to their declared defaults.
func (m *Manifest) DefaultValues() map[string]string {
	defaults := map[string]string{}
	for _, input := range m.Inputs {
		if input.DefaultValue != "" {
			defaults[input.Name] = input.DefaultValue
		}
	}
	return defaults
}

// ValidateInputs checks that every required input is supplied, has a
// default, or is hidden by an unsatisfied visibility rule.
func (m *Manifest) ValidateInputs(provided map[string]string) error {
	for _, input := range m.Inputs {
		if !input.Required {
			continue
		}
		if _, ok := provided[input.Name]; ok {
			continue
		}
		if input.DefaultValue != "" {
			continue
		}
		if hasAlias(input.Aliases, provided) {
			continue
		}
		// A required input behind a visibility rule whose gating input
		// is absent is not required in this invocation.
		if input.VisibleRule != "" {
			gate, _, found := strings.Cut(input.VisibleRule, "=")
			gate = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(gate), "!"))
			if found {
				if _, ok := provided[gate]; !ok {
					continue
				}
			}
		}
		return fmt.Errorf("task '%s' requires input '%s'", m.Name, input.Name)
	}
	return nil
}

func hasAlias(aliases []string, provided map[string]string) bool {
	for _, alias := range aliases {
		if _, ok := provided[alias]; ok {
			return true
		}
	}
	return false
}
