package task

import (
	"strconv"
	"strings"
)

// Builtin stubs mirror the standard Azure DevOps utility tasks so a
// pipeline using Bash@3, PowerShell@2, or CmdLine@2 runs without a
// populated cache. The GUIDs match the upstream task definitions.

func builtinManifest(name, version string) *Manifest {
	major, err := strconv.Atoi(strings.SplitN(version, ".", 2)[0])
	if err != nil {
		return nil
	}

	switch name {
	case "Bash":
		return &Manifest{
			ID:                 "6c731c3c-3c68-459a-a5c9-bde6e6595b5b",
			Name:               "Bash",
			FriendlyName:       "Bash",
			Description:        "Run a Bash script",
			Category:           "Utility",
			Author:             "Microsoft Corporation",
			Version:            Version{Major: major},
			InstanceNameFormat: "Bash Script",
			Inputs: []Input{
				{Name: "targetType", Type: "radio", DefaultValue: "inline"},
				{Name: "script", Type: "multiLine", Required: true, VisibleRule: "targetType = inline"},
				{Name: "filePath", Type: "filePath", Required: true, VisibleRule: "targetType = filePath"},
				{Name: "arguments", Type: "string"},
				{Name: "workingDirectory", Type: "filePath"},
				{Name: "failOnStderr", Type: "boolean", DefaultValue: "false"},
			},
		}
	case "PowerShell":
		return &Manifest{
			ID:                 "e213ff0f-5d5c-4791-802d-52ea3e7be1f1",
			Name:               "PowerShell",
			FriendlyName:       "PowerShell",
			Description:        "Run a PowerShell script",
			Category:           "Utility",
			Author:             "Microsoft Corporation",
			Version:            Version{Major: major},
			InstanceNameFormat: "PowerShell Script",
			Inputs: []Input{
				{Name: "targetType", Type: "radio", DefaultValue: "inline"},
				{Name: "script", Type: "multiLine", Required: true, VisibleRule: "targetType = inline"},
				{Name: "filePath", Type: "filePath", Required: true, VisibleRule: "targetType = filePath"},
				{Name: "errorActionPreference", Type: "string", DefaultValue: "stop"},
				{Name: "workingDirectory", Type: "filePath"},
				{Name: "failOnStderr", Type: "boolean", DefaultValue: "false"},
				{Name: "pwsh", Type: "boolean", DefaultValue: "false"},
			},
		}
	case "CmdLine":
		return &Manifest{
			ID:                 "d9bafed4-0b18-4f58-968d-86655b4d2ce9",
			Name:               "CmdLine",
			FriendlyName:       "Command line",
			Description:        "Run a command line script",
			Category:           "Utility",
			Author:             "Microsoft Corporation",
			Version:            Version{Major: major},
			InstanceNameFormat: "Command Line Script",
			Inputs: []Input{
				{Name: "script", Type: "multiLine", Required: true},
				{Name: "workingDirectory", Type: "filePath"},
				{Name: "failOnStderr", Type: "boolean", DefaultValue: "false"},
			},
		}
	}
	return nil
}
