package task

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/roxid/runtime"
)

func TestParseRef(t *testing.T) {
	name, version, err := ParseRef("Bash@3")
	require.NoError(t, err)
	assert.Equal(t, "Bash", name)
	assert.Equal(t, "3", version)

	_, _, err = ParseRef("Bash")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected Name@Major")

	_, _, err = ParseRef("@3")
	require.Error(t, err)
}

func TestBuiltinManifests(t *testing.T) {
	tests := []struct {
		name string
		id   string
	}{
		{"Bash", "6c731c3c-3c68-459a-a5c9-bde6e6595b5b"},
		{"PowerShell", "e213ff0f-5d5c-4791-802d-52ea3e7be1f1"},
		{"CmdLine", "d9bafed4-0b18-4f58-968d-86655b4d2ce9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := builtinManifest(tt.name, "3")
			require.NotNil(t, m)
			assert.Equal(t, tt.id, m.ID)
			assert.Equal(t, tt.name, m.Name)
			assert.Equal(t, 3, m.Version.Major)
		})
	}

	assert.Nil(t, builtinManifest("Unknown", "1"))
	assert.Nil(t, builtinManifest("Bash", "latest"))
}

func TestValidateInputs(t *testing.T) {
	m := builtinManifest("Bash", "3")

	// script is required but gated behind targetType; with targetType
	// absent the rule cannot apply, so validation passes.
	require.NoError(t, m.ValidateInputs(map[string]string{}))

	// Once the gating input is present, the requirement holds.
	err := m.ValidateInputs(map[string]string{"targetType": "inline"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires input 'script'")

	require.NoError(t, m.ValidateInputs(map[string]string{
		"targetType": "inline",
		"script":     "echo hi",
		"filePath":   "run.sh",
	}))
}

func TestValidateInputsAlias(t *testing.T) {
	m := &Manifest{
		Name: "Custom",
		Inputs: []Input{
			{Name: "connectedService", Required: true, Aliases: []string{"azureSubscription"}},
		},
	}
	require.Error(t, m.ValidateInputs(map[string]string{}))
	require.NoError(t, m.ValidateInputs(map[string]string{"azureSubscription": "prod"}))
}

func TestDefaultValues(t *testing.T) {
	m := builtinManifest("PowerShell", "2")
	defaults := m.DefaultValues()
	assert.Equal(t, "stop", defaults["errorActionPreference"])
	assert.Equal(t, "false", defaults["pwsh"])
	assert.NotContains(t, defaults, "script")
}

func TestCacheGetBuiltin(t *testing.T) {
	cache := NewCacheAt(t.TempDir())
	task, err := cache.Get("Bash@3")
	require.NoError(t, err)
	assert.Equal(t, "Bash", task.Name)
	assert.Empty(t, task.Dir)

	_, err = cache.Get("NoSuchTask@1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found in cache")
}

func TestCacheInstallAndGet(t *testing.T) {
	cache := NewCacheAt(t.TempDir())
	manifest := []byte(`{
		"id": "11111111-2222-3333-4444-555555555555",
		"name": "MyTask",
		"version": {"Major": 1, "Minor": 0, "Patch": 0},
		"inputs": [{"name": "greeting", "defaultValue": "hello"}],
		"execution": {"Node16": {"target": "index.js"}}
	}`)
	require.NoError(t, cache.Install("MyTask", "1", manifest))

	task, err := cache.Get("MyTask@1")
	require.NoError(t, err)
	assert.Equal(t, "MyTask", task.Manifest.Name)
	assert.Equal(t, filepath.Join(cache.Dir(), "MyTask", "1"), task.Dir)
	assert.Equal(t, filepath.Join(task.Dir, "index.js"), task.EntryPath())

	list, err := cache.List()
	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"MyTask", "1"}}, list)
}

func TestCacheClear(t *testing.T) {
	cache := NewCacheAt(t.TempDir())
	manifest := []byte(`{"name": "MyTask", "version": {"Major": 1}}`)
	require.NoError(t, cache.Install("MyTask", "1", manifest))
	require.NoError(t, cache.Clear())

	list, err := cache.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCacheInstallRejectsBadManifest(t *testing.T) {
	cache := NewCacheAt(t.TempDir())
	require.Error(t, cache.Install("Bad", "1", []byte("{not json")))
	require.Error(t, cache.Install("Bad", "1", []byte(`{"version": {"Major": 1}}`)))
}

type fakeShell struct {
	requests []runtime.ShellRequest
	outcome  *runtime.ShellOutcome
}

func (f *fakeShell) RunShell(ctx context.Context, req runtime.ShellRequest) (*runtime.ShellOutcome, error) {
	f.requests = append(f.requests, req)
	if f.outcome != nil {
		return f.outcome, nil
	}
	return &runtime.ShellOutcome{ExitCode: 0}, nil
}

func TestRunBashTaskInline(t *testing.T) {
	shell := &fakeShell{}
	r := NewRunner(NewCacheAt(t.TempDir()), shell)

	outcome, err := r.RunTask(context.Background(), runtime.TaskRequest{
		Ref: "Bash@3",
		Inputs: map[string]string{
			"targetType": "inline",
			"script":     "echo building",
			"arguments":  "--verbose",
		},
		WorkingDir: "/tmp/work",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.ExitCode)

	require.Len(t, shell.requests, 1)
	req := shell.requests[0]
	assert.Equal(t, runtime.ShellBash, req.Shell)
	assert.Equal(t, "echo building --verbose", req.Script)
	assert.Equal(t, "/tmp/work", req.WorkingDir)
}

func TestRunBashTaskFilePath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "build.sh"), []byte("echo from-file"), 0o755))

	shell := &fakeShell{}
	r := NewRunner(NewCacheAt(t.TempDir()), shell)

	_, err := r.RunTask(context.Background(), runtime.TaskRequest{
		Ref: "Bash@3",
		Inputs: map[string]string{
			"targetType": "filePath",
			"filePath":   "build.sh",
		},
		WorkingDir: dir,
	})
	require.NoError(t, err)
	require.Len(t, shell.requests, 1)
	assert.Equal(t, "echo from-file", shell.requests[0].Script)
}

func TestRunPowerShellTask(t *testing.T) {
	shell := &fakeShell{}
	r := NewRunner(NewCacheAt(t.TempDir()), shell)

	_, err := r.RunTask(context.Background(), runtime.TaskRequest{
		Ref: "PowerShell@2",
		Inputs: map[string]string{
			"targetType": "inline",
			"script":     "Write-Host hi",
			"pwsh":       "true",
		},
	})
	require.NoError(t, err)
	require.Len(t, shell.requests, 1)
	assert.Equal(t, runtime.ShellPwsh, shell.requests[0].Shell)
	assert.Equal(t, "stop", shell.requests[0].ErrorActionPreference)
}

func TestRunCmdLineTask(t *testing.T) {
	shell := &fakeShell{}
	r := NewRunner(NewCacheAt(t.TempDir()), shell)

	_, err := r.RunTask(context.Background(), runtime.TaskRequest{
		Ref:    "CmdLine@2",
		Inputs: map[string]string{"script": "make all"},
	})
	require.NoError(t, err)
	require.Len(t, shell.requests, 1)
	assert.Equal(t, runtime.ShellScript, shell.requests[0].Shell)
	assert.Equal(t, "make all", shell.requests[0].Script)
}

func TestRunManifestNodeTask(t *testing.T) {
	cache := NewCacheAt(t.TempDir())
	manifest := []byte(`{
		"name": "MyTask",
		"version": {"Major": 1},
		"inputs": [{"name": "mode", "defaultValue": "fast"}],
		"execution": {"Node16": {"target": "dist/index.js"}}
	}`)
	require.NoError(t, cache.Install("MyTask", "1", manifest))

	shell := &fakeShell{}
	r := NewRunner(cache, shell)

	_, err := r.RunTask(context.Background(), runtime.TaskRequest{
		Ref:        "MyTask@1",
		Inputs:     map[string]string{"project name": "roxid"},
		WorkingDir: "/tmp/work",
	})
	require.NoError(t, err)

	require.Len(t, shell.requests, 1)
	req := shell.requests[0]
	assert.Contains(t, req.Script, "node '")
	assert.Contains(t, req.Script, filepath.Join("MyTask", "1", "dist", "index.js"))
	assert.Equal(t, "fast", req.Env["INPUT_MODE"])
	assert.Equal(t, "roxid", req.Env["INPUT_PROJECT_NAME"])
	assert.Equal(t, "/tmp/work", req.Env["SYSTEM_DEFAULTWORKINGDIRECTORY"])
}

func TestRunTaskMissingRequiredInput(t *testing.T) {
	r := NewRunner(NewCacheAt(t.TempDir()), &fakeShell{})
	_, err := r.RunTask(context.Background(), runtime.TaskRequest{
		Ref:    "CmdLine@2",
		Inputs: map[string]string{},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires input 'script'")
}

func TestInputEnvName(t *testing.T) {
	assert.Equal(t, "SCRIPT", inputEnvName("script"))
	assert.Equal(t, "PROJECT_NAME", inputEnvName("project.name"))
	assert.Equal(t, "WORKING_DIRECTORY", inputEnvName("working directory"))
}
