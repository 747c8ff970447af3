package template

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/roxid/pipeline"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func resolve(t *testing.T, dir, source string, params map[string]any) *pipeline.Pipeline {
	t.Helper()
	p, err := NewEngine(dir).Resolve([]byte(source), params)
	require.NoError(t, err)
	return p
}

func scriptText(t *testing.T, step pipeline.Step) string {
	t.Helper()
	action, ok := step.Action.(pipeline.ScriptAction)
	require.True(t, ok, "step %q is not a script step", step.DisplayName)
	return action.Script
}

func TestResolveStepTemplate(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "build-steps.yml", `
parameters:
  - name: configuration
    type: string
    default: Debug
steps:
  - script: dotnet build -c ${{ parameters.configuration }}
    displayName: Build ${{ parameters.configuration }}
`)

	p := resolve(t, dir, `
steps:
  - script: echo start
  - template: build-steps.yml
    parameters:
      configuration: Release
  - script: echo done
`, nil)

	require.Len(t, p.Steps, 3)
	assert.Equal(t, "dotnet build -c Release", scriptText(t, p.Steps[1]))
	assert.Equal(t, "Build Release", p.Steps[1].DisplayName)
}

func TestResolveStepTemplateDefault(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "build-steps.yml", `
parameters:
  - name: configuration
    type: string
    default: Debug
steps:
  - script: dotnet build -c ${{ parameters.configuration }}
`)

	p := resolve(t, dir, `
steps:
  - template: build-steps.yml
`, nil)

	require.Len(t, p.Steps, 1)
	assert.Equal(t, "dotnet build -c Debug", scriptText(t, p.Steps[0]))
}

func TestResolveJobTemplate(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "jobs/test.yml", `
parameters:
  - name: name
    type: string
steps: []
jobs:
  - job: Test_${{ parameters.name }}
    steps:
      - script: go test ./...
`)

	p := resolve(t, dir, `
jobs:
  - template: jobs/test.yml
    parameters:
      name: Unit
`, nil)

	require.Len(t, p.Jobs, 1)
	assert.Equal(t, "Test_Unit", p.Jobs[0].Job)
	require.Len(t, p.Jobs[0].Steps, 1)
}

func TestResolveStageTemplate(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "stages.yml", `
stages:
  - stage: Deploy
    jobs:
      - job: Release
        steps:
          - script: ./deploy.sh
`)

	p := resolve(t, dir, `
stages:
  - stage: Build
    jobs:
      - job: Compile
        steps:
          - script: make
  - template: stages.yml
`, nil)

	require.Len(t, p.Stages, 2)
	assert.Equal(t, "Deploy", p.Stages[1].Stage)
}

func TestResolveVariableTemplate(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "vars.yml", `
variables:
  - name: buildConfiguration
    value: Release
  - name: verbosity
    value: minimal
`)

	p := resolve(t, dir, `
variables:
  - name: local
    value: here
  - template: vars.yml
steps:
  - script: echo hi
`, nil)

	require.Len(t, p.Variables, 3)
	assert.Equal(t, "buildConfiguration", p.Variables[1].Name)
	assert.Equal(t, "Release", p.Variables[1].Value)
}

func TestResolveVariableTemplateMapForm(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "vars.yml", `
variables:
  region: us-east-1
`)

	p := resolve(t, dir, `
variables:
  - template: vars.yml
steps:
  - script: echo hi
`, nil)

	require.Len(t, p.Variables, 1)
	assert.Equal(t, "region", p.Variables[0].Name)
	assert.Equal(t, "us-east-1", p.Variables[0].Value)
}

func TestResolveNestedTemplates(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "outer.yml", `
steps:
  - script: echo outer-before
  - template: inner.yml
  - script: echo outer-after
`)
	writeFile(t, dir, "inner.yml", `
steps:
  - script: echo inner
`)

	p := resolve(t, dir, `
steps:
  - template: outer.yml
`, nil)

	require.Len(t, p.Steps, 3)
	assert.Equal(t, "echo inner", scriptText(t, p.Steps[1]))
}

func TestResolveExtends(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yml", `
parameters:
  - name: runTests
    type: boolean
    default: true
variables:
  - name: configuration
    value: Debug
stages:
  - stage: Build
    jobs:
      - job: Compile
        steps:
          - script: make
  - ${{ if eq(parameters.runTests, true) }}:
      stage: Test
      jobs:
        - job: Unit
          steps:
            - script: make test
`)

	p := resolve(t, dir, `
name: extended
variables:
  - name: configuration
    value: Release
extends:
  template: base.yml
  parameters:
    runTests: true
`, nil)

	assert.Equal(t, "extended", p.Name)
	require.Len(t, p.Stages, 2)
	assert.Equal(t, "Test", p.Stages[1].Stage)
	require.Len(t, p.Variables, 1)
	assert.Equal(t, "Release", p.Variables[0].Value)
}

func TestResolveExtendsParameterDisablesStage(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yml", `
parameters:
  - name: runTests
    type: boolean
    default: true
stages:
  - stage: Build
    jobs:
      - job: Compile
        steps:
          - script: make
  - ${{ if eq(parameters.runTests, true) }}:
      stage: Test
      jobs:
        - job: Unit
          steps:
            - script: make test
`)

	p := resolve(t, dir, `
extends:
  template: base.yml
  parameters:
    runTests: false
`, nil)

	require.Len(t, p.Stages, 1)
	assert.Equal(t, "Build", p.Stages[0].Stage)
}

func TestMissingRequiredParameter(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "steps.yml", `
parameters:
  - name: target
    type: string
steps:
  - script: make ${{ parameters.target }}
`)

	_, err := NewEngine(dir).Resolve([]byte(`
steps:
  - template: steps.yml
`), nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "required parameter 'target'")
}

func TestParameterNotInAllowedValues(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "steps.yml", `
parameters:
  - name: environment
    type: string
    values:
      - dev
      - prod
steps:
  - script: deploy ${{ parameters.environment }}
`)

	_, err := NewEngine(dir).Resolve([]byte(`
steps:
  - template: steps.yml
    parameters:
      environment: staging
`), nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not in allowed values")
}

func TestParameterTypeMismatch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "steps.yml", `
parameters:
  - name: retries
    type: number
steps:
  - script: run --retries ${{ parameters.retries }}
`)

	_, err := NewEngine(dir).Resolve([]byte(`
steps:
  - template: steps.yml
    parameters:
      retries: not-a-number
`), nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "expects type number")
}

func TestUndeclaredParameterPassesThrough(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "steps.yml", `
steps:
  - script: echo ${{ parameters.extra }}
`)

	p := resolve(t, dir, `
steps:
  - template: steps.yml
    parameters:
      extra: hello
`, nil)

	require.Len(t, p.Steps, 1)
	assert.Equal(t, "echo hello", scriptText(t, p.Steps[0]))
}

func TestTemplateNotFound(t *testing.T) {
	dir := t.TempDir()
	_, err := NewEngine(dir).Resolve([]byte(`
steps:
  - template: missing.yml
`), nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestCircularTemplateReference(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yml", `
steps:
  - template: b.yml
`)
	writeFile(t, dir, "b.yml", `
steps:
  - template: a.yml
`)

	_, err := NewEngine(dir).Resolve([]byte(`
steps:
  - template: a.yml
`), nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular template reference")
}

func TestTemplateWrongContentKind(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "jobs.yml", `
jobs:
  - job: A
    steps:
      - script: echo hi
`)

	_, err := NewEngine(dir).Resolve([]byte(`
steps:
  - template: jobs.yml
`), nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not contain steps")
}

func TestRepositoryAliasResolution(t *testing.T) {
	dir := t.TempDir()
	shared := t.TempDir()
	writeFile(t, shared, "templates/steps.yml", `
steps:
  - script: echo shared
`)

	eng := NewEngine(dir)
	eng.RegisterRepo("shared", shared)
	p, err := eng.Resolve([]byte(`
steps:
  - template: templates/steps.yml@shared
`), nil)

	require.NoError(t, err)
	require.Len(t, p.Steps, 1)
	assert.Equal(t, "echo shared", scriptText(t, p.Steps[0]))
}

func TestUnknownRepositoryAlias(t *testing.T) {
	dir := t.TempDir()
	_, err := NewEngine(dir).Resolve([]byte(`
steps:
  - template: steps.yml@nowhere
`), nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown repository alias 'nowhere'")
}

func TestIfElseChain(t *testing.T) {
	dir := t.TempDir()
	source := `
parameters:
  - name: mode
    type: string
    default: debug
steps:
  - ${{ if eq(parameters.mode, 'release') }}:
      script: make release
  - ${{ elseif eq(parameters.mode, 'debug') }}:
      script: make debug
  - ${{ else }}:
      script: make default
`

	p := resolve(t, dir, source, map[string]any{"mode": "debug"})
	require.Len(t, p.Steps, 1)
	assert.Equal(t, "make debug", scriptText(t, p.Steps[0]))

	p = resolve(t, dir, source, map[string]any{"mode": "other"})
	require.Len(t, p.Steps, 1)
	assert.Equal(t, "make default", scriptText(t, p.Steps[0]))
}

func TestIfDirectiveBodyList(t *testing.T) {
	dir := t.TempDir()
	p := resolve(t, dir, `
parameters:
  - name: lint
    type: boolean
    default: true
steps:
  - script: echo build
  - ${{ if parameters.lint }}:
      - script: echo vet
      - script: echo lint
`, nil)

	require.Len(t, p.Steps, 3)
	assert.Equal(t, "echo vet", scriptText(t, p.Steps[1]))
	assert.Equal(t, "echo lint", scriptText(t, p.Steps[2]))
}

func TestEachOverArrayParameter(t *testing.T) {
	dir := t.TempDir()
	p := resolve(t, dir, `
parameters:
  - name: targets
    type: object
    default:
      - linux
      - darwin
      - windows
jobs:
  - ${{ each target in parameters.targets }}:
      - job: Build_${{ target }}
        steps:
          - script: GOOS=${{ target }} go build ./...
`, nil)

	require.Len(t, p.Jobs, 3)
	assert.Equal(t, "Build_linux", p.Jobs[0].Job)
	assert.Equal(t, "Build_windows", p.Jobs[2].Job)
}

func TestEachOverObjectParameter(t *testing.T) {
	dir := t.TempDir()
	p := resolve(t, dir, `
parameters:
  - name: regions
    type: object
    default:
      east: us-east-1
      west: us-west-2
jobs:
  - ${{ each region in parameters.regions }}:
      - job: Deploy_${{ region.key }}
        steps:
          - script: deploy --region ${{ region.value }}
`, nil)

	require.Len(t, p.Jobs, 2)
	assert.Equal(t, "Deploy_east", p.Jobs[0].Job)
	assert.Equal(t, "deploy --region us-east-1", scriptText(t, p.Jobs[0].Steps[0]))
}

func TestEachInsideMapping(t *testing.T) {
	dir := t.TempDir()
	p := resolve(t, dir, `
parameters:
  - name: extraVars
    type: object
    default:
      FOO: one
      BAR: two
variables:
  ${{ each item in parameters.extraVars }}:
    ${{ item.key }}: ${{ item.value }}
steps:
  - script: echo hi
`, nil)

	require.Len(t, p.Variables, 2)
	byName := map[string]string{}
	for _, v := range p.Variables {
		byName[v.Name] = v.Value
	}
	assert.Equal(t, "one", byName["FOO"])
	assert.Equal(t, "two", byName["BAR"])
}

func TestWholeScalarKeepsType(t *testing.T) {
	dir := t.TempDir()
	p := resolve(t, dir, `
parameters:
  - name: timeout
    type: number
    default: 15
steps:
  - script: sleep 1
    timeoutInMinutes: ${{ parameters.timeout }}
`, nil)

	require.Len(t, p.Steps, 1)
	assert.Equal(t, 15, p.Steps[0].TimeoutInMinutes)
}

func TestMacroAndRuntimeFormsPreserved(t *testing.T) {
	dir := t.TempDir()
	p := resolve(t, dir, `
variables:
  - name: who
    value: world
steps:
  - script: echo $(who) and ${{ variables.who }}
    condition: $[ eq(variables.who, 'world') ]
`, nil)

	require.Len(t, p.Steps, 1)
	assert.Equal(t, "echo $(who) and world", scriptText(t, p.Steps[0]))
	assert.Equal(t, "$[ eq(variables.who, 'world') ]", p.Steps[0].Condition)
}

func TestDirectiveConditionError(t *testing.T) {
	dir := t.TempDir()
	_, err := NewEngine(dir).Resolve([]byte(`
steps:
  - ${{ if eq(1) }}:
      script: echo hi
`), nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "if condition")
}

func TestResolveFileReadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "azure-pipelines.yml", `
steps:
  - script: echo from-disk
`)

	p, err := NewEngine(dir).ResolveFile(filepath.Join(dir, "azure-pipelines.yml"), nil)
	require.NoError(t, err)
	require.Len(t, p.Steps, 1)
}
