// Package harness runs pipeline test suites: roxid-test.yml files that
// execute a pipeline and assert on the recorded results.
package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dario.cat/mergo"
	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Suite is one roxid-test.yml file.
type Suite struct {
	Name     string    `yaml:"name"`
	Defaults *Defaults `yaml:"defaults"`
	Tests    []Test    `yaml:"tests"`
}

// Defaults are applied to every test in the suite; per-test values win.
type Defaults struct {
	Variables  map[string]string `yaml:"variables"`
	Parameters map[string]any    `yaml:"parameters"`
	WorkingDir string            `yaml:"workingDir"`
}

// Test is one pipeline test definition.
type Test struct {
	Name       string            `yaml:"name"`
	Pipeline   string            `yaml:"pipeline"`
	Variables  map[string]string `yaml:"variables"`
	Parameters map[string]any    `yaml:"parameters"`
	WorkingDir string            `yaml:"workingDir"`
	Assertions []Assertion       `yaml:"assertions"`
}

// ParseSuite decodes and validates a suite document.
func ParseSuite(source []byte) (*Suite, error) {
	var suite Suite
	if err := yaml.Unmarshal(source, &suite); err != nil {
		return nil, fmt.Errorf("parse test suite: %w", err)
	}
	if err := validateSuite(&suite); err != nil {
		return nil, err
	}
	return &suite, nil
}

// LoadSuite reads a suite file and resolves pipeline paths relative to
// the file's directory.
func LoadSuite(path string) (*Suite, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read test suite: %w", err)
	}
	suite, err := ParseSuite(source)
	if err != nil {
		return nil, err
	}
	base := filepath.Dir(path)
	for i := range suite.Tests {
		if !filepath.IsAbs(suite.Tests[i].Pipeline) {
			suite.Tests[i].Pipeline = filepath.Join(base, suite.Tests[i].Pipeline)
		}
	}
	return suite, nil
}

func validateSuite(suite *Suite) error {
	if len(suite.Tests) == 0 {
		return fmt.Errorf("test suite must contain at least one test")
	}
	seen := map[string]bool{}
	for i, test := range suite.Tests {
		if test.Name == "" {
			return fmt.Errorf("test at index %d must have a non-empty name", i)
		}
		if test.Pipeline == "" {
			return fmt.Errorf("test '%s' must specify a pipeline file", test.Name)
		}
		if seen[test.Name] {
			return fmt.Errorf("duplicate test name: '%s'", test.Name)
		}
		seen[test.Name] = true
	}
	return nil
}

// ApplyDefaults merges suite defaults into a test. Test values win.
func ApplyDefaults(test *Test, defaults *Defaults) error {
	if defaults == nil {
		return nil
	}
	if test.Variables == nil {
		test.Variables = map[string]string{}
	}
	if err := mergo.Merge(&test.Variables, defaults.Variables); err != nil {
		return err
	}
	if test.Parameters == nil {
		test.Parameters = map[string]any{}
	}
	if err := mergo.Merge(&test.Parameters, defaults.Parameters); err != nil {
		return err
	}
	if test.WorkingDir == "" {
		test.WorkingDir = defaults.WorkingDir
	}
	return nil
}

// Discover finds suite files under dir: the standard roxid-test.yml
// variants at the root plus *.roxid-test.yml files in a tests/
// directory.
func Discover(dir string) ([]string, error) {
	var found []string
	for _, name := range []string{"roxid-test.yml", "roxid-test.yaml", ".roxid-test.yml", ".roxid-test.yaml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			found = append(found, path)
		}
	}

	testsDir := filepath.Join(dir, "tests")
	if info, err := os.Stat(testsDir); err == nil && info.IsDir() {
		matches, err := doublestar.FilepathGlob(filepath.Join(testsDir, "**", "*roxid-test.{yml,yaml}"))
		if err != nil {
			return nil, fmt.Errorf("discover test files: %w", err)
		}
		for _, match := range matches {
			base := filepath.Base(match)
			if base == "roxid-test.yml" || base == "roxid-test.yaml" ||
				strings.HasSuffix(base, ".roxid-test.yml") || strings.HasSuffix(base, ".roxid-test.yaml") {
				found = append(found, match)
			}
		}
	}

	sort.Strings(found)
	return found, nil
}
