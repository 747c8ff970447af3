package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Parse decodes a pipeline document from YAML source. Template
// directives in list positions are tolerated and skipped; resolving them
// is the template engine's job.
func Parse(source []byte) (*Pipeline, error) {
	var p Pipeline
	if err := yaml.Unmarshal(source, &p); err != nil {
		if pe, ok := err.(*ParseError); ok {
			return nil, pe.WithSourceContext(string(source), 2)
		}
		return nil, FromYAMLError(err, string(source))
	}
	return &p, nil
}

// ParseFile reads and parses a pipeline file.
func ParseFile(path string) (*Pipeline, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, NewParseError(fmt.Sprintf("failed to read file: %v", err), 0, 0).WithKind(KindIO)
	}
	return Parse(source)
}
