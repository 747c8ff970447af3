package template

import (
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/roxid/expression"
	"github.com/c360studio/roxid/pipeline"
)

// parseParameterDecls reads a template's parameters block. The list form
// carries full declarations; the legacy mapping form declares untyped
// parameters keyed by name with the value as default.
func parseParameterDecls(node *yaml.Node) ([]pipeline.Parameter, error) {
	if node == nil {
		return nil, nil
	}
	switch node.Kind {
	case yaml.SequenceNode:
		var decls []pipeline.Parameter
		if err := node.Decode(&decls); err != nil {
			return nil, templateErrorf("invalid parameter declarations: %v", err)
		}
		return decls, nil
	case yaml.MappingNode:
		var decls []pipeline.Parameter
		for i := 0; i+1 < len(node.Content); i += 2 {
			var value any
			if err := node.Content[i+1].Decode(&value); err != nil {
				return nil, templateErrorf("invalid parameter default for '%s': %v", node.Content[i].Value, err)
			}
			decls = append(decls, pipeline.Parameter{
				Name:    node.Content[i].Value,
				Type:    pipeline.ParamString,
				Default: value,
			})
		}
		return decls, nil
	}
	return nil, templateErrorf("parameters must be a list or mapping")
}

// resolveParameters binds provided values against the declarations,
// applies defaults, and validates types. Parameters provided without a
// matching declaration pass through untyped.
func resolveParameters(decls []pipeline.Parameter, provided map[string]any, ref string) (map[string]expression.Value, error) {
	resolved := make(map[string]expression.Value, len(decls))
	declared := make(map[string]bool, len(decls))

	for _, decl := range decls {
		declared[decl.Name] = true
		value, ok := provided[decl.Name]
		if !ok {
			if decl.Default == nil {
				return nil, templateErrorf("required parameter '%s' not provided for template '%s'", decl.Name, ref)
			}
			resolved[decl.Name] = expression.FromAny(decl.Default)
			continue
		}
		if err := validateParameterType(decl.Name, value, decl.Type, ref); err != nil {
			return nil, err
		}
		if len(decl.Values) > 0 && !allowedValue(value, decl.Values) {
			return nil, templateErrorf("parameter '%s' value '%v' not in allowed values for template '%s'", decl.Name, value, ref)
		}
		resolved[decl.Name] = expression.FromAny(value)
	}

	for name, value := range provided {
		if !declared[name] {
			resolved[name] = expression.FromAny(value)
		}
	}
	return resolved, nil
}

func allowedValue(value any, allowed []any) bool {
	got := fmt.Sprint(value)
	for _, candidate := range allowed {
		if fmt.Sprint(candidate) == got {
			return true
		}
	}
	return false
}

func validateParameterType(name string, value any, typ pipeline.ParameterType, ref string) error {
	if typ == "" {
		typ = pipeline.ParamString
	}
	ok := false
	switch typ {
	case pipeline.ParamString:
		switch value.(type) {
		case string, int, int64, float64, bool:
			ok = true
		}
	case pipeline.ParamNumber:
		switch v := value.(type) {
		case int, int64, float64:
			ok = true
		case string:
			_, err := strconv.ParseFloat(v, 64)
			ok = err == nil
		}
	case pipeline.ParamBoolean:
		switch v := value.(type) {
		case bool:
			ok = true
		case string:
			ok = v == "true" || v == "false"
		}
	case pipeline.ParamObject:
		switch value.(type) {
		case map[string]any, []any:
			ok = true
		}
	case pipeline.ParamStep, pipeline.ParamJob, pipeline.ParamStage:
		_, ok = value.(map[string]any)
	case pipeline.ParamStepList, pipeline.ParamJobList, pipeline.ParamStageList:
		_, ok = value.([]any)
	default:
		return templateErrorf("parameter '%s' has unknown type '%s' in template '%s'", name, typ, ref)
	}
	if !ok {
		return templateErrorf("parameter '%s' expects type %s, got %T (template '%s')", name, typ, value, ref)
	}
	return nil
}
