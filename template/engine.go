// Package template resolves template references and compile-time
// expressions in pipeline documents.
//
// Resolution is two-phase over the raw YAML tree: a directive pass
// evaluates ${{ if }}/${{ elseif }}/${{ else }} chains and ${{ each }}
// loops and substitutes ${{ }} expressions in scalars, then an include
// pass splices referenced template files (steps, jobs, stages,
// variables, extends) into their parent containers. Runtime forms
// $[ ] and $( ) pass through untouched. Only after both passes does the
// tree decode into the typed pipeline model.
package template

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/roxid/expression"
	"github.com/c360studio/roxid/pipeline"
)

// MaxDepth bounds template inclusion nesting.
const MaxDepth = 50

// Engine resolves templates relative to a repository root. Not safe for
// concurrent use; the include stack is per-resolution state.
type Engine struct {
	repoRoot      string
	resourceRepos map[string]string
	stack         []string
}

// NewEngine returns an engine that resolves template paths against
// repoRoot.
func NewEngine(repoRoot string) *Engine {
	return &Engine{
		repoRoot:      repoRoot,
		resourceRepos: map[string]string{},
	}
}

// RegisterRepo maps a repository alias to a local root so that
// "path@alias" template references resolve.
func (e *Engine) RegisterRepo(alias, root string) {
	e.resourceRepos[alias] = root
}

// ResolveFile loads, expands, and type-decodes a pipeline file.
func (e *Engine) ResolveFile(path string, params map[string]any) (*pipeline.Pipeline, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, pipeline.NewParseError(fmt.Sprintf("failed to read file: %v", err), 0, 0).WithKind(pipeline.KindIO)
	}
	return e.Resolve(source, params)
}

// Resolve expands a pipeline document from YAML source. params supplies
// values for the document's declared parameters; missing ones fall back
// to declared defaults.
func (e *Engine) Resolve(source []byte, params map[string]any) (*pipeline.Pipeline, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(source, &doc); err != nil {
		return nil, pipeline.FromYAMLError(err, string(source))
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, templateErrorf("pipeline document must be a YAML mapping")
	}
	root := doc.Content[0]

	decls, err := parseParameterDecls(findKey(root, "parameters"))
	if err != nil {
		return nil, err
	}
	resolved, err := resolveParameters(decls, params, "pipeline")
	if err != nil {
		return nil, err
	}

	ctx := expression.NewContext()
	ctx.Parameters = resolved
	seedVariables(ctx, findKey(root, "variables"))
	eng := expression.NewEngine(ctx)

	if extNode := findKey(root, "extends"); extNode != nil {
		processedExt, err := e.processNode(extNode, ctx, eng)
		if err != nil {
			return nil, err
		}
		var ext pipeline.Extends
		if err := processedExt.Decode(&ext); err != nil {
			return nil, templateErrorf("invalid extends block: %v", err)
		}
		deleteKey(root, "extends")

		parent, err := e.resolveExtends(&ext)
		if err != nil {
			return nil, err
		}
		child, err := e.finishDocument(root, ctx, eng)
		if err != nil {
			return nil, err
		}
		return mergeExtends(parent, child), nil
	}

	return e.finishDocument(root, ctx, eng)
}

func (e *Engine) finishDocument(root *yaml.Node, ctx *expression.Context, eng *expression.Engine) (*pipeline.Pipeline, error) {
	processed, err := e.processNode(root, ctx, eng)
	if err != nil {
		return nil, err
	}
	if err := e.expandIncludes(processed); err != nil {
		return nil, err
	}
	var p pipeline.Pipeline
	if err := processed.Decode(&p); err != nil {
		if pe, ok := err.(*pipeline.ParseError); ok {
			return nil, pe
		}
		return nil, templateErrorf("error parsing expanded pipeline: %v", err)
	}
	return &p, nil
}

func (e *Engine) resolveExtends(ext *pipeline.Extends) (*pipeline.Pipeline, error) {
	path, err := e.resolvePath(ext.Template)
	if err != nil {
		return nil, err
	}
	canonical := canonicalPath(path)
	if err := e.push(canonical); err != nil {
		return nil, err
	}
	defer e.pop()

	source, err := os.ReadFile(path)
	if err != nil {
		return nil, templateErrorf("failed to read extends template '%s': %v", ext.Template, err)
	}
	parent, err := e.Resolve(source, ext.Parameters)
	if err != nil {
		return nil, templateErrorf("error in extends template '%s': %v", ext.Template, err)
	}
	return parent, nil
}

// mergeExtends layers the child's fields onto the fully resolved parent.
// The parent supplies the structure; the child overrides triggers,
// resources, pool, name, and variables (by name).
func mergeExtends(parent, child *pipeline.Pipeline) *pipeline.Pipeline {
	if child.Trigger != nil {
		parent.Trigger = child.Trigger
	}
	if child.PR != nil {
		parent.PR = child.PR
	}
	if child.Schedules != nil {
		parent.Schedules = child.Schedules
	}
	if child.Resources != nil {
		parent.Resources = child.Resources
	}
	if child.Pool != nil {
		parent.Pool = child.Pool
	}
	if child.Name != "" {
		parent.Name = child.Name
	}

	merged := parent.Variables
	for _, v := range child.Variables {
		if v.Name != "" {
			kept := merged[:0]
			for _, existing := range merged {
				if existing.Name != v.Name {
					kept = append(kept, existing)
				}
			}
			merged = kept
		}
		merged = append(merged, v)
	}
	parent.Variables = merged
	return parent
}

// expandIncludes runs the include pass over a processed document root,
// splicing template references in variables, stages, jobs, and steps.
func (e *Engine) expandIncludes(root *yaml.Node) error {
	if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
		root = root.Content[0]
	}
	if root.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		value := root.Content[i+1]
		switch root.Content[i].Value {
		case "variables":
			if err := e.expandVariableIncludes(value); err != nil {
				return err
			}
		case "stages":
			if err := e.expandListIncludes(value, "stages"); err != nil {
				return err
			}
		case "jobs":
			if err := e.expandListIncludes(value, "jobs"); err != nil {
				return err
			}
		case "steps":
			if err := e.expandListIncludes(value, "steps"); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) expandListIncludes(seq *yaml.Node, kind string) error {
	if seq.Kind != yaml.SequenceNode {
		return nil
	}
	var out []*yaml.Node
	for _, item := range seq.Content {
		ref, callParams, err := templateReference(item)
		if err != nil {
			return err
		}
		if ref == "" {
			if err := e.expandItemIncludes(item, kind); err != nil {
				return err
			}
			out = append(out, item)
			continue
		}
		expanded, err := e.expandTemplate(ref, callParams, kind)
		if err != nil {
			return err
		}
		out = append(out, expanded...)
	}
	seq.Content = out
	return nil
}

// expandItemIncludes recurses into a non-template stage or job item to
// expand its nested lists.
func (e *Engine) expandItemIncludes(item *yaml.Node, kind string) error {
	if item.Kind != yaml.MappingNode {
		return nil
	}
	switch kind {
	case "stages":
		for i := 0; i+1 < len(item.Content); i += 2 {
			switch item.Content[i].Value {
			case "variables":
				if err := e.expandVariableIncludes(item.Content[i+1]); err != nil {
					return err
				}
			case "jobs":
				if err := e.expandListIncludes(item.Content[i+1], "jobs"); err != nil {
					return err
				}
			}
		}
	case "jobs":
		for i := 0; i+1 < len(item.Content); i += 2 {
			switch item.Content[i].Value {
			case "variables":
				if err := e.expandVariableIncludes(item.Content[i+1]); err != nil {
					return err
				}
			case "steps":
				if err := e.expandListIncludes(item.Content[i+1], "steps"); err != nil {
					return err
				}
			case "strategy":
				if err := e.expandStrategyIncludes(item.Content[i+1]); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// expandStrategyIncludes reaches step lists inside deployment hook
// sequences.
func (e *Engine) expandStrategyIncludes(strategy *yaml.Node) error {
	if strategy.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(strategy.Content); i += 2 {
		hooks := strategy.Content[i+1]
		if hooks.Kind != yaml.MappingNode {
			continue
		}
		for j := 0; j+1 < len(hooks.Content); j += 2 {
			hook := hooks.Content[j+1]
			if hook.Kind != yaml.MappingNode {
				continue
			}
			for k := 0; k+1 < len(hook.Content); k += 2 {
				if hook.Content[k].Value == "steps" {
					if err := e.expandListIncludes(hook.Content[k+1], "steps"); err != nil {
						return err
					}
				}
			}
		}
	}
	return nil
}

func (e *Engine) expandVariableIncludes(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return nil
	}
	var out []*yaml.Node
	for _, item := range node.Content {
		ref, callParams, err := templateReference(item)
		if err != nil {
			return err
		}
		if ref == "" {
			out = append(out, item)
			continue
		}
		expanded, err := e.expandTemplate(ref, callParams, "variables")
		if err != nil {
			return err
		}
		out = append(out, expanded...)
	}
	node.Content = out
	return nil
}

// templateReference returns the template path and call parameters if the
// item is a template reference, or "" if it is not.
func templateReference(item *yaml.Node) (string, map[string]any, error) {
	if item.Kind != yaml.MappingNode {
		return "", nil, nil
	}
	tmpl := findKey(item, "template")
	if tmpl == nil {
		return "", nil, nil
	}
	var callParams map[string]any
	if pNode := findKey(item, "parameters"); pNode != nil {
		if err := pNode.Decode(&callParams); err != nil {
			return "", nil, templateErrorf("invalid template parameters: %v", err)
		}
	}
	return tmpl.Value, callParams, nil
}

// expandTemplate loads a template file, resolves its parameters, runs
// the directive and include passes on its content, and returns the
// resulting list items ready to splice into the caller's container.
func (e *Engine) expandTemplate(ref string, callParams map[string]any, want string) ([]*yaml.Node, error) {
	path, err := e.resolvePath(ref)
	if err != nil {
		return nil, err
	}
	canonical := canonicalPath(path)
	if err := e.push(canonical); err != nil {
		return nil, err
	}
	defer e.pop()

	source, err := os.ReadFile(path)
	if err != nil {
		return nil, templateErrorf("failed to read template '%s': %v", ref, err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(source, &doc); err != nil {
		return nil, templateErrorf("error parsing template '%s': %v", ref, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, templateErrorf("template '%s' must be a YAML mapping", ref)
	}
	root := doc.Content[0]

	decls, err := parseParameterDecls(findKey(root, "parameters"))
	if err != nil {
		return nil, err
	}
	resolved, err := resolveParameters(decls, callParams, ref)
	if err != nil {
		return nil, err
	}
	ctx := expression.NewContext()
	ctx.Parameters = resolved
	eng := expression.NewEngine(ctx)

	content := findKey(root, want)
	if content == nil {
		return nil, templateErrorf("template '%s' does not contain %s (found: %s)", ref, want, strings.Join(contentKeys(root), ", "))
	}

	processed, err := e.processNode(content, ctx, eng)
	if err != nil {
		return nil, err
	}

	// Variables templates may use the map form; normalize to list items.
	if want == "variables" && processed.Kind == yaml.MappingNode {
		processed = variableMapToList(processed)
	}
	if processed.Kind != yaml.SequenceNode {
		return nil, templateErrorf("template '%s': %s must be a list", ref, want)
	}

	// Recursively expand nested template references.
	if want == "variables" {
		if err := e.expandVariableIncludes(processed); err != nil {
			return nil, err
		}
	} else {
		if err := e.expandListIncludes(processed, want); err != nil {
			return nil, err
		}
	}
	return processed.Content, nil
}

func contentKeys(root *yaml.Node) []string {
	var keys []string
	for _, candidate := range []string{"steps", "jobs", "stages", "variables"} {
		if findKey(root, candidate) != nil {
			keys = append(keys, candidate)
		}
	}
	if len(keys) == 0 {
		keys = []string{"none"}
	}
	return keys
}

func variableMapToList(mapping *yaml.Node) *yaml.Node {
	out := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		item := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		item.Content = append(item.Content,
			scalarNode("name"), scalarNode(mapping.Content[i].Value),
			scalarNode("value"), mapping.Content[i+1])
		out.Content = append(out.Content, item)
	}
	return out
}

// resolvePath maps a template reference to a file path. "path@alias"
// resolves against a registered resource repository.
func (e *Engine) resolvePath(ref string) (string, error) {
	if path, alias, found := strings.Cut(ref, "@"); found {
		root, ok := e.resourceRepos[alias]
		if !ok {
			return "", templateErrorf("unknown repository alias '%s' in template reference '%s'", alias, ref)
		}
		full := filepath.Join(root, path)
		if _, err := os.Stat(full); err != nil {
			return "", templateErrorf("template '%s' not found in repository '%s' (looked in %s)", path, alias, full)
		}
		return full, nil
	}

	full := filepath.Join(e.repoRoot, ref)
	if _, err := os.Stat(full); err != nil {
		return "", templateErrorf("template '%s' not found (looked in %s)", ref, full)
	}
	return full, nil
}

func (e *Engine) push(canonical string) error {
	if len(e.stack) >= MaxDepth {
		return templateErrorf("maximum template inclusion depth (%d) exceeded. Include stack:\n  %s",
			MaxDepth, strings.Join(e.stack, "\n  -> "))
	}
	for _, entry := range e.stack {
		if entry == canonical {
			cycle := append(append([]string{}, e.stack...), canonical)
			return templateErrorf("circular template reference detected:\n  %s", strings.Join(cycle, "\n  -> "))
		}
	}
	e.stack = append(e.stack, canonical)
	return nil
}

func (e *Engine) pop() {
	e.stack = e.stack[:len(e.stack)-1]
}

func canonicalPath(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func templateErrorf(format string, args ...any) *pipeline.ParseError {
	return pipeline.NewParseError(fmt.Sprintf(format, args...), 0, 0).WithKind(pipeline.KindTemplate)
}

// findKey returns the value node for a key in a mapping, or nil.
func findKey(mapping *yaml.Node, key string) *yaml.Node {
	if mapping.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			return mapping.Content[i+1]
		}
	}
	return nil
}

func deleteKey(mapping *yaml.Node, key string) {
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		if mapping.Content[i].Value == key {
			mapping.Content = append(mapping.Content[:i], mapping.Content[i+2:]...)
			return
		}
	}
}

// seedVariables makes the document's literal variables visible to
// compile-time expressions. Group and template entries contribute
// nothing at this point.
func seedVariables(ctx *expression.Context, vars *yaml.Node) {
	if vars == nil {
		return
	}
	switch vars.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(vars.Content); i += 2 {
			ctx.Variables[vars.Content[i].Value] = expression.String(vars.Content[i+1].Value)
		}
	case yaml.SequenceNode:
		for _, item := range vars.Content {
			name := findKey(item, "name")
			value := findKey(item, "value")
			if name != nil && value != nil {
				ctx.Variables[name.Value] = expression.String(value.Value)
			}
		}
	}
}
