package template

import (
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/roxid/expression"
)

type directiveKind int

const (
	dirIf directiveKind = iota
	dirElseIf
	dirElse
	dirEach
)

type directive struct {
	kind directiveKind
	// condition for if/elseif, collection expression for each
	expr string
	// iteration variable name for each
	varName string
}

// parseDirective recognizes ${{ if }}, ${{ elseif }}, ${{ else }}, and
// ${{ each var in expr }} keys. Anything else, including plain ${{ }}
// expression keys, returns nil.
func parseDirective(key string) *directive {
	trimmed := strings.TrimSpace(key)
	if !strings.HasPrefix(trimmed, "${{") || !strings.HasSuffix(trimmed, "}}") {
		return nil
	}
	inner := strings.TrimSpace(trimmed[3 : len(trimmed)-2])

	switch {
	case strings.HasPrefix(inner, "if "):
		return &directive{kind: dirIf, expr: strings.TrimSpace(inner[3:])}
	case strings.HasPrefix(inner, "elseif "):
		return &directive{kind: dirElseIf, expr: strings.TrimSpace(inner[7:])}
	case strings.HasPrefix(inner, "else if "):
		return &directive{kind: dirElseIf, expr: strings.TrimSpace(inner[8:])}
	case inner == "else":
		return &directive{kind: dirElse}
	case strings.HasPrefix(inner, "each "):
		rest := strings.TrimSpace(inner[5:])
		varName, collection, found := strings.Cut(rest, " in ")
		varName = strings.TrimSpace(varName)
		collection = strings.TrimSpace(collection)
		if !found || varName == "" || collection == "" {
			return nil
		}
		return &directive{kind: dirEach, expr: collection, varName: varName}
	}
	return nil
}

// extractDirective matches a sequence item that is a single-key mapping
// with a directive key.
func extractDirective(item *yaml.Node) (*directive, *yaml.Node) {
	if item.Kind != yaml.MappingNode || len(item.Content) != 2 {
		return nil, nil
	}
	dir := parseDirective(item.Content[0].Value)
	if dir == nil {
		return nil, nil
	}
	return dir, item.Content[1]
}

// processNode runs the directive pass over a raw YAML subtree: if/each
// directives are expanded and compile-time expressions in scalars are
// evaluated. Runtime and macro forms pass through.
func (e *Engine) processNode(node *yaml.Node, ctx *expression.Context, eng *expression.Engine) (*yaml.Node, error) {
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return node, nil
		}
		inner, err := e.processNode(node.Content[0], ctx, eng)
		if err != nil {
			return nil, err
		}
		return &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{inner}}, nil

	case yaml.SequenceNode:
		return e.processSequence(node, ctx, eng)

	case yaml.MappingNode:
		return e.processMapping(node, ctx, eng)

	case yaml.ScalarNode:
		return substituteScalar(node, eng)
	}
	return node, nil
}

func (e *Engine) processSequence(node *yaml.Node, ctx *expression.Context, eng *expression.Engine) (*yaml.Node, error) {
	out := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
	chainActive := false
	chainTaken := false

	for _, item := range node.Content {
		dir, body := extractDirective(item)

		switch {
		case dir == nil:
			chainActive = false
			chainTaken = false
			processed, err := e.processNode(item, ctx, eng)
			if err != nil {
				return nil, err
			}
			out.Content = append(out.Content, processed)
			continue
		case dir.kind == dirIf:
			chainActive = true
			chainTaken = false
		case dir.kind == dirElseIf || dir.kind == dirElse:
			// An orphaned elseif/else starts its own chain.
			if !chainActive {
				chainActive = true
				chainTaken = false
			}
		}

		switch dir.kind {
		case dirIf, dirElseIf:
			if dir.kind == dirElseIf && chainTaken {
				continue
			}
			cond, err := eng.EvalCompileTime(dir.expr)
			if err != nil {
				return nil, templateErrorf("error evaluating %s condition '%s': %v", directiveName(dir.kind), dir.expr, err)
			}
			if cond.Truthy() {
				expanded, err := e.expandBody(body, ctx, eng)
				if err != nil {
					return nil, err
				}
				out.Content = append(out.Content, expanded...)
				chainTaken = true
			}
		case dirElse:
			if !chainTaken {
				expanded, err := e.expandBody(body, ctx, eng)
				if err != nil {
					return nil, err
				}
				out.Content = append(out.Content, expanded...)
				chainTaken = true
			}
		case dirEach:
			items, err := e.iterate(dir, ctx, eng)
			if err != nil {
				return nil, err
			}
			for _, bound := range items {
				childCtx, childEng := iterationScope(ctx, dir.varName, bound)
				expanded, err := e.expandBody(body, childCtx, childEng)
				if err != nil {
					return nil, err
				}
				out.Content = append(out.Content, expanded...)
			}
		}
	}
	return out, nil
}

func (e *Engine) processMapping(node *yaml.Node, ctx *expression.Context, eng *expression.Engine) (*yaml.Node, error) {
	out := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := node.Content[i]
		value := node.Content[i+1]

		if dir := parseDirective(key.Value); dir != nil {
			switch dir.kind {
			case dirIf:
				cond, err := eng.EvalCompileTime(dir.expr)
				if err != nil {
					return nil, templateErrorf("error evaluating if condition '%s': %v", dir.expr, err)
				}
				if cond.Truthy() && value.Kind == yaml.MappingNode {
					for j := 0; j+1 < len(value.Content); j += 2 {
						processed, err := e.processNode(value.Content[j+1], ctx, eng)
						if err != nil {
							return nil, err
						}
						out.Content = append(out.Content, value.Content[j], processed)
					}
				}
			case dirEach:
				items, err := e.iterate(dir, ctx, eng)
				if err != nil {
					return nil, err
				}
				if value.Kind != yaml.MappingNode {
					continue
				}
				for _, bound := range items {
					childCtx, childEng := iterationScope(ctx, dir.varName, bound)
					for j := 0; j+1 < len(value.Content); j += 2 {
						processedKey, err := substituteScalar(value.Content[j], childEng)
						if err != nil {
							return nil, err
						}
						processedVal, err := e.processNode(value.Content[j+1], childCtx, childEng)
						if err != nil {
							return nil, err
						}
						out.Content = append(out.Content, processedKey, processedVal)
					}
				}
			}
			// elseif/else have no meaning at mapping level without
			// sequence ordering; skip them.
			continue
		}

		processedKey, err := substituteScalar(key, eng)
		if err != nil {
			return nil, err
		}
		processedVal, err := e.processNode(value, ctx, eng)
		if err != nil {
			return nil, err
		}
		out.Content = append(out.Content, processedKey, processedVal)
	}
	return out, nil
}

// expandBody expands a directive body into the items to splice into the
// parent sequence.
func (e *Engine) expandBody(body *yaml.Node, ctx *expression.Context, eng *expression.Engine) ([]*yaml.Node, error) {
	processed, err := e.processNode(body, ctx, eng)
	if err != nil {
		return nil, err
	}
	if processed.Kind == yaml.SequenceNode {
		return processed.Content, nil
	}
	return []*yaml.Node{processed}, nil
}

// iterate evaluates an each collection. Arrays bind the loop variable
// to each item; objects bind it to a {key, value} pair object.
func (e *Engine) iterate(dir *directive, ctx *expression.Context, eng *expression.Engine) ([]expression.Value, error) {
	collection, err := eng.EvalCompileTime(dir.expr)
	if err != nil {
		return nil, templateErrorf("error evaluating each collection '%s': %v", dir.expr, err)
	}
	switch collection.Kind() {
	case expression.KindArray:
		return collection.Items(), nil
	case expression.KindObject:
		fields := collection.Fields()
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sortStrings(keys)
		items := make([]expression.Value, 0, len(keys))
		for _, k := range keys {
			items = append(items, expression.Object(map[string]expression.Value{
				"key":   expression.String(k),
				"value": fields[k],
			}))
		}
		return items, nil
	}
	return nil, templateErrorf("each directive requires an array or object, got: %s", collection.AsString())
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// iterationScope clones the context with the loop variable bound as a
// parameter, shadowing everything except variables and parameters.
func iterationScope(ctx *expression.Context, varName string, bound expression.Value) (*expression.Context, *expression.Engine) {
	child := ctx.Clone()
	child.Parameters[varName] = bound
	return child, expression.NewEngine(child)
}

func directiveName(kind directiveKind) string {
	switch kind {
	case dirIf:
		return "if"
	case dirElseIf:
		return "elseif"
	case dirElse:
		return "else"
	}
	return "each"
}

// substituteScalar evaluates compile-time expressions in a scalar. When
// the whole scalar is a single ${{ }} form, the evaluated value replaces
// the node with its type preserved; embedded forms coerce to string.
// Macro and runtime forms are re-emitted verbatim.
func substituteScalar(node *yaml.Node, eng *expression.Engine) (*yaml.Node, error) {
	if node.Kind != yaml.ScalarNode || !strings.Contains(node.Value, "${{") {
		return node, nil
	}
	segments := expression.Extract(node.Value)

	if len(segments) == 1 && segments[0].Kind == expression.SegmentCompileTime {
		value, err := eng.EvalCompileTime(segments[0].Text)
		if err != nil {
			return nil, templateErrorf("error evaluating expression '%s': %v", segments[0].Text, err)
		}
		return valueToNode(value), nil
	}

	var b strings.Builder
	for _, seg := range segments {
		switch seg.Kind {
		case expression.SegmentText:
			b.WriteString(seg.Text)
		case expression.SegmentCompileTime:
			value, err := eng.EvalCompileTime(seg.Text)
			if err != nil {
				return nil, templateErrorf("error evaluating expression '%s': %v", seg.Text, err)
			}
			b.WriteString(value.AsString())
		case expression.SegmentRuntime:
			b.WriteString("$[" + seg.Text + "]")
		case expression.SegmentMacro:
			b.WriteString("$(" + seg.Text + ")")
		}
	}
	return scalarNode(b.String()), nil
}

func scalarNode(value string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value}
}

// valueToNode converts an evaluated value back into a YAML node,
// preserving structure for arrays and objects.
func valueToNode(v expression.Value) *yaml.Node {
	switch v.Kind() {
	case expression.KindNull:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!null", Value: "null"}
	case expression.KindBool:
		b, _ := v.AsBool()
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!bool", Value: strconv.FormatBool(b)}
	case expression.KindNumber:
		n, _ := v.AsNumber()
		if n == float64(int64(n)) {
			return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.FormatInt(int64(n), 10)}
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!float", Value: strconv.FormatFloat(n, 'g', -1, 64)}
	case expression.KindString:
		return scalarNode(v.AsString())
	case expression.KindArray:
		out := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range v.Items() {
			out.Content = append(out.Content, valueToNode(item))
		}
		return out
	case expression.KindObject:
		fields := v.Fields()
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sortStrings(keys)
		out := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		for _, k := range keys {
			out.Content = append(out.Content, scalarNode(k), valueToNode(fields[k]))
		}
		return out
	}
	return scalarNode("")
}
