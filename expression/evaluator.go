package expression

import (
	"fmt"
	"strings"
)

// EvalError reports an evaluation failure.
type EvalError struct {
	Message string
}

func (e *EvalError) Error() string {
	return "evaluation error: " + e.Message
}

func evalErrorf(format string, args ...any) *EvalError {
	return &EvalError{Message: fmt.Sprintf(format, args...)}
}

// Engine evaluates expressions against a mutable Context. One engine is
// shared across a pipeline run.
type Engine struct {
	ctx *Context
}

// NewEngine wraps a context. A nil context gets an empty one.
func NewEngine(ctx *Context) *Engine {
	if ctx == nil {
		ctx = NewContext()
	}
	return &Engine{ctx: ctx}
}

// Context returns the engine's mutable context.
func (e *Engine) Context() *Context { return e.ctx }

// EvalCompileTime evaluates the body of a ${{ }} form.
func (e *Engine) EvalCompileTime(expr string) (Value, error) {
	ast, err := Parse(expr)
	if err != nil {
		return Null(), evalErrorf("parse error: %v", err)
	}
	return e.eval(ast)
}

// EvalRuntime evaluates the body of a $[ ] form. Runtime expressions
// share the compile-time grammar; only the context differs.
func (e *Engine) EvalRuntime(expr string) (Value, error) {
	return e.EvalCompileTime(expr)
}

// SubstituteMacros replaces every expression occurrence in text with its
// rendered string value. Unresolvable macro names become empty strings.
// Replacement is not recursive.
func (e *Engine) SubstituteMacros(text string) (string, error) {
	var sb strings.Builder
	for _, seg := range Extract(text) {
		switch seg.Kind {
		case SegmentText:
			sb.WriteString(seg.Text)
		case SegmentMacro:
			sb.WriteString(e.resolveVariablePath(seg.Text).AsString())
		case SegmentCompileTime:
			v, err := e.EvalCompileTime(seg.Text)
			if err != nil {
				return "", err
			}
			sb.WriteString(v.AsString())
		case SegmentRuntime:
			v, err := e.EvalRuntime(seg.Text)
			if err != nil {
				return "", err
			}
			sb.WriteString(v.AsString())
		}
	}
	return sb.String(), nil
}

// resolveVariablePath handles $(name) bodies: bare names, dotted names
// like Build.SourceBranch, and prefixed paths like variables.foo.
func (e *Engine) resolveVariablePath(path string) Value {
	parts := strings.Split(path, ".")
	if len(parts) == 1 {
		if v, ok := e.ctx.Variables[path]; ok {
			return v
		}
		if v, ok := e.ctx.Parameters[path]; ok {
			return v
		}
		return String("")
	}

	rest := strings.Join(parts[1:], ".")
	switch strings.ToLower(parts[0]) {
	case "variables":
		if v, ok := e.ctx.Variables[rest]; ok {
			return v
		}
		return String("")
	case "parameters":
		if v, ok := e.ctx.Parameters[rest]; ok {
			return v
		}
		return Null()
	case "env":
		if v, ok := e.ctx.Env[rest]; ok {
			return v
		}
		return String("")
	}
	if v, ok := e.ctx.Variables[path]; ok {
		return v
	}
	return String("")
}

func (e *Engine) eval(expr Expr) (Value, error) {
	switch x := expr.(type) {
	case NullLit:
		return Null(), nil
	case BoolLit:
		return Bool(x.Value), nil
	case NumberLit:
		return Number(x.Value), nil
	case StringLit:
		return String(x.Value), nil
	case Ref:
		return e.evalRef(x)
	case Call:
		args := make([]Value, len(x.Args))
		for i, a := range x.Args {
			v, err := e.eval(a)
			if err != nil {
				return Null(), err
			}
			args[i] = v
		}
		return callBuiltin(x.Name, args, e.ctx)
	case IndexExpr:
		obj, err := e.eval(x.Object)
		if err != nil {
			return Null(), err
		}
		idx, err := e.eval(x.Index)
		if err != nil {
			return Null(), err
		}
		return evalIndex(obj, idx)
	case MemberExpr:
		obj, err := e.eval(x.Object)
		if err != nil {
			return Null(), err
		}
		return evalMember(obj, x.Property)
	case UnaryExpr:
		v, err := e.eval(x.Expr)
		if err != nil {
			return Null(), err
		}
		switch x.Op {
		case OpNot:
			return Bool(!v.Truthy()), nil
		case OpNeg:
			n, ok := v.AsNumber()
			if !ok {
				return Null(), evalErrorf("cannot negate non-number")
			}
			return Number(-n), nil
		}
	case BinaryExpr:
		return e.evalBinary(x)
	case TernaryExpr:
		cond, err := e.eval(x.Cond)
		if err != nil {
			return Null(), err
		}
		if cond.Truthy() {
			return e.eval(x.Then)
		}
		return e.eval(x.Else)
	case ArrayLit:
		items := make([]Value, len(x.Items))
		for i, it := range x.Items {
			v, err := e.eval(it)
			if err != nil {
				return Null(), err
			}
			items[i] = v
		}
		return Array(items...), nil
	case ObjectLit:
		m := make(map[string]Value, len(x.Keys))
		for i, k := range x.Keys {
			v, err := e.eval(x.Values[i])
			if err != nil {
				return Null(), err
			}
			m[k] = v
		}
		return Object(m), nil
	}
	return Null(), evalErrorf("unhandled expression node %T", expr)
}

func (e *Engine) evalBinary(x BinaryExpr) (Value, error) {
	// && and || short-circuit.
	switch x.Op {
	case OpAnd:
		left, err := e.eval(x.Left)
		if err != nil {
			return Null(), err
		}
		if !left.Truthy() {
			return Bool(false), nil
		}
		right, err := e.eval(x.Right)
		if err != nil {
			return Null(), err
		}
		return Bool(right.Truthy()), nil
	case OpOr:
		left, err := e.eval(x.Left)
		if err != nil {
			return Null(), err
		}
		if left.Truthy() {
			return Bool(true), nil
		}
		right, err := e.eval(x.Right)
		if err != nil {
			return Null(), err
		}
		return Bool(right.Truthy()), nil
	}

	left, err := e.eval(x.Left)
	if err != nil {
		return Null(), err
	}
	right, err := e.eval(x.Right)
	if err != nil {
		return Null(), err
	}

	switch x.Op {
	case OpAdd:
		return evalAdd(left, right)
	case OpSub:
		return evalNumeric(left, right, func(a, b float64) float64 { return a - b })
	case OpMul:
		return evalNumeric(left, right, func(a, b float64) float64 { return a * b })
	case OpDiv:
		return evalNumeric(left, right, func(a, b float64) float64 { return a / b })
	case OpMod:
		return evalNumeric(left, right, func(a, b float64) float64 {
			return float64(int64(a) % int64(b))
		})
	case OpEq:
		return Bool(Equal(left, right)), nil
	case OpNe:
		return Bool(!Equal(left, right)), nil
	case OpLt:
		return evalCompare(left, right, func(a, b float64) bool { return a < b })
	case OpLe:
		return evalCompare(left, right, func(a, b float64) bool { return a <= b })
	case OpGt:
		return evalCompare(left, right, func(a, b float64) bool { return a > b })
	case OpGe:
		return evalCompare(left, right, func(a, b float64) bool { return a >= b })
	}
	return Null(), evalErrorf("unhandled binary operator")
}

func evalAdd(left, right Value) (Value, error) {
	if left.Kind() == KindNumber && right.Kind() == KindNumber {
		ln, _ := left.AsNumber()
		rn, _ := right.AsNumber()
		return Number(ln + rn), nil
	}
	if left.Kind() == KindString || right.Kind() == KindString {
		return String(left.AsString() + right.AsString()), nil
	}
	return Null(), evalErrorf("cannot add these types")
}

func evalNumeric(left, right Value, op func(a, b float64) float64) (Value, error) {
	a, ok := left.AsNumber()
	if !ok {
		return Null(), evalErrorf("left operand is not a number")
	}
	b, ok := right.AsNumber()
	if !ok {
		return Null(), evalErrorf("right operand is not a number")
	}
	return Number(op(a, b)), nil
}

func evalCompare(left, right Value, op func(a, b float64) bool) (Value, error) {
	a, ok := left.AsNumber()
	if !ok {
		return Null(), evalErrorf("left operand is not comparable")
	}
	b, ok := right.AsNumber()
	if !ok {
		return Null(), evalErrorf("right operand is not comparable")
	}
	return Bool(op(a, b)), nil
}

func evalIndex(obj, idx Value) (Value, error) {
	switch obj.Kind() {
	case KindArray:
		n, ok := idx.AsNumber()
		if !ok {
			return Null(), evalErrorf("array index must be a number")
		}
		items := obj.Items()
		i := int(n)
		if i < 0 || i >= len(items) {
			return Null(), evalErrorf("array index %d out of bounds", i)
		}
		return items[i], nil
	case KindObject:
		return obj.Field(idx.AsString()), nil
	case KindString:
		n, ok := idx.AsNumber()
		if !ok {
			return Null(), evalErrorf("string index must be a number")
		}
		runes := []rune(obj.AsString())
		i := int(n)
		if i < 0 || i >= len(runes) {
			return Null(), evalErrorf("string index %d out of bounds", i)
		}
		return String(string(runes[i])), nil
	}
	return Null(), evalErrorf("cannot index value of this type")
}

func evalMember(obj Value, property string) (Value, error) {
	switch obj.Kind() {
	case KindObject:
		return obj.Field(property), nil
	case KindArray:
		if property == "length" {
			return Number(float64(len(obj.Items()))), nil
		}
	case KindString:
		if property == "length" {
			return Number(float64(len(obj.AsString()))), nil
		}
	}
	return Null(), evalErrorf("cannot access property %q on this value", property)
}

func (e *Engine) evalRef(ref Ref) (Value, error) {
	var current Value
	for i, part := range ref.Parts {
		switch {
		case part.Index != nil:
			if i == 0 {
				return Null(), evalErrorf("reference cannot start with an index")
			}
			idx, err := e.eval(part.Index)
			if err != nil {
				return Null(), err
			}
			v, err := evalIndex(current, idx)
			if err != nil {
				return Null(), err
			}
			current = v
		case i == 0:
			current = e.lookupRoot(part.Property)
		default:
			v, err := evalMember(current, part.Property)
			if err != nil {
				return Null(), err
			}
			current = v
		}
	}
	return current, nil
}

// lookupRoot resolves the first segment of a reference. Iteration
// variables injected as parameters shadow builtin namespaces except
// variables and parameters themselves. Undefined roots resolve to the
// empty string, matching hosted behavior.
func (e *Engine) lookupRoot(name string) Value {
	lower := strings.ToLower(name)
	if v, ok := e.ctx.Parameters[name]; ok && lower != "variables" && lower != "parameters" {
		return v
	}

	switch lower {
	case "variables":
		return Object(copyValues(e.ctx.Variables))
	case "parameters":
		return Object(copyValues(e.ctx.Parameters))
	case "pipeline":
		m := map[string]Value{}
		if e.ctx.Pipeline.Name != "" {
			m["name"] = String(e.ctx.Pipeline.Name)
		}
		if e.ctx.Pipeline.Workspace != "" {
			m["workspace"] = String(e.ctx.Pipeline.Workspace)
		}
		return Object(m)
	case "stage":
		if e.ctx.Stage == nil {
			return Null()
		}
		m := map[string]Value{"name": String(e.ctx.Stage.Name)}
		if e.ctx.Stage.DisplayName != "" {
			m["displayName"] = String(e.ctx.Stage.DisplayName)
		}
		return Object(m)
	case "job":
		if e.ctx.Job == nil {
			return Null()
		}
		m := map[string]Value{"name": String(e.ctx.Job.Name)}
		if e.ctx.Job.DisplayName != "" {
			m["displayName"] = String(e.ctx.Job.DisplayName)
		}
		agent := map[string]Value{}
		if e.ctx.Job.Agent.Name != "" {
			agent["name"] = String(e.ctx.Job.Agent.Name)
		}
		if e.ctx.Job.Agent.OS != "" {
			agent["os"] = String(e.ctx.Job.Agent.OS)
		}
		m["agent"] = Object(agent)
		return Object(m)
	case "steps":
		m := map[string]Value{}
		for name, step := range e.ctx.Steps {
			m[name] = Object(map[string]Value{
				"outputs": Object(copyValues(step.Outputs)),
			})
		}
		return Object(m)
	case "dependencies":
		return e.dependenciesValue()
	case "stagedependencies":
		return e.stageDependenciesValue()
	case "env":
		return Object(copyValues(e.ctx.Env))
	case "resources":
		return e.resourcesValue()
	}

	if v, ok := e.ctx.Variables[name]; ok {
		return v
	}
	if v, ok := e.ctx.Parameters[name]; ok {
		return v
	}
	return String("")
}

func (e *Engine) dependenciesValue() Value {
	m := map[string]Value{}
	for name, dep := range e.ctx.Dependencies.Stages {
		outputs := map[string]Value{}
		for jobName, jobOutputs := range dep.Outputs {
			outputs[jobName] = Object(copyValues(jobOutputs))
		}
		m[name] = Object(map[string]Value{
			"result":  String(dep.Result),
			"outputs": Object(outputs),
		})
	}
	for name, dep := range e.ctx.Dependencies.Jobs {
		m[name] = Object(map[string]Value{
			"result":  String(dep.Result),
			"outputs": Object(copyValues(dep.Outputs)),
		})
	}
	return Object(m)
}

// stageDependenciesValue shapes upstream stages as
// stageDependencies.<stage>.<job>.outputs['<step>.<var>'].
func (e *Engine) stageDependenciesValue() Value {
	m := map[string]Value{}
	for name, dep := range e.ctx.Dependencies.Stages {
		jobs := map[string]Value{"result": String(dep.Result)}
		for jobName, jobOutputs := range dep.Outputs {
			jobs[jobName] = Object(map[string]Value{
				"outputs": Object(copyValues(jobOutputs)),
			})
		}
		m[name] = Object(jobs)
	}
	return Object(m)
}

func (e *Engine) resourcesValue() Value {
	pipelines := map[string]Value{}
	for name, r := range e.ctx.Resources.Pipelines {
		entry := map[string]Value{}
		if r.PipelineID != "" {
			entry["pipelineID"] = String(r.PipelineID)
		}
		if r.RunName != "" {
			entry["runName"] = String(r.RunName)
		}
		if r.SourceBranch != "" {
			entry["sourceBranch"] = String(r.SourceBranch)
		}
		pipelines[name] = Object(entry)
	}
	repos := map[string]Value{}
	for name, r := range e.ctx.Resources.Repositories {
		entry := map[string]Value{}
		if r.Name != "" {
			entry["name"] = String(r.Name)
		}
		if r.Type != "" {
			entry["type"] = String(r.Type)
		}
		if r.Ref != "" {
			entry["ref"] = String(r.Ref)
		}
		repos[name] = Object(entry)
	}
	return Object(map[string]Value{
		"pipelines":    Object(pipelines),
		"repositories": Object(repos),
	})
}

func copyValues(m map[string]Value) map[string]Value {
	out := make(map[string]Value, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
