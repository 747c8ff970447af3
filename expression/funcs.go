package expression

import (
	"strings"
	"sync"
)

// counters backs the counter() builtin. Hosted pipelines persist counters
// per definition across runs; locally the scope is the process.
var counters struct {
	sync.Mutex
	values map[string]float64
}

// ResetCounters clears counter() state, for tests.
func ResetCounters() {
	counters.Lock()
	defer counters.Unlock()
	counters.values = nil
}

func nextCounter(name string, seed float64) float64 {
	counters.Lock()
	defer counters.Unlock()
	if counters.values == nil {
		counters.values = map[string]float64{}
	}
	if current, ok := counters.values[name]; ok {
		counters.values[name] = current + 1
		return current + 1
	}
	counters.values[name] = seed
	return seed
}

// callBuiltin dispatches a function call by case-insensitive name.
func callBuiltin(name string, args []Value, ctx *Context) (Value, error) {
	switch strings.ToLower(name) {
	case "eq":
		if err := requireArgs(args, 2, "eq"); err != nil {
			return Null(), err
		}
		return Bool(Equal(args[0], args[1])), nil
	case "ne":
		if err := requireArgs(args, 2, "ne"); err != nil {
			return Null(), err
		}
		return Bool(!Equal(args[0], args[1])), nil
	case "lt":
		return numericPair(args, "lt", func(a, b float64) bool { return a < b })
	case "le":
		return numericPair(args, "le", func(a, b float64) bool { return a <= b })
	case "gt":
		return numericPair(args, "gt", func(a, b float64) bool { return a > b })
	case "ge":
		return numericPair(args, "ge", func(a, b float64) bool { return a >= b })
	case "in":
		return fnIn(args)
	case "notin":
		v, err := fnIn(args)
		if err != nil {
			return Null(), err
		}
		b, _ := v.AsBool()
		return Bool(!b), nil

	case "and":
		for _, a := range args {
			if !a.Truthy() {
				return Bool(false), nil
			}
		}
		return Bool(true), nil
	case "or":
		for _, a := range args {
			if a.Truthy() {
				return Bool(true), nil
			}
		}
		return Bool(false), nil
	case "not":
		if err := requireArgs(args, 1, "not"); err != nil {
			return Null(), err
		}
		return Bool(!args[0].Truthy()), nil
	case "xor":
		if err := requireArgs(args, 2, "xor"); err != nil {
			return Null(), err
		}
		return Bool(args[0].Truthy() != args[1].Truthy()), nil

	case "contains":
		return fnContains(args)
	case "startswith":
		if err := requireArgs(args, 2, "startsWith"); err != nil {
			return Null(), err
		}
		return Bool(strings.HasPrefix(
			strings.ToLower(args[0].AsString()),
			strings.ToLower(args[1].AsString()))), nil
	case "endswith":
		if err := requireArgs(args, 2, "endsWith"); err != nil {
			return Null(), err
		}
		return Bool(strings.HasSuffix(
			strings.ToLower(args[0].AsString()),
			strings.ToLower(args[1].AsString()))), nil
	case "format":
		return fnFormat(args)
	case "join":
		return fnJoin(args)
	case "replace":
		if err := requireArgs(args, 3, "replace"); err != nil {
			return Null(), err
		}
		return String(strings.ReplaceAll(args[0].AsString(), args[1].AsString(), args[2].AsString())), nil
	case "split":
		if err := requireArgs(args, 2, "split"); err != nil {
			return Null(), err
		}
		parts := strings.Split(args[0].AsString(), args[1].AsString())
		items := make([]Value, len(parts))
		for i, p := range parts {
			items[i] = String(p)
		}
		return Array(items...), nil
	case "lower":
		if err := requireArgs(args, 1, "lower"); err != nil {
			return Null(), err
		}
		return String(strings.ToLower(args[0].AsString())), nil
	case "upper":
		if err := requireArgs(args, 1, "upper"); err != nil {
			return Null(), err
		}
		return String(strings.ToUpper(args[0].AsString())), nil
	case "trim":
		if err := requireArgs(args, 1, "trim"); err != nil {
			return Null(), err
		}
		return String(strings.TrimSpace(args[0].AsString())), nil

	case "converttojson":
		if err := requireArgs(args, 1, "convertToJson"); err != nil {
			return Null(), err
		}
		return String(args[0].JSON()), nil

	case "succeeded":
		return fnSucceeded(args, ctx), nil
	case "failed":
		return fnFailed(args, ctx), nil
	case "canceled":
		if ctx.Job != nil {
			return Bool(ctx.Job.Status.Canceled), nil
		}
		if ctx.ScopeDeps != nil {
			return Bool(ctx.ScopeDeps.Canceled), nil
		}
		return Bool(false), nil
	case "always":
		return Bool(true), nil
	case "succeededorfailed":
		s, _ := fnSucceeded(args, ctx).AsBool()
		f, _ := fnFailed(args, ctx).AsBool()
		return Bool(s || f), nil

	case "coalesce":
		for _, a := range args {
			if a.IsNull() || (a.Kind() == KindString && a.AsString() == "") {
				continue
			}
			return a, nil
		}
		return Null(), nil
	case "counter":
		if len(args) == 0 {
			return Number(nextCounter("", 1)), nil
		}
		seed := 1.0
		if len(args) > 1 {
			if n, ok := args[1].AsNumber(); ok {
				seed = n
			}
		}
		return Number(nextCounter(args[0].AsString(), seed)), nil
	case "iif":
		if err := requireArgs(args, 3, "iif"); err != nil {
			return Null(), err
		}
		if args[0].Truthy() {
			return args[1], nil
		}
		return args[2], nil
	case "length":
		if err := requireArgs(args, 1, "length"); err != nil {
			return Null(), err
		}
		switch args[0].Kind() {
		case KindString:
			return Number(float64(len(args[0].AsString()))), nil
		case KindArray:
			return Number(float64(len(args[0].Items()))), nil
		case KindObject:
			return Number(float64(len(args[0].Fields()))), nil
		}
		return Null(), evalErrorf("length() requires string, array, or object")
	}

	return Null(), evalErrorf("unknown function: %s", name)
}

func requireArgs(args []Value, count int, name string) error {
	if len(args) != count {
		return evalErrorf("%s() requires %d argument(s), got %d", name, count, len(args))
	}
	return nil
}

func numericPair(args []Value, name string, op func(a, b float64) bool) (Value, error) {
	if err := requireArgs(args, 2, name); err != nil {
		return Null(), err
	}
	a, ok := args[0].AsNumber()
	if !ok {
		return Null(), evalErrorf("first argument is not a number")
	}
	b, ok := args[1].AsNumber()
	if !ok {
		return Null(), evalErrorf("second argument is not a number")
	}
	return Bool(op(a, b)), nil
}

func fnIn(args []Value) (Value, error) {
	if len(args) < 2 {
		return Null(), evalErrorf("in() requires at least 2 arguments")
	}
	for _, candidate := range args[1:] {
		if Equal(args[0], candidate) {
			return Bool(true), nil
		}
	}
	return Bool(false), nil
}

func fnContains(args []Value) (Value, error) {
	if err := requireArgs(args, 2, "contains"); err != nil {
		return Null(), err
	}
	switch args[0].Kind() {
	case KindString:
		return Bool(strings.Contains(
			strings.ToLower(args[0].AsString()),
			strings.ToLower(args[1].AsString()))), nil
	case KindArray:
		for _, item := range args[0].Items() {
			if Equal(item, args[1]) {
				return Bool(true), nil
			}
		}
		return Bool(false), nil
	}
	return Null(), evalErrorf("contains() requires string or array")
}

func fnFormat(args []Value) (Value, error) {
	if len(args) == 0 {
		return Null(), evalErrorf("format() requires at least 1 argument")
	}
	result := args[0].AsString()
	for i, arg := range args[1:] {
		placeholder := "{" + itoa(i) + "}"
		result = strings.ReplaceAll(result, placeholder, arg.AsString())
	}
	return String(result), nil
}

func itoa(i int) string {
	return Number(float64(i)).AsString()
}

func fnJoin(args []Value) (Value, error) {
	if err := requireArgs(args, 2, "join"); err != nil {
		return Null(), err
	}
	if args[0].Kind() != KindArray {
		return Null(), evalErrorf("join() requires array as first argument")
	}
	parts := make([]string, 0, len(args[0].Items()))
	for _, item := range args[0].Items() {
		parts = append(parts, item.AsString())
	}
	return String(strings.Join(parts, args[1].AsString())), nil
}

// fnSucceeded checks the governing scope with no arguments, or the named
// jobs, stages, and steps when arguments are given.
func fnSucceeded(args []Value, ctx *Context) Value {
	if len(args) == 0 {
		if ctx.Job != nil {
			return Bool(ctx.Job.Status.Succeeded && !ctx.Job.Status.Failed)
		}
		if ctx.ScopeDeps != nil {
			return Bool(ctx.ScopeDeps.Succeeded && !ctx.ScopeDeps.Failed)
		}
		return Bool(true)
	}
	for _, arg := range args {
		name := arg.AsString()
		if dep, ok := ctx.Dependencies.Jobs[name]; ok {
			if !strings.EqualFold(dep.Result, "succeeded") {
				return Bool(false)
			}
		} else if dep, ok := ctx.Dependencies.Stages[name]; ok {
			if !strings.EqualFold(dep.Result, "succeeded") {
				return Bool(false)
			}
		} else if step, ok := ctx.Steps[name]; ok {
			if !step.Status.Succeeded {
				return Bool(false)
			}
		}
	}
	return Bool(true)
}

func fnFailed(args []Value, ctx *Context) Value {
	if len(args) == 0 {
		if ctx.Job != nil {
			return Bool(ctx.Job.Status.Failed)
		}
		if ctx.ScopeDeps != nil {
			return Bool(ctx.ScopeDeps.Failed)
		}
		return Bool(false)
	}
	for _, arg := range args {
		name := arg.AsString()
		if dep, ok := ctx.Dependencies.Jobs[name]; ok && strings.EqualFold(dep.Result, "failed") {
			return Bool(true)
		}
		if dep, ok := ctx.Dependencies.Stages[name]; ok && strings.EqualFold(dep.Result, "failed") {
			return Bool(true)
		}
		if step, ok := ctx.Steps[name]; ok && step.Status.Failed {
			return Bool(true)
		}
	}
	return Bool(false)
}
