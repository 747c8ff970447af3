// Package expression implements the pipeline expression language: the
// lexer, parser, and evaluator behind ${{ }}, $[ ] and $(var) forms, the
// built-in function set, and the evaluation context.
package expression

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies which variant a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Value is the tagged runtime value produced by expression evaluation.
// Numbers are float64, matching the language's single numeric type.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []Value
	obj  map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a float64.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Array wraps a slice of values.
func Array(items ...Value) Value { return Value{kind: KindArray, arr: items} }

// Object wraps a map of values.
func Object(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindObject, obj: m}
}

// FromAny converts a decoded YAML/JSON scalar or container into a Value.
// Unknown types stringify.
func FromAny(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(x)
	case int:
		return Number(float64(x))
	case int64:
		return Number(float64(x))
	case float64:
		return Number(x)
	case string:
		return String(x)
	case []any:
		items := make([]Value, len(x))
		for i, it := range x {
			items[i] = FromAny(it)
		}
		return Value{kind: KindArray, arr: items}
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, it := range x {
			m[k] = FromAny(it)
		}
		return Object(m)
	case map[any]any:
		m := make(map[string]Value, len(x))
		for k, it := range x {
			m[fmt.Sprint(k)] = FromAny(it)
		}
		return Object(m)
	default:
		return String(fmt.Sprint(v))
	}
}

// Kind reports the variant held by the value.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Truthy applies the language truthiness rules: null and false are false,
// zero and NaN numbers are false, empty strings and the literal "false"
// (any casing) are false, empty containers are false.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindNull:
		return false
	case KindBool:
		return v.b
	case KindNumber:
		return v.n != 0 && !math.IsNaN(v.n)
	case KindString:
		return v.s != "" && !strings.EqualFold(v.s, "false")
	case KindArray:
		return len(v.arr) > 0
	case KindObject:
		return len(v.obj) > 0
	}
	return false
}

// AsBool returns the boolean payload if the value is a bool.
func (v Value) AsBool() (bool, bool) {
	if v.kind == KindBool {
		return v.b, true
	}
	return false, false
}

// AsNumber returns the numeric payload, parsing strings that look numeric.
func (v Value) AsNumber() (float64, bool) {
	switch v.kind {
	case KindNumber:
		return v.n, true
	case KindString:
		n, err := strconv.ParseFloat(strings.TrimSpace(v.s), 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// AsString renders the value the way the hosted service does: null is
// empty, integral numbers drop the fraction, containers render as JSON.
func (v Value) AsString() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		if v.n == math.Trunc(v.n) && !math.IsInf(v.n, 0) {
			return strconv.FormatInt(int64(v.n), 10)
		}
		return strconv.FormatFloat(v.n, 'f', -1, 64)
	case KindString:
		return v.s
	default:
		return v.JSON()
	}
}

// Items returns the array payload.
func (v Value) Items() []Value {
	if v.kind == KindArray {
		return v.arr
	}
	return nil
}

// Fields returns the object payload.
func (v Value) Fields() map[string]Value {
	if v.kind == KindObject {
		return v.obj
	}
	return nil
}

// Field looks up an object key, returning null when absent.
func (v Value) Field(key string) Value {
	if v.kind == KindObject {
		if fv, ok := v.obj[key]; ok {
			return fv
		}
	}
	return Null()
}

// JSON renders the value as canonical JSON with sorted object keys.
func (v Value) JSON() string {
	var sb strings.Builder
	v.writeJSON(&sb)
	return sb.String()
}

func (v Value) writeJSON(sb *strings.Builder) {
	switch v.kind {
	case KindNull:
		sb.WriteString("null")
	case KindBool:
		sb.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		sb.WriteString(strconv.FormatFloat(v.n, 'f', -1, 64))
	case KindString:
		sb.WriteString(strconv.Quote(v.s))
	case KindArray:
		sb.WriteByte('[')
		for i, it := range v.arr {
			if i > 0 {
				sb.WriteByte(',')
			}
			it.writeJSON(sb)
		}
		sb.WriteByte(']')
	case KindObject:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.Quote(k))
			sb.WriteByte(':')
			v.obj[k].writeJSON(sb)
		}
		sb.WriteByte('}')
	}
}

const numberEpsilon = 1e-9

// Equal compares two values with the language coercion rules: strings
// compare case-insensitively, numbers compare against numeric strings,
// booleans compare against "true"/"false" strings, arrays compare
// elementwise.
func Equal(a, b Value) bool {
	switch {
	case a.kind == KindNull && b.kind == KindNull:
		return true
	case a.kind == KindBool && b.kind == KindBool:
		return a.b == b.b
	case a.kind == KindNumber && b.kind == KindNumber:
		return math.Abs(a.n-b.n) < numberEpsilon
	case a.kind == KindString && b.kind == KindString:
		return strings.EqualFold(a.s, b.s)
	case a.kind == KindNumber && b.kind == KindString,
		a.kind == KindString && b.kind == KindNumber:
		num, str := a, b
		if a.kind == KindString {
			num, str = b, a
		}
		n, err := strconv.ParseFloat(strings.TrimSpace(str.s), 64)
		if err != nil {
			return false
		}
		return math.Abs(num.n-n) < numberEpsilon
	case a.kind == KindBool && b.kind == KindString,
		a.kind == KindString && b.kind == KindBool:
		bv, str := a, b
		if a.kind == KindString {
			bv, str = b, a
		}
		return (bv.b && strings.EqualFold(str.s, "true")) ||
			(!bv.b && strings.EqualFold(str.s, "false"))
	case a.kind == KindArray && b.kind == KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			if !Equal(a.arr[i], b.arr[i]) {
				return false
			}
		}
		return true
	}
	return false
}
