package expressions

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
)

// ErrUnsupportedCondition is returned for conditions outside the gate grammar.
var ErrUnsupportedCondition = errors.New("unsupported condition syntax")

const pathPattern = `[A-Za-z_$][A-Za-z0-9_$]*(?:\.[A-Za-z_$][A-Za-z0-9_$]*)*`

var (
	comparisonRe = regexp.MustCompile(`^\s*(` + pathPattern + `)\s*(===|!==)\s*(?:'([^']*)'|"([^"]*)")\s*$`)
	truthyRe     = regexp.MustCompile(`^\s*(` + pathPattern + `)\s*$`)
)

// EvaluateCondition evaluates a behavior gate against data. Exactly three
// forms are understood:
//
//	field === 'value'
//	field !== 'value'
//	field
//
// where field is a dotted path into data. Equality is strict: only string
// values can equal the quoted literal.
func EvaluateCondition(condition string, data map[string]any) (bool, error) {
	if idx := comparisonRe.FindStringSubmatchIndex(condition); idx != nil {
		field, op := condition[idx[2]:idx[3]], condition[idx[4]:idx[5]]
		var literal string
		if idx[6] >= 0 {
			literal = condition[idx[6]:idx[7]]
		} else {
			literal = condition[idx[8]:idx[9]]
		}
		v, _ := Lookup(data, field)
		s, isString := v.(string)
		equal := isString && s == literal
		if op == "===" {
			return equal, nil
		}
		return !equal, nil
	}
	if m := truthyRe.FindStringSubmatch(condition); m != nil {
		v, _ := Lookup(data, m[1])
		return Truthy(v), nil
	}
	return false, fmt.Errorf("%w: %q", ErrUnsupportedCondition, condition)
}

// Lookup walks a dotted path through nested maps.
func Lookup(data map[string]any, path string) (any, bool) {
	var cur any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, true
	default:
		return nil, false
	}
}

// Truthy reports whether v counts as set: not nil, not false, not "", not a
// numeric zero and not an empty collection.
func Truthy(v any) bool {
	if v == nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != ""
	}
	if f, ok := ToFloat(v); ok {
		return f != 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

// ToFloat converts Go numeric values to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	default:
		return 0, false
	}
}
