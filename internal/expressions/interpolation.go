package expressions

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rendis/flowkit/pkg/schema"
)

// Interpolate replaces ${{ path }} tokens in text with values looked up in
// data by dotted path. Missing paths render as empty strings; maps and
// slices render as inline JSON.
func Interpolate(text string, data map[string]any) (string, error) {
	if !strings.Contains(text, "${{") {
		return text, nil
	}

	var out strings.Builder
	out.Grow(len(text))

	i := 0
	for i < len(text) {
		idx := strings.Index(text[i:], "${{")
		if idx == -1 {
			out.WriteString(text[i:])
			break
		}
		out.WriteString(text[i : i+idx])
		start := i + idx + 3

		end := strings.Index(text[start:], "}}")
		if end == -1 {
			return "", schema.NewError(schema.ErrCodeValidation, "unclosed ${{ expression")
		}
		end += start

		path := strings.TrimSpace(text[start:end])
		if strings.Contains(path, "${{") {
			return "", schema.NewError(schema.ErrCodeValidation, "nested interpolation not allowed")
		}
		if path == "" {
			return "", schema.NewError(schema.ErrCodeValidation, "empty variable reference: ${{ }}")
		}
		if !truthyRe.MatchString(path) {
			return "", schema.NewErrorf(schema.ErrCodeValidation, "invalid variable reference %q", path)
		}

		val, _ := Lookup(data, path)
		out.WriteString(renderInline(val))
		i = end + 2
	}
	return out.String(), nil
}

// InterpolateMap applies Interpolate to every string value of m, recursing
// into nested maps and slices. m is not modified.
func InterpolateMap(m map[string]any, data map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, v := range m {
		rv, err := interpolateAny(v, data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = rv
	}
	return out, nil
}

func interpolateAny(v any, data map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		return Interpolate(val, data)
	case map[string]any:
		return InterpolateMap(val, data)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			rv, err := interpolateAny(item, data)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}

func renderInline(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool, int, int64, float64, float32:
		return fmt.Sprint(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}
