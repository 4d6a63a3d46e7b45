package expressions

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/itchyny/gojq"

	"github.com/rendis/flowkit/pkg/schema"
)

// GoJQEngine evaluates jq programs for field mappings and lookups.
// Compiled programs are cached and reused across goroutines.
type GoJQEngine struct {
	cache *programCache[*gojq.Code]
}

func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{cache: newProgramCache[*gojq.Code]()}
}

func (e *GoJQEngine) Name() string { return "jq" }

// Evaluate runs expression with data as input. A single output is returned
// as is, several outputs are collected into []any and no output yields nil.
func (e *GoJQEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	results, err := e.EvaluateAll(ctx, expression, data)
	if err != nil {
		return nil, err
	}
	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// EvaluateAll always returns every output.
func (e *GoJQEngine) EvaluateAll(ctx context.Context, expression string, data map[string]any) ([]any, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty jq expression")
	}

	code, err := e.cache.getOrCompile(expression, compileJQ)
	if err != nil {
		return nil, err
	}

	var input any = map[string]any{}
	if data != nil {
		input = normalizeJSON(data)
	}
	iter := code.RunWithContext(ctx, input)

	var results []any
	for {
		val, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := val.(error); isErr {
			return nil, schema.NewErrorf(schema.ErrCodeExecution,
				"jq evaluation failed for %q: %s", expression, err.Error()).
				WithCause(err).
				WithDetails(map[string]any{"expression": expression})
		}
		results = append(results, val)
	}
	return results, nil
}

// Lookup accepts either a jq program (".a.b", ".items[0]") or a bare dotted
// path ("a.b") and evaluates it against data.
func (e *GoJQEngine) Lookup(ctx context.Context, path string, data map[string]any) (any, error) {
	path = strings.TrimSpace(path)
	if path != "" && !strings.HasPrefix(path, ".") {
		path = "." + path
	}
	return e.Evaluate(ctx, path, data)
}

func compileJQ(expression string) (*gojq.Code, error) {
	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq parse error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}

	code, err := gojq.Compile(query,
		// Sandbox: no access to $ENV.
		gojq.WithEnvironLoader(func() []string { return nil }),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return code, nil
}

// normalizeJSON converts Go values into the JSON-shaped values both jq and
// CEL understand: map[string]any, []any, float64, string, bool and nil.
// Anything else goes through a JSON round-trip.
func normalizeJSON(v any) any {
	switch val := v.(type) {
	case nil, string, bool, float64:
		return val
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = normalizeJSON(v)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = normalizeJSON(v)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	case float32:
		return float64(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return nil
		}
		var out any
		if err := json.Unmarshal(b, &out); err != nil {
			return nil
		}
		return out
	}
}

var _ Engine = (*GoJQEngine)(nil)
