package expressions

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/rendis/flowkit/pkg/schema"
)

// CELEngine evaluates Common Expression Language rules. Compiled programs
// are cached and reused across goroutines.
//
// The environment exposes two variables:
//   - context: map(string, dyn), the accumulated execution context
//   - config:  map(string, dyn), the behavior configuration
type CELEngine struct {
	env   *cel.Env
	cache *programCache[cel.Program]
}

// NewCELEngine creates a CEL engine with the behavior environment.
func NewCELEngine() (*CELEngine, error) {
	mapType := cel.MapType(cel.StringType, cel.DynType)

	env, err := cel.NewEnv(
		cel.Variable("context", mapType),
		cel.Variable("config", mapType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &CELEngine{env: env, cache: newProgramCache[cel.Program]()}, nil
}

func (e *CELEngine) Name() string { return "cel" }

// Evaluate runs expression with data["context"] and data["config"] bound.
// Missing variables default to empty maps.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty CEL expression")
	}

	prg, err := e.cache.getOrCompile(expression, e.compile)
	if err != nil {
		return nil, err
	}

	activation := map[string]any{}
	for _, key := range []string{"context", "config"} {
		if v, ok := data[key]; ok && v != nil {
			activation[key] = normalizeJSON(v)
		} else {
			activation[key] = map[string]any{}
		}
	}

	out, _, err := prg.ContextEval(ctx, activation)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"CEL evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out.Value(), nil
}

// EvaluateBool is Evaluate for rules that must produce a boolean.
func (e *CELEngine) EvaluateBool(ctx context.Context, expression string, data map[string]any) (bool, error) {
	out, err := e.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL expression %q returned %T, want bool", expression, out)
	}
	return b, nil
}

func (e *CELEngine) compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL compile error in %q: %s", expression, issues.Err().Error()).
			WithCause(issues.Err()).
			WithDetails(map[string]any{"expression": expression})
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"CEL program error for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return prg, nil
}

var _ Engine = (*CELEngine)(nil)
