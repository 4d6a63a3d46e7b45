package expressions

import (
	"context"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/rendis/flowkit/pkg/schema"
)

// ExprEngine evaluates expr-lang formulas. Programs are compiled without a
// typed environment so the same formula accepts ints and floats alike.
type ExprEngine struct {
	cache *programCache[*vm.Program]
}

func NewExprEngine() *ExprEngine {
	return &ExprEngine{cache: newProgramCache[*vm.Program]()}
}

func (e *ExprEngine) Name() string { return "expr" }

// Evaluate runs expression with every key of data available as a top-level
// variable. Undefined variables evaluate to nil.
func (e *ExprEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	if expression == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "empty expr expression")
	}

	prg, err := e.cache.getOrCompile(expression, compileExpr)
	if err != nil {
		return nil, err
	}

	env := data
	if env == nil {
		env = map[string]any{}
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"expr evaluation failed for %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return out, nil
}

// EvaluateFloat is Evaluate for numeric formulas.
func (e *ExprEngine) EvaluateFloat(ctx context.Context, expression string, data map[string]any) (float64, error) {
	out, err := e.Evaluate(ctx, expression, data)
	if err != nil {
		return 0, err
	}
	f, ok := ToFloat(out)
	if !ok {
		return 0, schema.NewErrorf(schema.ErrCodeExecution,
			"expr formula %q returned %T, want number", expression, out)
	}
	return f, nil
}

func compileExpr(expression string) (*vm.Program, error) {
	prg, err := expr.Compile(expression,
		expr.Env(map[string]any{}),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"expr compile error in %q: %s", expression, err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"expression": expression})
	}
	return prg, nil
}

var _ Engine = (*ExprEngine)(nil)
