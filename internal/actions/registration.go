package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/rendis/flowkit/internal/expressions"
	"github.com/rendis/flowkit/pkg/schema"
)

// validateRegistrationAction checks registration data.
//
// Config:
//
//	requiredFields: ["email", "attendee.firstName"]   dotted context paths
//	rules: [{"expression": "<CEL>", "message": "..."}] must evaluate to true
//
// Rules see the execution context as `context` and the config as `config`.
type validateRegistrationAction struct {
	cel *expressions.CELEngine
}

func (a *validateRegistrationAction) Type() schema.BehaviorType {
	return schema.BehaviorValidateRegistration
}

func (a *validateRegistrationAction) Description() string {
	return "Check required registration fields and CEL rules against the execution context"
}

func (a *validateRegistrationAction) Execute(ctx context.Context, in ActionInput) (*schema.BehaviorResult, error) {
	var problems []string

	for _, field := range stringsParam(in.Config, "requiredFields") {
		v, ok := expressions.Lookup(in.Context, field)
		if !ok || v == nil || v == "" {
			problems = append(problems, fmt.Sprintf("%s is required", field))
		}
	}

	rules, _ := in.Config["rules"].([]any)
	data := map[string]any{"context": in.Context, "config": in.Config}
	for i, raw := range rules {
		rule, ok := raw.(map[string]any)
		if !ok {
			problems = append(problems, fmt.Sprintf("rules[%d] is not an object", i))
			continue
		}
		expression := stringParam(rule, "expression", "")
		message := stringParam(rule, "message", fmt.Sprintf("rule %d failed", i))
		passed, err := a.cel.EvaluateBool(ctx, expression, data)
		if err != nil {
			problems = append(problems, fmt.Sprintf("rules[%d]: %s", i, err.Error()))
			continue
		}
		if !passed {
			problems = append(problems, message)
		}
	}

	if len(problems) > 0 {
		res := fail("Registration validation failed", strings.Join(problems, "; "))
		res.Data = map[string]any{"validationErrors": problems}
		return res, nil
	}
	return succeed("Registration is valid", map[string]any{"registrationValid": true}), nil
}
