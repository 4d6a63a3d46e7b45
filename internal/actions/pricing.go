package actions

import (
	"context"
	"fmt"
	"math"

	"github.com/rendis/flowkit/internal/expressions"
	"github.com/rendis/flowkit/pkg/schema"
)

const (
	defaultPricingFormula = "basePrice * quantity + addonTotal"
	defaultCurrency       = "USD"
)

// calculatePricingAction evaluates an Expr formula over the context.
//
// Config:
//
//	formula:   Expr formula producing the subtotal
//	basePrice, quantity, addonTotal: fallbacks when the context lacks them
//	taxRate:   fraction applied to the subtotal (0.21 = 21%)
//	currency:  ISO code, falls back to context.currency
type calculatePricingAction struct {
	expr *expressions.ExprEngine
}

func (a *calculatePricingAction) Type() schema.BehaviorType { return schema.BehaviorCalculatePricing }

func (a *calculatePricingAction) Description() string {
	return "Compute subtotal, tax and total from a pricing formula"
}

func (a *calculatePricingAction) Execute(ctx context.Context, in ActionInput) (*schema.BehaviorResult, error) {
	env := make(map[string]any, len(in.Context)+4)
	for k, v := range in.Context {
		env[k] = v
	}
	defaults := map[string]float64{"basePrice": 0, "quantity": 1, "addonTotal": addonTotal(in.Context)}
	for key, def := range defaults {
		if _, ok := expressions.ToFloat(env[key]); !ok {
			env[key] = floatParam(in.Config, key, def)
		}
	}
	env["config"] = in.Config

	formula := stringParam(in.Config, "formula", defaultPricingFormula)
	subtotal, err := a.expr.EvaluateFloat(ctx, formula, env)
	if err != nil {
		return fail("Pricing formula failed", err.Error()), nil
	}
	if subtotal < 0 || math.IsNaN(subtotal) || math.IsInf(subtotal, 0) {
		return fail("Invalid price", fmt.Sprintf("formula produced invalid subtotal %v", subtotal)), nil
	}

	taxRate := floatParam(in.Config, "taxRate", 0)
	subtotal = roundCents(subtotal)
	tax := roundCents(subtotal * taxRate)
	currency := lookupString(in, "currency")
	if currency == "" {
		currency = defaultCurrency
	}

	return succeed("Pricing calculated", map[string]any{
		"pricing": map[string]any{
			"subtotal":  subtotal,
			"taxRate":   taxRate,
			"taxAmount": tax,
			"total":     roundCents(subtotal + tax),
			"currency":  currency,
		},
	}), nil
}

// addonTotal sums context.addons[].price * quantity.
func addonTotal(c map[string]any) float64 {
	addons, _ := c["addons"].([]any)
	var total float64
	for _, raw := range addons {
		addon, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		total += floatParam(addon, "price", 0) * floatParam(addon, "quantity", 1)
	}
	return total
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
