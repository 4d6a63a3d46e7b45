package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/rendis/flowkit/internal/expressions"
	"github.com/rendis/flowkit/pkg/schema"
)

const defaultPaymentTerms = "net30"

// detectEmployerBillingAction decides whether the registrant's employer
// pays. The employer name is read from the context with a jq path and
// mapped to a CRM organization id.
//
// Config: employerSourceField, employerMapping, defaultPaymentTerms,
// requireMapping.
type detectEmployerBillingAction struct {
	jq *expressions.GoJQEngine
}

func (a *detectEmployerBillingAction) Type() schema.BehaviorType {
	return schema.BehaviorDetectEmployerBilling
}

func (a *detectEmployerBillingAction) Description() string {
	return "Map the registrant's employer to a billing organization"
}

func (a *detectEmployerBillingAction) Execute(ctx context.Context, in ActionInput) (*schema.BehaviorResult, error) {
	sourceField := stringParam(in.Config, "employerSourceField", "")
	if sourceField == "" {
		return fail("Employer detection misconfigured", "employerSourceField is required"), nil
	}
	terms := stringParam(in.Config, "defaultPaymentTerms", defaultPaymentTerms)
	requireMapping := boolParam(in.Config, "requireMapping", false)

	raw, err := a.jq.Lookup(ctx, sourceField, in.Context)
	if err != nil {
		return nil, err
	}
	employer, _ := raw.(string)
	employer = strings.TrimSpace(employer)

	orgID := matchEmployer(mapParam(in.Config, "employerMapping"), employer)
	if orgID == "" {
		if requireMapping && employer != "" {
			return fail("Employer not mapped", fmt.Sprintf("no billing organization mapped for employer %q", employer)), nil
		}
		return succeed("No employer billing", map[string]any{
			"employerBilling": false,
			"employerOrgId":   nil,
			"paymentTerms":    terms,
		}), nil
	}

	return succeed("Employer billing detected", map[string]any{
		"employerBilling": true,
		"employerOrgId":   orgID,
		"employerName":    employer,
		"paymentTerms":    terms,
	}), nil
}

// matchEmployer looks the employer up exactly, then case-insensitively.
func matchEmployer(mapping map[string]any, employer string) string {
	if employer == "" {
		return ""
	}
	if id, ok := mapping[employer].(string); ok {
		return id
	}
	for name, v := range mapping {
		if strings.EqualFold(name, employer) {
			if id, ok := v.(string); ok {
				return id
			}
		}
	}
	return ""
}
