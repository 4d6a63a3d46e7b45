package actions

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/flowkit/internal/store"
	"github.com/rendis/flowkit/internal/templates"
	"github.com/rendis/flowkit/pkg/schema"
)

// TemplateResolver is the subset of templates.Resolver the document
// actions use.
type TemplateResolver interface {
	ResolveIndividualTemplate(ctx context.Context, organizationID, templateType string, rc templates.ResolveContext) (string, error)
}

// resolveContextFor builds resolver overrides: config.templateSetId is the
// manual override, the rest come from the execution context.
func resolveContextFor(in ActionInput) templates.ResolveContext {
	return templates.ResolveContext{
		ManualSetID:        stringParam(in.Config, "templateSetId", ""),
		ProductID:          stringParam(in.Context, "productId", ""),
		CheckoutInstanceID: stringParam(in.Context, "checkoutInstanceId", ""),
		DomainConfigID:     stringParam(in.Context, "domainConfigId", ""),
	}
}

// paymentDueDate turns payment terms into a due date.
func paymentDueDate(issued time.Time, terms string) time.Time {
	switch terms {
	case "net60":
		return issued.AddDate(0, 0, 60)
	case "net90":
		return issued.AddDate(0, 0, 90)
	case "immediate":
		return issued
	default:
		return issued.AddDate(0, 0, 30)
	}
}

// --- generate-invoice ---

// generateInvoiceAction issues an invoice for the current registration,
// billed to the employer when employer billing was detected.
type generateInvoiceAction struct {
	store    store.ObjectStore
	resolver TemplateResolver
	now      func() time.Time
}

func (a *generateInvoiceAction) Type() schema.BehaviorType { return schema.BehaviorGenerateInvoice }

func (a *generateInvoiceAction) Description() string {
	return "Issue an invoice using the organization's invoice template"
}

func (a *generateInvoiceAction) Execute(ctx context.Context, in ActionInput) (*schema.BehaviorResult, error) {
	templateType := stringParam(in.Config, "templateType", schema.TemplateTypeInvoice)
	templateID, err := a.resolver.ResolveIndividualTemplate(ctx, in.OrganizationID, templateType, resolveContextFor(in))
	if err != nil {
		return fail("Invoice template unavailable", err.Error()), nil
	}

	pricing := mapParam(in.Context, "pricing")
	billedOrg := in.OrganizationID
	invoiceType := stringParam(in.Config, "invoiceType", "manual")
	if boolParam(in.Context, "employerBilling", false) {
		if emp := stringParam(in.Context, "employerOrgId", ""); emp != "" {
			billedOrg = emp
			invoiceType = "employer"
		}
	}
	terms := lookupString(in, "paymentTerms")
	if terms == "" {
		terms = defaultPaymentTerms
	}
	issued := a.now().UTC()

	props := map[string]any{
		"templateId":           templateID,
		"invoiceType":          invoiceType,
		"billedOrganizationId": billedOrg,
		"paymentTerms":         terms,
		"issuedAt":             issued.Format(time.RFC3339),
		"dueDate":              paymentDueDate(issued, terms).Format(time.RFC3339),
		"amount":               floatParam(pricing, "total", floatParam(in.Context, "amount", 0)),
		"currency":             stringParam(pricing, "currency", defaultCurrency),
	}
	for _, key := range []string{"transactionId", "contactId", "ticketId"} {
		if v := stringParam(in.Context, key, ""); v != "" {
			props[key] = v
		}
	}

	obj := &store.Object{
		ID:               uuid.New().String(),
		OrganizationID:   in.OrganizationID,
		Type:             ObjectTypeInvoice,
		Subtype:          invoiceType,
		Name:             "Invoice " + issued.Format("2006-01-02"),
		Status:           "issued",
		CustomProperties: props,
	}
	if err := a.store.InsertObject(ctx, obj); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "insert invoice").WithCause(err)
	}

	return succeed("Invoice generated", map[string]any{
		"invoiceId":         obj.ID,
		"invoiceTemplateId": templateID,
	}), nil
}

// --- consolidated-invoice-generation ---

// consolidatedInvoiceAction issues one invoice per employer covering every
// employer-billed transaction listed in context.transactionIds.
type consolidatedInvoiceAction struct {
	store    store.ObjectStore
	resolver TemplateResolver
	now      func() time.Time
}

func (a *consolidatedInvoiceAction) Type() schema.BehaviorType {
	return schema.BehaviorConsolidatedInvoiceGen
}

func (a *consolidatedInvoiceAction) Description() string {
	return "Issue one consolidated invoice per employer across transactions"
}

type employerBatch struct {
	lines    []any
	total    float64
	currency string
	terms    string
}

func (a *consolidatedInvoiceAction) Execute(ctx context.Context, in ActionInput) (*schema.BehaviorResult, error) {
	txIDs := stringsParam(in.Context, "transactionIds")
	if len(txIDs) == 0 {
		txIDs = stringsParam(in.Config, "transactionIds")
	}
	if len(txIDs) == 0 {
		return fail("Nothing to invoice", "transactionIds is empty"), nil
	}

	templateID, err := a.resolver.ResolveIndividualTemplate(ctx, in.OrganizationID, schema.TemplateTypeInvoice, resolveContextFor(in))
	if err != nil {
		return fail("Invoice template unavailable", err.Error()), nil
	}

	batches := make(map[string]*employerBatch)
	var skipped []string
	for _, id := range txIDs {
		tx, err := a.store.GetObject(ctx, id)
		if schema.IsNotFound(err) {
			skipped = append(skipped, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		employer := tx.StringProperty("employerOrgId")
		if tx.Type != ObjectTypeTransaction || employer == "" {
			skipped = append(skipped, id)
			continue
		}
		b, ok := batches[employer]
		if !ok {
			b = &employerBatch{
				currency: stringParam(tx.CustomProperties, "currency", defaultCurrency),
				terms:    stringParam(tx.CustomProperties, "paymentTerms", defaultPaymentTerms),
			}
			batches[employer] = b
		}
		amount := floatParam(tx.CustomProperties, "amount", 0)
		b.total += amount
		b.lines = append(b.lines, map[string]any{"transactionId": id, "amount": amount})
	}
	if len(batches) == 0 {
		return fail("Nothing to invoice", "no employer-billed transactions found"), nil
	}

	issued := a.now().UTC()
	invoiceIDs := make([]any, 0, len(batches))
	for _, employer := range sortedKeys(batches) {
		b := batches[employer]
		obj := &store.Object{
			ID:             uuid.New().String(),
			OrganizationID: in.OrganizationID,
			Type:           ObjectTypeInvoice,
			Subtype:        "consolidated",
			Name:           fmt.Sprintf("Consolidated invoice %s", issued.Format("2006-01-02")),
			Status:         "issued",
			CustomProperties: map[string]any{
				"templateId":           templateID,
				"invoiceType":          "employer",
				"billedOrganizationId": employer,
				"paymentTerms":         b.terms,
				"issuedAt":             issued.Format(time.RFC3339),
				"dueDate":              paymentDueDate(issued, b.terms).Format(time.RFC3339),
				"amount":               roundCents(b.total),
				"currency":             b.currency,
				"lineItems":            b.lines,
			},
		}
		if err := a.store.InsertObject(ctx, obj); err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "insert consolidated invoice").WithCause(err)
		}
		invoiceIDs = append(invoiceIDs, obj.ID)
	}

	sort.Strings(skipped)
	data := map[string]any{
		"invoiceIds":        invoiceIDs,
		"invoiceCount":      len(invoiceIDs),
		"invoiceTemplateId": templateID,
	}
	if len(skipped) > 0 {
		data["skippedTransactionIds"] = skipped
	}
	return succeed(fmt.Sprintf("Generated %d consolidated invoices", len(invoiceIDs)), data), nil
}
