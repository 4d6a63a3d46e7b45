package actions

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/rendis/flowkit/internal/expressions"
	"github.com/rendis/flowkit/internal/store"
	"github.com/rendis/flowkit/pkg/schema"
)

// Object types written by the record actions.
const (
	ObjectTypeContact      = "contact"
	ObjectTypeTicket       = "ticket"
	ObjectTypeTransaction  = "transaction"
	ObjectTypeFormResponse = "form_response"
	ObjectTypeInvoice      = "invoice"
	ObjectTypeEvent        = "event"
)

// recordKind describes one create-* behavior.
type recordKind struct {
	behavior      schema.BehaviorType
	objectType    string
	idKey         string
	status        string
	description   string
	defaultFields map[string]string // property -> jq path, copied when present
}

var recordKinds = []recordKind{
	{
		behavior:    schema.BehaviorCreateContact,
		objectType:  ObjectTypeContact,
		idKey:       "contactId",
		status:      "active",
		description: "Create a CRM contact from the registration data",
		defaultFields: map[string]string{
			"email":     ".email",
			"firstName": ".firstName",
			"lastName":  ".lastName",
			"phone":     ".phone",
			"company":   ".company",
		},
	},
	{
		behavior:    schema.BehaviorCreateTicket,
		objectType:  ObjectTypeTicket,
		idKey:       "ticketId",
		status:      "issued",
		description: "Issue an event ticket for the registrant",
		defaultFields: map[string]string{
			"eventId":    ".eventId",
			"contactId":  ".contactId",
			"ticketType": ".ticketType",
			"quantity":   ".quantity",
		},
	},
	{
		behavior:    schema.BehaviorCreateTransaction,
		objectType:  ObjectTypeTransaction,
		idKey:       "transactionId",
		status:      "pending",
		description: "Record a payment transaction from the calculated pricing",
		defaultFields: map[string]string{
			"amount":          ".pricing.total",
			"currency":        ".pricing.currency",
			"contactId":       ".contactId",
			"ticketId":        ".ticketId",
			"employerBilling": ".employerBilling",
			"employerOrgId":   ".employerOrgId",
			"paymentTerms":    ".paymentTerms",
			"paymentMethod":   ".paymentMethod",
		},
	},
	{
		behavior:    schema.BehaviorCreateFormResponse,
		objectType:  ObjectTypeFormResponse,
		idKey:       "formResponseId",
		status:      "submitted",
		description: "Store the submitted form answers",
		defaultFields: map[string]string{
			"formId":    ".formId",
			"contactId": ".contactId",
			"responses": ".formResponses",
		},
	},
}

// recordAction inserts one object built from the context.
//
// Config:
//
//	properties:   static custom properties
//	fieldMapping: {"property": "<jq over context>"}, overrides properties
//	name:         object name, may contain ${{ path }} tokens
//	subtype:      object subtype
type recordAction struct {
	kind  recordKind
	store store.ObjectStore
	jq    *expressions.GoJQEngine
}

func (a *recordAction) Type() schema.BehaviorType { return a.kind.behavior }

func (a *recordAction) Description() string { return a.kind.description }

func (a *recordAction) Execute(ctx context.Context, in ActionInput) (*schema.BehaviorResult, error) {
	if in.OrganizationID == "" {
		return fail("Missing organization", "organizationId is required"), nil
	}

	props := make(map[string]any)
	for _, key := range sortedKeys(a.kind.defaultFields) {
		if v, err := a.jq.Evaluate(ctx, a.kind.defaultFields[key], in.Context); err == nil && v != nil {
			props[key] = v
		}
	}
	for k, v := range mapParam(in.Config, "properties") {
		props[k] = v
	}
	mapping := mapParam(in.Config, "fieldMapping")
	for _, key := range sortedKeys(mapping) {
		path, ok := mapping[key].(string)
		if !ok {
			return fail("Invalid field mapping", fmt.Sprintf("fieldMapping.%s must be a string", key)), nil
		}
		v, err := a.jq.Lookup(ctx, path, in.Context)
		if err != nil {
			return nil, err
		}
		props[key] = v
	}

	name, err := expressions.Interpolate(stringParam(in.Config, "name", ""), in.Context)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = defaultRecordName(a.kind.objectType, props)
	}

	obj := &store.Object{
		ID:               uuid.New().String(),
		OrganizationID:   in.OrganizationID,
		Type:             a.kind.objectType,
		Subtype:          stringParam(in.Config, "subtype", ""),
		Name:             name,
		Status:           stringParam(in.Config, "status", a.kind.status),
		CustomProperties: props,
	}
	if err := a.store.InsertObject(ctx, obj); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "insert %s", a.kind.objectType).WithCause(err)
	}

	return succeed(fmt.Sprintf("Created %s %s", a.kind.objectType, obj.ID), map[string]any{
		a.kind.idKey: obj.ID,
	}), nil
}

func defaultRecordName(objectType string, props map[string]any) string {
	if email, ok := props["email"].(string); ok && email != "" {
		return email
	}
	first, _ := props["firstName"].(string)
	last, _ := props["lastName"].(string)
	if first != "" || last != "" {
		return strings.TrimSpace(first + " " + last)
	}
	return objectType
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
