package schema

// BehaviorType identifies what a behavior does. The set is closed: every
// value the executor can run is declared here.
type BehaviorType string

// Server-side behaviors, executable by the engine.
const (
	BehaviorValidateRegistration   BehaviorType = "validate-registration"
	BehaviorDetectEmployerBilling  BehaviorType = "detect-employer-billing"
	BehaviorCreateContact          BehaviorType = "create-contact"
	BehaviorCreateTicket           BehaviorType = "create-ticket"
	BehaviorCreateTransaction      BehaviorType = "create-transaction"
	BehaviorGenerateInvoice        BehaviorType = "generate-invoice"
	BehaviorSendConfirmationEmail  BehaviorType = "send-confirmation-email"
	BehaviorCheckEventCapacity     BehaviorType = "check-event-capacity"
	BehaviorCalculatePricing       BehaviorType = "calculate-pricing"
	BehaviorCreateFormResponse     BehaviorType = "create-form-response"
	BehaviorUpdateStatistics       BehaviorType = "update-statistics"
	BehaviorSendAdminNotification  BehaviorType = "send-admin-notification"
	BehaviorConsolidatedInvoiceGen BehaviorType = "consolidated-invoice-generation"
)

// Client-side behaviors. They run inline in the checkout flow and are
// recognized, but never executed, by the engine.
const (
	BehaviorEmployerDetection        BehaviorType = "employer-detection"
	BehaviorInvoiceMapping           BehaviorType = "invoice-mapping"
	BehaviorFormLinking              BehaviorType = "form-linking"
	BehaviorAddonCalculation         BehaviorType = "addon-calculation"
	BehaviorPaymentProviderSelection BehaviorType = "payment-provider-selection"
	BehaviorStripePayment            BehaviorType = "stripe-payment"
	BehaviorInvoicePayment           BehaviorType = "invoice-payment"
	BehaviorTaxCalculation           BehaviorType = "tax-calculation"
)

// BehaviorKind classifies a BehaviorType.
type BehaviorKind int

const (
	BehaviorKindUnknown BehaviorKind = iota
	BehaviorKindServer
	BehaviorKindClient
)

// ServerBehaviors lists every executable behavior type.
var ServerBehaviors = []BehaviorType{
	BehaviorValidateRegistration,
	BehaviorDetectEmployerBilling,
	BehaviorCreateContact,
	BehaviorCreateTicket,
	BehaviorCreateTransaction,
	BehaviorGenerateInvoice,
	BehaviorSendConfirmationEmail,
	BehaviorCheckEventCapacity,
	BehaviorCalculatePricing,
	BehaviorCreateFormResponse,
	BehaviorUpdateStatistics,
	BehaviorSendAdminNotification,
	BehaviorConsolidatedInvoiceGen,
}

// ClientBehaviors lists every recognized client-side behavior type.
var ClientBehaviors = []BehaviorType{
	BehaviorEmployerDetection,
	BehaviorInvoiceMapping,
	BehaviorFormLinking,
	BehaviorAddonCalculation,
	BehaviorPaymentProviderSelection,
	BehaviorStripePayment,
	BehaviorInvoicePayment,
	BehaviorTaxCalculation,
}

// Kind returns the classification of t.
func (t BehaviorType) Kind() BehaviorKind {
	switch t {
	case BehaviorValidateRegistration, BehaviorDetectEmployerBilling, BehaviorCreateContact,
		BehaviorCreateTicket, BehaviorCreateTransaction, BehaviorGenerateInvoice,
		BehaviorSendConfirmationEmail, BehaviorCheckEventCapacity, BehaviorCalculatePricing,
		BehaviorCreateFormResponse, BehaviorUpdateStatistics, BehaviorSendAdminNotification,
		BehaviorConsolidatedInvoiceGen:
		return BehaviorKindServer
	case BehaviorEmployerDetection, BehaviorInvoiceMapping, BehaviorFormLinking,
		BehaviorAddonCalculation, BehaviorPaymentProviderSelection, BehaviorStripePayment,
		BehaviorInvoicePayment, BehaviorTaxCalculation:
		return BehaviorKindClient
	}
	return BehaviorKindUnknown
}

// Known reports whether t is a server or client behavior.
func (t BehaviorType) Known() bool {
	return t.Kind() != BehaviorKindUnknown
}

// BehaviorResult is the envelope every behavior execution produces.
type BehaviorResult struct {
	Success bool             `json:"success"`
	Data    map[string]any   `json:"data,omitempty"`
	Message string           `json:"message,omitempty"`
	Error   string           `json:"error,omitempty"`
	Actions []map[string]any `json:"actions,omitempty"`
}

// Skipped reports whether the behavior was skipped by its condition gate.
func (r BehaviorResult) Skipped() bool {
	v, _ := r.Data["skipped"].(bool)
	return v
}

// BehaviorSpec is the minimal shape the sequence runner needs per behavior.
type BehaviorSpec struct {
	ID       string         `json:"id,omitempty"`
	Type     string         `json:"type"`
	Config   map[string]any `json:"config,omitempty"`
	Priority int            `json:"priority"`
}

// BehaviorOutcome pairs a behavior with the result it produced.
type BehaviorOutcome struct {
	BehaviorID string         `json:"behaviorId,omitempty"`
	Type       string         `json:"type"`
	Priority   int            `json:"priority"`
	Result     BehaviorResult `json:"result"`
}

// SequenceResult is the outcome of running a list of behaviors.
type SequenceResult struct {
	Success       bool              `json:"success"`
	Results       []BehaviorOutcome `json:"results"`
	ExecutedCount int               `json:"executedCount"`
	TotalCount    int               `json:"totalCount"`
	ExecutionID   string            `json:"executionId,omitempty"`
}

// FailedBehaviors returns the types of behaviors that did not succeed.
func (r *SequenceResult) FailedBehaviors() []string {
	var failed []string
	for _, o := range r.Results {
		if !o.Result.Success {
			failed = append(failed, o.Type)
		}
	}
	return failed
}
