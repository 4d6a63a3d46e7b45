package schema

// TemplateSource names the precedence level that produced a resolved set.
type TemplateSource string

const (
	TemplateSourceManual       TemplateSource = "manual"
	TemplateSourceProduct      TemplateSource = "product"
	TemplateSourceCheckout     TemplateSource = "checkout"
	TemplateSourceDomain       TemplateSource = "domain"
	TemplateSourceOrganization TemplateSource = "organization"
	TemplateSourceSystem       TemplateSource = "system"
)

// Template set versions.
const (
	TemplateSetV1 = "1.0"
	TemplateSetV2 = "2.0"
)

// Legacy template slots carried by every version 1.0 set.
const (
	TemplateTypeTicket  = "ticket"
	TemplateTypeInvoice = "invoice"
	TemplateTypeEmail   = "email"
)

// ResolvedTemplateSet is the value produced by template-set resolution.
// It is never persisted.
type ResolvedTemplateSet struct {
	SetID     string            `json:"setId"`
	SetName   string            `json:"setName"`
	Version   string            `json:"version"`
	Templates map[string]string `json:"templates"` // templateType -> templateId
	Source    TemplateSource    `json:"source"`
}

// TemplateRef is one entry of a version 2.0 template set.
type TemplateRef struct {
	TemplateID   string `json:"templateId"`
	TemplateType string `json:"templateType"`
}
