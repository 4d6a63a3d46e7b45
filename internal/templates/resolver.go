// Package templates resolves which template set, and which individual
// template, applies to an organization given optional per-product,
// per-checkout and per-domain overrides.
package templates

import (
	"context"
	"strings"

	"github.com/rendis/flowkit/internal/store"
	"github.com/rendis/flowkit/pkg/schema"
)

// Object types and property names the resolver reads.
const (
	ObjectTypeTemplateSet      = "template_set"
	ObjectTypeProduct          = "product"
	ObjectTypeCheckoutInstance = "checkout_instance"
	ObjectTypeDomainConfig     = "domain_config"
	ObjectTypeOrganization     = "organization"

	PropTemplateSetID = "templateSetId"
	PropIsDefault     = "isDefault"
	PropSlug          = "slug"
	PropVersion       = "version"
	PropTemplates     = "templates"

	StatusDeleted = "deleted"

	DefaultSystemOrgSlug = "system"
)

// legacyFields maps version 1.0 property names to their template slot.
var legacyFields = []struct{ prop, slot string }{
	{"ticketTemplateId", schema.TemplateTypeTicket},
	{"invoiceTemplateId", schema.TemplateTypeInvoice},
	{"emailTemplateId", schema.TemplateTypeEmail},
}

// slotSources lists, per legacy slot, the version 2.0 template types that can
// fill it, in order of preference.
var slotSources = []struct {
	slot    string
	sources []string
}{
	{schema.TemplateTypeTicket, []string{"ticket", "event"}},
	{schema.TemplateTypeEmail, []string{"email", "invoice_email", "event"}},
	{schema.TemplateTypeInvoice, []string{"invoice"}},
}

// ResolveContext carries the optional overrides, in precedence order.
type ResolveContext struct {
	ManualSetID        string `json:"manualSetId,omitempty"`
	ProductID          string `json:"productId,omitempty"`
	CheckoutInstanceID string `json:"checkoutInstanceId,omitempty"`
	DomainConfigID     string `json:"domainConfigId,omitempty"`
}

// Resolver reads template sets from the object store. It holds no state
// beyond its collaborators, so equal inputs over unchanged data resolve
// to equal results.
type Resolver struct {
	objects       store.ObjectStore
	systemOrgSlug string
}

// NewResolver creates a Resolver. An empty systemOrgSlug selects "system".
func NewResolver(objects store.ObjectStore, systemOrgSlug string) *Resolver {
	if systemOrgSlug == "" {
		systemOrgSlug = DefaultSystemOrgSlug
	}
	return &Resolver{objects: objects, systemOrgSlug: systemOrgSlug}
}

// ResolveTemplateSet applies the precedence chain manual > product >
// checkout > domain > organization default > system default. It fails with
// CONFIGURATION_ERROR when nothing resolves.
func (r *Resolver) ResolveTemplateSet(ctx context.Context, organizationID string, rc ResolveContext) (*schema.ResolvedTemplateSet, error) {
	if rc.ManualSetID != "" {
		set, err := r.loadSet(ctx, rc.ManualSetID)
		if err != nil {
			return nil, err
		}
		if set != nil {
			return buildResolved(set, schema.TemplateSourceManual), nil
		}
	}

	overrides := []struct {
		objectID string
		source   schema.TemplateSource
	}{
		{rc.ProductID, schema.TemplateSourceProduct},
		{rc.CheckoutInstanceID, schema.TemplateSourceCheckout},
		{rc.DomainConfigID, schema.TemplateSourceDomain},
	}
	for _, o := range overrides {
		if o.objectID == "" {
			continue
		}
		set, err := r.linkedSet(ctx, o.objectID)
		if err != nil {
			return nil, err
		}
		if set != nil {
			return buildResolved(set, o.source), nil
		}
	}

	set, err := r.organizationDefault(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	if set != nil {
		return buildResolved(set, schema.TemplateSourceOrganization), nil
	}

	systemOrg, err := r.systemOrganization(ctx)
	if err != nil {
		return nil, err
	}
	if systemOrg != "" {
		set, err := r.organizationDefault(ctx, systemOrg)
		if err != nil {
			return nil, err
		}
		if set != nil {
			return buildResolved(set, schema.TemplateSourceSystem), nil
		}
	}

	return nil, schema.NewErrorf(schema.ErrCodeConfiguration,
		"no template set configured for organization %q and no system default available", organizationID).
		WithDetails(map[string]any{"organization_id": organizationID})
}

// ResolveIndividualTemplate resolves the set and returns the template id
// for templateType, falling back through the legacy slots.
func (r *Resolver) ResolveIndividualTemplate(ctx context.Context, organizationID, templateType string, rc ResolveContext) (string, error) {
	set, err := r.ResolveTemplateSet(ctx, organizationID, rc)
	if err != nil {
		return "", err
	}
	if id := Lookup(set, templateType); id != "" {
		return id, nil
	}
	return "", schema.NewErrorf(schema.ErrCodeNotFound,
		"template set %q has no %q template", set.SetID, templateType).
		WithDetails(map[string]any{"set_id": set.SetID, "template_type": templateType, "source": string(set.Source)})
}

// Lookup returns the template id for templateType in a resolved set, or "".
// A miss on the type itself falls back to the legacy slot it feeds.
func Lookup(set *schema.ResolvedTemplateSet, templateType string) string {
	if set == nil {
		return ""
	}
	if id := set.Templates[templateType]; id != "" {
		return id
	}
	for _, s := range slotSources {
		for _, src := range s.sources {
			if src == templateType {
				if id := set.Templates[s.slot]; id != "" {
					return id
				}
			}
		}
	}
	return ""
}

// loadSet returns the template set with the given id, or nil when it does
// not resolve: missing, not a template set, or deleted.
func (r *Resolver) loadSet(ctx context.Context, setID string) (*store.Object, error) {
	obj, err := r.objects.GetObject(ctx, setID)
	if schema.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "load template set %q", setID).WithCause(err)
	}
	if !isLiveSet(obj) {
		return nil, nil
	}
	return obj, nil
}

// linkedSet follows an override object's templateSetId.
func (r *Resolver) linkedSet(ctx context.Context, objectID string) (*store.Object, error) {
	obj, err := r.objects.GetObject(ctx, objectID)
	if schema.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "load object %q", objectID).WithCause(err)
	}
	setID := obj.StringProperty(PropTemplateSetID)
	if setID == "" {
		return nil, nil
	}
	return r.loadSet(ctx, setID)
}

// organizationDefault returns the explicit default set of the organization,
// else its oldest live set, else nil.
func (r *Resolver) organizationDefault(ctx context.Context, organizationID string) (*store.Object, error) {
	if organizationID == "" {
		return nil, nil
	}
	sets, err := r.objects.QueryObjects(ctx, store.ObjectFilter{
		OrganizationID: organizationID,
		Type:           ObjectTypeTemplateSet,
		ExcludeStatus:  StatusDeleted,
	})
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list template sets of %q", organizationID).WithCause(err)
	}
	for _, s := range sets {
		if isDefault, _ := s.Property(PropIsDefault).(bool); isDefault {
			return s, nil
		}
	}
	if len(sets) > 0 {
		return sets[0], nil
	}
	return nil, nil
}

func (r *Resolver) systemOrganization(ctx context.Context) (string, error) {
	orgs, err := r.objects.QueryObjects(ctx, store.ObjectFilter{
		Type:           ObjectTypeOrganization,
		PropertyEquals: map[string]any{PropSlug: r.systemOrgSlug},
		Limit:          1,
	})
	if err != nil {
		return "", schema.NewError(schema.ErrCodeStore, "find system organization").WithCause(err)
	}
	if len(orgs) == 0 {
		return "", nil
	}
	return orgs[0].ID, nil
}

func isLiveSet(obj *store.Object) bool {
	return obj != nil && obj.Type == ObjectTypeTemplateSet && obj.Status != StatusDeleted
}

// buildResolved flattens a stored set into the resolved shape. Version 2.0
// sets map every entry by type and then fill the legacy slots.
func buildResolved(obj *store.Object, source schema.TemplateSource) *schema.ResolvedTemplateSet {
	refs := templateRefs(obj.Property(PropTemplates))
	version := strings.TrimSpace(obj.StringProperty(PropVersion))
	if version == "" {
		version = schema.TemplateSetV1
		if len(refs) > 0 {
			version = schema.TemplateSetV2
		}
	}

	templates := make(map[string]string)
	if version == schema.TemplateSetV2 {
		for _, ref := range refs {
			if ref.TemplateType == "" || ref.TemplateID == "" {
				continue
			}
			if _, seen := templates[ref.TemplateType]; !seen {
				templates[ref.TemplateType] = ref.TemplateID
			}
		}
	}
	for _, f := range legacyFields {
		if id := obj.StringProperty(f.prop); id != "" {
			if _, set := templates[f.slot]; !set {
				templates[f.slot] = id
			}
		}
	}
	if version == schema.TemplateSetV2 {
		for _, s := range slotSources {
			if templates[s.slot] != "" {
				continue
			}
			for _, src := range s.sources {
				if id := templates[src]; id != "" {
					templates[s.slot] = id
					break
				}
			}
		}
	}

	return &schema.ResolvedTemplateSet{
		SetID:     obj.ID,
		SetName:   obj.Name,
		Version:   version,
		Templates: templates,
		Source:    source,
	}
}

// templateRefs decodes the loosely typed "templates" property.
func templateRefs(v any) []schema.TemplateRef {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	refs := make([]schema.TemplateRef, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		id, _ := m["templateId"].(string)
		typ, _ := m["templateType"].(string)
		refs = append(refs, schema.TemplateRef{TemplateID: id, TemplateType: typ})
	}
	return refs
}
