package ontology

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/rendis/flowkit/internal/store"
	"github.com/rendis/flowkit/pkg/schema"
)

// BehaviorInput is a behavior as supplied by a caller. Enabled defaults to
// true. An ID matching an existing behavior preserves its creation
// metadata on update.
type BehaviorInput struct {
	ID       string                   `json:"id,omitempty"`
	Type     string                   `json:"type"`
	Enabled  *bool                    `json:"enabled,omitempty"`
	Priority int                      `json:"priority"`
	Config   map[string]any           `json:"config,omitempty"`
	Triggers *schema.BehaviorTriggers `json:"triggers,omitempty"`
}

// CreateInput describes a new workflow. OrganizationID defaults to the
// caller's organization.
type CreateInput struct {
	OrganizationID string                 `json:"organizationId,omitempty"`
	Name           string                 `json:"name"`
	Description    string                 `json:"description,omitempty"`
	Status         schema.WorkflowStatus  `json:"status,omitempty"`
	Objects        []schema.ObjectRef     `json:"objects,omitempty"`
	Behaviors      []BehaviorInput        `json:"behaviors,omitempty"`
	Execution      schema.ExecutionPolicy `json:"execution"`
	VisualData     *schema.VisualData     `json:"visualData,omitempty"`
}

// UpdateInput is a partial update. Nil fields are left unchanged.
type UpdateInput struct {
	Name        *string                 `json:"name,omitempty"`
	Description *string                 `json:"description,omitempty"`
	Status      *schema.WorkflowStatus  `json:"status,omitempty"`
	Objects     *[]schema.ObjectRef     `json:"objects,omitempty"`
	Behaviors   *[]BehaviorInput        `json:"behaviors,omitempty"`
	Execution   *schema.ExecutionPolicy `json:"execution,omitempty"`
	VisualData  *schema.VisualData      `json:"visualData,omitempty"`
}

// ListFilter narrows ListWorkflows.
type ListFilter struct {
	Status    *schema.WorkflowStatus `json:"status,omitempty"`
	TriggerOn string                 `json:"triggerOn,omitempty"`
}

// CreateWorkflow validates and persists a new workflow. Every invalid
// object reference and behavior config is reported in one error, and
// nothing is written when validation fails.
func (s *Service) CreateWorkflow(ctx context.Context, sessionID string, in CreateInput) (*schema.Workflow, error) {
	p, orgID, err := s.authorize(ctx, sessionID, schema.PermissionManageWorkflows, in.OrganizationID)
	if err != nil {
		return nil, err
	}

	if in.Status == "" {
		in.Status = schema.WorkflowStatusDraft
	}
	result := &schema.ValidationResult{}
	if strings.TrimSpace(in.Name) == "" {
		result.AddError("name", "is required")
	}
	if !in.Status.Valid() {
		result.AddError("status", fmt.Sprintf("unknown status %q", in.Status))
	}
	result.Merge(s.validateObjects(ctx, in.Objects))
	result.Merge(s.validateBehaviors(in.Behaviors))
	result.Merge(validatePolicy(in.Execution))
	if err := result.ToError("workflow validation failed"); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	wf := &schema.Workflow{
		ID:             uuid.New().String(),
		OrganizationID: orgID,
		Name:           strings.TrimSpace(in.Name),
		Description:    in.Description,
		Status:         in.Status,
		Objects:        in.Objects,
		Behaviors:      s.mergeBehaviors(nil, in.Behaviors, p.UserID, now),
		Execution:      in.Execution,
		VisualData:     in.VisualData,
		CreatedBy:      p.UserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "create workflow").WithCause(err)
	}

	details := map[string]any{
		"name":          wf.Name,
		"behaviorCount": len(wf.Behaviors),
	}
	if unchecked := s.unvalidated(ctx, wf.ID, in.Behaviors); len(unchecked) > 0 {
		details["unvalidated"] = unchecked
	}
	s.audit(ctx, orgID, p.UserID, schema.AuditCreateWorkflow, wf.ID, true, details)
	return wf, nil
}

// UpdateWorkflow applies a partial update. Only supplied fields are
// validated. Status changes must be allowed lifecycle transitions.
func (s *Service) UpdateWorkflow(ctx context.Context, sessionID, workflowID string, in UpdateInput) (*schema.Workflow, error) {
	p, wf, err := s.loadAuthorized(ctx, sessionID, schema.PermissionManageWorkflows, workflowID)
	if err != nil {
		return nil, err
	}

	result := &schema.ValidationResult{}
	if in.Name != nil && strings.TrimSpace(*in.Name) == "" {
		result.AddError("name", "must not be empty")
	}
	if in.Objects != nil {
		result.Merge(s.validateObjects(ctx, *in.Objects))
	}
	if in.Behaviors != nil {
		result.Merge(s.validateBehaviors(*in.Behaviors))
	}
	if in.Execution != nil {
		result.Merge(validatePolicy(*in.Execution))
	}
	if err := result.ToError("workflow validation failed"); err != nil {
		return nil, err
	}

	if in.Status != nil {
		if err := s.lifecycle.Transition(ctx, wf.ID, wf.Status, *in.Status); err != nil {
			return nil, err
		}
		wf.Status = *in.Status
	}

	now := s.now().UTC()
	var changed []string
	if in.Name != nil {
		wf.Name = strings.TrimSpace(*in.Name)
		changed = append(changed, "name")
	}
	if in.Description != nil {
		wf.Description = *in.Description
		changed = append(changed, "description")
	}
	if in.Objects != nil {
		wf.Objects = *in.Objects
		changed = append(changed, "objects")
	}
	if in.Behaviors != nil {
		wf.Behaviors = s.mergeBehaviors(wf.Behaviors, *in.Behaviors, p.UserID, now)
		changed = append(changed, "behaviors")
	}
	if in.Execution != nil {
		wf.Execution = *in.Execution
		changed = append(changed, "execution")
	}
	if in.VisualData != nil {
		wf.VisualData = in.VisualData
		changed = append(changed, "visualData")
	}
	if in.Status != nil {
		changed = append(changed, "status")
	}
	wf.UpdatedAt = now

	if err := s.store.UpdateWorkflow(ctx, wf); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "update workflow").WithCause(err)
	}
	details := map[string]any{"fields": changed}
	if in.Behaviors != nil {
		if unchecked := s.unvalidated(ctx, wf.ID, *in.Behaviors); len(unchecked) > 0 {
			details["unvalidated"] = unchecked
		}
	}
	s.audit(ctx, wf.OrganizationID, p.UserID, schema.AuditUpdateWorkflow, wf.ID, true, details)
	return wf, nil
}

// DeleteWorkflow archives a workflow, or removes it permanently when hard
// is set.
func (s *Service) DeleteWorkflow(ctx context.Context, sessionID, workflowID string, hard bool) error {
	p, wf, err := s.loadAuthorized(ctx, sessionID, schema.PermissionManageWorkflows, workflowID)
	if err != nil {
		return err
	}

	if hard {
		if err := s.store.DeleteWorkflow(ctx, wf.ID); err != nil {
			return schema.NewError(schema.ErrCodeStore, "delete workflow").WithCause(err)
		}
		if err := s.store.DeleteScheduledJob(ctx, wf.ID); err != nil && !schema.IsNotFound(err) {
			s.logger.WarnContext(ctx, "scheduled job not removed", "workflow_id", wf.ID, "error", err.Error())
		}
		s.audit(ctx, wf.OrganizationID, p.UserID, schema.AuditDeleteWorkflow, wf.ID, true, map[string]any{"name": wf.Name})
		return nil
	}

	if err := s.lifecycle.Transition(ctx, wf.ID, wf.Status, schema.WorkflowStatusArchived); err != nil {
		return err
	}
	wf.Status = schema.WorkflowStatusArchived
	wf.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateWorkflow(ctx, wf); err != nil {
		return schema.NewError(schema.ErrCodeStore, "archive workflow").WithCause(err)
	}
	s.audit(ctx, wf.OrganizationID, p.UserID, schema.AuditArchiveWorkflow, wf.ID, true, nil)
	return nil
}

// DuplicateWorkflow clones a workflow as a draft with fresh behavior ids.
// An empty newName yields "<name> (Copy)".
func (s *Service) DuplicateWorkflow(ctx context.Context, sessionID, workflowID, newName string) (*schema.Workflow, error) {
	p, src, err := s.loadAuthorized(ctx, sessionID, schema.PermissionManageWorkflows, workflowID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(newName) == "" {
		newName = src.Name + " (Copy)"
	}

	now := s.now().UTC()
	behaviors := make([]schema.BehaviorDefinition, len(src.Behaviors))
	for i, b := range src.Behaviors {
		b.ID = uuid.New().String()
		b.Config = maps.Clone(b.Config)
		b.Metadata = schema.BehaviorMetadata{CreatedAt: now, CreatedBy: p.UserID}
		behaviors[i] = b
	}

	dup := &schema.Workflow{
		ID:             uuid.New().String(),
		OrganizationID: src.OrganizationID,
		Name:           strings.TrimSpace(newName),
		Description:    src.Description,
		Status:         schema.WorkflowStatusDraft,
		Objects:        append([]schema.ObjectRef(nil), src.Objects...),
		Behaviors:      behaviors,
		Execution:      src.Execution,
		VisualData:     src.VisualData,
		CreatedBy:      p.UserID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateWorkflow(ctx, dup); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "duplicate workflow").WithCause(err)
	}
	s.audit(ctx, dup.OrganizationID, p.UserID, schema.AuditDuplicateWorkflow, dup.ID, true, map[string]any{
		"sourceWorkflowId": src.ID,
	})
	return dup, nil
}

// GetWorkflow returns a workflow the caller may view.
func (s *Service) GetWorkflow(ctx context.Context, sessionID, workflowID string) (*schema.Workflow, error) {
	_, wf, err := s.loadAuthorized(ctx, sessionID, schema.PermissionViewWorkflows, workflowID)
	return wf, err
}

// ListWorkflows lists an organization's workflows. An empty orgID means
// the caller's organization.
func (s *Service) ListWorkflows(ctx context.Context, sessionID, orgID string, filter ListFilter) ([]*schema.Workflow, error) {
	_, orgID, err := s.authorize(ctx, sessionID, schema.PermissionViewWorkflows, orgID)
	if err != nil {
		return nil, err
	}
	return s.store.ListWorkflows(ctx, store.WorkflowFilter{
		OrganizationID: orgID,
		Status:         filter.Status,
		TriggerOn:      filter.TriggerOn,
	})
}

// GetWorkflowsByTrigger lists the active workflows of orgID fired by
// trigger. Any authenticated caller may ask.
func (s *Service) GetWorkflowsByTrigger(ctx context.Context, sessionID, orgID, trigger string) ([]*schema.Workflow, error) {
	p, err := s.auth.RequireAuthenticatedUser(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if orgID == "" {
		orgID = p.OrganizationID
	}
	return s.GetWorkflowsByTriggerPublic(ctx, orgID, trigger)
}

// GetWorkflowsByTriggerPublic is GetWorkflowsByTrigger without a session,
// for public checkout flows.
func (s *Service) GetWorkflowsByTriggerPublic(ctx context.Context, orgID, trigger string) ([]*schema.Workflow, error) {
	if orgID == "" || trigger == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "organization id and trigger are required")
	}
	active := schema.WorkflowStatusActive
	return s.store.ListWorkflows(ctx, store.WorkflowFilter{
		OrganizationID: orgID,
		Status:         &active,
		TriggerOn:      trigger,
	})
}

// --- validation ---

func (s *Service) validateObjects(ctx context.Context, refs []schema.ObjectRef) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	for i, ref := range refs {
		field := fmt.Sprintf("objects[%d]", i)
		if ref.ObjectID == "" {
			result.AddError(field+".objectId", "is required")
			continue
		}
		obj, err := s.store.GetObject(ctx, ref.ObjectID)
		switch {
		case schema.IsNotFound(err):
			result.AddError(field, fmt.Sprintf("object %q does not exist", ref.ObjectID))
		case err != nil:
			result.AddError(field, fmt.Sprintf("object %q could not be loaded: %s", ref.ObjectID, err.Error()))
		case ref.ObjectType != "" && obj.Type != ref.ObjectType:
			result.AddError(field, fmt.Sprintf("object %q has type %q, expected %q", ref.ObjectID, obj.Type, ref.ObjectType))
		}
	}
	return result
}

func (s *Service) validateBehaviors(in []BehaviorInput) *schema.ValidationResult {
	defs := make([]schema.BehaviorDefinition, len(in))
	for i, b := range in {
		defs[i] = schema.BehaviorDefinition{Type: b.Type, Config: b.Config, Priority: b.Priority}
	}
	return s.validator.ValidateBehaviors(defs)
}

// unvalidated lists the distinct behavior types stored without a config
// check so operators can find them in the audit trail.
func (s *Service) unvalidated(ctx context.Context, workflowID string, in []BehaviorInput) []string {
	var out []string
	seen := make(map[string]bool)
	for _, b := range in {
		if seen[b.Type] || !s.validator.Unvalidated(b.Type) {
			continue
		}
		seen[b.Type] = true
		out = append(out, b.Type)
	}
	if len(out) > 0 {
		s.logger.WarnContext(ctx, "workflow stores behaviors without config validation",
			slog.String("workflow_id", workflowID),
			slog.Any("behavior_types", out),
		)
	}
	return out
}

func validatePolicy(p schema.ExecutionPolicy) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if p.ErrorHandling != "" && !p.ErrorHandling.Valid() {
		result.AddError("execution.errorHandling", fmt.Sprintf("unknown policy %q", p.ErrorHandling))
	}
	if p.TriggerOn == schema.TriggerSchedule {
		if p.Schedule == "" {
			result.AddError("execution.schedule", "is required when triggerOn is \"schedule\"")
		} else if _, err := cron.ParseStandard(p.Schedule); err != nil {
			result.AddError("execution.schedule", "invalid cron expression: "+err.Error())
		}
	}
	return result
}

// mergeBehaviors turns caller input into stored behaviors. The first input
// whose id matches an existing behavior keeps its creation metadata; all
// others, repeated ids included, are new.
func (s *Service) mergeBehaviors(existing []schema.BehaviorDefinition, in []BehaviorInput, userID string, now time.Time) []schema.BehaviorDefinition {
	byID := make(map[string]schema.BehaviorDefinition, len(existing))
	for _, b := range existing {
		byID[b.ID] = b
	}

	used := make(map[string]struct{}, len(in))
	out := make([]schema.BehaviorDefinition, 0, len(in))
	for _, b := range in {
		def := schema.BehaviorDefinition{
			ID:       b.ID,
			Type:     b.Type,
			Enabled:  b.Enabled == nil || *b.Enabled,
			Priority: b.Priority,
			Config:   b.Config,
			Triggers: b.Triggers,
		}
		_, taken := used[b.ID]
		if prev, ok := byID[b.ID]; ok && b.ID != "" && !taken {
			modified := now
			def.Metadata = schema.BehaviorMetadata{
				CreatedAt:      prev.Metadata.CreatedAt,
				CreatedBy:      prev.Metadata.CreatedBy,
				LastModified:   &modified,
				LastModifiedBy: userID,
			}
		} else {
			def.ID = uuid.New().String()
			def.Metadata = schema.BehaviorMetadata{CreatedAt: now, CreatedBy: userID}
		}
		used[def.ID] = struct{}{}
		out = append(out, def)
	}
	return out
}
