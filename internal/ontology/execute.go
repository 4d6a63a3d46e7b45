package ontology

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/rendis/flowkit/internal/engine"
	"github.com/rendis/flowkit/internal/logging"
	"github.com/rendis/flowkit/pkg/schema"
)

// Actor types recorded in the execution context.
const (
	ActorUser   = "user"
	ActorSystem = "system"
)

// ExecuteResult is the outcome of triggering one workflow. Run failures
// are reported here rather than as errors.
type ExecuteResult struct {
	WorkflowID   string                 `json:"workflowId"`
	WorkflowName string                 `json:"workflowName,omitempty"`
	Success      bool                   `json:"success"`
	Result       *schema.SequenceResult `json:"result,omitempty"`
	Error        string                 `json:"error,omitempty"`
	ErrorCode    string                 `json:"errorCode,omitempty"`
}

// trigger describes who or what started a run.
type trigger struct {
	sessionID   string
	actorType   string
	actorID     string
	manual      bool
	event       string
	auditAction string
}

// ExecuteWorkflow runs a workflow on behalf of the session's user. Only
// authentication failures are returned as errors. Everything after that,
// including a denied permission or a panic, becomes a failed result with
// a failure audit entry.
func (s *Service) ExecuteWorkflow(ctx context.Context, sessionID, workflowID string, overrides map[string]any) (*ExecuteResult, error) {
	p, err := s.auth.RequireAuthenticatedUser(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	res := s.guard(ctx, workflowID, p.OrganizationID, p.UserID, schema.AuditExecuteWorkflow, func() *ExecuteResult {
		wf, err := s.store.GetWorkflow(ctx, workflowID)
		if err != nil {
			return failed(workflowID, err)
		}
		if err := s.auth.RequirePermission(ctx, p, schema.PermissionExecuteWorkflows, wf.OrganizationID); err != nil {
			return failed(workflowID, err)
		}
		return s.run(ctx, wf, overrides, trigger{
			sessionID:   sessionID,
			actorType:   ActorUser,
			actorID:     p.UserID,
			manual:      true,
			auditAction: schema.AuditExecuteWorkflow,
		})
	})
	return res, nil
}

// TriggerEvent runs every active workflow of orgID whose triggerOn equals
// event, at most TriggerConcurrency at a time. Results follow the order
// the store lists the workflows in.
func (s *Service) TriggerEvent(ctx context.Context, orgID, event string, payload map[string]any) ([]*ExecuteResult, error) {
	workflows, err := s.GetWorkflowsByTriggerPublic(ctx, orgID, event)
	if err != nil {
		return nil, err
	}

	results, errs := engine.Map(ctx, s.pool, len(workflows), func(ctx context.Context, i int) *ExecuteResult {
		wf := workflows[i]
		return s.guard(ctx, wf.ID, wf.OrganizationID, "", schema.AuditTriggerWorkflow, func() *ExecuteResult {
			return s.run(ctx, wf, payload, trigger{
				actorType:   ActorSystem,
				actorID:     "event:" + event,
				event:       event,
				auditAction: schema.AuditTriggerWorkflow,
			})
		})
	})
	for i, err := range errs {
		if err != nil {
			results[i] = failed(workflows[i].ID, err)
		}
	}
	return results, nil
}

// TriggerScheduled runs one schedule-triggered workflow. The workflow must
// be active and declare the schedule trigger.
func (s *Service) TriggerScheduled(ctx context.Context, workflowID string) (*ExecuteResult, error) {
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	if wf.Status != schema.WorkflowStatusActive || wf.Execution.TriggerOn != schema.TriggerSchedule {
		return nil, schema.NewErrorf(schema.ErrCodeConflict,
			"workflow %q is not an active scheduled workflow", workflowID)
	}
	return s.guard(ctx, wf.ID, wf.OrganizationID, "", schema.AuditTriggerWorkflow, func() *ExecuteResult {
		return s.run(ctx, wf, nil, trigger{
			actorType:   ActorSystem,
			actorID:     "scheduler",
			event:       schema.TriggerSchedule,
			auditAction: schema.AuditTriggerWorkflow,
		})
	}), nil
}

// guard converts panics and pre-run failures into a failed result with a
// failure audit entry. fn audits successful runs itself.
func (s *Service) guard(ctx context.Context, workflowID, orgID, userID, action string, fn func() *ExecuteResult) (res *ExecuteResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "workflow run panicked",
				slog.String("workflow_id", workflowID),
				slog.Any("panic", r),
			)
			res = failed(workflowID, fmt.Errorf("workflow run panicked: %v", r))
		}
		if res.Result == nil {
			s.audit(ctx, orgID, userID, action, workflowID, false, map[string]any{"error": res.Error})
		}
	}()
	return fn()
}

// run builds the execution context, runs the enabled behaviors and audits
// the outcome.
func (s *Service) run(ctx context.Context, wf *schema.Workflow, overrides map[string]any, t trigger) *ExecuteResult {
	ctx = logging.WithWorkflowID(logging.WithOrganizationID(ctx, wf.OrganizationID), wf.ID)
	if wf.Status == schema.WorkflowStatusArchived {
		return failed(wf.ID, schema.NewErrorf(schema.ErrCodeConflict, "workflow %q is archived", wf.ID))
	}

	specs := make([]schema.BehaviorSpec, 0, len(wf.Behaviors))
	for _, b := range wf.Behaviors {
		if !b.Enabled {
			continue
		}
		specs = append(specs, schema.BehaviorSpec{ID: b.ID, Type: b.Type, Config: b.Config, Priority: b.Priority})
	}

	seq := s.runner.ExecuteBehaviors(ctx, engine.SequenceRequest{
		OrganizationID:  wf.OrganizationID,
		SessionID:       t.sessionID,
		Behaviors:       specs,
		Context:         s.buildContext(wf, overrides, t),
		ContinueOnError: wf.Execution.ErrorHandling.ContinueOnError(),
		WorkflowID:      wf.ID,
		WorkflowName:    wf.Name,
	})

	res := &ExecuteResult{
		WorkflowID:   wf.ID,
		WorkflowName: wf.Name,
		Success:      seq.Success,
		Result:       seq,
	}
	if !seq.Success {
		res.Error = fmt.Sprintf("%d of %d behaviors executed; failed: %s",
			seq.ExecutedCount, seq.TotalCount, strings.Join(seq.FailedBehaviors(), ", "))
		if len(seq.FailedBehaviors()) == 0 {
			res.Error = fmt.Sprintf("%d of %d behaviors executed; run cancelled", seq.ExecutedCount, seq.TotalCount)
		}
	}

	userID := ""
	if t.actorType == ActorUser {
		userID = t.actorID
	}
	s.audit(ctx, wf.OrganizationID, userID, t.auditAction, wf.ID, seq.Success, map[string]any{
		"executedCount":   seq.ExecutedCount,
		"totalCount":      seq.TotalCount,
		"failedBehaviors": seq.FailedBehaviors(),
		"executionId":     seq.ExecutionID,
		"trigger":         triggerName(t),
	})
	return res
}

func (s *Service) buildContext(wf *schema.Workflow, overrides map[string]any, t trigger) map[string]any {
	objects := make([]any, 0, len(wf.Objects))
	for _, o := range wf.Objects {
		ref := map[string]any{"objectId": o.ObjectID, "objectType": o.ObjectType}
		if o.Role != "" {
			ref["role"] = o.Role
		}
		if o.Config != nil {
			ref["config"] = o.Config
		}
		objects = append(objects, ref)
	}
	if overrides == nil {
		overrides = map[string]any{}
	}

	metadata := map[string]any{
		"manualTrigger": t.manual,
		"triggeredAt":   s.now().UTC().Format(time.RFC3339),
		"triggeredBy":   t.actorID,
	}
	if t.event != "" {
		metadata["event"] = t.event
	}

	c := map[string]any{
		"organizationId": wf.OrganizationID,
		"workflow":       ShortName(wf.Name),
		"objects":        objects,
		"actor":          map[string]any{"type": t.actorType, "id": t.actorID},
		"workflowData":   overrides,
		"metadata":       metadata,
	}
	if t.sessionID != "" {
		c["sessionId"] = t.sessionID
	}
	return c
}

// ShortName derives a workflow's context name: lowercase, runs of
// non-alphanumerics collapsed to "-", trimmed.
func ShortName(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

func triggerName(t trigger) string {
	if t.manual {
		return "manual"
	}
	return t.event
}

func failed(workflowID string, err error) *ExecuteResult {
	return &ExecuteResult{
		WorkflowID: workflowID,
		Success:    false,
		Error:      err.Error(),
		ErrorCode:  schema.CodeOf(err),
	}
}
