// Package ontology owns workflow definitions: CRUD with validation and
// permission checks, and the manual, event and schedule entry points that
// hand a workflow's behaviors to the sequence runner.
package ontology

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/rendis/flowkit/internal/auth"
	"github.com/rendis/flowkit/internal/engine"
	"github.com/rendis/flowkit/internal/store"
	"github.com/rendis/flowkit/internal/validation"
	"github.com/rendis/flowkit/pkg/schema"
)

// DefaultTriggerConcurrency bounds concurrent runs of one event fan-out.
const DefaultTriggerConcurrency = 4

// Config holds the collaborators of a Service.
type Config struct {
	Store      store.Store
	Authorizer auth.Authorizer
	Validator  validation.Validator
	Runner     engine.BehaviorRunner

	// Optional.
	Lifecycle          *engine.LifecycleFSM
	TriggerConcurrency int
	Logger             *slog.Logger
	Now                func() time.Time
}

// Service implements the workflow operations.
type Service struct {
	store     store.Store
	auth      auth.Authorizer
	validator validation.Validator
	runner    engine.BehaviorRunner
	lifecycle *engine.LifecycleFSM
	pool      *engine.WorkerPool
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a Service. Store, Authorizer, Validator and Runner are
// required.
func NewService(cfg Config) *Service {
	if cfg.Lifecycle == nil {
		cfg.Lifecycle = engine.NewLifecycleFSM()
	}
	if cfg.TriggerConcurrency <= 0 {
		cfg.TriggerConcurrency = DefaultTriggerConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		store:     cfg.Store,
		auth:      cfg.Authorizer,
		validator: cfg.Validator,
		runner:    cfg.Runner,
		lifecycle: cfg.Lifecycle,
		pool:      engine.NewWorkerPool(cfg.TriggerConcurrency),
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
}

// Close stops accepting triggered runs and waits for running ones.
func (s *Service) Close() {
	s.pool.Shutdown()
}

// authorize authenticates sessionID and checks permission in orgID. An
// empty orgID means the caller's own organization.
func (s *Service) authorize(ctx context.Context, sessionID, permission, orgID string) (*auth.Principal, string, error) {
	p, err := s.auth.RequireAuthenticatedUser(ctx, sessionID)
	if err != nil {
		return nil, "", err
	}
	if orgID == "" {
		orgID = p.OrganizationID
	}
	if err := s.auth.RequirePermission(ctx, p, permission, orgID); err != nil {
		return nil, "", err
	}
	return p, orgID, nil
}

// loadAuthorized loads a workflow and checks permission in its organization.
func (s *Service) loadAuthorized(ctx context.Context, sessionID, permission, workflowID string) (*auth.Principal, *schema.Workflow, error) {
	p, err := s.auth.RequireAuthenticatedUser(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return nil, nil, err
	}
	if err := s.auth.RequirePermission(ctx, p, permission, wf.OrganizationID); err != nil {
		return nil, nil, err
	}
	return p, wf, nil
}

// audit records an entry. Failures are logged and swallowed.
func (s *Service) audit(ctx context.Context, orgID, userID, action, workflowID string, success bool, details map[string]any) {
	entry := &store.AuditEntry{
		OrganizationID: orgID,
		UserID:         userID,
		Action:         action,
		ResourceType:   "workflow",
		ResourceID:     workflowID,
		Success:        success,
		Timestamp:      s.now().UTC(),
	}
	if len(details) > 0 {
		if raw, err := json.Marshal(details); err == nil {
			entry.Details = raw
		}
	}
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		s.logger.WarnContext(ctx, "audit entry dropped",
			slog.String("action", action),
			slog.String("workflow_id", workflowID),
			slog.String("error", err.Error()),
		)
	}
}
