package store

import (
	"context"
	"encoding/json"

	"github.com/rendis/flowkit/pkg/schema"
)

// Store defines the persistence collaborator the engine consumes.
// All implementations must be safe for concurrent use.
type Store interface {
	ObjectStore

	// Workflows
	CreateWorkflow(ctx context.Context, wf *schema.Workflow) error
	GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error)
	UpdateWorkflow(ctx context.Context, wf *schema.Workflow) error
	ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	// Execution logs (lines are append-only)
	ExecutionLogStore

	// Audit
	AppendAudit(ctx context.Context, entry *AuditEntry) error
	ListAudit(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error)

	// Sessions and grants
	CreateSession(ctx context.Context, sess *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	GrantRole(ctx context.Context, userID, organizationID, role string) error
	GetUserRole(ctx context.Context, userID, organizationID string) (string, error)
	SetRolePermissions(ctx context.Context, role string, permissions []string) error
	ListRolePermissions(ctx context.Context, role string) ([]string, error)

	// Scheduled jobs
	UpsertScheduledJob(ctx context.Context, job *ScheduledJob) error
	GetScheduledJob(ctx context.Context, workflowID string) (*ScheduledJob, error)
	UpdateScheduledJob(ctx context.Context, workflowID string, update ScheduledJobUpdate) error
	ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error)
	DeleteScheduledJob(ctx context.Context, workflowID string) error

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}

// ObjectStore is the generic document store: get/insert/patch/delete by id
// and indexed queries by (organization, type).
type ObjectStore interface {
	InsertObject(ctx context.Context, obj *Object) error
	GetObject(ctx context.Context, id string) (*Object, error)
	PatchObject(ctx context.Context, id string, patch ObjectPatch) error
	IncrementCounters(ctx context.Context, id, property string, deltas map[string]float64) (map[string]any, error)
	DeleteObject(ctx context.Context, id string) error
	QueryObjects(ctx context.Context, filter ObjectFilter) ([]*Object, error)
}

// ExecutionLogStore persists execution logs.
type ExecutionLogStore interface {
	CreateExecutionLog(ctx context.Context, log *ExecutionLog) error
	AppendExecutionLine(ctx context.Context, executionID string, line *LogLine) error
	CompleteExecutionLog(ctx context.Context, executionID string, status schema.ExecutionStatus, result json.RawMessage) error
	GetExecutionLog(ctx context.Context, id string) (*ExecutionLog, error)
	ListExecutionLogs(ctx context.Context, filter ExecutionLogFilter) ([]*ExecutionLog, error)
}
