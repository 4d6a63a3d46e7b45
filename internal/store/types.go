package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/flowkit/pkg/schema"
)

// Object is a document in the generic object store.
type Object struct {
	ID               string         `json:"id"`
	OrganizationID   string         `json:"organizationId"`
	Type             string         `json:"type"`
	Subtype          string         `json:"subtype,omitempty"`
	Name             string         `json:"name,omitempty"`
	Status           string         `json:"status,omitempty"`
	CustomProperties map[string]any `json:"customProperties,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// Property returns a custom property, or nil.
func (o *Object) Property(key string) any {
	if o == nil || o.CustomProperties == nil {
		return nil
	}
	return o.CustomProperties[key]
}

// StringProperty returns a custom property as a string, or "".
func (o *Object) StringProperty(key string) string {
	s, _ := o.Property(key).(string)
	return s
}

// ObjectPatch specifies mutable fields of an object. CustomProperties are
// merged key by key into the stored map; a nil value removes the key.
type ObjectPatch struct {
	Name             *string        `json:"name,omitempty"`
	Subtype          *string        `json:"subtype,omitempty"`
	Status           *string        `json:"status,omitempty"`
	CustomProperties map[string]any `json:"customProperties,omitempty"`
}

// ObjectFilter specifies criteria for querying objects.
type ObjectFilter struct {
	OrganizationID string         `json:"organizationId,omitempty"`
	Type           string         `json:"type,omitempty"`
	Subtype        string         `json:"subtype,omitempty"`
	Status         string         `json:"status,omitempty"`
	ExcludeStatus  string         `json:"excludeStatus,omitempty"`
	PropertyEquals map[string]any `json:"propertyEquals,omitempty"`
	Limit          int            `json:"limit,omitempty"`
}

// ExecutionLog is the record of one sequence-runner invocation.
type ExecutionLog struct {
	ID             string                 `json:"id"`
	WorkflowID     string                 `json:"workflowId"`
	WorkflowName   string                 `json:"workflowName"`
	OrganizationID string                 `json:"organizationId"`
	Status         schema.ExecutionStatus `json:"status"`
	Lines          []*LogLine             `json:"lines,omitempty"`
	Result         json.RawMessage        `json:"result,omitempty"`
	StartedAt      time.Time              `json:"startedAt"`
	CompletedAt    *time.Time             `json:"completedAt,omitempty"`
}

// LogLine is one human-readable entry of an execution log.
type LogLine struct {
	Sequence     int64           `json:"sequence"`
	Level        schema.LogLevel `json:"level"`
	Message      string          `json:"message"`
	BehaviorType string          `json:"behaviorType,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// AuditEntry is an immutable record of a workflow-level action.
type AuditEntry struct {
	ID             int64           `json:"id"`
	OrganizationID string          `json:"organizationId"`
	UserID         string          `json:"userId,omitempty"`
	Action         string          `json:"action"`
	ResourceType   string          `json:"resourceType"`
	ResourceID     string          `json:"resourceId,omitempty"`
	Success        bool            `json:"success"`
	Details        json.RawMessage `json:"details,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// Session binds an opaque session token to a user within an organization.
type Session struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	OrganizationID string    `json:"organizationId"`
	ExpiresAt      time.Time `json:"expiresAt"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ScheduledJob tracks the cron state of a schedule-triggered workflow.
type ScheduledJob struct {
	WorkflowID     string     `json:"workflowId"`
	OrganizationID string     `json:"organizationId"`
	CronExpression string     `json:"cronExpression"`
	Enabled        bool       `json:"enabled"`
	LastRunAt      *time.Time `json:"lastRunAt,omitempty"`
	NextRunAt      *time.Time `json:"nextRunAt,omitempty"`
	LastRunStatus  string     `json:"lastRunStatus,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// --- Filter and update types ---

// WorkflowFilter specifies criteria for listing workflows.
type WorkflowFilter struct {
	OrganizationID string                 `json:"organizationId,omitempty"`
	Status         *schema.WorkflowStatus `json:"status,omitempty"`
	TriggerOn      string                 `json:"triggerOn,omitempty"`
	Limit          int                    `json:"limit,omitempty"`
	Offset         int                    `json:"offset,omitempty"`
}

// ExecutionLogFilter specifies criteria for listing execution logs.
type ExecutionLogFilter struct {
	WorkflowID     string                  `json:"workflowId,omitempty"`
	OrganizationID string                  `json:"organizationId,omitempty"`
	Status         *schema.ExecutionStatus `json:"status,omitempty"`
	Limit          int                     `json:"limit,omitempty"`
}

// AuditFilter specifies criteria for listing audit entries.
type AuditFilter struct {
	OrganizationID string `json:"organizationId,omitempty"`
	ResourceID     string `json:"resourceId,omitempty"`
	Action         string `json:"action,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

// ScheduledJobUpdate specifies mutable fields of a scheduled job.
type ScheduledJobUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"lastRunAt,omitempty"`
	NextRunAt     *time.Time `json:"nextRunAt,omitempty"`
	LastRunStatus string     `json:"lastRunStatus,omitempty"`
}

// ScheduledJobFilter specifies criteria for listing scheduled jobs.
type ScheduledJobFilter struct {
	Enabled        *bool  `json:"enabled,omitempty"`
	OrganizationID string `json:"organizationId,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}
