package schema

import "time"

// Workflow is a persisted automation definition owned by an organization.
// Behaviors run in priority order against a shared execution context.
type Workflow struct {
	ID             string               `json:"id"`
	OrganizationID string               `json:"organizationId"`
	Name           string               `json:"name"`
	Description    string               `json:"description,omitempty"`
	Status         WorkflowStatus       `json:"status"`
	Objects        []ObjectRef          `json:"objects"`
	Behaviors      []BehaviorDefinition `json:"behaviors"`
	Execution      ExecutionPolicy      `json:"execution"`
	VisualData     *VisualData          `json:"visualData,omitempty"`
	CreatedBy      string               `json:"createdBy,omitempty"`
	CreatedAt      time.Time            `json:"createdAt"`
	UpdatedAt      time.Time            `json:"updatedAt"`
}

// WorkflowStatus is the lifecycle state of a workflow definition.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"
	WorkflowStatusActive   WorkflowStatus = "active"
	WorkflowStatusArchived WorkflowStatus = "archived"
)

// Valid reports whether s is a known lifecycle state.
func (s WorkflowStatus) Valid() bool {
	switch s {
	case WorkflowStatusDraft, WorkflowStatusActive, WorkflowStatusArchived:
		return true
	}
	return false
}

// ObjectRef points at an externally owned entity the workflow orchestrates.
type ObjectRef struct {
	ObjectID   string         `json:"objectId"`
	ObjectType string         `json:"objectType"`
	Role       string         `json:"role,omitempty"` // primary, payment-processor, ...
	Config     map[string]any `json:"config,omitempty"`
}

// BehaviorDefinition is one configured automation step within a workflow.
type BehaviorDefinition struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Enabled  bool              `json:"enabled"`
	Priority int               `json:"priority"`
	Config   map[string]any    `json:"config,omitempty"`
	Triggers *BehaviorTriggers `json:"triggers,omitempty"`
	Metadata BehaviorMetadata  `json:"metadata"`
}

// BehaviorTriggers are advisory tags; the executor does not enforce them.
type BehaviorTriggers struct {
	InputTypes    []string `json:"inputTypes,omitempty"`
	ObjectTypes   []string `json:"objectTypes,omitempty"`
	WorkflowTypes []string `json:"workflowTypes,omitempty"`
}

// BehaviorMetadata records who created and last touched a behavior.
type BehaviorMetadata struct {
	CreatedAt      time.Time  `json:"createdAt"`
	CreatedBy      string     `json:"createdBy,omitempty"`
	LastModified   *time.Time `json:"lastModified,omitempty"`
	LastModifiedBy string     `json:"lastModifiedBy,omitempty"`
}

// ErrorHandling is the declared failure policy of a workflow.
type ErrorHandling string

const (
	// ErrorHandlingRollback aborts on the first failure. Compensation of
	// already committed behaviors is not implemented.
	ErrorHandlingRollback ErrorHandling = "rollback"
	ErrorHandlingContinue ErrorHandling = "continue"
	ErrorHandlingNotify   ErrorHandling = "notify"
)

// Valid reports whether h is a known policy.
func (h ErrorHandling) Valid() bool {
	switch h {
	case ErrorHandlingRollback, ErrorHandlingContinue, ErrorHandlingNotify:
		return true
	}
	return false
}

// ContinueOnError reports whether a run keeps going after a failed behavior.
func (h ErrorHandling) ContinueOnError() bool {
	return h != ErrorHandlingRollback
}

// TriggerSchedule is the triggerOn value for cron-driven workflows.
const TriggerSchedule = "schedule"

// ExecutionPolicy describes when a workflow fires and how failures are handled.
type ExecutionPolicy struct {
	TriggerOn      string        `json:"triggerOn"`
	RequiredInputs []string      `json:"requiredInputs,omitempty"`
	OutputActions  []string      `json:"outputActions,omitempty"`
	ErrorHandling  ErrorHandling `json:"errorHandling"`
	Schedule       string        `json:"schedule,omitempty"` // cron, only with triggerOn "schedule"
}

// VisualData is layout metadata for the visual builder. Opaque to execution.
type VisualData struct {
	Nodes []map[string]any `json:"nodes,omitempty"`
	Edges []map[string]any `json:"edges,omitempty"`
}
