package schema

// Audit action names recorded by the workflow ontology.
const (
	AuditCreateWorkflow    = "create_workflow"
	AuditUpdateWorkflow    = "update_workflow"
	AuditArchiveWorkflow   = "archive_workflow"
	AuditDeleteWorkflow    = "delete_workflow"
	AuditDuplicateWorkflow = "duplicate_workflow"
	AuditExecuteWorkflow   = "execute_workflow"
	AuditTriggerWorkflow   = "trigger_workflow"
)

// ExecutionStatus is the state of an execution log.
type ExecutionStatus string

const (
	ExecutionStatusRunning ExecutionStatus = "running"
	ExecutionStatusSuccess ExecutionStatus = "success"
	ExecutionStatusFailed  ExecutionStatus = "failed"
)

// LogLevel classifies execution log lines.
type LogLevel string

const (
	LogLevelInfo    LogLevel = "info"
	LogLevelSuccess LogLevel = "success"
	LogLevelError   LogLevel = "error"
)

// Permissions checked by the workflow ontology.
const (
	PermissionManageWorkflows  = "manage_workflows"
	PermissionViewWorkflows    = "view_workflows"
	PermissionExecuteWorkflows = "execute_workflows"
)
