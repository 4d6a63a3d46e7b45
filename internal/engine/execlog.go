package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/flowkit/internal/store"
	"github.com/rendis/flowkit/pkg/schema"
)

// ExecutionLogWriter records execution logs on a best-effort basis: store
// failures are logged and swallowed so they never affect a run.
type ExecutionLogWriter struct {
	logs   store.ExecutionLogStore
	logger *slog.Logger
	now    func() time.Time
}

// NewExecutionLogWriter wraps logs. A nil store yields a writer that
// records nothing.
func NewExecutionLogWriter(logs store.ExecutionLogStore, logger *slog.Logger, now func() time.Time) *ExecutionLogWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &ExecutionLogWriter{logs: logs, logger: logger, now: now}
}

// Start creates a running execution log and returns its id, or "" when
// nothing could be recorded.
func (w *ExecutionLogWriter) Start(ctx context.Context, organizationID, workflowID, workflowName string) string {
	if w == nil || w.logs == nil {
		return ""
	}
	log := &store.ExecutionLog{
		ID:             uuid.New().String(),
		WorkflowID:     workflowID,
		WorkflowName:   workflowName,
		OrganizationID: organizationID,
		Status:         schema.ExecutionStatusRunning,
		StartedAt:      w.now().UTC(),
	}
	if err := w.logs.CreateExecutionLog(ctx, log); err != nil {
		w.logger.WarnContext(ctx, "execution log not created", slog.String("error", err.Error()))
		return ""
	}
	return log.ID
}

// Line appends a line to executionID. Empty ids are ignored.
func (w *ExecutionLogWriter) Line(ctx context.Context, executionID string, level schema.LogLevel, message, behaviorType string) {
	if w == nil || w.logs == nil || executionID == "" {
		return
	}
	err := w.logs.AppendExecutionLine(ctx, executionID, &store.LogLine{
		Level:        level,
		Message:      message,
		BehaviorType: behaviorType,
		Timestamp:    w.now().UTC(),
	})
	if err != nil {
		w.logger.WarnContext(ctx, "execution log line dropped",
			slog.String("message", message),
			slog.String("error", err.Error()),
		)
	}
}

// Finish seals executionID with status and the serialized result.
func (w *ExecutionLogWriter) Finish(ctx context.Context, executionID string, status schema.ExecutionStatus, result any) {
	if w == nil || w.logs == nil || executionID == "" {
		return
	}
	raw, err := json.Marshal(result)
	if err != nil {
		w.logger.WarnContext(ctx, "execution result not serializable", slog.String("error", err.Error()))
		raw = nil
	}
	if err := w.logs.CompleteExecutionLog(ctx, executionID, status, raw); err != nil {
		w.logger.WarnContext(ctx, "execution log not sealed", slog.String("error", err.Error()))
	}
}
