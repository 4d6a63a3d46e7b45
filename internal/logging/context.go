// Package logging carries correlation identifiers through a context and
// stamps them on every slog record.
package logging

import (
	"context"
	"log/slog"
	"strings"
)

type ctxKey int

const (
	organizationIDKey ctxKey = iota
	workflowIDKey
	executionIDKey
	behaviorTypeKey
)

// correlationFields lists the keys in the order they appear on a record.
var correlationFields = []struct {
	key  ctxKey
	attr string
}{
	{organizationIDKey, "organization_id"},
	{workflowIDKey, "workflow_id"},
	{executionIDKey, "execution_id"},
	{behaviorTypeKey, "behavior_type"},
}

// WithOrganizationID returns a context carrying the organization ID.
func WithOrganizationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, organizationIDKey, id)
}

// WithWorkflowID returns a context carrying the workflow ID.
func WithWorkflowID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, workflowIDKey, id)
}

// WithExecutionID returns a context carrying the execution log ID.
func WithExecutionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, executionIDKey, id)
}

// WithBehaviorType returns a context carrying the behavior being executed.
func WithBehaviorType(ctx context.Context, behaviorType string) context.Context {
	return context.WithValue(ctx, behaviorTypeKey, behaviorType)
}

func OrganizationID(ctx context.Context) string { return stringValue(ctx, organizationIDKey) }
func WorkflowID(ctx context.Context) string     { return stringValue(ctx, workflowIDKey) }
func ExecutionID(ctx context.Context) string    { return stringValue(ctx, executionIDKey) }
func BehaviorType(ctx context.Context) string   { return stringValue(ctx, behaviorTypeKey) }

func stringValue(ctx context.Context, key ctxKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

func correlationAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	for _, f := range correlationFields {
		if v := stringValue(ctx, f.key); v != "" {
			attrs = append(attrs, slog.String(f.attr, v))
		}
	}
	return attrs
}

// LogWith returns logger enriched with the non-empty correlation IDs of ctx.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range correlationAttrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler and injects correlation IDs from
// the record's context, so logger.InfoContext(ctx, ...) carries them.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps inner.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(correlationAttrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}

// ParseLevel maps a configured level name to an slog.Level. Unknown names
// fall back to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
