package logging

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextKeys(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, "", OrganizationID(ctx))
	assert.Equal(t, "", WorkflowID(ctx))
	assert.Equal(t, "", ExecutionID(ctx))
	assert.Equal(t, "", BehaviorType(ctx))

	ctx = WithOrganizationID(ctx, "org-1")
	ctx = WithWorkflowID(ctx, "wf-123")
	ctx = WithExecutionID(ctx, "exec-9")
	ctx = WithBehaviorType(ctx, "calculate-pricing")

	assert.Equal(t, "org-1", OrganizationID(ctx))
	assert.Equal(t, "wf-123", WorkflowID(ctx))
	assert.Equal(t, "exec-9", ExecutionID(ctx))
	assert.Equal(t, "calculate-pricing", BehaviorType(ctx))
}

func TestLogWith(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	ctx := WithWorkflowID(context.Background(), "wf-abc")
	ctx = WithBehaviorType(ctx, "create-contact")

	LogWith(ctx, logger).Info("test message")

	out := buf.String()
	assert.Contains(t, out, "workflow_id=wf-abc")
	assert.Contains(t, out, "behavior_type=create-contact")
	assert.NotContains(t, out, "organization_id")
	assert.NotContains(t, out, "execution_id")
}

func TestCorrelationHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCorrelationHandler(slog.NewTextHandler(&buf, nil)))

	ctx := WithOrganizationID(context.Background(), "org-7")
	ctx = WithExecutionID(ctx, "exec-1")
	logger.With("component", "engine").InfoContext(ctx, "sequence started")

	out := buf.String()
	assert.Contains(t, out, "organization_id=org-7")
	assert.Contains(t, out, "execution_id=exec-1")
	assert.Contains(t, out, "component=engine")
	assert.NotContains(t, out, "workflow_id")
}

func TestCorrelationHandler_Enabled(t *testing.T) {
	h := NewCorrelationHandler(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}))
	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}
