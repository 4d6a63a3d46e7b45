package engine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowkit/internal/store"
	"github.com/rendis/flowkit/pkg/schema"
)

func newLibSQLLogs(t *testing.T) *store.LibSQLStore {
	t.Helper()
	s, err := store.NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestExecutionLogWriter_LibSQLRoundTrip(t *testing.T) {
	s := newLibSQLLogs(t)
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	w := NewExecutionLogWriter(s, nil, func() time.Time { return now })
	ctx := context.Background()

	id := w.Start(ctx, "org-1", "wf-1", "Registration")
	require.NotEmpty(t, id)
	w.Line(ctx, id, schema.LogLevelInfo, "Executing create-contact", "create-contact")
	w.Line(ctx, id, schema.LogLevelSuccess, "Completed create-contact", "create-contact")
	w.Finish(ctx, id, schema.ExecutionStatusSuccess, map[string]any{"success": true})

	log, err := s.GetExecutionLog(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionStatusSuccess, log.Status)
	assert.Equal(t, "Registration", log.WorkflowName)
	require.Len(t, log.Lines, 2)
	assert.Equal(t, int64(1), log.Lines[0].Sequence)
	assert.Equal(t, "create-contact", log.Lines[1].BehaviorType)
	assert.JSONEq(t, `{"success":true}`, string(log.Result))
	require.NotNil(t, log.CompletedAt)

	// Lines after sealing are dropped, not surfaced.
	w.Line(ctx, id, schema.LogLevelInfo, "late", "")
	log, err = s.GetExecutionLog(ctx, id)
	require.NoError(t, err)
	assert.Len(t, log.Lines, 2)
}

func TestExecutionLogWriter_NilStoreIsNoop(t *testing.T) {
	w := NewExecutionLogWriter(nil, nil, nil)
	ctx := context.Background()
	assert.Empty(t, w.Start(ctx, "org-1", "wf-1", "x"))
	assert.NotPanics(t, func() {
		w.Line(ctx, "id", schema.LogLevelInfo, "m", "")
		w.Finish(ctx, "id", schema.ExecutionStatusSuccess, nil)
	})

	var nilWriter *ExecutionLogWriter
	assert.Empty(t, nilWriter.Start(ctx, "org-1", "wf-1", "x"))
}

func TestExecutionLogWriter_FailuresAreLogged(t *testing.T) {
	var buf bytes.Buffer
	logs := newMemLogs()
	logs.failCreate = errors.New("disk full")
	w := NewExecutionLogWriter(logs, slog.New(slog.NewTextHandler(&buf, nil)), nil)

	assert.Empty(t, w.Start(context.Background(), "org-1", "wf-1", "x"))
	assert.Contains(t, buf.String(), "execution log not created")
	assert.Contains(t, buf.String(), "disk full")

	buf.Reset()
	w.Finish(context.Background(), "missing", schema.ExecutionStatusFailed, nil)
	assert.Contains(t, buf.String(), "execution log not sealed")
}
