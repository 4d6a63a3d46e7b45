package ontology

import (
	"context"
	"encoding/json"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowkit/internal/auth"
	"github.com/rendis/flowkit/internal/engine"
	"github.com/rendis/flowkit/internal/store"
	"github.com/rendis/flowkit/pkg/schema"
)

func (f *fixture) activate(t *testing.T, workflowID string) {
	t.Helper()
	active := schema.WorkflowStatusActive
	_, err := f.svc.UpdateWorkflow(context.Background(), adminSession, workflowID, UpdateInput{Status: &active})
	require.NoError(t, err)
}

func (f *fixture) lastAudit(t *testing.T, workflowID string) *store.AuditEntry {
	t.Helper()
	entries, err := f.store.ListAudit(context.Background(), store.AuditFilter{ResourceID: workflowID})
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	return entries[len(entries)-1]
}

func TestExecuteWorkflow_SeedsContextAndChainsData(t *testing.T) {
	f := newFixture(t)
	f.seedObject(t, "evt-1", "event")
	in := registrationInput()
	in.Objects = []schema.ObjectRef{{ObjectID: "evt-1", ObjectType: "event", Role: "primary"}}
	wf := f.create(t, in)

	res, err := f.svc.ExecuteWorkflow(context.Background(), adminSession, wf.ID, map[string]any{"email": "ada@example.com"})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, wf.ID, res.WorkflowID)
	assert.Equal(t, 2, res.Result.ExecutedCount)
	assert.Equal(t, 2, res.Result.TotalCount)

	require.Equal(t, []string{"create-contact", "create-ticket"}, f.calls.types)
	first := f.calls.inputs[0]
	assert.Equal(t, adminSession, first.SessionID)
	assert.Equal(t, orgID, first.OrganizationID)
	assert.Equal(t, orgID, first.Context["organizationId"])
	assert.Equal(t, "event-registration", first.Context["workflow"])
	assert.Equal(t, adminSession, first.Context["sessionId"])
	assert.Equal(t, map[string]any{"email": "ada@example.com"}, first.Context["workflowData"])
	assert.Equal(t, map[string]any{"type": ActorUser, "id": "u-admin"}, first.Context["actor"])
	assert.Equal(t, []any{map[string]any{"objectId": "evt-1", "objectType": "event", "role": "primary"}}, first.Context["objects"])

	meta, ok := first.Context["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, meta["manualTrigger"])
	assert.Equal(t, "2026-06-01T09:30:00Z", meta["triggeredAt"])
	assert.Equal(t, "u-admin", meta["triggeredBy"])
	assert.NotContains(t, meta, "event")

	assert.NotContains(t, first.Context, "contactId")
	assert.Equal(t, "c-1", f.calls.inputs[1].Context["contactId"])

	require.NotEmpty(t, res.Result.ExecutionID)
	log, err := f.store.GetExecutionLog(context.Background(), res.Result.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, schema.ExecutionStatusSuccess, log.Status)
	assert.Equal(t, wf.ID, log.WorkflowID)

	entry := f.lastAudit(t, wf.ID)
	assert.Equal(t, schema.AuditExecuteWorkflow, entry.Action)
	assert.True(t, entry.Success)
	assert.Equal(t, "u-admin", entry.UserID)
	var details map[string]any
	require.NoError(t, json.Unmarshal(entry.Details, &details))
	assert.EqualValues(t, 2, details["executedCount"])
	assert.Equal(t, "manual", details["trigger"])
	assert.Equal(t, res.Result.ExecutionID, details["executionId"])
}

func TestExecuteWorkflow_SkipsDisabledBehaviors(t *testing.T) {
	f := newFixture(t)
	in := registrationInput()
	in.Behaviors[1].Enabled = boolPtr(false)
	wf := f.create(t, in)

	res, err := f.svc.ExecuteWorkflow(context.Background(), adminSession, wf.ID, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Result.TotalCount)
	assert.Equal(t, []string{"create-ticket"}, f.calls.types)
}

func TestExecuteWorkflow_ErrorHandling(t *testing.T) {
	tests := []struct {
		name      string
		policy    schema.ErrorHandling
		wantCalls []string
		wantCount int
	}{
		{"rollback stops at first failure", schema.ErrorHandlingRollback, []string{"create-contact"}, 1},
		{"continue runs the rest", schema.ErrorHandlingContinue, []string{"create-contact", "create-ticket"}, 2},
		{"notify runs the rest", schema.ErrorHandlingNotify, []string{"create-contact", "create-ticket"}, 2},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, &recorder{bt: schema.BehaviorCreateContact, fail: "crm unavailable"})
			in := registrationInput()
			in.Execution.ErrorHandling = tc.policy
			wf := f.create(t, in)

			res, err := f.svc.ExecuteWorkflow(context.Background(), adminSession, wf.ID, nil)
			require.NoError(t, err)
			assert.False(t, res.Success)
			assert.Equal(t, tc.wantCalls, f.calls.types)
			assert.Equal(t, tc.wantCount, res.Result.ExecutedCount)
			assert.Contains(t, res.Error, "failed: create-contact")
			assert.Empty(t, res.ErrorCode)

			log, err := f.store.GetExecutionLog(context.Background(), res.Result.ExecutionID)
			require.NoError(t, err)
			assert.Equal(t, schema.ExecutionStatusFailed, log.Status)
			assert.False(t, f.lastAudit(t, wf.ID).Success)
		})
	}
}

func TestExecuteWorkflow_FailuresBecomeResults(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf := f.create(t, registrationInput())

	res, err := f.svc.ExecuteWorkflow(ctx, viewSession, wf.ID, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, schema.ErrCodePermissionDenied, res.ErrorCode)
	assert.Nil(t, res.Result)
	denied := f.lastAudit(t, wf.ID)
	assert.Equal(t, schema.AuditExecuteWorkflow, denied.Action)
	assert.False(t, denied.Success)
	assert.Equal(t, "u-viewer", denied.UserID)

	res, err = f.svc.ExecuteWorkflow(ctx, adminSession, "wf-missing", nil)
	require.NoError(t, err)
	assert.Equal(t, schema.ErrCodeNotFound, res.ErrorCode)

	require.NoError(t, f.svc.DeleteWorkflow(ctx, adminSession, wf.ID, false))
	res, err = f.svc.ExecuteWorkflow(ctx, adminSession, wf.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, schema.ErrCodeConflict, res.ErrorCode)
	assert.Empty(t, f.calls.types)

	_, err = f.svc.ExecuteWorkflow(ctx, "sess-unknown", wf.ID, nil)
	requireCode(t, err, schema.ErrCodeUnauthenticated)
}

type panickingRunner struct{}

func (panickingRunner) ExecuteBehavior(context.Context, string, string, map[string]any, map[string]any) schema.BehaviorResult {
	panic("runner exploded")
}

func (panickingRunner) ExecuteBehaviors(context.Context, engine.SequenceRequest) *schema.SequenceResult {
	panic("runner exploded")
}

func TestExecuteWorkflow_RecoversRunnerPanic(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t, registrationInput())

	svc := NewService(Config{
		Store:      f.store,
		Authorizer: auth.NewStoreAuthorizer(f.store),
		Validator:  f.svc.validator,
		Runner:     panickingRunner{},
		Logger:     f.svc.logger,
	})
	t.Cleanup(svc.Close)

	res, err := svc.ExecuteWorkflow(context.Background(), adminSession, wf.ID, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "runner exploded")
	assert.False(t, f.lastAudit(t, wf.ID).Success)
}

func TestTriggerEvent_RunsActiveMatchingWorkflows(t *testing.T) {
	f := newFixture(t)
	a := f.create(t, registrationInput())
	b := f.create(t, registrationInput())
	f.create(t, registrationInput()) // stays draft
	other := registrationInput()
	other.Execution.TriggerOn = "payment.received"
	c := f.create(t, other)
	for _, id := range []string{a.ID, b.ID, c.ID} {
		f.activate(t, id)
	}

	results, err := f.svc.TriggerEvent(context.Background(), orgID, "registration.completed", map[string]any{"formId": "form-9"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	var ids []string
	for _, r := range results {
		assert.True(t, r.Success, r.Error)
		ids = append(ids, r.WorkflowID)
	}
	want := []string{a.ID, b.ID}
	sort.Strings(ids)
	sort.Strings(want)
	assert.Equal(t, want, ids)

	f.calls.mu.Lock()
	defer f.calls.mu.Unlock()
	require.Len(t, f.calls.inputs, 4)
	for _, in := range f.calls.inputs {
		assert.Equal(t, map[string]any{"type": ActorSystem, "id": "event:registration.completed"}, in.Context["actor"])
		assert.Equal(t, map[string]any{"formId": "form-9"}, in.Context["workflowData"])
		meta := in.Context["metadata"].(map[string]any)
		assert.Equal(t, false, meta["manualTrigger"])
		assert.Equal(t, "registration.completed", meta["event"])
		assert.NotContains(t, in.Context, "sessionId")
		assert.Empty(t, in.SessionID)
	}

	entry := f.lastAudit(t, a.ID)
	assert.Equal(t, schema.AuditTriggerWorkflow, entry.Action)
	assert.Empty(t, entry.UserID)
	assert.True(t, entry.Success)
}

func TestTriggerEvent_NoMatches(t *testing.T) {
	f := newFixture(t)
	results, err := f.svc.TriggerEvent(context.Background(), orgID, "nothing.happened", nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = f.svc.TriggerEvent(context.Background(), "", "nothing.happened", nil)
	requireCode(t, err, schema.ErrCodeValidation)
}

func TestTriggerScheduled(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := registrationInput()
	in.Name = "Nightly statistics"
	in.Execution = schema.ExecutionPolicy{TriggerOn: schema.TriggerSchedule, Schedule: "0 2 * * *"}
	nightly := f.create(t, in)

	_, err := f.svc.TriggerScheduled(ctx, nightly.ID)
	requireCode(t, err, schema.ErrCodeConflict)

	f.activate(t, nightly.ID)
	res, err := f.svc.TriggerScheduled(ctx, nightly.ID)
	require.NoError(t, err)
	assert.True(t, res.Success, res.Error)
	require.NotEmpty(t, f.calls.inputs)
	ctxMap := f.calls.inputs[0].Context
	assert.Equal(t, "nightly-statistics", ctxMap["workflow"])
	assert.Equal(t, map[string]any{"type": ActorSystem, "id": "scheduler"}, ctxMap["actor"])

	manual := f.create(t, registrationInput())
	f.activate(t, manual.ID)
	_, err = f.svc.TriggerScheduled(ctx, manual.ID)
	requireCode(t, err, schema.ErrCodeConflict)

	_, err = f.svc.TriggerScheduled(ctx, "wf-missing")
	requireCode(t, err, schema.ErrCodeNotFound)
}
