package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowkit/internal/auth"
	"github.com/rendis/flowkit/internal/ontology"
	"github.com/rendis/flowkit/internal/store"
	"github.com/rendis/flowkit/internal/templates"
	"github.com/rendis/flowkit/pkg/schema"
)

// --- Mocks ---

type mockService struct {
	workflows map[string]*schema.Workflow
	err       error

	lastCreate    ontology.CreateInput
	lastUpdate    ontology.UpdateInput
	lastFilter    ontology.ListFilter
	lastOrg       string
	lastOverrides map[string]any
	deleted       map[string]bool // id -> hard
}

func newMockService(wfs ...*schema.Workflow) *mockService {
	m := &mockService{workflows: make(map[string]*schema.Workflow), deleted: make(map[string]bool)}
	for _, wf := range wfs {
		m.workflows[wf.ID] = wf
	}
	return m
}

func (m *mockService) get(id string) (*schema.Workflow, error) {
	if m.err != nil {
		return nil, m.err
	}
	wf, ok := m.workflows[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found", id)
	}
	return wf, nil
}

func (m *mockService) CreateWorkflow(_ context.Context, _ string, in ontology.CreateInput) (*schema.Workflow, error) {
	m.lastCreate = in
	if m.err != nil {
		return nil, m.err
	}
	wf := &schema.Workflow{ID: "wf-new", Name: in.Name, Status: schema.WorkflowStatusDraft}
	m.workflows[wf.ID] = wf
	return wf, nil
}

func (m *mockService) UpdateWorkflow(_ context.Context, _ string, workflowID string, in ontology.UpdateInput) (*schema.Workflow, error) {
	m.lastUpdate = in
	wf, err := m.get(workflowID)
	if err != nil {
		return nil, err
	}
	if in.Name != nil {
		wf.Name = *in.Name
	}
	return wf, nil
}

func (m *mockService) DeleteWorkflow(_ context.Context, _ string, workflowID string, hard bool) error {
	if _, err := m.get(workflowID); err != nil {
		return err
	}
	m.deleted[workflowID] = hard
	return nil
}

func (m *mockService) DuplicateWorkflow(_ context.Context, _ string, workflowID, newName string) (*schema.Workflow, error) {
	src, err := m.get(workflowID)
	if err != nil {
		return nil, err
	}
	if newName == "" {
		newName = src.Name + " (Copy)"
	}
	return &schema.Workflow{ID: "wf-dup", Name: newName, Status: schema.WorkflowStatusDraft}, nil
}

func (m *mockService) GetWorkflow(_ context.Context, _ string, workflowID string) (*schema.Workflow, error) {
	return m.get(workflowID)
}

func (m *mockService) ListWorkflows(_ context.Context, _ string, orgID string, filter ontology.ListFilter) ([]*schema.Workflow, error) {
	m.lastOrg, m.lastFilter = orgID, filter
	if m.err != nil {
		return nil, m.err
	}
	var out []*schema.Workflow
	for _, wf := range m.workflows {
		if filter.Status != nil && wf.Status != *filter.Status {
			continue
		}
		out = append(out, wf)
	}
	return out, nil
}

func (m *mockService) GetWorkflowsByTrigger(_ context.Context, _ string, orgID, trigger string) ([]*schema.Workflow, error) {
	m.lastOrg = orgID
	var out []*schema.Workflow
	for _, wf := range m.workflows {
		if wf.Execution.TriggerOn == trigger && wf.Status == schema.WorkflowStatusActive {
			out = append(out, wf)
		}
	}
	return out, nil
}

func (m *mockService) ExecuteWorkflow(_ context.Context, sessionID, workflowID string, overrides map[string]any) (*ontology.ExecuteResult, error) {
	m.lastOverrides = overrides
	if sessionID == "sess-expired" {
		return nil, schema.NewError(schema.ErrCodeUnauthenticated, "session expired")
	}
	wf, err := m.get(workflowID)
	if err != nil {
		return &ontology.ExecuteResult{WorkflowID: workflowID, Error: err.Error(), ErrorCode: schema.CodeOf(err)}, nil
	}
	return &ontology.ExecuteResult{
		WorkflowID:   wf.ID,
		WorkflowName: wf.Name,
		Success:      true,
		Result:       &schema.SequenceResult{Success: true, ExecutedCount: 1, TotalCount: 1, ExecutionID: "exec-1"},
	}, nil
}

type mockAuth struct {
	principals map[string]*auth.Principal
	viewOrgs   map[string]bool
}

func (m *mockAuth) RequireAuthenticatedUser(_ context.Context, sessionID string) (*auth.Principal, error) {
	if p, ok := m.principals[sessionID]; ok {
		return p, nil
	}
	return nil, schema.NewError(schema.ErrCodeUnauthenticated, "invalid session")
}

func (m *mockAuth) RequirePermission(_ context.Context, _ *auth.Principal, permission, organizationID string) error {
	if permission == schema.PermissionViewWorkflows && m.viewOrgs[organizationID] {
		return nil
	}
	return schema.NewErrorf(schema.ErrCodePermissionDenied, "lacks %s in %q", permission, organizationID)
}

func (m *mockAuth) CheckPermission(ctx context.Context, p *auth.Principal, permission, organizationID string) bool {
	return m.RequirePermission(ctx, p, permission, organizationID) == nil
}

func newMockAuth() *mockAuth {
	return &mockAuth{
		principals: map[string]*auth.Principal{
			"sess-1": {UserID: "u-1", OrganizationID: "org-1", SessionID: "sess-1"},
		},
		viewOrgs: map[string]bool{"org-1": true},
	}
}

type mockResolver struct {
	lastOrg string
	lastRC  templates.ResolveContext
}

func (m *mockResolver) ResolveTemplateSet(_ context.Context, orgID string, rc templates.ResolveContext) (*schema.ResolvedTemplateSet, error) {
	m.lastOrg, m.lastRC = orgID, rc
	if rc.ManualSetID == "broken" {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "no template set could be resolved")
	}
	return &schema.ResolvedTemplateSet{
		SetID:     "set-1",
		Version:   schema.TemplateSetV1,
		Templates: map[string]string{schema.TemplateTypeTicket: "tpl-ticket"},
		Source:    schema.TemplateSourceOrganization,
	}, nil
}

type mockExecutions struct {
	store.ExecutionLogStore
	logs []*store.ExecutionLog
}

func (m *mockExecutions) GetExecutionLog(_ context.Context, id string) (*store.ExecutionLog, error) {
	for _, l := range m.logs {
		if l.ID == id {
			return l, nil
		}
	}
	return nil, schema.NewError(schema.ErrCodeNotFound, "execution_log not found")
}

func (m *mockExecutions) ListExecutionLogs(_ context.Context, filter store.ExecutionLogFilter) ([]*store.ExecutionLog, error) {
	var out []*store.ExecutionLog
	for _, l := range m.logs {
		if filter.WorkflowID != "" && l.WorkflowID != filter.WorkflowID {
			continue
		}
		out = append(out, l)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// --- Helpers ---

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}

func registration() *schema.Workflow {
	return &schema.Workflow{
		ID:        "wf-1",
		Name:      "Event Registration",
		Status:    schema.WorkflowStatusActive,
		Execution: schema.ExecutionPolicy{TriggerOn: "registration.completed"},
	}
}

// --- Tests ---

func TestEveryToolRequiresSession(t *testing.T) {
	s := NewServer(ServerDeps{Workflows: newMockService(registration())})
	for _, st := range s.tools() {
		t.Run(st.Tool.Name, func(t *testing.T) {
			result, err := st.Handler(context.Background(), buildRequest(st.Tool.Name, map[string]any{
				"workflow_id": "wf-1",
				"name":        "x",
				"trigger":     "registration.completed",
			}))
			require.NoError(t, err)
			assert.True(t, result.IsError)
			assert.Contains(t, extractText(t, result), "session_id is required")
		})
	}
}

func TestCreateTool(t *testing.T) {
	svc := newMockService()
	s := NewServer(ServerDeps{Workflows: svc})

	result, err := s.handleCreate(context.Background(), buildRequest("flowkit.workflow.create", map[string]any{
		"session_id": "sess-1",
		"name":       "Event Registration",
		"objects":    []any{map[string]any{"objectId": "evt-1", "objectType": "event"}},
		"behaviors": []any{
			map[string]any{"type": "create-contact", "priority": 10.0, "config": map[string]any{"subtype": "attendee"}},
			map[string]any{"type": "create-ticket", "priority": 5.0, "enabled": false},
		},
		"execution": map[string]any{"triggerOn": "registration.completed", "errorHandling": "rollback"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))

	var wf schema.Workflow
	unmarshalResult(t, result, &wf)
	assert.Equal(t, "wf-new", wf.ID)

	in := svc.lastCreate
	assert.Equal(t, "Event Registration", in.Name)
	require.Len(t, in.Objects, 1)
	assert.Equal(t, "evt-1", in.Objects[0].ObjectID)
	require.Len(t, in.Behaviors, 2)
	assert.Equal(t, 10, in.Behaviors[0].Priority)
	assert.Equal(t, "attendee", in.Behaviors[0].Config["subtype"])
	assert.Nil(t, in.Behaviors[0].Enabled)
	require.NotNil(t, in.Behaviors[1].Enabled)
	assert.False(t, *in.Behaviors[1].Enabled)
	assert.Equal(t, schema.ErrorHandlingRollback, in.Execution.ErrorHandling)
}

func TestCreateToolErrors(t *testing.T) {
	svc := newMockService()
	s := NewServer(ServerDeps{Workflows: svc})

	result, err := s.handleCreate(context.Background(), buildRequest("flowkit.workflow.create", map[string]any{
		"session_id": "sess-1",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleCreate(context.Background(), buildRequest("flowkit.workflow.create", map[string]any{
		"session_id": "sess-1",
		"name":       "x",
		"behaviors":  "not-a-list",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "invalid behaviors")

	svc.err = schema.NewError(schema.ErrCodeValidation, "workflow validation failed: name: is required")
	result, err = s.handleCreate(context.Background(), buildRequest("flowkit.workflow.create", map[string]any{
		"session_id": "sess-1",
		"name":       "x",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "[VALIDATION_ERROR]")
}

func TestUpdateToolOnlySendsPresentFields(t *testing.T) {
	svc := newMockService(registration())
	s := NewServer(ServerDeps{Workflows: svc})

	result, err := s.handleUpdate(context.Background(), buildRequest("flowkit.workflow.update", map[string]any{
		"session_id":  "sess-1",
		"workflow_id": "wf-1",
		"name":        "Renamed",
		"status":      "archived",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	in := svc.lastUpdate
	require.NotNil(t, in.Name)
	assert.Equal(t, "Renamed", *in.Name)
	require.NotNil(t, in.Status)
	assert.Equal(t, schema.WorkflowStatusArchived, *in.Status)
	assert.Nil(t, in.Behaviors)
	assert.Nil(t, in.Objects)
	assert.Nil(t, in.Execution)
	assert.Nil(t, in.Description)

	result, err = s.handleUpdate(context.Background(), buildRequest("flowkit.workflow.update", map[string]any{
		"session_id":  "sess-1",
		"workflow_id": "wf-missing",
		"name":        "x",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "[NOT_FOUND]")
}

func TestDeleteAndDuplicateTools(t *testing.T) {
	svc := newMockService(registration())
	s := NewServer(ServerDeps{Workflows: svc})

	result, err := s.handleDelete(context.Background(), buildRequest("flowkit.workflow.delete", map[string]any{
		"session_id": "sess-1", "workflow_id": "wf-1", "hard": true,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.True(t, svc.deleted["wf-1"])

	result, err = s.handleDuplicate(context.Background(), buildRequest("flowkit.workflow.duplicate", map[string]any{
		"session_id": "sess-1", "workflow_id": "wf-1",
	}))
	require.NoError(t, err)
	var dup schema.Workflow
	unmarshalResult(t, result, &dup)
	assert.Equal(t, "Event Registration (Copy)", dup.Name)
	assert.Equal(t, schema.WorkflowStatusDraft, dup.Status)
}

func TestListGetAndByTriggerTools(t *testing.T) {
	draft := &schema.Workflow{ID: "wf-2", Name: "Draft", Status: schema.WorkflowStatusDraft}
	svc := newMockService(registration(), draft)
	s := NewServer(ServerDeps{Workflows: svc})
	ctx := context.Background()

	result, err := s.handleList(ctx, buildRequest("flowkit.workflow.list", map[string]any{
		"session_id": "sess-1", "status": "draft", "organization_id": "org-1",
	}))
	require.NoError(t, err)
	var listed struct {
		Workflows []schema.Workflow `json:"workflows"`
	}
	unmarshalResult(t, result, &listed)
	require.Len(t, listed.Workflows, 1)
	assert.Equal(t, "wf-2", listed.Workflows[0].ID)
	assert.Equal(t, "org-1", svc.lastOrg)

	result, err = s.handleGet(ctx, buildRequest("flowkit.workflow.get", map[string]any{
		"session_id": "sess-1", "workflow_id": "wf-1",
	}))
	require.NoError(t, err)
	assert.Contains(t, extractText(t, result), "Event Registration")

	result, err = s.handleByTrigger(ctx, buildRequest("flowkit.workflow.by_trigger", map[string]any{
		"session_id": "sess-1", "trigger": "payment.received",
	}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"workflows":[]}`, extractText(t, result))

	result, err = s.handleByTrigger(ctx, buildRequest("flowkit.workflow.by_trigger", map[string]any{
		"session_id": "sess-1", "trigger": "registration.completed",
	}))
	require.NoError(t, err)
	unmarshalResult(t, result, &listed)
	require.Len(t, listed.Workflows, 1)
	assert.Equal(t, "wf-1", listed.Workflows[0].ID)
}

func TestExecuteTool(t *testing.T) {
	svc := newMockService(registration())
	s := NewServer(ServerDeps{Workflows: svc})
	ctx := context.Background()

	result, err := s.handleExecute(ctx, buildRequest("flowkit.workflow.execute", map[string]any{
		"session_id":    "sess-1",
		"workflow_id":   "wf-1",
		"workflow_data": map[string]any{"email": "ada@example.com"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	var res ontology.ExecuteResult
	unmarshalResult(t, result, &res)
	assert.True(t, res.Success)
	assert.Equal(t, "exec-1", res.Result.ExecutionID)
	assert.Equal(t, map[string]any{"email": "ada@example.com"}, svc.lastOverrides)

	// A failed run is data, not a tool error.
	result, err = s.handleExecute(ctx, buildRequest("flowkit.workflow.execute", map[string]any{
		"session_id": "sess-1", "workflow_id": "wf-missing",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	unmarshalResult(t, result, &res)
	assert.False(t, res.Success)
	assert.Equal(t, schema.ErrCodeNotFound, res.ErrorCode)

	result, err = s.handleExecute(ctx, buildRequest("flowkit.workflow.execute", map[string]any{
		"session_id": "sess-expired", "workflow_id": "wf-1",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "[UNAUTHENTICATED]")
}

func TestResolveTemplatesTool(t *testing.T) {
	resolver := &mockResolver{}
	s := NewServer(ServerDeps{Resolver: resolver, Authorizer: newMockAuth()})
	ctx := context.Background()

	result, err := s.handleResolveTemplates(ctx, buildRequest("flowkit.templates.resolve", map[string]any{
		"session_id": "sess-1", "product_id": "prod-1", "domain_config_id": "dom-1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	var set schema.ResolvedTemplateSet
	unmarshalResult(t, result, &set)
	assert.Equal(t, "set-1", set.SetID)
	assert.Equal(t, "tpl-ticket", set.Templates[schema.TemplateTypeTicket])
	assert.Equal(t, "org-1", resolver.lastOrg)
	assert.Equal(t, templates.ResolveContext{ProductID: "prod-1", DomainConfigID: "dom-1"}, resolver.lastRC)

	result, err = s.handleResolveTemplates(ctx, buildRequest("flowkit.templates.resolve", map[string]any{
		"session_id": "sess-1", "manual_set_id": "broken",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "[CONFIGURATION_ERROR]")

	result, err = s.handleResolveTemplates(ctx, buildRequest("flowkit.templates.resolve", map[string]any{
		"session_id": "sess-unknown",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestExecutionsTool(t *testing.T) {
	done := time.Date(2026, 3, 1, 12, 0, 5, 0, time.UTC)
	execs := &mockExecutions{logs: []*store.ExecutionLog{
		{
			ID:             "exec-1",
			WorkflowID:     "wf-1",
			OrganizationID: "org-1",
			Status:         schema.ExecutionStatusSuccess,
			Lines:          []*store.LogLine{{Sequence: 1, Level: schema.LogLevelInfo, Message: "Starting execution of 1 behaviors"}},
			CompletedAt:    &done,
		},
		{ID: "exec-2", WorkflowID: "wf-1", OrganizationID: "org-1", Status: schema.ExecutionStatusFailed},
		{ID: "exec-other", WorkflowID: "wf-9", OrganizationID: "org-2", Status: schema.ExecutionStatusSuccess},
	}}
	s := NewServer(ServerDeps{
		Workflows:  newMockService(registration()),
		Authorizer: newMockAuth(),
		Executions: execs,
	})
	ctx := context.Background()

	result, err := s.handleExecution(ctx, buildRequest("flowkit.executions.get", map[string]any{
		"session_id": "sess-1", "execution_id": "exec-1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, extractText(t, result))
	var got store.ExecutionLog
	unmarshalResult(t, result, &got)
	assert.Equal(t, schema.ExecutionStatusSuccess, got.Status)
	require.Len(t, got.Lines, 1)
	assert.Equal(t, "Starting execution of 1 behaviors", got.Lines[0].Message)

	result, err = s.handleExecution(ctx, buildRequest("flowkit.executions.get", map[string]any{
		"session_id": "sess-1", "execution_id": "exec-other",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "[PERMISSION_DENIED]")

	result, err = s.handleExecution(ctx, buildRequest("flowkit.executions.get", map[string]any{
		"session_id": "sess-1", "workflow_id": "wf-1", "limit": 1.0,
	}))
	require.NoError(t, err)
	var listed struct {
		Executions []store.ExecutionLog `json:"executions"`
	}
	unmarshalResult(t, result, &listed)
	require.Len(t, listed.Executions, 1)
	assert.Equal(t, "exec-1", listed.Executions[0].ID)

	result, err = s.handleExecution(ctx, buildRequest("flowkit.executions.get", map[string]any{
		"session_id": "sess-1",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
