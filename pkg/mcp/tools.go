package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowkit/internal/ontology"
	"github.com/rendis/flowkit/internal/store"
	"github.com/rendis/flowkit/internal/templates"
	"github.com/rendis/flowkit/pkg/schema"
)

const defaultExecutionLimit = 20

// handleCreate creates a workflow.
func (s *Server) handleCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, errRes := s.session(ctx, req)
	if errRes != nil {
		return errRes, nil
	}
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError("name is required"), nil
	}

	in := ontology.CreateInput{
		OrganizationID: req.GetString("organization_id", ""),
		Name:           name,
		Description:    req.GetString("description", ""),
		Status:         schema.WorkflowStatus(req.GetString("status", "")),
	}
	args := req.GetArguments()
	if err := decodeArg(args, "objects", &in.Objects); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := decodeArg(args, "behaviors", &in.Behaviors); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := decodeArg(args, "execution", &in.Execution); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := decodeArg(args, "visual_data", &in.VisualData); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	wf, err := s.workflows.CreateWorkflow(ctx, sessionID, in)
	if err != nil {
		return toolError(err), nil
	}
	return marshalResult(wf)
}

// handleUpdate applies a partial update. Only arguments present in the
// request are changed.
func (s *Server) handleUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, errRes := s.session(ctx, req)
	if errRes != nil {
		return errRes, nil
	}
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	var in ontology.UpdateInput
	args := req.GetArguments()
	for key, dst := range map[string]any{
		"name":        &in.Name,
		"description": &in.Description,
		"status":      &in.Status,
		"objects":     &in.Objects,
		"behaviors":   &in.Behaviors,
		"execution":   &in.Execution,
		"visual_data": &in.VisualData,
	} {
		if err := decodeArg(args, key, dst); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}

	wf, err := s.workflows.UpdateWorkflow(ctx, sessionID, workflowID, in)
	if err != nil {
		return toolError(err), nil
	}
	return marshalResult(wf)
}

// handleDelete archives or hard-deletes a workflow.
func (s *Server) handleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, errRes := s.session(ctx, req)
	if errRes != nil {
		return errRes, nil
	}
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	hard := req.GetBool("hard", false)

	if err := s.workflows.DeleteWorkflow(ctx, sessionID, workflowID, hard); err != nil {
		return toolError(err), nil
	}
	return marshalResult(map[string]any{
		"ok":          true,
		"workflow_id": workflowID,
		"hard":        hard,
	})
}

// handleDuplicate clones a workflow.
func (s *Server) handleDuplicate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, errRes := s.session(ctx, req)
	if errRes != nil {
		return errRes, nil
	}
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	wf, err := s.workflows.DuplicateWorkflow(ctx, sessionID, workflowID, req.GetString("name", ""))
	if err != nil {
		return toolError(err), nil
	}
	return marshalResult(wf)
}

// handleList lists workflows.
func (s *Server) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, errRes := s.session(ctx, req)
	if errRes != nil {
		return errRes, nil
	}

	filter := ontology.ListFilter{TriggerOn: req.GetString("trigger_on", "")}
	if status := req.GetString("status", ""); status != "" {
		ws := schema.WorkflowStatus(status)
		filter.Status = &ws
	}

	workflows, err := s.workflows.ListWorkflows(ctx, sessionID, req.GetString("organization_id", ""), filter)
	if err != nil {
		return toolError(err), nil
	}
	return marshalResult(map[string]any{"workflows": nonNil(workflows)})
}

// handleGet returns one workflow.
func (s *Server) handleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, errRes := s.session(ctx, req)
	if errRes != nil {
		return errRes, nil
	}
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	wf, err := s.workflows.GetWorkflow(ctx, sessionID, workflowID)
	if err != nil {
		return toolError(err), nil
	}
	return marshalResult(wf)
}

// handleExecute runs a workflow and pushes a completion notification to
// the calling client. A failed run is a successful tool call carrying
// success=false.
func (s *Server) handleExecute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, errRes := s.session(ctx, req)
	if errRes != nil {
		return errRes, nil
	}
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	data := mcp.ParseStringMap(req, "workflow_data", nil)

	res, err := s.workflows.ExecuteWorkflow(ctx, sessionID, workflowID, data)
	if err != nil {
		return toolError(err), nil
	}

	payload := map[string]any{
		"workflowId": res.WorkflowID,
		"success":    res.Success,
	}
	if res.Result != nil {
		payload["executionId"] = res.Result.ExecutionID
	}
	if nErr := s.notifier.Notify(ctx, sessionID, payload); nErr != nil {
		s.logger.Warn("execution notification not delivered",
			slog.String("workflow_id", workflowID),
			slog.String("error", nErr.Error()),
		)
	}
	return marshalResult(res)
}

// handleByTrigger lists the active workflows for a trigger.
func (s *Server) handleByTrigger(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, errRes := s.session(ctx, req)
	if errRes != nil {
		return errRes, nil
	}
	trigger, err := req.RequireString("trigger")
	if err != nil {
		return mcp.NewToolResultError("trigger is required"), nil
	}

	workflows, err := s.workflows.GetWorkflowsByTrigger(ctx, sessionID, req.GetString("organization_id", ""), trigger)
	if err != nil {
		return toolError(err), nil
	}
	return marshalResult(map[string]any{"workflows": nonNil(workflows)})
}

// handleResolveTemplates resolves the template set for the caller's
// organization.
func (s *Server) handleResolveTemplates(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, errRes := s.session(ctx, req)
	if errRes != nil {
		return errRes, nil
	}
	p, err := s.auth.RequireAuthenticatedUser(ctx, sessionID)
	if err != nil {
		return toolError(err), nil
	}

	set, err := s.resolver.ResolveTemplateSet(ctx, p.OrganizationID, templates.ResolveContext{
		ManualSetID:        req.GetString("manual_set_id", ""),
		ProductID:          req.GetString("product_id", ""),
		CheckoutInstanceID: req.GetString("checkout_instance_id", ""),
		DomainConfigID:     req.GetString("domain_config_id", ""),
	})
	if err != nil {
		return toolError(err), nil
	}
	return marshalResult(set)
}

// handleExecution returns one execution log, or lists a workflow's logs.
func (s *Server) handleExecution(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, errRes := s.session(ctx, req)
	if errRes != nil {
		return errRes, nil
	}
	executionID := req.GetString("execution_id", "")
	workflowID := req.GetString("workflow_id", "")
	if executionID == "" && workflowID == "" {
		return mcp.NewToolResultError("either execution_id or workflow_id is required"), nil
	}

	if executionID == "" {
		// Loading the workflow checks view permission on its organization.
		if _, err := s.workflows.GetWorkflow(ctx, sessionID, workflowID); err != nil {
			return toolError(err), nil
		}
		logs, err := s.executions.ListExecutionLogs(ctx, store.ExecutionLogFilter{
			WorkflowID: workflowID,
			Limit:      req.GetInt("limit", defaultExecutionLimit),
		})
		if err != nil {
			return toolError(err), nil
		}
		return marshalResult(map[string]any{"executions": nonNil(logs)})
	}

	p, err := s.auth.RequireAuthenticatedUser(ctx, sessionID)
	if err != nil {
		return toolError(err), nil
	}
	execLog, err := s.executions.GetExecutionLog(ctx, executionID)
	if err != nil {
		return toolError(err), nil
	}
	if err := s.auth.RequirePermission(ctx, p, schema.PermissionViewWorkflows, execLog.OrganizationID); err != nil {
		return toolError(err), nil
	}
	return marshalResult(execLog)
}

// --- Internal helpers ---

// session reads session_id and maps it to the calling MCP client for
// notifications.
func (s *Server) session(ctx context.Context, req mcp.CallToolRequest) (string, *mcp.CallToolResult) {
	sessionID, err := req.RequireString("session_id")
	if err != nil || sessionID == "" {
		return "", mcp.NewToolResultError("session_id is required")
	}
	if cs := server.ClientSessionFromContext(ctx); cs != nil {
		s.sessions.Register(sessionID, cs.SessionID())
	}
	return sessionID, nil
}

// decodeArg decodes args[key] into dst through JSON. Absent keys leave dst
// untouched.
func decodeArg(args map[string]any, key string, dst any) error {
	v, ok := args[key]
	if !ok || v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	return nil
}

// toolError reports err to the client as a tool error.
func toolError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(err.Error())
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
