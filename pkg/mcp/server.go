package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/flowkit/internal/auth"
	"github.com/rendis/flowkit/internal/ontology"
	"github.com/rendis/flowkit/internal/store"
	"github.com/rendis/flowkit/internal/templates"
	"github.com/rendis/flowkit/pkg/schema"
)

// WorkflowService is the ontology surface exposed as tools. Satisfied by
// *ontology.Service.
type WorkflowService interface {
	CreateWorkflow(ctx context.Context, sessionID string, in ontology.CreateInput) (*schema.Workflow, error)
	UpdateWorkflow(ctx context.Context, sessionID, workflowID string, in ontology.UpdateInput) (*schema.Workflow, error)
	DeleteWorkflow(ctx context.Context, sessionID, workflowID string, hard bool) error
	DuplicateWorkflow(ctx context.Context, sessionID, workflowID, newName string) (*schema.Workflow, error)
	GetWorkflow(ctx context.Context, sessionID, workflowID string) (*schema.Workflow, error)
	ListWorkflows(ctx context.Context, sessionID, orgID string, filter ontology.ListFilter) ([]*schema.Workflow, error)
	GetWorkflowsByTrigger(ctx context.Context, sessionID, orgID, trigger string) ([]*schema.Workflow, error)
	ExecuteWorkflow(ctx context.Context, sessionID, workflowID string, overrides map[string]any) (*ontology.ExecuteResult, error)
}

// TemplateResolver resolves template sets. Satisfied by *templates.Resolver.
type TemplateResolver interface {
	ResolveTemplateSet(ctx context.Context, organizationID string, rc templates.ResolveContext) (*schema.ResolvedTemplateSet, error)
}

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Workflows  WorkflowService
	Resolver   TemplateResolver
	Authorizer auth.Authorizer
	Executions store.ExecutionLogStore
	Logger     *slog.Logger
}

// Server wraps an MCP server with the flowkit tool handlers.
type Server struct {
	workflows  WorkflowService
	resolver   TemplateResolver
	auth       auth.Authorizer
	executions store.ExecutionLogStore
	sessions   *SessionRegistry
	notifier   Notifier
	logger     *slog.Logger
	mcpServer  *server.MCPServer
}

// NewServer creates a Server with every tool registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &Server{
		workflows:  deps.Workflows,
		resolver:   deps.Resolver,
		auth:       deps.Authorizer,
		executions: deps.Executions,
		sessions:   NewSessionRegistry(),
		logger:     logger,
	}

	mcpSrv := server.NewMCPServer(
		"flowkit",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Flowkit orchestrates workflow behaviors. Every tool takes the caller's session_id. Use flowkit.workflow.create to define a workflow, flowkit.workflow.execute to run it and flowkit.executions.get to read its execution log."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: createTool(), Handler: s.handleCreate},
		{Tool: updateTool(), Handler: s.handleUpdate},
		{Tool: deleteTool(), Handler: s.handleDelete},
		{Tool: duplicateTool(), Handler: s.handleDuplicate},
		{Tool: listTool(), Handler: s.handleList},
		{Tool: getTool(), Handler: s.handleGet},
		{Tool: executeTool(), Handler: s.handleExecute},
		{Tool: byTriggerTool(), Handler: s.handleByTrigger},
		{Tool: resolveTemplatesTool(), Handler: s.handleResolveTemplates},
		{Tool: executionTool(), Handler: s.handleExecution},
	}
}

// --- Tool definitions ---

func sessionParam() mcp.ToolOption {
	return mcp.WithString("session_id", mcp.Required(), mcp.Description("Session token of the calling user"))
}

func createTool() mcp.Tool {
	return mcp.NewTool("flowkit.workflow.create",
		mcp.WithDescription("Create a workflow from objects, behaviors and an execution policy"),
		sessionParam(),
		mcp.WithString("name", mcp.Required(), mcp.Description("Workflow name")),
		mcp.WithString("organization_id", mcp.Description("Owning organization (default: the caller's)")),
		mcp.WithString("description", mcp.Description("Workflow description")),
		mcp.WithString("status", mcp.Enum("draft", "active", "archived"), mcp.Description("Initial status (default: draft)")),
		mcp.WithArray("objects", mcp.Description("Object references: {objectId, objectType, role, config}")),
		mcp.WithArray("behaviors", mcp.Description("Behaviors: {type, enabled, priority, config, triggers}")),
		mcp.WithObject("execution", mcp.Description("Execution policy: {triggerOn, requiredInputs, outputActions, errorHandling, schedule}")),
		mcp.WithObject("visual_data", mcp.Description("Visual builder layout")),
	)
}

func updateTool() mcp.Tool {
	return mcp.NewTool("flowkit.workflow.update",
		mcp.WithDescription("Partially update a workflow"),
		sessionParam(),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to update")),
		mcp.WithString("name", mcp.Description("New name")),
		mcp.WithString("description", mcp.Description("New description")),
		mcp.WithString("status", mcp.Enum("draft", "active", "archived"), mcp.Description("New lifecycle status")),
		mcp.WithArray("objects", mcp.Description("Replacement object references")),
		mcp.WithArray("behaviors", mcp.Description("Replacement behaviors; matching ids keep their creation metadata")),
		mcp.WithObject("execution", mcp.Description("Replacement execution policy")),
		mcp.WithObject("visual_data", mcp.Description("Replacement visual builder layout")),
	)
}

func deleteTool() mcp.Tool {
	return mcp.NewTool("flowkit.workflow.delete",
		mcp.WithDescription("Archive a workflow, or delete it permanently"),
		sessionParam(),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to delete")),
		mcp.WithBoolean("hard", mcp.Description("Remove permanently instead of archiving")),
	)
}

func duplicateTool() mcp.Tool {
	return mcp.NewTool("flowkit.workflow.duplicate",
		mcp.WithDescription("Clone a workflow as a new draft"),
		sessionParam(),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to clone")),
		mcp.WithString("name", mcp.Description("Name of the copy (default: \"<name> (Copy)\")")),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool("flowkit.workflow.list",
		mcp.WithDescription("List an organization's workflows"),
		sessionParam(),
		mcp.WithString("organization_id", mcp.Description("Organization (default: the caller's)")),
		mcp.WithString("status", mcp.Enum("draft", "active", "archived"), mcp.Description("Filter by status")),
		mcp.WithString("trigger_on", mcp.Description("Filter by trigger")),
	)
}

func getTool() mcp.Tool {
	return mcp.NewTool("flowkit.workflow.get",
		mcp.WithDescription("Get a workflow definition"),
		sessionParam(),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow")),
	)
}

func executeTool() mcp.Tool {
	return mcp.NewTool("flowkit.workflow.execute",
		mcp.WithDescription("Run a workflow's enabled behaviors in priority order"),
		sessionParam(),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to run")),
		mcp.WithObject("workflow_data", mcp.Description("Input data exposed to behaviors as context.workflowData")),
	)
}

func byTriggerTool() mcp.Tool {
	return mcp.NewTool("flowkit.workflow.by_trigger",
		mcp.WithDescription("List the active workflows fired by a trigger"),
		sessionParam(),
		mcp.WithString("trigger", mcp.Required(), mcp.Description("Trigger name, e.g. registration.completed")),
		mcp.WithString("organization_id", mcp.Description("Organization (default: the caller's)")),
	)
}

func resolveTemplatesTool() mcp.Tool {
	return mcp.NewTool("flowkit.templates.resolve",
		mcp.WithDescription("Resolve the template set that applies to a context"),
		sessionParam(),
		mcp.WithString("manual_set_id", mcp.Description("Explicit template set")),
		mcp.WithString("product_id", mcp.Description("Product whose linked set applies")),
		mcp.WithString("checkout_instance_id", mcp.Description("Checkout instance whose linked set applies")),
		mcp.WithString("domain_config_id", mcp.Description("Domain config whose linked set applies")),
	)
}

func executionTool() mcp.Tool {
	return mcp.NewTool("flowkit.executions.get",
		mcp.WithDescription("Get an execution log with its lines, or list a workflow's executions"),
		sessionParam(),
		mcp.WithString("execution_id", mcp.Description("ID of the execution log")),
		mcp.WithString("workflow_id", mcp.Description("List executions of this workflow instead")),
		mcp.WithNumber("limit", mcp.Description("Maximum executions to list (default: 20)")),
	)
}
