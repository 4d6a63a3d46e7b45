package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer(t *testing.T) {
	s := NewServer(ServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.notifier)
}

func TestToolRegistration(t *testing.T) {
	s := NewServer(ServerDeps{})

	expectedTools := []string{
		"flowkit.workflow.create",
		"flowkit.workflow.update",
		"flowkit.workflow.delete",
		"flowkit.workflow.duplicate",
		"flowkit.workflow.list",
		"flowkit.workflow.get",
		"flowkit.workflow.execute",
		"flowkit.workflow.by_trigger",
		"flowkit.templates.resolve",
		"flowkit.executions.get",
	}
	require.Len(t, s.mcpServer.ListTools(), len(expectedTools))
	for _, name := range expectedTools {
		tool := s.mcpServer.GetTool(name)
		require.NotNil(t, tool, "tool %s should be registered", name)
		assert.Contains(t, tool.Tool.InputSchema.Required, "session_id", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		toolName    string
		description string
	}{
		{"flowkit.workflow.create", "Create a workflow from objects, behaviors and an execution policy"},
		{"flowkit.workflow.execute", "Run a workflow's enabled behaviors in priority order"},
		{"flowkit.templates.resolve", "Resolve the template set that applies to a context"},
	}

	s := NewServer(ServerDeps{})

	for _, tc := range tests {
		t.Run(tc.toolName, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}
