package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"
)

// Notifier pushes notifications to the client behind a session token.
type Notifier interface {
	Notify(ctx context.Context, sessionToken string, payload map[string]any) error
}

// MCPNotifier implements Notifier over the MCP server's client sessions.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes to registered sessions.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify is best-effort: it returns nil when the client is not connected.
func (n *MCPNotifier) Notify(_ context.Context, sessionToken string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionFor(sessionToken)
	if !ok {
		return nil
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}
