package mcp

import "sync"

// SessionRegistry maps flowkit session tokens to MCP client session IDs.
// Populated whenever a client calls a tool with a session_id.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // session token → MCP session ID
}

// NewSessionRegistry creates a new empty SessionRegistry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]string)}
}

// Register associates a session token with an MCP session ID. A reconnect
// overwrites the previous mapping.
func (r *SessionRegistry) Register(token, mcpSessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[token] = mcpSessionID
}

// SessionFor returns the MCP session ID for the given token, if connected.
func (r *SessionRegistry) SessionFor(token string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.sessions[token]
	return sid, ok
}

// Remove deletes every token mapped to the given MCP session ID.
func (r *SessionRegistry) Remove(mcpSessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for token, sid := range r.sessions {
		if sid == mcpSessionID {
			delete(r.sessions, token)
		}
	}
}
