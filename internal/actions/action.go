// Package actions defines the contract between the behavior executor and the
// side-effecting actions it dispatches to, and ships local implementations
// of every server-side behavior.
package actions

import (
	"context"

	"github.com/rendis/flowkit/pkg/schema"
)

// Action performs one server-side behavior. Implementations must be safe
// for concurrent use; the executor may run several workflows at once.
type Action interface {
	Type() schema.BehaviorType
	Execute(ctx context.Context, input ActionInput) (*schema.BehaviorResult, error)
}

// Describer is implemented by actions that carry a human description.
type Describer interface {
	Description() string
}

// ActionRegistry manages lookup of available actions.
type ActionRegistry interface {
	Register(action Action) error
	Get(behaviorType schema.BehaviorType) (Action, error)
	List() []ActionInfo
}

// ActionInput is the envelope every action receives.
type ActionInput struct {
	SessionID      string         `json:"sessionId,omitempty"`
	OrganizationID string         `json:"organizationId"`
	Config         map[string]any `json:"config,omitempty"`
	Context        map[string]any `json:"context,omitempty"`
}

// ActionInfo is a summary of a registered action for listing.
type ActionInfo struct {
	Type        schema.BehaviorType `json:"type"`
	Description string              `json:"description,omitempty"`
}
