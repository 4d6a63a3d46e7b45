package engine

import (
	"context"
	"slices"
	"sync"

	"github.com/rendis/flowkit/pkg/schema"
)

// TransitionHook is called before or after a lifecycle transition.
type TransitionHook func(ctx context.Context, workflowID string, from, to schema.WorkflowStatus) error

type lifecycleKey struct {
	from, to schema.WorkflowStatus
}

// LifecycleFSM guards workflow status changes. The caller persists the new
// status after Transition succeeds.
type LifecycleFSM struct {
	mu     sync.Mutex
	before map[lifecycleKey][]TransitionHook
	after  map[lifecycleKey][]TransitionHook
}

// NewLifecycleFSM creates an FSM with no hooks.
func NewLifecycleFSM() *LifecycleFSM {
	return &LifecycleFSM{
		before: make(map[lifecycleKey][]TransitionHook),
		after:  make(map[lifecycleKey][]TransitionHook),
	}
}

// OnBefore registers a hook run before from -> to. A hook error vetoes
// the transition.
func (f *LifecycleFSM) OnBefore(from, to schema.WorkflowStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := lifecycleKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook run after from -> to.
func (f *LifecycleFSM) OnAfter(from, to schema.WorkflowStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := lifecycleKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates from -> to and runs its hooks. Same-status
// transitions are no-ops.
func (f *LifecycleFSM) Transition(ctx context.Context, workflowID string, from, to schema.WorkflowStatus) error {
	if from == to {
		return nil
	}
	if !CanTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid workflow transition: %s -> %s", from, to).
			WithDetails(map[string]any{"workflowId": workflowID, "from": string(from), "to": string(to)})
	}

	f.mu.Lock()
	key := lifecycleKey{from, to}
	before := slices.Clone(f.before[key])
	after := slices.Clone(f.after[key])
	f.mu.Unlock()

	for _, hook := range before {
		if err := hook(ctx, workflowID, from, to); err != nil {
			return err
		}
	}
	for _, hook := range after {
		if err := hook(ctx, workflowID, from, to); err != nil {
			return err
		}
	}
	return nil
}

// CanTransition reports whether from -> to is an allowed lifecycle change.
func CanTransition(from, to schema.WorkflowStatus) bool {
	return slices.Contains(ValidWorkflowTransitions[from], to)
}

// ValidWorkflowTransitions defines the allowed lifecycle changes.
var ValidWorkflowTransitions = map[schema.WorkflowStatus][]schema.WorkflowStatus{
	schema.WorkflowStatusDraft:    {schema.WorkflowStatusActive, schema.WorkflowStatusArchived},
	schema.WorkflowStatusActive:   {schema.WorkflowStatusDraft, schema.WorkflowStatusArchived},
	schema.WorkflowStatusArchived: {schema.WorkflowStatusDraft},
}
