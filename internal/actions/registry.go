package actions

import (
	"sort"
	"sync"

	"github.com/rendis/flowkit/pkg/schema"
)

// Registry is the thread-safe ActionRegistry implementation.
type Registry struct {
	mu      sync.RWMutex
	actions map[schema.BehaviorType]Action
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[schema.BehaviorType]Action)}
}

// Register adds an action. Only server-side behavior types are accepted
// and each type may be registered once.
func (r *Registry) Register(action Action) error {
	bt, err := checkAction(action)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.actions[bt]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "action %q already registered", bt)
	}
	r.actions[bt] = action
	return nil
}

// Replace registers action, overriding any existing one of the same type.
func (r *Registry) Replace(action Action) error {
	bt, err := checkAction(action)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[bt] = action
	return nil
}

func checkAction(action Action) (schema.BehaviorType, error) {
	if action == nil {
		return "", schema.NewError(schema.ErrCodeValidation, "action is nil")
	}
	bt := action.Type()
	if bt.Kind() != schema.BehaviorKindServer {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "%q is not a server-side behavior type", bt)
	}
	return bt, nil
}

// Get retrieves the action for a behavior type.
func (r *Registry) Get(behaviorType schema.BehaviorType) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	action, ok := r.actions[behaviorType]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "no action registered for %q", behaviorType)
	}
	return action, nil
}

// List returns every registered action, sorted by type.
func (r *Registry) List() []ActionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ActionInfo, 0, len(r.actions))
	for bt, a := range r.actions {
		info := ActionInfo{Type: bt}
		if d, ok := a.(Describer); ok {
			info.Description = d.Description()
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Type < infos[j].Type
	})
	return infos
}

// Has checks if an action is registered.
func (r *Registry) Has(behaviorType schema.BehaviorType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[behaviorType]
	return ok
}

// Count returns the number of registered actions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}

var _ ActionRegistry = (*Registry)(nil)
