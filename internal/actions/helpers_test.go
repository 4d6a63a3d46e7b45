package actions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rendis/flowkit/internal/store"
	"github.com/rendis/flowkit/internal/templates"
	"github.com/rendis/flowkit/pkg/schema"
)

// memStore is an in-memory store.ObjectStore keeping insertion order.
type memStore struct {
	order   []string
	objects map[string]*store.Object
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string]*store.Object)}
}

func (m *memStore) InsertObject(_ context.Context, obj *store.Object) error {
	if _, dup := m.objects[obj.ID]; dup {
		return schema.NewErrorf(schema.ErrCodeConflict, "object %q exists", obj.ID)
	}
	m.order = append(m.order, obj.ID)
	m.objects[obj.ID] = obj
	return nil
}

func (m *memStore) GetObject(_ context.Context, id string) (*store.Object, error) {
	o, ok := m.objects[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "object %q not found", id)
	}
	return o, nil
}

func (m *memStore) PatchObject(_ context.Context, id string, p store.ObjectPatch) error {
	o, ok := m.objects[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "object %q not found", id)
	}
	if o.CustomProperties == nil {
		o.CustomProperties = map[string]any{}
	}
	for k, v := range p.CustomProperties {
		if v == nil {
			delete(o.CustomProperties, k)
			continue
		}
		o.CustomProperties[k] = v
	}
	if p.Status != nil {
		o.Status = *p.Status
	}
	return nil
}

func (m *memStore) IncrementCounters(_ context.Context, id, property string, deltas map[string]float64) (map[string]any, error) {
	o, ok := m.objects[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "object %q not found", id)
	}
	if o.CustomProperties == nil {
		o.CustomProperties = map[string]any{}
	}
	counters, _ := o.CustomProperties[property].(map[string]any)
	if counters == nil {
		counters = map[string]any{}
	}
	for name, d := range deltas {
		current, _ := counters[name].(float64)
		counters[name] = current + d
	}
	o.CustomProperties[property] = counters
	return counters, nil
}

func (m *memStore) DeleteObject(_ context.Context, id string) error {
	delete(m.objects, id)
	return nil
}

func (m *memStore) QueryObjects(_ context.Context, f store.ObjectFilter) ([]*store.Object, error) {
	var out []*store.Object
	for _, id := range m.order {
		o, ok := m.objects[id]
		if !ok {
			continue
		}
		if (f.OrganizationID != "" && o.OrganizationID != f.OrganizationID) ||
			(f.Type != "" && o.Type != f.Type) ||
			(f.Status != "" && o.Status != f.Status) ||
			(f.ExcludeStatus != "" && o.Status == f.ExcludeStatus) {
			continue
		}
		match := true
		for k, v := range f.PropertyEquals {
			if o.CustomProperties[k] != v {
				match = false
			}
		}
		if match {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memStore) ofType(typ string) []*store.Object {
	out, _ := m.QueryObjects(context.Background(), store.ObjectFilter{Type: typ})
	return out
}

// stubResolver returns fixed template ids per type.
type stubResolver struct {
	ids   map[string]string
	err   error
	calls []templates.ResolveContext
}

func (s *stubResolver) ResolveIndividualTemplate(_ context.Context, _ string, templateType string, rc templates.ResolveContext) (string, error) {
	s.calls = append(s.calls, rc)
	if s.err != nil {
		return "", s.err
	}
	id, ok := s.ids[templateType]
	if !ok {
		return "", schema.NewErrorf(schema.ErrCodeNotFound, "no %q template", templateType)
	}
	return id, nil
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func builtin(t *testing.T, deps BuiltinDeps, bt schema.BehaviorType) Action {
	t.Helper()
	if deps.Store == nil {
		deps.Store = newMemStore()
	}
	if deps.Resolver == nil {
		deps.Resolver = &stubResolver{}
	}
	if deps.Now == nil {
		deps.Now = func() time.Time { return fixedNow }
	}
	reg := NewRegistry()
	require.NoError(t, RegisterBuiltins(reg, deps))
	a, err := reg.Get(bt)
	require.NoError(t, err)
	return a
}

func run(t *testing.T, a Action, config, execCtx map[string]any) *schema.BehaviorResult {
	t.Helper()
	res, err := a.Execute(context.Background(), ActionInput{
		SessionID:      "sess-1",
		OrganizationID: "org-1",
		Config:         config,
		Context:        execCtx,
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}
