package actions

import (
	"context"
	"fmt"

	"github.com/rendis/flowkit/internal/expressions"
	"github.com/rendis/flowkit/internal/store"
	"github.com/rendis/flowkit/pkg/schema"
)

// updateStatisticsAction increments numeric counters stored on an object.
//
// Config:
//
//	objectId: target object, falls back to context.eventId
//	counters: {"registrations": 1, "revenue": "pricing.total"}
//
// A counter's increment is either a number or a dotted context path.
type updateStatisticsAction struct {
	store store.ObjectStore
}

func (a *updateStatisticsAction) Type() schema.BehaviorType { return schema.BehaviorUpdateStatistics }

func (a *updateStatisticsAction) Description() string {
	return "Increment statistics counters on an object"
}

func (a *updateStatisticsAction) Execute(ctx context.Context, in ActionInput) (*schema.BehaviorResult, error) {
	objectID := stringParam(in.Config, "objectId", stringParam(in.Context, "eventId", ""))
	if objectID == "" {
		return fail("Missing target", "objectId is required in config"), nil
	}
	counters := mapParam(in.Config, "counters")
	if len(counters) == 0 {
		counters = map[string]any{"registrations": 1.0}
	}

	deltas := make(map[string]float64, len(counters))
	for _, name := range sortedKeys(counters) {
		inc, ok := increment(counters[name], in.Context)
		if !ok {
			return fail("Invalid counter", fmt.Sprintf("counter %q has no numeric increment", name)), nil
		}
		deltas[name] = inc
	}

	updated, err := a.store.IncrementCounters(ctx, objectID, "statistics", deltas)
	if schema.IsNotFound(err) {
		return fail("Statistics target not found", fmt.Sprintf("object %q not found", objectID)), nil
	}
	if err != nil {
		return nil, err
	}
	return succeed("Statistics updated", map[string]any{"statistics": updated}), nil
}

func increment(v any, c map[string]any) (float64, bool) {
	if path, ok := v.(string); ok {
		v, _ = expressions.Lookup(c, path)
	}
	return expressions.ToFloat(v)
}
