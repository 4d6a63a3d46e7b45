package actions

import (
	"context"
	"fmt"

	"github.com/rendis/flowkit/internal/store"
	"github.com/rendis/flowkit/pkg/schema"
)

// checkEventCapacityAction fails when an event has no seats left for the
// requested quantity. Capacity lives in the event's customProperties;
// sold seats are the issued tickets referencing the event.
type checkEventCapacityAction struct {
	store store.ObjectStore
}

func (a *checkEventCapacityAction) Type() schema.BehaviorType {
	return schema.BehaviorCheckEventCapacity
}

func (a *checkEventCapacityAction) Description() string {
	return "Verify the event still has seats for the requested quantity"
}

func (a *checkEventCapacityAction) Execute(ctx context.Context, in ActionInput) (*schema.BehaviorResult, error) {
	eventID := lookupString(in, "eventId")
	if eventID == "" {
		return fail("Missing event", "eventId is required in config or context"), nil
	}

	event, err := a.store.GetObject(ctx, eventID)
	if schema.IsNotFound(err) {
		return fail("Event not found", fmt.Sprintf("event %q not found", eventID)), nil
	}
	if err != nil {
		return nil, err
	}

	capacity, limited := event.CustomProperties["capacity"]
	capacityN := floatParam(event.CustomProperties, "capacity", 0)
	if !limited || capacity == nil {
		return succeed("Event has unlimited capacity", map[string]any{"capacityAvailable": true}), nil
	}

	tickets, err := a.store.QueryObjects(ctx, store.ObjectFilter{
		OrganizationID: event.OrganizationID,
		Type:           ObjectTypeTicket,
		ExcludeStatus:  "cancelled",
		PropertyEquals: map[string]any{"eventId": eventID},
	})
	if err != nil {
		return nil, err
	}
	var sold float64
	for _, t := range tickets {
		sold += floatParam(t.CustomProperties, "quantity", 1)
	}

	requested := lookupFloat(in, "quantity", 1)
	remaining := capacityN - sold
	data := map[string]any{
		"capacity":          capacityN,
		"sold":              sold,
		"remaining":         remaining,
		"capacityAvailable": remaining >= requested,
	}
	if remaining < requested {
		res := fail("Event is sold out", fmt.Sprintf("event %q has %v seats left, %v requested", eventID, remaining, requested))
		res.Data = data
		return res, nil
	}
	return succeed("Seats available", data), nil
}
