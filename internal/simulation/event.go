package simulation

import (
	"fmt"
	"simtracker/pkg/cloudevent"
	"slices"
	"time"
)

// Event names a lifecycle phase boundary that callbacks can attach to.
type Event string

// Lifecycle events, fired in this order.
const (
	StartSetup Event = "start_setup"
	EndSetup   Event = "end_setup"
	StartRun   Event = "start_run"
	EndRun     Event = "end_run"
)

var events = []Event{StartSetup, EndSetup, StartRun, EndRun}

// ParseEvent converts a name into an Event.
func ParseEvent(name string) (Event, bool) {
	e := Event(name)
	return e, slices.Contains(events, e)
}

// Webhook event types
const (
	EventTypeStart = "simtracker.simulation.start"
	EventTypeEnd   = "simtracker.simulation.end"
)

// FilteredEvents returns true if the event type should be sent based on the filter.
// If the filter is empty, all events are allowed.
func FilteredEvents(eventType string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	return slices.Contains(filter, eventType)
}

// EventBuilder builds CloudEvents describing a simulation's lifecycle.
type EventBuilder struct {
	source string
}

// NewEventBuilder creates an EventBuilder stamping events with source.
func NewEventBuilder(source string) *EventBuilder {
	return &EventBuilder{source: source}
}

func (b *EventBuilder) build(eventType string, info Info, data map[string]any) *cloudevent.CloudEvent {
	subject := info.ID.String()
	data["simId"] = subject
	data["name"] = info.Name
	data["simKey"] = info.Key
	eventID := fmt.Sprintf("%s-%d", subject, time.Now().UnixNano())
	return cloudevent.New(eventType, b.source, subject, eventID, data)
}

// BuildStartEvent creates the event sent when a simulation begins running.
func (b *EventBuilder) BuildStartEvent(info Info) *cloudevent.CloudEvent {
	return b.build(EventTypeStart, info, map[string]any{
		"started": info.Started,
	})
}

// BuildEndEvent creates the event sent after a simulation's worker exits.
func (b *EventBuilder) BuildEndEvent(info Info) *cloudevent.CloudEvent {
	data := map[string]any{
		"ended":     info.Ended,
		"cancelled": info.Cancelled,
		"failed":    info.Failed,
	}
	if len(info.ErrorDetails) > 0 {
		data["errorDetails"] = info.ErrorDetails
	}
	return b.build(EventTypeEnd, info, data)
}
