// Package dispatcher delivers simulation lifecycle webhooks asynchronously so
// that a simulation's worker never waits on a slow callback endpoint.
package dispatcher

import (
	"context"
	"errors"
	"simtracker/pkg/cloudevent"
)

var (
	// ErrBufferFull is returned when the queue is full and the event is dropped.
	ErrBufferFull = errors.New("dispatcher buffer full, event dropped")
	// ErrClosed is returned by Dispatch after Close.
	ErrClosed = errors.New("dispatcher is closed")
)

// Dispatcher queues lifecycle events for delivery.
type Dispatcher interface {
	// Dispatch queues an event without blocking.
	Dispatch(event *Event) error

	// Stats returns delivery counters.
	Stats() Stats

	// Close stops accepting events and drains the queue until ctx is done.
	Close(ctx context.Context) error
}

// Event is one webhook delivery.
type Event struct {
	Payload     *cloudevent.CloudEvent
	Destination string // callback URL
	SigningKey  string // HMAC key, empty = unsigned
	Signature   string // pre-computed signature, takes precedence over SigningKey
	SimID       string // simulation the event describes, for logging
	Requeues    int    // times requeued while the destination's circuit was open
}

// Stats holds dispatcher counters.
type Stats struct {
	QueueDepth    int   `json:"queueDepth"`
	Queued        int64 `json:"queued"`
	Delivered     int64 `json:"delivered"`
	Failed        int64 `json:"failed"`
	Dropped       int64 `json:"dropped"`
	Requeued      int64 `json:"requeued"`
	RetriesTotal  int64 `json:"retriesTotal"`
	BreakersTotal int   `json:"breakersTotal"`
	BreakersOpen  int   `json:"breakersOpen"`
	// OpenHosts lists destination hosts whose circuit is open.
	OpenHosts []string `json:"openHosts,omitempty"`
}
