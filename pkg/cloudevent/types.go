// Package cloudevent provides CloudEvents 1.0 types and an HTTP sender for
// simulation lifecycle webhooks.
package cloudevent

import (
	"errors"
	"time"
)

// SpecVersion is the CloudEvents version produced by New.
const SpecVersion = "1.0"

// ErrInvalidEvent is returned by Validate and Send for events missing required attributes.
var ErrInvalidEvent = errors.New("invalid cloudevent")

// CloudEvent represents a CloudEvents 1.0 specification event
type CloudEvent struct {
	SpecVersion     string         `json:"specversion"`
	Type            string         `json:"type"`
	Source          string         `json:"source"`
	Subject         string         `json:"subject,omitempty"`
	ID              string         `json:"id"`
	Time            time.Time      `json:"time"`
	DataContentType string         `json:"datacontenttype"`
	Data            map[string]any `json:"data,omitempty"`
}

// New creates a new CloudEvent with default values
func New(eventType, source, subject, id string, data map[string]any) *CloudEvent {
	return &CloudEvent{
		SpecVersion:     SpecVersion,
		Type:            eventType,
		Source:          source,
		Subject:         subject,
		ID:              id,
		Time:            time.Now().UTC(),
		DataContentType: "application/json",
		Data:            data,
	}
}

// Validate checks the attributes CloudEvents requires.
func (e *CloudEvent) Validate() error {
	switch {
	case e == nil:
		return errors.Join(ErrInvalidEvent, errors.New("event is nil"))
	case e.SpecVersion != SpecVersion:
		return errors.Join(ErrInvalidEvent, errors.New("specversion must be "+SpecVersion))
	case e.ID == "":
		return errors.Join(ErrInvalidEvent, errors.New("id is required"))
	case e.Source == "":
		return errors.Join(ErrInvalidEvent, errors.New("source is required"))
	case e.Type == "":
		return errors.Join(ErrInvalidEvent, errors.New("type is required"))
	}
	return nil
}
