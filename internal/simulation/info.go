package simulation

import (
	"time"

	"github.com/google/uuid"
)

// Info is a point-in-time record of a simulation, used for status responses,
// persistence and history reload.
type Info struct {
	ID           uuid.UUID         `json:"id"`
	Name         string            `json:"name"`
	Key          string            `json:"sim_key"`
	State        string            `json:"state"`
	Created      time.Time         `json:"created"`
	Started      time.Time         `json:"started,omitzero"`
	Ended        time.Time         `json:"ended,omitzero"`
	IsDone       bool              `json:"is_done"`
	Cancelled    bool              `json:"cancelled"`
	Failed       bool              `json:"failed"`
	ForceStopped bool              `json:"force_stopped"`
	ErrorDetails []string          `json:"error_details,omitempty"`
	Controls     map[string]string `json:"control_requests,omitempty"`
	Config       Config            `json:"config"`
}

// Snapshot captures the simulation's current state.
func (s *Simulation) Snapshot() Info {
	done := s.IsDone()
	controls := s.interactor.PendingControls()

	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{
		ID:           s.id,
		Name:         s.config.Name,
		Key:          s.config.Key,
		State:        s.state.String(),
		Created:      s.created,
		Started:      s.started,
		Ended:        s.ended,
		IsDone:       done,
		Cancelled:    s.cancelled,
		Failed:       s.failed,
		ForceStopped: s.forceStopped,
		ErrorDetails: append([]string(nil), s.errorDetails...),
		Config:       s.config.Clone(),
	}
	if len(controls) > 0 {
		info.Controls = controls
	}
	return info
}

// Restore rebuilds a finished simulation from a stored record. The result has
// no payload, reads as done and cannot be started.
func Restore(info Info, storagePath string) *Simulation {
	s := New(info.Config, nil)
	s.id = info.ID
	s.storagePath = storagePath
	s.state = Done
	s.created = info.Created
	s.started = info.Started
	s.ended = info.Ended
	s.cancelled = info.Cancelled
	s.failed = info.Failed
	s.forceStopped = info.ForceStopped
	s.errorDetails = append([]string(nil), info.ErrorDetails...)
	return s
}
