package tracker

import (
	"encoding/json"
	"math"
	"simtracker/internal/apperrors"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ChannelRequest asks for one channel. Only triggered requests are honored;
// Value, when set, is what the simulation receives on its incoming side.
type ChannelRequest struct {
	Triggered bool `json:"triggered"`
	Value     any  `json:"value,omitempty"`
}

// Query asks a simulation for the current values of some channels.
// A zero Timeout waits until every requested channel is answered.
type Query struct {
	ID       uuid.UUID
	Timeout  time.Duration
	Channels map[string]ChannelRequest
}

// NewQuery builds a query requesting each named channel with no payload.
func NewQuery(id uuid.UUID, timeout time.Duration, channels ...string) Query {
	q := Query{ID: id, Timeout: timeout, Channels: make(map[string]ChannelRequest, len(channels))}
	for _, name := range channels {
		q.Channels[name] = ChannelRequest{Triggered: true}
	}
	return q
}

// Requested returns the sorted names of triggered channel requests.
func (q Query) Requested() []string {
	names := make([]string, 0, len(q.Channels))
	for name, req := range q.Channels {
		if req.Triggered {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Validate checks a query. Does not modify it.
func (q Query) Validate() error {
	if q.Timeout < 0 {
		return apperrors.Validation("timeout", "timeout must be zero or positive")
	}
	return nil
}

// queryJSON is the wire form. Timeout is in seconds. Channels may also be
// given as top-level fields next to id and timeout.
type queryJSON struct {
	ID       string                    `json:"id"`
	Timeout  float64                   `json:"timeout"`
	Channels map[string]ChannelRequest `json:"channels,omitempty"`
}

// UnmarshalJSON accepts both the nested "channels" form and flat channel fields.
func (q *Query) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var raw queryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	// An id that does not parse names no simulation and resolves like any
	// unknown one.
	id, err := uuid.Parse(raw.ID)
	if err != nil {
		id = NoID
	}
	if math.IsNaN(raw.Timeout) || math.IsInf(raw.Timeout, 0) {
		return apperrors.Validation("timeout", "timeout must be finite")
	}

	q.ID = id
	q.Timeout = secondsToDuration(raw.Timeout)
	q.Channels = make(map[string]ChannelRequest, len(raw.Channels))
	for name, req := range raw.Channels {
		q.Channels[name] = req
	}
	for name, value := range fields {
		if name == "id" || name == "timeout" || name == "channels" {
			continue
		}
		var req ChannelRequest
		if err := json.Unmarshal(value, &req); err != nil {
			continue
		}
		if _, exists := q.Channels[name]; !exists {
			q.Channels[name] = req
		}
	}
	return nil
}

// secondsToDuration converts s, saturating at the largest Duration.
func secondsToDuration(s float64) time.Duration {
	if s >= float64(math.MaxInt64)/float64(time.Second) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(s * float64(time.Second))
}

// MarshalJSON writes the nested wire form.
func (q Query) MarshalJSON() ([]byte, error) {
	return json.Marshal(queryJSON{
		ID:       q.ID.String(),
		Timeout:  q.Timeout.Seconds(),
		Channels: q.Channels,
	})
}
