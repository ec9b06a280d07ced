package tracker

import (
	"encoding/json"
	"errors"
	"math"
	"slices"
	"testing"
	"time"

	"simtracker/internal/apperrors"

	"github.com/google/uuid"
)

func TestQuery_UnmarshalJSON(t *testing.T) {
	t.Parallel()
	id := uuid.New()

	tests := []struct {
		name      string
		body      string
		timeout   time.Duration
		requested []string
		values    map[string]any
	}{
		{
			name:      "nested channels",
			body:      `{"id":"` + id.String() + `","timeout":1.5,"channels":{"progress":{"triggered":true},"stop_simulation":{"triggered":false}}}`,
			timeout:   1500 * time.Millisecond,
			requested: []string{"progress"},
		},
		{
			name:      "flat channels",
			body:      `{"id":"` + id.String() + `","timeout":2,"progress":{"triggered":true},"custom_query":{"triggered":true,"value":{"cmd":"continue"}}}`,
			timeout:   2 * time.Second,
			requested: []string{"custom_query", "progress"},
			values:    map[string]any{"custom_query": map[string]any{"cmd": "continue"}},
		},
		{
			name:      "nested wins over flat",
			body:      `{"id":"` + id.String() + `","channels":{"progress":{"triggered":false}},"progress":{"triggered":true}}`,
			requested: []string{},
		},
		{
			name:      "non-object fields ignored",
			body:      `{"id":"` + id.String() + `","timeout":0,"note":"hello","progress":{"triggered":true}}`,
			requested: []string{"progress"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var q Query
			if err := json.Unmarshal([]byte(tt.body), &q); err != nil {
				t.Fatalf("Unmarshal failed: %v", err)
			}
			if q.ID != id {
				t.Errorf("Expected id %s, got %s", id, q.ID)
			}
			if q.Timeout != tt.timeout {
				t.Errorf("Expected timeout %v, got %v", tt.timeout, q.Timeout)
			}
			if got := q.Requested(); !slices.Equal(got, tt.requested) {
				t.Errorf("Expected requested %v, got %v", tt.requested, got)
			}
			for name, want := range tt.values {
				got, _ := json.Marshal(q.Channels[name].Value)
				wantJSON, _ := json.Marshal(want)
				if string(got) != string(wantJSON) {
					t.Errorf("Expected %s value %s, got %s", name, wantJSON, got)
				}
			}
		})
	}
}

func TestQuery_UnmarshalJSON_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		validation bool
	}{
		{"not an object", `[1,2]`, false},
		{"timeout wrong type", `{"id":"` + uuid.NewString() + `","timeout":"soon"}`, false},
		{"id wrong type", `{"id":42}`, false},
	}

	for _, tt := range tests {
		var q Query
		err := json.Unmarshal([]byte(tt.body), &q)
		if err == nil {
			t.Errorf("%s: Expected error", tt.name)
			continue
		}
		if got := errors.Is(err, apperrors.ErrValidation); got != tt.validation {
			t.Errorf("%s: Expected validation=%v, got %v (%v)", tt.name, tt.validation, got, err)
		}
	}
}

func TestQuery_UnmarshalJSON_UnparsableIDIsNoID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"missing id", `{"timeout":1,"progress":{"triggered":true}}`},
		{"empty id", `{"id":"","progress":{"triggered":true}}`},
		{"malformed id", `{"id":"not-a-uuid","progress":{"triggered":true}}`},
	}

	for _, tt := range tests {
		var q Query
		if err := json.Unmarshal([]byte(tt.body), &q); err != nil {
			t.Errorf("%s: Expected no error, got %v", tt.name, err)
			continue
		}
		if q.ID != NoID {
			t.Errorf("%s: Expected the empty id, got %s", tt.name, q.ID)
		}
		if got := q.Requested(); !slices.Equal(got, []string{"progress"}) {
			t.Errorf("%s: Expected progress requested, got %v", tt.name, got)
		}
	}
}

func TestQuery_UnmarshalJSON_LargeTimeout(t *testing.T) {
	t.Parallel()

	for _, timeout := range []string{"1e10", "9223372036.854775807", "1e300"} {
		var q Query
		if err := json.Unmarshal([]byte(`{"id":"`+uuid.NewString()+`","timeout":`+timeout+`}`), &q); err != nil {
			t.Fatalf("timeout %s: Unmarshal failed: %v", timeout, err)
		}
		if q.Timeout != time.Duration(math.MaxInt64) {
			t.Errorf("timeout %s: Expected saturated duration, got %v", timeout, q.Timeout)
		}
		if err := q.Validate(); err != nil {
			t.Errorf("timeout %s: Expected valid query, got %v", timeout, err)
		}
	}
}

func TestQuery_MarshalJSON(t *testing.T) {
	t.Parallel()
	id := uuid.New()
	q := NewQuery(id, 250*time.Millisecond, "progress")

	data, err := json.Marshal(q)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if raw["id"] != id.String() {
		t.Errorf("Expected id %s, got %v", id, raw["id"])
	}
	if raw["timeout"] != 0.25 {
		t.Errorf("Expected timeout 0.25, got %v", raw["timeout"])
	}
	channels, _ := raw["channels"].(map[string]any)
	progress, _ := channels["progress"].(map[string]any)
	if progress["triggered"] != true {
		t.Errorf("Expected progress triggered, got %v", channels)
	}
}

func TestQuery_Validate(t *testing.T) {
	t.Parallel()
	id := uuid.New()

	if err := NewQuery(id, 0).Validate(); err != nil {
		t.Errorf("Expected zero timeout valid, got %v", err)
	}
	if err := NewQuery(id, -time.Millisecond).Validate(); !errors.Is(err, apperrors.ErrValidation) {
		t.Errorf("Expected validation error, got %v", err)
	}
}
