package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"simtracker/internal/apperrors"
	"simtracker/internal/simulation"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("New(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleInfo(key string, created time.Time) simulation.Info {
	return simulation.Info{
		ID:      uuid.New(),
		Name:    key + " run",
		Key:     key,
		Created: created,
		Config: simulation.Config{
			Name:   key + " run",
			Key:    key,
			Params: map[string]any{"ticks": 3.0},
		},
	}
}

func boolPtr(b bool) *bool { return &b }

func TestRecord_InsertThenUpdate(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	info := sampleInfo("demo", time.Now().UTC())

	if err := s.Record(ctx, info); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got, err := s.Get(ctx, info.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.IsDone || !got.Started.IsZero() {
		t.Errorf("Expected fresh record, got %+v", got)
	}
	if got.Config.Params["ticks"] != 3.0 {
		t.Errorf("Expected config round trip, got %v", got.Config.Params)
	}

	info.Started = info.Created.Add(time.Second)
	info.Ended = info.Created.Add(2 * time.Second)
	info.IsDone = true
	info.Failed = true
	info.ErrorDetails = []string{"run: boom"}
	if err := s.Record(ctx, info); err != nil {
		t.Fatalf("Record update: %v", err)
	}

	got, err = s.Get(ctx, info.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.IsDone || !got.Failed || got.State != "done" {
		t.Errorf("Expected done+failed, got %+v", got)
	}
	if !got.Ended.Equal(info.Ended) {
		t.Errorf("Expected ended %v, got %v", info.Ended, got.Ended)
	}
	if len(got.ErrorDetails) != 1 || got.ErrorDetails[0] != "run: boom" {
		t.Errorf("Expected error details, got %v", got.ErrorDetails)
	}

	all, err := s.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("Expected upsert to keep a single row, got %d", len(all))
	}
}

func TestGet_NotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.Get(context.Background(), uuid.New())
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestList_Filters(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	running := sampleInfo("demo", base)
	done := sampleInfo("demo", base.Add(time.Minute))
	done.IsDone = true
	done.Started = base.Add(time.Minute)
	done.Ended = base.Add(2 * time.Minute)
	cancelled := sampleInfo("other", base.Add(2*time.Minute))
	cancelled.IsDone = true
	cancelled.Cancelled = true
	cancelled.Started = base.Add(3 * time.Minute)
	cancelled.Ended = base.Add(4 * time.Minute)

	for _, info := range []simulation.Info{cancelled, running, done} {
		if err := s.Record(ctx, info); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   []uuid.UUID
	}{
		{name: "all ordered by created", filter: Filter{}, want: []uuid.UUID{running.ID, done.ID, cancelled.ID}},
		{name: "done only", filter: Filter{Done: boolPtr(true)}, want: []uuid.UUID{done.ID, cancelled.ID}},
		{name: "not done", filter: Filter{Done: boolPtr(false)}, want: []uuid.UUID{running.ID}},
		{name: "cancelled", filter: Filter{Cancelled: boolPtr(true)}, want: []uuid.UUID{cancelled.ID}},
		{name: "by key", filter: Filter{Key: "other"}, want: []uuid.UUID{cancelled.ID}},
		{name: "started after", filter: Filter{StartedAfter: base.Add(150 * time.Second)}, want: []uuid.UUID{cancelled.ID}},
		{name: "ended before", filter: Filter{EndedBefore: base.Add(3 * time.Minute)}, want: []uuid.UUID{done.ID}},
		{name: "limit", filter: Filter{Limit: 1}, want: []uuid.UUID{running.ID}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %d records, got %d", len(tt.want), len(got))
			}
			for i := range tt.want {
				if got[i].ID != tt.want[i] {
					t.Errorf("Record %d: expected %s, got %s", i, tt.want[i], got[i].ID)
				}
			}
		})
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	a := sampleInfo("demo", time.Now().UTC())
	b := sampleInfo("demo", time.Now().UTC())
	_ = s.Record(ctx, a)
	_ = s.Record(ctx, b)

	n, err := s.Delete(ctx, a.ID, uuid.New())
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 row deleted, got %d", n)
	}
	if n, _ := s.Delete(ctx); n != 0 {
		t.Errorf("Expected no-op delete, got %d", n)
	}

	n, err = s.DeleteAll(ctx)
	if err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 remaining row deleted, got %d", n)
	}
}

func TestPing(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestIsTransientSQLiteErr(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("database is locked"), true},
		{errors.New("SQLITE_BUSY: busy"), true},
		{errors.New("constraint failed"), false},
	}
	for _, tt := range tests {
		if got := isTransientSQLiteErr(tt.err); got != tt.want {
			t.Errorf("isTransientSQLiteErr(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRetryOnContention(t *testing.T) {
	t.Parallel()
	calls := 0
	err := retryOnContention(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if calls != 3 {
		t.Errorf("Expected 3 calls, got %d", calls)
	}

	calls = 0
	permanent := errors.New("no such table")
	if err := retryOnContention(context.Background(), func() error {
		calls++
		return permanent
	}); !errors.Is(err, permanent) || calls != 1 {
		t.Errorf("Expected immediate permanent error, got %v after %d calls", err, calls)
	}
}
