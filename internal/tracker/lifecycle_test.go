package tracker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"simtracker/internal/apperrors"
	"simtracker/internal/interactor"
	"simtracker/internal/simulation"
	"simtracker/internal/testutil"

	"github.com/google/uuid"
)

func TestStop_Acknowledged(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(t)

	id, err := tr.Start(context.Background(), KeySpec("echo"), nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	res, err := tr.Stop(context.Background(), id)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !res.Acknowledged || res.ForceStopped {
		t.Errorf("Expected acknowledged stop, got %+v", res)
	}
	waitFinished(t, tr, id)

	res, err = tr.Stop(context.Background(), id)
	if err != nil || !res.Acknowledged {
		t.Errorf("Expected stopping a finished simulation to succeed, got %+v, %v", res, err)
	}
}

func TestStop_Unacknowledged(t *testing.T) {
	t.Parallel()
	tr := New(testRegistry(t), Config{PollInterval: 5 * time.Millisecond, StopTimeout: 30 * time.Millisecond})
	id, finish := startDeaf(t, tr)

	res, err := tr.Stop(context.Background(), id)
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !res.ForceStopped || res.Acknowledged {
		t.Errorf("Expected force-stopped result, got %+v", res)
	}
	if !tr.IsRunning(id) {
		t.Error("Expected deaf simulation to keep running")
	}

	finish()
	waitFinished(t, tr, id)
	info, _ := tr.Info(id)
	if !info.ForceStopped || !info.Cancelled {
		t.Errorf("Expected force_stopped and cancelled, got %+v", info)
	}
}

func TestStop_UnknownID(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(t)

	if _, err := tr.Stop(context.Background(), uuid.New()); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestClear(t *testing.T) {
	t.Parallel()
	rec := newFakeRecorder()
	tr := newTestTracker(t, WithRecorder(rec))

	finished, err := tr.Start(context.Background(), KeySpec("echo"), map[string]any{"steps": 1})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFinished(t, tr, finished)
	running, err := tr.Start(context.Background(), KeySpec("echo"), nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	results, err := tr.Clear(context.Background())
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if !results[running].Acknowledged {
		t.Errorf("Expected running simulation stop acknowledged, got %+v", results[running])
	}
	if _, ok := results[finished]; ok {
		t.Error("Expected no stop result for a finished simulation")
	}
	if got := len(tr.List()); got != 0 {
		t.Errorf("Expected no tracked simulations, got %d", got)
	}
	if rec.clearings != 1 {
		t.Errorf("Expected records deleted once, got %d", rec.clearings)
	}
	if tr.IsClearing() {
		t.Error("Expected clearing flag released")
	}
}

func TestClear_KeepsUnstoppedSimulations(t *testing.T) {
	t.Parallel()
	tr := New(testRegistry(t), Config{PollInterval: 5 * time.Millisecond, StopTimeout: 30 * time.Millisecond})
	id, _ := startDeaf(t, tr)

	results, err := tr.Clear(context.Background())
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if !results[id].ForceStopped {
		t.Errorf("Expected force-stopped result, got %+v", results[id])
	}
	if _, ok := tr.Get(id); !ok {
		t.Error("Expected still-running simulation to stay tracked")
	}
}

func TestClear_RejectsConcurrentClear(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(t)

	tr.clearing.Store(true)
	if _, err := tr.Clear(context.Background()); !errors.Is(err, ErrClearing) {
		t.Errorf("Expected ErrClearing, got %v", err)
	}
	if _, err := tr.Delete(context.Background(), uuid.New()); !errors.Is(err, ErrClearing) {
		t.Errorf("Expected ErrClearing from Delete, got %v", err)
	}
	tr.clearing.Store(false)
}

func TestDelete(t *testing.T) {
	t.Parallel()
	rec := newFakeRecorder()
	tr := newTestTracker(t, WithRecorder(rec))

	keep, err := tr.Start(context.Background(), KeySpec("echo"), map[string]any{"steps": 1})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	drop, err := tr.Start(context.Background(), KeySpec("echo"), nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	waitFinished(t, tr, keep)

	unknown := uuid.New()
	results, err := tr.Delete(context.Background(), drop, unknown)
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if !results[drop].Acknowledged {
		t.Errorf("Expected stop acknowledged, got %+v", results[drop])
	}
	if _, ok := tr.Get(drop); ok {
		t.Error("Expected deleted simulation forgotten")
	}
	if _, ok := tr.Get(keep); !ok {
		t.Error("Expected other simulation kept")
	}
	if _, ok := rec.get(drop); ok {
		t.Error("Expected deleted record removed")
	}
	if _, ok := rec.get(keep); !ok {
		t.Error("Expected other record kept")
	}
}

func TestDelete_OtherSimulationsStayUsable(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(t)

	echo, err := tr.Start(context.Background(), KeySpec("echo"), nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	deaf, finish := startDeaf(t, tr)

	deleted := make(chan error, 1)
	go func() {
		_, err := tr.Delete(context.Background(), deaf)
		deleted <- err
	}()
	testutil.MustWaitFor(t, func() bool {
		tr.mu.RLock()
		defer tr.mu.RUnlock()
		_, busy := tr.deleting[deaf]
		return busy
	})

	if tr.IsClearing() {
		t.Error("Expected a single delete to not gate the tracker")
	}
	resp, err := tr.FulfillQuery(context.Background(), NewQuery(echo, 2*time.Second, interactor.Progress))
	if err != nil {
		t.Fatalf("Expected query on another simulation to succeed, got %v", err)
	}
	if _, ok := resp[interactor.Progress]; !ok {
		t.Errorf("Expected progress answered, got %v", resp)
	}
	if _, err := tr.Start(context.Background(), KeySpec("echo"), map[string]any{"steps": 1}); err != nil {
		t.Errorf("Expected start during delete to succeed, got %v", err)
	}
	if _, err := tr.Delete(context.Background(), deaf); !errors.Is(err, apperrors.ErrConflict) {
		t.Errorf("Expected conflict for overlapping delete, got %v", err)
	}

	finish()
	select {
	case err := <-deleted:
		if err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Delete did not return")
	}
	if _, ok := tr.Get(deaf); ok {
		t.Error("Expected deleted simulation forgotten")
	}
	tr.mu.RLock()
	remaining := len(tr.deleting)
	tr.mu.RUnlock()
	if remaining != 0 {
		t.Errorf("Expected deletion claims released, got %d", remaining)
	}
}

func TestShutdown_MarksUnstoppedForceStopped(t *testing.T) {
	t.Parallel()
	rec := newFakeRecorder()
	tr := New(testRegistry(t), Config{PollInterval: 5 * time.Millisecond, StopTimeout: 30 * time.Millisecond},
		WithRecorder(rec))

	deaf, _ := startDeaf(t, tr)
	echo, err := tr.Start(context.Background(), KeySpec("echo"), nil)
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	tr.Shutdown(context.Background())

	waitFinished(t, tr, echo)
	info, _ := rec.get(deaf)
	if !info.ForceStopped {
		t.Error("Expected deaf simulation recorded as force-stopped")
	}
	testutil.MustWaitFor(t, func() bool {
		info, _ := rec.get(echo)
		return info.IsDone && info.Cancelled && !info.ForceStopped
	})
}

func TestLoadHistory(t *testing.T) {
	t.Parallel()
	rec := newFakeRecorder()
	tr := newTestTracker(t, WithRecorder(rec))

	created := time.Now().UTC().Add(-time.Hour)
	finished := simulation.Info{ID: uuid.New(), Key: "echo", IsDone: true, Created: created,
		Config: simulation.Config{Key: "echo"}}
	interrupted := simulation.Info{ID: uuid.New(), Key: "deaf", IsDone: false, Created: created.Add(time.Minute),
		Config: simulation.Config{Key: "deaf"}}
	noID := simulation.Info{ID: NoID, Key: "echo"}

	loaded := tr.LoadHistory(context.Background(), []simulation.Info{finished, interrupted, noID})
	if loaded != 2 {
		t.Fatalf("Expected 2 loaded, got %d", loaded)
	}
	if again := tr.LoadHistory(context.Background(), []simulation.Info{finished}); again != 0 {
		t.Errorf("Expected already tracked ids skipped, got %d", again)
	}

	if tr.IsRunning(finished.ID) || tr.IsRunning(interrupted.ID) {
		t.Error("Expected restored simulations classified as done")
	}
	info, err := tr.Info(interrupted.ID)
	if err != nil {
		t.Fatalf("Info failed: %v", err)
	}
	if !info.ForceStopped || !info.IsDone {
		t.Errorf("Expected interrupted record force-stopped and done, got %+v", info)
	}
	if stored, ok := rec.get(interrupted.ID); !ok || !stored.ForceStopped {
		t.Error("Expected interrupted record written back")
	}
	if !tr.AllDone(finished.ID, interrupted.ID) {
		t.Error("Expected restored simulations done")
	}
}

func TestOnAllDone(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(t)

	a, finishA := startDeaf(t, tr)
	b, finishB := startDeaf(t, tr)

	var fired atomic.Int64
	groupID, err := tr.OnAllDone([]uuid.UUID{a, b}, func() { fired.Add(1) })
	if err != nil {
		t.Fatalf("OnAllDone failed: %v", err)
	}
	if !tr.AddOnAllDone(groupID, func() { fired.Add(10) }) {
		t.Fatal("Expected AddOnAllDone to accept a pending group")
	}

	finishA()
	waitFinished(t, tr, a)
	time.Sleep(20 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("Expected no callbacks before every simulation finished, got %d", fired.Load())
	}

	finishB()
	testutil.MustWaitForCount(t, &fired, 11)
	time.Sleep(20 * time.Millisecond)
	if fired.Load() != 11 {
		t.Errorf("Expected callbacks to fire once, got %d", fired.Load())
	}
	if tr.AddOnAllDone(groupID, func() {}) {
		t.Error("Expected AddOnAllDone to refuse a fired group")
	}
}

func TestOnAllDone_Immediate(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(t)

	restored := simulation.Info{ID: uuid.New(), Key: "echo", IsDone: true, Config: simulation.Config{Key: "echo"}}
	tr.LoadHistory(context.Background(), []simulation.Info{restored})

	tests := []struct {
		name string
		ids  []uuid.UUID
	}{
		{"restored", []uuid.UUID{restored.ID}},
		{"empty", nil},
	}

	for _, tt := range tests {
		var fired atomic.Int64
		if _, err := tr.OnAllDone(tt.ids, func() { fired.Add(1) }); err != nil {
			t.Fatalf("%s: OnAllDone failed: %v", tt.name, err)
		}
		testutil.MustWaitForCount(t, &fired, 1, testutil.WithTimeout(time.Second))
	}
}

func TestOnAllDone_Errors(t *testing.T) {
	t.Parallel()
	tr := newTestTracker(t)

	if _, err := tr.OnAllDone([]uuid.UUID{uuid.New()}, func() {}); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
	if tr.AddOnAllDone(uuid.New(), func() {}) {
		t.Error("Expected AddOnAllDone to reject an unknown group")
	}
}
