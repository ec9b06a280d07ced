package simulation

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"simtracker/internal/interactor"

	"github.com/google/uuid"
)

// funcPayload is a Payload assembled from closures.
type funcPayload struct {
	setup    func(ctx context.Context, sim *Simulation, params map[string]any) error
	run      func(ctx context.Context, sim *Simulation, params map[string]any) error
	channels []string
	closed   atomic.Int32
}

func (p *funcPayload) Setup(ctx context.Context, sim *Simulation, params map[string]any) error {
	if p.setup == nil {
		return nil
	}
	return p.setup(ctx, sim, params)
}

func (p *funcPayload) Run(ctx context.Context, sim *Simulation, params map[string]any) error {
	if p.run == nil {
		return nil
	}
	return p.run(ctx, sim, params)
}

func (p *funcPayload) Channels() []string { return p.channels }

func (p *funcPayload) Close() error {
	p.closed.Add(1)
	return nil
}

func waitDone(t *testing.T, sim *Simulation) {
	t.Helper()
	select {
	case <-sim.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for simulation to finish")
	}
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

func TestIsDone_BeforeStart(t *testing.T) {
	t.Parallel()
	sim := New(Config{Key: "demo"}, &funcPayload{})

	if !sim.IsDone() {
		t.Error("Expected unstarted simulation to read as done")
	}
	if sim.State() != Created {
		t.Errorf("Expected state created, got %s", sim.State())
	}
}

func TestStart_LifecycleOrder(t *testing.T) {
	t.Parallel()
	log := &eventLog{}
	release := make(chan struct{})
	payload := &funcPayload{
		setup: func(context.Context, *Simulation, map[string]any) error {
			log.add("setup")
			return nil
		},
		run: func(context.Context, *Simulation, map[string]any) error {
			<-release
			log.add("run")
			return nil
		},
	}
	sim := New(Config{Key: "demo"}, payload)
	for _, e := range events {
		if err := sim.AddCallback(e, func(*Simulation) { log.add(string(e)) }); err != nil {
			t.Fatalf("AddCallback(%s): %v", e, err)
		}
	}

	if err := sim.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}

	got := log.snapshot()
	if len(got) < 3 || !slices.Equal(got[:3], []string{"start_setup", "setup", "end_setup"}) {
		t.Errorf("Expected setup to complete synchronously, got %v", got)
	}
	if sim.IsDone() {
		t.Error("Expected running simulation to not be done")
	}

	close(release)
	waitDone(t, sim)

	want := []string{"start_setup", "setup", "end_setup", "start_run", "run", "end_run"}
	if got := log.snapshot(); !slices.Equal(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
	if sim.State() != Done {
		t.Errorf("Expected state done, got %s", sim.State())
	}
	if !sim.IsDone() {
		t.Error("Expected IsDone after worker exit")
	}
}

func TestStartRunCallback_SeesStartTime(t *testing.T) {
	t.Parallel()
	sim := New(Config{Key: "demo"}, &funcPayload{})

	var started atomic.Value
	_ = sim.AddCallback(StartRun, func(s *Simulation) { started.Store(s.Snapshot().Started) })

	if err := sim.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, sim)

	got, _ := started.Load().(time.Time)
	if got.IsZero() {
		t.Error("Expected start time to be set when start_run fires")
	}
}

func TestStart_Twice(t *testing.T) {
	t.Parallel()
	sim := New(Config{Key: "demo"}, &funcPayload{})

	if err := sim.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sim.Start(context.Background(), nil); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Expected ErrAlreadyStarted, got %v", err)
	}
	waitDone(t, sim)
}

func TestStart_PayloadFailures(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name       string
		payload    *funcPayload
		wantDetail string
	}{
		{
			name: "run error",
			payload: &funcPayload{run: func(context.Context, *Simulation, map[string]any) error {
				return errors.New("boom")
			}},
			wantDetail: "run: boom",
		},
		{
			name: "run panic",
			payload: &funcPayload{run: func(context.Context, *Simulation, map[string]any) error {
				panic("kaput")
			}},
			wantDetail: "run: panic: kaput",
		},
		{
			name: "setup error",
			payload: &funcPayload{setup: func(context.Context, *Simulation, map[string]any) error {
				return errors.New("bad setup")
			}},
			wantDetail: "setup: bad setup",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sim := New(Config{Key: "demo"}, tt.payload)
			var ended atomic.Bool
			_ = sim.AddCallback(EndRun, func(*Simulation) { ended.Store(true) })

			if err := sim.Start(context.Background(), nil); err != nil {
				t.Fatalf("Start should not surface payload errors, got %v", err)
			}
			waitDone(t, sim)

			if !sim.Failed() {
				t.Error("Expected failed flag")
			}
			details := sim.ErrorDetails()
			if len(details) != 1 || details[0] != tt.wantDetail {
				t.Errorf("Expected details [%q], got %v", tt.wantDetail, details)
			}
			if !ended.Load() {
				t.Error("Expected end_run to fire after failure")
			}
		})
	}
}

func TestCallbackPanic_DoesNotStopOthers(t *testing.T) {
	t.Parallel()
	sim := New(Config{Key: "demo"}, &funcPayload{})
	var second atomic.Bool

	_ = sim.AddCallback(StartRun, func(*Simulation) { panic("callback") })
	_ = sim.AddCallback(StartRun, func(*Simulation) { second.Store(true) })

	if err := sim.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, sim)

	if !second.Load() {
		t.Error("Expected second callback to run")
	}
	if sim.Failed() {
		t.Error("Callback panics should not mark the simulation failed")
	}
}

func TestAddCallback_UnknownEvent(t *testing.T) {
	t.Parallel()
	sim := New(Config{Key: "demo"}, &funcPayload{})

	err := sim.AddCallback(Event("mid_run"), func(*Simulation) {})
	if !errors.Is(err, ErrUnknownEvent) {
		t.Errorf("Expected ErrUnknownEvent, got %v", err)
	}
}

func TestFinalize_AcknowledgesStop(t *testing.T) {
	t.Parallel()
	sim := New(Config{Key: "demo"}, &funcPayload{})
	sim.Interactor().SetIn(interactor.StopSimulation, true)

	if err := sim.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, sim)

	triggered, v := sim.Interactor().GetOut(interactor.StopSimulation)
	if !triggered || v != true {
		t.Errorf("Expected stop acknowledged with (true, true), got (%v, %v)", triggered, v)
	}
}

func TestFinalize_NoStopRequested(t *testing.T) {
	t.Parallel()
	sim := New(Config{Key: "demo"}, &funcPayload{})

	if err := sim.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, sim)

	if triggered, _ := sim.Interactor().GetOut(interactor.StopSimulation); triggered {
		t.Error("Expected no stop acknowledgement without a request")
	}
}

func TestStart_ParamsMerged(t *testing.T) {
	t.Parallel()
	var got map[string]any
	payload := &funcPayload{run: func(_ context.Context, _ *Simulation, params map[string]any) error {
		got = params
		return nil
	}}
	sim := New(Config{Key: "demo", Params: map[string]any{"ticks": 5, "period": "1s"}}, payload)

	if err := sim.Start(context.Background(), map[string]any{"ticks": 10}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, sim)

	if got["ticks"] != 10 {
		t.Errorf("Expected start params to override config, got %v", got["ticks"])
	}
	if got["period"] != "1s" {
		t.Errorf("Expected config param kept, got %v", got["period"])
	}
}

func TestStart_RunSurvivesCallerCancel(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	var runErr atomic.Value
	payload := &funcPayload{run: func(ctx context.Context, _ *Simulation, _ map[string]any) error {
		time.Sleep(20 * time.Millisecond)
		runErr.Store(ctx.Err() == nil)
		return nil
	}}
	sim := New(Config{Key: "demo"}, payload)

	if err := sim.Start(ctx, nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	cancel()
	waitDone(t, sim)

	if ok, _ := runErr.Load().(bool); !ok {
		t.Error("Expected run context to outlive the start context")
	}
}

func TestChannelsDeclaredByPayload(t *testing.T) {
	t.Parallel()
	sim := New(Config{Key: "demo"}, &funcPayload{channels: []string{"reward"}})

	if !sim.Interactor().Has("reward") {
		t.Error("Expected payload channel on interactor")
	}
	if !sim.Interactor().Has(interactor.Progress) {
		t.Error("Expected default channels on interactor")
	}
}

func TestClose_Once(t *testing.T) {
	t.Parallel()
	payload := &funcPayload{}
	sim := New(Config{Key: "demo"}, payload)

	_ = sim.Close()
	_ = sim.Close()

	if got := payload.closed.Load(); got != 1 {
		t.Errorf("Expected payload closed once, got %d", got)
	}
}

func TestMetaFlags_Monotonic(t *testing.T) {
	t.Parallel()
	sim := New(Config{Key: "demo"}, &funcPayload{})

	sim.SetCancelled()
	sim.Fail("first")
	sim.Fail("")
	sim.SetCancelled()

	if !sim.Cancelled() || !sim.Failed() {
		t.Error("Expected cancelled and failed to stay set")
	}
	if got := sim.ErrorDetails(); len(got) != 1 || got[0] != "first" {
		t.Errorf("Expected [first], got %v", got)
	}
}

func TestSnapshotAndRestore(t *testing.T) {
	t.Parallel()
	sim := New(Config{Name: "demo run", Key: "demo"}, &funcPayload{})
	id := uuid.New()
	sim.Attach(id, "/tmp/sims/"+id.String())

	if err := sim.Start(context.Background(), nil); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitDone(t, sim)
	sim.SetForceStopped()

	info := sim.Snapshot()
	if info.ID != id || info.Name != "demo run" || info.Key != "demo" {
		t.Errorf("Unexpected identity in snapshot: %+v", info)
	}
	if info.State != "done" || !info.IsDone {
		t.Errorf("Expected done snapshot, got state=%s isDone=%v", info.State, info.IsDone)
	}
	if info.Started.IsZero() || info.Ended.IsZero() || info.Ended.Before(info.Started) {
		t.Errorf("Expected ordered timestamps, got started=%v ended=%v", info.Started, info.Ended)
	}
	if !info.ForceStopped || !info.Cancelled {
		t.Error("Expected force stop to imply cancelled")
	}

	restored := Restore(info, "/tmp/restored")
	if restored.ID() != id || !restored.IsDone() || restored.State() != Done {
		t.Error("Expected restored simulation to be done with the same id")
	}
	if err := restored.Start(context.Background(), nil); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Expected restored simulation to refuse Start, got %v", err)
	}
	if !strings.HasSuffix(restored.StoragePath(), "restored") {
		t.Errorf("Unexpected storage path %q", restored.StoragePath())
	}
}
