// Package simulation implements the simulation lifecycle: a payload wrapped in a
// Created -> Setup -> Running -> Done state machine with lifecycle callbacks,
// plus the registry that creates simulations by key and the barrier primitives
// used to observe groups of them.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"simtracker/internal/interactor"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrAlreadyStarted is returned by Start on a simulation that was started before.
	ErrAlreadyStarted = errors.New("simulation already started")
	// ErrUnknownEvent is returned when registering a callback for an unknown event.
	ErrUnknownEvent = errors.New("unknown simulation event")
)

// Payload is the work a simulation type performs. Both methods may return an
// error or panic; either is recorded on the simulation and never propagated.
//
// Run executes on the simulation's own goroutine and should poll
// sim.Interactor() for stop requests and queries while it works.
type Payload interface {
	Setup(ctx context.Context, sim *Simulation, params map[string]any) error
	Run(ctx context.Context, sim *Simulation, params map[string]any) error
}

// ChannelDeclarer is implemented by payloads that need channels beyond the defaults.
type ChannelDeclarer interface {
	Channels() []string
}

// Closer is implemented by payloads holding resources released after the run.
type Closer interface {
	Close() error
}

// State is the lifecycle position of a simulation.
type State int

const (
	Created State = iota
	SettingUp
	Running
	Done
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case SettingUp:
		return "setup"
	case Running:
		return "running"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// CallbackFunc is invoked with the simulation when an Event fires.
type CallbackFunc func(*Simulation)

// Simulation is one independently running unit of work.
type Simulation struct {
	config     Config
	payload    Payload
	interactor *interactor.Interactor

	mu           sync.Mutex
	id           uuid.UUID
	storagePath  string
	state        State
	params       map[string]any
	cancelled    bool
	failed       bool
	forceStopped bool
	errorDetails []string
	created      time.Time
	started      time.Time
	ended        time.Time
	callbacks    map[Event][]CallbackFunc

	spawned   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// New wraps payload in a simulation configured by cfg. The simulation has no
// id until a tracker attaches one.
func New(cfg Config, payload Payload) *Simulation {
	var extra []string
	if d, ok := payload.(ChannelDeclarer); ok {
		extra = d.Channels()
	}
	return &Simulation{
		config:     cfg.Clone(),
		payload:    payload,
		interactor: interactor.New(extra...),
		state:      Created,
		created:    time.Now().UTC(),
		callbacks:  make(map[Event][]CallbackFunc),
		done:       make(chan struct{}),
	}
}

// Attach binds the tracker-assigned id and storage directory.
func (s *Simulation) Attach(id uuid.UUID, storagePath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	s.storagePath = storagePath
}

// ID returns the tracker-assigned id, or uuid.Nil before Attach.
func (s *Simulation) ID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// StoragePath returns the directory where the payload may write its output.
func (s *Simulation) StoragePath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.storagePath
}

// Config returns a copy of the simulation's configuration.
func (s *Simulation) Config() Config {
	return s.config.Clone()
}

// Interactor returns the channel set shared with callers.
func (s *Simulation) Interactor() *interactor.Interactor {
	return s.interactor
}

// Params returns the effective parameters passed to the payload.
func (s *Simulation) Params() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return mergeParams(s.params)
}

// State returns the current lifecycle state.
func (s *Simulation) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsDone reports whether the worker goroutine has exited. A simulation that was
// never started has no worker and reads as done.
func (s *Simulation) IsDone() bool {
	if !s.spawned.Load() {
		return true
	}
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the worker goroutine exits.
// It never closes for a simulation that is not started.
func (s *Simulation) Done() <-chan struct{} {
	return s.done
}

// AddCallback registers fn for event. Callbacks run in registration order.
func (s *Simulation) AddCallback(event Event, fn CallbackFunc) error {
	if _, ok := ParseEvent(string(event)); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, event)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks[event] = append(s.callbacks[event], fn)
	return nil
}

// Start records params, runs setup on the calling goroutine, then spawns the
// worker goroutine that runs the payload. Setup failures do not prevent the run.
// ctx bounds setup only; the run keeps ctx's values but not its cancellation.
func (s *Simulation) Start(ctx context.Context, params map[string]any) error {
	s.mu.Lock()
	if s.state != Created || s.payload == nil {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = SettingUp
	s.params = mergeParams(s.config.Params, params)
	s.mu.Unlock()

	s.setup(ctx)

	runCtx := context.WithoutCancel(ctx)
	s.spawned.Store(true)
	go s.run(runCtx)
	return nil
}

func (s *Simulation) setup(ctx context.Context) {
	s.fire(StartSetup)
	s.invoke("setup", func() error {
		return s.payload.Setup(ctx, s, s.Params())
	})
	s.fire(EndSetup)
}

func (s *Simulation) run(ctx context.Context) {
	defer close(s.done)

	// started is set before start_run so its callbacks see the run's start time.
	s.mu.Lock()
	s.state = Running
	s.started = time.Now().UTC()
	s.mu.Unlock()

	s.fire(StartRun)

	s.invoke("run", func() error {
		return s.payload.Run(ctx, s, s.Params())
	})

	s.mu.Lock()
	s.ended = time.Now().UTC()
	s.mu.Unlock()

	s.fire(EndRun)

	// Release any caller still waiting on a stop acknowledgement.
	s.interactor.SetOutIfIn(interactor.StopSimulation, true)

	s.mu.Lock()
	s.state = Done
	s.mu.Unlock()
}

// invoke runs a payload phase, converting errors and panics into failure state.
func (s *Simulation) invoke(phase string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger().Error("Simulation panicked", "phase", phase, "panic", r, "stack", string(debug.Stack()))
			s.Fail(fmt.Sprintf("%s: panic: %v", phase, r))
		}
	}()
	if err := fn(); err != nil {
		s.logger().Error("Simulation failed", "phase", phase, "error", err)
		s.Fail(fmt.Sprintf("%s: %v", phase, err))
	}
}

func (s *Simulation) fire(event Event) {
	s.mu.Lock()
	fns := append([]CallbackFunc(nil), s.callbacks[event]...)
	s.mu.Unlock()

	for i, fn := range fns {
		s.callSafely(event, i, fn)
	}
}

func (s *Simulation) callSafely(event Event, index int, fn CallbackFunc) {
	defer func() {
		if r := recover(); r != nil {
			s.logger().Error("Simulation callback panicked", "event", string(event), "index", index, "panic", r)
		}
	}()
	fn(s)
}

// Close releases payload resources. Only the first call reaches the payload.
func (s *Simulation) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if c, ok := s.payload.(Closer); ok {
			err = c.Close()
		}
	})
	return err
}

// SetCancelled marks the simulation as cancelled. The flag is never cleared.
func (s *Simulation) SetCancelled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
}

// SetForceStopped marks a simulation stopped by shutdown or clearing rather than by its payload.
func (s *Simulation) SetForceStopped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forceStopped = true
	s.cancelled = true
}

// Fail marks the simulation failed and appends detail to its error details.
func (s *Simulation) Fail(detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = true
	if detail != "" {
		s.errorDetails = append(s.errorDetails, detail)
	}
}

// Cancelled reports whether the simulation was cancelled.
func (s *Simulation) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Failed reports whether the payload or a phase failed.
func (s *Simulation) Failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// ErrorDetails returns a copy of the recorded failure messages.
func (s *Simulation) ErrorDetails() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.errorDetails...)
}

func (s *Simulation) logger() *slog.Logger {
	s.mu.Lock()
	id := s.id
	s.mu.Unlock()
	return slog.With("component", "simulation", "simId", id.String(), "key", s.config.Key)
}
