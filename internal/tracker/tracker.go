// Package tracker owns every simulation's identity and running/done
// classification, starts simulations through the registry, and routes caller
// queries to a simulation's interactor.
package tracker

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"simtracker/internal/apperrors"
	"simtracker/internal/dispatcher"
	"simtracker/internal/observability"
	"simtracker/internal/simulation"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// NoID is the reserved id returned on the wire when no simulation was found or created.
var NoID = uuid.Nil

// ErrClearing is returned while the tracker is stopping and purging simulations.
var ErrClearing = &apperrors.Error{
	Sentinel: apperrors.ErrConflict,
	Message:  "simulations are being cleared",
	Resource: "tracker",
}

// Recorder persists simulation records. *store.Store satisfies it.
type Recorder interface {
	Record(ctx context.Context, info simulation.Info) error
	Delete(ctx context.Context, ids ...uuid.UUID) (int64, error)
	DeleteAll(ctx context.Context) (int64, error)
}

// Config tunes the tracker. Zero values use defaults.
type Config struct {
	PollInterval time.Duration // query poll period (default: 50ms)
	StopTimeout  time.Duration // how long Clear/Delete/Shutdown wait for a stop acknowledgement (default: 5s)
	StorageRoot  string        // parent of per-simulation directories; empty disables them
	EventSource  string        // CloudEvent source for lifecycle webhooks (default: "simtracker")
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 50 * time.Millisecond
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 5 * time.Second
	}
	if c.EventSource == "" {
		c.EventSource = "simtracker"
	}
	return c
}

// Option configures optional tracker collaborators.
type Option func(*Tracker)

// WithRecorder persists lifecycle transitions through r.
func WithRecorder(r Recorder) Option {
	return func(t *Tracker) { t.recorder = r }
}

// WithMetrics records simulation and query metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// WithDispatcher delivers lifecycle webhooks for simulations that configure a callback.
func WithDispatcher(d dispatcher.Dispatcher) Option {
	return func(t *Tracker) { t.dispatcher = d }
}

// Tracker owns all live and finished simulations.
//
// A tracked id is in exactly one of running or done. It moves from running to
// done under mu when the simulation fires end_run.
type Tracker struct {
	registry   *simulation.Registry
	cfg        Config
	recorder   Recorder
	metrics    *observability.Metrics
	dispatcher dispatcher.Dispatcher
	events     *simulation.EventBuilder
	logger     *slog.Logger

	mu             sync.RWMutex
	running        map[uuid.UUID]*simulation.Simulation
	done           map[uuid.UUID]*simulation.Simulation
	groups         map[uuid.UUID]*simulation.Group
	callbackGroups map[uuid.UUID]*simulation.TriggeredCallback
	// settled is closed once watch has persisted a simulation's final record.
	settled map[uuid.UUID]chan struct{}
	// deleting holds ids claimed by an in-flight Delete.
	deleting map[uuid.UUID]struct{}

	demandMu       sync.Mutex
	neededIncoming map[uuid.UUID]map[uuid.UUID][]string
	neededOutgoing map[uuid.UUID]map[uuid.UUID][]string

	clearing atomic.Bool
}

// New creates a tracker that builds simulations from registry.
func New(registry *simulation.Registry, cfg Config, opts ...Option) *Tracker {
	cfg = cfg.withDefaults()
	t := &Tracker{
		registry:       registry,
		cfg:            cfg,
		events:         simulation.NewEventBuilder(cfg.EventSource),
		logger:         slog.With("component", "tracker"),
		running:        make(map[uuid.UUID]*simulation.Simulation),
		done:           make(map[uuid.UUID]*simulation.Simulation),
		groups:         make(map[uuid.UUID]*simulation.Group),
		callbackGroups: make(map[uuid.UUID]*simulation.TriggeredCallback),
		settled:        make(map[uuid.UUID]chan struct{}),
		deleting:       make(map[uuid.UUID]struct{}),
		neededIncoming: make(map[uuid.UUID]map[uuid.UUID][]string),
		neededOutgoing: make(map[uuid.UUID]map[uuid.UUID][]string),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Spec identifies what to start: a pre-built simulation, a config naming its
// registry key, or a bare registry key using the registered default config.
// The first non-empty field wins in that order.
type Spec struct {
	Key        string
	Config     *simulation.Config
	Simulation *simulation.Simulation
}

// KeySpec starts the simulation registered under key with its default config.
func KeySpec(key string) Spec { return Spec{Key: key} }

// ConfigSpec starts the simulation registered under cfg.Key with cfg.
func ConfigSpec(cfg simulation.Config) Spec { return Spec{Config: &cfg} }

func (t *Tracker) resolve(spec Spec) (*simulation.Simulation, error) {
	switch {
	case spec.Simulation != nil:
		if spec.Simulation.State() != simulation.Created || spec.Simulation.ID() != NoID {
			return nil, apperrors.Validation("simulation", "simulation was already started or tracked")
		}
		return spec.Simulation, nil
	case spec.Config != nil:
		if spec.Config.Key == "" {
			return nil, apperrors.Validation("sim_key", "sim_key is required")
		}
		return t.registry.Make(spec.Config.Key, spec.Config)
	case spec.Key != "":
		return t.registry.Make(spec.Key, nil)
	default:
		return nil, apperrors.Validation("sim_key", "sim_key is required")
	}
}

// IsClearing reports whether a Clear is in progress.
func (t *Tracker) IsClearing() bool {
	return t.clearing.Load()
}

// Start creates, tracks and starts one simulation. On any error NoID is returned
// and nothing is tracked.
func (t *Tracker) Start(ctx context.Context, spec Spec, params map[string]any) (uuid.UUID, error) {
	if t.clearing.Load() {
		return NoID, ErrClearing
	}
	sim, err := t.resolve(spec)
	if err != nil {
		t.logger.Warn("Could not create simulation", "key", specKey(spec), "error", err)
		return NoID, err
	}
	id := uuid.New()
	if err := t.prepare(id, sim); err != nil {
		return NoID, err
	}
	if err := t.launch(ctx, id, sim, params); err != nil {
		return NoID, err
	}
	return id, nil
}

// StartGroup creates every simulation first and starts them only if all were
// created. If a member then fails to start, the members already started are
// stopped and deleted and no group is kept. The returned group exposes the
// all-started and all-ended barriers.
func (t *Tracker) StartGroup(ctx context.Context, specs []Spec, params map[string]any) (*simulation.Group, error) {
	if t.clearing.Load() {
		return nil, ErrClearing
	}
	if len(specs) == 0 {
		return nil, apperrors.Validation("simulations", "at least one simulation is required")
	}

	members := make([]simulation.Member, 0, len(specs))
	prebuilt := make(map[*simulation.Simulation]struct{})
	for _, spec := range specs {
		if spec.Simulation != nil {
			if _, dup := prebuilt[spec.Simulation]; dup {
				return nil, apperrors.Validation("simulations", "the same simulation is listed more than once")
			}
			prebuilt[spec.Simulation] = struct{}{}
		}
		sim, err := t.resolve(spec)
		if err != nil {
			t.logger.Warn("Could not create group member", "key", specKey(spec), "error", err)
			return nil, err
		}
		members = append(members, simulation.Member{ID: uuid.New(), Sim: sim})
	}
	for _, m := range members {
		if err := t.prepare(m.ID, m.Sim); err != nil {
			return nil, err
		}
	}

	group := simulation.NewGroup(uuid.New(), members)
	t.mu.Lock()
	t.groups[group.ID()] = group
	t.mu.Unlock()

	launched := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		if err := t.launch(ctx, m.ID, m.Sim, params); err != nil {
			t.abandonGroup(ctx, group.ID(), launched)
			return nil, err
		}
		launched = append(launched, m.ID)
	}
	t.logger.Info("Started simulation group", "groupId", group.ID().String(), "size", len(members))
	return group, nil
}

// abandonGroup undoes a partially started group.
func (t *Tracker) abandonGroup(ctx context.Context, groupID uuid.UUID, launched []uuid.UUID) {
	t.mu.Lock()
	delete(t.groups, groupID)
	t.mu.Unlock()

	if len(launched) == 0 {
		return
	}
	t.logger.Warn("Group member failed to start, rolling back", "groupId", groupID.String(), "started", len(launched))
	if _, err := t.Delete(context.WithoutCancel(ctx), launched...); err != nil {
		t.logger.Error("Group rollback failed", "groupId", groupID.String(), "error", err)
	}
}

// prepare binds identity and storage and installs the tracker's lifecycle callbacks.
func (t *Tracker) prepare(id uuid.UUID, sim *simulation.Simulation) error {
	storage := ""
	if t.cfg.StorageRoot != "" {
		storage = filepath.Join(t.cfg.StorageRoot, id.String())
		if err := os.MkdirAll(storage, 0o755); err != nil {
			return apperrors.Internal("tracker.createStorage", err)
		}
	}
	sim.Attach(id, storage)

	_ = sim.AddCallback(simulation.StartRun, func(s *simulation.Simulation) {
		t.notify(s, simulation.EventTypeStart)
	})
	_ = sim.AddCallback(simulation.EndRun, func(*simulation.Simulation) {
		t.markDone(id)
	})
	return nil
}

func (t *Tracker) launch(ctx context.Context, id uuid.UUID, sim *simulation.Simulation, params map[string]any) error {
	key := sim.Config().Key
	logger := t.logger.With("simId", id.String(), "key", key)

	t.mu.Lock()
	t.running[id] = sim
	t.settled[id] = make(chan struct{})
	t.mu.Unlock()

	if err := sim.Start(ctx, params); err != nil {
		t.mu.Lock()
		delete(t.running, id)
		delete(t.settled, id)
		t.mu.Unlock()
		logger.Warn("Simulation failed to start", "error", err)
		return apperrors.Conflict("simulation", id.String(), err.Error())
	}
	if t.metrics != nil {
		t.metrics.RecordSimulationStarted(ctx, key)
	}
	t.record(ctx, sim)
	go t.watch(id, sim)
	logger.Info("Simulation started")
	return nil
}

// markDone moves id from running to done and releases the payload.
func (t *Tracker) markDone(id uuid.UUID) {
	t.mu.Lock()
	sim, ok := t.running[id]
	if ok {
		delete(t.running, id)
		t.done[id] = sim
	}
	t.mu.Unlock()

	if !ok {
		return
	}
	if err := sim.Close(); err != nil {
		t.logger.Warn("Simulation close failed", "simId", id.String(), "error", err)
	}
}

// watch waits for the worker to exit, then persists the final record.
func (t *Tracker) watch(id uuid.UUID, sim *simulation.Simulation) {
	defer t.settle(id)
	<-sim.Done()
	ctx := context.Background()
	info := sim.Snapshot()

	if t.metrics != nil {
		duration := info.Ended.Sub(info.Started)
		t.metrics.RecordSimulationEnded(ctx, info.Key, !info.Failed, duration)
	}
	if _, tracked := t.Get(id); tracked {
		t.record(ctx, sim)
	}
	t.notify(sim, simulation.EventTypeEnd)
	t.logger.Info("Simulation finished", "simId", id.String(), "key", info.Key,
		"cancelled", info.Cancelled, "failed", info.Failed)
}

func (t *Tracker) settle(id uuid.UUID) {
	t.mu.Lock()
	ch, ok := t.settled[id]
	delete(t.settled, id)
	t.mu.Unlock()
	if ok {
		close(ch)
	}
}

// awaitSettled waits up to the stop timeout for the final records of ids to
// be written, so a later delete is not undone by a late write.
func (t *Tracker) awaitSettled(ctx context.Context, ids ...uuid.UUID) {
	timer := time.NewTimer(t.cfg.StopTimeout)
	defer timer.Stop()
	for _, id := range ids {
		t.mu.RLock()
		ch, ok := t.settled[id]
		t.mu.RUnlock()
		if !ok {
			continue
		}
		select {
		case <-ch:
		case <-timer.C:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (t *Tracker) record(ctx context.Context, sim *simulation.Simulation) {
	if t.recorder == nil {
		return
	}
	info := sim.Snapshot()
	if err := t.recorder.Record(ctx, info); err != nil {
		t.logger.Error("Failed to persist simulation", "simId", info.ID.String(), "error", err)
	}
}

func (t *Tracker) notify(sim *simulation.Simulation, eventType string) {
	if t.dispatcher == nil {
		return
	}
	cfg := sim.Config()
	if cfg.Callback == nil || cfg.Callback.URL == "" || !simulation.FilteredEvents(eventType, cfg.Callback.Events) {
		return
	}
	info := sim.Snapshot()
	event := t.events.BuildStartEvent(info)
	if eventType == simulation.EventTypeEnd {
		event = t.events.BuildEndEvent(info)
	}
	err := t.dispatcher.Dispatch(&dispatcher.Event{
		Payload:     event,
		Destination: cfg.Callback.URL,
		SigningKey:  cfg.Callback.Key,
		SimID:       info.ID.String(),
	})
	if err != nil && !errors.Is(err, dispatcher.ErrBufferFull) {
		t.logger.Warn("Failed to dispatch lifecycle event", "simId", info.ID.String(), "type", eventType, "error", err)
	}
}

// Get returns the tracked simulation for id, running or done.
func (t *Tracker) Get(id uuid.UUID) (*simulation.Simulation, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if sim, ok := t.running[id]; ok {
		return sim, true
	}
	sim, ok := t.done[id]
	return sim, ok
}

// Info returns a snapshot of the tracked simulation for id.
func (t *Tracker) Info(id uuid.UUID) (simulation.Info, error) {
	sim, ok := t.Get(id)
	if !ok {
		return simulation.Info{}, apperrors.NotFound("simulation", id.String())
	}
	return sim.Snapshot(), nil
}

// Group returns a group started by StartGroup.
func (t *Tracker) Group(id uuid.UUID) (*simulation.Group, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	g, ok := t.groups[id]
	return g, ok
}

// IsRunning reports whether id is classified as running.
func (t *Tracker) IsRunning(id uuid.UUID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.running[id]
	return ok
}

// List snapshots every tracked simulation ordered by creation time.
func (t *Tracker) List() []simulation.Info {
	t.mu.RLock()
	sims := make([]*simulation.Simulation, 0, len(t.running)+len(t.done))
	for _, s := range t.running {
		sims = append(sims, s)
	}
	for _, s := range t.done {
		sims = append(sims, s)
	}
	t.mu.RUnlock()

	infos := make([]simulation.Info, len(sims))
	for i, s := range sims {
		infos[i] = s.Snapshot()
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Created.Equal(infos[j].Created) {
			return infos[i].ID.String() < infos[j].ID.String()
		}
		return infos[i].Created.Before(infos[j].Created)
	})
	return infos
}

// RunningIDs returns the ids currently classified as running.
func (t *Tracker) RunningIDs() []uuid.UUID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(t.running))
	for id := range t.running {
		ids = append(ids, id)
	}
	return ids
}

// isFinished reports whether id has moved to done and its worker has exited.
// Unknown ids count as finished.
func (t *Tracker) isFinished(id uuid.UUID) bool {
	t.mu.RLock()
	_, running := t.running[id]
	sim, done := t.done[id]
	t.mu.RUnlock()
	if running {
		return false
	}
	if done {
		return sim.IsDone()
	}
	return true
}

// AllDone reports whether every listed simulation has finished.
func (t *Tracker) AllDone(ids ...uuid.UUID) bool {
	for _, id := range ids {
		if !t.isFinished(id) {
			return false
		}
	}
	return true
}

// AnyRunning reports whether at least one listed simulation is still running.
func (t *Tracker) AnyRunning(ids ...uuid.UUID) bool {
	return !t.AllDone(ids...)
}

func specKey(spec Spec) string {
	switch {
	case spec.Simulation != nil:
		return spec.Simulation.Config().Key
	case spec.Config != nil:
		return spec.Config.Key
	default:
		return spec.Key
	}
}
