package tracker

import (
	"context"
	"path/filepath"
	"simtracker/internal/apperrors"
	"simtracker/internal/interactor"
	"simtracker/internal/simulation"
	"sync"

	"github.com/google/uuid"
)

// StopResult reports what a stop request achieved for one simulation.
type StopResult struct {
	Acknowledged bool `json:"acknowledged"`
	ForceStopped bool `json:"force_stopped"`
}

// Stop asks a running simulation to stop and waits up to the configured stop
// timeout for it to acknowledge. A simulation that does not acknowledge is
// marked force-stopped and its stop request is left raised for the payload.
func (t *Tracker) Stop(ctx context.Context, id uuid.UUID) (StopResult, error) {
	if t.clearing.Load() {
		return StopResult{}, ErrClearing
	}
	return t.stop(ctx, id)
}

func (t *Tracker) stop(ctx context.Context, id uuid.UUID) (StopResult, error) {
	sim, ok := t.Get(id)
	if !ok {
		return StopResult{}, apperrors.NotFound("simulation", id.String())
	}
	if !t.IsRunning(id) {
		return StopResult{Acknowledged: true}, nil
	}

	resp, err := t.fulfill(ctx, NewQuery(id, t.cfg.StopTimeout, interactor.StopSimulation))
	if err != nil {
		return StopResult{}, err
	}
	if _, ok := resp[interactor.StopSimulation]; ok || !t.IsRunning(id) {
		t.awaitSettled(ctx, id)
		return StopResult{Acknowledged: true}, nil
	}

	sim.SetForceStopped()
	sim.Interactor().SetIn(interactor.StopSimulation, true)
	t.logger.Warn("Simulation did not acknowledge stop", "simId", id.String())
	return StopResult{ForceStopped: true}, nil
}

// stopAll stops ids concurrently and collects the results.
func (t *Tracker) stopAll(ctx context.Context, ids []uuid.UUID) map[uuid.UUID]StopResult {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[uuid.UUID]StopResult, len(ids))
	)
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := t.stop(ctx, id)
			if err != nil {
				return
			}
			mu.Lock()
			results[id] = res
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

// Clear stops every running simulation, then forgets every tracked simulation
// that has finished and deletes all persisted records. Simulations that are
// still running afterwards stay tracked. Starts and queries are rejected while
// a Clear is in progress.
func (t *Tracker) Clear(ctx context.Context) (map[uuid.UUID]StopResult, error) {
	if !t.clearing.CompareAndSwap(false, true) {
		return nil, ErrClearing
	}
	defer t.clearing.Store(false)

	t.logger.Info("Clearing simulations")
	results := t.stopAll(ctx, t.RunningIDs())

	t.mu.Lock()
	removed := make([]uuid.UUID, 0, len(t.done))
	for id := range t.done {
		removed = append(removed, id)
	}
	t.mu.Unlock()
	t.awaitSettled(ctx, removed...)
	t.forget(removed...)

	if t.recorder != nil {
		if _, err := t.recorder.DeleteAll(ctx); err != nil {
			return results, apperrors.Internal("tracker.clear", err)
		}
	}
	t.logger.Info("Cleared simulations", "stopped", len(results), "removed", len(removed))
	return results, nil
}

// Delete stops the listed simulations that are running, forgets them once
// finished and deletes their persisted records. Unknown ids are ignored. Only
// the listed ids are locked; other simulations stay usable meanwhile.
func (t *Tracker) Delete(ctx context.Context, ids ...uuid.UUID) (map[uuid.UUID]StopResult, error) {
	if t.clearing.Load() {
		return nil, ErrClearing
	}
	ids, err := t.claimDeletion(ids)
	if err != nil {
		return nil, err
	}
	defer t.releaseDeletion(ids)

	var running []uuid.UUID
	for _, id := range ids {
		if t.IsRunning(id) {
			running = append(running, id)
		}
	}
	results := t.stopAll(ctx, running)

	var removable []uuid.UUID
	for _, id := range ids {
		if !t.IsRunning(id) {
			removable = append(removable, id)
		}
	}
	t.awaitSettled(ctx, removable...)
	t.forget(removable...)

	if t.recorder != nil {
		if _, err := t.recorder.Delete(ctx, ids...); err != nil {
			return results, apperrors.Internal("tracker.delete", err)
		}
	}
	return results, nil
}

// claimDeletion marks ids as being deleted, dropping duplicates. It fails
// without claiming anything if another Delete holds one of them.
func (t *Tracker) claimDeletion(ids []uuid.UUID) ([]uuid.UUID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	unique := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		if _, busy := t.deleting[id]; busy {
			return nil, apperrors.Conflict("simulation", id.String(), "simulation is already being deleted")
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	for _, id := range unique {
		t.deleting[id] = struct{}{}
	}
	return unique, nil
}

func (t *Tracker) releaseDeletion(ids []uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		delete(t.deleting, id)
	}
}

// forget drops finished simulations from the done map.
func (t *Tracker) forget(ids ...uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, id := range ids {
		delete(t.done, id)
	}
}

// Shutdown asks every running simulation to stop and persists a final record
// for each one, marking those that did not stop in time as force-stopped.
func (t *Tracker) Shutdown(ctx context.Context) {
	ids := t.RunningIDs()
	if len(ids) == 0 {
		return
	}
	t.logger.Info("Stopping running simulations", "count", len(ids))
	results := t.stopAll(ctx, ids)

	for _, id := range ids {
		if results[id].Acknowledged || !t.IsRunning(id) {
			continue
		}
		sim, ok := t.Get(id)
		if !ok {
			continue
		}
		sim.SetForceStopped()
		t.record(context.WithoutCancel(ctx), sim)
	}
}

// LoadHistory tracks stored records as finished simulations. Records of
// simulations that were still running when the process stopped are marked
// force-stopped and written back. Ids already tracked are skipped.
func (t *Tracker) LoadHistory(ctx context.Context, infos []simulation.Info) int {
	loaded := 0
	for _, info := range infos {
		if _, tracked := t.Get(info.ID); tracked || info.ID == NoID {
			continue
		}
		storage := ""
		if t.cfg.StorageRoot != "" {
			storage = filepath.Join(t.cfg.StorageRoot, info.ID.String())
		}
		sim := simulation.Restore(info, storage)
		if !info.IsDone {
			sim.SetForceStopped()
			t.record(ctx, sim)
		}

		t.mu.Lock()
		t.done[info.ID] = sim
		t.mu.Unlock()
		loaded++
	}
	t.logger.Info("Loaded simulation history", "count", loaded)
	return loaded
}

// OnAllDone registers fn to run once every listed simulation has finished and
// returns the id of the callback group, usable with AddOnAllDone.
func (t *Tracker) OnAllDone(ids []uuid.UUID, fn func()) (uuid.UUID, error) {
	sims := make([]*simulation.Simulation, len(ids))
	for i, id := range ids {
		sim, ok := t.Get(id)
		if !ok {
			return NoID, apperrors.NotFound("simulation", id.String())
		}
		sims[i] = sim
	}

	barrier := simulation.NewTriggeredCallback(len(ids))
	if fn != nil {
		barrier.AddCallback(fn)
	}
	groupID := uuid.New()
	t.mu.Lock()
	t.callbackGroups[groupID] = barrier
	t.mu.Unlock()

	if len(ids) == 0 {
		barrier.Trigger()
		return groupID, nil
	}
	for i, id := range ids {
		sim := sims[i]
		t.mu.RLock()
		_, finished := t.done[id]
		t.mu.RUnlock()
		// Restored simulations never had a worker, so Done would never close.
		if finished && sim.IsDone() {
			barrier.Trigger()
			continue
		}
		go func() {
			<-sim.Done()
			barrier.Trigger()
		}()
	}
	return groupID, nil
}

// AddOnAllDone adds fn to an existing callback group or started group.
// Returns false if id names neither.
func (t *Tracker) AddOnAllDone(id uuid.UUID, fn func()) bool {
	t.mu.RLock()
	barrier, isCallbackGroup := t.callbackGroups[id]
	group, isGroup := t.groups[id]
	t.mu.RUnlock()

	switch {
	case isCallbackGroup:
		return barrier.AddCallback(fn)
	case isGroup:
		return group.OnAllRunEnd(fn)
	default:
		t.logger.Warn("Unknown callback group", "groupId", id.String())
		return false
	}
}
