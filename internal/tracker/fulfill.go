package tracker

import (
	"context"
	"simtracker/internal/apperrors"
	"simtracker/internal/simulation"
	"time"

	"github.com/google/uuid"
)

// Query outcomes reported to metrics and logs.
const (
	outcomeComplete  = "complete"
	outcomeTimeout   = "timeout"
	outcomeFinished  = "finished"
	outcomeCancelled = "cancelled"
)

// FulfillQuery requests each triggered channel of q from the simulation and
// polls its outgoing values until every channel is answered, the timeout
// elapses, the simulation's worker exits, or ctx is cancelled. Whatever was
// collected is returned; an incomplete map is not an error.
//
// Concurrent queries may share channels. The first value observed for a
// channel is kept, and a channel is reset only once no other in-flight query
// on the same simulation still needs it.
func (t *Tracker) FulfillQuery(ctx context.Context, q Query) (map[string]any, error) {
	if t.clearing.Load() {
		return nil, ErrClearing
	}
	return t.fulfill(ctx, q)
}

func (t *Tracker) fulfill(ctx context.Context, q Query) (map[string]any, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	sim, ok := t.Get(q.ID)
	if !ok {
		return nil, apperrors.NotFound("simulation", q.ID.String())
	}

	needed := q.Requested()
	response := make(map[string]any, len(needed))
	if len(needed) == 0 {
		return response, nil
	}

	interactionID := uuid.New()
	logger := t.logger.With("simId", q.ID.String(), "interactionId", interactionID.String())
	logger.Debug("Fulfilling query", "channels", needed, "timeout", q.Timeout)

	start := time.Now()
	t.register(q.ID, interactionID, sim, needed, q.Channels)
	outcome := t.poll(ctx, sim, needed, response, q.Timeout)
	t.release(q.ID, interactionID, sim, needed)

	if t.metrics != nil {
		t.metrics.RecordQuery(ctx, outcome, time.Since(start))
	}
	logger.Debug("Query finished", "outcome", outcome, "answered", len(response), "requested", len(needed))
	return response, nil
}

// register records this interaction's demand and raises the incoming flags.
func (t *Tracker) register(simID, interactionID uuid.UUID, sim *simulation.Simulation, needed []string, reqs map[string]ChannelRequest) {
	t.demandMu.Lock()
	defer t.demandMu.Unlock()

	if t.neededOutgoing[simID] == nil {
		t.neededOutgoing[simID] = make(map[uuid.UUID][]string)
	}
	if t.neededIncoming[simID] == nil {
		t.neededIncoming[simID] = make(map[uuid.UUID][]string)
	}
	t.neededOutgoing[simID][interactionID] = needed
	t.neededIncoming[simID][interactionID] = needed

	ix := sim.Interactor()
	for _, name := range needed {
		var value any = true
		if v := reqs[name].Value; v != nil {
			value = v
		}
		ix.SetIn(name, value)
	}
}

func (t *Tracker) poll(ctx context.Context, sim *simulation.Simulation, needed []string, response map[string]any, timeout time.Duration) string {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	for {
		// Sample liveness before collecting so a simulation that answered and
		// then exited is never reported as finished without its answer.
		exited := sim.IsDone() && sim.State() == simulation.Done
		collect(sim, needed, response)
		if len(response) == len(needed) {
			return outcomeComplete
		}
		if exited {
			return outcomeFinished
		}

		select {
		case <-ticker.C:
		case <-deadline:
			collect(sim, needed, response)
			if len(response) == len(needed) {
				return outcomeComplete
			}
			return outcomeTimeout
		case <-ctx.Done():
			return outcomeCancelled
		}
	}
}

// collect copies triggered outgoing values for needed channels that have no
// value yet. Values already captured are never overwritten.
func collect(sim *simulation.Simulation, needed []string, response map[string]any) {
	ix := sim.Interactor()
	for _, name := range needed {
		if _, ok := response[name]; ok {
			continue
		}
		if triggered, v := ix.GetOut(name); triggered {
			response[name] = v
		}
	}
}

// release drops this interaction's demand and resets the channels nobody else needs.
func (t *Tracker) release(simID, interactionID uuid.UUID, sim *simulation.Simulation, needed []string) {
	t.demandMu.Lock()
	defer t.demandMu.Unlock()

	freeOut := dropDemand(t.neededOutgoing, simID, interactionID, needed)
	freeIn := dropDemand(t.neededIncoming, simID, interactionID, needed)

	ix := sim.Interactor()
	ix.ResetOutgoing(freeOut...)
	ix.ResetIncoming(freeIn...)
}

// dropDemand removes interactionID from table and returns the names in needed
// that no remaining interaction on simID uses.
func dropDemand(table map[uuid.UUID]map[uuid.UUID][]string, simID, interactionID uuid.UUID, needed []string) []string {
	byInteraction := table[simID]
	delete(byInteraction, interactionID)

	inUse := make(map[string]struct{})
	for _, names := range byInteraction {
		for _, name := range names {
			inUse[name] = struct{}{}
		}
	}
	if len(byInteraction) == 0 {
		delete(table, simID)
	}

	free := make([]string, 0, len(needed))
	for _, name := range needed {
		if _, ok := inUse[name]; !ok {
			free = append(free, name)
		}
	}
	return free
}

// inFlight returns the number of interactions currently registered for simID.
func (t *Tracker) inFlight(simID uuid.UUID) int {
	t.demandMu.Lock()
	defer t.demandMu.Unlock()
	return len(t.neededOutgoing[simID])
}
