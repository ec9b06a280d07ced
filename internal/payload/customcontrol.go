package payload

import (
	"context"
	"time"

	"simtracker/internal/interactor"
	"simtracker/internal/simulation"
)

const continuePrompt = "Send custom_query with a \"continue\" key to resume."

// CustomControl runs for a fixed time and pauses at configured offsets until
// a caller sends a custom_query whose value holds a "continue" key. Each pause
// is advertised as a control request on custom_query.
//
// Params: poll_period (default 0.5s), total_runtime (default 30s),
// pause_points (seconds from start).
type CustomControl struct {
	pollPeriod   time.Duration
	totalRuntime time.Duration
	pausePoints  []time.Duration
}

// NewCustomControl is the registry factory for custom_control.
func NewCustomControl(simulation.Config) (simulation.Payload, error) {
	return &CustomControl{}, nil
}

func (c *CustomControl) Setup(_ context.Context, _ *simulation.Simulation, params map[string]any) error {
	var err error
	if c.pollPeriod, err = durationParam(params, "poll_period", 500*time.Millisecond); err != nil {
		return err
	}
	if c.totalRuntime, err = durationParam(params, "total_runtime", 30*time.Second); err != nil {
		return err
	}
	c.pausePoints, err = secondsListParam(params, "pause_points")
	return err
}

func (c *CustomControl) Run(_ context.Context, sim *simulation.Simulation, _ map[string]any) error {
	var elapsed time.Duration
	progress := func() any {
		return map[string]any{"elapsed": elapsed.Seconds(), "total": c.totalRuntime.Seconds()}
	}

	next := 0
	for elapsed < c.totalRuntime {
		if next < len(c.pausePoints) && elapsed >= c.pausePoints[next] {
			if c.pause(sim, progress) {
				return nil
			}
			next++
		}
		step := max(c.pollPeriod, responsiveness)
		if sleep(sim, step, progress) {
			return nil
		}
		elapsed += step
	}
	return nil
}

// pause blocks until a continue query or a stop arrives. Returns true on stop.
func (c *CustomControl) pause(sim *simulation.Simulation, progress func() any) bool {
	ix := sim.Interactor()
	ix.RequestControl(interactor.CustomQuery, continuePrompt)
	defer ix.ResolveControl(interactor.CustomQuery)

	for {
		if ix.SetOutIfInFunc(interactor.CustomQuery, map[string]any{"continue": true}, hasContinue) {
			// Consumed so a later pause point waits for a fresh continue.
			ix.ResetIncoming(interactor.CustomQuery)
			return false
		}
		if sleep(sim, responsiveness, progress) {
			return true
		}
	}
}

func hasContinue(v any) bool {
	switch m := v.(type) {
	case map[string]any:
		_, ok := m["continue"]
		return ok
	case map[string]string:
		_, ok := m["continue"]
		return ok
	case string:
		return m == "continue"
	default:
		return false
	}
}
