package payload

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"simtracker/internal/simulation"
)

// Countdown ticks a fixed number of times, answering progress and stop
// requests between ticks, then publishes the tick count on the result channel.
//
// Params: ticks (default 10), interval in seconds or as a duration string
// (default 100ms).
type Countdown struct {
	ticks    int
	interval time.Duration
}

// NewCountdown is the registry factory for countdown.
func NewCountdown(simulation.Config) (simulation.Payload, error) {
	return &Countdown{}, nil
}

func (c *Countdown) Channels() []string { return []string{ResultChannel} }

func (c *Countdown) Setup(_ context.Context, _ *simulation.Simulation, params map[string]any) error {
	ticks, err := intParam(params, "ticks", 10)
	if err != nil {
		return err
	}
	if ticks < 0 {
		return fmt.Errorf("ticks: must not be negative, got %d", ticks)
	}
	interval, err := durationParam(params, "interval", 100*time.Millisecond)
	if err != nil {
		return err
	}
	if interval < 0 {
		return fmt.Errorf("interval: must not be negative, got %v", interval)
	}
	c.ticks, c.interval = ticks, interval
	return nil
}

func (c *Countdown) Run(_ context.Context, sim *simulation.Simulation, _ map[string]any) error {
	logger := slog.With("component", "countdown", "simId", sim.ID().String())
	step := 0
	progress := func() any { return Progress{Step: step, Total: c.ticks} }

	for step < c.ticks {
		if sleep(sim, c.interval, progress) {
			logger.Info("Countdown stopped", "step", step)
			return nil
		}
		step++
	}
	sim.Interactor().SetOut(ResultChannel, map[string]any{"ticks": step})
	// Final progress answer so a caller polling at the end still sees 100%.
	serve(sim, progress())
	return nil
}
