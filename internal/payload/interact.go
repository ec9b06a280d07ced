// Package payload provides the built-in simulation types: countdown,
// custom_control and container.
package payload

import (
	"time"

	"simtracker/internal/interactor"
	"simtracker/internal/simulation"
)

// ResultChannel carries a payload's final result.
const ResultChannel = "result"

// responsiveness bounds how long a payload goes without servicing its channels.
const responsiveness = 10 * time.Millisecond

// Progress is the value payloads publish on the progress channel.
type Progress struct {
	Step  int `json:"step"`
	Total int `json:"total"`
}

// serve answers a pending progress request and reports whether a stop was
// requested. A requested stop is acknowledged and marks the simulation cancelled.
func serve(sim *simulation.Simulation, progress any) (stop bool) {
	ix := sim.Interactor()
	ix.SetOutIfIn(interactor.Progress, progress)
	if ix.SetOutIfIn(interactor.StopSimulation, true) {
		sim.SetCancelled()
		return true
	}
	return false
}

// sleep waits for d while servicing channels. Returns true if a stop arrived.
func sleep(sim *simulation.Simulation, d time.Duration, progress func() any) bool {
	deadline := time.Now().Add(d)
	for {
		if serve(sim, progress()) {
			return true
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		time.Sleep(min(remaining, responsiveness))
	}
}
