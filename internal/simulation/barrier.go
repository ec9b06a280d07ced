package simulation

import (
	"log/slog"
	"sync"
)

// TriggeredCallback counts triggers and runs its callbacks exactly once, when
// the count first reaches the required number.
type TriggeredCallback struct {
	mu        sync.Mutex
	required  int
	count     int
	fired     bool
	callbacks []func()
}

// NewTriggeredCallback creates a barrier firing after required triggers.
// Values below 1 are treated as 1.
func NewTriggeredCallback(required int) *TriggeredCallback {
	if required < 1 {
		required = 1
	}
	return &TriggeredCallback{required: required}
}

// AddCallback registers fn to run when the barrier fires. Returns false, and
// drops fn, if the barrier has already fired.
func (t *TriggeredCallback) AddCallback(fn func()) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fired {
		return false
	}
	t.callbacks = append(t.callbacks, fn)
	return true
}

// Trigger counts one arrival.
func (t *TriggeredCallback) Trigger() bool {
	return t.Add(1)
}

// Add counts n arrivals. Returns true only for the call that fired the barrier.
// Callbacks run on the calling goroutine after the lock is released.
func (t *TriggeredCallback) Add(n int) bool {
	t.mu.Lock()
	t.count += n
	if t.fired || t.count < t.required {
		t.mu.Unlock()
		return false
	}
	t.fired = true
	fns := t.callbacks
	t.callbacks = nil
	t.mu.Unlock()

	for _, fn := range fns {
		runBarrierCallback(fn)
	}
	return true
}

// Fired reports whether the callbacks have run.
func (t *TriggeredCallback) Fired() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired
}

// Count returns the number of arrivals so far.
func (t *TriggeredCallback) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

func runBarrierCallback(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Barrier callback panicked", "component", "barrier", "panic", r)
		}
	}()
	fn()
}
