// Package interactor provides the per-simulation channel set through which
// callers and a running simulation exchange values.
package interactor

import (
	"reflect"
	"sort"
	"sync"
)

// Channel names present on every Interactor.
const (
	StopSimulation = "stop_simulation"
	Progress       = "progress"
	CustomQuery    = "custom_query"
)

// DefaultChannels lists the channels created by New in addition to any extras.
var DefaultChannels = []string{StopSimulation, Progress, CustomQuery}

type lockedChannel struct {
	mu sync.Mutex
	ch Channel
}

// Interactor holds a fixed set of named channels. Every operation locks only the
// channel it touches; Reset is the single operation that takes every lock.
// Operations on a name that is not part of the set are no-ops.
type Interactor struct {
	channels map[string]*lockedChannel
	names    []string // sorted; fixes the lock order for Reset

	controlMu sync.Mutex
	controls  map[string]string
}

// New creates an Interactor with the default channels plus extra.
func New(extra ...string) *Interactor {
	i := &Interactor{
		channels: make(map[string]*lockedChannel),
		controls: make(map[string]string),
	}
	for _, name := range append(append([]string{}, DefaultChannels...), extra...) {
		if name == "" {
			continue
		}
		if _, ok := i.channels[name]; ok {
			continue
		}
		i.channels[name] = &lockedChannel{ch: NewChannel(nil)}
		i.names = append(i.names, name)
	}
	sort.Strings(i.names)
	return i
}

// Names returns the channel names in sorted order.
func (i *Interactor) Names() []string {
	out := make([]string, len(i.names))
	copy(out, i.names)
	return out
}

// Has reports whether name is one of this Interactor's channels.
func (i *Interactor) Has(name string) bool {
	_, ok := i.channels[name]
	return ok
}

// with runs fn while holding the named channel's lock. Returns false if the
// channel does not exist.
func (i *Interactor) with(name string, fn func(*Channel)) bool {
	lc, ok := i.channels[name]
	if !ok {
		return false
	}
	lc.mu.Lock()
	defer lc.mu.Unlock()
	fn(&lc.ch)
	return true
}

// GetIn peeks at the incoming flag.
func (i *Interactor) GetIn(name string) (triggered bool, value any) {
	i.with(name, func(c *Channel) {
		triggered, value = c.Incoming.Triggered(), c.Incoming.Value()
	})
	return triggered, value
}

// GetOut peeks at the outgoing flag.
func (i *Interactor) GetOut(name string) (triggered bool, value any) {
	i.with(name, func(c *Channel) {
		triggered, value = c.Outgoing.Triggered(), c.Outgoing.Value()
	})
	return triggered, value
}

// SetIn triggers the incoming flag with v.
func (i *Interactor) SetIn(name string, v any) {
	i.with(name, func(c *Channel) { c.Incoming.TriggerWith(v) })
}

// SetOut triggers the outgoing flag with v.
func (i *Interactor) SetOut(name string, v any) {
	i.with(name, func(c *Channel) { c.Outgoing.TriggerWith(v) })
}

// ConsumeIn reads and resets the incoming flag.
func (i *Interactor) ConsumeIn(name string) (triggered bool, value any) {
	i.with(name, func(c *Channel) { triggered, value = c.Incoming.ConsumeTrigger() })
	return triggered, value
}

// ConsumeOut reads and resets the outgoing flag.
func (i *Interactor) ConsumeOut(name string) (triggered bool, value any) {
	i.with(name, func(c *Channel) { triggered, value = c.Outgoing.ConsumeTrigger() })
	return triggered, value
}

// SetOutIfIn writes v to outgoing only if incoming is triggered.
func (i *Interactor) SetOutIfIn(name string, v any) bool {
	return i.SetOutIfInFunc(name, v, func(any) bool { return true })
}

// SetInIfOut writes v to incoming only if outgoing is triggered.
func (i *Interactor) SetInIfOut(name string, v any) bool {
	return i.SetInIfOutFunc(name, v, func(any) bool { return true })
}

// SetOutIfInValue writes v to outgoing only if incoming is triggered with a value equal to cmp.
func (i *Interactor) SetOutIfInValue(name string, v, cmp any) bool {
	return i.SetOutIfInFunc(name, v, func(cur any) bool { return reflect.DeepEqual(cur, cmp) })
}

// SetInIfOutValue writes v to incoming only if outgoing is triggered with a value equal to cmp.
func (i *Interactor) SetInIfOutValue(name string, v, cmp any) bool {
	return i.SetInIfOutFunc(name, v, func(cur any) bool { return reflect.DeepEqual(cur, cmp) })
}

// SetOutIfInFunc writes v to outgoing only if incoming is triggered and match
// accepts its value. match runs under the channel lock and must not call back
// into the Interactor.
func (i *Interactor) SetOutIfInFunc(name string, v any, match func(any) bool) bool {
	var ok bool
	i.with(name, func(c *Channel) {
		if c.Incoming.Triggered() && match(c.Incoming.Value()) {
			c.Outgoing.TriggerWith(v)
			ok = true
		}
	})
	return ok
}

// SetInIfOutFunc is the incoming counterpart of SetOutIfInFunc.
func (i *Interactor) SetInIfOutFunc(name string, v any, match func(any) bool) bool {
	var ok bool
	i.with(name, func(c *Channel) {
		if c.Outgoing.Triggered() && match(c.Outgoing.Value()) {
			c.Incoming.TriggerWith(v)
			ok = true
		}
	})
	return ok
}

// ResetIncoming clears the incoming side of each named channel.
func (i *Interactor) ResetIncoming(names ...string) {
	for _, name := range names {
		i.with(name, func(c *Channel) { c.Incoming.Reset() })
	}
}

// ResetOutgoing clears the outgoing side of each named channel.
func (i *Interactor) ResetOutgoing(names ...string) {
	for _, name := range names {
		i.with(name, func(c *Channel) { c.Outgoing.Reset() })
	}
}

// Reset clears every channel in both directions. All channel locks are held
// together so no caller observes a partially cleared set.
func (i *Interactor) Reset() {
	for _, name := range i.names {
		i.channels[name].mu.Lock()
	}
	for _, name := range i.names {
		lc := i.channels[name]
		lc.ch.Incoming.Reset()
		lc.ch.Outgoing.Reset()
	}
	for idx := len(i.names) - 1; idx >= 0; idx-- {
		i.channels[i.names[idx]].mu.Unlock()
	}
}

// OutgoingValues snapshots every triggered outgoing flag.
func (i *Interactor) OutgoingValues() map[string]any {
	out := make(map[string]any)
	for _, name := range i.names {
		if ok, v := i.GetOut(name); ok {
			out[name] = v
		}
	}
	return out
}

// IncomingValues snapshots every triggered incoming flag.
func (i *Interactor) IncomingValues() map[string]any {
	out := make(map[string]any)
	for _, name := range i.names {
		if ok, v := i.GetIn(name); ok {
			out[name] = v
		}
	}
	return out
}
