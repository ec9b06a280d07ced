package simulation

import (
	"github.com/google/uuid"
)

// Member is one simulation of a Group together with its tracker id.
type Member struct {
	ID  uuid.UUID
	Sim *Simulation
}

// Group observes a set of simulations through two barriers: one firing when
// every member has started running and one when every member has finished.
type Group struct {
	id         uuid.UUID
	members    []Member
	allStarted *TriggeredCallback
	allEnded   *TriggeredCallback
}

// NewGroup wires each member's start_run and end_run events into the group
// barriers. Members must not have started yet.
func NewGroup(id uuid.UUID, members []Member) *Group {
	g := &Group{
		id:         id,
		members:    append([]Member(nil), members...),
		allStarted: NewTriggeredCallback(len(members)),
		allEnded:   NewTriggeredCallback(len(members)),
	}
	for _, m := range g.members {
		_ = m.Sim.AddCallback(StartRun, func(*Simulation) { g.allStarted.Trigger() })
		_ = m.Sim.AddCallback(EndRun, func(*Simulation) { g.allEnded.Trigger() })
	}
	return g
}

// ID returns the group id.
func (g *Group) ID() uuid.UUID { return g.id }

// Members returns the group's members in creation order.
func (g *Group) Members() []Member {
	return append([]Member(nil), g.members...)
}

// IDs returns the member ids in creation order.
func (g *Group) IDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(g.members))
	for i, m := range g.members {
		ids[i] = m.ID
	}
	return ids
}

// OnAllRunStart registers fn to run once every member has started running.
func (g *Group) OnAllRunStart(fn func()) bool {
	return g.allStarted.AddCallback(fn)
}

// OnAllRunEnd registers fn to run once every member has finished running.
func (g *Group) OnAllRunEnd(fn func()) bool {
	return g.allEnded.AddCallback(fn)
}

// OnEachRunStart registers fn on every member's start_run event.
func (g *Group) OnEachRunStart(fn CallbackFunc) {
	for _, m := range g.members {
		_ = m.Sim.AddCallback(StartRun, fn)
	}
}

// OnEachRunEnd registers fn on every member's end_run event.
func (g *Group) OnEachRunEnd(fn CallbackFunc) {
	for _, m := range g.members {
		_ = m.Sim.AddCallback(EndRun, fn)
	}
}

// AllDone reports whether every member's worker has exited.
func (g *Group) AllDone() bool {
	for _, m := range g.members {
		if !m.Sim.IsDone() {
			return false
		}
	}
	return true
}

// AnyRunning reports whether at least one member's worker is still alive.
func (g *Group) AnyRunning() bool {
	return !g.AllDone()
}
