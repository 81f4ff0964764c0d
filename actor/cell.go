package actor

import "time"

// Cell is the handle an Actor method receives for the duration of one
// event dispatch: it exposes the scheduler capabilities the source
// exposed as protected members of its Actor base class (timers, spawning,
// self-stop, migration, context access), scoped to the actor currently
// being run.
//
// A Cell must not be retained past the Actor method call it was passed
// to; its Stop/Migrate calls only take effect for the invocation that is
// currently executing.
type Cell struct {
	sched *Scheduler
	slot  *actorSlot
}

// Context returns this actor's inheritable context (logging tag, user data).
func (c *Cell) Context() Context { return c.slot.ctx }

// Self returns a type-erased reference to the actor this Cell belongs to,
// suitable for handing to a child so it can address its parent.
func (c *Cell) Self() Ref {
	return Ref{sched: c.slot.homeSched.Load(), id: c.slot.id}
}

// Stop marks the current actor for termination: after the handler that
// called Stop returns, TearDown runs and the actor is destroyed. Calling
// Stop does not interrupt the in-progress handler — cancellation is
// cooperative and only takes effect at the next event boundary, per the
// data model.
func (c *Cell) Stop() { c.sched.curStop = true }

// Migrate marks the current actor to move to a different Scheduler within
// the same Runtime once the in-progress handler returns.
func (c *Cell) Migrate(target *Scheduler) { c.sched.curMigrateTarget = target }

// SetTimeoutAfter arms (or rearms) this actor's single outstanding timeout
// to fire d from now.
func (c *Cell) SetTimeoutAfter(d time.Duration) {
	c.sched.setTimeoutAt(c.slot, c.sched.now()+d.Seconds())
}

// SetTimeoutAt arms (or rearms) this actor's timeout to the given
// monotonic-seconds deadline.
func (c *Cell) SetTimeoutAt(deadline float64) {
	c.sched.setTimeoutAt(c.slot, deadline)
}

// CancelTimeout removes any outstanding timeout for this actor.
func (c *Cell) CancelTimeout() { c.sched.cancelTimeout(c.slot) }

// TrackOwned registers child as owned by the current actor, so that
// destroying the current actor cascades a Hangup to child.
func (c *Cell) TrackOwned(child Ref) { c.slot.owned = append(c.slot.owned, child) }

// Scheduler returns the Scheduler currently responsible for running this
// actor (its home scheduler at the time of the call).
func (c *Cell) Scheduler() *Scheduler { return c.slot.homeSched.Load() }
