package actor

import "sync/atomic"

// Actor is the capability set an implementation supplies, replacing the
// source's deep virtual-method inheritance (see SPEC_FULL.md §9). Every
// method has a default no-op via Base, embedded into concrete actor types;
// implementations override only what they need. Each method receives a
// Cell scoped to the actor being invoked, for scheduler capabilities
// (timers, spawning children, stopping, migrating) that the source's
// Actor base class exposed as protected member functions.
type Actor interface {
	StartUp(c *Cell)
	TearDown(c *Cell)
	Loop(c *Cell)
	TimeoutExpired(c *Cell)
	HangupReceived(c *Cell)
	HangupSharedReceived(c *Cell, linkToken uint64)
	RawEvent(c *Cell, payload uint64)
	Wakeup(c *Cell)
}

// Base supplies no-op defaults for every Actor method; concrete actor
// types embed Base and override only what they use.
type Base struct{}

func (Base) StartUp(*Cell)                       {}
func (Base) TearDown(*Cell)                      {}
func (Base) Loop(*Cell)                          {}
func (Base) TimeoutExpired(*Cell)                {}
func (Base) HangupReceived(*Cell)                {}
func (Base) HangupSharedReceived(*Cell, uint64)   {}
func (Base) RawEvent(*Cell, uint64)               {}
func (Base) Wakeup(*Cell)                         {}

// listNode links actorSlot into a scheduler's intrusive ready/pending
// lists; at most one of those lists owns a given slot at a time.
type listNode struct {
	prev, next *actorSlot
}

// actorSlot is the scheduler-owned metadata record for one actor, grounded
// on original_source/tdactor/td/actor/impl/ActorInfo-decl.h's
// "ActorInfo final : ListNode, HeapNode" — mailbox, list linkage, and timer
// heap linkage all live on this one record rather than on the actor value
// itself, so the actor implementation stays a plain capability set.
//
// homeSched names the Scheduler currently responsible for running this
// actor; it starts as the spawning Scheduler and is updated by Migrate.
// The actor's identity slot (and the WeakID addressing it) never moves —
// only homeSched does — so a Ref captured before a migration stays valid
// afterward, matching the data model's location transparency.
type actorSlot struct {
	actor Actor
	ctx   Context

	// originPool is the Pool this slot's WeakID was allocated from — fixed
	// at Spawn time. homeSched may move the slot to a different Scheduler,
	// but the WeakID stays valid only against originPool, so Free and any
	// origin-relative bookkeeping must always go through this, never
	// through whichever Scheduler currently owns execution.
	originPool *Pool[*actorSlot]

	homeSched atomic.Pointer[Scheduler]

	mbox mailbox

	readyList   listNode
	pendingList listNode
	inReadyList bool
	inPending   bool

	timerNode HeapNode
	timeoutAt float64

	running   bool
	destroyed bool

	owned []Ref // children tracked for hangup cascade on destroy

	id WeakID[*actorSlot]
}
