package actor

import (
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/actorkit/tdcore/internal/telemetry"
	"github.com/actorkit/tdcore/poll"
)

// Scheduler is the per-goroutine/OS-thread runtime described in
// SPEC_FULL.md §4.2: it owns a slab of actors (via Pool), a ready list, a
// timer heap, and a poll.Backend for its own wake/timeout loop. Exactly one
// goroutine ever calls Run; every other method that touches scheduler-local
// state detects whether it is being called from that goroutine and, if
// not, redirects through the lock-free cross-scheduler inbox.
type Scheduler struct {
	id  int
	log *telemetry.Logger

	pool *Pool[*actorSlot]

	readyHead, readyTail     *actorSlot
	pendingHead, pendingTail *actorSlot

	timers *Heap[float64]

	pendingEvents map[*actorSlot][]Event

	inbox   *crossRing
	wake    *wakePipe
	backend poll.Backend

	loopGoroutineID atomic.Uint64

	// dispatch-scoped state, valid only while runActor is on the stack.
	curSlot          *actorSlot
	curStop          bool
	curMigrateTarget *Scheduler

	clock func() float64 // monotonic seconds; overridable for tests

	stopRequested atomic.Bool
	done          chan struct{}
}

// NewScheduler creates a Scheduler identified by id, using backend for its
// poll loop. The caller must call Run (typically in its own goroutine).
func NewScheduler(id int, backend poll.Backend, log *telemetry.Logger) (*Scheduler, error) {
	wp, err := newWakePipe()
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		id:            id,
		log:           log,
		pool:          NewPool[*actorSlot](),
		timers:        NewHeap[float64](),
		pendingEvents: make(map[*actorSlot][]Event),
		inbox:         newCrossRing(),
		wake:          wp,
		backend:       backend,
		clock:         func() float64 { return float64(time.Now().UnixNano()) / 1e9 },
		done:          make(chan struct{}),
	}
	if err := backend.Subscribe(wp.fd(), poll.Read, func(poll.Flags) { wp.drain() }); err != nil {
		_ = wp.close()
		return nil, err
	}
	return s, nil
}

// ID returns this scheduler's configured id (its index within a Runtime).
func (s *Scheduler) ID() int { return s.id }

func (s *Scheduler) now() float64 { return s.clock() }

func (s *Scheduler) onOwnGoroutine() bool {
	id := s.loopGoroutineID.Load()
	return id != 0 && id == getGoroutineID()
}

// Spawn creates a new actor on s, seeded with ctx (typically a parent's
// Context, or Context{} for a root actor), and returns its ID. The actor
// is placed on the pending list and receives a Start event on s's next
// tick — it does not run synchronously within Spawn.
func Spawn[T Actor](s *Scheduler, ctx Context, a T) ID[T] {
	slot := &actorSlot{actor: a, ctx: ctx, originPool: s.pool, timerNode: HeapNode{pos: -1}}
	slot.homeSched.Store(s)
	id := s.pool.Alloc(slot)
	slot.id = id
	s.pendingPush(slot)
	return ID[T]{sched: s, id: id}
}

// --- intrusive list helpers (ready list) ---

func (s *Scheduler) readyPushBack(a *actorSlot) {
	if a.inReadyList {
		return
	}
	a.readyList.prev, a.readyList.next = s.readyTail, nil
	if s.readyTail != nil {
		s.readyTail.readyList.next = a
	} else {
		s.readyHead = a
	}
	s.readyTail = a
	a.inReadyList = true
}

func (s *Scheduler) readyPopFront() *actorSlot {
	a := s.readyHead
	if a == nil {
		return nil
	}
	s.readyHead = a.readyList.next
	if s.readyHead != nil {
		s.readyHead.readyList.prev = nil
	} else {
		s.readyTail = nil
	}
	a.readyList.prev, a.readyList.next = nil, nil
	a.inReadyList = false
	return a
}

func (s *Scheduler) readyRemove(a *actorSlot) {
	if !a.inReadyList {
		return
	}
	if a.readyList.prev != nil {
		a.readyList.prev.readyList.next = a.readyList.next
	} else {
		s.readyHead = a.readyList.next
	}
	if a.readyList.next != nil {
		a.readyList.next.readyList.prev = a.readyList.prev
	} else {
		s.readyTail = a.readyList.prev
	}
	a.readyList.prev, a.readyList.next = nil, nil
	a.inReadyList = false
}

func (s *Scheduler) pendingPush(a *actorSlot) {
	a.pendingList.prev, a.pendingList.next = s.pendingTail, nil
	if s.pendingTail != nil {
		s.pendingTail.pendingList.next = a
	} else {
		s.pendingHead = a
	}
	s.pendingTail = a
	a.inPending = true
}

func (s *Scheduler) pendingPopFront() *actorSlot {
	a := s.pendingHead
	if a == nil {
		return nil
	}
	s.pendingHead = a.pendingList.next
	if s.pendingHead != nil {
		s.pendingHead.pendingList.prev = nil
	} else {
		s.pendingTail = nil
	}
	a.pendingList.prev, a.pendingList.next = nil, nil
	a.inPending = false
	return a
}

func (s *Scheduler) makeReady(a *actorSlot) {
	if a.destroyed || a.running || a.inReadyList {
		return
	}
	s.readyPushBack(a)
}

// --- timers ---

func (s *Scheduler) setTimeoutAt(a *actorSlot, deadline float64) {
	a.timeoutAt = deadline
	if a.timerNode.inHeap() {
		s.timers.ChangeKey(&a.timerNode, deadline)
	} else {
		s.timers.Insert(deadline, a, &a.timerNode)
	}
}

func (s *Scheduler) cancelTimeout(a *actorSlot) {
	s.timers.Erase(&a.timerNode)
	a.timeoutAt = 0
}

// --- sending ---

// sendImmediately implements send_immediately: synchronous fast path when
// the target lives on the caller's own scheduler goroutine and is idle;
// buffered-then-flushed when it's mid-dispatch; routed through the cross
// ring otherwise. The receiver s is the actor's origin scheduler (ID.sched),
// used only to resolve id; the actual routing target is always
// slot.homeSched, which may have changed via migration.
func (s *Scheduler) sendImmediately(id WeakID[*actorSlot], ev Event) {
	slot, ok := s.pool.Get(id)
	if !ok {
		return // dangling: silently dropped, per the data model
	}
	home := slot.homeSched.Load()
	if home.onOwnGoroutine() {
		if slot.running {
			// Sent while slot is mid-dispatch, either by itself (e.g. via
			// Cell.Self()) or by another actor running synchronously on the
			// same goroutine: queued for delivery after the current batch,
			// never folded into it, per the data model.
			home.pendingEvents[slot] = append(home.pendingEvents[slot], ev)
			return
		}
		home.dispatchOne(slot, ev)
		home.afterDispatch(slot)
		return
	}
	home.inbox.push(crossMsg{slot: slot, ev: ev})
	home.wake.wake()
}

// sendLater implements send_later: always appended to the mailbox, never
// invoked synchronously, preserving FIFO order against other send_later
// calls from the same goroutine.
func (s *Scheduler) sendLater(id WeakID[*actorSlot], ev Event) {
	slot, ok := s.pool.Get(id)
	if !ok {
		return
	}
	home := slot.homeSched.Load()
	if home.onOwnGoroutine() {
		slot.mbox.push(ev)
		home.makeReady(slot)
		return
	}
	home.inbox.push(crossMsg{slot: slot, ev: ev})
	home.wake.wake()
}

// --- dispatch ---

// dispatchOne executes exactly one event against slot, outside of any
// batch, then applies afterDispatch before restoring the dispatch state of
// whatever handler was already on the stack; used by the send_immediately
// synchronous fast path.
func (s *Scheduler) dispatchOne(slot *actorSlot, ev Event) {
	prevSlot, prevStop, prevMig := s.curSlot, s.curStop, s.curMigrateTarget
	s.curSlot, s.curStop, s.curMigrateTarget = slot, false, nil
	slot.running = true
	s.invoke(slot, ev)
	slot.running = false
	s.afterDispatch(slot)
	s.curSlot, s.curStop, s.curMigrateTarget = prevSlot, prevStop, prevMig
}

func (s *Scheduler) invoke(slot *actorSlot, ev Event) {
	c := &Cell{sched: s, slot: slot}
	switch ev.Tag {
	case Start:
		slot.actor.StartUp(c)
	case Stop:
		s.curStop = true
	case Yield:
		slot.actor.Loop(c)
	case Timeout:
		slot.actor.TimeoutExpired(c)
	case Hangup:
		slot.actor.HangupReceived(c)
	case HangupShared:
		slot.actor.HangupSharedReceived(c, ev.LinkToken)
	case Raw:
		slot.actor.RawEvent(c, ev.Raw)
	case Custom:
		if ev.custom != nil {
			ev.custom.Run(slot.actor, c)
		}
	}
}

// afterDispatch applies the post-event-context bookkeeping of §4.2 step 4-6:
// stop/migrate/re-ready, after a single synchronous dispatch (not a batch).
func (s *Scheduler) afterDispatch(slot *actorSlot) {
	if pend, ok := s.pendingEvents[slot]; ok {
		for _, ev := range pend {
			slot.mbox.push(ev)
		}
		delete(s.pendingEvents, slot)
	}
	if s.curStop {
		s.destroyActor(slot)
	} else if s.curMigrateTarget != nil {
		s.migrateActor(slot, s.curMigrateTarget)
	} else if !slot.mbox.empty() {
		s.makeReady(slot)
	}
}

// runActor pops the actor's current mailbox as one batch and runs each
// event in turn, stopping early (and discarding the remainder of the
// batch) if a Stop was processed — "if the actor has been stopped by a
// previous event in the same batch, drop remaining events."
func (s *Scheduler) runActor(slot *actorSlot) {
	s.curSlot = slot
	s.curStop = false
	s.curMigrateTarget = nil
	slot.running = true

	batch := slot.mbox.len()
	for i := 0; i < batch; i++ {
		ev, ok := slot.mbox.pop()
		if !ok {
			break
		}
		if s.curStop {
			continue // drop remaining events in this batch
		}
		s.invoke(slot, ev)
	}

	slot.running = false
	s.curSlot = nil
	s.afterDispatch(slot)
}

func (s *Scheduler) destroyActor(slot *actorSlot) {
	s.cancelTimeout(slot)
	s.readyRemove(slot)
	c := &Cell{sched: s, slot: slot}
	slot.actor.TearDown(c)
	for _, child := range slot.owned {
		child.Send(NewHangup())
	}
	slot.owned = nil
	slot.destroyed = true
	slot.originPool.Free(slot.id)
}

// migrateActor transfers execution responsibility for slot to target: its
// buffered mailbox and outstanding timer move with it; slot's identity
// (WeakID, pool membership) does not change, so existing Refs keep working.
func (s *Scheduler) migrateActor(slot *actorSlot, target *Scheduler) {
	s.readyRemove(slot)
	if slot.timerNode.inHeap() {
		s.timers.Erase(&slot.timerNode)
	}
	slot.homeSched.Store(target)
	target.inbox.push(crossMsg{slot: slot, ev: Event{Tag: migrateArrival, Raw: math.Float64bits(slot.timeoutAt)}})
	target.wake.wake()
}

// migrateArrival is an internal Tag value, never exposed to Actor
// implementations, used only to carry an arriving actor's timer deadline
// across the cross-ring to its new home scheduler.
const migrateArrival Tag = 255

// --- tick / run loop ---

// Run pins this Scheduler to the calling goroutine (and that goroutine to
// its OS thread) and processes pending spawns, cross-scheduler deliveries,
// expired timers, and one ready actor per iteration until Shutdown is
// called.
func (s *Scheduler) Run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	s.loopGoroutineID.Store(getGoroutineID())
	defer close(s.done)
	defer s.loopGoroutineID.Store(0)

	for !s.stopRequested.Load() {
		s.tick()
	}
}

// Shutdown requests Run return after finishing its current tick, and
// blocks until it has.
func (s *Scheduler) Shutdown() {
	s.stopRequested.Store(true)
	s.wake.wake()
	<-s.done
	_ = s.backend.Close()
	s.wake.close()
}

func (s *Scheduler) tick() {
	for a := s.pendingPopFront(); a != nil; a = s.pendingPopFront() {
		a.mbox.push(NewStart())
		s.makeReady(a)
	}

	s.drainInbox()

	now := s.now()
	for !s.timers.Empty() && s.timers.TopKey() <= now {
		a := s.timers.Pop().(*actorSlot)
		a.timeoutAt = 0
		if !a.destroyed {
			a.mbox.push(NewTimeout())
			s.makeReady(a)
		}
	}

	timeoutMs := s.nextTimeoutMs(now)
	_, _ = s.backend.Run(timeoutMs)

	if a := s.readyPopFront(); a != nil {
		s.runActor(a)
	}
}

func (s *Scheduler) drainInbox() {
	for {
		msg, ok := s.inbox.pop()
		if !ok {
			return
		}
		if msg.ev.Tag == migrateArrival {
			if msg.slot.destroyed {
				continue
			}
			deadline := math.Float64frombits(msg.ev.Raw)
			if deadline > 0 {
				s.timers.Insert(deadline, msg.slot, &msg.slot.timerNode)
				msg.slot.timeoutAt = deadline
			}
			if !msg.slot.mbox.empty() {
				s.makeReady(msg.slot)
			}
			continue
		}
		if msg.slot.destroyed {
			continue
		}
		if home := msg.slot.homeSched.Load(); home != s {
			// The actor migrated away while this message was in flight:
			// forward it to the new home rather than dropping it.
			home.inbox.push(msg)
			home.wake.wake()
			continue
		}
		msg.slot.mbox.push(msg.ev)
		s.makeReady(msg.slot)
	}
}

// nextTimeoutMs computes the poll timeout: 0 if there's ready work, the
// time to the nearest timer if one is pending, or -1 (block indefinitely)
// otherwise — the poll loop's integration point for the timer heap
// described in SPEC_FULL.md §4.2.
func (s *Scheduler) nextTimeoutMs(now float64) int {
	if s.readyHead != nil || s.pendingHead != nil {
		return 0
	}
	if s.timers.Empty() {
		return -1
	}
	delta := s.timers.TopKey() - now
	if delta <= 0 {
		return 0
	}
	ms := int(delta * 1000)
	if ms < 1 {
		ms = 1
	}
	return ms
}
