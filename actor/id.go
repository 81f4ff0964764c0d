package actor

import "sync/atomic"

// ID is a weak, type-erased-free reference to an actor living on some
// Scheduler. It does not keep the actor alive; Send silently drops once the
// actor is gone, matching the data model's "dangling sends silently drop."
type ID[T Actor] struct {
	sched *Scheduler
	id    WeakID[*actorSlot]
}

// Scheduler returns the scheduler the referenced actor was spawned on, or
// nil for the zero-value ID. It does not change when the actor migrates;
// Cell.Scheduler reports where the actor currently runs.
func (r ID[T]) Scheduler() *Scheduler { return r.sched }

// Ref erases the actor's concrete type, for storage in heterogeneous
// collections (e.g. a parent's list of owned children of different types).
type Ref struct {
	sched *Scheduler
	id    WeakID[*actorSlot]
}

// Untyped erases T from an ID, producing a Ref.
func Untyped[T Actor](r ID[T]) Ref { return Ref{sched: r.sched, id: r.id} }

// Send delivers ev to the referenced actor using send_immediately semantics
// (see Scheduler.SendImmediately).
func (r Ref) Send(ev Event) { r.sched.sendImmediately(r.id, ev) }

// SendLater delivers ev using send_later semantics (always mailbox, never
// synchronous).
func (r Ref) SendLater(ev Event) { r.sched.sendLater(r.id, ev) }

// Send delivers ev to the referenced actor using send_immediately semantics.
func (r ID[T]) Send(ev Event) { r.sched.sendImmediately(r.id, ev) }

// SendLater delivers ev using send_later semantics.
func (r ID[T]) SendLater(ev Event) { r.sched.sendLater(r.id, ev) }

// SendClosure boxes fn as a Custom event addressed to the actor of type T,
// then delivers it with send_immediately semantics — the typed equivalent
// of the data model's send_closure.
func SendClosure[T Actor](r ID[T], fn func(T, *Cell)) {
	r.sched.sendImmediately(r.id, Event{Tag: Custom, custom: typedRunner[T]{fn: fn}})
}

// typedRunner adapts a func(T, *Cell) into a Runner, panicking (a
// ProtocolViolation in spirit: a misrouted closure event) if the concrete
// actor is not a T.
type typedRunner[T Actor] struct{ fn func(T, *Cell) }

func (r typedRunner[T]) Run(a Actor, c *Cell) {
	t, ok := a.(T)
	if !ok {
		panic("actor: send_closure type mismatch")
	}
	r.fn(t, c)
}

// Own is the single owning reference to an actor. Exactly one Own may exist
// per actor at a time. Unlike the C++ original, Go has no deterministic
// destructors, so callers must call Reset explicitly when
// finished — there is no Drop to hook. Reset sends Hangup exactly once.
type Own[T Actor] struct {
	id       ID[T]
	released atomic.Bool
}

// NewOwn wraps id as an owning reference. Callers that received an ID from
// Scheduler.Spawn should wrap it in exactly one Own.
func NewOwn[T Actor](id ID[T]) *Own[T] { return &Own[T]{id: id} }

// ID returns the weak handle underlying this ownership, usable after the
// Own itself is released (it just won't be alive).
func (o *Own[T]) ID() ID[T] { return o.id }

// Send delivers ev with send_immediately semantics.
func (o *Own[T]) Send(ev Event) { o.id.Send(ev) }

// Reset delivers Hangup to the actor and marks this Own as spent. Calling
// Reset more than once is a no-op — exactly one Hangup is ever sent per
// Own, matching invariant P5.
func (o *Own[T]) Reset() {
	if o == nil || !o.released.CompareAndSwap(false, true) {
		return
	}
	o.id.sched.sendImmediately(o.id.id, Event{Tag: Hangup})
}

// Shared is a reference that carries an opaque 64-bit link token. Send
// stamps the token into each event's LinkToken field, but the actor sees
// the token only in HangupSharedReceived: Cell does not expose the link
// token of the event being handled to any other Actor method. Any number
// of Shared handles for the same actor may coexist; each carries its own
// token.
type Shared[T Actor] struct {
	id        ID[T]
	linkToken uint64
	released  atomic.Bool
}

// NewShared derives a Shared reference from id, tagging it with linkToken.
func NewShared[T Actor](id ID[T], linkToken uint64) *Shared[T] {
	return &Shared[T]{id: id, linkToken: linkToken}
}

// LinkToken returns the token this Shared carries.
func (s *Shared[T]) LinkToken() uint64 { return s.linkToken }

// Send delivers ev, stamped with this Shared's link token, with
// send_immediately semantics.
func (s *Shared[T]) Send(ev Event) {
	ev.LinkToken = s.linkToken
	s.id.sched.sendImmediately(s.id.id, ev)
}

// Reset delivers HangupShared (carrying this Shared's link token) exactly
// once.
func (s *Shared[T]) Reset() {
	if s == nil || !s.released.CompareAndSwap(false, true) {
		return
	}
	s.id.sched.sendImmediately(s.id.id, Event{Tag: HangupShared, LinkToken: s.linkToken})
}
