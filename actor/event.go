package actor

// Tag classifies an Event. Order is not significant; values are stable
// within this module only.
type Tag uint8

const (
	// Start is delivered once, the first time an actor is run.
	Start Tag = iota
	// Stop requests cooperative termination. No Actor method is called for
	// it; after delivery the scheduler runs TearDown and destroys the actor,
	// dropping the rest of the current batch.
	Stop
	// Yield is what an actor sends itself to run again later; delivering it
	// calls Loop.
	Yield
	// Timeout is delivered when an actor's heap-scheduled timer expires.
	Timeout
	// Hangup is delivered when an actor's unique Own reference is dropped.
	Hangup
	// HangupShared is delivered when a Shared reference is dropped; carries
	// that reference's link token so the actor can release the matching
	// resource bucket.
	HangupShared
	// Raw carries an opaque uint64 payload and nothing else.
	Raw
	// Custom carries a boxed Runner that executes exactly once.
	Custom
)

func (t Tag) String() string {
	switch t {
	case Start:
		return "Start"
	case Stop:
		return "Stop"
	case Yield:
		return "Yield"
	case Timeout:
		return "Timeout"
	case Hangup:
		return "Hangup"
	case HangupShared:
		return "HangupShared"
	case Raw:
		return "Raw"
	case Custom:
		return "Custom"
	default:
		return "Unknown"
	}
}

// Runner is a boxed closure event; it executes exactly once against the
// actor it was delivered to, with access to that actor's Cell for any
// scheduler capability (timers, spawning, stopping) the closure needs.
// Implementing Run is how polymorphism over actor behaviour is achieved in
// place of the source's virtual dispatch — see design note in
// SPEC_FULL.md §9.
type Runner interface {
	Run(a Actor, c *Cell)
}

// RunnerFunc adapts a plain function to Runner.
type RunnerFunc func(a Actor, c *Cell)

func (f RunnerFunc) Run(a Actor, c *Cell) { f(a, c) }

// Event is the unit of delivery to an actor's mailbox.
type Event struct {
	Tag       Tag
	LinkToken uint64
	Raw       uint64
	custom    Runner
}

// NewStart, NewStop, NewYield, NewTimeout, NewHangup are convenience
// constructors for the fixed-shape events.
func NewStart() Event   { return Event{Tag: Start} }
func NewStop() Event    { return Event{Tag: Stop} }
func NewYield() Event   { return Event{Tag: Yield} }
func NewTimeout() Event { return Event{Tag: Timeout} }
func NewHangup() Event  { return Event{Tag: Hangup} }

// NewRaw builds a Raw event carrying payload.
func NewRaw(payload uint64) Event { return Event{Tag: Raw, Raw: payload} }

// NewCustom boxes r as a Custom event.
func NewCustom(r Runner) Event { return Event{Tag: Custom, custom: r} }

// Immediate is an alias of NewCustom retained for readers familiar with the
// source's immediate_closure/delayed_closure naming — in this port there is
// no distinction at the Event level; immediacy is a property of how the
// event is sent (SendImmediately vs SendLater), not how it is constructed.
func Immediate(r Runner) Event { return NewCustom(r) }
