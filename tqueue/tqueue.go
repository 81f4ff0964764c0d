package tqueue

import (
	"crypto/rand"
	"math/big"
	"sort"

	"github.com/actorkit/tdcore/internal/telemetry"
)

// QueueID identifies one queue (e.g. one user's update stream).
type QueueID int64

// EventId is a queue-local, monotone 31-bit id in [0, maxEventID).
type EventId int32

const (
	minRandomEventID EventId = 10
	maxEventID       EventId = 2_000_000_000
)

// RawEvent is one event in a queue's FIFO.
type RawEvent struct {
	ID         EventId
	ExpireAt   int64 // unix seconds; 0 means never
	Extra      int64
	Data       []byte
	LogEventID int64 // storage callback's durable handle, for Pop/PopBatch
}

// StorageCallback is the durability contract a TQueue delegates to —
// TQueue.h's TQueueCallback equivalent.
type StorageCallback interface {
	Push(queueID QueueID, event RawEvent) (logEventID int64, err error)
	Pop(logEventID int64) error
	PopBatch(logEventIDs []int64) error
	Close() error
}

type queueState struct {
	tailID EventId
	events []RawEvent // ascending by ID, FIFO
}

// TQueue is single-owner: every method must be called from the one
// scheduler/goroutine that owns it (spec.md §5: "The TQueue lives on one
// scheduler").
type TQueue struct {
	queues      map[QueueID]*queueState
	storage     StorageCallback
	log         *telemetry.Logger
	subscribers map[QueueID]*subscriberSet
}

// New creates an empty TQueue backed by storage (never nil; use
// NewMemoryStorage for a non-persistent instance).
func New(storage StorageCallback, log *telemetry.Logger) *TQueue {
	return &TQueue{
		queues:      make(map[QueueID]*queueState),
		storage:     storage,
		log:         log,
		subscribers: make(map[QueueID]*subscriberSet),
	}
}

func randomTailID() EventId {
	span := int64(maxEventID - minRandomEventID)
	n, err := rand.Int(rand.Reader, big.NewInt(span))
	if err != nil {
		return minRandomEventID // crypto/rand failure is effectively unreachable; degrade, don't panic
	}
	return minRandomEventID + EventId(n.Int64())
}

// Push assigns and durably appends a new event, returning its id.
// hintNewID seeds tail_id only when the queue is currently empty and
// hintNewID falls in the valid range; otherwise a fresh random tail is
// drawn. This matches Push's "if queue is empty, optionally seed tail_id"
// rule from spec.md §4.5.
func (q *TQueue) Push(queueID QueueID, data []byte, expireAt, extra int64, hintNewID EventId) (EventId, error) {
	st := q.queues[queueID]
	if st == nil {
		st = &queueState{}
		q.queues[queueID] = st
	}

	if len(st.events) == 0 {
		if hintNewID >= minRandomEventID && hintNewID < maxEventID {
			st.tailID = hintNewID
		} else {
			st.tailID = randomTailID()
		}
	}

	// B4: if assigning tail_id would overflow the id space, the whole queue
	// is discarded — every stored event has an id < tail_id, so draining to
	// empty is the only way to make a fresh (smaller) random tail valid
	// again. Mirrors confirm_read(q, tail_id) called against an about-to-
	// overflow tail_id in the original: that pops everything, since nothing
	// stored can be >= tail_id. Loops (rather than a single reseed) in case
	// the fresh random draw itself lands on maxEventID-1.
	for st.tailID+1 >= maxEventID {
		if err := q.popRange(queueID, st, 0, len(st.events)); err != nil {
			return 0, err
		}
		st.tailID = randomTailID()
	}

	id := st.tailID
	st.tailID++

	ev := RawEvent{ID: id, ExpireAt: expireAt, Extra: extra, Data: data}
	logID, err := q.storage.Push(queueID, ev)
	if err != nil {
		return 0, err
	}
	ev.LogEventID = logID
	st.events = append(st.events, ev)
	if sub, ok := q.subscribers[queueID]; ok {
		sub.notify(ev)
	}
	return id, nil
}

// Get scans queueID's FIFO forward from fromID, optionally dropping
// everything strictly older first, skipping (and popping) anything
// already expired as of now, and copying up to len(out) surviving events
// into it. Returns the slice actually filled.
func (q *TQueue) Get(queueID QueueID, fromID EventId, forgetPrevious bool, now int64, out []RawEvent) []RawEvent {
	st := q.queues[queueID]
	if st == nil {
		return out[:0]
	}

	if forgetPrevious {
		i := 0
		for i < len(st.events) && st.events[i].ID < fromID {
			i++
		}
		q.popRange(queueID, st, 0, i)
	}

	n := 0
	for i := 0; i < len(st.events) && n < len(out); {
		ev := st.events[i]
		if ev.ExpireAt != 0 && ev.ExpireAt < now {
			q.popIndex(queueID, st, i)
			continue
		}
		if ev.ID < fromID {
			i++
			continue
		}
		out[n] = ev
		n++
		i++
	}
	return out[:n]
}

// Forget pops one event by id, if present; a no-op otherwise.
func (q *TQueue) Forget(queueID QueueID, eventID EventId) error {
	st := q.queues[queueID]
	if st == nil {
		return nil
	}
	idx := sort.Search(len(st.events), func(i int) bool { return st.events[i].ID >= eventID })
	if idx == len(st.events) || st.events[idx].ID != eventID {
		return nil
	}
	return q.popIndex(queueID, st, idx)
}

// Clear pops every event but the most recent keepCount, returning what was
// popped (used by admin/debug flows).
func (q *TQueue) Clear(queueID QueueID, keepCount int) ([]RawEvent, error) {
	st := q.queues[queueID]
	if st == nil || len(st.events) <= keepCount {
		return nil, nil
	}
	cut := len(st.events) - keepCount
	popped := append([]RawEvent(nil), st.events[:cut]...)
	if err := q.popRange(queueID, st, 0, cut); err != nil {
		return nil, err
	}
	return popped, nil
}

// GetHead returns the oldest event in queueID, if any.
func (q *TQueue) GetHead(queueID QueueID) (RawEvent, bool) {
	st := q.queues[queueID]
	if st == nil || len(st.events) == 0 {
		return RawEvent{}, false
	}
	return st.events[0], true
}

// GetTail returns tail_id: the id that would be assigned to the next push.
func (q *TQueue) GetTail(queueID QueueID) EventId {
	st := q.queues[queueID]
	if st == nil {
		return 0
	}
	return st.tailID
}

// GetSize returns the current number of live events in queueID.
func (q *TQueue) GetSize(queueID QueueID) int {
	st := q.queues[queueID]
	if st == nil {
		return 0
	}
	return len(st.events)
}

// RunGC pops expired events across every queue until budget events have
// been removed or no queue has any expired events left, reporting how many
// were actually removed and whether it ran out of work (completed=true)
// rather than budget.
func (q *TQueue) RunGC(now int64, budget int) (count int, completed bool) {
	for queueID, st := range q.queues {
		for i := 0; i < len(st.events) && count < budget; {
			ev := st.events[i]
			if ev.ExpireAt == 0 || ev.ExpireAt >= now {
				i++
				continue
			}
			if err := q.popIndex(queueID, st, i); err != nil {
				q.log.Warn("tqueue: gc pop failed", map[string]any{"error": err.Error()})
				break
			}
			count++
		}
		if count >= budget {
			return count, false
		}
	}
	return count, true
}

// Close flushes and closes the underlying storage.
func (q *TQueue) Close() error { return q.storage.Close() }

func (q *TQueue) popIndex(queueID QueueID, st *queueState, i int) error {
	ev := st.events[i]
	if err := q.storage.Pop(ev.LogEventID); err != nil {
		return err
	}
	st.events = append(st.events[:i], st.events[i+1:]...)
	return nil
}

func (q *TQueue) popRange(queueID QueueID, st *queueState, from, to int) error {
	if from >= to {
		return nil
	}
	ids := make([]int64, 0, to-from)
	for _, ev := range st.events[from:to] {
		ids = append(ids, ev.LogEventID)
	}
	if err := q.storage.PopBatch(ids); err != nil {
		return err
	}
	st.events = append(st.events[:from], st.events[to:]...)
	return nil
}
