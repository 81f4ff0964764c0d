package tqueue

import (
	"context"
	"sync"
	"time"

	"github.com/joeycumines/go-longpoll"
)

// subscriberSet fans a queue's pushes out to every blocked waiter
// currently registered on it — the Go-native substitute for the
// original's per-queue list of resolved promises (see
// original_source/tddb/td/db/TQueue.h's subscription list), expressed as
// plain buffered channels instead. Every method here is safe to call from
// any goroutine: it only ever touches this set's own mutex, never
// TQueue.queues, so a consumer can wait on its channel from outside the
// scheduler that owns the TQueue without violating spec.md §5's
// single-owner rule for queue operations.
type subscriberSet struct {
	mu   sync.Mutex
	subs map[int]chan RawEvent
	next int
}

func (s *subscriberSet) notify(ev RawEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default: // a slow consumer misses live fan-out; it re-reads the FIFO via Get on reconnect
		}
	}
}

func (s *subscriberSet) add() (id int, ch chan RawEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs == nil {
		s.subs = make(map[int]chan RawEvent)
	}
	id = s.next
	s.next++
	ch = make(chan RawEvent, 64)
	s.subs[id] = ch
	return id, ch
}

func (s *subscriberSet) remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

// LongPollWaiter is returned by Subscribe: a consumer reads Initial (what
// was already available) then, if it needs more, calls Wait — which only
// touches the channel and its own subscriber-set mutex, so it may safely
// run on a goroutine other than the one that owns the TQueue.
type LongPollWaiter struct {
	Initial []RawEvent

	ch      chan RawEvent
	set     *subscriberSet
	id      int
	fromID  EventId
	maxSize int
}

// Subscribe must be called from the goroutine that owns q (the same one
// that calls Push/Get/etc): it takes the Get snapshot and registers a
// fan-out channel atomically, so no push between the snapshot and the
// subscription can be missed. The returned LongPollWaiter's Wait method is
// then safe to call from anywhere.
func (q *TQueue) Subscribe(queueID QueueID, fromID EventId, maxSize int) *LongPollWaiter {
	out := make([]RawEvent, maxSize)
	got := q.Get(queueID, fromID, false, nowUnix(), out)

	sub := q.subscribers[queueID]
	if sub == nil {
		sub = &subscriberSet{}
		q.subscribers[queueID] = sub
	}
	id, ch := sub.add()

	next := fromID
	if len(got) > 0 {
		next = got[len(got)-1].ID + 1
	}
	return &LongPollWaiter{
		Initial: append([]RawEvent(nil), got...),
		ch:      ch,
		set:     sub,
		id:      id,
		fromID:  next,
		maxSize: maxSize,
	}
}

// Wait blocks (from any goroutine) until the total, counting Initial,
// reaches minSize (and at least one new event has arrived), partialTimeout
// elapses, maxSize total events have accumulated, or ctx is cancelled, then
// unsubscribes; if Initial already holds maxSize events it returns at once.
// Returns Initial plus whatever arrived.
func (w *LongPollWaiter) Wait(ctx context.Context, minSize int, partialTimeout time.Duration) ([]RawEvent, error) {
	defer w.set.remove(w.id)

	result := append([]RawEvent(nil), w.Initial...)
	remaining := minSize - len(result)
	if remaining < 1 {
		remaining = 1
	}
	budget := w.maxSize - len(result)
	if budget <= 0 {
		return result, nil
	}

	err := longpoll.Channel(ctx, &longpoll.ChannelConfig{
		MaxSize:        budget,
		MinSize:        remaining,
		PartialTimeout: partialTimeout,
	}, w.ch, func(ev RawEvent) error {
		if ev.ID >= w.fromID {
			result = append(result, ev)
		}
		return nil
	})
	if err != nil && len(result) == 0 {
		return nil, err
	}
	return result, nil
}

// nowUnix is overridable by tests; defaults to the wall clock.
var nowUnix = func() int64 { return time.Now().Unix() }
