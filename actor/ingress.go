package actor

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// crossRingSize is the lock-free ring capacity per Scheduler inbox before
// producers spill into the mutex-protected overflow slice. Sized the same
// as eventloop.MicrotaskRing's ringBufferSize: large enough that overflow
// is the rare path under ordinary cross-scheduler send rates.
const crossRingSize = 4096

// crossRingSeqSkip marks an empty slot in seq: push replaces it with a
// sequence number taken from gen once the slot is filled, and pop puts it
// back after taking the message.
const crossRingSeqSkip = uint64(1) << 63

// crossMsg is one cross-scheduler delivery, addressed directly by actorSlot
// pointer (identity is stable across migration; only homeSched changes).
type crossMsg struct {
	slot *actorSlot
	ev   Event
}

// crossRing is a lock-free MPSC ring buffer of crossMsg, with mutex-backed
// overflow for bursts beyond its capacity. This is the Go analogue of the
// source's per-scheduler MpscPollableQueue<EventFull>: many worker
// goroutines (producers, one per sending Scheduler) push into one
// Scheduler's inbox; only that Scheduler's own goroutine (consumer) pops.
// Grounded directly on eventloop.MicrotaskRing's push/pop algorithm and
// Release/Acquire reasoning, retargeted from func() tasks to crossMsg.
type crossRing struct {
	buffer [crossRingSize]crossMsg
	valid  [crossRingSize]atomic.Bool
	seq    [crossRingSize]atomic.Uint64
	head   atomic.Uint64
	tail   atomic.Uint64
	gen    atomic.Uint64

	overflowMu      sync.Mutex
	overflow        []crossMsg
	overflowHead    int
	overflowPending atomic.Bool
}

func newCrossRing() *crossRing {
	r := &crossRing{}
	for i := range r.seq {
		r.seq[i].Store(crossRingSeqSkip)
	}
	return r
}

// push enqueues msg; always succeeds (overflow absorbs anything beyond ring
// capacity).
func (r *crossRing) push(msg crossMsg) {
	if r.overflowPending.Load() {
		r.overflowMu.Lock()
		if len(r.overflow)-r.overflowHead > 0 {
			r.overflow = append(r.overflow, msg)
			r.overflowMu.Unlock()
			return
		}
		r.overflowMu.Unlock()
	}

	for {
		tail := r.tail.Load()
		head := r.head.Load()
		if tail-head >= crossRingSize {
			break
		}
		if r.tail.CompareAndSwap(tail, tail+1) {
			seq := r.gen.Add(1)
			idx := tail % crossRingSize
			r.buffer[idx] = msg
			r.valid[idx].Store(true)
			r.seq[idx].Store(seq)
			return
		}
	}

	r.overflowMu.Lock()
	if r.overflow == nil {
		r.overflow = make([]crossMsg, 0, 1024)
	}
	r.overflow = append(r.overflow, msg)
	r.overflowPending.Store(true)
	r.overflowMu.Unlock()
}

// pop removes and returns one message; ok is false when empty. Must only
// be called from the owning Scheduler's own goroutine.
func (r *crossRing) pop() (crossMsg, bool) {
	head := r.head.Load()
	tail := r.tail.Load()

	for head < tail {
		idx := head % crossRingSize
		seq := r.seq[idx].Load()
		if seq == crossRingSeqSkip || !r.valid[idx].Load() {
			head = r.head.Load()
			tail = r.tail.Load()
			runtime.Gosched()
			continue
		}
		msg := r.buffer[idx]
		r.buffer[idx] = crossMsg{}
		r.valid[idx].Store(false)
		r.seq[idx].Store(crossRingSeqSkip)
		r.head.Add(1)
		return msg, true
	}

	if !r.overflowPending.Load() {
		return crossMsg{}, false
	}

	r.overflowMu.Lock()
	defer r.overflowMu.Unlock()
	n := len(r.overflow) - r.overflowHead
	if n == 0 {
		r.overflowPending.Store(false)
		return crossMsg{}, false
	}
	msg := r.overflow[r.overflowHead]
	r.overflow[r.overflowHead] = crossMsg{}
	r.overflowHead++
	if r.overflowHead > len(r.overflow)/2 && r.overflowHead > 512 {
		copy(r.overflow, r.overflow[r.overflowHead:])
		r.overflow = r.overflow[:len(r.overflow)-r.overflowHead]
		r.overflowHead = 0
	}
	if r.overflowHead >= len(r.overflow) {
		r.overflowPending.Store(false)
	}
	return msg, true
}
