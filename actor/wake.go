package actor

import (
	"os"
	"sync/atomic"
)

// wakePipe is a self-pipe: a Scheduler registers its read end with its
// poll.Backend for Read readiness, so a cross-scheduler sender (or the
// runtime's Shutdown) can interrupt a Backend.Run blocked in the poll
// syscall. This is the portable analogue of the teacher's eventfd-based
// wake mechanism (eventloop/wakeup_linux.go); a pipe works unchanged on
// every Backend (epoll, kqueue, and the portable fallback).
type wakePipe struct {
	r, w    *os.File
	pending atomic.Bool
}

func newWakePipe() (*wakePipe, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	return &wakePipe{r: r, w: w}, nil
}

// fd returns the raw descriptor to register with a poll.Backend.
func (p *wakePipe) fd() int { return int(p.r.Fd()) }

// wake ensures the owning Scheduler's Backend.Run call returns promptly.
// Coalesces concurrent wakes: only the caller that flips pending writes
// the byte, so a burst of sends from many goroutines costs one wake-up.
func (p *wakePipe) wake() {
	if p.pending.CompareAndSwap(false, true) {
		var b [1]byte
		_, _ = p.w.Write(b[:])
	}
}

// drain clears the pipe and the pending flag; called by the owning
// Scheduler after observing Read readiness on fd().
func (p *wakePipe) drain() {
	p.pending.Store(false)
	var buf [64]byte
	for {
		n, err := p.r.Read(buf[:])
		if err != nil || n < len(buf) {
			return
		}
	}
}

func (p *wakePipe) close() {
	_ = p.r.Close()
	_ = p.w.Close()
}
