//go:build !linux && !darwin

package poll

import (
	"sync"
	"sync/atomic"
	"time"
)

// pollInterval is the granularity of the portable fallback backend. Real
// deployments target Linux/Darwin, where NewBackend returns a true
// epoll/kqueue implementation; this file exists so the module still builds
// (and actors can still register fds) on platforms without one wired in.
const pollInterval = 2 * time.Millisecond

type fdEntry struct {
	cb     Callback
	flags  Flags
	active bool
}

// TimerBackend is a level-triggered fallback Backend that reports every
// subscribed fd as ready for its subscribed conditions on each tick. It
// never inspects the fd itself, so callers must perform their own
// would-block checks — exactly as they must for a true edge-triggered
// backend that over-reports.
type TimerBackend struct {
	mu     sync.RWMutex
	fds    map[int]fdEntry
	closed atomic.Bool
}

// NewBackend creates and initializes the platform poll backend.
func NewBackend() (Backend, error) {
	return &TimerBackend{fds: make(map[int]fdEntry)}, nil
}

func (p *TimerBackend) Subscribe(fd int, flags Flags, cb Callback) error {
	if p.closed.Load() {
		return ErrClosed
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.fds[fd]; ok {
		return ErrAlreadySubscribed
	}
	p.fds[fd] = fdEntry{cb: cb, flags: flags, active: true}
	return nil
}

func (p *TimerBackend) Unsubscribe(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.fds[fd]; !ok {
		return ErrNotSubscribed
	}
	delete(p.fds, fd)
	return nil
}

func (p *TimerBackend) UnsubscribeBeforeClose(fd int) error {
	return p.Unsubscribe(fd)
}

func (p *TimerBackend) Modify(fd int, flags Flags) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.fds[fd]
	if !ok {
		return ErrNotSubscribed
	}
	entry.flags = flags
	p.fds[fd] = entry
	return nil
}

func (p *TimerBackend) Run(timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	wait := pollInterval
	if timeoutMs == 0 {
		wait = 0
	} else if timeoutMs > 0 && time.Duration(timeoutMs)*time.Millisecond < wait {
		wait = time.Duration(timeoutMs) * time.Millisecond
	}
	if wait > 0 {
		time.Sleep(wait)
	}

	p.mu.RLock()
	entries := make([]fdEntry, 0, len(p.fds))
	for _, e := range p.fds {
		entries = append(entries, e)
	}
	p.mu.RUnlock()

	dispatched := 0
	for _, e := range entries {
		if e.active && e.cb != nil {
			e.cb(e.flags)
			dispatched++
		}
	}
	return dispatched, nil
}

func (p *TimerBackend) Close() error {
	p.closed.Store(true)
	return nil
}
