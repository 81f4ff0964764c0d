//go:build darwin

package poll

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

const maxFDs = 4096

type fdEntry struct {
	cb     Callback
	flags  Flags
	active bool
}

// KqueueBackend is a Backend implementation over Darwin/BSD kqueue.
type KqueueBackend struct {
	kq       int
	eventBuf [256]unix.Kevent_t
	mu       sync.RWMutex
	fds      []fdEntry
	closed   atomic.Bool
}

// NewBackend creates and initializes the platform poll backend.
func NewBackend() (Backend, error) {
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, err
	}
	unix.CloseOnExec(kq)
	return &KqueueBackend{kq: kq, fds: make([]fdEntry, maxFDs)}, nil
}

func (p *KqueueBackend) ensureCapacity(fd int) {
	if fd < len(p.fds) {
		return
	}
	grown := make([]fdEntry, fd*2+1)
	copy(grown, p.fds)
	p.fds = grown
}

func (p *KqueueBackend) Subscribe(fd int, flags Flags, cb Callback) error {
	if p.closed.Load() {
		return ErrClosed
	}
	p.mu.Lock()
	p.ensureCapacity(fd)
	if p.fds[fd].active {
		p.mu.Unlock()
		return ErrAlreadySubscribed
	}
	p.fds[fd] = fdEntry{cb: cb, flags: flags, active: true}
	p.mu.Unlock()

	changes := toKevents(fd, flags, unix.EV_ADD|unix.EV_ENABLE)
	if len(changes) > 0 {
		if _, err := unix.Kevent(p.kq, changes, nil, nil); err != nil {
			p.mu.Lock()
			p.fds[fd] = fdEntry{}
			p.mu.Unlock()
			return err
		}
	}
	return nil
}

func (p *KqueueBackend) Unsubscribe(fd int) error {
	p.mu.Lock()
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.mu.Unlock()
		return ErrNotSubscribed
	}
	flags := p.fds[fd].flags
	p.fds[fd] = fdEntry{}
	p.mu.Unlock()
	changes := toKevents(fd, flags, unix.EV_DELETE)
	if len(changes) > 0 {
		_, _ = unix.Kevent(p.kq, changes, nil, nil)
	}
	return nil
}

// UnsubscribeBeforeClose: kqueue automatically drops registrations when a
// descriptor is closed, so this is equivalent to Unsubscribe, but we still
// perform it eagerly to free the entry slot right away.
func (p *KqueueBackend) UnsubscribeBeforeClose(fd int) error {
	return p.Unsubscribe(fd)
}

func (p *KqueueBackend) Modify(fd int, flags Flags) error {
	p.mu.Lock()
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.mu.Unlock()
		return ErrNotSubscribed
	}
	old := p.fds[fd].flags
	p.fds[fd].flags = flags
	p.mu.Unlock()

	if removed := old &^ flags; removed != 0 {
		if del := toKevents(fd, removed, unix.EV_DELETE); len(del) > 0 {
			_, _ = unix.Kevent(p.kq, del, nil, nil)
		}
	}
	if added := flags &^ old; added != 0 {
		if add := toKevents(fd, added, unix.EV_ADD|unix.EV_ENABLE); len(add) > 0 {
			if _, err := unix.Kevent(p.kq, add, nil, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *KqueueBackend) Run(timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		ts = &unix.Timespec{Sec: int64(timeoutMs / 1000), Nsec: int64((timeoutMs % 1000) * 1000000)}
	}
	n, err := unix.Kevent(p.kq, nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	dispatched := 0
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Ident)
		if fd < 0 {
			continue
		}
		p.mu.RLock()
		var entry fdEntry
		if fd < len(p.fds) {
			entry = p.fds[fd]
		}
		p.mu.RUnlock()
		if entry.active && entry.cb != nil {
			entry.cb(fromKevent(&p.eventBuf[i]))
			dispatched++
		}
	}
	return dispatched, nil
}

func (p *KqueueBackend) Close() error {
	p.closed.Store(true)
	return unix.Close(p.kq)
}

func toKevents(fd int, flags Flags, kflags uint16) []unix.Kevent_t {
	var evs []unix.Kevent_t
	if flags&Read != 0 {
		evs = append(evs, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: kflags})
	}
	if flags&Write != 0 {
		evs = append(evs, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: kflags})
	}
	return evs
}

func fromKevent(ev *unix.Kevent_t) Flags {
	var f Flags
	switch ev.Filter {
	case unix.EVFILT_READ:
		f |= Read
	case unix.EVFILT_WRITE:
		f |= Write
	}
	if ev.Flags&unix.EV_EOF != 0 {
		f |= Close
	}
	if ev.Flags&unix.EV_ERROR != 0 {
		f |= Error
	}
	return f
}
