//go:build linux

package poll

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// maxFDs bounds the direct-indexed fd table before it has to grow.
const maxFDs = 4096

type fdEntry struct {
	cb     Callback
	flags  Flags
	active bool
}

// EpollBackend is a Backend implementation over Linux epoll.
type EpollBackend struct {
	epfd     int
	version  atomic.Uint64
	eventBuf [256]unix.EpollEvent
	mu       sync.RWMutex
	fds      []fdEntry
	closed   atomic.Bool
}

// NewBackend creates and initializes the platform poll backend.
func NewBackend() (Backend, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &EpollBackend{epfd: epfd, fds: make([]fdEntry, maxFDs)}, nil
}

func (p *EpollBackend) ensureCapacity(fd int) {
	if fd < len(p.fds) {
		return
	}
	grown := make([]fdEntry, fd*2+1)
	copy(grown, p.fds)
	p.fds = grown
}

func (p *EpollBackend) Subscribe(fd int, flags Flags, cb Callback) error {
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
	p.version.Add(1)
	p.mu.Unlock()

	ev := unix.EpollEvent{Events: toEpoll(flags), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		p.mu.Lock()
		p.fds[fd] = fdEntry{}
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *EpollBackend) Unsubscribe(fd int) error {
	p.mu.Lock()
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.mu.Unlock()
		return ErrNotSubscribed
	}
	p.fds[fd] = fdEntry{}
	p.version.Add(1)
	p.mu.Unlock()
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// UnsubscribeBeforeClose is identical to Unsubscribe on epoll: the
// EPOLL_CTL_DEL must happen before the fd is closed to avoid epoll
// silently dropping a registration for a recycled descriptor number.
func (p *EpollBackend) UnsubscribeBeforeClose(fd int) error {
	return p.Unsubscribe(fd)
}

func (p *EpollBackend) Modify(fd int, flags Flags) error {
	p.mu.Lock()
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.mu.Unlock()
		return ErrNotSubscribed
	}
	p.fds[fd].flags = flags
	p.version.Add(1)
	p.mu.Unlock()

	ev := unix.EpollEvent{Events: toEpoll(flags), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *EpollBackend) Run(timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	v := p.version.Load()
	n, err := unix.EpollWait(p.epfd, p.eventBuf[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	if p.version.Load() != v {
		// Registrations changed mid-syscall; the result set may reference
		// fds we no longer own the callback for. Safer to drop this batch
		// than dispatch against stale state.
		return 0, nil
	}
	dispatched := 0
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Fd)
		p.mu.RLock()
		var entry fdEntry
		if fd >= 0 && fd < len(p.fds) {
			entry = p.fds[fd]
		}
		p.mu.RUnlock()
		if entry.active && entry.cb != nil {
			entry.cb(fromEpoll(p.eventBuf[i].Events))
			dispatched++
		}
	}
	return dispatched, nil
}

func (p *EpollBackend) Close() error {
	p.closed.Store(true)
	return unix.Close(p.epfd)
}

func toEpoll(f Flags) uint32 {
	var e uint32
	if f&Read != 0 {
		e |= unix.EPOLLIN
	}
	if f&Write != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func fromEpoll(e uint32) Flags {
	var f Flags
	if e&unix.EPOLLIN != 0 {
		f |= Read
	}
	if e&unix.EPOLLOUT != 0 {
		f |= Write
	}
	if e&unix.EPOLLERR != 0 {
		f |= Error
	}
	if e&unix.EPOLLHUP != 0 || e&unix.EPOLLRDHUP != 0 {
		f |= Close
	}
	return f
}
