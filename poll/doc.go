// Package poll wraps the OS-native readiness multiplexer (epoll, kqueue, or
// a portable fallback) behind a single Backend contract used by the actor
// scheduler's poll loop.
//
// # Readiness side-table
//
// Backend.Run reports readiness by OR-ing flags into a per-fd SideTable
// entry. Producers (the poll thread) publish with atomics; consumers
// (actor-scheduler logic running on whatever goroutine owns the fd) fold
// the pending bits into their own view with SyncWithPoll, then clear the
// conditions they drained with ClearFlags. This mirrors release/acquire
// hand-off rather than a condition variable, so a consumer never blocks
// waiting on the poll thread.
//
// Edge- and level-triggered backends both satisfy the contract: callers
// must not assume a flag re-fires without draining the underlying fd.
package poll
