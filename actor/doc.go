// Package actor implements a cooperative, multi-scheduler actor runtime: a
// slab/generation object pool for actor addressing, a mailbox/event model
// with Start/Stop/Yield/Timeout/Hangup/Raw/Custom tags, and a Scheduler
// that dispatches events to actors single-threadedly while multiplexing
// timers and cross-scheduler sends.
//
// Actors never share memory directly; they exchange Events through a
// Scheduler's mailboxes. Exactly one Own[T] may exist per actor; dropping
// it (calling Reset) delivers Hangup. Any number of weak ID[T] handles may
// exist; they revalidate liveness through the pool's generation counter
// rather than extending the actor's lifetime.
package actor
