// Package tqueue implements the time-ordered keyed event queue (C5): a
// FIFO of short-lived, expiring events per queue, with at-least-once
// fan-out to many independent consumers. Grounded on
// original_source/tddb/td/db/TQueue.h.
package tqueue
