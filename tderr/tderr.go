// Package tderr defines the error taxonomy shared by the binlog, the
// events-processor, and the queue: IoError, Corruption, WrongPassword, and
// ProtocolViolation. Hangup is not an error in this taxonomy — it is
// delivered to actors as an event, never returned as an error value.
package tderr

import "fmt"

// IoError wraps a failed read, write, or rename against the underlying
// file descriptor.
type IoError struct {
	Op    string
	Cause error
}

func (e *IoError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("io error: %v", e.Cause)
	}
	return fmt.Sprintf("io error during %s: %v", e.Op, e.Cause)
}

func (e *IoError) Unwrap() error { return e.Cause }

// Corruption covers a failed CRC, an out-of-bounds record size, or any
// other violation detected while parsing bytes already on disk. Corruption
// encountered at the tail during replay is recoverable by truncation;
// Corruption discovered mid-file is not.
type Corruption struct {
	Offset  int64
	Message string
	Cause   error
}

func (e *Corruption) Error() string {
	return fmt.Sprintf("corruption at offset %d: %s", e.Offset, e.Message)
}

func (e *Corruption) Unwrap() error { return e.Cause }

// WrongPassword is returned by Init when the stored key-hash does not match
// the derived key for the supplied passphrase.
type WrongPassword struct{}

func (e *WrongPassword) Error() string { return "binlog: wrong password" }

// ProtocolViolation covers broken monotonicity, a rewrite of an id never
// seen before, or any other invariant a well-behaved writer cannot trigger.
// It is always fatal: the caller should crash with the diagnostic attached
// rather than attempt to continue.
type ProtocolViolation struct {
	Message string
	Cause   error
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("protocol violation: %s", e.Message)
}

func (e *ProtocolViolation) Unwrap() error { return e.Cause }

// Wrap attaches a message to cause using the standard library's %w chain,
// matching the single free-function convenience the taxonomy above is
// deliberately thin about.
func Wrap(message string, cause error) error {
	if cause == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, cause)
}
