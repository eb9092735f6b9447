package notify

import "errors"

// Domain-specific errors for event delivery.
var (
	// ErrQueueFull is returned when the publish queue cannot take another event.
	// The event remains in the ledger journal.
	ErrQueueFull = errors.New("notify: publish queue full")

	// ErrClosed is returned when an event arrives after Close.
	ErrClosed = errors.New("notify: sink closed")
)
