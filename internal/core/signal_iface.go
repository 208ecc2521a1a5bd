package core

import "errors"

// Frame is one encoded outbound event.
type Frame []byte

// ConnID identifies one live transport session.
type ConnID string

var (
	// ErrBackpressure means the frame was queued but older frames were dropped.
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
// TrySend never blocks.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
