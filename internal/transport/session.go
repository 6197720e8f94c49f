// internal/transport/session.go

// Package transport defines the session abstraction shared by the TCP and
// serial adapters, the ingest path from decoded frames into the queue, and
// the acknowledgment dispatcher that routes pipeline outcomes back to the
// originating session.
package transport

import "github.com/rudrakshya/LIS/internal/protocol"

// Session is one live connection to an analyzer. Implementations belong to
// exactly one transport adapter goroutine; Write and Close must be safe to
// call from the dispatcher concurrently with the read loop.
type Session interface {
	ID() string
	DeviceID() string
	Write(b []byte) error
	Close() error
}

// Ack is the dispatcher-facing view of a processing outcome.
type Ack struct {
	SessionID string
	Kind      protocol.AckKind
	ControlID string
}
