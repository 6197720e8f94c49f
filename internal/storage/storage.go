// internal/storage/storage.go

// Package storage defines the engine's storage contract and ships a SQLite
// reference implementation. The engine core does not own the clinical
// schema; it only requires idempotent result ingestion keyed by control id
// and a dead-letter audit log.
package storage

import (
	"context"
	"time"

	"github.com/rudrakshya/LIS/internal/protocol"
)

// Verdict is the outcome of an idempotent store call.
type Verdict int

const (
	// Stored means the result set was persisted for the first time.
	Stored Verdict = iota
	// Duplicate means this control id was already stored; the call is a
	// no-op and must not trigger a second notification.
	Duplicate
)

// Store persists result sets and dead-letter records. Implementations must
// be idempotent keyed by ResultSet.ControlID and safe for concurrent use.
// Errors should be wrapped with protocol.Transient or protocol.Permanent;
// unwrapped errors are treated as transient.
type Store interface {
	StoreResult(ctx context.Context, rs *protocol.ResultSet) (Verdict, error)
	DeadLetter(ctx context.Context, rec DeadLetterRecord) error
	Close() error
}

// DeadLetterRecord is the audit trail of a message removed from retry
// consideration.
type DeadLetterRecord struct {
	ID        string
	DeviceID  string
	ControlID string
	Reason    string
	Attempts  int
	Payload   string
	At        time.Time
}
