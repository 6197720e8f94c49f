// internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/rudrakshya/LIS/internal/protocol"
)

const schema = `
CREATE TABLE IF NOT EXISTS results (
	control_id   TEXT PRIMARY KEY,
	device_id    TEXT NOT NULL,
	message_type TEXT NOT NULL,
	patient_id   TEXT,
	order_id     TEXT,
	payload      TEXT NOT NULL,
	received_at  TIMESTAMP NOT NULL,
	stored_at    TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS dead_letters (
	id         TEXT PRIMARY KEY,
	device_id  TEXT NOT NULL,
	control_id TEXT,
	reason     TEXT NOT NULL,
	attempts   INTEGER NOT NULL,
	payload    TEXT,
	at         TIMESTAMP NOT NULL
);
`

// SQLite implements Store on a local database file. Idempotence rides on the
// results primary key: an insert that conflicts on control_id is a Duplicate.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: init schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// StoreResult implements Store.
func (s *SQLite) StoreResult(ctx context.Context, rs *protocol.ResultSet) (Verdict, error) {
	payload, err := json.Marshal(rs)
	if err != nil {
		return Stored, protocol.Permanent(fmt.Errorf("encode payload: %w", err))
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO results
			(control_id, device_id, message_type, patient_id, order_id, payload, received_at, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(control_id) DO NOTHING`,
		rs.ControlID, rs.DeviceID, string(rs.MessageType), rs.PatientID, rs.OrderID,
		string(payload), rs.ReceivedAt.UTC(), time.Now().UTC(),
	)
	if err != nil {
		return Stored, classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Stored, protocol.Transient(err)
	}
	if n == 0 {
		return Duplicate, nil
	}
	return Stored, nil
}

// DeadLetter implements Store.
func (s *SQLite) DeadLetter(ctx context.Context, rec DeadLetterRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dead_letters (id, device_id, control_id, reason, attempts, payload, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.DeviceID, rec.ControlID, rec.Reason, rec.Attempts, rec.Payload, rec.At.UTC(),
	)
	if err != nil {
		return classify(err)
	}
	return nil
}

func (s *SQLite) Close() error { return s.db.Close() }

// classify sorts driver errors into the retry taxonomy. Lock contention is
// worth retrying; constraint and datatype violations are not.
func classify(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "constraint"), strings.Contains(msg, "datatype"):
		return protocol.Permanent(err)
	default:
		return protocol.Transient(err)
	}
}
