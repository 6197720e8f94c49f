// internal/protocol/result.go
package protocol

import "time"

// Observation is one measured value extracted from a result message
// (one OBX segment, or one parameter line of a device report).
type Observation struct {
	TestCode       string
	TestName       string
	Value          string
	Unit           string
	ReferenceRange string
	AbnormalFlag   string
	Status         string
	ObservedAt     time.Time
}

// ResultSet is the structured clinical payload handed to storage and to the
// result-ingestion callback. ControlID keys idempotent storage.
type ResultSet struct {
	MessageType  MessageType
	ControlID    string
	DeviceID     string
	Provenance   Provenance
	PatientID    string
	OrderID      string
	TestCode     string
	Observations []Observation
	ReceivedAt   time.Time
}
