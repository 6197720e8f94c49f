// internal/protocol/message.go

// Package protocol defines the canonical message model shared by every
// transport and codec in the engine. A Frame is raw delimited bytes from a
// session; a Message is the parsed, structurally valid form that is allowed
// into the queue. Codecs translate between the two.
package protocol

import "time"

// MessageType classifies a parsed message by intent.
type MessageType string

const (
	TypeResult  MessageType = "result"  // observation results (HL7 ORU, device reports)
	TypeOrder   MessageType = "order"   // test orders (HL7 ORM)
	TypePatient MessageType = "patient" // patient administration (HL7 ADT)
	TypeQuery   MessageType = "query"   // queries (HL7 QRY)
	TypeAck     MessageType = "ack"     // acknowledgments (HL7 ACK)
)

// Provenance names the protocol family a message arrived in.
type Provenance string

const (
	ProvenanceHL7    Provenance = "hl7"
	ProvenanceBT1500 Provenance = "bt1500"
)

// Frame is one delimited unit of raw bytes from a transport, not yet parsed.
type Frame struct {
	DeviceID   string
	Raw        []byte
	ReceivedAt time.Time
}

// Segment is one record of a message: a type tag and its ordered fields.
// Fields are stored without the type tag, so Field(1) is the first field
// after the tag.
type Segment struct {
	Type   string
	Fields []string
}

// Field returns the i-th field (1-based, HL7 numbering) or "" when absent.
func (s Segment) Field(i int) string {
	if i < 1 || i > len(s.Fields) {
		return ""
	}
	return s.Fields[i-1]
}

// Message is a fully parsed, structurally valid clinical communication.
// ControlID is unique within the originating session and correlates the
// message with its acknowledgment.
type Message struct {
	Type         MessageType
	TriggerEvent string
	ControlID    string
	DeviceID     string
	Provenance   Provenance
	Segments     []Segment
	ReceivedAt   time.Time
}

// Segment returns the first segment of the given type, or false.
func (m *Message) Segment(typ string) (Segment, bool) {
	for _, s := range m.Segments {
		if s.Type == typ {
			return s, true
		}
	}
	return Segment{}, false
}

// SegmentsOf returns every segment of the given type in message order.
func (m *Message) SegmentsOf(typ string) []Segment {
	var out []Segment
	for _, s := range m.Segments {
		if s.Type == typ {
			out = append(out, s)
		}
	}
	return out
}
