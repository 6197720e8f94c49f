// internal/protocol/hl7/codec.go
package hl7

import (
	"fmt"
	"strings"
	"time"

	"github.com/rudrakshya/LIS/internal/protocol"
)

const (
	fieldSep   = "|"
	segmentSep = "\r"

	// Identity fields for outbound MSH segments.
	sendingApp      = "LIS"
	sendingFacility = "LAB"
	hl7Version      = "2.5"
)

// ackCode maps an AckKind to its HL7 MSA-1 value.
func ackCode(kind protocol.AckKind) string {
	switch kind {
	case protocol.AckAccept:
		return "AA" // application accept
	case protocol.AckError:
		return "AE" // application error
	default:
		return "AR" // application reject
	}
}

// messageTypes maps MSH-9 message codes to canonical types. Anything absent
// is unsupported and rejected at parse time.
var messageTypes = map[string]protocol.MessageType{
	"ORU": protocol.TypeResult,
	"ORM": protocol.TypeOrder,
	"ADT": protocol.TypePatient,
	"QRY": protocol.TypeQuery,
	"ACK": protocol.TypeAck,
}

// requiredSegments lists the minimum segment set per message type beyond MSH.
// For TypeOrder the ORC/OBR alternative is handled separately.
var requiredSegments = map[protocol.MessageType][]string{
	protocol.TypeResult:  {"PID", "OBX"},
	protocol.TypePatient: {"PID"},
	protocol.TypeQuery:   {"QRD"},
	protocol.TypeAck:     {"MSA"},
}

// Codec parses and encodes HL7 v2.x. Stateless; safe for concurrent use.
type Codec struct{}

// Parse implements protocol.Codec. Unknown but well-formed segment types are
// preserved opaquely for forward compatibility.
func (Codec) Parse(f protocol.Frame) (*protocol.Message, error) {
	segments, err := splitSegments(f.Raw)
	if err != nil {
		return nil, err
	}

	msh := segments[0]
	if msh.Type != "MSH" {
		return nil, protocol.Malformed("first segment is %s, want MSH", msh.Type)
	}
	// With MSH the field separator itself counts as MSH-1, so positional
	// indexes run one ahead of the other segments.
	typeField := msh.Field(8) // MSH-9: type^trigger
	controlID := msh.Field(9) // MSH-10
	if controlID == "" {
		return nil, protocol.Malformed("missing control id (MSH-10)")
	}

	code, trigger, _ := strings.Cut(typeField, "^")
	msgType, ok := messageTypes[strings.ToUpper(code)]
	if !ok {
		return nil, protocol.Malformed("unsupported message type %q", typeField)
	}

	msg := &protocol.Message{
		Type:         msgType,
		TriggerEvent: trigger,
		ControlID:    controlID,
		DeviceID:     f.DeviceID,
		Provenance:   protocol.ProvenanceHL7,
		Segments:     segments,
		ReceivedAt:   f.ReceivedAt,
	}

	if err := validateSegments(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// EncodeAck implements protocol.Codec. The result is a complete MLLP frame
// whose MSA segment references the original control id.
func (Codec) EncodeAck(kind protocol.AckKind, controlID string) []byte {
	if controlID == "" {
		// Rejects for messages whose header never parsed still need a
		// well-formed MSA.
		controlID = "UNKNOWN"
	}
	ts := time.Now().Format("20060102150405")
	msh := strings.Join([]string{
		"MSH", "^~\\&", sendingApp, sendingFacility, "", "", ts, "",
		"ACK", controlID + "_ACK", "P", hl7Version,
	}, fieldSep)
	msa := strings.Join([]string{"MSA", ackCode(kind), controlID}, fieldSep)

	body := msh + segmentSep + msa + segmentSep
	out := make([]byte, 0, len(body)+3)
	out = append(out, startBlock)
	out = append(out, body...)
	out = append(out, endBlock, endCR)
	return out
}

// EncodeResult builds an outbound ORU^R01 frame from a stored result set,
// for forwarding results to downstream consumers.
func (Codec) EncodeResult(rs *protocol.ResultSet) []byte {
	ts := time.Now().Format("20060102150405")
	segs := []string{
		strings.Join([]string{
			"MSH", "^~\\&", sendingApp, sendingFacility, "", "", ts, "",
			"ORU^R01", rs.ControlID, "P", hl7Version,
		}, fieldSep),
		fmt.Sprintf("PID|1||%s", rs.PatientID),
		fmt.Sprintf("OBR|1|%s||%s|||%s", rs.OrderID, rs.TestCode, ts),
	}
	for i, obs := range rs.Observations {
		segs = append(segs, strings.Join([]string{
			"OBX", fmt.Sprint(i + 1), "NM",
			obs.TestCode + "^" + obs.TestName, "",
			obs.Value, obs.Unit, obs.ReferenceRange, obs.AbnormalFlag,
			"", "", "F",
		}, fieldSep))
	}

	body := strings.Join(segs, segmentSep) + segmentSep
	out := make([]byte, 0, len(body)+3)
	out = append(out, startBlock)
	out = append(out, body...)
	out = append(out, endBlock, endCR)
	return out
}

func splitSegments(raw []byte) ([]protocol.Segment, error) {
	text := strings.ReplaceAll(string(raw), "\r\n", segmentSep)
	text = strings.ReplaceAll(text, "\n", segmentSep)

	var segments []protocol.Segment
	for _, line := range strings.Split(text, segmentSep) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, fieldSep)
		typ := parts[0]
		if len(typ) != 3 || typ != strings.ToUpper(typ) {
			return nil, protocol.Malformed("invalid segment type %q", typ)
		}
		segments = append(segments, protocol.Segment{Type: typ, Fields: parts[1:]})
	}
	if len(segments) == 0 {
		return nil, protocol.Malformed("empty message")
	}
	return segments, nil
}

func validateSegments(msg *protocol.Message) error {
	for _, want := range requiredSegments[msg.Type] {
		if _, ok := msg.Segment(want); !ok {
			return protocol.Malformed("%s message missing %s segment", msg.Type, want)
		}
	}
	if msg.Type == protocol.TypeOrder {
		if _, ok := msg.Segment("PID"); !ok {
			return protocol.Malformed("order message missing PID segment")
		}
		_, hasORC := msg.Segment("ORC")
		_, hasOBR := msg.Segment("OBR")
		if !hasORC && !hasOBR {
			return protocol.Malformed("order message missing ORC/OBR segments")
		}
	}
	return nil
}

// Profile wires the HL7 codec and MLLP decoder into the profile registry.
type Profile struct {
	// MaxFrame bounds a single frame; 0 selects DefaultMaxFrame.
	MaxFrame int
}

func (Profile) Name() string { return "hl7" }

func (p Profile) NewDecoder(deviceID string) protocol.Decoder {
	return NewDecoder(deviceID, p.MaxFrame)
}

func (Profile) Codec() protocol.Codec { return Codec{} }
