// internal/protocol/hl7/codec_test.go
package hl7

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rudrakshya/LIS/internal/protocol"
)

const sampleORU = "MSH|^~\\&|ANALYZER|LAB|LIS|LAB|20240101120000||ORU^R01|MSG001|P|2.5\r" +
	"PID|1||PAT123||DOE^JOHN\r" +
	"OBR|1|ORD42||GLU^Glucose\r" +
	"OBX|1|NM|GLU^Glucose||105|mg/dL|70-110|N|||F"

func frameOf(raw string) protocol.Frame {
	return protocol.Frame{DeviceID: "dev1", Raw: []byte(raw), ReceivedAt: time.Now().UTC()}
}

// ---- tests ----

func TestParse_ORU(t *testing.T) {
	msg, err := Codec{}.Parse(frameOf(sampleORU))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Type != protocol.TypeResult {
		t.Fatalf("type %q, want result", msg.Type)
	}
	if msg.TriggerEvent != "R01" {
		t.Fatalf("trigger %q, want R01", msg.TriggerEvent)
	}
	if msg.ControlID != "MSG001" {
		t.Fatalf("control id %q, want MSG001", msg.ControlID)
	}
	if msg.Provenance != protocol.ProvenanceHL7 {
		t.Fatalf("provenance %q", msg.Provenance)
	}
	if len(msg.Segments) != 4 {
		t.Fatalf("got %d segments, want 4", len(msg.Segments))
	}
	obx, ok := msg.Segment("OBX")
	if !ok {
		t.Fatal("OBX segment missing")
	}
	if v := obx.Field(5); v != "105" {
		t.Fatalf("OBX-5 = %q, want 105", v)
	}
}

func TestParse_ORMWithORCOnly(t *testing.T) {
	raw := "MSH|^~\\&|A|B|||20240101||ORM^O01|MSG002|P|2.5\r" +
		"PID|1||PAT1\r" +
		"ORC|NW|ORD1"
	msg, err := Codec{}.Parse(frameOf(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.Type != protocol.TypeOrder {
		t.Fatalf("type %q, want order", msg.Type)
	}
}

func TestParse_ORMMissingORCAndOBR(t *testing.T) {
	raw := "MSH|^~\\&|A|B|||20240101||ORM^O01|MSG003|P|2.5\r" +
		"PID|1||PAT1"
	if _, err := (Codec{}).Parse(frameOf(raw)); !errors.Is(err, protocol.ErrMalformedMessage) {
		t.Fatalf("want malformed error, got %v", err)
	}
}

func TestParse_MissingControlID(t *testing.T) {
	raw := "MSH|^~\\&|A|B|||20240101||ORU^R01||P|2.5\rPID|1\rOBX|1"
	if _, err := (Codec{}).Parse(frameOf(raw)); !errors.Is(err, protocol.ErrMalformedMessage) {
		t.Fatalf("want malformed error, got %v", err)
	}
}

func TestParse_UnsupportedType(t *testing.T) {
	raw := "MSH|^~\\&|A|B|||20240101||XYZ^Z01|MSG004|P|2.5"
	if _, err := (Codec{}).Parse(frameOf(raw)); !errors.Is(err, protocol.ErrMalformedMessage) {
		t.Fatalf("want malformed error, got %v", err)
	}
}

func TestParse_FirstSegmentNotMSH(t *testing.T) {
	if _, err := (Codec{}).Parse(frameOf("PID|1||PAT1")); !errors.Is(err, protocol.ErrMalformedMessage) {
		t.Fatalf("want malformed error, got %v", err)
	}
}

func TestParse_UnknownSegmentsPreserved(t *testing.T) {
	raw := sampleORU + "\rZXY|custom|vendor"
	msg, err := Codec{}.Parse(frameOf(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	zxy, ok := msg.Segment("ZXY")
	if !ok {
		t.Fatal("vendor segment dropped")
	}
	if zxy.Field(1) != "custom" {
		t.Fatalf("ZXY-1 = %q", zxy.Field(1))
	}
}

func TestParse_LFSegmentSeparators(t *testing.T) {
	raw := strings.ReplaceAll(sampleORU, "\r", "\n")
	if _, err := (Codec{}).Parse(frameOf(raw)); err != nil {
		t.Fatalf("LF-separated message rejected: %v", err)
	}
}

func TestEncodeAck_RoundTrip(t *testing.T) {
	for kind, code := range map[protocol.AckKind]string{
		protocol.AckAccept: "AA",
		protocol.AckError:  "AE",
		protocol.AckReject: "AR",
	} {
		raw := Codec{}.EncodeAck(kind, "MSG001")
		if raw[0] != startBlock || raw[len(raw)-2] != endBlock || raw[len(raw)-1] != endCR {
			t.Fatalf("%v: ack not MLLP framed: %q", kind, raw)
		}

		msg, err := Codec{}.Parse(frameOf(string(raw[1 : len(raw)-2])))
		if err != nil {
			t.Fatalf("%v: own ack does not parse: %v", kind, err)
		}
		if msg.Type != protocol.TypeAck {
			t.Fatalf("%v: type %q", kind, msg.Type)
		}
		msa, ok := msg.Segment("MSA")
		if !ok {
			t.Fatalf("%v: MSA missing", kind)
		}
		if msa.Field(1) != code {
			t.Fatalf("%v: MSA-1 = %q, want %s", kind, msa.Field(1), code)
		}
		if msa.Field(2) != "MSG001" {
			t.Fatalf("%v: MSA-2 = %q, want MSG001", kind, msa.Field(2))
		}
	}
}

func TestEncodeAck_EmptyControlID(t *testing.T) {
	raw := Codec{}.EncodeAck(protocol.AckReject, "")
	if !strings.Contains(string(raw), "MSA|AR|UNKNOWN") {
		t.Fatalf("ack without control id: %q", raw)
	}
}

func TestEncodeResult_ParsesAsORU(t *testing.T) {
	rs := &protocol.ResultSet{
		ControlID: "RES001",
		PatientID: "PAT123",
		OrderID:   "ORD42",
		TestCode:  "LYTES",
		Observations: []protocol.Observation{
			{TestCode: "Na", TestName: "Sodium", Value: "141.2", Unit: "mmol/L"},
			{TestCode: "K", TestName: "Potassium", Value: "4.1", Unit: "mmol/L", AbnormalFlag: "N"},
		},
	}
	raw := Codec{}.EncodeResult(rs)

	msg, err := Codec{}.Parse(frameOf(string(raw[1 : len(raw)-2])))
	if err != nil {
		t.Fatalf("generated ORU does not parse: %v", err)
	}
	if msg.Type != protocol.TypeResult {
		t.Fatalf("type %q, want result", msg.Type)
	}
	if got := len(msg.SegmentsOf("OBX")); got != 2 {
		t.Fatalf("got %d OBX segments, want 2", got)
	}
}
