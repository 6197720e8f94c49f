// internal/protocol/bt1500/bt1500_test.go
package bt1500

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rudrakshya/LIS/internal/protocol"
)

const analyzeReport = "===== ANALYZE REPORT =====\r\n" +
	"Apr-15-24 10:32:01\r\n" +
	"Na =159.951 mmol/L HIGH\r\n" +
	"K  =4.112 mmol/L\r\n" +
	"iCa =1.150 mmol/L\r\n" +
	"\r\n"

const calibReport = "== CALIBRATION REPORT ==\r\n" +
	"Na = 37.658 mV\r\n" +
	"K = -12.044 mV\r\n" +
	"\r\n"

const slopeReport = "CALIBRATION SLOPE\r\n" +
	"Na =52.108 mv/decade\r\n" +
	"\r\n"

// ---- decoder ----

func TestDecoder_ThreeReportsOneWindow(t *testing.T) {
	d := NewDecoder("bt1", 0)

	frames, err := d.Feed([]byte(analyzeReport + calibReport + slopeReport))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	if !strings.Contains(string(frames[0].Raw), "ANALYZE REPORT") {
		t.Fatalf("first frame: %q", frames[0].Raw)
	}
	if !strings.Contains(string(frames[2].Raw), "CALIBRATION SLOPE") {
		t.Fatalf("third frame: %q", frames[2].Raw)
	}
}

func TestDecoder_ReportSplitAcrossFeeds(t *testing.T) {
	d := NewDecoder("bt1", 0)
	in := []byte(analyzeReport)

	frames, err := d.Feed(in[:20])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("partial feed yielded %d frames", len(frames))
	}
	frames, err = d.Feed(in[20:])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
}

func TestDecoder_CRLFSplitBetweenFeeds(t *testing.T) {
	d := NewDecoder("bt1", 0)
	in := []byte(analyzeReport)
	// Cut between the CR and LF terminating the first value line.
	cut := strings.Index(string(in), "HIGH\r\n") + len("HIGH\r")

	frames, err := d.Feed(in[:cut])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("orphaned LF closed the report early: %d frames", len(frames))
	}
	frames, err = d.Feed(in[cut:])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	for _, want := range []string{"Na =", "K  =", "iCa ="} {
		if !strings.Contains(string(frames[0].Raw), want) {
			t.Fatalf("value line %q missing from report %q", want, frames[0].Raw)
		}
	}
}

func TestDecoder_HeaderClosesPreviousReport(t *testing.T) {
	d := NewDecoder("bt1", 0)
	// No blank line between the two reports.
	in := "ANALYZE REPORT\r\nNa =140.1 mmol/L\r\nCALIBRATION SLOPE\r\nNa =52.1 mv/decade\r\n\r\n"

	frames, err := d.Feed([]byte(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
}

func TestDecoder_NoiseOutsideReportDiscarded(t *testing.T) {
	d := NewDecoder("bt1", 0)

	frames, err := d.Feed([]byte("warming up\r\nready\r\n" + slopeReport))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
}

func TestDecoder_FlushClosesPartialReport(t *testing.T) {
	d := NewDecoder("bt1", 0)

	frames, err := d.Feed([]byte("ANALYZE REPORT\r\nNa =140.1 mmol/L\r\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("unterminated report closed early: %d frames", len(frames))
	}

	frames = d.Flush()
	if len(frames) != 1 {
		t.Fatalf("flush returned %d frames, want 1", len(frames))
	}
	if d.Flush() != nil {
		t.Fatal("second flush returned a frame")
	}
}

func TestDecoder_OversizeLineDropped(t *testing.T) {
	d := NewDecoder("bt1", 32)

	_, err := d.Feed([]byte(strings.Repeat("X", 64)))
	if !errors.Is(err, protocol.ErrFrameTooLarge) {
		t.Fatalf("want ErrFrameTooLarge, got %v", err)
	}
}

// ---- codec ----

func parseReport(t *testing.T, report string) *protocol.Message {
	t.Helper()
	d := NewDecoder("bt1", 0)
	frames, err := d.Feed([]byte(report))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	msg, err := Codec{}.Parse(frames[0])
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return msg
}

func TestParse_AnalyzeReport(t *testing.T) {
	msg := parseReport(t, analyzeReport)

	if msg.Type != protocol.TypeResult {
		t.Fatalf("type %q, want result", msg.Type)
	}
	if msg.Provenance != protocol.ProvenanceBT1500 {
		t.Fatalf("provenance %q", msg.Provenance)
	}
	if msg.ControlID == "" {
		t.Fatal("control id not generated")
	}

	obr, ok := msg.Segment("OBR")
	if !ok {
		t.Fatal("OBR segment missing")
	}
	if got := obr.Field(4); got != "BT-1500 ANALYZE_REPORT" {
		t.Fatalf("OBR-4 = %q", got)
	}
	ts, err := time.Parse("20060102150405", obr.Field(6))
	if err != nil {
		t.Fatalf("OBR-6 timestamp: %v", err)
	}
	if ts.Year() != 2024 || ts.Month() != time.April || ts.Day() != 15 {
		t.Fatalf("report timestamp %v", ts)
	}

	obx := msg.SegmentsOf("OBX")
	if len(obx) != 3 {
		t.Fatalf("got %d OBX segments, want 3", len(obx))
	}
	na := obx[0]
	if na.Field(3) != "2951-2^Sodium" {
		t.Fatalf("OBX-3 = %q", na.Field(3))
	}
	if na.Field(5) != "159.951" || na.Field(6) != "mmol/L" {
		t.Fatalf("value/unit = %q/%q", na.Field(5), na.Field(6))
	}
	if na.Field(8) != "HIGH" {
		t.Fatalf("abnormal flag = %q", na.Field(8))
	}
	if obx[1].Field(8) != "" {
		t.Fatalf("unflagged value carries flag %q", obx[1].Field(8))
	}
	if got := obx[2].Field(3); got != "2028-9^Ionized Calcium" {
		t.Fatalf("OBX-3 = %q", got)
	}
}

func TestParse_CalibrationPotentials(t *testing.T) {
	msg := parseReport(t, calibReport)

	obx := msg.SegmentsOf("OBX")
	if len(obx) != 2 {
		t.Fatalf("got %d OBX segments, want 2", len(obx))
	}
	if obx[0].Field(6) != "mV" {
		t.Fatalf("unit = %q, want mV", obx[0].Field(6))
	}
	if obx[1].Field(5) != "-12.044" {
		t.Fatalf("negative potential parsed as %q", obx[1].Field(5))
	}
}

func TestParse_SlopeUnits(t *testing.T) {
	msg := parseReport(t, slopeReport)
	obx := msg.SegmentsOf("OBX")
	if len(obx) != 1 || obx[0].Field(6) != "mv/decade" {
		t.Fatalf("slope OBX: %+v", obx)
	}
}

func TestParse_GeneratedControlIDsUnique(t *testing.T) {
	a := parseReport(t, analyzeReport)
	b := parseReport(t, analyzeReport)
	if a.ControlID == b.ControlID {
		t.Fatalf("duplicate generated control id %q", a.ControlID)
	}
}

func TestParse_ReportWithoutValues(t *testing.T) {
	f := protocol.Frame{DeviceID: "bt1", Raw: []byte("ANALYZE REPORT\nno values here"), ReceivedAt: time.Now()}
	if _, err := (Codec{}).Parse(f); !errors.Is(err, protocol.ErrMalformedMessage) {
		t.Fatalf("want malformed error, got %v", err)
	}
}

func TestEncodeAck_SingleByte(t *testing.T) {
	if got := (Codec{}).EncodeAck(protocol.AckAccept, "x"); len(got) != 1 || got[0] != 0x06 {
		t.Fatalf("accept ack = %v", got)
	}
	if got := (Codec{}).EncodeAck(protocol.AckError, "x"); len(got) != 1 || got[0] != 0x15 {
		t.Fatalf("error ack = %v", got)
	}
	if got := (Codec{}).EncodeAck(protocol.AckReject, "x"); len(got) != 1 || got[0] != 0x15 {
		t.Fatalf("reject ack = %v", got)
	}
}
