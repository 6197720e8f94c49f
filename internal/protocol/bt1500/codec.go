// internal/protocol/bt1500/codec.go
package bt1500

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/rudrakshya/LIS/internal/protocol"
)

// Serial-line acknowledgment bytes (ASTM-style single-byte handshake).
const (
	ackByte = 0x06
	nakByte = 0x15
)

// Parameters reported by the analyzer, with display names and LOINC codes.
var (
	parameterNames = map[string]string{
		"Na":  "Sodium",
		"K":   "Potassium",
		"iCa": "Ionized Calcium",
		"Cl":  "Chloride",
		"pH":  "pH",
	}
	// Codes as emitted by the analyzer's LIS integration; downstream
	// systems key on these, so they are kept verbatim.
	loincCodes = map[string]string{
		"Na":  "2951-2",
		"K":   "2823-3",
		"iCa": "2028-9",
		"Cl":  "2075-0",
		"pH":  "2746-1",
	}
)

// Line formats, as printed by the analyzer:
//
//	Na = 37.658 mV            (electrode potential, calibration)
//	Na =159.951 mmol/L HIGH   (measured result, optional flag)
//	Na =52.108 mv/decade      (calibration slope)
//	Apr-15-24 10:32:01        (report timestamp)
var (
	potentialLine = regexp.MustCompile(`^(\w+)\s*=\s*(-?[\d.]+)\s*mV$`)
	resultLine    = regexp.MustCompile(`^(\w+)\s*=\s*(-?[\d.]+)\s*mmol/L\s*(\w*)$`)
	slopeLine     = regexp.MustCompile(`^(\w+)\s*=\s*(-?[\d.]+)\s*mv/decade$`)
	timestampLine = regexp.MustCompile(`^\w{3}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}$`)
)

const timestampLayout = "Jan-02-06 15:04:05"

// Codec parses assembled report frames into canonical messages. Reports
// carry no control id of their own, so each message gets a generated one;
// xid values are unique per process, which satisfies per-session uniqueness.
type Codec struct{}

// Parse implements protocol.Codec. The canonical form mirrors HL7: an OBR
// segment naming the report, one OBX segment per measured parameter.
func (Codec) Parse(f protocol.Frame) (*protocol.Message, error) {
	lines := strings.Split(string(f.Raw), "\n")

	reportType := ""
	observedAt := f.ReceivedAt
	var obx []protocol.Segment

	for _, line := range lines {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case isHeader(line):
			reportType = headerType(line)
		case timestampLine.MatchString(line):
			if ts, err := time.Parse(timestampLayout, line); err == nil {
				observedAt = ts
			}
		default:
			if seg, ok := parseValueLine(line, len(obx)+1); ok {
				obx = append(obx, seg)
			}
			// Unrecognized lines (operator notes, sample ids) are kept out of
			// the canonical form but do not fail the report.
		}
	}

	if reportType == "" {
		return nil, protocol.Malformed("bt1500 report without header")
	}
	if len(obx) == 0 {
		return nil, protocol.Malformed("bt1500 %s report without values", reportType)
	}

	ts := observedAt.Format("20060102150405")
	segments := []protocol.Segment{
		{Type: "OBR", Fields: []string{"1", "", "", "BT-1500 " + reportType, "", ts}},
	}
	segments = append(segments, obx...)

	return &protocol.Message{
		Type:       protocol.TypeResult,
		ControlID:  xid.New().String(),
		DeviceID:   f.DeviceID,
		Provenance: protocol.ProvenanceBT1500,
		Segments:   segments,
		ReceivedAt: f.ReceivedAt,
	}, nil
}

// EncodeAck implements protocol.Codec. The analyzer expects a single
// ACK/NAK byte, not a framed message.
func (Codec) EncodeAck(kind protocol.AckKind, _ string) []byte {
	if kind == protocol.AckAccept {
		return []byte{ackByte}
	}
	return []byte{nakByte}
}

// parseValueLine maps one measurement line onto an OBX-shaped segment:
// OBX|setID|NM|code^name||value|unit||flag|||F.
func parseValueLine(line string, setID int) (protocol.Segment, bool) {
	var param, value, unit, flag string

	switch {
	case resultLine.MatchString(line):
		m := resultLine.FindStringSubmatch(line)
		param, value, unit, flag = m[1], m[2], "mmol/L", m[3]
	case potentialLine.MatchString(line):
		m := potentialLine.FindStringSubmatch(line)
		param, value, unit = m[1], m[2], "mV"
	case slopeLine.MatchString(line):
		m := slopeLine.FindStringSubmatch(line)
		param, value, unit = m[1], m[2], "mv/decade"
	default:
		return protocol.Segment{}, false
	}

	name, known := parameterNames[param]
	if !known {
		name = param
	}
	code := loincCodes[param]
	if code == "" {
		code = param
	}

	return protocol.Segment{
		Type: "OBX",
		Fields: []string{
			strconv.Itoa(setID), "NM", code + "^" + name, "",
			value, unit, "", flag, "", "", "F",
		},
	}, true
}

func headerType(line string) string {
	for _, h := range reportHeaders {
		if strings.Contains(line, h) {
			return strings.ReplaceAll(h, " ", "_")
		}
	}
	return ""
}

// Profile wires the BT-1500 codec and line decoder into the profile registry.
type Profile struct {
	// MaxReport bounds one assembled report; 0 selects DefaultMaxReport.
	MaxReport int
}

func (Profile) Name() string { return "bt1500" }

func (p Profile) NewDecoder(deviceID string) protocol.Decoder {
	return NewDecoder(deviceID, p.MaxReport)
}

func (Profile) Codec() protocol.Codec { return Codec{} }
