// internal/protocol/bt1500/decoder.go

// Package bt1500 implements the device codec for the BT-1500 Sensacore
// electrolyte analyzer. The analyzer prints ASCII reports over RS-232: a
// header line names the report, parameter lines follow, one value per line.
// The decoder assembles line-framed input into one frame per report; the
// codec maps a report into the same canonical message shape HL7 uses, so
// downstream processing stays protocol-agnostic.
package bt1500

import (
	"bytes"
	"strings"
	"time"

	"github.com/rudrakshya/LIS/internal/protocol"
)

// Report headers printed by the analyzer.
var reportHeaders = []string{
	"CALIBRATION REPORT",
	"ANALYZE REPORT",
	"CALIBRATION SLOPE",
	"ANALYZE SAMPLE",
}

// DefaultMaxReport bounds one assembled report.
const DefaultMaxReport = 8192

// Decoder assembles CRLF-terminated lines into report frames. A report opens
// at a header line and closes at the next header, at a blank line following
// data, or at Flush (inactivity). Lines outside any report are discarded.
type Decoder struct {
	deviceID  string
	max       int
	buf       []byte   // undelimited tail of the byte stream
	report    []string // lines of the report being assembled
	sawData   bool     // report has at least one non-header line
	pendingLF bool     // last consumed line ended the buffer on a bare CR
}

func NewDecoder(deviceID string, maxReport int) *Decoder {
	if maxReport <= 0 {
		maxReport = DefaultMaxReport
	}
	return &Decoder{deviceID: deviceID, max: maxReport}
}

// Feed implements protocol.Decoder.
func (d *Decoder) Feed(p []byte) ([]protocol.Frame, error) {
	d.buf = append(d.buf, p...)

	// A CRLF split across reads leaves its LF at the head of this chunk;
	// seeing it as a blank line would close the report early.
	if d.pendingLF && len(d.buf) > 0 {
		if d.buf[0] == '\n' {
			d.buf = d.buf[1:]
		}
		d.pendingLF = false
	}

	var frames []protocol.Frame
	var dropErr error

	for {
		nl := bytes.IndexAny(d.buf, "\r\n")
		if nl < 0 {
			if len(d.buf) > d.max {
				d.buf = nil
				dropErr = protocol.ErrFrameTooLarge
			}
			return frames, dropErr
		}
		line := strings.TrimRight(string(d.buf[:nl]), " ")
		rest := d.buf[nl+1:]
		if d.buf[nl] == '\r' {
			if len(rest) > 0 && rest[0] == '\n' {
				rest = rest[1:]
			} else if len(rest) == 0 {
				d.pendingLF = true
			}
		}
		d.buf = rest

		if f, ok := d.take(line); ok {
			frames = append(frames, f)
		}
	}
}

// Flush implements protocol.Decoder: an inactivity timeout closes the
// partial report, if any.
func (d *Decoder) Flush() []protocol.Frame {
	if f, ok := d.close(); ok {
		return []protocol.Frame{f}
	}
	return nil
}

// take consumes one complete line and possibly finishes a report.
func (d *Decoder) take(line string) (protocol.Frame, bool) {
	if isHeader(line) {
		f, ok := d.close()
		d.report = []string{line}
		d.sawData = false
		return f, ok
	}

	if d.report == nil {
		// Noise outside any report; the serial session logs discards.
		return protocol.Frame{}, false
	}

	if line == "" {
		if d.sawData {
			return d.close()
		}
		return protocol.Frame{}, false
	}

	d.report = append(d.report, line)
	d.sawData = true
	if reportLen(d.report) > d.max {
		d.report = nil
		d.sawData = false
	}
	return protocol.Frame{}, false
}

func (d *Decoder) close() (protocol.Frame, bool) {
	if d.report == nil || !d.sawData {
		d.report = nil
		d.sawData = false
		return protocol.Frame{}, false
	}
	raw := []byte(strings.Join(d.report, "\n"))
	d.report = nil
	d.sawData = false
	return protocol.Frame{
		DeviceID:   d.deviceID,
		Raw:        raw,
		ReceivedAt: time.Now().UTC(),
	}, true
}

func isHeader(line string) bool {
	for _, h := range reportHeaders {
		if strings.Contains(line, h) {
			return true
		}
	}
	return false
}

func reportLen(lines []string) int {
	n := 0
	for _, l := range lines {
		n += len(l) + 1
	}
	return n
}
