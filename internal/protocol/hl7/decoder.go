// internal/protocol/hl7/decoder.go

// Package hl7 implements the HL7 v2.x codec: MLLP frame decoding, segment
// and field parsing, and ACK/NAK encoding.
package hl7

import (
	"bytes"
	"time"

	"github.com/rudrakshya/LIS/internal/protocol"
)

// MLLP framing bytes.
const (
	startBlock = 0x0B // VT
	endBlock   = 0x1C // FS
	endCR      = 0x0D // CR
)

// DefaultMaxFrame bounds a single MLLP frame. A peer that streams more
// without closing the frame loses the partial frame, not the session.
const DefaultMaxFrame = 256 * 1024

var mllpTerminator = []byte{endBlock, endCR}

// Decoder extracts MLLP frames from a TCP byte stream. Bytes outside a frame
// are normally discarded, with one concession to older analyzers: a
// CRLF-terminated line that starts with "MSH" is accepted as a frame
// (line-mode HL7, with bare CR separating segments inside the line).
type Decoder struct {
	deviceID string
	max      int
	buf      []byte
	inFrame  bool
}

// NewDecoder creates a per-session decoder. maxFrame <= 0 selects
// DefaultMaxFrame.
func NewDecoder(deviceID string, maxFrame int) *Decoder {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	return &Decoder{deviceID: deviceID, max: maxFrame}
}

// Feed implements protocol.Decoder.
func (d *Decoder) Feed(p []byte) ([]protocol.Frame, error) {
	d.buf = append(d.buf, p...)

	var frames []protocol.Frame
	var dropErr error

	for {
		if !d.inFrame {
			start := bytes.IndexByte(d.buf, startBlock)

			// Line-mode: a complete MSH line before any start block.
			if line, rest, ok := leadingLine(d.buf, start); ok {
				d.buf = rest
				if bytes.HasPrefix(line, []byte("MSH")) {
					frames = append(frames, d.frame(line))
				} else if len(line) > 0 {
					dropErr = protocol.Malformed("discarding %d unframed bytes", len(line))
				}
				continue
			}

			if start < 0 {
				// No frame start in sight; cap what we keep while waiting.
				if len(d.buf) > d.max {
					dropErr = protocol.Malformed("discarding %d unframed bytes", len(d.buf))
					d.buf = nil
				}
				return frames, dropErr
			}
			if start > 0 {
				dropErr = protocol.Malformed("discarding %d bytes before frame start", start)
			}
			d.buf = d.buf[start+1:]
			d.inFrame = true
		}

		end := bytes.Index(d.buf, mllpTerminator)
		if end < 0 {
			if len(d.buf) > d.max {
				d.buf = nil
				d.inFrame = false
				return frames, protocol.ErrFrameTooLarge
			}
			return frames, dropErr
		}

		content := d.buf[:end]
		d.buf = d.buf[end+len(mllpTerminator):]
		d.inFrame = false
		if len(content) > 0 {
			frames = append(frames, d.frame(content))
		}
	}
}

// Flush implements protocol.Decoder. MLLP frames have explicit terminators,
// so inactivity completes nothing.
func (d *Decoder) Flush() []protocol.Frame { return nil }

func (d *Decoder) frame(content []byte) protocol.Frame {
	raw := make([]byte, len(content))
	copy(raw, content)
	return protocol.Frame{
		DeviceID:   d.deviceID,
		Raw:        raw,
		ReceivedAt: time.Now().UTC(),
	}
}

// leadingLine returns the first CRLF-terminated line of buf if its
// terminator appears before start (the next start block, or anywhere when
// start < 0). Line-mode messages end on CRLF only: a bare CR is the segment
// separator inside the message, and a trailing CR with no LF yet is an
// incomplete line. The returned line has the terminator stripped.
func leadingLine(buf []byte, start int) (line, rest []byte, ok bool) {
	nl := bytes.Index(buf, []byte("\r\n"))
	if nl < 0 || (start >= 0 && nl > start) {
		return nil, nil, false
	}
	return buf[:nl], buf[nl+2:], true
}
