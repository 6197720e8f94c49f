// internal/protocol/hl7/decoder_test.go
package hl7

import (
	"bytes"
	"errors"
	"testing"

	"github.com/rudrakshya/LIS/internal/protocol"
)

func mllp(body string) []byte {
	out := []byte{startBlock}
	out = append(out, body...)
	return append(out, endBlock, endCR)
}

// ---- tests ----

func TestDecoder_SingleFrame(t *testing.T) {
	d := NewDecoder("dev1", 0)

	frames, err := d.Feed(mllp("MSH|^~\\&|LAB\rPID|1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if !bytes.Equal(frames[0].Raw, []byte("MSH|^~\\&|LAB\rPID|1")) {
		t.Fatalf("frame content %q", frames[0].Raw)
	}
	if frames[0].DeviceID != "dev1" {
		t.Fatalf("device id %q", frames[0].DeviceID)
	}
}

func TestDecoder_FrameSplitAcrossFeeds(t *testing.T) {
	d := NewDecoder("dev1", 0)
	full := mllp("MSH|^~\\&|LAB")

	frames, err := d.Feed(full[:5])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("partial feed yielded %d frames", len(frames))
	}

	frames, err = d.Feed(full[5:])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
}

func TestDecoder_TwoFramesOneFeed(t *testing.T) {
	d := NewDecoder("dev1", 0)
	in := append(mllp("MSH|a"), mllp("MSH|b")...)

	frames, err := d.Feed(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if string(frames[0].Raw) != "MSH|a" || string(frames[1].Raw) != "MSH|b" {
		t.Fatalf("frames %q / %q", frames[0].Raw, frames[1].Raw)
	}
}

func TestDecoder_JunkBeforeFrameReported(t *testing.T) {
	d := NewDecoder("dev1", 0)
	in := append([]byte{0x00, 0x01, 0x02}, mllp("MSH|a")...)

	frames, err := d.Feed(in)
	if !errors.Is(err, protocol.ErrMalformedMessage) {
		t.Fatalf("want malformed error for junk prefix, got %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("frame after junk lost: got %d frames", len(frames))
	}
}

func TestDecoder_LineMode(t *testing.T) {
	d := NewDecoder("dev1", 0)

	frames, err := d.Feed([]byte("MSH|^~\\&|LAB\r\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if string(frames[0].Raw) != "MSH|^~\\&|LAB" {
		t.Fatalf("frame content %q", frames[0].Raw)
	}
}

func TestDecoder_LineModeMultiSegment(t *testing.T) {
	d := NewDecoder("dev1", 0)

	raw := "MSH|^~\\&|LAB|||20240101||ORU^R01|CTRL9|P|2.5\rPID|1||PAT1\rOBX|1|NM|X||5"
	frames, err := d.Feed([]byte(raw + "\r\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if string(frames[0].Raw) != raw {
		t.Fatalf("segments lost: frame content %q", frames[0].Raw)
	}
}

func TestDecoder_LineModeCRLFSplitAcrossFeeds(t *testing.T) {
	d := NewDecoder("dev1", 0)

	frames, err := d.Feed([]byte("MSH|^~\\&|LAB\rPID|1\r"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("trailing CR closed the message early: %d frames", len(frames))
	}

	frames, err = d.Feed([]byte("\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 1 || string(frames[0].Raw) != "MSH|^~\\&|LAB\rPID|1" {
		t.Fatalf("frames %v", frames)
	}
}

func TestDecoder_LineModeNonMSHDiscarded(t *testing.T) {
	d := NewDecoder("dev1", 0)

	frames, err := d.Feed([]byte("HELLO WORLD\r\n"))
	if !errors.Is(err, protocol.ErrMalformedMessage) {
		t.Fatalf("want malformed error, got %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("got %d frames, want 0", len(frames))
	}
}

func TestDecoder_OversizeFrameDropped(t *testing.T) {
	d := NewDecoder("dev1", 16)

	big := append([]byte{startBlock}, bytes.Repeat([]byte("X"), 64)...)
	frames, err := d.Feed(big)
	if !errors.Is(err, protocol.ErrFrameTooLarge) {
		t.Fatalf("want ErrFrameTooLarge, got %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("got %d frames, want 0", len(frames))
	}

	// The session stays usable after the drop.
	frames, err = d.Feed(mllp("MSH|ok"))
	if err != nil {
		t.Fatalf("unexpected error after drop: %v", err)
	}
	if len(frames) != 1 || string(frames[0].Raw) != "MSH|ok" {
		t.Fatalf("decoder unusable after oversize drop: %v", frames)
	}
}

func TestDecoder_EmptyFrameIgnored(t *testing.T) {
	d := NewDecoder("dev1", 0)

	frames, err := d.Feed([]byte{startBlock, endBlock, endCR})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("empty frame produced %d frames", len(frames))
	}
}

func TestDecoder_FlushCompletesNothing(t *testing.T) {
	d := NewDecoder("dev1", 0)
	if _, err := d.Feed([]byte{startBlock, 'M', 'S', 'H'}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frames := d.Flush(); frames != nil {
		t.Fatalf("flush returned %d frames", len(frames))
	}
}
