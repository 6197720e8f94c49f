// internal/status/snapshot_test.go
package status

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/rudrakshya/LIS/internal/device"
	"github.com/rudrakshya/LIS/internal/protocol"
	"github.com/rudrakshya/LIS/internal/queue"
)

func newFixtures() (*device.Registry, *queue.Queue) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	r := device.NewRegistry(device.Config{}, logger, nil)
	r.Register("lab-7", device.TransportTCP, "hl7", "", 0)
	r.Register("bt-1", device.TransportSerial, "bt1500", "/dev/ttyUSB0", 0)
	r.Connected("lab-7")
	r.MarkError("bt-1", nil)

	q := queue.New(8)
	q.Enqueue(&queue.Entry{Msg: &protocol.Message{Type: protocol.TypeResult, ControlID: "m1", DeviceID: "lab-7"}})
	return r, q
}

func TestCollect(t *testing.T) {
	r, q := newFixtures()
	snap := Collect(r, q)

	if snap.QueueDepth != 1 {
		t.Fatalf("queue depth %d", snap.QueueDepth)
	}
	if len(snap.Devices) != 2 {
		t.Fatalf("got %d devices", len(snap.Devices))
	}

	byID := make(map[string]DeviceStatus)
	for _, d := range snap.Devices {
		byID[d.ID] = d
	}
	if byID["lab-7"].Health != HealthOK {
		t.Fatalf("lab-7 health %q", byID["lab-7"].Health)
	}
	if byID["bt-1"].Health != HealthError || byID["bt-1"].ErrorCount != 1 {
		t.Fatalf("bt-1 status %+v", byID["bt-1"])
	}
}

func TestHandler_ServesJSON(t *testing.T) {
	r, q := newFixtures()
	rec := httptest.NewRecorder()
	Handler(r, q).ServeHTTP(rec, httptest.NewRequest("GET", "/status", nil))

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content type %q", ct)
	}
	var snap Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if snap.QueueDepth != 1 || len(snap.Devices) != 2 {
		t.Fatalf("snapshot %+v", snap)
	}
}
