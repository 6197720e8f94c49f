// internal/status/snapshot.go

// Package status builds the operational snapshot served on the HTTP status
// endpoint: per-device health plus queue depth. Snapshots contain no logic
// and no memory of the past beyond current state.
package status

import (
	"time"

	"github.com/rudrakshya/LIS/internal/device"
	"github.com/rudrakshya/LIS/internal/queue"
)

// Health classifies a device for operators, coarser than the registry's
// lifecycle states.
type Health string

const (
	HealthUnknown Health = "unknown"
	HealthOK      Health = "ok"
	HealthError   Health = "error"
	HealthOffline Health = "offline"
)

// DeviceStatus is one device's row in the snapshot.
type DeviceStatus struct {
	ID           string `json:"id"`
	Transport    string `json:"transport"`
	Profile      string `json:"profile"`
	State        string `json:"state"`
	Health       Health `json:"health"`
	ErrorCount   int    `json:"error_count,omitempty"`
	LastActivity string `json:"last_activity,omitempty"`
}

// Snapshot is the full status document.
type Snapshot struct {
	Time       string         `json:"time"`
	QueueDepth int            `json:"queue_depth"`
	Devices    []DeviceStatus `json:"devices"`
}

// Collect assembles a snapshot from the registry and the queue. No IO.
func Collect(r *device.Registry, q *queue.Queue) Snapshot {
	devices := r.Snapshot()
	out := Snapshot{
		Time:       time.Now().UTC().Format(time.RFC3339),
		QueueDepth: q.Depth(),
		Devices:    make([]DeviceStatus, 0, len(devices)),
	}
	for _, d := range devices {
		ds := DeviceStatus{
			ID:         d.ID,
			Transport:  string(d.Transport),
			Profile:    d.Profile,
			State:      string(d.State),
			Health:     healthOf(d.State),
			ErrorCount: d.ErrorCount,
		}
		if !d.LastActivity.IsZero() {
			ds.LastActivity = d.LastActivity.UTC().Format(time.RFC3339)
		}
		out.Devices = append(out.Devices, ds)
	}
	return out
}

func healthOf(s device.State) Health {
	switch s {
	case device.StateConnected, device.StateIdle, device.StateActive:
		return HealthOK
	case device.StateError:
		return HealthError
	case device.StateDisconnected:
		return HealthOffline
	default:
		return HealthUnknown
	}
}
