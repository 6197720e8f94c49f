// internal/device/registry.go

// Package device tracks the lifecycle of every known analyzer connection.
// The registry is the single source of truth for reachability; transports
// drive transitions, a periodic sweep times out silent devices.
package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// State is one step of the per-device lifecycle:
// unknown → connecting → connected → idle ⇄ active → error → disconnected.
type State string

const (
	StateUnknown      State = "unknown"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateIdle         State = "idle"
	StateActive       State = "active"
	StateError        State = "error"
	StateDisconnected State = "disconnected"
)

// TransportKind distinguishes network from serial devices.
type TransportKind string

const (
	TransportTCP    TransportKind = "tcp"
	TransportSerial TransportKind = "serial"
)

// Device is one registered analyzer. Mutated only through Registry methods.
type Device struct {
	ID           string
	Transport    TransportKind
	Profile      string
	Address      string
	State        State
	LastActivity time.Time
	ErrorCount   int
	// Timeout overrides the registry-wide activity timeout when non-zero.
	Timeout time.Duration
}

// Registry holds all registered devices behind one mutex. No method blocks
// on I/O while holding it.
type Registry struct {
	mu      sync.Mutex
	devices map[string]*Device

	timeout    time.Duration
	maxRetries int

	logger    *logrus.Entry
	connected prometheus.Gauge
}

// Config bounds the sweep and the error → disconnected escalation.
type Config struct {
	// ActivityTimeout moves a silent connected device to error.
	ActivityTimeout time.Duration
	// MaxRetries is the consecutive error count after which a device is
	// disconnected and needs external re-registration.
	MaxRetries int
}

func NewRegistry(cfg Config, logger *logrus.Logger, connected prometheus.Gauge) *Registry {
	return &Registry{
		devices:    make(map[string]*Device),
		timeout:    cfg.ActivityTimeout,
		maxRetries: cfg.MaxRetries,
		logger:     logger.WithField("component", "device-registry"),
		connected:  connected,
	}
}

// Register adds or replaces a device in the unknown state. timeout zero
// inherits the registry-wide activity timeout.
func (r *Registry) Register(id string, kind TransportKind, profile, address string, timeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[id] = &Device{
		ID:        id,
		Transport: kind,
		Profile:   profile,
		Address:   address,
		State:     StateUnknown,
		Timeout:   timeout,
	}
	r.logger.WithFields(logrus.Fields{"device": id, "transport": kind}).Info("device registered")
}

// Get returns a copy of the device record.
func (r *Registry) Get(id string) (Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// Snapshot returns copies of every device record.
func (r *Registry) Snapshot() []Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, *d)
	}
	return out
}

// Connecting marks a connection attempt in progress.
func (r *Registry) Connecting(id string) {
	r.transition(id, StateConnecting, false)
}

// Connected marks a device reachable and clears its error count.
func (r *Registry) Connected(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return
	}
	r.setState(d, StateConnected)
	d.ErrorCount = 0
	d.LastActivity = time.Now()
}

// Activity marks a device active and refreshes its last-activity timestamp.
func (r *Registry) Activity(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return
	}
	if d.State == StateConnected || d.State == StateIdle || d.State == StateActive {
		r.setState(d, StateActive)
	}
	d.LastActivity = time.Now()
}

// Idle marks an active device as quiet but healthy.
func (r *Registry) Idle(id string) {
	r.transition(id, StateIdle, false)
}

// MarkError records a consecutive failure. Returns true while the device may
// still retry; false once it has exceeded MaxRetries and was disconnected.
func (r *Registry) MarkError(id string, cause error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return false
	}
	d.ErrorCount++
	log := r.logger.WithFields(logrus.Fields{"device": id, "errors": d.ErrorCount})
	if cause != nil {
		log = log.WithError(cause)
	}
	if r.maxRetries > 0 && d.ErrorCount > r.maxRetries {
		r.setState(d, StateDisconnected)
		log.Warn("device exceeded retry limit, disconnected")
		return false
	}
	r.setState(d, StateError)
	log.Warn("device error")
	return true
}

// Disconnected marks a device offline without touching its error count.
func (r *Registry) Disconnected(id string) {
	r.transition(id, StateDisconnected, true)
}

func (r *Registry) transition(id string, to State, infoLog bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return
	}
	r.setState(d, to)
	if infoLog {
		r.logger.WithFields(logrus.Fields{"device": id, "state": to}).Info("device state")
	}
}

// setState updates the state and the connected gauge. Callers hold r.mu.
func (r *Registry) setState(d *Device, to State) {
	if d.State == to {
		return
	}
	if reachable(to) && !reachable(d.State) {
		r.gaugeAdd(1)
	}
	if !reachable(to) && reachable(d.State) {
		r.gaugeAdd(-1)
	}
	d.State = to
}

func reachable(s State) bool {
	return s == StateConnected || s == StateIdle || s == StateActive
}

func (r *Registry) gaugeAdd(v float64) {
	if r.connected != nil {
		r.connected.Add(v)
	}
}

// RunSweep periodically moves devices with no activity inside their
// configured timeout into the error state. Blocks until ctx ends.
func (r *Registry) RunSweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(time.Now())
		}
	}
}

func (r *Registry) sweep(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if !reachable(d.State) {
			continue
		}
		timeout := d.Timeout
		if timeout <= 0 {
			timeout = r.timeout
		}
		if timeout <= 0 {
			continue
		}
		if now.Sub(d.LastActivity) > timeout {
			r.setState(d, StateError)
			r.logger.WithFields(logrus.Fields{
				"device":        d.ID,
				"last_activity": d.LastActivity.Format(time.RFC3339),
			}).Warn("device timed out")
		}
	}
}

// String implements fmt.Stringer for log readability.
func (d Device) String() string {
	return fmt.Sprintf("%s(%s/%s)=%s", d.ID, d.Transport, d.Profile, d.State)
}
