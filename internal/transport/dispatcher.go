// internal/transport/dispatcher.go
package transport

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/rudrakshya/LIS/internal/observability"
	"github.com/rudrakshya/LIS/internal/protocol"
)

// Dispatcher tracks live sessions and writes protocol-correct ACK/NAK frames
// back on them. If a session closed since the message arrived, the
// acknowledgment is dropped: the equipment's own store-and-forward policy
// covers redelivery. Write failures are logged, never retried.
type Dispatcher struct {
	mu       sync.Mutex
	sessions map[string]attachment

	logger  *logrus.Entry
	metrics *observability.Metrics
}

type attachment struct {
	session Session
	codec   protocol.Codec
}

func NewDispatcher(logger *logrus.Logger, metrics *observability.Metrics) *Dispatcher {
	return &Dispatcher{
		sessions: make(map[string]attachment),
		logger:   logger.WithField("component", "ack-dispatcher"),
		metrics:  metrics,
	}
}

// Attach registers a session with the codec of its device profile.
func (d *Dispatcher) Attach(s Session, codec protocol.Codec) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions[s.ID()] = attachment{session: s, codec: codec}
}

// Detach removes a session. Acknowledgments for it are dropped afterwards.
func (d *Dispatcher) Detach(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, sessionID)
}

// Dispatch encodes and writes one acknowledgment on the originating session.
func (d *Dispatcher) Dispatch(ack Ack) {
	d.mu.Lock()
	att, ok := d.sessions[ack.SessionID]
	d.mu.Unlock()

	log := d.logger.WithFields(logrus.Fields{
		"session":    ack.SessionID,
		"control_id": ack.ControlID,
		"ack":        ack.Kind.String(),
	})
	if !ok {
		d.metrics.AcksDropped.Inc()
		log.Debug("session gone, acknowledgment dropped")
		return
	}

	if err := att.session.Write(att.codec.EncodeAck(ack.Kind, ack.ControlID)); err != nil {
		d.metrics.AcksDropped.Inc()
		log.WithError(err).Warn("acknowledgment write failed")
		return
	}
	d.metrics.AcksSent.Inc()
}
