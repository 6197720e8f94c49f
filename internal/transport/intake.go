// internal/transport/intake.go
package transport

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/rudrakshya/LIS/internal/device"
	"github.com/rudrakshya/LIS/internal/observability"
	"github.com/rudrakshya/LIS/internal/protocol"
	"github.com/rudrakshya/LIS/internal/queue"
)

// Intake is the shared ingest path: decoded frames are parsed, accepted
// messages are queued, rejects go straight back as negative acknowledgments.
// Both adapters use it, so the equipment never sees a third outcome: a
// message is queued (acknowledged later by the pipeline) or refused now.
type Intake struct {
	Queue    *queue.Queue
	Registry *device.Registry
	Logger   *logrus.Logger
	Metrics  *observability.Metrics
}

// HandleBytes feeds a read chunk through the session's decoder and ingests
// every completed frame. Framing errors are logged and the session goes on.
func (in *Intake) HandleBytes(s Session, dec protocol.Decoder, codec protocol.Codec, p []byte) {
	frames, err := dec.Feed(p)
	if err != nil {
		in.log(s).WithError(err).Warn("frame decode")
	}
	in.HandleFrames(s, codec, frames)
}

// HandleFlush ingests frames completed by an inactivity timeout.
func (in *Intake) HandleFlush(s Session, dec protocol.Decoder, codec protocol.Codec) {
	in.HandleFrames(s, codec, dec.Flush())
}

// HandleFrames parses and enqueues complete frames.
func (in *Intake) HandleFrames(s Session, codec protocol.Codec, frames []protocol.Frame) {
	for _, f := range frames {
		in.Metrics.FramesReceived.Inc()
		in.Registry.Activity(s.DeviceID())

		msg, err := codec.Parse(f)
		if err != nil {
			in.Metrics.MessagesRejected.Inc()
			in.log(s).WithError(err).Warn("message rejected")
			in.nak(s, codec, protocol.AckReject, "")
			continue
		}
		in.Metrics.MessagesParsed.Inc()

		err = in.Queue.Enqueue(&queue.Entry{Msg: msg, SessionID: s.ID()})
		switch {
		case err == nil:
			in.Metrics.QueueDepth.Inc()
			in.log(s).WithFields(logrus.Fields{
				"control_id": msg.ControlID,
				"type":       string(msg.Type),
			}).Debug("message queued")
		case errors.Is(err, protocol.ErrQueueFull):
			in.Metrics.EnqueueRejected.Inc()
			in.log(s).WithField("control_id", msg.ControlID).Warn("queue full, message refused")
			in.nak(s, codec, protocol.AckError, msg.ControlID)
		default:
			in.log(s).WithError(err).Warn("enqueue failed")
			in.nak(s, codec, protocol.AckError, msg.ControlID)
		}
	}
}

func (in *Intake) nak(s Session, codec protocol.Codec, kind protocol.AckKind, controlID string) {
	if err := s.Write(codec.EncodeAck(kind, controlID)); err != nil {
		in.log(s).WithError(err).Warn("negative acknowledgment write failed")
	}
}

func (in *Intake) log(s Session) *logrus.Entry {
	return in.Logger.WithFields(logrus.Fields{
		"session": s.ID(),
		"device":  s.DeviceID(),
	})
}
