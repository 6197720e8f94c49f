// internal/observability/metrics.go
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every engine counter and gauge on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	FramesReceived   prometheus.Counter
	MessagesParsed   prometheus.Counter
	MessagesRejected prometheus.Counter
	EnqueueRejected  prometheus.Counter
	Processed        prometheus.Counter
	Retried          prometheus.Counter
	DeadLettered     prometheus.Counter
	AcksSent         prometheus.Counter
	AcksDropped      prometheus.Counter
	QueueDepth       prometheus.Gauge
	ConnectedDevices prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	counter := func(name, help string) prometheus.Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lis", Subsystem: "engine", Name: name, Help: help,
		})
		m.registry.MustRegister(c)
		return c
	}
	gauge := func(name, help string) prometheus.Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lis", Subsystem: "engine", Name: name, Help: help,
		})
		m.registry.MustRegister(g)
		return g
	}

	m.FramesReceived = counter("frames_received_total", "Frames decoded from transports")
	m.MessagesParsed = counter("messages_parsed_total", "Frames parsed into messages")
	m.MessagesRejected = counter("messages_rejected_total", "Frames rejected as malformed")
	m.EnqueueRejected = counter("enqueue_rejected_total", "Enqueue attempts rejected by backpressure")
	m.Processed = counter("messages_processed_total", "Messages stored successfully")
	m.Retried = counter("messages_retried_total", "Transient-failure retries")
	m.DeadLettered = counter("messages_dead_lettered_total", "Messages moved to the dead-letter log")
	m.AcksSent = counter("acks_sent_total", "Acknowledgment frames written")
	m.AcksDropped = counter("acks_dropped_total", "Acknowledgments dropped on closed sessions")
	m.QueueDepth = gauge("queue_depth", "Entries queued or in flight")
	m.ConnectedDevices = gauge("connected_devices", "Devices in a reachable state")

	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
