// internal/pipeline/pipeline.go

// Package pipeline consumes the message queue with a fixed worker pool,
// extracts structured clinical data, drives the idempotent storage
// interface, and turns each outcome into exactly one acknowledgment. All
// retry/dead-letter decisions are table-driven from error classification;
// nothing in here ever waits on a human.
package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/rudrakshya/LIS/internal/observability"
	"github.com/rudrakshya/LIS/internal/protocol"
	"github.com/rudrakshya/LIS/internal/queue"
	"github.com/rudrakshya/LIS/internal/storage"
	"github.com/rudrakshya/LIS/internal/transport"
)

// Notifier receives successfully stored result sets. Calls are fire and
// forget, off the acknowledgment path; a duplicate store never re-notifies.
type Notifier interface {
	ResultStored(rs *protocol.ResultSet)
}

// Config bounds the worker pool and the retry policy.
type Config struct {
	Workers    int
	RetryMax   int
	RetryDelay time.Duration
}

// Pipeline is the worker pool between the queue and storage.
type Pipeline struct {
	cfg        Config
	queue      *queue.Queue
	store      storage.Store
	dispatcher *transport.Dispatcher
	notifiers  []Notifier
	logger     *logrus.Entry
	metrics    *observability.Metrics
}

func New(cfg Config, q *queue.Queue, store storage.Store, dispatcher *transport.Dispatcher,
	logger *logrus.Logger, metrics *observability.Metrics, notifiers ...Notifier) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = 3
	}
	return &Pipeline{
		cfg:        cfg,
		queue:      q,
		store:      store,
		dispatcher: dispatcher,
		notifiers:  notifiers,
		logger:     logger.WithField("component", "pipeline"),
		metrics:    metrics,
	}
}

// Run starts the worker pool and blocks until every worker has exited.
// Workers exit when ctx ends or the queue closes; a worker always finishes
// the entry it holds first.
func (p *Pipeline) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(ctx, id)
		}(i)
	}
	wg.Wait()
}

func (p *Pipeline) worker(ctx context.Context, id int) {
	log := p.logger.WithField("worker", id)
	log.Debug("worker started")
	for {
		entry, err := p.queue.Dequeue(ctx)
		if err != nil {
			log.WithError(err).Debug("worker stopping")
			return
		}
		p.process(entry)
	}
}

// process runs one attempt for one entry and settles it: success, retry, or
// dead-letter. The storage call uses a background context so an in-flight
// entry is finished, never abandoned half-stored, during shutdown.
func (p *Pipeline) process(entry *queue.Entry) {
	msg := entry.Msg
	log := p.logger.WithFields(logrus.Fields{
		"device":     msg.DeviceID,
		"control_id": msg.ControlID,
		"type":       string(msg.Type),
		"attempt":    entry.Attempts + 1,
	})

	rs, err := Extract(msg)
	if err != nil {
		log.WithError(err).Error("extraction failed")
		p.deadLetter(entry, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	verdict, err := p.store.StoreResult(ctx, rs)
	cancel()

	switch {
	case err == nil:
		p.metrics.Processed.Inc()
		p.settle(entry, protocol.AckAccept)
		if verdict == storage.Duplicate {
			// Redelivered after a crash: already stored, already notified.
			log.Info("duplicate delivery ignored")
			return
		}
		log.Info("message stored")
		p.notify(rs)

	case protocol.IsPermanent(err):
		log.WithError(err).Error("permanent storage failure")
		p.deadLetter(entry, err)

	default: // transient
		entry.Attempts++
		entry.LastFailure = err.Error()
		if entry.Attempts >= p.cfg.RetryMax {
			log.WithError(err).Error("retries exhausted")
			p.deadLetter(entry, err)
			return
		}
		p.metrics.Retried.Inc()
		log.WithError(err).Warn("transient storage failure, will retry")
		p.queue.Requeue(entry, p.cfg.RetryDelay)
	}
}

// settle releases the entry's device slot and sends the final acknowledgment.
func (p *Pipeline) settle(entry *queue.Entry, kind protocol.AckKind) {
	p.queue.Done(entry.Msg.DeviceID)
	p.metrics.QueueDepth.Dec()
	p.dispatcher.Dispatch(transport.Ack{
		SessionID: entry.SessionID,
		Kind:      kind,
		ControlID: entry.Msg.ControlID,
	})
}

// deadLetter records a terminally failed entry for audit and answers with a
// permanent-failure acknowledgment.
func (p *Pipeline) deadLetter(entry *queue.Entry, cause error) {
	p.metrics.DeadLettered.Inc()
	rec := storage.DeadLetterRecord{
		ID:        xid.New().String(),
		DeviceID:  entry.Msg.DeviceID,
		ControlID: entry.Msg.ControlID,
		Reason:    cause.Error(),
		Attempts:  entry.Attempts,
		Payload:   rawPayload(entry.Msg),
		At:        time.Now().UTC(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.store.DeadLetter(ctx, rec); err != nil {
		p.logger.WithError(err).WithField("control_id", rec.ControlID).
			Error("dead-letter write failed")
	}
	p.settle(entry, protocol.AckError)
}

// DeadLetterDrained audits entries still queued when the shutdown grace
// period ran out. No acknowledgment: their sessions are already gone.
func (p *Pipeline) DeadLetterDrained(entries []*queue.Entry) {
	for _, entry := range entries {
		p.metrics.DeadLettered.Inc()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := p.store.DeadLetter(ctx, storage.DeadLetterRecord{
			ID:        xid.New().String(),
			DeviceID:  entry.Msg.DeviceID,
			ControlID: entry.Msg.ControlID,
			Reason:    "engine shutdown before processing",
			Attempts:  entry.Attempts,
			Payload:   rawPayload(entry.Msg),
			At:        time.Now().UTC(),
		})
		cancel()
		if err != nil {
			p.logger.WithError(err).WithField("control_id", entry.Msg.ControlID).
				Error("shutdown dead-letter write failed")
		}
	}
}

func (p *Pipeline) notify(rs *protocol.ResultSet) {
	for _, n := range p.notifiers {
		go n.ResultStored(rs)
	}
}

// rawPayload rebuilds a readable segment dump for the audit record.
func rawPayload(msg *protocol.Message) string {
	out := ""
	for _, s := range msg.Segments {
		if out != "" {
			out += "\n"
		}
		out += s.Type
		for _, f := range s.Fields {
			out += "|" + f
		}
	}
	return out
}
