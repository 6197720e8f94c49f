// internal/queue/queue.go

// Package queue implements the bounded message queue between ingestion and
// processing: strict FIFO per device, no ordering across devices, reject on
// full rather than block.
//
// Internally each device owns a sub-queue; workers pull round-robin across
// non-empty sub-queues. A device has at most one entry in flight at a time,
// which is what makes the per-device FIFO guarantee hold end to end: a
// transient-failure requeue puts the entry back at the head of its own
// sub-queue while nothing newer from that device has been handed out.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rudrakshya/LIS/internal/protocol"
)

// Entry wraps a message with processing metadata.
type Entry struct {
	Msg         *protocol.Message
	SessionID   string // originating session, for acknowledgment routing
	EnqueuedAt  time.Time
	Attempts    int
	LastFailure string
}

// Queue is safe for concurrent use. Capacity counts queued plus in-flight
// entries, so a requeue can never overflow it.
type Queue struct {
	mu        sync.Mutex
	capacity  int
	size      int
	perDevice map[string][]*Entry
	inFlight  map[string]bool
	ring      []string // round-robin order of known device ids
	next      int
	closed    bool

	// Delayed requeues waiting on their timer. Tracked so Drain can claim
	// them: an entry in here is in no sub-queue and no worker holds it.
	pending map[*Entry]*time.Timer

	notify chan struct{} // closed and replaced on wake, so every waiter sees it
	done   chan struct{}
}

func New(capacity int) *Queue {
	return &Queue{
		capacity:  capacity,
		perDevice: make(map[string][]*Entry),
		inFlight:  make(map[string]bool),
		pending:   make(map[*Entry]*time.Timer),
		notify:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Enqueue accepts a message or rejects it immediately: ErrQueueFull is the
// backpressure signal the codec turns into a negative acknowledgment.
func (q *Queue) Enqueue(e *Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return protocol.ErrQueueClosed
	}
	if q.size >= q.capacity {
		return protocol.ErrQueueFull
	}

	id := e.Msg.DeviceID
	if _, known := q.perDevice[id]; !known {
		q.ring = append(q.ring, id)
	}
	e.EnqueuedAt = time.Now()
	q.perDevice[id] = append(q.perDevice[id], e)
	q.size++

	q.wake()
	return nil
}

// Dequeue blocks until an entry is available, the context ends, or the queue
// is closed and empty. The entry's device is held in flight until Done or
// Requeue, so no two workers ever process one device concurrently.
func (q *Queue) Dequeue(ctx context.Context) (*Entry, error) {
	for {
		q.mu.Lock()
		if e := q.pop(); e != nil {
			q.mu.Unlock()
			return e, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, protocol.ErrQueueClosed
		}
		ready := q.notify
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ready:
		case <-q.done:
		}
	}
}

// pop takes the head entry of the next non-empty, not-in-flight device,
// round-robin. Callers hold q.mu.
func (q *Queue) pop() *Entry {
	for i := 0; i < len(q.ring); i++ {
		id := q.ring[(q.next+i)%len(q.ring)]
		if q.inFlight[id] || len(q.perDevice[id]) == 0 {
			continue
		}
		sub := q.perDevice[id]
		e := sub[0]
		q.perDevice[id] = sub[1:]
		q.inFlight[id] = true
		q.next = (q.next + i + 1) % len(q.ring)
		return e
	}
	return nil
}

// Done releases a device after a terminal outcome and frees its capacity.
func (q *Queue) Done(deviceID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.inFlight[deviceID] {
		return
	}
	delete(q.inFlight, deviceID)
	q.size--
	q.wake()
}

// Requeue reinserts an in-flight entry at the head of its device's sub-queue
// after the delay, preserving the device's FIFO order. The device stays in
// flight for the duration of the delay; capacity was never released.
func (q *Queue) Requeue(e *Entry, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if delay <= 0 {
		q.reinsert(e)
		return
	}
	q.pending[e] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		// Drain may have claimed the entry between the timer firing and
		// this goroutine taking the lock.
		if _, ok := q.pending[e]; !ok {
			return
		}
		delete(q.pending, e)
		q.reinsert(e)
	})
}

// reinsert puts an entry back at the head of its device's sub-queue and
// releases the device. Callers hold q.mu.
func (q *Queue) reinsert(e *Entry) {
	id := e.Msg.DeviceID
	q.perDevice[id] = append([]*Entry{e}, q.perDevice[id]...)
	delete(q.inFlight, id)
	q.wake()
}

// Close disables enqueue and wakes blocked workers. Idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Drain removes and returns every queued entry, including entries parked in
// a delayed requeue. Called after workers have exited so the residue can be
// dead-lettered instead of silently dropped.
func (q *Queue) Drain() []*Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*Entry
	for id, sub := range q.perDevice {
		out = append(out, sub...)
		q.perDevice[id] = nil
	}
	for e, timer := range q.pending {
		timer.Stop()
		delete(q.pending, e)
		delete(q.inFlight, e.Msg.DeviceID)
		out = append(out, e)
	}
	q.size = len(q.inFlight)
	return out
}

// Depth reports queued plus in-flight entries.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// wake releases every worker blocked in Dequeue. Callers hold q.mu.
func (q *Queue) wake() {
	close(q.notify)
	q.notify = make(chan struct{})
}
