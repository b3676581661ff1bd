// Package eventqueue implements the bounded multi-producer/multi-consumer
// fan-out primitive that carries protocol.Event values from a task's
// executor to one or more streaming subscribers.
package eventqueue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/trysoma/soma-sub005/protocol"
)

var (
	// ErrQueueEmpty is returned by a non-blocking Dequeue when no event is
	// currently available.
	ErrQueueEmpty = errors.New("eventqueue: empty")
	// ErrQueueClosed is returned once a queue is closed and fully drained.
	ErrQueueClosed = errors.New("eventqueue: closed")
)

// LaggedError reports that N events were dropped before the reader could
// keep up. Receivers are expected to attempt exactly one re-receive before
// treating this as a hard failure.
type LaggedError struct {
	N int
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("eventqueue: lagged by %d events", e.N)
}

// EventQueue is a bounded fan-out broadcast queue. Each queue owns a single
// receiver cursor (its internal channel); Tap creates a child queue that
// receives only events enqueued after the tap.
type EventQueue struct {
	mu       sync.Mutex
	ch       chan protocol.Event
	closeCh  chan struct{}
	closed   bool
	children []*EventQueue
	lagged   int32
	capacity int
}

// New creates an EventQueue with the given bounded capacity (minimum 1).
func New(capacity int) *EventQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &EventQueue{
		ch:       make(chan protocol.Event, capacity),
		closeCh:  make(chan struct{}),
		capacity: capacity,
	}
}

// Enqueue delivers event to this queue and, in order, to every live child.
// It fails silently if the queue is closed; callers that care should log.
func (q *EventQueue) Enqueue(event protocol.Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	select {
	case q.ch <- event:
	default:
		atomic.AddInt32(&q.lagged, 1)
	}
	children := make([]*EventQueue, len(q.children))
	copy(children, q.children)
	q.mu.Unlock()

	for _, c := range children {
		c.Enqueue(event)
	}
}

// Tap creates a child queue that observes exactly those events enqueued to
// this queue strictly after the call to Tap. Tapping a closed queue returns
// a pre-closed child.
func (q *EventQueue) Tap(capacity int) *EventQueue {
	q.mu.Lock()
	defer q.mu.Unlock()

	child := New(capacity)
	if q.closed {
		child.Close()
		return child
	}
	q.children = append(q.children, child)
	return child
}

// Close is idempotent and closes all children transitively. After Close,
// draining the remaining buffer is still permitted; once empty, Dequeue
// returns ErrQueueClosed.
func (q *EventQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.closeCh)
	children := make([]*EventQueue, len(q.children))
	copy(children, q.children)
	q.mu.Unlock()

	for _, c := range children {
		c.Close()
	}
}

// Closed reports whether Close has been called on this queue.
func (q *EventQueue) Closed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Done returns a channel that is closed when Close is called on this queue,
// letting callers observe run termination without polling Closed().
func (q *EventQueue) Done() <-chan struct{} {
	return q.closeCh
}

// Dequeue retrieves the next event. If noWait is true it returns
// immediately with ErrQueueEmpty or ErrQueueClosed when nothing is
// available. Otherwise it suspends until an event arrives, the queue
// closes, or ctx is done.
//
// A pending lag signal (dropped events because a receiver fell behind) is
// surfaced first as a *LaggedError; per contract the caller should attempt
// exactly one more Dequeue before treating this as a failure.
func (q *EventQueue) Dequeue(ctx context.Context, noWait bool) (protocol.Event, error) {
	if n := atomic.SwapInt32(&q.lagged, 0); n > 0 {
		return protocol.Event{}, &LaggedError{N: int(n)}
	}

	if noWait {
		select {
		case e := <-q.ch:
			return e, nil
		default:
		}
		if q.Closed() {
			return protocol.Event{}, ErrQueueClosed
		}
		return protocol.Event{}, ErrQueueEmpty
	}

	select {
	case e := <-q.ch:
		return e, nil
	case <-ctx.Done():
		return protocol.Event{}, ctx.Err()
	case <-q.closeCh:
		select {
		case e := <-q.ch:
			return e, nil
		default:
			return protocol.Event{}, ErrQueueClosed
		}
	}
}
