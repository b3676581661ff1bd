package eventqueue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/trysoma/soma-sub005/infrastructure/config"
	"github.com/trysoma/soma-sub005/protocol"
)

// ExceptionMailbox is a single-slot side channel an executor uses to report
// a failure out-of-band from the event stream itself, so data and control
// planes never conflate on the queue.
type ExceptionMailbox struct {
	mu  sync.Mutex
	err error
}

// Set stores err, overwriting any previously unread value.
func (m *ExceptionMailbox) Set(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Take returns and clears the stored error, or nil if none is pending.
func (m *ExceptionMailbox) Take() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	err := m.err
	m.err = nil
	return err
}

// Peek returns the stored error without clearing it, so multiple spectator
// consumers of the same run can each observe it independently. Whichever
// consumer owns the mailbox is expected to Take() it exactly once.
func (m *ExceptionMailbox) Peek() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// ConsumedEvent is one item yielded by ConsumeAll: either an Event or a
// terminal error (executor exception or queue/context failure).
type ConsumedEvent struct {
	Event protocol.Event
	Err   error
}

// EventConsumer drives the bounded-wait dequeue loop over a single
// EventQueue, checking the executor exception mailbox between polls.
type EventConsumer struct {
	queue        *EventQueue
	mailbox      *ExceptionMailbox
	pollInterval time.Duration
	owner        bool
}

// NewConsumer builds an owning EventConsumer over queue: it clears the
// mailbox when it observes an error, so only one such consumer per run
// should be built this way (the orchestrator's persistence loop). mailbox
// may be nil if the caller has no side-channel exception source.
func NewConsumer(queue *EventQueue, mailbox *ExceptionMailbox) *EventConsumer {
	if mailbox == nil {
		mailbox = &ExceptionMailbox{}
	}
	return &EventConsumer{
		queue:        queue,
		mailbox:      mailbox,
		pollInterval: config.GetDefaultTimeouts().ConsumerPoll,
		owner:        true,
	}
}

// NewObserver builds a spectator EventConsumer: it only peeks the mailbox,
// never clearing it, so multiple taps off the same run can each observe an
// executor exception independently of the owning consumer.
func NewObserver(queue *EventQueue, mailbox *ExceptionMailbox) *EventConsumer {
	if mailbox == nil {
		mailbox = &ExceptionMailbox{}
	}
	return &EventConsumer{
		queue:        queue,
		mailbox:      mailbox,
		pollInterval: config.GetDefaultTimeouts().ConsumerPoll,
		owner:        false,
	}
}

func (c *EventConsumer) takeMailbox() error {
	if c.owner {
		return c.mailbox.Take()
	}
	return c.mailbox.Peek()
}

// ConsumeOne performs a single dequeue, checking the mailbox first and
// applying the one-retry lag policy.
func (c *EventConsumer) ConsumeOne(ctx context.Context, noWait bool) (protocol.Event, error) {
	if err := c.takeMailbox(); err != nil {
		return protocol.Event{}, err
	}

	event, err := c.queue.Dequeue(ctx, noWait)
	var lagged *LaggedError
	if errors.As(err, &lagged) {
		event, err = c.queue.Dequeue(ctx, noWait)
	}
	return event, err
}

// ConsumeAll returns a channel that yields events until a final event (per
// protocol.Event.Final), an executor exception, or queue closure. The
// channel is always closed by the producing goroutine when it is done.
func (c *EventConsumer) ConsumeAll(ctx context.Context) <-chan ConsumedEvent {
	out := make(chan ConsumedEvent)

	go func() {
		defer close(out)

		for {
			if err := c.takeMailbox(); err != nil {
				out <- ConsumedEvent{Err: err}
				return
			}

			pollCtx, cancel := context.WithTimeout(ctx, c.pollInterval)
			event, err := c.queue.Dequeue(pollCtx, false)
			cancel()

			if err != nil {
				switch {
				case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
					// bounded-wait timeout: loop to recheck the mailbox.
					continue
				case ctx.Err() != nil:
					out <- ConsumedEvent{Err: ctx.Err()}
					return
				case errors.Is(err, ErrQueueClosed):
					return
				default:
					var lagged *LaggedError
					if errors.As(err, &lagged) {
						retryCtx, retryCancel := context.WithTimeout(ctx, c.pollInterval)
						event, err = c.queue.Dequeue(retryCtx, false)
						retryCancel()
						if err != nil {
							continue
						}
					} else {
						continue
					}
				}
			}

			out <- ConsumedEvent{Event: event}
			if event.Final() {
				return
			}
		}
	}()

	return out
}
