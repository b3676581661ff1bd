package orchestrator

import (
	"context"

	"github.com/trysoma/soma-sub005/eventqueue"
	"github.com/trysoma/soma-sub005/protocol"
)

// Executor drives one task run: it enqueues Task/TaskStatusUpdate/
// TaskArtifactUpdate/Message events onto queue until the run reaches a
// final state, then returns. A returned error is delivered out-of-band
// through a side-channel mailbox by the orchestrator, never via the queue
// itself.
type Executor interface {
	// Execute runs task to completion (or until ctx is canceled), emitting
	// events on queue. It does not close queue; the orchestrator does.
	Execute(ctx context.Context, task *protocol.Task, queue *eventqueue.EventQueue) error

	// Cancel is invoked when a caller cancels a running task. Implementations
	// SHOULD emit a canceled Task event on queue before returning.
	Cancel(ctx context.Context, task *protocol.Task, queue *eventqueue.EventQueue)
}
