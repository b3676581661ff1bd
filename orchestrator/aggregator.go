package orchestrator

import (
	"context"

	"github.com/trysoma/soma-sub005/eventqueue"
	"github.com/trysoma/soma-sub005/infrastructure/errors"
	"github.com/trysoma/soma-sub005/infrastructure/logging"
	"github.com/trysoma/soma-sub005/protocol"
)

// ResultAggregator folds a run's event stream into the durable Task record
// and, for blocking callers, into a final Task-or-Message result.
type ResultAggregator struct {
	store TaskStore
}

// NewResultAggregator builds a ResultAggregator over store.
func NewResultAggregator(store TaskStore) *ResultAggregator {
	return &ResultAggregator{store: store}
}

// applyEvent mutates task in place to reflect event. Message events do not
// mutate the task; the caller handles them as a standalone result.
func (a *ResultAggregator) applyEvent(task *protocol.Task, event protocol.Event) {
	switch event.Kind {
	case protocol.EventKindTask:
		*task = *event.Task
	case protocol.EventKindTaskStatusUpdate:
		task.Status = event.StatusUpdate.Status
	case protocol.EventKindTaskArtifactUpdate:
		applyArtifactUpdate(task, event.ArtifactUpdate)
	}
}

func applyArtifactUpdate(task *protocol.Task, update *protocol.TaskArtifactUpdateEvent) {
	for i := range task.Artifacts {
		if task.Artifacts[i].ArtifactID == update.Artifact.ArtifactID {
			if update.Append {
				task.Artifacts[i].Parts = append(task.Artifacts[i].Parts, update.Artifact.Parts...)
			} else {
				task.Artifacts[i] = update.Artifact
			}
			return
		}
	}
	task.Artifacts = append(task.Artifacts, update.Artifact)
}

// isTerminalPersistenceError classifies a TaskStore.Save failure. A
// KindInternal ServiceError is the shape a transient infrastructure fault
// (a dropped connection, a store timeout) takes - those are worth retrying
// on the next event rather than killing the run. Anything else (or an
// error that isn't even a ServiceError) signals the store itself rejected
// the write and is treated as terminal.
func isTerminalPersistenceError(err error) bool {
	se := errors.GetServiceError(err)
	if se == nil {
		return true
	}
	return se.Kind != errors.KindInternal
}

// RunPersistence is the single authoritative consumer of a run's root
// queue: it applies every event to task and saves it, stopping once a
// Final() event is observed or the queue closes, then closes the queue so
// every tapped child unwinds too. It is meant to run in its own goroutine,
// one per task run.
func (a *ResultAggregator) RunPersistence(ctx context.Context, consumer *eventqueue.EventConsumer, queue *eventqueue.EventQueue, task *protocol.Task) {
	defer queue.Close()

	for item := range consumer.ConsumeAll(ctx) {
		if item.Err != nil {
			logging.ErrorDefault(logging.WithTaskID(ctx, task.ID), "task run ended with executor error", item.Err)
			return
		}
		if item.Event.Kind == protocol.EventKindMessage {
			return
		}
		a.applyEvent(task, item.Event)
		if err := a.store.Save(ctx, task); err != nil {
			if !isTerminalPersistenceError(err) {
				logging.ErrorDefault(logging.WithTaskID(ctx, task.ID), "transient task persistence failure, continuing", err)
				continue
			}
			logging.ErrorDefault(logging.WithTaskID(ctx, task.ID), "terminal task persistence failure, aborting run", err)
			return
		}
		if item.Event.Final() {
			return
		}
	}
}

// ConsumeAndAggregate drains a spectator tap until a Final() event,
// applying events to a local copy of task (for the caller's own view) and
// returning either the terminal Task or a standalone Message result. Used
// by the blocking on_message_send path; it does not persist — persistence
// is RunPersistence's job.
func (a *ResultAggregator) ConsumeAndAggregate(ctx context.Context, consumer *eventqueue.EventConsumer, task *protocol.Task) (*protocol.Task, *protocol.Message, error) {
	local := *task
	for item := range consumer.ConsumeAll(ctx) {
		if item.Err != nil {
			return nil, nil, errors.Wrap(errors.KindInternal, "executor failure", item.Err)
		}
		if item.Event.Kind == protocol.EventKindMessage {
			return nil, item.Event.Message, nil
		}
		a.applyEvent(&local, item.Event)
		if item.Event.Final() {
			return &local, nil, nil
		}
	}
	return &local, nil, nil
}

// StreamItem is one item yielded by ConsumeAndEmit.
type StreamItem struct {
	Event protocol.Event
	Err   error
}

// ConsumeAndEmit forwards every event from a spectator tap to the returned
// channel as-is, for streaming transports (message/stream, resubscribe).
// It does not persist.
func (a *ResultAggregator) ConsumeAndEmit(ctx context.Context, consumer *eventqueue.EventConsumer) <-chan StreamItem {
	out := make(chan StreamItem)
	go func() {
		defer close(out)
		for item := range consumer.ConsumeAll(ctx) {
			if item.Err != nil {
				out <- StreamItem{Err: errors.Wrap(errors.KindInternal, "executor failure", item.Err)}
				return
			}
			out <- StreamItem{Event: item.Event}
			if item.Event.Final() {
				return
			}
		}
	}()
	return out
}
