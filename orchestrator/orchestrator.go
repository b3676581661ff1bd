// Package orchestrator implements the TaskOrchestrator: the state machine
// that turns a "send message" or "resubscribe" request into a running
// task, fans its events out through an EventQueue, and aggregates a
// durable Task via the ResultAggregator.
package orchestrator

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/trysoma/soma-sub005/eventqueue"
	"github.com/trysoma/soma-sub005/infrastructure/errors"
	"github.com/trysoma/soma-sub005/infrastructure/metrics"
	"github.com/trysoma/soma-sub005/protocol"
)

const defaultQueueCapacity = 64

// run tracks the live state of one in-flight task.
type run struct {
	queue   *eventqueue.EventQueue
	mailbox *eventqueue.ExceptionMailbox
	cancel  context.CancelFunc
}

// TaskOrchestrator implements on_message_send / on_message_send_stream /
// on_resubscribe / on_get_task / on_cancel_task.
type TaskOrchestrator struct {
	store      TaskStore
	executor   Executor
	aggregator *ResultAggregator
	metrics    *metrics.Metrics
	service    string

	mu   sync.Mutex
	runs map[string]*run
}

// New builds a TaskOrchestrator over store and executor.
func New(store TaskStore, executor Executor, m *metrics.Metrics, serviceName string) *TaskOrchestrator {
	return &TaskOrchestrator{
		store:      store,
		executor:   executor,
		aggregator: NewResultAggregator(store),
		metrics:    m,
		service:    serviceName,
		runs:       make(map[string]*run),
	}
}

// startRun takes the Task that resolveTask created or reused, spawns the
// executor and the authoritative persistence consumer, and registers the
// run so cancel/resubscribe can find it.
func (o *TaskOrchestrator) startRun(ctx context.Context, task *protocol.Task) *run {
	queue := eventqueue.New(defaultQueueCapacity)
	mailbox := &eventqueue.ExceptionMailbox{}
	runCtx, cancel := context.WithCancel(context.Background())

	r := &run{queue: queue, mailbox: mailbox, cancel: cancel}
	o.mu.Lock()
	o.runs[task.ID] = r
	inFlight := len(o.runs)
	o.mu.Unlock()

	if o.metrics != nil {
		o.metrics.SetTasksInFlight(inFlight)
	}

	persistenceTap := queue.Tap(defaultQueueCapacity)
	persistenceConsumer := eventqueue.NewConsumer(persistenceTap, mailbox)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				mailbox.Set(errors.Internal("executor panic", nil).WithDetail("recovered", rec))
			}
		}()
		if err := o.executor.Execute(runCtx, task, queue); err != nil {
			mailbox.Set(err)
		}
	}()

	go o.aggregator.RunPersistence(runCtx, persistenceConsumer, persistenceTap, task)

	go func() {
		<-queue.Done()
		o.mu.Lock()
		delete(o.runs, task.ID)
		remaining := len(o.runs)
		o.mu.Unlock()
		if o.metrics != nil {
			o.metrics.SetTasksInFlight(remaining)
		}
		cancel()
	}()

	return r
}

func newTask(taskID *string, contextID *string) *protocol.Task {
	id := uuid.NewString()
	if taskID != nil && *taskID != "" {
		id = *taskID
	}
	ctxID := uuid.NewString()
	if contextID != nil && *contextID != "" {
		ctxID = *contextID
	}
	return &protocol.Task{
		ID:        id,
		ContextID: ctxID,
		Status:    protocol.TaskStatus{State: protocol.TaskStateSubmitted},
	}
}

// resolveTask finds or creates the task named by params.Message, enforcing
// that sends to an already-terminal task are rejected.
func (o *TaskOrchestrator) resolveTask(ctx context.Context, params protocol.MessageSendParams) (*protocol.Task, error) {
	if params.Message.TaskID != nil && *params.Message.TaskID != "" {
		existing, err := o.store.Get(ctx, *params.Message.TaskID)
		if err != nil {
			return nil, err
		}
		if existing.Status.State.Terminal() {
			return nil, errors.InvalidRequest("cannot send a message to a task in a terminal state")
		}
		existing.History = append(existing.History, params.Message)
		return existing, nil
	}

	task := newTask(nil, params.Message.ContextID)
	task.History = append(task.History, params.Message)
	return task, nil
}

// OnMessageSend blocks until the run reaches a terminal or interrupt state,
// or the executor yields a standalone Message result.
func (o *TaskOrchestrator) OnMessageSend(ctx context.Context, params protocol.MessageSendParams) (protocol.SendResult, error) {
	task, err := o.resolveTask(ctx, params)
	if err != nil {
		return protocol.SendResult{}, err
	}
	if err := o.store.Save(ctx, task); err != nil {
		return protocol.SendResult{}, errors.Wrap(errors.KindInternal, "save new task", err)
	}

	r := o.startRun(ctx, task)
	callerTap := r.queue.Tap(defaultQueueCapacity)
	consumer := eventqueue.NewObserver(callerTap, r.mailbox)

	finalTask, message, err := o.aggregator.ConsumeAndAggregate(ctx, consumer, task)
	if err != nil {
		return protocol.SendResult{}, err
	}
	if message != nil {
		return protocol.SendResult{Message: message}, nil
	}
	return protocol.SendResult{Task: finalTask}, nil
}

// OnMessageSendStream produces events until terminal/interrupt; it is
// finite and restartable only via OnResubscribe.
func (o *TaskOrchestrator) OnMessageSendStream(ctx context.Context, params protocol.MessageSendParams) (<-chan StreamItem, error) {
	task, err := o.resolveTask(ctx, params)
	if err != nil {
		return nil, err
	}
	if err := o.store.Save(ctx, task); err != nil {
		return nil, errors.Wrap(errors.KindInternal, "save new task", err)
	}

	r := o.startRun(ctx, task)
	callerTap := r.queue.Tap(defaultQueueCapacity)
	consumer := eventqueue.NewObserver(callerTap, r.mailbox)

	return o.aggregator.ConsumeAndEmit(ctx, consumer), nil
}

// OnResubscribe attaches a new child queue to a running task, or, if the
// task is already terminal, yields the stored Task once and ends.
func (o *TaskOrchestrator) OnResubscribe(ctx context.Context, taskID string) (<-chan StreamItem, error) {
	task, err := o.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	r, running := o.runs[taskID]
	o.mu.Unlock()

	if !running {
		out := make(chan StreamItem, 1)
		out <- StreamItem{Event: protocol.NewTaskEvent(*task)}
		close(out)
		return out, nil
	}

	callerTap := r.queue.Tap(defaultQueueCapacity)
	consumer := eventqueue.NewObserver(callerTap, r.mailbox)
	return o.aggregator.ConsumeAndEmit(ctx, consumer), nil
}

// OnGetTask returns the stored snapshot for taskID.
func (o *TaskOrchestrator) OnGetTask(ctx context.Context, taskID string) (*protocol.Task, error) {
	return o.store.Get(ctx, taskID)
}

// OnCancelTask cancels a running task, or fails with TaskNotCancelable if
// it is already terminal.
func (o *TaskOrchestrator) OnCancelTask(ctx context.Context, taskID string) (*protocol.Task, error) {
	task, err := o.store.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status.State.Terminal() {
		return nil, errors.TaskNotCancelable(taskID)
	}

	o.mu.Lock()
	r, running := o.runs[taskID]
	o.mu.Unlock()

	if running {
		o.executor.Cancel(ctx, task, r.queue)
	} else {
		task.Status = protocol.TaskStatus{State: protocol.TaskStateCanceled}
		if err := o.store.Save(ctx, task); err != nil {
			return nil, errors.Wrap(errors.KindInternal, "save canceled task", err)
		}
	}

	return o.store.Get(ctx, taskID)
}
