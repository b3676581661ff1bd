package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/trysoma/soma-sub005/eventqueue"
	"github.com/trysoma/soma-sub005/infrastructure/errors"
	"github.com/trysoma/soma-sub005/protocol"
)

// scriptedExecutor emits a fixed sequence of events then returns.
type scriptedExecutor struct {
	events          []protocol.Event
	delay           time.Duration
	cancelFn        func(task *protocol.Task, queue *eventqueue.EventQueue)
	blockCancel     chan struct{}
	stampTaskEvents bool
}

func (e *scriptedExecutor) Execute(ctx context.Context, task *protocol.Task, queue *eventqueue.EventQueue) error {
	for _, ev := range e.events {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		if e.blockCancel != nil {
			select {
			case <-e.blockCancel:
				return nil
			case <-time.After(e.delay):
			}
		}
		if e.stampTaskEvents && ev.Kind == protocol.EventKindTask {
			stamped := *ev.Task
			stamped.ID = task.ID
			stamped.ContextID = task.ContextID
			ev = protocol.NewTaskEvent(stamped)
		}
		queue.Enqueue(ev)
	}
	return nil
}

func (e *scriptedExecutor) Cancel(ctx context.Context, task *protocol.Task, queue *eventqueue.EventQueue) {
	if e.blockCancel != nil {
		close(e.blockCancel)
	}
	if e.cancelFn != nil {
		e.cancelFn(task, queue)
		return
	}
	queue.Enqueue(protocol.NewTaskEvent(protocol.Task{
		ID:     task.ID,
		Status: protocol.TaskStatus{State: protocol.TaskStateCanceled},
	}))
}

func textMessage(taskID *string) protocol.Message {
	return protocol.Message{
		MessageID: "m1",
		Role:      protocol.RoleUser,
		Parts:     []protocol.Part{protocol.NewTextPart("hi")},
		TaskID:    taskID,
	}
}

func TestOnMessageSendHappyPath(t *testing.T) {
	// working -> artifact -> completed(final=true). Task events are full
	// snapshots, so a real executor always carries id/context_id forward;
	// the scripted one below stamps them in Execute once task.ID is known.
	name := "r.txt"
	store := NewMemoryTaskStore()
	exec := &scriptedExecutor{
		events: []protocol.Event{
			protocol.NewTaskEvent(protocol.Task{Status: protocol.TaskStatus{State: protocol.TaskStateWorking}}),
			protocol.NewArtifactUpdateEvent(protocol.TaskArtifactUpdateEvent{
				Artifact:  protocol.Artifact{ArtifactID: "a1", Name: &name, Parts: []protocol.Part{protocol.NewTextPart("ok")}},
				LastChunk: true,
			}),
			protocol.NewStatusUpdateEvent(protocol.TaskStatusUpdateEvent{Status: protocol.TaskStatus{State: protocol.TaskStateCompleted}, Final: true}),
		},
		stampTaskEvents: true,
	}
	o := New(store, exec, nil, "test")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	result, err := o.OnMessageSend(ctx, protocol.MessageSendParams{Message: textMessage(nil)})
	if err != nil {
		t.Fatalf("OnMessageSend() error = %v", err)
	}
	if result.Task == nil {
		t.Fatal("expected a Task result")
	}
	if result.Task.Status.State != protocol.TaskStateCompleted {
		t.Errorf("final state = %s, want completed", result.Task.Status.State)
	}

	time.Sleep(100 * time.Millisecond) // let the persistence goroutine catch up
	stored, err := store.Get(ctx, result.Task.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.Status.State != protocol.TaskStateCompleted {
		t.Errorf("stored state = %s, want completed", stored.Status.State)
	}
	if len(stored.Artifacts) != 1 {
		t.Errorf("expected 1 artifact, got %d", len(stored.Artifacts))
	}
}

func TestOnMessageSendToTerminalTaskFails(t *testing.T) {
	store := NewMemoryTaskStore()
	task := &protocol.Task{ID: "t1", ContextID: "c1", Status: protocol.TaskStatus{State: protocol.TaskStateCompleted}}
	if err := store.Save(context.Background(), task); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	o := New(store, &scriptedExecutor{}, nil, "test")
	taskID := "t1"
	_, err := o.OnMessageSend(context.Background(), protocol.MessageSendParams{Message: textMessage(&taskID)})
	if err == nil {
		t.Fatal("expected error sending to terminal task")
	}
	svcErr, ok := err.(*errors.ServiceError)
	if !ok || svcErr.Kind != errors.KindInvalidRequest {
		t.Errorf("expected InvalidRequest, got %v", err)
	}

	stored, getErr := store.Get(context.Background(), "t1")
	if getErr != nil {
		t.Fatalf("Get() error = %v", getErr)
	}
	if stored.Status.State != protocol.TaskStateCompleted {
		t.Error("terminal task state must be unchanged after rejected send")
	}
}

func TestResubscribeToTerminalTaskYieldsOneEvent(t *testing.T) {
	// S2
	store := NewMemoryTaskStore()
	task := &protocol.Task{ID: "t2", ContextID: "c2", Status: protocol.TaskStatus{State: protocol.TaskStateCompleted}}
	if err := store.Save(context.Background(), task); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	o := New(store, &scriptedExecutor{}, nil, "test")
	ch, err := o.OnResubscribe(context.Background(), "t2")
	if err != nil {
		t.Fatalf("OnResubscribe() error = %v", err)
	}

	var items []StreamItem
	for item := range ch {
		items = append(items, item)
	}
	if len(items) != 1 {
		t.Fatalf("expected exactly 1 event, got %d", len(items))
	}
	if items[0].Event.Kind != protocol.EventKindTask {
		t.Errorf("expected a Task event, got %v", items[0].Event.Kind)
	}
}

func TestCancelDuringWorking(t *testing.T) {
	// S3
	store := NewMemoryTaskStore()
	exec := &scriptedExecutor{
		events:      []protocol.Event{protocol.NewStatusUpdateEvent(protocol.TaskStatusUpdateEvent{Status: protocol.TaskStatus{State: protocol.TaskStateWorking}})},
		delay:       5 * time.Second,
		blockCancel: make(chan struct{}),
	}
	o := New(store, exec, nil, "test")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan protocol.SendResult, 1)
	go func() {
		result, err := o.OnMessageSend(ctx, protocol.MessageSendParams{Message: textMessage(nil)})
		if err == nil {
			done <- result
		}
	}()

	// Give the run a moment to register before canceling.
	var taskID string
	for i := 0; i < 50; i++ {
		time.Sleep(20 * time.Millisecond)
		o.mu.Lock()
		for id := range o.runs {
			taskID = id
		}
		o.mu.Unlock()
		if taskID != "" {
			break
		}
	}
	if taskID == "" {
		t.Fatal("run never registered")
	}

	canceled, err := o.OnCancelTask(ctx, taskID)
	if err != nil {
		t.Fatalf("OnCancelTask() error = %v", err)
	}
	if canceled.Status.State != protocol.TaskStateCanceled {
		t.Errorf("state after cancel = %s, want canceled", canceled.Status.State)
	}

	select {
	case result := <-done:
		if result.Task.Status.State != protocol.TaskStateCanceled {
			t.Errorf("OnMessageSend result state = %s, want canceled", result.Task.Status.State)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("OnMessageSend never observed the cancellation")
	}

	if _, err := o.OnCancelTask(ctx, taskID); err == nil {
		t.Fatal("expected second cancel to fail with TaskNotCancelable")
	}
}
