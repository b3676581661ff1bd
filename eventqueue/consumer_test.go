package eventqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/trysoma/soma-sub005/protocol"
)

func statusEvent(final bool) protocol.Event {
	return protocol.NewStatusUpdateEvent(protocol.TaskStatusUpdateEvent{
		TaskID: "t1",
		Status: protocol.TaskStatus{State: protocol.TaskStateWorking},
		Final:  final,
	})
}

func TestConsumeAllEndsOnFinalEvent(t *testing.T) {
	q := New(8)
	consumer := NewConsumer(q, nil)

	q.Enqueue(statusEvent(false))
	q.Enqueue(statusEvent(true))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var received []ConsumedEvent
	for item := range consumer.ConsumeAll(ctx) {
		received = append(received, item)
	}

	if len(received) != 2 {
		t.Fatalf("expected 2 events, got %d", len(received))
	}
	if received[0].Err != nil || received[1].Err != nil {
		t.Fatalf("unexpected errors: %+v", received)
	}
	if !received[1].Event.Final() {
		t.Error("last event should be final")
	}
}

func TestConsumeAllSurfacesExecutorException(t *testing.T) {
	q := New(8)
	mailbox := &ExceptionMailbox{}
	consumer := NewConsumer(q, mailbox)

	boom := errors.New("executor boom")
	mailbox.Set(boom)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var received []ConsumedEvent
	for item := range consumer.ConsumeAll(ctx) {
		received = append(received, item)
	}

	if len(received) != 1 || received[0].Err != boom {
		t.Fatalf("expected single mailbox error, got %+v", received)
	}
}

func TestConsumeAllEndsOnQueueClosed(t *testing.T) {
	q := New(8)
	consumer := NewConsumer(q, nil)
	q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var received []ConsumedEvent
	for item := range consumer.ConsumeAll(ctx) {
		received = append(received, item)
	}
	if len(received) != 0 {
		t.Fatalf("expected no events from a closed empty queue, got %+v", received)
	}
}

func TestConsumeOneChecksMailboxFirst(t *testing.T) {
	q := New(8)
	mailbox := &ExceptionMailbox{}
	consumer := NewConsumer(q, mailbox)

	boom := errors.New("side channel error")
	mailbox.Set(boom)
	q.Enqueue(statusEvent(false))

	_, err := consumer.ConsumeOne(context.Background(), true)
	if err != boom {
		t.Fatalf("expected mailbox error to take priority, got %v", err)
	}
}
