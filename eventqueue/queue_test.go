package eventqueue

import (
	"context"
	"testing"
	"time"

	"github.com/trysoma/soma-sub005/protocol"
)

func textEvent(text string) protocol.Event {
	return protocol.NewStatusUpdateEvent(protocol.TaskStatusUpdateEvent{
		TaskID:   "t1",
		Status:   protocol.TaskStatus{State: protocol.TaskStateWorking},
		Metadata: map[string]interface{}{"text": text},
	})
}

func TestEventOrderPreserved(t *testing.T) {
	q := New(8)
	events := []protocol.Event{textEvent("a"), textEvent("b"), textEvent("c")}
	for _, e := range events {
		q.Enqueue(e)
	}

	ctx := context.Background()
	for i := range events {
		got, err := q.Dequeue(ctx, true)
		if err != nil {
			t.Fatalf("Dequeue() error at index %d: %v", i, err)
		}
		want := events[i].StatusUpdate.Metadata["text"]
		if got.StatusUpdate == nil || got.StatusUpdate.Metadata["text"] != want {
			t.Errorf("Dequeue() at index %d = %+v, want event with text %v", i, got, want)
		}
	}

	if _, err := q.Dequeue(ctx, true); err != ErrQueueEmpty {
		t.Errorf("expected ErrQueueEmpty, got %v", err)
	}
}

func TestTapVisibilityOnlyFutureEvents(t *testing.T) {
	q := New(8)
	q.Enqueue(textEvent("before-tap"))

	child := q.Tap(8)
	q.Enqueue(textEvent("after-tap"))

	ctx := context.Background()
	_, err := child.Dequeue(ctx, true)
	if err != nil {
		t.Fatalf("expected the post-tap event, got error: %v", err)
	}
	if _, err := child.Dequeue(ctx, true); err != ErrQueueEmpty {
		t.Errorf("child should not observe events enqueued before the tap; err=%v", err)
	}
}

func TestCloseIsIdempotentAndPropagatesToChildren(t *testing.T) {
	q := New(4)
	child := q.Tap(4)

	q.Close()
	q.Close() // must not panic

	if !q.Closed() {
		t.Error("expected queue to be closed")
	}
	if !child.Closed() {
		t.Error("expected child to be transitively closed")
	}

	ctx := context.Background()
	if _, err := child.Dequeue(ctx, true); err != ErrQueueClosed {
		t.Errorf("expected ErrQueueClosed on drained closed child, got %v", err)
	}
}

func TestTapOnClosedQueueReturnsPreClosedChild(t *testing.T) {
	q := New(4)
	q.Close()

	child := q.Tap(4)
	if !child.Closed() {
		t.Error("tapping a closed queue should return a pre-closed child")
	}
}

func TestDrainAfterCloseStillPermitted(t *testing.T) {
	q := New(4)
	q.Enqueue(textEvent("a"))
	q.Close()

	ctx := context.Background()
	if _, err := q.Dequeue(ctx, true); err != nil {
		t.Fatalf("expected to drain buffered event after close, got %v", err)
	}
	if _, err := q.Dequeue(ctx, true); err != ErrQueueClosed {
		t.Errorf("expected ErrQueueClosed once drained, got %v", err)
	}
}

func TestBlockingDequeueUnblocksOnEnqueue(t *testing.T) {
	q := New(1)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := q.Dequeue(ctx, false); err != nil {
			t.Errorf("Dequeue() error = %v", err)
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Enqueue(textEvent("a"))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocking Dequeue did not unblock on Enqueue")
	}
}

func TestLaggedConsumerGetsOneRetry(t *testing.T) {
	q := New(1)
	q.Enqueue(textEvent("a")) // fills the buffer
	q.Enqueue(textEvent("b")) // dropped, increments lagged

	ctx := context.Background()
	_, err := q.Dequeue(ctx, true)
	lagged, ok := err.(*LaggedError)
	if !ok {
		t.Fatalf("expected *LaggedError, got %v", err)
	}
	if lagged.N != 1 {
		t.Errorf("lagged.N = %d, want 1", lagged.N)
	}

	// one retry should surface the buffered event, not another lag signal.
	if _, err := q.Dequeue(ctx, true); err != nil {
		t.Errorf("retry after lag should succeed, got %v", err)
	}
}
