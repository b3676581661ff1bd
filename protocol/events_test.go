package protocol

import "testing"

func TestEventFinal(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  bool
	}{
		{
			name:  "message is always final",
			event: NewMessageEvent(Message{MessageID: "m1", Role: RoleAgent, Parts: []Part{NewTextPart("hi")}}),
			want:  true,
		},
		{
			name:  "status update final flag true",
			event: NewStatusUpdateEvent(TaskStatusUpdateEvent{TaskID: "t1", Final: true}),
			want:  true,
		},
		{
			name:  "status update final flag false",
			event: NewStatusUpdateEvent(TaskStatusUpdateEvent{TaskID: "t1", Final: false}),
			want:  false,
		},
		{
			name:  "task in terminal state",
			event: NewTaskEvent(Task{ID: "t1", Status: TaskStatus{State: TaskStateCompleted}}),
			want:  true,
		},
		{
			name:  "task in input-required state",
			event: NewTaskEvent(Task{ID: "t1", Status: TaskStatus{State: TaskStateInputRequired}}),
			want:  true,
		},
		{
			name:  "task in unknown state",
			event: NewTaskEvent(Task{ID: "t1", Status: TaskStatus{State: TaskStateUnknown}}),
			want:  true,
		},
		{
			name:  "task in working state",
			event: NewTaskEvent(Task{ID: "t1", Status: TaskStatus{State: TaskStateWorking}}),
			want:  false,
		},
		{
			name: "artifact update is never final",
			event: NewArtifactUpdateEvent(TaskArtifactUpdateEvent{
				TaskID:    "t1",
				Artifact:  Artifact{ArtifactID: "a1"},
				LastChunk: true,
			}),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.event.Final(); got != tt.want {
				t.Errorf("Final() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEventTerminal(t *testing.T) {
	// Terminal is the narrower predicate: input-required/unknown are final
	// for consumer termination but not terminal/absorbing for the task.
	inputRequired := NewTaskEvent(Task{ID: "t1", Status: TaskStatus{State: TaskStateInputRequired}})
	if inputRequired.Terminal() {
		t.Error("input-required should not be Terminal")
	}
	if !inputRequired.Final() {
		t.Error("input-required should be Final")
	}

	completed := NewTaskEvent(Task{ID: "t1", Status: TaskStatus{State: TaskStateCompleted}})
	if !completed.Terminal() {
		t.Error("completed should be Terminal")
	}
}

func TestTaskStateTerminal(t *testing.T) {
	terminal := []TaskState{TaskStateCompleted, TaskStateCanceled, TaskStateFailed, TaskStateRejected}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be Terminal", s)
		}
	}

	nonTerminal := []TaskState{TaskStateSubmitted, TaskStateWorking, TaskStateInputRequired, TaskStateAuthRequired, TaskStateUnknown}
	for _, s := range nonTerminal {
		if s.Terminal() {
			t.Errorf("%s should not be Terminal", s)
		}
	}
}
