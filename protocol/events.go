package protocol

// EventKind discriminates the Event union carried by an EventQueue.
type EventKind string

const (
	EventKindTask               EventKind = "task"
	EventKindTaskStatusUpdate   EventKind = "task-status-update"
	EventKindTaskArtifactUpdate EventKind = "task-artifact-update"
	EventKindMessage            EventKind = "message"
)

// TaskStatusUpdateEvent reports a status transition on a running task.
type TaskStatusUpdateEvent struct {
	TaskID    string                 `json:"task_id"`
	ContextID string                 `json:"context_id"`
	Status    TaskStatus             `json:"status"`
	Final     bool                   `json:"final"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// TaskArtifactUpdateEvent appends or finalizes an artifact on a running task.
type TaskArtifactUpdateEvent struct {
	TaskID    string                 `json:"task_id"`
	ContextID string                 `json:"context_id"`
	Artifact  Artifact               `json:"artifact"`
	Append    bool                   `json:"append"`
	LastChunk bool                   `json:"last_chunk"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Event is the discriminated union flowing through an EventQueue. Exactly
// one of the typed fields is populated, selected by Kind.
type Event struct {
	Kind            EventKind
	Task            *Task
	StatusUpdate    *TaskStatusUpdateEvent
	ArtifactUpdate  *TaskArtifactUpdateEvent
	Message         *Message
}

// NewTaskEvent wraps a Task snapshot as an Event.
func NewTaskEvent(t Task) Event {
	return Event{Kind: EventKindTask, Task: &t}
}

// NewStatusUpdateEvent wraps a TaskStatusUpdateEvent as an Event.
func NewStatusUpdateEvent(u TaskStatusUpdateEvent) Event {
	return Event{Kind: EventKindTaskStatusUpdate, StatusUpdate: &u}
}

// NewArtifactUpdateEvent wraps a TaskArtifactUpdateEvent as an Event.
func NewArtifactUpdateEvent(u TaskArtifactUpdateEvent) Event {
	return Event{Kind: EventKindTaskArtifactUpdate, ArtifactUpdate: &u}
}

// NewMessageEvent wraps a Message result as an Event.
func NewMessageEvent(m Message) Event {
	return Event{Kind: EventKindMessage, Message: &m}
}

// Final implements the §4.2 finality predicate:
//   - Message: always final.
//   - TaskStatusUpdate: final iff Final=true.
//   - Task: final iff its state is terminal, input-required, or unknown.
//   - TaskArtifactUpdate: never final.
func (e Event) Final() bool {
	switch e.Kind {
	case EventKindMessage:
		return true
	case EventKindTaskStatusUpdate:
		return e.StatusUpdate != nil && e.StatusUpdate.Final
	case EventKindTask:
		if e.Task == nil {
			return false
		}
		state := e.Task.Status.State
		return state.Terminal() || state == TaskStateInputRequired || state == TaskStateUnknown
	case EventKindTaskArtifactUpdate:
		return false
	default:
		return false
	}
}

// Terminal implements the narrower ResultAggregator predicate: only the
// four absorbing Task states count, independent of input-required/unknown.
// Used to decide whether a Task is done-for-good versus merely
// final-for-this-consumer-subscription.
func (e Event) Terminal() bool {
	if e.Kind != EventKindTask || e.Task == nil {
		return false
	}
	return e.Task.Status.State.Terminal()
}
