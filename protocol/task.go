// Package protocol defines the A2A-style wire types shared between the
// task-execution core and its transports: tasks, messages, artifacts, and
// the event union that flows through an EventQueue.
package protocol

import "time"

// TaskState is the lifecycle state of a Task.
type TaskState string

const (
	TaskStateSubmitted     TaskState = "submitted"
	TaskStateWorking       TaskState = "working"
	TaskStateInputRequired TaskState = "input-required"
	TaskStateAuthRequired  TaskState = "auth-required"
	TaskStateCompleted     TaskState = "completed"
	TaskStateCanceled      TaskState = "canceled"
	TaskStateFailed        TaskState = "failed"
	TaskStateRejected      TaskState = "rejected"
	TaskStateUnknown       TaskState = "unknown"
)

// Terminal returns true for the absorbing states a Task can never leave.
func (s TaskState) Terminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateCanceled, TaskStateFailed, TaskStateRejected:
		return true
	default:
		return false
	}
}

// TaskStatus captures the current state of a Task plus an optional
// human-readable status message.
type TaskStatus struct {
	State     TaskState `json:"state"`
	Message   *Message  `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Role identifies who authored a Message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Task is the durable record of one agent run.
type Task struct {
	ID        string                 `json:"id"`
	ContextID string                 `json:"context_id"`
	Status    TaskStatus             `json:"status"`
	History   []Message              `json:"history"`
	Artifacts []Artifact             `json:"artifacts"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Message is a single, immutable turn in a Task's history.
type Message struct {
	MessageID string                 `json:"message_id"`
	Role      Role                   `json:"role"`
	Parts     []Part                 `json:"parts"`
	TaskID    *string                `json:"task_id,omitempty"`
	ContextID *string                `json:"context_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Artifact is an append-ordered, eventually-finalized output of a Task.
type Artifact struct {
	ArtifactID  string                 `json:"artifact_id"`
	Name        *string                `json:"name,omitempty"`
	Description *string                `json:"description,omitempty"`
	MimeType    *string                `json:"mime_type,omitempty"`
	Parts       []Part                 `json:"parts"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// PartKind discriminates the Part union, matching the wire "kind" field.
type PartKind string

const (
	PartKindText PartKind = "text"
	PartKindFile PartKind = "file"
	PartKindData PartKind = "data"
)

// FileContent is exactly one of URI or Bytes.
type FileContent struct {
	URI      string  `json:"uri,omitempty"`
	Bytes    string  `json:"bytes,omitempty"` // base64
	MimeType *string `json:"mime_type,omitempty"`
	Name     *string `json:"name,omitempty"`
}

// Part is a tagged union of TextPart/FilePart/DataPart. Only the field
// matching Kind is populated; the rest are for marshaling convenience.
type Part struct {
	Kind     PartKind               `json:"kind"`
	Text     string                 `json:"text,omitempty"`
	File     *FileContent           `json:"file,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// NewTextPart builds a TextPart.
func NewTextPart(text string) Part {
	return Part{Kind: PartKindText, Text: text}
}

// NewDataPart builds a DataPart.
func NewDataPart(data map[string]interface{}) Part {
	return Part{Kind: PartKindData, Data: data}
}
