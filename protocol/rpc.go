package protocol

// Method names on the JSON-RPC surface the orchestrator implements. The
// surface itself (HTTP/gRPC framing) is a transport concern outside this
// package; this is the method/param/result contract transports bind to.
const (
	MethodMessageSend                   = "message/send"
	MethodMessageStream                 = "message/stream"
	MethodTasksGet                       = "tasks/get"
	MethodTasksCancel                    = "tasks/cancel"
	MethodTasksResubscribe               = "tasks/resubscribe"
	MethodPushNotificationConfigGet      = "tasks/pushNotificationConfig/get"
	MethodPushNotificationConfigList     = "tasks/pushNotificationConfig/list"
	MethodPushNotificationConfigSet      = "tasks/pushNotificationConfig/set"
	MethodPushNotificationConfigDelete   = "tasks/pushNotificationConfig/delete"
)

// MessageSendParams is the payload for message/send and message/stream.
type MessageSendParams struct {
	Message       Message                `json:"message"`
	Configuration *MessageSendConfig     `json:"configuration,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// MessageSendConfig carries optional per-request execution hints.
type MessageSendConfig struct {
	AcceptedOutputModes []string `json:"accepted_output_modes,omitempty"`
	Blocking            bool     `json:"blocking,omitempty"`
}

// TaskIDParams is the payload for tasks/get, tasks/cancel, tasks/resubscribe.
type TaskIDParams struct {
	TaskID string `json:"task_id"`
}

// SendResult is the result of message/send: exactly one of Task or Message.
type SendResult struct {
	Task    *Task
	Message *Message
}

// PushNotificationConfig describes a webhook the caller wants task events
// delivered to. Delivery itself is a transport concern; this core only
// stores and validates the config shape.
type PushNotificationConfig struct {
	ID     string `json:"id"`
	TaskID string `json:"task_id"`
	URL    string `json:"url"`
	Token  string `json:"token,omitempty"`
}
