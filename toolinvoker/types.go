// Package toolinvoker dispatches a (tool_group_instance_id,
// tool_deployment_type_id, params) triple to its registered tool, resolving
// credentials via credential.Registry first.
package toolinvoker

import (
	"context"
	"encoding/json"
)

// Kind distinguishes how a registered tool is reached.
type Kind string

const (
	KindHTTP      Kind = "http"
	KindInProcess Kind = "in_process"
)

// InProcessHandler is the signature an in-process tool registers. It
// receives decrypted credentials and params directly, mirroring the body
// an HTTP-backed tool would otherwise receive over the wire.
type InProcessHandler func(ctx context.Context, invocation Invocation) (json.RawMessage, error)

// Invocation is the fully-resolved payload a tool receives, whether over
// HTTP or in-process.
type Invocation struct {
	Params                   map[string]interface{} `json:"params"`
	StaticCredentials        map[string]interface{} `json:"static_credentials,omitempty"`
	ResourceServerCredential string                  `json:"resource_server_credential,omitempty"`
	UserCredential           string                  `json:"user_credential,omitempty"`
}

// RegisteredTool is one entry in the ToolRegistry: either an HTTP endpoint
// or an in-process handler, never both.
type RegisteredTool struct {
	InstanceID string
	TypeID     string
	Kind       Kind

	// EndpointURL is set for Kind == KindHTTP.
	EndpointURL string
	// InvocationKeyDEKAlias records the DEK alias the invocation key was
	// encrypted under. ToolInvoker does not read it: the ciphertext names
	// its own DEK.
	InvocationKeyDEKAlias string
	// InvocationKeyCiphertext is the encrypted invocation key; its
	// decrypted plaintext is sent as the Authorization bearer token for
	// HTTP tools.
	InvocationKeyCiphertext string

	// Handler is set for Kind == KindInProcess.
	Handler InProcessHandler

	// ParamsSchema, if non-nil, validates Params before dispatch.
	ParamsSchema Schema
}

// Schema validates a params map before dispatch. Concrete schemas live
// alongside each tool's registration; ToolInvoker only calls Validate.
type Schema interface {
	Validate(params map[string]interface{}) error
}

// Result mirrors the original's InvokeResult enum: either a successful
// decoded JSON body, or an error message. Exactly one field is set.
type Result struct {
	Success json.RawMessage `json:"success,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// IsSuccess reports whether the invocation produced a Success payload.
func (r Result) IsSuccess() bool { return r.Error == "" }
