package errors

import (
	"errors"
	"testing"
)

func TestServiceError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *ServiceError
		want string
	}{
		{
			name: "error without underlying error",
			err:  New(KindAuthentication, "test message"),
			want: "[AUTHENTICATION] test message",
		},
		{
			name: "error with underlying error",
			err:  Wrap(KindInternal, "test message", errors.New("underlying")),
			want: "[INTERNAL] test message: underlying",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestServiceError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := Wrap(KindInternal, "test", underlying)

	if got := err.Unwrap(); got != underlying {
		t.Errorf("Unwrap() = %v, want %v", got, underlying)
	}
}

func TestServiceError_WithDetail(t *testing.T) {
	err := New(KindInvalidParams, "test")
	err.WithDetail("field", "username").WithDetail("reason", "too short")

	if len(err.Details) != 2 {
		t.Errorf("Details length = %d, want 2", len(err.Details))
	}
	if err.Details["field"] != "username" {
		t.Errorf("Details[field] = %v, want username", err.Details["field"])
	}
}

func TestRPCCode(t *testing.T) {
	tests := []struct {
		name string
		err  *ServiceError
		want int
	}{
		{"parse", ParseError(errors.New("bad json")), -32700},
		{"invalid request", InvalidRequest("send to terminal task"), -32600},
		{"method not found", MethodNotFound("foo/bar"), -32601},
		{"invalid params", InvalidParams("bad schema"), -32602},
		{"internal", Internal("boom", nil), -32603},
		{"not found", NotFound("task", "t-1"), -32001},
		{"task not cancelable", TaskNotCancelable("t-1"), -32002},
		{"unsupported operation", UnsupportedOperation("resubscribe"), -32004},
		{"content type unsupported", ContentTypeNotSupported("application/octet-stream"), -32005},
		{"invalid agent response", InvalidAgentResponse("missing task id"), -32006},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.RPCCode(); got != tt.want {
				t.Errorf("RPCCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestNotFound(t *testing.T) {
	err := NotFound("task", "t-123")

	if err.Kind != KindNotFound {
		t.Errorf("Kind = %v, want %v", err.Kind, KindNotFound)
	}
	if err.Details["resource"] != "task" {
		t.Errorf("Details[resource] = %v, want task", err.Details["resource"])
	}
	if err.Details["id"] != "t-123" {
		t.Errorf("Details[id] = %v, want t-123", err.Details["id"])
	}
}

func TestTaskNotCancelable(t *testing.T) {
	err := TaskNotCancelable("t-1")
	if err.Kind != KindTaskNotCancelable {
		t.Errorf("Kind = %v, want %v", err.Kind, KindTaskNotCancelable)
	}
	if err.RPCCode() != -32002 {
		t.Errorf("RPCCode() = %d, want -32002", err.RPCCode())
	}
}

func TestIsServiceError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"service error", New(KindInternal, "test"), true},
		{"standard error", errors.New("standard error"), false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsServiceError(tt.err); got != tt.want {
				t.Errorf("IsServiceError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetServiceError(t *testing.T) {
	serviceErr := New(KindInternal, "test")
	standardErr := errors.New("standard error")

	tests := []struct {
		name string
		err  error
		want *ServiceError
	}{
		{"service error", serviceErr, serviceErr},
		{"standard error", standardErr, nil},
		{"nil error", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GetServiceError(tt.err)
			if got != tt.want {
				t.Errorf("GetServiceError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRPCCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"service error", NotFound("task", "t-1"), -32001},
		{"standard error", errors.New("standard error"), -32603},
		{"nil error", nil, -32603},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RPCCodeOf(tt.err); got != tt.want {
				t.Errorf("RPCCodeOf() = %d, want %d", got, tt.want)
			}
		})
	}
}
