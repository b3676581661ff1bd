// Package errors provides unified error handling for the streaming task core.
package errors

import (
	"errors"
	"fmt"
)

// Kind identifies the category of failure, independent of transport.
type Kind string

const (
	KindParseError             Kind = "PARSE_ERROR"
	KindInvalidRequest         Kind = "INVALID_REQUEST"
	KindInvalidParams          Kind = "INVALID_PARAMS"
	KindMethodNotFound         Kind = "METHOD_NOT_FOUND"
	KindNotFound               Kind = "NOT_FOUND"
	KindAuthentication         Kind = "AUTHENTICATION"
	KindAuthorization          Kind = "AUTHORIZATION"
	KindTaskNotCancelable      Kind = "TASK_NOT_CANCELABLE"
	KindUnsupportedOperation   Kind = "UNSUPPORTED_OPERATION"
	KindContentTypeNotSupported Kind = "CONTENT_TYPE_NOT_SUPPORTED"
	KindInvalidAgentResponse   Kind = "INVALID_AGENT_RESPONSE"
	KindInternal               Kind = "INTERNAL"
)

// rpcCodes mirrors the JSON-RPC error code table; transport adapters (out
// of scope here) read ServiceError.RPCCode() directly rather than
// duplicating this table.
var rpcCodes = map[Kind]int{
	KindParseError:              -32700,
	KindInvalidRequest:          -32600,
	KindMethodNotFound:          -32601,
	KindInvalidParams:           -32602,
	KindInternal:                -32603,
	KindNotFound:                -32001,
	KindTaskNotCancelable:       -32002,
	KindUnsupportedOperation:    -32004,
	KindContentTypeNotSupported: -32005,
	KindInvalidAgentResponse:    -32006,
	KindAuthentication:          -32001,
	KindAuthorization:          -32001,
}

// ServiceError is a structured error with a taxonomy kind, a human message,
// an optional wrapped cause, and arbitrary structured detail.
type ServiceError struct {
	Kind    Kind                   `json:"kind"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// RPCCode returns the JSON-RPC numeric code for this error's kind. Push
// notifications (-32003) have no corresponding Kind since this module
// never constructs that error itself; transport adapters raise it directly.
func (e *ServiceError) RPCCode() int {
	if code, ok := rpcCodes[e.Kind]; ok {
		return code
	}
	return -32603
}

func (e *ServiceError) WithDetail(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func New(kind Kind, message string) *ServiceError {
	return &ServiceError{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *ServiceError {
	return &ServiceError{Kind: kind, Message: message, Err: err}
}

func ParseError(err error) *ServiceError {
	return Wrap(KindParseError, "malformed request body", err)
}

func InvalidRequest(message string) *ServiceError {
	return New(KindInvalidRequest, message)
}

func InvalidParams(message string) *ServiceError {
	return New(KindInvalidParams, message)
}

func MethodNotFound(method string) *ServiceError {
	return New(KindMethodNotFound, "method not found").WithDetail("method", method)
}

func NotFound(resource, id string) *ServiceError {
	return New(KindNotFound, "resource not found").
		WithDetail("resource", resource).
		WithDetail("id", id)
}

func Authentication(message string) *ServiceError {
	return New(KindAuthentication, message)
}

func AuthenticationWrap(message string, err error) *ServiceError {
	return Wrap(KindAuthentication, message, err)
}

func Authorization(message string) *ServiceError {
	return New(KindAuthorization, message)
}

func TaskNotCancelable(taskID string) *ServiceError {
	return New(KindTaskNotCancelable, "task is not in a cancelable state").WithDetail("task_id", taskID)
}

func UnsupportedOperation(operation string) *ServiceError {
	return New(KindUnsupportedOperation, "operation not supported").WithDetail("operation", operation)
}

func ContentTypeNotSupported(contentType string) *ServiceError {
	return New(KindContentTypeNotSupported, "content type not supported").WithDetail("content_type", contentType)
}

func InvalidAgentResponse(message string) *ServiceError {
	return New(KindInvalidAgentResponse, message)
}

func Internal(message string, err error) *ServiceError {
	return Wrap(KindInternal, message, err)
}

// IsServiceError reports whether err is, or wraps, a *ServiceError.
func IsServiceError(err error) bool {
	var serviceErr *ServiceError
	return errors.As(err, &serviceErr)
}

// GetServiceError extracts a *ServiceError from an error chain, if present.
func GetServiceError(err error) *ServiceError {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr
	}
	return nil
}

// RPCCodeOf returns the JSON-RPC numeric code for err, defaulting to
// internal error (-32603) for errors outside the taxonomy.
func RPCCodeOf(err error) int {
	if se := GetServiceError(err); se != nil {
		return se.RPCCode()
	}
	return -32603
}
