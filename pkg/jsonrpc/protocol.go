// Package jsonrpc provides a server-side JSON-RPC 2.0 dispatch engine.
package jsonrpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Version is the only protocol version accepted and emitted.
const Version = "2.0"

// ErrorCode is a JSON-RPC error code.
type ErrorCode int

// JSON-RPC 2.0 error codes
const (
	// Parse error: Invalid JSON was received by the server.
	CodeParseError ErrorCode = -32700

	// Invalid Request: The JSON sent is not a valid Request object.
	CodeInvalidRequest ErrorCode = -32600

	// Method not found: The method does not exist / is not available.
	CodeMethodNotFound ErrorCode = -32601

	// Invalid params: Invalid method parameter(s).
	CodeInvalidParams ErrorCode = -32602

	// Internal error: Internal JSON-RPC error.
	CodeInternalError ErrorCode = -32603

	// Server error: Reserved for implementation-defined server-errors.
	CodeServerError ErrorCode = -32000
)

// String returns the canonical message for the error code.
func (c ErrorCode) String() string {
	switch c {
	case CodeParseError:
		return "Parse error"
	case CodeInvalidRequest:
		return "Invalid Request"
	case CodeMethodNotFound:
		return "Method not found"
	case CodeInvalidParams:
		return "Invalid params"
	case CodeInternalError:
		return "Internal error"
	case CodeServerError:
		return "Server error"
	default:
		return fmt.Sprintf("Error code %d", int(c))
	}
}

// Error represents a JSON-RPC 2.0 error object.
type Error struct {
	// Code is the error code.
	Code ErrorCode `json:"code"`

	// Message is a short description of the error.
	Message string `json:"message"`

	// Data is additional information about the error.
	Data any `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

// NewError creates a new Error with the canonical message for code.
func NewError(code ErrorCode, data any) *Error {
	return &Error{
		Code:    code,
		Message: code.String(),
		Data:    data,
	}
}

// Request is a validated JSON-RPC 2.0 request.
type Request struct {
	// Method is the name of the method to be invoked.
	Method string

	// Params is the raw params member, a []any, a map[string]any or nil.
	Params any

	// ID is the identifier established by the client. Only meaningful when HasID is set.
	ID any

	// HasID reports whether the id member was present. A request without it is a notification.
	HasID bool
}

// IsNotification returns true if the request carries no id member.
func (r *Request) IsNotification() bool {
	return !r.HasID
}

// requestFromValue extracts a Request from a value that already passed validation.
func requestFromValue(v any) *Request {
	obj, _ := v.(map[string]any)
	req := &Request{}
	req.Method, _ = obj["method"].(string)
	req.Params = obj["params"]
	req.ID, req.HasID = obj["id"]
	return req
}

// Response represents a JSON-RPC 2.0 response. Exactly one of Result or Error is
// emitted on the wire: Error when it is non-nil, Result (possibly null) otherwise.
type Response struct {
	// Result is the result of the method invocation.
	Result any

	// Error is the error object if there was an error invoking the method.
	Error *Error

	// ID is the identifier established by the client, or nil when it could not be determined.
	ID any
}

type successResponse struct {
	JSONRPC string `json:"jsonrpc"`
	Result  any    `json:"result"`
	ID      any    `json:"id"`
}

type errorResponse struct {
	JSONRPC string `json:"jsonrpc"`
	Error   *Error `json:"error"`
	ID      any    `json:"id"`
}

// wire returns the on-the-wire shape of the response.
func (r *Response) wire() any {
	if r.Error != nil {
		return errorResponse{JSONRPC: Version, Error: r.Error, ID: r.ID}
	}
	return successResponse{JSONRPC: Version, Result: r.Result, ID: r.ID}
}

// MarshalJSON implements json.Marshaler. Results are not HTML escaped.
func (r *Response) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r.wire()); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// NewResponse creates a new JSON-RPC 2.0 success response.
func NewResponse(id any, result any) *Response {
	return &Response{
		Result: result,
		ID:     id,
	}
}

// NewErrorResponse creates a new JSON-RPC 2.0 error response.
func NewErrorResponse(id any, code ErrorCode, data any) *Response {
	return &Response{
		Error: NewError(code, data),
		ID:    id,
	}
}
