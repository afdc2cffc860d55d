package message

import (
	"encoding/json"
	"fmt"
)

// Reserved JSON-RPC error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// IsReserved reports whether code is one of the five codes the server may emit.
func IsReserved(code int) bool {
	switch code {
	case CodeParseError, CodeInvalidRequest, CodeMethodNotFound, CodeInvalidParams, CodeInternalError:
		return true
	}
	return false
}

// Error is the error object of a response. It also implements error, so a handler can
// return one to choose the code the peer sees.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewError builds an Error without data.
func NewError(code int, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Errorf builds an Error with a formatted message.
func Errorf(code int, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithData returns a copy of e carrying v marshaled as data. Marshal failures drop the data.
func (e *Error) WithData(v any) *Error {
	cp := *e
	if b, err := json.Marshal(v); err == nil {
		cp.Data = b
	}
	return &cp
}

func ParseError(msg string) *Error     { return NewError(CodeParseError, msg) }
func InvalidRequest(msg string) *Error { return NewError(CodeInvalidRequest, msg) }
func InvalidParams(msg string) *Error  { return NewError(CodeInvalidParams, msg) }
func InternalError(msg string) *Error  { return NewError(CodeInternalError, msg) }

func MethodNotFound(method string) *Error {
	return Errorf(CodeMethodNotFound, "Method not found: %s", method)
}
