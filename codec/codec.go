// Package codec turns frames into messages and back.
//
// Every decode failure, whether the bytes are not JSON or the JSON is not a JSON-RPC 2.0
// message, is a *ParseError answered with -32700 and a null id. The wrapped cause tells
// the two apart for logging.
package codec

import (
	"errors"
	"fmt"
	"workspace-mcp/message"
)

// Codec serializes messages for one wire format.
type Codec interface {
	Encode(msg *message.Message) ([]byte, error)
	Decode(data []byte) (*message.Message, error)
	Name() string
}

var (
	ErrNotObject       = errors.New("message must be a JSON object")
	ErrBatch           = errors.New("batch requests are not supported")
	ErrVersion         = errors.New(`"jsonrpc" must be "2.0" when present`)
	ErrNoRole          = errors.New("message is neither a request, a notification nor a response")
	ErrEmbeddedNewline = errors.New("encoded message contains a newline")
)

// ParseError is a frame that could not be turned into a Message.
// Text is the original frame, kept for diagnostics.
type ParseError struct {
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("decode frame: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// RPCError is the error object sent back to the peer. It goes out with a null id.
func (e *ParseError) RPCError() *message.Error {
	return message.ParseError("Parse error")
}
