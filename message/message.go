// Package message defines the JSON-RPC 2.0 envelope exchanged between a peer and the server.
//
// A Message plays one of three roles, decided purely by which fields are present:
//
//	request:      method + id         → exactly one response is owed
//	notification: method, no id       → no response, ever
//	response:     id + result | error → server output (inbound ones are ignored)
//
// Params, Result and Error.Data stay as raw JSON. The server core never interprets them.
package message

import (
	"bytes"
	"encoding/json"
	"errors"
)

// Version is the only protocol version accepted and emitted.
const Version = "2.0"

// Kind is the role a message plays on the wire.
type Kind int

const (
	KindInvalid Kind = iota
	KindRequest
	KindNotification
	KindResponse
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindNotification:
		return "notification"
	case KindResponse:
		return "response"
	default:
		return "invalid"
	}
}

var errInvalidID = errors.New("id must be a string or a number")

// ID is the opaque correlation token chosen by the peer. It is echoed back byte-for-byte.
type ID struct {
	raw json.RawMessage
}

// NewStringID and NewNumberID build ids for locally originated requests.
func NewStringID(s string) *ID {
	b, _ := json.Marshal(s)
	return &ID{raw: b}
}

func NewNumberID(n int64) *ID {
	b, _ := json.Marshal(n)
	return &ID{raw: b}
}

// String returns the raw JSON text of the id.
func (id *ID) String() string {
	if id == nil {
		return "null"
	}
	return string(id.raw)
}

// Equal compares the raw tokens, so "1" and 1 are different ids.
func (id *ID) Equal(other *ID) bool {
	if id == nil || other == nil {
		return id == other
	}
	return bytes.Equal(id.raw, other.raw)
}

func (id ID) MarshalJSON() ([]byte, error) {
	if len(id.raw) == 0 {
		return []byte("null"), nil
	}
	return id.raw, nil
}

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return errInvalidID
	}
	switch data[0] {
	case '"', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		id.raw = append(json.RawMessage(nil), data...)
		return nil
	}
	return errInvalidID
}

// Message is one JSON-RPC frame. Nil pointer and nil raw fields mean "absent".
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Kind classifies the message. Messages that fit no role are KindInvalid.
func (m *Message) Kind() Kind {
	hasResult := m.Result != nil
	hasError := m.Error != nil
	switch {
	case m.Method != "":
		if hasResult || hasError {
			return KindInvalid
		}
		if m.ID != nil {
			return KindRequest
		}
		return KindNotification
	case m.ID != nil && hasResult != hasError:
		return KindResponse
	default:
		return KindInvalid
	}
}

func (m *Message) IsRequest() bool      { return m.Kind() == KindRequest }
func (m *Message) IsNotification() bool { return m.Kind() == KindNotification }
func (m *Message) IsResponse() bool     { return m.Kind() == KindResponse }

// MarshalJSON always emits "id" on responses (null when the request id was unknown)
// and omits absent fields everywhere else.
func (m Message) MarshalJSON() ([]byte, error) {
	type wire struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id,omitempty"`
		Method  string          `json:"method,omitempty"`
		Params  json.RawMessage `json:"params,omitempty"`
		Result  json.RawMessage `json:"result,omitempty"`
		Error   *Error          `json:"error,omitempty"`
	}
	w := wire{
		JSONRPC: m.JSONRPC,
		Method:  m.Method,
		Params:  m.Params,
		Result:  m.Result,
		Error:   m.Error,
	}
	if w.JSONRPC == "" {
		w.JSONRPC = Version
	}
	if m.ID != nil && len(m.ID.raw) > 0 {
		w.ID = m.ID.raw
	} else if m.Method == "" {
		w.ID = json.RawMessage("null")
	}
	return json.Marshal(w)
}

// NewRequest builds a request. params may be nil.
func NewRequest(id *ID, method string, params json.RawMessage) *Message {
	return &Message{JSONRPC: Version, ID: id, Method: method, Params: params}
}

// NewNotification builds a notification. params may be nil.
func NewNotification(method string, params json.RawMessage) *Message {
	return &Message{JSONRPC: Version, Method: method, Params: params}
}

// NewResult builds a success response. A nil result is sent as JSON null.
func NewResult(id *ID, result json.RawMessage) *Message {
	if result == nil {
		result = json.RawMessage("null")
	}
	return &Message{JSONRPC: Version, ID: id, Result: result}
}

// NewErrorResponse builds an error response. id may be nil when the request id is unknown.
func NewErrorResponse(id *ID, err *Error) *Message {
	return &Message{JSONRPC: Version, ID: id, Error: err}
}
