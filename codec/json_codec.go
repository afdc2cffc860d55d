package codec

import (
	"bytes"
	"encoding/json"
	"workspace-mcp/message"
)

// JSONCodec is the line-oriented JSON-RPC 2.0 codec.
type JSONCodec struct{}

func (c *JSONCodec) Name() string { return "json" }

// Encode produces compact JSON, which never contains a raw newline.
func (c *JSONCodec) Encode(msg *message.Message) ([]byte, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	if bytes.IndexByte(b, '\n') >= 0 {
		return nil, ErrEmbeddedNewline
	}
	return b, nil
}

// Decode accepts a single JSON object. A missing "jsonrpc" member is read as "2.0".
func (c *JSONCodec) Decode(data []byte) (*message.Message, error) {
	trimmed := bytes.TrimSpace(data)
	fail := func(err error) (*message.Message, error) {
		return nil, &ParseError{Text: string(data), Err: err}
	}
	if err := json.Unmarshal(trimmed, new(json.RawMessage)); err != nil {
		return fail(err)
	}

	switch trimmed[0] {
	case '{':
	case '[':
		return fail(ErrBatch)
	default:
		return fail(ErrNotObject)
	}

	var msg message.Message
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return fail(err)
	}
	if msg.JSONRPC == "" {
		msg.JSONRPC = message.Version
	}
	if msg.JSONRPC != message.Version {
		return fail(ErrVersion)
	}
	if msg.Kind() == message.KindInvalid {
		return fail(ErrNoRole)
	}
	return &msg, nil
}
