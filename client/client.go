// Package client is the peer side of the line protocol.
//
// One Client multiplexes concurrent calls over a single connection. Each call gets a
// unique id; a background goroutine (recvLoop) reads responses and routes them to the
// waiting caller through a per-call channel.
//
//	goroutine-1 ──Call(id=1)──┐
//	goroutine-2 ──Call(id=2)──┼──→ single connection ──→ Server
//	goroutine-3 ──Call(id=3)──┘
//
//	recvLoop:  ←── response(id=2) → pending["2"] ← response → goroutine-2 wakes up
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"workspace-mcp/codec"
	"workspace-mcp/loadbalance"
	"workspace-mcp/message"
	"workspace-mcp/protocol"
	"workspace-mcp/registry"
)

var ErrClosed = errors.New("client connection closed")

// TransportError reports a failure of the connection itself, as opposed to an error
// response from the server.
type TransportError struct {
	Op  string // dial, read, write or close
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client is a multiplexed JSON-RPC client over one connection.
type Client struct {
	conn    net.Conn
	codec   codec.Codec
	reader  *protocol.Reader
	writer  *protocol.Writer
	seq     atomic.Int64
	pending sync.Map // id text → chan *message.Message

	done      chan struct{}
	closeOnce sync.Once
	err       error // why the connection ended; read after done is closed

	logger   *slog.Logger
	onOrphan func(*message.Message)
}

type Option func(*Client)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithOrphanHandler receives responses that match no pending call, typically errors with a
// null id answering a frame the server could not parse.
func WithOrphanHandler(f func(*message.Message)) Option {
	return func(c *Client) { c.onOrphan = f }
}

// Dial connects to addr ("host:port").
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	return NewClient(conn, opts...), nil
}

// DialDiscovered looks serviceName up in reg, lets bal pick an instance and connects to it.
func DialDiscovered(ctx context.Context, reg registry.Registry, serviceName string, bal loadbalance.Balancer, opts ...Option) (*Client, *registry.ServiceInstance, error) {
	instances, err := reg.Discover(ctx, serviceName)
	if err != nil {
		return nil, nil, fmt.Errorf("discover %s: %w", serviceName, err)
	}
	instance, err := bal.Pick(instances)
	if err != nil {
		return nil, nil, fmt.Errorf("pick %s instance: %w", serviceName, err)
	}
	c, err := Dial(ctx, instance.Addr, opts...)
	if err != nil {
		return nil, nil, err
	}
	return c, instance, nil
}

// NewClient takes ownership of conn and starts the receive loop.
func NewClient(conn net.Conn, opts ...Option) *Client {
	c := &Client{
		conn:   conn,
		codec:  &codec.JSONCodec{},
		reader: protocol.NewReader(conn, 0),
		writer: protocol.NewWriter(conn),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	go c.recvLoop()
	return c
}

// Call sends a request and waits for its response. A server error response is returned
// as *message.Error. result may be nil to discard the result.
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}
	id := message.NewNumberID(c.seq.Add(1))
	key := id.String()

	// Register before sending so recvLoop can never see the response first.
	respChan := make(chan *message.Message, 1)
	c.pending.Store(key, respChan)
	defer c.pending.Delete(key)

	if err := c.send(message.NewRequest(id, method, raw)); err != nil {
		return err
	}

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return resp.Error
		}
		if result == nil {
			return nil
		}
		return json.Unmarshal(resp.Result, result)
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return c.err
	}
}

// Notify sends a notification. No response will come back.
func (c *Client) Notify(ctx context.Context, method string, params any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}
	return c.send(message.NewNotification(method, raw))
}

func (c *Client) send(msg *message.Message) error {
	select {
	case <-c.done:
		return c.err
	default:
	}
	frame, err := c.codec.Encode(msg)
	if err != nil {
		return err
	}
	if err := c.writer.WriteFrame(frame); err != nil {
		c.shutdown("write", err)
		return c.err
	}
	return nil
}

// recvLoop is the only reader of the connection.
func (c *Client) recvLoop() {
	for {
		frame, err := c.reader.ReadFrame()
		if err != nil {
			if errors.Is(err, protocol.ErrFrameTooLarge) {
				c.logger.Warn("dropping oversized frame from server")
				continue
			}
			c.shutdown("read", err)
			return
		}

		msg, err := c.codec.Decode(frame)
		if err != nil {
			c.logger.Warn("dropping undecodable frame from server", "error", err)
			continue
		}
		if !msg.IsResponse() {
			c.logger.Debug("ignoring server-initiated message", "method", msg.Method)
			continue
		}
		if ch, ok := c.pending.LoadAndDelete(msg.ID.String()); ok {
			ch.(chan *message.Message) <- msg
			continue
		}
		if c.onOrphan != nil {
			c.onOrphan(msg)
		}
	}
}

// shutdown records why the connection ended and wakes every waiting caller.
func (c *Client) shutdown(op string, cause error) {
	c.closeOnce.Do(func() {
		c.err = &TransportError{Op: op, Err: fmt.Errorf("%w: %v", ErrClosed, cause)}
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) Close() error {
	c.shutdown("close", errors.New("closed by caller"))
	return nil
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err reports why the connection ended, or nil while it is open.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func marshalParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return b, nil
}
