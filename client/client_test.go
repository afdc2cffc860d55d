package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"
	"workspace-mcp/handler"
	"workspace-mcp/loadbalance"
	"workspace-mcp/message"
	"workspace-mcp/registry"
	"workspace-mcp/server"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Args struct {
	A, B int
}

func startServer(t *testing.T) *server.Server {
	t.Helper()
	b := handler.NewBuilder()
	require.NoError(t, b.RegisterFunc("arith/add", func(ctx context.Context, params json.RawMessage) (any, error) {
		var args Args
		if err := json.Unmarshal(params, &args); err != nil {
			return nil, message.InvalidParams(err.Error())
		}
		return args.A + args.B, nil
	}))
	require.NoError(t, b.RegisterFunc("sleep", func(ctx context.Context, params json.RawMessage) (any, error) {
		time.Sleep(300 * time.Millisecond)
		return nil, nil
	}))
	s := server.NewServer(b.Build())
	require.NoError(t, s.Start("127.0.0.1:0"))
	t.Cleanup(func() { s.Stop(time.Second) })
	return s
}

func TestClientCall(t *testing.T) {
	s := startServer(t)
	c, err := Dial(context.Background(), s.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	var sum int
	require.NoError(t, c.Call(context.Background(), "arith/add", &Args{A: 1, B: 2}, &sum))
	assert.Equal(t, 3, sum)

	require.NoError(t, c.Call(context.Background(), "arith/add", &Args{A: 10, B: 20}, &sum))
	assert.Equal(t, 30, sum)
}

func TestClientErrorResponse(t *testing.T) {
	s := startServer(t)
	c, err := Dial(context.Background(), s.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	err = c.Call(context.Background(), "missing/method", nil, nil)
	var rpcErr *message.Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, message.CodeMethodNotFound, rpcErr.Code)

	err = c.Call(context.Background(), "arith/add", "not an object", nil)
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, message.CodeInvalidParams, rpcErr.Code)
}

// 测试单连接上并发发送多个请求
func TestClientConcurrentCalls(t *testing.T) {
	s := startServer(t)
	c, err := Dial(context.Background(), s.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var sum int
			if err := c.Call(context.Background(), "arith/add", &Args{A: i, B: i}, &sum); err != nil {
				t.Error(err)
				return
			}
			if sum != 2*i {
				t.Errorf("expect %d, got %d", 2*i, sum)
			}
		}(i)
	}
	wg.Wait()
}

func TestClientContextCancel(t *testing.T) {
	s := startServer(t)
	c, err := Dial(context.Background(), s.Addr().String())
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = c.Call(ctx, "sleep", nil, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClientClosedConnection(t *testing.T) {
	s := startServer(t)
	c, err := Dial(context.Background(), s.Addr().String())
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() { errc <- c.Call(context.Background(), "sleep", nil, nil) }()
	time.Sleep(20 * time.Millisecond)
	c.Close()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("pending call was not released on close")
	}
	assert.ErrorIs(t, c.Notify(context.Background(), "x", nil), ErrClosed)
	assert.ErrorIs(t, c.Err(), ErrClosed)
	var te *TransportError
	require.ErrorAs(t, c.Err(), &te)
	assert.Equal(t, "close", te.Op)
}

func TestDialRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	l.Close()

	_, err = Dial(context.Background(), addr)
	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "dial", te.Op)
}

func TestClientOrphanHandler(t *testing.T) {
	srv, cli := net.Pipe()
	defer srv.Close()

	orphans := make(chan *message.Message, 1)
	c := NewClient(cli, WithOrphanHandler(func(m *message.Message) { orphans <- m }))
	defer c.Close()

	go io.WriteString(srv, `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"Parse error"}}`+"\n")
	select {
	case m := <-orphans:
		assert.Equal(t, message.CodeParseError, m.Error.Code)
	case <-time.After(2 * time.Second):
		t.Fatal("orphan response not delivered")
	}
}

func TestDialDiscovered(t *testing.T) {
	s := startServer(t)
	reg := registry.NewMemoryRegistry()
	require.NoError(t, reg.Register(context.Background(), "workspace-mcp", registry.ServiceInstance{Addr: s.Addr().String(), Weight: 1}, 10))

	c, inst, err := DialDiscovered(context.Background(), reg, "workspace-mcp", &loadbalance.RoundRobinBalancer{})
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, s.Addr().String(), inst.Addr)

	var sum int
	require.NoError(t, c.Call(context.Background(), "arith/add", &Args{A: 2, B: 2}, &sum))
	assert.Equal(t, 4, sum)

	_, _, err = DialDiscovered(context.Background(), reg, "nobody", &loadbalance.RoundRobinBalancer{})
	assert.ErrorIs(t, err, loadbalance.ErrNoInstances)
}

func TestBridge(t *testing.T) {
	s := startServer(t)
	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)

	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	done := make(chan error, 1)
	go func() { done <- Bridge(context.Background(), inR, outW, conn, nil) }()

	_, err = io.WriteString(inW, `{"jsonrpc":"2.0","id":7,"method":"arith/add","params":{"A":3,"B":4}}`+"\n")
	require.NoError(t, err)

	line, err := bufio.NewReader(outR).ReadString('\n')
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":7,"result":7}`, line)

	inW.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not stop after stdin closed")
	}
}
