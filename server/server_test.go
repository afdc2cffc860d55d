package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"workspace-mcp/handler"
	"workspace-mcp/mcp"
	"workspace-mcp/message"
	"workspace-mcp/middleware"
	"workspace-mcp/protocol"
	"workspace-mcp/registry"
	"workspace-mcp/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---- test fixtures ----

func startServer(t *testing.T, b *handler.Builder, opts ...Option) *Server {
	t.Helper()
	s := NewServer(b.Build(), opts...)
	require.NoError(t, s.Start("127.0.0.1:0"))
	t.Cleanup(func() { s.Stop(2 * time.Second) })
	return s
}

// peer speaks raw lines so tests see exactly what goes over the wire.
type peer struct {
	conn net.Conn
	r    *protocol.Reader
}

func dial(t *testing.T, s *Server) *peer {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &peer{conn: conn, r: protocol.NewReader(conn, 0)}
}

func (p *peer) send(t *testing.T, line string) {
	t.Helper()
	_, err := p.conn.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

type wireResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *message.Error  `json:"error"`
}

func (p *peer) recv(t *testing.T) wireResponse {
	t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	frame, err := p.r.ReadFrame()
	require.NoError(t, err)
	var resp wireResponse
	require.NoError(t, json.Unmarshal(frame, &resp), "frame: %s", frame)
	require.Equal(t, "2.0", resp.JSONRPC)
	return resp
}

func (p *peer) expectSilence(t *testing.T, d time.Duration) {
	t.Helper()
	p.conn.SetReadDeadline(time.Now().Add(d))
	frame, err := p.r.ReadFrame()
	var ne net.Error
	require.True(t, errors.As(err, &ne) && ne.Timeout(), "expected no frame, got %q (%v)", frame, err)
}

func echoBuilder(t *testing.T) *handler.Builder {
	t.Helper()
	b := handler.NewBuilder()
	require.NoError(t, b.RegisterFunc("echo", func(ctx context.Context, params json.RawMessage) (any, error) {
		return params, nil
	}))
	return b
}

func mcpBuilder(t *testing.T) *handler.Builder {
	t.Helper()
	b := handler.NewBuilder()
	require.NoError(t, mcp.Register(b, mcp.Implementation{Name: "workspace-mcp", Version: "1.0.0"},
		mcp.NewToolSet(), mcp.NewResourceSet(), nil))
	return b
}

// ---- protocol scenarios ----

func TestInitializeHandshake(t *testing.T) {
	s := startServer(t, mcpBuilder(t))
	p := dial(t, s)

	p.send(t, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`)
	resp := p.recv(t)

	assert.Equal(t, "1", string(resp.ID))
	assert.Nil(t, resp.Error)
	assert.JSONEq(t, `{"protocolVersion":"2024-11-05","capabilities":{"tools":{"listChanged":true},`+
		`"resources":{"subscribe":true,"listChanged":true}},"serverInfo":{"name":"workspace-mcp","version":"1.0.0"}}`,
		string(resp.Result))
}

func TestUnknownMethod(t *testing.T) {
	s := startServer(t, mcpBuilder(t))
	p := dial(t, s)

	p.send(t, `{"jsonrpc":"2.0","id":2,"method":"foo/bar"}`)
	resp := p.recv(t)

	assert.Equal(t, "2", string(resp.ID))
	require.NotNil(t, resp.Error)
	assert.Equal(t, message.CodeMethodNotFound, resp.Error.Code)
	assert.Equal(t, "Method not found: foo/bar", resp.Error.Message)
}

func TestUnknownToolIsInternalError(t *testing.T) {
	s := startServer(t, mcpBuilder(t))
	p := dial(t, s)

	p.send(t, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"does_not_exist","arguments":{}}}`)
	resp := p.recv(t)

	assert.Equal(t, "3", string(resp.ID))
	require.NotNil(t, resp.Error)
	assert.Equal(t, message.CodeInternalError, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "does_not_exist")
}

func TestMalformedFrameKeepsConnectionOpen(t *testing.T) {
	s := startServer(t, echoBuilder(t))
	p := dial(t, s)

	p.send(t, `not json`)
	resp := p.recv(t)
	assert.Equal(t, "null", string(resp.ID))
	require.NotNil(t, resp.Error)
	assert.Equal(t, message.CodeParseError, resp.Error.Code)

	p.send(t, `{"jsonrpc":"2.0","id":"after","method":"echo","params":[1]}`)
	resp = p.recv(t)
	assert.Equal(t, `"after"`, string(resp.ID))
	assert.JSONEq(t, `[1]`, string(resp.Result))
}

func TestSchemaViolationsAreParseErrors(t *testing.T) {
	s := startServer(t, echoBuilder(t))
	p := dial(t, s)

	for _, line := range []string{
		`[{"jsonrpc":"2.0","id":1,"method":"echo"}]`,
		`42`,
		`{"jsonrpc":"2.0","id":7,"method":5}`,
		`{"jsonrpc":"1.0","id":11,"method":"echo"}`,
		`{"jsonrpc":"2.0","id":12}`,
	} {
		p.send(t, line)
		resp := p.recv(t)
		assert.Equal(t, "null", string(resp.ID), line)
		require.NotNil(t, resp.Error, line)
		assert.Equal(t, message.CodeParseError, resp.Error.Code, line)
	}

	// a request without "jsonrpc" is still answered
	p.send(t, `{"id":8,"method":"echo","params":"hi"}`)
	resp := p.recv(t)
	assert.Equal(t, "8", string(resp.ID))
	assert.JSONEq(t, `"hi"`, string(resp.Result))
}

func TestNotificationGetsNoResponse(t *testing.T) {
	var seen atomic.Int32
	b := echoBuilder(t)
	require.NoError(t, b.RegisterFunc("notifications/progress", func(ctx context.Context, params json.RawMessage) (any, error) {
		seen.Add(1)
		return nil, errors.New("notification failures are only logged")
	}))
	s := startServer(t, b)
	p := dial(t, s)

	p.send(t, `{"jsonrpc":"2.0","method":"notifications/initialized"}`) // unknown: ignored
	p.send(t, `{"jsonrpc":"2.0","method":"notifications/progress"}`)    // known: runs, no reply
	p.send(t, `{"jsonrpc":"2.0","id":5,"method":"echo","params":"x"}`)

	resp := p.recv(t)
	assert.Equal(t, "5", string(resp.ID))
	p.expectSilence(t, 200*time.Millisecond)
	assert.Eventually(t, func() bool { return seen.Load() == 1 }, time.Second, 10*time.Millisecond)
}

func TestInboundResponseIsIgnored(t *testing.T) {
	s := startServer(t, echoBuilder(t))
	p := dial(t, s)

	p.send(t, `{"jsonrpc":"2.0","id":99,"result":{}}`)
	p.expectSilence(t, 200*time.Millisecond)
}

func TestBlankLinesAreSkipped(t *testing.T) {
	s := startServer(t, echoBuilder(t))
	p := dial(t, s)

	p.send(t, "")
	p.send(t, "   ")
	p.send(t, `{"jsonrpc":"2.0","id":1,"method":"echo","params":1}`)
	resp := p.recv(t)
	assert.Equal(t, "1", string(resp.ID))
}

func TestHandlerErrors(t *testing.T) {
	b := handler.NewBuilder()
	require.NoError(t, b.RegisterFunc("typed", func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, message.InvalidParams("projectName must be a string")
	}))
	require.NoError(t, b.RegisterFunc("plain", func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, errors.New("workspace is locked")
	}))
	require.NoError(t, b.RegisterFunc("custom", func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, message.NewError(-32000, "vendor code")
	}))
	require.NoError(t, b.RegisterFunc("panics", func(ctx context.Context, params json.RawMessage) (any, error) {
		panic("index out of range")
	}))
	s := startServer(t, b)
	p := dial(t, s)

	tests := []struct {
		method string
		code   int
		msg    string
	}{
		{"typed", message.CodeInvalidParams, "projectName must be a string"},
		{"plain", message.CodeInternalError, "workspace is locked"},
		{"custom", message.CodeInternalError, "vendor code"},
		{"panics", message.CodeInternalError, "index out of range"},
	}
	for i, tt := range tests {
		p.send(t, fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":%q}`, i, tt.method))
		resp := p.recv(t)
		assert.Equal(t, fmt.Sprint(i), string(resp.ID), tt.method)
		require.NotNil(t, resp.Error, tt.method)
		assert.Equal(t, tt.code, resp.Error.Code, tt.method)
		assert.Equal(t, tt.msg, resp.Error.Message, tt.method)
	}
}

func TestNilResultIsNull(t *testing.T) {
	b := handler.NewBuilder()
	require.NoError(t, b.RegisterFunc("void", func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, nil
	}))
	s := startServer(t, b)
	p := dial(t, s)

	p.send(t, `{"jsonrpc":"2.0","id":1,"method":"void"}`)
	resp := p.recv(t)
	assert.Equal(t, "null", string(resp.Result))
	assert.Nil(t, resp.Error)
}

// 测试单连接上并发请求：响应不交错，每个请求恰好一个响应
func TestConcurrentRequestsOneConnection(t *testing.T) {
	b := handler.NewBuilder()
	require.NoError(t, b.RegisterFunc("slow", func(ctx context.Context, params json.RawMessage) (any, error) {
		var n int
		json.Unmarshal(params, &n)
		time.Sleep(time.Duration(20-n%20) * time.Millisecond)
		return map[string]any{"n": n, "pad": strings.Repeat("p", 2048)}, nil
	}))
	s := startServer(t, b, WithPool(8, 64))
	p := dial(t, s)

	const total = 40
	for i := 0; i < total; i++ {
		p.send(t, fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"slow","params":%d}`, i, i))
	}

	seen := make(map[string]bool)
	for i := 0; i < total; i++ {
		resp := p.recv(t)
		var out struct{ N int }
		require.NoError(t, json.Unmarshal(resp.Result, &out))
		assert.Equal(t, string(resp.ID), fmt.Sprint(out.N))
		assert.False(t, seen[string(resp.ID)], "duplicate response for %s", resp.ID)
		seen[string(resp.ID)] = true
	}
	assert.Len(t, seen, total)
}

func TestManyConnections(t *testing.T) {
	s := startServer(t, echoBuilder(t), WithMaxConnections(4))

	var wg sync.WaitGroup
	for c := 0; c < 8; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			conn, err := net.Dial("tcp", s.Addr().String())
			if err != nil {
				t.Error(err)
				return
			}
			defer conn.Close()
			r := protocol.NewReader(conn, 0)
			fmt.Fprintf(conn, `{"jsonrpc":"2.0","id":%d,"method":"echo","params":%d}`+"\n", c, c)
			conn.SetReadDeadline(time.Now().Add(3 * time.Second))
			frame, err := r.ReadFrame()
			if err != nil {
				t.Error(err)
				return
			}
			if !strings.Contains(string(frame), fmt.Sprintf(`"result":%d`, c)) {
				t.Errorf("unexpected response %s", frame)
			}
		}(c)
	}
	wg.Wait()
}

func TestOversizedFrame(t *testing.T) {
	s := startServer(t, echoBuilder(t), WithMaxFrameSize(128))
	p := dial(t, s)

	p.send(t, `{"jsonrpc":"2.0","id":1,"method":"echo","params":"`+strings.Repeat("x", 500)+`"}`)
	resp := p.recv(t)
	require.NotNil(t, resp.Error)
	assert.Equal(t, message.CodeInvalidRequest, resp.Error.Code)

	p.send(t, `{"jsonrpc":"2.0","id":2,"method":"echo","params":"ok"}`)
	resp = p.recv(t)
	assert.Equal(t, "2", string(resp.ID))
}

func TestTimeoutMiddleware(t *testing.T) {
	b := handler.NewBuilder()
	require.NoError(t, b.RegisterFunc("sleepy", func(ctx context.Context, params json.RawMessage) (any, error) {
		select {
		case <-time.After(time.Second):
		case <-ctx.Done():
		}
		return "late", nil
	}))
	s := NewServer(b.Build())
	s.Use(middleware.TimeOutMiddleware(50 * time.Millisecond))
	require.NoError(t, s.Start("127.0.0.1:0"))
	defer s.Stop(time.Second)
	p := dial(t, s)

	p.send(t, `{"jsonrpc":"2.0","id":1,"method":"sleepy"}`)
	resp := p.recv(t)
	require.NotNil(t, resp.Error)
	assert.Equal(t, message.CodeInternalError, resp.Error.Code)
	assert.Equal(t, "request timed out", resp.Error.Message)
}

// ---- execution contexts and overflow ----

func TestUnknownExecContextFailsStart(t *testing.T) {
	b := echoBuilder(t)
	require.NoError(t, b.RegisterFunc("ui", func(ctx context.Context, params json.RawMessage) (any, error) {
		return nil, nil
	}, handler.WithExecContext("ui")))

	s := NewServer(b.Build())
	err := s.Start("127.0.0.1:0")
	assert.ErrorIs(t, err, ErrUnknownExecContext)
}

func TestExecContextRunsSerially(t *testing.T) {
	var running, peak atomic.Int32
	b := handler.NewBuilder()
	require.NoError(t, b.RegisterFunc("ui", func(ctx context.Context, params json.RawMessage) (any, error) {
		cur := running.Add(1)
		if cur > peak.Load() {
			peak.Store(cur)
		}
		time.Sleep(5 * time.Millisecond)
		running.Add(-1)
		return "done", nil
	}, handler.WithExecContext("ui")))

	s := startServer(t, b, WithPool(8, 64), WithExecutor("ui", worker.NewSerial("ui", 64)))
	p := dial(t, s)

	for i := 0; i < 10; i++ {
		p.send(t, fmt.Sprintf(`{"jsonrpc":"2.0","id":%d,"method":"ui"}`, i))
	}
	for i := 0; i < 10; i++ {
		p.recv(t)
	}
	assert.Equal(t, int32(1), peak.Load())
}

func TestOverflowReject(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	b := handler.NewBuilder()
	require.NoError(t, b.RegisterFunc("block", func(ctx context.Context, params json.RawMessage) (any, error) {
		started <- struct{}{}
		<-release
		return "released", nil
	}))
	s := startServer(t, b, WithPool(1, 0), WithOverflow(OverflowReject))
	p := dial(t, s)

	p.send(t, `{"jsonrpc":"2.0","id":1,"method":"block"}`)
	<-started
	p.send(t, `{"jsonrpc":"2.0","id":2,"method":"block"}`)

	resp := p.recv(t)
	assert.Equal(t, "2", string(resp.ID))
	require.NotNil(t, resp.Error)
	assert.Equal(t, message.CodeInternalError, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "server busy")

	close(release)
	resp = p.recv(t)
	assert.Equal(t, "1", string(resp.ID))
}

// ---- lifecycle ----

func TestStopWaitsForInFlight(t *testing.T) {
	started := make(chan struct{})
	b := handler.NewBuilder()
	require.NoError(t, b.RegisterFunc("work", func(ctx context.Context, params json.RawMessage) (any, error) {
		close(started)
		time.Sleep(200 * time.Millisecond)
		return "finished", nil
	}))
	s := NewServer(b.Build())
	require.NoError(t, s.Start("127.0.0.1:0"))
	p := dial(t, s)

	p.send(t, `{"jsonrpc":"2.0","id":1,"method":"work"}`)
	<-started
	require.NoError(t, s.Stop(2*time.Second))

	resp := p.recv(t)
	assert.JSONEq(t, `"finished"`, string(resp.Result))

	_, err := net.DialTimeout("tcp", s.Addr().String(), 200*time.Millisecond)
	assert.Error(t, err, "listener must be closed after Stop")
}

func TestStopTimeout(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	b := handler.NewBuilder()
	require.NoError(t, b.RegisterFunc("stuck", func(ctx context.Context, params json.RawMessage) (any, error) {
		close(started)
		<-release
		return nil, nil
	}))
	s := NewServer(b.Build())
	require.NoError(t, s.Start("127.0.0.1:0"))
	p := dial(t, s)

	p.send(t, `{"jsonrpc":"2.0","id":1,"method":"stuck"}`)
	<-started
	assert.ErrorIs(t, s.Stop(50*time.Millisecond), ErrShutdownTimeout)
}

func TestStopWhileRequestsArrive(t *testing.T) {
	s := NewServer(echoBuilder(t).Build(), WithPool(4, 16))
	require.NoError(t, s.Start("127.0.0.1:0"))
	addr := s.Addr().String()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for c := 0; c < 8; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				return
			}
			defer conn.Close()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				if _, err := fmt.Fprintf(conn, `{"jsonrpc":"2.0","id":%d,"method":"echo","params":%d}`+"\n", i, c); err != nil {
					return
				}
			}
		}(c)
	}

	time.Sleep(50 * time.Millisecond)
	err := s.Stop(2 * time.Second)
	close(stop)
	wg.Wait()
	assert.NoError(t, err)
}

func TestStartAfterStop(t *testing.T) {
	s := NewServer(echoBuilder(t).Build())
	require.NoError(t, s.Stop(time.Second))
	assert.ErrorIs(t, s.Start("127.0.0.1:0"), ErrServerClosed)
}

func TestDiscoveryRegistration(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	inst := registry.ServiceInstance{Addr: "127.0.0.1:8099", Weight: 1, Version: "1.0.0"}
	s := NewServer(echoBuilder(t).Build(), WithDiscovery(reg, "workspace-mcp", inst, 10))
	require.NoError(t, s.Start("127.0.0.1:0"))

	got, _ := reg.Discover(context.Background(), "workspace-mcp")
	require.Len(t, got, 1)
	assert.Equal(t, inst.Addr, got[0].Addr)

	require.NoError(t, s.Stop(time.Second))
	got, _ = reg.Discover(context.Background(), "workspace-mcp")
	assert.Empty(t, got)
}
