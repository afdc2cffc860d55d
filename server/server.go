// Package server implements the JSON-RPC endpoint: listeners, per-connection read loops,
// dispatch onto executors, and graceful shutdown.
//
// Request processing pipeline:
//
//	Accept conn → serveConn (one goroutine reads frames, sequentially)
//	  → Codec.Decode → registry lookup
//	    unknown request      → -32601 written right away by the read loop
//	    known method         → Executor.Submit(task)
//	      task: middleware chain → Handler.Handle → Codec.Encode → conn writer (mutex)
//
// The method registry is frozen before the server starts and is never mutated afterwards.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
	"workspace-mcp/codec"
	"workspace-mcp/handler"
	"workspace-mcp/metrics"
	"workspace-mcp/middleware"
	"workspace-mcp/registry"
	"workspace-mcp/worker"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/semaphore"
)

var (
	ErrServerClosed       = errors.New("server closed")
	ErrUnknownExecContext = errors.New("unknown execution context")
	ErrShutdownTimeout    = errors.New("timeout waiting for in-flight requests to finish")
)

// Overflow decides what happens when an executor's queue is full.
type Overflow int

const (
	// OverflowBlock makes the read loop wait for room, pushing back on that connection.
	OverflowBlock Overflow = iota
	// OverflowReject answers requests with an internal error and drops notifications.
	OverflowReject
)

const (
	defaultPoolSize       = 16
	defaultQueueSize      = 256
	defaultMaxConnections = 64
	defaultRegisterTTL    = 10
)

// Server dispatches JSON-RPC frames to a frozen handler registry.
type Server struct {
	registry    *handler.Registry
	codec       codec.Codec
	logger      *slog.Logger
	metrics     *metrics.Metrics
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // tracing(metrics(user middlewares...(recover(Invoke))))

	pool      worker.Executor
	poolSize  int
	queueSize int
	contexts  map[string]worker.Executor
	overflow  Overflow

	maxFrameSize   int
	maxConnections int64
	connSem        *semaphore.Weighted
	logFrames      bool

	discovery   registry.Registry
	serviceName string
	instance    registry.ServiceInstance
	ttl         int64

	prepareOnce sync.Once
	prepareErr  error

	// acceptCtx ends when Stop begins; handlerCtx only when Stop gives up waiting.
	acceptCtx     context.Context
	cancelAccept  context.CancelFunc
	handlerCtx    context.Context
	cancelHandler context.CancelFunc

	mu        sync.Mutex
	listeners []net.Listener
	httpSrvs  []*http.Server
	conns     map[string]*conn

	wg       sync.WaitGroup // in-flight handler tasks
	connWG   sync.WaitGroup // read loops
	shutdown atomic.Bool
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

func WithCodec(c codec.Codec) Option {
	return func(s *Server) { s.codec = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithPool sizes the shared worker pool.
func WithPool(size, queueSize int) Option {
	return func(s *Server) {
		s.poolSize = size
		s.queueSize = queueSize
	}
}

// WithExecutor binds an execution context name to an executor. Handlers registered with
// handler.WithExecContext(name) run there. The server closes it on Stop.
func WithExecutor(name string, exec worker.Executor) Option {
	return func(s *Server) { s.contexts[name] = exec }
}

func WithOverflow(o Overflow) Option {
	return func(s *Server) { s.overflow = o }
}

func WithMaxFrameSize(n int) Option {
	return func(s *Server) { s.maxFrameSize = n }
}

func WithMaxConnections(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxConnections = int64(n)
		}
	}
}

// WithFrameLogging logs every raw frame at debug level.
func WithFrameLogging(enabled bool) Option {
	return func(s *Server) { s.logFrames = enabled }
}

// WithDiscovery announces instance under serviceName when the server starts serving and
// withdraws it on Stop. ttl is in seconds.
func WithDiscovery(reg registry.Registry, serviceName string, instance registry.ServiceInstance, ttl int64) Option {
	return func(s *Server) {
		s.discovery = reg
		s.serviceName = serviceName
		s.instance = instance
		s.ttl = ttl
	}
}

// NewServer creates a server for a registry that is already frozen.
func NewServer(reg *handler.Registry, opts ...Option) *Server {
	s := &Server{
		registry:       reg,
		poolSize:       defaultPoolSize,
		queueSize:      defaultQueueSize,
		contexts:       make(map[string]worker.Executor),
		maxConnections: defaultMaxConnections,
		ttl:            defaultRegisterTTL,
		conns:          make(map[string]*conn),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.codec == nil {
		s.codec = &codec.JSONCodec{}
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	s.connSem = semaphore.NewWeighted(s.maxConnections)
	s.acceptCtx, s.cancelAccept = context.WithCancel(context.Background())
	s.handlerCtx, s.cancelHandler = context.WithCancel(context.Background())
	return s
}

// Use registers a middleware. Middlewares are applied in the order they are added and
// must be registered before the server starts.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// prepare runs once, before the first listener accepts: it builds the handler chain,
// checks execution contexts, starts the pool and announces the endpoint.
func (s *Server) prepare() error {
	s.prepareOnce.Do(func() {
		for _, name := range s.registry.ExecContexts() {
			if _, ok := s.contexts[name]; !ok {
				s.prepareErr = fmt.Errorf("%w: %s", ErrUnknownExecContext, name)
				return
			}
		}

		chain := []middleware.Middleware{
			middleware.TracingMiddleware(otel.Tracer("workspace-mcp/server")),
			middleware.MetricsMiddleware(s.metrics),
		}
		chain = append(chain, s.middlewares...)
		chain = append(chain, middleware.RecoverMiddleware(s.logger))
		s.handler = middleware.Chain(chain...)(middleware.Invoke)

		s.pool = worker.NewPool(s.poolSize, s.queueSize, worker.WithLogger(s.logger))

		if s.discovery != nil {
			ctx, cancel := context.WithTimeout(s.acceptCtx, 5*time.Second)
			defer cancel()
			if err := s.discovery.Register(ctx, s.serviceName, s.instance, s.ttl); err != nil {
				// Discovery is advisory: a server nobody can find is still reachable directly.
				s.logger.Warn("service registration failed", "service", s.serviceName, "addr", s.instance.Addr, "error", err)
			}
		}
	})
	return s.prepareErr
}

// Start listens on addr (e.g. "127.0.0.1:8099") and serves in the background.
// It returns once the listener is bound, so Addr is valid afterwards.
func (s *Server) Start(addr string) error {
	if s.shutdown.Load() {
		return ErrServerClosed
	}
	if err := s.prepare(); err != nil {
		return err
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	if !s.trackListener(l) {
		l.Close()
		return ErrServerClosed
	}
	go func() {
		if err := s.acceptLoop(l); err != nil {
			s.logger.Error("accept loop stopped", "addr", l.Addr().String(), "error", err)
		}
	}()
	return nil
}

// Serve accepts connections on l until Stop. It returns nil after a graceful stop.
func (s *Server) Serve(l net.Listener) error {
	if err := s.prepare(); err != nil {
		l.Close()
		return err
	}
	if !s.trackListener(l) {
		l.Close()
		return ErrServerClosed
	}
	return s.acceptLoop(l)
}

func (s *Server) acceptLoop(l net.Listener) error {
	s.logger.Info("listening", "addr", l.Addr().String())
	for {
		// Bound concurrent connections; excess peers wait in the kernel backlog.
		if err := s.connSem.Acquire(s.acceptCtx, 1); err != nil {
			return nil
		}
		nc, err := l.Accept()
		if err != nil {
			s.connSem.Release(1)
			if s.shutdown.Load() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return err
		}
		s.startConn(newTCPConn(nc, s.maxFrameSize), func() { s.connSem.Release(1) })
	}
}

func (s *Server) trackListener(l net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown.Load() {
		return false
	}
	s.listeners = append(s.listeners, l)
	return true
}

// Addr is the address of the first TCP listener, or nil before one is bound.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.listeners) == 0 {
		return nil
	}
	return s.listeners[0].Addr()
}

// Metrics returns the server's collectors.
func (s *Server) Metrics() *metrics.Metrics { return s.metrics }

// Stop performs graceful shutdown:
//  1. Withdraw the discovery entry so bridges stop picking this server
//  2. Close listeners and stop read loops from taking new frames
//  3. Wait for in-flight handlers (with timeout) so their responses still go out
//  4. Close connections and executors
func (s *Server) Stop(timeout time.Duration) error {
	if !s.shutdown.CompareAndSwap(false, true) {
		return nil
	}

	if s.discovery != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := s.discovery.Deregister(ctx, s.serviceName, s.instance.Addr); err != nil {
			s.logger.Warn("service deregistration failed", "service", s.serviceName, "error", err)
		}
		cancel()
	}

	s.cancelAccept()
	s.mu.Lock()
	for _, l := range s.listeners {
		l.Close()
	}
	for _, hs := range s.httpSrvs {
		hs.Close()
	}
	for _, c := range s.conns {
		c.interrupt()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		// Read loops are the only callers of wg.Add, so they must be gone before wg.Wait.
		s.connWG.Wait()
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.closeExecutors()
		s.logger.Info("server stopped")
		return nil
	case <-time.After(timeout):
		s.cancelHandler()
		s.mu.Lock()
		for _, c := range s.conns {
			c.close()
		}
		s.mu.Unlock()
		// A stuck handler would block Close forever; let it finish in the background.
		go s.closeExecutors()
		return ErrShutdownTimeout
	}
}

func (s *Server) closeExecutors() {
	if s.pool != nil {
		s.pool.Close()
	}
	for _, exec := range s.contexts {
		exec.Close()
	}
}
