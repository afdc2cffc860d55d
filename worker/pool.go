// Package worker runs dispatched handler invocations on a bounded set of goroutines.
//
//	read loop ──Submit──→ [ queue (buffered chan) ] ──→ worker 1..N
//
// When the queue is full Submit blocks until a slot frees up, which pushes back on the
// connection that produced the work. TrySubmit fails fast instead.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

var (
	ErrPoolClosed = errors.New("worker pool closed")
	ErrPoolFull   = errors.New("worker pool queue full")
)

// Executor runs tasks somewhere other than the caller's goroutine.
type Executor interface {
	// Submit queues task, blocking while the executor is saturated.
	Submit(ctx context.Context, task func()) error
	// TrySubmit queues task or fails with ErrPoolFull without blocking.
	TrySubmit(task func()) error
	Close()
}

// Pool is a fixed-size goroutine pool with a bounded queue.
type Pool struct {
	name   string
	tasks  chan func()
	quit   chan struct{}
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
	once   sync.Once
	logger *slog.Logger
}

// Option customizes a Pool.
type Option func(*Pool)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// WithName labels the pool in logs.
func WithName(name string) Option {
	return func(p *Pool) { p.name = name }
}

// NewPool starts size workers consuming a queue of queueSize pending tasks.
func NewPool(size, queueSize int, opts ...Option) *Pool {
	if size < 1 {
		size = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	p := &Pool{
		name:  "default",
		tasks: make(chan func(), queueSize),
		quit:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.work()
	}
	return p
}

// NewSerial returns a single-goroutine executor: tasks run one at a time in submission order.
func NewSerial(name string, queueSize int, opts ...Option) *Pool {
	return NewPool(1, queueSize, append(opts, WithName(name))...)
}

func (p *Pool) work() {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(task)
	}
}

func (p *Pool) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker task panicked",
				"pool", p.name,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()
	task()
}

func (p *Pool) Submit(ctx context.Context, task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.quit:
		return ErrPoolClosed
	}
}

func (p *Pool) TrySubmit(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrPoolFull
	}
}

// Close stops accepting tasks, lets the workers drain what is already queued, and waits.
func (p *Pool) Close() {
	p.once.Do(func() {
		// Wake blocked Submit calls before taking the write lock they hold shared.
		close(p.quit)
		p.mu.Lock()
		p.closed = true
		close(p.tasks)
		p.mu.Unlock()
	})
	p.wg.Wait()
}

// Pending is the number of queued tasks not yet picked up.
func (p *Pool) Pending() int { return len(p.tasks) }

func (p *Pool) Name() string { return p.name }
