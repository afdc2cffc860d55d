// Package handler holds the method table consulted by the dispatcher.
//
// Registration happens once, at startup, through a Builder. Build freezes the table into a
// Registry that has no mutators, so the read loops can look methods up without locking.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Handler answers one method. The returned value is marshaled as the response result.
// Returning a *message.Error selects the error code the peer sees; any other error is
// reported as an internal error carrying err.Error().
type Handler interface {
	Handle(ctx context.Context, params json.RawMessage) (any, error)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

func (f HandlerFunc) Handle(ctx context.Context, params json.RawMessage) (any, error) {
	return f(ctx, params)
}

var (
	ErrDuplicateMethod = errors.New("method already registered")
	ErrEmptyMethod     = errors.New("method name is empty")
	ErrNilHandler      = errors.New("handler is nil")
	ErrFrozen          = errors.New("registry already built")
)

// Entry is one registered method.
type Entry struct {
	Method  string
	Handler Handler
	// ExecContext names the executor the handler must run on. Empty means the shared pool.
	ExecContext string
}

// Option customizes an Entry at registration time.
type Option func(*Entry)

// WithExecContext pins the handler to a named execution context, e.g. a serial executor
// guarding state that must not be touched concurrently.
func WithExecContext(name string) Option {
	return func(e *Entry) { e.ExecContext = name }
}

// Builder collects entries before the server starts.
type Builder struct {
	entries map[string]Entry
	order   []string
	built   bool
}

func NewBuilder() *Builder {
	return &Builder{entries: make(map[string]Entry)}
}

// Register adds method. Registering the same name twice is an error.
func (b *Builder) Register(method string, h Handler, opts ...Option) error {
	if b.built {
		return ErrFrozen
	}
	if method == "" {
		return ErrEmptyMethod
	}
	if h == nil {
		return fmt.Errorf("%w: %s", ErrNilHandler, method)
	}
	if _, ok := b.entries[method]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateMethod, method)
	}
	e := Entry{Method: method, Handler: h}
	for _, opt := range opts {
		opt(&e)
	}
	b.entries[method] = e
	b.order = append(b.order, method)
	return nil
}

// RegisterFunc is Register for a plain function.
func (b *Builder) RegisterFunc(method string, f func(ctx context.Context, params json.RawMessage) (any, error), opts ...Option) error {
	return b.Register(method, HandlerFunc(f), opts...)
}

// Build freezes the builder. Further Register calls fail with ErrFrozen.
func (b *Builder) Build() *Registry {
	b.built = true
	entries := make(map[string]Entry, len(b.entries))
	for k, v := range b.entries {
		entries[k] = v
	}
	return &Registry{entries: entries, order: append([]string(nil), b.order...)}
}

// Registry is the immutable method table.
type Registry struct {
	entries map[string]Entry
	order   []string
}

// Lookup finds the entry for method.
func (r *Registry) Lookup(method string) (Entry, bool) {
	e, ok := r.entries[method]
	return e, ok
}

// Methods lists registered names in registration order.
func (r *Registry) Methods() []string {
	return append([]string(nil), r.order...)
}

// ExecContexts lists the distinct non-empty execution contexts the entries require.
func (r *Registry) ExecContexts() []string {
	seen := make(map[string]struct{})
	for _, e := range r.entries {
		if e.ExecContext != "" {
			seen[e.ExecContext] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int { return len(r.entries) }
