// Package middleware wraps handler invocations in cross-cutting behavior.
//
// Middlewares compose like an onion: Chain(A, B, C)(h) runs A.before → B.before → C.before
// → h → C.after → B.after → A.after. The chain is built once when the server starts.
package middleware

import (
	"context"
	"encoding/json"
	"workspace-mcp/handler"
)

// Call is one dispatched invocation.
type Call struct {
	Method       string
	Params       json.RawMessage
	Notification bool
	ConnID       string
	Handler      handler.Handler
}

type HandlerFunc func(ctx context.Context, call *Call) (any, error)

type Middleware func(next HandlerFunc) HandlerFunc

// Chain combines middlewares into one. The first one is the outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}

// Invoke is the innermost HandlerFunc: it calls the registered handler.
func Invoke(ctx context.Context, call *Call) (any, error) {
	return call.Handler.Handle(ctx, call.Params)
}
