package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"workspace-mcp/message"
)

// RecoverMiddleware turns a handler panic into an internal error for that call only.
func RecoverMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) (result any, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("handler panicked",
						"method", call.Method,
						"panic", fmt.Sprint(r),
						"stack", string(debug.Stack()))
					result, err = nil, message.InternalError(fmt.Sprint(r))
				}
			}()
			return next(ctx, call)
		}
	}
}
