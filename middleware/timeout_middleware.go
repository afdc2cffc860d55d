package middleware

import (
	"context"
	"time"
	"workspace-mcp/message"
)

type outcome struct {
	result any
	err    error
}

// TimeOutMiddleware caps handler time. On expiry the caller gets an internal error while
// the handler goroutine keeps running until it observes ctx.
func TimeOutMiddleware(timeout time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) (any, error) {
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			done := make(chan outcome, 1)
			go func() {
				result, err := next(ctx, call)
				done <- outcome{result, err}
			}()

			select {
			case o := <-done:
				return o.result, o.err
			case <-ctx.Done():
				return nil, message.InternalError("request timed out")
			}
		}
	}
}
