package middleware

import (
	"context"
	"log/slog"
	"time"
)

func LoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, call *Call) (any, error) {
			start := time.Now()
			result, err := next(ctx, call)
			attrs := []any{
				"method", call.Method,
				"conn", call.ConnID,
				"notification", call.Notification,
				"duration", time.Since(start),
			}
			if err != nil {
				logger.Warn("handler failed", append(attrs, "error", err)...)
			} else {
				logger.Debug("handler completed", attrs...)
			}
			return result, err
		}
	}
}
