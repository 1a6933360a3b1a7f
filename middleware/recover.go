package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/jabbala/tenantfair/request"
)

// Recover returns middleware that recovers from panics in the pipeline.
// Panics are converted to errors and logged with a stack trace, so one
// bad payload cannot take down a worker slot.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, req *request.ScheduledRequest, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("pipeline panicked",
					slog.String("request_id", req.ID.String()),
					slog.String("tenant_id", req.TenantID),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = fmt.Errorf("panic dispatching request %s: %v", req.ID, r)
			}
		}()
		return next(ctx)
	}
}
