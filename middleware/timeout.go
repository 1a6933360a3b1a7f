package middleware

import (
	"context"
	"time"

	"github.com/jabbala/tenantfair/request"
)

// Timeout returns middleware that enforces a per-dispatch execution
// deadline. A zero duration disables the middleware. When the deadline
// is exceeded the context is cancelled and the pipeline should return
// context.DeadlineExceeded.
func Timeout(d time.Duration) Middleware {
	return func(ctx context.Context, _ *request.ScheduledRequest, next Handler) error {
		if d > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
