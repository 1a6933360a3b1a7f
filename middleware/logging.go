package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/jabbala/tenantfair/request"
)

// Logging returns middleware that logs dispatch start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, req *request.ScheduledRequest, next Handler) error {
		logger.Info("request dispatched",
			slog.String("request_id", req.ID.String()),
			slog.String("tenant_id", req.TenantID),
			slog.String("tier", req.Tier.String()),
			slog.Duration("queued", req.Wait(time.Now())),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("request failed",
				slog.String("request_id", req.ID.String()),
				slog.String("tenant_id", req.TenantID),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("request completed",
				slog.String("request_id", req.ID.String()),
				slog.String("tenant_id", req.TenantID),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
