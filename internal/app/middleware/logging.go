package middleware

import (
	"context"
	"log/slog"
	"time"

	"messenger/internal/app/commands"
	"messenger/internal/domain/chat"
)

// Logging records every dispatched command with its duration and outcome.
func Logging(logger *slog.Logger) CommandMiddleware {
	return func(next commands.Bus) commands.Bus {
		if logger == nil {
			return next
		}
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			started := time.Now()
			res, err := next.Dispatch(ctx, cmd)
			attrs := []any{
				"command", cmd.Key(),
				"duration", time.Since(started),
			}
			if err != nil {
				logger.Warn("command failed", append(attrs, "kind", chat.KindOf(err), "error", err)...)
				return res, err
			}
			logger.Debug("command handled", attrs...)
			return res, nil
		})
	}
}
