package middleware

import (
	"context"

	"messenger/internal/app/commands"
)

// CommandMiddleware wraps a bus with additional behavior.
type CommandMiddleware func(next commands.Bus) commands.Bus

// ChainCommands wraps base with mws, outermost first.
func ChainCommands(base commands.Bus, mws ...CommandMiddleware) commands.Bus {
	wrapped := base
	for i := len(mws) - 1; i >= 0; i-- {
		wrapped = mws[i](wrapped)
	}
	return wrapped
}

type commandFunc func(ctx context.Context, cmd commands.Command) (any, error)

func (f commandFunc) Dispatch(ctx context.Context, cmd commands.Command) (any, error) {
	return f(ctx, cmd)
}
