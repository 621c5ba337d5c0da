package middleware

import (
	"context"
	"errors"

	"messenger/internal/app/commands"
	"messenger/internal/domain/chat"
)

// CredentialSource reports whether a credential is currently stored.
type CredentialSource interface {
	Credential() (string, bool)
}

// RequireSession rejects non-public commands while no credential is stored.
func RequireSession(src CredentialSource) CommandMiddleware {
	if src == nil {
		panic("middleware: credential source required")
	}
	return func(next commands.Bus) commands.Bus {
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			if !commands.IsPublic(cmd) {
				if _, ok := src.Credential(); !ok {
					return nil, chat.NewError(chat.KindUnauthorized, "sign in required", nil)
				}
			}
			return next.Dispatch(ctx, cmd)
		})
	}
}

// SessionClearer drops the stored credential.
type SessionClearer interface {
	Clear(ctx context.Context) error
}

// ExpireOnUnauthorized clears the session when a non-public command fails
// because the backend no longer accepts the credential.
func ExpireOnUnauthorized(s SessionClearer) CommandMiddleware {
	if s == nil {
		panic("middleware: session clearer required")
	}
	return func(next commands.Bus) commands.Bus {
		return commandFunc(func(ctx context.Context, cmd commands.Command) (any, error) {
			res, err := next.Dispatch(ctx, cmd)
			if err != nil && !commands.IsPublic(cmd) && errors.Is(err, chat.ErrUnauthorized) {
				if clearErr := s.Clear(context.WithoutCancel(ctx)); clearErr != nil {
					return res, errors.Join(err, clearErr)
				}
			}
			return res, err
		})
	}
}
