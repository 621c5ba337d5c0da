package ginserver

import (
	"log/slog"

	"messenger/internal/infra/security"
	"messenger/internal/infra/storage/memory"
)

// Deps configures an in-memory chat backend.
type Deps struct {
	Hasher PasswordHasher
	Tokens *security.TokenIssuer
	Logger *slog.Logger
}

// NewBackend wires fresh repositories, the REST handlers and the realtime hub.
func NewBackend(deps Deps) Handlers {
	if deps.Hasher == nil {
		deps.Hasher = security.BcryptHasher{}
	}
	users := memory.NewUserRepository()
	restAPI := &API{
		Users:         users,
		Conversations: memory.NewConversationRepository(),
		Messages:      memory.NewMessageRepository(),
		Uploads:       memory.NewUploadRepository(),
		Hasher:        deps.Hasher,
		Tokens:        deps.Tokens,
		Logger:        deps.Logger,
	}
	hub := NewHub(restAPI, deps.Tokens, deps.Logger)
	restAPI.Presence = hub
	auth := AuthMiddleware{Tokens: deps.Tokens, Users: users, Logger: deps.Logger}
	return Handlers{API: restAPI, Hub: hub, AuthMiddleware: auth.Handle}
}
