package ginserver

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	gin "github.com/gin-gonic/gin"

	"messenger/internal/domain/chat"
	"messenger/internal/infra/storage/memory"
)

const principalContextKey = "messenger.principal"

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

type AuthMiddleware struct {
	Tokens TokenVerifier
	Users  *memory.UserRepository
	Logger *slog.Logger
}

// Handle attaches the principal for a valid bearer token. Routes decide
// themselves whether a principal is required.
func (m AuthMiddleware) Handle(c *gin.Context) {
	token := extractBearerToken(c.GetHeader("Authorization"))
	if token == "" || m.Tokens == nil {
		c.Next()
		return
	}
	if user, ok := m.resolve(c, token); ok {
		c.Set(principalContextKey, user)
	}
	c.Next()
}

func (m AuthMiddleware) resolve(c *gin.Context, token string) (chat.User, bool) {
	userID, err := m.Tokens.Verify(token)
	if err != nil {
		if m.Logger != nil {
			m.Logger.Debug("token validation failed", "error", err)
		}
		return chat.User{}, false
	}
	acc, err := m.Users.ByID(c.Request.Context(), userID)
	if err != nil {
		if !errors.Is(err, memory.ErrUserNotFound) && m.Logger != nil {
			m.Logger.Warn("principal lookup failed", "user_id", userID, "error", err)
		}
		return chat.User{}, false
	}
	return acc.User, true
}

func currentPrincipal(c *gin.Context) (chat.User, bool) {
	val, exists := c.Get(principalContextKey)
	if !exists {
		return chat.User{}, false
	}
	u, ok := val.(chat.User)
	return u, ok
}

func requireUser(c *gin.Context) (chat.User, bool) {
	u, ok := currentPrincipal(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth required"})
		return chat.User{}, false
	}
	return u, true
}

func extractBearerToken(header string) string {
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
