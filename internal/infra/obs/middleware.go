package obs

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// Middleware carries the stub backend's request-scoped observability.
type Middleware struct {
	Logger *slog.Logger
}

// RequestID propagates or assigns a request id.
func (m Middleware) RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		ctx := context.WithValue(c.Request.Context(), requestIDKey{}, id)
		c.Request = c.Request.WithContext(ctx)
		c.Writer.Header().Set(requestIDHeader, id)
		c.Set("request_id", id)
		c.Next()
	}
}

// AccessLog writes one line per request. Health probes are logged at debug level.
func (m Middleware) AccessLog() gin.HandlerFunc {
	log := m.Logger
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if log == nil {
			return
		}
		level := slog.LevelInfo
		switch c.FullPath() {
		case "/livez", "/readyz":
			level = slog.LevelDebug
		}
		log.Log(c.Request.Context(), level, "http",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"request_id", c.GetString("request_id"),
		)
	}
}

type requestIDKey struct{}

func RequestIDFromContext(ctx context.Context) string {
	if v := ctx.Value(requestIDKey{}); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
