package ginserver

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	gin "github.com/gin-gonic/gin"

	"messenger/internal/infra/config"
	"messenger/internal/infra/obs"
)

// Handlers groups everything the router mounts.
type Handlers struct {
	API            *API
	Hub            *Hub
	AuthMiddleware gin.HandlerFunc
}

var errNotWired = errors.New("not wired")

// Ready reports whether every repository behind the REST handlers is in place.
func (h Handlers) Ready() error {
	if h.API == nil || h.API.Users == nil || h.API.Conversations == nil || h.API.Messages == nil || h.API.Uploads == nil {
		return errNotWired
	}
	if h.API.Tokens == nil || h.API.Hasher == nil {
		return errNotWired
	}
	return nil
}

// Live reports whether the realtime hub can accept connections.
func (h Handlers) Live() error {
	if h.Hub == nil || h.AuthMiddleware == nil {
		return errNotWired
	}
	return nil
}

func NewServer(cfg config.StubConfig, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *http.Server {
	return &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           NewRouter(cfg.Env, obsMW, health, h),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// NewRouter mounts the chat backend routes on a fresh gin engine.
func NewRouter(env string, obsMW obs.Middleware, health obs.HealthHandlers, h Handlers) *gin.Engine {
	mode := configureGinMode(env)
	if obsMW.Logger != nil {
		obsMW.Logger.Info("gin initialized", "mode", mode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(obsMW.RequestID())
	router.Use(obsMW.AccessLog())
	router.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length", "Content-Type", "X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}))
	if h.AuthMiddleware != nil {
		router.Use(h.AuthMiddleware)
	}

	router.GET("/livez", health.Livez)
	router.GET("/readyz", health.Readyz)

	if api := h.API; api != nil {
		router.POST("/signin", api.SignIn)
		router.POST("/signup", api.SignUp)
		router.GET("/me", api.Me)
		router.GET("/chats", api.ListChats)
		router.POST("/chats", api.CreateChat)
		router.GET("/chats/:id/messages", api.ListMessages)
		router.POST("/upload", api.Upload)
		router.GET("/uploads/:name", api.ServeUpload)
		router.GET("/users/by-email", api.UserByEmail)
		router.POST("/resolve-emails", api.ResolveEmails)
	}
	if h.Hub != nil {
		router.GET("/ws", h.Hub.Serve)
	}
	return router
}

func configureGinMode(env string) string {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "debug", "dev", "local":
		gin.SetMode(gin.DebugMode)
		return gin.DebugMode
	case "test", "testing":
		gin.SetMode(gin.TestMode)
		return gin.TestMode
	default:
		gin.SetMode(gin.ReleaseMode)
		return gin.ReleaseMode
	}
}
