package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"messenger/internal/infra/config"
	ginserver "messenger/internal/infra/http/gin"
	"messenger/internal/infra/obs"
	"messenger/internal/infra/security"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadStub()
	logger := obs.NewLogger(cfg.Env, nil)
	if err != nil {
		logger.Error("invalid stub configuration", "error", err)
		os.Exit(1)
	}

	handlers := ginserver.NewBackend(ginserver.Deps{
		Hasher: security.BcryptHasher{},
		Tokens: security.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL),
		Logger: logger,
	})
	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{
		Checks: map[string]func() error{
			"repositories": handlers.Ready,
			"realtime":     handlers.Live,
		},
	}, handlers)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("chat stub starting", "addr", cfg.HTTPAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("chat stub stopped")
}
