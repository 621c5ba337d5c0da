package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"messenger/internal/app/controller"
	"messenger/internal/app/session"
	"messenger/internal/domain/chat"
	"messenger/internal/infra/api"
	"messenger/internal/infra/config"
	"messenger/internal/infra/obs"
	"messenger/internal/infra/realtime"
	"messenger/internal/infra/storage/file"
	"messenger/internal/infra/storage/s3"
	"messenger/internal/tui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "messenger:", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// The terminal belongs to the UI, so logs go to a file.
	if dir := filepath.Dir(cfg.LogFile); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
	}
	logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logFile.Close()
	logger := obs.NewLogger(cfg.Env, logFile)

	store, err := session.NewStore(ctx, file.CredentialStore{Path: cfg.CredentialPath})
	if err != nil {
		return err
	}

	client, err := api.NewClient(api.Config{BaseURL: cfg.APIURL, CallTimeout: cfg.APITimeout}, store, logger)
	if err != nil {
		return err
	}

	uploader, err := newUploader(cfg, client, logger)
	if err != nil {
		return err
	}

	ctrl, err := controller.New(controller.Config{
		Session:  store,
		Gateway:  client,
		Uploader: uploader,
		Dial: func(sink chat.Sink) controller.Channel {
			return realtime.New(realtime.Config{
				URL:              cfg.SocketURL,
				HandshakeTimeout: cfg.HandshakeTimeout,
			}, sink, logger)
		},
		TypingIdle: cfg.TypingIdle,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer ctrl.Close()

	logger.Info("messenger starting", "api", cfg.APIURL, "socket", cfg.SocketURL, "upload_mode", cfg.UploadMode)
	program := tea.NewProgram(tui.New(ctrl), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("messenger stopped")
	return nil
}

func newUploader(cfg config.Config, client *api.Client, logger *slog.Logger) (controller.Uploader, error) {
	if cfg.UploadMode != config.UploadViaS3 {
		return client, nil
	}
	store, err := s3.New(cfg.S3, logger)
	if err != nil {
		return nil, fmt.Errorf("s3 uploader: %w", err)
	}
	return store, nil
}
