package obs

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// NewLogger configures slog with colorful dev output and JSON for production-like envs.
// A nil writer means stdout.
func NewLogger(env string, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if w == nil {
		w = os.Stdout
	}
	switch env {
	case "dev", "local":
		handler := tint.NewHandler(w, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.RFC3339,
			AddSource:  true,
			NoColor:    w != os.Stdout && w != os.Stderr,
		})
		return slog.New(handler)
	case "test":
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	})
	return slog.New(handler)
}

// Discard returns a logger that drops everything; used by tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
