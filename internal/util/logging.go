package util

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

type loggerContextKey struct{}

// InitLogger configures the global slog logger and returns it.
// Levels: debug, info, warn, error (info on unknown input).
// Formats: json (default) or text, which renders coloured console output.
func InitLogger(level, format string) *slog.Logger {
	logger := slog.New(newLogHandler(os.Stdout, parseLevel(level), format))
	slog.SetDefault(logger)
	return logger
}

func newLogHandler(w io.Writer, level slog.Level, format string) slog.Handler {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "text", "console", "tint":
		return tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
		})
	default:
		return slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level:     level,
			AddSource: true,
		})
	}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ContextWithLogger stores a request-scoped logger in ctx.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

// LoggerFromContext returns the logger stored by ContextWithLogger, or the default logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerContextKey{}).(*slog.Logger); ok && logger != nil {
			return logger
		}
	}
	return slog.Default()
}
