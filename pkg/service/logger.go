package service

import (
	"log/slog"
	"os"
	"strings"

	"github.com/romashorodok/room-coordinator/pkg/variables"
	"go.uber.org/fx"
)

var loggerWriter = os.Stdout

func logLevel(name string) slog.Level {
	switch strings.ToLower(name) {
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

func logger(cfg variables.Config) *slog.Logger {
	l := slog.New(slog.NewJSONHandler(loggerWriter, &slog.HandlerOptions{
		AddSource: false,
		Level:     logLevel(cfg.LogLevel),
	}))
	return l.With(slog.String("instance_id", cfg.InstanceID))
}

var LoggerModule = fx.Module("logger", fx.Provide(
	logger,
))
