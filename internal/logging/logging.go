// Package logging configures the process-wide slog logger shared by the
// peerline CLI and the relay server binary.
package logging

import (
	"log/slog"
	"os"
)

// Init installs a text handler on stderr as the default logger. The CLI
// shares its terminal with spinners and tables, so anything below error is
// opt-in through LOG_LEVEL.
func Init() {
	level := slog.LevelError

	if l, ok := os.LookupEnv("LOG_LEVEL"); ok {
		switch l {
		case "dev", "development", "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn", "warning":
			level = slog.LevelWarn
		case "error", "production", "prod":
			level = slog.LevelError
		}
	}

	logger := slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		}),
	)
	slog.SetDefault(logger)
}
