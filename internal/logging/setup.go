package logging

import (
	"io"
	"log"
	"log/slog"
	"strings"
)

var level slog.LevelVar

// Setup installs the default slog logger and routes the stdlib log package
// through it. Unknown formats fall back to JSON.
func Setup(levelStr, format string, w io.Writer) *slog.Logger {
	level.Set(ParseLevel(levelStr))

	opts := &slog.HandlerOptions{Level: &level}

	var handler slog.Handler
	if strings.EqualFold(strings.TrimSpace(format), "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	log.SetOutput(stdlogWriter{logger: logger})
	log.SetFlags(0)

	return logger
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

type stdlogWriter struct {
	logger *slog.Logger
}

func (w stdlogWriter) Write(p []byte) (int, error) {
	w.logger.Info(strings.TrimRight(string(p), "\n"), "source", "stdlib")
	return len(p), nil
}
