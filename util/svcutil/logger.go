package svcutil

import (
	"io"
	"log/slog"
	"strings"

	"github.com/urfave/cli/v2"
)

// ParseLevel maps a log-level flag value onto a slog level. Unknown or empty values give info.
func ParseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// ConfigLogger builds the process logger from the "log-level" and "log-format" flags and
// installs it as the slog default. The format is JSON unless "text" is asked for.
func ConfigLogger(cctx *cli.Context, writer io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(cctx.String("log-level")),
	}
	var handler slog.Handler
	if strings.EqualFold(cctx.String("log-format"), "text") {
		handler = slog.NewTextHandler(writer, opts)
	} else {
		handler = slog.NewJSONHandler(writer, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
