// Package logging provides the structured logger used throughout the
// application, and helpers for passing it around in a [context.Context].
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	charmlog "github.com/charmbracelet/log"
)

// New returns a logger that writes human-readable lines to w (or stderr
// if w is nil). Verbosity 0 logs at info level and anything higher also
// logs debug messages.
func New(w io.Writer, verbosity int) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level := charmlog.InfoLevel
	if verbosity > 0 {
		level = charmlog.DebugLevel
	}
	handler := charmlog.NewWithOptions(w, charmlog.Options{
		Level:           level,
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
	})
	return slog.New(handler)
}

func ContextWithLogger(parentCtx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(parentCtx, loggerContextKey, logger)
}

// ContextLogger returns the logger associated with the given context, or
// the default logger if there is none.
func ContextLogger(ctx context.Context) *slog.Logger {
	logger, _ := ctx.Value(loggerContextKey).(*slog.Logger)
	if logger == nil {
		logger = slog.Default()
	}
	return logger
}

// ContextLoggerRequest logs the beginning of some request-like unit of
// work and returns the context logger along with a function that logs its
// end, along with how long it took.
func ContextLoggerRequest(ctx context.Context, f string, args ...any) (*slog.Logger, func()) {
	logger := ContextLogger(ctx)
	reqType := fmt.Sprintf(f, args...)
	start := time.Now()
	logger.Info("BEGIN " + reqType)
	return logger, func() {
		logger.Info("END "+reqType, "duration", time.Since(start).Round(time.Millisecond))
	}
}

type contextKey string

const loggerContextKey = contextKey("logger")
