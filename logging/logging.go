// Package logging sets up the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

var (
	initOnce sync.Once
	logger   *slog.Logger
)

// Init installs a text logger on stderr as the slog default. Only the first
// call has an effect; later calls return the logger built by the first.
func Init(debug bool) *slog.Logger {
	initOnce.Do(func() {
		logger = New(os.Stderr, debug)
		slog.SetDefault(logger)
	})
	return logger
}

// New builds a text logger tagged with the server component.
func New(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})).
		With("component", "tvserver")
}
