// Package bridge loads the native server library and forwards StartServer
// calls into it.
//
// The library is loaded at most once per process. The outcome of that single
// attempt is sticky: after a failed load every StartServer call returns the
// same load error instead of silently doing nothing.
package bridge

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
)

const (
	// LibraryName is the logical name of the native server library.
	LibraryName = "server_rs"

	// StartSymbol is the exported entry point: void pbs_start_server(const char *cache_dir).
	StartSymbol = "pbs_start_server"

	loadedMessage = "Successfully loaded native libraries"
)

// ErrNotLoaded is returned when StartServer is called on a bridge whose
// library failed to load.
var ErrNotLoaded = errors.New("native library not loaded")

// Status reports where the one-time load currently stands.
type Status int32

const (
	StatusPending Status = iota
	StatusLoaded
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusLoaded:
		return "loaded"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("Status(%d)", int32(s))
	}
}

// Library is a loaded native library with its start entry point bound.
type Library interface {
	// StartServer calls the native entry point with the cache directory path.
	StartServer(cacheDir string)
}

// Loader opens a native library by logical name.
type Loader interface {
	Load(name string) (Library, error)
}

// Bridge guards a single native library load and dispatches calls into it.
type Bridge struct {
	loader Loader
	name   string
	stdout io.Writer
	logger *slog.Logger

	once   sync.Once
	status atomic.Int32
	lib    Library
	err    error
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLibraryName overrides the logical library name.
func WithLibraryName(name string) Option {
	return func(b *Bridge) { b.name = name }
}

// WithStdout redirects the load confirmation message.
func WithStdout(w io.Writer) Option {
	return func(b *Bridge) { b.stdout = w }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) { b.logger = logger }
}

// New creates a bridge that loads its library through loader on first use.
func New(loader Loader, opts ...Option) *Bridge {
	b := &Bridge{
		loader: loader,
		name:   LibraryName,
		stdout: os.Stdout,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Load performs the one-time library load and returns its outcome.
// Calls after the first return the recorded result without retrying.
func (b *Bridge) Load() error {
	b.once.Do(func() {
		lib, err := b.loader.Load(b.name)
		if err != nil {
			b.err = fmt.Errorf("failed to load native library %q: %w", b.name, err)
			b.status.Store(int32(StatusFailed))
			b.logger.Error("native library load failed", "library", b.name, "error", err)
			return
		}
		b.lib = lib
		b.status.Store(int32(StatusLoaded))
		fmt.Fprintln(b.stdout, loadedMessage)
		b.logger.Info("native library loaded", "library", b.name)
	})
	return b.err
}

// MustLoad loads the library and aborts the process if that fails.
func (b *Bridge) MustLoad() {
	if err := b.Load(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: %v\n", err)
		os.Exit(1)
	}
}

// Status returns the current load status.
func (b *Bridge) Status() Status {
	return Status(b.status.Load())
}

// StartServer hands cacheDir, unmodified, to the native entry point.
// Whether the native side blocks or spawns background work is up to the
// library; the library built from cmd/libserver_rs returns immediately.
func (b *Bridge) StartServer(cacheDir string) error {
	if err := b.Load(); err != nil {
		return fmt.Errorf("%w: %w", ErrNotLoaded, err)
	}
	b.logger.Debug("calling native entry point", "symbol", StartSymbol, "cacheDir", cacheDir)
	b.lib.StartServer(cacheDir)
	return nil
}

// StartServerDir starts the server with an open directory handle. The handle's
// Name is passed through as-is.
func (b *Bridge) StartServerDir(dir *os.File) error {
	return b.StartServer(dir.Name())
}

var (
	processOnce   sync.Once
	processBridge *Bridge
)

// Process returns the process-wide bridge. The first call picks its loader
// and options; later calls ignore their arguments and return the same
// bridge, so the library is loaded at most once per process whichever
// caller gets there first. A nil loader selects the dynamic loader with the
// default search directories.
func Process(loader Loader, opts ...Option) *Bridge {
	processOnce.Do(func() {
		if loader == nil {
			loader = NewDynamicLoader(nil)
		}
		processBridge = New(loader, opts...)
	})
	return processBridge
}

// Default returns the process-wide bridge.
func Default() *Bridge {
	return Process(nil)
}

// StartServer starts the native server through the process-wide bridge.
func StartServer(cacheDir string) error {
	return Default().StartServer(cacheDir)
}
