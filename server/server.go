// Package server implements the tvserver HTTP API on top of a cached
// catalog source.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/pbs-tv/tvserver/backends"
	"github.com/pbs-tv/tvserver/catalog"
	"github.com/pbs-tv/tvserver/dedupe"
	"github.com/pbs-tv/tvserver/metrics"
)

// responsesDir is the subdirectory of the cache directory holding cached responses.
const responsesDir = "responses"

const shutdownTimeout = 5 * time.Second

const (
	defaultHomeTTL     = 6 * time.Hour
	defaultEpisodesTTL = time.Hour
	defaultEpisodeTTL  = 24 * time.Hour
)

// Options configures a Server.
type Options struct {
	// CacheDir is the working directory handed to the server.
	CacheDir string

	Host             string
	Port             int
	Workers          int
	FetchConcurrency int

	Source  catalog.Source
	Backend backends.Backend
	Group   dedupe.Group

	HomeTTL     time.Duration
	EpisodesTTL time.Duration
	EpisodeTTL  time.Duration

	// PrintStats prints cache and latency statistics on shutdown.
	PrintStats bool

	Logger *slog.Logger
}

// Server serves the TV catalog over HTTP.
type Server struct {
	opts      Options
	cache     *Cache
	local     *LocalCache
	latency   *metrics.LatencyTracker
	workers   *semaphore.Weighted
	cursors   *cursorTable
	logger    *slog.Logger
	startTime time.Time
	handler   http.Handler

	closeOnce sync.Once
}

// New creates a server. Source and CacheDir are required. A nil Backend or
// Group falls back to no shared storage and in-memory deduplication, and
// zero TTLs to 6h for home, 1h for episode pages and 24h for episodes.
func New(opts Options) (*Server, error) {
	if opts.Source == nil {
		return nil, fmt.Errorf("server: catalog source is required")
	}
	if opts.CacheDir == "" {
		return nil, fmt.Errorf("server: cache directory is required")
	}
	if opts.Backend == nil {
		opts.Backend = backends.NewNoop()
	}
	if opts.Group == nil {
		opts.Group = dedupe.NewSingleflightGroup()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.HomeTTL <= 0 {
		opts.HomeTTL = defaultHomeTTL
	}
	if opts.EpisodesTTL <= 0 {
		opts.EpisodesTTL = defaultEpisodesTTL
	}
	if opts.EpisodeTTL <= 0 {
		opts.EpisodeTTL = defaultEpisodeTTL
	}

	local, err := NewLocalCache(filepath.Join(opts.CacheDir, responsesDir), opts.Logger)
	if err != nil {
		return nil, err
	}

	latency := metrics.NewLatencyTracker(0.01)
	s := &Server{
		opts:      opts,
		local:     local,
		cache:     NewCache(local, opts.Backend, opts.Group, opts.FetchConcurrency, latency, opts.Logger),
		latency:   latency,
		workers:   semaphore.NewWeighted(int64(opts.Workers)),
		cursors:   newCursorTable(),
		logger:    opts.Logger,
		startTime: time.Now(),
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
}

// Run listens on the configured address and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("server listening", "addr", ln.Addr().String(), "cacheDir", s.opts.CacheDir)
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if s.opts.PrintStats {
		s.printStats()
	}
	return err
}

// Close releases the backend.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.opts.Backend.Close()
	})
	return err
}
