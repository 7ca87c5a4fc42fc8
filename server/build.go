package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pbs-tv/tvserver/backends"
	"github.com/pbs-tv/tvserver/catalog"
	"github.com/pbs-tv/tvserver/config"
	"github.com/pbs-tv/tvserver/dedupe"
)

// catalogFile is the static catalog looked up in the cache directory when
// no path is configured.
const catalogFile = "catalog.yaml"

// StartServer runs the server with the arguments the native entry point
// passes: the cache directory, the request worker count, the number of
// concurrent source fetches and the port. Settings from tvserver.yaml in
// cacheDir apply to everything else. It blocks until the server fails.
func StartServer(cacheDir string, workers, fetchConcurrency, port int) error {
	cfg, err := config.Load(filepath.Join(cacheDir, config.FileName))
	if err != nil {
		return err
	}
	cfg.Cache.Dir = cacheDir
	cfg.Server.Workers = workers
	cfg.Server.FetchConcurrency = fetchConcurrency
	cfg.Server.Port = port
	if err := cfg.Validate(); err != nil {
		return err
	}

	s, err := FromConfig(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer s.Close()
	return s.Run(context.Background())
}

// StartInBackground runs StartServer on its own goroutine and returns at
// once. A failure is logged and delivered on the returned channel, which is
// closed afterwards; it never brings down the host process, so a second
// start on a busy port leaves the first server running.
func StartInBackground(cacheDir string, workers, fetchConcurrency, port int) <-chan error {
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		if err := StartServer(cacheDir, workers, fetchConcurrency, port); err != nil {
			slog.Error("error while starting server", "cacheDir", cacheDir, "port", port, "error", err)
			errc <- err
		}
	}()
	return errc
}

// FromConfig builds a server and its backend, dedupe group and catalog
// source from cfg.
func FromConfig(cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	backend, err := NewBackend(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache backend: %w", err)
	}

	group, err := NewDedupeGroup(cfg.Dedupe)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to create dedupe group: %w", err)
	}

	source, err := NewSource(cfg, logger)
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to create catalog source: %w", err)
	}

	s, err := New(Options{
		CacheDir:         cfg.Cache.Dir,
		Host:             cfg.Server.Host,
		Port:             cfg.Server.Port,
		Workers:          cfg.Server.Workers,
		FetchConcurrency: cfg.Server.FetchConcurrency,
		Source:           source,
		Backend:          backend,
		Group:            group,
		HomeTTL:          time.Duration(cfg.Cache.HomeTTL),
		EpisodesTTL:      time.Duration(cfg.Cache.EpisodesTTL),
		EpisodeTTL:       time.Duration(cfg.Cache.EpisodeTTL),
		PrintStats:       cfg.Stats,
		Logger:           logger,
	})
	if err != nil {
		backend.Close()
		return nil, err
	}
	return s, nil
}

// NewBackend creates the shared storage selected by cfg.Backend, wrapped
// for compression, error injection and debug logging as configured.
func NewBackend(cfg config.Config, logger *slog.Logger) (backends.Backend, error) {
	bc := cfg.Backend

	var backend backends.Backend
	var err error

	switch strings.ToLower(bc.Type) {
	case "none", "":
		backend = backends.NewNoop()

	case "disk":
		dir := bc.Dir
		if dir == "" {
			dir = filepath.Join(cfg.Cache.Dir, "shared")
		}
		backend, err = backends.NewDisk(dir)

	case "s3":
		if bc.Bucket == "" {
			return nil, fmt.Errorf("S3 bucket is required for S3 backend (set via -bucket flag or BUCKET env var)")
		}
		backend, err = backends.NewS3(bc.Bucket, bc.Prefix)

	case "gcs":
		if bc.Bucket == "" {
			return nil, fmt.Errorf("GCS bucket is required for GCS backend (set via -bucket flag or BUCKET env var)")
		}
		backend, err = backends.NewGCS(bc.Bucket, bc.Prefix, bc.GCSCredentialsFile)

	default:
		return nil, fmt.Errorf("unknown backend type: %s (supported: none, disk, s3, gcs)", bc.Type)
	}

	if err != nil {
		return nil, err
	}

	if bc.Compress {
		backend = backends.NewCompressed(backend)
	}

	if bc.ErrorRate > 0 {
		backend = backends.NewError(backend, bc.ErrorRate)
		logger.Info("error injection enabled", "rate", bc.ErrorRate)
	}

	if cfg.Debug {
		backend = backends.NewDebug(backend)
	}

	return backend, nil
}

// NewDedupeGroup creates the group that collapses concurrent fetches.
func NewDedupeGroup(dc config.DedupeConfig) (dedupe.Group, error) {
	switch strings.ToLower(dc.Type) {
	case "memory", "":
		return dedupe.NewSingleflightGroup(), nil

	case "fslock", "fs":
		group, err := dedupe.NewFlockGroup(dc.LockDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create fslock group: %w", err)
		}
		return group, nil

	case "noop":
		return dedupe.NewNoOpGroup(), nil

	default:
		return nil, fmt.Errorf("unknown dedupe type: %s (supported: memory, fslock, noop)", dc.Type)
	}
}

// NewSource creates the catalog source. A static source whose catalog file
// does not exist serves an empty catalog.
func NewSource(cfg config.Config, logger *slog.Logger) (catalog.Source, error) {
	sc := cfg.Source
	switch strings.ToLower(sc.Type) {
	case "static", "":
		path := sc.CatalogPath
		if path == "" {
			path = filepath.Join(cfg.Cache.Dir, catalogFile)
		}
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			logger.Warn("catalog file not found, serving an empty catalog", "path", path)
			return catalog.NewStatic(catalog.File{}), nil
		}
		return catalog.LoadStatic(path)

	case "remote":
		return catalog.NewRemote(catalog.RemoteOptions{
			BaseURL:  sc.RemoteURL,
			Timeout:  time.Duration(sc.Timeout),
			RetryMax: sc.RetryMax,
			Logger:   logger,
		})

	default:
		return nil, fmt.Errorf("unknown source type: %s (supported: static, remote)", sc.Type)
	}
}

// ClearCache removes every cached response from the cache directory and the
// configured backend.
func ClearCache(cfg config.Config, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	backend, err := NewBackend(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create cache backend: %w", err)
	}
	defer backend.Close()

	if err := backend.Clear(); err != nil {
		return fmt.Errorf("failed to clear backend cache: %w", err)
	}

	local, err := NewLocalCache(filepath.Join(cfg.Cache.Dir, responsesDir), logger)
	if err != nil {
		return err
	}
	if err := local.Clear(); err != nil {
		return fmt.Errorf("failed to clear local cache: %w", err)
	}
	return nil
}
