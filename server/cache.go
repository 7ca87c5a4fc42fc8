package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/pbs-tv/tvserver/backends"
	"github.com/pbs-tv/tvserver/catalog"
	"github.com/pbs-tv/tvserver/dedupe"
	"github.com/pbs-tv/tvserver/metrics"
)

// fetchFunc produces the JSON body for a key from the catalog source.
type fetchFunc func(ctx context.Context) ([]byte, error)

// Cache is a read-through cache in front of the catalog source. Lookups go
// to the local cache directory, then the shared backend, then the source.
type Cache struct {
	local    *LocalCache
	backend  backends.Backend
	group    dedupe.Group
	fetchSem *semaphore.Weighted
	latency  *metrics.LatencyTracker
	logger   *slog.Logger
	now      func() time.Time

	hits          atomic.Int64
	backendHits   atomic.Int64
	misses        atomic.Int64
	staleServed   atomic.Int64
	fetchErrors   atomic.Int64
	backendErrors atomic.Int64
}

// CacheStats is a snapshot of the cache counters.
type CacheStats struct {
	Hits          int64 `json:"hits"`
	BackendHits   int64 `json:"backend_hits"`
	Misses        int64 `json:"misses"`
	StaleServed   int64 `json:"stale_served"`
	FetchErrors   int64 `json:"fetch_errors"`
	BackendErrors int64 `json:"backend_errors"`
}

// NewCache creates a cache. fetchConcurrency bounds concurrent source fetches.
func NewCache(local *LocalCache, backend backends.Backend, group dedupe.Group,
	fetchConcurrency int, latency *metrics.LatencyTracker, logger *slog.Logger) *Cache {
	if fetchConcurrency < 1 {
		fetchConcurrency = 1
	}
	return &Cache{
		local:    local,
		backend:  backend,
		group:    group,
		fetchSem: semaphore.NewWeighted(int64(fetchConcurrency)),
		latency:  latency,
		logger:   logger,
		now:      time.Now,
	}
}

// Get returns the body for key, fetching it when the local copy is missing
// or older than ttl. A stale local copy is served when the refresh fails for
// any reason other than catalog.ErrNotFound.
func (c *Cache) Get(ctx context.Context, key string, ttl time.Duration, fetch fetchFunc) ([]byte, error) {
	meta := c.local.Check(key)
	if meta != nil && meta.fresh(c.now()) {
		data, err := c.local.Read(key)
		if err == nil {
			c.hits.Add(1)
			return data, nil
		}
		c.logger.Warn("failed to read local cache entry", "key", key, "error", err)
	}

	data, shared, err := c.group.Do(ctx, key, func(ctx context.Context) ([]byte, error) {
		return c.refresh(ctx, key, ttl, fetch)
	})
	if err == nil {
		if shared {
			c.logger.Debug("shared in-flight fetch", "key", key)
		}
		return data, nil
	}
	if errors.Is(err, context.Canceled) {
		return nil, err
	}

	if meta != nil && !errors.Is(err, catalog.ErrNotFound) {
		if data, readErr := c.local.Read(key); readErr == nil {
			c.staleServed.Add(1)
			c.logger.Warn("serving stale cache entry", "key", key, "age", c.now().Sub(meta.PutTime), "error", err)
			return data, nil
		}
	}
	return nil, err
}

// refresh runs under the dedupe group for key.
func (c *Cache) refresh(ctx context.Context, key string, ttl time.Duration, fetch fetchFunc) ([]byte, error) {
	now := c.now()

	// Another process may have refreshed the entry while we waited for the lock
	if meta := c.local.Check(key); meta != nil && meta.fresh(now) {
		if data, err := c.local.Read(key); err == nil {
			c.hits.Add(1)
			return data, nil
		}
	}

	if data, putTime, ok := c.fromBackend(key); ok && putTime.Add(ttl).After(now) {
		c.backendHits.Add(1)
		c.store(key, data, putTime, putTime.Add(ttl))
		return data, nil
	}

	c.misses.Add(1)
	if err := c.fetchSem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for fetch slot: %w", err)
	}
	defer c.fetchSem.Release(1)

	var data []byte
	err := c.latency.RecordFunc("source "+opName(key), func() error {
		var fetchErr error
		data, fetchErr = fetch(ctx)
		return fetchErr
	})
	if err != nil {
		c.fetchErrors.Add(1)
		return nil, err
	}

	fetched := c.now()
	c.store(key, data, fetched, fetched.Add(ttl))
	if err := c.backend.Put(hashKey(key), bytes.NewReader(data), int64(len(data))); err != nil {
		c.backendErrors.Add(1)
		c.logger.Warn("failed to store entry in backend", "key", key, "error", err)
	}
	return data, nil
}

func (c *Cache) fromBackend(key string) ([]byte, time.Time, bool) {
	body, _, putTime, miss, err := c.backend.Get(hashKey(key))
	if err != nil {
		c.backendErrors.Add(1)
		c.logger.Warn("backend get failed", "key", key, "error", err)
		return nil, time.Time{}, false
	}
	if miss {
		return nil, time.Time{}, false
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		c.backendErrors.Add(1)
		c.logger.Warn("failed to read backend entry", "key", key, "error", err)
		return nil, time.Time{}, false
	}
	if putTime == nil {
		return data, c.now(), true
	}
	return data, *putTime, true
}

func (c *Cache) store(key string, data []byte, putTime, expires time.Time) {
	meta := localCacheMetadata{
		Key:     key,
		Size:    int64(len(data)),
		PutTime: putTime,
		Expires: expires,
	}
	if _, err := c.local.WriteWithMetadata(bytes.NewReader(data), meta); err != nil {
		c.logger.Warn("failed to write local cache entry", "key", key, "error", err)
	}
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		Hits:          c.hits.Load(),
		BackendHits:   c.backendHits.Load(),
		Misses:        c.misses.Load(),
		StaleServed:   c.staleServed.Load(),
		FetchErrors:   c.fetchErrors.Load(),
		BackendErrors: c.backendErrors.Load(),
	}
}

// opName is the first path element of a cache key ("home", "episodes", "episode").
func opName(key string) string {
	if i := strings.IndexByte(key, '/'); i >= 0 {
		return key[:i]
	}
	return key
}
