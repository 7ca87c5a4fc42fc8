package backends

import (
	"io"
	"time"
)

// Backend defines the interface for shared response storage.
//
// Implementations can be swapped to use different storage mechanisms.
//
// Implementations must be thread-safe and support concurrent operations,
// but the caller (server.Cache) guarantees that there will never be two
// inflight fetches for the same key (dedupe group), which keeps the
// backends free of per-key locking.
type Backend interface {
	// Put stores an object under key. bodySize is the size in bytes.
	Put(key string, body io.Reader, bodySize int64) error

	// Get retrieves an object. The caller must close body when miss is false.
	// Returns the body, its size, the time it was stored and whether it was a miss.
	Get(key string) (body io.ReadCloser, size int64, putTime *time.Time, miss bool, err error)

	// Close performs any cleanup operations needed by the backend.
	Close() error

	// Clear removes all entries from the backend.
	Clear() error
}
