package dedupe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// FSLockGroup serializes fetches of a key across every server process that
// shares the lock directory, using one flock file per key.
type FSLockGroup struct {
	lockDir     string
	lockTimeout time.Duration
}

// defaultLockTimeout bounds how long a caller waits for another process
// fetching the same key.
const defaultLockTimeout = 30 * time.Second

// NewFlockGroup creates the lock directory, os.TempDir()/tvserver-dedupe-locks
// when lockDir is empty.
func NewFlockGroup(lockDir string) (*FSLockGroup, error) {
	if lockDir == "" {
		lockDir = filepath.Join(os.TempDir(), "tvserver-dedupe-locks")
	}

	if err := os.MkdirAll(lockDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	return &FSLockGroup{
		lockDir:     lockDir,
		lockTimeout: defaultLockTimeout,
	}, nil
}

// Do runs fn while holding the file lock for key. Callers in this and other
// processes wait for the lock, up to lockTimeout or until ctx ends. The result
// is not shared, so fn should re-check the cache once it holds the lock.
func (g *FSLockGroup) Do(ctx context.Context, key string, fn FetchFunc) ([]byte, bool, error) {
	hash := sha256.Sum256([]byte(key))
	lockPath := filepath.Join(g.lockDir, hex.EncodeToString(hash[:])+".lock")

	fileLock := flock.New(lockPath)
	lockCtx, cancel := context.WithTimeout(ctx, g.lockTimeout)
	defer cancel()
	acquired, err := fileLock.TryLockContext(lockCtx, 10*time.Millisecond)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, false, ctxErr
		}
		return nil, false, fmt.Errorf("failed to acquire lock for %s: %w", key, err)
	}
	if !acquired {
		return nil, false, fmt.Errorf("failed to acquire lock for %s: timeout after %v", key, g.lockTimeout)
	}
	defer fileLock.Unlock()

	data, err := fn(ctx)
	return data, false, err
}
