package server

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalCache manages the response cache inside the server's cache directory.
// It handles writing, reading, and metadata management for cached entries.
type LocalCache struct {
	cacheDir string
	logger   *slog.Logger
}

// localCacheMetadata holds metadata for a cached entry.
type localCacheMetadata struct {
	Key     string
	Size    int64
	PutTime time.Time
	Expires time.Time
}

// fresh reports whether the entry is still within its lifetime at now.
func (m *localCacheMetadata) fresh(now time.Time) bool {
	return now.Before(m.Expires)
}

// NewLocalCache creates a new local cache instance.
// cacheDir is the directory where cached responses will be stored.
func NewLocalCache(cacheDir string, logger *slog.Logger) (*LocalCache, error) {
	// Ensure cache directory exists
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &LocalCache{
		cacheDir: cacheDir,
		logger:   logger,
	}, nil
}

// hashKey converts a request key to the file name used on disk and in backends.
func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// keyToPath converts a key to a local cache file path.
func (lc *LocalCache) keyToPath(key string) string {
	return filepath.Join(lc.cacheDir, hashKey(key))
}

// metadataPath returns the path to the metadata file for a key.
func (lc *LocalCache) metadataPath(key string) string {
	return lc.keyToPath(key) + ".meta"
}

// writeMetadata writes metadata for a cache entry.
func (lc *LocalCache) writeMetadata(meta localCacheMetadata) error {
	metaPath := lc.metadataPath(meta.Key)

	// Format: size:num\ntime:unix\nexpires:unix\nkey:text\n
	content := fmt.Sprintf("size:%d\ntime:%d\nexpires:%d\nkey:%s\n",
		meta.Size,
		meta.PutTime.Unix(),
		meta.Expires.Unix(),
		meta.Key)

	// Write to temp file first for atomic operation
	tmpFile, err := os.CreateTemp(lc.cacheDir, ".meta-*")
	if err != nil {
		return fmt.Errorf("failed to create temp metadata: %w", err)
	}
	tmpPath := tmpFile.Name()
	_, err = tmpFile.WriteString(content)
	closeErr := tmpFile.Close()
	if err != nil || closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp metadata: %w", firstErr(err, closeErr))
	}

	// Atomically rename
	if err := os.Rename(tmpPath, metaPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename metadata: %w", err)
	}

	return nil
}

// readMetadata reads metadata for a cache entry.
// Returns an error if metadata doesn't exist or is corrupted.
func (lc *LocalCache) readMetadata(key string) (*localCacheMetadata, error) {
	data, err := os.ReadFile(lc.metadataPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("metadata file not found")
		}
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}

	meta := localCacheMetadata{}
	var putTimeUnix, expiresUnix int64
	var sawExpires bool

	// Parse each line
	for _, line := range strings.Split(string(data), "\n") {
		switch {
		case strings.HasPrefix(line, "size:"):
			fmt.Sscanf(line, "size:%d", &meta.Size)
		case strings.HasPrefix(line, "time:"):
			fmt.Sscanf(line, "time:%d", &putTimeUnix)
		case strings.HasPrefix(line, "expires:"):
			if _, err := fmt.Sscanf(line, "expires:%d", &expiresUnix); err == nil {
				sawExpires = true
			}
		case strings.HasPrefix(line, "key:"):
			meta.Key = strings.TrimPrefix(line, "key:")
		}
	}

	if !sawExpires {
		return nil, fmt.Errorf("metadata missing expires field")
	}
	if meta.Key != key {
		return nil, fmt.Errorf("metadata key mismatch: %q", meta.Key)
	}

	meta.PutTime = time.Unix(putTimeUnix, 0)
	meta.Expires = time.Unix(expiresUnix, 0)
	return &meta, nil
}

// Write atomically writes data from a reader to the local cache.
// Returns the absolute path to the cached file.
func (lc *LocalCache) Write(key string, body io.Reader) (string, error) {
	diskPath := lc.keyToPath(key)

	// Create a temporary file in the same directory for atomic write
	tmpFile, err := os.CreateTemp(lc.cacheDir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath) // Clean up if something goes wrong

	// Copy data to temp file
	_, err = io.Copy(tmpFile, body)
	closeErr := tmpFile.Close()
	if err != nil {
		return "", fmt.Errorf("failed to write to temp file: %w", err)
	}
	if closeErr != nil {
		return "", fmt.Errorf("failed to close temp file: %w", closeErr)
	}

	// Atomically rename temp file to final destination
	if err := os.Rename(tmpPath, diskPath); err != nil {
		return "", fmt.Errorf("failed to rename cache file: %w", err)
	}

	absPath, err := filepath.Abs(diskPath)
	if err != nil {
		return diskPath, nil // fallback to relative path
	}

	return absPath, nil
}

// WriteWithMetadata writes data and metadata to the local cache.
// Returns the absolute path to the cached file.
func (lc *LocalCache) WriteWithMetadata(body io.Reader, meta localCacheMetadata) (string, error) {
	diskPath, err := lc.Write(meta.Key, body)
	if err != nil {
		return "", err
	}

	if err := lc.writeMetadata(meta); err != nil {
		lc.logger.Warn("failed to write local cache metadata",
			"key", meta.Key,
			"error", err)
		// Without metadata the entry reads as a miss and is fetched again
	}

	return diskPath, nil
}

// Check checks if a response exists in the local cache and returns its metadata.
// Returns nil if not found, and logs a warning if metadata is missing/corrupted.
func (lc *LocalCache) Check(key string) *localCacheMetadata {
	if _, err := os.Stat(lc.keyToPath(key)); err != nil {
		return nil
	}

	meta, err := lc.readMetadata(key)
	if err != nil {
		lc.logger.Warn("local cache file exists but metadata is missing/corrupted",
			"key", key,
			"error", err)
		return nil
	}

	return meta
}

// Read returns the cached bytes for key.
func (lc *LocalCache) Read(key string) ([]byte, error) {
	data, err := os.ReadFile(lc.keyToPath(key))
	if err != nil {
		return nil, fmt.Errorf("failed to read cache file: %w", err)
	}
	return data, nil
}

// Usage returns the number of cached entries and their total size in bytes.
func (lc *LocalCache) Usage() (entries int, size int64, err error) {
	dirEntries, err := os.ReadDir(lc.cacheDir)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read cache directory: %w", err)
	}
	for _, e := range dirEntries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".meta") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		entries++
		size += info.Size()
	}
	return entries, size, nil
}

// Clear removes every entry. The directory itself is kept.
func (lc *LocalCache) Clear() error {
	dirEntries, err := os.ReadDir(lc.cacheDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read cache directory: %w", err)
	}
	for _, e := range dirEntries {
		path := filepath.Join(lc.cacheDir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
