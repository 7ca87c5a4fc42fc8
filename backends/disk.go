package backends

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Disk implements Backend on a local directory, typically one shared by
// several tvserver processes. Objects are spread over two-character shard
// directories so a large catalog does not end up in a single directory.
//
// Each object has a sidecar "<key>.meta" holding "<size> <unix-nanos>".
// The sidecar is renamed into place before the object, so a reader that
// finds the object always finds its metadata.
type Disk struct {
	baseDir string
}

// NewDisk creates a disk backend rooted at baseDir.
func NewDisk(baseDir string) (*Disk, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backend directory: %w", err)
	}
	return &Disk{baseDir: baseDir}, nil
}

// Put stores body under key.
func (d *Disk) Put(key string, body io.Reader, bodySize int64) error {
	if body == nil {
		body = strings.NewReader("")
	}

	objTmp, err := d.writeTemp(io.LimitReader(body, bodySize+1), bodySize)
	if err != nil {
		return err
	}
	defer os.Remove(objTmp)

	meta := strconv.FormatInt(bodySize, 10) + " " + strconv.FormatInt(time.Now().UnixNano(), 10) + "\n"
	metaTmp, err := d.writeTemp(strings.NewReader(meta), int64(len(meta)))
	if err != nil {
		return err
	}
	defer os.Remove(metaTmp)

	objPath := d.objectPath(key)
	if err := os.MkdirAll(filepath.Dir(objPath), 0755); err != nil {
		return fmt.Errorf("failed to create shard directory: %w", err)
	}
	if err := os.Rename(metaTmp, objPath+".meta"); err != nil {
		return fmt.Errorf("failed to store metadata: %w", err)
	}
	if err := os.Rename(objTmp, objPath); err != nil {
		return fmt.Errorf("failed to store object: %w", err)
	}
	return nil
}

// writeTemp copies r into a temp file in the base directory and checks that
// exactly want bytes were written. The caller removes the returned path.
func (d *Disk) writeTemp(r io.Reader, want int64) (string, error) {
	f, err := os.CreateTemp(d.baseDir, ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	written, copyErr := io.Copy(f, r)
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		err = fmt.Errorf("failed to write object: %w", copyErr)
	case closeErr != nil:
		err = fmt.Errorf("failed to close temp file: %w", closeErr)
	case written != want:
		err = fmt.Errorf("size mismatch: expected %d, wrote %d", want, written)
	}
	if err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// Get opens the object stored under key.
func (d *Disk) Get(key string) (io.ReadCloser, int64, *time.Time, bool, error) {
	objPath := d.objectPath(key)

	raw, err := os.ReadFile(objPath + ".meta")
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, nil, true, nil
	}
	if err != nil {
		return nil, 0, nil, true, fmt.Errorf("failed to read metadata: %w", err)
	}
	size, putTime, ok := parseDiskMeta(string(raw))
	if !ok {
		// Unreadable sidecars are treated as absent; the next Put replaces them.
		return nil, 0, nil, true, nil
	}

	f, err := os.Open(objPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, nil, true, nil
	}
	if err != nil {
		return nil, 0, nil, true, fmt.Errorf("failed to open object: %w", err)
	}
	return f, size, &putTime, false, nil
}

func parseDiskMeta(s string) (int64, time.Time, bool) {
	sizeStr, nanosStr, found := strings.Cut(strings.TrimSpace(s), " ")
	if !found {
		return 0, time.Time{}, false
	}
	size, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	nanos, err := strconv.ParseInt(nanosStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, false
	}
	return size, time.Unix(0, nanos), true
}

// Close is a no-op for the disk backend.
func (d *Disk) Close() error {
	return nil
}

// Clear removes every object, shard directory and leftover temp file.
func (d *Disk) Clear() error {
	entries, err := os.ReadDir(d.baseDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read backend directory: %w", err)
	}
	for _, entry := range entries {
		path := filepath.Join(d.baseDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	return nil
}

func (d *Disk) objectPath(key string) string {
	shard := "_"
	if len(key) >= 2 {
		shard = key[:2]
	}
	return filepath.Join(d.baseDir, shard, key)
}
