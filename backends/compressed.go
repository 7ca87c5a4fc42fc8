package backends

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/pierrec/lz4/v4"
)

// Compressed wraps a Backend and stores bodies as lz4 frames.
type Compressed struct {
	backend Backend
}

// NewCompressed creates a new lz4 compressing wrapper.
func NewCompressed(backend Backend) *Compressed {
	return &Compressed{backend: backend}
}

// Put compresses body and stores it.
func (c *Compressed) Put(key string, body io.Reader, bodySize int64) error {
	var buf bytes.Buffer
	zw := lz4.NewWriter(&buf)
	if bodySize > 0 && body != nil {
		n, err := io.Copy(zw, body)
		if err != nil {
			return fmt.Errorf("failed to compress body: %w", err)
		}
		if n != bodySize {
			return fmt.Errorf("size mismatch: expected %d, read %d", bodySize, n)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish lz4 frame: %w", err)
	}
	return c.backend.Put(key, &buf, int64(buf.Len()))
}

// Get retrieves and decompresses an object. The returned size is the
// decompressed size.
func (c *Compressed) Get(key string) (io.ReadCloser, int64, *time.Time, bool, error) {
	body, _, putTime, miss, err := c.backend.Get(key)
	if err != nil || miss {
		return nil, 0, putTime, miss, err
	}
	defer body.Close()

	data, err := io.ReadAll(lz4.NewReader(body))
	if err != nil {
		return nil, 0, nil, false, fmt.Errorf("failed to decompress object: %w", err)
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), putTime, false, nil
}

func (c *Compressed) Close() error { return c.backend.Close() }

func (c *Compressed) Clear() error { return c.backend.Clear() }
