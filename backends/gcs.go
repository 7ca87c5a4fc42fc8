package backends

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCS implements Backend using Google Cloud Storage.
type GCS struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
	ctx    context.Context
}

// NewGCS creates a new GCS-based backend. credentialsFile may be empty to use
// application default credentials.
func NewGCS(bucket, prefix, credentialsFile string) (*GCS, error) {
	ctx := context.Background()

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	handle := client.Bucket(bucket)
	if _, err := handle.Attrs(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to access GCS bucket %s: %w", bucket, err)
	}

	return &GCS{
		client: client,
		bucket: handle,
		prefix: prefix,
		ctx:    ctx,
	}, nil
}

// Put stores an object in GCS. A failed copy cancels the upload so no
// partial object is committed.
func (g *GCS) Put(key string, body io.Reader, bodySize int64) error {
	ctx, cancel := context.WithCancel(g.ctx)
	defer cancel()

	w := g.bucket.Object(g.prefix + key).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	w.Metadata = map[string]string{
		"size": strconv.FormatInt(bodySize, 10),
		"time": strconv.FormatInt(time.Now().Unix(), 10),
	}

	var written int64
	var err error
	if bodySize > 0 && body != nil {
		written, err = io.Copy(w, body)
	}
	if err == nil && written != bodySize {
		err = fmt.Errorf("size mismatch: expected %d, wrote %d", bodySize, written)
	}
	if err != nil {
		cancel()
		w.Close()
		return fmt.Errorf("failed to upload to GCS: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to finalize GCS upload: %w", err)
	}
	return nil
}

// Get retrieves an object from GCS.
func (g *GCS) Get(key string) (io.ReadCloser, int64, *time.Time, bool, error) {
	obj := g.bucket.Object(g.prefix + key)
	attrs, err := obj.Attrs(g.ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, 0, nil, true, nil
		}
		return nil, 0, nil, true, fmt.Errorf("failed to stat GCS object: %w", err)
	}

	r, err := obj.NewReader(g.ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, 0, nil, true, nil
		}
		return nil, 0, nil, true, fmt.Errorf("failed to read GCS object: %w", err)
	}

	size := attrs.Size
	if v, err := strconv.ParseInt(attrs.Metadata["size"], 10, 64); err == nil {
		size = v
	}
	putTime := attrs.Created
	if unix, err := strconv.ParseInt(attrs.Metadata["time"], 10, 64); err == nil {
		putTime = time.Unix(unix, 0)
	}

	return r, size, &putTime, false, nil
}

// Close releases the GCS client.
func (g *GCS) Close() error {
	return g.client.Close()
}

// Clear removes all objects under the prefix.
func (g *GCS) Clear() error {
	it := g.bucket.Objects(g.ctx, &storage.Query{Prefix: g.prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to list GCS objects: %w", err)
		}
		if err := g.bucket.Object(attrs.Name).Delete(g.ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("failed to delete %s: %w", attrs.Name, err)
		}
	}
	return nil
}
