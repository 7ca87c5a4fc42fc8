package backends

import (
	"fmt"
	"io"
	"os"
	"time"
)

// Debug wraps a Backend and traces every operation to stderr with its
// outcome and duration.
type Debug struct {
	backend Backend
	out     io.Writer
}

// NewDebug creates a tracing wrapper around backend.
func NewDebug(backend Backend) *Debug {
	return &Debug{backend: backend, out: os.Stderr}
}

func (d *Debug) logf(format string, args ...any) {
	fmt.Fprintf(d.out, "[DEBUG] "+format+"\n", args...)
}

// finish logs the outcome of op started at start.
func (d *Debug) finish(op string, start time.Time, err error, outcome string) {
	if err != nil {
		d.logf("%s: ERROR: %v (duration: %v)", op, err, time.Since(start))
		return
	}
	d.logf("%s: %s (duration: %v)", op, outcome, time.Since(start))
}

func (d *Debug) Put(key string, body io.Reader, bodySize int64) error {
	d.logf("Put: key=%s, size=%d", key, bodySize)
	start := time.Now()
	err := d.backend.Put(key, body, bodySize)
	d.finish("Put", start, err, "stored")
	return err
}

func (d *Debug) Get(key string) (io.ReadCloser, int64, *time.Time, bool, error) {
	d.logf("Get: key=%s", key)
	start := time.Now()
	body, size, putTime, miss, err := d.backend.Get(key)

	outcome := fmt.Sprintf("HIT size=%d", size)
	if miss {
		outcome = "MISS"
	}
	d.finish("Get", start, err, outcome)
	return body, size, putTime, miss, err
}

func (d *Debug) Close() error {
	start := time.Now()
	err := d.backend.Close()
	d.finish("Close", start, err, "completed")
	return err
}

func (d *Debug) Clear() error {
	start := time.Now()
	err := d.backend.Clear()
	d.finish("Clear", start, err, "backend cleared successfully")
	return err
}
