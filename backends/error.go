package backends

import (
	"errors"
	"fmt"
	"io"
	"math/rand"
	"sync/atomic"
	"time"
)

// ErrInjected marks failures produced by the Error wrapper.
var ErrInjected = errors.New("injected backend error")

// Error wraps a Backend and fails a fraction of its operations. It is used
// to exercise the server's fallbacks when shared storage misbehaves.
type Error struct {
	backend Backend
	rate    float64

	puts   atomic.Int64
	gets   atomic.Int64
	closes atomic.Int64
	clears atomic.Int64
}

// ErrorStats counts the injected failures per operation.
type ErrorStats struct {
	Put   int64 `json:"put"`
	Get   int64 `json:"get"`
	Close int64 `json:"close"`
	Clear int64 `json:"clear"`
}

// NewError wraps backend. errorRate is clamped to [0, 1].
func NewError(backend Backend, errorRate float64) *Error {
	return &Error{backend: backend, rate: min(max(errorRate, 0), 1)}
}

func (e *Error) fail(op string, counter *atomic.Int64) error {
	if e.rate == 0 || rand.Float64() >= e.rate {
		return nil
	}
	counter.Add(1)
	return fmt.Errorf("%s: %w (rate %.0f%%)", op, ErrInjected, e.rate*100)
}

func (e *Error) Put(key string, body io.Reader, bodySize int64) error {
	if err := e.fail("put", &e.puts); err != nil {
		return err
	}
	return e.backend.Put(key, body, bodySize)
}

func (e *Error) Get(key string) (io.ReadCloser, int64, *time.Time, bool, error) {
	if err := e.fail("get", &e.gets); err != nil {
		return nil, 0, nil, false, err
	}
	return e.backend.Get(key)
}

func (e *Error) Close() error {
	if err := e.fail("close", &e.closes); err != nil {
		return err
	}
	return e.backend.Close()
}

func (e *Error) Clear() error {
	if err := e.fail("clear", &e.clears); err != nil {
		return err
	}
	return e.backend.Clear()
}

// Stats returns the number of injected failures so far.
func (e *Error) Stats() ErrorStats {
	return ErrorStats{
		Put:   e.puts.Load(),
		Get:   e.gets.Load(),
		Close: e.closes.Load(),
		Clear: e.clears.Load(),
	}
}
