// Package dedupe collapses concurrent fetches of the same cache key.
package dedupe

import "context"

// FetchFunc produces the body for a key.
type FetchFunc func(ctx context.Context) ([]byte, error)

// Group runs at most one fetch per key at a time.
type Group interface {
	// Do runs fn for key, or waits for an in-flight call for the same key.
	// A caller whose ctx ends stops waiting and gets ctx.Err(); the fetch
	// itself keeps running for the remaining callers. shared reports whether
	// the result went to more than one caller.
	Do(ctx context.Context, key string, fn FetchFunc) (data []byte, shared bool, err error)
}
