package dedupe

import "context"

// NoOpGroup runs every fetch. Used when each request should reach the source.
type NoOpGroup struct{}

// NewNoOpGroup creates a new NoOpGroup.
func NewNoOpGroup() *NoOpGroup {
	return &NoOpGroup{}
}

// Do calls fn directly; shared is always false.
func (n *NoOpGroup) Do(ctx context.Context, key string, fn FetchFunc) ([]byte, bool, error) {
	data, err := fn(ctx)
	return data, false, err
}
