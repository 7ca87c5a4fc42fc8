package dedupe

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// SingleflightGroup shares one in-process fetch among all callers of a key.
type SingleflightGroup struct {
	group singleflight.Group
}

// NewSingleflightGroup creates a new SingleflightGroup.
func NewSingleflightGroup() *SingleflightGroup {
	return &SingleflightGroup{}
}

// Do runs fn once per key for all concurrent callers.
func (s *SingleflightGroup) Do(ctx context.Context, key string, fn FetchFunc) ([]byte, bool, error) {
	// The first caller's cancellation must not fail the others.
	fetchCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		return fn(fetchCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		return res.Val.([]byte), res.Shared, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}
