package cache

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// NullStore is a Store that never persists anything.
// Concurrent identical requests are still collapsed into one computation.
// Useful for testing or when caching should be disabled.
type NullStore struct {
	group singleflight.Group
}

// NewNullStore creates a null store.
func NewNullStore() *NullStore {
	return &NullStore{}
}

// GetOrCompute always computes, sharing in-flight calls per key.
func (s *NullStore) GetOrCompute(ctx context.Context, key Key, compute ComputeFunc) ([]byte, bool, error) {
	if err := key.validate(); err != nil {
		return nil, false, err
	}
	v, err, _ := s.group.Do(key.Filename(), func() (any, error) {
		return compute(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, false, err
	}
	return v.([]byte), false, nil
}

// Close does nothing.
func (s *NullStore) Close() error {
	return nil
}

// Ensure NullStore implements Store.
var _ Store = (*NullStore)(nil)
