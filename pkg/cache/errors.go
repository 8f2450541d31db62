package cache

import (
	"errors"
)

// Sentinel errors for caching operations.
var (
	// ErrClosed is returned when a store is used after Close.
	ErrClosed = errors.New("cache closed")

	// ErrInvalidKey is returned for keys that cannot name a cache file.
	ErrInvalidKey = errors.New("invalid cache key")
)
