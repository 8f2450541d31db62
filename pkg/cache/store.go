// Package cache provides the content-addressed render cache.
//
// Render results are stored as one file per key in a flat directory, named
// {contentHash}-{format}{ext}. A file's modification time doubles as its
// last-access time: every hit "touches" the file, and the [Evictor] removes
// files by age or total-size budget.
//
// # Get-or-compute
//
// [Store.GetOrCompute] returns the cached bytes for a key or runs the compute
// function to produce them. Concurrent misses on the same key share a single
// computation; late arrivals wait for the in-flight result instead of starting
// a second toolchain invocation. Failures are returned to every waiter and are
// never cached, so the next call retries.
//
// Entries are published by writing a hidden temp file and renaming it into
// place, so readers and the evictor never observe partial content.
//
// # Usage
//
//	store, err := cache.NewFileStore(dir, cache.WithLogger(logger))
//	if err != nil {
//	    return err // cache dir unusable
//	}
//	key := cache.NewKey(preamble, body, "png", ".png")
//	data, hit, err := store.GetOrCompute(ctx, key, func(ctx context.Context) ([]byte, error) {
//	    return invoker.Render(ctx, req)
//	})
package cache

import (
	"context"
	"strings"
	"time"
)

// ComputeFunc produces the bytes for a cache miss.
type ComputeFunc func(ctx context.Context) ([]byte, error)

// Store maps render keys to previously computed bytes.
//
// Implementations must run compute at most once per key among concurrent
// callers and must not cache failures. Returned slices are shared between
// callers of the same flight and must not be modified.
type Store interface {
	// GetOrCompute returns the bytes for key, computing and storing them on
	// a miss. hit reports whether the bytes came from an existing entry.
	GetOrCompute(ctx context.Context, key Key, compute ComputeFunc) (data []byte, hit bool, err error)

	// Close releases resources held by the store.
	Close() error
}

// Entry describes one stored render result.
type Entry struct {
	Name    string    // file name: {hash}-{format}{ext}
	Size    int64     // size in bytes
	ModTime time.Time // last access (touch) time
}

// Age returns how long ago the entry was last accessed.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.ModTime)
}

// tempPrefix marks files that are still being written. They are never
// listed as entries.
const tempPrefix = ".tmp-"

func isTemp(name string) bool {
	return strings.HasPrefix(name, tempPrefix)
}

// validate rejects keys that would escape the cache directory or collide
// with temp files.
func (k Key) validate() error {
	if k.Hash == "" || k.Format == "" {
		return ErrInvalidKey
	}
	name := k.Filename()
	if strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return ErrInvalidKey
	}
	return nil
}

// flight is the value shared by all callers of one singleflight call.
type flight struct {
	data []byte
	hit  bool
}
