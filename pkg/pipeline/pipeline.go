// Package pipeline coordinates cached renders for the batch compiler and the
// render service.
//
// A [Runner] combines a [cache.Store] with a [Renderer] (normally a
// [render.Invoker]): every request is normalized, validated and hashed, and
// the toolchain only runs on a cache miss. Concurrent identical requests
// collapse into one toolchain invocation through the store.
//
// # Usage
//
// Render a single snippet:
//
//	runner := pipeline.NewRunner(store, invoker, registry, logger)
//	res := runner.RenderOne(ctx, render.Request{Body: src, Format: "png"})
//	if res.Err != nil {
//	    fmt.Fprintln(os.Stderr, errors.Diagnostic(res.Err))
//	}
//
// Render a batch with bounded parallelism:
//
//	results := runner.RenderMany(ctx, reqs, 4) // results[i] belongs to reqs[i]
//
// Fill the cache without keeping the bytes:
//
//	failed := runner.Prewarm(ctx, reqs, 0) // 0 = one worker per CPU
package pipeline

import (
	"time"

	"github.com/matzehuels/tikzserve/pkg/cache"
	"github.com/matzehuels/tikzserve/pkg/render"
)

// =============================================================================
// Default Values
// =============================================================================

// DefaultMaxPasses bounds the compile passes a single request may ask for.
const DefaultMaxPasses = 5

// =============================================================================
// Results
// =============================================================================

// Result is the outcome of one request. Err == nil means success.
type Result struct {
	// Request is the normalized request.
	Request render.Request

	// Format is the resolved output format. Zero if the request was invalid.
	Format render.Format

	// Key is the cache key. Zero if the request was invalid.
	Key cache.Key

	// Data holds the rendered bytes on success.
	Data []byte

	// Cached reports whether Data came from an existing cache entry.
	Cached bool

	// Duration is the wall time spent on the request.
	Duration time.Duration

	// Err is a *errors.Error describing the failure, if any.
	Err error
}

// OK reports whether the request succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Stats summarizes a batch of results.
type Stats struct {
	Total  int
	Cached int
	Failed int
}

// Summarize counts cached and failed results.
func Summarize(results []Result) Stats {
	s := Stats{Total: len(results)}
	for _, r := range results {
		switch {
		case r.Err != nil:
			s.Failed++
		case r.Cached:
			s.Cached++
		}
	}
	return s
}
