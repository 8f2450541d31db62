package pipeline

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/matzehuels/tikzserve/pkg/cache"
	errs "github.com/matzehuels/tikzserve/pkg/errors"
	"github.com/matzehuels/tikzserve/pkg/render"
)

// Renderer produces image bytes for a request.
type Renderer interface {
	Render(ctx context.Context, req render.Request) ([]byte, error)
}

// Runner executes render requests through a cache.
//
// The Runner holds no per-request state. Multiple goroutines can safely use
// the same Runner.
type Runner struct {
	Store     cache.Store
	Renderer  Renderer
	Registry  *render.Registry
	Logger    *log.Logger
	MaxPasses int
}

// NewRunner creates a runner.
// If store is nil, a NullStore is used (caching disabled).
// If registry is nil, the default registry is used.
func NewRunner(store cache.Store, renderer Renderer, registry *render.Registry, logger *log.Logger) *Runner {
	if store == nil {
		store = cache.NewNullStore()
	}
	if registry == nil {
		registry = render.DefaultRegistry()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{
		Store:     store,
		Renderer:  renderer,
		Registry:  registry,
		Logger:    logger,
		MaxPasses: DefaultMaxPasses,
	}
}

// KeyFor returns the cache key for a normalized request.
func KeyFor(req render.Request, format render.Format) cache.Key {
	return cache.NewKey(req.Preamble, req.Body, format.Name, format.Extension, req.OptionsDigest()...)
}

// RenderOne renders a single request, consulting the cache first.
// It never panics; every failure is reported in Result.Err.
func (r *Runner) RenderOne(ctx context.Context, req render.Request) (res Result) {
	start := time.Now()
	req = req.Normalize()
	res.Request = req
	defer func() {
		if p := recover(); p != nil {
			r.Logger.Error("render panicked", "format", req.Format, "panic", p)
			res.Data, res.Cached = nil, false
			res.Err = errs.New(errs.ErrCodeInternal, "render panicked: %v", p)
		}
		res.Duration = time.Since(start)
	}()

	if err := req.Validate(r.MaxPasses); err != nil {
		res.Err = err
		return res
	}
	format, err := r.Registry.Lookup(req.Format)
	if err != nil {
		res.Err = err
		return res
	}
	res.Format = format
	res.Key = KeyFor(req, format)

	data, hit, err := r.Store.GetOrCompute(ctx, res.Key, func(ctx context.Context) ([]byte, error) {
		return r.Renderer.Render(ctx, req)
	})
	if err != nil {
		res.Err = err
		return res
	}
	res.Data, res.Cached = data, hit

	r.Logger.Debug("render done",
		"key", res.Key.Filename(),
		"cached", hit,
		"bytes", len(data),
		"duration", time.Since(start))
	return res
}

// RenderMany renders all requests with at most parallelism concurrent
// renders (parallelism <= 0 means one per CPU). results[i] belongs to
// reqs[i]. A failed request never affects the others; requests not started
// when ctx is cancelled fail with the context error.
func (r *Runner) RenderMany(ctx context.Context, reqs []render.Request, parallelism int) []Result {
	results := make([]Result, len(reqs))
	r.dispatch(ctx, reqs, parallelism, func(i int, res Result) {
		results[i] = res
	})
	return results
}

// Prewarm renders all requests into the cache and discards the bytes.
// It returns the number of failed requests; each failure is logged.
func (r *Runner) Prewarm(ctx context.Context, reqs []render.Request, parallelism int) int {
	var failed, cached atomic.Int64
	r.dispatch(ctx, reqs, parallelism, func(_ int, res Result) {
		switch {
		case res.Err != nil:
			failed.Add(1)
			r.Logger.Warn("prewarm failed", "format", res.Request.Format, "err", errs.UserMessage(res.Err))
		case res.Cached:
			cached.Add(1)
		}
	})
	r.Logger.Info("prewarmed cache",
		"requests", len(reqs),
		"cached", cached.Load(),
		"failed", failed.Load())
	return int(failed.Load())
}

// dispatch runs RenderOne once per distinct cache key on a bounded pool and
// hands the result to done for every index sharing that key. done may be
// called concurrently for different indices.
func (r *Runner) dispatch(ctx context.Context, reqs []render.Request, parallelism int, done func(int, Result)) {
	var g errgroup.Group
	g.SetLimit(Workers(parallelism))
	for _, group := range r.groupByKey(reqs) {
		req := reqs[group[0]]
		g.Go(func() error {
			var res Result
			if err := ctx.Err(); err != nil {
				res = Result{
					Request: req,
					Err:     errs.Wrap(errs.ErrCodeInternal, err, "render not started"),
				}
			} else {
				res = r.RenderOne(ctx, req)
			}
			for _, i := range group {
				done(i, res)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// groupByKey collects the indices of requests that share a cache key, in
// order of first appearance. Requests that fail validation or name an
// unknown format get a group of their own so RenderOne reports the error.
func (r *Runner) groupByKey(reqs []render.Request) [][]int {
	groups := make([][]int, 0, len(reqs))
	seen := make(map[cache.Key]int, len(reqs))
	for i, req := range reqs {
		req = req.Normalize()
		format, err := r.Registry.Lookup(req.Format)
		if err != nil || req.Validate(r.MaxPasses) != nil {
			groups = append(groups, []int{i})
			continue
		}
		key := KeyFor(req, format)
		if g, ok := seen[key]; ok {
			groups[g] = append(groups[g], i)
			continue
		}
		seen[key] = len(groups)
		groups = append(groups, []int{i})
	}
	return groups
}

// Workers resolves a parallelism setting to a worker count.
func Workers(parallelism int) int {
	if parallelism <= 0 {
		return runtime.NumCPU()
	}
	return parallelism
}

// Close closes the underlying store.
func (r *Runner) Close() error {
	if err := r.Store.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}
