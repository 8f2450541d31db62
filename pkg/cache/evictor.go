package cache

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"github.com/matzehuels/tikzserve/pkg/observability"
)

// DefaultCleanInterval is the minimum time between two unforced scans.
const DefaultCleanInterval = time.Hour

// Scanner is the view of a store an Evictor needs.
type Scanner interface {
	Entries() ([]Entry, error)
	Stat(name string) (Entry, error)
	Remove(name string) error
}

// tempSweeper is implemented by stores that can leave orphaned temp files.
type tempSweeper interface {
	RemoveStaleTemps(maxAge time.Duration) int
}

// Evictor removes cache entries according to a Policy.
//
// Unforced cleans are throttled: at most one scan starts per interval, no
// matter how many goroutines ask. Scans never overlap.
type Evictor struct {
	store    Scanner
	policy   Policy
	interval time.Duration
	logger   *log.Logger
	now      func() time.Time

	last   atomic.Int64 // unix nanos of the last claimed scan
	scanMu sync.Mutex
}

// EvictorOption configures an Evictor.
type EvictorOption func(*Evictor)

// WithInterval sets the throttle interval for unforced cleans.
func WithInterval(d time.Duration) EvictorOption {
	return func(e *Evictor) {
		if d > 0 {
			e.interval = d
		}
	}
}

// WithEvictorLogger sets the logger for scan summaries and skipped entries.
func WithEvictorLogger(l *log.Logger) EvictorOption {
	return func(e *Evictor) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) EvictorOption {
	return func(e *Evictor) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEvictor creates an evictor for store.
func NewEvictor(store Scanner, policy Policy, opts ...EvictorOption) *Evictor {
	e := &Evictor{
		store:    store,
		policy:   policy,
		interval: DefaultCleanInterval,
		logger:   log.NewWithOptions(io.Discard, log.Options{}),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the eviction policy.
func (e *Evictor) Policy() Policy { return e.policy }

// TryAcquire claims the right to scan if at least one interval has passed
// since the last claim. Exactly one of any number of concurrent callers
// wins per interval.
func (e *Evictor) TryAcquire(now time.Time) bool {
	for {
		last := e.last.Load()
		if now.UnixNano()-last < int64(e.interval) {
			return false
		}
		if e.last.CompareAndSwap(last, now.UnixNano()) {
			return true
		}
	}
}

// Clean runs one eviction scan and returns the names of removed entries.
// Without force, the scan is skipped (ran == false) when another scan was
// claimed less than one interval ago. Entries that cannot be removed, or
// that were accessed again after the scan listed them, are skipped.
func (e *Evictor) Clean(ctx context.Context, force bool) (removed []string, ran bool, err error) {
	now := e.now()
	if force {
		e.last.Store(now.UnixNano())
	} else if !e.TryAcquire(now) {
		return nil, false, nil
	}

	e.scanMu.Lock()
	defer e.scanMu.Unlock()

	entries, err := e.store.Entries()
	if err != nil {
		return nil, true, err
	}

	removed = []string{}
	var freed int64
	for _, victim := range e.policy.Select(entries, now) {
		if err := ctx.Err(); err != nil {
			break
		}
		if cur, err := e.store.Stat(victim.Name); err != nil || cur.ModTime.After(victim.ModTime) {
			continue
		}
		if err := e.store.Remove(victim.Name); err != nil {
			e.logger.Warn("could not evict cache entry", "name", victim.Name, "err", err)
			continue
		}
		removed = append(removed, victim.Name)
		freed += victim.Size
	}

	if sweeper, ok := e.store.(tempSweeper); ok {
		if n := sweeper.RemoveStaleTemps(e.interval); n > 0 {
			e.logger.Debug("removed stale temp files", "count", n)
		}
	}

	observability.Cache().OnEvict(ctx, len(removed), freed)
	e.logger.Info("cache cleaned",
		"policy", e.policy.Name(),
		"scanned", len(entries),
		"removed", len(removed),
		"freed", humanize.Bytes(uint64(freed)))
	return removed, true, nil
}

// Run performs an unforced clean every interval until ctx is cancelled.
func (e *Evictor) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := e.Clean(ctx, false); err != nil {
				e.logger.Warn("cache clean failed", "err", err)
			}
		}
	}
}
