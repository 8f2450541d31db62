package cache

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	errs "github.com/matzehuels/tikzserve/pkg/errors"
	"github.com/matzehuels/tikzserve/pkg/observability"
)

// FileStore implements Store on a local directory.
//
// Multiple FileStore instances may share a directory: publication is an
// atomic rename and entries are immutable once written. The in-flight
// deduplication is per instance.
type FileStore struct {
	dir    string
	logger *log.Logger
	now    func() time.Time
	group  singleflight.Group
	closed atomic.Bool
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithLogger sets the logger used for non-fatal storage problems.
func WithLogger(l *log.Logger) Option {
	return func(s *FileStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewFileStore creates a file-based store in the given directory.
// The directory is created if it doesn't exist and probed for writability;
// an unusable directory is a STORAGE_FAILURE error.
func NewFileStore(dir string, opts ...Option) (*FileStore, error) {
	if dir == "" {
		return nil, errs.New(errs.ErrCodeStorage, "cache directory not set")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.Wrap(errs.ErrCodeStorage, err, "create cache directory %s", dir)
	}
	probe, err := os.CreateTemp(dir, tempPrefix+"probe-*")
	if err != nil {
		return nil, errs.Wrap(errs.ErrCodeStorage, err, "cache directory %s is not writable", dir)
	}
	probe.Close()
	_ = os.Remove(probe.Name())

	s := &FileStore{
		dir:    dir,
		logger: log.NewWithOptions(io.Discard, log.Options{}),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the cache directory.
func (s *FileStore) Dir() string { return s.dir }

// GetOrCompute implements Store.
func (s *FileStore) GetOrCompute(ctx context.Context, key Key, compute ComputeFunc) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, ErrClosed
	}
	if err := key.validate(); err != nil {
		return nil, false, err
	}

	path := s.path(key.Filename())
	if data, ok := s.read(path); ok {
		observability.Cache().OnCacheHit(ctx, key.Format)
		return data, true, nil
	}

	v, err, _ := s.group.Do(key.Filename(), func() (any, error) {
		// A flight for this key may have completed between the read above
		// and joining the group.
		if data, ok := s.read(path); ok {
			observability.Cache().OnCacheHit(ctx, key.Format)
			return flight{data: data, hit: true}, nil
		}
		observability.Cache().OnCacheMiss(ctx, key.Format)

		data, err := compute(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		if err := s.write(path, data); err != nil {
			s.logger.Warn("could not persist cache entry", "key", key.Filename(), "err", err)
		} else {
			observability.Cache().OnCacheSet(ctx, key.Format, len(data))
		}
		return flight{data: data}, nil
	})
	if err != nil {
		return nil, false, err
	}
	f := v.(flight)
	return f.data, f.hit, nil
}

// Entries lists all published entries. Files still being written, directories
// and entries that vanish mid-scan are skipped.
func (s *FileStore) Entries() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errs.Wrap(errs.ErrCodeStorage, err, "read cache directory %s", s.dir)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || isTemp(de.Name()) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			s.logger.Debug("skipping unreadable cache entry", "name", de.Name(), "err", err)
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		entries = append(entries, Entry{
			Name:    de.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return entries, nil
}

// Stat returns the current state of a single entry.
func (s *FileStore) Stat(name string) (Entry, error) {
	if err := validName(name); err != nil {
		return Entry{}, err
	}
	info, err := os.Stat(s.path(name))
	if err != nil {
		return Entry{}, err
	}
	return Entry{Name: name, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// Remove deletes an entry. Removing a missing entry is not an error.
func (s *FileStore) Remove(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// RemoveStaleTemps deletes temp files older than maxAge, left behind by a
// process that died mid-write. It returns the number of files removed.
func (s *FileStore) RemoveStaleTemps(maxAge time.Duration) int {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}
	now := s.now()
	removed := 0
	for _, de := range dirEntries {
		if !isTemp(de.Name()) {
			continue
		}
		info, err := de.Info()
		if err != nil || now.Sub(info.ModTime()) <= maxAge {
			continue
		}
		if os.Remove(s.path(de.Name())) == nil {
			removed++
		}
	}
	return removed
}

// Close marks the store closed. In-flight computations still complete.
func (s *FileStore) Close() error {
	s.closed.Store(true)
	return nil
}

// read returns the entry at path and touches it. A failed touch (for
// example because the evictor removed the file after it was read) does not
// invalidate the bytes already read.
func (s *FileStore) read(path string) ([]byte, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("could not read cache entry", "path", path, "err", err)
		}
		return nil, false
	}
	now := s.now()
	if err := os.Chtimes(path, now, now); err != nil && !os.IsNotExist(err) {
		s.logger.Debug("could not touch cache entry", "path", path, "err", err)
	}
	return data, true
}

// write publishes data at path via a temp file and an atomic rename.
func (s *FileStore) write(path string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return errs.Wrap(errs.ErrCodeStorage, err, "create temp file")
	}
	tmpName := tmp.Name()

	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Chmod(tmpName, 0o644)
	}
	if err == nil {
		err = os.Rename(tmpName, path)
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return errs.Wrap(errs.ErrCodeStorage, err, "write %s", filepath.Base(path))
	}
	return nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name)
}

func validName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return ErrInvalidKey
	}
	return nil
}

// Ensure FileStore implements Store.
var _ Store = (*FileStore)(nil)
