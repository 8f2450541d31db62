package cache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func constant(data string) ComputeFunc {
	return func(context.Context) ([]byte, error) { return []byte(data), nil }
}

func TestContentHash(t *testing.T) {
	if ContentHash("pre", "body") != ContentHash("pre", "body") {
		t.Error("ContentHash should be deterministic")
	}
	if ContentHash("AB", "") == ContentHash("A", "B") {
		t.Error("preamble/body boundary must affect the hash")
	}
	if ContentHash("", "x") == ContentHash("x", "") {
		t.Error("swapping preamble and body must change the hash")
	}
	if ContentHash("a", "b") == ContentHash("a", "b", "dpi=300") {
		t.Error("extra parts must change the hash")
	}
}

func TestKeyFilename(t *testing.T) {
	k := NewKey("", `\draw (0,0) circle (1);`, "png", ".png")
	want := ContentHash("", `\draw (0,0) circle (1);`) + "-png.png"
	if got := k.Filename(); got != want {
		t.Errorf("Filename() = %q, want %q", got, want)
	}

	// Same content, different format: different entries.
	k2 := NewKey("", `\draw (0,0) circle (1);`, "svg", ".svg")
	if k.Filename() == k2.Filename() {
		t.Error("format must be part of the filename")
	}
}

func TestKeyValidate(t *testing.T) {
	tests := []struct {
		name    string
		key     Key
		wantErr bool
	}{
		{"valid", NewKey("", "x", "png", ".png"), false},
		{"empty hash", Key{Format: "png", Ext: ".png"}, true},
		{"empty format", Key{Hash: "abc", Ext: ".png"}, true},
		{"path separator", Key{Hash: "abc", Format: "../png", Ext: ".png"}, true},
		{"hidden", Key{Hash: ".abc", Format: "png", Ext: ".png"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.key.validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewFileStoreUnwritable(t *testing.T) {
	// A regular file where the directory should be.
	path := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStore(path); err == nil {
		t.Error("expected error for a cache dir that is a file")
	}
	if _, err := NewFileStore(""); err == nil {
		t.Error("expected error for empty dir")
	}
}

func TestFileStoreMissThenHit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	key := NewKey("", "a", "png", ".png")

	data, hit, err := s.GetOrCompute(ctx, key, constant("first"))
	if err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if hit {
		t.Error("first call should be a miss")
	}
	if string(data) != "first" {
		t.Errorf("data = %q, want %q", data, "first")
	}

	data, hit, err = s.GetOrCompute(ctx, key, constant("second"))
	if err != nil {
		t.Fatalf("GetOrCompute: %v", err)
	}
	if !hit {
		t.Error("second call should be a hit")
	}
	if string(data) != "first" {
		t.Errorf("hit should return stored bytes, got %q", data)
	}

	onDisk, err := os.ReadFile(filepath.Join(s.Dir(), key.Filename()))
	if err != nil {
		t.Fatalf("entry not on disk: %v", err)
	}
	if string(onDisk) != "first" {
		t.Errorf("on-disk content = %q", onDisk)
	}
}

func TestFileStoreSingleCompute(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	key := NewKey("", "slow", "svg", ".svg")

	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(context.Context) ([]byte, error) {
		calls.Add(1)
		<-release
		return []byte("<svg/>"), nil
	}

	const n = 16
	var wg sync.WaitGroup
	results := make([][]byte, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _, errs[i] = s.GetOrCompute(ctx, key, compute)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("compute called %d times, want 1", got)
	}
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Errorf("caller %d: %v", i, errs[i])
		}
		if string(results[i]) != "<svg/>" {
			t.Errorf("caller %d got %q", i, results[i])
		}
	}
}

func TestFileStoreFailureNotCached(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	key := NewKey("", "broken", "png", ".png")
	boom := errors.New("boom")

	_, _, err := s.GetOrCompute(ctx, key, func(context.Context) ([]byte, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if _, err := os.Stat(filepath.Join(s.Dir(), key.Filename())); !os.IsNotExist(err) {
		t.Error("failed compute must not create an entry")
	}

	called := false
	data, hit, err := s.GetOrCompute(ctx, key, func(context.Context) ([]byte, error) {
		called = true
		return []byte("ok"), nil
	})
	if err != nil || hit || !called || string(data) != "ok" {
		t.Errorf("retry: data=%q hit=%v called=%v err=%v", data, hit, called, err)
	}
}

func TestFileStoreComputeIgnoresCallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := newTestStore(t)

	data, _, err := s.GetOrCompute(ctx, NewKey("", "c", "png", ".png"), func(ctx context.Context) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []byte("done"), nil
	})
	if err != nil || string(data) != "done" {
		t.Errorf("data=%q err=%v", data, err)
	}
}

func TestFileStoreTouchOnHit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	key := NewKey("", "touch", "png", ".png")
	if _, _, err := s.GetOrCompute(ctx, key, constant("x")); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(s.Dir(), key.Filename())
	old := time.Now().Add(-3 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatal(err)
	}

	if _, hit, _ := s.GetOrCompute(ctx, key, constant("y")); !hit {
		t.Fatal("expected hit")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if time.Since(info.ModTime()) > time.Minute {
		t.Errorf("hit did not refresh mtime: %v", info.ModTime())
	}
}

func TestFileStoreEntriesSkipsTemps(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if _, _, err := s.GetOrCompute(ctx, NewKey("", "a", "png", ".png"), constant("aaaa")); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir(), tempPrefix+"partial"), []byte("zz"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(s.Dir(), "subdir"), 0o755); err != nil {
		t.Fatal(err)
	}

	entries, err := s.Entries()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1: %+v", len(entries), entries)
	}
	if entries[0].Size != 4 {
		t.Errorf("size = %d, want 4", entries[0].Size)
	}
}

func TestFileStoreRemove(t *testing.T) {
	s := newTestStore(t)
	if err := s.Remove("missing-png.png"); err != nil {
		t.Errorf("removing a missing entry should succeed: %v", err)
	}
	if err := s.Remove("../escape"); err == nil {
		t.Error("expected error for path traversal")
	}
}

func TestFileStoreClosed(t *testing.T) {
	s := newTestStore(t)
	s.Close()
	_, _, err := s.GetOrCompute(context.Background(), NewKey("", "a", "png", ".png"), constant("x"))
	if !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestNullStore(t *testing.T) {
	ctx := context.Background()
	s := NewNullStore()
	defer s.Close()
	key := NewKey("", "a", "png", ".png")

	var calls int
	compute := func(context.Context) ([]byte, error) {
		calls++
		return []byte("v"), nil
	}
	for i := 0; i < 2; i++ {
		data, hit, err := s.GetOrCompute(ctx, key, compute)
		if err != nil {
			t.Fatal(err)
		}
		if hit {
			t.Error("NullStore should never hit")
		}
		if string(data) != "v" {
			t.Errorf("data = %q", data)
		}
	}
	if calls != 2 {
		t.Errorf("compute called %d times, want 2", calls)
	}
}
