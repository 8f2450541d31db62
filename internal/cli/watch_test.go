package cli

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

func TestFileWatcherReportsChanges(t *testing.T) {
	dir := t.TempDir()
	page := filepath.Join(dir, "page.html")
	other := filepath.Join(dir, "other.html")
	for _, p := range []string{page, other} {
		if err := os.WriteFile(p, []byte("v1"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	w, err := newFileWatcher([]string{page})
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan []string, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.run(ctx, newLogger(io.Discard, LogInfo), func(paths []string) { changes <- paths })
	}()

	if err := os.WriteFile(other, []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(page, []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-changes:
		if !slices.Equal(got, []string{page}) {
			t.Errorf("changed = %v, want [%s]", got, page)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestCheckOutputs(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		paths   []string
		outDir  string
		wantErr string
	}{
		{"distinct names", []string{"a/x.html", "b/y.html"}, "out", ""},
		{"same base name", []string{"a/x.html", "b/x.html"}, "out", "both"},
		{"overwrites input", []string{filepath.Join(dir, "x.html")}, dir, "overwrite"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkOutputs(tt.paths, tt.outDir)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestCompileCommandOutDir(t *testing.T) {
	c, _, _ := newTestCLI(t)

	src := filepath.Join(t.TempDir(), "page.html")
	if err := os.WriteFile(src, []byte(`<script type="tikz">\draw;</script>`), 0o644); err != nil {
		t.Fatal(err)
	}
	outDir := filepath.Join(t.TempDir(), "build")

	out, err := execute(t, c, "", "compile", "--out-dir", outDir, src)
	if err != nil {
		t.Fatal(err)
	}
	if out != "" {
		t.Errorf("stdout = %q, want nothing with --out-dir", out)
	}
	data, err := os.ReadFile(filepath.Join(outDir, "page.html"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(data), `<img class="tikz"`) {
		t.Errorf("compiled file = %q", data)
	}
	orig, _ := os.ReadFile(src)
	if !strings.Contains(string(orig), "<script") {
		t.Error("source file was modified")
	}
}

func TestCompileCommandWatchFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"watch without out-dir", []string{"compile", "--watch", "page.html"}},
		{"watch without files", []string{"compile", "--watch", "--out-dir", "out"}},
		{"inplace and out-dir", []string{"compile", "--inplace", "--out-dir", "out", "page.html"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _ := newTestCLI(t)
			if _, err := execute(t, c, "", tt.args...); err == nil {
				t.Error("expected an error")
			}
		})
	}
}
