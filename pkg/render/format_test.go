package render

import (
	"slices"
	"testing"

	errs "github.com/matzehuels/tikzserve/pkg/errors"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	tests := []struct {
		name     string
		kind     Kind
		mimetype string
		ext      string
		emSize   int
	}{
		{"png", KindRaster, "image/png", ".png", 100},
		{"svg", KindVector, "image/svg+xml", ".svg", 10},
		{"svg2", KindVectorAnimated, "image/svg+xml", ".svg", 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := r.Lookup(tt.name)
			if err != nil {
				t.Fatalf("Lookup(%q): %v", tt.name, err)
			}
			if f.Kind != tt.kind {
				t.Errorf("Kind = %v, want %v", f.Kind, tt.kind)
			}
			if f.Mimetype != tt.mimetype {
				t.Errorf("Mimetype = %q, want %q", f.Mimetype, tt.mimetype)
			}
			if f.Extension != tt.ext {
				t.Errorf("Extension = %q, want %q", f.Extension, tt.ext)
			}
			if f.EmSize != tt.emSize {
				t.Errorf("EmSize = %d, want %d", f.EmSize, tt.emSize)
			}
		})
	}

	png, _ := r.Lookup("png")
	if png.DPI != 720 {
		t.Errorf("png DPI = %d, want 720", png.DPI)
	}
	svg2, _ := r.Lookup("svg2")
	if svg2.Header != AnimationHeader {
		t.Error("svg2 should carry the animation header")
	}
}

func TestRegistryScale(t *testing.T) {
	r := NewRegistry(RegistryOptions{RasterScale: 4, EmPointSize: 12})
	png, _ := r.Lookup("png")
	if png.DPI != 288 || png.EmSize != 48 {
		t.Errorf("png DPI=%d EmSize=%d, want 288 and 48", png.DPI, png.EmSize)
	}
	svg, _ := r.Lookup("svg")
	if svg.EmSize != 12 {
		t.Errorf("svg EmSize = %d, want 12", svg.EmSize)
	}
}

func TestRegistryLookupErrors(t *testing.T) {
	r := DefaultRegistry()

	_, err := r.Lookup("gif")
	if !errs.Is(err, errs.ErrCodeUnknownFormat) {
		t.Errorf("Lookup(gif) = %v, want UNKNOWN_FORMAT", err)
	}
	_, err = r.Lookup("../png")
	if !errs.Is(err, errs.ErrCodeInvalidInput) {
		t.Errorf("Lookup(../png) = %v, want INVALID_INPUT", err)
	}
	_, err = r.Lookup("")
	if err == nil {
		t.Error("empty format name should fail")
	}
}

func TestRegistryNames(t *testing.T) {
	r := DefaultRegistry()
	if got := r.Names(); !slices.Equal(got, []string{"png", "svg", "svg2"}) {
		t.Errorf("Names() = %v", got)
	}
	if got := len(r.Formats()); got != 3 {
		t.Errorf("len(Formats()) = %d, want 3", got)
	}
}

func TestKindString(t *testing.T) {
	if KindRaster.String() != "raster" || KindVectorAnimated.String() != "vector-animated" {
		t.Error("unexpected Kind strings")
	}
	if Kind(42).String() != "unknown" {
		t.Error("out-of-range kind should be unknown")
	}
}
