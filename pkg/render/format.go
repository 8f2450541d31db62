package render

import (
	"slices"

	errs "github.com/matzehuels/tikzserve/pkg/errors"
)

// Kind is the output family of a format.
type Kind int

const (
	KindRaster Kind = iota
	KindVector
	KindVectorAnimated
)

func (k Kind) String() string {
	switch k {
	case KindRaster:
		return "raster"
	case KindVector:
		return "vector"
	case KindVectorAnimated:
		return "vector-animated"
	default:
		return "unknown"
	}
}

// PointsPerInch converts TeX points to raster DPI.
const PointsPerInch = 72

// AnimationHeader is injected after the root <svg> tag of svg2 output.
// It pauses SMIL animations while the pointer is over the image.
const AnimationHeader = `<script><![CDATA[const svg=document.documentElement;` +
	`svg.addEventListener('mouseover',svg.pauseAnimations);` +
	`svg.addEventListener('mouseout',svg.unpauseAnimations);]]></script>`

// Format describes one output format.
type Format struct {
	Name        string
	Kind        Kind
	Mimetype    string
	Extension   string // including the leading dot
	EmSize      int    // image width units per em
	Description string

	// DPI is the rasterization resolution. Raster formats only.
	DPI int

	// Header is inserted after the root <svg> tag. Animated formats only.
	Header string
}

// RegistryOptions holds the scale constants formats are derived from.
type RegistryOptions struct {
	// RasterScale multiplies the 72 DPI base resolution of raster output.
	RasterScale int

	// EmPointSize is the font size in points one em corresponds to.
	EmPointSize int
}

// Default scale constants.
const (
	DefaultRasterScale = 10
	DefaultEmPointSize = 10
)

// Registry is the immutable set of known formats.
type Registry struct {
	formats map[string]Format
}

// NewRegistry builds the format registry. Zero option values take defaults.
func NewRegistry(opts RegistryOptions) *Registry {
	if opts.RasterScale <= 0 {
		opts.RasterScale = DefaultRasterScale
	}
	if opts.EmPointSize <= 0 {
		opts.EmPointSize = DefaultEmPointSize
	}

	formats := []Format{
		{
			Name:        "png",
			Kind:        KindRaster,
			Mimetype:    "image/png",
			Extension:   ".png",
			EmSize:      opts.RasterScale * opts.EmPointSize,
			Description: "High quality PNG raster format",
			DPI:         PointsPerInch * opts.RasterScale,
		},
		{
			Name:        "svg",
			Kind:        KindVector,
			Mimetype:    "image/svg+xml",
			Extension:   ".svg",
			EmSize:      opts.EmPointSize,
			Description: "SVG vector format",
		},
		{
			Name:        "svg2",
			Kind:        KindVectorAnimated,
			Mimetype:    "image/svg+xml",
			Extension:   ".svg",
			EmSize:      opts.EmPointSize,
			Description: "SVG vector format with animation support",
			Header:      AnimationHeader,
		},
	}

	r := &Registry{formats: make(map[string]Format, len(formats))}
	for _, f := range formats {
		r.formats[f.Name] = f
	}
	return r
}

// DefaultRegistry returns a registry with the default scale constants.
func DefaultRegistry() *Registry {
	return NewRegistry(RegistryOptions{})
}

// Lookup returns the format with the given name. Unknown names are an
// UNKNOWN_FORMAT error; there is no fallback format.
func (r *Registry) Lookup(name string) (Format, error) {
	if err := errs.ValidateFormatName(name); err != nil {
		return Format{}, err
	}
	f, ok := r.formats[name]
	if !ok {
		return Format{}, errs.New(errs.ErrCodeUnknownFormat, "unknown format %q (available: %v)", name, r.Names())
	}
	return f, nil
}

// Names returns the sorted format names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.formats))
	for name := range r.formats {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Formats returns all formats sorted by name.
func (r *Registry) Formats() []Format {
	out := make([]Format, 0, len(r.formats))
	for _, name := range r.Names() {
		out = append(out, r.formats[name])
	}
	return out
}
