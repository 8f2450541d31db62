package render

import (
	"maps"
	"slices"
	"strconv"
	"strings"

	errs "github.com/matzehuels/tikzserve/pkg/errors"
)

// Request is one snippet to render. It is a plain value; methods never
// modify the receiver.
type Request struct {
	Preamble string
	Body     string
	Format   string

	// Passes is the number of compiler runs. Zero means one.
	Passes int

	// Options tweak the toolchain invocation. Recognized keys:
	//   dpi: rasterization resolution for raster formats
	Options map[string]string
}

// OptionDPI overrides the raster resolution of a request.
const OptionDPI = "dpi"

// MaxDPI bounds the dpi option.
const MaxDPI = 2400

// Normalize returns a copy with CRLF line endings converted to LF and
// Passes defaulted to 1.
func (r Request) Normalize() Request {
	r.Preamble = normalizeNewlines(r.Preamble)
	r.Body = normalizeNewlines(r.Body)
	if r.Passes == 0 {
		r.Passes = 1
	}
	r.Options = maps.Clone(r.Options)
	return r
}

// Validate checks the request fields. maxPasses bounds Passes.
func (r Request) Validate(maxPasses int) error {
	if err := errs.ValidateFormatName(r.Format); err != nil {
		return err
	}
	if err := errs.ValidateSource("preamble", r.Preamble); err != nil {
		return err
	}
	if err := errs.ValidateSource("body", r.Body); err != nil {
		return err
	}
	if err := r.validateOptions(); err != nil {
		return err
	}
	return errs.ValidatePasses(r.Passes, maxPasses)
}

// DPI returns the dpi option, or def when the request does not set one.
func (r Request) DPI(def int) (int, error) {
	v, ok := r.Options[OptionDPI]
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 1 || n > MaxDPI {
		return 0, errs.New(errs.ErrCodeInvalidInput, "invalid %s option %q (want 1-%d)", OptionDPI, v, MaxDPI)
	}
	return n, nil
}

// validateOptions rejects unknown option keys and malformed values.
func (r Request) validateOptions() error {
	for k := range r.Options {
		if k != OptionDPI {
			return errs.New(errs.ErrCodeInvalidInput, "unknown option %q", k)
		}
	}
	_, err := r.DPI(0)
	return err
}

// OptionsDigest returns the options as sorted key=value pairs, or nil when
// there are none.
func (r Request) OptionsDigest() []string {
	if len(r.Options) == 0 {
		return nil
	}
	keys := slices.Sorted(maps.Keys(r.Options))
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k + "=" + r.Options[k]
	}
	return out
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
