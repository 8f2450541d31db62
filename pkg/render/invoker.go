package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	errs "github.com/matzehuels/tikzserve/pkg/errors"
	"github.com/matzehuels/tikzserve/pkg/observability"
)

// DefaultTimeout is the wall-clock budget of one render.
const DefaultTimeout = 15 * time.Second

// Binaries names the toolchain executables. Empty fields take the
// conventional names.
type Binaries struct {
	PDFLaTeX   string
	LaTeX      string
	PDFToCairo string
	PDF2SVG    string
	DVISVGM    string
}

func (b *Binaries) setDefaults() {
	if b.PDFLaTeX == "" {
		b.PDFLaTeX = "pdflatex"
	}
	if b.LaTeX == "" {
		b.LaTeX = "latex"
	}
	if b.PDFToCairo == "" {
		b.PDFToCairo = "pdftocairo"
	}
	if b.PDF2SVG == "" {
		b.PDF2SVG = "pdf2svg"
	}
	if b.DVISVGM == "" {
		b.DVISVGM = "dvisvgm"
	}
}

// Options configures an Invoker.
type Options struct {
	// Libraries are loaded with \usepackage. Nil means DefaultLibraries.
	Libraries []string

	// Timeout bounds all passes plus conversion. Zero means DefaultTimeout.
	Timeout time.Duration

	// Binaries overrides toolchain executable names or paths.
	Binaries Binaries

	// TempDir is the parent of per-render work directories.
	// Empty means os.TempDir().
	TempDir string

	// Executor runs the toolchain. Nil means ProcessExecutor.
	Executor Executor

	// Logger receives per-step debug output. Nil discards.
	Logger *log.Logger
}

// ValidateAndSetDefaults validates options and fills in defaults.
func (o *Options) ValidateAndSetDefaults() error {
	if o.Timeout < 0 {
		return fmt.Errorf("render timeout must not be negative, got %s", o.Timeout)
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Libraries == nil {
		o.Libraries = DefaultLibraries
	}
	o.Binaries.setDefaults()
	if o.Executor == nil {
		o.Executor = ProcessExecutor{}
	}
	if o.Logger == nil {
		o.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	return nil
}

// Invoker renders requests with the external toolchain.
// It holds no mutable state and is safe for concurrent use.
type Invoker struct {
	registry *Registry
	opts     Options
}

// NewInvoker creates an invoker for the formats in registry.
func NewInvoker(registry *Registry, opts Options) (*Invoker, error) {
	if registry == nil {
		return nil, errors.New("render: nil format registry")
	}
	if err := opts.ValidateAndSetDefaults(); err != nil {
		return nil, err
	}
	return &Invoker{registry: registry, opts: opts}, nil
}

// Registry returns the invoker's format registry.
func (inv *Invoker) Registry() *Registry { return inv.registry }

// Timeout returns the per-render wall-clock budget.
func (inv *Invoker) Timeout() time.Duration { return inv.opts.Timeout }

// Render compiles and converts one request. Errors are *errors.Error values
// with codes UNKNOWN_FORMAT, COMPILE_FAILURE, CONVERSION_FAILURE, TIMEOUT or
// INTERNAL_ERROR.
func (inv *Invoker) Render(ctx context.Context, req Request) ([]byte, error) {
	format, err := inv.registry.Lookup(req.Format)
	if err != nil {
		return nil, err
	}
	req = req.Normalize()
	if err := req.validateOptions(); err != nil {
		return nil, err
	}

	observability.Render().OnRenderStart(ctx, format.Name)
	start := time.Now()
	data, err := inv.render(ctx, format, req)
	elapsed := time.Since(start)
	observability.Render().OnRenderComplete(ctx, format.Name, elapsed, err)

	if err != nil {
		inv.opts.Logger.Debug("render failed", "format", format.Name, "duration", elapsed, "err", err)
		return nil, err
	}
	inv.opts.Logger.Debug("rendered", "format", format.Name, "duration", elapsed, "bytes", len(data))
	return data, nil
}

func (inv *Invoker) render(ctx context.Context, format Format, req Request) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, inv.opts.Timeout)
	defer cancel()

	dir, err := os.MkdirTemp(inv.opts.TempDir, "tikzserve-*")
	if err != nil {
		return nil, errs.Wrap(errs.ErrCodeInternal, err, "create work directory")
	}
	defer os.RemoveAll(dir)

	source := buildDocument(inv.opts.Libraries, req.Preamble, req.Body)
	if err := os.WriteFile(filepath.Join(dir, jobName+".tex"), []byte(source), 0o644); err != nil {
		return nil, errs.Wrap(errs.ErrCodeInternal, err, "write document")
	}

	engine := inv.opts.Binaries.PDFLaTeX
	if format.Kind == KindVectorAnimated {
		engine = inv.opts.Binaries.LaTeX
	}
	for pass := 1; pass <= req.Passes; pass++ {
		spec := CommandSpec{
			Name: engine,
			Args: []string{"-interaction=nonstopmode", "-halt-on-error", jobName + ".tex"},
			Dir:  dir,
		}
		inv.opts.Logger.Debug("compile pass", "engine", engine, "pass", pass, "of", req.Passes)
		if err := inv.run(ctx, spec, errs.ErrCodeCompile); err != nil {
			return nil, err
		}
	}

	spec, output, err := inv.conversion(format, req, dir)
	if err != nil {
		return nil, err
	}
	if err := inv.run(ctx, spec, errs.ErrCodeConversion); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(output)
	if err != nil {
		return nil, errs.Wrap(errs.ErrCodeConversion, err, "%s produced no output", spec.Name)
	}
	if len(data) == 0 {
		return nil, errs.New(errs.ErrCodeConversion, "%s produced empty output", spec.Name)
	}
	if format.Header != "" {
		injected, ok := injectHeader(data, format.Header)
		if !ok {
			return nil, errs.New(errs.ErrCodeConversion, "%s output has no <svg> root element", spec.Name)
		}
		data = injected
	}
	return data, nil
}

// conversion returns the converter command for format and the path of the
// file it writes.
func (inv *Invoker) conversion(format Format, req Request, dir string) (CommandSpec, string, error) {
	b := inv.opts.Binaries
	switch format.Kind {
	case KindRaster:
		dpi, err := req.DPI(format.DPI)
		if err != nil {
			return CommandSpec{}, "", err
		}
		return CommandSpec{
			Name: b.PDFToCairo,
			Args: []string{"-png", "-transp", "-r", strconv.Itoa(dpi), "-singlefile", jobName + ".pdf", jobName},
			Dir:  dir,
		}, filepath.Join(dir, jobName+".png"), nil
	case KindVector:
		return CommandSpec{
			Name: b.PDF2SVG,
			Args: []string{jobName + ".pdf", jobName + ".svg"},
			Dir:  dir,
		}, filepath.Join(dir, jobName+".svg"), nil
	case KindVectorAnimated:
		return CommandSpec{
			Name: b.DVISVGM,
			Args: []string{"--no-fonts", "--exact-bbox", "--output=" + jobName + ".svg", jobName + ".dvi"},
			Dir:  dir,
		}, filepath.Join(dir, jobName+".svg"), nil
	default:
		return CommandSpec{}, "", errs.New(errs.ErrCodeInternal, "no converter for format %q", format.Name)
	}
}

// run executes one toolchain step and maps its outcome to a typed error.
// code classifies a non-zero exit.
func (inv *Invoker) run(ctx context.Context, spec CommandSpec, code errs.Code) error {
	res, err := inv.opts.Executor.Run(ctx, spec)
	switch {
	case res.TimedOut || errors.Is(err, context.DeadlineExceeded):
		return errs.New(errs.ErrCodeTimeout, "render timed out after %s", inv.opts.Timeout)
	case errors.Is(err, context.Canceled):
		return errs.Wrap(errs.ErrCodeInternal, err, "render cancelled")
	case err != nil:
		return errs.Wrap(code, err, "run %s", spec.Name)
	case res.ExitCode != 0:
		return errs.WithDiagnostic(code, inv.diagnostic(spec, res, code),
			"%s exited with status %d", filepath.Base(spec.Name), res.ExitCode)
	}
	return nil
}

func (inv *Invoker) diagnostic(spec CommandSpec, res CommandResult, code errs.Code) string {
	var diag string
	if code == errs.ErrCodeCompile {
		logText, _ := os.ReadFile(filepath.Join(spec.Dir, jobName+".log"))
		diag = extractDiagnostic(logText, res.Stdout)
	} else {
		diag = tail(res.Stderr, tailLines)
		if diag == "" {
			diag = tail(res.Stdout, tailLines)
		}
	}
	if diag == "" {
		diag = fmt.Sprintf("%s exited with status %d", filepath.Base(spec.Name), res.ExitCode)
	}
	return diag
}
