package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/matzehuels/tikzserve/internal/document"
	errs "github.com/matzehuels/tikzserve/pkg/errors"
	"github.com/matzehuels/tikzserve/pkg/pipeline"
	"github.com/matzehuels/tikzserve/pkg/render"
)

const defaultFormat = "png"

// compileOpts holds the command-line flags for the compile command.
type compileOpts struct {
	format             string // format for snippets without data-format
	inplace            bool   // rewrite files instead of printing them
	preserveWhitespace bool   // keep snippet bodies and blank lines untouched
	jobs               int    // concurrent renders, 0 = one per CPU
	noCache            bool   // render without reading or writing the cache
	outDir             string // write results here instead of stdout
	watch              bool   // recompile inputs when they change
}

// compileCommand creates the compile command: every
// script element of type tikz or tex is replaced by an inline image.
func (c *CLI) compileCommand() *cobra.Command {
	opts := compileOpts{format: defaultFormat}

	cmd := &cobra.Command{
		Use:   "compile [files...]",
		Short: "Replace TikZ/TeX snippets in HTML files with rendered images",
		Long: `Compile renders every <script type="tikz"> and <script type="tex"> element
of the given HTML files and replaces it with an inline <img>. Script elements of
type "preamble" are prepended to every snippet and removed, as are elements with
class "tikz-server".

Snippets may override the output format with data-format and the number of
compiler passes with data-compile. A snippet that fails to render is reported
on stderr and left unchanged.

Without file arguments, the document is read from stdin. With --out-dir, each
compiled file is written to the directory under its base name; --watch then
keeps running and recompiles a file whenever it changes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.inplace && len(args) == 0 {
				return errors.New("--inplace requires file arguments")
			}
			if opts.watch && (len(args) == 0 || opts.outDir == "") {
				return errors.New("--watch requires file arguments and --out-dir")
			}
			if opts.outDir != "" {
				if len(args) == 0 {
					return errors.New("--out-dir requires file arguments")
				}
				if err := checkOutputs(args, opts.outDir); err != nil {
					return err
				}
			}
			return c.runCompile(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", opts.format, "default output format (png, svg, svg2)")
	cmd.Flags().BoolVarP(&opts.inplace, "inplace", "i", false, "rewrite files in place")
	cmd.Flags().BoolVarP(&opts.preserveWhitespace, "preserve-whitespace", "w", false, "do not trim snippet bodies or drop emptied lines")
	cmd.Flags().IntVarP(&opts.jobs, "jobs", "j", 0, "concurrent renders (0 = one per CPU)")
	cmd.Flags().BoolVar(&opts.noCache, "no-cache", false, "disable the render cache")
	cmd.Flags().StringVarP(&opts.outDir, "out-dir", "o", "", "write compiled files to this directory")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "recompile files when they change (requires --out-dir)")
	cmd.MarkFlagsMutuallyExclusive("inplace", "out-dir")

	return cmd
}

// inputFile is a document read for compilation. An empty path is stdin.
type inputFile struct {
	path string
	doc  *document.Document
}

func (f inputFile) name() string {
	if f.path == "" {
		return "<stdin>"
	}
	return f.path
}

func (c *CLI) runCompile(cmd *cobra.Command, paths []string, opts compileOpts) error {
	ctx := cmd.Context()
	logger := loggerFromContext(ctx)

	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	store, err := c.openStore(cfg, opts.noCache)
	if err != nil {
		return err
	}
	runner, err := c.newRunner(cfg, store)
	if err != nil {
		return err
	}
	defer runner.Close()

	if _, err := runner.Registry.Lookup(opts.format); err != nil {
		return err
	}

	files, err := readInputs(cmd.InOrStdin(), paths)
	if err != nil {
		return err
	}
	if opts.outDir != "" {
		if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	out, diag := cmd.OutOrStdout(), cmd.ErrOrStderr()
	if err := compileFiles(ctx, runner, files, opts, out, diag); err != nil {
		return err
	}
	if !opts.watch {
		return ctx.Err()
	}

	w, err := newFileWatcher(paths)
	if err != nil {
		return err
	}
	defer w.Close()
	logger.Info("watching for changes", "files", len(paths), "out", opts.outDir)
	w.run(ctx, logger, func(changed []string) {
		files, err := readInputs(nil, changed)
		if err != nil {
			logger.Error("reload failed", "err", err)
			return
		}
		if err := compileFiles(ctx, runner, files, opts, out, diag); err != nil {
			logger.Error("compile failed", "err", err)
		}
	})
	return nil
}

// compileFiles compiles files and writes each result according to opts.
// Toolchain diagnostics of failed snippets go to diag.
func compileFiles(ctx context.Context, runner *pipeline.Runner, files []inputFile, opts compileOpts, stdout, diag io.Writer) error {
	// Render the snippets of all files together before rewriting them one
	// by one from the cache.
	if len(files) > 1 && !opts.noCache {
		var all []render.Request
		for _, f := range files {
			all = append(all, validRequests(f.doc, opts)...)
		}
		runner.Prewarm(ctx, all, opts.jobs)
	}

	prog := newProgress(loggerFromContext(ctx))
	var total pipeline.Stats
	for _, f := range files {
		data, stats := compileDocument(ctx, runner, f, opts, diag)
		total.Total += stats.Total
		total.Cached += stats.Cached
		total.Failed += stats.Failed

		if err := writeOutput(f, data, opts, stdout); err != nil {
			return err
		}
	}
	prog.done("compiled",
		"files", len(files),
		"snippets", total.Total,
		"cached", total.Cached,
		"failed", total.Failed)
	return nil
}

func writeOutput(f inputFile, data []byte, opts compileOpts, stdout io.Writer) error {
	switch {
	case opts.inplace:
		return writeFileKeepMode(f.path, data)
	case opts.outDir != "":
		p := outputPath(f.path, opts.outDir)
		if err := os.WriteFile(p, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", p, err)
		}
		return nil
	}
	if _, err := stdout.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func outputPath(path, outDir string) string {
	return filepath.Join(outDir, filepath.Base(path))
}

// checkOutputs rejects output directories that would overwrite an input or
// receive two inputs with the same base name.
func checkOutputs(paths []string, outDir string) error {
	seen := make(map[string]string, len(paths))
	for _, p := range paths {
		out := outputPath(p, outDir)
		if prev, ok := seen[out]; ok {
			return fmt.Errorf("%s and %s would both be written to %s", prev, p, out)
		}
		seen[out] = p

		in, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		abs, err := filepath.Abs(out)
		if err != nil {
			return err
		}
		if in == abs {
			return fmt.Errorf("--out-dir would overwrite %s", p)
		}
	}
	return nil
}

func readInputs(stdin io.Reader, paths []string) ([]inputFile, error) {
	if len(paths) == 0 {
		src, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		doc, err := document.Parse(src)
		if err != nil {
			return nil, fmt.Errorf("<stdin>: %w", err)
		}
		return []inputFile{{doc: doc}}, nil
	}

	files := make([]inputFile, 0, len(paths))
	for _, p := range paths {
		src, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		doc, err := document.Parse(src)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		files = append(files, inputFile{path: p, doc: doc})
	}
	return files, nil
}

// validRequests returns the render requests of the snippets whose
// attributes could be read.
func validRequests(doc *document.Document, opts compileOpts) []render.Request {
	reqs := doc.Requests(opts.format, !opts.preserveWhitespace)
	out := reqs[:0]
	for i, req := range reqs {
		if doc.Snippets[i].Err == nil {
			out = append(out, req)
		}
	}
	return out
}

// compileDocument renders the snippets of f and returns the rewritten
// document. Failed snippets are logged, their diagnostics written to diag,
// and kept as they are.
func compileDocument(ctx context.Context, runner *pipeline.Runner, f inputFile, opts compileOpts, diag io.Writer) ([]byte, pipeline.Stats) {
	logger := loggerFromContext(ctx)
	doc := f.doc

	reqs := doc.Requests(opts.format, !opts.preserveWhitespace)
	var (
		index   []int
		pending []render.Request
	)
	stats := pipeline.Stats{Total: len(reqs)}
	for i, req := range reqs {
		if err := doc.Snippets[i].Err; err != nil {
			stats.Failed++
			logger.Error("skipping snippet", "file", f.name(), "line", doc.Snippets[i].Line, "err", err)
			continue
		}
		index = append(index, i)
		pending = append(pending, req)
	}

	results := runner.RenderMany(ctx, pending, opts.jobs)
	replacements := make(map[int]string, len(results))
	for j, res := range results {
		sn := doc.Snippets[index[j]]
		if !res.OK() {
			stats.Failed++
			logger.Error("render failed",
				"file", f.name(),
				"line", sn.Line,
				"format", res.Request.Format,
				"err", errs.UserMessage(res.Err))
			if text := errs.Diagnostic(res.Err); text != errs.UserMessage(res.Err) {
				fmt.Fprintln(diag, text)
			}
			continue
		}
		tag, err := document.ImageTag(res.Data, res.Format)
		if err != nil {
			stats.Failed++
			logger.Error("unreadable image", "file", f.name(), "line", sn.Line, "err", err)
			continue
		}
		if res.Cached {
			stats.Cached++
		}
		replacements[index[j]] = tag
	}

	return doc.Rewrite(replacements, opts.preserveWhitespace), stats
}

// writeFileKeepMode replaces the contents of path, keeping its permissions.
func writeFileKeepMode(path string, data []byte) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, info.Mode().Perm()); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
