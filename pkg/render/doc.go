// Package render drives the external TeX toolchain for a single snippet.
//
// A render turns a [Request] (preamble, body, format, compile passes) into
// image bytes: the snippet is wrapped in a standalone LaTeX document,
// compiled one or more times, and converted to the requested output format.
//
// # Formats
//
// The set of formats is closed and built once by [NewRegistry]:
//
//   - png: pdflatex, then pdftocairo at DPI = 72 x raster scale
//   - svg: pdflatex, then pdf2svg
//   - svg2: latex (DVI), then dvisvgm, with a script header that pauses
//     SMIL animations while the pointer hovers the image
//
// Each [Format] also carries an em-size: consumers divide the image width
// (pixels for png, points for svg) by it to size the image in em units.
//
// # Execution control
//
// All passes and the conversion share one wall-clock budget. When it runs
// out, the whole process group of the running tool is killed and the render
// fails with a TIMEOUT error; no toolchain process outlives its render.
// A compiler failure yields COMPILE_FAILURE with the relevant part of the
// TeX log attached as diagnostic (see [errors.Diagnostic]).
//
// The work directory is created fresh for every render and removed on every
// exit path. Renders share no state and may run concurrently.
//
// # Usage
//
//	inv, err := render.NewInvoker(render.DefaultRegistry(), render.Options{
//	    Timeout: 15 * time.Second,
//	})
//	data, err := inv.Render(ctx, render.Request{
//	    Body:   `\begin{tikzpicture}\draw (0,0) -- (1,1);\end{tikzpicture}`,
//	    Format: "svg",
//	})
//
// [errors.Diagnostic]: github.com/matzehuels/tikzserve/pkg/errors.Diagnostic
package render
