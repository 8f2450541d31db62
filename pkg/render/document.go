package render

import (
	"bytes"
	"strings"
)

// jobName is the base name of all files in a render's work directory.
const jobName = "document"

// DefaultLibraries are the packages loaded by every document.
var DefaultLibraries = []string{"amssymb", "amsmath", "tikz", "circuitikz"}

// buildDocument assembles a standalone LaTeX document around body.
func buildDocument(libraries []string, preamble, body string) string {
	var b strings.Builder
	b.WriteString("\\documentclass[margin=0pt]{standalone}\n")
	if len(libraries) > 0 {
		b.WriteString("\\usepackage{")
		b.WriteString(strings.Join(libraries, ","))
		b.WriteString("}\n")
	}
	if preamble != "" {
		b.WriteString(preamble)
		if !strings.HasSuffix(preamble, "\n") {
			b.WriteByte('\n')
		}
	}
	b.WriteString("\\begin{document}\n")
	b.WriteString(body)
	if !strings.HasSuffix(body, "\n") {
		b.WriteByte('\n')
	}
	b.WriteString("\\end{document}\n")
	return b.String()
}

// injectHeader inserts header right after the root <svg ...> start tag.
// It reports false when svg has no root element.
func injectHeader(svg []byte, header string) ([]byte, bool) {
	start := bytes.Index(svg, []byte("<svg"))
	if start < 0 {
		return nil, false
	}
	end := bytes.IndexByte(svg[start:], '>')
	if end < 0 {
		return nil, false
	}
	at := start + end + 1

	out := make([]byte, 0, len(svg)+len(header))
	out = append(out, svg[:at]...)
	out = append(out, header...)
	out = append(out, svg[at:]...)
	return out, true
}
