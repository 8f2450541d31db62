// Package document finds TeX snippets embedded in HTML and replaces them with
// rendered images.
//
// Snippets are script elements:
//
//	<script type="preamble">\usetikzlibrary{arrows}</script>
//	<script type="tikz" data-format="svg">\draw[->] (0,0) -- (1,0);</script>
//	<script type="tex" data-compile="2">$\int_0^1 x\,dx$</script>
//
// Preamble bodies are concatenated in document order into the preamble shared
// by every snippet, and the preamble elements are removed. Elements with class
// "tikz-server" (the client-side loader) are removed too. All other bytes of
// the document are kept exactly as they were.
package document

import (
	"bytes"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/matzehuels/tikzserve/pkg/render"
)

// Kind is the script type of a snippet.
type Kind int

const (
	KindTeX Kind = iota
	KindTikZ
)

func (k Kind) String() string {
	if k == KindTikZ {
		return "tikz"
	}
	return "tex"
}

// serverClass marks elements that only exist for client-side rendering.
const serverClass = "tikz-server"

// Snippet is one renderable script element.
type Snippet struct {
	Kind Kind
	Body string

	// Format is the data-format override, empty if absent.
	Format string

	// Passes is the data-compile override, zero if absent.
	Passes int

	// Err is set when the element's attributes are unusable.
	Err error

	// Line is the 1-based line of the opening tag.
	Line int

	span span
}

// Source returns the TeX source to compile: tikz bodies are wrapped in a
// tikzpicture environment, tex bodies are used as-is.
func (s Snippet) Source(trim bool) string {
	body := s.Body
	if trim {
		body = strings.TrimSpace(body)
	}
	if s.Kind == KindTikZ {
		return `\begin{tikzpicture}` + body + `\end{tikzpicture}`
	}
	return body
}

type span struct {
	start, end int
}

// Document is a parsed HTML document.
type Document struct {
	src      []byte
	Preamble string
	Snippets []Snippet
	removals []span
}

// Parse scans src for snippets. Malformed HTML is tolerated the same way
// browsers tolerate it.
func Parse(src []byte) (*Document, error) {
	d := &Document{src: src}
	z := html.NewTokenizer(bytes.NewReader(src))

	var (
		pos      int
		preamble strings.Builder
		current  *Snippet // open tex/tikz script
		inPre    bool     // inside a preamble script
		preStart int
		skipTag  string // tag name of the tikz-server element being skipped
		skipFrom int
		depth    int
	)

	for {
		tt := z.Next()
		raw := z.Raw()
		start := pos
		pos += len(raw)

		if tt == html.ErrorToken {
			if err := z.Err(); err != io.EOF {
				return nil, fmt.Errorf("parse html: %w", err)
			}
			break
		}

		if skipTag != "" {
			name, _ := z.TagName()
			switch {
			case tt == html.StartTagToken && string(name) == skipTag:
				depth++
			case tt == html.EndTagToken && string(name) == skipTag:
				depth--
				if depth == 0 {
					d.removals = append(d.removals, span{skipFrom, pos})
					skipTag = ""
				}
			}
			continue
		}

		switch {
		case current != nil || inPre:
			switch tt {
			case html.TextToken:
				if inPre {
					preamble.Write(z.Text())
				} else {
					current.Body += string(z.Text())
				}
			case html.EndTagToken:
				if inPre {
					d.removals = append(d.removals, span{preStart, pos})
					inPre = false
				} else {
					current.span.end = pos
					d.Snippets = append(d.Snippets, *current)
					current = nil
				}
			}

		case tt == html.StartTagToken || tt == html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			attrs := tagAttrs(z, hasAttr)

			if hasClass(attrs["class"], serverClass) {
				if tt == html.SelfClosingTagToken || isVoid(name) {
					d.removals = append(d.removals, span{start, pos})
				} else {
					skipTag, skipFrom, depth = string(name), start, 1
				}
				continue
			}
			if atom.Lookup(name) != atom.Script || tt == html.SelfClosingTagToken {
				continue
			}

			switch strings.ToLower(attrs["type"]) {
			case "preamble":
				inPre, preStart = true, start
			case "tex", "tikz":
				s := &Snippet{
					Kind:   KindTeX,
					Format: attrs["data-format"],
					Line:   1 + bytes.Count(src[:start], []byte("\n")),
					span:   span{start: start},
				}
				if strings.EqualFold(attrs["type"], "tikz") {
					s.Kind = KindTikZ
				}
				if v, ok := attrs["data-compile"]; ok {
					n, err := strconv.Atoi(strings.TrimSpace(v))
					if err != nil || n < 1 {
						s.Err = fmt.Errorf("invalid data-compile value %q", v)
					}
					s.Passes = n
				}
				current = s
			}
		}
	}

	// An unterminated script runs to the end of the input.
	if current != nil {
		current.span.end = pos
		d.Snippets = append(d.Snippets, *current)
	}
	if inPre {
		d.removals = append(d.removals, span{preStart, pos})
	}
	if skipTag != "" {
		d.removals = append(d.removals, span{skipFrom, pos})
	}

	d.Preamble = preamble.String()
	return d, nil
}

// Requests builds one render request per snippet. Snippets without a
// data-format use defaultFormat. With trim set, bodies are stripped of
// surrounding whitespace before compiling.
func (d *Document) Requests(defaultFormat string, trim bool) []render.Request {
	reqs := make([]render.Request, len(d.Snippets))
	for i, s := range d.Snippets {
		format := s.Format
		if format == "" {
			format = defaultFormat
		}
		reqs[i] = render.Request{
			Preamble: d.Preamble,
			Body:     s.Source(trim),
			Format:   format,
			Passes:   s.Passes,
		}
	}
	return reqs
}

// Rewrite returns the document with removed elements dropped and snippet i
// replaced by replacements[i] where present. Snippets without a replacement
// stay unchanged. Unless preserveWhitespace is set, lines left blank by a
// removed element are dropped as well.
func (d *Document) Rewrite(replacements map[int]string, preserveWhitespace bool) []byte {
	type edit struct {
		span
		text string
	}
	edits := make([]edit, 0, len(d.removals)+len(replacements))
	for _, r := range d.removals {
		if !preserveWhitespace {
			r = d.widenToLine(r)
		}
		edits = append(edits, edit{span: r})
	}
	for i, text := range replacements {
		if i >= 0 && i < len(d.Snippets) {
			edits = append(edits, edit{span: d.Snippets[i].span, text: text})
		}
	}
	slices.SortFunc(edits, func(a, b edit) int { return a.start - b.start })

	var out bytes.Buffer
	out.Grow(len(d.src))
	pos := 0
	for _, e := range edits {
		if e.start < pos {
			continue // nested in an earlier edit
		}
		out.Write(d.src[pos:e.start])
		out.WriteString(e.text)
		pos = e.end
	}
	out.Write(d.src[pos:])
	return out.Bytes()
}

// widenToLine extends a removal to its whole line when nothing but
// whitespace shares the line with it.
func (d *Document) widenToLine(r span) span {
	lineStart := bytes.LastIndexByte(d.src[:r.start], '\n') + 1
	if strings.TrimSpace(string(d.src[lineStart:r.start])) != "" {
		return r
	}
	rest := d.src[r.end:]
	lineEnd := bytes.IndexByte(rest, '\n')
	if lineEnd < 0 {
		lineEnd = len(rest)
	} else {
		lineEnd++
	}
	if strings.TrimSpace(string(rest[:lineEnd])) != "" {
		return r
	}
	return span{lineStart, r.end + lineEnd}
}

func tagAttrs(z *html.Tokenizer, more bool) map[string]string {
	attrs := make(map[string]string)
	for more {
		var key, val []byte
		key, val, more = z.TagAttr()
		attrs[string(key)] = string(val)
	}
	return attrs
}

func hasClass(classAttr, class string) bool {
	return slices.Contains(strings.Fields(classAttr), class)
}

func isVoid(name []byte) bool {
	switch atom.Lookup(name) {
	case atom.Area, atom.Base, atom.Br, atom.Col, atom.Embed, atom.Hr, atom.Img,
		atom.Input, atom.Link, atom.Meta, atom.Source, atom.Track, atom.Wbr:
		return true
	}
	return false
}
