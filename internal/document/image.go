package document

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"image/png"
	"io"
	"strconv"
	"strings"

	"github.com/matzehuels/tikzserve/pkg/render"
)

// Width returns the natural width of a rendered image: pixels for raster
// output, the root width attribute (in points) for SVG.
func Width(data []byte, format render.Format) (float64, error) {
	if format.Kind == render.KindRaster {
		cfg, err := png.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return 0, fmt.Errorf("decode png header: %w", err)
		}
		return float64(cfg.Width), nil
	}
	return svgWidth(data)
}

func svgWidth(data []byte) (float64, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return 0, errors.New("no <svg> root element")
		}
		if err != nil {
			return 0, fmt.Errorf("parse svg: %w", err)
		}
		el, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		if el.Name.Local != "svg" {
			return 0, fmt.Errorf("root element is <%s>, not <svg>", el.Name.Local)
		}
		for _, a := range el.Attr {
			if a.Name.Local == "width" {
				return parseLength(a.Value)
			}
		}
		return 0, errors.New("svg root has no width")
	}
}

// parseLength parses a CSS length such as "28.346pt" and returns its number.
func parseLength(s string) (float64, error) {
	s = strings.TrimSpace(s)
	num := strings.TrimRightFunc(s, func(r rune) bool {
		return (r < '0' || r > '9') && r != '.'
	})
	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid svg width %q", s)
	}
	return v, nil
}

// ImageTag returns the <img> element that replaces a rendered snippet. The
// image is inlined as a data URL and sized in em units.
func ImageTag(data []byte, format render.Format) (string, error) {
	w, err := Width(data, format)
	if err != nil {
		return "", err
	}
	em := strconv.FormatFloat(w/float64(format.EmSize), 'f', -1, 64)
	src := "data:" + format.Mimetype + ";base64," + base64.StdEncoding.EncodeToString(data)
	return fmt.Sprintf(`<img class="tikz" src="%s" style="width:%sem;">`, html.EscapeString(src), em), nil
}
