package server

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/matzehuels/tikzserve/pkg/buildinfo"
	errs "github.com/matzehuels/tikzserve/pkg/errors"
	"github.com/matzehuels/tikzserve/pkg/render"
)

// ScaleHeader tells clients the em-size of the returned image.
const ScaleHeader = "X-TikZ-Scale"

// CacheHeader reports whether a render was served from the cache.
const CacheHeader = "X-TikZ-Cache"

//go:embed assets/tikz.js
var clientScript []byte

// handleRender renders the posted snippet.
func (s *Server) handleRender(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBytes)
	if err := r.ParseMultipartForm(s.maxBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		s.writeError(w, r, errs.Wrap(errs.ErrCodeInvalidInput, err, "invalid form"))
		return
	}

	format := chi.URLParam(r, "format")
	if v := r.FormValue("format"); v != "" {
		format = v
	}
	var passes int
	if v := r.FormValue("compiles"); v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			s.writeError(w, r, errs.New(errs.ErrCodeInvalidInput, "invalid compiles value %q", v))
			return
		}
		passes = n
		if passes == 0 {
			passes = -1 // explicit zero is invalid, not "default"
		}
	}

	var options map[string]string
	if v := r.FormValue(render.OptionDPI); v != "" {
		options = map[string]string{render.OptionDPI: v}
	}

	res := s.runner.RenderOne(r.Context(), render.Request{
		Preamble: r.FormValue("preamble"),
		Body:     r.FormValue("source"),
		Format:   format,
		Passes:   passes,
		Options:  options,
	})
	if res.Err != nil {
		s.writeError(w, r, res.Err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", res.Format.Mimetype)
	h.Set("Content-Length", strconv.Itoa(len(res.Data)))
	h.Set(ScaleHeader, strconv.Itoa(res.Format.EmSize))
	if res.Cached {
		h.Set(CacheHeader, "hit")
	} else {
		h.Set(CacheHeader, "miss")
	}
	h.Set("ETag", `"`+res.Key.Hash+`"`)
	_, _ = w.Write(res.Data)
}

// handleClean runs a forced clean and lists the removed entries.
func (s *Server) handleClean(w http.ResponseWriter, r *http.Request) {
	removed, _, err := s.evictor.Clean(r.Context(), true)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(strings.Join(removed, "\n")))
}

// handleScript serves the client script bound to this server's render
// endpoint for the requested format.
func (s *Server) handleScript(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("format")
	if name == "" {
		name = "png"
	}
	format, err := s.runner.Registry.Lookup(name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	endpoint, _ := json.Marshal(baseURL(r) + "/" + format.Name)
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	_, _ = w.Write(clientScript)
	_, _ = fmt.Fprintf(w, "\nprocessTikZ(%s, %d);\n", endpoint, format.EmSize)
}

// formatInfo is the JSON form of a render.Format.
type formatInfo struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Mimetype    string `json:"mimetype"`
	Extension   string `json:"extension"`
	EmSize      int    `json:"em_size"`
	Description string `json:"description"`
}

func (s *Server) handleFormats(w http.ResponseWriter, _ *http.Request) {
	formats := s.runner.Registry.Formats()
	out := make([]formatInfo, len(formats))
	for i, f := range formats {
		out[i] = formatInfo{
			Name:        f.Name,
			Kind:        f.Kind.String(),
			Mimetype:    f.Mimetype,
			Extension:   f.Extension,
			EmSize:      f.EmSize,
			Description: f.Description,
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(out)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintf(w, "ok %s\n", buildinfo.String())
}

// writeError sends the error's diagnostic as plain text.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusCode(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "id", RequestIDFromContext(r.Context()), "err", err)
	} else {
		s.logger.Debug("request rejected", "id", RequestIDFromContext(r.Context()), "err", err)
	}
	http.Error(w, errs.Diagnostic(err), status)
}

// StatusCode maps an error to its HTTP status.
func StatusCode(err error) int {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return http.StatusRequestEntityTooLarge
	}
	switch errs.GetCode(err) {
	case errs.ErrCodeInvalidInput, errs.ErrCodeUnknownFormat:
		return http.StatusBadRequest
	case errs.ErrCodeCompile:
		return http.StatusUnprocessableEntity
	case errs.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// baseURL reconstructs the external URL of the server from the request.
func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}
