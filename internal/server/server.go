// Package server implements the tikzserve HTTP render service.
//
// Endpoints:
//
//	POST /{format}   render form fields preamble, source, compiles (and an
//	                 optional format override); returns the image bytes
//	GET  /clean      run a forced cache clean, list removed entries
//	GET  /tikz.js    client script bound to this server (?format=png)
//	GET  /formats    JSON listing of the available formats
//	GET  /healthz    liveness probe
//	GET  /metrics    Prometheus metrics (when enabled)
//
// Every response allows cross-origin use, and every request first gives the
// evictor a chance to run its throttled clean.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/matzehuels/tikzserve/pkg/cache"
	"github.com/matzehuels/tikzserve/pkg/pipeline"
)

const (
	// DefaultMaxFormBytes bounds the size of a render request body.
	DefaultMaxFormBytes = 4 << 20

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout = 10 * time.Second
)

// Options configures a Server.
type Options struct {
	// Runner renders requests. Required.
	Runner *pipeline.Runner

	// Evictor runs the opportunistic clean before each request and serves
	// /clean. Required.
	Evictor *cache.Evictor

	// Logger receives access logs. Nil discards.
	Logger *log.Logger

	// RateLimit caps render requests per second across all clients.
	// Zero disables limiting.
	RateLimit float64
	RateBurst int

	// Metrics enables /metrics. Nil disables it.
	Metrics *Metrics

	// MaxFormBytes bounds request bodies. Zero means DefaultMaxFormBytes.
	MaxFormBytes int64
}

// Server is the HTTP render service.
type Server struct {
	runner   *pipeline.Runner
	evictor  *cache.Evictor
	logger   *log.Logger
	limiter  *rate.Limiter
	metrics  *Metrics
	maxBytes int64
	router   chi.Router
}

// New creates a server.
func New(opts Options) (*Server, error) {
	if opts.Runner == nil {
		return nil, errors.New("server: runner is required")
	}
	if opts.Evictor == nil {
		return nil, errors.New("server: evictor is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}
	if opts.MaxFormBytes <= 0 {
		opts.MaxFormBytes = DefaultMaxFormBytes
	}

	s := &Server{
		runner:   opts.Runner,
		evictor:  opts.Evictor,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		maxBytes: opts.MaxFormBytes,
	}
	if opts.RateLimit > 0 {
		burst := max(opts.RateBurst, 1)
		s.limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)
	r.Use(compress)
	r.Use(cors)
	r.Use(s.autoClean)

	r.Options("/*", preflight)
	r.Get("/healthz", s.handleHealth)
	r.Get("/formats", s.handleFormats)
	r.Get("/clean", s.handleClean)
	r.Get("/tikz.js", s.handleScript)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	r.With(s.rateLimit).Post("/{format}", s.handleRender)
	return r
}

// Handler returns the service's HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("listening", "addr", "http://"+ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
