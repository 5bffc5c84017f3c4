// Package api exposes the voice store and the synthesis pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/plomtts/internal/audio"
	"github.com/book-expert/plomtts/internal/core"
	"github.com/book-expert/plomtts/internal/events"
	"github.com/book-expert/plomtts/internal/metrics"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// Service identity reported by the root endpoint.
const (
	ServiceName        = "plomtts"
	ServiceDescription = "AI Text-to-Speech server powered by fish-speech"
	ServiceVersion     = "0.1.0"
)

const (
	defaultMaxUploadBytes  = 50 << 20
	defaultShutdownTimeout = 10 * time.Second
	readHeaderTimeout      = 10 * time.Second
	idleTimeout            = 120 * time.Second
)

// Deps are the collaborators the handlers compose.
type Deps struct {
	Store       core.VoiceStore
	Synthesizer core.Synthesizer
	Audio       *audio.Processor
	Events      core.EventPublisher
	Metrics     *metrics.Collector
	Log         *logger.Logger
}

// Options tunes the HTTP surface.
type Options struct {
	CORSOrigins     []string
	MaxUploadBytes  int64
	ShutdownTimeout time.Duration
	// TempDir holds per-request synthesis output. Empty means os.TempDir().
	TempDir string
}

// Server is the HTTP surface of the service.
type Server struct {
	deps   Deps
	opts   Options
	router chi.Router
}

// New builds the router. A nil Events publisher or Metrics collector disables the
// corresponding feature.
func New(deps Deps, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}

	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = defaultShutdownTimeout
	}

	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}

	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{corsAnyOrigin}
	}

	if deps.Events == nil {
		deps.Events = events.NopPublisher{}
	}

	server := &Server{deps: deps, opts: opts}
	server.router = server.routes()

	return server
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(requestIDMiddleware)
	r.Use(corsMiddleware(s.opts.CORSOrigins))
	r.Use(s.accessLogMiddleware)

	r.Get("/", s.handleRoot)
	r.Get("/docs", s.handleDocs)
	r.Get("/health", s.handleHealth)
	r.Get("/health/backend", s.handleBackendHealth)

	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics.Handler())
	}

	r.Route("/voices", func(r chi.Router) {
		r.Get("/", s.handleListVoices)
		r.Post("/", s.handleCreateVoice)
		r.Get("/{voiceID}", s.handleGetVoice)
		r.Delete("/{voiceID}", s.handleDeleteVoice)
	})

	r.Post("/tts", s.handleTTS)

	return r
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	return s.Serve(ctx, listener)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- httpServer.Serve(listener)
	}()

	s.deps.Log.System("Listening on http://%s", listener.Addr())

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}

		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	s.deps.Log.Info("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	err := httpServer.Shutdown(shutdownCtx)
	if err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":        ServiceName,
		"description": ServiceDescription,
		"version":     ServiceVersion,
		"docs":        "/docs",
	})
}

type routeInfo struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

func (s *Server) handleDocs(w http.ResponseWriter, _ *http.Request) {
	routes := make([]routeInfo, 0)

	_ = chi.Walk(s.router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, routeInfo{Method: method, Path: route})

		return nil
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"name":    ServiceName,
		"version": ServiceVersion,
		"routes":  routes,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBackendHealth(w http.ResponseWriter, r *http.Request) {
	if !s.deps.Synthesizer.HealthCheck(r.Context()) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unreachable"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) recordVoiceOperation(operation string, success bool) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.RecordVoiceOperation(operation, success)
	}
}
