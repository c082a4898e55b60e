// Package server is the thin HTTP adapter over the run engine: submission,
// record retrieval, event streaming, retention lifecycle, and system
// health. Transport concerns live here; all semantics belong to the core
// packages.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/friscapuff/alphaforge-brain/internal/artifacts"
	"github.com/friscapuff/alphaforge-brain/internal/retention"
	"github.com/friscapuff/alphaforge-brain/internal/run"
)

// APIVersion is reported on lifecycle responses.
const APIVersion = "0.1"

// Config holds server configuration.
type Config struct {
	Port      int
	Engine    *run.Engine
	Retention *retention.Manager
	Writer    *artifacts.Writer
	Log       zerolog.Logger
}

// Server is the HTTP server.
type Server struct {
	router *chi.Mux
	server *http.Server
	cfg    Config
	log    zerolog.Logger
}

// New creates the server and mounts all routes.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		cfg:    cfg,
		log:    cfg.Log.With().Str("service", "http").Logger(),
	}
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Last-Event-ID"},
	}))

	s.router.Route("/runs", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Get("/", s.handleListRuns)
		r.Get("/retention/plan", s.handleRetentionPlan)
		r.Post("/retention/apply", s.handleRetentionApply)
		r.Post("/retention/diff", s.handleRetentionDiff)
		r.Route("/{runHash}", func(r chi.Router) {
			r.Get("/", s.handleGetRun)
			r.Get("/events", s.handleEvents)
			r.Get("/events/ws", s.handleEventsWS)
			r.Get("/hashes", s.handleHashes)
			r.Post("/cancel", s.handleCancel)
			r.Post("/pin", s.handlePin)
			r.Post("/unpin", s.handleUnpin)
			r.Post("/rehydrate", s.handleRehydrate)
			r.Post("/restore", s.handleRestore)
		})
	})
	s.router.Get("/settings/retention", s.handleGetRetentionSettings)
	s.router.Post("/settings/retention", s.handleUpdateRetentionSettings)
	s.router.Get("/retention/metrics", s.handleRetentionMetrics)
	s.router.Get("/system/health", s.handleSystemHealth)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router exposes the chi mux for tests.
func (s *Server) Router() http.Handler { return s.router }

// Start begins serving; it blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server listening")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
