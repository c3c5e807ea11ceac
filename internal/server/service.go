// Package server provides the HTTP API surface for roost: account plumbing,
// the bot endpoints that feed the session supervisor, and the status event
// stream.
package server

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/roosthq/roost/internal/config"
	"github.com/roosthq/roost/internal/db"
	"github.com/roosthq/roost/internal/notify"
	"github.com/roosthq/roost/internal/supervisor"
)

// Service wires the HTTP router to storage and the session supervisor.
type Service struct {
	version     string
	config      *config.Config
	store       *db.Store
	botStore    *db.BotStore
	userStore   *db.UserStore
	supervisor  *supervisor.Supervisor
	broadcaster *notify.Broadcaster
	router      *chi.Mux
	startTime   time.Time
	ready       atomic.Bool
}

// New creates the service and mounts all routes.
func New(version string, cfg *config.Config, store *db.Store, botStore *db.BotStore, userStore *db.UserStore, sup *supervisor.Supervisor, broadcaster *notify.Broadcaster) *Service {
	svc := &Service{
		version:     version,
		config:      cfg,
		store:       store,
		botStore:    botStore,
		userStore:   userStore,
		supervisor:  sup,
		broadcaster: broadcaster,
		router:      chi.NewRouter(),
		startTime:   time.Now(),
	}
	svc.setupRoutes()
	return svc
}

func (s *Service) setupRoutes() {
	r := s.router
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)
		r.Get("/version", s.handleVersion)

		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.requireReady)
			r.Use(s.requireAuth)
			r.Post("/bots", s.handleCreateBot)
			r.Get("/bots", s.handleListBots)
			r.Get("/bots/{botID}", s.handleGetBot)
			r.Post("/bots/{botID}/stop", s.handleStopBot)
			r.Get("/events", s.broadcaster.ServeHTTP)
		})

		r.NotFound(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusNotFound, "not found")
		})
	})

	// Everything outside /api serves the embedded fallback document.
	r.NotFound(serveIndex)
}

// Router returns the mounted handler.
func (s *Service) Router() http.Handler {
	return s.router
}

// SetReady flips the readiness gate guarding the bot endpoints.
func (s *Service) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Run serves HTTP until ctx is canceled, then shuts down gracefully within
// shutdownTimeout.
func (s *Service) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	log.Info().Str("addr", s.config.ListenAddr).Msg("HTTP server listening")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shCtx)
	}
}
