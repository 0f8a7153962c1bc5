// Package api exposes the incident service over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"incident-desk/api/routegroups"
	"incident-desk/config"
	"incident-desk/core/incidents"
	"incident-desk/core/rbac"
	"incident-desk/core/utils"
)

// BackgroundWorker is started with the server and stopped on shutdown.
type BackgroundWorker interface {
	StartWithContext(ctx context.Context)
	StopWithContext(ctx context.Context) error
}

type ServerDeps struct {
	IncidentsSvc *incidents.Service
	Policy       *rbac.Policy
}

type Server struct {
	cfg          *config.AppConfig
	router       chi.Router
	logger       *utils.Logger
	policy       *rbac.Policy
	incidentsSvc *incidents.Service
	httpServer   *http.Server
}

func NewServer(cfg *config.AppConfig, deps ServerDeps, logger *utils.Logger) *Server {
	policy := deps.Policy
	if policy == nil {
		policy = rbac.NewPolicy(rbac.DefaultRoles())
	}
	s := &Server{
		cfg:          cfg,
		router:       chi.NewRouter(),
		logger:       logger,
		policy:       policy,
		incidentsSvc: deps.IncidentsSvc,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	timeout := s.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	s.router.Use(middleware.RequestID)
	s.router.Use(s.recoverMiddleware)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.securityHeadersMiddleware)
	s.router.Use(middleware.Timeout(timeout))

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	h := s.newRouteHandlers()
	s.router.Route("/api", func(apiRouter chi.Router) {
		apiRouter.Use(s.jsonMiddleware)
		g := routegroups.Guards{
			WithIdentity:      s.withIdentity,
			RequirePermission: func(p string) func(http.HandlerFunc) http.HandlerFunc { return s.requirePermission(rbac.Permission(p)) },
		}
		routegroups.RegisterIncidents(apiRouter, g, h.incidents)
		routegroups.RegisterCustomers(apiRouter, g, h.customers)
	})
	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	})
	s.router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
}

// ListenAndServe blocks until ctx is cancelled or the listener fails, then
// drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("http server listening addr=%s", s.cfg.ListenAddr)
		errCh <- s.httpServer.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
