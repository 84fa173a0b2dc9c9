// File: internal/infra/web/server.go
package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"telegram-agent-runner/internal/usecase"
)

// Server exposes the read-only operator API: queue introspection, job
// details, and Prometheus metrics. Mutations stay on the chat surface.
type Server struct {
	jobUC  usecase.JobUseCase
	apiKey string
	auth   *AuthManager
	log    *zerolog.Logger
}

func NewServer(jobUC usecase.JobUseCase, apiKey string, auth *AuthManager, logger *zerolog.Logger) *Server {
	return &Server{
		jobUC:  jobUC,
		apiKey: apiKey,
		auth:   auth,
		log:    logger,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/api/v1/login", s.loginHandler)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Get("/api/v1/stats", s.statsHandler)
		r.Get("/api/v1/jobs", s.jobsListHandler)
		r.Get("/api/v1/jobs/{id}", s.jobGetHandler)
		r.Get("/api/v1/jobs/{id}/events", s.jobEventsHandler)
		r.Get("/api/v1/jobs/{id}/artifacts", s.jobArtifactsHandler)
	})
	return r
}

// authMiddleware accepts either a valid session JWT or the raw API key as a
// bearer token, so curl against a fresh deployment still works.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			s.log.Error().Msg("admin API key is not configured")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		if _, err := s.auth.ParseFromRequest(r); err == nil {
			next.ServeHTTP(w, r)
			return
		}
		if hdr := r.Header.Get("Authorization"); hdr == "Bearer "+s.apiKey {
			next.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})
}
