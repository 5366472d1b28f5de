package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/kvstore/internal/kvdb"
)

// healthCheckTimeout bounds each component check in /api/v1/health.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Prometheus scrape endpoint
	r.Get("/metrics", s.handlePrometheus)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)

		// Keys may contain slashes, so the key is the wildcard remainder.
		r.Get("/keys/*", s.handleGetKey)
		r.Put("/keys/*", s.handlePutKey)
		r.Delete("/keys/*", s.handleDeleteKey)

		r.Get("/count", s.handleCount)
		r.Post("/query", s.handleQuery)
		r.Post("/batch", s.handleBatch)
	})

	return r
}

// HealthResponse is the body of /api/v1/health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Components map[string]string `json:"components,omitempty"`
}

// handleHealth reports "ok", or "degraded" when an optional component
// fails its check. The database itself is checked by acquiring a connection.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:     "ok",
		Version:    s.version,
		Components: make(map[string]string, len(s.checks)+1),
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	err := s.db.Do(ctx, s.owner(r), func(c *kvdb.Connection) error {
		_, err := c.Count(ctx)
		return err
	})
	resp.Components["database"] = statusOf(err)
	if err != nil {
		resp.Status = "degraded"
	}

	for name, check := range s.checks {
		err := check.HealthCheck(ctx)
		resp.Components[name] = statusOf(err)
		if err != nil {
			resp.Status = "degraded"
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func statusOf(err error) string {
	if err != nil {
		return err.Error()
	}
	return "ok"
}
