package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// healthCheckTimeout bounds each dependency probe of the health endpoint.
const healthCheckTimeout = 2 * time.Second

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Endpoints the simulation UI has always called
	r.Route("/epitome", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/experiment_list/", s.handleListExperiments)
		r.Post("/experimentCreate/", s.handleCreateExperiment)
		r.Post("/experimentStart/", s.handleStartExperiment)
		r.Get("/experimentStatus/", s.handleExperimentStatus)
		r.Get("/experimentDetail/", s.handleExperimentDetail)
		r.Post("/experimentStop/", s.handleStopExperiment)
		r.Delete("/experimentDelete/", s.handleDeleteExperiment)
		r.Get("/experiment_parent_check/", s.handleParentCheck)
		r.Get("/phaserVideo/", s.handleReplay)
	})

	// Experiment output
	r.Get("/ws/experiment/{target}/", s.handleWebSocket)
	r.Get("/ws/experiment/{target}", s.handleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)
		r.Get("/system/metrics", s.handleSystemMetrics)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/experiments/running", s.handleListRunning)
			r.Get("/experiments/{target}/runs", s.handleListRuns)
			r.Get("/audit", s.handleListAuditLogs)
		})
	})

	if s.metricsCfg.Enabled && s.gatherer != nil {
		path := s.metricsCfg.Path
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return r
}

// handleHealth returns the server health status, probing each configured
// dependency. Any failing dependency degrades the response to 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := make(map[string]string, len(s.health))

	names := make([]string, 0, len(s.health))
	for name := range s.health {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		err := s.health[name].HealthCheck(ctx)
		cancel()
		if err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{
		"status":  overall,
		"version": s.version,
		"checks":  checks,
	})
}
