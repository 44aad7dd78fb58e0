package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/handlers"
)

// handler is the router wrapped with the optional access log.
func (s *Server) handler() http.Handler {
	h := s.buildRouter()
	if s.access != nil {
		h = handlers.CombinedLoggingHandler(s.access, h)
	}
	if s.cfg.TrustProxyHeaders {
		// Outermost, so the access log sees the forwarded client address
		h = handlers.ProxyHeaders(h)
	}
	return h
}

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Get("/stats", s.handleDeviceStats)
				r.Post("/reload", s.handleReloadDevices)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.Post("/commands", s.handleSendCommand)
					r.Post("/toggle", s.handleToggle)
					r.Get("/history", s.handleGetDeviceHistory)
				})
			})

			r.Get("/fetches", s.handleListFetches)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	if s.panel != nil {
		r.Handle("/*", s.panel)
	}

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"devices_loaded": s.registry.Loaded(),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"ws_clients":     s.hub.ClientCount(),
	})
}
