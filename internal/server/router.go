package server

import (
	"net/http"

	"github.com/agentstation/reqsync/internal/server/handlers"
	"github.com/agentstation/reqsync/internal/server/middleware"
)

// Route paths. WebSocketPath is served at the root; the others are
// relative to the path prefix.
const (
	RequestsPath  = "/purchase-requests"
	StreamPath    = "/events/stream"
	StatsPath     = "/stats"
	WebSocketPath = "/ws"
)

// setupRouter creates the HTTP handler with routes and middleware.
func (s *Server) setupRouter() http.Handler {
	mux := http.NewServeMux()

	h := handlers.New(handlers.Deps{
		Store:          s.store,
		Cache:          s.cache,
		Broker:         s.broker,
		Hub:            s.wsHub,
		SSEBroadcaster: s.sseBroadcaster,
		Generator:      s.generator,
		Upgrader:       s.upgrader,
		Logger:         s.logger,
		StartTime:      s.startTime,
	})

	s.registerRoutes(mux, h)
	return s.applyMiddleware(mux)
}

// registerRoutes registers all HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux, h *handlers.Handlers) {
	prefix := s.config.PathPrefix
	requests := prefix + RequestsPath

	// Favicon handler (return 204 No Content to avoid 404 logs)
	mux.HandleFunc("GET /favicon.ico", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// Public health endpoints (no auth required)
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET /ready", h.HandleReady)

	// Purchase requests
	mux.HandleFunc("GET "+requests, h.HandleListRequests)
	mux.HandleFunc("POST "+requests, h.HandleCreateRequest)
	mux.HandleFunc("GET "+requests+"/{id}", h.HandleGetRequest)
	mux.HandleFunc("PATCH "+requests+"/{id}", h.HandlePatchRequest)
	mux.HandleFunc("DELETE "+requests+"/{id}", h.HandleDeleteRequest)
	mux.HandleFunc("POST "+requests+"/{id}/advance", h.HandleAdvance)
	mux.HandleFunc("POST "+requests+"/{id}/transition", h.HandleTransition)

	// Admin endpoints
	mux.HandleFunc("GET "+prefix+StatsPath, h.HandleStats)
	mux.HandleFunc("POST "+prefix+"/admin/disconnect", h.HandleDisconnect)
	mux.HandleFunc("POST "+prefix+"/admin/step", h.HandleStep)

	// Real-time endpoints
	mux.HandleFunc("GET "+WebSocketPath, h.HandleWebSocket)
	mux.HandleFunc("GET "+prefix+StreamPath, h.HandleSSE)
}

// applyMiddleware wraps handler with middleware chain.
func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	cfg := s.config

	// Rate limiting (if enabled)
	if s.rateLimiter != nil {
		handler = middleware.RateLimit(s.rateLimiter)(handler)
	}

	// Authentication (if enabled)
	if cfg.AuthEnabled {
		authConfig := middleware.DefaultAuthConfig()
		authConfig.Enabled = true
		authConfig.Token = cfg.AuthToken
		if cfg.AuthHeader != "" {
			authConfig.HeaderName = cfg.AuthHeader
		}
		handler = middleware.Auth(authConfig, s.logger)(handler)
	}

	// CORS (if enabled)
	if cfg.CORSEnabled {
		corsConfig := middleware.DefaultCORSConfig()
		if len(cfg.CORSOrigins) > 0 {
			corsConfig.AllowedOrigins = cfg.CORSOrigins
			corsConfig.AllowAll = false
		} else {
			corsConfig.AllowAll = true
		}
		handler = middleware.CORS(corsConfig)(handler)
	}

	// Logging and recovery (always enabled)
	handler = middleware.Logger(s.logger)(handler)
	handler = middleware.Recovery(s.logger)(handler)

	return handler
}
