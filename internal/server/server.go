// Package server exposes redaction, note generation and the dashboard
// sockets over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/scribe-sentinel/internal/cache"
	"github.com/raaihank/scribe-sentinel/internal/config"
	"github.com/raaihank/scribe-sentinel/internal/logger"
	"github.com/raaihank/scribe-sentinel/internal/privacy"
	"github.com/raaihank/scribe-sentinel/internal/ratelimit"
	"github.com/raaihank/scribe-sentinel/internal/scribe"
	"github.com/raaihank/scribe-sentinel/internal/store"
	"github.com/raaihank/scribe-sentinel/internal/web"
	"github.com/raaihank/scribe-sentinel/internal/websocket"
)

const version = "0.1.0"

// Backend is the completion backend as seen by health and info.
type Backend interface {
	Ping(ctx context.Context) error
	Model() string
}

// NoteReader reads persisted notes.
type NoteReader interface {
	Get(ctx context.Context, id string) (*store.StoredNote, error)
	List(ctx context.Context, opts store.ListOptions) ([]*store.StoredNote, error)
	Ping(ctx context.Context) error
}

// CacheAdmin exposes note cache statistics and maintenance.
type CacheAdmin interface {
	Stats(ctx context.Context) (*cache.CacheStats, error)
	Clear(ctx context.Context) error
	Ping(ctx context.Context) error
}

// Dependencies are the collaborators the routes call into. Notes and Cache
// are optional.
type Dependencies struct {
	Detector *privacy.Detector
	Scribe   *scribe.Service
	Backend  Backend
	Hub      *websocket.Hub
	Limiter  *ratelimit.Limiter
	Notes    NoteReader
	Cache    CacheAdmin
}

// Server represents the HTTP API server
type Server struct {
	config  *config.Config
	logger  *logger.Logger
	deps    Dependencies
	router  *mux.Router
	server  *http.Server
	started time.Time
}

// New creates a new server instance
func New(cfg *config.Config, log *logger.Logger, deps Dependencies) (*Server, error) {
	if deps.Detector == nil || deps.Scribe == nil || deps.Backend == nil || deps.Hub == nil {
		return nil, fmt.Errorf("server: detector, scribe, backend and hub are required")
	}
	if deps.Limiter == nil {
		deps.Limiter = ratelimit.New(cfg.RateLimit)
	}

	s := &Server{
		config:  cfg,
		logger:  log.WithComponent("server"),
		deps:    deps,
		router:  mux.NewRouter(),
		started: time.Now(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)
	s.router.HandleFunc("/", web.ServeDashboard).Methods(http.MethodGet)
	s.router.HandleFunc("/dashboard", web.ServeDashboard).Methods(http.MethodGet)

	// sockets skip the logging wrapper, which cannot hijack
	s.router.HandleFunc("/ws/events", s.deps.Hub.HandleWebSocket).Methods(http.MethodGet)
	s.router.HandleFunc("/ws/redact", s.deps.Hub.StreamRedaction(s.deps.Detector)).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)

	api.HandleFunc("/redact", s.handleRedact).Methods(http.MethodPost)
	api.HandleFunc("/redact/stream", s.handleRedactStream).Methods(http.MethodPost)
	api.HandleFunc("/ai/generate-soap", s.handleGenerateSOAP).Methods(http.MethodPost)
	api.HandleFunc("/notes", s.handleCreateNote).Methods(http.MethodPost)
	api.HandleFunc("/notes", s.handleListNotes).Methods(http.MethodGet)
	api.HandleFunc("/notes/{id}", s.handleGetNote).Methods(http.MethodGet)
	api.HandleFunc("/notes/{id}/fhir", s.handleGetNoteBundle).Methods(http.MethodGet)
	api.HandleFunc("/cache/stats", s.handleCacheStats).Methods(http.MethodGet)
	api.HandleFunc("/cache", s.handleCacheClear).Methods(http.MethodDelete)
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting scribe-sentinel server",
		zap.Int("port", s.config.Server.Port),
		zap.String("completion_url", s.config.Completion.BaseURL),
		zap.String("model", s.deps.Backend.Model()),
		zap.Strings("active_rules", s.deps.Detector.GetEnabledRules()),
	)
	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping scribe-sentinel server")
	return s.server.Shutdown(ctx)
}

// PublishStatus broadcasts a system status event to dashboard clients.
func (s *Server) PublishStatus(ctx context.Context) {
	status := "healthy"
	if err := s.deps.Backend.Ping(ctx); err != nil {
		status = "degraded"
	}
	s.deps.Hub.BroadcastEvent(websocket.Event{
		Type: websocket.EventTypeSystemStatus,
		Data: websocket.SystemStatusEvent{
			Status:           status,
			Uptime:           time.Since(s.started).Round(time.Second).String(),
			ActiveRules:      s.deps.Detector.GetEnabledRules(),
			ConnectedClients: s.deps.Hub.ClientCount(),
			Model:            s.deps.Backend.Model(),
		},
	})
}
