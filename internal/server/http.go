package server

import (
	"context"
	"fmt"
	"net/http"

	"admission-guard/internal/api"
	"admission-guard/internal/config"
	"admission-guard/internal/guard"
	"admission-guard/internal/logging"
	"admission-guard/internal/monitoring"
	"admission-guard/internal/state"
)

// HTTPServer serves the guarded surface and the admin API.
type HTTPServer struct {
	config      *config.Config
	store       state.Store
	engine      *guard.Engine
	logger      *logging.Logger
	metrics     *monitoring.GuardMetrics
	health      *monitoring.HealthManager
	server      *http.Server
	restHandler *api.RESTHandler

	// Protected is the handler mounted behind the admission middleware.
	// Nil means the built-in root handler.
	Protected http.Handler
}

// NewHTTPServer creates a new HTTP server
func NewHTTPServer(cfg *config.Config, store state.Store, engine *guard.Engine, logger *logging.Logger, metrics *monitoring.GuardMetrics, health *monitoring.HealthManager) *HTTPServer {
	restHandler := api.NewRESTHandler(store, logger, metrics, health)

	return &HTTPServer{
		config:      cfg,
		store:       store,
		engine:      engine,
		logger:      logger,
		metrics:     metrics,
		health:      health,
		restHandler: restHandler,
	}
}

// Start starts the HTTP server
func (s *HTTPServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	router := s.restHandler.SetupRoutes(s.engine, s.Protected)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  s.config.Server.IdleTimeout,
	}

	s.logger.Info("Starting HTTP server",
		"address", addr,
		"service", "http",
	)

	return s.server.ListenAndServe()
}

// Stop stops the HTTP server gracefully
func (s *HTTPServer) Stop(ctx context.Context) error {
	if s.server != nil {
		s.logger.Info("Stopping HTTP server")
		return s.server.Shutdown(ctx)
	}
	return nil
}
