package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"admission-guard/internal/config"
	"admission-guard/internal/geo"
	"admission-guard/internal/guard"
	"admission-guard/internal/logging"
	"admission-guard/internal/monitoring"
	"admission-guard/internal/state"
	"admission-guard/internal/tracing"
)

const metricsRefreshInterval = 15 * time.Second

type Server struct {
	config     *config.Config
	logger     *logging.Logger
	store      state.Store
	engine     *guard.Engine
	metrics    *monitoring.GuardMetrics
	collector  *monitoring.MetricsCollector
	health     *monitoring.HealthManager
	tracing    *tracing.TracingService
	httpServer *HTTPServer
	startTime  time.Time
}

// NewServer wires the full admission stack. A nil resolver falls back to
// the configured default country for every client; production deployments
// pass a real geo-IP resolver.
func NewServer(cfg *config.Config, resolver geo.CountryResolver) (*Server, error) {
	logger := logging.NewLogger(&cfg.Logging)

	logger.Info("Initializing admission guard",
		"storage_engine", cfg.Storage.Engine,
		"version", "1.0.0",
	)

	store, err := state.NewStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create state store: %w", err)
	}

	tracingService, err := tracing.NewTracingService(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	var geoAdapter geo.Adapter = geo.Disabled{}
	if cfg.Geo.Enabled {
		if resolver == nil {
			resolver = geo.StaticResolver{Country: cfg.Geo.DefaultCountry}
		}
		geoAdapter = geo.FailOpen(geo.NewPolicyAdapter(resolver, &cfg.Geo), cfg.Geo.Timeout, logger)
	}

	var metrics *monitoring.GuardMetrics
	var collector *monitoring.MetricsCollector
	if cfg.Metrics.Enabled {
		metrics = monitoring.NewGuardMetrics()
		collector = monitoring.NewMetricsCollector(metrics, store, metricsRefreshInterval)
	}

	var engineMetrics guard.Metrics
	if metrics != nil {
		engineMetrics = metrics
	}
	engine := guard.NewEngine(cfg.Guard, store, geoAdapter, logger, engineMetrics)

	health := monitoring.NewHealthManager("1.0.0")
	health.RegisterChecker(monitoring.NewStateHealthChecker(store))
	if cfg.Geo.Enabled {
		health.RegisterChecker(monitoring.NewGeoHealthChecker(geoAdapter))
	}

	httpServer := NewHTTPServer(cfg, store, engine, logger, metrics, health)

	return &Server{
		config:     cfg,
		logger:     logger,
		store:      store,
		engine:     engine,
		metrics:    metrics,
		collector:  collector,
		health:     health,
		tracing:    tracingService,
		httpServer: httpServer,
		startTime:  time.Now(),
	}, nil
}

// Engine exposes the admission engine for embedding the middleware into an
// existing handler chain.
func (s *Server) Engine() *guard.Engine {
	return s.engine
}

// SetProtected replaces the default handler served behind the admission
// middleware. Must be called before Start.
func (s *Server) SetProtected(handler http.Handler) {
	s.httpServer.Protected = handler
}

func (s *Server) Start() error {
	s.logger.Info("Starting admission guard server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if s.collector != nil {
		s.collector.Start()
	}

	errChan := make(chan error, 1)

	go func() {
		if err := s.httpServer.Start(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	s.logger.Info("Server started successfully",
		"http_port", s.config.Server.Port,
		"storage_engine", s.config.Storage.Engine,
		"geo_enabled", s.config.Geo.Enabled,
	)

	select {
	case err := <-errChan:
		s.logger.Error("Server encountered an error", "error", err.Error())
		return err
	case sig := <-sigChan:
		s.logger.Info("Received shutdown signal", "signal", sig)
		return s.Shutdown(ctx)
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	done := make(chan error, 1)

	go func() {
		if s.collector != nil {
			s.collector.Stop()
		}

		if err := s.httpServer.Stop(shutdownCtx); err != nil {
			s.logger.Error("Failed to stop HTTP server", "error", err.Error())
		}

		if err := s.tracing.Close(shutdownCtx); err != nil {
			s.logger.Error("Failed to shut down tracing", "error", err.Error())
		}

		if err := s.store.Close(); err != nil {
			s.logger.Error("Failed to close state store", "error", err.Error())
			done <- err
			return
		}

		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			s.logger.Error("Error during shutdown", "error", err.Error())
			return err
		}
		s.logger.Info("Server shutdown completed")
		return nil
	case <-shutdownCtx.Done():
		s.logger.Error("Shutdown timeout exceeded")
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

func (s *Server) GetUptime() time.Duration {
	return time.Since(s.startTime)
}
