package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"admission-guard/internal/guard"
	"admission-guard/internal/logging"
)

// SetupRoutes configures the admin API and mounts the protected handler
// behind the admission middleware. The admin surface is intentionally not
// guarded: an operator must be able to remove a block for their own address.
func (h *RESTHandler) SetupRoutes(engine *guard.Engine, protected http.Handler) *mux.Router {
	router := mux.NewRouter()

	// Apply middleware
	router.Use(logging.CorrelationIDMiddleware(h.logger))
	router.Use(logging.LoggingMiddleware(h.logger))
	router.Use(h.CORSMiddleware)

	// API version 1
	v1 := router.PathPrefix("/api/v1").Subrouter()

	// Client record inspection
	v1.HandleFunc("/clients", h.ListClients).Methods(http.MethodGet)
	v1.HandleFunc("/clients/{id}", h.GetClient).Methods(http.MethodGet)

	// Penalty ledger
	v1.HandleFunc("/blocks", h.ListBlocks).Methods(http.MethodGet)
	v1.HandleFunc("/blocks/{id}", h.DeleteBlock).Methods(http.MethodDelete)

	// Dynamic whitelist
	v1.HandleFunc("/whitelist", h.ListWhitelist).Methods(http.MethodGet)
	v1.HandleFunc("/whitelist/{id}", h.DeleteWhitelist).Methods(http.MethodDelete)

	// Stats and metrics
	v1.HandleFunc("/stats", h.Stats).Methods(http.MethodGet)
	v1.HandleFunc("/metrics", h.Metrics).Methods(http.MethodGet)

	// Health
	if h.health != nil {
		v1.HandleFunc("/health", h.health.HealthHandler()).Methods(http.MethodGet)
		router.HandleFunc("/health", h.health.HealthHandler()).Methods(http.MethodGet)
	}

	// Handle OPTIONS for all routes (CORS preflight)
	v1.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// Everything else runs through the admission pipeline.
	if protected == nil {
		protected = http.HandlerFunc(h.RootHandler)
	}
	guarded := AdmissionMiddleware(engine, h.logger, h.metrics)(protected)
	router.PathPrefix("/").Handler(guarded)

	return router
}

// RootHandler is the default protected handler: it confirms admission and
// describes the service.
func (h *RESTHandler) RootHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"service":     "Admission Guard",
		"version":     "1.0.0",
		"api_version": "v1",
		"admitted":    true,
		"endpoints": map[string]interface{}{
			"health": "/health or /api/v1/health",
			"stats":  "/api/v1/stats",
			"admin_operations": map[string]string{
				"list_clients":     "GET /api/v1/clients",
				"get_client":       "GET /api/v1/clients/{id}",
				"list_blocks":      "GET /api/v1/blocks?include_expired={true|false}",
				"delete_block":     "DELETE /api/v1/blocks/{id}",
				"list_whitelist":   "GET /api/v1/whitelist",
				"delete_whitelist": "DELETE /api/v1/whitelist/{id}",
				"metrics":          "GET /api/v1/metrics",
			},
		},
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}
