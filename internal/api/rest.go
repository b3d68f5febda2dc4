package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"admission-guard/internal/logging"
	"admission-guard/internal/monitoring"
	"admission-guard/internal/state"
)

// RESTHandler handles the operator-facing admin API
type RESTHandler struct {
	store   state.Store
	logger  *logging.Logger
	metrics *monitoring.GuardMetrics
	health  *monitoring.HealthManager
}

// NewRESTHandler creates a new admin API handler
func NewRESTHandler(store state.Store, logger *logging.Logger, metrics *monitoring.GuardMetrics, health *monitoring.HealthManager) *RESTHandler {
	return &RESTHandler{
		store:   store,
		logger:  logger,
		metrics: metrics,
		health:  health,
	}
}

// ClientSummary is the list-view projection of a client record.
type ClientSummary struct {
	ClientID       string    `json:"client_id"`
	TotalRequests  int64     `json:"total_requests"`
	HumanScore     float64   `json:"human_score"`
	GeoConsistency float64   `json:"geo_consistency"`
	FirstSeen      time.Time `json:"first_seen"`
	LastSeen       time.Time `json:"last_seen"`
}

// ClientListResponse represents a client list response
type ClientListResponse struct {
	Clients []ClientSummary `json:"clients"`
	Count   int             `json:"count"`
}

// BlockListResponse represents a block list response
type BlockListResponse struct {
	Blocks []*state.BlockEntry `json:"blocks"`
	Count  int                 `json:"count"`
}

// WhitelistResponse represents a whitelist listing
type WhitelistResponse struct {
	Entries []*state.WhitelistEntry `json:"entries"`
	Count   int                     `json:"count"`
}

// DeleteResponse represents the outcome of an admin delete
type DeleteResponse struct {
	Success bool   `json:"success"`
	Existed bool   `json:"existed"`
	Error   string `json:"error,omitempty"`
}

// StatsResponse represents a stats response
type StatsResponse struct {
	TrackedClients int                    `json:"tracked_clients"`
	ActiveBlocks   int                    `json:"active_blocks"`
	WhitelistSize  int                    `json:"whitelist_size"`
	Details        map[string]interface{} `json:"details,omitempty"`
}

// ErrorResponse represents a generic error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /api/v1/clients
func (h *RESTHandler) ListClients(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.ListRecords()
	if err != nil {
		h.logger.WithError(err).Error("Failed to list client records")
		h.writeErrorResponse(w, http.StatusInternalServerError, "Failed to list clients")
		return
	}

	summaries := make([]ClientSummary, 0, len(records))
	for _, rec := range records {
		summaries = append(summaries, ClientSummary{
			ClientID:       rec.ClientID,
			TotalRequests:  rec.TotalRequests,
			HumanScore:     rec.HumanScore,
			GeoConsistency: rec.GeoConsistency,
			FirstSeen:      rec.FirstSeen,
			LastSeen:       rec.LastSeen,
		})
	}

	h.writeJSONResponse(w, http.StatusOK, ClientListResponse{
		Clients: summaries,
		Count:   len(summaries),
	})
}

// GET /api/v1/clients/{id}
func (h *RESTHandler) GetClient(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, "Client id cannot be empty")
		return
	}

	rec, err := h.store.GetRecord(id)
	if err == state.ErrNotFound {
		h.writeErrorResponse(w, http.StatusNotFound, "Client not found")
		return
	}
	if err != nil {
		h.logger.WithError(err).WithField("client_id", id).Error("Failed to get client record")
		h.writeErrorResponse(w, http.StatusInternalServerError, "Failed to get client")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, rec)
}

// GET /api/v1/blocks
func (h *RESTHandler) ListBlocks(w http.ResponseWriter, r *http.Request) {
	blocks, err := h.store.ListBlocks()
	if err != nil {
		h.logger.WithError(err).Error("Failed to list blocks")
		h.writeErrorResponse(w, http.StatusInternalServerError, "Failed to list blocks")
		return
	}

	// Expired entries linger until their next read; filter them out of the
	// operator view unless explicitly requested.
	if r.URL.Query().Get("include_expired") != "true" {
		now := time.Now()
		active := blocks[:0]
		for _, block := range blocks {
			if !block.Expired(now) {
				active = append(active, block)
			}
		}
		blocks = active
	}

	h.writeJSONResponse(w, http.StatusOK, BlockListResponse{
		Blocks: blocks,
		Count:  len(blocks),
	})
}

// DELETE /api/v1/blocks/{id}
func (h *RESTHandler) DeleteBlock(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, "Client id cannot be empty")
		return
	}

	existed := true
	if _, err := h.store.GetBlock(id); err == state.ErrNotFound {
		existed = false
	}

	if err := h.store.DeleteBlock(id); err != nil {
		h.logger.WithError(err).WithField("client_id", id).Error("Failed to delete block")
		h.writeJSONResponse(w, http.StatusInternalServerError, DeleteResponse{
			Success: false,
			Existed: existed,
			Error:   err.Error(),
		})
		return
	}

	h.logger.InfoContext(r.Context(), "Block removed by operator", "client_id", id)
	h.writeJSONResponse(w, http.StatusOK, DeleteResponse{
		Success: true,
		Existed: existed,
	})
}

// GET /api/v1/whitelist
func (h *RESTHandler) ListWhitelist(w http.ResponseWriter, r *http.Request) {
	entries, err := h.store.ListWhitelist()
	if err != nil {
		h.logger.WithError(err).Error("Failed to list whitelist")
		h.writeErrorResponse(w, http.StatusInternalServerError, "Failed to list whitelist")
		return
	}

	h.writeJSONResponse(w, http.StatusOK, WhitelistResponse{
		Entries: entries,
		Count:   len(entries),
	})
}

// DELETE /api/v1/whitelist/{id}
//
// Demotion is an operator-only action; the engine itself never removes a
// promoted client.
func (h *RESTHandler) DeleteWhitelist(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		h.writeErrorResponse(w, http.StatusBadRequest, "Client id cannot be empty")
		return
	}

	existed := true
	if _, err := h.store.GetWhitelist(id); err == state.ErrNotFound {
		existed = false
	}

	if err := h.store.DeleteWhitelist(id); err != nil {
		h.logger.WithError(err).WithField("client_id", id).Error("Failed to delete whitelist entry")
		h.writeJSONResponse(w, http.StatusInternalServerError, DeleteResponse{
			Success: false,
			Existed: existed,
			Error:   err.Error(),
		})
		return
	}

	h.logger.InfoContext(r.Context(), "Whitelist entry removed by operator", "client_id", id)
	h.writeJSONResponse(w, http.StatusOK, DeleteResponse{
		Success: true,
		Existed: existed,
	})
}

// GET /api/v1/stats
func (h *RESTHandler) Stats(w http.ResponseWriter, r *http.Request) {
	records, err := h.store.ListRecords()
	if err != nil {
		h.logger.WithError(err).Error("Failed to read stats")
		h.writeErrorResponse(w, http.StatusInternalServerError, "Failed to read stats")
		return
	}
	blocks, _ := h.store.ListBlocks()
	whitelist, _ := h.store.ListWhitelist()

	now := time.Now()
	activeBlocks := 0
	for _, block := range blocks {
		if !block.Expired(now) {
			activeBlocks++
		}
	}

	response := StatsResponse{
		TrackedClients: len(records),
		ActiveBlocks:   activeBlocks,
		WhitelistSize:  len(whitelist),
	}

	if r.URL.Query().Get("details") == "true" {
		response.Details = h.store.Stats()
	}

	h.writeJSONResponse(w, http.StatusOK, response)
}

// GET /api/v1/metrics
func (h *RESTHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		h.writeErrorResponse(w, http.StatusNotFound, "Metrics are not enabled")
		return
	}
	h.writeJSONResponse(w, http.StatusOK, h.metrics.GetRegistry().GetAllMetrics())
}

// Helper methods

func (h *RESTHandler) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

func (h *RESTHandler) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	h.writeJSONResponse(w, statusCode, ErrorResponse{
		Error:   message,
		Code:    statusCode,
		Message: http.StatusText(statusCode),
	})
}

// CORS middleware
func (h *RESTHandler) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
