package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"weather-options/internal/chain"
	"weather-options/internal/models"
	"weather-options/internal/repository"
	"weather-options/internal/services"
	"weather-options/pkg/logging"
	"weather-options/pkg/metrics"
)

// ClientConfig is the public configuration a front end needs to connect
type ClientConfig struct {
	AppName                string          `json:"app_name"`
	Version                string          `json:"version"`
	WalletConnectProjectID string          `json:"walletconnect_project_id"`
	ChainID                int64           `json:"chain_id"`
	Addresses              chain.Addresses `json:"addresses"`
}

// OptionHandler handles the purchase flow, position and vault endpoints
type OptionHandler struct {
	flow       *services.OptionFlowService
	settlement *services.SettlementService
	vault      *services.VaultService
	journal    repository.JournalRepository // nil when the database is disabled
	stats      *services.StatisticsService  // nil when the database is disabled
	client     ClientConfig
	logger     *logging.StructuredLogger
	metrics    *metrics.Collector
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Kind    string `json:"kind,omitempty"`
	TxHash  string `json:"tx_hash,omitempty"`
	Code    int    `json:"code"`
}

// PaginatedResponse represents a paginated response
type PaginatedResponse struct {
	Data       interface{} `json:"data"`
	Total      int         `json:"total"`
	Page       int         `json:"page"`
	Limit      int         `json:"limit"`
	TotalPages int         `json:"total_pages"`
}

// TxResponse is returned when an action has been broadcast
type TxResponse struct {
	TxHash string `json:"tx_hash"`
}

// NewOptionHandler creates a new option handler. journal and stats may be nil.
func NewOptionHandler(
	flow *services.OptionFlowService,
	settlement *services.SettlementService,
	vault *services.VaultService,
	journal repository.JournalRepository,
	stats *services.StatisticsService,
	client ClientConfig,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *OptionHandler {
	return &OptionHandler{
		flow:       flow,
		settlement: settlement,
		vault:      vault,
		journal:    journal,
		stats:      stats,
		client:     client,
		logger:     logger.WithFields(logging.Fields{"component": "api"}),
		metrics:    metricsCollector,
	}
}

// GetFlow handles GET /api/flow
func (h *OptionHandler) GetFlow(w http.ResponseWriter, r *http.Request) {
	defer h.observe("/api/flow")()
	h.sendFlow(w, r, "/api/flow")
}

// UpdateForm handles PUT /api/flow/form
func (h *OptionHandler) UpdateForm(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/flow/form"
	defer h.observe(endpoint)()

	var form models.FormParameters
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&form); err != nil {
		h.metrics.RecordAPIError("bad_request", endpoint)
		h.sendError(w, r, "invalid form body: "+err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.flow.UpdateForm(r.Context(), form); err != nil {
		h.sendServiceError(w, r, endpoint, "failed to update form", err, http.StatusInternalServerError)
		return
	}
	h.sendFlow(w, r, endpoint)
}

// RequestQuote handles POST /api/flow/quote
func (h *OptionHandler) RequestQuote(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/flow/quote"
	defer h.observe(endpoint)()

	if err := h.flow.RequestQuote(r.Context()); err != nil {
		h.sendServiceError(w, r, endpoint, "failed to request quote", err, http.StatusBadGateway)
		return
	}
	h.sendFlow(w, r, endpoint)
}

// Confirm handles POST /api/flow/confirm
func (h *OptionHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/flow/confirm"
	defer h.observe(endpoint)()

	if err := h.flow.Confirm(r.Context()); err != nil {
		h.sendServiceError(w, r, endpoint, "failed to confirm purchase", err, http.StatusBadGateway)
		return
	}
	h.sendFlow(w, r, endpoint)
}

// Cancel handles POST /api/flow/cancel
func (h *OptionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/flow/cancel"
	defer h.observe(endpoint)()

	if err := h.flow.Cancel(r.Context()); err != nil {
		h.sendServiceError(w, r, endpoint, "failed to cancel", err, http.StatusInternalServerError)
		return
	}
	h.sendFlow(w, r, endpoint)
}

// ResetFlow handles POST /api/flow/reset
func (h *OptionHandler) ResetFlow(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/flow/reset"
	defer h.observe(endpoint)()

	if err := h.flow.Reset(r.Context()); err != nil {
		h.sendServiceError(w, r, endpoint, "failed to reset", err, http.StatusInternalServerError)
		return
	}
	h.sendFlow(w, r, endpoint)
}

// GetFlowHistory handles GET /api/flow/history
func (h *OptionHandler) GetFlowHistory(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/flow/history"
	defer h.observe(endpoint)()
	ctx := r.Context()

	if h.journal == nil {
		h.sendError(w, r, "journal is disabled", http.StatusServiceUnavailable)
		return
	}

	page, limit := pagination(r)
	filter := repository.TransitionFilter{
		Limit:  limit,
		Offset: (page - 1) * limit,
	}

	if sessionID := r.URL.Query().Get("session_id"); sessionID != "" {
		filter.SessionID = &sessionID
	}

	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			h.sendError(w, r, "invalid since, expected RFC3339 timestamp", http.StatusBadRequest)
			return
		}
		filter.Since = &since
	}

	transitions, total, err := h.journal.ListTransitions(ctx, filter)
	if err != nil {
		h.logger.Error(ctx, "[API_FLOW_HISTORY_ERROR] Failed to list transitions", logging.Fields{
			"page":  page,
			"limit": limit,
		}, err)
		h.metrics.RecordAPIError("internal_error", endpoint)
		h.sendError(w, r, "failed to retrieve flow history", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, "GET", "200")
	h.sendJSON(w, paginated(transitions, total, page, limit), http.StatusOK)
}

// GetTransactions handles GET /api/transactions
func (h *OptionHandler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/transactions"
	defer h.observe(endpoint)()
	ctx := r.Context()

	if h.journal == nil {
		h.sendError(w, r, "journal is disabled", http.StatusServiceUnavailable)
		return
	}

	page, limit := pagination(r)
	filter := repository.TransactionFilter{
		Limit:  limit,
		Offset: (page - 1) * limit,
	}

	q := r.URL.Query()
	if v := q.Get("action"); v != "" {
		action := models.TxAction(v)
		filter.Action = &action
	}
	if v := q.Get("status"); v != "" {
		status := models.TxStatus(v)
		filter.Status = &status
	}
	if v := q.Get("token_id"); v != "" {
		filter.TokenID = &v
	}

	records, total, err := h.journal.ListTransactions(ctx, filter)
	if err != nil {
		h.logger.Error(ctx, "[API_TRANSACTIONS_ERROR] Failed to list transactions", logging.Fields{
			"page":  page,
			"limit": limit,
		}, err)
		h.metrics.RecordAPIError("internal_error", endpoint)
		h.sendError(w, r, "failed to retrieve transactions", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, "GET", "200")
	h.sendJSON(w, paginated(records, total, page, limit), http.StatusOK)
}

// GetTransaction handles GET /api/transactions/{hash}
func (h *OptionHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/transactions/{hash}"
	defer h.observe(endpoint)()

	if h.journal == nil {
		h.sendError(w, r, "journal is disabled", http.StatusServiceUnavailable)
		return
	}

	rec, err := h.journal.GetTransaction(r.Context(), mux.Vars(r)["hash"])
	if err != nil {
		h.sendServiceError(w, r, endpoint, "failed to retrieve transaction", err, http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, "GET", "200")
	h.sendJSON(w, rec, http.StatusOK)
}

// GetStats handles GET /api/stats
func (h *OptionHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/api/stats"
	defer h.observe(endpoint)()
	ctx := r.Context()

	if h.stats == nil {
		h.sendError(w, r, "journal is disabled", http.StatusServiceUnavailable)
		return
	}

	var since *time.Time
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		t, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			h.sendError(w, r, "invalid since, expected RFC3339 timestamp", http.StatusBadRequest)
			return
		}
		since = &t
	}

	stats, err := h.stats.Activity(ctx, since)
	if err != nil {
		h.logger.Error(ctx, "[API_GET_STATS_ERROR] Failed to summarize activity", logging.Fields{}, err)
		h.metrics.RecordAPIError("internal_error", endpoint)
		h.sendError(w, r, "failed to retrieve statistics", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest(endpoint, "GET", "200")
	h.sendJSON(w, stats, http.StatusOK)
}

// GetClientConfig handles GET /api/client-config
func (h *OptionHandler) GetClientConfig(w http.ResponseWriter, r *http.Request) {
	h.metrics.RecordAPIRequest("/api/client-config", "GET", "200")
	h.sendJSON(w, h.client, http.StatusOK)
}

// HealthCheck handles GET /health
func (h *OptionHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"journal":   "disabled",
	}
	code := http.StatusOK

	if h.journal != nil {
		status["journal"] = "ok"
		if err := h.journal.HealthCheck(ctx); err != nil {
			h.logger.Warn(ctx, "[HEALTH_CHECK_DEGRADED] Journal health check failed", logging.Fields{
				"error": err.Error(),
			})
			status["status"] = "unhealthy"
			status["journal"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	h.sendJSON(w, status, code)
}

func (h *OptionHandler) sendFlow(w http.ResponseWriter, r *http.Request, endpoint string) {
	view, err := h.flow.Snapshot(r.Context())
	if err != nil {
		h.sendServiceError(w, r, endpoint, "failed to read flow state", err, http.StatusInternalServerError)
		return
	}
	h.metrics.RecordAPIRequest(endpoint, r.Method, "200")
	h.sendJSON(w, view, http.StatusOK)
}

// observe records the request duration of endpoint when the returned func runs
func (h *OptionHandler) observe(endpoint string) func() {
	startTime := time.Now()
	return func() {
		h.metrics.APIRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}
}

// statusFor maps service errors onto HTTP status codes. Errors of no known
// type map to fallback.
func statusFor(err error, fallback int) int {
	var ve *models.ValidationError
	var nf *repository.NotFoundError
	var fe *models.FlowError

	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotConnected):
		return http.StatusPreconditionFailed
	case errors.Is(err, models.ErrActionDisabled), errors.Is(err, models.ErrInvalidStep):
		return http.StatusConflict
	case errors.As(err, &nf):
		return http.StatusNotFound
	case errors.Is(err, services.ErrServiceClosed):
		return http.StatusServiceUnavailable
	case errors.As(err, &fe):
		if fe.Kind == models.KindValidation {
			return http.StatusBadRequest
		}
		if fe.Kind == models.KindPrecondition {
			return http.StatusPreconditionFailed
		}
		return http.StatusBadGateway
	}
	return fallback
}

// sendServiceError logs err and replies with the status it maps to
func (h *OptionHandler) sendServiceError(w http.ResponseWriter, r *http.Request, endpoint, message string, err error, fallback int) {
	ctx := r.Context()
	code := statusFor(err, fallback)

	if code >= http.StatusInternalServerError {
		h.logger.Error(ctx, "[API_ERROR] "+message, logging.Fields{
			"endpoint": endpoint,
			"status":   code,
		}, err)
		h.metrics.RecordAPIError("internal_error", endpoint)
	} else {
		h.logger.Debug(ctx, "[API_REJECTED] "+message, logging.Fields{
			"endpoint": endpoint,
			"status":   code,
			"error":    err.Error(),
		})
		h.metrics.RecordAPIError("rejected", endpoint)
	}

	response := ErrorResponse{
		Error:   http.StatusText(code),
		Message: err.Error(),
		Code:    code,
	}
	var fe *models.FlowError
	if errors.As(err, &fe) {
		response.Kind = string(fe.Kind)
		response.TxHash = fe.TxHash
	}

	h.metrics.RecordAPIRequest(endpoint, r.Method, strconv.Itoa(code))
	h.sendJSON(w, response, code)
}

// sendJSON sends a JSON response
func (h *OptionHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (h *OptionHandler) sendError(w http.ResponseWriter, r *http.Request, message string, statusCode int) {
	h.metrics.RecordAPIRequest(r.URL.Path, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}

func pagination(r *http.Request) (page, limit int) {
	page, limit = 1, 100

	if p, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && p > 0 {
		page = p
	}
	if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 1000 {
		limit = l
	}
	return page, limit
}

func paginated(data interface{}, total, page, limit int) PaginatedResponse {
	return PaginatedResponse{
		Data:       data,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}
}

// RegisterRoutes registers all API routes
func (h *OptionHandler) RegisterRoutes(router *mux.Router) {
	router.Use(requestID)

	router.HandleFunc("/api/flow", h.GetFlow).Methods("GET")
	router.HandleFunc("/api/flow/form", h.UpdateForm).Methods("PUT")
	router.HandleFunc("/api/flow/quote", h.RequestQuote).Methods("POST")
	router.HandleFunc("/api/flow/confirm", h.Confirm).Methods("POST")
	router.HandleFunc("/api/flow/cancel", h.Cancel).Methods("POST")
	router.HandleFunc("/api/flow/reset", h.ResetFlow).Methods("POST")
	router.HandleFunc("/api/flow/history", h.GetFlowHistory).Methods("GET")

	router.HandleFunc("/api/positions", h.GetPositions).Methods("GET")
	router.HandleFunc("/api/positions/snapshots", h.GetPositionSnapshots).Methods("GET")
	router.HandleFunc("/api/positions/{id:[0-9]+}", h.GetPosition).Methods("GET")
	router.HandleFunc("/api/positions/{id:[0-9]+}/settlement", h.RequestSettlement).Methods("POST")
	router.HandleFunc("/api/positions/{id:[0-9]+}/settlement/finalize", h.FinalizeSettlement).Methods("POST")
	router.HandleFunc("/api/positions/{id:[0-9]+}/claim", h.ClaimPayout).Methods("POST")

	router.HandleFunc("/api/vault", h.GetVault).Methods("GET")
	router.HandleFunc("/api/vault/{action}", h.VaultAction).Methods("POST")

	router.HandleFunc("/api/transactions", h.GetTransactions).Methods("GET")
	router.HandleFunc("/api/transactions/{hash}", h.GetTransaction).Methods("GET")

	router.HandleFunc("/api/stats", h.GetStats).Methods("GET")

	router.HandleFunc("/api/client-config", h.GetClientConfig).Methods("GET")
	router.HandleFunc("/api/docs", SwaggerUI).Methods("GET")
	router.HandleFunc("/api/docs/openapi.json", OpenAPISpec).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
}

// RequestIDHeader carries the id attached to every log line of a request
const RequestIDHeader = "X-Request-ID"

// requestID reuses the caller's request id or assigns a new one, echoes it in
// the response and stores it in the request context for logging
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.WithRequestID(r.Context(), id)))
	})
}
