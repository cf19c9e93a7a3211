package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"ev-analytics-platform/internal/repository"
	"ev-analytics-platform/internal/services"
	"ev-analytics-platform/pkg/logging"
	"ev-analytics-platform/pkg/metrics"
)

// VehicleHandler handles the vehicle analytics API endpoints
type VehicleHandler struct {
	analytics *services.AnalyticsService
	repo      repository.VehicleRepository
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
}

// NewVehicleHandler creates a new vehicle handler
func NewVehicleHandler(
	analytics *services.AnalyticsService,
	repo repository.VehicleRepository,
	logger *logging.StructuredLogger,
	metricsCollector *metrics.Collector,
) *VehicleHandler {
	return &VehicleHandler{
		analytics: analytics,
		repo:      repo,
		logger:    logger,
		metrics:   metricsCollector,
	}
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// GetSummary handles GET /api/v1/vehicles/summary
func (h *VehicleHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/v1/vehicles/summary").Observe(duration.Seconds())
	}()

	summary, err := h.analytics.Summary(ctx)
	if err != nil {
		h.logger.Error(ctx, "[API_SUMMARY_ERROR] Failed to compute summary", logging.Fields{}, err)
		h.metrics.RecordAPIError("internal_error", "/api/v1/vehicles/summary")
		h.sendError(w, r, "/api/v1/vehicles/summary", "failed to compute vehicle summary", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/v1/vehicles/summary", "GET", "200")
	h.sendJSON(w, summary, http.StatusOK)
}

// GetCountyVehicles handles GET /api/v1/vehicles/county/{county}
func (h *VehicleHandler) GetCountyVehicles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/v1/vehicles/county").Observe(duration.Seconds())
	}()

	params := services.CountyListingParams{
		County: mux.Vars(r)["county"],
		SortBy: r.URL.Query().Get("sort_by"),
	}

	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil {
			h.sendError(w, r, "/api/v1/vehicles/county", "invalid page, expected a positive integer", http.StatusBadRequest)
			return
		}
		params.Page = p
	}

	if sizeStr := r.URL.Query().Get("page_size"); sizeStr != "" {
		size, err := strconv.Atoi(sizeStr)
		if err != nil {
			h.sendError(w, r, "/api/v1/vehicles/county", "invalid page_size, expected a positive integer", http.StatusBadRequest)
			return
		}
		params.PageSize = size
	}

	if yearStr := r.URL.Query().Get("model_year"); yearStr != "" {
		year, err := strconv.Atoi(yearStr)
		if err != nil {
			h.sendError(w, r, "/api/v1/vehicles/county", "invalid model_year, expected an integer", http.StatusBadRequest)
			return
		}
		params.ModelYear = &year
	}

	switch order := r.URL.Query().Get("sort_order"); order {
	case "", "asc":
	case "desc":
		params.SortDesc = true
	default:
		h.sendError(w, r, "/api/v1/vehicles/county", "invalid sort_order, expected asc or desc", http.StatusBadRequest)
		return
	}

	listing, err := h.analytics.CountyListing(ctx, params)
	if err != nil {
		if errors.Is(err, services.ErrInvalidQuery) {
			h.sendError(w, r, "/api/v1/vehicles/county", err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error(ctx, "[API_COUNTY_ERROR] Failed to list county vehicles", logging.Fields{
			"county": params.County,
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/v1/vehicles/county")
		h.sendError(w, r, "/api/v1/vehicles/county", "failed to list county vehicles", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/v1/vehicles/county", "GET", "200")
	h.sendJSON(w, listing, http.StatusOK)
}

// GetMakeModels handles GET /api/v1/vehicles/make/{make}/models
func (h *VehicleHandler) GetMakeModels(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/v1/vehicles/make/models").Observe(duration.Seconds())
	}()

	makeName := mux.Vars(r)["make"]

	result, err := h.analytics.MakeModels(ctx, makeName)
	if err != nil {
		if errors.Is(err, services.ErrInvalidQuery) {
			h.sendError(w, r, "/api/v1/vehicles/make/models", err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error(ctx, "[API_MAKE_MODELS_ERROR] Failed to aggregate make models", logging.Fields{
			"make": makeName,
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/v1/vehicles/make/models")
		h.sendError(w, r, "/api/v1/vehicles/make/models", "failed to aggregate models", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/v1/vehicles/make/models", "GET", "200")
	h.sendJSON(w, result, http.StatusOK)
}

// AnalyzeVehicles handles POST /api/v1/vehicles/analyze
func (h *VehicleHandler) AnalyzeVehicles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/v1/vehicles/analyze").Observe(duration.Seconds())
	}()

	var req services.AnalyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, r, "/api/v1/vehicles/analyze", "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.analytics.Analyze(ctx, req)
	if err != nil {
		if errors.Is(err, services.ErrInvalidQuery) {
			h.sendError(w, r, "/api/v1/vehicles/analyze", err.Error(), http.StatusBadRequest)
			return
		}
		h.logger.Error(ctx, "[API_ANALYZE_ERROR] Failed to analyze vehicles", logging.Fields{
			"group_by": req.GroupBy,
		}, err)
		h.metrics.RecordAPIError("internal_error", "/api/v1/vehicles/analyze")
		h.sendError(w, r, "/api/v1/vehicles/analyze", "failed to analyze vehicles", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/v1/vehicles/analyze", "POST", "200")
	h.sendJSON(w, result, http.StatusOK)
}

// GetTrends handles GET /api/v1/vehicles/trends
func (h *VehicleHandler) GetTrends(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	defer func() {
		duration := time.Since(startTime)
		h.metrics.APIRequestDuration.WithLabelValues("/api/v1/vehicles/trends").Observe(duration.Seconds())
	}()

	trends, err := h.analytics.Trends(ctx)
	if err != nil {
		h.logger.Error(ctx, "[API_TRENDS_ERROR] Failed to compute trends", logging.Fields{}, err)
		h.metrics.RecordAPIError("internal_error", "/api/v1/vehicles/trends")
		h.sendError(w, r, "/api/v1/vehicles/trends", "failed to compute trends", http.StatusInternalServerError)
		return
	}

	h.metrics.RecordAPIRequest("/api/v1/vehicles/trends", "GET", "200")
	h.sendJSON(w, trends, http.StatusOK)
}

// HealthCheck handles GET /health
func (h *VehicleHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	if err := h.repo.HealthCheck(ctx); err != nil {
		h.logger.Error(ctx, "[HEALTH_CHECK_ERROR] Store unreachable", logging.Fields{}, err)
		status["status"] = "unhealthy"
		h.sendJSON(w, status, http.StatusServiceUnavailable)
		return
	}

	h.logger.Debug(ctx, "[HEALTH_CHECK] Health check requested", logging.Fields{})
	h.sendJSON(w, status, http.StatusOK)
}

// sendJSON sends a JSON response
func (h *VehicleHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// sendError sends an error response. The endpoint label must be the fixed
// route name, never the request path, so path variables like county or make
// values cannot blow up the metric's label cardinality.
func (h *VehicleHandler) sendError(w http.ResponseWriter, r *http.Request, endpoint, message string, statusCode int) {
	h.metrics.RecordAPIRequest(endpoint, r.Method, strconv.Itoa(statusCode))

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	h.sendJSON(w, response, statusCode)
}

// RegisterRoutes registers all vehicle API routes
func (h *VehicleHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/v1/vehicles/summary", h.GetSummary).Methods("GET")
	router.HandleFunc("/api/v1/vehicles/county/{county}", h.GetCountyVehicles).Methods("GET")
	router.HandleFunc("/api/v1/vehicles/make/{make}/models", h.GetMakeModels).Methods("GET")
	router.HandleFunc("/api/v1/vehicles/analyze", h.AnalyzeVehicles).Methods("POST")
	router.HandleFunc("/api/v1/vehicles/trends", h.GetTrends).Methods("GET")
	router.HandleFunc("/health", h.HealthCheck).Methods("GET")
}
