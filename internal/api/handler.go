package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/merlin/internal/alerts"
	"github.com/opensource-finance/merlin/internal/baseline"
	"github.com/opensource-finance/merlin/internal/decision"
	"github.com/opensource-finance/merlin/internal/domain"
	"github.com/opensource-finance/merlin/internal/pipeline"
	"github.com/opensource-finance/merlin/internal/policy"
	"github.com/opensource-finance/merlin/internal/scoring"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	store     domain.Store
	cache     domain.Cache
	bus       domain.EventBus
	pipeline  *pipeline.Pipeline
	scorer    *scoring.Service
	decider   *decision.Engine
	policies  *policy.Engine
	alerts    *alerts.Service
	baselines *baseline.Service
	models    domain.ModelConfig
	version   string
}

// HandlerConfig collects handler dependencies.
type HandlerConfig struct {
	Store     domain.Store
	Cache     domain.Cache
	Bus       domain.EventBus
	Pipeline  *pipeline.Pipeline
	Scorer    *scoring.Service
	Decider   *decision.Engine
	Policies  *policy.Engine
	Alerts    *alerts.Service
	Baselines *baseline.Service
	Models    domain.ModelConfig
	Version   string
}

// NewHandler creates a new API handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		store:     cfg.Store,
		cache:     cfg.Cache,
		bus:       cfg.Bus,
		pipeline:  cfg.Pipeline,
		scorer:    cfg.Scorer,
		decider:   cfg.Decider,
		policies:  cfg.Policies,
		alerts:    cfg.Alerts,
		baselines: cfg.Baselines,
		models:    cfg.Models,
		version:   cfg.Version,
	}
}

// Score handles POST /score requests.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	var req domain.ScoringRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	tx := req.Transaction
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}

	resp, err := h.pipeline.Score(r.Context(), &tx)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetTransaction retrieves a transaction by ID.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")

	tx, err := h.store.GetTransaction(r.Context(), txID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, tx)
}

// ListAlerts returns alerts matching the query filters.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := domain.AlertFilter{
		Status:   q.Get("status"),
		Priority: q.Get("priority"),
	}
	if v := q.Get("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "since must be RFC 3339",
			})
			return
		}
		filter.Since = ts
	}
	if v := q.Get("until"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "until must be RFC 3339",
			})
			return
		}
		filter.Until = ts
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a positive integer",
			})
			return
		}
		filter.Limit = n
	}

	list, err := h.alerts.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": list,
		"count":  len(list),
	})
}

// GetAlert retrieves an alert by ID.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "id")

	alert, err := h.alerts.Get(r.Context(), alertID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

// ReviewAlertRequest is the request body for POST /alerts/{id}/review.
type ReviewAlertRequest struct {
	Status          string `json:"status,omitempty"`
	AnalystID       string `json:"analyst_id"`
	AnalystDecision string `json:"analyst_decision"`
	AnalystNotes    string `json:"analyst_notes,omitempty"`
}

// ReviewAlert records an analyst disposition on an alert.
func (h *Handler) ReviewAlert(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "id")

	var req ReviewAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if req.AnalystID == "" || req.AnalystDecision == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "analyst_id and analyst_decision are required",
		})
		return
	}

	review := domain.AlertReview{
		Status:          req.Status,
		AnalystID:       req.AnalystID,
		AnalystDecision: req.AnalystDecision,
		AnalystNotes:    req.AnalystNotes,
	}
	if err := h.alerts.Review(r.Context(), alertID, review); err != nil {
		writeError(w, err)
		return
	}

	alert, err := h.alerts.Get(r.Context(), alertID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

// AlertStats returns alert backlog statistics.
func (h *Handler) AlertStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.alerts.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// Stats returns pipeline-level statistics.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	alertStats, err := h.alerts.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	anomaly, classifier, version := h.scorer.ModelsLoaded()
	approve, block := h.decider.Thresholds()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alertStats,
		"models": map[string]interface{}{
			"anomaly_loaded":    anomaly,
			"classifier_loaded": classifier,
			"version":           version,
		},
		"thresholds": map[string]float64{
			"approve": approve,
			"block":   block,
		},
		"policy_count": h.policies.Count(),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.store != nil {
		if err := h.store.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError maps the domain error taxonomy onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrInvalidConfig):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrDataAccess):
		status = http.StatusServiceUnavailable
	default:
		slog.Error("request failed", "error", err)
	}

	writeJSON(w, status, map[string]string{
		"error": err.Error(),
	})
}
