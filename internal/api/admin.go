package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/merlin/internal/domain"
)

// ScoringConfigRequest is the request body for PUT /config/scoring.
// The whole unit is replaced atomically; a rejected update leaves the
// running configuration untouched.
type ScoringConfigRequest struct {
	UnsupervisedWeight float64 `json:"unsupervised_weight"`
	SupervisedWeight   float64 `json:"supervised_weight"`
	ApproveThreshold   float64 `json:"approve_threshold"`
	BlockThreshold     float64 `json:"block_threshold"`
	FalsePositiveCost  float64 `json:"false_positive_cost"`
	FalseNegativeCost  float64 `json:"false_negative_cost"`
	HighValueThreshold float64 `json:"high_value_threshold"`
	BaselineTTLSeconds int     `json:"baseline_ttl_seconds"`
}

// UpdateScoringConfig handles PUT /config/scoring.
func (h *Handler) UpdateScoringConfig(w http.ResponseWriter, r *http.Request) {
	var req ScoringConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	cfg := domain.ScoringConfig{
		UnsupervisedWeight: req.UnsupervisedWeight,
		SupervisedWeight:   req.SupervisedWeight,
		ApproveThreshold:   req.ApproveThreshold,
		BlockThreshold:     req.BlockThreshold,
		FalsePositiveCost:  req.FalsePositiveCost,
		FalseNegativeCost:  req.FalseNegativeCost,
		HighValueThreshold: req.HighValueThreshold,
		BaselineTTL:        time.Duration(req.BaselineTTLSeconds) * time.Second,
	}

	if err := h.pipeline.ReloadScoring(cfg); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "scoring configuration applied",
	})
}

// CalibrateRequest is the request body for POST /calibrate.
type CalibrateRequest struct {
	Validation []domain.LabeledScore `json:"validation"`

	// Apply installs the recommended thresholds when true. Otherwise the
	// calibration is a dry run.
	Apply bool `json:"apply"`
}

// Calibrate handles POST /calibrate.
func (h *Handler) Calibrate(w http.ResponseWriter, r *http.Request) {
	var req CalibrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	result := h.decider.Calibrate(req.Validation)

	applied := false
	if req.Apply && result.Evaluated > 0 {
		if err := h.decider.UpdateThresholds(result.ApproveThreshold, result.BlockThreshold); err != nil {
			writeError(w, err)
			return
		}
		applied = true
		slog.Info("calibrated thresholds applied",
			"approve_threshold", result.ApproveThreshold,
			"block_threshold", result.BlockThreshold,
			"total_cost", result.TotalCost,
		)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"result":  result,
		"applied": applied,
	})
}

// ReloadModelsRequest is the request body for POST /models/reload.
// Empty paths fall back to the configured artifact locations.
type ReloadModelsRequest struct {
	AnomalyPath    string `json:"anomaly_path,omitempty"`
	ClassifierPath string `json:"classifier_path,omitempty"`
}

// ReloadModels handles POST /models/reload.
func (h *Handler) ReloadModels(w http.ResponseWriter, r *http.Request) {
	var req ReloadModelsRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "invalid JSON request body",
			})
			return
		}
	}

	anomalyPath := req.AnomalyPath
	if anomalyPath == "" {
		anomalyPath = h.models.AnomalyPath
	}
	classifierPath := req.ClassifierPath
	if classifierPath == "" {
		classifierPath = h.models.ClassifierPath
	}

	version, err := h.scorer.UpdateModels(anomalyPath, classifierPath)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "model reload failed: " + err.Error(),
		})
		return
	}
	h.pipeline.RefreshModels()

	anomaly, classifier, _ := h.scorer.ModelsLoaded()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"model_version":     version,
		"anomaly_loaded":    anomaly,
		"classifier_loaded": classifier,
	})
}

// RefreshBaseline handles POST /baselines/{userID}/refresh.
func (h *Handler) RefreshBaseline(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	b, err := h.baselines.Recompute(r.Context(), userID, time.Now().UTC())
	if err != nil {
		writeError(w, err)
		return
	}
	if b == nil {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "no transaction history for user",
			"user_id": userID,
		})
		return
	}

	writeJSON(w, http.StatusOK, b)
}

// ListPolicies returns stored policies and the number currently compiled.
func (h *Handler) ListPolicies(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListPolicies(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"policies": list,
		"count":    len(list),
		"compiled": h.policies.Count(),
	})
}

// CreatePolicyRequest is the request body for POST /policies.
type CreatePolicyRequest struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Expression  string `json:"expression"`
	EscalateTo  string `json:"escalate_to"`
	Enabled     bool   `json:"enabled"`
}

// CreatePolicy validates, persists, and hot-loads a policy.
func (h *Handler) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var req CreatePolicyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "name and expression are required",
		})
		return
	}

	cfg := &domain.PolicyConfig{
		ID:          req.ID,
		Name:        req.Name,
		Description: req.Description,
		Expression:  req.Expression,
		EscalateTo:  req.EscalateTo,
		Enabled:     req.Enabled,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}

	if err := h.policies.Validate(cfg); err != nil {
		writeError(w, err)
		return
	}

	if err := h.store.SavePolicy(r.Context(), cfg); err != nil {
		writeError(w, err)
		return
	}

	if cfg.Enabled {
		if err := h.policies.Load(cfg); err != nil {
			writeError(w, err)
			return
		}
	}

	slog.Info("policy created", "policy_id", cfg.ID, "name", cfg.Name)
	writeJSON(w, http.StatusCreated, cfg)
}

// ReloadPolicies recompiles all enabled policies from the store.
func (h *Handler) ReloadPolicies(w http.ResponseWriter, r *http.Request) {
	list, err := h.store.ListPolicies(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.policies.Reload(list); err != nil {
		writeError(w, err)
		return
	}

	slog.Info("policies reloaded", "count", h.policies.Count())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "policies reloaded",
		"count":   h.policies.Count(),
	})
}
