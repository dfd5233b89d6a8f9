// Package pipeline sequences the scoring stages for one transaction:
// persist, featurize, score, decide, apply policies, explain, alert.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/merlin/internal/alerts"
	"github.com/opensource-finance/merlin/internal/baseline"
	"github.com/opensource-finance/merlin/internal/decision"
	"github.com/opensource-finance/merlin/internal/domain"
	"github.com/opensource-finance/merlin/internal/explain"
	"github.com/opensource-finance/merlin/internal/features"
	"github.com/opensource-finance/merlin/internal/policy"
	"github.com/opensource-finance/merlin/internal/scoring"
)

// approvedSummary is the explanation text for clean transactions.
const approvedSummary = "Transaction approved - no anomalies detected"

// Pipeline wires the scoring stages together. Each request flows one
// direction: Transaction -> Features -> Prediction -> Decision ->
// Explanation. Only persistence failures on the critical path fail the
// request; every side effect degrades to a log line.
type Pipeline struct {
	store     domain.Store
	bus       domain.EventBus
	features  *features.Service
	scorer    *scoring.Service
	decider   *decision.Engine
	policies  *policy.Engine
	explain   *explain.Engine
	alerts    *alerts.Service
	baselines *baseline.Service
	logger    *slog.Logger
}

// Config collects the pipeline's collaborators.
type Config struct {
	Store     domain.Store
	Bus       domain.EventBus
	Features  *features.Service
	Scorer    *scoring.Service
	Decider   *decision.Engine
	Policies  *policy.Engine
	Explain   *explain.Engine
	Alerts    *alerts.Service
	Baselines *baseline.Service
	Logger    *slog.Logger
}

// New creates a pipeline.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{
		store:     cfg.Store,
		bus:       cfg.Bus,
		features:  cfg.Features,
		scorer:    cfg.Scorer,
		decider:   cfg.Decider,
		policies:  cfg.Policies,
		explain:   cfg.Explain,
		alerts:    cfg.Alerts,
		baselines: cfg.Baselines,
		logger:    logger,
	}
	p.refreshModeGauge()
	return p
}

func (p *Pipeline) refreshModeGauge() {
	anomaly, classifier, _ := p.scorer.ModelsLoaded()
	if anomaly && classifier {
		heuristicMode.Set(0)
	} else {
		heuristicMode.Set(1)
	}
}

// scoredEvent is the payload published after each scored transaction.
type scoredEvent struct {
	TransactionID string  `json:"transaction_id"`
	FraudScore    float64 `json:"fraud_score"`
	Action        string  `json:"action"`
	ModelVersion  string  `json:"model_version"`
}

// Score runs one transaction through the full pipeline.
func (p *Pipeline) Score(ctx context.Context, tx *domain.Transaction) (*domain.ScoringResponse, error) {
	start := time.Now()

	if tx.Timestamp.IsZero() {
		tx.Timestamp = time.Now().UTC()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	tx.Normalize()
	if err := tx.Validate(); err != nil {
		return nil, err
	}

	// Persist before featurizing so velocity windows see a consistent
	// history. The current transaction is excluded from its own
	// features by the strict window bounds.
	if err := p.store.SaveTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("%w: transaction persist: %v", domain.ErrDataAccess, err)
	}

	feat, err := p.features.Compute(ctx, tx)
	if err != nil {
		return nil, err
	}

	pred := p.scorer.Predict(feat)
	dec := p.decider.Classify(pred)

	if p.policies != nil {
		escalated, fired := p.policies.Apply(ctx, policy.Input{
			Transaction: tx,
			Features:    feat,
			Prediction:  pred,
			Decision:    dec,
		})
		if escalated.Action != dec.Action {
			policyEscalationsTotal.Inc()
			p.logger.Info("policy escalation applied",
				"transaction_id", tx.ID,
				"from", dec.Action,
				"to", escalated.Action,
				"policies", fired,
			)
		}
		dec = escalated
	}

	explanationText := approvedSummary
	if p.decider.ShouldAlert(dec) {
		explanation := p.explain.Explain(feat, pred)
		explanationText = explanation.Summary

		priority := p.decider.Priority(dec, tx.Amount)
		if _, err := p.alerts.Create(ctx, tx.ID, pred.FraudScore, priority, explanation.Summary); err != nil {
			// Alerting is a side effect: the caller still gets the
			// decision.
			p.logger.Error("alert creation failed",
				"transaction_id", tx.ID,
				"error", err,
			)
		} else {
			alertsCreatedTotal.WithLabelValues(priority).Inc()
		}
	}

	p.scorer.LogPrediction(ctx, &domain.PredictionRecord{
		TransactionID:     tx.ID,
		FraudScore:        pred.FraudScore,
		UnsupervisedScore: pred.UnsupervisedScore,
		SupervisedScore:   pred.SupervisedScore,
		ModelVersion:      pred.ModelVersion,
		Decision:          dec.Action,
		ThresholdUsed:     dec.ThresholdUsed,
	})

	p.publishScored(ctx, tx.ID, pred, dec)

	elapsed := time.Since(start)
	transactionsScoredTotal.WithLabelValues(dec.Action).Inc()
	scoringDuration.Observe(elapsed.Seconds())
	fraudScores.Observe(pred.FraudScore)

	p.logger.Info("transaction scored",
		"transaction_id", tx.ID,
		"user_id", tx.UserID,
		"fraud_score", pred.FraudScore,
		"action", dec.Action,
		"model_version", pred.ModelVersion,
		"duration_ms", elapsed.Milliseconds(),
	)

	return &domain.ScoringResponse{
		TransactionID:    tx.ID,
		FraudScore:       pred.FraudScore,
		Decision:         dec.Action,
		Confidence:       dec.Confidence,
		Explanation:      explanationText,
		ProcessingTimeMs: float64(elapsed.Microseconds()) / 1000,
	}, nil
}

func (p *Pipeline) publishScored(ctx context.Context, txID string, pred *domain.ModelPrediction, dec domain.Decision) {
	if p.bus == nil {
		return
	}

	payload, err := json.Marshal(scoredEvent{
		TransactionID: txID,
		FraudScore:    pred.FraudScore,
		Action:        dec.Action,
		ModelVersion:  pred.ModelVersion,
	})
	if err != nil {
		return
	}

	if err := p.bus.Publish(ctx, domain.TopicTransactionScored, payload); err != nil {
		p.logger.Warn("failed to publish scored event",
			"transaction_id", txID,
			"error", err,
		)
	}
}

// ReloadScoring applies a validated scoring configuration to the
// running pipeline: ensemble weights to the scorer, thresholds and
// costs to the decision engine.
func (p *Pipeline) ReloadScoring(cfg domain.ScoringConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := p.decider.UpdateThresholds(cfg.ApproveThreshold, cfg.BlockThreshold); err != nil {
		return err
	}
	if err := p.decider.UpdateCostMatrix(domain.CostMatrix{
		FalsePositiveCost: cfg.FalsePositiveCost,
		FalseNegativeCost: cfg.FalseNegativeCost,
	}); err != nil {
		return err
	}
	p.decider.SetHighValueThreshold(cfg.HighValueThreshold)
	p.scorer.SetWeights(cfg.UnsupervisedWeight, cfg.SupervisedWeight)
	if p.baselines != nil {
		p.baselines.SetTTL(cfg.BaselineTTL)
	}

	p.logger.Info("scoring configuration reloaded",
		"approve_threshold", cfg.ApproveThreshold,
		"block_threshold", cfg.BlockThreshold,
		"unsupervised_weight", cfg.UnsupervisedWeight,
		"supervised_weight", cfg.SupervisedWeight,
	)
	return nil
}

// RefreshModels re-reads model availability after a hot-swap so the
// degradation gauge stays accurate.
func (p *Pipeline) RefreshModels() {
	p.refreshModeGauge()
}
