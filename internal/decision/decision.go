// Package decision converts fraud scores into actions, confidence
// values, and alert priorities. It owns the mutable threshold and cost
// matrix state.
package decision

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/opensource-finance/merlin/internal/domain"
)

// mediumPriorityScore is the fraud score floor for medium priority.
const mediumPriorityScore = 0.70

// thresholds is the immutable configuration snapshot read on every
// classification. Replaced whole on update.
type thresholds struct {
	approve   float64
	block     float64
	costs     domain.CostMatrix
	highValue float64
}

// Engine classifies predictions against the current thresholds.
// Classification itself is a pure function: no I/O, deterministic for a
// given snapshot.
type Engine struct {
	state  atomic.Pointer[thresholds]
	logger *slog.Logger
}

// NewEngine creates a decision engine from the scoring configuration.
func NewEngine(cfg domain.ScoringConfig, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{logger: logger}
	e.state.Store(&thresholds{
		approve: cfg.ApproveThreshold,
		block:   cfg.BlockThreshold,
		costs: domain.CostMatrix{
			FalsePositiveCost: cfg.FalsePositiveCost,
			FalseNegativeCost: cfg.FalseNegativeCost,
		},
		highValue: cfg.HighValueThreshold,
	})
	return e, nil
}

// Classify maps a prediction onto an action with a confidence value.
func (e *Engine) Classify(pred *domain.ModelPrediction) domain.Decision {
	t := e.state.Load()
	score := pred.FraudScore

	switch {
	case score >= t.block:
		confidence := 1.0
		if t.block < 1 {
			confidence = clamp((score-t.block)/(1-t.block), 0, 1)
		}
		return domain.Decision{
			Action:        domain.ActionBlock,
			FraudScore:    score,
			ThresholdUsed: t.block,
			Confidence:    confidence,
		}

	case score >= t.approve:
		return domain.Decision{
			Action:        domain.ActionReview,
			FraudScore:    score,
			ThresholdUsed: t.approve,
			Confidence:    (score - t.approve) / (t.block - t.approve),
		}

	default:
		confidence := 1.0
		if t.approve > 0 {
			confidence = 1 - score/t.approve
		}
		return domain.Decision{
			Action:        domain.ActionApprove,
			FraudScore:    score,
			ThresholdUsed: t.approve,
			Confidence:    confidence,
		}
	}
}

// ShouldAlert reports whether the decision warrants an alert.
func (e *Engine) ShouldAlert(d domain.Decision) bool {
	return d.Action == domain.ActionReview || d.Action == domain.ActionBlock
}

// Priority ranks an alert. Computed once at alert creation and never
// re-derived.
func (e *Engine) Priority(d domain.Decision, amount float64) string {
	t := e.state.Load()

	if d.Action == domain.ActionBlock || amount > t.highValue {
		return domain.PriorityHigh
	}
	if d.FraudScore >= mediumPriorityScore {
		return domain.PriorityMedium
	}
	return domain.PriorityLow
}

// UpdateThresholds replaces the approve/block thresholds. An invalid
// pair leaves the current thresholds intact.
func (e *Engine) UpdateThresholds(approve, block float64) error {
	if approve < 0 || block > 1 || approve >= block {
		return fmt.Errorf("%w: thresholds must satisfy 0 <= approve < block <= 1, got %.3f/%.3f",
			domain.ErrInvalidConfig, approve, block)
	}

	current := e.state.Load()
	e.state.Store(&thresholds{
		approve:   approve,
		block:     block,
		costs:     current.costs,
		highValue: current.highValue,
	})

	e.logger.Info("thresholds updated",
		"approve_threshold", approve,
		"block_threshold", block,
	)
	return nil
}

// UpdateCostMatrix replaces the misclassification costs.
func (e *Engine) UpdateCostMatrix(costs domain.CostMatrix) error {
	if costs.FalsePositiveCost <= 0 || costs.FalseNegativeCost <= 0 {
		return fmt.Errorf("%w: costs must be positive", domain.ErrInvalidConfig)
	}

	current := e.state.Load()
	e.state.Store(&thresholds{
		approve:   current.approve,
		block:     current.block,
		costs:     costs,
		highValue: current.highValue,
	})
	return nil
}

// SetHighValueThreshold updates the amount above which alerts always
// get high priority.
func (e *Engine) SetHighValueThreshold(amount float64) {
	current := e.state.Load()
	e.state.Store(&thresholds{
		approve:   current.approve,
		block:     current.block,
		costs:     current.costs,
		highValue: amount,
	})
}

// Thresholds returns the current approve and block thresholds.
func (e *Engine) Thresholds() (approve, block float64) {
	t := e.state.Load()
	return t.approve, t.block
}

// CostMatrix returns the current misclassification costs.
func (e *Engine) CostMatrix() domain.CostMatrix {
	return e.state.Load().costs
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
