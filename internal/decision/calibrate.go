package decision

import (
	"github.com/opensource-finance/merlin/internal/domain"
)

// gridSize is the number of candidate threshold values sampled over
// [0.1, 0.9] during calibration.
const gridSize = 20

// CalibrationResult is the outcome of an offline threshold search.
type CalibrationResult struct {
	ApproveThreshold float64 `json:"approve_threshold"`
	BlockThreshold   float64 `json:"block_threshold"`
	TotalCost        float64 `json:"total_cost"`
	Evaluated        int     `json:"pairs_evaluated"`
}

// Calibrate searches a grid of threshold pairs for the one minimizing
// expected misclassification cost over a labeled validation set. With
// no validation data, the current thresholds are returned unchanged.
// This is an offline operation, never on the scoring path.
func (e *Engine) Calibrate(validation []domain.LabeledScore) CalibrationResult {
	t := e.state.Load()

	if len(validation) == 0 {
		return CalibrationResult{
			ApproveThreshold: t.approve,
			BlockThreshold:   t.block,
		}
	}

	candidates := make([]float64, gridSize)
	for i := range candidates {
		candidates[i] = 0.1 + float64(i)*0.8/float64(gridSize-1)
	}

	best := CalibrationResult{
		ApproveThreshold: t.approve,
		BlockThreshold:   t.block,
		TotalCost:        -1,
	}

	for _, a := range candidates {
		for _, b := range candidates {
			if a >= b {
				continue
			}

			cost := simulateCost(validation, a, b, t.costs)
			best.Evaluated++

			if best.TotalCost < 0 || cost < best.TotalCost {
				best.ApproveThreshold = a
				best.BlockThreshold = b
				best.TotalCost = cost
			}
		}
	}

	return best
}

// simulateCost classifies the validation set against a candidate pair
// and sums the misclassification cost. Scores in the review band count
// as caught fraud only above the band midpoint, modeling a partial
// analyst catch-rate.
func simulateCost(validation []domain.LabeledScore, a, b float64, costs domain.CostMatrix) float64 {
	var falsePositives, falseNegatives int

	mid := (a + b) / 2
	for _, v := range validation {
		var predictedFraud bool
		switch {
		case v.Score >= b:
			predictedFraud = true
		case v.Score >= a:
			predictedFraud = v.Score > mid
		}

		if predictedFraud && !v.IsFraud {
			falsePositives++
		}
		if !predictedFraud && v.IsFraud {
			falseNegatives++
		}
	}

	return float64(falsePositives)*costs.FalsePositiveCost +
		float64(falseNegatives)*costs.FalseNegativeCost
}
