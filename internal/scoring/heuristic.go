package scoring

import (
	"math"

	"github.com/opensource-finance/merlin/internal/domain"
)

// heuristicUnsupervised is the deterministic anomaly fallback used when
// no anomaly model artifact is loaded.
func heuristicUnsupervised(f *domain.Features) float64 {
	var score float64

	if f.TxCount1m > 5 {
		score += 0.3
	} else if f.TxCount5m > 10 {
		score += 0.2
	}

	score += 0.4 * f.GeoTimeInconsistencyScore

	if math.Abs(f.AmountDeviationFromMean) > 1000 {
		score += 0.2
	}
	if f.DeviceFrequency == 0 {
		score += 0.1
	}

	return clamp(score, 0, 1)
}

// heuristicSupervised is the deterministic classifier fallback used when
// no classifier artifact is loaded.
func heuristicSupervised(f *domain.Features) float64 {
	score := 0.1

	if f.TxCount1m >= 3 {
		score += 0.3
	}
	if f.TxCount5m >= 8 {
		score += 0.2
	}
	if f.GeoTimeInconsistencyScore > 0.8 {
		score += 0.4
	}
	if f.AmountPercentile > 0.95 {
		score += 0.2
	}
	if f.DeviceFrequency == 0 && f.AmountPercentile > 0.8 {
		score += 0.3
	}

	return clamp(score, 0, 1)
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
