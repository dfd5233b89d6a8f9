// Package explain produces per-feature attributions and human-readable
// summaries for fraud decisions. Deterministic, no I/O.
package explain

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/opensource-finance/merlin/internal/domain"
)

// topFeatureCount bounds the ranked attribution list.
const topFeatureCount = 5

// minContribution is the floor below which a feature is not worth a
// sentence in the summary.
const minContribution = 0.01

// featureWeights are fixed importance priors per feature. Attribution
// is weight x normalized value x fraud score.
var featureWeights = map[string]float64{
	domain.FeatTxCount1m:            0.15,
	domain.FeatTxCount5m:            0.12,
	domain.FeatTxCount1h:            0.08,
	domain.FeatAmountDevMean:        0.10,
	domain.FeatAmountDevMedian:      0.08,
	domain.FeatAmountPercentile:     0.09,
	domain.FeatDeviceFrequency:      0.07,
	domain.FeatMerchantFrequency:    0.06,
	domain.FeatGeoTimeInconsistency: 0.18,
	domain.FeatDistanceFromLastTx:   0.04,
	domain.FeatTimeSinceLastTx:      0.03,
}

// Engine generates explanations for predictions.
type Engine struct{}

// NewEngine creates an explainability engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Explain computes ranked attributions and a summary for a prediction.
func (e *Engine) Explain(features *domain.Features, prediction *domain.ModelPrediction) *domain.Explanation {
	values := features.Values()

	contributions := make([]domain.FeatureContribution, 0, len(values))
	for name, value := range values {
		weight, ok := featureWeights[name]
		if !ok {
			weight = 0.05
		}
		contributions = append(contributions, domain.FeatureContribution{
			Feature:      name,
			Contribution: weight * normalize(name, value) * prediction.FraudScore,
		})
	}

	// Rank by absolute contribution; ties break on name so the order
	// is stable.
	sort.Slice(contributions, func(i, j int) bool {
		ai, aj := math.Abs(contributions[i].Contribution), math.Abs(contributions[j].Contribution)
		if ai != aj {
			return ai > aj
		}
		return contributions[i].Feature < contributions[j].Feature
	})

	top := contributions
	if len(top) > topFeatureCount {
		top = top[:topFeatureCount]
	}

	return &domain.Explanation{
		TopFeatures:   top,
		Summary:       summarize(top, values, prediction),
		FeatureValues: values,
	}
}

// normalize maps a raw feature value onto [0,1] suspicion.
func normalize(name string, value float64) float64 {
	switch name {
	case domain.FeatTxCount1m, domain.FeatTxCount5m, domain.FeatTxCount1h:
		// Velocity: higher is more suspicious.
		return math.Min(value/10, 1.0)

	case domain.FeatAmountDevMean, domain.FeatAmountDevMedian:
		// Deviation: larger absolute value is more suspicious.
		return math.Min(math.Abs(value)/1000, 1.0)

	case domain.FeatAmountPercentile:
		// Extreme percentiles in either direction are suspicious.
		return math.Abs(value-0.5) * 2

	case domain.FeatDeviceFrequency, domain.FeatMerchantFrequency:
		// Never-seen entities are suspicious, so are very hot ones.
		switch {
		case value == 0:
			return 0.8
		case value > 20:
			return 0.6
		default:
			return 0.2
		}

	case domain.FeatGeoTimeInconsistency:
		return value

	case domain.FeatDistanceFromLastTx:
		return math.Min(value/5000, 1.0)

	case domain.FeatTimeSinceLastTx:
		if value < 60 {
			return 0.8
		}
		return 0.2

	default:
		return 0.5
	}
}

// summarize renders the top three material contributions as prose.
func summarize(top []domain.FeatureContribution, values map[string]float64, prediction *domain.ModelPrediction) string {
	var reasons []string

	limit := 3
	if len(top) < limit {
		limit = len(top)
	}
	for _, fc := range top[:limit] {
		if math.Abs(fc.Contribution) < minContribution {
			continue
		}
		if reason := describeFeature(fc.Feature, values[fc.Feature]); reason != "" {
			reasons = append(reasons, reason)
		}
	}

	if len(reasons) == 0 {
		return fmt.Sprintf("Fraud score: %.2f. No significant anomalies detected.", prediction.FraudScore)
	}
	return "Flagged due to: " + strings.Join(reasons, ", ")
}

func describeFeature(name string, value float64) string {
	switch name {
	case domain.FeatTxCount1m:
		return fmt.Sprintf("high transaction velocity (%d transactions in 1 minute)", int(value))
	case domain.FeatTxCount5m:
		return fmt.Sprintf("unusual transaction frequency (%d transactions in 5 minutes)", int(value))
	case domain.FeatTxCount1h:
		return fmt.Sprintf("elevated transaction rate (%d transactions in 1 hour)", int(value))
	case domain.FeatAmountDevMean:
		return fmt.Sprintf("unusual amount ($%.2f from user average)", math.Abs(value))
	case domain.FeatAmountDevMedian:
		return fmt.Sprintf("atypical transaction amount ($%.2f deviation)", math.Abs(value))
	case domain.FeatAmountPercentile:
		return fmt.Sprintf("extreme amount (%.0fth percentile for user)", value*100)
	case domain.FeatDeviceFrequency:
		if value == 0 {
			return "new device"
		}
		return fmt.Sprintf("device used %d times recently", int(value))
	case domain.FeatMerchantFrequency:
		if value == 0 {
			return "new merchant"
		}
		return fmt.Sprintf("merchant used %d times recently", int(value))
	case domain.FeatGeoTimeInconsistency:
		return fmt.Sprintf("impossible travel detected (score: %.2f)", value)
	case domain.FeatDistanceFromLastTx:
		return fmt.Sprintf("large distance from last transaction (%.0f km)", value)
	case domain.FeatTimeSinceLastTx:
		return fmt.Sprintf("very short time since last transaction (%d seconds)", int(value))
	default:
		return ""
	}
}

// Format renders an explanation as multi-line display text.
func (e *Engine) Format(explanation *domain.Explanation) string {
	lines := []string{explanation.Summary, "", "Top Contributing Factors:"}

	for i, fc := range explanation.TopFeatures {
		lines = append(lines, fmt.Sprintf("  %d. %s: %.2f (contribution: %.3f)",
			i+1, displayName(fc.Feature), explanation.FeatureValues[fc.Feature], fc.Contribution))
	}

	return strings.Join(lines, "\n")
}

// displayName turns snake_case feature names into title-cased words.
func displayName(name string) string {
	words := strings.Split(name, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
