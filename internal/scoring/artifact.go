package scoring

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/opensource-finance/merlin/internal/domain"
)

// AnomalyModel is a standardized mean-absolute-deviation anomaly scorer.
// Raw scores decrease as inputs drift from the training distribution:
// more negative means more anomalous.
type AnomalyModel struct {
	Means  []float64 `json:"means"`
	Scales []float64 `json:"scales"`
	Offset float64   `json:"offset"`
}

// Raw returns the raw anomaly score for a feature vector.
func (m *AnomalyModel) Raw(vec []float64) float64 {
	var sum float64
	for i, v := range vec {
		scale := m.Scales[i]
		if scale == 0 {
			scale = 1
		}
		sum += math.Abs((v - m.Means[i]) / scale)
	}
	return m.Offset - sum/float64(len(vec))
}

// ClassifierModel is a logistic-regression fraud classifier.
type ClassifierModel struct {
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// Probability returns the positive-class probability for a feature vector.
func (m *ClassifierModel) Probability(vec []float64) float64 {
	z := m.Bias
	for i, v := range vec {
		z += m.Weights[i] * v
	}
	return 1 / (1 + math.Exp(-z))
}

// LoadAnomalyModel reads and validates an anomaly model artifact.
func LoadAnomalyModel(path string) (*AnomalyModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read anomaly model: %w", err)
	}

	var m AnomalyModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode anomaly model: %w", err)
	}

	dims := len(domain.FeatureNames())
	if len(m.Means) != dims || len(m.Scales) != dims {
		return nil, fmt.Errorf("anomaly model dimension mismatch: got %d/%d means/scales, want %d",
			len(m.Means), len(m.Scales), dims)
	}
	return &m, nil
}

// LoadClassifierModel reads and validates a classifier artifact.
func LoadClassifierModel(path string) (*ClassifierModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read classifier model: %w", err)
	}

	var m ClassifierModel
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode classifier model: %w", err)
	}

	dims := len(domain.FeatureNames())
	if len(m.Weights) != dims {
		return nil, fmt.Errorf("classifier dimension mismatch: got %d weights, want %d",
			len(m.Weights), dims)
	}
	return &m, nil
}
