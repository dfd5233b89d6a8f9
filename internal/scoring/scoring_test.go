package scoring

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/opensource-finance/merlin/internal/domain"
)

func defaultWeights() domain.ScoringConfig {
	return domain.DefaultScoringConfig()
}

func writeArtifact(t *testing.T, name string, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal artifact: %v", err)
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("failed to write artifact: %v", err)
	}
	return path
}

func dims() int { return len(domain.FeatureNames()) }

func validAnomaly() *AnomalyModel {
	return &AnomalyModel{
		Means:  make([]float64, dims()),
		Scales: onesVector(),
		Offset: 0.5,
	}
}

func validClassifier() *ClassifierModel {
	return &ClassifierModel{
		Weights: make([]float64, dims()),
		Bias:    0,
	}
}

func onesVector() []float64 {
	v := make([]float64, dims())
	for i := range v {
		v[i] = 1
	}
	return v
}

func TestHeuristicUnsupervised(t *testing.T) {
	tests := []struct {
		name     string
		features domain.Features
		want     float64
	}{
		{
			name:     "quiet transaction",
			features: domain.Features{DeviceFrequency: 3},
			want:     0,
		},
		{
			name:     "new device only",
			features: domain.Features{},
			want:     0.1,
		},
		{
			name:     "burst in one minute",
			features: domain.Features{TxCount1m: 6, DeviceFrequency: 1},
			want:     0.3,
		},
		{
			name:     "burst in five minutes",
			features: domain.Features{TxCount5m: 11, DeviceFrequency: 1},
			want:     0.2,
		},
		{
			name:     "one minute burst shadows five minute",
			features: domain.Features{TxCount1m: 6, TxCount5m: 20, DeviceFrequency: 1},
			want:     0.3,
		},
		{
			name:     "geo inconsistency scales",
			features: domain.Features{GeoTimeInconsistencyScore: 0.5, DeviceFrequency: 1},
			want:     0.2,
		},
		{
			name:     "large amount deviation",
			features: domain.Features{AmountDeviationFromMean: 1500, DeviceFrequency: 1},
			want:     0.2,
		},
		{
			name:     "negative deviation counts too",
			features: domain.Features{AmountDeviationFromMean: -1500, DeviceFrequency: 1},
			want:     0.2,
		},
		{
			name: "everything at once clamps to 1",
			features: domain.Features{
				TxCount1m:                 10,
				GeoTimeInconsistencyScore: 1,
				AmountDeviationFromMean:   5000,
				DeviceFrequency:           0,
			},
			want: 1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := heuristicUnsupervised(&tt.features)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("got %f, want %f", got, tt.want)
			}
		})
	}
}

func TestHeuristicSupervised(t *testing.T) {
	tests := []struct {
		name     string
		features domain.Features
		want     float64
	}{
		{
			name:     "base score",
			features: domain.Features{DeviceFrequency: 1, AmountPercentile: 0.5},
			want:     0.1,
		},
		{
			name:     "velocity trips",
			features: domain.Features{TxCount1m: 3, TxCount5m: 8, DeviceFrequency: 1},
			want:     0.6,
		},
		{
			name:     "extreme geo",
			features: domain.Features{GeoTimeInconsistencyScore: 0.9, DeviceFrequency: 1},
			want:     0.5,
		},
		{
			name:     "high percentile",
			features: domain.Features{AmountPercentile: 0.96, DeviceFrequency: 1},
			want:     0.3,
		},
		{
			name:     "new device with high percentile",
			features: domain.Features{AmountPercentile: 0.85, DeviceFrequency: 0},
			want:     0.4,
		},
		{
			name: "stacked signals clamp to 1",
			features: domain.Features{
				TxCount1m:                 5,
				TxCount5m:                 10,
				GeoTimeInconsistencyScore: 1,
				AmountPercentile:          0.99,
				DeviceFrequency:           0,
			},
			want: 1.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := heuristicSupervised(&tt.features)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("got %f, want %f", got, tt.want)
			}
		})
	}
}

func TestPredictHeuristicMode(t *testing.T) {
	svc := NewService(domain.ModelConfig{}, defaultWeights(), nil, nil)

	anomaly, classifier, version := svc.ModelsLoaded()
	if anomaly || classifier {
		t.Error("expected heuristic mode without artifacts")
	}
	if version != "1.0.0" {
		t.Errorf("expected version 1.0.0, got %s", version)
	}

	f := &domain.Features{
		TxCount1m:                 6,
		GeoTimeInconsistencyScore: 1,
		DeviceFrequency:           0,
		AmountPercentile:          0.99,
	}
	pred := svc.Predict(f)

	// unsupervised = 0.3 + 0.4 + 0.1 = 0.8
	// supervised = 0.1 + 0.3 + 0.4 + 0.2 + 0.3 = 1.0 (clamped)
	// ensemble = 0.3*0.8 + 0.7*1.0 = 0.94
	if math.Abs(pred.UnsupervisedScore-0.8) > 1e-9 {
		t.Errorf("unsupervised: got %f, want 0.8", pred.UnsupervisedScore)
	}
	if pred.SupervisedScore != 1.0 {
		t.Errorf("supervised: got %f, want 1.0", pred.SupervisedScore)
	}
	if math.Abs(pred.FraudScore-0.94) > 1e-9 {
		t.Errorf("fraud score: got %f, want 0.94", pred.FraudScore)
	}
	if pred.ModelVersion != "1.0.0" {
		t.Errorf("model version: got %s, want 1.0.0", pred.ModelVersion)
	}
}

func TestPredictWithArtifacts(t *testing.T) {
	anomalyPath := writeArtifact(t, "anomaly.json", validAnomaly())
	classifierPath := writeArtifact(t, "classifier.json", validClassifier())

	svc := NewService(domain.ModelConfig{
		AnomalyPath:    anomalyPath,
		ClassifierPath: classifierPath,
	}, defaultWeights(), nil, nil)

	anomaly, classifier, _ := svc.ModelsLoaded()
	if !anomaly || !classifier {
		t.Fatal("expected both artifacts loaded")
	}

	// All-zero features: raw anomaly = offset - 0 = 0.5, so
	// unsupervised = clamp(0.5-0.5) = 0. Classifier with zero weights
	// gives sigmoid(0) = 0.5.
	pred := svc.Predict(&domain.Features{})
	if pred.UnsupervisedScore != 0 {
		t.Errorf("unsupervised: got %f, want 0", pred.UnsupervisedScore)
	}
	if math.Abs(pred.SupervisedScore-0.5) > 1e-9 {
		t.Errorf("supervised: got %f, want 0.5", pred.SupervisedScore)
	}
	if math.Abs(pred.FraudScore-0.35) > 1e-9 {
		t.Errorf("fraud score: got %f, want 0.35", pred.FraudScore)
	}
}

func TestPredictScoreBounds(t *testing.T) {
	svc := NewService(domain.ModelConfig{}, defaultWeights(), nil, nil)

	extremes := []domain.Features{
		{},
		{TxCount1m: 1000, TxCount5m: 1000, TxCount1h: 1000},
		{AmountDeviationFromMean: 1e9, AmountPercentile: 1, GeoTimeInconsistencyScore: 1},
		{TimeSinceLastTx: 1, DistanceFromLastTx: 20000, GeoTimeInconsistencyScore: 1, DeviceFrequency: 0},
	}

	for _, f := range extremes {
		pred := svc.Predict(&f)
		for name, v := range map[string]float64{
			"fraud":        pred.FraudScore,
			"unsupervised": pred.UnsupervisedScore,
			"supervised":   pred.SupervisedScore,
		} {
			if v < 0 || v > 1 {
				t.Errorf("%s score out of bounds: %f for %+v", name, v, f)
			}
		}
	}
}

func TestUpdateModels(t *testing.T) {
	svc := NewService(domain.ModelConfig{}, defaultWeights(), nil, nil)

	anomalyPath := writeArtifact(t, "anomaly.json", validAnomaly())

	version, err := svc.UpdateModels(anomalyPath, "")
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !strings.HasPrefix(version, "1.0.0-") {
		t.Errorf("expected timestamped version, got %s", version)
	}

	anomaly, classifier, current := svc.ModelsLoaded()
	if !anomaly {
		t.Error("expected anomaly model loaded after swap")
	}
	if classifier {
		t.Error("classifier should remain absent")
	}
	if current != version {
		t.Errorf("version mismatch: %s vs %s", current, version)
	}

	t.Run("bad artifact leaves state unchanged", func(t *testing.T) {
		badPath := filepath.Join(t.TempDir(), "bad.json")
		if err := os.WriteFile(badPath, []byte("{not json"), 0644); err != nil {
			t.Fatalf("failed to write bad artifact: %v", err)
		}

		_, err := svc.UpdateModels("", badPath)
		if err == nil {
			t.Fatal("expected error for invalid artifact")
		}

		anomaly, _, after := svc.ModelsLoaded()
		if !anomaly || after != version {
			t.Errorf("state changed after failed swap: anomaly=%v version=%s", anomaly, after)
		}
	})

	t.Run("dimension mismatch rejected", func(t *testing.T) {
		shortPath := writeArtifact(t, "short.json", &ClassifierModel{Weights: []float64{1, 2}})
		_, err := svc.UpdateModels("", shortPath)
		if err == nil {
			t.Fatal("expected error for dimension mismatch")
		}
	})
}

func TestSetWeights(t *testing.T) {
	svc := NewService(domain.ModelConfig{}, defaultWeights(), nil, nil)

	// With equal scores, only the weights determine the ensemble.
	f := &domain.Features{GeoTimeInconsistencyScore: 1, DeviceFrequency: 1}
	// unsupervised = 0.4, supervised = 0.1 + 0.4 = 0.5

	before := svc.Predict(f)
	if math.Abs(before.FraudScore-(0.3*0.4+0.7*0.5)) > 1e-9 {
		t.Errorf("unexpected ensemble before: %f", before.FraudScore)
	}

	svc.SetWeights(1.0, 0.0)
	after := svc.Predict(f)
	if math.Abs(after.FraudScore-0.4) > 1e-9 {
		t.Errorf("expected pure unsupervised 0.4, got %f", after.FraudScore)
	}
}

func TestAnomalyRawScore(t *testing.T) {
	m := &AnomalyModel{
		Means:  make([]float64, dims()),
		Scales: onesVector(),
		Offset: 0.5,
	}

	// Feature vector drifts one unit on every dimension: mean |z| = 1,
	// raw = 0.5 - 1 = -0.5, normalized = clamp(0.5 - (-0.5)) = 1.
	vec := onesVector()
	raw := m.Raw(vec)
	if math.Abs(raw-(-0.5)) > 1e-9 {
		t.Errorf("raw: got %f, want -0.5", raw)
	}

	// Zero scale falls back to 1 instead of dividing by zero.
	m.Scales[0] = 0
	if math.IsNaN(m.Raw(vec)) || math.IsInf(m.Raw(vec), 0) {
		t.Error("zero scale produced non-finite score")
	}
}
