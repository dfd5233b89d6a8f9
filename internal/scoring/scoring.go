// Package scoring turns feature vectors into fraud scores. It owns the
// model artifacts and supports atomic hot-swap without downtime.
package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/merlin/internal/domain"
)

// baseVersion is the version stamp for models loaded at startup.
// Hot-swaps append the swap time.
const baseVersion = "1.0.0"

// modelSet is the immutable pair of artifacts active at one moment.
// Replaced whole on hot-swap so readers never see a partial update.
type modelSet struct {
	anomaly    *AnomalyModel
	classifier *ClassifierModel
	version    string
}

type ensembleWeights struct {
	unsupervised float64
	supervised   float64
}

// Service computes fraud scores from feature vectors. Prediction never
// fails on missing artifacts: it degrades to deterministic heuristics.
type Service struct {
	models  atomic.Pointer[modelSet]
	weights atomic.Pointer[ensembleWeights]
	store   domain.Store
	logger  *slog.Logger
}

// NewService creates a scoring service and attempts to load model
// artifacts from the configured paths. Missing or invalid artifacts are
// logged and leave the service in heuristic mode; they are not fatal.
func NewService(cfg domain.ModelConfig, scoringCfg domain.ScoringConfig, store domain.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		store:  store,
		logger: logger,
	}
	s.weights.Store(&ensembleWeights{
		unsupervised: scoringCfg.UnsupervisedWeight,
		supervised:   scoringCfg.SupervisedWeight,
	})

	set := &modelSet{version: baseVersion}
	if cfg.AnomalyPath != "" {
		m, err := LoadAnomalyModel(cfg.AnomalyPath)
		if err != nil {
			logger.Warn("anomaly model unavailable, using heuristic scoring",
				"path", cfg.AnomalyPath,
				"error", err,
			)
		} else {
			set.anomaly = m
		}
	}
	if cfg.ClassifierPath != "" {
		m, err := LoadClassifierModel(cfg.ClassifierPath)
		if err != nil {
			logger.Warn("classifier model unavailable, using heuristic scoring",
				"path", cfg.ClassifierPath,
				"error", err,
			)
		} else {
			set.classifier = m
		}
	}
	s.models.Store(set)

	logger.Info("scoring service initialized",
		"anomaly_model", set.anomaly != nil,
		"classifier_model", set.classifier != nil,
		"version", set.version,
	)
	return s
}

// Predict computes the ensembled fraud score for a feature vector.
func (s *Service) Predict(f *domain.Features) *domain.ModelPrediction {
	set := s.models.Load()
	w := s.weights.Load()
	vec := f.Vector()

	var unsupervised float64
	if set.anomaly != nil {
		// More negative raw scores are more anomalous.
		unsupervised = clamp(0.5-set.anomaly.Raw(vec), 0, 1)
	} else {
		unsupervised = heuristicUnsupervised(f)
	}

	var supervised float64
	if set.classifier != nil {
		supervised = set.classifier.Probability(vec)
	} else {
		supervised = heuristicSupervised(f)
	}

	return &domain.ModelPrediction{
		FraudScore:        clamp(w.unsupervised*unsupervised+w.supervised*supervised, 0, 1),
		UnsupervisedScore: unsupervised,
		SupervisedScore:   supervised,
		ModelVersion:      set.version,
	}
}

// UpdateModels hot-swaps one or both model artifacts. An empty path
// keeps the current artifact. Any load failure leaves the active set
// unchanged and is reported to the caller.
func (s *Service) UpdateModels(anomalyPath, classifierPath string) (string, error) {
	current := s.models.Load()
	next := &modelSet{
		anomaly:    current.anomaly,
		classifier: current.classifier,
	}

	if anomalyPath != "" {
		m, err := LoadAnomalyModel(anomalyPath)
		if err != nil {
			return "", fmt.Errorf("anomaly model swap failed: %w", err)
		}
		next.anomaly = m
	}
	if classifierPath != "" {
		m, err := LoadClassifierModel(classifierPath)
		if err != nil {
			return "", fmt.Errorf("classifier model swap failed: %w", err)
		}
		next.classifier = m
	}

	next.version = baseVersion + "-" + time.Now().UTC().Format("20060102150405")
	s.models.Store(next)

	s.logger.Info("model artifacts swapped",
		"version", next.version,
		"anomaly_model", next.anomaly != nil,
		"classifier_model", next.classifier != nil,
	)
	return next.version, nil
}

// SetWeights updates the ensemble weights atomically.
func (s *Service) SetWeights(unsupervised, supervised float64) {
	s.weights.Store(&ensembleWeights{
		unsupervised: unsupervised,
		supervised:   supervised,
	})
}

// ModelsLoaded reports whether real artifacts are active and the
// current model version.
func (s *Service) ModelsLoaded() (anomaly bool, classifier bool, version string) {
	set := s.models.Load()
	return set.anomaly != nil, set.classifier != nil, set.version
}

// LogPrediction records the scoring audit row. Failures are logged and
// swallowed: audit durability never fails the request.
func (s *Service) LogPrediction(ctx context.Context, rec *domain.PredictionRecord) {
	if s.store == nil {
		return
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if err := s.store.SavePrediction(ctx, rec); err != nil {
		s.logger.Warn("failed to persist prediction audit row",
			"transaction_id", rec.TransactionID,
			"error", err,
		)
	}
}
