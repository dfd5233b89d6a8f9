// Package baseline maintains per-user statistical profiles of spending
// behavior, used by feature engineering to detect amount anomalies.
package baseline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/merlin/internal/domain"
)

// Window is the trailing period over which baselines are computed.
const Window = 30 * 24 * time.Hour

// Service provides read-through access to user baselines and recomputes
// them from transaction history.
type Service struct {
	store  domain.Store
	cache  domain.Cache
	logger *slog.Logger

	// ttl is the cache TTL in nanoseconds, updated atomically on
	// configuration reload.
	ttl atomic.Int64
}

// NewService creates a baseline service.
func NewService(store domain.Store, cache domain.Cache, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	s := &Service{
		store:  store,
		cache:  cache,
		logger: logger,
	}
	s.ttl.Store(int64(ttl))
	return s
}

// SetTTL updates the cache TTL for subsequent reads.
func (s *Service) SetTTL(ttl time.Duration) {
	if ttl > 0 {
		s.ttl.Store(int64(ttl))
	}
}

// TTL returns the current cache TTL.
func (s *Service) TTL() time.Duration {
	return time.Duration(s.ttl.Load())
}

// Get returns the user's baseline, reading through the cache to the
// store. A user with no baseline yet returns nil, nil: the caller
// treats missing history as neutral, not as an error.
func (s *Service) Get(ctx context.Context, userID string) (*domain.UserBaseline, error) {
	if s.cache != nil {
		cached, err := s.cache.GetBaseline(ctx, userID)
		if err != nil {
			// Cache failures degrade to the store, they do not fail
			// the scoring path.
			s.logger.Warn("baseline cache read failed",
				"user_id", userID,
				"error", err,
			)
		} else if cached != nil {
			return cached, nil
		}
	}

	baseline, err := s.store.GetBaseline(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: baseline lookup: %v", domain.ErrDataAccess, err)
	}

	if s.cache != nil {
		if err := s.cache.SetBaseline(ctx, userID, baseline, s.TTL()); err != nil {
			s.logger.Warn("baseline cache write failed",
				"user_id", userID,
				"error", err,
			)
		}
	}
	return baseline, nil
}

// Recompute rebuilds the user's baseline from the trailing 30-day
// transaction window, persists it, and refreshes the cache. Returns
// nil, nil when the user has no transactions in the window.
func (s *Service) Recompute(ctx context.Context, userID string, now time.Time) (*domain.UserBaseline, error) {
	amounts, err := s.store.UserAmountsSince(ctx, userID, now.Add(-Window))
	if err != nil {
		return nil, fmt.Errorf("%w: baseline amounts: %v", domain.ErrDataAccess, err)
	}
	if len(amounts) == 0 {
		return nil, nil
	}

	mean, median, std := summarize(amounts)

	baseline := &domain.UserBaseline{
		UserID:            userID,
		MeanAmount:        mean,
		MedianAmount:      median,
		StdAmount:         std,
		TotalTransactions: len(amounts),
		LastUpdated:       now.UTC(),
	}

	if err := s.store.UpsertBaseline(ctx, baseline); err != nil {
		return nil, fmt.Errorf("%w: baseline upsert: %v", domain.ErrDataAccess, err)
	}

	if s.cache != nil {
		if err := s.cache.SetBaseline(ctx, userID, baseline, s.TTL()); err != nil {
			s.logger.Warn("baseline cache refresh failed",
				"user_id", userID,
				"error", err,
			)
		}
	}

	s.logger.Info("baseline recomputed",
		"user_id", userID,
		"transactions", len(amounts),
		"mean", mean,
	)
	return baseline, nil
}

// summarize computes mean, median, and population standard deviation.
// The median is the upper middle element for even-sized inputs.
func summarize(amounts []float64) (mean, median, std float64) {
	n := float64(len(amounts))

	var sum float64
	for _, a := range amounts {
		sum += a
	}
	mean = sum / n

	sorted := make([]float64, len(amounts))
	copy(sorted, amounts)
	sort.Float64s(sorted)
	median = sorted[len(sorted)/2]

	var sumSq float64
	for _, a := range amounts {
		d := a - mean
		sumSq += d * d
	}
	std = math.Sqrt(sumSq / n)

	return mean, median, std
}
