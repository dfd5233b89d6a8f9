// Package features derives the fixed feature vector for one transaction
// from historical records and the user's baseline.
package features

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/merlin/internal/baseline"
	"github.com/opensource-finance/merlin/internal/domain"
)

// maxSpeedKmh is the commercial-flight ceiling used by the geo-time
// inconsistency check.
const maxSpeedKmh = 900.0

// Service computes feature vectors. Historical queries go to the store;
// baselines come through the baseline service's read-through cache.
type Service struct {
	store     domain.Store
	baselines *baseline.Service
	resolver  *GeoResolver
	logger    *slog.Logger
}

// NewService creates a feature engineering service. The resolver is
// optional; when present, transactions without explicit coordinates are
// geolocated from their IP address.
func NewService(store domain.Store, baselines *baseline.Service, resolver *GeoResolver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		baselines: baselines,
		resolver:  resolver,
		logger:    logger,
	}
}

// Compute derives the feature vector for a transaction. Zeros are a
// valid outcome for a first-ever transaction; a data-access failure is
// not, and propagates as an error instead.
func (s *Service) Compute(ctx context.Context, tx *domain.Transaction) (*domain.Features, error) {
	f := &domain.Features{}
	ts := tx.Timestamp

	// Velocity counts over trailing windows, strictly before the
	// current transaction's timestamp.
	windows := []struct {
		d    time.Duration
		dest *int
	}{
		{time.Minute, &f.TxCount1m},
		{5 * time.Minute, &f.TxCount5m},
		{time.Hour, &f.TxCount1h},
	}
	for _, w := range windows {
		count, err := s.store.CountUserTransactions(ctx, tx.UserID, ts.Add(-w.d), ts)
		if err != nil {
			return nil, fmt.Errorf("%w: velocity count: %v", domain.ErrDataAccess, err)
		}
		*w.dest = count
	}

	// Amount features relative to the user baseline. A missing baseline
	// yields neutral values, not an error.
	ub, err := s.baselines.Get(ctx, tx.UserID)
	if err != nil {
		return nil, err
	}
	if ub == nil {
		f.AmountPercentile = 0.5
	} else {
		f.AmountDeviationFromMean = tx.Amount - ub.MeanAmount
		f.AmountDeviationFromMedian = tx.Amount - ub.MedianAmount
		if ub.StdAmount > 0 {
			z := (tx.Amount - ub.MeanAmount) / ub.StdAmount
			f.AmountPercentile = clamp((z+3)/6, 0, 1)
		} else {
			f.AmountPercentile = 0.5
		}
	}

	// Frequency features over the trailing 24 hours.
	dayAgo := ts.Add(-24 * time.Hour)
	if tx.DeviceID != "" {
		count, err := s.store.CountDeviceTransactions(ctx, tx.DeviceID, dayAgo, ts)
		if err != nil {
			return nil, fmt.Errorf("%w: device frequency: %v", domain.ErrDataAccess, err)
		}
		f.DeviceFrequency = count
	}
	merchantCount, err := s.store.CountUserMerchantTransactions(ctx, tx.UserID, tx.MerchantID, dayAgo, ts)
	if err != nil {
		return nil, fmt.Errorf("%w: merchant frequency: %v", domain.ErrDataAccess, err)
	}
	f.MerchantFrequency = merchantCount

	if err := s.computeGeoTime(ctx, tx, f); err != nil {
		return nil, err
	}

	return f, nil
}

// computeGeoTime fills the geo-time inconsistency features. All three
// stay zero unless both the current and a prior transaction carry
// coordinates.
func (s *Service) computeGeoTime(ctx context.Context, tx *domain.Transaction, f *domain.Features) error {
	loc := tx.Location
	if loc == nil && s.resolver != nil && tx.IPAddress != "" {
		resolved, err := s.resolver.Resolve(tx.IPAddress)
		if err != nil {
			s.logger.Debug("IP geolocation failed",
				"transaction_id", tx.ID,
				"error", err,
			)
		} else {
			loc = resolved
		}
	}
	if loc == nil {
		return nil
	}

	prior, err := s.store.LastLocatedTransaction(ctx, tx.UserID, tx.Timestamp)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: prior located transaction: %v", domain.ErrDataAccess, err)
	}

	distance := Haversine(
		loc.Latitude, loc.Longitude,
		prior.Location.Latitude, prior.Location.Longitude,
	)
	elapsed := tx.Timestamp.Sub(prior.Timestamp).Seconds()

	f.DistanceFromLastTx = distance
	f.TimeSinceLastTx = int64(elapsed)

	if elapsed <= 0 {
		// Simultaneous transactions at different places are maximally
		// inconsistent.
		f.GeoTimeInconsistencyScore = 1.0
		return nil
	}

	requiredSpeed := distance / elapsed * 3600
	if requiredSpeed > maxSpeedKmh {
		f.GeoTimeInconsistencyScore = min(requiredSpeed/maxSpeedKmh, 1.0)
	}
	return nil
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
