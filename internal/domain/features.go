package domain

import "time"

// Features is the fixed feature vector derived for one transaction.
// Derived once, never mutated after creation.
type Features struct {
	// Velocity features: user transaction counts in trailing windows,
	// strictly before the current transaction's timestamp.
	TxCount1m int `json:"tx_count_1m"`
	TxCount5m int `json:"tx_count_5m"`
	TxCount1h int `json:"tx_count_1h"`

	// Amount features relative to the user baseline.
	AmountDeviationFromMean   float64 `json:"amount_deviation_from_mean"`
	AmountDeviationFromMedian float64 `json:"amount_deviation_from_median"`
	AmountPercentile          float64 `json:"amount_percentile"`

	// Frequency features over the trailing 24 hours.
	DeviceFrequency   int `json:"device_frequency"`
	MerchantFrequency int `json:"merchant_frequency"`

	// Geo-time features.
	GeoTimeInconsistencyScore float64 `json:"geo_time_inconsistency_score"`
	DistanceFromLastTx        float64 `json:"distance_from_last_tx"`
	TimeSinceLastTx           int64   `json:"time_since_last_tx"`
}

// Canonical feature names, in vector order. Model artifacts and the
// explainability engine depend on this ordering.
const (
	FeatTxCount1m            = "tx_count_1m"
	FeatTxCount5m            = "tx_count_5m"
	FeatTxCount1h            = "tx_count_1h"
	FeatAmountDevMean        = "amount_deviation_from_mean"
	FeatAmountDevMedian      = "amount_deviation_from_median"
	FeatAmountPercentile     = "amount_percentile"
	FeatDeviceFrequency      = "device_frequency"
	FeatMerchantFrequency    = "merchant_frequency"
	FeatGeoTimeInconsistency = "geo_time_inconsistency_score"
	FeatDistanceFromLastTx   = "distance_from_last_tx"
	FeatTimeSinceLastTx      = "time_since_last_tx"
)

// FeatureNames returns the canonical feature names in vector order.
func FeatureNames() []string {
	return []string{
		FeatTxCount1m, FeatTxCount5m, FeatTxCount1h,
		FeatAmountDevMean, FeatAmountDevMedian, FeatAmountPercentile,
		FeatDeviceFrequency, FeatMerchantFrequency,
		FeatGeoTimeInconsistency, FeatDistanceFromLastTx, FeatTimeSinceLastTx,
	}
}

// Vector returns the feature values in canonical order for model inference.
func (f *Features) Vector() []float64 {
	return []float64{
		float64(f.TxCount1m),
		float64(f.TxCount5m),
		float64(f.TxCount1h),
		f.AmountDeviationFromMean,
		f.AmountDeviationFromMedian,
		f.AmountPercentile,
		float64(f.DeviceFrequency),
		float64(f.MerchantFrequency),
		f.GeoTimeInconsistencyScore,
		f.DistanceFromLastTx,
		float64(f.TimeSinceLastTx),
	}
}

// Values returns the features as a name-to-value map, used for explanation
// snapshots and policy evaluation.
func (f *Features) Values() map[string]float64 {
	names := FeatureNames()
	vec := f.Vector()
	m := make(map[string]float64, len(names))
	for i, name := range names {
		m[name] = vec[i]
	}
	return m
}

// UserBaseline is the per-user rolling statistical summary of transaction
// amounts over a trailing 30-day window. Recomputed by maintenance, read by
// the scoring path.
type UserBaseline struct {
	UserID            string    `json:"user_id"`
	MeanAmount        float64   `json:"mean_amount"`
	MedianAmount      float64   `json:"median_amount"`
	StdAmount         float64   `json:"std_amount"`
	TotalTransactions int       `json:"total_transactions"`
	LastUpdated       time.Time `json:"last_updated"`
}
