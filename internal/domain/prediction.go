package domain

import "time"

// ModelPrediction is the output of the scoring service for one transaction.
// Created fresh per request, never fed back into pipeline state.
type ModelPrediction struct {
	FraudScore        float64 `json:"fraud_score"`
	UnsupervisedScore float64 `json:"unsupervised_score"`
	SupervisedScore   float64 `json:"supervised_score"`
	ModelVersion      string  `json:"model_version"`
}

// Decision actions.
const (
	ActionApprove = "approve"
	ActionReview  = "review"
	ActionBlock   = "block"
)

// Decision is the actionable outcome derived from a prediction and the
// current thresholds. Pure data, no hidden state.
type Decision struct {
	Action        string  `json:"action"`
	FraudScore    float64 `json:"fraud_score"`
	ThresholdUsed float64 `json:"threshold_used"`
	Confidence    float64 `json:"confidence"`
}

// Alert priorities.
const (
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

// Alert statuses.
const (
	AlertPending  = "pending"
	AlertReviewed = "reviewed"
	AlertResolved = "resolved"
)

// Explanation is the ranked attribution output for a flagged transaction.
type Explanation struct {
	// TopFeatures holds at most 5 entries sorted by descending absolute
	// attribution.
	TopFeatures []FeatureContribution `json:"top_features"`
	Summary     string                `json:"summary"`
	// FeatureValues is the full feature-value snapshot at explanation time.
	FeatureValues map[string]float64 `json:"feature_values"`
}

// FeatureContribution is one (feature, attribution) pair.
type FeatureContribution struct {
	Feature      string  `json:"feature"`
	Contribution float64 `json:"contribution"`
}

// Alert is a pending review record created for flagged transactions.
type Alert struct {
	ID              string     `json:"alert_id"`
	TransactionID   string     `json:"transaction_id"`
	FraudScore      float64    `json:"fraud_score"`
	Priority        string     `json:"priority"`
	Status          string     `json:"status"`
	Explanation     string     `json:"explanation"`
	AnalystID       string     `json:"analyst_id,omitempty"`
	AnalystDecision string     `json:"analyst_decision,omitempty"`
	AnalystNotes    string     `json:"analyst_notes,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ReviewedAt      *time.Time `json:"reviewed_at,omitempty"`
}

// CostMatrix weights misclassification outcomes for threshold calibration.
type CostMatrix struct {
	FalsePositiveCost float64 `json:"false_positive_cost"`
	FalseNegativeCost float64 `json:"false_negative_cost"`
}

// PredictionRecord is the audit row written per scored transaction.
type PredictionRecord struct {
	TransactionID     string    `json:"transaction_id"`
	FraudScore        float64   `json:"fraud_score"`
	UnsupervisedScore float64   `json:"unsupervised_score"`
	SupervisedScore   float64   `json:"supervised_score"`
	ModelVersion      string    `json:"model_version"`
	Decision          string    `json:"decision"`
	ThresholdUsed     float64   `json:"threshold_used"`
	CreatedAt         time.Time `json:"created_at"`
}

// LabeledScore is one (fraud_score, is_fraud) pair from a validation set,
// used for offline threshold calibration.
type LabeledScore struct {
	Score   float64 `json:"score"`
	IsFraud bool    `json:"is_fraud"`
}
