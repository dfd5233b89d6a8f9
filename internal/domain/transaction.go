package domain

import (
	"fmt"
	"strings"
	"time"
)

// Transaction represents an incoming payment transaction to be scored.
// Immutable once created; the scoring pipeline only reads it.
type Transaction struct {
	ID         string    `json:"transaction_id"`
	UserID     string    `json:"user_id"`
	MerchantID string    `json:"merchant_id"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency"`
	Timestamp  time.Time `json:"timestamp"`

	// Optional metadata
	DeviceID  string    `json:"device_id,omitempty"`
	IPAddress string    `json:"ip_address,omitempty"`
	Location  *Location `json:"location,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Location is a geographic point attached to a transaction.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Country   string  `json:"country"`
}

// Validate checks the invariants enforced at the ingestion boundary.
// Violations are reported as ErrValidation.
func (t *Transaction) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: transaction_id is required", ErrValidation)
	}
	if t.UserID == "" {
		return fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	if t.MerchantID == "" {
		return fmt.Errorf("%w: merchant_id is required", ErrValidation)
	}
	if t.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if len(t.Currency) != 3 {
		return fmt.Errorf("%w: currency must be a 3-letter code", ErrValidation)
	}
	if t.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp is required", ErrValidation)
	}
	if t.Location != nil {
		if t.Location.Latitude < -90 || t.Location.Latitude > 90 {
			return fmt.Errorf("%w: latitude out of range", ErrValidation)
		}
		if t.Location.Longitude < -180 || t.Location.Longitude > 180 {
			return fmt.Errorf("%w: longitude out of range", ErrValidation)
		}
		if len(t.Location.Country) != 2 {
			return fmt.Errorf("%w: country must be a 2-letter code", ErrValidation)
		}
	}
	return nil
}

// Normalize upper-cases currency and country codes in place.
func (t *Transaction) Normalize() {
	t.Currency = strings.ToUpper(t.Currency)
	if t.Location != nil {
		t.Location.Country = strings.ToUpper(t.Location.Country)
	}
}

// ScoringRequest is the API request payload for transaction scoring.
type ScoringRequest struct {
	Transaction Transaction `json:"transaction"`
}

// ScoringResponse is the API response for a scored transaction.
type ScoringResponse struct {
	TransactionID    string  `json:"transaction_id"`
	FraudScore       float64 `json:"fraud_score"`
	Decision         string  `json:"decision"`
	Confidence       float64 `json:"confidence"`
	Explanation      string  `json:"explanation"`
	ProcessingTimeMs float64 `json:"processing_time_ms"`
}
