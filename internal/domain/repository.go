// Package domain defines the core interfaces and types for Merlin.
package domain

import (
	"context"
	"time"
)

// Store defines the interface for durable persistence: transaction history
// queries for feature engineering, baseline upsert/fetch, the prediction
// audit log, alert records, and policy configuration.
type Store interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)

	// History range queries for feature engineering. All counts cover
	// [from, before) — the current transaction is never counted against
	// itself.
	CountUserTransactions(ctx context.Context, userID string, from, before time.Time) (int, error)
	CountDeviceTransactions(ctx context.Context, deviceID string, from, before time.Time) (int, error)
	CountUserMerchantTransactions(ctx context.Context, userID, merchantID string, from, before time.Time) (int, error)

	// LastLocatedTransaction returns the user's most recent transaction with
	// coordinates strictly before the given time, or ErrNotFound.
	LastLocatedTransaction(ctx context.Context, userID string, before time.Time) (*Transaction, error)

	// UserAmountsSince returns the user's transaction amounts since the given
	// time, for baseline recomputation.
	UserAmountsSince(ctx context.Context, userID string, since time.Time) ([]float64, error)

	// Baseline operations
	GetBaseline(ctx context.Context, userID string) (*UserBaseline, error)
	UpsertBaseline(ctx context.Context, baseline *UserBaseline) error

	// Audit log
	SavePrediction(ctx context.Context, rec *PredictionRecord) error

	// Alert operations
	SaveAlert(ctx context.Context, alert *Alert) error
	GetAlert(ctx context.Context, alertID string) (*Alert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]*Alert, error)
	UpdateAlertReview(ctx context.Context, alertID string, review AlertReview) error
	AlertStats(ctx context.Context) (*AlertStats, error)

	// Policy configuration
	SavePolicy(ctx context.Context, policy *PolicyConfig) error
	ListPolicies(ctx context.Context) ([]*PolicyConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// AlertFilter narrows alert listings.
type AlertFilter struct {
	Status   string
	Priority string
	Since    time.Time
	Until    time.Time
	Limit    int
}

// AlertReview records an analyst's disposition of an alert.
type AlertReview struct {
	Status          string
	AnalystID       string
	AnalystDecision string
	AnalystNotes    string
	ReviewedAt      time.Time
}

// AlertStats summarizes the alert backlog.
type AlertStats struct {
	Total               int `json:"total_alerts"`
	Pending             int `json:"pending_alerts"`
	Reviewed            int `json:"reviewed_alerts"`
	HighPriorityPending int `json:"high_priority_pending"`
}

// RepositoryConfig holds configuration for store initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
