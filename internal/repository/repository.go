// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/merlin/internal/domain"
)

// SQLStore implements domain.Store using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// New creates a new store based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Store, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	store := &SQLStore{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

func (s *SQLStore) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores an ingested transaction.
func (s *SQLStore) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO transactions (
			id, user_id, merchant_id, amount, currency, timestamp,
			device_id, ip_address, latitude, longitude, country, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var lat, lon sql.NullFloat64
	var country sql.NullString
	if tx.Location != nil {
		lat = sql.NullFloat64{Float64: tx.Location.Latitude, Valid: true}
		lon = sql.NullFloat64{Float64: tx.Location.Longitude, Valid: true}
		country = sql.NullString{String: tx.Location.Country, Valid: true}
	}

	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		tx.ID, tx.UserID, tx.MerchantID,
		tx.Amount, tx.Currency, tx.Timestamp,
		nullString(tx.DeviceID), nullString(tx.IPAddress),
		lat, lon, country, createdAt,
	)
	return err
}

// GetTransaction retrieves a transaction by ID.
func (s *SQLStore) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `
		SELECT id, user_id, merchant_id, amount, currency, timestamp,
			   device_id, ip_address, latitude, longitude, country, created_at
		FROM transactions
		WHERE id = ?
	`

	row := s.db.QueryRowContext(ctx, s.rebind(query), txID)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return tx, err
}

// CountUserTransactions counts a user's transactions in [from, before).
func (s *SQLStore) CountUserTransactions(ctx context.Context, userID string, from, before time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM transactions
		WHERE user_id = ? AND timestamp >= ? AND timestamp < ?
	`
	var count int
	err := s.db.QueryRowContext(ctx, s.rebind(query), userID, from, before).Scan(&count)
	return count, err
}

// CountDeviceTransactions counts a device's transactions in [from, before).
func (s *SQLStore) CountDeviceTransactions(ctx context.Context, deviceID string, from, before time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM transactions
		WHERE device_id = ? AND timestamp >= ? AND timestamp < ?
	`
	var count int
	err := s.db.QueryRowContext(ctx, s.rebind(query), deviceID, from, before).Scan(&count)
	return count, err
}

// CountUserMerchantTransactions counts a user's transactions at one merchant
// in [from, before).
func (s *SQLStore) CountUserMerchantTransactions(ctx context.Context, userID, merchantID string, from, before time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM transactions
		WHERE user_id = ? AND merchant_id = ? AND timestamp >= ? AND timestamp < ?
	`
	var count int
	err := s.db.QueryRowContext(ctx, s.rebind(query), userID, merchantID, from, before).Scan(&count)
	return count, err
}

// LastLocatedTransaction returns the user's most recent transaction with
// coordinates strictly before the given time.
func (s *SQLStore) LastLocatedTransaction(ctx context.Context, userID string, before time.Time) (*domain.Transaction, error) {
	query := `
		SELECT id, user_id, merchant_id, amount, currency, timestamp,
			   device_id, ip_address, latitude, longitude, country, created_at
		FROM transactions
		WHERE user_id = ? AND timestamp < ?
		  AND latitude IS NOT NULL AND longitude IS NOT NULL
		ORDER BY timestamp DESC
		LIMIT 1
	`

	row := s.db.QueryRowContext(ctx, s.rebind(query), userID, before)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return tx, err
}

// UserAmountsSince returns the user's transaction amounts since the given time.
func (s *SQLStore) UserAmountsSince(ctx context.Context, userID string, since time.Time) ([]float64, error) {
	query := `
		SELECT amount FROM transactions
		WHERE user_id = ? AND timestamp >= ?
		ORDER BY timestamp
	`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var amounts []float64
	for rows.Next() {
		var a float64
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		amounts = append(amounts, a)
	}
	return amounts, rows.Err()
}

// GetBaseline retrieves a user baseline, or ErrNotFound.
func (s *SQLStore) GetBaseline(ctx context.Context, userID string) (*domain.UserBaseline, error) {
	query := `
		SELECT user_id, mean_amount, median_amount, std_amount, total_transactions, last_updated
		FROM user_baselines
		WHERE user_id = ?
	`

	var b domain.UserBaseline
	err := s.db.QueryRowContext(ctx, s.rebind(query), userID).Scan(
		&b.UserID, &b.MeanAmount, &b.MedianAmount, &b.StdAmount,
		&b.TotalTransactions, &b.LastUpdated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// UpsertBaseline stores or replaces a user baseline.
func (s *SQLStore) UpsertBaseline(ctx context.Context, baseline *domain.UserBaseline) error {
	query := `
		INSERT INTO user_baselines (
			user_id, mean_amount, median_amount, std_amount, total_transactions, last_updated
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			mean_amount = excluded.mean_amount,
			median_amount = excluded.median_amount,
			std_amount = excluded.std_amount,
			total_transactions = excluded.total_transactions,
			last_updated = excluded.last_updated
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		baseline.UserID, baseline.MeanAmount, baseline.MedianAmount,
		baseline.StdAmount, baseline.TotalTransactions, baseline.LastUpdated,
	)
	return err
}

// SavePrediction writes one audit row for a scored transaction.
func (s *SQLStore) SavePrediction(ctx context.Context, rec *domain.PredictionRecord) error {
	query := `
		INSERT INTO predictions (
			transaction_id, fraud_score, unsupervised_score, supervised_score,
			model_version, decision, threshold_used, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		rec.TransactionID, rec.FraudScore, rec.UnsupervisedScore, rec.SupervisedScore,
		rec.ModelVersion, rec.Decision, rec.ThresholdUsed, createdAt,
	)
	return err
}

// SaveAlert stores a new alert record.
func (s *SQLStore) SaveAlert(ctx context.Context, alert *domain.Alert) error {
	query := `
		INSERT INTO alerts (
			id, transaction_id, fraud_score, priority, status, explanation,
			analyst_id, analyst_decision, analyst_notes, created_at, reviewed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	var reviewedAt sql.NullTime
	if alert.ReviewedAt != nil {
		reviewedAt = sql.NullTime{Time: *alert.ReviewedAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		alert.ID, alert.TransactionID, alert.FraudScore,
		alert.Priority, alert.Status, alert.Explanation,
		nullString(alert.AnalystID), nullString(alert.AnalystDecision), nullString(alert.AnalystNotes),
		alert.CreatedAt, reviewedAt,
	)
	return err
}

// GetAlert retrieves an alert by ID.
func (s *SQLStore) GetAlert(ctx context.Context, alertID string) (*domain.Alert, error) {
	query := `
		SELECT id, transaction_id, fraud_score, priority, status, explanation,
			   analyst_id, analyst_decision, analyst_notes, created_at, reviewed_at
		FROM alerts
		WHERE id = ?
	`

	row := s.db.QueryRowContext(ctx, s.rebind(query), alertID)
	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return alert, err
}

// ListAlerts retrieves alerts matching the filter, newest first.
func (s *SQLStore) ListAlerts(ctx context.Context, filter domain.AlertFilter) ([]*domain.Alert, error) {
	query := `
		SELECT id, transaction_id, fraud_score, priority, status, explanation,
			   analyst_id, analyst_decision, analyst_notes, created_at, reviewed_at
		FROM alerts
		WHERE 1 = 1
	`
	var args []any

	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	if filter.Priority != "" {
		query += " AND priority = ?"
		args = append(args, filter.Priority)
	}
	if !filter.Since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, filter.Since)
	}
	if !filter.Until.IsZero() {
		query += " AND created_at <= ?"
		args = append(args, filter.Until)
	}

	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []*domain.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, rows.Err()
}

// UpdateAlertReview records an analyst review on an alert.
func (s *SQLStore) UpdateAlertReview(ctx context.Context, alertID string, review domain.AlertReview) error {
	query := `
		UPDATE alerts
		SET status = ?, analyst_id = ?, analyst_decision = ?, analyst_notes = ?, reviewed_at = ?
		WHERE id = ?
	`

	reviewedAt := review.ReviewedAt
	if reviewedAt.IsZero() {
		reviewedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, s.rebind(query),
		review.Status,
		nullString(review.AnalystID), nullString(review.AnalystDecision), nullString(review.AnalystNotes),
		reviewedAt, alertID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AlertStats summarizes the alert backlog.
func (s *SQLStore) AlertStats(ctx context.Context) (*domain.AlertStats, error) {
	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'reviewed' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'pending' AND priority = 'high' THEN 1 ELSE 0 END), 0)
		FROM alerts
	`

	var stats domain.AlertStats
	err := s.db.QueryRowContext(ctx, query).Scan(
		&stats.Total, &stats.Pending, &stats.Reviewed, &stats.HighPriorityPending,
	)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// SavePolicy stores or replaces a policy configuration.
func (s *SQLStore) SavePolicy(ctx context.Context, policy *domain.PolicyConfig) error {
	enabled := 0
	if policy.Enabled {
		enabled = 1
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO policies (
			id, name, description, expression, escalate_to, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			escalate_to = excluded.escalate_to,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, s.rebind(query),
		policy.ID, policy.Name, policy.Description,
		policy.Expression, policy.EscalateTo, enabled,
		now, now,
	)
	return err
}

// ListPolicies retrieves all enabled policies.
func (s *SQLStore) ListPolicies(ctx context.Context) ([]*domain.PolicyConfig, error) {
	query := `
		SELECT id, name, description, expression, escalate_to, enabled, created_at, updated_at
		FROM policies
		WHERE enabled = 1
		ORDER BY name
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []*domain.PolicyConfig
	for rows.Next() {
		var p domain.PolicyConfig
		var desc sql.NullString
		var enabled int
		if err := rows.Scan(
			&p.ID, &p.Name, &desc, &p.Expression, &p.EscalateTo,
			&enabled, &p.CreatedAt, &p.UpdatedAt,
		); err != nil {
			return nil, err
		}
		p.Description = desc.String
		p.Enabled = enabled == 1
		policies = append(policies, &p)
	}
	return policies, rows.Err()
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var deviceID, ipAddress, country sql.NullString
	var lat, lon sql.NullFloat64

	err := row.Scan(
		&tx.ID, &tx.UserID, &tx.MerchantID,
		&tx.Amount, &tx.Currency, &tx.Timestamp,
		&deviceID, &ipAddress, &lat, &lon, &country,
		&tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.DeviceID = deviceID.String
	tx.IPAddress = ipAddress.String
	if lat.Valid && lon.Valid {
		tx.Location = &domain.Location{
			Latitude:  lat.Float64,
			Longitude: lon.Float64,
			Country:   country.String,
		}
	}
	return &tx, nil
}

func scanAlert(row rowScanner) (*domain.Alert, error) {
	var a domain.Alert
	var explanation, analystID, analystDecision, analystNotes sql.NullString
	var reviewedAt sql.NullTime

	err := row.Scan(
		&a.ID, &a.TransactionID, &a.FraudScore,
		&a.Priority, &a.Status, &explanation,
		&analystID, &analystDecision, &analystNotes,
		&a.CreatedAt, &reviewedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Explanation = explanation.String
	a.AnalystID = analystID.String
	a.AnalystDecision = analystDecision.String
	a.AnalystNotes = analystNotes.String
	if reviewedAt.Valid {
		t := reviewedAt.Time
		a.ReviewedAt = &t
	}
	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
