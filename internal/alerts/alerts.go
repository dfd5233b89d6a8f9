// Package alerts manages the review queue for flagged transactions.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/merlin/internal/domain"
)

// Service creates and manages alerts for flagged transactions.
type Service struct {
	store  domain.Store
	bus    domain.EventBus
	logger *slog.Logger
}

// NewService creates an alert service. The bus is optional; when
// present, new alerts are announced on the alert topic.
func NewService(store domain.Store, bus domain.EventBus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		bus:    bus,
		logger: logger,
	}
}

// Create opens a pending alert for a flagged transaction. Priority is
// supplied by the decision engine and fixed for the alert's lifetime.
func (s *Service) Create(ctx context.Context, txID string, score float64, priority, explanation string) (*domain.Alert, error) {
	alert := &domain.Alert{
		ID:            uuid.New().String(),
		TransactionID: txID,
		FraudScore:    score,
		Priority:      priority,
		Status:        domain.AlertPending,
		Explanation:   explanation,
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.store.SaveAlert(ctx, alert); err != nil {
		return nil, fmt.Errorf("%w: alert create: %v", domain.ErrDataAccess, err)
	}

	s.logger.Info("alert created",
		"alert_id", alert.ID,
		"transaction_id", txID,
		"priority", priority,
		"fraud_score", score,
	)

	if s.bus != nil {
		payload := []byte(fmt.Sprintf(`{"alert_id":%q,"transaction_id":%q,"priority":%q}`,
			alert.ID, txID, priority))
		if err := s.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
			s.logger.Warn("failed to publish alert event",
				"alert_id", alert.ID,
				"error", err,
			)
		}
	}

	return alert, nil
}

// Get retrieves an alert by ID.
func (s *Service) Get(ctx context.Context, alertID string) (*domain.Alert, error) {
	return s.store.GetAlert(ctx, alertID)
}

// List retrieves alerts matching the filter, newest first.
func (s *Service) List(ctx context.Context, filter domain.AlertFilter) ([]*domain.Alert, error) {
	return s.store.ListAlerts(ctx, filter)
}

// Review records an analyst's disposition on a pending alert.
func (s *Service) Review(ctx context.Context, alertID string, review domain.AlertReview) error {
	if review.Status == "" {
		review.Status = domain.AlertReviewed
	}
	if review.ReviewedAt.IsZero() {
		review.ReviewedAt = time.Now().UTC()
	}

	if err := s.store.UpdateAlertReview(ctx, alertID, review); err != nil {
		return err
	}

	s.logger.Info("alert reviewed",
		"alert_id", alertID,
		"analyst_id", review.AnalystID,
		"decision", review.AnalystDecision,
	)
	return nil
}

// Stats summarizes the alert backlog.
func (s *Service) Stats(ctx context.Context) (*domain.AlertStats, error) {
	return s.store.AlertStats(ctx)
}

// priorityRank orders priorities for queue sorting.
var priorityRank = map[string]int{
	domain.PriorityHigh:   0,
	domain.PriorityMedium: 1,
	domain.PriorityLow:    2,
}

// Prioritize sorts alerts for analyst consumption: high priority first,
// then by fraud score descending within the same priority.
func Prioritize(alerts []*domain.Alert) {
	sort.SliceStable(alerts, func(i, j int) bool {
		ri, rj := priorityRank[alerts[i].Priority], priorityRank[alerts[j].Priority]
		if ri != rj {
			return ri < rj
		}
		return alerts[i].FraudScore > alerts[j].FraudScore
	})
}
