// Package worker provides async transaction scoring off the event bus.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/opensource-finance/merlin/internal/domain"
	"github.com/opensource-finance/merlin/internal/pipeline"
)

// Worker consumes ingested transactions from the EventBus and runs them
// through the scoring pipeline.
type Worker struct {
	bus      domain.EventBus
	pipeline *pipeline.Pipeline
	logger   *slog.Logger

	subscriptions []domain.Subscription
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewWorker creates a new async worker.
func NewWorker(bus domain.EventBus, p *pipeline.Pipeline, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		pipeline: p,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the transaction ingest topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	w.logger.Info("worker started",
		"topic", domain.TopicTransactionIngested,
	)
	return nil
}

// handleMessage decodes and scores a single ingested transaction.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	start := time.Now()

	var tx domain.Transaction
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		w.logger.Error("failed to parse transaction message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	resp, err := w.pipeline.Score(ctx, &tx)
	if err != nil {
		w.logger.Error("async scoring failed",
			"transaction_id", tx.ID,
			"error", err,
		)
		return err
	}

	w.logger.Info("transaction processed",
		"transaction_id", resp.TransactionID,
		"decision", resp.Decision,
		"fraud_score", resp.FraudScore,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// Stop gracefully stops the worker.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	w.logger.Info("worker stopped")
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscription_count"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
