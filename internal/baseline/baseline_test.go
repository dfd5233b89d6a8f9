package baseline

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/merlin/internal/cache"
	"github.com/opensource-finance/merlin/internal/domain"
	"github.com/opensource-finance/merlin/internal/repository"
)

func newTestService(t *testing.T) (*Service, domain.Store) {
	t.Helper()

	store, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	svc := NewService(store, cache.NewLRUCache(100), time.Hour, nil)
	return svc, store
}

func saveTx(t *testing.T, store domain.Store, id string, amount float64, ts time.Time) {
	t.Helper()
	err := store.SaveTransaction(context.Background(), &domain.Transaction{
		ID:         id,
		UserID:     "user-1",
		MerchantID: "merchant-1",
		Amount:     amount,
		Currency:   "USD",
		Timestamp:  ts,
	})
	if err != nil {
		t.Fatalf("failed to save transaction: %v", err)
	}
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name    string
		amounts []float64
		mean    float64
		median  float64
		std     float64
	}{
		{
			name:    "single value",
			amounts: []float64{100},
			mean:    100, median: 100, std: 0,
		},
		{
			name:    "odd count",
			amounts: []float64{10, 20, 30},
			mean:    20, median: 20,
			std: math.Sqrt(200.0 / 3.0),
		},
		{
			name:    "even count takes upper middle",
			amounts: []float64{10, 20, 30, 40},
			mean:    25, median: 30,
			std: math.Sqrt(500.0 / 4.0),
		},
		{
			name:    "unsorted input",
			amounts: []float64{30, 10, 20},
			mean:    20, median: 20,
			std: math.Sqrt(200.0 / 3.0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mean, median, std := summarize(tt.amounts)
			if math.Abs(mean-tt.mean) > 1e-9 {
				t.Errorf("mean: got %f, want %f", mean, tt.mean)
			}
			if math.Abs(median-tt.median) > 1e-9 {
				t.Errorf("median: got %f, want %f", median, tt.median)
			}
			if math.Abs(std-tt.std) > 1e-9 {
				t.Errorf("std: got %f, want %f", std, tt.std)
			}
		})
	}
}

func TestRecompute(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	saveTx(t, store, "tx-1", 100, now.Add(-time.Hour))
	saveTx(t, store, "tx-2", 200, now.Add(-2*time.Hour))
	saveTx(t, store, "tx-3", 300, now.Add(-3*time.Hour))
	// Outside the 30-day window, must not count.
	saveTx(t, store, "tx-old", 99999, now.Add(-31*24*time.Hour))

	baseline, err := svc.Recompute(ctx, "user-1", now)
	if err != nil {
		t.Fatalf("recompute failed: %v", err)
	}
	if baseline == nil {
		t.Fatal("expected baseline")
	}

	if baseline.MeanAmount != 200 {
		t.Errorf("expected mean 200, got %f", baseline.MeanAmount)
	}
	if baseline.MedianAmount != 200 {
		t.Errorf("expected median 200, got %f", baseline.MedianAmount)
	}
	if baseline.TotalTransactions != 3 {
		t.Errorf("expected 3 transactions, got %d", baseline.TotalTransactions)
	}

	// Persisted to the store.
	stored, err := store.GetBaseline(ctx, "user-1")
	if err != nil {
		t.Fatalf("failed to read stored baseline: %v", err)
	}
	if stored.MeanAmount != 200 {
		t.Errorf("expected stored mean 200, got %f", stored.MeanAmount)
	}

	t.Run("no history", func(t *testing.T) {
		baseline, err := svc.Recompute(ctx, "user-empty", now)
		if err != nil {
			t.Fatalf("recompute failed: %v", err)
		}
		if baseline != nil {
			t.Errorf("expected nil baseline for empty history, got %+v", baseline)
		}
	})
}

func TestGetReadThrough(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	t.Run("missing user is neutral", func(t *testing.T) {
		baseline, err := svc.Get(ctx, "unknown")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if baseline != nil {
			t.Errorf("expected nil for missing baseline, got %+v", baseline)
		}
	})

	t.Run("store hit populates cache", func(t *testing.T) {
		seed := &domain.UserBaseline{
			UserID:            "user-1",
			MeanAmount:        150,
			MedianAmount:      120,
			StdAmount:         30,
			TotalTransactions: 12,
			LastUpdated:       time.Now().UTC(),
		}
		if err := store.UpsertBaseline(ctx, seed); err != nil {
			t.Fatalf("failed to seed baseline: %v", err)
		}

		got, err := svc.Get(ctx, "user-1")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got == nil || got.MeanAmount != 150 {
			t.Fatalf("unexpected baseline: %+v", got)
		}

		// Second read should come from cache; mutate the store to prove it.
		seed.MeanAmount = 999
		if err := store.UpsertBaseline(ctx, seed); err != nil {
			t.Fatalf("failed to mutate baseline: %v", err)
		}

		got, err = svc.Get(ctx, "user-1")
		if err != nil {
			t.Fatalf("get failed: %v", err)
		}
		if got.MeanAmount != 150 {
			t.Errorf("expected cached mean 150, got %f", got.MeanAmount)
		}
	})
}

func TestSetTTL(t *testing.T) {
	svc, _ := newTestService(t)

	svc.SetTTL(2 * time.Hour)
	if svc.TTL() != 2*time.Hour {
		t.Errorf("expected 2h TTL, got %v", svc.TTL())
	}

	// Non-positive values are ignored.
	svc.SetTTL(0)
	if svc.TTL() != 2*time.Hour {
		t.Errorf("expected TTL unchanged, got %v", svc.TTL())
	}
}
