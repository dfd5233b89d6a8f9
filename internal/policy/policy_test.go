package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/opensource-finance/merlin/internal/domain"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(nil)
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	return e
}

func testInput(action string, score float64) Input {
	return Input{
		Transaction: &domain.Transaction{
			ID:         "tx-1",
			UserID:     "user-1",
			MerchantID: "merchant-1",
			Amount:     500,
			Currency:   "USD",
			Location:   &domain.Location{Latitude: 40.7, Longitude: -74.0, Country: "US"},
		},
		Features:   &domain.Features{TxCount1m: 2, DeviceFrequency: 4, GeoTimeInconsistencyScore: 0.3},
		Prediction: &domain.ModelPrediction{FraudScore: score},
		Decision:   domain.Decision{Action: action, FraudScore: score},
	}
}

func TestLoadAndApply(t *testing.T) {
	e := newTestEngine(t)

	err := e.Load(&domain.PolicyConfig{
		ID:         "p-1",
		Name:       "high-amount-review",
		Expression: `amount > 400.0 && action == "approve"`,
		EscalateTo: domain.ActionReview,
		Enabled:    true,
	})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	decision, fired := e.Apply(context.Background(), testInput(domain.ActionApprove, 0.3))
	if decision.Action != domain.ActionReview {
		t.Errorf("expected escalation to review, got %s", decision.Action)
	}
	if len(fired) != 1 || fired[0] != "high-amount-review" {
		t.Errorf("unexpected fired policies: %v", fired)
	}
}

func TestEscalateOnly(t *testing.T) {
	e := newTestEngine(t)

	err := e.Load(&domain.PolicyConfig{
		ID:         "p-review",
		Name:       "always-review",
		Expression: `true`,
		EscalateTo: domain.ActionReview,
		Enabled:    true,
	})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	// A blocked decision must never be softened to review.
	decision, fired := e.Apply(context.Background(), testInput(domain.ActionBlock, 0.95))
	if decision.Action != domain.ActionBlock {
		t.Errorf("policy softened block to %s", decision.Action)
	}
	if len(fired) != 1 {
		t.Errorf("policy should still report a match, got %v", fired)
	}
}

func TestEscalateToBlock(t *testing.T) {
	e := newTestEngine(t)

	err := e.Load(&domain.PolicyConfig{
		ID:         "p-country",
		Name:       "embargoed-country",
		Expression: `country == "US" && fraud_score > 0.2`,
		EscalateTo: domain.ActionBlock,
		Enabled:    true,
	})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	decision, _ := e.Apply(context.Background(), testInput(domain.ActionReview, 0.6))
	if decision.Action != domain.ActionBlock {
		t.Errorf("expected block, got %s", decision.Action)
	}
}

func TestPolicyValidation(t *testing.T) {
	e := newTestEngine(t)

	t.Run("non-boolean expression rejected", func(t *testing.T) {
		err := e.Validate(&domain.PolicyConfig{
			ID:         "p-bad",
			Expression: `amount + 1.0`,
			EscalateTo: domain.ActionReview,
		})
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("syntax error rejected", func(t *testing.T) {
		err := e.Validate(&domain.PolicyConfig{
			ID:         "p-syntax",
			Expression: `amount >`,
			EscalateTo: domain.ActionReview,
		})
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("unknown variable rejected", func(t *testing.T) {
		err := e.Validate(&domain.PolicyConfig{
			ID:         "p-unknown",
			Expression: `account_age > 30`,
			EscalateTo: domain.ActionReview,
		})
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("softening target rejected", func(t *testing.T) {
		err := e.Validate(&domain.PolicyConfig{
			ID:         "p-soften",
			Expression: `true`,
			EscalateTo: domain.ActionApprove,
		})
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})

	t.Run("invalid escalate target rejected", func(t *testing.T) {
		err := e.Validate(&domain.PolicyConfig{
			ID:         "p-target",
			Expression: `true`,
			EscalateTo: "quarantine",
		})
		if !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation, got %v", err)
		}
	})
}

func TestReload(t *testing.T) {
	e := newTestEngine(t)

	configs := []*domain.PolicyConfig{
		{ID: "p-1", Name: "one", Expression: `true`, EscalateTo: domain.ActionReview, Enabled: true},
		{ID: "p-2", Name: "two", Expression: `false`, EscalateTo: domain.ActionBlock, Enabled: true},
		{ID: "p-3", Name: "disabled", Expression: `true`, EscalateTo: domain.ActionBlock, Enabled: false},
	}

	if err := e.Reload(configs); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if e.Count() != 2 {
		t.Errorf("expected 2 active policies, got %d", e.Count())
	}

	t.Run("failed reload keeps current set", func(t *testing.T) {
		bad := []*domain.PolicyConfig{
			{ID: "p-bad", Name: "bad", Expression: `nonsense ==`, EscalateTo: domain.ActionBlock, Enabled: true},
		}
		if err := e.Reload(bad); err == nil {
			t.Fatal("expected reload error")
		}
		if e.Count() != 2 {
			t.Errorf("active set changed after failed reload: %d", e.Count())
		}
	})
}

func TestMissingLocation(t *testing.T) {
	e := newTestEngine(t)

	err := e.Load(&domain.PolicyConfig{
		ID:         "p-country",
		Name:       "country-check",
		Expression: `country == ""`,
		EscalateTo: domain.ActionReview,
		Enabled:    true,
	})
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	in := testInput(domain.ActionApprove, 0.2)
	in.Transaction.Location = nil

	decision, _ := e.Apply(context.Background(), in)
	if decision.Action != domain.ActionReview {
		t.Errorf("expected empty country to match, got %s", decision.Action)
	}
}
