// Package policy provides the CEL-based decision override engine.
// Policies run after threshold classification and may only escalate an
// action, never soften it.
package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/merlin/internal/domain"
)

// actionRank orders actions by severity for escalation checks.
var actionRank = map[string]int{
	domain.ActionApprove: 0,
	domain.ActionReview:  1,
	domain.ActionBlock:   2,
}

// Engine compiles and evaluates decision-override policies.
type Engine struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]*CompiledPolicy
	logger   *slog.Logger
}

// CompiledPolicy holds a pre-compiled CEL program with its config.
type CompiledPolicy struct {
	Config  *domain.PolicyConfig
	Program cel.Program
}

// NewEngine creates a policy engine with the scoring-pipeline variable
// set available to expressions.
func NewEngine(logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}

	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("country", cel.StringType),
		cel.Variable("merchant_id", cel.StringType),
		cel.Variable("fraud_score", cel.DoubleType),
		cel.Variable("action", cel.StringType),
		cel.Variable("velocity_1m", cel.IntType),
		cel.Variable("device_frequency", cel.IntType),
		cel.Variable("geo_inconsistency", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:      env,
		compiled: make(map[string]*CompiledPolicy),
		logger:   logger,
	}, nil
}

// Validate compiles a policy without loading it.
func (e *Engine) Validate(cfg *domain.PolicyConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: policy config is required", domain.ErrValidation)
	}
	_, err := e.compile(cfg)
	return err
}

// Load compiles and activates a policy.
func (e *Engine) Load(cfg *domain.PolicyConfig) error {
	compiled, err := e.compile(cfg)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled[cfg.ID] = compiled
	return nil
}

// Reload replaces all active policies. A compile failure leaves the
// current set untouched.
func (e *Engine) Reload(configs []*domain.PolicyConfig) error {
	next := make(map[string]*CompiledPolicy)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compile(cfg)
		if err != nil {
			return err
		}
		next[cfg.ID] = compiled
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = next
	return nil
}

// Count returns the number of active policies.
func (e *Engine) Count() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// Input carries the evaluation context for one decision.
type Input struct {
	Transaction *domain.Transaction
	Features    *domain.Features
	Prediction  *domain.ModelPrediction
	Decision    domain.Decision
}

// Apply evaluates active policies against a decision and returns the
// escalated decision plus the names of policies that fired. Evaluation
// errors are logged and skipped; a broken policy never blocks scoring.
func (e *Engine) Apply(ctx context.Context, in Input) (domain.Decision, []string) {
	e.mu.RLock()
	policies := make([]*CompiledPolicy, 0, len(e.compiled))
	for _, p := range e.compiled {
		policies = append(policies, p)
	}
	e.mu.RUnlock()

	decision := in.Decision
	if len(policies) == 0 {
		return decision, nil
	}

	country := ""
	if in.Transaction.Location != nil {
		country = in.Transaction.Location.Country
	}

	activation := map[string]any{
		"amount":            in.Transaction.Amount,
		"currency":          in.Transaction.Currency,
		"country":           country,
		"merchant_id":       in.Transaction.MerchantID,
		"fraud_score":       in.Prediction.FraudScore,
		"action":            in.Decision.Action,
		"velocity_1m":       int64(in.Features.TxCount1m),
		"device_frequency":  int64(in.Features.DeviceFrequency),
		"geo_inconsistency": in.Features.GeoTimeInconsistencyScore,
	}

	var fired []string
	for _, p := range policies {
		out, _, err := p.Program.Eval(activation)
		if err != nil {
			e.logger.Warn("policy evaluation failed",
				"policy_id", p.Config.ID,
				"policy_name", p.Config.Name,
				"error", err,
			)
			continue
		}

		matched, ok := out.(types.Bool)
		if !ok || !bool(matched) {
			continue
		}

		fired = append(fired, p.Config.Name)
		if actionRank[p.Config.EscalateTo] > actionRank[decision.Action] {
			decision.Action = p.Config.EscalateTo
		}
	}

	if len(fired) > 0 && decision.Action != in.Decision.Action {
		e.logger.Info("decision escalated by policy",
			"transaction_id", in.Transaction.ID,
			"from", in.Decision.Action,
			"to", decision.Action,
			"policies", fired,
		)
	}

	return decision, fired
}

// Close clears all active policies.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiled = make(map[string]*CompiledPolicy)
	return nil
}

func (e *Engine) compile(cfg *domain.PolicyConfig) (*CompiledPolicy, error) {
	if actionRank[cfg.EscalateTo] == 0 && cfg.EscalateTo != domain.ActionApprove {
		return nil, fmt.Errorf("%w: policy %s: escalate_to must be review or block", domain.ErrValidation, cfg.ID)
	}
	if cfg.EscalateTo == domain.ActionApprove {
		return nil, fmt.Errorf("%w: policy %s: policies cannot soften to approve", domain.ErrValidation, cfg.ID)
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: policy %s: %v", domain.ErrValidation, cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: policy %s: expression must return bool, got %s",
			domain.ErrValidation, cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for policy %s: %w", cfg.ID, err)
	}

	return &CompiledPolicy{
		Config:  cfg,
		Program: program,
	}, nil
}
