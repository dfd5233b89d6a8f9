package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/merlin/internal/alerts"
	"github.com/opensource-finance/merlin/internal/baseline"
	"github.com/opensource-finance/merlin/internal/bus"
	"github.com/opensource-finance/merlin/internal/cache"
	"github.com/opensource-finance/merlin/internal/decision"
	"github.com/opensource-finance/merlin/internal/domain"
	"github.com/opensource-finance/merlin/internal/explain"
	"github.com/opensource-finance/merlin/internal/features"
	"github.com/opensource-finance/merlin/internal/pipeline"
	"github.com/opensource-finance/merlin/internal/policy"
	"github.com/opensource-finance/merlin/internal/repository"
	"github.com/opensource-finance/merlin/internal/scoring"
)

const testAPIKey = "test-key"

// createTestServer wires a full scoring stack over SQLite and in-process
// channels.
func createTestServer(t *testing.T) *Server {
	t.Helper()

	store, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	eventBus := bus.NewChannelBus(100)
	t.Cleanup(func() { eventBus.Close() })

	memCache := cache.NewLRUCache(100)

	cfg := domain.DefaultScoringConfig()
	baselines := baseline.NewService(store, memCache, cfg.BaselineTTL, nil)

	decider, err := decision.NewEngine(cfg, nil)
	if err != nil {
		t.Fatalf("failed to create decision engine: %v", err)
	}

	policies, err := policy.NewEngine(nil)
	if err != nil {
		t.Fatalf("failed to create policy engine: %v", err)
	}

	scorer := scoring.NewService(domain.ModelConfig{}, cfg, store, nil)
	alertSvc := alerts.NewService(store, eventBus, nil)

	p := pipeline.New(pipeline.Config{
		Store:     store,
		Bus:       eventBus,
		Features:  features.NewService(store, baselines, nil, nil),
		Scorer:    scorer,
		Decider:   decider,
		Policies:  policies,
		Explain:   explain.NewEngine(),
		Alerts:    alertSvc,
		Baselines: baselines,
	})

	serverCfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	return NewServer(serverCfg, testAPIKey, HandlerConfig{
		Store:     store,
		Cache:     memCache,
		Bus:       eventBus,
		Pipeline:  p,
		Scorer:    scorer,
		Decider:   decider,
		Policies:  policies,
		Alerts:    alertSvc,
		Baselines: baselines,
		Version:   "test-v1",
	})
}

func doRequest(server *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(APIKeyHeader, testAPIKey)

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)
	return rr
}

func TestScoreEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("SuccessfulScore", func(t *testing.T) {
		reqBody := domain.ScoringRequest{
			Transaction: domain.Transaction{
				UserID:     "user-1",
				MerchantID: "merchant-1",
				Amount:     125.00,
				Currency:   "USD",
			},
		}

		rr := doRequest(server, http.MethodPost, "/score", reqBody)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp domain.ScoringResponse
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if resp.TransactionID == "" {
			t.Error("expected a generated transaction_id")
		}
		if resp.Decision == "" {
			t.Error("expected a decision")
		}
		if resp.FraudScore < 0 || resp.FraudScore > 1 {
			t.Errorf("fraud score out of bounds: %f", resp.FraudScore)
		}
		if resp.Explanation == "" {
			t.Error("expected an explanation")
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBufferString("not-json"))
		req.Header.Set(APIKeyHeader, testAPIKey)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ValidationFailure", func(t *testing.T) {
		reqBody := domain.ScoringRequest{
			Transaction: domain.Transaction{
				UserID:     "user-1",
				MerchantID: "merchant-1",
				Amount:     -50,
				Currency:   "USD",
			},
		}

		rr := doRequest(server, http.MethodPost, "/score", reqBody)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("MissingAPIKey", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBufferString("{}"))

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", rr.Code)
		}
	})

	t.Run("WrongAPIKey", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/score", bytes.NewBufferString("{}"))
		req.Header.Set(APIKeyHeader, "wrong-key")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", rr.Code)
		}
	})
}

func TestTransactionEndpoint(t *testing.T) {
	server := createTestServer(t)

	reqBody := domain.ScoringRequest{
		Transaction: domain.Transaction{
			ID:         "tx-api-1",
			UserID:     "user-1",
			MerchantID: "merchant-1",
			Amount:     99.99,
			Currency:   "USD",
		},
	}
	if rr := doRequest(server, http.MethodPost, "/score", reqBody); rr.Code != http.StatusOK {
		t.Fatalf("score failed: %d %s", rr.Code, rr.Body.String())
	}

	t.Run("Found", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/transactions/tx-api-1", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var tx domain.Transaction
		if err := json.Unmarshal(rr.Body.Bytes(), &tx); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if tx.ID != "tx-api-1" || tx.Amount != 99.99 {
			t.Errorf("unexpected transaction: %+v", tx)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/transactions/tx-missing", nil)
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})
}

func TestAlertEndpoints(t *testing.T) {
	server := createTestServer(t)
	ctx := context.Background()

	alert, err := server.Handler().alerts.Create(ctx, "tx-1", 0.91, domain.PriorityHigh, "suspicious velocity burst")
	if err != nil {
		t.Fatalf("failed to create alert: %v", err)
	}

	t.Run("List", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/alerts?status=pending", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Alerts []*domain.Alert `json:"alerts"`
			Count  int             `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Count != 1 || resp.Alerts[0].ID != alert.ID {
			t.Errorf("unexpected listing: %+v", resp)
		}
	})

	t.Run("BadSinceFilter", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/alerts?since=yesterday", nil)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("Get", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/alerts/"+alert.ID, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("Review", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/alerts/"+alert.ID+"/review", ReviewAlertRequest{
			AnalystID:       "analyst-7",
			AnalystDecision: "false_positive",
			AnalystNotes:    "customer travelling",
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var reviewed domain.Alert
		if err := json.Unmarshal(rr.Body.Bytes(), &reviewed); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if reviewed.Status != domain.AlertReviewed {
			t.Errorf("expected reviewed status, got %s", reviewed.Status)
		}
		if reviewed.AnalystID != "analyst-7" {
			t.Errorf("expected analyst id, got %s", reviewed.AnalystID)
		}
	})

	t.Run("ReviewMissingFields", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/alerts/"+alert.ID+"/review", ReviewAlertRequest{})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("ReviewNotFound", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/alerts/missing/review", ReviewAlertRequest{
			AnalystID:       "analyst-7",
			AnalystDecision: "confirmed",
		})
		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("Stats", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/alerts/stats", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var stats domain.AlertStats
		if err := json.Unmarshal(rr.Body.Bytes(), &stats); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if stats.Total != 1 || stats.Reviewed != 1 {
			t.Errorf("unexpected stats: %+v", stats)
		}
	})
}

func TestConfigEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("Apply", func(t *testing.T) {
		rr := doRequest(server, http.MethodPut, "/config/scoring", ScoringConfigRequest{
			UnsupervisedWeight: 0.4,
			SupervisedWeight:   0.6,
			ApproveThreshold:   0.4,
			BlockThreshold:     0.8,
			FalsePositiveCost:  25,
			FalseNegativeCost:  500,
			HighValueThreshold: 5000,
			BaselineTTLSeconds: 600,
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		approve, block := server.Handler().decider.Thresholds()
		if approve != 0.4 || block != 0.8 {
			t.Errorf("thresholds not applied: %f/%f", approve, block)
		}
	})

	t.Run("InvalidRejectedWhole", func(t *testing.T) {
		rr := doRequest(server, http.MethodPut, "/config/scoring", ScoringConfigRequest{
			UnsupervisedWeight: 0.4,
			SupervisedWeight:   0.6,
			ApproveThreshold:   0.9,
			BlockThreshold:     0.2,
			FalsePositiveCost:  25,
			FalseNegativeCost:  500,
			HighValueThreshold: 5000,
			BaselineTTLSeconds: 600,
		})
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}

		approve, block := server.Handler().decider.Thresholds()
		if approve != 0.4 || block != 0.8 {
			t.Errorf("thresholds changed after rejected update: %f/%f", approve, block)
		}
	})
}

func TestCalibrateEndpoint(t *testing.T) {
	server := createTestServer(t)

	validation := []domain.LabeledScore{
		{Score: 0.2, IsFraud: false},
		{Score: 0.25, IsFraud: false},
		{Score: 0.9, IsFraud: true},
		{Score: 0.95, IsFraud: true},
	}

	t.Run("DryRun", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/calibrate", CalibrateRequest{
			Validation: validation,
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Result  decision.CalibrationResult `json:"result"`
			Applied bool                       `json:"applied"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Applied {
			t.Error("dry run must not apply thresholds")
		}
		if resp.Result.Evaluated != 190 {
			t.Errorf("expected 190 evaluated pairs, got %d", resp.Result.Evaluated)
		}

		approve, block := server.Handler().decider.Thresholds()
		if approve != 0.50 || block != 0.85 {
			t.Errorf("dry run changed thresholds: %f/%f", approve, block)
		}
	})

	t.Run("Apply", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/calibrate", CalibrateRequest{
			Validation: validation,
			Apply:      true,
		})
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Result  decision.CalibrationResult `json:"result"`
			Applied bool                       `json:"applied"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if !resp.Applied {
			t.Fatal("expected thresholds to be applied")
		}

		approve, block := server.Handler().decider.Thresholds()
		if approve != resp.Result.ApproveThreshold || block != resp.Result.BlockThreshold {
			t.Errorf("running thresholds %f/%f differ from result %f/%f",
				approve, block, resp.Result.ApproveThreshold, resp.Result.BlockThreshold)
		}
	})
}

func TestModelReloadEndpoint(t *testing.T) {
	server := createTestServer(t)

	rr := doRequest(server, http.MethodPost, "/models/reload", ReloadModelsRequest{
		AnomalyPath: "/nonexistent/anomaly.json",
	})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected status 400 for missing artifact, got %d", rr.Code)
	}
}

func TestBaselineRefreshEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("NoHistory", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/baselines/user-empty/refresh", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)
		if resp["message"] == "" {
			t.Error("expected no-history message")
		}
	})

	t.Run("WithHistory", func(t *testing.T) {
		tx := &domain.Transaction{
			ID:         "tx-hist-1",
			UserID:     "user-hist",
			MerchantID: "merchant-1",
			Amount:     200,
			Currency:   "USD",
			Timestamp:  time.Now().UTC().Add(-time.Hour),
			CreatedAt:  time.Now().UTC(),
		}
		if err := server.Handler().store.SaveTransaction(context.Background(), tx); err != nil {
			t.Fatalf("failed to seed transaction: %v", err)
		}

		rr := doRequest(server, http.MethodPost, "/baselines/user-hist/refresh", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var b domain.UserBaseline
		if err := json.Unmarshal(rr.Body.Bytes(), &b); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if b.UserID != "user-hist" || b.MeanAmount != 200 {
			t.Errorf("unexpected baseline: %+v", b)
		}
	})
}

func TestPolicyEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("Create", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/policies", CreatePolicyRequest{
			Name:       "high-risk-country",
			Expression: `country == "XX"`,
			EscalateTo: domain.ActionBlock,
			Enabled:    true,
		})
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		if server.Handler().policies.Count() != 1 {
			t.Errorf("expected 1 compiled policy, got %d", server.Handler().policies.Count())
		}
	})

	t.Run("CreateInvalidExpression", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/policies", CreatePolicyRequest{
			Name:       "broken",
			Expression: `amount >`,
			EscalateTo: domain.ActionReview,
			Enabled:    true,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("CreateSofteningRejected", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/policies", CreatePolicyRequest{
			Name:       "softener",
			Expression: `amount > 0.0`,
			EscalateTo: domain.ActionApprove,
			Enabled:    true,
		})
		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("List", func(t *testing.T) {
		rr := doRequest(server, http.MethodGet, "/policies", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Count    int `json:"count"`
			Compiled int `json:"compiled"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Count != 1 || resp.Compiled != 1 {
			t.Errorf("unexpected counts: %+v", resp)
		}
	})

	t.Run("Reload", func(t *testing.T) {
		rr := doRequest(server, http.MethodPost, "/policies/reload", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}
		if server.Handler().policies.Count() != 1 {
			t.Errorf("expected 1 compiled policy after reload, got %d", server.Handler().policies.Count())
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("MetricsExposed", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("APIKeyMiddlewareAllowsValidKey", func(t *testing.T) {
		handler := APIKeyMiddleware("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(APIKeyHeader, "secret")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("APIKeyMiddlewareRejectsBadKey", func(t *testing.T) {
		handler := APIKeyMiddleware("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(APIKeyHeader, "nope")

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusUnauthorized {
			t.Errorf("expected status 401, got %d", rr.Code)
		}
	})

	t.Run("EmptyKeyDisablesAuth", func(t *testing.T) {
		handler := APIKeyMiddleware("")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)

		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})

	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if v, ok := r.Context().Value(RequestIDKey).(string); ok {
				capturedRequestID = v
			}
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}
		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
