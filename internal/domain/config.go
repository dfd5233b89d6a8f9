package domain

import "time"

// Config holds the complete Merlin configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines infrastructure defaults
	Tier Tier `json:"tier"`

	// Scoring holds the hot-reloadable scoring configuration unit.
	Scoring ScoringConfig `json:"scoring"`

	// Models holds model artifact locations.
	Models ModelConfig `json:"models"`

	// Geo holds optional IP geolocation settings.
	Geo GeoConfig `json:"geo"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`

	// APIKey authenticates callers of the scoring API.
	APIKey string `json:"-"`
}

// ScoringConfig is the hot-reloadable configuration unit for the pipeline:
// ensemble weights, decision thresholds, cost matrix, the high-value alert
// threshold, and the baseline cache TTL. Replaced as a whole, never mutated
// field by field.
type ScoringConfig struct {
	UnsupervisedWeight float64 `json:"unsupervised_weight"`
	SupervisedWeight   float64 `json:"supervised_weight"`

	ApproveThreshold float64 `json:"approve_threshold"`
	BlockThreshold   float64 `json:"block_threshold"`

	FalsePositiveCost float64 `json:"false_positive_cost"`
	FalseNegativeCost float64 `json:"false_negative_cost"`

	// HighValueThreshold marks transactions that always alert at high
	// priority when flagged.
	HighValueThreshold float64 `json:"high_value_threshold"`

	// BaselineTTL bounds how long cached user baselines are served.
	BaselineTTL time.Duration `json:"baseline_ttl"`
}

// ModelConfig holds model artifact paths for load and hot-swap.
type ModelConfig struct {
	AnomalyPath    string `json:"anomaly_path"`
	ClassifierPath string `json:"classifier_path"`
}

// GeoConfig holds IP geolocation settings. An empty database path disables
// the resolver.
type GeoConfig struct {
	GeoIPPath string `json:"geoip_path"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
	Endpoint    string `json:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + in-process channels.
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis.
	TierPro Tier = "pro"
)

// DefaultScoringConfig returns the default scoring configuration unit.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		UnsupervisedWeight: 0.3,
		SupervisedWeight:   0.7,
		ApproveThreshold:   0.50,
		BlockThreshold:     0.85,
		FalsePositiveCost:  50.0,
		FalseNegativeCost:  1000.0,
		HighValueThreshold: 10000.0,
		BaselineTTL:        time.Hour,
	}
}

// DefaultConfig returns a default configuration for the Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier:    TierCommunity,
		Scoring: DefaultScoringConfig(),
		Models: ModelConfig{
			AnomalyPath:    "models/anomaly.json",
			ClassifierPath: "models/classifier.json",
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./merlin.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "merlin",
		},
		APIKey: "dev-api-key-change-in-production",
	}
}

// ProConfig returns a configuration for the Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "merlin",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}

// Validate checks the scoring configuration unit invariants.
func (c ScoringConfig) Validate() error {
	if c.ApproveThreshold < 0 || c.BlockThreshold > 1 || c.ApproveThreshold >= c.BlockThreshold {
		return ErrInvalidConfig
	}
	if c.FalsePositiveCost <= 0 || c.FalseNegativeCost <= 0 {
		return ErrInvalidConfig
	}
	if c.UnsupervisedWeight < 0 || c.SupervisedWeight < 0 {
		return ErrInvalidConfig
	}
	if c.BaselineTTL <= 0 {
		return ErrInvalidConfig
	}
	return nil
}
