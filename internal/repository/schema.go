package repository

// Schema definitions for the Merlin database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    merchant_id TEXT NOT NULL,
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    device_id TEXT,
    ip_address TEXT,
    latitude REAL,
    longitude REAL,
    country TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_user_ts ON transactions(user_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_device_ts ON transactions(device_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_merchant_ts ON transactions(merchant_id, timestamp);
`

const schemaBaselines = `
CREATE TABLE IF NOT EXISTS user_baselines (
    user_id TEXT PRIMARY KEY,
    mean_amount REAL NOT NULL,
    median_amount REAL NOT NULL,
    std_amount REAL NOT NULL,
    total_transactions INTEGER NOT NULL,
    last_updated TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_baselines_updated ON user_baselines(last_updated);
`

const schemaPredictions = `
CREATE TABLE IF NOT EXISTS predictions (
    transaction_id TEXT PRIMARY KEY,
    fraud_score REAL NOT NULL,
    unsupervised_score REAL NOT NULL,
    supervised_score REAL NOT NULL,
    model_version TEXT NOT NULL,
    decision TEXT NOT NULL,
    threshold_used REAL NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_predictions_decision ON predictions(decision, created_at);
CREATE INDEX IF NOT EXISTS idx_predictions_score ON predictions(fraud_score);
`

const schemaAlerts = `
CREATE TABLE IF NOT EXISTS alerts (
    id TEXT PRIMARY KEY,
    transaction_id TEXT NOT NULL,
    fraud_score REAL NOT NULL,
    priority TEXT NOT NULL,
    status TEXT NOT NULL,
    explanation TEXT,
    analyst_id TEXT,
    analyst_decision TEXT,
    analyst_notes TEXT,
    created_at TIMESTAMP NOT NULL,
    reviewed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_alerts_status_priority ON alerts(status, priority);
CREATE INDEX IF NOT EXISTS idx_alerts_created ON alerts(created_at);
CREATE INDEX IF NOT EXISTS idx_alerts_tx ON alerts(transaction_id);
`

const schemaPolicies = `
CREATE TABLE IF NOT EXISTS policies (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT NOT NULL,
    escalate_to TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaBaselines,
		schemaPredictions,
		schemaAlerts,
		schemaPolicies,
	}
}
