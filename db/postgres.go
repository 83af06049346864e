package db

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"
)

// PostgresDB implements the Database interface using PostgreSQL.
//
// The document store role from the design maps onto relational tables with
// the compound/deterministic ids as primary keys; multi-document atomic
// commits are plain SQL transactions.
type PostgresDB struct {
	db *sql.DB
}

// NewPostgresDB creates a new PostgreSQL database connection
func NewPostgresDB(databaseURL string) (*PostgresDB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping database")
	}

	postgresDB := &PostgresDB{db: db}

	// Initialize the database schema
	if err := postgresDB.InitDB(context.Background()); err != nil {
		return nil, errors.Wrap(err, "failed to initialize database")
	}

	return postgresDB, nil
}

// NewPostgresDBWithConn wraps an existing connection; used by tests with sqlmock.
func NewPostgresDBWithConn(db *sql.DB) *PostgresDB {
	return &PostgresDB{db: db}
}

// Close closes the database connection
func (p *PostgresDB) Close() error {
	return p.db.Close()
}

// Ping checks if the database connection is alive
func (p *PostgresDB) Ping() error {
	return p.db.Ping()
}

// InitDB initializes the database schema
func (p *PostgresDB) InitDB(ctx context.Context) error {
	schema := `
		-- Expected donations and their per-network scan cursors
		CREATE TABLE IF NOT EXISTS payment_intents (
			id VARCHAR(64) PRIMARY KEY,
			campaign_id VARCHAR(64) NOT NULL,
			donor_id VARCHAR(64),
			deposit_address VARCHAR(128) NOT NULL,
			expected_amount_raw VARCHAR(78) NOT NULL,
			expected_token_address VARCHAR(64) NOT NULL DEFAULT '',
			token_decimals INT NOT NULL DEFAULT 18,
			networks TEXT[] NOT NULL,
			scan_cursors JSONB NOT NULL DEFAULT '{}'::jsonb,
			start_blocks JSONB NOT NULL DEFAULT '{}'::jsonb,
			status VARCHAR(20) NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			detected_network_id VARCHAR(32) NOT NULL DEFAULT '',
			detected_tx_hash VARCHAR(128) NOT NULL DEFAULT '',
			detected_amount_raw VARCHAR(78) NOT NULL DEFAULT '',
			detected_asset VARCHAR(10) NOT NULL DEFAULT '',
			asset_mismatch BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);

		-- Observed on-chain transfers; compound id {network}_{txhash}
		CREATE TABLE IF NOT EXISTS chain_transactions (
			id VARCHAR(192) PRIMARY KEY,
			network_id VARCHAR(32) NOT NULL,
			tx_hash VARCHAR(128) NOT NULL,
			to_address VARCHAR(128) NOT NULL,
			from_address VARCHAR(128) NOT NULL DEFAULT '',
			amount_raw VARCHAR(78) NOT NULL,
			amount_native VARCHAR(78) NOT NULL,
			asset_type VARCHAR(10) NOT NULL,
			token_address VARCHAR(64) NOT NULL DEFAULT '',
			block_number BIGINT NOT NULL DEFAULT 0,
			confirmations BIGINT NOT NULL DEFAULT 0,
			status VARCHAR(20) NOT NULL,
			intent_id VARCHAR(64) NOT NULL REFERENCES payment_intents(id),
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);

		-- Public donation ledger; deterministic id over on-chain facts
		CREATE TABLE IF NOT EXISTS donations (
			id VARCHAR(64) PRIMARY KEY,
			campaign_id VARCHAR(64) NOT NULL,
			donor_id VARCHAR(64),
			receipt_id VARCHAR(64) NOT NULL,
			network_id VARCHAR(32) NOT NULL,
			tx_hash VARCHAR(128) NOT NULL DEFAULT '',
			amount_raw VARCHAR(78) NOT NULL,
			amount_native VARCHAR(78) NOT NULL,
			asset_type VARCHAR(10) NOT NULL,
			token_address VARCHAR(64) NOT NULL DEFAULT '',
			fiat_value VARCHAR(78) NOT NULL DEFAULT '',
			verified BOOLEAN NOT NULL DEFAULT FALSE,
			pricing_review BOOLEAN NOT NULL DEFAULT FALSE,
			anonymous BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);

		-- Donor-private receipts carrying the full transaction reference
		CREATE TABLE IF NOT EXISTS donation_receipts (
			id VARCHAR(64) PRIMARY KEY,
			donation_id VARCHAR(64) NOT NULL REFERENCES donations(id),
			intent_id VARCHAR(64) NOT NULL REFERENCES payment_intents(id),
			donor_id VARCHAR(64),
			network_id VARCHAR(32) NOT NULL,
			tx_hash VARCHAR(128) NOT NULL,
			from_address VARCHAR(128) NOT NULL DEFAULT '',
			amount_raw VARCHAR(78) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);

		-- Campaign projection maintained by the surrounding system
		CREATE TABLE IF NOT EXISTS campaigns (
			id VARCHAR(64) PRIMARY KEY,
			organizer_id VARCHAR(64) NOT NULL,
			title VARCHAR(256) NOT NULL DEFAULT '',
			status VARCHAR(20) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);

		-- Capped funding tranches; amounts are NUMERIC for in-SQL arithmetic
		CREATE TABLE IF NOT EXISTS milestones (
			id VARCHAR(64) PRIMARY KEY,
			campaign_id VARCHAR(64) NOT NULL REFERENCES campaigns(id),
			title VARCHAR(256) NOT NULL DEFAULT '',
			cap_amount NUMERIC(78,0) NOT NULL,
			released_amount NUMERIC(78,0) NOT NULL DEFAULT 0,
			status VARCHAR(20) NOT NULL,
			cooling_off_hours INT NOT NULL DEFAULT 0,
			review_window_hours INT NOT NULL DEFAULT 0,
			opened_at TIMESTAMPTZ,
			last_release_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			CONSTRAINT released_within_cap CHECK (released_amount <= cap_amount)
		);

		-- Payout requests
		CREATE TABLE IF NOT EXISTS withdrawal_requests (
			id VARCHAR(64) PRIMARY KEY,
			campaign_id VARCHAR(64) NOT NULL REFERENCES campaigns(id),
			milestone_id VARCHAR(64) REFERENCES milestones(id),
			requester_id VARCHAR(64) NOT NULL,
			payee_role VARCHAR(16) NOT NULL,
			vendor_id VARCHAR(64),
			amount NUMERIC(78,0) NOT NULL,
			currency VARCHAR(16) NOT NULL,
			destination_kind VARCHAR(16) NOT NULL,
			destination VARCHAR(256) NOT NULL,
			network_id VARCHAR(32) NOT NULL DEFAULT '',
			asset_type VARCHAR(10) NOT NULL DEFAULT '',
			token_address VARCHAR(64) NOT NULL DEFAULT '',
			evidence_hash VARCHAR(64) NOT NULL,
			proof_refs TEXT[] NOT NULL DEFAULT '{}',
			status VARCHAR(20) NOT NULL,
			anomaly_score INT NOT NULL DEFAULT 0,
			reviewed_by VARCHAR(64),
			reject_reason VARCHAR(512) NOT NULL DEFAULT '',
			tx_hash VARCHAR(128) NOT NULL DEFAULT '',
			explorer_url VARCHAR(256) NOT NULL DEFAULT '',
			failure_reason VARCHAR(512) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);

		-- Vendor allow-list consulted by the release policy
		CREATE TABLE IF NOT EXISTS vendors (
			id VARCHAR(64) PRIMARY KEY,
			name VARCHAR(256) NOT NULL,
			allowlisted BOOLEAN NOT NULL DEFAULT FALSE,
			credential_status VARCHAR(20) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		);

		-- Reconciled campaign aggregates
		CREATE TABLE IF NOT EXISTS campaign_stats (
			campaign_id VARCHAR(64) PRIMARY KEY REFERENCES campaigns(id),
			donation_count INT NOT NULL DEFAULT 0,
			total_raised_fiat NUMERIC(78,2) NOT NULL DEFAULT 0,
			total_released_fiat NUMERIC(78,2) NOT NULL DEFAULT 0,
			unpriced_donations INT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL
		);

		-- Create indexes
		CREATE INDEX IF NOT EXISTS idx_payment_intents_status ON payment_intents(status);
		CREATE INDEX IF NOT EXISTS idx_payment_intents_campaign ON payment_intents(campaign_id);
		CREATE INDEX IF NOT EXISTS idx_chain_transactions_status ON chain_transactions(status);
		CREATE INDEX IF NOT EXISTS idx_chain_transactions_intent ON chain_transactions(intent_id);
		CREATE INDEX IF NOT EXISTS idx_donations_campaign ON donations(campaign_id);
		CREATE INDEX IF NOT EXISTS idx_withdrawals_campaign ON withdrawal_requests(campaign_id);
		CREATE INDEX IF NOT EXISTS idx_withdrawals_status ON withdrawal_requests(status);
		CREATE INDEX IF NOT EXISTS idx_withdrawals_evidence ON withdrawal_requests(campaign_id, evidence_hash);
	`

	_, err := p.db.ExecContext(ctx, schema)
	if err != nil {
		return errors.Wrap(err, "failed to initialize database schema")
	}

	return nil
}
