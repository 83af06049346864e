package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/opencause/escrow/models"
)

const intentColumns = `
	id, campaign_id, donor_id, deposit_address, expected_amount_raw,
	expected_token_address, token_decimals, networks, scan_cursors, start_blocks,
	status, expires_at, detected_network_id, detected_tx_hash,
	detected_amount_raw, detected_asset, asset_mismatch, created_at, updated_at
`

// CreatePaymentIntent creates a new payment intent
func (p *PostgresDB) CreatePaymentIntent(ctx context.Context, intent *models.PaymentIntent) error {
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = time.Now()
	}
	if intent.UpdatedAt.IsZero() {
		intent.UpdatedAt = intent.CreatedAt
	}

	cursors, err := json.Marshal(orEmptyCursors(intent.ScanCursors))
	if err != nil {
		return errors.Wrap(err, "failed to marshal scan cursors")
	}
	startBlocks, err := json.Marshal(orEmptyCursors(intent.StartBlocks))
	if err != nil {
		return errors.Wrap(err, "failed to marshal start blocks")
	}

	query := `
		INSERT INTO payment_intents (` + intentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	_, err = p.db.ExecContext(ctx, query,
		intent.ID,
		intent.CampaignID,
		intent.DonorID,
		intent.DepositAddress,
		intent.ExpectedAmountRaw,
		intent.ExpectedTokenAddress,
		intent.TokenDecimals,
		pq.Array(intent.Networks),
		cursors,
		startBlocks,
		intent.Status,
		intent.ExpiresAt,
		intent.DetectedNetworkID,
		intent.DetectedTxHash,
		intent.DetectedAmountRaw,
		intent.DetectedAsset,
		intent.AssetMismatch,
		intent.CreatedAt,
		intent.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return errors.Wrap(err, "failed to create payment intent")
	}
	return nil
}

// GetPaymentIntent retrieves a payment intent by ID
func (p *PostgresDB) GetPaymentIntent(ctx context.Context, id string) (*models.PaymentIntent, error) {
	query := `SELECT ` + intentColumns + ` FROM payment_intents WHERE id = $1`
	return scanIntent(p.db.QueryRowContext(ctx, query, id))
}

// ListWatchableIntents loads up to limit non-terminal intents in arrival order.
func (p *PostgresDB) ListWatchableIntents(ctx context.Context, limit int) ([]*models.PaymentIntent, error) {
	query := `
		SELECT ` + intentColumns + `
		FROM payment_intents
		WHERE status IN ($1, $2, $3)
		ORDER BY created_at ASC
		LIMIT $4
	`

	rows, err := p.db.QueryContext(ctx, query,
		models.IntentStatusCreated,
		models.IntentStatusDetecting,
		models.IntentStatusConfirming,
		limit,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query watchable intents")
	}
	defer rows.Close()

	var intents []*models.PaymentIntent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, intent)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating intents")
	}
	return intents, nil
}

// UpdateIntentStatus updates the status of a payment intent. Writing the same
// status twice is harmless; the watcher relies on that for CREATED→DETECTING.
func (p *PostgresDB) UpdateIntentStatus(ctx context.Context, id string, status models.PaymentIntentStatus) error {
	query := `
		UPDATE payment_intents
		SET status = $1,
			updated_at = NOW()
		WHERE id = $2
	`

	result, err := p.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return errors.Wrap(err, "failed to update intent status")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ExpireIntent transitions a non-terminal intent to EXPIRED. A no-op when the
// intent already reached a terminal state, so racing ticks are safe.
func (p *PostgresDB) ExpireIntent(ctx context.Context, id string) error {
	query := `
		UPDATE payment_intents
		SET status = $1,
			updated_at = NOW()
		WHERE id = $2 AND status IN ($3, $4, $5)
	`

	_, err := p.db.ExecContext(ctx, query,
		models.IntentStatusExpired,
		id,
		models.IntentStatusCreated,
		models.IntentStatusDetecting,
		models.IntentStatusConfirming,
	)
	if err != nil {
		return errors.Wrap(err, "failed to expire intent")
	}
	return nil
}

// AdvanceScanCursor persists a scan cursor with a monotonic-max merge, so
// concurrent ticks racing to advance it can never move a cursor backward.
func (p *PostgresDB) AdvanceScanCursor(ctx context.Context, intentID, networkID string, block uint64) error {
	query := `
		UPDATE payment_intents
		SET scan_cursors = jsonb_set(
				scan_cursors,
				ARRAY[$2],
				to_jsonb(GREATEST(COALESCE((scan_cursors->>$2)::bigint, 0), $3::bigint)),
				true
			),
			updated_at = NOW()
		WHERE id = $1
	`

	result, err := p.db.ExecContext(ctx, query, intentID, networkID, int64(block))
	if err != nil {
		return errors.Wrap(err, "failed to advance scan cursor")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// rowScanner covers both *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanIntent(row rowScanner) (*models.PaymentIntent, error) {
	var (
		intent      models.PaymentIntent
		networks    pq.StringArray
		cursors     []byte
		startBlocks []byte
	)

	err := row.Scan(
		&intent.ID,
		&intent.CampaignID,
		&intent.DonorID,
		&intent.DepositAddress,
		&intent.ExpectedAmountRaw,
		&intent.ExpectedTokenAddress,
		&intent.TokenDecimals,
		&networks,
		&cursors,
		&startBlocks,
		&intent.Status,
		&intent.ExpiresAt,
		&intent.DetectedNetworkID,
		&intent.DetectedTxHash,
		&intent.DetectedAmountRaw,
		&intent.DetectedAsset,
		&intent.AssetMismatch,
		&intent.CreatedAt,
		&intent.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan payment intent")
	}

	intent.Networks = networks
	if err := json.Unmarshal(cursors, &intent.ScanCursors); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal scan cursors")
	}
	if err := json.Unmarshal(startBlocks, &intent.StartBlocks); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal start blocks")
	}

	return &intent, nil
}

func orEmptyCursors(m map[string]uint64) map[string]uint64 {
	if m == nil {
		return map[string]uint64{}
	}
	return m
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
