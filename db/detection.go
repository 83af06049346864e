package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/opencause/escrow/models"
	"github.com/opencause/escrow/utils"
)

// CommitDetection atomically records a matched transfer: the chain
// transaction, the public donation, the private receipt, and the intent's
// transition to CONFIRMING all land in one transaction.
//
// The existence re-checks inside the transaction, backed by the primary keys
// on the compound chain-transaction id and the deterministic donation id, are
// the system's idempotency mechanism: a concurrent tick (or a retried call)
// that already recorded the same transaction makes this a no-op, whether the
// rival committed before the checks ran or between them and the insert.
// Returns false when the commit was absorbed as a duplicate.
func (p *PostgresDB) CommitDetection(ctx context.Context, commit DetectionCommit) (bool, error) {
	intent := commit.Intent
	chainTxID := models.ChainTransactionID(commit.NetworkID, commit.TxHash)
	donationID := utils.DonationID(commit.NetworkID, commit.TxHash, intent.DepositAddress, commit.TokenAddress)
	receiptID := utils.GenerateID()
	now := time.Now()

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, errors.Wrap(err, "failed to begin detection commit")
	}
	defer tx.Rollback()

	// Re-check both ids inside the transaction; either existing means another
	// detection pass already won.
	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM chain_transactions WHERE id = $1`, chainTxID).Scan(&exists)
	if err == nil {
		return false, nil
	}
	if err != sql.ErrNoRows {
		return false, errors.Wrap(err, "failed to check chain transaction existence")
	}

	err = tx.QueryRowContext(ctx, `SELECT 1 FROM donations WHERE id = $1`, donationID).Scan(&exists)
	if err == nil {
		return false, nil
	}
	if err != sql.ErrNoRows {
		return false, errors.Wrap(err, "failed to check donation existence")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chain_transactions (
			id, network_id, tx_hash, to_address, from_address, amount_raw,
			amount_native, asset_type, token_address, block_number,
			confirmations, status, intent_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11, $12, $13, $13)
	`,
		chainTxID,
		commit.NetworkID,
		commit.TxHash,
		intent.DepositAddress,
		commit.FromAddress,
		commit.AmountRaw,
		commit.AmountNative,
		commit.AssetType,
		commit.TokenAddress,
		commit.BlockNumber,
		models.ChainTxStatusSeen,
		intent.ID,
		now,
	)
	if isUniqueViolation(err) {
		// A concurrent tick committed the same physical transaction between
		// the existence check and this insert. The duplicate is absorbed the
		// same way the check would have absorbed it.
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "failed to insert chain transaction")
	}

	// Anonymous donors get a masked transaction reference in the public
	// record; the receipt keeps the full reference.
	anonymous := intent.DonorID == nil
	publicTxHash := commit.TxHash
	if anonymous {
		publicTxHash = ""
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO donations (
			id, campaign_id, donor_id, receipt_id, network_id, tx_hash,
			amount_raw, amount_native, asset_type, token_address, fiat_value,
			verified, pricing_review, anonymous, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, '', FALSE, $11, $12, $13, $13)
	`,
		donationID,
		intent.CampaignID,
		intent.DonorID,
		receiptID,
		commit.NetworkID,
		publicTxHash,
		commit.AmountRaw,
		commit.AmountNative,
		commit.AssetType,
		commit.TokenAddress,
		commit.PricingReview,
		anonymous,
		now,
	)
	if isUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrap(err, "failed to insert donation")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO donation_receipts (
			id, donation_id, intent_id, donor_id, network_id, tx_hash,
			from_address, amount_raw, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		receiptID,
		donationID,
		intent.ID,
		intent.DonorID,
		commit.NetworkID,
		commit.TxHash,
		commit.FromAddress,
		commit.AmountRaw,
		now,
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to insert donation receipt")
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE payment_intents
		SET status = $1,
			detected_network_id = $2,
			detected_tx_hash = $3,
			detected_amount_raw = $4,
			detected_asset = $5,
			asset_mismatch = $6,
			updated_at = $7
		WHERE id = $8
	`,
		models.IntentStatusConfirming,
		commit.NetworkID,
		commit.TxHash,
		commit.AmountRaw,
		commit.AssetType,
		commit.AssetMismatch,
		now,
		intent.ID,
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to update intent with detection")
	}

	if err := tx.Commit(); err != nil {
		return false, errors.Wrap(err, "failed to commit detection")
	}

	return true, nil
}

const chainTxColumns = `
	id, network_id, tx_hash, to_address, from_address, amount_raw,
	amount_native, asset_type, token_address, block_number, confirmations,
	status, intent_id, created_at, updated_at
`

// GetChainTransaction retrieves a chain transaction by compound ID
func (p *PostgresDB) GetChainTransaction(ctx context.Context, id string) (*models.ChainTransaction, error) {
	query := `SELECT ` + chainTxColumns + ` FROM chain_transactions WHERE id = $1`
	return scanChainTx(p.db.QueryRowContext(ctx, query, id))
}

// ListConfirmingTransactions loads transactions still gathering confirmations.
func (p *PostgresDB) ListConfirmingTransactions(ctx context.Context, limit int) ([]*models.ChainTransaction, error) {
	query := `
		SELECT ` + chainTxColumns + `
		FROM chain_transactions
		WHERE status IN ($1, $2)
		ORDER BY created_at ASC
		LIMIT $3
	`

	rows, err := p.db.QueryContext(ctx, query, models.ChainTxStatusSeen, models.ChainTxStatusConfirming, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query confirming transactions")
	}
	defer rows.Close()

	var txs []*models.ChainTransaction
	for rows.Next() {
		chainTx, err := scanChainTx(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, chainTx)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating chain transactions")
	}
	return txs, nil
}

// UpdateTransactionConfirmations refreshes the confirmation count. The count
// only moves forward; a reorg that lowers it is ignored until finality logic
// re-evaluates the transaction.
func (p *PostgresDB) UpdateTransactionConfirmations(ctx context.Context, id string, confirmations uint64) error {
	query := `
		UPDATE chain_transactions
		SET confirmations = GREATEST(confirmations, $1),
			status = CASE WHEN status = $2 THEN $3 ELSE status END,
			updated_at = NOW()
		WHERE id = $4
	`

	_, err := p.db.ExecContext(ctx, query,
		int64(confirmations),
		models.ChainTxStatusSeen,
		models.ChainTxStatusConfirming,
		id,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update confirmations")
	}
	return nil
}

// FinalizeChainTransaction flips the transaction, its donation, and its
// intent to their confirmed states in one transaction.
func (p *PostgresDB) FinalizeChainTransaction(ctx context.Context, id string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin finalize")
	}
	defer tx.Rollback()

	var intentID string
	err = tx.QueryRowContext(ctx, `
		UPDATE chain_transactions
		SET status = $1, updated_at = NOW()
		WHERE id = $2
		RETURNING intent_id
	`, models.ChainTxStatusConfirmed, id).Scan(&intentID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return errors.Wrap(err, "failed to confirm chain transaction")
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE donations
		SET verified = TRUE, updated_at = NOW()
		WHERE id IN (SELECT donation_id FROM donation_receipts WHERE intent_id = $1)
	`, intentID)
	if err != nil {
		return errors.Wrap(err, "failed to verify donation")
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE payment_intents
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`, models.IntentStatusConfirmed, intentID, models.IntentStatusConfirming)
	if err != nil {
		return errors.Wrap(err, "failed to confirm intent")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit finalize")
	}
	return nil
}

func scanChainTx(row rowScanner) (*models.ChainTransaction, error) {
	var chainTx models.ChainTransaction

	err := row.Scan(
		&chainTx.ID,
		&chainTx.NetworkID,
		&chainTx.TxHash,
		&chainTx.ToAddress,
		&chainTx.FromAddress,
		&chainTx.AmountRaw,
		&chainTx.AmountNative,
		&chainTx.AssetType,
		&chainTx.TokenAddress,
		&chainTx.BlockNumber,
		&chainTx.Confirmations,
		&chainTx.Status,
		&chainTx.IntentID,
		&chainTx.CreatedAt,
		&chainTx.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan chain transaction")
	}
	return &chainTx, nil
}
