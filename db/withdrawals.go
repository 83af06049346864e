package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/opencause/escrow/models"
)

const withdrawalColumns = `
	id, campaign_id, milestone_id, requester_id, payee_role, vendor_id,
	amount, currency, destination_kind, destination, network_id, asset_type,
	token_address, evidence_hash, proof_refs, status, anomaly_score,
	reviewed_by, reject_reason, tx_hash, explorer_url, failure_reason,
	created_at, updated_at
`

// CreateWithdrawalRequest creates a new withdrawal request
func (p *PostgresDB) CreateWithdrawalRequest(ctx context.Context, withdrawal *models.WithdrawalRequest) error {
	if withdrawal.CreatedAt.IsZero() {
		withdrawal.CreatedAt = time.Now()
	}
	if withdrawal.UpdatedAt.IsZero() {
		withdrawal.UpdatedAt = withdrawal.CreatedAt
	}

	query := `
		INSERT INTO withdrawal_requests (` + withdrawalColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
			$15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
	`

	_, err := p.db.ExecContext(ctx, query,
		withdrawal.ID,
		withdrawal.CampaignID,
		withdrawal.MilestoneID,
		withdrawal.RequesterID,
		withdrawal.PayeeRole,
		withdrawal.VendorID,
		withdrawal.Amount,
		withdrawal.Currency,
		withdrawal.DestinationKind,
		withdrawal.Destination,
		withdrawal.NetworkID,
		withdrawal.AssetType,
		withdrawal.TokenAddress,
		withdrawal.EvidenceHash,
		pq.Array(withdrawal.ProofRefs),
		withdrawal.Status,
		withdrawal.AnomalyScore,
		withdrawal.ReviewedBy,
		withdrawal.RejectReason,
		withdrawal.TxHash,
		withdrawal.ExplorerURL,
		withdrawal.FailureReason,
		withdrawal.CreatedAt,
		withdrawal.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return errors.Wrap(err, "failed to create withdrawal request")
	}
	return nil
}

// GetWithdrawalRequest retrieves a withdrawal request by ID
func (p *PostgresDB) GetWithdrawalRequest(ctx context.Context, id string) (*models.WithdrawalRequest, error) {
	query := `SELECT ` + withdrawalColumns + ` FROM withdrawal_requests WHERE id = $1`
	return scanWithdrawal(p.db.QueryRowContext(ctx, query, id))
}

// ListWithdrawalsByCampaign retrieves all of a campaign's withdrawal requests, newest first
func (p *PostgresDB) ListWithdrawalsByCampaign(ctx context.Context, campaignID string) ([]*models.WithdrawalRequest, error) {
	query := `
		SELECT ` + withdrawalColumns + `
		FROM withdrawal_requests
		WHERE campaign_id = $1
		ORDER BY created_at DESC
	`
	return p.queryWithdrawals(ctx, query, campaignID)
}

// ListExecutedWithdrawals retrieves a campaign's executed withdrawals, oldest
// first. This is the history the policy engine's anomaly scoring consumes.
func (p *PostgresDB) ListExecutedWithdrawals(ctx context.Context, campaignID string) ([]*models.WithdrawalRequest, error) {
	query := `
		SELECT ` + withdrawalColumns + `
		FROM withdrawal_requests
		WHERE campaign_id = $1 AND status = $2
		ORDER BY updated_at ASC
	`
	return p.queryWithdrawals(ctx, query, campaignID, models.WithdrawalStatusExecuted)
}

// EvidenceHashExists reports whether the evidence hash is already attached to
// another withdrawal request in the campaign.
func (p *PostgresDB) EvidenceHashExists(ctx context.Context, campaignID, evidenceHash, excludeRequestID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM withdrawal_requests
			WHERE campaign_id = $1 AND evidence_hash = $2 AND id <> $3 AND status <> $4
		)
	`

	var exists bool
	err := p.db.QueryRowContext(ctx, query, campaignID, evidenceHash, excludeRequestID, models.WithdrawalStatusRejected).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "failed to check evidence hash")
	}
	return exists, nil
}

// TransitionWithdrawal performs a conditional status transition. Returns
// ErrConflict when the withdrawal is not in the expected source state, which
// is how callers detect a lost race.
func (p *PostgresDB) TransitionWithdrawal(ctx context.Context, id string, from, to models.WithdrawalStatus) error {
	query := `
		UPDATE withdrawal_requests
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`

	result, err := p.db.ExecContext(ctx, query, to, id, from)
	if err != nil {
		return errors.Wrap(err, "failed to transition withdrawal")
	}
	return p.conflictUnlessAffected(ctx, result, id)
}

// ReviewWithdrawal records a reviewer decision. Approval moves
// SUBMITTED/UNDER_REVIEW to APPROVED; rejection moves to REJECTED with the
// policy reason attached.
func (p *PostgresDB) ReviewWithdrawal(ctx context.Context, id, reviewer string, approved bool, reason string, anomalyScore int) error {
	to := models.WithdrawalStatusApproved
	if !approved {
		to = models.WithdrawalStatusRejected
	}

	query := `
		UPDATE withdrawal_requests
		SET status = $1,
			reviewed_by = $2,
			reject_reason = $3,
			anomaly_score = $4,
			updated_at = NOW()
		WHERE id = $5 AND status IN ($6, $7)
	`

	result, err := p.db.ExecContext(ctx, query,
		to, reviewer, reason, anomalyScore, id,
		models.WithdrawalStatusSubmitted, models.WithdrawalStatusUnderReview,
	)
	if err != nil {
		return errors.Wrap(err, "failed to review withdrawal")
	}
	return p.conflictUnlessAffected(ctx, result, id)
}

// ClaimWithdrawalExecution claims the single execution attempt for a
// withdrawal: only an APPROVED request can move to EXECUTING, and only one
// caller can win the conditional update.
func (p *PostgresDB) ClaimWithdrawalExecution(ctx context.Context, id string) error {
	return p.TransitionWithdrawal(ctx, id, models.WithdrawalStatusApproved, models.WithdrawalStatusExecuting)
}

// CompleteWithdrawalExecution records a successful payout: the EXECUTED
// status, the transaction reference, and the milestone's released-amount
// increment land in one transaction so a crash cannot leave the cap invariant
// violated.
func (p *PostgresDB) CompleteWithdrawalExecution(ctx context.Context, id string, milestoneID *string, amount, txHash, explorerURL string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin execution completion")
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE withdrawal_requests
		SET status = $1, tx_hash = $2, explorer_url = $3, updated_at = NOW()
		WHERE id = $4 AND status = $5
	`, models.WithdrawalStatusExecuted, txHash, explorerURL, id, models.WithdrawalStatusExecuting)
	if err != nil {
		return errors.Wrap(err, "failed to mark withdrawal executed")
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rowsAffected == 0 {
		return ErrConflict
	}

	if milestoneID != nil {
		result, err = tx.ExecContext(ctx, `
			UPDATE milestones
			SET released_amount = released_amount + $1::numeric,
				last_release_at = NOW(),
				updated_at = NOW()
			WHERE id = $2 AND released_amount + $1::numeric <= cap_amount
		`, amount, *milestoneID)
		if err != nil {
			return errors.Wrap(err, "failed to increment released amount")
		}

		rowsAffected, err = result.RowsAffected()
		if err != nil {
			return errors.Wrap(err, "failed to get rows affected")
		}
		if rowsAffected == 0 {
			// Policy approved this amount earlier; hitting the cap here means
			// a concurrent release landed in between. Abort the whole commit.
			return ErrCapExceeded
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit execution completion")
	}
	return nil
}

// FailWithdrawalExecution moves an EXECUTING withdrawal to its terminal
// FAILED state. There is no automatic retry path from here.
func (p *PostgresDB) FailWithdrawalExecution(ctx context.Context, id, reason string) error {
	query := `
		UPDATE withdrawal_requests
		SET status = $1, failure_reason = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`

	result, err := p.db.ExecContext(ctx, query,
		models.WithdrawalStatusFailed, reason, id, models.WithdrawalStatusExecuting,
	)
	if err != nil {
		return errors.Wrap(err, "failed to fail withdrawal")
	}
	return p.conflictUnlessAffected(ctx, result, id)
}

func (p *PostgresDB) queryWithdrawals(ctx context.Context, query string, args ...interface{}) ([]*models.WithdrawalRequest, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query withdrawals")
	}
	defer rows.Close()

	var withdrawals []*models.WithdrawalRequest
	for rows.Next() {
		withdrawal, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		withdrawals = append(withdrawals, withdrawal)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating withdrawals")
	}
	return withdrawals, nil
}

func (p *PostgresDB) conflictUnlessAffected(ctx context.Context, result sql.Result, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if rowsAffected > 0 {
		return nil
	}

	// Distinguish a missing document from a state conflict.
	if _, err := p.GetWithdrawalRequest(ctx, id); err != nil {
		return err
	}
	return ErrConflict
}

func scanWithdrawal(row rowScanner) (*models.WithdrawalRequest, error) {
	var (
		withdrawal models.WithdrawalRequest
		proofRefs  pq.StringArray
	)

	err := row.Scan(
		&withdrawal.ID,
		&withdrawal.CampaignID,
		&withdrawal.MilestoneID,
		&withdrawal.RequesterID,
		&withdrawal.PayeeRole,
		&withdrawal.VendorID,
		&withdrawal.Amount,
		&withdrawal.Currency,
		&withdrawal.DestinationKind,
		&withdrawal.Destination,
		&withdrawal.NetworkID,
		&withdrawal.AssetType,
		&withdrawal.TokenAddress,
		&withdrawal.EvidenceHash,
		&proofRefs,
		&withdrawal.Status,
		&withdrawal.AnomalyScore,
		&withdrawal.ReviewedBy,
		&withdrawal.RejectReason,
		&withdrawal.TxHash,
		&withdrawal.ExplorerURL,
		&withdrawal.FailureReason,
		&withdrawal.CreatedAt,
		&withdrawal.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan withdrawal")
	}

	withdrawal.ProofRefs = proofRefs
	return &withdrawal, nil
}
