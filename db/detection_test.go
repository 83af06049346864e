package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencause/escrow/models"
	"github.com/opencause/escrow/utils"
)

func detectionIntent(donorID *string) *models.PaymentIntent {
	return &models.PaymentIntent{
		ID:                "intent-1",
		CampaignID:        "campaign-1",
		DonorID:           donorID,
		DepositAddress:    "0x1234567890abcdef1234567890abcdef12345678",
		ExpectedAmountRaw: "1000000000000000000",
		Networks:          []string{"ethereum"},
		Status:            models.IntentStatusDetecting,
		ExpiresAt:         time.Now().Add(time.Hour),
	}
}

func detectionCommit(intent *models.PaymentIntent) DetectionCommit {
	return DetectionCommit{
		Intent:       intent,
		NetworkID:    "ethereum",
		TxHash:       "0xdead",
		FromAddress:  "0xfeed",
		AmountRaw:    "1000000000000000000",
		AmountNative: "1",
		AssetType:    models.AssetTypeNative,
		BlockNumber:  100,
	}
}

func expectNoExistingDetection(mock sqlmock.Sqlmock) {
	mock.ExpectQuery(`SELECT 1 FROM chain_transactions WHERE id = \$1`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT 1 FROM donations WHERE id = \$1`).
		WillReturnError(sql.ErrNoRows)
}

func TestCommitDetection(t *testing.T) {
	postgresDB, mock := setupTestDB(t)
	defer closeTestDB(postgresDB)

	donor := "donor-1"
	intent := detectionIntent(&donor)
	commit := detectionCommit(intent)
	chainTxID := models.ChainTransactionID(commit.NetworkID, commit.TxHash)
	donationID := utils.DonationID(commit.NetworkID, commit.TxHash, intent.DepositAddress, commit.TokenAddress)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT 1 FROM chain_transactions WHERE id = \$1`).
		WithArgs(chainTxID).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT 1 FROM donations WHERE id = \$1`).
		WithArgs(donationID).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO chain_transactions`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO donations`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO donation_receipts`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE payment_intents`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	created, err := postgresDB.CommitDetection(context.Background(), commit)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitDetectionDuplicateChainTx(t *testing.T) {
	postgresDB, mock := setupTestDB(t)
	defer closeTestDB(postgresDB)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT 1 FROM chain_transactions WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectRollback()

	created, err := postgresDB.CommitDetection(context.Background(), detectionCommit(detectionIntent(nil)))
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitDetectionDuplicateDonation(t *testing.T) {
	postgresDB, mock := setupTestDB(t)
	defer closeTestDB(postgresDB)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT 1 FROM chain_transactions WHERE id = \$1`).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(`SELECT 1 FROM donations WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectRollback()

	created, err := postgresDB.CommitDetection(context.Background(), detectionCommit(detectionIntent(nil)))
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitDetectionLosesInsertRace(t *testing.T) {
	postgresDB, mock := setupTestDB(t)
	defer closeTestDB(postgresDB)

	// Under READ COMMITTED a rival's uncommitted insert is invisible to the
	// existence checks; the loser hits the primary key instead and the
	// duplicate is still absorbed as a no-op.
	mock.ExpectBegin()
	expectNoExistingDetection(mock)
	mock.ExpectExec(`INSERT INTO chain_transactions`).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	created, err := postgresDB.CommitDetection(context.Background(), detectionCommit(detectionIntent(nil)))
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitDetectionLosesDonationInsertRace(t *testing.T) {
	postgresDB, mock := setupTestDB(t)
	defer closeTestDB(postgresDB)

	mock.ExpectBegin()
	expectNoExistingDetection(mock)
	mock.ExpectExec(`INSERT INTO chain_transactions`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO donations`).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	created, err := postgresDB.CommitDetection(context.Background(), detectionCommit(detectionIntent(nil)))
	require.NoError(t, err)
	assert.False(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitDetectionAnonymousMasksPublicTxHash(t *testing.T) {
	postgresDB, mock := setupTestDB(t)
	defer closeTestDB(postgresDB)

	intent := detectionIntent(nil)
	commit := detectionCommit(intent)
	donationID := utils.DonationID(commit.NetworkID, commit.TxHash, intent.DepositAddress, commit.TokenAddress)

	mock.ExpectBegin()
	expectNoExistingDetection(mock)
	mock.ExpectExec(`INSERT INTO chain_transactions`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	// The public record carries an empty tx hash and the anonymous flag; the
	// receipt keeps the full reference.
	mock.ExpectExec(`INSERT INTO donations`).
		WithArgs(
			donationID, intent.CampaignID, nil, sqlmock.AnyArg(), commit.NetworkID, "",
			commit.AmountRaw, commit.AmountNative, string(commit.AssetType), commit.TokenAddress,
			false, true, sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO donation_receipts`).
		WithArgs(
			sqlmock.AnyArg(), donationID, intent.ID, nil, commit.NetworkID, commit.TxHash,
			commit.FromAddress, commit.AmountRaw, sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`UPDATE payment_intents`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	created, err := postgresDB.CommitDetection(context.Background(), commit)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizeChainTransaction(t *testing.T) {
	postgresDB, mock := setupTestDB(t)
	defer closeTestDB(postgresDB)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE chain_transactions`).
		WithArgs(string(models.ChainTxStatusConfirmed), "ethereum_0xdead").
		WillReturnRows(sqlmock.NewRows([]string{"intent_id"}).AddRow("intent-1"))
	mock.ExpectExec(`UPDATE donations`).
		WithArgs("intent-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE payment_intents`).
		WithArgs(
			string(models.IntentStatusConfirmed),
			"intent-1",
			string(models.IntentStatusConfirming),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := postgresDB.FinalizeChainTransaction(context.Background(), "ethereum_0xdead")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizeChainTransactionNotFound(t *testing.T) {
	postgresDB, mock := setupTestDB(t)
	defer closeTestDB(postgresDB)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE chain_transactions`).
		WithArgs(string(models.ChainTxStatusConfirmed), "missing").
		WillReturnRows(sqlmock.NewRows([]string{"intent_id"}))
	mock.ExpectRollback()

	err := postgresDB.FinalizeChainTransaction(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
