package db

import (
	"context"

	"github.com/opencause/escrow/models"
)

// DetectionCommit carries everything the detection commit needs to atomically
// record a matched transfer.
type DetectionCommit struct {
	Intent *models.PaymentIntent

	NetworkID    string
	TxHash       string
	FromAddress  string
	AmountRaw    string
	AmountNative string
	AssetType    models.AssetType
	TokenAddress string
	BlockNumber  uint64

	// AssetMismatch marks a native-asset transfer matched against a
	// token-expecting intent.
	AssetMismatch bool

	// PricingReview holds the donation for manual revaluation.
	PricingReview bool
}

// Database interface defines the methods that a database implementation must provide
type Database interface {
	// Database connection management
	Close() error
	Ping() error
	InitDB(ctx context.Context) error

	// Payment intent operations
	CreatePaymentIntent(ctx context.Context, intent *models.PaymentIntent) error
	GetPaymentIntent(ctx context.Context, id string) (*models.PaymentIntent, error)
	ListWatchableIntents(ctx context.Context, limit int) ([]*models.PaymentIntent, error)
	UpdateIntentStatus(ctx context.Context, id string, status models.PaymentIntentStatus) error
	ExpireIntent(ctx context.Context, id string) error
	AdvanceScanCursor(ctx context.Context, intentID, networkID string, block uint64) error

	// Detection commit and confirmation tracking
	CommitDetection(ctx context.Context, commit DetectionCommit) (bool, error)
	GetChainTransaction(ctx context.Context, id string) (*models.ChainTransaction, error)
	ListConfirmingTransactions(ctx context.Context, limit int) ([]*models.ChainTransaction, error)
	UpdateTransactionConfirmations(ctx context.Context, id string, confirmations uint64) error
	FinalizeChainTransaction(ctx context.Context, id string) error

	// Donation projections
	GetDonation(ctx context.Context, id string) (*models.Donation, error)
	ListDonationsByCampaign(ctx context.Context, campaignID string, page, pageSize int) ([]*models.Donation, int, error)

	// Campaign and milestone state
	GetCampaign(ctx context.Context, id string) (*models.Campaign, error)
	GetMilestone(ctx context.Context, id string) (*models.Milestone, error)
	GetCampaignStats(ctx context.Context, campaignID string) (*models.CampaignStats, error)
	RecomputeCampaignStats(ctx context.Context, campaignID string) (*models.CampaignStats, error)
	ListActiveCampaignIDs(ctx context.Context) ([]string, error)

	// Vendor allow-list
	GetVendor(ctx context.Context, id string) (*models.Vendor, error)

	// Withdrawal operations
	CreateWithdrawalRequest(ctx context.Context, withdrawal *models.WithdrawalRequest) error
	GetWithdrawalRequest(ctx context.Context, id string) (*models.WithdrawalRequest, error)
	ListWithdrawalsByCampaign(ctx context.Context, campaignID string) ([]*models.WithdrawalRequest, error)
	ListExecutedWithdrawals(ctx context.Context, campaignID string) ([]*models.WithdrawalRequest, error)
	EvidenceHashExists(ctx context.Context, campaignID, evidenceHash, excludeRequestID string) (bool, error)
	TransitionWithdrawal(ctx context.Context, id string, from, to models.WithdrawalStatus) error
	ReviewWithdrawal(ctx context.Context, id, reviewer string, approved bool, reason string, anomalyScore int) error
	ClaimWithdrawalExecution(ctx context.Context, id string) error
	CompleteWithdrawalExecution(ctx context.Context, id string, milestoneID *string, amount, txHash, explorerURL string) error
	FailWithdrawalExecution(ctx context.Context, id, reason string) error
}
