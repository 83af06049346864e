package db

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/opencause/escrow/models"
	"github.com/opencause/escrow/utils"
)

// MockDB is an in-memory Database implementation for testing. It honors the
// same transition conditions and idempotency rules as the Postgres
// implementation so concurrency-sensitive tests exercise real semantics.
type MockDB struct {
	mu          sync.RWMutex
	intents     map[string]*models.PaymentIntent
	chainTxs    map[string]*models.ChainTransaction
	donations   map[string]*models.Donation
	receipts    map[string]*models.DonationReceipt
	campaigns   map[string]*models.Campaign
	milestones  map[string]*models.Milestone
	vendors     map[string]*models.Vendor
	withdrawals map[string]*models.WithdrawalRequest
	stats       map[string]*models.CampaignStats
}

// NewMockDB creates a new mock database instance
func NewMockDB() *MockDB {
	return &MockDB{
		intents:     make(map[string]*models.PaymentIntent),
		chainTxs:    make(map[string]*models.ChainTransaction),
		donations:   make(map[string]*models.Donation),
		receipts:    make(map[string]*models.DonationReceipt),
		campaigns:   make(map[string]*models.Campaign),
		milestones:  make(map[string]*models.Milestone),
		vendors:     make(map[string]*models.Vendor),
		withdrawals: make(map[string]*models.WithdrawalRequest),
		stats:       make(map[string]*models.CampaignStats),
	}
}

// Close implements the Database interface
func (m *MockDB) Close() error { return nil }

// Ping implements the Database interface
func (m *MockDB) Ping() error { return nil }

// InitDB implements the Database interface
func (m *MockDB) InitDB(ctx context.Context) error { return nil }

// SeedCampaign installs a campaign for tests
func (m *MockDB) SeedCampaign(campaign *models.Campaign) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaigns[campaign.ID] = campaign
}

// SeedMilestone installs a milestone for tests
func (m *MockDB) SeedMilestone(milestone *models.Milestone) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.milestones[milestone.ID] = milestone
}

// SeedVendor installs a vendor for tests
func (m *MockDB) SeedVendor(vendor *models.Vendor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vendors[vendor.ID] = vendor
}

// SeedWithdrawal installs a withdrawal request for tests
func (m *MockDB) SeedWithdrawal(withdrawal *models.WithdrawalRequest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.withdrawals[withdrawal.ID] = withdrawal
}

// CreatePaymentIntent implements the Database interface
func (m *MockDB) CreatePaymentIntent(ctx context.Context, intent *models.PaymentIntent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.intents[intent.ID]; exists {
		return ErrAlreadyExists
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = time.Now()
	}
	intent.UpdatedAt = intent.CreatedAt
	m.intents[intent.ID] = intent
	return nil
}

// GetPaymentIntent implements the Database interface
func (m *MockDB) GetPaymentIntent(ctx context.Context, id string) (*models.PaymentIntent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	intent, exists := m.intents[id]
	if !exists {
		return nil, ErrNotFound
	}
	return intent, nil
}

// ListWatchableIntents implements the Database interface
func (m *MockDB) ListWatchableIntents(ctx context.Context, limit int) ([]*models.PaymentIntent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var intents []*models.PaymentIntent
	for _, intent := range m.intents {
		if intent.IsTerminal() {
			continue
		}
		intents = append(intents, intent)
		if len(intents) >= limit {
			break
		}
	}
	return intents, nil
}

// UpdateIntentStatus implements the Database interface
func (m *MockDB) UpdateIntentStatus(ctx context.Context, id string, status models.PaymentIntentStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent, exists := m.intents[id]
	if !exists {
		return ErrNotFound
	}
	intent.Status = status
	intent.UpdatedAt = time.Now()
	return nil
}

// ExpireIntent implements the Database interface
func (m *MockDB) ExpireIntent(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent, exists := m.intents[id]
	if !exists {
		return nil
	}
	if !intent.IsTerminal() {
		intent.Status = models.IntentStatusExpired
		intent.UpdatedAt = time.Now()
	}
	return nil
}

// AdvanceScanCursor implements the Database interface with the same
// monotonic-max merge as the Postgres implementation.
func (m *MockDB) AdvanceScanCursor(ctx context.Context, intentID, networkID string, block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent, exists := m.intents[intentID]
	if !exists {
		return ErrNotFound
	}
	if intent.ScanCursors == nil {
		intent.ScanCursors = make(map[string]uint64)
	}
	if block > intent.ScanCursors[networkID] {
		intent.ScanCursors[networkID] = block
	}
	intent.UpdatedAt = time.Now()
	return nil
}

// CommitDetection implements the Database interface
func (m *MockDB) CommitDetection(ctx context.Context, commit DetectionCommit) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent := commit.Intent
	chainTxID := models.ChainTransactionID(commit.NetworkID, commit.TxHash)
	donationID := utils.DonationID(commit.NetworkID, commit.TxHash, intent.DepositAddress, commit.TokenAddress)

	if _, exists := m.chainTxs[chainTxID]; exists {
		return false, nil
	}
	if _, exists := m.donations[donationID]; exists {
		return false, nil
	}

	now := time.Now()
	m.chainTxs[chainTxID] = &models.ChainTransaction{
		ID:           chainTxID,
		NetworkID:    commit.NetworkID,
		TxHash:       commit.TxHash,
		ToAddress:    intent.DepositAddress,
		FromAddress:  commit.FromAddress,
		AmountRaw:    commit.AmountRaw,
		AmountNative: commit.AmountNative,
		AssetType:    commit.AssetType,
		TokenAddress: commit.TokenAddress,
		BlockNumber:  commit.BlockNumber,
		Status:       models.ChainTxStatusSeen,
		IntentID:     intent.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	anonymous := intent.DonorID == nil
	publicTxHash := commit.TxHash
	if anonymous {
		publicTxHash = ""
	}

	receiptID := utils.GenerateID()
	m.donations[donationID] = &models.Donation{
		ID:            donationID,
		CampaignID:    intent.CampaignID,
		DonorID:       intent.DonorID,
		ReceiptID:     receiptID,
		NetworkID:     commit.NetworkID,
		TxHash:        publicTxHash,
		AmountRaw:     commit.AmountRaw,
		AmountNative:  commit.AmountNative,
		AssetType:     commit.AssetType,
		TokenAddress:  commit.TokenAddress,
		PricingReview: commit.PricingReview,
		Anonymous:     anonymous,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.receipts[receiptID] = &models.DonationReceipt{
		ID:          receiptID,
		DonationID:  donationID,
		IntentID:    intent.ID,
		DonorID:     intent.DonorID,
		NetworkID:   commit.NetworkID,
		TxHash:      commit.TxHash,
		FromAddress: commit.FromAddress,
		AmountRaw:   commit.AmountRaw,
		CreatedAt:   now,
	}

	if stored, exists := m.intents[intent.ID]; exists {
		stored.Status = models.IntentStatusConfirming
		stored.DetectedNetworkID = commit.NetworkID
		stored.DetectedTxHash = commit.TxHash
		stored.DetectedAmountRaw = commit.AmountRaw
		stored.DetectedAsset = commit.AssetType
		stored.AssetMismatch = commit.AssetMismatch
		stored.UpdatedAt = now
	}
	return true, nil
}

// GetChainTransaction implements the Database interface
func (m *MockDB) GetChainTransaction(ctx context.Context, id string) (*models.ChainTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chainTx, exists := m.chainTxs[id]
	if !exists {
		return nil, ErrNotFound
	}
	return chainTx, nil
}

// ListConfirmingTransactions implements the Database interface
func (m *MockDB) ListConfirmingTransactions(ctx context.Context, limit int) ([]*models.ChainTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var txs []*models.ChainTransaction
	for _, chainTx := range m.chainTxs {
		if chainTx.Status == models.ChainTxStatusConfirmed {
			continue
		}
		txs = append(txs, chainTx)
		if len(txs) >= limit {
			break
		}
	}
	return txs, nil
}

// UpdateTransactionConfirmations implements the Database interface
func (m *MockDB) UpdateTransactionConfirmations(ctx context.Context, id string, confirmations uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	chainTx, exists := m.chainTxs[id]
	if !exists {
		return ErrNotFound
	}
	if confirmations > chainTx.Confirmations {
		chainTx.Confirmations = confirmations
	}
	if chainTx.Status == models.ChainTxStatusSeen {
		chainTx.Status = models.ChainTxStatusConfirming
	}
	chainTx.UpdatedAt = time.Now()
	return nil
}

// FinalizeChainTransaction implements the Database interface
func (m *MockDB) FinalizeChainTransaction(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	chainTx, exists := m.chainTxs[id]
	if !exists {
		return ErrNotFound
	}
	chainTx.Status = models.ChainTxStatusConfirmed
	chainTx.UpdatedAt = time.Now()

	for _, receipt := range m.receipts {
		if receipt.IntentID != chainTx.IntentID {
			continue
		}
		if donation, ok := m.donations[receipt.DonationID]; ok {
			donation.Verified = true
			donation.UpdatedAt = time.Now()
		}
	}
	if intent, ok := m.intents[chainTx.IntentID]; ok && intent.Status == models.IntentStatusConfirming {
		intent.Status = models.IntentStatusConfirmed
		intent.UpdatedAt = time.Now()
	}
	return nil
}

// GetDonation implements the Database interface
func (m *MockDB) GetDonation(ctx context.Context, id string) (*models.Donation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	donation, exists := m.donations[id]
	if !exists {
		return nil, ErrNotFound
	}
	return donation, nil
}

// ListDonationsByCampaign implements the Database interface
func (m *MockDB) ListDonationsByCampaign(ctx context.Context, campaignID string, page, pageSize int) ([]*models.Donation, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var donations []*models.Donation
	for _, donation := range m.donations {
		if donation.CampaignID == campaignID {
			donations = append(donations, donation)
		}
	}
	return donations, len(donations), nil
}

// GetCampaign implements the Database interface
func (m *MockDB) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	campaign, exists := m.campaigns[id]
	if !exists {
		return nil, ErrNotFound
	}
	return campaign, nil
}

// GetMilestone implements the Database interface
func (m *MockDB) GetMilestone(ctx context.Context, id string) (*models.Milestone, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	milestone, exists := m.milestones[id]
	if !exists {
		return nil, ErrNotFound
	}
	return milestone, nil
}

// GetCampaignStats implements the Database interface
func (m *MockDB) GetCampaignStats(ctx context.Context, campaignID string) (*models.CampaignStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats, exists := m.stats[campaignID]
	if !exists {
		return nil, ErrNotFound
	}
	return stats, nil
}

// RecomputeCampaignStats implements the Database interface
func (m *MockDB) RecomputeCampaignStats(ctx context.Context, campaignID string) (*models.CampaignStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &models.CampaignStats{CampaignID: campaignID, UpdatedAt: time.Now()}
	for _, donation := range m.donations {
		if donation.CampaignID != campaignID || !donation.Verified {
			continue
		}
		stats.DonationCount++
		if donation.FiatValue == "" {
			stats.UnpricedDonations++
		}
	}
	m.stats[campaignID] = stats
	return stats, nil
}

// ListActiveCampaignIDs implements the Database interface
func (m *MockDB) ListActiveCampaignIDs(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var ids []string
	for _, donation := range m.donations {
		if donation.Verified && !seen[donation.CampaignID] {
			seen[donation.CampaignID] = true
			ids = append(ids, donation.CampaignID)
		}
	}
	for _, withdrawal := range m.withdrawals {
		if withdrawal.Status == models.WithdrawalStatusExecuted && !seen[withdrawal.CampaignID] {
			seen[withdrawal.CampaignID] = true
			ids = append(ids, withdrawal.CampaignID)
		}
	}
	return ids, nil
}

// GetVendor implements the Database interface
func (m *MockDB) GetVendor(ctx context.Context, id string) (*models.Vendor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	vendor, exists := m.vendors[id]
	if !exists {
		return nil, ErrNotFound
	}
	return vendor, nil
}

// CreateWithdrawalRequest implements the Database interface
func (m *MockDB) CreateWithdrawalRequest(ctx context.Context, withdrawal *models.WithdrawalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.withdrawals[withdrawal.ID]; exists {
		return ErrAlreadyExists
	}
	if withdrawal.CreatedAt.IsZero() {
		withdrawal.CreatedAt = time.Now()
	}
	withdrawal.UpdatedAt = withdrawal.CreatedAt
	m.withdrawals[withdrawal.ID] = withdrawal
	return nil
}

// GetWithdrawalRequest implements the Database interface
func (m *MockDB) GetWithdrawalRequest(ctx context.Context, id string) (*models.WithdrawalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	withdrawal, exists := m.withdrawals[id]
	if !exists {
		return nil, ErrNotFound
	}
	return withdrawal, nil
}

// ListWithdrawalsByCampaign implements the Database interface
func (m *MockDB) ListWithdrawalsByCampaign(ctx context.Context, campaignID string) ([]*models.WithdrawalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var withdrawals []*models.WithdrawalRequest
	for _, withdrawal := range m.withdrawals {
		if withdrawal.CampaignID == campaignID {
			withdrawals = append(withdrawals, withdrawal)
		}
	}
	return withdrawals, nil
}

// ListExecutedWithdrawals implements the Database interface
func (m *MockDB) ListExecutedWithdrawals(ctx context.Context, campaignID string) ([]*models.WithdrawalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var withdrawals []*models.WithdrawalRequest
	for _, withdrawal := range m.withdrawals {
		if withdrawal.CampaignID == campaignID && withdrawal.Status == models.WithdrawalStatusExecuted {
			withdrawals = append(withdrawals, withdrawal)
		}
	}
	return withdrawals, nil
}

// EvidenceHashExists implements the Database interface
func (m *MockDB) EvidenceHashExists(ctx context.Context, campaignID, evidenceHash, excludeRequestID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, withdrawal := range m.withdrawals {
		if withdrawal.CampaignID == campaignID &&
			withdrawal.EvidenceHash == evidenceHash &&
			withdrawal.ID != excludeRequestID &&
			withdrawal.Status != models.WithdrawalStatusRejected {
			return true, nil
		}
	}
	return false, nil
}

// TransitionWithdrawal implements the Database interface
func (m *MockDB) TransitionWithdrawal(ctx context.Context, id string, from, to models.WithdrawalStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(id, from, to)
}

func (m *MockDB) transitionLocked(id string, from, to models.WithdrawalStatus) error {
	withdrawal, exists := m.withdrawals[id]
	if !exists {
		return ErrNotFound
	}
	if withdrawal.Status != from {
		return ErrConflict
	}
	withdrawal.Status = to
	withdrawal.UpdatedAt = time.Now()
	return nil
}

// ReviewWithdrawal implements the Database interface
func (m *MockDB) ReviewWithdrawal(ctx context.Context, id, reviewer string, approved bool, reason string, anomalyScore int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	withdrawal, exists := m.withdrawals[id]
	if !exists {
		return ErrNotFound
	}
	if withdrawal.Status != models.WithdrawalStatusSubmitted && withdrawal.Status != models.WithdrawalStatusUnderReview {
		return ErrConflict
	}
	if approved {
		withdrawal.Status = models.WithdrawalStatusApproved
	} else {
		withdrawal.Status = models.WithdrawalStatusRejected
	}
	withdrawal.ReviewedBy = &reviewer
	withdrawal.RejectReason = reason
	withdrawal.AnomalyScore = anomalyScore
	withdrawal.UpdatedAt = time.Now()
	return nil
}

// ClaimWithdrawalExecution implements the Database interface
func (m *MockDB) ClaimWithdrawalExecution(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(id, models.WithdrawalStatusApproved, models.WithdrawalStatusExecuting)
}

// CompleteWithdrawalExecution implements the Database interface
func (m *MockDB) CompleteWithdrawalExecution(ctx context.Context, id string, milestoneID *string, amount, txHash, explorerURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	withdrawal, exists := m.withdrawals[id]
	if !exists {
		return ErrNotFound
	}
	if withdrawal.Status != models.WithdrawalStatusExecuting {
		return ErrConflict
	}

	if milestoneID != nil {
		milestone, ok := m.milestones[*milestoneID]
		if !ok {
			return ErrNotFound
		}
		released, okR := new(big.Int).SetString(milestone.ReleasedAmount, 10)
		capAmount, okC := new(big.Int).SetString(milestone.CapAmount, 10)
		delta, okD := new(big.Int).SetString(amount, 10)
		if !okR || !okC || !okD {
			return ErrConflict
		}
		next := new(big.Int).Add(released, delta)
		if next.Cmp(capAmount) > 0 {
			return ErrCapExceeded
		}
		milestone.ReleasedAmount = next.String()
		now := time.Now()
		milestone.LastReleaseAt = &now
		milestone.UpdatedAt = now
	}

	withdrawal.Status = models.WithdrawalStatusExecuted
	withdrawal.TxHash = txHash
	withdrawal.ExplorerURL = explorerURL
	withdrawal.UpdatedAt = time.Now()
	return nil
}

// FailWithdrawalExecution implements the Database interface
func (m *MockDB) FailWithdrawalExecution(ctx context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	withdrawal, exists := m.withdrawals[id]
	if !exists {
		return ErrNotFound
	}
	if withdrawal.Status != models.WithdrawalStatusExecuting {
		return ErrConflict
	}
	withdrawal.Status = models.WithdrawalStatusFailed
	withdrawal.FailureReason = reason
	withdrawal.UpdatedAt = time.Now()
	return nil
}
