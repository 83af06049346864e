package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencause/escrow/config"
	"github.com/opencause/escrow/db"
	"github.com/opencause/escrow/models"
	"github.com/opencause/escrow/scanners"
)

// fakeScanner returns a canned result and records the cursors it was asked to
// scan from.
type fakeScanner struct {
	networkID string
	result    scanners.Result
	tip       uint64
	tipErr    error

	mu      sync.Mutex
	cursors []uint64
}

func (f *fakeScanner) NetworkID() string { return f.networkID }

func (f *fakeScanner) Scan(ctx context.Context, target scanners.Target, cursor uint64) scanners.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cursors = append(f.cursors, cursor)
	return f.result
}

func (f *fakeScanner) TipHeight(ctx context.Context) (uint64, error) {
	return f.tip, f.tipErr
}

func (f *fakeScanner) scanCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cursors)
}

func watcherConfig() *config.Config {
	return &config.Config{
		TickInterval:    time.Second,
		IntentBatchSize: 50,
		ScanConcurrency: 4,
		NativeFallback:  config.NativeFallbackAccept,
		Networks: map[string]*config.NetworkConfig{
			"ethereum": {
				ID:                    "ethereum",
				Type:                  config.NetworkTypeEVM,
				ExplorerURL:           "https://etherscan.io",
				RequiredConfirmations: 2,
				ScanWindow:            40,
				NativeDecimals:        18,
			},
		},
	}
}

func seedIntent(t *testing.T, mockDB *db.MockDB, intent *models.PaymentIntent) {
	t.Helper()
	require.NoError(t, mockDB.CreatePaymentIntent(context.Background(), intent))
}

func newTestIntent() *models.PaymentIntent {
	return &models.PaymentIntent{
		ID:                "intent-1",
		CampaignID:        "campaign-1",
		DepositAddress:    "0x1234567890abcdef1234567890abcdef12345678",
		ExpectedAmountRaw: "1000000000000000000",
		Networks:          []string{"ethereum"},
		StartBlocks:       map[string]uint64{"ethereum": 100},
		ScanCursors:       map[string]uint64{},
		Status:            models.IntentStatusCreated,
		ExpiresAt:         time.Now().Add(time.Hour),
	}
}

func TestTickCommitsDetection(t *testing.T) {
	mockDB := db.NewMockDB()
	intent := newTestIntent()
	seedIntent(t, mockDB, intent)

	scanner := &fakeScanner{
		networkID: "ethereum",
		result: scanners.Result{
			Outcome: scanners.OutcomeMatch,
			Match: &scanners.Match{
				TxHash:      "0xdead",
				FromAddress: "0xfeed",
				AmountRaw:   "1000000000000000000",
				AssetType:   models.AssetTypeNative,
				BlockNumber: 105,
			},
			NextCursor: 140,
		},
	}

	watcher := NewIntentWatcher(mockDB, map[string]scanners.Scanner{"ethereum": scanner}, watcherConfig(), nil, zerolog.Nop())
	watcher.Tick(context.Background())

	stored, err := mockDB.GetPaymentIntent(context.Background(), "intent-1")
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusConfirming, stored.Status)
	assert.Equal(t, "ethereum", stored.DetectedNetworkID)
	assert.Equal(t, "0xdead", stored.DetectedTxHash)
	assert.Equal(t, models.AssetTypeNative, stored.DetectedAsset)
	assert.False(t, stored.AssetMismatch)
	assert.Equal(t, uint64(140), stored.ScanCursors["ethereum"])

	donations, total, err := mockDB.ListDonationsByCampaign(context.Background(), "campaign-1", 1, 20)
	require.NoError(t, err)
	require.Equal(t, 1, total)
	assert.Equal(t, "1", donations[0].AmountNative)
	assert.False(t, donations[0].Verified)

	// Anonymous intent: the public ledger entry is masked.
	assert.True(t, donations[0].Anonymous)
	assert.Empty(t, donations[0].TxHash)
}

func TestTickExpiresOverdueIntent(t *testing.T) {
	mockDB := db.NewMockDB()
	intent := newTestIntent()
	intent.ExpiresAt = time.Now().Add(-time.Minute)
	seedIntent(t, mockDB, intent)

	scanner := &fakeScanner{networkID: "ethereum"}
	watcher := NewIntentWatcher(mockDB, map[string]scanners.Scanner{"ethereum": scanner}, watcherConfig(), nil, zerolog.Nop())
	watcher.Tick(context.Background())

	stored, err := mockDB.GetPaymentIntent(context.Background(), "intent-1")
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusExpired, stored.Status)
	assert.Zero(t, scanner.scanCount())
}

func TestTickSkipsConfirmingIntent(t *testing.T) {
	mockDB := db.NewMockDB()
	intent := newTestIntent()
	intent.Status = models.IntentStatusConfirming
	seedIntent(t, mockDB, intent)

	scanner := &fakeScanner{networkID: "ethereum"}
	watcher := NewIntentWatcher(mockDB, map[string]scanners.Scanner{"ethereum": scanner}, watcherConfig(), nil, zerolog.Nop())
	watcher.Tick(context.Background())

	assert.Zero(t, scanner.scanCount())
}

func TestTickAdvancesCursorOnUnreachable(t *testing.T) {
	mockDB := db.NewMockDB()
	seedIntent(t, mockDB, newTestIntent())

	scanner := &fakeScanner{
		networkID: "ethereum",
		result:    scanners.Result{Outcome: scanners.OutcomeUnreachable, NextCursor: 140},
	}
	watcher := NewIntentWatcher(mockDB, map[string]scanners.Scanner{"ethereum": scanner}, watcherConfig(), nil, zerolog.Nop())
	watcher.Tick(context.Background())

	stored, err := mockDB.GetPaymentIntent(context.Background(), "intent-1")
	require.NoError(t, err)
	assert.Equal(t, models.IntentStatusDetecting, stored.Status)
	assert.Equal(t, uint64(140), stored.ScanCursors["ethereum"])

	// The next pass resumes from the advanced cursor, never behind it.
	watcher.Tick(context.Background())
	assert.Equal(t, []uint64{100, 140}, scanner.cursors)
}

func TestTickStartsScanningFromStartBlock(t *testing.T) {
	mockDB := db.NewMockDB()
	seedIntent(t, mockDB, newTestIntent())

	scanner := &fakeScanner{
		networkID: "ethereum",
		result:    scanners.Result{Outcome: scanners.OutcomeNoMatch, NextCursor: 100},
	}
	watcher := NewIntentWatcher(mockDB, map[string]scanners.Scanner{"ethereum": scanner}, watcherConfig(), nil, zerolog.Nop())
	watcher.Tick(context.Background())

	require.Equal(t, 1, scanner.scanCount())
	assert.Equal(t, uint64(100), scanner.cursors[0])
}

func TestTickFlagsNativeFallbackForPricingReview(t *testing.T) {
	mockDB := db.NewMockDB()
	intent := newTestIntent()
	intent.ExpectedTokenAddress = "0x9999999999999999999999999999999999999999"
	intent.TokenDecimals = 6
	seedIntent(t, mockDB, intent)

	scanner := &fakeScanner{
		networkID: "ethereum",
		result: scanners.Result{
			Outcome: scanners.OutcomeMatch,
			Match: &scanners.Match{
				TxHash:      "0xbeef",
				AmountRaw:   "1000000000000000000",
				AssetType:   models.AssetTypeNative,
				BlockNumber: 110,
			},
			NextCursor: 140,
		},
	}

	cfg := watcherConfig()
	cfg.NativeFallback = config.NativeFallbackFlag

	watcher := NewIntentWatcher(mockDB, map[string]scanners.Scanner{"ethereum": scanner}, cfg, nil, zerolog.Nop())
	watcher.Tick(context.Background())

	stored, err := mockDB.GetPaymentIntent(context.Background(), "intent-1")
	require.NoError(t, err)
	assert.True(t, stored.AssetMismatch)

	donations, _, err := mockDB.ListDonationsByCampaign(context.Background(), "campaign-1", 1, 20)
	require.NoError(t, err)
	require.Len(t, donations, 1)
	assert.True(t, donations[0].PricingReview)

	// Native decimals apply to the fallback amount, not the token's.
	assert.Equal(t, "1", donations[0].AmountNative)
}

func TestTickAcceptPolicyDoesNotFlagPricingReview(t *testing.T) {
	mockDB := db.NewMockDB()
	intent := newTestIntent()
	intent.ExpectedTokenAddress = "0x9999999999999999999999999999999999999999"
	seedIntent(t, mockDB, intent)

	scanner := &fakeScanner{
		networkID: "ethereum",
		result: scanners.Result{
			Outcome: scanners.OutcomeMatch,
			Match: &scanners.Match{
				TxHash:      "0xbeef",
				AmountRaw:   "1000000000000000000",
				AssetType:   models.AssetTypeNative,
				BlockNumber: 110,
			},
			NextCursor: 140,
		},
	}

	watcher := NewIntentWatcher(mockDB, map[string]scanners.Scanner{"ethereum": scanner}, watcherConfig(), nil, zerolog.Nop())
	watcher.Tick(context.Background())

	donations, _, err := mockDB.ListDonationsByCampaign(context.Background(), "campaign-1", 1, 20)
	require.NoError(t, err)
	require.Len(t, donations, 1)
	assert.False(t, donations[0].PricingReview)

	stored, err := mockDB.GetPaymentIntent(context.Background(), "intent-1")
	require.NoError(t, err)
	assert.True(t, stored.AssetMismatch)
}

func TestTickSkipsNetworksWithoutScanner(t *testing.T) {
	mockDB := db.NewMockDB()
	intent := newTestIntent()
	intent.Networks = []string{"polygon", "ethereum"}
	intent.StartBlocks["polygon"] = 50
	seedIntent(t, mockDB, intent)

	scanner := &fakeScanner{
		networkID: "ethereum",
		result:    scanners.Result{Outcome: scanners.OutcomeNoMatch, NextCursor: 140},
	}
	watcher := NewIntentWatcher(mockDB, map[string]scanners.Scanner{"ethereum": scanner}, watcherConfig(), nil, zerolog.Nop())
	watcher.Tick(context.Background())

	// The ethereum scan still ran despite polygon having no scanner.
	assert.Equal(t, 1, scanner.scanCount())
}

func TestWatcherStartStop(t *testing.T) {
	mockDB := db.NewMockDB()
	cfg := watcherConfig()
	cfg.TickInterval = 10 * time.Millisecond

	scanner := &fakeScanner{
		networkID: "ethereum",
		result:    scanners.Result{Outcome: scanners.OutcomeNoMatch, NextCursor: 100},
	}
	seedIntent(t, mockDB, newTestIntent())

	watcher := NewIntentWatcher(mockDB, map[string]scanners.Scanner{"ethereum": scanner}, cfg, nil, zerolog.Nop())
	watcher.Start(context.Background())

	assert.Eventually(t, func() bool {
		return scanner.scanCount() > 0
	}, time.Second, 5*time.Millisecond)

	watcher.Stop()
}
