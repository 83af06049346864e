package models

import (
	"time"
)

// PaymentIntentStatus represents the possible states of a payment intent.
// Note: transitions are one-directional except for expiry, which is reachable
// from any non-terminal state. A terminal intent is never deleted; it is the
// audit anchor for a donation.
type PaymentIntentStatus string

const (
	// IntentStatusCreated indicates the intent has been issued but scanning has not started
	IntentStatusCreated PaymentIntentStatus = "CREATED"

	// IntentStatusDetecting indicates the watcher is actively scanning for the deposit
	IntentStatusDetecting PaymentIntentStatus = "DETECTING"

	// IntentStatusConfirming indicates a matching transfer was detected and is gathering confirmations
	IntentStatusConfirming PaymentIntentStatus = "CONFIRMING"

	// IntentStatusConfirmed indicates the deposit reached the network's finality threshold
	IntentStatusConfirmed PaymentIntentStatus = "CONFIRMED"

	// IntentStatusExpired indicates the intent passed its deadline without a detection
	IntentStatusExpired PaymentIntentStatus = "EXPIRED"
)

// PaymentIntent represents an expected donation on one or more networks.
//
// The same deposit address may be payable on several networks when the donor
// UI offers multiple chains; each network carries its own scan cursor.
type PaymentIntent struct {
	ID             string  `json:"id"`
	CampaignID     string  `json:"campaign_id"`
	DonorID        *string `json:"donor_id,omitempty"` // nil for anonymous donors
	DepositAddress string  `json:"deposit_address"`

	// ExpectedAmountRaw is an integer in the asset's smallest unit. Immutable once created.
	ExpectedAmountRaw string `json:"expected_amount_raw"`

	// ExpectedTokenAddress is empty when the native asset is expected.
	ExpectedTokenAddress string `json:"expected_token_address,omitempty"`
	TokenDecimals        int    `json:"token_decimals"`

	// Networks the intent is payable on, in scan priority order.
	Networks []string `json:"networks"`

	// ScanCursors maps network ID to the last scanned block. Values are
	// monotonically non-decreasing per network.
	ScanCursors map[string]uint64 `json:"scan_cursors"`

	// StartBlocks maps network ID to the block scanning began at.
	StartBlocks map[string]uint64 `json:"start_blocks"`

	Status    PaymentIntentStatus `json:"status"`
	ExpiresAt time.Time           `json:"expires_at"`

	// Detected fields, populated once a match is committed.
	DetectedNetworkID string    `json:"detected_network_id,omitempty"`
	DetectedTxHash    string    `json:"detected_tx_hash,omitempty"`
	DetectedAmountRaw string    `json:"detected_amount_raw,omitempty"`
	DetectedAsset     AssetType `json:"detected_asset,omitempty"`

	// AssetMismatch is set when the donor sent the native asset while a token
	// was expected (mismatched-but-valid detection).
	AssetMismatch bool `json:"asset_mismatch"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsTerminal reports whether the intent can no longer change state.
func (i *PaymentIntent) IsTerminal() bool {
	return i.Status == IntentStatusConfirmed || i.Status == IntentStatusExpired
}

// IsExpired reports whether the intent is past its deadline.
func (i *PaymentIntent) IsExpired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// CursorFor returns the scan cursor for a network, falling back to the
// network's start block when no scan has happened yet.
func (i *PaymentIntent) CursorFor(networkID string) uint64 {
	if cursor, ok := i.ScanCursors[networkID]; ok {
		return cursor
	}
	return i.StartBlocks[networkID]
}

// Scannable reports whether the intent carries the static fields needed to
// scan. A false result indicates a legacy/malformed intent, not a retryable
// error.
func (i *PaymentIntent) Scannable() bool {
	return i.ExpectedAmountRaw != "" && i.DepositAddress != "" && len(i.Networks) > 0
}

// ToResponse converts a PaymentIntent to its read-only projection
func (i *PaymentIntent) ToResponse() *PaymentIntentResponse {
	return &PaymentIntentResponse{
		ID:                i.ID,
		CampaignID:        i.CampaignID,
		DepositAddress:    i.DepositAddress,
		ExpectedAmountRaw: i.ExpectedAmountRaw,
		Status:            string(i.Status),
		ExpiresAt:         i.ExpiresAt,
		DetectedNetworkID: i.DetectedNetworkID,
		DetectedTxHash:    i.DetectedTxHash,
		CreatedAt:         i.CreatedAt,
		UpdatedAt:         i.UpdatedAt,
	}
}

// PaymentIntentResponse is the projection surfaced for UI polling.
// The donor reference is deliberately omitted.
type PaymentIntentResponse struct {
	ID                string    `json:"id"`
	CampaignID        string    `json:"campaign_id"`
	DepositAddress    string    `json:"deposit_address"`
	ExpectedAmountRaw string    `json:"expected_amount_raw"`
	Status            string    `json:"status"`
	ExpiresAt         time.Time `json:"expires_at"`
	DetectedNetworkID string    `json:"detected_network_id,omitempty"`
	DetectedTxHash    string    `json:"detected_tx_hash,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
