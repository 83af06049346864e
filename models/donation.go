package models

import (
	"time"
)

// Donation is the ledger-visible result of a confirmed transfer.
//
// The ID is a pure function of on-chain facts (network, tx hash, destination,
// token), so independent detection passes converge on the same record.
type Donation struct {
	ID         string  `json:"id"`
	CampaignID string  `json:"campaign_id"`
	DonorID    *string `json:"donor_id,omitempty"` // nil for anonymous

	// ReceiptID references the donor-private receipt record.
	ReceiptID string `json:"receipt_id"`

	NetworkID string `json:"network_id"`

	// TxHash is masked (empty) in the public record for anonymous donors;
	// the full reference lives on the private receipt.
	TxHash string `json:"tx_hash,omitempty"`

	AmountRaw    string    `json:"amount_raw"`
	AmountNative string    `json:"amount_native"`
	AssetType    AssetType `json:"asset_type"`
	TokenAddress string    `json:"token_address,omitempty"`

	// FiatValue is amended later by the pricing step; empty until then.
	FiatValue string `json:"fiat_value,omitempty"`

	// Verified flips when the underlying chain transaction reaches finality.
	Verified bool `json:"verified"`

	// PricingReview marks a native-asset fallback detection held for manual
	// revaluation (NATIVE_FALLBACK_POLICY=flag).
	PricingReview bool `json:"pricing_review"`

	Anonymous bool `json:"anonymous"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DonationReceipt is the donor-private side of a donation. It always carries
// the full transaction reference, including for anonymous donors.
type DonationReceipt struct {
	ID          string  `json:"id"`
	DonationID  string  `json:"donation_id"`
	IntentID    string  `json:"intent_id"`
	DonorID     *string `json:"donor_id,omitempty"`
	NetworkID   string  `json:"network_id"`
	TxHash      string  `json:"tx_hash"`
	FromAddress string  `json:"from_address,omitempty"`
	AmountRaw   string  `json:"amount_raw"`

	CreatedAt time.Time `json:"created_at"`
}

// ToResponse converts a Donation to its public ledger projection
func (d *Donation) ToResponse() *DonationResponse {
	return &DonationResponse{
		ID:           d.ID,
		CampaignID:   d.CampaignID,
		NetworkID:    d.NetworkID,
		TxHash:       d.TxHash,
		AmountNative: d.AmountNative,
		AssetType:    string(d.AssetType),
		FiatValue:    d.FiatValue,
		Verified:     d.Verified,
		Anonymous:    d.Anonymous,
		CreatedAt:    d.CreatedAt,
	}
}

// DonationResponse is the public ledger projection of a donation
type DonationResponse struct {
	ID           string    `json:"id"`
	CampaignID   string    `json:"campaign_id"`
	NetworkID    string    `json:"network_id"`
	TxHash       string    `json:"tx_hash,omitempty"`
	AmountNative string    `json:"amount_native"`
	AssetType    string    `json:"asset_type"`
	FiatValue    string    `json:"fiat_value,omitempty"`
	Verified     bool      `json:"verified"`
	Anonymous    bool      `json:"anonymous"`
	CreatedAt    time.Time `json:"created_at"`
}
