package models

import (
	"time"
)

// WithdrawalStatus represents the possible states of a withdrawal request.
//
// SUBMITTED → UNDER_REVIEW → APPROVED → EXECUTING → EXECUTED | FAILED.
// REJECTED is reachable from SUBMITTED/UNDER_REVIEW only. FAILED is terminal
// and requires manual remediation; there is no automatic retry.
type WithdrawalStatus string

const (
	WithdrawalStatusSubmitted   WithdrawalStatus = "SUBMITTED"
	WithdrawalStatusUnderReview WithdrawalStatus = "UNDER_REVIEW"
	WithdrawalStatusApproved    WithdrawalStatus = "APPROVED"
	WithdrawalStatusExecuting   WithdrawalStatus = "EXECUTING"
	WithdrawalStatusExecuted    WithdrawalStatus = "EXECUTED"
	WithdrawalStatusRejected    WithdrawalStatus = "REJECTED"
	WithdrawalStatusFailed      WithdrawalStatus = "FAILED"
)

// PayeeRole identifies who receives the payout
type PayeeRole string

const (
	PayeeRoleOrganizer PayeeRole = "ORGANIZER"
	PayeeRoleVendor    PayeeRole = "VENDOR"
)

// DestinationKind identifies the payout rail
type DestinationKind string

const (
	DestinationKindCrypto DestinationKind = "CRYPTO"
	DestinationKindBank   DestinationKind = "BANK"
	DestinationKindUPI    DestinationKind = "UPI"
)

// WithdrawalRequest is a payout request against a campaign/milestone.
type WithdrawalRequest struct {
	ID          string  `json:"id"`
	CampaignID  string  `json:"campaign_id"`
	MilestoneID *string `json:"milestone_id,omitempty"`
	RequesterID string  `json:"requester_id"`

	PayeeRole PayeeRole `json:"payee_role"`
	VendorID  *string   `json:"vendor_id,omitempty"`

	// Amount is a decimal-unit integer stored as a string.
	Amount   string `json:"amount"`
	Currency string `json:"currency"`

	DestinationKind DestinationKind `json:"destination_kind"`
	Destination     string          `json:"destination"`

	// Crypto payout routing; empty for bank/UPI destinations.
	NetworkID    string    `json:"network_id,omitempty"`
	AssetType    AssetType `json:"asset_type,omitempty"`
	TokenAddress string    `json:"token_address,omitempty"`

	// EvidenceHash is the canonical hash of the proof bundle accompanying the
	// request, used for duplicate detection.
	EvidenceHash string   `json:"evidence_hash"`
	ProofRefs    []string `json:"proof_refs,omitempty"`

	Status WithdrawalStatus `json:"status"`

	// AnomalyScore is advisory; it never blocks a release by itself.
	AnomalyScore int `json:"anomaly_score"`

	ReviewedBy   *string `json:"reviewed_by,omitempty"`
	RejectReason string  `json:"reject_reason,omitempty"`

	// Execution result, populated on EXECUTED / FAILED.
	TxHash        string `json:"tx_hash,omitempty"`
	ExplorerURL   string `json:"explorer_url,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsTerminal reports whether the withdrawal can no longer change state.
func (w *WithdrawalRequest) IsTerminal() bool {
	switch w.Status {
	case WithdrawalStatusExecuted, WithdrawalStatusRejected, WithdrawalStatusFailed:
		return true
	}
	return false
}

// ToResponse converts a WithdrawalRequest to its reviewer-dashboard projection
func (w *WithdrawalRequest) ToResponse() *WithdrawalResponse {
	return &WithdrawalResponse{
		ID:           w.ID,
		CampaignID:   w.CampaignID,
		MilestoneID:  w.MilestoneID,
		PayeeRole:    string(w.PayeeRole),
		Amount:       w.Amount,
		Currency:     w.Currency,
		Status:       string(w.Status),
		AnomalyScore: w.AnomalyScore,
		RejectReason: w.RejectReason,
		TxHash:       w.TxHash,
		ExplorerURL:  w.ExplorerURL,
		CreatedAt:    w.CreatedAt,
		UpdatedAt:    w.UpdatedAt,
	}
}

// WithdrawalResponse is the reviewer-facing projection of a withdrawal request
type WithdrawalResponse struct {
	ID           string    `json:"id"`
	CampaignID   string    `json:"campaign_id"`
	MilestoneID  *string   `json:"milestone_id,omitempty"`
	PayeeRole    string    `json:"payee_role"`
	Amount       string    `json:"amount"`
	Currency     string    `json:"currency"`
	Status       string    `json:"status"`
	AnomalyScore int       `json:"anomaly_score"`
	RejectReason string    `json:"reject_reason,omitempty"`
	TxHash       string    `json:"tx_hash,omitempty"`
	ExplorerURL  string    `json:"explorer_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// VendorCredentialStatus represents a vendor's verification state
type VendorCredentialStatus string

const (
	VendorCredentialVerified VendorCredentialStatus = "VERIFIED"
	VendorCredentialPending  VendorCredentialStatus = "PENDING"
	VendorCredentialRevoked  VendorCredentialStatus = "REVOKED"
)

// Vendor is the allow-list entry consulted for VENDOR payouts.
type Vendor struct {
	ID               string                 `json:"id"`
	Name             string                 `json:"name"`
	Allowlisted      bool                   `json:"allowlisted"`
	CredentialStatus VendorCredentialStatus `json:"credential_status"`
	CreatedAt        time.Time              `json:"created_at"`
}
