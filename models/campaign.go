package models

import (
	"time"
)

// CampaignStatus represents the possible states of a campaign
type CampaignStatus string

const (
	CampaignStatusActive    CampaignStatus = "ACTIVE"
	CampaignStatusPaused    CampaignStatus = "PAUSED"
	CampaignStatusCompleted CampaignStatus = "COMPLETED"
	CampaignStatusSuspended CampaignStatus = "SUSPENDED"
)

// Campaign is the minimal campaign projection this core needs. Campaign CRUD
// lives in the surrounding system; only status and identity matter here.
type Campaign struct {
	ID          string         `json:"id"`
	OrganizerID string         `json:"organizer_id"`
	Title       string         `json:"title"`
	Status      CampaignStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// MilestoneStatus represents the possible states of a milestone
type MilestoneStatus string

const (
	MilestoneStatusPending   MilestoneStatus = "PENDING"
	MilestoneStatusOpen      MilestoneStatus = "OPEN"
	MilestoneStatusInReview  MilestoneStatus = "IN_REVIEW"
	MilestoneStatusCompleted MilestoneStatus = "COMPLETED"
	MilestoneStatusClosed    MilestoneStatus = "CLOSED"
)

// Milestone is a capped funding tranche.
//
// Invariant: ReleasedAmount <= CapAmount at all times. ReleasedAmount only
// increases, and only as a side effect of a successfully executed withdrawal.
type Milestone struct {
	ID         string `json:"id"`
	CampaignID string `json:"campaign_id"`
	Title      string `json:"title"`

	// CapAmount and ReleasedAmount are decimal-unit integers stored as
	// strings and compared with arbitrary precision, never floating point.
	CapAmount      string `json:"cap_amount"`
	ReleasedAmount string `json:"released_amount"`

	Status MilestoneStatus `json:"status"`

	CoolingOffHours   int `json:"cooling_off_hours"`
	ReviewWindowHours int `json:"review_window_hours"`

	OpenedAt      *time.Time `json:"opened_at,omitempty"`
	LastReleaseAt *time.Time `json:"last_release_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CampaignStats is the reconciled aggregate of confirmed ledger entries for a
// campaign. It is a projection recomputed by the stats reconciler, never
// written by request handlers.
type CampaignStats struct {
	CampaignID    string `json:"campaign_id"`
	DonationCount int    `json:"donation_count"`

	// TotalRaisedFiat sums priced, confirmed donations.
	TotalRaisedFiat string `json:"total_raised_fiat"`

	// TotalReleasedFiat sums executed withdrawals.
	TotalReleasedFiat string `json:"total_released_fiat"`

	// UnpricedDonations counts confirmed donations awaiting fiat valuation.
	UnpricedDonations int `json:"unpriced_donations"`

	UpdatedAt time.Time `json:"updated_at"`
}
