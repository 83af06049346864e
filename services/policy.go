package services

import (
	"fmt"
	"math/big"
	"time"

	"github.com/opencause/escrow/models"
)

// Anomaly score thresholds. Advisory only: the score informs reviewers, it
// never blocks a release by itself.
const (
	// AnomalyPauseThreshold flags a request for mandatory human override
	AnomalyPauseThreshold = 70

	// AnomalyWarnThreshold surfaces a soft warning to reviewers
	AnomalyWarnThreshold = 50
)

// PolicyContext carries everything release evaluation needs, as plain
// structs. The caller loads state; evaluation never touches persistence.
type PolicyContext struct {
	Campaign  *models.Campaign
	Milestone *models.Milestone

	// Vendor is nil for organizer payouts.
	Vendor *models.Vendor

	Request *models.WithdrawalRequest

	// DuplicateEvidence is true when the request's evidence hash already
	// appears on another non-rejected request in the campaign.
	DuplicateEvidence bool

	// History holds the campaign's executed withdrawals, oldest first.
	History []*models.WithdrawalRequest

	Now time.Time
}

// Decision is the outcome of a release policy evaluation. A denial carries a
// human-readable reason; it is a value, not an error.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// EvaluateReleasePolicy runs the ordered release checks, short-circuiting on
// the first failure. Amounts are arbitrary-precision decimal-unit integers.
func EvaluateReleasePolicy(pctx PolicyContext) Decision {
	requested, ok := new(big.Int).SetString(pctx.Request.Amount, 10)
	if !ok || requested.Sign() <= 0 {
		return deny("requested amount is not a positive integer")
	}

	released, ok := new(big.Int).SetString(pctx.Milestone.ReleasedAmount, 10)
	if !ok {
		return deny("milestone released amount is malformed")
	}
	capAmount, ok := new(big.Int).SetString(pctx.Milestone.CapAmount, 10)
	if !ok {
		return deny("milestone cap amount is malformed")
	}

	if new(big.Int).Add(released, requested).Cmp(capAmount) > 0 {
		return deny(fmt.Sprintf(
			"release would exceed milestone cap: released %s + requested %s > cap %s",
			released, requested, capAmount,
		))
	}

	if pctx.Campaign.Status != models.CampaignStatusActive {
		return deny(fmt.Sprintf("campaign is %s, releases require an ACTIVE campaign", pctx.Campaign.Status))
	}

	if pctx.Milestone.Status != models.MilestoneStatusOpen && pctx.Milestone.Status != models.MilestoneStatusInReview {
		return deny(fmt.Sprintf("milestone is %s, releases require OPEN or IN_REVIEW", pctx.Milestone.Status))
	}

	if remaining := coolingOffRemaining(pctx.Milestone, pctx.Now); remaining > 0 {
		return deny(fmt.Sprintf("cooling-off period in effect for another %s", remaining.Round(time.Minute)))
	}

	if pctx.DuplicateEvidence {
		return deny("evidence hash already used by another withdrawal request")
	}

	if pctx.Request.PayeeRole == models.PayeeRoleVendor {
		if pctx.Vendor == nil || !pctx.Vendor.Allowlisted {
			return deny("vendor is not allow-listed")
		}
		if pctx.Vendor.CredentialStatus != models.VendorCredentialVerified {
			return deny(fmt.Sprintf("vendor credential status is %s, VERIFIED required", pctx.Vendor.CredentialStatus))
		}
	}

	return allow()
}

// coolingOffRemaining returns how much of the cooling-off window is left,
// measured from the last release or, absent one, from when the milestone
// opened.
func coolingOffRemaining(milestone *models.Milestone, now time.Time) time.Duration {
	if milestone.CoolingOffHours <= 0 {
		return 0
	}

	var since time.Time
	switch {
	case milestone.LastReleaseAt != nil:
		since = *milestone.LastReleaseAt
	case milestone.OpenedAt != nil:
		since = *milestone.OpenedAt
	}
	if since.IsZero() {
		return 0
	}

	window := time.Duration(milestone.CoolingOffHours) * time.Hour
	return window - now.Sub(since)
}

// CalculateAnomalyScore produces an additive 0-100 risk score for a
// withdrawal request. Thresholds here are tunable business knobs, kept apart
// from the hard policy gate on purpose.
func CalculateAnomalyScore(pctx PolicyContext) int {
	score := 0

	score += capShareScore(pctx.Request.Amount, pctx.Milestone.CapAmount)
	score += recencyScore(pctx.History, pctx.Now)
	score += concentrationScore(pctx.History)

	if len(pctx.History) > 10 {
		score += 15
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return score
}

// ShouldPause reports whether the score mandates a human override.
func ShouldPause(score int) bool {
	return score >= AnomalyPauseThreshold
}

// IsWarning reports whether the score is in the soft-warning band.
func IsWarning(score int) bool {
	return score >= AnomalyWarnThreshold && score < AnomalyPauseThreshold
}

// capShareScore adds 30 when the requested amount is over 80% of the cap,
// 15 when over 50%.
func capShareScore(amount, capAmount string) int {
	requested, okR := new(big.Int).SetString(amount, 10)
	capValue, okC := new(big.Int).SetString(capAmount, 10)
	if !okR || !okC || capValue.Sign() <= 0 {
		return 0
	}

	// requested*100 > cap*threshold avoids division.
	hundredfold := new(big.Int).Mul(requested, big.NewInt(100))
	if hundredfold.Cmp(new(big.Int).Mul(capValue, big.NewInt(80))) > 0 {
		return 30
	}
	if hundredfold.Cmp(new(big.Int).Mul(capValue, big.NewInt(50))) > 0 {
		return 15
	}
	return 0
}

// recencyScore adds 25 for a repeat withdrawal within an hour of the last
// executed one, 10 within six hours.
func recencyScore(history []*models.WithdrawalRequest, now time.Time) int {
	if len(history) == 0 {
		return 0
	}

	last := history[len(history)-1]
	elapsed := now.Sub(last.UpdatedAt)
	switch {
	case elapsed < time.Hour:
		return 25
	case elapsed < 6*time.Hour:
		return 10
	default:
		return 0
	}
}

// concentrationScore adds 20 when more than 70% of the executed amount went
// to vendor payees.
func concentrationScore(history []*models.WithdrawalRequest) int {
	total := new(big.Int)
	vendor := new(big.Int)

	for _, withdrawal := range history {
		amount, ok := new(big.Int).SetString(withdrawal.Amount, 10)
		if !ok {
			continue
		}
		total.Add(total, amount)
		if withdrawal.PayeeRole == models.PayeeRoleVendor {
			vendor.Add(vendor, amount)
		}
	}

	if total.Sign() <= 0 {
		return 0
	}
	if new(big.Int).Mul(vendor, big.NewInt(100)).Cmp(new(big.Int).Mul(total, big.NewInt(70))) > 0 {
		return 20
	}
	return 0
}
