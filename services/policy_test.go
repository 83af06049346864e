package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/opencause/escrow/models"
)

func basePolicyContext() PolicyContext {
	opened := time.Now().Add(-72 * time.Hour)
	return PolicyContext{
		Campaign: &models.Campaign{
			ID:     "campaign-1",
			Status: models.CampaignStatusActive,
		},
		Milestone: &models.Milestone{
			ID:              "milestone-1",
			CampaignID:      "campaign-1",
			CapAmount:       "1000000",
			ReleasedAmount:  "0",
			Status:          models.MilestoneStatusOpen,
			CoolingOffHours: 0,
			OpenedAt:        &opened,
		},
		Request: &models.WithdrawalRequest{
			ID:           "withdrawal-1",
			CampaignID:   "campaign-1",
			PayeeRole:    models.PayeeRoleOrganizer,
			Amount:       "100000",
			EvidenceHash: "a3f5c1d2e4b6a8c0d2e4f6a8b0c2d4e6f8a0b2c4d6e8f0a2b4c6d8e0f2a4b6c8",
		},
		Now: time.Now(),
	}
}

func TestReleasePolicyAllows(t *testing.T) {
	decision := EvaluateReleasePolicy(basePolicyContext())
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Reason)
}

func TestReleasePolicyCapExceeded(t *testing.T) {
	pctx := basePolicyContext()
	pctx.Milestone.ReleasedAmount = "950000"
	pctx.Request.Amount = "100000"

	decision := EvaluateReleasePolicy(pctx)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "exceed milestone cap")
}

func TestReleasePolicyExactlyAtCapAllowed(t *testing.T) {
	pctx := basePolicyContext()
	pctx.Milestone.ReleasedAmount = "900000"
	pctx.Request.Amount = "100000"

	decision := EvaluateReleasePolicy(pctx)
	assert.True(t, decision.Allowed)
}

func TestReleasePolicyRejectsNonPositiveAmount(t *testing.T) {
	pctx := basePolicyContext()
	pctx.Request.Amount = "0"
	assert.False(t, EvaluateReleasePolicy(pctx).Allowed)

	pctx.Request.Amount = "12.5"
	assert.False(t, EvaluateReleasePolicy(pctx).Allowed)
}

func TestReleasePolicyCampaignMustBeActive(t *testing.T) {
	for _, status := range []models.CampaignStatus{
		models.CampaignStatusPaused,
		models.CampaignStatusCompleted,
		models.CampaignStatusSuspended,
	} {
		pctx := basePolicyContext()
		pctx.Campaign.Status = status

		decision := EvaluateReleasePolicy(pctx)
		assert.False(t, decision.Allowed)
		assert.Contains(t, decision.Reason, string(status))
	}
}

func TestReleasePolicyMilestoneStatus(t *testing.T) {
	pctx := basePolicyContext()
	pctx.Milestone.Status = models.MilestoneStatusInReview
	assert.True(t, EvaluateReleasePolicy(pctx).Allowed)

	for _, status := range []models.MilestoneStatus{
		models.MilestoneStatusPending,
		models.MilestoneStatusCompleted,
		models.MilestoneStatusClosed,
	} {
		pctx := basePolicyContext()
		pctx.Milestone.Status = status
		assert.False(t, EvaluateReleasePolicy(pctx).Allowed)
	}
}

func TestReleasePolicyCoolingOff(t *testing.T) {
	lastRelease := time.Now().Add(-2 * time.Hour)

	pctx := basePolicyContext()
	pctx.Milestone.CoolingOffHours = 24
	pctx.Milestone.LastReleaseAt = &lastRelease

	decision := EvaluateReleasePolicy(pctx)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "cooling-off")

	// Window elapsed.
	lastRelease = time.Now().Add(-25 * time.Hour)
	pctx.Milestone.LastReleaseAt = &lastRelease
	assert.True(t, EvaluateReleasePolicy(pctx).Allowed)
}

func TestReleasePolicyCoolingOffFromOpenedAt(t *testing.T) {
	opened := time.Now().Add(-1 * time.Hour)

	pctx := basePolicyContext()
	pctx.Milestone.CoolingOffHours = 24
	pctx.Milestone.OpenedAt = &opened
	pctx.Milestone.LastReleaseAt = nil

	assert.False(t, EvaluateReleasePolicy(pctx).Allowed)
}

func TestReleasePolicyDuplicateEvidence(t *testing.T) {
	pctx := basePolicyContext()
	pctx.DuplicateEvidence = true

	decision := EvaluateReleasePolicy(pctx)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "evidence hash")
}

func TestReleasePolicyVendorGating(t *testing.T) {
	pctx := basePolicyContext()
	pctx.Request.PayeeRole = models.PayeeRoleVendor

	// Unknown vendor.
	assert.False(t, EvaluateReleasePolicy(pctx).Allowed)

	// Known but not allow-listed.
	pctx.Vendor = &models.Vendor{ID: "vendor-1", Allowlisted: false, CredentialStatus: models.VendorCredentialVerified}
	assert.False(t, EvaluateReleasePolicy(pctx).Allowed)

	// Allow-listed with pending credentials.
	pctx.Vendor = &models.Vendor{ID: "vendor-1", Allowlisted: true, CredentialStatus: models.VendorCredentialPending}
	decision := EvaluateReleasePolicy(pctx)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "PENDING")

	// Fully verified.
	pctx.Vendor = &models.Vendor{ID: "vendor-1", Allowlisted: true, CredentialStatus: models.VendorCredentialVerified}
	assert.True(t, EvaluateReleasePolicy(pctx).Allowed)
}

func TestReleasePolicyChecksInOrder(t *testing.T) {
	// Both the cap and the campaign status fail; the cap check reports first.
	pctx := basePolicyContext()
	pctx.Milestone.ReleasedAmount = "1000000"
	pctx.Campaign.Status = models.CampaignStatusPaused

	decision := EvaluateReleasePolicy(pctx)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "exceed milestone cap")
}

func TestAnomalyScoreCapShare(t *testing.T) {
	pctx := basePolicyContext()

	pctx.Request.Amount = "850000" // 85% of cap
	assert.Equal(t, 30, CalculateAnomalyScore(pctx))

	pctx.Request.Amount = "600000" // 60%
	assert.Equal(t, 15, CalculateAnomalyScore(pctx))

	pctx.Request.Amount = "400000" // 40%
	assert.Equal(t, 0, CalculateAnomalyScore(pctx))

	// Boundary: exactly 80% scores the lower band.
	pctx.Request.Amount = "800000"
	assert.Equal(t, 15, CalculateAnomalyScore(pctx))
}

func TestAnomalyScoreRecency(t *testing.T) {
	pctx := basePolicyContext()
	pctx.History = []*models.WithdrawalRequest{
		{Amount: "1000", PayeeRole: models.PayeeRoleOrganizer, UpdatedAt: time.Now().Add(-30 * time.Minute)},
	}
	assert.Equal(t, 25, CalculateAnomalyScore(pctx))

	pctx.History[0].UpdatedAt = time.Now().Add(-3 * time.Hour)
	assert.Equal(t, 10, CalculateAnomalyScore(pctx))

	pctx.History[0].UpdatedAt = time.Now().Add(-7 * time.Hour)
	assert.Equal(t, 0, CalculateAnomalyScore(pctx))
}

func TestAnomalyScoreVendorConcentration(t *testing.T) {
	old := time.Now().Add(-48 * time.Hour)
	pctx := basePolicyContext()
	pctx.History = []*models.WithdrawalRequest{
		{Amount: "800", PayeeRole: models.PayeeRoleVendor, UpdatedAt: old},
		{Amount: "200", PayeeRole: models.PayeeRoleOrganizer, UpdatedAt: old},
	}
	assert.Equal(t, 20, CalculateAnomalyScore(pctx))

	// 70% exactly does not trip the check.
	pctx.History[0].Amount = "700"
	pctx.History[1].Amount = "300"
	assert.Equal(t, 0, CalculateAnomalyScore(pctx))
}

func TestAnomalyScoreHistoryVolume(t *testing.T) {
	old := time.Now().Add(-48 * time.Hour)
	pctx := basePolicyContext()
	for i := 0; i < 11; i++ {
		pctx.History = append(pctx.History, &models.WithdrawalRequest{
			Amount:    "10",
			PayeeRole: models.PayeeRoleOrganizer,
			UpdatedAt: old,
		})
	}
	assert.Equal(t, 15, CalculateAnomalyScore(pctx))
}

func TestAnomalyScoreAdditive(t *testing.T) {
	pctx := basePolicyContext()
	pctx.Request.Amount = "850000" // +30

	for i := 0; i < 11; i++ { // +15 for volume
		pctx.History = append(pctx.History, &models.WithdrawalRequest{
			Amount:    "100",
			PayeeRole: models.PayeeRoleVendor, // +20 concentration
			UpdatedAt: time.Now().Add(-30 * time.Minute),
		})
	}
	// +25 recency from the last entry.
	assert.Equal(t, 90, CalculateAnomalyScore(pctx))
}

func TestAnomalyThresholds(t *testing.T) {
	assert.True(t, ShouldPause(70))
	assert.False(t, ShouldPause(69))

	assert.True(t, IsWarning(50))
	assert.True(t, IsWarning(69))
	assert.False(t, IsWarning(70))
	assert.False(t, IsWarning(49))
}
