package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	escrowhttp "github.com/opencause/escrow/http"
	"github.com/opencause/escrow/models"
)

type submitWithdrawalRequest struct {
	CampaignID  string  `json:"campaign_id" binding:"required"`
	MilestoneID *string `json:"milestone_id"`
	RequesterID string  `json:"requester_id" binding:"required"`

	PayeeRole models.PayeeRole `json:"payee_role" binding:"required,oneof=ORGANIZER VENDOR"`
	VendorID  *string          `json:"vendor_id"`

	Amount   string `json:"amount" binding:"required"`
	Currency string `json:"currency" binding:"required"`

	DestinationKind models.DestinationKind `json:"destination_kind" binding:"required,oneof=CRYPTO BANK UPI"`
	Destination     string                 `json:"destination" binding:"required"`
	NetworkID       string                 `json:"network_id"`
	AssetType       models.AssetType       `json:"asset_type"`
	TokenAddress    string                 `json:"token_address"`

	EvidenceHash string   `json:"evidence_hash" binding:"required"`
	ProofRefs    []string `json:"proof_refs"`
}

// SubmitWithdrawal creates a new withdrawal request in SUBMITTED state
func (s *Server) SubmitWithdrawal(c *gin.Context) {
	var req submitWithdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		escrowhttp.ErrBadRequest(c, err)
		return
	}

	withdrawal := &models.WithdrawalRequest{
		CampaignID:      req.CampaignID,
		MilestoneID:     req.MilestoneID,
		RequesterID:     req.RequesterID,
		PayeeRole:       req.PayeeRole,
		VendorID:        req.VendorID,
		Amount:          req.Amount,
		Currency:        req.Currency,
		DestinationKind: req.DestinationKind,
		Destination:     req.Destination,
		NetworkID:       req.NetworkID,
		AssetType:       req.AssetType,
		TokenAddress:    req.TokenAddress,
		EvidenceHash:    req.EvidenceHash,
		ProofRefs:       req.ProofRefs,
	}

	if err := s.withdrawals.Submit(c.Request.Context(), withdrawal); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, withdrawal.ToResponse())
}

// GetWithdrawal returns the reviewer-dashboard projection of a withdrawal
func (s *Server) GetWithdrawal(c *gin.Context) {
	withdrawal, err := s.db.GetWithdrawalRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, withdrawal.ToResponse())
}

// ListCampaignWithdrawals returns all of a campaign's withdrawal requests
func (s *Server) ListCampaignWithdrawals(c *gin.Context) {
	withdrawals, err := s.db.ListWithdrawalsByCampaign(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	responses := make([]*models.WithdrawalResponse, 0, len(withdrawals))
	for _, withdrawal := range withdrawals {
		responses = append(responses, withdrawal.ToResponse())
	}
	c.JSON(http.StatusOK, responses)
}

// EvaluateWithdrawal runs the release policy and anomaly scorer without
// changing state, for reviewer dashboards.
func (s *Server) EvaluateWithdrawal(c *gin.Context) {
	evaluation, err := s.withdrawals.Evaluate(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, evaluation)
}

// StartWithdrawalReview moves a SUBMITTED request to UNDER_REVIEW
func (s *Server) StartWithdrawalReview(c *gin.Context) {
	if err := s.withdrawals.StartReview(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(models.WithdrawalStatusUnderReview)})
}

type reviewRequest struct {
	Reviewer string `json:"reviewer" binding:"required"`
	Reason   string `json:"reason"`
}

// ApproveWithdrawal records a reviewer approval, gated by the release policy
func (s *Server) ApproveWithdrawal(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		escrowhttp.ErrBadRequest(c, err)
		return
	}

	evaluation, err := s.withdrawals.Approve(c.Request.Context(), c.Param("id"), req.Reviewer)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, evaluation)
}

// RejectWithdrawal records a reviewer rejection
func (s *Server) RejectWithdrawal(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		escrowhttp.ErrBadRequest(c, err)
		return
	}

	if err := s.withdrawals.Reject(c.Request.Context(), c.Param("id"), req.Reviewer, req.Reason); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(models.WithdrawalStatusRejected)})
}

// ExecuteWithdrawal claims and runs the single execution attempt for an
// APPROVED withdrawal.
func (s *Server) ExecuteWithdrawal(c *gin.Context) {
	withdrawal, err := s.withdrawals.Execute(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, withdrawal.ToResponse())
}
