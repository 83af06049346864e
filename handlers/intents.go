package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	escrowhttp "github.com/opencause/escrow/http"
	"github.com/opencause/escrow/logging"
	"github.com/opencause/escrow/models"
	"github.com/opencause/escrow/utils"
)

// defaultIntentTTL bounds how long a deposit is watched for before the
// intent expires.
const defaultIntentTTL = time.Hour

type createIntentRequest struct {
	CampaignID           string   `json:"campaign_id" binding:"required"`
	DonorID              *string  `json:"donor_id"`
	DepositAddress       string   `json:"deposit_address" binding:"required"`
	ExpectedAmountRaw    string   `json:"expected_amount_raw" binding:"required"`
	ExpectedTokenAddress string   `json:"expected_token_address"`
	TokenDecimals        int      `json:"token_decimals"`
	Networks             []string `json:"networks" binding:"required,min=1"`
	TTLSeconds           int64    `json:"ttl_seconds"`
}

// CreateIntent registers a new payment intent for watching
func (s *Server) CreateIntent(c *gin.Context) {
	var req createIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		escrowhttp.ErrBadRequest(c, err)
		return
	}

	if _, err := utils.ParseRawAmount(req.ExpectedAmountRaw); err != nil {
		escrowhttp.ErrBadRequest(c, err)
		return
	}

	if _, err := s.db.GetCampaign(c.Request.Context(), req.CampaignID); err != nil {
		respondError(c, errors.Wrap(err, "campaign lookup failed"))
		return
	}

	// The deposit address must be valid for every network it is payable on,
	// and scanning starts at each network's current tip.
	startBlocks := make(map[string]uint64, len(req.Networks))
	for _, networkID := range req.Networks {
		network, ok := s.cfg.Networks[networkID]
		if !ok {
			escrowhttp.ErrBadRequest(c, errors.Errorf("network not enabled: %s", networkID))
			return
		}
		if err := utils.ValidateDepositAddress(string(network.Type), req.DepositAddress); err != nil {
			escrowhttp.ErrBadRequest(c, err)
			return
		}

		scanner, ok := s.scanners[networkID]
		if !ok {
			escrowhttp.ErrBadRequest(c, errors.Errorf("no scanner for network: %s", networkID))
			return
		}
		tip, err := scanner.TipHeight(c.Request.Context())
		if err != nil {
			s.logger.Error().Err(err).
				Str(logging.FieldNetwork, networkID).
				Msg("Failed to read tip height for new intent")
			escrowhttp.ErrBadGateway(c, errors.Errorf("network unreachable: %s", networkID))
			return
		}
		startBlocks[networkID] = tip
	}

	ttl := defaultIntentTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	now := time.Now()
	intent := &models.PaymentIntent{
		ID:                   utils.GenerateID(),
		CampaignID:           req.CampaignID,
		DonorID:              req.DonorID,
		DepositAddress:       req.DepositAddress,
		ExpectedAmountRaw:    req.ExpectedAmountRaw,
		ExpectedTokenAddress: req.ExpectedTokenAddress,
		TokenDecimals:        req.TokenDecimals,
		Networks:             req.Networks,
		ScanCursors:          map[string]uint64{},
		StartBlocks:          startBlocks,
		Status:               models.IntentStatusCreated,
		ExpiresAt:            now.Add(ttl),
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if err := s.db.CreatePaymentIntent(c.Request.Context(), intent); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, intent.ToResponse())
}

// GetIntent returns the status projection of a payment intent, the record
// donor UIs poll while waiting for a deposit.
func (s *Server) GetIntent(c *gin.Context) {
	intent, err := s.db.GetPaymentIntent(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, intent.ToResponse())
}

// ListCampaignDonations returns a page of a campaign's public donation ledger
func (s *Server) ListCampaignDonations(c *gin.Context) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil {
		escrowhttp.ErrBadRequest(c, errors.New("invalid page parameter"))
		return
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if err != nil {
		escrowhttp.ErrBadRequest(c, errors.New("invalid page_size parameter"))
		return
	}

	donations, total, err := s.db.ListDonationsByCampaign(c.Request.Context(), c.Param("id"), page, pageSize)
	if err != nil {
		respondError(c, err)
		return
	}

	responses := make([]*models.DonationResponse, 0, len(donations))
	for _, donation := range donations {
		responses = append(responses, donation.ToResponse())
	}

	c.JSON(http.StatusOK, gin.H{
		"donations": responses,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// GetCampaignStats returns the reconciled aggregates for a campaign
func (s *Server) GetCampaignStats(c *gin.Context) {
	stats, err := s.db.GetCampaignStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
