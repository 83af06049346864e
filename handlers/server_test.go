package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencause/escrow/config"
	"github.com/opencause/escrow/db"
	"github.com/opencause/escrow/models"
	"github.com/opencause/escrow/scanners"
	"github.com/opencause/escrow/services"
)

const testEvidenceHash = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

type stubScanner struct {
	id     string
	tip    uint64
	tipErr error
}

func (s *stubScanner) NetworkID() string { return s.id }

func (s *stubScanner) TipHeight(ctx context.Context) (uint64, error) {
	return s.tip, s.tipErr
}

func (s *stubScanner) Scan(ctx context.Context, target scanners.Target, cursor uint64) scanners.Result {
	return scanners.Result{NextCursor: cursor}
}

func testConfig() *config.Config {
	return &config.Config{
		Port:            "8080",
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

func setupTestServer(t *testing.T) (*gin.Engine, *db.MockDB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mockDB := db.NewMockDB()
	now := time.Now()
	openedAt := now.Add(-72 * time.Hour)
	mockDB.SeedCampaign(&models.Campaign{
		ID:          "campaign-1",
		OrganizerID: "organizer-1",
		Status:      models.CampaignStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	mockDB.SeedMilestone(&models.Milestone{
		ID:             "milestone-1",
		CampaignID:     "campaign-1",
		CapAmount:      "1000",
		ReleasedAmount: "0",
		Status:         models.MilestoneStatusOpen,
		OpenedAt:       &openedAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	})

	cfg := testConfig()
	networkScanners := map[string]scanners.Scanner{
		"ethereum": &stubScanner{id: "ethereum", tip: 100},
	}
	withdrawals := services.NewWithdrawalService(mockDB, cfg, nil, nil, zerolog.Nop())
	server := NewServer(mockDB, cfg, networkScanners, withdrawals, nil, zerolog.Nop())

	return server.Router(), mockDB
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Buffer
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewBuffer(raw)
	} else {
		body = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, req)
	return recorder
}

func TestHealth(t *testing.T) {
	router, _ := setupTestServer(t)

	recorder := doJSON(t, router, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `"status":"ok"`)
}

func TestCreateIntentEndpoint(t *testing.T) {
	router, mockDB := setupTestServer(t)

	recorder := doJSON(t, router, http.MethodPost, "/api/v1/intents", gin.H{
		"campaign_id":         "campaign-1",
		"deposit_address":     "0x1234567890abcdef1234567890abcdef12345678",
		"expected_amount_raw": "1000000000000000000",
		"token_decimals":      18,
		"networks":            []string{"ethereum"},
	})
	require.Equal(t, http.StatusCreated, recorder.Code)

	var resp models.PaymentIntentResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "campaign-1", resp.CampaignID)
	assert.Equal(t, string(models.IntentStatusCreated), resp.Status)

	// Scanning starts at the network tip read during creation.
	intent, err := mockDB.GetPaymentIntent(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), intent.StartBlocks["ethereum"])
}

func TestCreateIntentValidation(t *testing.T) {
	router, _ := setupTestServer(t)

	tests := []struct {
		name string
		body gin.H
		code int
	}{
		{
			name: "unknown campaign",
			body: gin.H{
				"campaign_id":         "nope",
				"deposit_address":     "0x1234567890abcdef1234567890abcdef12345678",
				"expected_amount_raw": "1000",
				"networks":            []string{"ethereum"},
			},
			code: http.StatusNotFound,
		},
		{
			name: "network not enabled",
			body: gin.H{
				"campaign_id":         "campaign-1",
				"deposit_address":     "0x1234567890abcdef1234567890abcdef12345678",
				"expected_amount_raw": "1000",
				"networks":            []string{"dogecoin"},
			},
			code: http.StatusBadRequest,
		},
		{
			name: "invalid deposit address",
			body: gin.H{
				"campaign_id":         "campaign-1",
				"deposit_address":     "not-an-address",
				"expected_amount_raw": "1000",
				"networks":            []string{"ethereum"},
			},
			code: http.StatusBadRequest,
		},
		{
			name: "fractional amount",
			body: gin.H{
				"campaign_id":         "campaign-1",
				"deposit_address":     "0x1234567890abcdef1234567890abcdef12345678",
				"expected_amount_raw": "1.5",
				"networks":            []string{"ethereum"},
			},
			code: http.StatusBadRequest,
		},
		{
			name: "missing networks",
			body: gin.H{
				"campaign_id":         "campaign-1",
				"deposit_address":     "0x1234567890abcdef1234567890abcdef12345678",
				"expected_amount_raw": "1000",
			},
			code: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder := doJSON(t, router, http.MethodPost, "/api/v1/intents", tt.body)
			assert.Equal(t, tt.code, recorder.Code)
		})
	}
}

func TestCreateIntentUnreachableNetwork(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mockDB := db.NewMockDB()
	mockDB.SeedCampaign(&models.Campaign{ID: "campaign-1", Status: models.CampaignStatusActive})

	cfg := testConfig()
	networkScanners := map[string]scanners.Scanner{
		"ethereum": &stubScanner{id: "ethereum", tipErr: assert.AnError},
	}
	withdrawals := services.NewWithdrawalService(mockDB, cfg, nil, nil, zerolog.Nop())
	router := NewServer(mockDB, cfg, networkScanners, withdrawals, nil, zerolog.Nop()).Router()

	recorder := doJSON(t, router, http.MethodPost, "/api/v1/intents", gin.H{
		"campaign_id":         "campaign-1",
		"deposit_address":     "0x1234567890abcdef1234567890abcdef12345678",
		"expected_amount_raw": "1000",
		"networks":            []string{"ethereum"},
	})
	assert.Equal(t, http.StatusBadGateway, recorder.Code)
}

func TestGetIntentNotFound(t *testing.T) {
	router, _ := setupTestServer(t)

	recorder := doJSON(t, router, http.MethodGet, "/api/v1/intents/missing", nil)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestWithdrawalReviewFlow(t *testing.T) {
	router, _ := setupTestServer(t)

	recorder := doJSON(t, router, http.MethodPost, "/api/v1/withdrawals", gin.H{
		"campaign_id":      "campaign-1",
		"milestone_id":     "milestone-1",
		"requester_id":     "organizer-1",
		"payee_role":       "ORGANIZER",
		"amount":           "100",
		"currency":         "USD",
		"destination_kind": "CRYPTO",
		"destination":      "0x1234567890abcdef1234567890abcdef12345678",
		"network_id":       "ethereum",
		"evidence_hash":    testEvidenceHash,
	})
	require.Equal(t, http.StatusCreated, recorder.Code)

	var submitted models.WithdrawalResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &submitted))
	require.NotEmpty(t, submitted.ID)
	assert.Equal(t, string(models.WithdrawalStatusSubmitted), submitted.Status)

	recorder = doJSON(t, router, http.MethodPost, "/api/v1/withdrawals/"+submitted.ID+"/review", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = doJSON(t, router, http.MethodGet, "/api/v1/withdrawals/"+submitted.ID+"/evaluation", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Contains(t, recorder.Body.String(), `"allowed":true`)

	recorder = doJSON(t, router, http.MethodPost, "/api/v1/withdrawals/"+submitted.ID+"/approve", gin.H{
		"reviewer": "alice",
	})
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = doJSON(t, router, http.MethodGet, "/api/v1/withdrawals/"+submitted.ID, nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var approved models.WithdrawalResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &approved))
	assert.Equal(t, string(models.WithdrawalStatusApproved), approved.Status)
}

func TestWithdrawalReviewConflict(t *testing.T) {
	router, _ := setupTestServer(t)

	recorder := doJSON(t, router, http.MethodPost, "/api/v1/withdrawals", gin.H{
		"campaign_id":      "campaign-1",
		"requester_id":     "organizer-1",
		"payee_role":       "ORGANIZER",
		"amount":           "100",
		"currency":         "USD",
		"destination_kind": "CRYPTO",
		"destination":      "0x1234567890abcdef1234567890abcdef12345678",
		"network_id":       "ethereum",
		"evidence_hash":    testEvidenceHash,
	})
	require.Equal(t, http.StatusCreated, recorder.Code)

	var submitted models.WithdrawalResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &submitted))

	recorder = doJSON(t, router, http.MethodPost, "/api/v1/withdrawals/"+submitted.ID+"/review", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	// A second review start loses the conditional transition.
	recorder = doJSON(t, router, http.MethodPost, "/api/v1/withdrawals/"+submitted.ID+"/review", nil)
	assert.Equal(t, http.StatusConflict, recorder.Code)
}

func TestExecuteWithoutExecutorFailsTerminally(t *testing.T) {
	router, mockDB := setupTestServer(t)

	mockDB.SeedWithdrawal(&models.WithdrawalRequest{
		ID:              "wd-1",
		CampaignID:      "campaign-1",
		RequesterID:     "organizer-1",
		PayeeRole:       models.PayeeRoleOrganizer,
		Amount:          "100",
		Currency:        "USD",
		DestinationKind: models.DestinationKindCrypto,
		Destination:     "0x1234567890abcdef1234567890abcdef12345678",
		NetworkID:       "ethereum",
		EvidenceHash:    testEvidenceHash,
		Status:          models.WithdrawalStatusApproved,
	})

	recorder := doJSON(t, router, http.MethodPost, "/api/v1/withdrawals/wd-1/execute", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	var executed models.WithdrawalResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &executed))
	assert.Equal(t, string(models.WithdrawalStatusFailed), executed.Status)
}
