package services

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/opencause/escrow/config"
	"github.com/opencause/escrow/db"
	"github.com/opencause/escrow/logging"
	"github.com/opencause/escrow/models"
	"github.com/opencause/escrow/utils"
)

// Executor dispatch keys for non-crypto payout rails.
const (
	executorKeyBank = "BANK"
	executorKeyUPI  = "UPI"
)

// WithdrawalService drives a withdrawal request through its state machine:
// submission, policy-gated review, and the single execution attempt.
type WithdrawalService struct {
	db        db.Database
	cfg       *config.Config
	executors map[string]Executor
	metrics   *MetricsService
	logger    zerolog.Logger
}

// NewWithdrawalService creates a WithdrawalService. Executors are keyed by
// network family (EVM/UTXO/SOLANA) for crypto payouts and by rail (BANK/UPI)
// for fiat ones; a missing key fails execution for that withdrawal.
func NewWithdrawalService(
	database db.Database,
	cfg *config.Config,
	executors map[string]Executor,
	metrics *MetricsService,
	logger zerolog.Logger,
) *WithdrawalService {
	return &WithdrawalService{
		db:        database,
		cfg:       cfg,
		executors: executors,
		metrics:   metrics,
		logger:    logger.With().Str(logging.FieldModule, "withdrawal_service").Logger(),
	}
}

// Submit validates and persists a new withdrawal request in SUBMITTED state.
func (s *WithdrawalService) Submit(ctx context.Context, withdrawal *models.WithdrawalRequest) error {
	if err := s.validate(ctx, withdrawal); err != nil {
		return err
	}

	withdrawal.ID = utils.GenerateID()
	withdrawal.Status = models.WithdrawalStatusSubmitted
	withdrawal.CreatedAt = time.Now()
	withdrawal.UpdatedAt = withdrawal.CreatedAt

	if err := s.db.CreateWithdrawalRequest(ctx, withdrawal); err != nil {
		return errors.Wrap(err, "failed to create withdrawal request")
	}

	s.logger.Info().
		Str("withdrawal_id", withdrawal.ID).
		Str(logging.FieldCampaign, withdrawal.CampaignID).
		Str("amount", withdrawal.Amount).
		Msg("Withdrawal request submitted")
	return nil
}

func (s *WithdrawalService) validate(ctx context.Context, withdrawal *models.WithdrawalRequest) error {
	amount, ok := new(big.Int).SetString(withdrawal.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return errors.New("amount must be a positive decimal-unit integer")
	}
	if err := utils.ValidateEvidenceHash(withdrawal.EvidenceHash); err != nil {
		return err
	}

	if _, err := s.db.GetCampaign(ctx, withdrawal.CampaignID); err != nil {
		return errors.Wrap(err, "campaign lookup failed")
	}
	if withdrawal.MilestoneID != nil {
		if _, err := s.db.GetMilestone(ctx, *withdrawal.MilestoneID); err != nil {
			return errors.Wrap(err, "milestone lookup failed")
		}
	}

	if withdrawal.DestinationKind == models.DestinationKindCrypto {
		network, ok := s.cfg.Networks[withdrawal.NetworkID]
		if !ok {
			return errors.Errorf("unknown payout network: %s", withdrawal.NetworkID)
		}
		if err := utils.ValidateDepositAddress(string(network.Type), withdrawal.Destination); err != nil {
			return errors.Wrap(err, "invalid payout destination")
		}
	} else if withdrawal.Destination == "" {
		return errors.New("payout destination is required")
	}

	return nil
}

// StartReview moves a SUBMITTED request to UNDER_REVIEW.
func (s *WithdrawalService) StartReview(ctx context.Context, id string) error {
	return s.db.TransitionWithdrawal(ctx, id, models.WithdrawalStatusSubmitted, models.WithdrawalStatusUnderReview)
}

// Evaluation is the policy view of a pending withdrawal surfaced to
// reviewers: the hard gate's decision plus the advisory anomaly score.
type Evaluation struct {
	Decision     Decision `json:"decision"`
	AnomalyScore int      `json:"anomaly_score"`
	ShouldPause  bool     `json:"should_pause"`
	Warning      bool     `json:"warning"`
}

// Evaluate loads the policy context for a withdrawal and runs the release
// gate and the anomaly scorer. It does not change any state.
func (s *WithdrawalService) Evaluate(ctx context.Context, id string) (*Evaluation, error) {
	withdrawal, err := s.db.GetWithdrawalRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	pctx, err := s.loadPolicyContext(ctx, withdrawal)
	if err != nil {
		return nil, err
	}

	score := CalculateAnomalyScore(*pctx)
	return &Evaluation{
		Decision:     EvaluateReleasePolicy(*pctx),
		AnomalyScore: score,
		ShouldPause:  ShouldPause(score),
		Warning:      IsWarning(score),
	}, nil
}

// Approve records a reviewer approval. The hard policy gate runs first; a
// denial rejects the request with the policy reason regardless of the
// reviewer's intent.
func (s *WithdrawalService) Approve(ctx context.Context, id, reviewer string) (*Evaluation, error) {
	withdrawal, err := s.db.GetWithdrawalRequest(ctx, id)
	if err != nil {
		return nil, err
	}
	if withdrawal.Status != models.WithdrawalStatusSubmitted && withdrawal.Status != models.WithdrawalStatusUnderReview {
		return nil, db.ErrConflict
	}

	pctx, err := s.loadPolicyContext(ctx, withdrawal)
	if err != nil {
		return nil, err
	}

	decision := EvaluateReleasePolicy(*pctx)
	score := CalculateAnomalyScore(*pctx)
	evaluation := &Evaluation{
		Decision:     decision,
		AnomalyScore: score,
		ShouldPause:  ShouldPause(score),
		Warning:      IsWarning(score),
	}

	if !decision.Allowed {
		if err := s.db.ReviewWithdrawal(ctx, id, reviewer, false, decision.Reason, score); err != nil {
			return nil, err
		}
		s.logger.Info().
			Str("withdrawal_id", id).
			Str("reason", decision.Reason).
			Msg("Withdrawal rejected by release policy")
		return evaluation, nil
	}

	if err := s.db.ReviewWithdrawal(ctx, id, reviewer, true, "", score); err != nil {
		return nil, err
	}

	event := s.logger.Info()
	if evaluation.ShouldPause {
		// The pause flag is advisory; an explicit approval is the override.
		event = s.logger.Warn().Bool("pause_overridden", true)
	}
	event.
		Str("withdrawal_id", id).
		Int("anomaly_score", score).
		Msg("Withdrawal approved")
	return evaluation, nil
}

// Reject records a reviewer rejection with a reason.
func (s *WithdrawalService) Reject(ctx context.Context, id, reviewer, reason string) error {
	if reason == "" {
		reason = "rejected by reviewer"
	}
	return s.db.ReviewWithdrawal(ctx, id, reviewer, false, reason, 0)
}

// Execute claims and runs the single execution attempt for an APPROVED
// withdrawal. Any failure after the claim is terminal: a half-submitted
// payout must never be retried automatically.
func (s *WithdrawalService) Execute(ctx context.Context, id string) (*models.WithdrawalRequest, error) {
	withdrawal, err := s.db.GetWithdrawalRequest(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.db.ClaimWithdrawalExecution(ctx, id); err != nil {
		return nil, errors.Wrap(err, "failed to claim execution")
	}

	logger := s.logger.With().
		Str("withdrawal_id", id).
		Str(logging.FieldCampaign, withdrawal.CampaignID).
		Logger()

	network, executor, err := s.resolveExecutor(withdrawal)
	if err != nil {
		return s.fail(ctx, logger, id, err.Error())
	}

	txHash, err := executor.Execute(ctx, network, withdrawal)
	if err != nil {
		return s.fail(ctx, logger, id, fmt.Sprintf("execution attempt failed: %v", err))
	}

	explorerURL := ""
	if network != nil {
		explorerURL = network.ExplorerTxURL(txHash)
	}

	err = s.db.CompleteWithdrawalExecution(ctx, id, withdrawal.MilestoneID, withdrawal.Amount, txHash, explorerURL)
	if errors.Is(err, db.ErrCapExceeded) {
		// The payout is on chain but the milestone cap was consumed by a
		// concurrent release. Manual remediation only from here.
		s.metrics.IncWithdrawalExecution("cap_exceeded")
		return s.fail(ctx, logger, id,
			fmt.Sprintf("payout submitted as %s but milestone cap was exceeded at completion", txHash))
	}
	if err != nil {
		return s.fail(ctx, logger, id,
			fmt.Sprintf("payout submitted as %s but completion failed: %v", txHash, err))
	}

	s.metrics.IncWithdrawalExecution("executed")
	logger.Info().
		Str(logging.FieldTxHash, txHash).
		Msg("Withdrawal executed")

	return s.db.GetWithdrawalRequest(ctx, id)
}

func (s *WithdrawalService) resolveExecutor(withdrawal *models.WithdrawalRequest) (*config.NetworkConfig, Executor, error) {
	var key string
	var network *config.NetworkConfig

	switch withdrawal.DestinationKind {
	case models.DestinationKindCrypto:
		n, ok := s.cfg.Networks[withdrawal.NetworkID]
		if !ok {
			return nil, nil, errors.Errorf("unknown payout network: %s", withdrawal.NetworkID)
		}
		network = n
		key = string(n.Type)
	case models.DestinationKindBank:
		key = executorKeyBank
	case models.DestinationKindUPI:
		key = executorKeyUPI
	default:
		return nil, nil, errors.Errorf("unknown destination kind: %s", withdrawal.DestinationKind)
	}

	executor, ok := s.executors[key]
	if !ok {
		return nil, nil, errors.Errorf("no executor configured for %s", key)
	}
	return network, executor, nil
}

func (s *WithdrawalService) fail(ctx context.Context, logger zerolog.Logger, id, reason string) (*models.WithdrawalRequest, error) {
	s.metrics.IncWithdrawalExecution("failed")
	logger.Error().Str("reason", reason).Msg("Withdrawal execution failed")

	if err := s.db.FailWithdrawalExecution(ctx, id, reason); err != nil {
		return nil, errors.Wrap(err, "failed to record execution failure")
	}
	return s.db.GetWithdrawalRequest(ctx, id)
}

func (s *WithdrawalService) loadPolicyContext(ctx context.Context, withdrawal *models.WithdrawalRequest) (*PolicyContext, error) {
	campaign, err := s.db.GetCampaign(ctx, withdrawal.CampaignID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load campaign")
	}

	if withdrawal.MilestoneID == nil {
		return nil, errors.New("withdrawal has no milestone, policy evaluation requires one")
	}
	milestone, err := s.db.GetMilestone(ctx, *withdrawal.MilestoneID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load milestone")
	}

	var vendor *models.Vendor
	if withdrawal.PayeeRole == models.PayeeRoleVendor && withdrawal.VendorID != nil {
		vendor, err = s.db.GetVendor(ctx, *withdrawal.VendorID)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return nil, errors.Wrap(err, "failed to load vendor")
		}
	}

	duplicate, err := s.db.EvidenceHashExists(ctx, withdrawal.CampaignID, withdrawal.EvidenceHash, withdrawal.ID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to check evidence hash")
	}

	history, err := s.db.ListExecutedWithdrawals(ctx, withdrawal.CampaignID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load withdrawal history")
	}

	return &PolicyContext{
		Campaign:          campaign,
		Milestone:         milestone,
		Vendor:            vendor,
		Request:           withdrawal,
		DuplicateEvidence: duplicate,
		History:           history,
		Now:               time.Now(),
	}, nil
}
