package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencause/escrow/config"
	"github.com/opencause/escrow/db"
	"github.com/opencause/escrow/logging"
	"github.com/opencause/escrow/models"
	"github.com/opencause/escrow/scanners"
)

// confirmationBatchSize bounds one confirmation pass.
const confirmationBatchSize = 100

// ConfirmationTracker is the re-scan pass behind detection: it re-reads each
// network's tip height, refreshes confirmation counts on SEEN/CONFIRMING
// transactions, and finalizes everything past its network's threshold.
type ConfirmationTracker struct {
	db       db.Database
	scanners map[string]scanners.Scanner
	cfg      *config.Config
	metrics  *MetricsService
	logger   zerolog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewConfirmationTracker creates a ConfirmationTracker
func NewConfirmationTracker(
	database db.Database,
	networkScanners map[string]scanners.Scanner,
	cfg *config.Config,
	metrics *MetricsService,
	logger zerolog.Logger,
) *ConfirmationTracker {
	return &ConfirmationTracker{
		db:       database,
		scanners: networkScanners,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.With().Str(logging.FieldModule, "confirmation_tracker").Logger(),
	}
}

// Start runs the confirmation loop on the watch tick interval until the
// context is cancelled or Stop is called.
func (t *ConfirmationTracker) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()

		ticker := time.NewTicker(t.cfg.TickInterval)
		defer ticker.Stop()

		t.logger.Info().Msg("Confirmation tracker started")

		for {
			select {
			case <-ticker.C:
				t.Tick(ctx)
			case <-ctx.Done():
				t.logger.Info().Msg("Confirmation tracker stopped")
				return
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight pass to finish.
func (t *ConfirmationTracker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
}

// Tick refreshes one batch of unconfirmed transactions. Failures are logged
// per transaction and never abort the pass.
func (t *ConfirmationTracker) Tick(ctx context.Context) {
	txs, err := t.db.ListConfirmingTransactions(ctx, confirmationBatchSize)
	if err != nil {
		t.logger.Error().Err(err).Msg("Failed to list confirming transactions")
		return
	}

	// One tip read per network per pass.
	tips := make(map[string]uint64)

	for _, chainTx := range txs {
		t.refresh(ctx, chainTx, tips)
	}
}

func (t *ConfirmationTracker) refresh(ctx context.Context, chainTx *models.ChainTransaction, tips map[string]uint64) {
	logger := t.logger.With().
		Str(logging.FieldNetwork, chainTx.NetworkID).
		Str(logging.FieldTxHash, chainTx.TxHash).
		Logger()

	network, ok := t.cfg.Networks[chainTx.NetworkID]
	if !ok {
		logger.Warn().Msg("Transaction on disabled network, skipping")
		return
	}

	tip, ok := tips[chainTx.NetworkID]
	if !ok {
		scanner, exists := t.scanners[chainTx.NetworkID]
		if !exists {
			logger.Warn().Msg("No scanner for network, skipping")
			return
		}

		var err error
		tip, err = scanner.TipHeight(ctx)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to read tip height")
			return
		}
		tips[chainTx.NetworkID] = tip
	}

	if tip < chainTx.BlockNumber {
		// Tip behind the recorded block, likely a lagging RPC node.
		return
	}
	confirmations := tip - chainTx.BlockNumber + 1

	if err := t.db.UpdateTransactionConfirmations(ctx, chainTx.ID, confirmations); err != nil {
		logger.Error().Err(err).Msg("Failed to update confirmations")
		return
	}

	if confirmations < network.RequiredConfirmations {
		return
	}

	if err := t.db.FinalizeChainTransaction(ctx, chainTx.ID); err != nil {
		logger.Error().Err(err).Msg("Failed to finalize transaction")
		return
	}

	t.metrics.IncTransactionConfirmed()
	logger.Info().
		Uint64("confirmations", confirmations).
		Msg("Transaction confirmed")
}
