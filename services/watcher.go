package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/opencause/escrow/config"
	"github.com/opencause/escrow/db"
	"github.com/opencause/escrow/logging"
	"github.com/opencause/escrow/models"
	"github.com/opencause/escrow/scanners"
	"github.com/opencause/escrow/utils"
)

// IntentWatcher is the scheduling loop of the detection pipeline. Each tick
// it loads a batch of non-terminal intents, sweeps expiries, and scans every
// enabled network per intent for an exact-amount deposit.
//
// The watcher holds no locks across processes. Two replicas racing on the
// same intent are safe because the detection commit's existence checks make
// the second commit a no-op and cursor advances are monotonic-max merges.
type IntentWatcher struct {
	db       db.Database
	scanners map[string]scanners.Scanner
	cfg      *config.Config
	metrics  *MetricsService
	logger   zerolog.Logger

	// ticking guards against a slow tick overlapping the next one in-process.
	ticking atomic.Bool

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewIntentWatcher creates an IntentWatcher over the given scanners, keyed by
// network ID.
func NewIntentWatcher(
	database db.Database,
	networkScanners map[string]scanners.Scanner,
	cfg *config.Config,
	metrics *MetricsService,
	logger zerolog.Logger,
) *IntentWatcher {
	return &IntentWatcher{
		db:       database,
		scanners: networkScanners,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.With().Str(logging.FieldModule, "intent_watcher").Logger(),
	}
}

// Start runs the tick loop until the context is cancelled or Stop is called.
func (w *IntentWatcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		ticker := time.NewTicker(w.cfg.TickInterval)
		defer ticker.Stop()

		w.logger.Info().
			Dur("tick_interval", w.cfg.TickInterval).
			Int("batch_size", w.cfg.IntentBatchSize).
			Msg("Intent watcher started")

		for {
			select {
			case <-ticker.C:
				if !w.ticking.CompareAndSwap(false, true) {
					w.logger.Warn().Msg("Previous tick still running, skipping")
					continue
				}
				w.Tick(ctx)
				w.ticking.Store(false)
			case <-ctx.Done():
				w.logger.Info().Msg("Intent watcher stopped")
				return
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight tick to finish.
func (w *IntentWatcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// Tick processes one batch of intents. It never returns an error: every
// failure is logged and contained to the intent it belongs to.
func (w *IntentWatcher) Tick(ctx context.Context) {
	started := time.Now()
	defer func() {
		w.metrics.ObserveTick(time.Since(started))
	}()

	intents, err := w.db.ListWatchableIntents(ctx, w.cfg.IntentBatchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to list watchable intents")
		return
	}
	if len(intents) == 0 {
		return
	}
	w.metrics.AddIntentsScanned(len(intents))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(w.cfg.ScanConcurrency)

	for _, intent := range intents {
		intent := intent
		group.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error().
						Str(logging.FieldIntent, intent.ID).
						Any("panic", r).
						Msg("Panic while processing intent")
				}
			}()

			w.processIntent(groupCtx, intent)
			return nil
		})
	}

	// Closures always return nil; Wait only orders the joins.
	_ = group.Wait()
}

func (w *IntentWatcher) processIntent(ctx context.Context, intent *models.PaymentIntent) {
	logger := w.logger.With().
		Str(logging.FieldIntent, intent.ID).
		Str(logging.FieldCampaign, intent.CampaignID).
		Logger()

	if intent.IsExpired(time.Now()) {
		if err := w.db.ExpireIntent(ctx, intent.ID); err != nil {
			logger.Error().Err(err).Msg("Failed to expire intent")
			return
		}
		w.metrics.IncIntentExpired()
		logger.Info().Msg("Intent expired")
		return
	}

	// CONFIRMING intents already carry a detection; the confirmation tracker
	// owns them from here.
	if intent.Status == models.IntentStatusConfirming {
		return
	}

	if !intent.Scannable() {
		logger.Warn().Msg("Intent missing static scan fields, skipping")
		return
	}

	if intent.Status == models.IntentStatusCreated {
		if err := w.db.UpdateIntentStatus(ctx, intent.ID, models.IntentStatusDetecting); err != nil {
			logger.Error().Err(err).Msg("Failed to mark intent detecting")
			return
		}
	}

	target := scanners.Target{
		DepositAddress:    intent.DepositAddress,
		ExpectedAmountRaw: intent.ExpectedAmountRaw,
		TokenAddress:      intent.ExpectedTokenAddress,
		NativeFallback:    true,
	}

	for _, networkID := range intent.Networks {
		scanner, ok := w.scanners[networkID]
		if !ok {
			logger.Warn().
				Str(logging.FieldNetwork, networkID).
				Msg("No scanner for network, skipping")
			continue
		}

		cursor := intent.CursorFor(networkID)
		result := scanner.Scan(ctx, target, cursor)
		w.metrics.IncScanOutcome(networkID, string(result.Outcome))

		// The cursor advances no matter the outcome; a failed window is a
		// lost detection opportunity, never a retry target.
		if result.NextCursor > cursor {
			if err := w.db.AdvanceScanCursor(ctx, intent.ID, networkID, result.NextCursor); err != nil {
				logger.Error().Err(err).
					Str(logging.FieldNetwork, networkID).
					Msg("Failed to advance scan cursor")
			}
		}

		if result.Outcome != scanners.OutcomeMatch {
			continue
		}

		if w.commitMatch(ctx, logger, intent, networkID, result.Match) {
			// First match wins; one physical payment backs an intent.
			return
		}
	}
}

// commitMatch records a detection and reports whether scanning for this
// intent should stop.
func (w *IntentWatcher) commitMatch(
	ctx context.Context,
	logger zerolog.Logger,
	intent *models.PaymentIntent,
	networkID string,
	match *scanners.Match,
) bool {
	network, ok := w.cfg.Networks[networkID]
	if !ok {
		logger.Error().
			Str(logging.FieldNetwork, networkID).
			Msg("Matched on unknown network")
		return false
	}

	decimals := intent.TokenDecimals
	if match.AssetType == models.AssetTypeNative {
		decimals = network.NativeDecimals
	}

	assetMismatch := intent.ExpectedTokenAddress != "" && match.AssetType == models.AssetTypeNative

	amountNative, err := utils.RawToNative(match.AmountRaw, decimals)
	if err != nil {
		logger.Error().Err(err).
			Str("amount_raw", match.AmountRaw).
			Msg("Failed to convert matched amount")
		return false
	}

	commit := db.DetectionCommit{
		Intent:        intent,
		NetworkID:     networkID,
		TxHash:        match.TxHash,
		FromAddress:   match.FromAddress,
		AmountRaw:     match.AmountRaw,
		AmountNative:  amountNative,
		AssetType:     match.AssetType,
		TokenAddress:  match.TokenAddress,
		BlockNumber:   match.BlockNumber,
		AssetMismatch: assetMismatch,
		PricingReview: assetMismatch && w.cfg.NativeFallback == config.NativeFallbackFlag,
	}

	created, err := w.db.CommitDetection(ctx, commit)
	if err != nil {
		logger.Error().Err(err).
			Str(logging.FieldNetwork, networkID).
			Str(logging.FieldTxHash, match.TxHash).
			Msg("Failed to commit detection")
		return false
	}

	if !created {
		logger.Debug().
			Str(logging.FieldTxHash, match.TxHash).
			Msg("Detection already recorded, skipping")
		return true
	}

	w.metrics.IncDetectionCommitted(networkID)
	logger.Info().
		Str(logging.FieldNetwork, networkID).
		Str(logging.FieldTxHash, match.TxHash).
		Uint64(logging.FieldBlock, match.BlockNumber).
		Bool("asset_mismatch", assetMismatch).
		Msg("Detection committed")
	return true
}
