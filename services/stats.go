package services

import (
	"context"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/opencause/escrow/db"
	"github.com/opencause/escrow/logging"
)

// StatsReconciler periodically rebuilds campaign aggregate projections from
// confirmed donations and executed withdrawals. The projection is derived
// state; a missed or repeated run is harmless.
type StatsReconciler struct {
	db       db.Database
	schedule string
	cron     *cron.Cron
	metrics  *MetricsService
	logger   zerolog.Logger
}

// NewStatsReconciler creates a StatsReconciler on a cron schedule
// (e.g. "@every 5m").
func NewStatsReconciler(database db.Database, schedule string, metrics *MetricsService, logger zerolog.Logger) *StatsReconciler {
	return &StatsReconciler{
		db:       database,
		schedule: schedule,
		cron:     cron.New(),
		metrics:  metrics,
		logger:   logger.With().Str(logging.FieldModule, "stats_reconciler").Logger(),
	}
}

// Start registers the schedule and starts the cron runner.
func (s *StatsReconciler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.schedule, func() {
		s.Run(ctx)
	})
	if err != nil {
		return errors.Wrapf(err, "invalid reconcile schedule %q", s.schedule)
	}

	s.cron.Start()
	s.logger.Info().Str("schedule", s.schedule).Msg("Stats reconciler started")
	return nil
}

// Stop halts scheduling and waits for a running job to finish.
func (s *StatsReconciler) Stop() {
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info().Msg("Stats reconciler stopped")
}

// Run reconciles every campaign with ledger activity. Per-campaign failures
// are logged and do not stop the sweep.
func (s *StatsReconciler) Run(ctx context.Context) {
	ids, err := s.db.ListActiveCampaignIDs(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list active campaigns")
		return
	}

	for _, campaignID := range ids {
		stats, err := s.db.RecomputeCampaignStats(ctx, campaignID)
		if err != nil {
			s.logger.Error().Err(err).
				Str(logging.FieldCampaign, campaignID).
				Msg("Failed to recompute campaign stats")
			continue
		}

		s.logger.Debug().
			Str(logging.FieldCampaign, campaignID).
			Int("donation_count", stats.DonationCount).
			Msg("Campaign stats reconciled")
	}

	s.metrics.IncStatsReconcileRun()
}
