package db

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/opencause/escrow/models"
)

// GetCampaign retrieves a campaign by ID
func (p *PostgresDB) GetCampaign(ctx context.Context, id string) (*models.Campaign, error) {
	query := `
		SELECT id, organizer_id, title, status, created_at, updated_at
		FROM campaigns
		WHERE id = $1
	`

	var campaign models.Campaign
	err := p.db.QueryRowContext(ctx, query, id).Scan(
		&campaign.ID,
		&campaign.OrganizerID,
		&campaign.Title,
		&campaign.Status,
		&campaign.CreatedAt,
		&campaign.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get campaign")
	}
	return &campaign, nil
}

// GetMilestone retrieves a milestone by ID
func (p *PostgresDB) GetMilestone(ctx context.Context, id string) (*models.Milestone, error) {
	query := `
		SELECT id, campaign_id, title, cap_amount, released_amount, status,
			cooling_off_hours, review_window_hours, opened_at, last_release_at,
			created_at, updated_at
		FROM milestones
		WHERE id = $1
	`

	var milestone models.Milestone
	err := p.db.QueryRowContext(ctx, query, id).Scan(
		&milestone.ID,
		&milestone.CampaignID,
		&milestone.Title,
		&milestone.CapAmount,
		&milestone.ReleasedAmount,
		&milestone.Status,
		&milestone.CoolingOffHours,
		&milestone.ReviewWindowHours,
		&milestone.OpenedAt,
		&milestone.LastReleaseAt,
		&milestone.CreatedAt,
		&milestone.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get milestone")
	}
	return &milestone, nil
}

// GetVendor retrieves a vendor allow-list entry by ID
func (p *PostgresDB) GetVendor(ctx context.Context, id string) (*models.Vendor, error) {
	query := `
		SELECT id, name, allowlisted, credential_status, created_at
		FROM vendors
		WHERE id = $1
	`

	var vendor models.Vendor
	err := p.db.QueryRowContext(ctx, query, id).Scan(
		&vendor.ID,
		&vendor.Name,
		&vendor.Allowlisted,
		&vendor.CredentialStatus,
		&vendor.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get vendor")
	}
	return &vendor, nil
}

// GetCampaignStats retrieves the reconciled aggregates for a campaign
func (p *PostgresDB) GetCampaignStats(ctx context.Context, campaignID string) (*models.CampaignStats, error) {
	query := `
		SELECT campaign_id, donation_count, total_raised_fiat,
			total_released_fiat, unpriced_donations, updated_at
		FROM campaign_stats
		WHERE campaign_id = $1
	`

	var stats models.CampaignStats
	err := p.db.QueryRowContext(ctx, query, campaignID).Scan(
		&stats.CampaignID,
		&stats.DonationCount,
		&stats.TotalRaisedFiat,
		&stats.TotalReleasedFiat,
		&stats.UnpricedDonations,
		&stats.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get campaign stats")
	}
	return &stats, nil
}

// RecomputeCampaignStats rebuilds a campaign's aggregates from confirmed
// ledger entries and upserts the projection row. The stats row is always a
// pure function of the underlying donations and withdrawals, so recomputing
// it is safe at any time.
func (p *PostgresDB) RecomputeCampaignStats(ctx context.Context, campaignID string) (*models.CampaignStats, error) {
	query := `
		INSERT INTO campaign_stats (
			campaign_id, donation_count, total_raised_fiat,
			total_released_fiat, unpriced_donations, updated_at
		)
		SELECT
			$1,
			COALESCE(d.donation_count, 0),
			COALESCE(d.total_raised, 0),
			COALESCE(w.total_released, 0),
			COALESCE(d.unpriced, 0),
			NOW()
		FROM (SELECT 1) AS one
		LEFT JOIN (
			SELECT
				COUNT(*) AS donation_count,
				SUM(CASE WHEN fiat_value <> '' THEN fiat_value::numeric ELSE 0 END) AS total_raised,
				COUNT(*) FILTER (WHERE fiat_value = '') AS unpriced
			FROM donations
			WHERE campaign_id = $1 AND verified = TRUE
		) d ON TRUE
		LEFT JOIN (
			SELECT SUM(amount) AS total_released
			FROM withdrawal_requests
			WHERE campaign_id = $1 AND status = $2
		) w ON TRUE
		ON CONFLICT (campaign_id) DO UPDATE
		SET donation_count = EXCLUDED.donation_count,
			total_raised_fiat = EXCLUDED.total_raised_fiat,
			total_released_fiat = EXCLUDED.total_released_fiat,
			unpriced_donations = EXCLUDED.unpriced_donations,
			updated_at = EXCLUDED.updated_at
		RETURNING campaign_id, donation_count, total_raised_fiat,
			total_released_fiat, unpriced_donations, updated_at
	`

	var stats models.CampaignStats
	err := p.db.QueryRowContext(ctx, query, campaignID, models.WithdrawalStatusExecuted).Scan(
		&stats.CampaignID,
		&stats.DonationCount,
		&stats.TotalRaisedFiat,
		&stats.TotalReleasedFiat,
		&stats.UnpricedDonations,
		&stats.UpdatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to recompute campaign stats")
	}
	return &stats, nil
}

// ListActiveCampaignIDs returns campaigns with confirmed ledger activity,
// the working set for the stats reconciler.
func (p *PostgresDB) ListActiveCampaignIDs(ctx context.Context) ([]string, error) {
	query := `
		SELECT DISTINCT campaign_id FROM donations WHERE verified = TRUE
		UNION
		SELECT DISTINCT campaign_id FROM withdrawal_requests WHERE status = $1
	`

	rows, err := p.db.QueryContext(ctx, query, models.WithdrawalStatusExecuted)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query active campaigns")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "failed to scan campaign id")
		}
		ids = append(ids, id)
	}
	if err = rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating campaign ids")
	}
	return ids, nil
}
