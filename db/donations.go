package db

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	"github.com/opencause/escrow/models"
)

const donationColumns = `
	id, campaign_id, donor_id, receipt_id, network_id, tx_hash, amount_raw,
	amount_native, asset_type, token_address, fiat_value, verified,
	pricing_review, anonymous, created_at, updated_at
`

// GetDonation retrieves a donation by ID
func (p *PostgresDB) GetDonation(ctx context.Context, id string) (*models.Donation, error) {
	query := `SELECT ` + donationColumns + ` FROM donations WHERE id = $1`
	return scanDonation(p.db.QueryRowContext(ctx, query, id))
}

// ListDonationsByCampaign retrieves a page of a campaign's donations, newest
// first, along with the total count.
func (p *PostgresDB) ListDonationsByCampaign(ctx context.Context, campaignID string, page, pageSize int) ([]*models.Donation, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	var total int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM donations WHERE campaign_id = $1`, campaignID,
	).Scan(&total)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to count donations")
	}

	query := `
		SELECT ` + donationColumns + `
		FROM donations
		WHERE campaign_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := p.db.QueryContext(ctx, query, campaignID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to query donations")
	}
	defer rows.Close()

	var donations []*models.Donation
	for rows.Next() {
		donation, err := scanDonation(rows)
		if err != nil {
			return nil, 0, err
		}
		donations = append(donations, donation)
	}
	if err = rows.Err(); err != nil {
		return nil, 0, errors.Wrap(err, "error iterating donations")
	}
	return donations, total, nil
}

func scanDonation(row rowScanner) (*models.Donation, error) {
	var donation models.Donation

	err := row.Scan(
		&donation.ID,
		&donation.CampaignID,
		&donation.DonorID,
		&donation.ReceiptID,
		&donation.NetworkID,
		&donation.TxHash,
		&donation.AmountRaw,
		&donation.AmountNative,
		&donation.AssetType,
		&donation.TokenAddress,
		&donation.FiatValue,
		&donation.Verified,
		&donation.PricingReview,
		&donation.Anonymous,
		&donation.CreatedAt,
		&donation.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to scan donation")
	}
	return &donation, nil
}
