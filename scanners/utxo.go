package scanners

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/opencause/escrow/clients/utxo"
	"github.com/opencause/escrow/config"
	"github.com/opencause/escrow/logging"
	"github.com/opencause/escrow/models"
)

// UTXOClient is the explorer access a UTXOScanner needs. *utxo.Client
// implements it.
type UTXOClient interface {
	Network() *config.NetworkConfig
	TipHeight(ctx context.Context) (uint64, error)
	AddressTxs(ctx context.Context, address string) ([]utxo.Tx, error)
}

// UTXOScanner scans Bitcoin-family networks through an Esplora API. UTXO
// chains carry no tokens, so only native output matching applies.
type UTXOScanner struct {
	client  UTXOClient
	network *config.NetworkConfig
	logger  zerolog.Logger
}

// NewUTXOScanner creates a scanner over an Esplora client
func NewUTXOScanner(client UTXOClient, logger zerolog.Logger) *UTXOScanner {
	network := client.Network()
	return &UTXOScanner{
		client:  client,
		network: network,
		logger: logger.With().
			Str(logging.FieldNetwork, network.ID).
			Str(logging.FieldModule, "utxo_scanner").
			Logger(),
	}
}

// NetworkID implements the Scanner interface
func (s *UTXOScanner) NetworkID() string {
	return s.network.ID
}

// TipHeight implements the Scanner interface
func (s *UTXOScanner) TipHeight(ctx context.Context) (uint64, error) {
	return s.client.TipHeight(ctx)
}

// Scan matches against the deposit address's confirmed history above the
// cursor. The address history is complete, so the cursor can advance straight
// to the tip on a covered pass.
func (s *UTXOScanner) Scan(ctx context.Context, target Target, cursor uint64) Result {
	tip, err := s.client.TipHeight(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to get tip height")
		return unreachable(cursor)
	}
	if tip <= cursor {
		return noMatch(cursor)
	}

	txs, err := s.client.AddressTxs(ctx, target.DepositAddress)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to get address transactions")
		return unreachable(tip)
	}

	for _, tx := range txs {
		if !tx.Status.Confirmed || tx.Status.BlockHeight <= cursor {
			continue
		}

		value := tx.ValueTo(target.DepositAddress)
		if value == 0 || strconv.FormatUint(value, 10) != target.ExpectedAmountRaw {
			continue
		}

		return matched(&Match{
			TxHash:      tx.TxID,
			FromAddress: tx.FirstSender(),
			AmountRaw:   strconv.FormatUint(value, 10),
			AssetType:   models.AssetTypeNative,
			BlockNumber: tx.Status.BlockHeight,
		}, tip)
	}

	return noMatch(tip)
}
