package scanners

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/opencause/escrow/clients/solana"
	"github.com/opencause/escrow/config"
	"github.com/opencause/escrow/logging"
	"github.com/opencause/escrow/models"
)

// signatureFetchLimit bounds one pass over an address's recent signatures.
// Deposit addresses are single-use, so traffic above this means abuse rather
// than donations.
const signatureFetchLimit = 50

// SolanaClient is the RPC access a SolanaScanner needs. *solana.Client
// implements it.
type SolanaClient interface {
	Network() *config.NetworkConfig
	Slot(ctx context.Context) (uint64, error)
	SignaturesForAddress(ctx context.Context, address string, limit int) ([]solana.SignatureInfo, error)
	GetTransaction(ctx context.Context, signature string) (*solana.Transaction, error)
}

// SolanaScanner scans Solana using signature history and parsed balance
// deltas. Slots play the role blocks play elsewhere.
type SolanaScanner struct {
	client  SolanaClient
	network *config.NetworkConfig
	logger  zerolog.Logger
}

// NewSolanaScanner creates a scanner over a Solana RPC client
func NewSolanaScanner(client SolanaClient, logger zerolog.Logger) *SolanaScanner {
	network := client.Network()
	return &SolanaScanner{
		client:  client,
		network: network,
		logger: logger.With().
			Str(logging.FieldNetwork, network.ID).
			Str(logging.FieldModule, "solana_scanner").
			Logger(),
	}
}

// NetworkID implements the Scanner interface
func (s *SolanaScanner) NetworkID() string {
	return s.network.ID
}

// TipHeight implements the Scanner interface
func (s *SolanaScanner) TipHeight(ctx context.Context) (uint64, error) {
	return s.client.Slot(ctx)
}

// Scan looks for an exact transfer among the deposit address's signatures
// above the cursor slot. Token balance deltas are checked first; native
// lamport deltas only when expected or fallback is enabled.
func (s *SolanaScanner) Scan(ctx context.Context, target Target, cursor uint64) Result {
	tip, err := s.client.Slot(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to get slot")
		return unreachable(cursor)
	}
	if tip <= cursor {
		return noMatch(cursor)
	}

	sigs, err := s.client.SignaturesForAddress(ctx, target.DepositAddress, signatureFetchLimit)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to get signatures")
		return unreachable(tip)
	}

	for _, sig := range sigs {
		if sig.Err != nil || sig.Slot <= cursor {
			continue
		}

		tx, err := s.client.GetTransaction(ctx, sig.Signature)
		if err != nil {
			s.logger.Error().Err(err).
				Str(logging.FieldTxHash, sig.Signature).
				Msg("Failed to get transaction")
			return unreachable(tip)
		}
		if tx.Failed() {
			continue
		}

		if match := s.matchTransaction(tx, target, sig); match != nil {
			return matched(match, tip)
		}
	}

	return noMatch(tip)
}

func (s *SolanaScanner) matchTransaction(tx *solana.Transaction, target Target, sig solana.SignatureInfo) *Match {
	if target.TokenAddress != "" {
		amount := tx.TokenAmountTo(target.DepositAddress, target.TokenAddress)
		if amount == target.ExpectedAmountRaw {
			return &Match{
				TxHash:       sig.Signature,
				FromAddress:  tx.FirstSigner(),
				AmountRaw:    amount,
				AssetType:    models.AssetTypeToken,
				TokenAddress: target.TokenAddress,
				BlockNumber:  sig.Slot,
			}
		}
		if !target.NativeFallback {
			return nil
		}
	}

	lamports := tx.LamportsTo(target.DepositAddress)
	if lamports == 0 || strconv.FormatUint(lamports, 10) != target.ExpectedAmountRaw {
		return nil
	}
	return &Match{
		TxHash:      sig.Signature,
		FromAddress: tx.FirstSigner(),
		AmountRaw:   strconv.FormatUint(lamports, 10),
		AssetType:   models.AssetTypeNative,
		BlockNumber: sig.Slot,
	}
}
