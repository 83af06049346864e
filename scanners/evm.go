package scanners

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"github.com/opencause/escrow/config"
	"github.com/opencause/escrow/logging"
	"github.com/opencause/escrow/models"
	"github.com/opencause/escrow/utils"
)

// erc20TransferABI decodes the non-indexed data of Transfer events. The
// fragment is a compile-time constant, so a parse failure is a programming
// error.
var erc20TransferABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(config.Erc20TransferEventABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// EVMClient is the chain access an EVMScanner needs. *evm.Client implements it.
type EVMClient interface {
	Network() *config.NetworkConfig
	TipHeight(ctx context.Context) (uint64, error)
	FilterTransferLogs(ctx context.Context, token, to string, fromBlock, toBlock uint64) ([]types.Log, error)
	BlockByNumber(ctx context.Context, number uint64) (*types.Block, error)
	TransactionSender(ctx context.Context, tx *types.Transaction, blockHash common.Hash, index uint) (common.Address, error)
}

// EVMScanner scans EVM networks using eth_getLogs for token transfers and
// full block bodies for native transfers.
type EVMScanner struct {
	client  EVMClient
	network *config.NetworkConfig
	logger  zerolog.Logger
}

// NewEVMScanner creates a scanner over an EVM client
func NewEVMScanner(client EVMClient, logger zerolog.Logger) *EVMScanner {
	network := client.Network()
	return &EVMScanner{
		client:  client,
		network: network,
		logger: logger.With().
			Str(logging.FieldNetwork, network.ID).
			Str(logging.FieldModule, "evm_scanner").
			Logger(),
	}
}

// NetworkID implements the Scanner interface
func (s *EVMScanner) NetworkID() string {
	return s.network.ID
}

// TipHeight implements the Scanner interface
func (s *EVMScanner) TipHeight(ctx context.Context) (uint64, error) {
	return s.client.TipHeight(ctx)
}

// Scan looks for an exact transfer in the window (cursor, cursor+ScanWindow],
// capped at the chain tip. Token transfers are checked first; native transfers
// only when the intent expects the native asset or fallback is enabled.
func (s *EVMScanner) Scan(ctx context.Context, target Target, cursor uint64) Result {
	tip, err := s.client.TipHeight(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to get tip height")
		return unreachable(cursor)
	}

	fromBlock := cursor + 1
	toBlock := cursor + s.network.ScanWindow
	if toBlock > tip {
		toBlock = tip
	}
	if fromBlock > toBlock {
		// Nothing new to scan; the cursor stays where it is.
		return noMatch(cursor)
	}

	if target.TokenAddress != "" {
		result, covered := s.scanTokenTransfers(ctx, target, fromBlock, toBlock)
		if !covered {
			return unreachable(toBlock)
		}
		if result != nil {
			return matched(result, toBlock)
		}
		if !target.NativeFallback {
			return noMatch(toBlock)
		}
	}

	match, covered := s.scanNativeTransfers(ctx, target, fromBlock, toBlock)
	if !covered {
		return unreachable(toBlock)
	}
	if match != nil {
		return matched(match, toBlock)
	}
	return noMatch(toBlock)
}

func (s *EVMScanner) scanTokenTransfers(ctx context.Context, target Target, fromBlock, toBlock uint64) (*Match, bool) {
	expected, err := utils.ParseRawAmount(target.ExpectedAmountRaw)
	if err != nil {
		s.logger.Error().Err(err).Msg("Invalid expected amount")
		return nil, true
	}

	logs, err := s.client.FilterTransferLogs(ctx, target.TokenAddress, target.DepositAddress, fromBlock, toBlock)
	if err != nil {
		s.logger.Error().Err(err).
			Uint64(logging.FieldBlock, fromBlock).
			Msg("Failed to filter transfer logs")
		return nil, false
	}

	for _, transferLog := range logs {
		if transferLog.Removed || len(transferLog.Topics) < 3 {
			continue
		}

		decoded, err := erc20TransferABI.Unpack("Transfer", transferLog.Data)
		if err != nil || len(decoded) != 1 {
			s.logger.Warn().Err(err).
				Str(logging.FieldTxHash, transferLog.TxHash.Hex()).
				Msg("Skipping undecodable transfer log")
			continue
		}
		amount, ok := decoded[0].(*big.Int)
		if !ok || amount.Cmp(expected) != 0 {
			continue
		}

		from := strings.ToLower(common.BytesToAddress(transferLog.Topics[1].Bytes()).Hex())
		return &Match{
			TxHash:       transferLog.TxHash.Hex(),
			FromAddress:  from,
			AmountRaw:    amount.String(),
			AssetType:    models.AssetTypeToken,
			TokenAddress: target.TokenAddress,
			BlockNumber:  transferLog.BlockNumber,
		}, true
	}
	return nil, true
}

func (s *EVMScanner) scanNativeTransfers(ctx context.Context, target Target, fromBlock, toBlock uint64) (*Match, bool) {
	expected, err := utils.ParseRawAmount(target.ExpectedAmountRaw)
	if err != nil {
		s.logger.Error().Err(err).Msg("Invalid expected amount")
		return nil, true
	}

	deposit := strings.ToLower(target.DepositAddress)

	for number := fromBlock; number <= toBlock; number++ {
		block, err := s.client.BlockByNumber(ctx, number)
		if err != nil {
			s.logger.Error().Err(err).
				Uint64(logging.FieldBlock, number).
				Msg("Failed to get block")
			return nil, false
		}

		for index, tx := range block.Transactions() {
			if tx.To() == nil || strings.ToLower(tx.To().Hex()) != deposit {
				continue
			}
			if tx.Value().Cmp(expected) != 0 {
				continue
			}

			from := ""
			sender, err := s.client.TransactionSender(ctx, tx, block.Hash(), uint(index))
			if err == nil {
				from = strings.ToLower(sender.Hex())
			}

			return &Match{
				TxHash:      tx.Hash().Hex(),
				FromAddress: from,
				AmountRaw:   tx.Value().String(),
				AssetType:   models.AssetTypeNative,
				BlockNumber: number,
			}, true
		}
	}
	return nil, true
}
