package services

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"

	"github.com/opencause/escrow/config"
	"github.com/opencause/escrow/models"
	"github.com/opencause/escrow/utils"
)

// Signer is the external signing and submission capability (HSM/KMS-backed).
// The service never sees key material; it hands over an unsigned payload and
// receives a broadcastable one.
type Signer interface {
	Sign(ctx context.Context, unsignedTx []byte) ([]byte, error)
	Broadcast(ctx context.Context, signedTx []byte) (string, error)
}

// Executor submits one payout attempt for a claimed withdrawal and returns
// the resulting transaction hash. A returned error means the attempt is
// unrecoverable for this withdrawal; the caller marks it FAILED.
type Executor interface {
	Execute(ctx context.Context, network *config.NetworkConfig, withdrawal *models.WithdrawalRequest) (string, error)
}

// EVMExecutor queues a payout on the multisig custody contract: it packs a
// submitTransfer call, has the external signer sign it, and submits it. The
// custody contract executes the transfer once its signature threshold is met.
type EVMExecutor struct {
	signer     Signer
	custodyABI abi.ABI
}

// NewEVMExecutor creates an EVMExecutor
func NewEVMExecutor(signer Signer) (*EVMExecutor, error) {
	custodyABI, err := abi.JSON(strings.NewReader(config.CustodySubmitTransferABI))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse custody ABI")
	}
	return &EVMExecutor{signer: signer, custodyABI: custodyABI}, nil
}

// Execute implements the Executor interface
func (e *EVMExecutor) Execute(ctx context.Context, network *config.NetworkConfig, withdrawal *models.WithdrawalRequest) (string, error) {
	if !utils.IsValidEVMAddress(withdrawal.Destination) {
		return "", errors.Errorf("invalid EVM destination address: %s", withdrawal.Destination)
	}

	amount, err := utils.ParseRawAmount(withdrawal.Amount)
	if err != nil {
		return "", errors.Wrap(err, "invalid withdrawal amount")
	}

	// The zero token address means a native-asset payout.
	token := common.Address{}
	if withdrawal.TokenAddress != "" {
		token = common.HexToAddress(withdrawal.TokenAddress)
	}

	calldata, err := e.custodyABI.Pack(
		"submitTransfer",
		token,
		common.HexToAddress(withdrawal.Destination),
		amount,
		sha256.Sum256([]byte(withdrawal.ID)),
	)
	if err != nil {
		return "", errors.Wrap(err, "failed to pack submitTransfer")
	}

	unsigned, err := json.Marshal(map[string]interface{}{
		"network":  network.ID,
		"chain_id": network.ChainID,
		"calldata": calldata,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to encode unsigned payout")
	}

	return signAndBroadcast(ctx, e.signer, unsigned)
}

// UTXOExecutor builds a partially-signed transaction paying the destination,
// has the signer complete it, and broadcasts.
type UTXOExecutor struct {
	signer Signer
}

// NewUTXOExecutor creates a UTXOExecutor
func NewUTXOExecutor(signer Signer) *UTXOExecutor {
	return &UTXOExecutor{signer: signer}
}

// Execute implements the Executor interface
func (e *UTXOExecutor) Execute(ctx context.Context, network *config.NetworkConfig, withdrawal *models.WithdrawalRequest) (string, error) {
	amount, err := utils.ParseRawAmount(withdrawal.Amount)
	if err != nil {
		return "", errors.Wrap(err, "invalid withdrawal amount")
	}
	if !amount.IsUint64() {
		return "", errors.New("amount exceeds representable satoshi value")
	}

	unsigned, err := json.Marshal(map[string]interface{}{
		"network": network.ID,
		"outputs": []map[string]interface{}{
			{"address": withdrawal.Destination, "value": amount.Uint64()},
		},
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to encode unsigned payout")
	}

	return signAndBroadcast(ctx, e.signer, unsigned)
}

// SolanaExecutor builds a transfer instruction payload for the custody
// account, has the signer sign it, and broadcasts.
type SolanaExecutor struct {
	signer Signer
}

// NewSolanaExecutor creates a SolanaExecutor
func NewSolanaExecutor(signer Signer) *SolanaExecutor {
	return &SolanaExecutor{signer: signer}
}

// Execute implements the Executor interface
func (e *SolanaExecutor) Execute(ctx context.Context, network *config.NetworkConfig, withdrawal *models.WithdrawalRequest) (string, error) {
	amount, ok := new(big.Int).SetString(withdrawal.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return "", errors.New("invalid withdrawal amount")
	}

	instruction := "system:transfer"
	if withdrawal.TokenAddress != "" {
		instruction = "spl-token:transfer"
	}

	unsigned, err := json.Marshal(map[string]interface{}{
		"network":     network.ID,
		"instruction": instruction,
		"mint":        withdrawal.TokenAddress,
		"destination": withdrawal.Destination,
		"amount":      amount.String(),
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to encode unsigned payout")
	}

	return signAndBroadcast(ctx, e.signer, unsigned)
}

func signAndBroadcast(ctx context.Context, signer Signer, unsigned []byte) (string, error) {
	signed, err := signer.Sign(ctx, unsigned)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign payout")
	}

	txHash, err := signer.Broadcast(ctx, signed)
	if err != nil {
		return "", errors.Wrap(err, "failed to broadcast payout")
	}
	return txHash, nil
}
