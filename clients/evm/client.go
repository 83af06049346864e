package evm

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/opencause/escrow/config"
	"github.com/opencause/escrow/logging"
)

// transferTopic is the keccak256 hash of Transfer(address,address,uint256).
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// Client wraps an ethclient connection to one EVM network.
type Client struct {
	eth     *ethclient.Client
	network *config.NetworkConfig
	logger  zerolog.Logger
}

// ResolveClients provisions a map of [networkID] => Client for every EVM
// network in the config, dialing them concurrently.
func ResolveClients(
	ctx context.Context,
	cfg *config.Config,
	logger zerolog.Logger,
) (map[string]*Client, error) {
	var (
		clients             = make(map[string]*Client)
		mu                  = sync.Mutex{}
		errGroup, ctxShared = errgroup.WithContext(ctx)
	)

	for id := range cfg.Networks {
		network := cfg.Networks[id]
		if network.Type != config.NetworkTypeEVM {
			continue
		}
		errGroup.Go(func() error {
			client, err := New(ctxShared, network, logger)
			if err != nil {
				return errors.Wrapf(err, "failed to create client for network %s", network.ID)
			}

			mu.Lock()
			clients[network.ID] = client
			mu.Unlock()

			return nil
		})
	}

	if err := errGroup.Wait(); err != nil {
		return nil, err
	}

	return clients, nil
}

// New creates a Client from a network configuration and verifies the
// connection with a block number probe.
func New(ctx context.Context, network *config.NetworkConfig, logger zerolog.Logger) (*Client, error) {
	logger = logger.With().
		Str(logging.FieldNetwork, network.ID).
		Str(logging.FieldModule, "evm_client").
		Logger()

	rpcURL := network.RPCURL
	if isWebSocketURL(rpcURL) {
		// Scanning is poll-based; a websocket endpoint is downgraded to HTTP.
		rpcURL = strings.Replace(rpcURL, "wss://", "https://", 1)
		rpcURL = strings.Replace(rpcURL, "ws://", "http://", 1)
		logger.Info().Msg("Downgrading WebSocket RPC URL to HTTP for polling")
	}

	ethClient, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to network")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	bn, err := ethClient.BlockNumber(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get block number")
	}

	logger.Info().
		Uint64(logging.FieldBlock, bn).
		Msg("Successfully created EVM client")

	return &Client{eth: ethClient, network: network, logger: logger}, nil
}

// Network returns the network this client is connected to.
func (c *Client) Network() *config.NetworkConfig {
	return c.network
}

// TipHeight returns the current chain head block number.
func (c *Client) TipHeight(ctx context.Context) (uint64, error) {
	bn, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to get tip height")
	}
	return bn, nil
}

// FilterTransferLogs fetches ERC-20 Transfer events sent to the given address
// within [fromBlock, toBlock]. When token is non-empty the filter is pinned to
// that contract.
func (c *Client) FilterTransferLogs(ctx context.Context, token, to string, fromBlock, toBlock uint64) ([]types.Log, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Topics: [][]common.Hash{
			{transferTopic},
			nil,
			{common.BytesToHash(common.HexToAddress(to).Bytes())},
		},
	}
	if token != "" {
		query.Addresses = []common.Address{common.HexToAddress(token)}
	}

	logs, err := c.eth.FilterLogs(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to filter transfer logs")
	}
	return logs, nil
}

// BlockByNumber fetches a full block including its transactions.
func (c *Client) BlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	block, err := c.eth.BlockByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get block %d", number)
	}
	return block, nil
}

// TransactionSender resolves the from address of a transaction in a block.
func (c *Client) TransactionSender(ctx context.Context, tx *types.Transaction, blockHash common.Hash, index uint) (common.Address, error) {
	sender, err := c.eth.TransactionSender(ctx, tx, blockHash, index)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "failed to resolve transaction sender")
	}
	return sender, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}

func isWebSocketURL(url string) bool {
	return strings.HasPrefix(url, "wss://") || strings.HasPrefix(url, "ws://")
}
