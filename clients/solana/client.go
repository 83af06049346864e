package solana

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/opencause/escrow/config"
	"github.com/opencause/escrow/logging"
)

// SignatureInfo is one entry of a getSignaturesForAddress response.
type SignatureInfo struct {
	Signature string      `json:"signature"`
	Slot      uint64      `json:"slot"`
	Err       interface{} `json:"err"`
}

// Transaction is a getTransaction response in jsonParsed encoding.
type Transaction struct {
	Slot        uint64  `json:"slot"`
	Meta        *TxMeta `json:"meta"`
	Transaction TxBody  `json:"transaction"`
}

// TxMeta carries the balance deltas the scanner matches against.
type TxMeta struct {
	Err               interface{}    `json:"err"`
	PreBalances       []uint64       `json:"preBalances"`
	PostBalances      []uint64       `json:"postBalances"`
	PreTokenBalances  []TokenBalance `json:"preTokenBalances"`
	PostTokenBalances []TokenBalance `json:"postTokenBalances"`
}

// TokenBalance is an SPL token account balance snapshot.
type TokenBalance struct {
	AccountIndex  int    `json:"accountIndex"`
	Mint          string `json:"mint"`
	Owner         string `json:"owner"`
	UITokenAmount struct {
		Amount string `json:"amount"`
	} `json:"uiTokenAmount"`
}

// TxBody is the parsed transaction envelope.
type TxBody struct {
	Message struct {
		AccountKeys []AccountKey `json:"accountKeys"`
	} `json:"message"`
}

// AccountKey is one account referenced by a transaction.
type AccountKey struct {
	Pubkey string `json:"pubkey"`
	Signer bool   `json:"signer"`
}

// Client talks JSON-RPC to a Solana node.
type Client struct {
	rpc     *rpc.Client
	network *config.NetworkConfig
	logger  zerolog.Logger
}

// New creates a Client and verifies the connection with a slot probe.
func New(ctx context.Context, network *config.NetworkConfig, logger zerolog.Logger) (*Client, error) {
	logger = logger.With().
		Str(logging.FieldNetwork, network.ID).
		Str(logging.FieldModule, "solana_client").
		Logger()

	rpcClient, err := rpc.DialContext(ctx, network.RPCURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to solana rpc")
	}

	client := &Client{rpc: rpcClient, network: network, logger: logger}

	slot, err := client.Slot(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get slot")
	}

	logger.Info().
		Uint64(logging.FieldBlock, slot).
		Msg("Successfully created Solana client")

	return client, nil
}

// Network returns the network this client is connected to.
func (c *Client) Network() *config.NetworkConfig {
	return c.network
}

// Slot returns the current finalized slot, the chain-height analogue used for
// cursors and confirmation depth.
func (c *Client) Slot(ctx context.Context) (uint64, error) {
	var slot uint64
	err := c.rpc.CallContext(ctx, &slot, "getSlot", map[string]interface{}{
		"commitment": "finalized",
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to get slot")
	}
	return slot, nil
}

// SignaturesForAddress returns recent transaction signatures touching the
// address, newest first.
func (c *Client) SignaturesForAddress(ctx context.Context, address string, limit int) ([]SignatureInfo, error) {
	var sigs []SignatureInfo
	err := c.rpc.CallContext(ctx, &sigs, "getSignaturesForAddress", address, map[string]interface{}{
		"limit":      limit,
		"commitment": "confirmed",
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get signatures for address")
	}
	return sigs, nil
}

// GetTransaction fetches a transaction with parsed balance metadata.
func (c *Client) GetTransaction(ctx context.Context, signature string) (*Transaction, error) {
	var tx Transaction
	err := c.rpc.CallContext(ctx, &tx, "getTransaction", signature, map[string]interface{}{
		"encoding":                       "jsonParsed",
		"maxSupportedTransactionVersion": 0,
		"commitment":                     "confirmed",
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get transaction")
	}
	return &tx, nil
}

// Close releases the underlying RPC connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// LamportsTo returns the native balance increase of the address in this
// transaction, in lamports.
func (t *Transaction) LamportsTo(address string) uint64 {
	if t.Meta == nil {
		return 0
	}
	for i, key := range t.Transaction.Message.AccountKeys {
		if key.Pubkey != address {
			continue
		}
		if i >= len(t.Meta.PreBalances) || i >= len(t.Meta.PostBalances) {
			return 0
		}
		if t.Meta.PostBalances[i] > t.Meta.PreBalances[i] {
			return t.Meta.PostBalances[i] - t.Meta.PreBalances[i]
		}
		return 0
	}
	return 0
}

// TokenAmountTo returns the SPL token balance increase for accounts owned by
// the address for the given mint, as a raw integer string. Empty when no
// increase happened.
func (t *Transaction) TokenAmountTo(address, mint string) string {
	if t.Meta == nil {
		return ""
	}

	pre := make(map[int]*big.Int)
	for _, balance := range t.Meta.PreTokenBalances {
		if balance.Owner == address && balance.Mint == mint {
			if amount, ok := new(big.Int).SetString(balance.UITokenAmount.Amount, 10); ok {
				pre[balance.AccountIndex] = amount
			}
		}
	}

	delta := new(big.Int)
	for _, balance := range t.Meta.PostTokenBalances {
		if balance.Owner != address || balance.Mint != mint {
			continue
		}
		post, ok := new(big.Int).SetString(balance.UITokenAmount.Amount, 10)
		if !ok {
			continue
		}
		before := pre[balance.AccountIndex]
		if before == nil {
			before = new(big.Int)
		}
		delta.Add(delta, new(big.Int).Sub(post, before))
	}

	if delta.Sign() <= 0 {
		return ""
	}
	return delta.String()
}

// FirstSigner returns the fee payer account of the transaction, or empty.
func (t *Transaction) FirstSigner() string {
	for _, key := range t.Transaction.Message.AccountKeys {
		if key.Signer {
			return key.Pubkey
		}
	}
	return ""
}

// Failed reports whether the transaction errored on chain.
func (t *Transaction) Failed() bool {
	return t.Meta != nil && t.Meta.Err != nil
}
