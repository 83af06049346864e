package utxo

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gopkg.in/h2non/gentleman.v2"

	"github.com/opencause/escrow/config"
	"github.com/opencause/escrow/logging"
)

// Tx is an Esplora transaction with the fields scanning needs.
type Tx struct {
	TxID   string `json:"txid"`
	Vin    []Vin  `json:"vin"`
	Vout   []Vout `json:"vout"`
	Status struct {
		Confirmed   bool   `json:"confirmed"`
		BlockHeight uint64 `json:"block_height"`
	} `json:"status"`
}

// Vin is a transaction input with its resolved previous output.
type Vin struct {
	Prevout struct {
		ScriptPubKeyAddress string `json:"scriptpubkey_address"`
	} `json:"prevout"`
}

// Vout is a transaction output.
type Vout struct {
	ScriptPubKeyAddress string `json:"scriptpubkey_address"`
	Value               uint64 `json:"value"`
}

// Client talks to an Esplora-compatible block explorer API.
type Client struct {
	http    *gentleman.Client
	network *config.NetworkConfig
	logger  zerolog.Logger
}

// New creates a Client for an Esplora endpoint.
func New(network *config.NetworkConfig, logger zerolog.Logger) *Client {
	client := gentleman.New()
	client.BaseURL(strings.TrimRight(network.RPCURL, "/"))

	return &Client{
		http:    client,
		network: network,
		logger: logger.With().
			Str(logging.FieldNetwork, network.ID).
			Str(logging.FieldModule, "utxo_client").
			Logger(),
	}
}

// Network returns the network this client is connected to.
func (c *Client) Network() *config.NetworkConfig {
	return c.network
}

// TipHeight returns the current chain tip height.
func (c *Client) TipHeight(ctx context.Context) (uint64, error) {
	req := c.http.Request().
		Path("/blocks/tip/height")
	req.Context.SetCancelContext(ctx)
	res, err := req.Send()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get tip height")
	}
	if !res.Ok {
		return 0, errors.Errorf("tip height request failed with status %d", res.StatusCode)
	}

	height, err := strconv.ParseUint(strings.TrimSpace(res.String()), 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "failed to parse tip height")
	}
	return height, nil
}

// AddressTxs returns the confirmed transaction history of an address.
// Esplora returns the most recent page; deposit addresses are single-use so
// one page always covers the window.
func (c *Client) AddressTxs(ctx context.Context, address string) ([]Tx, error) {
	req := c.http.Request().
		Path(fmt.Sprintf("/address/%s/txs", address))
	req.Context.SetCancelContext(ctx)
	res, err := req.Send()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get address transactions")
	}
	if !res.Ok {
		return nil, errors.Errorf("address transactions request failed with status %d", res.StatusCode)
	}

	var txs []Tx
	if err := res.JSON(&txs); err != nil {
		return nil, errors.Wrap(err, "failed to decode address transactions")
	}
	return txs, nil
}

// ValueTo sums the outputs paying the given address, in satoshis.
func (t *Tx) ValueTo(address string) uint64 {
	var total uint64
	for _, vout := range t.Vout {
		if vout.ScriptPubKeyAddress == address {
			total += vout.Value
		}
	}
	return total
}

// FirstSender returns the address of the first resolved input, or empty.
func (t *Tx) FirstSender() string {
	for _, vin := range t.Vin {
		if vin.Prevout.ScriptPubKeyAddress != "" {
			return vin.Prevout.ScriptPubKeyAddress
		}
	}
	return ""
}
