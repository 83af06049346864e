package config

import "fmt"

// NetworkType identifies the chain family a network belongs to. Scanner and
// executor dispatch is keyed on this value.
type NetworkType string

const (
	NetworkTypeEVM    NetworkType = "EVM"
	NetworkTypeUTXO   NetworkType = "UTXO"
	NetworkTypeSolana NetworkType = "SOLANA"
)

// NetworkConfig describes a single supported network.
type NetworkConfig struct {
	ID          string
	Name        string
	Type        NetworkType
	ChainID     uint64 // EVM networks only
	RPCURL      string
	ExplorerURL string

	// RequiredConfirmations is the finality threshold for this network.
	RequiredConfirmations uint64

	// ScanWindow caps the number of blocks examined per scan call.
	ScanWindow uint64

	NativeSymbol   string
	NativeDecimals int
}

const (
	ethereumMainnetChainID = 1
	polygonMainnetChainID  = 137
	baseMainnetChainID     = 8453

	defaultEnabledNetworks = "ethereum,polygon,base"

	// defaultScanWindow bounds RPC cost per tick; the watcher advances the
	// window across ticks.
	defaultScanWindow = 40
)

var networkRegistry = map[string]*NetworkConfig{
	"ethereum": {
		ID:                    "ethereum",
		Name:                  "Ethereum",
		Type:                  NetworkTypeEVM,
		ChainID:               ethereumMainnetChainID,
		RPCURL:                "https://eth.llamarpc.com",
		ExplorerURL:           "https://etherscan.io",
		RequiredConfirmations: 12,
		ScanWindow:            defaultScanWindow,
		NativeSymbol:          "ETH",
		NativeDecimals:        18,
	},
	"polygon": {
		ID:                    "polygon",
		Name:                  "Polygon",
		Type:                  NetworkTypeEVM,
		ChainID:               polygonMainnetChainID,
		RPCURL:                "https://polygon-rpc.com",
		ExplorerURL:           "https://polygonscan.com",
		RequiredConfirmations: 64,
		ScanWindow:            defaultScanWindow,
		NativeSymbol:          "MATIC",
		NativeDecimals:        18,
	},
	"base": {
		ID:                    "base",
		Name:                  "Base",
		Type:                  NetworkTypeEVM,
		ChainID:               baseMainnetChainID,
		RPCURL:                "https://mainnet.base.org",
		ExplorerURL:           "https://basescan.org",
		RequiredConfirmations: 12,
		ScanWindow:            defaultScanWindow,
		NativeSymbol:          "ETH",
		NativeDecimals:        18,
	},
	"bitcoin": {
		ID:                    "bitcoin",
		Name:                  "Bitcoin",
		Type:                  NetworkTypeUTXO,
		RPCURL:                "https://blockstream.info/api",
		ExplorerURL:           "https://blockstream.info",
		RequiredConfirmations: 3,
		ScanWindow:            defaultScanWindow,
		NativeSymbol:          "BTC",
		NativeDecimals:        8,
	},
	"solana": {
		ID:                    "solana",
		Name:                  "Solana",
		Type:                  NetworkTypeSolana,
		RPCURL:                "https://api.mainnet-beta.solana.com",
		ExplorerURL:           "https://solscan.io",
		RequiredConfirmations: 32,
		ScanWindow:            defaultScanWindow,
		NativeSymbol:          "SOL",
		NativeDecimals:        9,
	},
}

// NetworkByID returns the registry entry for a network ID.
func NetworkByID(id string) (*NetworkConfig, error) {
	network, ok := networkRegistry[id]
	if !ok {
		return nil, fmt.Errorf("unsupported network ID: %s", id)
	}
	return network, nil
}

// ExplorerTxURL builds an explorer link for a transaction hash.
func (n *NetworkConfig) ExplorerTxURL(txHash string) string {
	return fmt.Sprintf("%s/tx/%s", n.ExplorerURL, txHash)
}
