package models

import (
	"fmt"
	"time"
)

// AssetType distinguishes native-asset transfers from token-standard transfers
type AssetType string

const (
	AssetTypeNative AssetType = "NATIVE"
	AssetTypeToken  AssetType = "TOKEN"
)

// ChainTransactionStatus represents the confirmation state of an observed transfer
type ChainTransactionStatus string

const (
	// ChainTxStatusSeen indicates the transfer was sighted but has no confirmations yet
	ChainTxStatusSeen ChainTransactionStatus = "SEEN"

	// ChainTxStatusConfirming indicates the transfer is gathering confirmations
	ChainTxStatusConfirming ChainTransactionStatus = "CONFIRMING"

	// ChainTxStatusConfirmed indicates the transfer reached the network's finality threshold
	ChainTxStatusConfirmed ChainTransactionStatus = "CONFIRMED"
)

// ChainTransaction is an observed on-chain transfer.
//
// The compound ID guarantees at most one record per (network, tx hash), which
// makes detection naturally idempotent at this layer.
type ChainTransaction struct {
	ID          string `json:"id"` // {networkID}_{txHash}
	NetworkID   string `json:"network_id"`
	TxHash      string `json:"tx_hash"`
	ToAddress   string `json:"to_address"`
	FromAddress string `json:"from_address,omitempty"`

	// AmountRaw is an integer in the asset's smallest unit.
	AmountRaw string `json:"amount_raw"`

	// AmountNative is a decimal string in native display units.
	AmountNative string `json:"amount_native"`

	AssetType    AssetType `json:"asset_type"`
	TokenAddress string    `json:"token_address,omitempty"`

	BlockNumber   uint64                 `json:"block_number"`
	Confirmations uint64                 `json:"confirmations"`
	Status        ChainTransactionStatus `json:"status"`

	// IntentID links back to the originating payment intent.
	IntentID string `json:"intent_id"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChainTransactionID builds the compound id for a (network, tx hash) pair.
func ChainTransactionID(networkID, txHash string) string {
	return fmt.Sprintf("%s_%s", networkID, txHash)
}
