package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.TickInterval)
	assert.Equal(t, 50, cfg.IntentBatchSize)
	assert.Equal(t, 8, cfg.ScanConcurrency)
	assert.Equal(t, NativeFallbackAccept, cfg.NativeFallback)
	assert.Equal(t, "@every 5m", cfg.StatsReconcileCron)

	assert.Contains(t, cfg.Networks, "ethereum")
	assert.Contains(t, cfg.Networks, "polygon")
	assert.Contains(t, cfg.Networks, "base")
}

func TestLoadConfigNetworkSelection(t *testing.T) {
	t.Setenv("ENABLED_NETWORKS", "ethereum, bitcoin ,solana")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Len(t, cfg.Networks, 3)
	assert.Equal(t, NetworkTypeEVM, cfg.Networks["ethereum"].Type)
	assert.Equal(t, NetworkTypeUTXO, cfg.Networks["bitcoin"].Type)
	assert.Equal(t, NetworkTypeSolana, cfg.Networks["solana"].Type)
}

func TestLoadConfigRPCOverride(t *testing.T) {
	t.Setenv("ENABLED_NETWORKS", "ethereum")
	t.Setenv("ETHEREUM_RPC_URL", "http://localhost:8545")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8545", cfg.Networks["ethereum"].RPCURL)

	// The registry entry must stay untouched.
	registry, err := NetworkByID("ethereum")
	require.NoError(t, err)
	assert.NotEqual(t, "http://localhost:8545", registry.RPCURL)
}

func TestLoadConfigRejectsUnknownNetwork(t *testing.T) {
	t.Setenv("ENABLED_NETWORKS", "ethereum,dogecoin")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigRejectsInvalidFallbackPolicy(t *testing.T) {
	t.Setenv("NATIVE_FALLBACK_POLICY", "reject")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigRejectsBadNumbers(t *testing.T) {
	t.Setenv("INTENT_BATCH_SIZE", "0")
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestExplorerTxURL(t *testing.T) {
	network, err := NetworkByID("ethereum")
	require.NoError(t, err)
	assert.Equal(t, "https://etherscan.io/tx/0xabc", network.ExplorerTxURL("0xabc"))
}
