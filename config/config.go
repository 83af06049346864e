package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// NativeFallbackPolicy controls what happens when an intent expected a token
// transfer but the donor sent the native asset instead.
type NativeFallbackPolicy string

const (
	// NativeFallbackAccept records the detection as a mismatched-but-valid donation.
	NativeFallbackAccept NativeFallbackPolicy = "accept"

	// NativeFallbackFlag records the detection but marks the donation for manual pricing review.
	NativeFallbackFlag NativeFallbackPolicy = "flag"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port string

	// Database configuration
	DatabaseURL string

	// Watcher configuration
	TickInterval       time.Duration
	IntentBatchSize    int
	ScanConcurrency    int
	NativeFallback     NativeFallbackPolicy
	StatsReconcileCron string

	// SignerURL is the endpoint of the external signing service that holds
	// custody keys. Empty disables withdrawal execution.
	SignerURL string

	// Networks enabled for scanning and payout, keyed by network ID
	Networks map[string]*NetworkConfig
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	tickInterval, err := time.ParseDuration(getEnvOrDefault("WATCH_TICK_INTERVAL", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid WATCH_TICK_INTERVAL: %v", err)
	}

	batchSize, err := strconv.Atoi(getEnvOrDefault("INTENT_BATCH_SIZE", "50"))
	if err != nil || batchSize <= 0 {
		return nil, fmt.Errorf("invalid INTENT_BATCH_SIZE")
	}

	concurrency, err := strconv.Atoi(getEnvOrDefault("SCAN_CONCURRENCY", "8"))
	if err != nil || concurrency <= 0 {
		return nil, fmt.Errorf("invalid SCAN_CONCURRENCY")
	}

	fallback := NativeFallbackPolicy(getEnvOrDefault("NATIVE_FALLBACK_POLICY", string(NativeFallbackAccept)))
	if fallback != NativeFallbackAccept && fallback != NativeFallbackFlag {
		return nil, fmt.Errorf("invalid NATIVE_FALLBACK_POLICY: %s", fallback)
	}

	networks, err := resolveNetworks(getEnvOrDefault("ENABLED_NETWORKS", defaultEnabledNetworks))
	if err != nil {
		return nil, err
	}

	config := &Config{
		Port:               getEnvOrDefault("PORT", "8080"),
		DatabaseURL:        getEnvOrDefault("DATABASE_URL", "postgresql://localhost:5432/opencause?sslmode=disable"),
		TickInterval:       tickInterval,
		IntentBatchSize:    batchSize,
		ScanConcurrency:    concurrency,
		NativeFallback:     fallback,
		StatsReconcileCron: getEnvOrDefault("STATS_RECONCILE_CRON", "@every 5m"),
		SignerURL:          os.Getenv("SIGNER_URL"),
		Networks:           networks,
	}

	return config, nil
}

// resolveNetworks builds the enabled network set from the registry, applying
// per-network RPC URL overrides of the form <NETWORK_ID>_RPC_URL.
func resolveNetworks(enabled string) (map[string]*NetworkConfig, error) {
	networks := make(map[string]*NetworkConfig)

	for _, id := range strings.Split(enabled, ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}

		network, ok := networkRegistry[id]
		if !ok {
			return nil, fmt.Errorf("unknown network ID: %s", id)
		}

		// Copy so env overrides don't mutate the registry.
		cfg := *network

		envKey := strings.ToUpper(strings.ReplaceAll(id, "-", "_")) + "_RPC_URL"
		if url := os.Getenv(envKey); url != "" {
			cfg.RPCURL = url
		}

		networks[id] = &cfg
	}

	if len(networks) == 0 {
		return nil, fmt.Errorf("no networks enabled")
	}

	return networks, nil
}

// getEnvOrDefault returns the value of an environment variable or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
