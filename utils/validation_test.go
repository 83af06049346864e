package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateDepositAddress(t *testing.T) {
	tests := []struct {
		name    string
		family  string
		address string
		wantErr bool
	}{
		{"valid evm", "EVM", "0x1234567890abcdef1234567890abcdef12345678", false},
		{"evm missing prefix", "EVM", "1234567890abcdef1234567890abcdef12345678", true},
		{"evm too short", "EVM", "0x1234", true},
		{"valid bech32", "UTXO", "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", false},
		{"valid legacy", "UTXO", "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa", false},
		{"utxo garbage", "UTXO", "not-an-address", true},
		{"valid solana", "SOLANA", "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM", false},
		{"solana with zero char", "SOLANA", "0OIl9WzDXwBbmkg8ZTbNMqUxvQRAyrZz", true},
		{"unknown family", "TRON", "whatever", true},
		{"empty address", "EVM", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDepositAddress(tt.family, tt.address)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateEvidenceHash(t *testing.T) {
	assert.NoError(t, ValidateEvidenceHash("a3f5c1d2e4b6a8c0d2e4f6a8b0c2d4e6f8a0b2c4d6e8f0a2b4c6d8e0f2a4b6c8"))
	assert.Error(t, ValidateEvidenceHash(""))
	assert.Error(t, ValidateEvidenceHash("a3f5"))
	assert.Error(t, ValidateEvidenceHash("z3f5c1d2e4b6a8c0d2e4f6a8b0c2d4e6f8a0b2c4d6e8f0a2b4c6d8e0f2a4b6c8"))
}

func TestIsValidEVMTxHash(t *testing.T) {
	assert.True(t, IsValidEVMTxHash("0xabcdef1234567890abcdef1234567890abcdef1234567890abcdef1234567890"))
	assert.False(t, IsValidEVMTxHash("0x1234"))
}
