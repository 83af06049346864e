package utils

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	// EVM address pattern
	evmAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

	// EVM transaction hash pattern
	evmTxHashRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)

	// Base58 pattern covering Bitcoin legacy/bech32 and Solana addresses,
	// loose on purpose: exact checksum validation belongs to the chain clients.
	base58Regex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{26,44}$`)
	bech32Regex = regexp.MustCompile(`^(bc1|tb1)[02-9ac-hj-np-z]{11,87}$`)

	// Evidence hashes are hex-encoded SHA-256 digests.
	evidenceHashRegex = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)
)

// IsValidEVMAddress checks if a string is a valid EVM address
func IsValidEVMAddress(address string) bool {
	return evmAddressRegex.MatchString(address)
}

// IsValidEVMTxHash checks if a string is a valid EVM transaction hash
func IsValidEVMTxHash(hash string) bool {
	return evmTxHashRegex.MatchString(hash)
}

// ValidateDepositAddress validates an address for the given network family.
// Family is the network type string from config (EVM, UTXO, SOLANA).
func ValidateDepositAddress(family, address string) error {
	if address == "" {
		return errors.New("address cannot be empty")
	}

	switch family {
	case "EVM":
		if !evmAddressRegex.MatchString(address) {
			return fmt.Errorf("invalid EVM address format: %s", address)
		}
	case "UTXO":
		if !base58Regex.MatchString(address) && !bech32Regex.MatchString(address) {
			return fmt.Errorf("invalid UTXO address format: %s", address)
		}
	case "SOLANA":
		if !base58Regex.MatchString(address) {
			return fmt.Errorf("invalid Solana address format: %s", address)
		}
	default:
		return fmt.Errorf("unknown network family: %s", family)
	}

	return nil
}

// ValidateEvidenceHash validates a canonical evidence bundle hash
func ValidateEvidenceHash(hash string) error {
	if hash == "" {
		return errors.New("evidence hash cannot be empty")
	}
	if !evidenceHashRegex.MatchString(hash) {
		return errors.New("evidence hash must be a hex-encoded SHA-256 digest")
	}
	return nil
}
