package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GenerateID creates a new UUID v4
func GenerateID() string {
	return uuid.New().String()
}

// DonationID derives the deterministic donation id from on-chain facts.
// Two independent detections of the same physical transaction always compute
// the same id, which is what makes the detection commit idempotent across
// concurrent ticks.
func DonationID(networkID, txHash, destinationAddress, tokenAddress string) string {
	tokenKey := "native"
	if tokenAddress != "" {
		tokenKey = strings.ToLower(tokenAddress)
	}

	payload := fmt.Sprintf("%s|%s|%s|%s",
		strings.ToLower(networkID),
		strings.ToLower(txHash),
		strings.ToLower(destinationAddress),
		tokenKey,
	)

	sum := sha256.Sum256([]byte(payload))
	return "don_" + hex.EncodeToString(sum[:])[:40]
}
