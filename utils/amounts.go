package utils

import (
	"errors"
	"math/big"
	"strings"
)

// ParseRawAmount parses a smallest-unit integer amount string.
func ParseRawAmount(raw string) (*big.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("amount cannot be empty")
	}

	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, errors.New("invalid amount format")
	}
	if value.Sign() < 0 {
		return nil, errors.New("amount must be positive")
	}

	return value, nil
}

// RawToNative converts a smallest-unit integer amount to a decimal string in
// native display units, trimming trailing zeros. Amounts never go through
// floating point.
func RawToNative(raw string, decimals int) (string, error) {
	value, err := ParseRawAmount(raw)
	if err != nil {
		return "", err
	}
	if decimals < 0 {
		return "", errors.New("decimals must be non-negative")
	}
	if decimals == 0 {
		return value.String(), nil
	}

	divisor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	quo, rem := new(big.Int).QuoRem(value, divisor, new(big.Int))

	if rem.Sign() == 0 {
		return quo.String(), nil
	}

	frac := strings.TrimRight(
		leftPad(rem.String(), decimals),
		"0",
	)

	return quo.String() + "." + frac, nil
}

func leftPad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}
