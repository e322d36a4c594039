package bitcoin

import (
	"encoding/hex"
	"fmt"
	"math/big"
)

// BitsToTarget expands a 4-byte compact-bits value (hex, as reported in
// getblocktemplate's "bits" field) into a full 256-bit target.
func BitsToTarget(bitsHex string) (*big.Int, error) {
	raw, err := hex.DecodeString(bitsHex)
	if err != nil {
		return nil, fmt.Errorf("bitcoin: decode bits: %w", err)
	}
	if len(raw) != 4 {
		return nil, fmt.Errorf("bitcoin: bits must be 4 bytes, got %d", len(raw))
	}
	exp := int(raw[0])
	mantissa := new(big.Int).SetBytes(raw[1:4])
	shift := 8 * (exp - 3)
	if shift >= 0 {
		return new(big.Int).Lsh(mantissa, uint(shift)), nil
	}
	return new(big.Int).Rsh(mantissa, uint(-shift)), nil
}

// TargetFromHex parses a big-endian target hex string as reported by
// getblocktemplate's "target" field.
func TargetFromHex(s string) (*big.Int, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("bitcoin: decode target: %w", err)
	}
	return new(big.Int).SetBytes(raw), nil
}
