package bitcoin

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
)

// DecodeAddress base58-decodes addr and strips the Base58Check checksum,
// returning the version byte (or bytes, for coins with a 2-byte prefix) and
// the 20-byte hash payload. spec.md §6 requires the decoded form to be 25
// or 26 bytes total (1-2 version bytes + 20-byte hash + 4-byte checksum).
func DecodeAddress(addr string) (version []byte, hash160 []byte, err error) {
	decoded := base58.Decode(addr)
	if len(decoded) == 0 {
		return nil, nil, fmt.Errorf("bitcoin: invalid base58 address %q", addr)
	}
	switch len(decoded) {
	case 25:
		// 1-byte version + 20-byte hash + 4-byte checksum.
		if !verifyChecksum(decoded) {
			return nil, nil, fmt.Errorf("bitcoin: bad checksum for %q", addr)
		}
		return decoded[0:1], decoded[1:21], nil
	case 26:
		// 2-byte version + 20-byte hash + 4-byte checksum.
		if !verifyChecksum(decoded) {
			return nil, nil, fmt.Errorf("bitcoin: bad checksum for %q", addr)
		}
		return decoded[0:2], decoded[2:22], nil
	default:
		return nil, nil, fmt.Errorf("bitcoin: address %q decodes to %d bytes, want 25 or 26", addr, len(decoded))
	}
}

func verifyChecksum(decoded []byte) bool {
	payload := decoded[:len(decoded)-4]
	checksum := decoded[len(decoded)-4:]
	want := DoubleSHA256(payload)[:4]
	for i := range checksum {
		if checksum[i] != want[i] {
			return false
		}
	}
	return true
}
