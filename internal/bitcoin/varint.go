package bitcoin

import (
	"encoding/binary"
	"fmt"
)

// WriteVarInt encodes n using the Bitcoin compact-size convention:
// 0x00-0xFC -> 1 byte; 0xFD + uint16 LE; 0xFE + uint32 LE; 0xFF + uint64 LE.
func WriteVarInt(n uint64) []byte {
	switch {
	case n < 0xfd:
		return []byte{byte(n)}
	case n <= 0xffff:
		b := make([]byte, 3)
		b[0] = 0xfd
		binary.LittleEndian.PutUint16(b[1:], uint16(n))
		return b
	case n <= 0xffffffff:
		b := make([]byte, 5)
		b[0] = 0xfe
		binary.LittleEndian.PutUint32(b[1:], uint32(n))
		return b
	default:
		b := make([]byte, 9)
		b[0] = 0xff
		binary.LittleEndian.PutUint64(b[1:], n)
		return b
	}
}

// ReadVarInt decodes a compact-size integer from the start of b, returning
// the value and the number of bytes it occupied.
func ReadVarInt(b []byte) (uint64, int, error) {
	if len(b) == 0 {
		return 0, 0, fmt.Errorf("bitcoin: empty varint buffer")
	}
	switch b[0] {
	case 0xff:
		if len(b) < 9 {
			return 0, 0, fmt.Errorf("bitcoin: truncated 9-byte varint")
		}
		return binary.LittleEndian.Uint64(b[1:9]), 9, nil
	case 0xfe:
		if len(b) < 5 {
			return 0, 0, fmt.Errorf("bitcoin: truncated 5-byte varint")
		}
		return uint64(binary.LittleEndian.Uint32(b[1:5])), 5, nil
	case 0xfd:
		if len(b) < 3 {
			return 0, 0, fmt.Errorf("bitcoin: truncated 3-byte varint")
		}
		return uint64(binary.LittleEndian.Uint16(b[1:3])), 3, nil
	default:
		return uint64(b[0]), 1, nil
	}
}
