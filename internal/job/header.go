package job

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"solopool/internal/bitcoin"
)

// headerSize is fixed for Equihash-family headers: version(4) + prevHash(32)
// + merkleRoot(32) + hashReserved(32) + nTime(4) + bits(4) + nonce(32).
const headerSize = 140

// BuildHeader assembles the 140-byte Equihash block header, per spec.md
// §4.2. prevHashReversed, merkleRootReversed and hashReserved must already
// be in header (little-endian) byte order; bitsReversed likewise.
func BuildHeader(version uint32, prevHashReversed, merkleRootReversed, hashReserved []byte, nTime uint32, bitsReversed []byte, nonce []byte) ([]byte, error) {
	if len(prevHashReversed) != 32 || len(merkleRootReversed) != 32 || len(hashReserved) != 32 {
		return nil, fmt.Errorf("job: header fields must be 32 bytes")
	}
	if len(bitsReversed) != 4 {
		return nil, fmt.Errorf("job: bits must be 4 bytes")
	}
	if len(nonce) != 32 {
		return nil, fmt.Errorf("job: nonce must be 32 bytes")
	}

	header := make([]byte, 0, headerSize)
	v := make([]byte, 4)
	binary.LittleEndian.PutUint32(v, version)
	header = append(header, v...)
	header = append(header, prevHashReversed...)
	header = append(header, merkleRootReversed...)
	header = append(header, hashReserved...)
	t := make([]byte, 4)
	binary.LittleEndian.PutUint32(t, nTime)
	header = append(header, t...)
	header = append(header, bitsReversed...)
	header = append(header, nonce...)
	return header, nil
}

// SerializeBlock assembles header ‖ solution ‖ varInt(txCount) ‖ coinbase ‖
// tx1.data ‖ tx2.data ‖ … exactly as spec.md §4.2 describes.
func SerializeBlock(header []byte, solution []byte, coinbaseRaw []byte, txData [][]byte) []byte {
	count := uint64(1 + len(txData))
	out := make([]byte, 0, len(header)+len(solution)+9+len(coinbaseRaw))
	out = append(out, header...)
	out = append(out, solution...)
	out = append(out, bitcoin.WriteVarInt(count)...)
	out = append(out, coinbaseRaw...)
	for _, tx := range txData {
		out = append(out, tx...)
	}
	return out
}

// HashHeader returns SHA256d(header ‖ solution), the block's proof-of-work
// hash in its natural (little-endian, non-display) byte order.
func HashHeader(header []byte, solution []byte) []byte {
	buf := make([]byte, 0, len(header)+len(solution))
	buf = append(buf, header...)
	buf = append(buf, solution...)
	return bitcoin.DoubleSHA256(buf)
}

// ReverseHex is the hex-string convenience form of bitcoin.ReverseCopy,
// matching spec.md §8's "reverseHex" round-trip property. The orchestrator
// uses it to flip a share's display-order block hash into the byte order
// getblock expects.
func ReverseHex(hexStr string) (string, error) {
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(bitcoin.ReverseCopy(b)), nil
}
