package job

import (
	"solopool/internal/bitcoin"
)

// MerkleRoot concatenates the coinbase hash with the remaining transaction
// hashes, all in canonical (natural, non-display) byte order, and folds them
// pairwise with double-SHA256 until a single 32-byte root remains, per
// spec.md §4.2. The root is returned reverse-endian (display order).
// txHashes arrive in daemon display order (big-endian hex) and are
// reverse-endian already by the time they reach here; coinbaseHash is the
// raw 32-byte hash as computed from the serialized coinbase, which is
// already canonical.
func MerkleRoot(coinbaseHash []byte, txHashes [][]byte) []byte {
	leaves := make([][]byte, 0, 1+len(txHashes))
	leaves = append(leaves, append([]byte{}, coinbaseHash...))
	leaves = append(leaves, txHashes...)

	if len(leaves) == 1 {
		// A lone leaf (coinbase only) is the root; return it reverse-endian
		// like a folded root.
		return bitcoin.ReverseCopy(leaves[0])
	}

	for len(leaves) > 1 {
		if len(leaves)%2 == 1 {
			leaves = append(leaves, leaves[len(leaves)-1])
		}
		next := make([][]byte, 0, len(leaves)/2)
		for i := 0; i < len(leaves); i += 2 {
			pair := append(append([]byte{}, leaves[i]...), leaves[i+1]...)
			next = append(next, bitcoin.DoubleSHA256(pair))
		}
		leaves = next
	}
	return bitcoin.ReverseCopy(leaves[0])
}
