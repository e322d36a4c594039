// Package bitcoin implements the low-level binary primitives the block
// template builder and share validator need: SHA-256d, varint encoding,
// endianness reversal, base58 address decoding, Bitcoin script compilation,
// and compact-bits target expansion.
//
// Hashing runs through sha256-simd (github.com/minio/sha256-simd) rather
// than crypto/sha256: every submitted share is hashed on this path, and
// pool software commonly swaps in the SIMD-accelerated implementation for
// that reason (grounded on rodb2008-M45-Core-goPool's hash_sha256_simd.go).
package bitcoin

import (
	sha256simd "github.com/minio/sha256-simd"
)

// DoubleSHA256 returns SHA256(SHA256(b)).
func DoubleSHA256(b []byte) []byte {
	first := sha256simd.Sum256(b)
	second := sha256simd.Sum256(first[:])
	out := make([]byte, len(second))
	copy(out, second[:])
	return out
}

// ReverseBytes reverses b in place and returns it for chaining.
func ReverseBytes(b []byte) []byte {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return b
}

// ReverseCopy returns a reversed copy of b, leaving b untouched.
func ReverseCopy(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return ReverseBytes(out)
}
