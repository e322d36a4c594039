package job

import (
	"encoding/hex"
	"strings"
	"testing"
)

func TestMerkleRootSingleton(t *testing.T) {
	cb, _ := hex.DecodeString(strings.Repeat("01", 32))
	root := MerkleRoot(cb, nil)
	want := strings.Repeat("01", 32)
	if hex.EncodeToString(root) != want {
		t.Fatalf("root = %s, want %s", hex.EncodeToString(root), want)
	}
}

func TestMerkleRootTwoLeavesIsOrderSensitive(t *testing.T) {
	cb, _ := hex.DecodeString(strings.Repeat("01", 32))
	tx, _ := hex.DecodeString(strings.Repeat("02", 32))

	rootAB := MerkleRoot(cb, [][]byte{tx})
	rootBA := MerkleRoot(tx, [][]byte{cb})
	if hex.EncodeToString(rootAB) == hex.EncodeToString(rootBA) {
		t.Fatal("expected merkle root to depend on leaf order")
	}
	if len(rootAB) != 32 {
		t.Fatalf("root length = %d, want 32", len(rootAB))
	}
}
