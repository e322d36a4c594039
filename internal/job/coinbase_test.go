package job

import (
	"encoding/binary"
	"encoding/hex"
	"strings"
	"testing"

	"solopool/internal/coinparams"
)

// S1: height 99, single P2PKH output of 300000000 zatoshi.
func TestBuildCoinbaseHeight99(t *testing.T) {
	hash160 := make([]byte, 20)
	for i := range hash160 {
		hash160[i] = byte(i)
	}
	vouts := []Vout{{ValueZat: 300000000, ScriptPubKeyType: "pubkeyhash", HashOrPubkey: hash160}}

	raw, _, err := BuildCoinbase(99, vouts, "pubkeyhash", hash160, coinparams.RewardPOW)
	if err != nil {
		t.Fatalf("BuildCoinbase: %v", err)
	}
	h := hex.EncodeToString(raw)

	if !strings.HasPrefix(h, "0400008085202f8901") {
		t.Fatalf("unexpected tx header/versionGroupId prefix: %s", h[:18])
	}

	scriptSigHex := "0163003939"
	if idx := strings.Index(h, scriptSigHex); idx < 0 {
		t.Fatalf("scriptSig %s not found in coinbase hex %s", scriptSigHex, h)
	}

	valueBytes := make([]byte, 8)
	binary.LittleEndian.PutUint64(valueBytes, 300000000)
	valueHex := hex.EncodeToString(valueBytes)
	if !strings.Contains(h, valueHex) {
		t.Fatalf("expected output value %s in coinbase hex %s", valueHex, h)
	}

	scriptPubKey := "76a914" + hex.EncodeToString(hash160) + "88ac"
	if !strings.Contains(h, scriptPubKey) {
		t.Fatalf("expected scriptPubKey %s in coinbase hex %s", scriptPubKey, h)
	}
}

// A staked coin's coinbase carries a second, zero-value output redirected
// to the pool address alongside the miner payout (spec.md §9).
func TestBuildCoinbaseStakedAppendsExtraOutput(t *testing.T) {
	hash160 := make([]byte, 20)
	vouts := []Vout{{ValueZat: 300000000, ScriptPubKeyType: "pubkeyhash", HashOrPubkey: hash160}}

	pow, _, err := BuildCoinbase(99, vouts, "pubkeyhash", hash160, coinparams.RewardPOW)
	if err != nil {
		t.Fatalf("BuildCoinbase(POW): %v", err)
	}
	pos, _, err := BuildCoinbase(99, vouts, "pubkeyhash", hash160, coinparams.RewardPOS)
	if err != nil {
		t.Fatalf("BuildCoinbase(POS): %v", err)
	}
	if len(pos) <= len(pow) {
		t.Fatalf("staked coinbase (%d bytes) should be longer than POW coinbase (%d bytes)", len(pos), len(pow))
	}
}

func TestBip34HeightPushMatchesWorkedExample(t *testing.T) {
	push := bip34HeightPush(99)
	if hex.EncodeToString(push) != "0163" {
		t.Fatalf("bip34HeightPush(99) = %x, want 0163", push)
	}
}

func TestBip34HeightPushSignPadding(t *testing.T) {
	// 128 = 0x80, top bit set, needs a sign-disambiguating extra zero byte.
	push := bip34HeightPush(128)
	if hex.EncodeToString(push) != "028000" {
		t.Fatalf("bip34HeightPush(128) = %x, want 028000", push)
	}
}
