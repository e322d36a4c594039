package job

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"solopool/internal/bitcoin"
	"solopool/internal/coinparams"
)

// Zcash/Komodo Sapling transaction constants (ZIP-243/ZIP-244 predate this
// pool's wire format; the coinbase is a plain transparent Sapling-version
// transaction with no shielded spends/outputs/joinsplits).
const (
	saplingHeader        uint32 = 0x80000004 // fOverwintered | txVersion(4)
	saplingVersionGroupID uint32 = 0x892F2085
)

// Vout is one daemon-reported coinbase output (from getblocktemplate's
// "coinbasetxn"/"vouts", or synthesized from the pool address for the
// redirected first output).
type Vout struct {
	ValueZat       int64
	ScriptPubKeyType string // "pubkey", "pubkeyhash", "nulldata", ...
	HashOrPubkey   []byte // 20-byte hash160, or the raw pubkey for "pubkey"
}

// BuildCoinbase serializes the pool's coinbase transaction for the given
// block height and outputs, per spec.md §4.2. The first output is always
// redirected to poolScript/poolScriptType regardless of what the daemon
// reported, so the block reward lands on the pool's own address. A
// RewardPOS coin (probed at startup via getinfo.staked, spec.md §9)
// appends a second, zero-value output back to the pool address: Komodo
// assetchains running proof-of-stake expect the coinbase to carry a stake
// source output distinct from the miner payout.
func BuildCoinbase(height int64, vouts []Vout, poolScriptType string, poolHashOrPubkey []byte, reward coinparams.RewardType) (raw []byte, hash []byte, err error) {
	scriptSig := coinbaseScriptSig(height)
	if len(scriptSig) > 100 {
		return nil, nil, fmt.Errorf("job: coinbase scriptSig too long (%d bytes)", len(scriptSig))
	}

	var buf []byte
	buf = appendUint32LE(buf, saplingHeader)
	buf = appendUint32LE(buf, saplingVersionGroupID)

	// vin: exactly one, the coinbase input.
	buf = append(buf, bitcoin.WriteVarInt(1)...)
	buf = append(buf, make([]byte, 32)...) // null prevout hash
	buf = appendUint32LE(buf, 0xFFFFFFFF)   // prevout index
	buf = append(buf, bitcoin.WriteVarInt(uint64(len(scriptSig)))...)
	buf = append(buf, scriptSig...)
	buf = appendUint32LE(buf, 0xFFFFFFFF) // sequence

	// vout: only non-zero-value outputs survive; the first one is always
	// redirected to the pool's own address/pubkey.
	var nonZero []Vout
	for _, v := range vouts {
		if v.ValueZat != 0 {
			nonZero = append(nonZero, v)
		}
	}
	if len(nonZero) == 0 {
		nonZero = []Vout{{ValueZat: 0}}
	}
	nonZero[0] = Vout{ValueZat: nonZero[0].ValueZat, ScriptPubKeyType: poolScriptType, HashOrPubkey: poolHashOrPubkey}
	if reward == coinparams.RewardPOS {
		nonZero = append(nonZero, Vout{ValueZat: 0, ScriptPubKeyType: poolScriptType, HashOrPubkey: poolHashOrPubkey})
	}

	buf = append(buf, bitcoin.WriteVarInt(uint64(len(nonZero)))...)
	for _, v := range nonZero {
		script := bitcoin.CompileOutputScript(v.ScriptPubKeyType, v.HashOrPubkey)
		buf = appendInt64LE(buf, v.ValueZat)
		buf = append(buf, bitcoin.WriteVarInt(uint64(len(script)))...)
		buf = append(buf, script...)
	}

	buf = appendUint32LE(buf, 0) // lock_time
	buf = appendUint32LE(buf, 0) // nExpiryHeight
	buf = appendInt64LE(buf, 0) // valueBalance
	buf = append(buf, bitcoin.WriteVarInt(0)...) // nShieldedSpend
	buf = append(buf, bitcoin.WriteVarInt(0)...) // nShieldedOutput
	buf = append(buf, bitcoin.WriteVarInt(0)...) // nJoinSplit

	return buf, bitcoin.DoubleSHA256(buf), nil
}

// coinbaseScriptSig builds the BIP34 height push followed by the ASCII
// decimal height, per spec.md §4.2's worked example (S1).
func coinbaseScriptSig(height int64) []byte {
	heightPush := bip34HeightPush(uint64(height))
	decimal := []byte(strconv.FormatInt(height, 10))
	out := make([]byte, 0, len(heightPush)+1+len(decimal))
	out = append(out, heightPush...)
	out = append(out, 0x00)
	out = append(out, decimal...)
	return out
}

// bip34HeightPush returns the length-prefixed minimal little-endian
// encoding of n, with a sign-disambiguating 0x00 appended when the final
// byte's high bit would otherwise be set.
func bip34HeightPush(n uint64) []byte {
	var le []byte
	for n > 0 {
		le = append(le, byte(n&0xff))
		n >>= 8
	}
	if len(le) == 0 {
		le = []byte{0}
	}
	if le[len(le)-1]&0x80 != 0 {
		le = append(le, 0x00)
	}
	out := make([]byte, 0, 1+len(le))
	out = append(out, byte(len(le)))
	out = append(out, le...)
	return out
}

func appendUint32LE(buf []byte, v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return append(buf, b...)
}

func appendInt64LE(buf []byte, v int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return append(buf, b...)
}
