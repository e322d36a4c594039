package bitcoin

import "fmt"

// Minimal opcode set needed to compile coinbase output scripts.
const (
	opDup         = 0x76
	opEqualVerify = 0x88
	opHash160     = 0xa9
	opCheckSig    = 0xac
	opReturn      = 0x6a
)

// CompileP2PKH builds `OP_DUP OP_HASH160 <hash160> OP_EQUALVERIFY
// OP_CHECKSIG`, used for scriptPubKey.type "pubkeyhash", "nulldata", and any
// other default output per spec.md §4.2.
func CompileP2PKH(hash160 []byte) []byte {
	out := make([]byte, 0, 5+len(hash160))
	out = append(out, opDup, opHash160, byte(len(hash160)))
	out = append(out, hash160...)
	out = append(out, opEqualVerify, opCheckSig)
	return out
}

// CompileP2PK builds `<pubkey> OP_CHECKSIG`, used for scriptPubKey.type
// "pubkey".
func CompileP2PK(pubkey []byte) []byte {
	out := make([]byte, 0, 2+len(pubkey))
	out = append(out, pushData(pubkey)...)
	out = append(out, opCheckSig)
	return out
}

// pushData prefixes data with the minimal-push opcode for its length. All
// scripts compiled in this package are short (20 or 33/65-byte pushes), so
// only the direct-push range (1-75 bytes) is needed.
func pushData(data []byte) []byte {
	if len(data) > 75 {
		panic("bitcoin: pushData only supports direct pushes <= 75 bytes")
	}
	out := make([]byte, 0, 1+len(data))
	out = append(out, byte(len(data)))
	out = append(out, data...)
	return out
}

// CompileOutputScript dispatches on the daemon-reported scriptPubKey type,
// as spec.md §4.2 describes: "pubkey" -> P2PK, "pubkeyhash"/"nulldata"/
// default -> P2PKH.
func CompileOutputScript(scriptType string, pubkeyOrHash []byte) []byte {
	switch scriptType {
	case "pubkey":
		return CompileP2PK(pubkeyOrHash)
	default: // "pubkeyhash", "nulldata", and anything else.
		return CompileP2PKH(pubkeyOrHash)
	}
}

// DecodeOutputScript is the inverse of CompileOutputScript: given a
// daemon-reported scriptPubKey hex and its declared type, recover the
// 20-byte hash (pubkeyhash) or raw pubkey bytes (pubkey) the pool needs to
// preserve non-miner coinbase outputs (e.g. a founders' reward vout)
// unchanged when it rebuilds the coinbase.
func DecodeOutputScript(scriptType string, script []byte) ([]byte, error) {
	switch scriptType {
	case "pubkey":
		if len(script) < 2 {
			return nil, fmt.Errorf("bitcoin: pubkey script too short")
		}
		pushLen := int(script[0])
		if len(script) != pushLen+2 || script[len(script)-1] != opCheckSig {
			return nil, fmt.Errorf("bitcoin: malformed pubkey script")
		}
		return script[1 : 1+pushLen], nil
	default:
		if len(script) != 25 || script[0] != opDup || script[1] != opHash160 || script[2] != 0x14 ||
			script[23] != opEqualVerify || script[24] != opCheckSig {
			return nil, fmt.Errorf("bitcoin: malformed pubkeyhash script")
		}
		return script[3:23], nil
	}
}
