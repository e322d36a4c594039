package stratum

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"sync/atomic"
)

// Request is a Stratum V1 JSON-RPC request, client -> server.
type Request struct {
	ID     any             `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Response is a Stratum V1 JSON-RPC response or server-pushed notification
// (Method/Params set, ID nil).
type Response struct {
	ID     any        `json:"id"`
	Result any        `json:"result,omitempty"`
	Error  *RespError `json:"error,omitempty"`
	Method string     `json:"method,omitempty"`
	Params []any      `json:"params,omitempty"`
}

// RespError matches the [code, message, null] triple spec.md §7 puts on
// the wire for rejected mining.submit calls and friends.
type RespError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// MarshalJSON renders RespError as the bare [code, message, null] array
// the Stratum wire format expects rather than a JSON object.
func (e *RespError) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]any{e.Code, e.Message, nil})
}

const (
	// maxLineBytes is the flood guard: a client that sends this many bytes
	// without a newline gets disconnected (spec.md §4.4).
	maxLineBytes = 10 * 1024

	// extraNonce1Size and extraNonce2Size are the nominal byte sizes of the
	// two extranonce parts; buildFullNonce does not use them, it zero-pads
	// whatever the actual parts leave of the nonceTotalSize-byte Equihash
	// header nonce.
	extraNonce1Size = 4
	extraNonce2Size = 4
	nonceTotalSize  = 32
)

var subscriptionCounter uint64

// nextSubscriptionID hands out "deadbeefcafebabe" ‖ int64LE(n).hex(), per
// spec.md §4.4. The counter is process-wide and never restarts.
func nextSubscriptionID() string {
	n := atomic.AddUint64(&subscriptionCounter, 1)
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, n)
	return "deadbeefcafebabe" + hex.EncodeToString(buf)
}

// buildFullNonce assembles the 32-byte header nonce field from the
// session's extranonce1 and the miner-supplied extranonce2, zero-padding
// the remainder (spec.md's protocol shape has no coinb1/coinb2 split: the
// coinbase is fixed at template-construction time and the nonce field
// alone carries both extranonce components).
func buildFullNonce(extraNonce1Hex, extraNonce2Hex string) (string, error) {
	used := len(extraNonce1Hex) + len(extraNonce2Hex)
	padHexLen := nonceTotalSize*2 - used
	if padHexLen < 0 {
		padHexLen = 0
	}
	pad := make([]byte, padHexLen/2)
	return extraNonce1Hex + extraNonce2Hex + hex.EncodeToString(pad), nil
}
