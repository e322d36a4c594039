package job

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"solopool/internal/bitcoin"
	"solopool/internal/coinparams"
)

// RPCVout is one daemon-reported coinbase output, as decoded from
// getblocktemplate's coinbasetxn data (spec.md §3: "After decode, a
// vouts list is attached").
type RPCVout struct {
	ValueZat         int64
	ScriptPubKeyType string
	ScriptPubKeyHash []byte
}

// RPCTransaction is one non-coinbase transaction offered by the daemon.
type RPCTransaction struct {
	Hash string // big-endian display hex, as reported by the daemon
	Data string // raw tx hex
	Fee  int64
}

// RPCTemplate is the decoded shape of a getblocktemplate response that the
// block template builder consumes (spec.md §3).
type RPCTemplate struct {
	PreviousBlockHash string // hex, display order
	FinalSaplingRoot  string // hex, display order ("hashReserved" source)
	Bits              string // hex, 4 bytes
	CurTime           uint32
	Height            int64
	Version           uint32
	Target            string // hex, 256-bit
	Transactions      []RPCTransaction
	CoinbaseValue     int64
	Vouts             []RPCVout
}

// PoolScript describes where the block reward should be redirected.
type PoolScript struct {
	Type         string // "pubkey" or "pubkeyhash"
	HashOrPubkey []byte
}

// BlockTemplate is the immutable, derived object spec.md §3 describes: the
// RPC template plus everything needed to answer mining.notify and to
// accept a submitted solution.
type BlockTemplate struct {
	JobID   string
	RPC     RPCTemplate
	Height  int64

	GenTx      []byte // serialized coinbase transaction
	GenTxHash  []byte // its natural-order double-SHA256 hash

	MerkleRootBE       []byte // big-endian (display) order
	MerkleRootReversed []byte // header (little-endian) order
	PrevHashReversed   []byte
	HashReserved       []byte // reversed final sapling root

	BitsReversed []byte
	Target       *big.Int
	Difficulty   float64

	CleanJobs bool

	txData [][]byte // non-coinbase transaction bytes, template order

	mu        sync.Mutex
	submitted map[string]struct{}

	cachedParams []any
}

// NewBlockTemplate constructs a BlockTemplate from a decoded RPC template,
// per spec.md §4.2's coinbase/merkle/header construction rules.
func NewBlockTemplate(jobID string, rpc RPCTemplate, pool PoolScript, algoDiff1 *big.Int, reward coinparams.RewardType, cleanJobs bool) (*BlockTemplate, error) {
	vouts := make([]Vout, len(rpc.Vouts))
	for i, v := range rpc.Vouts {
		vouts[i] = Vout{ValueZat: v.ValueZat, ScriptPubKeyType: v.ScriptPubKeyType, HashOrPubkey: v.ScriptPubKeyHash}
	}
	genTx, genTxHash, err := BuildCoinbase(rpc.Height, vouts, pool.Type, pool.HashOrPubkey, reward)
	if err != nil {
		return nil, fmt.Errorf("job: build coinbase: %w", err)
	}

	txHashesReversed := make([][]byte, len(rpc.Transactions))
	txData := make([][]byte, len(rpc.Transactions))
	for i, tx := range rpc.Transactions {
		b, err := hex.DecodeString(tx.Hash)
		if err != nil || len(b) != 32 {
			return nil, fmt.Errorf("job: tx hash %d: %w", i, err)
		}
		txHashesReversed[i] = bitcoin.ReverseCopy(b)
		data, err := hex.DecodeString(tx.Data)
		if err != nil {
			return nil, fmt.Errorf("job: tx data %d: %w", i, err)
		}
		txData[i] = data
	}

	merkleBE := MerkleRoot(genTxHash, txHashesReversed)
	merkleReversed := bitcoin.ReverseCopy(merkleBE)

	prevHash, err := hex.DecodeString(rpc.PreviousBlockHash)
	if err != nil || len(prevHash) != 32 {
		return nil, fmt.Errorf("job: previousblockhash: %w", err)
	}
	prevReversed := bitcoin.ReverseCopy(prevHash)

	finalRoot, err := hex.DecodeString(rpc.FinalSaplingRoot)
	if err != nil || len(finalRoot) != 32 {
		return nil, fmt.Errorf("job: final sapling root: %w", err)
	}
	hashReserved := bitcoin.ReverseCopy(finalRoot)

	bits, err := hex.DecodeString(rpc.Bits)
	if err != nil || len(bits) != 4 {
		return nil, fmt.Errorf("job: bits: %w", err)
	}
	bitsReversed := bitcoin.ReverseCopy(bits)

	// Most daemons report "target" directly; a few older builds only
	// report "bits" (getblocktemplate's compact-difficulty field), so
	// expand that as a fallback rather than failing the template.
	var target *big.Int
	if rpc.Target != "" {
		target, err = bitcoin.TargetFromHex(rpc.Target)
		if err != nil {
			return nil, fmt.Errorf("job: target: %w", err)
		}
	} else {
		target, err = bitcoin.BitsToTarget(rpc.Bits)
		if err != nil {
			return nil, fmt.Errorf("job: target from bits: %w", err)
		}
	}

	diff := 0.0
	if target.Sign() > 0 && algoDiff1 != nil {
		df := new(big.Float).Quo(new(big.Float).SetInt(algoDiff1), new(big.Float).SetInt(target))
		diff, _ = df.Float64()
	}

	bt := &BlockTemplate{
		JobID:               jobID,
		RPC:                 rpc,
		Height:              rpc.Height,
		GenTx:               genTx,
		GenTxHash:           genTxHash,
		MerkleRootBE:        merkleBE,
		MerkleRootReversed:  merkleReversed,
		PrevHashReversed:    prevReversed,
		HashReserved:        hashReserved,
		BitsReversed:        bitsReversed,
		Target:              target,
		Difficulty:          diff,
		CleanJobs:           cleanJobs,
		submitted:           make(map[string]struct{}),
	}
	bt.txData = txData
	return bt, nil
}

// GetJobParams returns (and caches) the mining.notify parameter array, per
// spec.md §4.2: [jobId, versionLE, prevHashReversed, merkleRootReversed,
// hashReserved, curtimeLE, bitsReversed, cleanJobs].
func (bt *BlockTemplate) GetJobParams() []any {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	if bt.cachedParams != nil {
		return bt.cachedParams
	}
	version := make([]byte, 4)
	binary.LittleEndian.PutUint32(version, bt.RPC.Version)
	curtime := make([]byte, 4)
	binary.LittleEndian.PutUint32(curtime, bt.RPC.CurTime)

	bt.cachedParams = []any{
		bt.JobID,
		hex.EncodeToString(version),
		hex.EncodeToString(bt.PrevHashReversed),
		hex.EncodeToString(bt.MerkleRootReversed),
		hex.EncodeToString(bt.HashReserved),
		hex.EncodeToString(curtime),
		hex.EncodeToString(bt.BitsReversed),
		bt.CleanJobs,
	}
	return bt.cachedParams
}

// RegisterSubmit records header‖solution (lowercase hex) in the dedup set,
// returning true if this is the first time it has been seen.
func (bt *BlockTemplate) RegisterSubmit(headerHex, solnHex string) bool {
	key := strings.ToLower(headerHex + solnHex)
	bt.mu.Lock()
	defer bt.mu.Unlock()
	if _, ok := bt.submitted[key]; ok {
		return false
	}
	bt.submitted[key] = struct{}{}
	return true
}

// TxData returns the raw non-coinbase transaction bytes in template order,
// for SerializeBlock.
func (bt *BlockTemplate) TxData() [][]byte { return bt.txData }
