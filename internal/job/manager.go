package job

import (
	"encoding/hex"
	"math/big"
	"sync"
	"time"

	"solopool/internal/bitcoin"
	"solopool/internal/coinparams"
)

// BlockEventKind tags the typed events the Job Manager emits, replacing the
// original string-keyed emitter pattern (spec.md §9).
type BlockEventKind int

const (
	EventNewBlock BlockEventKind = iota
	EventUpdatedBlock
)

// BlockEvent carries a job transition and its mining.notify parameters.
type BlockEvent struct {
	Kind   BlockEventKind
	Job    *BlockTemplate
	Params []any
}

// ShareResult is emitted for every processed submission, valid or not, per
// spec.md §4.3's "Emit a share event regardless of block-ness".
type ShareResult struct {
	Job              *BlockTemplate
	IP               string
	Port             int
	Worker           string
	Height           int64
	BlockReward      int64
	Difficulty       float64
	ShareDiff        float64
	BlockDiff        float64
	BlockDiffActual  float64
	BlockHash        string
	BlockHashInvalid bool
	IsBlock          bool
	BlockHex         string

	// TxHash and IsValidBlock are filled in only on the confirmed re-emit
	// a block share gets once the orchestrator verifies it via getblock
	// (spec.md §4.7, scenario S7): TxHash is the coinbase txid getblock
	// reports at tx[0].
	TxHash       string
	IsValidBlock bool
}

// Manager owns the current job, the valid-jobs map, and both counters. All
// mutation goes through the single mutex spec.md §5 calls the "work mutex":
// ProcessTemplate, UpdateCurrentJob and ProcessShare are mutually
// exclusive, which keeps the dedup set and job map consistent.
type Manager struct {
	mu sync.Mutex

	currentJob *BlockTemplate
	validJobs  map[string]*BlockTemplate

	jobCounter        *JobCounter
	extraNonceCounter *ExtraNonceCounter

	pool      PoolScript
	algoDiff1 *big.Int
	reward    coinparams.RewardType

	events chan BlockEvent
	shares chan ShareResult

	log func(format string, args ...any)
}

// NewManager constructs a Job Manager for the given pool payout script,
// algorithm diff1 constant (komodo.diff1, per spec.md §3), and the coin's
// probed reward type. reward flows forward into coinbase construction:
// a staked coin gets an extra coinbase output (spec.md §9's "dynamic
// shape propagation").
func NewManager(pool PoolScript, algoDiff1 *big.Int, reward coinparams.RewardType, log func(string, ...any)) *Manager {
	if log == nil {
		log = func(string, ...any) {}
	}
	return &Manager{
		validJobs:         make(map[string]*BlockTemplate),
		jobCounter:        NewJobCounter(),
		extraNonceCounter: NewExtraNonceCounter(),
		pool:              pool,
		algoDiff1:         algoDiff1,
		reward:            reward,
		events:            make(chan BlockEvent, 16),
		shares:            make(chan ShareResult, 256),
		log:               log,
	}
}

// Events delivers newBlock/updatedBlock transitions.
func (m *Manager) Events() <-chan BlockEvent { return m.events }

// Shares delivers every processed submission.
func (m *Manager) Shares() <-chan ShareResult { return m.shares }

// NextExtraNonce1 hands out the next disjoint extranonce1 for a newly
// subscribed Stratum client.
func (m *Manager) NextExtraNonce1() string { return m.extraNonceCounter.Next() }

// CurrentJobParams returns the current job's cached mining.notify
// parameters, or nil if no job has been built yet.
func (m *Manager) CurrentJobParams() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.currentJob == nil {
		return nil
	}
	return m.currentJob.GetJobParams()
}

// CurrentJob returns the current job under the work mutex.
func (m *Manager) CurrentJob() *BlockTemplate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentJob
}

func (m *Manager) newTemplate(rpc RPCTemplate, cleanJobs bool) (*BlockTemplate, error) {
	jobID := m.jobCounter.Next()
	return NewBlockTemplate(jobID, rpc, m.pool, m.algoDiff1, m.reward, cleanJobs)
}

// ProcessTemplate implements the five-branch decision tree of spec.md
// §4.3. The returned bool is "a new block was processed".
func (m *Manager) ProcessTemplate(rpc RPCTemplate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// 1. No current job: treat as new block.
	if m.currentJob == nil {
		return m.acceptNewBlock(rpc)
	}

	cur := m.currentJob

	// 2. Stale notification: different chain tip but lower height.
	if rpc.PreviousBlockHash != cur.RPC.PreviousBlockHash && rpc.Height < cur.Height {
		return false, nil
	}

	// 3. Same height, target changed: in-place update.
	if rpc.Height == cur.Height && rpc.Target != cur.RPC.Target {
		tpl, err := m.newTemplate(rpc, false)
		if err != nil {
			return false, err
		}
		m.log("difficulty changed from %.4f to %.4f at height %d", cur.Difficulty, tpl.Difficulty, rpc.Height)
		m.currentJob = tpl
		m.validJobs[tpl.JobID] = tpl
		m.emitBlockEvent(EventUpdatedBlock, tpl)
		return false, nil
	}

	// 4. Height changed: genuinely new block.
	if rpc.Height != cur.Height {
		return m.acceptNewBlock(rpc)
	}

	// 5. No change: refresh in place (new mempool snapshot, same target).
	tpl, err := m.newTemplate(rpc, false)
	if err != nil {
		return false, err
	}
	m.currentJob = tpl
	m.validJobs[tpl.JobID] = tpl
	m.emitBlockEvent(EventUpdatedBlock, tpl)
	return false, nil
}

func (m *Manager) acceptNewBlock(rpc RPCTemplate) (bool, error) {
	tpl, err := m.newTemplate(rpc, true)
	if err != nil {
		return false, err
	}
	m.validJobs = map[string]*BlockTemplate{tpl.JobID: tpl}
	m.currentJob = tpl
	m.emitBlockEvent(EventNewBlock, tpl)
	return true, nil
}

// UpdateCurrentJob rebuilds the current job in place (e.g. after a
// broadcastTimeout with no new block), per spec.md §4.3.
func (m *Manager) UpdateCurrentJob(rpc RPCTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tpl, err := m.newTemplate(rpc, false)
	if err != nil {
		return err
	}
	m.currentJob = tpl
	m.validJobs[tpl.JobID] = tpl
	m.emitBlockEvent(EventUpdatedBlock, tpl)
	return nil
}

func (m *Manager) emitBlockEvent(kind BlockEventKind, tpl *BlockTemplate) {
	ev := BlockEvent{Kind: kind, Job: tpl, Params: tpl.GetJobParams()}
	select {
	case m.events <- ev:
	default:
		m.log("job event channel full, dropping %v for job %s", kind, tpl.JobID)
	}
}

// ProcessShare validates and scores one mining.submit, per spec.md §4.3's
// strict seven-check order.
func (m *Manager) ProcessShare(jobID string, prevDiff, diff float64, extraNonce1, extraNonce2, nTimeHex, nonceHex string, ip string, port int, worker string, solnHex string) (*ShareResult, *ShareError) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tpl, ok := m.validJobs[jobID]
	if !ok {
		return nil, newShareError(codeJobNotFound, "job not found")
	}

	if len(nTimeHex) != 8 {
		return nil, newShareError(codeInvalidSubmission, "incorrect size of ntime")
	}
	nTimeRaw, err := hex.DecodeString(nTimeHex)
	if err != nil {
		return nil, newShareError(codeInvalidSubmission, "invalid ntime")
	}
	nTime := leUint32(nTimeRaw)

	now := time.Now().Unix()
	if int64(nTime) < int64(tpl.RPC.CurTime) || int64(nTime) > now+7200 {
		return nil, newShareError(codeInvalidSubmission, "ntime out of range")
	}

	if len(nonceHex) != 64 {
		return nil, newShareError(codeInvalidSubmission, "incorrect size of nonce")
	}
	nonce, err := hex.DecodeString(nonceHex)
	if err != nil {
		return nil, newShareError(codeInvalidSubmission, "incorrect size of nonce")
	}

	if len(solnHex) != 2694 {
		return nil, newShareError(codeInvalidSubmission, "incorrect size of solution")
	}
	soln, err := hex.DecodeString(solnHex)
	if err != nil {
		return nil, newShareError(codeInvalidSubmission, "incorrect size of solution")
	}

	header, err := BuildHeader(tpl.RPC.Version, tpl.PrevHashReversed, tpl.MerkleRootReversed, tpl.HashReserved, nTime, tpl.BitsReversed, nonce)
	if err != nil {
		return nil, newShareError(codeInvalidSubmission, "header build failed: %v", err)
	}

	if !tpl.RegisterSubmit(hex.EncodeToString(header), solnHex) {
		return nil, newShareError(codeDuplicateShare, "duplicate share")
	}

	headerHash := HashHeader(header, soln)
	h := new(big.Int).SetBytes(bitcoin.ReverseCopy(headerHash))

	shareDiff := 0.0
	if h.Sign() > 0 {
		df := new(big.Float).Quo(new(big.Float).SetInt(m.algoDiff1), new(big.Float).SetInt(h))
		shareDiff, _ = df.Float64()
	}

	result := &ShareResult{
		Job:             tpl,
		IP:              ip,
		Port:            port,
		Worker:          worker,
		Height:          tpl.Height,
		Difficulty:      diff,
		ShareDiff:       shareDiff,
		BlockDiff:       tpl.Difficulty,
		BlockDiffActual: tpl.Difficulty,
	}

	if h.Cmp(tpl.Target) <= 0 {
		result.IsBlock = true
		result.BlockHex = hex.EncodeToString(SerializeBlock(header, soln, tpl.GenTx, tpl.TxData()))
		result.BlockHash = hex.EncodeToString(bitcoin.ReverseCopy(headerHash))
		m.emitShare(*result)
		return result, nil
	}

	if diff > 0 && shareDiff/diff < 0.99 {
		if prevDiff > 0 && shareDiff >= prevDiff {
			m.emitShare(*result)
			return result, nil
		}
		return nil, newShareError(codeLowDifficulty, "low difficulty share of %.8f", shareDiff)
	}

	m.emitShare(*result)
	return result, nil
}

// EmitConfirmedShare re-emits a block share carrying its post-submission
// confirmation verdict, once the orchestrator has verified the block via
// getblock (spec.md §4.7, scenario S7).
func (m *Manager) EmitConfirmedShare(r ShareResult) {
	m.emitShare(r)
}

func (m *Manager) emitShare(r ShareResult) {
	select {
	case m.shares <- r:
	default:
		m.log("share channel full, dropping share from %s", r.Worker)
	}
}

func leUint32(b []byte) uint32 {
	var v uint32
	for i := 0; i < len(b) && i < 4; i++ {
		v |= uint32(b[i]) << (8 * i)
	}
	return v
}
