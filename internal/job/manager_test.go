package job

import (
	"encoding/binary"
	"encoding/hex"
	"math/big"
	"strings"
	"testing"

	"solopool/internal/coinparams"
)

func testAlgoDiff1() *big.Int {
	raw, _ := hex.DecodeString(strings.Repeat("0f", 32))
	return new(big.Int).SetBytes(raw)
}

func samplePool() PoolScript {
	return PoolScript{Type: "pubkeyhash", HashOrPubkey: make([]byte, 20)}
}

func sampleRPCTemplate(height int64, prevHash string, target string) RPCTemplate {
	return RPCTemplate{
		PreviousBlockHash: prevHash,
		FinalSaplingRoot:  strings.Repeat("00", 32),
		Bits:              "1e7fffff",
		CurTime:           1700000000,
		Height:            height,
		Version:           4,
		Target:            target,
		Vouts:             []RPCVout{{ValueZat: 1000000, ScriptPubKeyType: "pubkeyhash", ScriptPubKeyHash: make([]byte, 20)}},
	}
}

func TestProcessTemplateNewBlockThenUpdate(t *testing.T) {
	m := NewManager(samplePool(), testAlgoDiff1(), coinparams.RewardPOW, nil)

	rpc1 := sampleRPCTemplate(100, strings.Repeat("aa", 32), strings.Repeat("ff", 32))
	isNew, err := m.ProcessTemplate(rpc1)
	if err != nil {
		t.Fatalf("ProcessTemplate: %v", err)
	}
	if !isNew {
		t.Fatal("expected first template to count as a new block")
	}
	if len(m.validJobs) != 1 {
		t.Fatalf("validJobs len = %d, want 1", len(m.validJobs))
	}
	firstJobID := m.currentJob.JobID

	// Same height, same target, refreshed mempool: in-place update, job map
	// still resolves the previous id per invariant 7.
	rpc2 := sampleRPCTemplate(100, strings.Repeat("aa", 32), strings.Repeat("ff", 32))
	isNew, err = m.ProcessTemplate(rpc2)
	if err != nil {
		t.Fatalf("ProcessTemplate refresh: %v", err)
	}
	if isNew {
		t.Fatal("same-height refresh should not count as a new block")
	}
	if _, ok := m.validJobs[firstJobID]; !ok {
		t.Fatal("previous job id should remain resolvable after an in-place update")
	}

	// Height changes: genuinely new block, map is cleared.
	rpc3 := sampleRPCTemplate(101, strings.Repeat("bb", 32), strings.Repeat("ff", 32))
	isNew, err = m.ProcessTemplate(rpc3)
	if err != nil {
		t.Fatalf("ProcessTemplate new height: %v", err)
	}
	if !isNew {
		t.Fatal("height change should count as a new block")
	}
	if len(m.validJobs) != 1 {
		t.Fatalf("validJobs len after new block = %d, want 1", len(m.validJobs))
	}
	if _, ok := m.validJobs[firstJobID]; ok {
		t.Fatal("old job id should not survive a genuine new-block transition")
	}
}

func TestProcessTemplateStaleDropped(t *testing.T) {
	m := NewManager(samplePool(), testAlgoDiff1(), coinparams.RewardPOW, nil)
	rpc1 := sampleRPCTemplate(100, strings.Repeat("aa", 32), strings.Repeat("ff", 32))
	if _, err := m.ProcessTemplate(rpc1); err != nil {
		t.Fatalf("seed template: %v", err)
	}

	stale := sampleRPCTemplate(99, strings.Repeat("cc", 32), strings.Repeat("ff", 32))
	isNew, err := m.ProcessTemplate(stale)
	if err != nil {
		t.Fatalf("ProcessTemplate stale: %v", err)
	}
	if isNew {
		t.Fatal("stale lower-height template with a different tip should be dropped, not accepted")
	}
	if m.currentJob.Height != 100 {
		t.Fatalf("current job height = %d, want unchanged 100", m.currentJob.Height)
	}
}

func submitParams(t *testing.T, tpl *BlockTemplate, nTime uint32) (nTimeHex, nonceHex, solnHex string) {
	t.Helper()
	nt := make([]byte, 4)
	binary.LittleEndian.PutUint32(nt, nTime)
	nonce := make([]byte, 32)
	nonce[0] = 0x01
	soln := make([]byte, 1347)
	return hex.EncodeToString(nt), hex.EncodeToString(nonce), hex.EncodeToString(soln)
}

func TestProcessShareDuplicateRejected(t *testing.T) {
	// A target of all-0xff bytes is so loose that any header hash meets it,
	// so the first submission is accepted (as a block share) and the
	// identical resubmission reaches the duplicate check.
	m := NewManager(samplePool(), testAlgoDiff1(), coinparams.RewardPOW, nil)
	rpc := sampleRPCTemplate(100, strings.Repeat("aa", 32), strings.Repeat("ff", 32))
	if _, err := m.ProcessTemplate(rpc); err != nil {
		t.Fatalf("seed template: %v", err)
	}
	jobID := m.currentJob.JobID
	nTimeHex, nonceHex, solnHex := submitParams(t, m.currentJob, rpc.CurTime)

	if _, shareErr := m.ProcessShare(jobID, 0, 0, "aabbccdd", "00000000", nTimeHex, nonceHex, "1.2.3.4", 3333, "worker1", solnHex); shareErr != nil {
		t.Fatalf("first submit should be accepted, got %v", shareErr)
	}

	_, shareErr := m.ProcessShare(jobID, 0, 0, "aabbccdd", "00000000", nTimeHex, nonceHex, "1.2.3.4", 3333, "worker1", solnHex)
	if shareErr == nil {
		t.Fatal("expected duplicate share rejection on resubmission")
	}
	if shareErr.Code != codeDuplicateShare {
		t.Fatalf("error code = %d, want %d", shareErr.Code, codeDuplicateShare)
	}
}

func TestProcessShareStaleNtimeRejected(t *testing.T) {
	m := NewManager(samplePool(), testAlgoDiff1(), coinparams.RewardPOW, nil)
	rpc := sampleRPCTemplate(100, strings.Repeat("aa", 32), strings.Repeat("ff", 32))
	rpc.CurTime = 1700000000
	if _, err := m.ProcessTemplate(rpc); err != nil {
		t.Fatalf("seed template: %v", err)
	}
	jobID := m.currentJob.JobID

	nTimeHex, nonceHex, solnHex := submitParams(t, m.currentJob, rpc.CurTime-1)
	_, shareErr := m.ProcessShare(jobID, 0, 0, "aabbccdd", "00000000", nTimeHex, nonceHex, "1.2.3.4", 3333, "worker1", solnHex)
	if shareErr == nil || shareErr.Code != codeInvalidSubmission {
		t.Fatalf("expected invalid-submission rejection for ntime before curtime, got %v", shareErr)
	}
}

func TestProcessShareUnknownJobRejected(t *testing.T) {
	m := NewManager(samplePool(), testAlgoDiff1(), coinparams.RewardPOW, nil)
	rpc := sampleRPCTemplate(100, strings.Repeat("aa", 32), strings.Repeat("ff", 32))
	if _, err := m.ProcessTemplate(rpc); err != nil {
		t.Fatalf("seed template: %v", err)
	}
	nTimeHex, nonceHex, solnHex := submitParams(t, m.currentJob, rpc.CurTime)
	_, shareErr := m.ProcessShare("deadbeef", 0, 0, "aabbccdd", "00000000", nTimeHex, nonceHex, "1.2.3.4", 3333, "worker1", solnHex)
	if shareErr == nil || shareErr.Code != codeJobNotFound {
		t.Fatalf("expected job-not-found rejection, got %v", shareErr)
	}
}
