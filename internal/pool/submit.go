package pool

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"solopool/internal/job"
)

// submitblock confirmation delay, per spec.md §4.7.
const blockConfirmDelay = 500 * time.Millisecond

var duplicateResponses = map[string]bool{
	"duplicate":             true,
	"duplicate-invalid":     true,
	"duplicate-inconclusive": true,
	"inconclusive":          true,
	"rejected":              true,
}

// submitBlock fans blockHex out to every daemon instance via submitblock and
// classifies the per-instance responses per spec.md §4.7's mapping table.
// It returns on the first non-success response, leaving any remaining
// instances' results unexamined: spec.md §9's Open Questions call this out
// by name ("submitblock loops results but returns on the first error, so
// remaining results are unexamined. Preserve.") and DESIGN.md records the
// decision to keep it rather than aggregate across every instance.
func (o *Orchestrator) submitBlock(ctx context.Context, blockHex string) bool {
	results := o.daemonClient.Cmd(ctx, "submitblock", []any{blockHex})

	for _, r := range results {
		if r.Error != nil {
			o.log("submitblock: daemon %s: %v", r.Instance, r.Error)
			return false
		}
		var resp *string
		if err := json.Unmarshal(r.Response, &resp); err != nil {
			o.log("submitblock: daemon %s responded with something it shouldn't: %s", r.Instance, r.Response)
			return false
		}
		if resp == nil {
			continue
		}
		if duplicateResponses[*resp] {
			o.log("submitblock: daemon %s: %s", r.Instance, *resp)
			return false
		}
		o.log("submitblock: daemon %s responded with something it shouldn't: %s", r.Instance, *resp)
		return false
	}
	return true
}

// confirmAndRecordBlock waits out the daemon's propagation delay, confirms
// the block via getblock, appends it to the block ledger on success, and
// emits the final share event with the confirmed verdict (spec.md §4.7).
func (o *Orchestrator) confirmAndRecordBlock(ctx context.Context, share job.ShareResult) {
	time.Sleep(blockConfirmDelay)

	hash := share.BlockHash
	if strings.HasSuffix(hash, "0000") {
		if rev, err := job.ReverseHex(hash); err == nil {
			hash = rev
		}
	}

	results := o.daemonClient.Cmd(ctx, "getblock", []any{hash})
	confirmed := false
	var txHash string
	for _, r := range results {
		if r.Error == nil {
			confirmed = true
			var block struct {
				Tx []string `json:"tx"`
			}
			if err := json.Unmarshal(r.Response, &block); err == nil && len(block.Tx) > 0 {
				txHash = block.Tx[0]
			}
			break
		}
	}

	o.metrics.BlockFound(share.Height, share.Job.JobID)
	o.metrics.BlockSubmitted(confirmed)

	if !confirmed {
		o.log("block at height %d submitted but not confirmed by getblock(%s)", share.Height, hash)
		return
	}

	o.log("block %d accepted, found by %s", share.Height, share.Worker)
	if o.ledgerPath != "" {
		entry := BlockLedgerEntry{Block: share.Height, Finder: share.Worker, Date: time.Now().UnixMilli()}
		if err := appendBlockLedger(o.ledgerPath, entry); err != nil {
			o.log("block ledger write failed: %v", err)
		}
	}

	confirmedShare := share
	confirmedShare.TxHash = txHash
	confirmedShare.IsValidBlock = true
	o.jobMgr.EmitConfirmedShare(confirmedShare)
}
