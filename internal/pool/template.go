package pool

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"solopool/internal/bitcoin"
	"solopool/internal/job"
)

var getBlockTemplateParams = []any{map[string]any{
	"capabilities": []string{"coinbasetxn", "workid", "coinbase/append"},
}}

type rpcCoinbaseTxn struct {
	Data string `json:"data"`
}

type rpcTransaction struct {
	Data string `json:"data"`
	Hash string `json:"hash"`
	Fee  int64  `json:"fee"`
}

type rpcGetBlockTemplate struct {
	Version           uint32          `json:"version"`
	PreviousBlockHash string          `json:"previousblockhash"`
	Transactions      []rpcTransaction `json:"transactions"`
	Coinbasetxn       rpcCoinbaseTxn  `json:"coinbasetxn"`
	CoinbaseValue     int64           `json:"coinbasevalue"`
	Target            string          `json:"target"`
	CurTime           uint32          `json:"curtime"`
	Bits              string          `json:"bits"`
	Height            int64           `json:"height"`
	FinalSaplingRoot  string          `json:"finalsaplingroothash"`
}

type rpcDecodedVout struct {
	Value        float64 `json:"value"`
	ScriptPubKey struct {
		Hex  string `json:"hex"`
		Type string `json:"type"`
	} `json:"scriptPubKey"`
}

type rpcDecodedTx struct {
	Vout []rpcDecodedVout `json:"vout"`
}

// -10 is the daemon's JSON-RPC error code for "chain not synced", per
// spec.md §4.7 step 6.
const rpcErrCodeNotSynced = -10

// fetchTemplate calls getblocktemplate on the daemon fan-out, decodes the
// coinbase transaction it offers to recover its vout breakdown, and returns
// the job-package-facing RPCTemplate shape. The first instance that returns
// a template wins. syncing is true (with a zero-value template and nil
// error) when no instance returned a template and at least one reported -10.
func (o *Orchestrator) fetchTemplate(ctx context.Context) (tpl job.RPCTemplate, syncing bool, err error) {
	results := o.daemonClient.Cmd(ctx, "getblocktemplate", getBlockTemplateParams)

	var raw json.RawMessage
	notSyncedCount := 0
	for _, r := range results {
		if r.Error == nil {
			raw = r.Response
			break
		}
		if r.Error.Type == "rpc error" && r.Error.Code == rpcErrCodeNotSynced {
			notSyncedCount++
		}
	}
	if raw == nil {
		if notSyncedCount > 0 {
			return job.RPCTemplate{}, true, nil
		}
		return job.RPCTemplate{}, false, fmt.Errorf("pool: getblocktemplate failed on every daemon instance")
	}

	var gbt rpcGetBlockTemplate
	if err := json.Unmarshal(raw, &gbt); err != nil {
		return job.RPCTemplate{}, false, fmt.Errorf("pool: decode getblocktemplate: %w", err)
	}

	vouts, err := o.decodeCoinbaseVouts(ctx, gbt.Coinbasetxn.Data)
	if err != nil {
		return job.RPCTemplate{}, false, fmt.Errorf("pool: decode coinbase: %w", err)
	}

	txs := make([]job.RPCTransaction, len(gbt.Transactions))
	for i, t := range gbt.Transactions {
		txs[i] = job.RPCTransaction{Hash: t.Hash, Data: t.Data, Fee: t.Fee}
	}

	return job.RPCTemplate{
		PreviousBlockHash: gbt.PreviousBlockHash,
		FinalSaplingRoot:  gbt.FinalSaplingRoot,
		Bits:              gbt.Bits,
		CurTime:           gbt.CurTime,
		Height:            gbt.Height,
		Version:           gbt.Version,
		Target:            gbt.Target,
		Transactions:      txs,
		CoinbaseValue:     gbt.CoinbaseValue,
		Vouts:             vouts,
	}, false, nil
}

// decodeCoinbaseVouts turns the raw coinbasetxn hex into the vout
// breakdown the template builder needs, via decoderawtransaction (spec.md
// §6: "Daemon JSON-RPC. Methods consumed: ... decoderawtransaction").
func (o *Orchestrator) decodeCoinbaseVouts(ctx context.Context, coinbaseHex string) ([]job.RPCVout, error) {
	results := o.daemonClient.Cmd(ctx, "decoderawtransaction", []any{coinbaseHex})
	var raw json.RawMessage
	for _, r := range results {
		if r.Error == nil {
			raw = r.Response
			break
		}
	}
	if raw == nil {
		return nil, fmt.Errorf("decoderawtransaction failed on every daemon instance")
	}

	var decoded rpcDecodedTx
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decode decoderawtransaction response: %w", err)
	}

	vouts := make([]job.RPCVout, len(decoded.Vout))
	for i, v := range decoded.Vout {
		scriptRaw, err := hex.DecodeString(v.ScriptPubKey.Hex)
		if err != nil {
			return nil, fmt.Errorf("vout %d: decode scriptPubKey hex: %w", i, err)
		}
		valueZat := int64(v.Value*1e8 + 0.5)
		hashOrPubkey, err := bitcoin.DecodeOutputScript(v.ScriptPubKey.Type, scriptRaw)
		if err != nil && valueZat != 0 {
			return nil, fmt.Errorf("vout %d: %w", i, err)
		}
		vouts[i] = job.RPCVout{ValueZat: valueZat, ScriptPubKeyType: v.ScriptPubKey.Type, ScriptPubKeyHash: hashOrPubkey}
	}
	return vouts, nil
}
