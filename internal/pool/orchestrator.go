// Package pool wires together the daemon client, the Job Manager, and the
// Stratum server into the single running process spec.md §4.7 describes:
// the startup sequence, template refresh loop, and share/block event
// handling.
package pool

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"solopool/internal/bitcoin"
	"solopool/internal/blocknotify"
	"solopool/internal/coinparams"
	"solopool/internal/config"
	"solopool/internal/daemon"
	"solopool/internal/job"
	"solopool/internal/metrics"
	"solopool/internal/p2p"
	"solopool/internal/stratum"
)

// Orchestrator owns the process-wide wiring: one daemon client, one Job
// Manager, one Stratum server, and the optional P2P/blocknotify fast
// paths.
type Orchestrator struct {
	cfg config.Config
	log func(format string, args ...any)

	metrics metrics.Recorder

	daemonClient *daemon.Client
	jobMgr       *job.Manager
	stratumSrv   *stratum.Server
	p2pPeer      *p2p.Peer
	notifyListener *blocknotify.Listener

	// params is the flowing "runtime coin facts" value spec.md §9 asks
	// for: static from config at construction time, then completed with
	// the probed reward type once the daemon comes online.
	params     coinparams.Params
	ledgerPath string

	mu                sync.Mutex
	networkDifficulty float64
	syncPollInterval  time.Duration
}

// New constructs an Orchestrator from a validated configuration. It does
// not start anything network-facing; call Run for that.
func New(cfg config.Config, rec metrics.Recorder, logf func(string, ...any)) (*Orchestrator, error) {
	if logf == nil {
		logf = log.Printf
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	algo := coinparams.AlgoKomodo
	if strings.EqualFold(cfg.Coin.Algo, "zcash") {
		algo = coinparams.AlgoZcash
	}

	params := coinparams.Params{Symbol: cfg.Coin.Symbol, Name: cfg.Coin.Name, Algo: algo}
	if magic, err := decodePeerMagic(cfg.Coin.PeerMagic); err == nil {
		params.PeerMagic = magic
	}
	if cfg.Coin.PeerMagicTestnet != "" {
		if magic, err := decodePeerMagic(cfg.Coin.PeerMagicTestnet); err == nil {
			params.PeerMagicTestnet = magic
		}
	}

	instances := make([]*daemon.Instance, len(cfg.Daemons))
	for i, d := range cfg.Daemons {
		instances[i] = &daemon.Instance{Host: d.Host, Port: d.Port, User: d.User, Password: d.Password, Index: i}
	}

	o := &Orchestrator{
		cfg:              cfg,
		log:              logf,
		metrics:          rec,
		daemonClient:     daemon.NewClient(instances, daemon.LogFunc(logf)),
		params:           params,
		ledgerPath:       fmt.Sprintf("logs/%s_blocks.json", cfg.Coin.Symbol),
		syncPollInterval: 5 * time.Second,
	}
	return o, nil
}

// Run executes the full startup sequence of spec.md §4.7 and then blocks,
// servicing Job Manager events and periodic refresh timers, until ctx is
// canceled.
func (o *Orchestrator) Run(ctx context.Context) error {
	// Step 3: daemon client online wait.
	init := o.daemonClient.Init(ctx)
	if !init.Online {
		return fmt.Errorf("pool: daemon client failed to come online")
	}
	o.log("daemon client online (%d instance(s))", len(o.cfg.Daemons))

	// Step 4: probe coin data.
	pool, err := o.probeCoinData(ctx)
	if err != nil {
		return err
	}
	o.log("coin params: %s", o.params)

	// Step 5: Job Manager.
	algoDiff1 := coinparams.AlgoTable[o.params.Algo].Diff1
	o.jobMgr = job.NewManager(pool, algoDiff1, o.params.Reward, o.log)

	// Step 1: bind VarDiff per port + Stratum server (constructed now,
	// started at step 10).
	o.stratumSrv = stratum.NewServer(o.cfg, o.jobMgr, o.authorize, o.metrics, o.log)

	// Step 6: wait for the daemon to finish syncing.
	if err := o.waitForSync(ctx); err != nil {
		return err
	}

	// Step 7: first template.
	if err := o.refreshTemplate(ctx); err != nil {
		return fmt.Errorf("pool: initial template fetch: %w", err)
	}

	// Step 9: optional P2P fast path.
	if o.cfg.P2P.Enabled {
		magic, err := decodePeerMagic(o.cfg.Coin.PeerMagic)
		if err != nil {
			return fmt.Errorf("pool: coin.peerMagic: %w", err)
		}
		o.p2pPeer = p2p.NewPeer(o.cfg.P2P.Host, o.cfg.P2P.Port, magic, o.cfg.P2P.DisableTransactions, o.log)
		go o.p2pPeer.Run(ctx)
	}

	// Supplemented feature: TCP blocknotify fast path.
	if o.cfg.BlockNotify.Enabled {
		o.notifyListener = blocknotify.NewListener(o.cfg.BlockNotify.Listen, o.log)
		if err := o.notifyListener.Start(); err != nil {
			return fmt.Errorf("pool: blocknotify listener: %w", err)
		}
	}

	// Step 10: start the Stratum server and broadcast the current job.
	if err := o.stratumSrv.Start(); err != nil {
		return fmt.Errorf("pool: start stratum server: %w", err)
	}
	o.stratumSrv.BroadcastJob()

	return o.eventLoop(ctx)
}

// authorize is the reference authorization hook: every worker is
// authorized, per spec.md §4.4 ("the reference behavior always returns
// authorized=true").
func (o *Orchestrator) authorize(ip string, port int, addr, pass string) (authorized, disconnect bool) {
	return true, false
}

// probeCoinData implements step 4 of spec.md §4.7: validateaddress,
// getdifficulty, getinfo, getmininginfo in one batch call.
func (o *Orchestrator) probeCoinData(ctx context.Context) (job.PoolScript, error) {
	results, err := o.daemonClient.BatchCmd(ctx, []daemon.BatchCall{
		{Method: "validateaddress", Params: []any{o.cfg.Address}},
		{Method: "getdifficulty", Params: nil},
		{Method: "getinfo", Params: nil},
		{Method: "getmininginfo", Params: nil},
	})
	if err != nil {
		return job.PoolScript{}, fmt.Errorf("pool: probe coin data: %w", err)
	}
	if len(results) != 4 {
		return job.PoolScript{}, fmt.Errorf("pool: probe coin data: expected 4 results, got %d", len(results))
	}

	var validate struct{ IsValid bool `json:"isvalid"` }
	if err := json.Unmarshal(results[0], &validate); err != nil {
		return job.PoolScript{}, fmt.Errorf("pool: decode validateaddress: %w", err)
	}
	if !validate.IsValid {
		return job.PoolScript{}, fmt.Errorf("pool: configured address %q is not valid on this chain", o.cfg.Address)
	}

	var info struct{ Staked bool `json:"staked"` }
	_ = json.Unmarshal(results[2], &info)
	o.params.Reward = coinparams.RewardPOW
	if info.Staked {
		o.params.Reward = coinparams.RewardPOS
	}

	var mining struct{ Difficulty float64 `json:"difficulty"` }
	if err := json.Unmarshal(results[3], &mining); err == nil {
		o.stratumNetworkDifficultyLocked(mining.Difficulty)
	}

	var poolScript job.PoolScript
	if o.cfg.Pubkey != "" {
		pk, err := parseHexPubkey(o.cfg.Pubkey)
		if err != nil {
			return job.PoolScript{}, err
		}
		poolScript = job.PoolScript{Type: "pubkey", HashOrPubkey: pk}
	} else {
		_, hash160, err := bitcoin.DecodeAddress(o.cfg.Address)
		if err != nil {
			return job.PoolScript{}, fmt.Errorf("pool: decode pool address: %w", err)
		}
		poolScript = job.PoolScript{Type: "pubkeyhash", HashOrPubkey: hash160}
	}
	return poolScript, nil
}

// decodePeerMagic parses the coin's 4-byte network magic, as configured
// in hex (e.g. "f9eee48d").
func decodePeerMagic(s string) ([4]byte, error) {
	var magic [4]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return magic, fmt.Errorf("decode hex: %w", err)
	}
	if len(b) != 4 {
		return magic, fmt.Errorf("must be 4 bytes, got %d", len(b))
	}
	copy(magic[:], b)
	return magic, nil
}

func parseHexPubkey(s string) ([]byte, error) {
	if len(s) != 66 {
		return nil, fmt.Errorf("pool: pubkey must be 66 hex chars (33-byte compressed), got %d", len(s))
	}
	b := make([]byte, 33)
	if _, err := fmt.Sscanf(s, "%x", &b); err != nil {
		return nil, fmt.Errorf("pool: decode pubkey: %w", err)
	}
	return b, nil
}

// waitForSync implements step 6: poll getblocktemplate until it no longer
// reports "chain not synced" (-10).
func (o *Orchestrator) waitForSync(ctx context.Context) error {
	for {
		_, syncing, err := o.fetchTemplate(ctx)
		if err != nil {
			return fmt.Errorf("pool: sync check: %w", err)
		}
		if !syncing {
			return nil
		}

		// Report per-instance sync progress as each daemon answers, rather
		// than waiting for the slowest one before logging anything
		// (spec.md §4.1's streamResults=true mode).
		reported := false
		for r := range o.daemonClient.CmdStream(ctx, "getinfo", nil) {
			if r.Error != nil {
				continue
			}
			var gi struct{ Blocks int64 `json:"blocks"` }
			if err := json.Unmarshal(r.Response, &gi); err == nil {
				o.log("waiting for chain sync: daemon %s at block %d", r.Instance, gi.Blocks)
				reported = true
			}
		}
		if !reported {
			o.log("waiting for chain sync")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.syncPollInterval):
		}
	}
}

// refreshTemplate fetches the latest getblocktemplate and feeds it to the
// Job Manager, broadcasting any resulting job transition.
func (o *Orchestrator) refreshTemplate(ctx context.Context) error {
	rpc, syncing, err := o.fetchTemplate(ctx)
	if err != nil {
		return err
	}
	if syncing {
		return fmt.Errorf("pool: chain reported not synced during refresh")
	}

	isNewBlock, err := o.jobMgr.ProcessTemplate(rpc)
	if err != nil {
		return err
	}
	if isNewBlock {
		o.refreshNetworkDifficulty(rpc)
	}
	return nil
}

func (o *Orchestrator) refreshNetworkDifficulty(rpc job.RPCTemplate) {
	target, err := bitcoin.TargetFromHex(rpc.Target)
	if err != nil {
		return
	}
	diff := coinparams.Difficulty(o.params.Algo, target)
	o.stratumNetworkDifficultyLocked(diff)
}

func (o *Orchestrator) stratumNetworkDifficultyLocked(diff float64) {
	o.mu.Lock()
	o.networkDifficulty = diff
	o.mu.Unlock()
	if o.stratumSrv != nil {
		o.stratumSrv.SetNetworkDifficulty(diff)
	}
}

// eventLoop services Job Manager events/shares and the periodic refresh
// timers until ctx is canceled, per spec.md §4.7's event wiring.
func (o *Orchestrator) eventLoop(ctx context.Context) error {
	var refreshTicker, rebroadcastTimer *time.Ticker
	if o.cfg.BlockRefreshInterval > 0 {
		refreshTicker = time.NewTicker(time.Duration(o.cfg.BlockRefreshInterval * float64(time.Second)))
		defer refreshTicker.Stop()
	}
	if o.cfg.JobRebroadcastTimeout > 0 {
		rebroadcastTimer = time.NewTicker(time.Duration(o.cfg.JobRebroadcastTimeout * float64(time.Second)))
		defer rebroadcastTimer.Stop()
	}

	var refreshCh, rebroadcastCh <-chan time.Time
	if refreshTicker != nil {
		refreshCh = refreshTicker.C
	}
	if rebroadcastTimer != nil {
		rebroadcastCh = rebroadcastTimer.C
	}

	var notifyCh <-chan string
	if o.notifyListener != nil {
		notifyCh = o.notifyListener.Notifications()
	}
	var p2pCh <-chan string
	if o.p2pPeer != nil {
		p2pCh = o.p2pPeer.BlockFound()
	}

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return ctx.Err()

		case ev := <-o.jobMgr.Events():
			switch ev.Kind {
			case job.EventNewBlock:
				o.refreshNetworkDifficulty(ev.Job.RPC)
			}
			o.stratumSrv.BroadcastJob()

		case share := <-o.jobMgr.Shares():
			if share.IsBlock {
				go o.handleBlockShare(ctx, share)
			}

		case <-refreshCh:
			if err := o.refreshTemplate(ctx); err != nil {
				o.log("periodic template refresh failed: %v", err)
			}

		case <-rebroadcastCh:
			rpc, syncing, err := o.fetchTemplate(ctx)
			if err != nil || syncing {
				o.log("broadcastTimeout refresh failed: %v", err)
				continue
			}
			isNewBlock, err := o.jobMgr.ProcessTemplate(rpc)
			if err != nil {
				o.log("broadcastTimeout processTemplate failed: %v", err)
				continue
			}
			if !isNewBlock {
				_ = o.jobMgr.UpdateCurrentJob(rpc)
			}

		case hash := <-notifyCh:
			o.onExternalBlockHint(ctx, hash)

		case hash := <-p2pCh:
			o.onExternalBlockHint(ctx, hash)
		}
	}
}

// onExternalBlockHint handles a P2P inv(block) or blocknotify hint per
// spec.md §4.7: if it names a tip we don't already have, fetch a fresh
// template after a short settle delay.
func (o *Orchestrator) onExternalBlockHint(ctx context.Context, hash string) {
	cur := o.jobMgr.CurrentJob()
	if cur != nil && strings.EqualFold(hash, cur.RPC.PreviousBlockHash) {
		return
	}
	time.Sleep(blockConfirmDelay)
	if err := o.refreshTemplate(ctx); err != nil {
		o.log("external block hint refresh failed: %v", err)
	}
}

func (o *Orchestrator) handleBlockShare(ctx context.Context, share job.ShareResult) {
	if !o.submitBlock(ctx, share.BlockHex) {
		o.log("submitblock rejected by a daemon instance for height %d", share.Height)
		o.metrics.BlockSubmitted(false)
		return
	}
	o.confirmAndRecordBlock(ctx, share)
	if err := o.refreshTemplate(ctx); err != nil {
		o.log("post-block template refresh failed: %v", err)
	}
}

func (o *Orchestrator) shutdown() {
	if o.stratumSrv != nil {
		_ = o.stratumSrv.Stop()
	}
	if o.notifyListener != nil {
		_ = o.notifyListener.Stop()
	}
}

// NetworkDifficulty returns the most recently observed network difficulty,
// for the status endpoint.
func (o *Orchestrator) NetworkDifficulty() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.networkDifficulty
}

// ConnectedMiners returns the Stratum server's connected client count.
func (o *Orchestrator) ConnectedMiners() int {
	if o.stratumSrv == nil {
		return 0
	}
	return o.stratumSrv.ConnectedCount()
}

// CurrentJob exposes the Job Manager's current job for the status
// endpoint.
func (o *Orchestrator) CurrentJob() *job.BlockTemplate {
	if o.jobMgr == nil {
		return nil
	}
	return o.jobMgr.CurrentJob()
}
