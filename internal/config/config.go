// Package config loads the pool's single JSON configuration document, per
// spec.md §6.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Coin describes the network parameters the daemon and Stratum layers
// need. The reward type is not part of this struct: it is probed from the
// daemon at startup and kept on coinparams.Params, not read from disk.
type Coin struct {
	Name             string `json:"name"`
	Symbol           string `json:"symbol"`
	PeerMagic        string `json:"peerMagic"`
	PeerMagicTestnet string `json:"peerMagicTestnet"`
	Algo             string `json:"algo"`
}

// Daemon is one configured coin daemon RPC endpoint; order matters for
// BatchCmd, which always talks to daemons[0].
type Daemon struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
}

// VarDiff is the optional per-port retarget tuning.
type VarDiff struct {
	TargetTime      float64 `json:"targetTime"`
	RetargetTime    float64 `json:"retargetTime"`
	VariancePercent float64 `json:"variancePercent"`
	MinDiff         float64 `json:"minDiff"`
	MaxDiff         float64 `json:"maxDiff"`
}

// Port is one Stratum listening port's configuration.
type Port struct {
	Diff    float64  `json:"diff"`
	VarDiff *VarDiff `json:"varDiff,omitempty"`
}

// P2P configures the optional Bitcoin P2P fast-path peer.
type P2P struct {
	Enabled              bool   `json:"enabled"`
	Host                 string `json:"host"`
	Port                 int    `json:"port"`
	DisableTransactions  bool   `json:"disableTransactions"`
}

// Config is the pool's single JSON configuration document.
type Config struct {
	Coin    Coin          `json:"coin"`
	Address string        `json:"address"`
	Pubkey  string        `json:"pubkey"`
	Daemons []Daemon      `json:"daemons"`
	Ports   map[string]Port `json:"ports"`
	P2P     P2P           `json:"p2p"`

	BlockRefreshInterval  float64 `json:"blockRefreshInterval"`
	JobRebroadcastTimeout float64 `json:"jobRebroadcastTimeout"`
	ConnectionTimeout     float64 `json:"connectionTimeout"`
	MinDiffAdjust         bool    `json:"minDiffAdjust"`

	PrintShares        bool `json:"printShares"`
	PrintHighShares    bool `json:"printHighShares"`
	PrintCurrentDiff   bool `json:"printCurrentDiff"`
	PrintNewWork       bool `json:"printNewWork"`
	PrintNethash       bool `json:"printNethash"`
	PrintVarDiffAdjust bool `json:"printVarDiffAdjust"`

	TCPProxyProtocol bool `json:"tcpProxyProtocol"`

	BlockNotify BlockNotify `json:"blockNotify"`

	// MetricsListen, if set, serves Prometheus metrics on /metrics and the
	// JSON status snapshot on /status.
	MetricsListen string `json:"metricsListen"`
}

// BlockNotify configures the supplemented TCP fast-path block notifier
// (spec.md's supplemented blocknotify mechanism, grounded on the NOMP
// lineage's blocknotify.c helper).
type BlockNotify struct {
	Enabled bool   `json:"enabled"`
	Listen  string `json:"listen"`
}

// Load reads and parses the JSON configuration document at path.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate enforces the required fields and basic sanity checks spec.md §6
// implies (no daemons, no ports, no address all being fatal startup
// conditions per §7).
func (c Config) Validate() error {
	if c.Coin.Symbol == "" {
		return fmt.Errorf("config: coin.symbol is required")
	}
	if c.Address == "" {
		return fmt.Errorf("config: address is required")
	}
	if len(c.Daemons) == 0 {
		return fmt.Errorf("config: at least one daemon is required")
	}
	if len(c.Ports) == 0 {
		return fmt.Errorf("config: at least one listening port is required")
	}
	for _, d := range c.Daemons {
		if d.Host == "" || d.Port == 0 {
			return fmt.Errorf("config: daemon entries require host and port")
		}
	}
	return nil
}
