// Package coinparams holds the immutable per-process facts about the coin
// network the pool is terminating Stratum for: its Equihash algorithm
// constants, wire magic bytes, and the runtime reward-type fact filled in
// by daemon probing at startup.
package coinparams

import (
	"fmt"
	"math/big"
)

// RewardType distinguishes proof-of-work from proof-of-stake blocks, as
// reported by the daemon's getinfo.staked field during startup probing.
type RewardType string

const (
	RewardPOW RewardType = "POW"
	RewardPOS RewardType = "POS"
)

// Algo names the Equihash parameterization a coin uses. Only the two
// difficulty conventions spec.md calls out are represented.
type Algo string

const (
	AlgoKomodo Algo = "komodo"
	AlgoZcash  Algo = "zcash"
)

// AlgoConstants is the (diff1, minDiff) pair for one algorithm tag.
type AlgoConstants struct {
	Diff1   *big.Int
	MinDiff *big.Int
}

func hexMust(s string) *big.Int {
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		panic("coinparams: invalid hex constant " + s)
	}
	return n
}

// AlgoTable maps an algorithm tag to its difficulty-1 target and a floor
// difficulty. Komodo's diff1 is 32 bytes of 0x0F; Zcash's is 0x0007 followed
// by 30 bytes of 0xFF, both per spec.md §3.
var AlgoTable = map[Algo]AlgoConstants{
	AlgoKomodo: {
		Diff1:   hexMust(repeatHex("0f", 32)),
		MinDiff: big.NewInt(1),
	},
	AlgoZcash: {
		Diff1:   hexMust("0007" + repeatHex("ff", 30)),
		MinDiff: big.NewInt(1),
	},
}

func repeatHex(pair string, n int) string {
	b := make([]byte, 0, len(pair)*n)
	for i := 0; i < n; i++ {
		b = append(b, pair...)
	}
	return string(b)
}

// ScalingFactor is zcash.diff1 / komodo.diff1, used by the Stratum layer to
// translate a miner's equihash-style difficulty into Komodo's internal
// target space before emitting mining.set_target (spec.md §4.4).
func ScalingFactor() *big.Float {
	z := new(big.Float).SetInt(AlgoTable[AlgoZcash].Diff1)
	k := new(big.Float).SetInt(AlgoTable[AlgoKomodo].Diff1)
	return new(big.Float).Quo(z, k)
}

// Difficulty computes diff1/target as a float, the convention spec.md §3
// defines for turning a 256-bit target into a human difficulty number.
func Difficulty(algo Algo, target *big.Int) float64 {
	if target == nil || target.Sign() == 0 {
		return 0
	}
	diff1 := AlgoTable[algo].Diff1
	f := new(big.Float).Quo(new(big.Float).SetInt(diff1), new(big.Float).SetInt(target))
	v, _ := f.Float64()
	return v
}

// Params is the immutable, per-process description of the coin network.
type Params struct {
	Symbol           string
	Name             string
	PeerMagic        [4]byte
	PeerMagicTestnet [4]byte
	Algo             Algo

	// Reward is filled in at startup by probing getinfo.staked; it is not
	// known until the daemon client has come online (spec.md §9, "dynamic
	// shape propagation").
	Reward RewardType
}

func (p Params) String() string {
	return fmt.Sprintf("%s (%s, algo=%s, reward=%s)", p.Name, p.Symbol, p.Algo, p.Reward)
}
