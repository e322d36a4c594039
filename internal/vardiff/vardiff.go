// Package vardiff implements the per-listening-port difficulty retargeting
// algorithm described in spec.md §4.5: a ring buffer of inter-submit
// intervals drives difficulty up or down to keep shares landing near a
// configured target cadence.
package vardiff

import (
	"math"
	"time"
)

// Config is one port's VarDiff tuning, sourced from the pool configuration.
type Config struct {
	TargetTime      float64 // seconds between shares the controller aims for
	RetargetTime    float64 // seconds between retarget evaluations
	VariancePercent float64
	MinDiff         float64
	MaxDiff         float64
}

func (c Config) bufferSize() int {
	n := int(4 * c.RetargetTime / c.TargetTime)
	if n < 1 {
		n = 1
	}
	return n
}

func (c Config) tMin() float64 { return c.TargetTime * (1 - c.VariancePercent/100) }
func (c Config) tMax() float64 { return c.TargetTime * (1 + c.VariancePercent/100) }

// Controller holds the network difficulty for one listening port, shared
// across every client connected to it. It is refreshed from the Job
// Manager whenever a new block is processed (spec.md §4.5).
type Controller struct {
	cfg               Config
	networkDifficulty float64
}

// NewController builds a VarDiff controller for one port.
func NewController(cfg Config) *Controller {
	return &Controller{cfg: cfg}
}

// SetNetworkDifficulty updates the cap used when driving difficulty up.
func (c *Controller) SetNetworkDifficulty(d float64) { c.networkDifficulty = d }

// Tracker is one client's submit-interval ring buffer and retarget clock.
// Callers own the client's actual difficulty value; Submit only reports
// what it should become.
type Tracker struct {
	buf     []float64
	lastTs  time.Time
	lastRtc time.Time
	seeded  bool
}

// NewTracker allocates a fresh per-client tracker.
func NewTracker() *Tracker { return &Tracker{} }

// Submit feeds one inter-share timing sample into the tracker and reports
// whether the client's difficulty should change, per the five-step
// algorithm in spec.md §4.5.
func (c *Controller) Submit(t *Tracker, currentDiff float64, now time.Time) (newDiff float64, changed bool) {
	if !t.seeded {
		t.lastRtc = now.Add(-time.Duration(c.cfg.RetargetTime/2) * time.Second)
		t.lastTs = now
		t.seeded = true
		return 0, false
	}

	t.buf = append(t.buf, now.Sub(t.lastTs).Seconds())
	t.lastTs = now
	if bufCap := c.cfg.bufferSize(); len(t.buf) > bufCap {
		t.buf = t.buf[len(t.buf)-bufCap:]
	}

	if now.Sub(t.lastRtc).Seconds() < c.cfg.RetargetTime && len(t.buf) > 0 {
		return 0, false
	}

	avg := mean(t.buf)
	tMin, tMax := c.cfg.tMin(), c.cfg.tMax()

	var factor float64
	switch {
	case avg > tMax && currentDiff > c.cfg.MinDiff:
		factor = math.Max(0.5, c.cfg.MinDiff/currentDiff)
	case avg < tMin:
		ceiling := c.cfg.MaxDiff
		if c.networkDifficulty > 0 {
			ceiling = math.Min(c.networkDifficulty, c.cfg.MaxDiff)
		}
		factor = math.Min(2, ceiling/currentDiff)
	default:
		return 0, false
	}

	t.buf = t.buf[:0]
	t.lastRtc = now
	newDiff = currentDiff * factor
	if newDiff < c.cfg.MinDiff {
		newDiff = c.cfg.MinDiff
	}
	ceiling := c.cfg.MaxDiff
	if c.networkDifficulty > 0 {
		ceiling = math.Min(c.networkDifficulty, c.cfg.MaxDiff)
	}
	if newDiff > ceiling {
		newDiff = ceiling
	}
	return newDiff, newDiff != currentDiff
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
