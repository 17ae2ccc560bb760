// Package difficulty implements the bounded multiplicative difficulty
// adjustment of spec.md §4.5, the only mutator of the PoW difficulty
// outside construction. The clamp-to-factor-bounds shape is grounded on
// the pack's rubin-protocol RetargetV1 (lower/upper clamp around the
// prior target) generalized from a big.Int target ratio to a plain
// float factor, and on the teacher's ControlLoop regulation idiom
// (core/pkg/kernel/cybernetics.go) for periodic, read-stats-then-adjust
// control.
package difficulty

import (
	"math"

	"github.com/ciphernom/bitquill/pkg/config"
)

// Controller holds the current difficulty and the bounds it must stay
// within, per spec.md invariant I4.
type Controller struct {
	cfg     config.DifficultyConfig
	current uint8
}

// New constructs a Controller starting at the configured minimum
// difficulty.
func New(cfg config.DifficultyConfig) *Controller {
	start := cfg.MinDifficulty
	if start == 0 {
		start = 1
	}
	return &Controller{cfg: cfg, current: start}
}

// Current returns the active difficulty.
func (c *Controller) Current() uint8 { return c.current }

// SetCurrent forcibly sets the active difficulty, used when replaying a
// deserialized log's recorded pow.difficulty sequence rather than
// deriving it from scratch.
func (c *Controller) SetCurrent(d uint8) { c.current = d }

// ShouldAdjust reports whether totalEdits has just crossed an adjustment
// boundary (every AdjustmentIntervalEdits edits, default 201).
func (c *Controller) ShouldAdjust(totalEdits int) bool {
	interval := c.cfg.AdjustmentIntervalEdits
	if interval <= 0 {
		interval = 201
	}
	return totalEdits > 0 && totalEdits%interval == 0
}

// Adjust applies the bounded multiplicative update:
//
//	factor = clamp(target_interval_ms / mean_interval_ms, 1/max_factor, max_factor)
//	d_new  = clamp(round(d_current * factor), min_d, max_d)
//
// Adjust is idempotent given identical meanIntervalMs and current
// difficulty, the only mutator of difficulty outside construction.
func (c *Controller) Adjust(meanIntervalMs float64) uint8 {
	c.current = Next(c.current, meanIntervalMs, c.cfg)
	return c.current
}

// Next computes the next difficulty value without mutating a Controller,
// exposed directly so callers (and property tests) can exercise the pure
// formula against arbitrary (current, mean) pairs.
func Next(current uint8, meanIntervalMs float64, cfg config.DifficultyConfig) uint8 {
	maxFactor := cfg.MaxFactor
	if maxFactor <= 1 {
		maxFactor = 4
	}
	target := cfg.TargetIntervalMs
	if target <= 0 {
		target = 200
	}
	if meanIntervalMs < 1 {
		meanIntervalMs = 1
	}

	factor := target / meanIntervalMs
	factor = clampFloat(factor, 1/maxFactor, maxFactor)

	raw := math.Round(float64(current) * factor)

	minD := float64(cfg.MinDifficulty)
	maxD := float64(cfg.MaxDifficulty)
	if maxD <= 0 {
		maxD = 32
	}
	raw = clampFloat(raw, minD, maxD)

	return uint8(raw)
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ValidateAdjacentPair reports whether next is a permissible successor
// to prev under cfg's bounds and max-adjustment-factor: invariant I4's
// "difficulty stays within [min_d, max_d]; adjacent-adjustment ratio
// stays within [1/max_factor, max_factor]" re-checked against a
// recorded difficulty sequence rather than derived fresh. prev == 0
// means there is no prior value to compare against (the first
// non-genesis leaf), so only the bounds check applies.
func ValidateAdjacentPair(prev, next uint8, cfg config.DifficultyConfig) bool {
	minD := cfg.MinDifficulty
	maxD := cfg.MaxDifficulty
	if maxD == 0 {
		maxD = 32
	}
	if next < minD || next > maxD {
		return false
	}
	if prev == 0 {
		return true
	}

	maxFactor := cfg.MaxFactor
	if maxFactor <= 1 {
		maxFactor = 4
	}
	const epsilon = 1e-9
	ratio := float64(next) / float64(prev)
	return ratio <= maxFactor+epsilon && ratio >= 1/maxFactor-epsilon
}
