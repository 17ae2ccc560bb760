// Package config loads the engine's tunable thresholds from YAML,
// following the teacher's externalized-profile pattern
// (core/pkg/config/profile_loader.go) rather than hardcoding constants.
package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ciphernom/bitquill/pkg/bqerr"
)

// AnalyzerConfig holds the enumerated analyzer thresholds spec.md §9
// requires be exposed as configuration rather than baked in.
type AnalyzerConfig struct {
	MinIntervalMs            int64   `yaml:"min_interval_ms"`
	MinIntervalViolationRun  int     `yaml:"min_interval_violation_run"`
	MaxBurstSize             int     `yaml:"max_burst_size"`
	MaxChunkChars            int     `yaml:"max_chunk_chars"`
	WindowSize               int     `yaml:"window_size"`
	CorrectionRatioThreshold float64 `yaml:"correction_ratio_threshold"`
	// CELRules is an optional set of additional advisory suspicion rules,
	// each a boolean CEL expression evaluated against the rolling window
	// (see pkg/analyzer). A rule that errors degrades to "analysis-error"
	// without blocking composition, it never gates is_valid directly.
	CELRules []CELRule `yaml:"cel_rules"`
}

// CELRule names an advisory CEL expression and the pattern tag it emits
// when it evaluates true.
type CELRule struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
	Tag        string `yaml:"tag"`
}

// DifficultyConfig holds the bounded multiplicative adjustment's
// constants from spec.md §4.5.
type DifficultyConfig struct {
	AdjustmentIntervalEdits int     `yaml:"adjustment_interval_edits"`
	TargetIntervalMs        float64 `yaml:"target_interval_ms"`
	MaxFactor               float64 `yaml:"max_factor"`
	MinDifficulty           uint8   `yaml:"min_difficulty"`
	MaxDifficulty           uint8   `yaml:"max_difficulty"`
}

// AnchorConfig holds the anchoring client's retry/backoff tunables.
type AnchorConfig struct {
	MaxRetryCount    int     `yaml:"max_retry_count"`
	BaseBackoffMs    int64   `yaml:"base_backoff_ms"`
	MaxBackoffMs     int64   `yaml:"max_backoff_ms"`
	RateLimitPerSec  float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst   int     `yaml:"rate_limit_burst"`
}

// Config is the top-level document for the whole engine.
type Config struct {
	Analyzer   AnalyzerConfig   `yaml:"analyzer"`
	Difficulty DifficultyConfig `yaml:"difficulty"`
	Anchor     AnchorConfig     `yaml:"anchor"`
}

// Default returns the reference thresholds from spec.md §4.3–§4.5,
// §4.7, used whenever no operator-supplied YAML profile is loaded.
func Default() Config {
	return Config{
		Analyzer: AnalyzerConfig{
			MinIntervalMs:            5,
			MinIntervalViolationRun:  3,
			MaxBurstSize:             8,
			MaxChunkChars:            400,
			WindowSize:               50,
			CorrectionRatioThreshold: 0.6,
		},
		Difficulty: DifficultyConfig{
			AdjustmentIntervalEdits: 201,
			TargetIntervalMs:        200,
			MaxFactor:               4,
			MinDifficulty:           1,
			MaxDifficulty:           32,
		},
		Anchor: AnchorConfig{
			MaxRetryCount:   5,
			BaseBackoffMs:   500,
			MaxBackoffMs:    60_000,
			RateLimitPerSec: 2,
			RateLimitBurst:  4,
		},
	}
}

// Load reads a YAML profile from path and merges it over Default(); a
// missing file is not an error, the defaults are returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, bqerr.New(bqerr.KindDeserialization, bqerr.ClassDegraded, "config read failed", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Default(), bqerr.New(bqerr.KindDeserialization, bqerr.ClassDegraded, "config parse failed", err)
	}
	return cfg, nil
}
