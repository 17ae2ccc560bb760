// Package analyzer maintains windowed behavioral statistics over a
// document's edit stream and renders a per-edit validity verdict plus
// advisory pattern tags, per spec.md §4.3. It is modeled on the teacher's
// windowed essential-variable regulation idiom
// (core/pkg/kernel/cybernetics.go's ControlLoop/EssentialVariable), but
// tracks edit cadence rather than system health variables.
package analyzer

import (
	"context"
	"math"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/ciphernom/bitquill/pkg/config"
	"github.com/ciphernom/bitquill/pkg/delta"
)

// EditRecord is one windowed sample: an edit's size, classification, and
// the interval since the previous edit.
type EditRecord struct {
	TimestampMs int64
	IntervalMs  int64
	Size        int
	Kind        delta.EditKind
}

// EditStats is returned per-edit alongside the validity verdict.
type EditStats struct {
	IntervalMs int64          `json:"interval_ms"`
	Size       int            `json:"size"`
	Kind       delta.EditKind `json:"kind"`
}

// RecordResult is the verdict spec.md §4.3's record_edit operation
// returns.
type RecordResult struct {
	IsValid    bool      `json:"is_valid"`
	Patterns   []string  `json:"patterns"`
	EditStats  EditStats `json:"edit_stats"`
	TotalEdits int       `json:"total_edits"`
}

// AggregateStats is returned by Analyzer.Stats.
type AggregateStats struct {
	GeometricMeanIntervalMs float64 `json:"geometric_mean_interval_ms"`
	BurstRate               float64 `json:"burst_rate"`
	CorrectionRate           float64 `json:"correction_rate"`
	TotalEdits               int     `json:"total_edits"`
}

// Analyzer holds a circular buffer of the last N edit records plus
// running counters, per spec.md §3's Analyzer State. It is not part of
// the persisted log.
type Analyzer struct {
	mu sync.Mutex

	cfg config.AnalyzerConfig

	window      []EditRecord
	windowStart int // index of oldest sample in window, when full
	count       int // total samples ever recorded
	lastTs      int64
	hasLast     bool

	consecutiveFastIntervals int
	burstRunSize             int
	burstRunValue            int
	totalEdits               int
	burstEdits               int
	correctionEdits          int

	celEnv   *cel.Env
	celProgs map[string]cel.Program
}

// New constructs an Analyzer with the given threshold configuration.
func New(cfg config.AnalyzerConfig) *Analyzer {
	a := &Analyzer{cfg: cfg}
	if cfg.WindowSize > 0 {
		a.window = make([]EditRecord, 0, cfg.WindowSize)
	}
	a.compileCELRules()
	return a
}

func (a *Analyzer) compileCELRules() {
	if len(a.cfg.CELRules) == 0 {
		return
	}
	env, err := cel.NewEnv(
		cel.Variable("geometric_mean_interval_ms", cel.DoubleType),
		cel.Variable("burst_rate", cel.DoubleType),
		cel.Variable("correction_rate", cel.DoubleType),
		cel.Variable("total_edits", cel.IntType),
		cel.Variable("interval_ms", cel.IntType),
		cel.Variable("size", cel.IntType),
	)
	if err != nil {
		return
	}
	a.celEnv = env
	a.celProgs = make(map[string]cel.Program, len(a.cfg.CELRules))
	for _, rule := range a.cfg.CELRules {
		ast, iss := env.Compile(rule.Expression)
		if iss != nil && iss.Err() != nil {
			continue
		}
		prog, err := env.Program(ast)
		if err != nil {
			continue
		}
		a.celProgs[rule.Name] = prog
	}
}

// RecordEdit classifies and windows a new edit, returning a validity
// verdict and advisory patterns. It never returns an error past this
// boundary: internal failures degrade to is_valid=true with the
// "analysis-error" tag, per spec.md §4.3's failure semantics.
func (a *Analyzer) RecordEdit(ctx context.Context, d delta.Delta, timestampMs int64) (result RecordResult) {
	defer func() {
		if r := recover(); r != nil {
			result = RecordResult{IsValid: true, Patterns: []string{"analysis-error"}}
		}
	}()

	a.mu.Lock()
	defer a.mu.Unlock()

	var intervalMs int64
	if a.hasLast {
		intervalMs = timestampMs - a.lastTs
		if intervalMs < 0 {
			intervalMs = 0
		}
	} else {
		intervalMs = a.cfg.MinIntervalMs + 1 // first edit never triggers cadence suspicion
	}

	size := d.Size()
	kind := d.Kind()
	rec := EditRecord{TimestampMs: timestampMs, IntervalMs: intervalMs, Size: size, Kind: kind}

	// Everything below is computed against local copies of the running
	// counters and only written back to a once isValid is known. A
	// rejected edit must leave the Analyzer exactly as it found it —
	// otherwise an attacker could advance lastTs (and the interval/burst
	// counters derived from it) with a burst of edits that never land,
	// making a well-spaced edit that follows look faster than it is.
	consecutiveFastIntervals := a.consecutiveFastIntervals
	burstRunSize := a.burstRunSize
	burstRunValue := a.burstRunValue

	patterns := make([]string, 0, 2)
	isValid := true

	if intervalMs < a.cfg.MinIntervalMs {
		consecutiveFastIntervals++
		if consecutiveFastIntervals >= a.cfg.MinIntervalViolationRun {
			isValid = false
			patterns = append(patterns, "sub-floor-cadence")
		} else {
			patterns = append(patterns, "fast-cadence")
		}
	} else {
		consecutiveFastIntervals = 0
	}

	if size == burstRunValue && size > 0 {
		burstRunSize++
	} else {
		burstRunSize = 1
		burstRunValue = size
	}
	if burstRunSize > a.cfg.MaxBurstSize {
		// burstEdits is a reporting-only tally of observed burst
		// incidents, not an input to any future verdict, so it is safe
		// to count even though this edit itself is rejected below.
		a.burstEdits++
		isValid = false
		patterns = append(patterns, "repetition-burst")
	}

	if size > a.cfg.MaxChunkChars && intervalMs < a.cfg.MinIntervalMs*2 {
		isValid = false
		patterns = append(patterns, "oversized-chunk-no-thinktime")
	}

	patterns = append(patterns, a.evaluateCELRules(rec)...)

	if !isValid {
		return RecordResult{
			IsValid:    false,
			Patterns:   patterns,
			EditStats:  EditStats{IntervalMs: intervalMs, Size: size, Kind: kind},
			TotalEdits: a.totalEdits,
		}
	}

	a.lastTs = timestampMs
	a.hasLast = true
	a.consecutiveFastIntervals = consecutiveFastIntervals
	a.burstRunSize = burstRunSize
	a.burstRunValue = burstRunValue
	a.pushWindow(rec)
	a.totalEdits++
	if kind == delta.EditDelete || kind == delta.EditReplace {
		a.correctionEdits++
	}

	return RecordResult{
		IsValid:    true,
		Patterns:   patterns,
		EditStats:  EditStats{IntervalMs: intervalMs, Size: size, Kind: kind},
		TotalEdits: a.totalEdits,
	}
}

func (a *Analyzer) evaluateCELRules(rec EditRecord) []string {
	if a.celEnv == nil {
		return nil
	}
	var tags []string
	stats := a.statsLocked()
	vars := map[string]any{
		"geometric_mean_interval_ms": stats.GeometricMeanIntervalMs,
		"burst_rate":                 stats.BurstRate,
		"correction_rate":            stats.CorrectionRate,
		"total_edits":                int64(stats.TotalEdits),
		"interval_ms":                rec.IntervalMs,
		"size":                       rec.Size,
	}
	for _, rule := range a.cfg.CELRules {
		prog, ok := a.celProgs[rule.Name]
		if !ok {
			tags = append(tags, "analysis-error")
			continue
		}
		out, _, err := prog.Eval(vars)
		if err != nil {
			tags = append(tags, "analysis-error")
			continue
		}
		if b, ok := out.Value().(bool); ok && b {
			tags = append(tags, rule.Tag)
		}
	}
	return tags
}

// pushWindow appends rec to the circular buffer, evicting the oldest
// sample once WindowSize is reached.
func (a *Analyzer) pushWindow(rec EditRecord) {
	cap := a.cfg.WindowSize
	if cap <= 0 {
		cap = 50
	}
	if len(a.window) < cap {
		a.window = append(a.window, rec)
		return
	}
	a.window[a.windowStart] = rec
	a.windowStart = (a.windowStart + 1) % cap
}

// Stats returns the current aggregate statistics over the window.
func (a *Analyzer) Stats() AggregateStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.statsLocked()
}

func (a *Analyzer) statsLocked() AggregateStats {
	if len(a.window) == 0 {
		return AggregateStats{GeometricMeanIntervalMs: 1, TotalEdits: a.totalEdits}
	}

	logSum := 0.0
	for _, rec := range a.window {
		v := float64(rec.IntervalMs)
		if v < 1 {
			v = 1
		}
		logSum += math.Log(v)
	}
	gm := math.Exp(logSum / float64(len(a.window)))
	if gm < 1 {
		gm = 1
	}

	burstRate := float64(a.burstEdits) / float64(maxInt(a.totalEdits, 1))
	correctionRate := float64(a.correctionEdits) / float64(maxInt(a.totalEdits, 1))

	return AggregateStats{
		GeometricMeanIntervalMs: gm,
		BurstRate:               burstRate,
		CorrectionRate:          correctionRate,
		TotalEdits:              a.totalEdits,
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
