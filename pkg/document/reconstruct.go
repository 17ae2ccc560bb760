package document

import (
	"context"

	"github.com/Masterminds/semver/v3"

	"github.com/ciphernom/bitquill/pkg/analyzer"
	"github.com/ciphernom/bitquill/pkg/config"
	"github.com/ciphernom/bitquill/pkg/delta"
	"github.com/ciphernom/bitquill/pkg/difficulty"
	"github.com/ciphernom/bitquill/pkg/hashing"
	"github.com/ciphernom/bitquill/pkg/merklelog"
	"github.com/ciphernom/bitquill/pkg/powengine"
)

// powVerify is a thin alias kept local to this package so serialize.go
// reads as a self-contained verification pass.
func powVerify(payload []byte, nonce uint64, difficultyBits uint8) bool {
	return powengine.Verify(payload, nonce, difficultyBits)
}

// newLogFromLeaves rebuilds a Log's full in-memory state (analyzer
// window, difficulty controller) by replaying each non-genesis leaf's
// delta and timestamp through the analyzer and its recorded
// pow.difficulty into the controller, so a deserialized log does not
// start them cold. Replay uses config.Default() thresholds, not the
// configuration the log was built with.
func newLogFromLeaves(composer delta.Composer, leaves []Leaf, tree *merklelog.Tree, opts ...Option) (*Log, error) {
	cfg := config.Default()
	l := &Log{
		version:  semver.MustParse(DocumentVersion.String()),
		hasher:   hashing.NewCanonicalHasher(),
		composer: composer,
		analyzer: analyzer.New(cfg.Analyzer),
		diffCtl:  difficulty.New(cfg.Difficulty),
		pow:      powengine.New(),
		tree:     tree,
		leaves:   leaves,
	}
	for _, opt := range opts {
		opt(l)
	}

	ctx := context.Background()
	for i, leaf := range leaves {
		if i == 0 {
			continue
		}
		l.analyzer.RecordEdit(ctx, leaf.Delta, leaf.Metadata.TimestampMs)
		if leaf.Metadata.Pow != nil {
			l.diffCtl.SetCurrent(leaf.Metadata.Pow.Difficulty)
		}
	}

	return l, nil
}
