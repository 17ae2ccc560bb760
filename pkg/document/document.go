// Package document implements the Merkle Edit Log of spec.md §4.6: it
// owns genesis handling, leaf construction (delta + metadata + prev-root
// binding), PoW gating, serialization, current-content reconstruction
// via the injected Composer, and integration with the Anchoring Client.
// It is the top-level assembly of every other package, the way the
// teacher's apps/helm-node/main.go wires its kernel's subsystems
// together.
package document

import (
	"context"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"go.opentelemetry.io/otel/trace"

	"github.com/ciphernom/bitquill/pkg/analyzer"
	"github.com/ciphernom/bitquill/pkg/anchor"
	"github.com/ciphernom/bitquill/pkg/bqerr"
	"github.com/ciphernom/bitquill/pkg/canon"
	"github.com/ciphernom/bitquill/pkg/config"
	"github.com/ciphernom/bitquill/pkg/delta"
	"github.com/ciphernom/bitquill/pkg/difficulty"
	"github.com/ciphernom/bitquill/pkg/hashing"
	"github.com/ciphernom/bitquill/pkg/merklelog"
	"github.com/ciphernom/bitquill/pkg/powengine"
	"github.com/ciphernom/bitquill/pkg/telemetry"
)

// DocumentVersion is the semantic version of the wire format this
// package emits. The serialized "version" field preserves its Major
// component as a bare integer for compatibility with spec.md §6's wire
// example; the full value lets future engines express compatibility
// ranges via a semver.Constraint instead of an exact-match check.
var DocumentVersion = semver.MustParse("1.0.0")

// PowMetadata is a sealed edit's proof-of-work record.
type PowMetadata struct {
	Nonce      uint64 `json:"nonce"`
	Difficulty uint8  `json:"difficulty"`
	ElapsedMs  int64  `json:"elapsed_ms"`
}

// Metadata is an Edit Leaf's non-delta payload, per spec.md §3.
type Metadata struct {
	TimestampMs   int64              `json:"timestamp_ms"`
	IsGenesis     bool               `json:"is_genesis"`
	Pow           *PowMetadata       `json:"pow"`
	EditStats     analyzer.EditStats `json:"edit_stats"`
	HasFormatting bool               `json:"has_formatting"`
}

// Leaf is a committed edit record.
type Leaf struct {
	Index    int            `json:"index"`
	Delta    delta.Delta    `json:"delta"`
	Metadata Metadata       `json:"metadata"`
	PrevRoot hashing.Digest `json:"prev_root"`
	LeafHash hashing.Digest `json:"leaf_hash"`
}

// VerifyResult is returned by Log.VerifyProof.
type VerifyResult struct {
	Valid            bool
	Info             string
	TimestampReceipt *anchor.Receipt
}

// Log is the append-only Merkle edit log: the central assembly tying the
// Hasher, Delta/Composer, Edit Analyzer, PoW Engine, Difficulty
// Controller, Merkle tree, and Anchoring Client together.
type Log struct {
	mu sync.Mutex

	version  *semver.Version
	hasher   hashing.Hasher
	composer delta.Composer
	analyzer *analyzer.Analyzer
	diffCtl  *difficulty.Controller
	pow      *powengine.Engine

	tree   *merklelog.Tree
	leaves []Leaf

	anchorClient *anchor.Client
	receipts     []anchor.Receipt

	telemetry *telemetry.Provider
}

// Option configures a Log at construction time.
type Option func(*Log)

// WithAnchorClient attaches an Anchoring Client used by ManualTimestamp.
func WithAnchorClient(c *anchor.Client) Option {
	return func(l *Log) { l.anchorClient = c }
}

// WithPowEngine overrides the default (unrated) PoW Engine, e.g. to
// attach rate limiting via powengine.NewRateLimited.
func WithPowEngine(e *powengine.Engine) Option {
	return func(l *Log) { l.pow = e }
}

// WithTelemetry attaches an OpenTelemetry Provider; seal duration,
// difficulty-adjustment events, and anchor round-trips are recorded
// against it without changing the single-threaded cooperative contract
// of spec.md §5.
func WithTelemetry(p *telemetry.Provider) Option {
	return func(l *Log) { l.telemetry = p }
}

// NewLog constructs a fresh log with a genesis leaf wrapping an empty
// delta, exempt from PoW per spec.md §3's Lifecycle. Each document
// instance owns its own Analyzer, tree, and Anchoring state; there is no
// cross-document sharing (spec.md §5).
func NewLog(composer delta.Composer, cfg config.Config, opts ...Option) (*Log, error) {
	l := &Log{
		version:  DocumentVersion,
		hasher:   hashing.NewCanonicalHasher(),
		composer: composer,
		analyzer: analyzer.New(cfg.Analyzer),
		diffCtl:  difficulty.New(cfg.Difficulty),
		pow:      powengine.New(),
		tree:     merklelog.New(),
	}
	for _, opt := range opts {
		opt(l)
	}

	genesisMeta := Metadata{
		TimestampMs:   time.Now().UnixMilli(),
		IsGenesis:     true,
		Pow:           nil,
		EditStats:     analyzer.EditStats{},
		HasFormatting: false,
	}
	genesis := delta.Empty()
	prevRoot := l.tree.Root()
	leafHash, err := computeLeafHash(genesis, genesisMeta, prevRoot)
	if err != nil {
		return nil, err
	}
	l.tree.Append(merklelog.LeafDomainHash(leafHash))
	l.leaves = append(l.leaves, Leaf{Index: 0, Delta: genesis, Metadata: genesisMeta, PrevRoot: prevRoot, LeafHash: leafHash})

	return l, nil
}

func computeLeafHash(d delta.Delta, meta Metadata, prevRoot hashing.Digest) (hashing.Digest, error) {
	deltaBytes, err := d.CanonicalBytes()
	if err != nil {
		return hashing.Digest{}, err
	}
	metaBytes, err := canon.Bytes(meta)
	if err != nil {
		return hashing.Digest{}, bqerr.New(bqerr.KindCanonicalization, bqerr.ClassFatal, "metadata canonicalization failed", err)
	}
	return hashing.Concat("", deltaBytes, metaBytes, prevRoot.Bytes()), nil
}

// sealPayload is the byte string PoW is computed over: the canonical
// delta bound to the previous root. It excludes metadata.pow itself
// (which does not exist yet at seal time) and the rest of metadata, so
// sealing never has to solve a circular hash.
func sealPayload(d delta.Delta, prevRoot hashing.Digest) ([]byte, error) {
	deltaBytes, err := d.CanonicalBytes()
	if err != nil {
		return nil, err
	}
	return append(append([]byte{}, deltaBytes...), prevRoot.Bytes()...), nil
}

// AddLeaf validates d's cadence through the Analyzer, seals it at the
// current difficulty, and appends it bound to the previous root,
// rebuilding parent hashes along the affected rightmost spine. No state
// changes if the Analyzer rejects the edit — spec.md §9's resolution of
// the is_valid=false open question: strictly pre-commit rejection.
func (l *Log) AddLeaf(ctx context.Context, d delta.Delta, timestampMs int64) (int, error) {
	if err := delta.Validate(d); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	record := l.analyzer.RecordEdit(ctx, d, timestampMs)
	if !record.IsValid {
		return 0, bqerr.New(bqerr.KindSuspiciousEdit, bqerr.ClassRevertible,
			"edit rejected by cadence analyzer", nil)
	}

	prevRoot := l.tree.Root()
	payload, err := sealPayload(d, prevRoot)
	if err != nil {
		return 0, err
	}

	difficultyNow := l.diffCtl.Current()
	if l.telemetry != nil {
		var span trace.Span
		ctx, span = l.telemetry.StartSpan(ctx, "bitquill.pow.seal")
		defer span.End()
	}
	seal, err := l.pow.Seal(ctx, payload, difficultyNow)
	if err != nil {
		return 0, err
	}
	if l.telemetry != nil {
		l.telemetry.RecordSeal(ctx, time.Duration(seal.ElapsedMs)*time.Millisecond, difficultyNow)
	}

	meta := Metadata{
		TimestampMs: timestampMs,
		IsGenesis:   false,
		Pow: &PowMetadata{
			Nonce:      seal.Nonce,
			Difficulty: difficultyNow,
			ElapsedMs:  seal.ElapsedMs,
		},
		EditStats:     record.EditStats,
		HasFormatting: d.HasFormatting(),
	}

	leafHash, err := computeLeafHash(d, meta, prevRoot)
	if err != nil {
		return 0, err
	}

	index := len(l.leaves)
	l.tree.Append(merklelog.LeafDomainHash(leafHash))
	l.leaves = append(l.leaves, Leaf{Index: index, Delta: d, Metadata: meta, PrevRoot: prevRoot, LeafHash: leafHash})

	if l.diffCtl.ShouldAdjust(record.TotalEdits) {
		stats := l.analyzer.Stats()
		before := l.diffCtl.Current()
		after := l.diffCtl.Adjust(stats.GeometricMeanIntervalMs)
		if l.telemetry != nil {
			l.telemetry.RecordDifficultyAdjustment(ctx, before, after)
		}
	}

	return index, nil
}

// CurrentContent lazily composes every leaf's delta via the injected
// Composer, per spec.md invariant I5.
func (l *Log) CurrentContent(ctx context.Context) (delta.Delta, error) {
	l.mu.Lock()
	deltas := make([]delta.Delta, len(l.leaves))
	for i, leaf := range l.leaves {
		deltas[i] = leaf.Delta
	}
	l.mu.Unlock()
	return l.composer.Compose(ctx, deltas)
}

// GetHistory returns a copy of every committed leaf.
func (l *Log) GetHistory() []Leaf {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Leaf, len(l.leaves))
	copy(out, l.leaves)
	return out
}

// CurrentRoot returns the log's current Merkle root.
func (l *Log) CurrentRoot() hashing.Digest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tree.Root()
}

// GetProof returns the inclusion proof for leaf index.
func (l *Log) GetProof(index int) (merklelog.InclusionProof, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	proof, ok := l.tree.GenerateProof(index)
	if !ok {
		return merklelog.InclusionProof{}, bqerr.New(bqerr.KindProofInvalid, bqerr.ClassFatal, "leaf index out of range", nil)
	}
	return proof, nil
}

// VerifyProof recomputes the leaf hash from the leaf's delta, metadata and
// prev_root, then reconstructs the root from the stored proof for index and
// compares it against the current root, or the anchored root closest in
// log position to the leaf if one has been confirmed. Genesis (index 0)
// short-circuits to valid, absence of PoW is not an error there.
func (l *Log) VerifyProof(index int) (VerifyResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if index < 0 || index >= len(l.leaves) {
		return VerifyResult{}, bqerr.New(bqerr.KindProofInvalid, bqerr.ClassFatal, "leaf index out of range", nil)
	}

	if index == 0 {
		return VerifyResult{Valid: true, Info: "genesis leaf: PoW absence is expected"}, nil
	}

	leaf := l.leaves[index]
	if leaf.Metadata.Pow == nil {
		return VerifyResult{Valid: false}, bqerr.New(bqerr.KindPowRequired, bqerr.ClassFatal, "non-genesis leaf missing pow", nil)
	}
	recomputedHash, err := computeLeafHash(leaf.Delta, leaf.Metadata, leaf.PrevRoot)
	if err != nil {
		return VerifyResult{}, err
	}
	if recomputedHash != leaf.LeafHash {
		return VerifyResult{Valid: false}, bqerr.New(bqerr.KindProofInvalid, bqerr.ClassFatal, "leaf hash does not match leaf contents", nil)
	}
	payload, err := sealPayload(leaf.Delta, leaf.PrevRoot)
	if err != nil {
		return VerifyResult{}, err
	}
	if !powengine.Verify(payload, leaf.Metadata.Pow.Nonce, leaf.Metadata.Pow.Difficulty) {
		return VerifyResult{Valid: false}, bqerr.New(bqerr.KindPowInvalid, bqerr.ClassFatal, "pow verification failed", nil)
	}

	expectedPrevRoot := l.rootAfterLocked(index - 1)
	if leaf.PrevRoot != expectedPrevRoot {
		return VerifyResult{Valid: false}, bqerr.New(bqerr.KindChainBroken, bqerr.ClassFatal, "prev_root mismatch", nil)
	}

	// A proof generated against the live tree always carries the current
	// (possibly larger) root. If a confirmed receipt anchors a root that
	// already included this leaf, the proof must instead be generated
	// against the tree snapshot at that anchor's size, or the root
	// comparison fails trivially for every leaf verified after a later
	// edit extends the tree.
	leafCount := len(l.leaves)
	target := l.tree.Root()
	var receipt *anchor.Receipt
	if anchoredCount, r := l.anchoredSnapshotLocked(index); r != nil {
		leafCount = anchoredCount
		target = mustDigestFromHex(r.RootHash)
		receipt = r
	}

	proof, ok := l.proofAtSnapshotLocked(index, leafCount)
	if !ok {
		return VerifyResult{Valid: false}, bqerr.New(bqerr.KindProofInvalid, bqerr.ClassFatal, "proof generation failed", nil)
	}

	if !merklelog.VerifyInclusionProof(proof, target) {
		return VerifyResult{Valid: false}, bqerr.New(bqerr.KindProofInvalid, bqerr.ClassFatal, "recomputed root mismatch", nil)
	}

	return VerifyResult{Valid: true, TimestampReceipt: receipt}, nil
}

func (l *Log) rootAfterLocked(lastIndex int) hashing.Digest {
	if lastIndex < 0 {
		return hashing.Digest{}
	}
	hashes := make([]hashing.Digest, 0, lastIndex+1)
	for i := 0; i <= lastIndex; i++ {
		hashes = append(hashes, merklelog.LeafDomainHash(l.leaves[i].LeafHash))
	}
	return merklelog.Rebuild(hashes).Root()
}

// anchoredSnapshotLocked finds the confirmed receipt whose anchored root
// is closest in log position to index while still including it: the
// smallest leaf count k such that the root after leaves[0:k] matches a
// Confirmed receipt's root hash and k-1 >= index. Receipts do not record
// their submitted-at leaf count directly, so it is recovered here by
// matching the receipt's root hash against the root this log had after
// each prefix of leaves — the root itself is the index. Returns (0, nil)
// if no confirmed receipt covers this leaf, in which case the caller
// verifies against the current (live) root instead.
func (l *Log) anchoredSnapshotLocked(index int) (int, *anchor.Receipt) {
	if len(l.receipts) == 0 {
		return 0, nil
	}

	counts := l.leafCountsByRootLocked()

	bestCount := 0
	var best *anchor.Receipt
	for i := range l.receipts {
		r := &l.receipts[i]
		if r.State != anchor.StateConfirmed {
			continue
		}
		rootDigest, err := hashing.FromHex(r.RootHash)
		if err != nil {
			continue
		}
		k, ok := counts[rootDigest]
		if !ok || k-1 < index {
			continue // root unrecognized, or it predates this leaf
		}
		if best == nil || k < bestCount {
			bestCount = k
			best = r
		}
	}
	return bestCount, best
}

// leafCountsByRootLocked maps every root this log has ever had (the root
// after each prefix of leaves) to the leaf count at which it held,
// built incrementally in a single O(n log n) pass.
func (l *Log) leafCountsByRootLocked() map[hashing.Digest]int {
	t := merklelog.New()
	counts := make(map[hashing.Digest]int, len(l.leaves))
	for i, leaf := range l.leaves {
		root := t.Append(merklelog.LeafDomainHash(leaf.LeafHash))
		counts[root] = i + 1
	}
	return counts
}

// proofAtSnapshotLocked generates an inclusion proof for index against
// the tree truncated to its first leafCount leaves, so the proof's Root
// matches whatever root was current at that snapshot rather than the
// live tree's root.
func (l *Log) proofAtSnapshotLocked(index, leafCount int) (merklelog.InclusionProof, bool) {
	if leafCount == len(l.leaves) {
		return l.tree.GenerateProof(index)
	}
	hashes := make([]hashing.Digest, leafCount)
	for i := 0; i < leafCount; i++ {
		hashes[i] = merklelog.LeafDomainHash(l.leaves[i].LeafHash)
	}
	return merklelog.Rebuild(hashes).GenerateProof(index)
}

func mustDigestFromHex(s string) hashing.Digest {
	d, err := hashing.FromHex(s)
	if err != nil {
		return hashing.Digest{}
	}
	return d
}

// ManualTimestamp submits the current root to the attached Anchoring
// Client. It is a no-op error if no client was configured.
func (l *Log) ManualTimestamp(ctx context.Context) (anchor.Receipt, error) {
	l.mu.Lock()
	root := l.tree.Root()
	client := l.anchorClient
	l.mu.Unlock()

	if client == nil {
		return anchor.Receipt{}, bqerr.New(bqerr.KindAnchorUnavailable, bqerr.ClassDegraded, "no anchoring client configured", nil)
	}

	receipt, err := client.Submit(ctx, root.Hex())
	if l.telemetry != nil {
		l.telemetry.RecordAnchorRoundTrip(ctx, err != nil)
	}
	if err != nil {
		return anchor.Receipt{}, err
	}

	l.mu.Lock()
	l.receipts = append(l.receipts, receipt)
	l.mu.Unlock()
	return receipt, nil
}

// UpgradeReceipts re-queries every pending receipt via the attached
// Anchoring Client, idempotent per receipt.
func (l *Log) UpgradeReceipts(ctx context.Context) error {
	l.mu.Lock()
	client := l.anchorClient
	l.mu.Unlock()
	if client == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.receipts {
		updated, err := client.Upgrade(ctx, l.receipts[i])
		if l.telemetry != nil {
			l.telemetry.RecordAnchorRoundTrip(ctx, err != nil)
		}
		// Write back even on a transient failure: Attempts/LastCheckedAt
		// still advanced and must persist so backoff escalates and
		// MaxAttempts-based give-up is reachable on a later call.
		l.receipts[i] = updated
		if err != nil && updated.State == anchor.StatePending {
			continue // non-fatal, stays pending per spec.md §4.7
		}
	}
	return nil
}

// Receipts returns a copy of every anchor receipt recorded so far.
func (l *Log) Receipts() []anchor.Receipt {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]anchor.Receipt, len(l.receipts))
	copy(out, l.receipts)
	return out
}
