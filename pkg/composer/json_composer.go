// Package composer supplies implementations of the delta.Composer
// contract: the injected capability spec.md §4.2 and §9 delegate
// composition to rather than owning an operational-transform library.
package composer

import (
	"context"

	"github.com/ciphernom/bitquill/pkg/bqerr"
	"github.com/ciphernom/bitquill/pkg/delta"
)

// JSONComposer is the in-process reference Composer: a minimal
// insert/retain/delete OT composer operating over rune offsets. It exists
// so the engine has a total, deterministic, associative default without
// requiring a host-injected capability, and so tests can exercise the
// full engine without a WASM runtime.
type JSONComposer struct{}

// NewJSONComposer constructs the default reference Composer.
func NewJSONComposer() *JSONComposer { return &JSONComposer{} }

// Compose merges deltas in order into a single composed delta,
// associatively: Compose([a,b,c]) == Compose([Compose([a,b]), c]).
func (c *JSONComposer) Compose(ctx context.Context, deltas []delta.Delta) (delta.Delta, error) {
	if err := ctx.Err(); err != nil {
		return delta.Delta{}, bqerr.New(bqerr.KindCanonicalization, bqerr.ClassRetryable, "compose canceled", err)
	}
	doc := []rune{}
	for _, d := range deltas {
		var err error
		doc, err = applyDelta(doc, d)
		if err != nil {
			return delta.Delta{}, err
		}
	}
	if len(doc) == 0 {
		return delta.Empty(), nil
	}
	return delta.Delta{Ops: []delta.Op{{Kind: delta.OpInsert, Insert: string(doc)}}}, nil
}

// applyDelta applies a single delta's ops against the running document,
// advancing a cursor: retain skips forward, insert splices in runes,
// delete removes runes at the cursor.
func applyDelta(doc []rune, d delta.Delta) ([]rune, error) {
	out := make([]rune, 0, len(doc))
	cursor := 0
	for _, op := range d.Ops {
		switch op.Kind {
		case delta.OpRetain:
			end := cursor + op.Retain
			if end > len(doc) {
				end = len(doc)
			}
			out = append(out, doc[cursor:end]...)
			cursor = end
		case delta.OpInsert:
			out = append(out, []rune(op.Insert)...)
		case delta.OpDelete:
			cursor += op.Delete
			if cursor > len(doc) {
				cursor = len(doc)
			}
		default:
			return nil, bqerr.New(bqerr.KindCanonicalization, bqerr.ClassFatal, "unknown op kind", nil)
		}
	}
	if cursor < len(doc) {
		out = append(out, doc[cursor:]...)
	}
	return out, nil
}

// AsComposedDelta renders a composed document string back into the single
// canonical insert-only Delta exposed by Log.CurrentContent.
func AsComposedDelta(s string) delta.Delta {
	if s == "" {
		return delta.Empty()
	}
	return delta.Delta{Ops: []delta.Op{{Kind: delta.OpInsert, Insert: s}}}
}
