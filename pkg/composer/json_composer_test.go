package composer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ciphernom/bitquill/pkg/delta"
)

func insertDelta(s string) delta.Delta {
	return delta.Delta{Ops: []delta.Op{{Kind: delta.OpInsert, Insert: s}}}
}

func TestJSONComposerBasicInserts(t *testing.T) {
	c := NewJSONComposer()
	ctx := context.Background()

	out, err := c.Compose(ctx, []delta.Delta{insertDelta("H"), insertDelta("i"), insertDelta("!")})
	require.NoError(t, err)
	require.Len(t, out.Ops, 1)
	require.Equal(t, "Hi!", out.Ops[0].Insert)
}

func TestJSONComposerEmpty(t *testing.T) {
	c := NewJSONComposer()
	out, err := c.Compose(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, out.Ops)
}

func TestJSONComposerRetainAndDelete(t *testing.T) {
	c := NewJSONComposer()
	ctx := context.Background()

	base, err := c.Compose(ctx, []delta.Delta{insertDelta("Hello")})
	require.NoError(t, err)

	edited := delta.Delta{Ops: []delta.Op{
		{Kind: delta.OpRetain, Retain: 5},
		{Kind: delta.OpInsert, Insert: " World"},
	}}
	out, err := c.Compose(ctx, []delta.Delta{base, edited})
	require.NoError(t, err)
	require.Equal(t, "Hello World", out.Ops[0].Insert)

	deleteSuffix := delta.Delta{Ops: []delta.Op{
		{Kind: delta.OpRetain, Retain: 5},
		{Kind: delta.OpDelete, Delete: 6},
	}}
	out2, err := c.Compose(ctx, []delta.Delta{out, deleteSuffix})
	require.NoError(t, err)
	require.Equal(t, "Hello", out2.Ops[0].Insert)
}

// TestJSONComposerAssociativity exercises spec.md §8's associativity
// property directly: compose([a,b,c]) == compose([compose([a,b]), c]).
func TestJSONComposerAssociativity(t *testing.T) {
	c := NewJSONComposer()
	ctx := context.Background()

	a := insertDelta("ab")
	b := delta.Delta{Ops: []delta.Op{{Kind: delta.OpRetain, Retain: 2}, {Kind: delta.OpInsert, Insert: "cd"}}}
	cc := delta.Delta{Ops: []delta.Op{{Kind: delta.OpRetain, Retain: 4}, {Kind: delta.OpInsert, Insert: "ef"}}}

	whole, err := c.Compose(ctx, []delta.Delta{a, b, cc})
	require.NoError(t, err)

	ab, err := c.Compose(ctx, []delta.Delta{a, b})
	require.NoError(t, err)
	grouped, err := c.Compose(ctx, []delta.Delta{ab, cc})
	require.NoError(t, err)

	require.Equal(t, whole, grouped)
}
