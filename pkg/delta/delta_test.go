package delta

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmptyDeltaHasZeroSize(t *testing.T) {
	d := Empty()
	require.Equal(t, 0, d.Size())
	require.False(t, d.HasFormatting())
}

func TestKindClassification(t *testing.T) {
	insert := Delta{Ops: []Op{{Kind: OpInsert, Insert: "hi"}}}
	require.Equal(t, EditInsert, insert.Kind())

	del := Delta{Ops: []Op{{Kind: OpDelete, Delete: 3}}}
	require.Equal(t, EditDelete, del.Kind())

	replace := Delta{Ops: []Op{{Kind: OpDelete, Delete: 1}, {Kind: OpInsert, Insert: "x"}}}
	require.Equal(t, EditReplace, replace.Kind())

	format := Delta{Ops: []Op{{Kind: OpRetain, Retain: 3, Attributes: map[string]any{"bold": true}}}}
	require.Equal(t, EditFormat, format.Kind())
}

func TestHasFormattingDetectsAttributes(t *testing.T) {
	plain := Delta{Ops: []Op{{Kind: OpInsert, Insert: "x"}}}
	require.False(t, plain.HasFormatting())

	formatted := Delta{Ops: []Op{{Kind: OpInsert, Insert: "x", Attributes: map[string]any{"bold": true}}}}
	require.True(t, formatted.HasFormatting())
}

func TestSizeCountsInsertedRunesAndDeletedUnits(t *testing.T) {
	d := Delta{Ops: []Op{
		{Kind: OpInsert, Insert: "héllo"},
		{Kind: OpDelete, Delete: 2},
		{Kind: OpRetain, Retain: 10},
	}}
	require.Equal(t, 7, d.Size())
}

func TestValidateRejectsUnknownKind(t *testing.T) {
	b := []byte(`{"ops":[{"kind":"bogus"}]}`)
	_, err := ParseCanonical(b)
	require.Error(t, err)
}

func TestValidateAcceptsWellFormedDelta(t *testing.T) {
	d := Delta{Ops: []Op{{Kind: OpInsert, Insert: "ok"}}}
	require.NoError(t, Validate(d))
}

func TestCanonicalBytesAreStable(t *testing.T) {
	d := Delta{Ops: []Op{{Kind: OpInsert, Insert: "x"}}}
	a, err := d.CanonicalBytes()
	require.NoError(t, err)
	b, err := d.CanonicalBytes()
	require.NoError(t, err)
	require.Equal(t, a, b)
}

func TestParseCanonicalRoundTrip(t *testing.T) {
	d := Delta{Ops: []Op{{Kind: OpInsert, Insert: "round-trip"}}}
	b, err := d.CanonicalBytes()
	require.NoError(t, err)

	out, err := ParseCanonical(b)
	require.NoError(t, err)
	require.Equal(t, d, out)
}
