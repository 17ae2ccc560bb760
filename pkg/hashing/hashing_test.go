package hashing

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalHasherIsDeterministic(t *testing.T) {
	h := NewCanonicalHasher()
	type sample struct {
		B int    `json:"b"`
		A string `json:"a"`
	}
	d1, err := h.Hash(sample{B: 2, A: "x"})
	require.NoError(t, err)
	d2, err := h.Hash(sample{B: 2, A: "x"})
	require.NoError(t, err)
	require.Equal(t, d1, d2)
}

func TestDigestHexRoundTrip(t *testing.T) {
	h := NewCanonicalHasher()
	d, err := h.Hash("anything")
	require.NoError(t, err)

	parsed, err := FromHex(d.Hex())
	require.NoError(t, err)
	require.Equal(t, d, parsed)
}

func TestDigestJSONRoundTrip(t *testing.T) {
	h := NewCanonicalHasher()
	d, err := h.Hash("anything")
	require.NoError(t, err)

	b, err := json.Marshal(d)
	require.NoError(t, err)

	var out Digest
	require.NoError(t, json.Unmarshal(b, &out))
	require.Equal(t, d, out)
}

func TestFromHexRejectsWrongLength(t *testing.T) {
	_, err := FromHex("ab")
	require.Error(t, err)
}

func TestZeroDigestIsZero(t *testing.T) {
	var d Digest
	require.True(t, d.IsZero())
	h := NewCanonicalHasher()
	other, err := h.Hash("x")
	require.NoError(t, err)
	require.False(t, other.IsZero())
}

func TestConcatIsOrderAndPrefixSensitive(t *testing.T) {
	a := Concat("prefix", []byte("left"), []byte("right"))
	b := Concat("prefix", []byte("right"), []byte("left"))
	c := Concat("other", []byte("left"), []byte("right"))
	require.NotEqual(t, a, b)
	require.NotEqual(t, a, c)
}
