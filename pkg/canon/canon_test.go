package canon

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBytesSortsKeys(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2}
	b := map[string]any{"a": 2, "b": 1}

	ab, err := Bytes(a)
	require.NoError(t, err)
	bb, err := Bytes(b)
	require.NoError(t, err)
	require.Equal(t, ab, bb)
	require.Equal(t, `{"a":2,"b":1}`, string(ab))
}

func TestBytesHasNoInsignificantWhitespace(t *testing.T) {
	v := map[string]any{"k": []int{1, 2, 3}}
	b, err := Bytes(v)
	require.NoError(t, err)
	require.NotContains(t, string(b), " ")
	require.NotContains(t, string(b), "\n")
}

func TestEqualComparesCanonicalForms(t *testing.T) {
	type s1 struct {
		A int `json:"a"`
		B int `json:"b"`
	}
	type s2 struct {
		B int `json:"b"`
		A int `json:"a"`
	}
	eq, err := Equal(s1{A: 1, B: 2}, s2{A: 1, B: 2})
	require.NoError(t, err)
	require.True(t, eq)
}

func TestNormalizeStringAppliesNFC(t *testing.T) {
	precomposed := "\u00e9"  // e with acute, single code point (NFC form)
	decomposed := "e\u0301" // e followed by a combining acute accent (NFD form)
	require.NotEqual(t, precomposed, decomposed)
	require.Equal(t, NormalizeString(precomposed), NormalizeString(decomposed))
}
