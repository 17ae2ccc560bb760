package merklelog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ciphernom/bitquill/pkg/hashing"
)

func digestOf(s string) hashing.Digest {
	h := hashing.NewCanonicalHasher()
	d, _ := h.Hash(s)
	return d
}

func TestSingleLeafRootIsLeafHash(t *testing.T) {
	tree := New()
	leaf := digestOf("a")
	root := tree.Append(leaf)
	require.Equal(t, leaf, root)

	proof, ok := tree.GenerateProof(0)
	require.True(t, ok)
	require.Empty(t, proof.Steps)
	require.True(t, VerifyInclusionProof(proof, tree.Root()))
}

func TestOddLayerDuplicationForNOneThroughFive(t *testing.T) {
	for n := 1; n <= 5; n++ {
		tree := New()
		leaves := make([]hashing.Digest, n)
		for i := 0; i < n; i++ {
			leaves[i] = digestOf(string(rune('a' + i)))
			tree.Append(leaves[i])
		}
		for i := 0; i < n; i++ {
			proof, ok := tree.GenerateProof(i)
			require.True(t, ok, "n=%d i=%d", n, i)
			require.True(t, VerifyInclusionProof(proof, tree.Root()), "n=%d i=%d", n, i)
		}
	}
}

func TestAppendIncrementalMatchesRebuild(t *testing.T) {
	incremental := New()
	var leaves []hashing.Digest
	for i := 0; i < 17; i++ {
		leaf := digestOf(string(rune('a' + i%26)))
		leaves = append(leaves, leaf)
		incremental.Append(leaf)
	}
	rebuilt := Rebuild(leaves)
	require.Equal(t, rebuilt.Root(), incremental.Root())
}

func TestTamperedProofFailsVerification(t *testing.T) {
	tree := New()
	for i := 0; i < 5; i++ {
		tree.Append(digestOf(string(rune('a' + i))))
	}
	proof, ok := tree.GenerateProof(2)
	require.True(t, ok)
	require.True(t, VerifyInclusionProof(proof, tree.Root()))

	tampered := proof
	tampered.LeafHash = digestOf("tampered")
	require.False(t, VerifyInclusionProof(tampered, tree.Root()))
}
