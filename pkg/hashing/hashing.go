// Package hashing provides the deterministic digest primitive used
// throughout the engine: canonicalize, then SHA-256. It mirrors the
// teacher's CanonicalHasher, but canonicalizes through pkg/canon (real
// JCS) rather than a bare json.Marshal.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/ciphernom/bitquill/pkg/bqerr"
	"github.com/ciphernom/bitquill/pkg/canon"
)

// Digest is a 32-byte SHA-256 hash, stored hex-encoded on the wire.
type Digest [32]byte

// Hex returns the lowercase hex encoding of the digest.
func (d Digest) Hex() string { return hex.EncodeToString(d[:]) }

func (d Digest) String() string { return d.Hex() }

// Bytes returns a copy of the digest's raw bytes.
func (d Digest) Bytes() []byte {
	b := make([]byte, len(d))
	copy(b, d[:])
	return b
}

// Equal reports whether two digests hold the same bytes.
func (d Digest) Equal(other Digest) bool { return d == other }

// IsZero reports whether d is the zero digest (used for genesis prev_root).
func (d Digest) IsZero() bool { return d == Digest{} }

// MarshalJSON encodes the digest as a hex32 string, the wire form
// spec.md §6 specifies for prev_root and leaf_hash.
func (d Digest) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Hex())
}

// UnmarshalJSON decodes a hex32 string into the digest.
func (d *Digest) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return bqerr.New(bqerr.KindDeserialization, bqerr.ClassFatal, "digest must be a hex string", err)
	}
	parsed, err := FromHex(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// FromHex decodes a hex string into a Digest.
func FromHex(s string) (Digest, error) {
	var d Digest
	b, err := hex.DecodeString(s)
	if err != nil {
		return d, bqerr.New(bqerr.KindDeserialization, bqerr.ClassFatal, "invalid digest hex", err)
	}
	if len(b) != len(d) {
		return d, bqerr.New(bqerr.KindDeserialization, bqerr.ClassFatal, "digest must be 32 bytes", nil)
	}
	copy(d[:], b)
	return d, nil
}

// Hasher is the engine's canonical-hash interface; document.Log holds one.
// Leaf and Merkle node hashes go through the package-level Concat instead,
// and powengine calls crypto/sha256 directly.
type Hasher interface {
	Hash(v any) (Digest, error)
	HashBytes(b []byte) Digest
}

// CanonicalHasher canonicalizes v via pkg/canon before hashing, the
// canonicalize-then-hash idiom the teacher's CanonicalHasher follows.
type CanonicalHasher struct{}

// NewCanonicalHasher constructs the default Hasher.
func NewCanonicalHasher() *CanonicalHasher { return &CanonicalHasher{} }

// Hash canonicalizes v and returns its SHA-256 digest.
func (h *CanonicalHasher) Hash(v any) (Digest, error) {
	b, err := canon.Bytes(v)
	if err != nil {
		return Digest{}, err
	}
	return h.HashBytes(b), nil
}

// HashBytes hashes already-canonical bytes directly, skipping
// re-canonicalization; Hash calls it after canonicalizing. Domain-separated
// concatenations such as internal Merkle node hashes use Concat.
func (h *CanonicalHasher) HashBytes(b []byte) Digest {
	return sha256.Sum256(b)
}

// Concat hashes the concatenation of one or more byte slices under a
// single domain-separation prefix, the pattern used for internal Merkle
// node hashes (prefix || left || right).
func Concat(prefix string, parts ...[]byte) Digest {
	h := sha256.New()
	h.Write([]byte(prefix))
	for _, p := range parts {
		h.Write(p)
	}
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}
