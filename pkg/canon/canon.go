// Package canon produces the canonical byte form that every hash in the
// engine is computed over: RFC 8785 JSON Canonicalization Scheme (JCS),
// with Unicode strings normalized to NFC before encoding. Deltas and leaf
// metadata are never hashed directly; they are canonicalized first, per
// spec.md §4.1.
package canon

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"

	"github.com/ciphernom/bitquill/pkg/bqerr"
)

// Bytes returns the canonical JSON encoding of v: stable key order, no
// insignificant whitespace, no HTML escaping, and JCS-compliant number
// formatting. v is first marshaled with HTML escaping disabled, the JSON
// text is NFC-normalized (JSON syntax is ASCII, so this normalizes every
// string in it), and the result is passed through jcs.Transform, which
// performs the RFC 8785 key-sort and number-canonicalization pass.
func Bytes(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, bqerr.New(bqerr.KindCanonicalization, bqerr.ClassFatal, "pre-marshal failed", err)
	}
	raw := norm.NFC.Bytes(bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}))

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, bqerr.New(bqerr.KindCanonicalization, bqerr.ClassFatal, "jcs transform failed", err)
	}
	return canonical, nil
}

// NormalizeString applies NFC normalization, the same rule the teacher's
// CSNF canonicalizer applies to every string leaf value, so that two
// byte-distinct-but-equivalent Unicode strings hash identically.
func NormalizeString(s string) string {
	return norm.NFC.String(s)
}

// Equal reports whether two values canonicalize to identical bytes.
func Equal(a, b any) (bool, error) {
	ab, err := Bytes(a)
	if err != nil {
		return false, err
	}
	bb, err := Bytes(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ab, bb), nil
}

// MustBytes panics on canonicalization failure; reserved for call sites
// where v is a well-known internal constant (e.g. genesis metadata) and a
// failure would indicate a programming error, not bad input.
func MustBytes(v any) []byte {
	b, err := Bytes(v)
	if err != nil {
		panic(fmt.Sprintf("canon: MustBytes: %v", err))
	}
	return b
}
