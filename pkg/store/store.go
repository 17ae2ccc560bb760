// Package store provides pluggable persistence for a serialized log
// blob (spec.md §4.6's serialize/deserialize artifact), external to the
// engine's own in-memory Log. It is grounded on the teacher's artifact
// storage shape (core/pkg/artifacts/store.go's content-addressed Store
// interface) and its database layer (core/pkg/database/multiregion.go's
// ConnectionConfig/connectDB idiom), generalized from HELM's artifact
// blobs to BitQuill's serialized documents.
package store

import (
	"context"

	"github.com/ciphernom/bitquill/pkg/bqerr"
)

// Store persists and retrieves a serialized log by its root hash (the
// content-addressed key the teacher's artifact stores use, hex-encoded
// rather than sha256:-prefixed since the engine already computes that
// digest as part of serialization).
type Store interface {
	// Put persists blob under rootHash, idempotent: storing the same
	// root hash twice is a no-op success, matching the teacher's
	// HeadObject-before-PutObject check in s3_store.go.
	Put(ctx context.Context, rootHash string, blob []byte) error
	// Get retrieves a previously stored blob by root hash.
	Get(ctx context.Context, rootHash string) ([]byte, error)
	// Has reports whether rootHash has a stored blob without fetching it.
	Has(ctx context.Context, rootHash string) (bool, error)
}

// ErrNotFound is returned by Get when rootHash has no stored blob.
var ErrNotFound = bqerr.New(bqerr.KindDeserialization, bqerr.ClassFatal, "store: root hash not found", nil)
