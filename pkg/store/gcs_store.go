//go:build gcp

package store

import (
	"context"
	"errors"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/ciphernom/bitquill/pkg/bqerr"
)

// GCSStoreConfig configures a GCS-backed Store, mirroring
// artifacts.GCSStoreConfig. Built only under the "gcp" tag, matching
// the teacher's own factory_gcp.go / factory_nogcp.go split so a
// default build does not pull in the GCS client.
type GCSStoreConfig struct {
	Bucket string
	Prefix string
}

// GCSStore persists serialized logs to Google Cloud Storage.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCSStore constructs a GCSStore using Application Default
// Credentials, per artifacts.NewGCSStore.
func NewGCSStore(ctx context.Context, cfg GCSStoreConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, bqerr.New(bqerr.KindAnchorUnavailable, bqerr.ClassFatal, "gcs store: client init failed", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSStore) object(rootHash string) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(s.prefix + rootHash + ".json")
}

// Put uploads blob under rootHash, skipping the write if the object
// already exists.
func (s *GCSStore) Put(ctx context.Context, rootHash string, blob []byte) error {
	obj := s.object(rootHash)
	if _, err := obj.Attrs(ctx); err == nil {
		return nil
	}

	w := obj.NewWriter(ctx)
	if _, err := w.Write(blob); err != nil {
		_ = w.Close()
		return bqerr.New(bqerr.KindAnchorUnavailable, bqerr.ClassRetryable, "gcs store: write failed", err)
	}
	if err := w.Close(); err != nil {
		return bqerr.New(bqerr.KindAnchorUnavailable, bqerr.ClassRetryable, "gcs store: close failed", err)
	}
	return nil
}

// Get downloads the blob stored under rootHash.
func (s *GCSStore) Get(ctx context.Context, rootHash string) ([]byte, error) {
	r, err := s.object(rootHash).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, bqerr.New(bqerr.KindAnchorUnavailable, bqerr.ClassRetryable, "gcs store: reader init failed", err)
	}
	defer func() { _ = r.Close() }()

	blob, err := io.ReadAll(r)
	if err != nil {
		return nil, bqerr.New(bqerr.KindAnchorUnavailable, bqerr.ClassRetryable, "gcs store: read failed", err)
	}
	return blob, nil
}

// Has reports whether rootHash has a stored object.
func (s *GCSStore) Has(ctx context.Context, rootHash string) (bool, error) {
	_, err := s.object(rootHash).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code == 404 {
			return false, nil
		}
		return false, bqerr.New(bqerr.KindAnchorUnavailable, bqerr.ClassRetryable, "gcs store: attrs failed", err)
	}
	return true, nil
}
