package store

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/ciphernom/bitquill/pkg/bqerr"
)

// S3StoreConfig configures an S3-backed Store, the same shape as the
// teacher's artifacts.S3StoreConfig.
type S3StoreConfig struct {
	Bucket   string
	Region   string
	Endpoint string // optional, for MinIO/LocalStack-compatible endpoints
	Prefix   string
}

// S3Store persists serialized logs to S3, keyed by root hash rather
// than the teacher's own-computed content hash (BitQuill already has a
// canonical digest — the Merkle root — so no second hash is taken).
type S3Store struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Store constructs an S3Store, following artifacts.NewS3Store's
// LoadDefaultConfig + optional custom-endpoint path-style override.
func NewS3Store(ctx context.Context, cfg S3StoreConfig) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, bqerr.New(bqerr.KindAnchorUnavailable, bqerr.ClassFatal, "s3 store: aws config load failed", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3Store{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *S3Store) key(rootHash string) string {
	return s.prefix + rootHash + ".json"
}

// Put uploads blob under rootHash's key, skipping the upload if the
// object already exists (HeadObject check, per artifacts.S3Store.Store).
func (s *S3Store) Put(ctx context.Context, rootHash string, blob []byte) error {
	key := s.key(rootHash)

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(key)})
	if err == nil {
		return nil
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(blob),
	})
	if err != nil {
		return bqerr.New(bqerr.KindAnchorUnavailable, bqerr.ClassRetryable, "s3 store: put object failed", err)
	}
	return nil
}

// Get downloads the blob stored under rootHash.
func (s *S3Store) Get(ctx context.Context, rootHash string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.key(rootHash))})
	if err != nil {
		var notFound *smithyhttp.ResponseError
		if errors.As(err, &notFound) && notFound.HTTPStatusCode() == 404 {
			return nil, ErrNotFound
		}
		return nil, bqerr.New(bqerr.KindAnchorUnavailable, bqerr.ClassRetryable, "s3 store: get object failed", err)
	}
	defer func() { _ = out.Body.Close() }()

	blob, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, bqerr.New(bqerr.KindAnchorUnavailable, bqerr.ClassRetryable, "s3 store: read body failed", err)
	}
	return blob, nil
}

// Has checks for an object's existence without downloading it.
func (s *S3Store) Has(ctx context.Context, rootHash string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(s.key(rootHash))})
	if err != nil {
		var notFound *smithyhttp.ResponseError
		if errors.As(err, &notFound) && notFound.HTTPStatusCode() == 404 {
			return false, nil
		}
		return false, bqerr.New(bqerr.KindAnchorUnavailable, bqerr.ClassRetryable, "s3 store: head object failed", err)
	}
	return true, nil
}
