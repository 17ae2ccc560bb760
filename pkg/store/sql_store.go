package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	// Postgres driver, grounded on core/pkg/database/multiregion.go's
	// sql.Open("postgres", ...) idiom.
	_ "github.com/lib/pq"
	// Embedded, dependency-free SQLite driver for an offline/single-host
	// store, the teacher's direct modernc.org/sqlite dependency.
	_ "modernc.org/sqlite"

	"github.com/ciphernom/bitquill/pkg/bqerr"
)

// ConnectionConfig names a single database connection, the same shape
// as the teacher's database.ConnectionConfig but trimmed to the single
// region a BitQuill host needs (no multi-region failover: each document
// is self-contained per spec.md §5, and its durable store does not need
// cross-region read routing).
type ConnectionConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver string
	// DSN is the driver-specific connection string. For sqlite this is
	// a file path (or ":memory:"); for postgres a libpq connection
	// string, following connectDB's fmt.Sprintf("host=%s port=%d ...").
	DSN string
}

// SQLStore persists serialized logs in a single table keyed by root
// hash, behind database/sql so either Postgres (lib/pq) or embedded
// SQLite (modernc.org/sqlite) can back it without changing call sites.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore opens cfg's connection and ensures the backing table
// exists.
func NewSQLStore(ctx context.Context, cfg ConnectionConfig) (*SQLStore, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite"
	}
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, bqerr.New(bqerr.KindDeserialization, bqerr.ClassFatal, "store: open failed", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, bqerr.New(bqerr.KindDeserialization, bqerr.ClassFatal, "store: ping failed", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS bitquill_logs (
		root_hash TEXT PRIMARY KEY,
		blob      BLOB NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, bqerr.New(bqerr.KindDeserialization, bqerr.ClassFatal, "store: schema migration failed", err)
	}
	return &SQLStore{db: db}, nil
}

// Put stores blob under rootHash, idempotent via an existence check
// before insert (no upsert: a root hash is content-addressed and a
// second write for the same key is always the same bytes).
func (s *SQLStore) Put(ctx context.Context, rootHash string, blob []byte) error {
	has, err := s.Has(ctx, rootHash)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, `INSERT INTO bitquill_logs (root_hash, blob) VALUES ($1, $2)`, rootHash, blob); err != nil {
		return bqerr.New(bqerr.KindDeserialization, bqerr.ClassFatal, "store: insert failed", err)
	}
	return nil
}

// Get retrieves the blob stored under rootHash.
func (s *SQLStore) Get(ctx context.Context, rootHash string) ([]byte, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT blob FROM bitquill_logs WHERE root_hash = $1`, rootHash).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, bqerr.New(bqerr.KindDeserialization, bqerr.ClassFatal, "store: select failed", err)
	}
	return blob, nil
}

// Has reports whether rootHash has a stored blob.
func (s *SQLStore) Has(ctx context.Context, rootHash string) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM bitquill_logs WHERE root_hash = $1`, rootHash).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, bqerr.New(bqerr.KindDeserialization, bqerr.ClassFatal, "store: exists check failed", err)
	}
	return true, nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close failed: %w", err)
	}
	return nil
}
