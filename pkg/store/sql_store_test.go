package store

import (
	"context"
	"database/sql"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &SQLStore{db: db}, mock
}

func TestSQLStorePutSkipsWhenAlreadyPresent(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT 1 FROM bitquill_logs WHERE root_hash = \$1`).
		WithArgs("deadbeef").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(1))

	err := s.Put(ctx, "deadbeef", []byte("blob"))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStorePutInsertsWhenAbsent(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT 1 FROM bitquill_logs WHERE root_hash = \$1`).
		WithArgs("deadbeef").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec(`INSERT INTO bitquill_logs`).
		WithArgs("deadbeef", []byte("blob")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.Put(ctx, "deadbeef", []byte("blob"))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreGetNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT blob FROM bitquill_logs WHERE root_hash = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreGetReturnsBlob(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT blob FROM bitquill_logs WHERE root_hash = \$1`).
		WithArgs("deadbeef").
		WillReturnRows(sqlmock.NewRows([]string{"blob"}).AddRow([]byte("payload")))

	blob, err := s.Get(ctx, "deadbeef")
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), blob)
	require.NoError(t, mock.ExpectationsWereMet())
}
