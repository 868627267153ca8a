package sqlstore

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holadanimestre-arch/crm-escuela-canina-sub000/billing"
)

func newMock(t *testing.T, driver string) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s, err := New(db, driver, nil)
	require.NoError(t, err)
	return s, mock
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	s, mock := newMock(t, DriverSQLite)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO trainers")).
		WithArgs("t1", "Ana").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := s.WithTx(context.Background(), func(st billing.Store) error {
		return st.(*queries).SaveTrainer(context.Background(), billing.Trainer{ID: "t1", Name: "Ana"})
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_RollsBackOnCallbackError(t *testing.T) {
	s, mock := newMock(t, DriverSQLite)
	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.WithTx(context.Background(), func(billing.Store) error { return boom })

	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTx_CommitFailure(t *testing.T) {
	s, mock := newMock(t, DriverSQLite)
	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("disk full"))

	err := s.WithTx(context.Background(), func(billing.Store) error { return nil })

	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit transaction")
}

func TestWithTx_BeginFailure(t *testing.T) {
	s, mock := newMock(t, DriverSQLite)
	mock.ExpectBegin().WillReturnError(errors.New("locked"))

	called := false
	err := s.WithTx(context.Background(), func(billing.Store) error { called = true; return nil })

	require.Error(t, err)
	assert.False(t, called)
}

func TestPostgresPlaceholders(t *testing.T) {
	s, mock := newMock(t, DriverPostgres)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, name FROM trainers WHERE id = $1")).
		WithArgs("t1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow("t1", "Ana"))

	tr, err := s.GetTrainer(context.Background(), "t1")

	require.NoError(t, err)
	assert.Equal(t, "Ana", tr.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStamp_RaceDetectedOnWrite(t *testing.T) {
	// The check passes but another writer stamps the row before the update.
	s, mock := newMock(t, DriverSQLite)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT settlement_ref FROM sessions WHERE id = ?")).
		WithArgs("c1-s1").
		WillReturnRows(sqlmock.NewRows([]string{"settlement_ref"}).AddRow(nil))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE sessions SET settlement_ref = ?")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.StampSessions(context.Background(), "set-a", []billing.SessionID{"c1-s1"})

	assert.ErrorIs(t, err, billing.ErrConcurrentModification)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSettlement_UniqueViolationIsConcurrentModification(t *testing.T) {
	s, mock := newMock(t, DriverPostgres)
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO settlements")).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "settlements_pkey"})

	_, err := s.UpsertSettlement(context.Background(), billing.Settlement{
		ID: "set-1", TrainerID: "t1", Month: billing.NewMonth(2025, 3), Status: billing.StatusSealed,
	})

	assert.ErrorIs(t, err, billing.ErrConcurrentModification)
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "a = ? AND b = ?", dialectSQLite.rebind("a = ? AND b = ?"))
	assert.Equal(t, "a = $1 AND b = $2", dialectPostgres.rebind("a = ? AND b = ?"))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}))
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, isUniqueViolation(errors.New("UNIQUE constraint failed")))
	assert.False(t, isUniqueViolation(nil))
}
