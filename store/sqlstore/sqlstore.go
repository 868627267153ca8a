/*
Package sqlstore provides a database/sql implementation of billing.TxStore.

PURPOSE:
  Persists source records and sealed settlements in SQLite (default,
  github.com/mattn/go-sqlite3) or PostgreSQL (github.com/jackc/pgx/v5/stdlib).
  The same SQL runs on both; only placeholders differ.

KEY TABLES:
  trainers, clients:   Read-only for the engine
  sessions:            UNIQUE(client_id, session_number); stamped on seal
  evaluations:         Stamped on seal
  settlements:         UNIQUE(trainer_id, month); one row per sealed pair

SEALED ROWS:
  UpsertSettlement uses ON CONFLICT ... DO UPDATE ... WHERE status <> 'sealed'
  so a sealed row is never replaced, even by a writer in another process.

TRANSACTIONS:
  WithTx runs the callback against a view bound to one *sql.Tx. Every read
  inside the callback goes through the transaction, which also keeps a
  single-connection SQLite pool from deadlocking.

MIGRATION:
  Embedded migrations/NNNN_name.{up,down}.sql are applied by Open through
  golang-migrate (iofs source; sqlite3 or pgx/v5 database driver). The
  version is recorded in schema_migrations.

SEE ALSO:
  - billing/store.go: Interface definitions
  - billing/store/memory.go: In-memory implementation for tests
*/
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/holadanimestre-arch/crm-escuela-canina-sub000/billing"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Options struct {
	Driver       string
	DSN          string
	MaxOpenConns int
}

// Store implements billing.TxStore.
type Store struct {
	queries
	db     *sql.DB
	logger *zap.Logger
}

// Open connects, applies pending migrations and returns the store.
// An in-memory SQLite DSN is limited to one connection, since every
// connection would otherwise see its own empty database.
func Open(ctx context.Context, opts Options, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open(opts.Driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if opts.Driver == DriverSQLite && isMemoryDSN(opts.DSN) {
		db.SetMaxOpenConns(1)
	} else if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s, err := New(db, opts.Driver, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database without migrating it.
func New(db *sql.DB, driver string, logger *zap.Logger) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		queries: queries{q: db, d: d},
		db:      db,
		logger:  logger.Named("sqlstore"),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// =============================================================================
// TRANSACTIONAL STORE (billing.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. The transaction is
// committed only if fn returns nil.
func (s *Store) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&queries{q: tx, d: s.d}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// =============================================================================
// MIGRATIONS
// =============================================================================

// Migrate applies pending embedded migrations with golang-migrate. The
// version is tracked in schema_migrations.
func (s *Store) Migrate(ctx context.Context) error {
	m, release, err := s.newMigrator()
	if err != nil {
		return err
	}
	defer release()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			m.GracefulStop <- true
		case <-done:
		}
	}()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		s.logger.Debug("no migrations to apply")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration up failed: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}
	s.logger.Info("migrations applied", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

// newMigrator binds golang-migrate to the store's pool. The returned
// release func frees what the driver holds without closing the pool.
func (s *Store) newMigrator() (*migrate.Migrate, func(), error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, nil, fmt.Errorf("read migrations: %w", err)
	}

	var (
		name    string
		drv     database.Driver
		release = func() {}
	)
	switch s.d {
	case dialectPostgres:
		name = "pgx5"
		drv, err = migratepgx.WithInstance(s.db, &migratepgx.Config{})
		// The pgx driver pins one connection; closing it leaves the pool open.
		release = func() { drv.Close() }
	default:
		// The sqlite3 driver's Close closes the *sql.DB, so it is not called.
		name = "sqlite3"
		drv, err = migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	}
	if err != nil {
		return nil, nil, fmt.Errorf("create %s migration driver: %w", name, err)
	}

	m, err := migrate.NewWithInstance("iofs", src, name, drv)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("create migrate instance: %w", err)
	}
	m.Log = migrateLogger{s.logger.Named("migrate").Sugar()}
	return m, release, nil
}

// migrateLogger adapts zap to migrate.Logger.
type migrateLogger struct {
	l *zap.SugaredLogger
}

func (m migrateLogger) Printf(format string, v ...any) {
	m.l.Debugf(strings.TrimSuffix(format, "\n"), v...)
}

func (m migrateLogger) Verbose() bool { return false }

// =============================================================================
// DIALECT
// =============================================================================

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case DriverSQLite:
		return dialectSQLite, nil
	case DriverPostgres:
		return dialectPostgres, nil
	default:
		return 0, fmt.Errorf("unsupported driver %q", driver)
	}
}

// rebind rewrites ? placeholders to $1, $2, ... for PostgreSQL. Queries in
// this package never contain a literal '?'.
func (d dialect) rebind(query string) string {
	if d != dialectPostgres {
		return query
	}
	var (
		b strings.Builder
		n int
	)
	b.Grow(len(query) + 8)
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout is fixed-width UTC so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t.In(time.Local), nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// isUniqueViolation recognizes unique-constraint errors from both drivers.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
