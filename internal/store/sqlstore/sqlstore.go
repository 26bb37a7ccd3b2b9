// Package sqlstore implements store.Store on database/sql for SQLite
// (github.com/mattn/go-sqlite3) and PostgreSQL (github.com/jackc/pgx/v5/stdlib).
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"

	"github.com/dvloznov/finance-ledger/internal/domain"
	"github.com/dvloznov/finance-ledger/internal/store"
)

// Supported values for the driver argument of Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// sqliteParams are appended to SQLite DSNs that carry no query string.
// Immediate transactions take the write lock up front, so concurrent
// committers queue on the busy timeout instead of failing to upgrade.
const sqliteParams = "_journal=WAL&_timeout=10000&_busy_timeout=10000&_txlock=immediate&_fk=1"

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is a SQL-backed store.Store. Transactional views returned through
// RunInTx share the *sql.DB and route every statement through the *sql.Tx.
type Store struct {
	db     *sql.DB
	q      querier
	driver string
	inTx   bool
}

// Open connects to the database and applies pending schema migrations.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	s, err := Connect(ctx, driver, dsn)
	if err != nil {
		return nil, err
	}
	if _, err := s.Migrate(ctx, "ledger"); err != nil {
		s.db.Close()
		return nil, err
	}
	return s, nil
}

// Connect opens and pings the database without touching the schema.
func Connect(ctx context.Context, driver, dsn string) (*Store, error) {
	var sqlDriver string
	switch driver {
	case DriverSQLite:
		sqlDriver = "sqlite3"
		if !strings.Contains(dsn, "?") {
			dsn += "?" + sqliteParams
		}
	case DriverPostgres:
		sqlDriver = "pgx"
	default:
		return nil, domain.Validationf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, domain.Infrastructure("Open: opening database", err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, domain.Infrastructure("Open: pinging database", err)
	}

	return &Store{db: db, q: db, driver: driver}, nil
}

// DB exposes the underlying handle for tooling such as cmd/migrate.
func (s *Store) DB() *sql.DB { return s.db }

// Driver returns DriverSQLite or DriverPostgres.
func (s *Store) Driver() string { return s.driver }

// Close implements store.Store.
func (s *Store) Close() error {
	if s.inTx {
		return nil
	}
	return s.db.Close()
}

// RunInTx implements store.Store.
func (s *Store) RunInTx(ctx context.Context, fn func(tx store.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Infrastructure("RunInTx: begin", err)
	}

	view := &Store{db: s.db, q: tx, driver: s.driver, inTx: true}
	if err := fn(view); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return domain.Infrastructure("RunInTx: commit", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $N for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.q.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.q.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.q.QueryRowContext(ctx, s.rebind(query), args...)
}

// isUniqueViolation reports whether err is a unique constraint failure on
// either backend.
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

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Ensure Store implements store.Store interface.
var _ store.Store = (*Store)(nil)
