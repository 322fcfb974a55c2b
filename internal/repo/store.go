package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Dialect selects placeholder syntax.
type Dialect int

const (
	// Postgres uses $1, $2 ... placeholders.
	Postgres Dialect = iota
	// SQLite uses ? placeholders.
	SQLite
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store groups the repositories and runs them inside a transaction on demand.
type Store interface {
	Users() UserRepo
	OTPs() OtpRepo
	RefreshTokens() RefreshRepo
	// WithTx runs fn with a Store bound to a single transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	// Calling WithTx on a Store that is already transactional reuses it.
	WithTx(ctx context.Context, fn func(tx Store) error) error
	Ping(ctx context.Context) error
}

type sqlStore struct {
	db      *sql.DB
	q       querier
	dialect Dialect
	inTx    bool
}

// NewStore creates a Store on top of db.
func NewStore(db *sql.DB, dialect Dialect) Store {
	return &sqlStore{db: db, q: db, dialect: dialect}
}

func (s *sqlStore) Users() UserRepo {
	return &userRepo{q: s.q, d: s.dialect}
}

func (s *sqlStore) OTPs() OtpRepo {
	return &otpRepo{q: s.q, d: s.dialect}
}

func (s *sqlStore) RefreshTokens() RefreshRepo {
	return &refreshRepo{q: s.q, d: s.dialect}
}

func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlStore{db: s.db, q: tx, dialect: s.dialect, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders for the dialect. Queries in this package
// never contain a literal question mark.
func rebind(d Dialect, query string) string {
	if d != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
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
