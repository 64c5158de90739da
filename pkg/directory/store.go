// Package directory is the operator record store: username, bcrypt
// password hash, and role set. Records are immutable after seeding.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Operator is a stored operator record.
type Operator struct {
	ID           int64
	Username     string
	PasswordHash string
	Roles        []string
}

// Store provides operator lookups over sqlite or postgres.
type Store struct {
	db       *sql.DB
	postgres bool
}

// Open connects to the operator store. Postgres DSNs
// (postgres:// / postgresql://) use lib/pq; anything else is treated as
// a sqlite path.
func Open(dsn string) (*Store, error) {
	var (
		db  *sql.DB
		err error
		pg  bool
	)
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		db, err = sql.Open("postgres", dsn)
		pg = true
	default:
		db, err = sql.Open("sqlite", strings.TrimPrefix(dsn, "sqlite://"))
		if err == nil {
			db.SetMaxOpenConns(1)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("directory: open store: %w", err)
	}

	s := &Store{db: db, postgres: pg}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing handle (used in tests).
func NewWithDB(db *sql.DB, postgres bool) *Store {
	return &Store{db: db, postgres: postgres}
}

func (s *Store) migrate(ctx context.Context) error {
	idCol := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.postgres {
		idCol = "id SERIAL PRIMARY KEY"
	}
	query := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS employees (
		%s,
		username TEXT UNIQUE NOT NULL,
		hashed_password TEXT NOT NULL,
		roles TEXT NOT NULL
	);`, idCol)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("directory: migrate: %w", err)
	}
	return nil
}

// rebind converts ?-style placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// GetByUsername fetches an operator record. Returns (nil, nil) when the
// username is unknown; login treats that identically to a bad password.
func (s *Store) GetByUsername(ctx context.Context, username string) (*Operator, error) {
	row := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT id, username, hashed_password, roles FROM employees WHERE username = ?`),
		username)

	var (
		op    Operator
		roles string
	)
	err := row.Scan(&op.ID, &op.Username, &op.PasswordHash, &roles)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("directory: lookup %s: %w", username, err)
	}
	op.Roles = splitRoles(roles)
	return &op, nil
}

// Create inserts a new operator record.
func (s *Store) Create(ctx context.Context, username, passwordHash string, roles []string) error {
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO employees (username, hashed_password, roles) VALUES (?, ?, ?)`),
		username, passwordHash, strings.Join(roles, ","))
	if err != nil {
		return fmt.Errorf("directory: create %s: %w", username, err)
	}
	return nil
}

// Count returns the number of operator records.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM employees`).Scan(&n); err != nil {
		return 0, fmt.Errorf("directory: count: %w", err)
	}
	return n, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func splitRoles(raw string) []string {
	parts := strings.Split(raw, ",")
	roles := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			roles = append(roles, trimmed)
		}
	}
	return roles
}
