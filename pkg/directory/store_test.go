package directory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "employees.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "teller1", "hashed", []string{"teller", "customer_service"}))

	op, err := s.GetByUsername(ctx, "teller1")
	require.NoError(t, err)
	require.NotNil(t, op)
	assert.Equal(t, "teller1", op.Username)
	assert.Equal(t, "hashed", op.PasswordHash)
	assert.Equal(t, []string{"teller", "customer_service"}, op.Roles)
}

func TestGetMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)

	op, err := s.GetByUsername(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, op)
}

func TestCreateDuplicateFails(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "teller1", "h1", []string{"teller"}))
	assert.Error(t, s.Create(ctx, "teller1", "h2", []string{"teller"}))
}

func TestSeed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	hash := func(p string) (string, error) { return "hashed:" + p, nil }
	require.NoError(t, s.Seed(ctx, hash))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	op, err := s.GetByUsername(ctx, "teller1")
	require.NoError(t, err)
	require.NotNil(t, op)
	assert.Equal(t, "hashed:password1", op.PasswordHash)

	// A second seed against a populated store is a no-op.
	require.NoError(t, s.Seed(ctx, hash))
	n, err = s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSeedHashFailure(t *testing.T) {
	s := newTestStore(t)

	err := s.Seed(context.Background(), func(string) (string, error) {
		return "", errors.New("bcrypt exploded")
	})
	assert.Error(t, err)
}

func TestRebindPostgres(t *testing.T) {
	s := &Store{postgres: true}
	assert.Equal(t,
		"INSERT INTO employees (username, hashed_password, roles) VALUES ($1, $2, $3)",
		s.rebind("INSERT INTO employees (username, hashed_password, roles) VALUES (?, ?, ?)"))

	sqlite := &Store{postgres: false}
	assert.Equal(t, "SELECT 1 WHERE a = ?", sqlite.rebind("SELECT 1 WHERE a = ?"))
}

func TestGetByUsernameQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT id, username, hashed_password, roles FROM employees").
		WithArgs("teller1").
		WillReturnError(errors.New("connection reset"))

	s := NewWithDB(db, false)
	_, err = s.GetByUsername(context.Background(), "teller1")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSplitRoles(t *testing.T) {
	assert.Equal(t, []string{"teller", "manager"}, splitRoles("teller, manager"))
	assert.Empty(t, splitRoles(""))
	assert.Equal(t, []string{"admin"}, splitRoles(",admin,"))
}
