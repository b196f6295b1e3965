package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialect_Rebind(t *testing.T) {
	tests := []struct {
		name     string
		driver   string
		query    string
		expected string
	}{
		{
			name:     "postgres numbers placeholders",
			driver:   DriverPostgres,
			query:    "SELECT id FROM users WHERE username = ? OR email = ?",
			expected: "SELECT id FROM users WHERE username = $1 OR email = $2",
		},
		{
			name:     "postgres skips quoted literals",
			driver:   DriverPostgres,
			query:    "SELECT '?' AS q, id FROM menus WHERE code = ?",
			expected: "SELECT '?' AS q, id FROM menus WHERE code = $1",
		},
		{
			name:     "sqlite unchanged",
			driver:   DriverSQLite,
			query:    "UPDATE users SET password_hash = ? WHERE id = ?",
			expected: "UPDATE users SET password_hash = ? WHERE id = ?",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Dialect{Driver: tt.driver}.Rebind(tt.query))
		})
	}
}

func TestOpenDatabase_UnsupportedDriver(t *testing.T) {
	_, _, err := OpenDatabase(context.Background(), DatabaseConfig{Driver: "oracle", URL: "x"})
	assert.Error(t, err)
}

func TestOpenDatabase_SQLite(t *testing.T) {
	db, dialect, err := OpenDatabase(context.Background(), DatabaseConfig{Driver: DriverSQLite, URL: ":memory:"})
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, DriverSQLite, dialect.Driver)
	assert.Equal(t, 1, db.Stats().MaxOpenConnections)
}

func TestUniqueViolation_SQLite(t *testing.T) {
	db, _, err := OpenDatabase(context.Background(), DatabaseConfig{Driver: DriverSQLite, URL: ":memory:"})
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE users (id INTEGER PRIMARY KEY, email TEXT NOT NULL UNIQUE)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO users (email) VALUES ('a@example.com')`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO users (email) VALUES ('a@example.com')`)
	require.Error(t, err)

	constraint, ok := UniqueViolation(fmt.Errorf("insert user: %w", err))
	assert.True(t, ok)
	assert.Equal(t, "users.email", constraint)
}

func TestUniqueViolation_Postgres(t *testing.T) {
	err := &pq.Error{Code: "23505", Constraint: "users_mobile_key"}

	constraint, ok := UniqueViolation(fmt.Errorf("insert user: %w", err))
	assert.True(t, ok)
	assert.Equal(t, "users_mobile_key", constraint)

	_, ok = UniqueViolation(&pq.Error{Code: "23503"})
	assert.False(t, ok, "foreign key violation is not a unique violation")
}

func TestUniqueViolation_Other(t *testing.T) {
	_, ok := UniqueViolation(nil)
	assert.False(t, ok)
	_, ok = UniqueViolation(errors.New("boom"))
	assert.False(t, ok)
}

func TestForeignKeyViolation(t *testing.T) {
	db, _, err := OpenDatabase(context.Background(), DatabaseConfig{Driver: DriverSQLite, URL: ":memory:"})
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE parents (id INTEGER PRIMARY KEY)`)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE children (id INTEGER PRIMARY KEY, parent_id INTEGER NOT NULL REFERENCES parents(id))`)
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO children (parent_id) VALUES (99)`)
	require.Error(t, err, "foreign keys are enforced on sqlite")
	assert.True(t, ForeignKeyViolation(fmt.Errorf("insert child: %w", err)))

	assert.True(t, ForeignKeyViolation(&pq.Error{Code: "23503"}))
	assert.False(t, ForeignKeyViolation(&pq.Error{Code: "23505"}))
	assert.False(t, ForeignKeyViolation(errors.New("boom")))
	assert.False(t, ForeignKeyViolation(nil))
}
