package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq" // PostgreSQL driver
	"github.com/mattn/go-sqlite3"
)

// Supported database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// SQLSTATE codes
const (
	pqUniqueViolation     = "23505"
	pqForeignKeyViolation = "23503"
)

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Driver      string
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// Dialect adapts queries to the connected driver
type Dialect struct {
	Driver string
}

// OpenDatabase opens and pings the database described by config
func OpenDatabase(ctx context.Context, config DatabaseConfig) (*sql.DB, Dialect, error) {
	switch config.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, Dialect{}, fmt.Errorf("unsupported database driver %q", config.Driver)
	}

	db, err := sql.Open(config.Driver, config.URL)
	if err != nil {
		return nil, Dialect{}, fmt.Errorf("failed to open database: %w", err)
	}

	if config.Driver == DriverSQLite {
		// one writer at a time; an in-memory database lives on a single connection
		db.SetMaxOpenConns(1)
	} else {
		if config.MaxConns > 0 {
			db.SetMaxOpenConns(config.MaxConns)
		}
		if config.MinConns > 0 {
			db.SetMaxIdleConns(config.MinConns)
		}
		db.SetConnMaxLifetime(config.MaxLifetime)
		db.SetConnMaxIdleTime(config.MaxIdleTime)
	}

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, Dialect{}, fmt.Errorf("failed to ping database: %w", err)
	}

	if config.Driver == DriverSQLite {
		if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
			db.Close()
			return nil, Dialect{}, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	return db, Dialect{Driver: config.Driver}, nil
}

// Rebind rewrites "?" placeholders to "$1", "$2", ... for postgres.
// Question marks inside single-quoted literals are left alone.
func (d Dialect) Rebind(query string) string {
	if d.Driver != DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	inQuote := false
	for _, r := range query {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// UniqueViolation reports whether err is a unique-key violation and returns
// the violated constraint: the constraint name for postgres, "table.column"
// for sqlite.
func UniqueViolation(err error) (string, bool) {
	if err == nil {
		return "", false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
		return pqErr.Constraint, true
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) && liteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		msg := liteErr.Error()
		if i := strings.LastIndex(msg, ": "); i >= 0 {
			return strings.TrimSpace(msg[i+2:]), true
		}
		return msg, true
	}

	return "", false
}

// ForeignKeyViolation reports whether err is a foreign-key violation
func ForeignKeyViolation(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pqForeignKeyViolation
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}
