// Package storage opens the relational database and the Redis client shared by
// the user store, the menu store and the session registry.
//
// Two SQL drivers are supported: "postgres" (github.com/lib/pq) for deployments
// and "sqlite3" (github.com/mattn/go-sqlite3) for local runs and tests. Queries
// are written once with "?" placeholders and passed through Dialect.Rebind:
//
//	db, dialect, err := storage.OpenDatabase(ctx, cfg)
//	row := db.QueryRowContext(ctx, dialect.Rebind("SELECT id FROM users WHERE username = ?"), name)
//
// Unique-key violations from either driver are recognized by UniqueViolation so
// stores can turn a lost insert race into a domain error.
package storage
