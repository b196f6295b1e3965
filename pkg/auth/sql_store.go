package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/govrec/govrec/pkg/errutil"
	"github.com/govrec/govrec/pkg/security"
	"github.com/govrec/govrec/pkg/storage"
)

const userColumns = `id, login_id, username, email, mobile, password_hash, full_name, department,
	position, status, last_activity_at, created_at, updated_at`

// SQLUserStore implements UserStore on the users and user_roles tables
type SQLUserStore struct {
	db      *sql.DB
	dialect storage.Dialect
}

// NewSQLUserStore creates a store on an open database
func NewSQLUserStore(db *sql.DB, dialect storage.Dialect) *SQLUserStore {
	return &SQLUserStore{db: db, dialect: dialect}
}

// EnsureSchema creates the tables when missing
func (s *SQLUserStore) EnsureSchema(ctx context.Context) error {
	idColumn := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	if s.dialect.Driver == storage.DriverPostgres {
		idColumn = "id BIGSERIAL PRIMARY KEY"
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			` + idColumn + `,
			login_id         VARCHAR(50)  NOT NULL,
			username         VARCHAR(50)  NOT NULL,
			email            VARCHAR(100) NOT NULL,
			mobile           VARCHAR(20),
			password_hash    VARCHAR(100) NOT NULL,
			full_name        VARCHAR(100) NOT NULL DEFAULT '',
			department       VARCHAR(100) NOT NULL DEFAULT '',
			position         VARCHAR(100) NOT NULL DEFAULT '',
			status           VARCHAR(16)  NOT NULL DEFAULT 'active',
			last_activity_at TIMESTAMP,
			created_at       TIMESTAMP    NOT NULL,
			updated_at       TIMESTAMP    NOT NULL,
			CONSTRAINT users_login_id_key UNIQUE (login_id),
			CONSTRAINT users_username_key UNIQUE (username),
			CONSTRAINT users_email_key UNIQUE (email),
			CONSTRAINT users_mobile_key UNIQUE (mobile)
		)`,
		`CREATE TABLE IF NOT EXISTS user_roles (
			user_id   BIGINT      NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			role_name VARCHAR(50) NOT NULL,
			PRIMARY KEY (user_id, role_name)
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create user schema: %w", err)
		}
	}
	return nil
}

func (s *SQLUserStore) FindByIdentifier(ctx context.Context, identifier string) (*User, error) {
	if identifier == "" {
		return nil, ErrUserNotFound
	}
	query := s.dialect.Rebind(`SELECT ` + userColumns + ` FROM users
		WHERE username = ? OR LOWER(email) = LOWER(?)
		ORDER BY CASE WHEN username = ? THEN 0 ELSE 1 END
		LIMIT 1`)
	return s.findOne(ctx, query, identifier, identifier, identifier)
}

func (s *SQLUserStore) FindByID(ctx context.Context, id int64) (*User, error) {
	query := s.dialect.Rebind(`SELECT ` + userColumns + ` FROM users WHERE id = ?`)
	return s.findOne(ctx, query, id)
}

func (s *SQLUserStore) findOne(ctx context.Context, query string, args ...interface{}) (*User, error) {
	user, err := scanUser(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	roles, err := s.roles(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	user.Roles = roles
	return user, nil
}

func (s *SQLUserStore) roles(ctx context.Context, userID int64) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(`SELECT role_name FROM user_roles WHERE user_id = ? ORDER BY role_name`), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user roles: %w", err)
	}
	defer rows.Close()

	roles := []string{}
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("failed to scan user role: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read user roles: %w", err)
	}
	return roles, nil
}

func (s *SQLUserStore) Exists(ctx context.Context, field UniqueField, value string) (bool, error) {
	if value == "" {
		return false, nil
	}

	var where string
	switch field {
	case FieldLoginID:
		where = "login_id = ?"
	case FieldUsername:
		where = "username = ?"
	case FieldEmail:
		where = "LOWER(email) = LOWER(?)"
	case FieldMobile:
		where = "mobile = ?"
	default:
		return false, fmt.Errorf("unknown unique field %q", field)
	}

	var one int
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`SELECT 1 FROM users WHERE `+where+` LIMIT 1`), value).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check %s uniqueness: %w", field, err)
	}
	return true, nil
}

func (s *SQLUserStore) Create(ctx context.Context, user *User) (int64, error) {
	now := user.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	status := user.Status
	if status == "" {
		status = UserStatusActive
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, s.dialect.Rebind(`
		INSERT INTO users (login_id, username, email, mobile, password_hash, full_name, department,
			position, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`),
		user.LoginID, user.Username, user.Email, nullString(user.Mobile), user.PasswordHash,
		user.FullName, user.Department, user.Position, string(status), now, now,
	).Scan(&id)
	if err != nil {
		if dup := duplicateFromConstraint(err, user); dup != nil {
			return 0, dup
		}
		return 0, fmt.Errorf("failed to insert user: %w", err)
	}

	for _, role := range security.NormalizeAuthorities(user.Roles) {
		if _, err := tx.ExecContext(ctx, s.dialect.Rebind(`INSERT INTO user_roles (user_id, role_name) VALUES (?, ?)`), id, role); err != nil {
			return 0, fmt.Errorf("failed to insert user role: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit user: %w", err)
	}
	return id, nil
}

func (s *SQLUserStore) UpdatePasswordHash(ctx context.Context, id int64, hash string, at time.Time) error {
	return s.updateOne(ctx, `UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`, hash, at, id)
}

func (s *SQLUserStore) TouchLastActivity(ctx context.Context, id int64, at time.Time) error {
	return s.updateOne(ctx, `UPDATE users SET last_activity_at = ? WHERE id = ?`, at, id)
}

// AssignRole grants a role to a user; granting an existing role is a no-op
func (s *SQLUserStore) AssignRole(ctx context.Context, userID int64, role string) error {
	role = security.NormalizeRole(role)
	if role == "" {
		return errutil.Validation("role", "is required")
	}
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(`INSERT INTO user_roles (user_id, role_name) VALUES (?, ?)`), userID, role)
	if _, dup := storage.UniqueViolation(err); dup {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	return nil
}

func (s *SQLUserStore) updateOne(ctx context.Context, query string, args ...interface{}) error {
	result, err := s.db.ExecContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrUserNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u            User
		mobile       sql.NullString
		status       string
		lastActivity sql.NullTime
	)
	err := row.Scan(&u.ID, &u.LoginID, &u.Username, &u.Email, &mobile, &u.PasswordHash, &u.FullName,
		&u.Department, &u.Position, &status, &lastActivity, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	u.Mobile = mobile.String
	u.Status = UserStatus(status)
	if lastActivity.Valid {
		t := lastActivity.Time
		u.LastActivityAt = &t
	}
	return &u, nil
}

// duplicateFromConstraint maps a unique violation to the DUPLICATE_* error of
// the offending column
func duplicateFromConstraint(err error, user *User) error {
	constraint, ok := storage.UniqueViolation(err)
	if !ok {
		return nil
	}
	constraint = strings.ToLower(constraint)

	for _, field := range []struct {
		column string
		field  UniqueField
	}{
		{"login_id", FieldLoginID},
		{"username", FieldUsername},
		{"email", FieldEmail},
		{"mobile", FieldMobile},
	} {
		if strings.Contains(constraint, field.column) {
			return errutil.Duplicate(field.field.DuplicateCode(), string(field.field), field.field.value(user))
		}
	}
	return errutil.Duplicate(errutil.CodeDuplicateLoginID, string(FieldLoginID), user.LoginID)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
