package auth

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/govrec/govrec/pkg/errutil"
	"github.com/govrec/govrec/pkg/storage"
)

func newMockUserStore(t *testing.T) (*SQLUserStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLUserStore(db, storage.Dialect{Driver: storage.DriverPostgres}), mock
}

func TestSQLUserStore_FindByIDQueryError(t *testing.T) {
	store, mock := newMockUserStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE id = $1")).
		WithArgs(int64(7)).
		WillReturnError(errors.New("connection reset"))

	_, err := store.FindByID(context.Background(), 7)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUserNotFound)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLUserStore_FindByIdentifierUsesPostgresPlaceholders(t *testing.T) {
	store, mock := newMockUserStore(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"id", "login_id", "username", "email", "mobile", "password_hash", "full_name", "department",
		"position", "status", "last_activity_at", "created_at", "updated_at",
	}).AddRow(int64(3), "alice01", "alice", "alice@example.com", nil, "hash", "Alice", "", "", "locked", nil, now, now)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE username = $1 OR LOWER(email) = LOWER($2)")).
		WithArgs("alice", "alice", "alice").
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT role_name FROM user_roles WHERE user_id = $1")).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"role_name"}).AddRow("ROLE_USER"))

	u, err := store.FindByIdentifier(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, UserStatusLocked, u.Status)
	assert.Empty(t, u.Mobile)
	assert.Equal(t, []string{"ROLE_USER"}, u.Roles)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLUserStore_CreateMapsPostgresUniqueViolation(t *testing.T) {
	store, mock := newMockUserStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "users_email_key"})
	mock.ExpectRollback()

	_, err := store.Create(context.Background(), sampleUser())
	errutil.AssertErrorCode(t, err, errutil.CodeDuplicateEmail)
	assert.Contains(t, errutil.Fields(err), "email")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLUserStore_CreateRoleInsertFails(t *testing.T) {
	store, mock := newMockUserStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO user_roles (user_id, role_name) VALUES ($1, $2)")).
		WithArgs(int64(11), "ROLE_USER").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := store.Create(context.Background(), sampleUser())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert user role")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLUserStore_UpdateNoRows(t *testing.T) {
	store, mock := newMockUserStore(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET last_activity_at = $1 WHERE id = $2")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.TouchLastActivity(context.Background(), 5, time.Now())
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLUserStore_ExistsUnknownField(t *testing.T) {
	store, _ := newMockUserStore(t)

	_, err := store.Exists(context.Background(), UniqueField("nickname"), "x")
	assert.Error(t, err)
}
