package auth

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contacts-api/internal/db"
)

var userColumns = []string{"id", "username", "email", "hashed_password", "refresh_token", "refresh_token_expires_at", "confirmed", "role", "avatar", "created_at"}

func newUserRepoWithMock(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	gdb, err := db.NewGorm(sqlDB)
	require.NoError(t, err)
	return NewRepository(gdb), mock
}

func TestRepositoryGetByUsername(t *testing.T) {
	repo, mock := newUserRepoWithMock(t)
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`^SELECT \* FROM "users" WHERE username = \$1`).
		WillReturnRows(sqlmock.NewRows(userColumns).
			AddRow(3, "alice", "alice@example.com", "$2a$04$digest", nil, nil, true, "owner", nil, created))

	user, err := repo.GetByUsername(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(3), user.ID)
	assert.Equal(t, "$2a$04$digest", user.PasswordHash)
	assert.Empty(t, user.RefreshToken)
	assert.Empty(t, user.Avatar)
	assert.Equal(t, RoleUser, user.Role)
	assert.True(t, user.Confirmed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryGetByIDAndRefreshToken(t *testing.T) {
	repo, mock := newUserRepoWithMock(t)
	created := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`^SELECT \* FROM "users" WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows(userColumns).
			AddRow(3, "alice", "alice@example.com", "digest", "refresh", created, true, "admin", "https://cdn/a.png", created))
	mock.ExpectQuery(`^SELECT \* FROM "users" WHERE username = \$1 AND refresh_token = \$2`).
		WillReturnRows(sqlmock.NewRows(userColumns))

	user, err := repo.GetByID(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "refresh", user.RefreshToken)
	assert.Equal(t, RoleAdmin, user.Role)
	assert.Equal(t, "https://cdn/a.png", user.Avatar)

	_, err = repo.GetByRefreshToken(context.Background(), "alice", "stale")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryGetByEmailMissing(t *testing.T) {
	repo, mock := newUserRepoWithMock(t)

	mock.ExpectQuery(`^SELECT \* FROM "users" WHERE email = \$1`).
		WillReturnRows(sqlmock.NewRows(userColumns))

	_, err := repo.GetByEmail(context.Background(), "ghost@example.com")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryCreateMapsUniqueViolation(t *testing.T) {
	repo, mock := newUserRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`^INSERT INTO "users"`).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	_, err := repo.Create(context.Background(), NewUser{Username: "alice", Email: "alice@example.com", PasswordHash: "x"})
	assert.ErrorIs(t, err, ErrDuplicateUser)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositorySetRefreshTokenMissingUser(t *testing.T) {
	repo, mock := newUserRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`^UPDATE "users" SET .* WHERE username = \$3`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	expires := time.Now().Add(time.Hour)
	err := repo.SetRefreshToken(context.Background(), "ghost", "token", &expires)
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryClearExpiredRefreshTokens(t *testing.T) {
	repo, mock := newUserRepoWithMock(t)
	now := time.Date(2025, 1, 1, 3, 0, 0, 0, time.UTC)

	mock.ExpectExec(`(?s)UPDATE users\s+SET refresh_token = NULL, refresh_token_expires_at = NULL.*LIMIT \$2`).
		WithArgs(now, 50).
		WillReturnResult(sqlmock.NewResult(0, 12))

	cleared, err := repo.ClearExpiredRefreshTokens(context.Background(), now, 50)
	require.NoError(t, err)
	assert.Equal(t, int64(12), cleared)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryReplaceRefreshTokenRequiresCurrentToken(t *testing.T) {
	repo, mock := newUserRepoWithMock(t)
	expires := time.Now().Add(time.Hour)

	mock.ExpectBegin()
	mock.ExpectExec(`^UPDATE "users" SET .* WHERE username = \$3 AND refresh_token = \$4`).
		WithArgs("current", sqlmock.AnyArg(), "alice", "current").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(`^UPDATE "users" SET .* WHERE username = \$3 AND refresh_token = \$4`).
		WithArgs("current", sqlmock.AnyArg(), "alice", "current").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, repo.ReplaceRefreshToken(context.Background(), "alice", "current", "current", &expires))

	// A login replaced the token between the two calls.
	err := repo.ReplaceRefreshToken(context.Background(), "alice", "current", "current", &expires)
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositorySetAvatar(t *testing.T) {
	repo, mock := newUserRepoWithMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`^UPDATE "users" SET "avatar"=\$1 WHERE email = \$2`).
		WithArgs("https://cdn/a.png", "alice@example.com").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.SetAvatar(context.Background(), "alice@example.com", "https://cdn/a.png"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
