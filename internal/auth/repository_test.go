package auth

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewRepository(db, time.Second), mock
}

var userColumnNames = []string{
	"id", "email", "password_hash", "display_name", "role", "preferences", "refresh_token",
	"refresh_token_expiry", "is_active", "last_login", "created_at", "updated_at",
}

func TestRepositoryCreate(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	token := "0190f3f5-refresh"
	expiry := now.Add(time.Hour)

	mock.ExpectExec(`(?s)^\s*INSERT\s+INTO\s+users\s*\(id,\s*email,.*refresh_token,\s*refresh_token_expiry,.*VALUES\s*\(\$1,.*\$10,\s*\$10\)\s*$`).
		WithArgs("u-1", "a@b.co", "hash", "Ann", "user", sqlmock.AnyArg(), token, expiry, true, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), User{
		ID: "u-1", Email: "a@b.co", PasswordHash: "hash", DisplayName: "Ann", Role: RoleUser,
		Preferences: DefaultPreferences(), RefreshToken: &token, RefreshTokenExpiry: &expiry,
		IsActive: true, CreatedAt: now,
	})
	require.NoError(t, err)
}

func TestRepositoryCreateDuplicateEmail(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`INSERT\s+INTO\s+users`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"})

	err := repo.Create(context.Background(), User{ID: "u-1", Email: "a@b.co", Role: RoleUser})
	assert.ErrorIs(t, err, ErrUserExists)
}

func TestRepositoryCreateWrapsOtherErrors(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectExec(`INSERT\s+INTO\s+users`).WillReturnError(errors.New("db down"))

	err := repo.Create(context.Background(), User{ID: "u-1", Email: "a@b.co", Role: RoleUser})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert user: db down")
}

func TestRepositoryGetByEmail(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(userColumnNames).AddRow(
		"u-1", "a@b.co", "hash", "Ann", "moderator",
		[]byte(`{"activityTypes":["nature"],"transportMethod":"car","budget":"low","baseLocation":{"latitude":1.5,"longitude":2.5},"searchRadius":10,"accessibilityRequirements":{"hasRamp":true}}`),
		nil, nil, true, nil, created, created,
	)
	mock.ExpectQuery(`(?s)^SELECT\s+id,\s*email,.*FROM\s+users\s+WHERE\s+email\s*=\s*\$1$`).
		WithArgs("a@b.co").
		WillReturnRows(rows)

	user, err := repo.GetByEmail(context.Background(), "a@b.co")
	require.NoError(t, err)
	assert.Equal(t, "u-1", user.ID)
	assert.Equal(t, RoleModerator, user.Role)
	assert.Equal(t, []string{"nature"}, user.Preferences.ActivityTypes)
	assert.Equal(t, "car", user.Preferences.TransportMethod)
	assert.Equal(t, 1.5, user.Preferences.BaseLocation.Latitude)
	assert.True(t, user.Preferences.AccessibilityRequirements.HasRamp)
	assert.Nil(t, user.RefreshToken)
	assert.Nil(t, user.LastLogin)
}

func TestRepositoryGetByEmailNotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`FROM\s+users\s+WHERE\s+email`).WithArgs("x@y.z").WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByEmail(context.Background(), "x@y.z")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestRepositoryGetByRefreshTokenChecksExpiry(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expiry := now.Add(time.Hour)

	rows := sqlmock.NewRows(userColumnNames).AddRow(
		"u-1", "a@b.co", "hash", "Ann", "user", []byte(`{}`), "tok", expiry, true, now, now, now,
	)
	mock.ExpectQuery(`(?s)WHERE\s+refresh_token\s*=\s*\$1\s+AND\s+refresh_token_expiry\s*>\s*\$2$`).
		WithArgs("tok", now).
		WillReturnRows(rows)

	user, err := repo.GetByRefreshToken(context.Background(), "tok", now)
	require.NoError(t, err)
	require.NotNil(t, user.RefreshToken)
	assert.Equal(t, "tok", *user.RefreshToken)
	assert.Equal(t, expiry, *user.RefreshTokenExpiry)
	assert.Equal(t, "wheelchair", user.Preferences.TransportMethod, "missing preference keys fall back to defaults")
}

func TestRepositoryUpdate(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`(?s)UPDATE\s+users\s+SET\s+email\s*=\s*\$2,.*WHERE\s+id\s*=\s*\$1`).
		WithArgs("u-1", "new@b.co", "hash", "Ann", "user", sqlmock.AnyArg(), true, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE\s+users\s+SET\s+email`).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectExec(`UPDATE\s+users\s+SET\s+email`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	user := User{ID: "u-1", Email: "new@b.co", PasswordHash: "hash", DisplayName: "Ann", Role: RoleUser, IsActive: true, UpdatedAt: now}
	require.NoError(t, repo.Update(context.Background(), user))
	assert.ErrorIs(t, repo.Update(context.Background(), user), ErrUserExists)
	assert.ErrorIs(t, repo.Update(context.Background(), user), ErrUserNotFound)
}

func TestRepositoryDeleteNotFound(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	id := "0190f3f5-7c2a-7b4e-9a51-3f1d2c4b5a69"

	mock.ExpectExec(`DELETE\s+FROM\s+users\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.Delete(context.Background(), id), ErrUserNotFound)
	assert.ErrorIs(t, repo.Delete(context.Background(), "missing"), ErrUserNotFound, "malformed ids never reach the database")
	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestRepositoryRefreshTokenWrites(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expiry := now.Add(time.Hour)

	mock.ExpectExec(`(?s)SET\s+refresh_token\s*=\s*\$2,\s*refresh_token_expiry\s*=\s*\$3.*WHERE\s+id\s*=\s*\$1\s*$`).
		WithArgs("u-1", "new", expiry, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)WHERE\s+id\s*=\s*\$1\s+AND\s+refresh_token\s*=\s*\$2`).
		WithArgs("u-1", "old", "new", expiry, now).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`(?s)SET\s+refresh_token\s*=\s*NULL,\s*refresh_token_expiry\s*=\s*NULL.*WHERE\s+refresh_token\s*=\s*\$1`).
		WithArgs("new", now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SetRefreshToken(context.Background(), "u-1", "new", expiry, now))
	assert.ErrorIs(t, repo.SwapRefreshToken(context.Background(), "u-1", "old", "new", expiry, now), ErrInvalidRefreshToken)
	require.NoError(t, repo.ClearRefreshToken(context.Background(), "new", now))
}

func TestRepositoryList(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(userColumnNames).
		AddRow("u-1", "a@b.co", "h", "Ann", "user", []byte(`{}`), nil, nil, true, nil, now, now).
		AddRow("u-2", "b@b.co", "h", "Bob", "admin", []byte(`{}`), nil, nil, false, now, now, now)
	mock.ExpectQuery(`(?s)FROM\s+users\s+ORDER\s+BY\s+created_at\s+ASC`).WillReturnRows(rows)

	users, err := repo.List(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, RoleAdmin, users[1].Role)
	assert.False(t, users[1].IsActive)
	require.NotNil(t, users[1].LastLogin)
}

func TestRepositoryCleanupExpiredLoopsUntilShortBatch(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`(?s)WITH\s+stale\s+AS.*FROM\s+users.*UPDATE\s+users\s+u`).
		WithArgs(now, 2).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`(?s)WITH\s+stale\s+AS.*FROM\s+users.*UPDATE\s+users\s+u`).
		WithArgs(now, 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)DELETE\s+FROM\s+auth_login_ip_limits`).
		WithArgs(now.Add(-24*time.Hour), 2).
		WillReturnResult(sqlmock.NewResult(0, 4))

	result, err := repo.CleanupExpired(context.Background(), now, 24*time.Hour, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.ClearedRefreshTokens)
	assert.Equal(t, int64(4), result.DeletedIPLimits)
}

func TestRepositoryUpsertAdmin(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(`(?s)INSERT\s+INTO\s+users.*ON\s+CONFLICT\s+\(email\)\s+DO\s+UPDATE`).
		WithArgs("u-1", "root@b.co", "hash", "Root", "admin", sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertAdmin(context.Background(), User{
		ID: "u-1", Email: "root@b.co", PasswordHash: "hash", DisplayName: "Root", CreatedAt: now,
	})
	require.NoError(t, err)
}
