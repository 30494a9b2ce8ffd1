package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolationCode = "23505"

// Store is the credential store the service depends on.
type Store interface {
	Create(ctx context.Context, user User) error
	GetByID(ctx context.Context, id string) (User, error)
	GetByEmail(ctx context.Context, email string) (User, error)
	GetByRefreshToken(ctx context.Context, token string, now time.Time) (User, error)
	List(ctx context.Context) ([]User, error)
	Update(ctx context.Context, user User) error
	Delete(ctx context.Context, id string) error
	SetRefreshToken(ctx context.Context, userID, token string, expiry, now time.Time) error
	SwapRefreshToken(ctx context.Context, userID, oldToken, newToken string, expiry, now time.Time) error
	ClearRefreshToken(ctx context.Context, token string, now time.Time) error
	TouchLastLogin(ctx context.Context, userID string, at time.Time) error
	UpsertAdmin(ctx context.Context, user User) error
}

type Repository struct {
	db      *sql.DB
	timeout time.Duration
}

type CleanupResult struct {
	ClearedRefreshTokens int64 `json:"cleared_refresh_tokens"`
	DeletedIPLimits      int64 `json:"deleted_ip_limits"`
}

func NewRepository(db *sql.DB, queryTimeout time.Duration) *Repository {
	return &Repository{db: db, timeout: queryTimeout}
}

func (r *Repository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

const userColumns = `id, email, password_hash, display_name, role, preferences, refresh_token,
	refresh_token_expiry, is_active, last_login, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var (
		user       User
		role       string
		prefs      []byte
		refresh    sql.NullString
		refreshExp sql.NullTime
		lastLogin  sql.NullTime
	)
	if err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.DisplayName, &role, &prefs, &refresh,
		&refreshExp, &user.IsActive, &lastLogin, &user.CreatedAt, &user.UpdatedAt,
	); err != nil {
		return User{}, err
	}

	user.Role = Role(role)
	user.Preferences = DefaultPreferences()
	if len(prefs) > 0 {
		if err := json.Unmarshal(prefs, &user.Preferences); err != nil {
			return User{}, fmt.Errorf("decode preferences: %w", err)
		}
	}
	if refresh.Valid {
		value := refresh.String
		user.RefreshToken = &value
	}
	if refreshExp.Valid {
		value := refreshExp.Time.UTC()
		user.RefreshTokenExpiry = &value
	}
	if lastLogin.Valid {
		value := lastLogin.Time.UTC()
		user.LastLogin = &value
	}
	return user, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// Create inserts a new user together with its first refresh token.
func (r *Repository) Create(ctx context.Context, user User) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	prefs, err := json.Marshal(user.Preferences)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, display_name, role, preferences, refresh_token, refresh_token_expiry, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`, user.ID, user.Email, user.PasswordHash, user.DisplayName, string(user.Role), string(prefs),
		user.RefreshToken, user.RefreshTokenExpiry, user.IsActive, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUserExists
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return User{}, ErrUserNotFound
	}
	return r.getOne(ctx, "query user by id", `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (User, error) {
	return r.getOne(ctx, "query user by email", `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

func (r *Repository) GetByRefreshToken(ctx context.Context, token string, now time.Time) (User, error) {
	return r.getOne(ctx, "query user by refresh token",
		`SELECT `+userColumns+` FROM users WHERE refresh_token = $1 AND refresh_token_expiry > $2`,
		token, now.UTC())
}

func (r *Repository) getOne(ctx context.Context, op, query string, args ...any) (User, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	user, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

func (r *Repository) List(ctx context.Context) ([]User, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// Update saves the profile fields of user. Refresh state and timestamps other than updated_at
// are left alone.
func (r *Repository) Update(ctx context.Context, user User) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	prefs, err := json.Marshal(user.Preferences)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET email = $2, password_hash = $3, display_name = $4, role = $5, preferences = $6, is_active = $7, updated_at = $8
		WHERE id = $1
	`, user.ID, user.Email, user.PasswordHash, user.DisplayName, string(user.Role), string(prefs), user.IsActive, user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUserExists
		}
		return fmt.Errorf("update user: %w", err)
	}
	return expectAffected(res, ErrUserNotFound)
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrUserNotFound
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return expectAffected(res, ErrUserNotFound)
}

// SetRefreshToken overwrites whatever refresh token the user had. Concurrent writers race and
// the last one wins.
func (r *Repository) SetRefreshToken(ctx context.Context, userID, token string, expiry, now time.Time) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET refresh_token = $2, refresh_token_expiry = $3, updated_at = $4
		WHERE id = $1
	`, userID, token, expiry.UTC(), now.UTC())
	if err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}
	return expectAffected(res, ErrUserNotFound)
}

// SwapRefreshToken replaces oldToken only if it is still the stored value.
func (r *Repository) SwapRefreshToken(ctx context.Context, userID, oldToken, newToken string, expiry, now time.Time) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET refresh_token = $3, refresh_token_expiry = $4, updated_at = $5
		WHERE id = $1 AND refresh_token = $2
	`, userID, oldToken, newToken, expiry.UTC(), now.UTC())
	if err != nil {
		return fmt.Errorf("swap refresh token: %w", err)
	}
	return expectAffected(res, ErrInvalidRefreshToken)
}

func (r *Repository) ClearRefreshToken(ctx context.Context, token string, now time.Time) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET refresh_token = NULL, refresh_token_expiry = NULL, updated_at = $2
		WHERE refresh_token = $1
	`, token, now.UTC()); err != nil {
		return fmt.Errorf("clear refresh token: %w", err)
	}
	return nil
}

func (r *Repository) TouchLastLogin(ctx context.Context, userID string, at time.Time) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, userID, at.UTC()); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// UpsertAdmin creates the bootstrap admin or, if the email is taken, promotes that account and
// resets its password.
func (r *Repository) UpsertAdmin(ctx context.Context, user User) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	prefs, err := json.Marshal(user.Preferences)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, display_name, role, preferences, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7, $7)
		ON CONFLICT (email) DO UPDATE
		SET password_hash = EXCLUDED.password_hash, role = EXCLUDED.role, is_active = TRUE, updated_at = EXCLUDED.updated_at
	`, user.ID, user.Email, user.PasswordHash, user.DisplayName, string(RoleAdmin), string(prefs), user.CreatedAt); err != nil {
		return fmt.Errorf("upsert admin user: %w", err)
	}
	return nil
}

func (r *Repository) CleanupExpired(ctx context.Context, now time.Time, ipLimitRetention time.Duration, batchSize int) (CleanupResult, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	if ipLimitRetention <= 0 {
		ipLimitRetention = 24 * time.Hour
	}

	var result CleanupResult
	for {
		cleared, err := r.clearExpiredRefreshTokens(ctx, now.UTC(), batchSize)
		if err != nil {
			return CleanupResult{}, err
		}
		result.ClearedRefreshTokens += cleared
		if cleared < int64(batchSize) {
			break
		}
	}

	deleted, err := r.deleteStaleIPLimits(ctx, now.UTC().Add(-ipLimitRetention), batchSize)
	if err != nil {
		return CleanupResult{}, err
	}
	result.DeletedIPLimits = deleted

	return result, nil
}

func (r *Repository) clearExpiredRefreshTokens(ctx context.Context, now time.Time, batchSize int) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM users
			WHERE refresh_token_expiry IS NOT NULL AND refresh_token_expiry <= $1
			ORDER BY refresh_token_expiry ASC
			LIMIT $2
		)
		UPDATE users u
		SET refresh_token = NULL, refresh_token_expiry = NULL
		FROM stale
		WHERE u.id = stale.id
	`, now, batchSize)
	if err != nil {
		return 0, fmt.Errorf("clear expired refresh tokens: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired refresh tokens rows affected: %w", err)
	}
	return affected, nil
}

func (r *Repository) deleteStaleIPLimits(ctx context.Context, cutoff time.Time, batchSize int) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT ip
			FROM auth_login_ip_limits
			WHERE updated_at < $1
			ORDER BY updated_at ASC
			LIMIT $2
		)
		DELETE FROM auth_login_ip_limits t
		USING stale
		WHERE t.ip = stale.ip
	`, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale login ip limits: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale login ip limits rows affected: %w", err)
	}
	return affected, nil
}

func expectAffected(res sql.Result, notFound error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return notFound
	}
	return nil
}
