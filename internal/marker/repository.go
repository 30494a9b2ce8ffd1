package marker

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

const foreignKeyViolationCode = "23503"

// ErrOwnerMissing is returned when a marker is written for a user that no longer exists.
var ErrOwnerMissing = errors.New("marker owner does not exist")

type Store interface {
	List(ctx context.Context, near *NearFilter) ([]Marker, error)
	Get(ctx context.Context, id string) (Marker, error)
	Create(ctx context.Context, m Marker) error
	Update(ctx context.Context, m Marker) error
	Delete(ctx context.Context, id string) error
}

type Repository struct {
	db      *sql.DB
	timeout time.Duration
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

const markerColumns = `id, user_id, latitude, longitude, obstacle_type, obstacle_score, description, images, created_at, updated_at`

// Great-circle distance in kilometres from ($1, $2), earth radius 6371 km.
const distanceKm = `2 * 6371 * asin(sqrt(
	power(sin(radians(latitude - $1) / 2), 2) +
	cos(radians($1)) * cos(radians(latitude)) * power(sin(radians(longitude - $2) / 2), 2)
))`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMarker(row rowScanner) (Marker, error) {
	var (
		m      Marker
		images []byte
	)
	if err := row.Scan(
		&m.ID, &m.UserID, &m.Location.Latitude, &m.Location.Longitude, &m.ObstacleType,
		&m.ObstacleScore, &m.Description, &images, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return Marker{}, err
	}

	m.Images = []string{}
	if len(images) > 0 {
		if err := json.Unmarshal(images, &m.Images); err != nil {
			return Marker{}, fmt.Errorf("decode images: %w", err)
		}
	}
	return m, nil
}

// List returns markers newest first, optionally only those within near.
func (r *Repository) List(ctx context.Context, near *NearFilter) ([]Marker, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var (
		rows *sql.Rows
		err  error
	)
	if near == nil {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+markerColumns+`
			FROM markers
			ORDER BY created_at DESC
		`)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+markerColumns+`
			FROM markers
			WHERE `+distanceKm+` <= $3
			ORDER BY created_at DESC
		`, near.Latitude, near.Longitude, near.RadiusKm)
	}
	if err != nil {
		return nil, fmt.Errorf("query markers: %w", err)
	}
	defer rows.Close()

	markers := make([]Marker, 0)
	for rows.Next() {
		m, err := scanMarker(rows)
		if err != nil {
			return nil, fmt.Errorf("scan marker: %w", err)
		}
		markers = append(markers, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate markers: %w", err)
	}

	return markers, nil
}

func (r *Repository) Get(ctx context.Context, id string) (Marker, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Marker{}, ErrNotFound
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	m, err := scanMarker(r.db.QueryRowContext(ctx, `SELECT `+markerColumns+` FROM markers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Marker{}, ErrNotFound
		}
		return Marker{}, fmt.Errorf("query marker: %w", err)
	}
	return m, nil
}

func (r *Repository) Create(ctx context.Context, m Marker) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	images, err := encodeImages(m.Images)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO markers (id, user_id, latitude, longitude, obstacle_type, obstacle_score, description, images, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, m.ID, m.UserID, m.Location.Latitude, m.Location.Longitude, m.ObstacleType, m.ObstacleScore,
		m.Description, images, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrOwnerMissing
		}
		return fmt.Errorf("insert marker: %w", err)
	}
	return nil
}

// Update saves every mutable column of m. user_id and created_at are never rewritten.
func (r *Repository) Update(ctx context.Context, m Marker) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	images, err := encodeImages(m.Images)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE markers
		SET latitude = $2, longitude = $3, obstacle_type = $4, obstacle_score = $5, description = $6, images = $7, updated_at = $8
		WHERE id = $1
	`, m.ID, m.Location.Latitude, m.Location.Longitude, m.ObstacleType, m.ObstacleScore, m.Description, images, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update marker: %w", err)
	}
	return expectAffected(res)
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM markers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete marker: %w", err)
	}
	return expectAffected(res)
}

func encodeImages(images []string) (string, error) {
	if images == nil {
		images = []string{}
	}
	raw, err := json.Marshal(images)
	if err != nil {
		return "", fmt.Errorf("encode images: %w", err)
	}
	return string(raw), nil
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolationCode
}

func expectAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
