package marker

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const markerID = "0190f3f5-7c2a-7b4e-9a51-3f1d2c4b5a69"

var markerColumnNames = []string{
	"id", "user_id", "latitude", "longitude", "obstacle_type", "obstacle_score", "description", "images", "created_at", "updated_at",
}

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

func TestRepositoryListNewestFirst(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(markerColumnNames).
		AddRow(markerID, "u-1", 52.52, 13.405, "stairs", 2, "", []byte(`["https://cdn.example.com/a.jpg"]`), now, now).
		AddRow("m-2", "u-2", 1.0, 2.0, "kerb", 1, "low kerb", []byte(`[]`), now.Add(-time.Hour), now)
	mock.ExpectQuery(`(?s)^SELECT\s+id,\s*user_id,.*FROM\s+markers\s+ORDER\s+BY\s+created_at\s+DESC$`).WillReturnRows(rows)

	markers, err := repo.List(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, markers, 2)
	assert.Equal(t, Location{Latitude: 52.52, Longitude: 13.405}, markers[0].Location)
	assert.Equal(t, []string{"https://cdn.example.com/a.jpg"}, markers[0].Images)
	assert.Equal(t, "low kerb", markers[1].Description)
	assert.NotNil(t, markers[1].Images)
}

func TestRepositoryListNear(t *testing.T) {
	repo, mock := newRepoWithMock(t)

	mock.ExpectQuery(`(?s)FROM\s+markers\s+WHERE\s+2\s+\*\s+6371\s+\*\s+asin\(.*<=\s+\$3\s+ORDER\s+BY\s+created_at\s+DESC`).
		WithArgs(52.5, 13.4, 2.5).
		WillReturnRows(sqlmock.NewRows(markerColumnNames))

	markers, err := repo.List(context.Background(), &NearFilter{Latitude: 52.5, Longitude: 13.4, RadiusKm: 2.5})
	require.NoError(t, err)
	assert.Empty(t, markers)
	assert.NotNil(t, markers)
}

func TestRepositoryGet(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM\s+markers\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs(markerID).
		WillReturnRows(sqlmock.NewRows(markerColumnNames).AddRow(markerID, "u-1", 1.0, 2.0, "stairs", 3, "", nil, now, now))
	mock.ExpectQuery(`FROM\s+markers\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs(markerID).
		WillReturnRows(sqlmock.NewRows(markerColumnNames))

	m, err := repo.Get(context.Background(), markerID)
	require.NoError(t, err)
	assert.Equal(t, 3, m.ObstacleScore)
	assert.Equal(t, []string{}, m.Images)

	_, err = repo.Get(context.Background(), markerID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.Get(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound, "malformed ids never reach the database")
}

func TestRepositoryCreate(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := Marker{
		ID: markerID, UserID: "u-1", Location: Location{Latitude: 1, Longitude: 2}, ObstacleType: "stairs",
		ObstacleScore: 1, CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectExec(`(?s)INSERT\s+INTO\s+markers\s*\(id,\s*user_id,.*VALUES\s*\(\$1,.*\$10\)`).
		WithArgs(markerID, "u-1", 1.0, 2.0, "stairs", 1, "", "[]", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT\s+INTO\s+markers`).
		WillReturnError(&pgconn.PgError{Code: "23503", ConstraintName: "markers_user_id_fkey"})

	require.NoError(t, repo.Create(context.Background(), m))
	assert.ErrorIs(t, repo.Create(context.Background(), m), ErrOwnerMissing)
}

func TestRepositoryUpdateAndDelete(t *testing.T) {
	repo, mock := newRepoWithMock(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := Marker{
		ID: markerID, UserID: "u-1", Location: Location{Latitude: 1, Longitude: 2}, ObstacleType: "ramp",
		ObstacleScore: 4, Description: "steep", Images: []string{"https://cdn.example.com/r.jpg"}, UpdatedAt: now,
	}

	mock.ExpectExec(`(?s)UPDATE\s+markers\s+SET\s+latitude\s*=\s*\$2,.*WHERE\s+id\s*=\s*\$1`).
		WithArgs(markerID, 1.0, 2.0, "ramp", 4, "steep", `["https://cdn.example.com/r.jpg"]`, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE\s+markers`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`DELETE\s+FROM\s+markers\s+WHERE\s+id\s*=\s*\$1`).
		WithArgs(markerID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE\s+FROM\s+markers`).
		WithArgs(markerID).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Update(context.Background(), m))
	assert.ErrorIs(t, repo.Update(context.Background(), m), ErrNotFound)
	require.NoError(t, repo.Delete(context.Background(), markerID))
	assert.ErrorIs(t, repo.Delete(context.Background(), markerID), ErrNotFound)
	assert.ErrorIs(t, repo.Delete(context.Background(), "nope"), ErrNotFound)
}
