package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresJobStore_InsertRunningAndFindRunning(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresJobStore(db)
	ctx := context.Background()
	targetDate := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`INSERT INTO job_executions`).
		WithArgs("pricesjob", targetDate, nil, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	id, err := store.InsertRunning(ctx, "pricesjob", targetDate, "")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	mock.ExpectQuery(`SELECT id, job_name, target_date, COALESCE\(entity_id, ''\), started_at, completed_at, status, message, duration_ms, tickers_processed`).
		WithArgs("pricesjob", targetDate, "").
		WillReturnRows(sqlmock.NewRows([]string{"id", "job_name", "target_date", "entity_id", "started_at", "completed_at", "status", "message", "duration_ms", "tickers_processed"}).
			AddRow(int64(42), "pricesjob", targetDate, "", time.Now().UTC(), nil, "running", "", int64(0), nil))

	running, err := store.FindRunning(ctx, "pricesjob", targetDate, "")
	require.NoError(t, err)
	require.NotNil(t, running)
	assert.Equal(t, int64(42), running.ID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobStore_MarkCompletedNoRunningRowErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresJobStore(db)
	mock.ExpectExec(`UPDATE job_executions`).
		WithArgs(int64(99), sqlmock.AnyArg(), int64(1200), "ok", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = store.MarkCompleted(context.Background(), 99, []string{"AAPL"}, 1200, "ok")
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobStore_StaleRunning(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresJobStore(db)
	cutoff := time.Now().UTC()
	mock.ExpectQuery(`WHERE status='running' AND started_at < \$1`).
		WithArgs(cutoff).
		WillReturnRows(sqlmock.NewRows([]string{"id", "job_name", "target_date", "entity_id", "started_at", "completed_at", "status", "message", "duration_ms", "tickers_processed"}).
			AddRow(int64(1), "fxjob", cutoff, "", cutoff.Add(-2*time.Hour), nil, "running", "", int64(0), nil))

	stale, err := store.StaleRunning(context.Background(), cutoff)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "fxjob", stale[0].JobName)
	require.NoError(t, mock.ExpectationsWereMet())
}
