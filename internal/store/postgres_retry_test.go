package store

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CreamyG31337/portfolio-pipeline/internal/domain"
)

func TestPostgresRetryQueueStore_LeasePendingReturnsLeasedEntries(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresRetryQueueStore(db)
	createdAt := time.Now().UTC()

	mock.ExpectQuery(`UPDATE job_retry_queue`).
		WithArgs(sqlmock.AnyArg(), domain.MaxRetries, 5).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "job_name", "target_date", "entity_id", "entity_type", "status",
			"retry_count", "failure_reason", "error_message", "created_at", "last_attempt_at",
		}).AddRow(int64(1), "insiderjob", createdAt, "AAPL", "ticker", "retrying",
			1, "job_failed", "timeout", createdAt, nil))

	entries, err := store.LeasePending(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.RetryStatusRetrying, entries[0].Status)
	assert.Equal(t, 1, entries[0].RetryCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRetryQueueStore_EnqueueDeduplicatesOnNaturalKey(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresRetryQueueStore(db)
	targetDate := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	entry := domain.RetryQueueEntry{
		JobName:       "insiderjob",
		TargetDate:    targetDate,
		EntityID:      "AAPL",
		EntityType:    "ticker",
		FailureReason: domain.RetryReasonJobFailed,
		ErrorMessage:  "rate limited",
	}

	mock.ExpectExec(`INSERT INTO job_retry_queue`).
		WithArgs("insiderjob", targetDate, "AAPL", "ticker", domain.RetryReasonJobFailed, "rate limited", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = store.Enqueue(context.Background(), entry)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRetryQueueStore_AbandonOlderThan(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewPostgresRetryQueueStore(db)
	cutoff := time.Now().UTC().AddDate(0, 0, -7)

	mock.ExpectExec(`UPDATE job_retry_queue`).
		WithArgs(cutoff, domain.MaxRetries).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.AbandonOlderThan(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
