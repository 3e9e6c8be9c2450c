package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/CreamyG31337/portfolio-pipeline/internal/domain"
)

// PostgresRetryQueueStore implements RetryQueueStore against the
// job_retry_queue table, grounded on the CAS-lease protocol in
// original_source/web_dashboard/scheduler/jobs_watchdog.py.
type PostgresRetryQueueStore struct {
	db *sql.DB
}

func NewPostgresRetryQueueStore(db *sql.DB) *PostgresRetryQueueStore {
	return &PostgresRetryQueueStore{db: db}
}

func (s *PostgresRetryQueueStore) Enqueue(ctx context.Context, e domain.RetryQueueEntry) error {
	const q = `
		INSERT INTO job_retry_queue (job_name, target_date, entity_id, entity_type, status, retry_count, failure_reason, error_message, created_at)
		VALUES ($1, $2, $3, $4, 'pending', 0, $5, $6, $7)
		ON CONFLICT (job_name, target_date, entity_id, entity_type) DO NOTHING`
	_, err := s.db.ExecContext(ctx, q, e.JobName, e.TargetDate, e.EntityID, e.EntityType, e.FailureReason, e.ErrorMessage, time.Now().UTC())
	return err
}

func (s *PostgresRetryQueueStore) Exists(ctx context.Context, jobName string, targetDate time.Time, entityID, entityType string) (bool, error) {
	const q = `
		SELECT EXISTS(
			SELECT 1 FROM job_retry_queue
			WHERE job_name=$1 AND target_date=$2 AND entity_id=$3 AND entity_type=$4
			  AND status IN ('pending', 'retrying')
		)`
	var exists bool
	err := s.db.QueryRowContext(ctx, q, jobName, targetDate, entityID, entityType).Scan(&exists)
	return exists, err
}

// LeasePending acquires a CAS lease on up to limit pending entries,
// transitioning them to retrying and incrementing retry_count in the same
// statement so only one worker can win each row (SPEC_FULL.md §4.3 step 1).
func (s *PostgresRetryQueueStore) LeasePending(ctx context.Context, limit int) ([]domain.RetryQueueEntry, error) {
	const q = `
		UPDATE job_retry_queue
		SET status='retrying', retry_count = retry_count + 1, last_attempt_at=$1
		WHERE id IN (
			SELECT id FROM job_retry_queue
			WHERE status='pending' AND retry_count < $2
			ORDER BY created_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, job_name, target_date, entity_id, entity_type, status, retry_count, failure_reason, error_message, created_at, last_attempt_at`
	rows, err := s.db.QueryContext(ctx, q, time.Now().UTC(), domain.MaxRetries, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RetryQueueEntry
	for rows.Next() {
		var e domain.RetryQueueEntry
		var lastAttempt sql.NullTime
		if err := rows.Scan(&e.ID, &e.JobName, &e.TargetDate, &e.EntityID, &e.EntityType, &e.Status, &e.RetryCount, &e.FailureReason, &e.ErrorMessage, &e.CreatedAt, &lastAttempt); err != nil {
			return nil, err
		}
		if lastAttempt.Valid {
			t := lastAttempt.Time
			e.LastAttemptAt = &t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresRetryQueueStore) MarkResolved(ctx context.Context, id int64) error {
	const q = `UPDATE job_retry_queue SET status='resolved' WHERE id=$1`
	_, err := s.db.ExecContext(ctx, q, id)
	return err
}

func (s *PostgresRetryQueueStore) MarkAbandoned(ctx context.Context, id int64, reason string) error {
	const q = `UPDATE job_retry_queue SET status='abandoned', error_message=$2 WHERE id=$1`
	_, err := s.db.ExecContext(ctx, q, id, reason)
	return err
}

func (s *PostgresRetryQueueStore) ResetToPending(ctx context.Context, id int64) error {
	const q = `UPDATE job_retry_queue SET status='pending' WHERE id=$1`
	_, err := s.db.ExecContext(ctx, q, id)
	return err
}

// AbandonOlderThan abandons entries created before cutoff that have not yet
// exhausted max_retries, per SPEC_FULL.md §4.3: "entries older than 7 days
// with retry_count<max are abandoned (source data may be gone)".
func (s *PostgresRetryQueueStore) AbandonOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	const q = `
		UPDATE job_retry_queue
		SET status='abandoned', error_message='expired: source data likely unavailable'
		WHERE status IN ('pending','retrying') AND created_at < $1 AND retry_count < $2`
	res, err := s.db.ExecContext(ctx, q, cutoff, domain.MaxRetries)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *PostgresRetryQueueStore) List(ctx context.Context, status string, limit, offset int) ([]domain.RetryQueueEntry, error) {
	const q = `
		SELECT id, job_name, target_date, entity_id, entity_type, status, retry_count, failure_reason, error_message, created_at, last_attempt_at
		FROM job_retry_queue
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := s.db.QueryContext(ctx, q, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RetryQueueEntry
	for rows.Next() {
		var e domain.RetryQueueEntry
		var lastAttempt sql.NullTime
		if err := rows.Scan(&e.ID, &e.JobName, &e.TargetDate, &e.EntityID, &e.EntityType, &e.Status, &e.RetryCount, &e.FailureReason, &e.ErrorMessage, &e.CreatedAt, &lastAttempt); err != nil {
			return nil, err
		}
		if lastAttempt.Valid {
			t := lastAttempt.Time
			e.LastAttemptAt = &t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
