package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	schederrors "github.com/CreamyG31337/portfolio-pipeline/infrastructure/errors"
	"github.com/CreamyG31337/portfolio-pipeline/internal/domain"
)

// uniqueViolationCode is Postgres' SQLSTATE for a unique constraint
// violation, raised here by the partial unique index guarding
// job_executions against two concurrent 'running' rows for the same key.
const uniqueViolationCode = "23505"

// PostgresJobStore implements JobStore against the job_executions and
// scheduler_heartbeats tables described in SPEC_FULL.md §6.
type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(db *sql.DB) *PostgresJobStore {
	return &PostgresJobStore{db: db}
}

// InsertRunning inserts a new running JobExecution row. Callers normally
// call FindRunning first to honor the at-most-one-concurrency invariant,
// but that check-then-insert is only an optimization: the authoritative
// guard is the partial unique index on
// job_executions(job_name, target_date, entity_id) WHERE status='running'
// (see migrations/0001_init_schema.up.sql), so two processes racing past
// FindRunning still can't both end up with a live 'running' row. A
// violation of that index is reported back as SchedDuplicateRun.
func (s *PostgresJobStore) InsertRunning(ctx context.Context, jobName string, targetDate time.Time, entityID string) (int64, error) {
	const q = `
		INSERT INTO job_executions (job_name, target_date, entity_id, started_at, status)
		VALUES ($1, $2, $3, $4, 'running')
		RETURNING id`
	var id int64
	err := s.db.QueryRowContext(ctx, q, jobName, targetDate, nullableString(entityID), time.Now().UTC()).Scan(&id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolationCode {
			return 0, schederrors.SchedDuplicateRun(jobName, targetDate.Format("2006-01-02"), entityID)
		}
		return 0, err
	}
	return id, nil
}

func (s *PostgresJobStore) MarkCompleted(ctx context.Context, id int64, tickersProcessed []string, durationMS int64, message string) error {
	const q = `
		UPDATE job_executions
		SET status='completed', completed_at=$2, duration_ms=$3, message=$4, tickers_processed=$5
		WHERE id=$1 AND status='running'`
	res, err := s.db.ExecContext(ctx, q, id, time.Now().UTC(), durationMS, message, pq.Array(tickersProcessed))
	if err != nil {
		return err
	}
	return rowsAffectedOrErr(res, "job execution not found or already terminal")
}

func (s *PostgresJobStore) MarkFailed(ctx context.Context, id int64, errorMessage string, durationMS int64) error {
	const q = `
		UPDATE job_executions
		SET status='failed', completed_at=$2, duration_ms=$3, message=$4
		WHERE id=$1 AND status='running'`
	res, err := s.db.ExecContext(ctx, q, id, time.Now().UTC(), durationMS, errorMessage)
	if err != nil {
		return err
	}
	return rowsAffectedOrErr(res, "job execution not found or already terminal")
}

// LogExecution appends a structured record independent of the tracking
// row, for jobs without a natural target_date (SPEC_FULL.md §4.1).
func (s *PostgresJobStore) LogExecution(ctx context.Context, jobName string, success bool, message string, durationMS int64) error {
	status := domain.JobStatusCompleted
	if !success {
		status = domain.JobStatusFailed
	}
	now := time.Now().UTC()
	const q = `
		INSERT INTO job_executions (job_name, target_date, started_at, completed_at, status, duration_ms, message)
		VALUES ($1, $2, $2, $2, $3, $4, $5)`
	_, err := s.db.ExecContext(ctx, q, jobName, now, status, durationMS, message)
	return err
}

func (s *PostgresJobStore) FindRunning(ctx context.Context, jobName string, targetDate time.Time, entityID string) (*domain.JobExecution, error) {
	const q = `
		SELECT id, job_name, target_date, COALESCE(entity_id, ''), started_at, completed_at, status, message, duration_ms, tickers_processed
		FROM job_executions
		WHERE job_name=$1 AND target_date=$2 AND COALESCE(entity_id,'')=$3 AND status='running'
		LIMIT 1`
	row := s.db.QueryRowContext(ctx, q, jobName, targetDate, entityID)
	je, err := scanJobExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return je, nil
}

func (s *PostgresJobStore) StaleRunning(ctx context.Context, olderThan time.Time) ([]domain.JobExecution, error) {
	const q = `
		SELECT id, job_name, target_date, COALESCE(entity_id, ''), started_at, completed_at, status, message, duration_ms, tickers_processed
		FROM job_executions
		WHERE status='running' AND started_at < $1
		ORDER BY started_at ASC`
	rows, err := s.db.QueryContext(ctx, q, olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobExecutions(rows)
}

func (s *PostgresJobStore) RecentFailures(ctx context.Context, since time.Time) ([]domain.JobExecution, error) {
	const q = `
		SELECT id, job_name, target_date, COALESCE(entity_id, ''), started_at, completed_at, status, message, duration_ms, tickers_processed
		FROM job_executions
		WHERE status='failed' AND completed_at > $1
		ORDER BY completed_at ASC`
	rows, err := s.db.QueryContext(ctx, q, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobExecutions(rows)
}

func (s *PostgresJobStore) TransitionStaleToFailed(ctx context.Context, id int64, message string) error {
	const q = `
		UPDATE job_executions
		SET status='failed', completed_at=$2, message=$3
		WHERE id=$1 AND status='running'`
	res, err := s.db.ExecContext(ctx, q, id, time.Now().UTC(), message)
	if err != nil {
		return err
	}
	return rowsAffectedOrErr(res, "job execution already transitioned")
}

func (s *PostgresJobStore) CompletedOn(ctx context.Context, jobName string, targetDate time.Time) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM job_executions WHERE job_name=$1 AND target_date=$2 AND status='completed')`
	var exists bool
	err := s.db.QueryRowContext(ctx, q, jobName, targetDate).Scan(&exists)
	return exists, err
}

func (s *PostgresJobStore) ListExecutions(ctx context.Context, jobName, status string, limit, offset int) ([]domain.JobExecution, error) {
	const q = `
		SELECT id, job_name, target_date, COALESCE(entity_id, ''), started_at, completed_at, status, message, duration_ms, tickers_processed
		FROM job_executions
		WHERE ($1 = '' OR job_name = $1) AND ($2 = '' OR status = $2)
		ORDER BY started_at DESC
		LIMIT $3 OFFSET $4`
	rows, err := s.db.QueryContext(ctx, q, jobName, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobExecutions(rows)
}

func (s *PostgresJobStore) Heartbeat(ctx context.Context, processID string, generation int64) error {
	const q = `
		INSERT INTO scheduler_heartbeats (process_id, last_heartbeat_at, generation)
		VALUES ($1, $2, $3)
		ON CONFLICT (process_id) DO UPDATE SET last_heartbeat_at = EXCLUDED.last_heartbeat_at, generation = EXCLUDED.generation`
	_, err := s.db.ExecContext(ctx, q, processID, time.Now().UTC(), generation)
	return err
}

func (s *PostgresJobStore) LastHeartbeat(ctx context.Context) (*domain.SchedulerHeartbeat, error) {
	const q = `SELECT process_id, last_heartbeat_at, generation FROM scheduler_heartbeats ORDER BY last_heartbeat_at DESC LIMIT 1`
	var hb domain.SchedulerHeartbeat
	err := s.db.QueryRowContext(ctx, q).Scan(&hb.ProcessID, &hb.LastHeartbeatAt, &hb.Generation)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &hb, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJobExecution(row rowScanner) (*domain.JobExecution, error) {
	var je domain.JobExecution
	var completedAt sql.NullTime
	var tickers pq.StringArray
	if err := row.Scan(&je.ID, &je.JobName, &je.TargetDate, &je.EntityID, &je.StartedAt, &completedAt, &je.Status, &je.Message, &je.DurationMS, &tickers); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		je.CompletedAt = &t
	}
	je.TickersProcessed = []string(tickers)
	return &je, nil
}

func scanJobExecutions(rows *sql.Rows) ([]domain.JobExecution, error) {
	var out []domain.JobExecution
	for rows.Next() {
		je, err := scanJobExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *je)
	}
	return out, rows.Err()
}

func rowsAffectedOrErr(res sql.Result, notFoundMsg string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New(notFoundMsg)
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
