package watchdog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CreamyG31337/portfolio-pipeline/internal/clock"
	"github.com/CreamyG31337/portfolio-pipeline/internal/domain"
	"github.com/CreamyG31337/portfolio-pipeline/infrastructure/logging"
)

type fakeJobStore struct {
	stale            []domain.JobExecution
	failures         []domain.JobExecution
	transitioned     []int64
	completedDates   map[string]bool
}

func (f *fakeJobStore) InsertRunning(ctx context.Context, jobName string, targetDate time.Time, entityID string) (int64, error) {
	return 0, nil
}
func (f *fakeJobStore) MarkCompleted(ctx context.Context, id int64, tickersProcessed []string, durationMS int64, message string) error {
	return nil
}
func (f *fakeJobStore) MarkFailed(ctx context.Context, id int64, errorMessage string, durationMS int64) error {
	return nil
}
func (f *fakeJobStore) LogExecution(ctx context.Context, jobName string, success bool, message string, durationMS int64) error {
	return nil
}
func (f *fakeJobStore) FindRunning(ctx context.Context, jobName string, targetDate time.Time, entityID string) (*domain.JobExecution, error) {
	return nil, nil
}
func (f *fakeJobStore) StaleRunning(ctx context.Context, olderThan time.Time) ([]domain.JobExecution, error) {
	return f.stale, nil
}
func (f *fakeJobStore) RecentFailures(ctx context.Context, since time.Time) ([]domain.JobExecution, error) {
	return f.failures, nil
}
func (f *fakeJobStore) TransitionStaleToFailed(ctx context.Context, id int64, message string) error {
	f.transitioned = append(f.transitioned, id)
	return nil
}
func (f *fakeJobStore) CompletedOn(ctx context.Context, jobName string, targetDate time.Time) (bool, error) {
	return f.completedDates[key(jobName, targetDate)], nil
}
func (f *fakeJobStore) ListExecutions(ctx context.Context, jobName, status string, limit, offset int) ([]domain.JobExecution, error) {
	return nil, nil
}
func (f *fakeJobStore) Heartbeat(ctx context.Context, processID string, generation int64) error {
	return nil
}
func (f *fakeJobStore) LastHeartbeat(ctx context.Context) (*domain.SchedulerHeartbeat, error) {
	return nil, nil
}

func key(jobName string, d time.Time) string { return jobName + "|" + d.Format("2006-01-02") }

type fakeRetryStore struct {
	enqueued  []domain.RetryQueueEntry
	existing  map[string]bool
	pending   []domain.RetryQueueEntry
	resolved  []int64
	abandoned []int64
	reset     []int64
}

func (f *fakeRetryStore) Enqueue(ctx context.Context, e domain.RetryQueueEntry) error {
	f.enqueued = append(f.enqueued, e)
	return nil
}
func (f *fakeRetryStore) Exists(ctx context.Context, jobName string, targetDate time.Time, entityID, entityType string) (bool, error) {
	return f.existing[jobName+entityID], nil
}
func (f *fakeRetryStore) LeasePending(ctx context.Context, limit int) ([]domain.RetryQueueEntry, error) {
	return f.pending, nil
}
func (f *fakeRetryStore) MarkResolved(ctx context.Context, id int64) error {
	f.resolved = append(f.resolved, id)
	return nil
}
func (f *fakeRetryStore) MarkAbandoned(ctx context.Context, id int64, reason string) error {
	f.abandoned = append(f.abandoned, id)
	return nil
}
func (f *fakeRetryStore) ResetToPending(ctx context.Context, id int64) error {
	f.reset = append(f.reset, id)
	return nil
}
func (f *fakeRetryStore) AbandonOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}
func (f *fakeRetryStore) List(ctx context.Context, status string, limit, offset int) ([]domain.RetryQueueEntry, error) {
	return nil, nil
}

func testLogger() *logging.Logger { return logging.New("watchdog-test", "error", "text") }

func TestDetectStaleRunning_TransitionsAndEnqueuesCalculationJobs(t *testing.T) {
	jobs := &fakeJobStore{stale: []domain.JobExecution{
		{ID: 1, JobName: "update_portfolio_prices", StartedAt: time.Now().Add(-2 * time.Hour)},
		{ID: 2, JobName: "rss_ingest", StartedAt: time.Now().Add(-3 * time.Hour)},
	}}
	retries := &fakeRetryStore{existing: map[string]bool{}}
	w := New(jobs, retries, clock.NewMarket("America/New_York", nil), clock.Real{}, testLogger())

	n, err := w.detectStaleRunning(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []int64{1, 2}, jobs.transitioned)
	require.Len(t, retries.enqueued, 1)
	assert.Equal(t, "update_portfolio_prices", retries.enqueued[0].JobName)
	assert.Equal(t, domain.RetryReasonContainerRestart, retries.enqueued[0].FailureReason)
}

func TestSweepRecentFailures_SkipsNonCalculationAndAlreadyQueued(t *testing.T) {
	jobs := &fakeJobStore{failures: []domain.JobExecution{
		{JobName: "update_portfolio_prices", Message: "boom"},
		{JobName: "rss_ingest", Message: "boom"},
		{JobName: "exchange_rates", EntityID: "", Message: "boom"},
	}}
	retries := &fakeRetryStore{existing: map[string]bool{"exchange_rates": true}}
	w := New(jobs, retries, clock.NewMarket("America/New_York", nil), clock.Real{}, testLogger())

	n, err := w.sweepRecentFailures(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, retries.enqueued, 1)
	assert.Equal(t, "update_portfolio_prices", retries.enqueued[0].JobName)
}

func TestProcessRetryQueue_ResolvesOnSuccessAbandonsAtMaxRetries(t *testing.T) {
	jobs := &fakeJobStore{}
	retries := &fakeRetryStore{
		existing: map[string]bool{},
		pending: []domain.RetryQueueEntry{
			{ID: 10, JobName: "ok-job", RetryCount: 0},
			{ID: 11, JobName: "bad-job", RetryCount: domain.MaxRetries},
		},
	}
	w := New(jobs, retries, clock.NewMarket("America/New_York", nil), clock.Real{}, testLogger())
	w.RegisterHandler("ok-job", func(ctx context.Context, e domain.RetryQueueEntry) error { return nil })
	w.RegisterHandler("bad-job", func(ctx context.Context, e domain.RetryQueueEntry) error { return fmt.Errorf("still broken") })

	resolved, abandoned, err := w.processRetryQueue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)
	assert.Equal(t, 1, abandoned)
	assert.ElementsMatch(t, []int64{10}, retries.resolved)
	assert.ElementsMatch(t, []int64{11}, retries.abandoned)
}

func TestValidateData_EnqueuesRetryWhenCompletedButEmpty(t *testing.T) {
	market := clock.NewMarket("America/New_York", nil)
	today := time.Date(2026, 8, 3, 12, 0, 0, 0, time.UTC) // Monday, a trading day
	days := market.LastNTradingDays(today, ValidationLookbackDays)
	require.NotEmpty(t, days)

	completed := make(map[string]bool)
	for _, d := range days {
		completed[key("update_portfolio_prices", d)] = true
	}

	jobs := &fakeJobStore{completedDates: completed}
	retries := &fakeRetryStore{existing: map[string]bool{}}
	w := New(jobs, retries, market, clock.Fixed{At: today}, testLogger())
	w.RegisterValidation(ValidationCheck{
		JobName: "update_portfolio_prices",
		Verify: func(ctx context.Context, date time.Time) (bool, string, error) {
			return false, "no position rows found", nil
		},
	})

	findings, err := w.validateData(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(days), findings)
	assert.Len(t, retries.enqueued, len(days))
	for _, e := range retries.enqueued {
		assert.Equal(t, domain.RetryReasonValidationFailed, e.FailureReason)
	}
}
