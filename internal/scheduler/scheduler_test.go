package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CreamyG31337/portfolio-pipeline/internal/domain"
	"github.com/CreamyG31337/portfolio-pipeline/infrastructure/logging"
)

type stubJobStore struct {
	runningByKey map[string]*domain.JobExecution
	nextID       int64
	completed    []int64
	failed       []int64
	heartbeats   int
}

func newStubJobStore() *stubJobStore {
	return &stubJobStore{runningByKey: make(map[string]*domain.JobExecution)}
}

func key(jobName string, targetDate time.Time, entityID string) string {
	return jobName + "|" + targetDate.Format("2006-01-02") + "|" + entityID
}

func (s *stubJobStore) InsertRunning(ctx context.Context, jobName string, targetDate time.Time, entityID string) (int64, error) {
	s.nextID++
	s.runningByKey[key(jobName, targetDate, entityID)] = &domain.JobExecution{ID: s.nextID, JobName: jobName, TargetDate: targetDate, EntityID: entityID, StartedAt: time.Now(), Status: domain.JobStatusRunning}
	return s.nextID, nil
}
func (s *stubJobStore) MarkCompleted(ctx context.Context, id int64, tickersProcessed []string, durationMS int64, message string) error {
	s.completed = append(s.completed, id)
	return nil
}
func (s *stubJobStore) MarkFailed(ctx context.Context, id int64, errorMessage string, durationMS int64) error {
	s.failed = append(s.failed, id)
	return nil
}
func (s *stubJobStore) LogExecution(ctx context.Context, jobName string, success bool, message string, durationMS int64) error {
	return nil
}
func (s *stubJobStore) FindRunning(ctx context.Context, jobName string, targetDate time.Time, entityID string) (*domain.JobExecution, error) {
	return s.runningByKey[key(jobName, targetDate, entityID)], nil
}
func (s *stubJobStore) StaleRunning(ctx context.Context, olderThan time.Time) ([]domain.JobExecution, error) {
	return nil, nil
}
func (s *stubJobStore) RecentFailures(ctx context.Context, since time.Time) ([]domain.JobExecution, error) {
	return nil, nil
}
func (s *stubJobStore) TransitionStaleToFailed(ctx context.Context, id int64, message string) error {
	return nil
}
func (s *stubJobStore) CompletedOn(ctx context.Context, jobName string, targetDate time.Time) (bool, error) {
	return false, nil
}
func (s *stubJobStore) ListExecutions(ctx context.Context, jobName, status string, limit, offset int) ([]domain.JobExecution, error) {
	return nil, nil
}
func (s *stubJobStore) Heartbeat(ctx context.Context, processID string, generation int64) error {
	s.heartbeats++
	return nil
}
func (s *stubJobStore) LastHeartbeat(ctx context.Context) (*domain.SchedulerHeartbeat, error) {
	return nil, nil
}

func testLogger() *logging.Logger { return logging.New("scheduler-test", "error", "text") }

func TestMarkStarted_DuplicateRunRejectsSecondConcurrentStart(t *testing.T) {
	st := newStubJobStore()
	s := New(st, testLogger(), nil, "p1")
	today := time.Now().UTC().Truncate(24 * time.Hour)

	id, err := s.MarkStarted(context.Background(), "pricesjob", today, "")
	require.NoError(t, err)
	assert.NotZero(t, id)

	_, err = s.MarkStarted(context.Background(), "pricesjob", today, "")
	assert.Error(t, err)
}

func TestMarkStarted_AllowsNewRunAfterStaleThreshold(t *testing.T) {
	st := newStubJobStore()
	s := New(st, testLogger(), nil, "p1")
	today := time.Now().UTC().Truncate(24 * time.Hour)

	st.runningByKey[key("pricesjob", today, "")] = &domain.JobExecution{
		ID: 99, StartedAt: time.Now().Add(-2 * time.Hour), Status: domain.JobStatusRunning,
	}

	id, err := s.MarkStarted(context.Background(), "pricesjob", today, "")
	require.NoError(t, err)
	assert.NotEqual(t, int64(99), id)
}

func TestFire_CoalesceSkipsOverlappingTrigger(t *testing.T) {
	st := newStubJobStore()
	s := New(st, testLogger(), nil, "p1")

	var calls int32
	block := make(chan struct{})
	handler := func(ctx context.Context, targetDate time.Time, entityID string) error {
		atomic.AddInt32(&calls, 1)
		<-block
		return nil
	}

	reg := &registration{name: "slowjob", handler: handler, opts: Options{MaxInstances: 1, Coalesce: true}}
	s.runCtx = context.Background()

	go s.fire(reg)
	time.Sleep(20 * time.Millisecond)
	s.fire(reg) // should be skipped, coalesced
	close(block)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestStartupRecoveryCheck_NoHeartbeatIsNotStale(t *testing.T) {
	st := newStubJobStore()
	stale, err := StartupRecoveryCheck(context.Background(), st, 30*time.Second)
	require.NoError(t, err)
	assert.False(t, stale) // no heartbeat recorded yet means nothing to recover
}
