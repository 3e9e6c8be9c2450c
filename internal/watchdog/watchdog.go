// Package watchdog implements the four ordered protocols of SPEC_FULL.md
// §4.2: stale-running detection, recent-failure sweep, retry processing,
// and data validation. Grounded on
// original_source/web_dashboard/scheduler/jobs_watchdog.py's
// watchdog_job() and its four phase functions.
package watchdog

import (
	"context"
	"fmt"
	"time"

	"github.com/CreamyG31337/portfolio-pipeline/internal/clock"
	"github.com/CreamyG31337/portfolio-pipeline/internal/domain"
	"github.com/CreamyG31337/portfolio-pipeline/internal/store"
	"github.com/CreamyG31337/portfolio-pipeline/infrastructure/logging"
)

// StaleThreshold matches the scheduler's definition of a stale running row.
const StaleThreshold = time.Hour

// RecentFailureWindow bounds how far back the failure sweep looks.
const RecentFailureWindow = 24 * time.Hour

// AbandonAfter matches §4.3: entries older than 7 days with retry_count <
// max are abandoned, source data may be gone.
const AbandonAfter = 7 * 24 * time.Hour

// RetryBatchLimit bounds how many retry entries one cycle drains.
const RetryBatchLimit = 20

// ValidationLookbackDays is N in "the most recent N trading days" (§4.2).
const ValidationLookbackDays = 7

// calculationJobs are deterministic, idempotent-given-a-target-date jobs
// eligible for automatic retry; scrapers and LLM summaries are not.
var calculationJobs = map[string]bool{
	"update_portfolio_prices": true,
	"performance_metrics":     true,
	"dividend_processing":     true,
	"benchmark_refresh":       true,
	"exchange_rates":          true,
}

func isCalculationJob(jobName string) bool { return calculationJobs[jobName] }

// RetryHandler routes a drained retry entry to the job-specific logic that
// re-runs it. Implementations live in internal/jobs.
type RetryHandler func(ctx context.Context, entry domain.RetryQueueEntry) error

// ValidationCheck verifies that a job that reported "completed" on a given
// date actually produced the downstream rows it should have.
type ValidationCheck struct {
	JobName string
	Verify  func(ctx context.Context, date time.Time) (ok bool, detail string, err error)
}

// Watchdog owns the four protocols and their dependencies.
type Watchdog struct {
	jobs    store.JobStore
	retries store.RetryQueueStore
	market  clock.Market
	clk     clock.Clock
	log     *logging.Logger

	handlers   map[string]RetryHandler
	validators []ValidationCheck
}

func New(jobs store.JobStore, retries store.RetryQueueStore, market clock.Market, clk clock.Clock, log *logging.Logger) *Watchdog {
	return &Watchdog{
		jobs:     jobs,
		retries:  retries,
		market:   market,
		clk:      clk,
		log:      log,
		handlers: make(map[string]RetryHandler),
	}
}

// RegisterHandler wires a job name to its retry logic (§4.3 step 2).
func (w *Watchdog) RegisterHandler(jobName string, handler RetryHandler) {
	w.handlers[jobName] = handler
}

// RegisterValidation adds a data-validation check (§4.2 protocol 4).
func (w *Watchdog) RegisterValidation(check ValidationCheck) {
	w.validators = append(w.validators, check)
}

// Run executes the four protocols in order and returns a summary message
// suitable for a JobExecution row.
func (w *Watchdog) Run(ctx context.Context) (string, error) {
	staleCount, err := w.detectStaleRunning(ctx)
	if err != nil {
		return "", fmt.Errorf("stale-running detection: %w", err)
	}

	failedCount, err := w.sweepRecentFailures(ctx)
	if err != nil {
		return "", fmt.Errorf("recent-failure sweep: %w", err)
	}

	resolvedCount, abandonedCount, err := w.processRetryQueue(ctx)
	if err != nil {
		return "", fmt.Errorf("retry processing: %w", err)
	}

	validationFindings, err := w.validateData(ctx)
	if err != nil {
		return "", fmt.Errorf("data validation: %w", err)
	}

	return fmt.Sprintf(
		"stale=%d recently_failed=%d retries_resolved=%d retries_abandoned=%d validation_findings=%d",
		staleCount, failedCount, resolvedCount, abandonedCount, validationFindings,
	), nil
}

// detectStaleRunning is protocol 1: any running row older than the stale
// threshold is assumed interrupted by a container restart.
func (w *Watchdog) detectStaleRunning(ctx context.Context) (int, error) {
	cutoff := w.clk.Now().Add(-StaleThreshold)
	stale, err := w.jobs.StaleRunning(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	for _, job := range stale {
		ran := w.clk.Now().Sub(job.StartedAt)
		message := fmt.Sprintf("container restarted - job interrupted (ran for %s)", ran.Round(time.Second))
		if err := w.jobs.TransitionStaleToFailed(ctx, job.ID, message); err != nil {
			w.log.WithField("job", job.JobName).Warnf("could not transition stale job to failed: %v", err)
			continue
		}

		if isCalculationJob(job.JobName) {
			w.enqueueRetry(ctx, job.JobName, job.TargetDate, job.EntityID, domain.RetryReasonContainerRestart, "job interrupted by container restart")
		}
	}
	return len(stale), nil
}

// sweepRecentFailures is protocol 2: recent failures of calculation jobs
// get a retry entry unless one is already pending/retrying for the key.
func (w *Watchdog) sweepRecentFailures(ctx context.Context) (int, error) {
	since := w.clk.Now().Add(-RecentFailureWindow)
	failures, err := w.jobs.RecentFailures(ctx, since)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, job := range failures {
		if !isCalculationJob(job.JobName) {
			continue
		}
		entityType := entityTypeFor(job.EntityID)
		exists, err := w.retries.Exists(ctx, job.JobName, job.TargetDate, job.EntityID, entityType)
		if err != nil {
			w.log.WithField("job", job.JobName).Warnf("could not check retry queue: %v", err)
			continue
		}
		if exists {
			continue
		}
		w.enqueueRetry(ctx, job.JobName, job.TargetDate, job.EntityID, domain.RetryReasonJobFailed, truncate(job.Message, 200))
		count++
	}
	return count, nil
}

func entityTypeFor(entityID string) string {
	if entityID == "" {
		return "all_funds"
	}
	return "fund"
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (w *Watchdog) enqueueRetry(ctx context.Context, jobName string, targetDate time.Time, entityID string, reason domain.RetryFailureReason, message string) {
	entry := domain.RetryQueueEntry{
		JobName:       jobName,
		TargetDate:    targetDate,
		EntityID:      entityID,
		EntityType:    entityTypeFor(entityID),
		Status:        domain.RetryStatusPending,
		FailureReason: reason,
		ErrorMessage:  message,
	}
	if err := w.retries.Enqueue(ctx, entry); err != nil {
		w.log.WithField("job", jobName).Errorf("failed to enqueue retry: %v", err)
		return
	}
	w.log.WithField("job", jobName).Infof("enqueued retry: %s", message)
}

// processRetryQueue is protocol 3 (§4.3's state machine): lease up to
// RetryBatchLimit entries, route each to its handler, and resolve/abandon
// based on the outcome.
func (w *Watchdog) processRetryQueue(ctx context.Context) (resolved, abandoned int, err error) {
	cutoff := w.clk.Now().Add(-AbandonAfter)
	if n, err := w.retries.AbandonOlderThan(ctx, cutoff); err == nil {
		abandoned += n
	} else {
		w.log.Warnf("abandon-older-than sweep failed: %v", err)
	}

	entries, err := w.retries.LeasePending(ctx, RetryBatchLimit)
	if err != nil {
		return resolved, abandoned, err
	}

	for _, entry := range entries {
		handler, ok := w.handlers[entry.JobName]
		if !ok {
			w.log.WithField("job", entry.JobName).Warn("no retry handler registered, resetting to pending")
			_ = w.retries.ResetToPending(ctx, entry.ID)
			continue
		}

		if err := handler(ctx, entry); err != nil {
			if entry.RetryCount >= domain.MaxRetries {
				if abErr := w.retries.MarkAbandoned(ctx, entry.ID, err.Error()); abErr == nil {
					abandoned++
				}
			} else {
				_ = w.retries.ResetToPending(ctx, entry.ID)
			}
			w.log.WithField("job", entry.JobName).Warnf("retry attempt failed: %v", err)
			continue
		}

		if err := w.retries.MarkResolved(ctx, entry.ID); err == nil {
			resolved++
		}
	}

	return resolved, abandoned, nil
}

// validateData is protocol 4: for the last N trading days, run every
// registered validation check; a "completed but empty" finding enqueues a
// validation_failed retry. Validation runs last so it observes retries
// already enqueued by the earlier protocols.
func (w *Watchdog) validateData(ctx context.Context) (int, error) {
	days := w.market.LastNTradingDays(w.clk.Now(), ValidationLookbackDays)
	findings := 0

	for _, check := range w.validators {
		for _, day := range days {
			completed, err := w.jobs.CompletedOn(ctx, check.JobName, day)
			if err != nil {
				w.log.WithField("job", check.JobName).Warnf("could not check completion for %s: %v", day.Format("2006-01-02"), err)
				continue
			}
			if !completed {
				continue
			}

			ok, detail, err := check.Verify(ctx, day)
			if err != nil {
				w.log.WithField("job", check.JobName).Warnf("validation check errored for %s: %v", day.Format("2006-01-02"), err)
				continue
			}
			if ok {
				continue
			}

			findings++
			if exists, err := w.retries.Exists(ctx, check.JobName, day, "", entityTypeFor("")); err == nil && exists {
				continue
			}
			w.enqueueRetry(ctx, check.JobName, day, "", domain.RetryReasonValidationFailed, detail)
		}
	}

	return findings, nil
}
