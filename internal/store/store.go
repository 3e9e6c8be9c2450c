// Package store implements the Persistence Adapter: a typed repository
// interface per entity (SPEC_FULL.md §9), backed by plain database/sql +
// lib/pq against Postgres, following the upsert-on-conflict idiom of the
// teacher's packages/com.r3e.services.mixer/service/store_postgres.go.
package store

import (
	"context"
	"time"

	"github.com/CreamyG31337/portfolio-pipeline/internal/domain"
)

// JobStore owns the Job Execution log and the Scheduler heartbeat.
// The Scheduler is the sole writer; the Watchdog additionally transitions
// running rows to failed.
type JobStore interface {
	InsertRunning(ctx context.Context, jobName string, targetDate time.Time, entityID string) (int64, error)
	MarkCompleted(ctx context.Context, id int64, tickersProcessed []string, durationMS int64, message string) error
	MarkFailed(ctx context.Context, id int64, errorMessage string, durationMS int64) error
	LogExecution(ctx context.Context, jobName string, success bool, message string, durationMS int64) error

	FindRunning(ctx context.Context, jobName string, targetDate time.Time, entityID string) (*domain.JobExecution, error)
	StaleRunning(ctx context.Context, olderThan time.Time) ([]domain.JobExecution, error)
	RecentFailures(ctx context.Context, since time.Time) ([]domain.JobExecution, error)
	TransitionStaleToFailed(ctx context.Context, id int64, message string) error
	CompletedOn(ctx context.Context, jobName string, targetDate time.Time) (bool, error)
	ListExecutions(ctx context.Context, jobName, status string, limit, offset int) ([]domain.JobExecution, error)

	Heartbeat(ctx context.Context, processID string, generation int64) error
	LastHeartbeat(ctx context.Context) (*domain.SchedulerHeartbeat, error)
}

// RetryQueueStore owns the retry queue's CAS lease and bounded-retry
// bookkeeping (SPEC_FULL.md §4.3).
type RetryQueueStore interface {
	Enqueue(ctx context.Context, e domain.RetryQueueEntry) error
	Exists(ctx context.Context, jobName string, targetDate time.Time, entityID, entityType string) (bool, error)
	LeasePending(ctx context.Context, limit int) ([]domain.RetryQueueEntry, error)
	MarkResolved(ctx context.Context, id int64) error
	MarkAbandoned(ctx context.Context, id int64, reason string) error
	ResetToPending(ctx context.Context, id int64) error
	AbandonOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	List(ctx context.Context, status string, limit, offset int) ([]domain.RetryQueueEntry, error)
}

// OperationalStore is the source-of-truth financial data store: trades,
// positions, exchange rates, dividends, benchmark bars.
type OperationalStore interface {
	UpsertExchangeRates(ctx context.Context, rates []domain.ExchangeRate) (inserted int, err error)
	UpsertPortfolioPositions(ctx context.Context, positions []domain.PortfolioPosition) (inserted int, err error)
	PositionCountFor(ctx context.Context, date time.Time, productionFundsOnly bool) (int, error)
	UpsertBenchmarkBars(ctx context.Context, bars []domain.BenchmarkBar) (inserted int, err error)
	UpsertDividends(ctx context.Context, divs []domain.Dividend) (inserted int, err error)
	UpsertInsiderTrades(ctx context.Context, trades []domain.InsiderTrade) (inserted, duplicates int, err error)
	UpsertCongressTrades(ctx context.Context, trades []domain.CongressTrade) (inserted, duplicates int, err error)
	MostRecentCongressTradeDate(ctx context.Context) (time.Time, error)
	ProductionFunds(ctx context.Context) ([]string, error)
}

// ResearchStore holds unstructured/semi-structured research data: news
// articles, social posts, derived sentiment metrics, and the watchlist.
type ResearchStore interface {
	UpsertArticle(ctx context.Context, a domain.Article) (isNew bool, err error)
	GetArticle(ctx context.Context, url string) (*domain.Article, error)
	UpdateArticleAnalysis(ctx context.Context, url string, a domain.Article) error

	InsertSocialPost(ctx context.Context, p domain.SocialPost) (isNew bool, err error)
	InsertSocialMetric(ctx context.Context, m domain.SocialMetric) error
	LatestMetricsPerTicker(ctx context.Context) ([]domain.SocialMetric, error)

	UpsertWatchedTickers(ctx context.Context, tickers []domain.WatchedTicker) error
	ActiveWatchedTickers(ctx context.Context) ([]domain.WatchedTicker, error)
}
