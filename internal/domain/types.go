// Package domain holds the entity types shared across the persistence
// adapter, the scheduler, the watchdog, and the job library. Types are
// plain structs; the repository interfaces that operate on them live in
// internal/store.
package domain

import "time"

// JobStatus is the terminal-or-running state of a JobExecution.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobExecution is a single run of a scheduled job. Rows are append-only:
// created on start, mutated exactly once on terminal transition, and never
// touched again (invariant J1).
type JobExecution struct {
	ID               int64      `json:"id"`
	JobName          string     `json:"job_name"`
	TargetDate       time.Time  `json:"target_date"`
	EntityID         string     `json:"entity_id,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	Status           JobStatus  `json:"status"`
	Message          string     `json:"message,omitempty"`
	DurationMS       int64      `json:"duration_ms"`
	TickersProcessed []string   `json:"tickers_processed,omitempty"`
}

// RetryFailureReason classifies why a RetryQueueEntry was created.
type RetryFailureReason string

const (
	RetryReasonContainerRestart RetryFailureReason = "container_restart"
	RetryReasonJobFailed        RetryFailureReason = "job_failed"
	RetryReasonValidationFailed RetryFailureReason = "validation_failed"
)

// RetryStatus is the retry-queue state machine's current state.
type RetryStatus string

const (
	RetryStatusPending   RetryStatus = "pending"
	RetryStatusRetrying  RetryStatus = "retrying"
	RetryStatusResolved  RetryStatus = "resolved"
	RetryStatusAbandoned RetryStatus = "abandoned"
)

// MaxRetries bounds RetryQueueEntry.RetryCount (invariant J2).
const MaxRetries = 3

// RetryQueueEntry is a unit of bounded-retry work discovered by the
// watchdog. Its natural key is (JobName, TargetDate, EntityID, EntityType).
type RetryQueueEntry struct {
	ID            int64               `json:"id"`
	JobName       string              `json:"job_name"`
	TargetDate    time.Time           `json:"target_date"`
	EntityID      string              `json:"entity_id,omitempty"`
	EntityType    string              `json:"entity_type,omitempty"`
	Status        RetryStatus         `json:"status"`
	RetryCount    int                 `json:"retry_count"`
	FailureReason RetryFailureReason  `json:"failure_reason,omitempty"`
	ErrorMessage  string              `json:"error_message,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	LastAttemptAt *time.Time          `json:"last_attempt_at,omitempty"`
}

// SchedulerHeartbeat records scheduler liveness, used to detect a restart
// between ticks.
type SchedulerHeartbeat struct {
	ProcessID       string
	LastHeartbeatAt time.Time
	Generation      int64
}

// Sentiment is a coarse bullish/bearish label attached to analyzed content.
type Sentiment string

const (
	SentimentVeryBullish Sentiment = "VERY_BULLISH"
	SentimentBullish     Sentiment = "BULLISH"
	SentimentNeutral     Sentiment = "NEUTRAL"
	SentimentBearish     Sentiment = "BEARISH"
	SentimentVeryBearish Sentiment = "VERY_BEARISH"
)

// Article is a research-store row upserted on URL (invariant A1: fetched_at
// is preserved across re-analysis).
type Article struct {
	URL             string
	Title           string
	Source          string
	PublishedAt     time.Time
	FetchedAt       time.Time
	Content         string
	Summary         *string
	Tickers         []string
	Sector          string
	Sentiment       Sentiment
	SentimentScore  float64
	Claims          []string
	FactCheck       string
	Conclusion      string
	RelevanceScore  float64
	Embedding       []float32
}

// SocialPost is an insert-only research-store row.
type SocialPost struct {
	Platform        string
	PostID          string
	Content         string
	Author          string
	PostedAt        time.Time
	EngagementScore float64
	Tickers         []string
	MetricID        *int64
}

// SocialSentimentLabel classifies a SocialMetric's aggregate mood.
type SocialSentimentLabel string

const (
	SocialSentimentEuphoric SocialSentimentLabel = "EUPHORIC"
	SocialSentimentBullish  SocialSentimentLabel = "BULLISH"
	SocialSentimentNeutral  SocialSentimentLabel = "NEUTRAL"
	SocialSentimentBearish  SocialSentimentLabel = "BEARISH"
	SocialSentimentFearful  SocialSentimentLabel = "FEARFUL"
)

// SocialMetric is an append-only time series point; "latest per
// (ticker,platform)" is a derived view over this table.
type SocialMetric struct {
	ID              int64
	Ticker          string
	Platform        string
	Volume          int64
	SentimentLabel  SocialSentimentLabel
	SentimentScore  float64
	BullBearRatio   float64
	CreatedAt       time.Time
}

// ExchangeRate is a source-of-truth FX row, upserted on its natural key.
type ExchangeRate struct {
	FromCurrency string
	ToCurrency   string
	Timestamp    time.Time
	Rate         float64
}

// PortfolioPosition is a source-of-truth holdings row, upserted on its
// natural key (fund, ticker, date).
type PortfolioPosition struct {
	Fund     string
	Ticker   string
	Date     time.Time
	Shares   float64
	Price    float64
	Currency string
	MarketValueCAD float64
}

// Dividend is a source-of-truth dividend-payment row.
type Dividend struct {
	Fund       string
	Ticker     string
	PayDate    time.Time
	AmountPerShare float64
	Currency   string
}

// BenchmarkBar is a single OHLC bar for a benchmark index.
type BenchmarkBar struct {
	Symbol string
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
}

// InsiderTrade is upserted on (Ticker, InsiderName, TransactionDate, Type,
// Shares, PricePerShare).
type InsiderTrade struct {
	Ticker          string
	InsiderName     string
	Title           string
	TransactionDate time.Time
	Type            string
	Shares          float64
	PricePerShare   float64
	Value           float64
	FilingDate      time.Time
}

// CongressTrade is upserted on (Politician, Ticker, TransactionDate,
// Amount).
type CongressTrade struct {
	Politician      string
	Chamber         string
	Party           string
	Ticker          string
	TransactionDate time.Time
	TransactionType string
	Amount          string
	FilingDate      time.Time
	BatchID         string
}

// CookieBundle is the shared artifact the Cookie Refresher owns
// exclusively; readers treat it as read-only (invariant C1: atomic
// replace).
type CookieBundle struct {
	Secure1PSID   string `json:"__Secure-1PSID"`
	Secure1PSIDTS string `json:"__Secure-1PSIDTS,omitempty"`
	RefreshedAt   string `json:"_refreshed_at,omitempty"`
	RefreshCount  int    `json:"_refresh_count,omitempty"`
}

// PriorityTier is a watchlist classification driven by source count.
type PriorityTier string

const (
	PriorityTierA PriorityTier = "A"
	PriorityTierB PriorityTier = "B"
	PriorityTierC PriorityTier = "C"
)

// WatchedTicker is derived daily from holdings + congress + news +
// extreme-sentiment alerts.
type WatchedTicker struct {
	Ticker      string
	PriorityTier PriorityTier
	IsActive    bool
	Source      string
	SourceCount int
}
