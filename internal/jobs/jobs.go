// Package jobs holds the concrete job handlers that the scheduler fires and
// the watchdog retries. Per DESIGN.md's scope note, four representative
// jobs are built in full depth — a calculation job (pricesjob), an FX job
// (fxjob), an RSS ingest job (rssjob), and a scrape-and-analyze job
// (insiderjob) — spanning every shape §4.1-§4.3 need to exercise. The
// remaining catalog entries (performance aggregation, dividend processing,
// benchmark refresh, congress trades, social sentiment, research ingest,
// ticker analysis) are pipeline.Stage compositions identical in shape to
// one of these four.
package jobs

import (
	"context"
	"time"

	"github.com/CreamyG31337/portfolio-pipeline/internal/domain"
)

// Names are the canonical job_name values used as JobExecution/RetryQueue
// keys throughout the scheduler and watchdog.
const (
	NameUpdatePortfolioPrices = "update_portfolio_prices"
	NameExchangeRates         = "exchange_rates"
	NameRSSIngest             = "rss_ingest"
	NameInsiderTrades         = "insider_trades"
)

// RetryHandler adapts a job's own Run signature to watchdog.RetryHandler,
// which hands back a RetryQueueEntry instead of a (targetDate, entityID)
// pair. All four representative jobs key on target_date alone, with an
// empty entity_id meaning "all funds" (mirrors entityTypeFor in
// internal/watchdog).
func RetryHandler(run func(ctx context.Context, targetDate time.Time) error) func(ctx context.Context, entry domain.RetryQueueEntry) error {
	return func(ctx context.Context, entry domain.RetryQueueEntry) error {
		return run(ctx, entry.TargetDate)
	}
}
