package jobs

import (
	"context"
	"time"

	"github.com/CreamyG31337/portfolio-pipeline/internal/scheduler"
	"github.com/CreamyG31337/portfolio-pipeline/internal/watchdog"
)

// Schedules are 6-field robfig/cron/v3 expressions (seconds included),
// chosen to run each job after the data it depends on should already be
// available: prices after market close, FX shortly after, RSS on a tight
// poll, insider trades once daily.
const (
	SchedulePrices  = "0 30 21 * * 1-5"
	ScheduleFX      = "0 0 22 * * 1-5"
	ScheduleRSS     = "0 */30 * * * *"
	ScheduleInsider = "0 0 11 * * *"
)

// RegisterAll wires the four representative jobs into the scheduler (§4.1
// register()) and, for the calculation jobs among them, into the
// watchdog's retry and validation tables (§4.2, §4.3). rss and insider are
// non-deterministic scrapers and are only registered with the scheduler.
func RegisterAll(sched *scheduler.Scheduler, wd *watchdog.Watchdog, prices *PricesJob, fx *FXJob, rss *RSSJob, insider *InsiderJob) error {
	if prices != nil {
		if err := sched.Register(NameUpdatePortfolioPrices, SchedulePrices, prices.Run, scheduler.Options{}); err != nil {
			return err
		}
		wd.RegisterHandler(NameUpdatePortfolioPrices, RetryHandler(func(ctx context.Context, targetDate time.Time) error {
			return prices.Run(ctx, targetDate, "")
		}))
		wd.RegisterValidation(watchdog.ValidationCheck{JobName: NameUpdatePortfolioPrices, Verify: prices.Validate})
	}

	if fx != nil {
		if err := sched.Register(NameExchangeRates, ScheduleFX, fx.Run, scheduler.Options{}); err != nil {
			return err
		}
		wd.RegisterHandler(NameExchangeRates, RetryHandler(func(ctx context.Context, targetDate time.Time) error {
			return fx.Run(ctx, targetDate, "")
		}))
	}

	if rss != nil {
		if err := sched.Register(NameRSSIngest, ScheduleRSS, rss.Run, scheduler.Options{Coalesce: true}); err != nil {
			return err
		}
	}

	if insider != nil {
		if err := sched.Register(NameInsiderTrades, ScheduleInsider, insider.Run, scheduler.Options{Coalesce: true}); err != nil {
			return err
		}
	}

	return nil
}
