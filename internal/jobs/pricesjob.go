package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/CreamyG31337/portfolio-pipeline/internal/cache"
	"github.com/CreamyG31337/portfolio-pipeline/internal/clock"
	"github.com/CreamyG31337/portfolio-pipeline/internal/domain"
	"github.com/CreamyG31337/portfolio-pipeline/internal/store"
	"github.com/CreamyG31337/portfolio-pipeline/infrastructure/logging"
)

// Holding is one fund's current share count in a ticker, as synced from
// the brokerage import this pipeline does not own. update_portfolio_prices
// refreshes valuations against that snapshot, it does not discover shares.
type Holding struct {
	Fund     string
	Ticker   string
	Currency string
	Shares   float64
}

// HoldingsProvider supplies the current share snapshot across all
// production funds.
type HoldingsProvider interface {
	CurrentHoldings(ctx context.Context) ([]Holding, error)
}

// PriceProvider looks up a ticker's closing price as of a given date.
type PriceProvider interface {
	ClosingPrice(ctx context.Context, ticker string, date time.Time) (float64, error)
}

// USDCADRateSource resolves the USD/CAD rate used to convert USD-priced
// holdings to their CAD market value, matching the FX default-currency
// decision in DESIGN.md's Open Question #2.
type USDCADRateSource interface {
	RateOn(ctx context.Context, date time.Time) (float64, error)
}

// PricesJob is the calculation job that revalues every fund's holdings for
// a target date. Prices and the FX rate are looked up as of target_date, but
// share counts come from HoldingsProvider.CurrentHoldings, which takes no
// date: a rerun for a past date values the holdings as they are at rerun
// time. UpsertPortfolioPositions is a natural-key upsert, so a rerun
// overwrites that date's rows rather than duplicating them.
type PricesJob struct {
	Holdings HoldingsProvider
	Prices   PriceProvider
	FX       USDCADRateSource
	Store    store.OperationalStore
	Log      *logging.Logger

	// Cache, when set, fronts PriceProvider.ClosingPrice with the
	// market-hours-aware TTL policy of internal/cache (§4.9): several
	// production funds commonly hold the same ticker, so within one run
	// the second and later fund to price e.g. a shared index holding reuses
	// the first fund's lookup instead of re-hitting the price API.
	Cache *cache.Cached[float64]
}

// Run fetches the current holdings snapshot, prices each ticker as of
// targetDate, converts USD valuations to CAD, and upserts the resulting
// position rows. entityID is unused: this job always processes every
// production fund in one pass.
func (j *PricesJob) Run(ctx context.Context, targetDate time.Time, entityID string) error {
	holdings, err := j.Holdings.CurrentHoldings(ctx)
	if err != nil {
		return fmt.Errorf("load holdings: %w", err)
	}

	rate, err := j.FX.RateOn(ctx, targetDate)
	if err != nil {
		j.Log.Warnf("USD/CAD rate unavailable for %s, USD positions will not be converted: %v", targetDate.Format("2006-01-02"), err)
		rate = 0
	}

	positions := make([]domain.PortfolioPosition, 0, len(holdings))
	priced, errored := 0, 0

	for _, h := range holdings {
		price, err := j.closingPrice(ctx, h.Ticker, targetDate)
		if err != nil {
			j.Log.WithField("ticker", h.Ticker).Warnf("could not price holding: %v", err)
			errored++
			continue
		}

		currency := normalizeCurrency(h.Currency)
		marketValue := h.Shares * price
		if currency == "USD" && rate > 0 {
			marketValue *= rate
		}

		positions = append(positions, domain.PortfolioPosition{
			Fund:           h.Fund,
			Ticker:         h.Ticker,
			Date:           targetDate,
			Shares:         h.Shares,
			Price:          price,
			Currency:       currency,
			MarketValueCAD: marketValue,
		})
		priced++
	}

	inserted, err := j.Store.UpsertPortfolioPositions(ctx, positions)
	if err != nil {
		return fmt.Errorf("upsert positions: %w", err)
	}

	j.Log.Infof("update_portfolio_prices: priced %d holdings (%d upserted, %d errors)", priced, inserted, errored)
	return nil
}

// Validate implements a watchdog.ValidationCheck.Verify: a date marked
// completed must have at least one position row across the production
// funds. PositionCountFor returns one total over all production funds, so a
// production fund with no rows on that date goes undetected while another
// fund has rows.
func (j *PricesJob) Validate(ctx context.Context, date time.Time) (bool, string, error) {
	count, err := j.Store.PositionCountFor(ctx, date, true)
	if err != nil {
		return false, "", err
	}
	if count == 0 {
		return false, "no position rows found for any production fund", nil
	}
	return true, "", nil
}

// closingPrice resolves one ticker's close through j.Cache when configured,
// falling back to calling the provider directly otherwise.
func (j *PricesJob) closingPrice(ctx context.Context, ticker string, date time.Time) (float64, error) {
	if j.Cache == nil {
		return j.Prices.ClosingPrice(ctx, ticker, date)
	}
	key := ticker + ":" + date.Format("2006-01-02")
	return j.Cache.Get(ctx, key, func(ctx context.Context) (float64, error) {
		return j.Prices.ClosingPrice(ctx, ticker, date)
	})
}

// NewPriceCache builds the market-hours-aware Cached[float64] used to front
// PriceProvider.ClosingPrice, namespaced so it never collides with other
// Cached[T] instances sharing the process-wide cache (see
// internal/cache.BumpCacheVersion).
func NewPriceCache(market clock.Market, clk clock.Clock) *cache.Cached[float64] {
	return cache.New[float64](market, clk, "closing_price")
}

// normalizeCurrency applies the FX default-currency decision: an
// unparseable or empty currency is treated as CAD rather than rejected.
func normalizeCurrency(raw string) string {
	c := strings.ToUpper(strings.TrimSpace(raw))
	switch c {
	case "", "NAN", "NONE", "NULL":
		return "CAD"
	default:
		return c
	}
}
