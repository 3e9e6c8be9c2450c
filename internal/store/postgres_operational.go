package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/CreamyG31337/portfolio-pipeline/internal/cache"
	"github.com/CreamyG31337/portfolio-pipeline/internal/domain"
)

// PostgresOperationalStore implements OperationalStore: trades, positions,
// exchange rates, dividends, benchmark bars. Every write is an upsert on a
// natural key, following store_postgres.go's ON CONFLICT idiom so re-runs
// of a calculation job are no-ops (invariant P1 / testable property 1).
type PostgresOperationalStore struct {
	db *sql.DB
}

func NewPostgresOperationalStore(db *sql.DB) *PostgresOperationalStore {
	return &PostgresOperationalStore{db: db}
}

func (s *PostgresOperationalStore) UpsertExchangeRates(ctx context.Context, rates []domain.ExchangeRate) (int, error) {
	const q = `
		INSERT INTO exchange_rates (from_currency, to_currency, "timestamp", rate)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (from_currency, to_currency, "timestamp") DO UPDATE SET rate = EXCLUDED.rate
		WHERE exchange_rates.rate IS DISTINCT FROM EXCLUDED.rate`
	return execBatch(ctx, s.db, rates, func(r domain.ExchangeRate) []interface{} {
		return []interface{}{r.FromCurrency, r.ToCurrency, r.Timestamp, r.Rate}
	}, q)
}

func (s *PostgresOperationalStore) UpsertPortfolioPositions(ctx context.Context, positions []domain.PortfolioPosition) (int, error) {
	const q = `
		INSERT INTO portfolio_positions (fund, ticker, date, shares, price, currency, market_value_cad)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (fund, ticker, date) DO UPDATE SET
			shares = EXCLUDED.shares, price = EXCLUDED.price,
			currency = EXCLUDED.currency, market_value_cad = EXCLUDED.market_value_cad
		WHERE portfolio_positions.shares IS DISTINCT FROM EXCLUDED.shares
		   OR portfolio_positions.price IS DISTINCT FROM EXCLUDED.price`
	return execBatch(ctx, s.db, positions, func(p domain.PortfolioPosition) []interface{} {
		return []interface{}{p.Fund, p.Ticker, p.Date, p.Shares, p.Price, p.Currency, p.MarketValueCAD}
	}, q)
}

// PositionCountFor backs the watchdog's data-validation protocol
// (SPEC_FULL.md §4.2 step 4): did update_portfolio_prices actually produce
// rows for production funds on this date?
func (s *PostgresOperationalStore) PositionCountFor(ctx context.Context, date time.Time, productionFundsOnly bool) (int, error) {
	q := `SELECT count(*) FROM portfolio_positions WHERE date = $1`
	args := []interface{}{date}
	if productionFundsOnly {
		q = `
			SELECT count(*) FROM portfolio_positions pp
			JOIN funds f ON f.name = pp.fund
			WHERE pp.date = $1 AND f.is_production = true`
	}
	var n int
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&n)
	return n, err
}

func (s *PostgresOperationalStore) ProductionFunds(ctx context.Context) ([]string, error) {
	const q = `SELECT name FROM funds WHERE is_production = true ORDER BY name`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// UpsertBenchmarkBars rewrites the benchmark series and bumps the
// process-wide cache epoch (invariant R1) so any Cached[T] read derived
// from the old series is recomputed on next access instead of serving a
// stale bar for the rest of its TTL.
func (s *PostgresOperationalStore) UpsertBenchmarkBars(ctx context.Context, bars []domain.BenchmarkBar) (int, error) {
	const q = `
		INSERT INTO benchmark_bars (symbol, date, open, high, low, close)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (symbol, date) DO UPDATE SET
			open = EXCLUDED.open, high = EXCLUDED.high, low = EXCLUDED.low, close = EXCLUDED.close
		WHERE benchmark_bars.close IS DISTINCT FROM EXCLUDED.close`
	n, err := execBatch(ctx, s.db, bars, func(b domain.BenchmarkBar) []interface{} {
		return []interface{}{b.Symbol, b.Date, b.Open, b.High, b.Low, b.Close}
	}, q)
	if err == nil && n > 0 {
		cache.BumpCacheVersion()
	}
	return n, err
}

func (s *PostgresOperationalStore) UpsertDividends(ctx context.Context, divs []domain.Dividend) (int, error) {
	const q = `
		INSERT INTO dividends (fund, ticker, pay_date, amount_per_share, currency)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (fund, ticker, pay_date) DO UPDATE SET amount_per_share = EXCLUDED.amount_per_share
		WHERE dividends.amount_per_share IS DISTINCT FROM EXCLUDED.amount_per_share`
	return execBatch(ctx, s.db, divs, func(d domain.Dividend) []interface{} {
		return []interface{}{d.Fund, d.Ticker, d.PayDate, d.AmountPerShare, d.Currency}
	}, q)
}

func (s *PostgresOperationalStore) UpsertInsiderTrades(ctx context.Context, trades []domain.InsiderTrade) (inserted, duplicates int, err error) {
	const q = `
		INSERT INTO insider_trades (ticker, insider_name, title, transaction_date, type, shares, price_per_share, value, filing_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (ticker, insider_name, transaction_date, type, shares, price_per_share) DO NOTHING`
	for _, t := range trades {
		res, execErr := s.db.ExecContext(ctx, q, t.Ticker, t.InsiderName, t.Title, t.TransactionDate, t.Type, t.Shares, t.PricePerShare, t.Value, t.FilingDate)
		if execErr != nil {
			return inserted, duplicates, execErr
		}
		n, _ := res.RowsAffected()
		if n > 0 {
			inserted++
		} else {
			duplicates++
		}
	}
	return inserted, duplicates, nil
}

func (s *PostgresOperationalStore) UpsertCongressTrades(ctx context.Context, trades []domain.CongressTrade) (inserted, duplicates int, err error) {
	const q = `
		INSERT INTO congress_trades (politician, chamber, party, ticker, transaction_date, transaction_type, amount, filing_date, batch_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (politician, ticker, transaction_date, amount) DO NOTHING`
	for _, t := range trades {
		res, execErr := s.db.ExecContext(ctx, q, t.Politician, t.Chamber, t.Party, t.Ticker, t.TransactionDate, t.TransactionType, t.Amount, t.FilingDate, t.BatchID)
		if execErr != nil {
			return inserted, duplicates, execErr
		}
		n, _ := res.RowsAffected()
		if n > 0 {
			inserted++
		} else {
			duplicates++
		}
	}
	return inserted, duplicates, nil
}

// MostRecentCongressTradeDate returns the newest transaction_date already
// stored, for seed-congress-trades' --skip-recent mode, which skips each
// trade dated at or after it while still walking every page. Returns the
// zero time with no error when the table is empty.
func (s *PostgresOperationalStore) MostRecentCongressTradeDate(ctx context.Context) (time.Time, error) {
	const q = `SELECT transaction_date FROM congress_trades ORDER BY transaction_date DESC LIMIT 1`
	var d time.Time
	err := s.db.QueryRowContext(ctx, q).Scan(&d)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	return d, err
}

// execBatch runs the same upsert statement for each item and sums rows
// actually inserted/updated, matching the "no-op on unchanged rows"
// invariant relied on by property test 1 (idempotence).
func execBatch[T any](ctx context.Context, db *sql.DB, items []T, args func(T) []interface{}, query string) (int, error) {
	var affected int
	for _, item := range items {
		res, err := db.ExecContext(ctx, query, args(item)...)
		if err != nil {
			return affected, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return affected, err
		}
		affected += int(n)
	}
	return affected, nil
}
