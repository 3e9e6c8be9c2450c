package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CreamyG31337/portfolio-pipeline/internal/clock"
	"github.com/CreamyG31337/portfolio-pipeline/internal/domain"
	"github.com/CreamyG31337/portfolio-pipeline/infrastructure/logging"
)

type stubHoldings struct {
	holdings []Holding
	err      error
}

func (s stubHoldings) CurrentHoldings(ctx context.Context) ([]Holding, error) {
	return s.holdings, s.err
}

type stubPrices struct {
	byTicker map[string]float64
	calls    map[string]int
}

func (s *stubPrices) ClosingPrice(ctx context.Context, ticker string, date time.Time) (float64, error) {
	if s.calls != nil {
		s.calls[ticker]++
	}
	p, ok := s.byTicker[ticker]
	if !ok {
		return 0, assert.AnError
	}
	return p, nil
}

type stubRateSource struct {
	rate float64
	err  error
}

func (s stubRateSource) RateOn(ctx context.Context, date time.Time) (float64, error) {
	return s.rate, s.err
}

type stubOperationalStore struct {
	positions     []domain.PortfolioPosition
	positionCount int
	rates         []domain.ExchangeRate
	insiderTrades []domain.InsiderTrade
}

func (s *stubOperationalStore) UpsertExchangeRates(ctx context.Context, rates []domain.ExchangeRate) (int, error) {
	s.rates = append(s.rates, rates...)
	return len(rates), nil
}
func (s *stubOperationalStore) UpsertPortfolioPositions(ctx context.Context, positions []domain.PortfolioPosition) (int, error) {
	s.positions = append(s.positions, positions...)
	return len(positions), nil
}
func (s *stubOperationalStore) PositionCountFor(ctx context.Context, date time.Time, productionFundsOnly bool) (int, error) {
	return s.positionCount, nil
}
func (s *stubOperationalStore) UpsertBenchmarkBars(ctx context.Context, bars []domain.BenchmarkBar) (int, error) {
	return len(bars), nil
}
func (s *stubOperationalStore) UpsertDividends(ctx context.Context, divs []domain.Dividend) (int, error) {
	return len(divs), nil
}
func (s *stubOperationalStore) UpsertInsiderTrades(ctx context.Context, trades []domain.InsiderTrade) (int, int, error) {
	s.insiderTrades = append(s.insiderTrades, trades...)
	return len(trades), 0, nil
}
func (s *stubOperationalStore) UpsertCongressTrades(ctx context.Context, trades []domain.CongressTrade) (int, int, error) {
	return len(trades), 0, nil
}
func (s *stubOperationalStore) MostRecentCongressTradeDate(ctx context.Context) (time.Time, error) {
	return time.Time{}, nil
}
func (s *stubOperationalStore) ProductionFunds(ctx context.Context) ([]string, error) {
	return nil, nil
}

func testLogger() *logging.Logger { return logging.New("jobs-test", "error", "text") }

func TestPricesJob_ConvertsUSDHoldingsToCAD(t *testing.T) {
	st := &stubOperationalStore{}
	j := &PricesJob{
		Holdings: stubHoldings{holdings: []Holding{
			{Fund: "fund-a", Ticker: "AAPL", Currency: "usd", Shares: 10},
			{Fund: "fund-a", Ticker: "SHOP.TO", Currency: "CAD", Shares: 5},
		}},
		Prices: &stubPrices{byTicker: map[string]float64{"AAPL": 200, "SHOP.TO": 100}},
		FX:     stubRateSource{rate: 1.35},
		Store:  st,
		Log:    testLogger(),
	}

	err := j.Run(context.Background(), time.Now(), "")
	require.NoError(t, err)
	require.Len(t, st.positions, 2)

	var aapl domain.PortfolioPosition
	for _, p := range st.positions {
		if p.Ticker == "AAPL" {
			aapl = p
		}
	}
	assert.Equal(t, "USD", aapl.Currency)
	assert.InDelta(t, 10*200*1.35, aapl.MarketValueCAD, 0.001)
}

func TestPricesJob_SkipsUnpricedHoldingsWithoutFailing(t *testing.T) {
	st := &stubOperationalStore{}
	j := &PricesJob{
		Holdings: stubHoldings{holdings: []Holding{{Fund: "f", Ticker: "UNKNOWN", Shares: 1}}},
		Prices:   &stubPrices{byTicker: map[string]float64{}},
		FX:       stubRateSource{rate: 1.35},
		Store:    st,
		Log:      testLogger(),
	}

	err := j.Run(context.Background(), time.Now(), "")
	require.NoError(t, err)
	assert.Empty(t, st.positions)
}

func TestPricesJob_Validate_FailsWhenNoPositionsFound(t *testing.T) {
	st := &stubOperationalStore{positionCount: 0}
	j := &PricesJob{Store: st}

	ok, detail, err := j.Validate(context.Background(), time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NotEmpty(t, detail)
}

func TestPricesJob_CacheAvoidsRepricingSharedHolding(t *testing.T) {
	st := &stubOperationalStore{}
	prices := &stubPrices{byTicker: map[string]float64{"AAPL": 200}, calls: map[string]int{}}
	j := &PricesJob{
		Holdings: stubHoldings{holdings: []Holding{
			{Fund: "fund-a", Ticker: "AAPL", Currency: "USD", Shares: 10},
			{Fund: "fund-b", Ticker: "AAPL", Currency: "USD", Shares: 5},
		}},
		Prices: prices,
		FX:     stubRateSource{rate: 1.35},
		Store:  st,
		Log:    testLogger(),
		Cache:  NewPriceCache(clock.NewMarket("America/New_York", nil), clock.Real{}),
	}

	err := j.Run(context.Background(), time.Now(), "")
	require.NoError(t, err)
	require.Len(t, st.positions, 2)
	assert.Equal(t, 1, prices.calls["AAPL"])
}

func TestNormalizeCurrency_DefaultsInvalidToCAD(t *testing.T) {
	assert.Equal(t, "CAD", normalizeCurrency(""))
	assert.Equal(t, "CAD", normalizeCurrency("nan"))
	assert.Equal(t, "USD", normalizeCurrency(" usd "))
}
