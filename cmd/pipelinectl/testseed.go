package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"time"

	"github.com/CreamyG31337/portfolio-pipeline/infrastructure/logging"
	"github.com/CreamyG31337/portfolio-pipeline/internal/appconfig"
	"github.com/CreamyG31337/portfolio-pipeline/internal/congressimport"
	"github.com/CreamyG31337/portfolio-pipeline/internal/domain"
	"github.com/CreamyG31337/portfolio-pipeline/internal/store"
)

// testSeedTickers covers both equities and an ETF so generated positions,
// insider trades, and congress trades all land on real-looking symbols.
var testSeedTickers = []string{"AAPL", "MSFT", "NVDA", "AMZN", "GOOGL", "VFV.TO", "SHOP.TO"}

var testSeedPoliticians = []struct {
	name, chamber, party string
}{
	{"Jane Doe", "Senate", "Democrat"},
	{"John Smith", "House", "Republican"},
	{"Pat Lee", "Senate", "Independent"},
}

// runGenerateTestSeed writes synthetic, schema-valid fixtures into the
// configured databases for local development and cloud agent testing, the
// same purpose original_source/scripts/generate_test_seed.py served for the
// original system's dashboard tables (no real PII ever passes through
// here; everything below is generated, not scrubbed). Unlike the original,
// which emitted standalone .sql files, this writes straight through the
// store adapters so the fixtures always match the schema the rest of the
// binary reads.
func runGenerateTestSeed(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("generate-test-seed", flag.ContinueOnError)
	fund := fs.String("fund", "TEST", "synthetic fund code to seed positions under")
	days := fs.Int("days", 30, "number of calendar days of positions/FX history to generate")
	seed := fs.Int64("seed", 42, "random seed, for reproducible fixtures")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := appconfig.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logging.New("pipelinectl", cfg.LogLevel, cfg.LogFormat)

	db, err := store.Open(ctx, cfg.Persistence.ResearchDatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()

	opStore := store.NewPostgresOperationalStore(db)
	researchStore := store.NewPostgresResearchStore(db)

	rng := rand.New(rand.NewSource(*seed))
	now := time.Now().UTC().Truncate(24 * time.Hour)

	positions := make([]domain.PortfolioPosition, 0, *days*len(testSeedTickers))
	rates := make([]domain.ExchangeRate, 0, *days)
	for d := 0; d < *days; d++ {
		date := now.AddDate(0, 0, -d)
		rates = append(rates, domain.ExchangeRate{
			FromCurrency: "USD",
			ToCurrency:   "CAD",
			Timestamp:    date,
			Rate:         1.30 + rng.Float64()*0.1,
		})
		for _, ticker := range testSeedTickers {
			price := 50 + rng.Float64()*450
			shares := float64(10 + rng.Intn(200))
			positions = append(positions, domain.PortfolioPosition{
				Fund:           *fund,
				Ticker:         ticker,
				Date:           date,
				Shares:         shares,
				Price:          price,
				Currency:       "USD",
				MarketValueCAD: shares * price * 1.35,
			})
		}
	}

	insiderTrades := make([]domain.InsiderTrade, 0, 20)
	for i := 0; i < 20; i++ {
		ticker := testSeedTickers[rng.Intn(len(testSeedTickers))]
		date := now.AddDate(0, 0, -rng.Intn(*days))
		insiderTrades = append(insiderTrades, domain.InsiderTrade{
			Ticker:          ticker,
			InsiderName:     fmt.Sprintf("Test Insider %d", i),
			Title:           "Director",
			TransactionDate: date,
			Type:            []string{"Buy", "Sell"}[rng.Intn(2)],
			Shares:          float64(100 + rng.Intn(5000)),
			PricePerShare:   50 + rng.Float64()*450,
			FilingDate:      date.AddDate(0, 0, 2),
		})
	}

	congressTrades := make([]domain.CongressTrade, 0, 20)
	batchID := fmt.Sprintf("test-seed-%d", *seed)
	for i := 0; i < 20; i++ {
		pol := testSeedPoliticians[rng.Intn(len(testSeedPoliticians))]
		ticker := testSeedTickers[rng.Intn(len(testSeedTickers))]
		date := now.AddDate(0, 0, -rng.Intn(*days))
		congressTrades = append(congressTrades, domain.CongressTrade{
			Politician:      pol.name,
			Chamber:         pol.chamber,
			Party:           pol.party,
			Ticker:          ticker,
			TransactionDate: date,
			TransactionType: []string{"Purchase", "Sale"}[rng.Intn(2)],
			Amount:          congressimport.BracketFor(1000 + rng.Float64()*400000),
			FilingDate:      date.AddDate(0, 0, 30),
			BatchID:         batchID,
		})
	}

	articles := make([]domain.Article, 0, 15)
	for i := 0; i < 15; i++ {
		ticker := testSeedTickers[rng.Intn(len(testSeedTickers))]
		articles = append(articles, domain.Article{
			URL:            fmt.Sprintf("https://example.test/articles/%d", i),
			Title:          fmt.Sprintf("Synthetic coverage of %s", ticker),
			Source:         "test-seed",
			PublishedAt:    now.AddDate(0, 0, -rng.Intn(*days)),
			FetchedAt:      now,
			Content:        "synthetic fixture content",
			Tickers:        []string{ticker},
			Sentiment:      []domain.Sentiment{domain.SentimentBullish, domain.SentimentNeutral, domain.SentimentBearish}[rng.Intn(3)],
			SentimentScore: rng.Float64()*2 - 1,
			RelevanceScore: rng.Float64(),
		})
	}

	if _, err := opStore.UpsertPortfolioPositions(ctx, positions); err != nil {
		return fmt.Errorf("seed positions: %w", err)
	}
	if _, err := opStore.UpsertExchangeRates(ctx, rates); err != nil {
		return fmt.Errorf("seed exchange rates: %w", err)
	}
	if _, _, err := opStore.UpsertInsiderTrades(ctx, insiderTrades); err != nil {
		return fmt.Errorf("seed insider trades: %w", err)
	}
	if _, _, err := opStore.UpsertCongressTrades(ctx, congressTrades); err != nil {
		return fmt.Errorf("seed congress trades: %w", err)
	}
	for _, a := range articles {
		if _, err := researchStore.UpsertArticle(ctx, a); err != nil {
			return fmt.Errorf("seed article %s: %w", a.URL, err)
		}
	}

	log.WithField("fund", *fund).Info("test seed generated")
	fmt.Printf("seeded %d positions, %d fx rates, %d insider trades, %d congress trades, %d articles\n",
		len(positions), len(rates), len(insiderTrades), len(congressTrades), len(articles))
	return nil
}
