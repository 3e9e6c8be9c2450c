package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/CreamyG31337/portfolio-pipeline/infrastructure/logging"
	"github.com/CreamyG31337/portfolio-pipeline/internal/appconfig"
	"github.com/CreamyG31337/portfolio-pipeline/internal/congressimport"
	"github.com/CreamyG31337/portfolio-pipeline/internal/domain"
	"github.com/CreamyG31337/portfolio-pipeline/internal/fetcher"
	"github.com/CreamyG31337/portfolio-pipeline/internal/store"
)

// runSeedCongressTrades batch-imports historical congressional trades,
// grounded on original_source/web_dashboard/scripts/seed_congress_trades_staging.py's
// page-by-page scrape loop: fetch a page, extract embedded trade objects,
// map each to the schema, upsert the batch, advance until a page comes back
// empty or the months-back cutoff is crossed.
func runSeedCongressTrades(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("seed-congress-trades", flag.ContinueOnError)
	monthsBack := fs.Int("months-back", 0, "stop once a page's oldest trade is older than this many months (0 = no limit)")
	pageSize := fs.Int("page-size", 100, "trades requested per page")
	startPage := fs.Int("start-page", 1, "page number to start from")
	skipRecent := fs.Bool("skip-recent", false, "skip trades dated at or after the newest stored trade date")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := appconfig.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Fetcher.CongressTradesURL == "" {
		return fmt.Errorf("seed-congress-trades: CONGRESS_TRADES_BASE_URL is not set")
	}
	log := logging.New("pipelinectl", cfg.LogLevel, cfg.LogFormat)

	db, err := store.Open(ctx, cfg.Persistence.ResearchDatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer db.Close()
	opStore := store.NewPostgresOperationalStore(db)

	f := fetcher.New(log, fetcher.WithSolverURL(cfg.Fetcher.SolverURL))

	batchID := uuid.NewString()
	fmt.Printf("batch_id: %s\n", batchID)

	var mostRecent time.Time
	if *skipRecent {
		mostRecent, err = opStore.MostRecentCongressTradeDate(ctx)
		if err != nil {
			log.Warnf("could not determine most recent stored trade date, importing all: %v", err)
		}
	}

	cutoff := time.Time{}
	if *monthsBack > 0 {
		cutoff = time.Now().AddDate(0, -*monthsBack, 0)
	}

	page := *startPage
	totalAdded, totalDuplicates, totalSkipped := 0, 0, 0

	for {
		url := fmt.Sprintf("%s?pageSize=%d&page=%d", cfg.Fetcher.CongressTradesURL, *pageSize, page)
		body, err := f.Fetch(ctx, url)
		if err != nil {
			return fmt.Errorf("fetch page %d: %w", page, err)
		}

		raw, err := congressimport.ExtractTradesFromHTML(string(body))
		if err != nil {
			return fmt.Errorf("parse page %d: %w", page, err)
		}
		if len(raw) == 0 {
			fmt.Println("no more trades found, stopping")
			break
		}

		var oldest time.Time
		rows := make([]domain.CongressTrade, 0, len(raw))
		for _, t := range raw {
			row, ok := congressimport.MapToSchema(t, batchID)
			if !ok {
				totalSkipped++
				continue
			}
			if *skipRecent && !mostRecent.IsZero() && !row.TransactionDate.Before(mostRecent) {
				totalSkipped++
				continue
			}
			if oldest.IsZero() || row.TransactionDate.Before(oldest) {
				oldest = row.TransactionDate
			}
			rows = append(rows, row)
		}

		if len(rows) > 0 {
			inserted, duplicates, err := opStore.UpsertCongressTrades(ctx, rows)
			if err != nil {
				return fmt.Errorf("upsert page %d: %w", page, err)
			}
			totalAdded += inserted
			totalDuplicates += duplicates
			fmt.Printf("page %d: %d inserted, %d duplicates (oldest on page: %s)\n", page, inserted, duplicates, oldest.Format("2006-01-02"))
		} else {
			fmt.Printf("page %d: nothing to import\n", page)
		}

		if !cutoff.IsZero() && !oldest.IsZero() && oldest.Before(cutoff) {
			fmt.Printf("reached cutoff date (%s), stopping\n", oldest.Format("2006-01-02"))
			break
		}

		page++
		time.Sleep(f.CrawlDelay())
	}

	fmt.Printf("done: %d inserted, %d duplicates, %d skipped\nbatch_id: %s\n", totalAdded, totalDuplicates, totalSkipped, batchID)
	return nil
}
