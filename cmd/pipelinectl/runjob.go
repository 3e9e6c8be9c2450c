package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/CreamyG31337/portfolio-pipeline/internal/appconfig"
	"github.com/CreamyG31337/portfolio-pipeline/internal/clock"
	"github.com/CreamyG31337/portfolio-pipeline/internal/fetcher"
	"github.com/CreamyG31337/portfolio-pipeline/internal/jobs"
	"github.com/CreamyG31337/portfolio-pipeline/internal/pipeline"
	"github.com/CreamyG31337/portfolio-pipeline/internal/scheduler"
	"github.com/CreamyG31337/portfolio-pipeline/internal/store"
	"github.com/CreamyG31337/portfolio-pipeline/internal/watchdog"
	"github.com/CreamyG31337/portfolio-pipeline/infrastructure/logging"
)

// runRunJob runs one registered job handler once, outside its cron
// schedule, the way original_source/debug/test_insider_trades_job.py
// invokes a single job function standalone rather than through the
// scheduler loop. It shares runServe's wiring so a manual run and a
// cron-fired run go through identical handler code.
func runRunJob(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run-job", flag.ContinueOnError)
	targetDateStr := fs.String("target-date", "", "target date (YYYY-MM-DD); defaults to today")
	entity := fs.String("entity", "", "entity id, for jobs that accept one")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("run-job: missing job name (one of %s, %s, %s, %s)",
			jobs.NameUpdatePortfolioPrices, jobs.NameExchangeRates, jobs.NameRSSIngest, jobs.NameInsiderTrades)
	}
	jobName := fs.Arg(0)

	targetDate := time.Now()
	if *targetDateStr != "" {
		parsed, err := time.Parse("2006-01-02", *targetDateStr)
		if err != nil {
			return fmt.Errorf("run-job: --target-date: %w", err)
		}
		targetDate = parsed
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

	jobStore := store.NewPostgresJobStore(db)
	retryStore := store.NewPostgresRetryQueueStore(db)
	opStore := store.NewPostgresOperationalStore(db)
	researchStore := store.NewPostgresResearchStore(db)

	location, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", cfg.Scheduler.Timezone, err)
	}

	sched := scheduler.New(jobStore, log, location, fmt.Sprintf("pipelinectl-runjob-%d", time.Now().UnixNano()))

	market := clock.NewMarket("America/New_York", nil)
	wd := watchdog.New(jobStore, retryStore, market, clock.Real{}, log)

	f := fetcher.New(log, fetcher.WithSolverURL(cfg.Fetcher.SolverURL))
	robots := pipeline.NewRobotsChecker(f, cfg.Fetcher.RobotsTxtEnabled)
	backend := selectLLMBackend(ctx, cfg, log)

	rss := &jobs.RSSJob{
		Deps: pipeline.Deps{
			Fetcher:    f,
			LLM:        backend,
			Research:   researchStore,
			Politeness: pipeline.NewPoliteness(),
			Log:        log,
		},
		Log: log,
	}

	var insider *jobs.InsiderJob
	if cfg.Fetcher.SolverURL != "" {
		insider = &jobs.InsiderJob{
			SourceURL: cfg.Fetcher.SolverURL,
			Fetcher:   f,
			Robots:    robots,
			Store:     opStore,
			Clk:       clock.Real{},
			Log:       log,
		}
	}

	if err := jobs.RegisterAll(sched, wd, nil, nil, rss, insider); err != nil {
		return fmt.Errorf("register jobs: %w", err)
	}

	if err := sched.RunNow(ctx, jobName, targetDate, *entity); err != nil {
		return fmt.Errorf("run-job %s: %w", jobName, err)
	}
	fmt.Printf("run-job %s: ok (target_date=%s entity=%q)\n", jobName, targetDate.Format("2006-01-02"), *entity)
	return nil
}
