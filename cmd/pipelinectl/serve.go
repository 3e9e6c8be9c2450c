package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/CreamyG31337/portfolio-pipeline/infrastructure/logging"
	"github.com/CreamyG31337/portfolio-pipeline/infrastructure/metrics"
	"github.com/CreamyG31337/portfolio-pipeline/infrastructure/middleware"
	"github.com/CreamyG31337/portfolio-pipeline/internal/adminapi"
	"github.com/CreamyG31337/portfolio-pipeline/internal/appconfig"
	"github.com/CreamyG31337/portfolio-pipeline/internal/clock"
	"github.com/CreamyG31337/portfolio-pipeline/internal/cookies"
	"github.com/CreamyG31337/portfolio-pipeline/internal/domain"
	"github.com/CreamyG31337/portfolio-pipeline/internal/fetcher"
	"github.com/CreamyG31337/portfolio-pipeline/internal/jobs"
	"github.com/CreamyG31337/portfolio-pipeline/internal/llm"
	"github.com/CreamyG31337/portfolio-pipeline/internal/pipeline"
	"github.com/CreamyG31337/portfolio-pipeline/internal/scheduler"
	"github.com/CreamyG31337/portfolio-pipeline/internal/store"
	"github.com/CreamyG31337/portfolio-pipeline/internal/watchdog"
)

// WatchdogInterval is the watchdog's sweep cadence. §4.2 fixes the retry
// backoff at "not time-based; the next watchdog cycle is the implicit
// backoff (>=30 min)", so the sweep itself runs no more often than that.
const WatchdogInterval = 30 * time.Minute

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
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

	jobStore := store.NewPostgresJobStore(db)
	retryStore := store.NewPostgresRetryQueueStore(db)
	opStore := store.NewPostgresOperationalStore(db)
	researchStore := store.NewPostgresResearchStore(db)

	location, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", cfg.Scheduler.Timezone, err)
	}

	processID := fmt.Sprintf("pipelinectl-%d", time.Now().UnixNano())
	sched := scheduler.New(jobStore, log, location, processID)

	recovered, err := scheduler.StartupRecoveryCheck(ctx, jobStore, WatchdogInterval)
	if err != nil {
		log.Warnf("startup recovery check failed: %v", err)
	} else if recovered {
		log.Warn(ctx, "stale heartbeat detected on startup; watchdog will sweep suspected-stale runs on its next cycle", nil)
	}

	market := clock.NewMarket("America/New_York", nil)
	wd := watchdog.New(jobStore, retryStore, market, clock.Real{}, log)

	f := fetcher.New(log, fetcher.WithSolverURL(cfg.Fetcher.SolverURL))
	robots := pipeline.NewRobotsChecker(f, cfg.Fetcher.RobotsTxtEnabled)

	backend := selectLLMBackend(ctx, cfg, log)

	rss := &jobs.RSSJob{
		Feeds: nil, // no feed list is configured here; nothing in this binary reads one from the environment
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

	// PricesJob and FXJob need a brokerage holdings feed and a published FX
	// rate source this deployment has no concrete adapter for yet (see
	// DESIGN.md); RegisterAll tolerates nil and simply does not wire them,
	// matching the teacher's own optional-component construction.
	if err := jobs.RegisterAll(sched, wd, nil, nil, rss, insider); err != nil {
		return fmt.Errorf("register jobs: %w", err)
	}

	sched.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), scheduler.DrainTimeout)
		defer cancel()
		if err := sched.Stop(stopCtx); err != nil {
			log.Warnf("scheduler stop: %v", err)
		}
	}()

	watchdogDone := make(chan struct{})
	watchdogCtx, stopWatchdog := context.WithCancel(ctx)
	go runWatchdogLoop(watchdogCtx, wd, sched, log, watchdogDone)
	defer func() {
		stopWatchdog()
		<-watchdogDone
	}()

	var m *metrics.Metrics
	if cfg.AdminAPI.MetricsEnabled {
		m = metrics.New("pipelinectl")
	}

	adminSrv := adminapi.New(adminapi.Config{
		AdminToken: cfg.AdminAPI.AdminToken,
	}, sched, jobStore, retryStore, log, m)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.AdminAPI.Port),
		Handler: adminSrv.Handler(),
	}

	shutdown := middleware.NewGracefulShutdown(httpSrv, scheduler.DrainTimeout)
	shutdown.ListenForSignals()

	log.WithField("addr", httpSrv.Addr).Info("admin api listening")
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin api: %w", err)
	}
	shutdown.Wait()
	return nil
}

// runWatchdogLoop runs the watchdog's four protocols once immediately,
// then every WatchdogInterval, logging each summary as a JobExecution-style
// message the way a cron-fired job's run would.
func runWatchdogLoop(ctx context.Context, wd *watchdog.Watchdog, sched *scheduler.Scheduler, log *logging.Logger, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(WatchdogInterval)
	defer ticker.Stop()

	sweep := func() {
		summary, err := wd.Run(ctx)
		if err != nil {
			log.Warnf("watchdog sweep failed: %v", err)
			if logErr := sched.LogExecution(ctx, "watchdog", false, err.Error(), 0); logErr != nil {
				log.Warnf("could not record watchdog failure: %v", logErr)
			}
			return
		}
		log.WithField("summary", summary).Info("watchdog sweep complete")
		if logErr := sched.LogExecution(ctx, "watchdog", true, summary, 0); logErr != nil {
			log.Warnf("could not record watchdog run: %v", logErr)
		}
	}

	sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}

// selectLLMBackend implements the LLM Adapter's backend selection rule
// (grounded on webai_wrapper.py's fallback chain): a configured ZhipuAI
// key wins outright since it is a paid, reliable API; otherwise Ollama when
// it is enabled in config (reachability is not probed); otherwise the
// cookie-authenticated web
// backend as a last resort free-tier fallback.
func selectLLMBackend(ctx context.Context, cfg *appconfig.Config, log *logging.Logger) llm.Backend {
	if cfg.LLM.ZhipuAPIKey != "" {
		log.Info(ctx, "llm backend: remote chat (zhipu)", nil)
		return llm.NewRemoteChatBackend("https://open.bigmodel.cn/api/paas/v4", cfg.LLM.ZhipuAPIKey, "glm-4")
	}
	if cfg.LLM.OllamaEnabled {
		log.Info(ctx, "llm backend: ollama", nil)
		return llm.NewOllamaBackend(cfg.LLM.OllamaBaseURL, cfg.LLM.OllamaModel, cfg.LLM.OllamaTimeout)
	}
	log.Info(ctx, "llm backend: cookie-web", nil)
	return llm.NewCookieWebBackend(cookieReader{path: cfg.Cookies.InputFile}, "webai")
}

// cookieReader adapts internal/cookies.Load to llm.CookieProvider so the
// LLM adapter's CookieWebBackend reads the same shared artifact the
// refresher sidecar writes, without either package importing the other.
type cookieReader struct {
	path string
}

func (c cookieReader) Current() (*domain.CookieBundle, error) {
	return cookies.Load(c.path)
}
