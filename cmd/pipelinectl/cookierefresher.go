package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/CreamyG31337/portfolio-pipeline/internal/appconfig"
	"github.com/CreamyG31337/portfolio-pipeline/internal/cookies"
	pkglogger "github.com/CreamyG31337/portfolio-pipeline/pkg/logger"
)

// cookieRefresherDrainTimeout bounds how long an in-flight refresh attempt
// is given to finish once SIGTERM arrives (§6: "drains within 5s").
const cookieRefresherDrainTimeout = 5 * time.Second

// runCookieRefresher runs the Cookie Refresher sidecar in the foreground:
// seed the shared cookie file from appconfig.CookiesConfig if it doesn't
// already exist, then refresh on a fixed interval until SIGTERM, grounded
// on original_source/web_dashboard/cookie_refresher.py's main loop.
func runCookieRefresher(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("cookie-refresher", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := appconfig.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := pkglogger.New(pkglogger.LoggingConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})

	outputPath := cfg.Cookies.OutputFile
	if _, err := os.Stat(outputPath); os.IsNotExist(err) {
		seed, err := cfg.Cookies.ResolveInitialCookieBundle()
		if err != nil {
			return fmt.Errorf("resolve initial cookie bundle: %w", err)
		}
		if seed == nil {
			return fmt.Errorf("cookie-refresher: no cookie bundle exists at %s and none of WEBAI_COOKIES_JSON/_B64/WEBAI_SECURE_1PSID is set", outputPath)
		}
		data, err := json.MarshalIndent(seed, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal seed cookie bundle: %w", err)
		}
		if err := os.WriteFile(outputPath, data, 0o600); err != nil {
			return fmt.Errorf("write seed cookie bundle: %w", err)
		}
		log.Infof("wrote initial cookie bundle to %s", outputPath)
	}

	driver := cookies.NewExecDriver(cfg.Cookies.DriverBinPath)
	refresher := cookies.NewRefresher(driver, cfg.Cookies.AIServiceWebURL, outputPath, log)

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(cfg.Cookies.RefreshInterval)
	defer ticker.Stop()

	// runOne's context is derived from sigCtx, so a SIGTERM received while a
	// refresh is in flight (cookies.Refresher.Refresh's own retry backoff
	// selects on ctx.Done()) unwinds it well within the drain budget rather
	// than waiting out a full retry cycle.
	runOne := func() {
		refreshCtx, cancel := context.WithTimeout(sigCtx, cookieRefresherDrainTimeout+cfg.Cookies.RefreshInterval)
		defer cancel()
		if err := refresher.Refresh(refreshCtx); err != nil {
			log.Warnf("cookie refresh failed: %v", err)
		}
	}

	runOne()
	for {
		select {
		case <-sigCtx.Done():
			return nil
		case <-ticker.C:
			runOne()
		}
	}
}
