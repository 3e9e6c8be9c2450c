// Package cookies implements the Cookie Refresher sidecar (SPEC_FULL.md
// §4.7): periodically drives a stealth browser session to renew the LLM
// Adapter's web-session cookies and atomically publishes them to a shared
// file. Grounded on
// original_source/web_dashboard/cookie_refresher.py.
package cookies

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/CreamyG31337/portfolio-pipeline/internal/domain"
	pkglogger "github.com/CreamyG31337/portfolio-pipeline/pkg/logger"
)

// MaxRetries and RetryDelay match cookie_refresher.py's constants exactly.
const (
	MaxRetries = 3
	RetryDelay = 60 * time.Second
)

// securityChallengeIndicators is the substring list checked against page
// text to flag a 2FA/verification wall (invariant C2: a detected challenge
// is logged but refresh still attempts to proceed).
var securityChallengeIndicators = []string{
	"verify", "verification", "two-factor", "2fa", "2-step",
	"security check", "unusual activity", "suspicious",
	"confirm your identity", "enter code", "send code",
}

// BrowserDriver abstracts the headless-browser step. A concrete
// implementation shells out to a Playwright/Chromium driver via os/exec;
// tests substitute a stub.
type BrowserDriver interface {
	// Visit loads serviceURL with existingCookies already set in the
	// browser context, waits for the session to settle, and returns every
	// cookie found afterward plus the final page text (for challenge
	// detection).
	Visit(ctx context.Context, serviceURL string, existingCookies map[string]string) (cookies map[string]string, pageText string, err error)
}

// Refresher owns the refresh loop and the shared cookie file.
type Refresher struct {
	driver     BrowserDriver
	serviceURL string
	outputPath string
	log        *pkglogger.Logger
}

func NewRefresher(driver BrowserDriver, serviceURL, outputPath string, log *pkglogger.Logger) *Refresher {
	return &Refresher{driver: driver, serviceURL: serviceURL, outputPath: outputPath, log: log}
}

// Load reads the current cookie bundle from the shared file.
func Load(path string) (*domain.CookieBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read cookie file: %w", err)
	}
	var bundle domain.CookieBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("parse cookie file: %w", err)
	}
	return &bundle, nil
}

// Refresh runs the browser-driven refresh with up to MaxRetries attempts,
// reloading the existing cookie file on every attempt for freshness.
func (r *Refresher) Refresh(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= MaxRetries; attempt++ {
		r.log.Infof("cookie refresh attempt %d/%d", attempt, MaxRetries)

		existing, err := Load(r.outputPath)
		if err != nil {
			return fmt.Errorf("no existing cookies found, cannot refresh without an initial bundle: %w", err)
		}

		refreshed, pageText, err := r.driver.Visit(ctx, r.serviceURL, map[string]string{
			"__Secure-1PSID":   existing.Secure1PSID,
			"__Secure-1PSIDTS": existing.Secure1PSIDTS,
		})
		if err != nil {
			lastErr = err
			r.log.Warnf("refresh attempt %d failed: %v", attempt, err)
		} else {
			if challenges := detectSecurityChallenges(pageText); len(challenges) > 0 {
				r.log.Warnf("security challenge detected during refresh: %s", strings.Join(challenges, ", "))
			}
			if refreshed["__Secure-1PSID"] == "" {
				lastErr = fmt.Errorf("refresh did not yield __Secure-1PSID")
				r.log.Error(lastErr.Error())
			} else {
				bundle := domain.CookieBundle{
					Secure1PSID:   refreshed["__Secure-1PSID"],
					Secure1PSIDTS: refreshed["__Secure-1PSIDTS"],
					RefreshedAt:   time.Now().UTC().Format(time.RFC3339),
					RefreshCount:  existing.RefreshCount + 1,
				}
				if err := save(r.outputPath, bundle); err != nil {
					return fmt.Errorf("save refreshed cookies: %w", err)
				}
				r.log.Info("cookie refresh successful")
				return nil
			}
		}

		if attempt < MaxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(RetryDelay):
			}
		}
	}
	return fmt.Errorf("all cookie refresh attempts failed: %w", lastErr)
}

// save writes the bundle atomically: to a temp file in the same directory,
// then renamed over the destination, so readers never observe a partial
// write (invariant C1).
func save(path string, bundle domain.CookieBundle) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".cookies-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}

func detectSecurityChallenges(pageText string) []string {
	lower := strings.ToLower(pageText)
	var found []string
	for _, indicator := range securityChallengeIndicators {
		if strings.Contains(lower, indicator) {
			found = append(found, indicator)
		}
	}
	return found
}
