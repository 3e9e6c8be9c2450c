package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/CreamyG31337/portfolio-pipeline/internal/pipeline"
	"github.com/CreamyG31337/portfolio-pipeline/infrastructure/logging"
)

// Feed is one configured RSS source for the ingest job.
type Feed struct {
	URL    string
	Source string
}

// RSSJob runs the generic scraping-and-analysis pipeline (§4.8) over a
// fixed list of news feeds. It is not a calculation job: junk filtering,
// LLM summaries, and upstream feed content are not deterministic given a
// target_date, so the watchdog never auto-retries it (it still surfaces
// in job_executions like any other job).
type RSSJob struct {
	Feeds []Feed
	Deps  pipeline.Deps
	Log   *logging.Logger
}

// Run ingests every configured feed, accumulating one Accounting. A single
// feed failing does not abort the rest; per-feed errors are logged and
// rolled into the returned error only if every feed failed.
func (j *RSSJob) Run(ctx context.Context, targetDate time.Time, entityID string) error {
	var total pipeline.Accounting
	var failures []string

	for _, f := range j.Feeds {
		acc, err := pipeline.RunRSSSource(ctx, j.Deps, f.URL, f.Source)
		if err != nil {
			j.Log.WithField("source", f.Source).Warnf("feed ingest failed: %v", err)
			failures = append(failures, f.Source)
			continue
		}
		total.Found += acc.Found
		total.New += acc.New
		total.Duplicates += acc.Duplicates
		total.Skipped += acc.Skipped
		total.Errors += acc.Errors
	}

	if len(failures) == len(j.Feeds) && len(j.Feeds) > 0 {
		return fmt.Errorf("all %d feeds failed: %s", len(j.Feeds), strings.Join(failures, ", "))
	}

	j.Log.Infof("rss_ingest: %s (%d/%d feeds failed)", total.String(), len(failures), len(j.Feeds))
	return nil
}
