package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CreamyG31337/portfolio-pipeline/internal/domain"
	"github.com/CreamyG31337/portfolio-pipeline/internal/fetcher"
	"github.com/CreamyG31337/portfolio-pipeline/infrastructure/logging"
)

type stubResearchStore struct {
	upserted []domain.Article
	isNew    bool
	err      error
}

func (s *stubResearchStore) UpsertArticle(ctx context.Context, a domain.Article) (bool, error) {
	s.upserted = append(s.upserted, a)
	return s.isNew, s.err
}
func (s *stubResearchStore) GetArticle(ctx context.Context, url string) (*domain.Article, error) {
	return nil, nil
}
func (s *stubResearchStore) UpdateArticleAnalysis(ctx context.Context, url string, a domain.Article) error {
	return nil
}
func (s *stubResearchStore) InsertSocialPost(ctx context.Context, p domain.SocialPost) (bool, error) {
	return true, nil
}
func (s *stubResearchStore) InsertSocialMetric(ctx context.Context, m domain.SocialMetric) error {
	return nil
}
func (s *stubResearchStore) LatestMetricsPerTicker(ctx context.Context) ([]domain.SocialMetric, error) {
	return nil, nil
}
func (s *stubResearchStore) UpsertWatchedTickers(ctx context.Context, tickers []domain.WatchedTicker) error {
	return nil
}
func (s *stubResearchStore) ActiveWatchedTickers(ctx context.Context) ([]domain.WatchedTicker, error) {
	return nil, nil
}

const sampleRSS = `<?xml version="1.0"?>
<rss version="2.0"><channel>
<title>Feed</title>
<item>
<title>Earnings beat expectations as stock rallies on strong revenue guidance</title>
<link>https://example.com/a1</link>
<description>The company posted quarterly earnings well above analyst revenue guidance, with profit margins expanding on strong demand across every segment.</description>
</item>
</channel></rss>`

func TestRunRSSSource_UpsertsParsedItemsAndAccounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, sampleRSS)
	}))
	defer srv.Close()

	research := &stubResearchStore{isNew: true}
	deps := Deps{
		Fetcher:    fetcher.New(testLogger(), fetcher.WithMode(fetcher.ModeDirect), fetcher.WithHTTPTimeout(2*time.Second)),
		Research:   research,
		Politeness: NewPoliteness(),
		Log:        testLogger(),
	}

	acc, err := RunRSSSource(context.Background(), deps, srv.URL, "example-feed")
	require.NoError(t, err)
	assert.Equal(t, 1, acc.Found)
	assert.Equal(t, 1, acc.New)
	require.Len(t, research.upserted, 1)
	assert.Equal(t, "https://example.com/a1", research.upserted[0].URL)
}

func testLogger() *logging.Logger {
	return logging.New("pipeline-test", "error", "text")
}

func TestAccounting_StringFormat(t *testing.T) {
	acc := Accounting{Found: 5, New: 2, Duplicates: 2, Skipped: 1, Errors: 0}
	assert.Equal(t, "found 5; new 2; duplicates 2; skipped 1; errors 0", acc.String())
}

func TestIsDisallowed_MatchesLongestPrefix(t *testing.T) {
	robots := "User-agent: *\nDisallow: /private\nAllow: /private/public\n"
	assert.True(t, isDisallowed(robots, "/private/secret"))
	assert.False(t, isDisallowed(robots, "/private/public"))
	assert.False(t, isDisallowed(robots, "/open"))
}

func TestRobotsChecker_DisabledAlwaysAllows(t *testing.T) {
	checker := NewRobotsChecker(nil, false)
	assert.NoError(t, checker.Allow(context.Background(), "https://example.com/anything"))
}

func TestRobotsChecker_EnabledBlocksDisallowedPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "User-agent: *\nDisallow: /blocked\n")
	}))
	defer srv.Close()

	f := fetcher.New(testLogger(), fetcher.WithMode(fetcher.ModeDirect), fetcher.WithHTTPTimeout(2*time.Second))
	checker := NewRobotsChecker(f, true)

	err := checker.Allow(context.Background(), srv.URL+"/blocked/page")
	assert.Error(t, err)

	err = checker.Allow(context.Background(), srv.URL+"/open/page")
	assert.NoError(t, err)
}
