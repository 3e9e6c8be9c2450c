package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"github.com/CreamyG31337/portfolio-pipeline/internal/domain"
)

// PostgresResearchStore implements ResearchStore against articles,
// social_posts, social_metrics, and watched_tickers.
type PostgresResearchStore struct {
	db *sql.DB
}

func NewPostgresResearchStore(db *sql.DB) *PostgresResearchStore {
	return &PostgresResearchStore{db: db}
}

// UpsertArticle inserts a new article or, on conflict, updates only its
// title, leaving fetched_at, the other scrape-time fields and any analysis
// columns set by a later UpdateArticleAnalysis call untouched (invariant A1).
func (s *PostgresResearchStore) UpsertArticle(ctx context.Context, a domain.Article) (bool, error) {
	const q = `
		INSERT INTO articles (url, title, source, published_at, fetched_at, content, tickers, sector)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (url) DO UPDATE SET title = EXCLUDED.title
		RETURNING (xmax = 0) AS is_new`
	var isNew bool
	err := s.db.QueryRowContext(ctx, q, a.URL, a.Title, a.Source, a.PublishedAt, a.FetchedAt, a.Content, pq.Array(a.Tickers), a.Sector).Scan(&isNew)
	return isNew, err
}

func (s *PostgresResearchStore) GetArticle(ctx context.Context, url string) (*domain.Article, error) {
	const q = `
		SELECT url, title, source, published_at, fetched_at, content, summary, tickers, sector,
		       sentiment, sentiment_score, claims, fact_check, conclusion, relevance_score, embedding
		FROM articles WHERE url=$1`
	var a domain.Article
	var summary sql.NullString
	var tickers, claims pq.StringArray
	var embedding pq.Float64Array
	err := s.db.QueryRowContext(ctx, q, url).Scan(
		&a.URL, &a.Title, &a.Source, &a.PublishedAt, &a.FetchedAt, &a.Content, &summary,
		&tickers, &a.Sector, &a.Sentiment, &a.SentimentScore, &claims, &a.FactCheck,
		&a.Conclusion, &a.RelevanceScore, &embedding)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if summary.Valid {
		a.Summary = &summary.String
	}
	a.Tickers = []string(tickers)
	a.Claims = []string(claims)
	a.Embedding = float64sToFloat32s(embedding)
	return &a, nil
}

// UpdateArticleAnalysis persists the LLM Adapter's analysis of a
// previously-fetched article without touching fetched_at or content.
func (s *PostgresResearchStore) UpdateArticleAnalysis(ctx context.Context, url string, a domain.Article) error {
	const q = `
		UPDATE articles
		SET summary=$2, sentiment=$3, sentiment_score=$4, claims=$5, fact_check=$6,
		    conclusion=$7, relevance_score=$8, embedding=$9
		WHERE url=$1`
	res, err := s.db.ExecContext(ctx, q, url, a.Summary, a.Sentiment, a.SentimentScore,
		pq.Array(a.Claims), a.FactCheck, a.Conclusion, a.RelevanceScore,
		pq.Array(float32sToFloat64s(a.Embedding)))
	if err != nil {
		return err
	}
	return rowsAffectedOrErr(res, "article not found")
}

func (s *PostgresResearchStore) InsertSocialPost(ctx context.Context, p domain.SocialPost) (bool, error) {
	const q = `
		INSERT INTO social_posts (platform, post_id, content, author, posted_at, engagement_score, tickers, metric_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (platform, post_id) DO NOTHING`
	res, err := s.db.ExecContext(ctx, q, p.Platform, p.PostID, p.Content, p.Author, p.PostedAt, p.EngagementScore, pq.Array(p.Tickers), p.MetricID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *PostgresResearchStore) InsertSocialMetric(ctx context.Context, m domain.SocialMetric) error {
	const q = `
		INSERT INTO social_metrics (ticker, platform, volume, sentiment_label, sentiment_score, bull_bear_ratio, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := s.db.ExecContext(ctx, q, m.Ticker, m.Platform, m.Volume, m.SentimentLabel, m.SentimentScore, m.BullBearRatio, time.Now().UTC())
	return err
}

// LatestMetricsPerTicker returns the most recent row per (ticker, platform)
// pair, the derived view the Analysis Pipeline and Admin API read.
func (s *PostgresResearchStore) LatestMetricsPerTicker(ctx context.Context) ([]domain.SocialMetric, error) {
	const q = `
		SELECT DISTINCT ON (ticker, platform) id, ticker, platform, volume, sentiment_label, sentiment_score, bull_bear_ratio, created_at
		FROM social_metrics
		ORDER BY ticker, platform, created_at DESC`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SocialMetric
	for rows.Next() {
		var m domain.SocialMetric
		if err := rows.Scan(&m.ID, &m.Ticker, &m.Platform, &m.Volume, &m.SentimentLabel, &m.SentimentScore, &m.BullBearRatio, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresResearchStore) UpsertWatchedTickers(ctx context.Context, tickers []domain.WatchedTicker) error {
	const q = `
		INSERT INTO watched_tickers (ticker, priority_tier, is_active, source, source_count)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (ticker) DO UPDATE SET
			priority_tier = EXCLUDED.priority_tier, is_active = EXCLUDED.is_active,
			source = EXCLUDED.source, source_count = EXCLUDED.source_count`
	for _, t := range tickers {
		if _, err := s.db.ExecContext(ctx, q, t.Ticker, t.PriorityTier, t.IsActive, t.Source, t.SourceCount); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresResearchStore) ActiveWatchedTickers(ctx context.Context) ([]domain.WatchedTicker, error) {
	const q = `
		SELECT ticker, priority_tier, is_active, source, source_count
		FROM watched_tickers WHERE is_active = true
		ORDER BY priority_tier, ticker`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WatchedTicker
	for rows.Next() {
		var t domain.WatchedTicker
		if err := rows.Scan(&t.Ticker, &t.PriorityTier, &t.IsActive, &t.Source, &t.SourceCount); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func float64sToFloat32s(in []float64) []float32 {
	if in == nil {
		return nil
	}
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

func float32sToFloat64s(in []float32) []float64 {
	if in == nil {
		return nil
	}
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}
