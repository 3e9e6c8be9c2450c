package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/CreamyG31337/portfolio-pipeline/internal/clock"
	"github.com/CreamyG31337/portfolio-pipeline/internal/domain"
	"github.com/CreamyG31337/portfolio-pipeline/internal/fetcher"
	"github.com/CreamyG31337/portfolio-pipeline/internal/pipeline"
	"github.com/CreamyG31337/portfolio-pipeline/internal/store"
	"github.com/CreamyG31337/portfolio-pipeline/infrastructure/errors"
	"github.com/CreamyG31337/portfolio-pipeline/infrastructure/logging"
)

// InsiderLookback bounds how old a disclosed transaction may be before it
// is dropped rather than stored, matching jobs_insiders.py's 7-day cutoff.
const InsiderLookback = 7 * 24 * time.Hour

// embeddedTradesPattern matches the page's inline script assignment of its
// trades table to a JS array literal, grounded on jobs_insiders.py's
// `recentInsiderTransactionsData` / `topMonthlyInsiderTransactionsData`
// regex.
var embeddedTradesPattern = regexp.MustCompile(`(?s)(?:recentInsiderTransactionsData|topMonthlyInsiderTransactionsData)\s*=\s*(\[.*?\]);`)

var parenthesizedTime = regexp.MustCompile(`\s*\([^)]+\)`)

type rawTrade struct {
	IssuerTradingSymbol      string      `json:"issuerTradingSymbol"`
	RptOwnerName             string      `json:"rptOwnerName"`
	OfficerTitle             string      `json:"officerTitle"`
	TransactionCode          string      `json:"transactionCode"`
	TransactionShares        json.Number `json:"transactionShares"`
	TransactionPricePerShare json.Number `json:"transactionPricePerShare"`
	TransactionValue         json.Number `json:"transactionValue"`
	TransactionDate          string      `json:"transactionDate"`
	FileDate                 string      `json:"fileDate"`
}

// InsiderJob scrapes a corporate-insider-trading disclosure page embedding
// its table as an inline JS array, grounded end to end on
// jobs_insiders.py's fetch_insider_trades_job. SourceURL is configured by
// the caller rather than hardcoded, since the upstream site is an
// operational detail, not a language feature.
type InsiderJob struct {
	SourceURL string
	Fetcher   *fetcher.Fetcher
	Robots    *pipeline.RobotsChecker
	Store     store.OperationalStore
	Clk       clock.Clock
	Log       *logging.Logger
}

// Run fetches the page, extracts the embedded trades array, filters out
// transactions older than InsiderLookback, and upserts the rest. This is
// not a calculation job: the source page only ever shows a rolling recent
// window, so a retried run cannot reproduce a past target_date's exact
// output and the watchdog does not auto-retry it.
func (j *InsiderJob) Run(ctx context.Context, targetDate time.Time, entityID string) error {
	if j.Robots != nil {
		if err := j.Robots.Allow(ctx, j.SourceURL); err != nil {
			return err
		}
	}

	body, err := j.Fetcher.Fetch(ctx, j.SourceURL)
	if err != nil {
		return fmt.Errorf("fetch insider trades source: %w", err)
	}

	raw, err := extractEmbeddedTrades(body)
	if err != nil {
		return errors.FetchParseError(j.SourceURL, err)
	}
	if len(raw) == 0 {
		return fmt.Errorf("no embedded insider trades data found on page")
	}

	now := j.clock().Now()
	cutoff := now.Add(-InsiderLookback)

	trades := make([]domain.InsiderTrade, 0, len(raw))
	skippedOld, skippedInvalid := 0, 0

	for _, r := range raw {
		ticker := strings.ToUpper(strings.TrimSpace(r.IssuerTradingSymbol))
		if ticker == "" {
			skippedInvalid++
			continue
		}

		txDate, ok := parseTradeDate(r.TransactionDate)
		if !ok {
			skippedInvalid++
			continue
		}
		if txDate.Before(cutoff) {
			skippedOld++
			continue
		}

		fileDate, ok := parseTradeDate(parenthesizedTime.ReplaceAllString(r.FileDate, ""))
		if !ok {
			fileDate = txDate
		}

		trades = append(trades, domain.InsiderTrade{
			Ticker:          ticker,
			InsiderName:     strings.TrimSpace(r.RptOwnerName),
			Title:           normalizeTitle(r.OfficerTitle),
			TransactionDate: txDate,
			Type:            classifyTradeType(r.TransactionCode),
			Shares:          numberOrZero(r.TransactionShares),
			PricePerShare:   numberOrZero(r.TransactionPricePerShare),
			Value:           numberOrZero(r.TransactionValue),
			FilingDate:      fileDate,
		})
	}

	inserted, duplicates, err := j.Store.UpsertInsiderTrades(ctx, trades)
	if err != nil {
		return errors.PipelinePersistFailed(j.SourceURL, err)
	}

	j.Log.Infof(
		"insider_trades: found %d, %d new, %d duplicates, %d too old, %d invalid",
		len(raw), inserted, duplicates, skippedOld, skippedInvalid,
	)
	return nil
}

func (j *InsiderJob) clock() clock.Clock {
	if j.Clk != nil {
		return j.Clk
	}
	return clock.Real{}
}

// extractEmbeddedTrades finds the page's inline trades array and decodes
// it as JSON. The source embeds the array using single-quoted,
// Python-dict-style literals rather than strict JSON, so quotes and the
// Python boolean/null spellings are normalized first, matching
// jobs_insiders.py's json_str_fixed conversion (the eval() fallback it
// falls back to is not reproduced here: a failed normalization is treated
// as a parse error instead of executing arbitrary page content).
func extractEmbeddedTrades(body []byte) ([]rawTrade, error) {
	match := embeddedTradesPattern.FindSubmatch(body)
	if match == nil {
		return nil, nil
	}

	jsonLike := string(match[1])
	jsonLike = strings.ReplaceAll(jsonLike, "'", `"`)
	jsonLike = strings.ReplaceAll(jsonLike, "True", "true")
	jsonLike = strings.ReplaceAll(jsonLike, "False", "false")
	jsonLike = strings.ReplaceAll(jsonLike, "None", "null")

	var trades []rawTrade
	if err := json.Unmarshal([]byte(jsonLike), &trades); err != nil {
		return nil, fmt.Errorf("decode embedded trades array: %w", err)
	}
	return trades, nil
}

func classifyTradeType(code string) string {
	lower := strings.ToLower(code)
	switch {
	case strings.Contains(lower, "purchase"), strings.Contains(lower, "buy"):
		return "Purchase"
	case strings.Contains(lower, "sale"), strings.Contains(lower, "sell"):
		return "Sale"
	case code == "":
		return "Unknown"
	default:
		return strings.ToUpper(code[:1]) + strings.ToLower(code[1:])
	}
}

func normalizeTitle(title string) string {
	t := strings.TrimSpace(title)
	if t == "-" {
		return ""
	}
	return t
}

func numberOrZero(n json.Number) float64 {
	v, err := strconv.ParseFloat(n.String(), 64)
	if err != nil {
		return 0
	}
	return v
}

// tradeDateLayouts mirrors jobs_insiders.py's fallback chain: the page's
// native format first, then a handful of common alternatives.
var tradeDateLayouts = []string{
	"Jan 2, 2006",
	"2006-01-02",
	"01/02/2006",
	"02/01/2006",
	"January 2, 2006",
}

func parseTradeDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range tradeDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
