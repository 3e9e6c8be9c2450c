// Package feed parses RSS 2.0 and Atom feeds and applies a junk-content
// filter, grounded on original_source/web_dashboard/rss_utils.py.
package feed

import (
	"encoding/xml"
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// MinContentLength and MinFinancialKeywordMatches mirror rss_utils.py's
// junk-filter thresholds exactly.
const (
	MinContentLength           = 100
	MinFinancialKeywordMatches = 1
)

// spamPhrases is checked case-insensitively against title+content.
var spamPhrases = []string{
	"sign up now", "click here", "subscribe today", "limited time offer",
	"act now", "buy now", "sponsored content", "advertisement",
}

// financialKeywords is the relevance vocabulary; a candidate article must
// contain at least MinFinancialKeywordMatches of these to pass the filter.
var financialKeywords = []string{
	"stock", "stocks", "share", "shares", "market", "markets", "trading", "trader",
	"investor", "investment", "portfolio", "equity", "equities",
	"earnings", "revenue", "profit", "loss", "eps", "ebitda", "cashflow",
	"sales", "margin", "growth", "valuation", "p/e", "price target",
	"ipo", "merger", "acquisition", "buyback", "dividend", "split",
	"sec", "nasdaq", "nyse", "tsx", "exchange", "fund", "etf", "index",
	"s&p", "dow", "russell", "ticker", "symbol",
	"bitcoin", "crypto", "cryptocurrency", "blockchain",
	"ceo", "cfo", "executive", "quarter", "quarterly", "fiscal", "guidance",
	"analyst", "forecast", "estimate", "rating", "upgrade", "downgrade",
}

var irrelevantCategories = []string{"sponsored", "advertisement", "press release", "promo"}

// Item is a single parsed, filter-passing feed entry.
type Item struct {
	Title       string
	URL         string
	Content     string
	Description string
	PublishedAt *time.Time
	Source      string
	Tickers     []string
	Categories  []string
}

// ParseResult is the outcome of parsing one feed, with filter stats for
// observability (SPEC_FULL.md §4.5).
type ParseResult struct {
	Items        []Item
	FeedURL      string
	Title        string
	Link         string
	TotalItems   int
	JunkFiltered int
}

type rssFeed struct {
	XMLName xml.Name  `xml:"rss"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title string    `xml:"title"`
	Link  string    `xml:"link"`
	Items []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string   `xml:"title"`
	Link        string   `xml:"link"`
	Description string   `xml:"description"`
	Content     string   `xml:"http://purl.org/rss/1.0/modules/content/ encoded"`
	PubDate     string   `xml:"pubDate"`
	Symbols     []string `xml:"symbol"`
	Categories  []string `xml:"category"`
}

type atomFeed struct {
	XMLName xml.Name    `xml:"feed"`
	Title   string      `xml:"title"`
	Links   []atomLink  `xml:"link"`
	Entries []atomEntry `xml:"entry"`
}

type atomLink struct {
	Rel  string `xml:"rel,attr"`
	Href string `xml:"href,attr"`
}

type atomEntry struct {
	Title      string          `xml:"title"`
	Links      []atomLink      `xml:"link"`
	Content    string          `xml:"content"`
	Summary    string          `xml:"summary"`
	Published  string          `xml:"published"`
	Updated    string          `xml:"updated"`
	Categories []atomCategory  `xml:"category"`
}

type atomCategory struct {
	Term string `xml:"term,attr"`
}

// Parse detects RSS vs Atom by root element and dispatches accordingly.
func Parse(body []byte, feedURL string) (*ParseResult, error) {
	var probe struct {
		XMLName xml.Name
	}
	if err := xml.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("parse feed xml: %w", err)
	}

	switch {
	case probe.XMLName.Local == "rss":
		return parseRSS(body, feedURL)
	case strings.HasSuffix(probe.XMLName.Local, "feed"):
		return parseAtom(body, feedURL)
	default:
		return nil, fmt.Errorf("unknown feed format: %s", probe.XMLName.Local)
	}
}

func parseRSS(body []byte, feedURL string) (*ParseResult, error) {
	var f rssFeed
	if err := xml.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("parse rss: %w", err)
	}

	result := &ParseResult{FeedURL: feedURL, Title: f.Channel.Title, Link: f.Channel.Link}
	for _, it := range f.Channel.Items {
		result.TotalItems++
		content := it.Content
		if content == "" {
			content = it.Description
		}
		if !passesJunkFilter(it.Title, content, it.Categories) {
			result.JunkFiltered++
			continue
		}

		var tickers []string
		for _, s := range it.Symbols {
			if t := strings.ToUpper(strings.TrimSpace(s)); t != "" {
				tickers = append(tickers, t)
			}
		}

		item := Item{
			Title:       it.Title,
			URL:         it.Link,
			Content:     stripHTML(content),
			Description: stripHTML(it.Description),
			PublishedAt: parseRFC822(it.PubDate),
			Source:      sourceFromURL(firstNonEmpty(it.Link, feedURL)),
			Tickers:     tickers,
			Categories:  it.Categories,
		}
		result.Items = append(result.Items, item)
	}
	return result, nil
}

func parseAtom(body []byte, feedURL string) (*ParseResult, error) {
	var f atomFeed
	if err := xml.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("parse atom: %w", err)
	}

	result := &ParseResult{FeedURL: feedURL, Title: f.Title, Link: atomAlternateLink(f.Links)}
	for _, e := range f.Entries {
		result.TotalItems++
		content := e.Content
		if content == "" {
			content = e.Summary
		}

		var categories []string
		for _, c := range e.Categories {
			if c.Term != "" {
				categories = append(categories, c.Term)
			}
		}

		if !passesJunkFilter(e.Title, content, categories) {
			result.JunkFiltered++
			continue
		}

		published := e.Published
		if published == "" {
			published = e.Updated
		}

		result.Items = append(result.Items, Item{
			Title:       e.Title,
			URL:         atomAlternateLink(e.Links),
			Content:     stripHTML(content),
			Description: stripHTML(e.Summary),
			PublishedAt: parseISO8601(published),
			Source:      sourceFromURL(firstNonEmpty(atomAlternateLink(e.Links), feedURL)),
			Categories:  categories,
		})
	}
	return result, nil
}

// passesJunkFilter implements rss_utils.py's _passes_junk_filter exactly:
// spam-phrase rejection, minimum length, category blocklist, then a
// financial-relevance keyword check.
func passesJunkFilter(title, content string, categories []string) bool {
	combined := strings.ToLower(title + " " + content)

	for _, phrase := range spamPhrases {
		if strings.Contains(combined, phrase) {
			return false
		}
	}

	if len(content) < MinContentLength {
		return false
	}

	for _, cat := range categories {
		lc := strings.ToLower(cat)
		for _, ic := range irrelevantCategories {
			if strings.Contains(lc, ic) {
				return false
			}
		}
	}

	matches := 0
	for _, kw := range financialKeywords {
		if strings.Contains(combined, kw) {
			matches++
			if matches >= MinFinancialKeywordMatches {
				break
			}
		}
	}
	return matches >= MinFinancialKeywordMatches
}

var htmlTagRE = regexp.MustCompile(`<[^>]+>`)

func stripHTML(s string) string {
	return strings.TrimSpace(htmlTagRE.ReplaceAllString(s, ""))
}

func parseRFC822(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := mail.ParseDate(s)
	if err != nil {
		return nil
	}
	return &t
}

func parseISO8601(s string) *time.Time {
	if s == "" {
		return nil
	}
	s = strings.Replace(s, "Z", "+00:00", 1)
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

func sourceFromURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	host := u.Hostname()
	return strings.TrimPrefix(host, "www.")
}

func atomAlternateLink(links []atomLink) string {
	for _, l := range links {
		if l.Rel == "alternate" || l.Rel == "" {
			return l.Href
		}
	}
	if len(links) > 0 {
		return links[0].Href
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
