// Package congressimport implements the scraping and schema mapping half
// of the seed-congress-trades CLI subcommand: pulling raw trade objects out
// of a congressional-trading site's server-rendered Next.js payload and
// normalizing them into domain.CongressTrade rows. Grounded on
// original_source/web_dashboard/scripts/seed_congress_trades_staging.py's
// extract_trade_data_from_html/map_trade_to_schema pair; the Python's large
// politician-state lookup cascade has no port here since domain.CongressTrade
// carries no state column.
package congressimport

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// RawTrade is one scraped trade object, keyed the way the site's embedded
// Next.js payload keys it (snake/camel mix preserved from source).
type RawTrade struct {
	TxID        json.Number    `json:"_txId"`
	Politician  map[string]any `json:"politician"`
	Issuer      map[string]any `json:"issuer"`
	TxDate      string         `json:"txDate"`
	PubDate     string         `json:"pubDate"`
	TxType      string         `json:"txType"`
	Value       any            `json:"value"`
	TxSize      any            `json:"txSize"`
	Owner       string         `json:"owner"`
	Price       any            `json:"price"`
	Tooltip     string         `json:"tooltip"`
	Description string         `json:"description"`
}

var txIDPattern = regexp.MustCompile(`"_txId"\s*:\s*(\d+)`)

// ExtractTradesFromHTML pulls every __next_f.push script's text out of the
// document, then scans for "_txId" anchors and balances braces around each
// one to isolate the enclosing JSON object, exactly as the source script's
// backward/forward brace walk does.
func ExtractTradesFromHTML(html string) ([]RawTrade, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	var script strings.Builder
	doc.Find("script").Each(func(_ int, sel *goquery.Selection) {
		text := sel.Text()
		if strings.Contains(text, "__next_f.push") {
			script.WriteString(text)
		}
	})
	if script.Len() == 0 {
		return nil, nil
	}

	unescaped := strings.ReplaceAll(script.String(), `\"`, `"`)
	unescaped = strings.ReplaceAll(unescaped, `\\`, `\`)

	matches := txIDPattern.FindAllStringSubmatchIndex(unescaped, -1)
	seen := make(map[string]bool, len(matches))
	trades := make([]RawTrade, 0, len(matches))

	for _, m := range matches {
		start := m[0]
		objStart := findObjectStart(unescaped, start)
		objEnd := findObjectEnd(unescaped, objStart)
		if objEnd <= objStart {
			continue
		}

		var trade RawTrade
		if err := json.Unmarshal([]byte(unescaped[objStart:objEnd]), &trade); err != nil {
			continue
		}
		id := trade.TxID.String()
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		trades = append(trades, trade)
	}

	return trades, nil
}

// findObjectStart walks backward from a "_txId" match to the brace that
// opens its enclosing object, tracking nested closing braces the same way
// the source's backward scan does.
func findObjectStart(s string, from int) int {
	depth := 0
	for i := from; i >= 0; i-- {
		switch s[i] {
		case '}':
			depth++
		case '{':
			if depth == 0 {
				return i
			}
			depth--
		}
	}
	return from
}

// findObjectEnd walks forward from an opening brace to its matching close.
func findObjectEnd(s string, objStart int) int {
	if objStart >= len(s) || s[objStart] != '{' {
		return objStart
	}
	depth := 1
	for i := objStart + 1; i < len(s); i++ {
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return len(s)
}
