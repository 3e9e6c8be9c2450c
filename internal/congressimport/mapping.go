package congressimport

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/CreamyG31337/portfolio-pipeline/internal/domain"
)

var (
	tickerPattern    = regexp.MustCompile(`^[A-Z0-9.]{1,10}$`)
	partyCodePattern = regexp.MustCompile(`\(([DIR])\)|^([DIR])$|\b([DIR])\b`)
)

// amountBrackets mirrors the STOCK Act disclosure ranges the site buckets
// numeric trade sizes into when it reports a value instead of a range string.
var amountBrackets = []struct {
	ceiling float64
	label   string
}{
	{1000, "$1 - $1,000"},
	{15000, "$1,001 - $15,000"},
	{50000, "$15,001 - $50,000"},
	{100000, "$50,001 - $100,000"},
	{250000, "$100,001 - $250,000"},
	{500000, "$250,001 - $500,000"},
	{1000000, "$500,001 - $1,000,000"},
}

// cleanTicker extracts a ticker from the issuer object, handling the
// "NVDA:US" exchange-suffixed form, and rejects anything that doesn't look
// like a real symbol (invariant: only [A-Z0-9.] 1-10 chars).
func cleanTicker(issuer map[string]any) string {
	raw, _ := issuer["issuerTicker"].(string)
	if raw == "" {
		raw, _ = issuer["ticker"].(string)
	}
	if raw == "" {
		return ""
	}
	ticker := raw
	if idx := strings.Index(ticker, ":"); idx >= 0 {
		ticker = ticker[:idx]
	}
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" || ticker == "--" || ticker == "N/A" {
		return ""
	}
	if !tickerPattern.MatchString(ticker) {
		return ""
	}
	return ticker
}

// normalizeChamber maps any case/substring spelling of house or senate to
// the two canonical values; anything else is unknown.
func normalizeChamber(chamber string) string {
	lower := strings.ToLower(strings.TrimSpace(chamber))
	switch {
	case lower == "house" || strings.Contains(lower, "house"):
		return "House"
	case lower == "senate" || strings.Contains(lower, "senate"):
		return "Senate"
	default:
		return ""
	}
}

// normalizeTransactionType maps free-text transaction verbs to the four
// canonical values, defaulting to Purchase the way the source script does
// for anything it can't place (most unclassified entries in the source
// data are in fact purchases).
func normalizeTransactionType(txType string) string {
	lower := strings.ToLower(strings.TrimSpace(txType))
	switch {
	case lower == "":
		return ""
	case strings.Contains(lower, "buy") || strings.Contains(lower, "purchase"):
		return "Purchase"
	case strings.Contains(lower, "sell") || strings.Contains(lower, "sale"):
		return "Sale"
	case strings.Contains(lower, "exchange"):
		return "Exchange"
	case strings.Contains(lower, "receive"):
		return "Received"
	default:
		return "Purchase"
	}
}

// extractPartyFromText finds a party name or single-letter code (D/R/I) in
// free text such as a politician display string.
func extractPartyFromText(text string) string {
	lower := strings.ToLower(strings.TrimSpace(text))
	switch {
	case strings.Contains(lower, "democrat"):
		return "Democrat"
	case strings.Contains(lower, "republican"):
		return "Republican"
	case strings.Contains(lower, "independent"):
		return "Independent"
	}
	m := partyCodePattern.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return ""
	}
	code := strings.ToLower(firstNonEmpty(m[1], m[2], m[3]))
	switch code {
	case "d":
		return "Democrat"
	case "r":
		return "Republican"
	case "i":
		return "Independent"
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

func normalizeParty(raw string) string {
	lower := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case lower == "":
		return ""
	case lower == "r" || strings.Contains(lower, "republican"):
		return "Republican"
	case lower == "d" || strings.Contains(lower, "democrat"):
		return "Democrat"
	case lower == "i" || strings.Contains(lower, "independent"):
		return "Independent"
	case lower == "other" || lower == "none" || lower == "n/a" || lower == "na" || lower == "unknown" || lower == "unaffiliated":
		return "Independent"
	default:
		return ""
	}
}

// bucketAmount converts a numeric trade size into the disclosure range
// string the schema stores amounts as; values already given as a range
// string pass through untouched.
func bucketAmount(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return BracketFor(v)
	default:
		return ""
	}
}

// BracketFor converts a numeric trade size into the disclosure range
// string the schema stores amounts as (exported for the test-seed
// generator, which needs the same buckets for synthetic trade amounts).
func BracketFor(value float64) string {
	for _, b := range amountBrackets {
		if value <= b.ceiling {
			return b.label
		}
	}
	return "Over $1,000,000"
}

// parseTradeDate accepts either a bare YYYY-MM-DD date or a full ISO-8601
// timestamp, matching the two formats the source's txDate/pubDate fields
// can arrive in.
func parseTradeDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if strings.Contains(s, "T") {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, true
		}
	}
	if len(s) >= 10 {
		if t, err := time.Parse("2006-01-02", s[:10]); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// MapToSchema turns one scraped RawTrade into a domain.CongressTrade,
// reporting false when the trade lacks a field the schema requires
// (politician name, ticker, transaction date, or transaction type) — the
// same silent-skip behavior map_trade_to_schema has for unusable rows.
func MapToSchema(trade RawTrade, batchID string) (domain.CongressTrade, bool) {
	politician := trade.Politician
	if politician == nil {
		politician = map[string]any{}
	}

	firstName := strings.TrimSpace(stringField(politician, "firstName"))
	lastName := strings.TrimSpace(stringField(politician, "lastName"))
	politicianName := strings.TrimSpace(fmt.Sprintf("%s %s", firstName, lastName))
	if politicianName == "" {
		return domain.CongressTrade{}, false
	}

	chamber := normalizeChamber(stringField(politician, "chamber", "office"))
	if chamber == "" {
		chamber = "House"
	}

	party := normalizeParty(stringField(politician, "party", "partyAffiliation", "politicalParty", "partyName", "partyCode", "partyLabel"))
	if party == "" {
		party = extractPartyFromText(politicianName)
	}
	if party == "" {
		party = extractPartyFromText(stringField(politician, "chamber", "office"))
	}

	issuer := trade.Issuer
	if issuer == nil {
		issuer = map[string]any{}
	}
	ticker := cleanTicker(issuer)
	if ticker == "" {
		return domain.CongressTrade{}, false
	}

	txDate, ok := parseTradeDate(trade.TxDate)
	if !ok {
		return domain.CongressTrade{}, false
	}
	filingDate, ok := parseTradeDate(trade.PubDate)
	if !ok {
		filingDate = txDate
	}

	txType := normalizeTransactionType(trade.TxType)
	if txType == "" {
		return domain.CongressTrade{}, false
	}

	amount := bucketAmount(trade.Value)
	if amount == "" {
		amount = bucketAmount(trade.TxSize)
	}

	return domain.CongressTrade{
		Politician:      politicianName,
		Chamber:         chamber,
		Party:           party,
		Ticker:          ticker,
		TransactionDate: txDate,
		TransactionType: txType,
		Amount:          amount,
		FilingDate:      filingDate,
		BatchID:         batchID,
	}, true
}
