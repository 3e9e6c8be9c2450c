package clock

import "time"

// Market is a trading-day and market-hours predicate for a single exchange
// calendar. It deliberately ignores intraday half-days; the source system
// treats those as a known gap (see original jobs_watchdog "any" market
// mode, which only checks weekday + holiday list).
type Market struct {
	Location  *time.Location
	Holidays  map[string]struct{} // "YYYY-MM-DD" in Location
	OpenHour  int
	OpenMin   int
	CloseHour int
	CloseMin  int
}

// NewMarket builds a Market for the given IANA location with the standard
// 09:30-16:00 session. Falls back to UTC if the location name is invalid.
func NewMarket(location string, holidays []string) Market {
	loc, err := time.LoadLocation(location)
	if err != nil {
		loc = time.UTC
	}
	h := make(map[string]struct{}, len(holidays))
	for _, d := range holidays {
		h[d] = struct{}{}
	}
	return Market{
		Location:  loc,
		Holidays:  h,
		OpenHour:  9,
		OpenMin:   30,
		CloseHour: 16,
		CloseMin:  0,
	}
}

// IsTradingDay reports whether t's calendar date (in the market's location)
// is a weekday that is not in the holiday list.
func (m Market) IsTradingDay(t time.Time) bool {
	local := t.In(m.Location)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	_, isHoliday := m.Holidays[local.Format("2006-01-02")]
	return !isHoliday
}

// IsMarketHours reports whether t falls within the regular trading session
// on a trading day.
func (m Market) IsMarketHours(t time.Time) bool {
	if !m.IsTradingDay(t) {
		return false
	}
	local := t.In(m.Location)
	open := time.Date(local.Year(), local.Month(), local.Day(), m.OpenHour, m.OpenMin, 0, 0, m.Location)
	closeT := time.Date(local.Year(), local.Month(), local.Day(), m.CloseHour, m.CloseMin, 0, 0, m.Location)
	return !local.Before(open) && local.Before(closeT)
}

// LastNTradingDays walks backward from asOf (inclusive) and returns the
// last n trading days in ascending order.
func (m Market) LastNTradingDays(asOf time.Time, n int) []time.Time {
	days := make([]time.Time, 0, n)
	cursor := time.Date(asOf.Year(), asOf.Month(), asOf.Day(), 0, 0, 0, 0, m.Location)
	for len(days) < n {
		if m.IsTradingDay(cursor) {
			days = append(days, cursor)
		}
		cursor = cursor.AddDate(0, 0, -1)
	}
	// reverse into ascending order
	for i, j := 0, len(days)-1; i < j; i, j = i+1, j-1 {
		days[i], days[j] = days[j], days[i]
	}
	return days
}

// EffectiveTTL implements the market-hours-aware cache TTL policy of
// SPEC_FULL.md §4.9: 300s during market hours, 3600s otherwise.
func (m Market) EffectiveTTL(t time.Time) time.Duration {
	if m.IsMarketHours(t) {
		return 300 * time.Second
	}
	return 3600 * time.Second
}
