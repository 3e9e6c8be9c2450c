package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsTradingDay(t *testing.T) {
	m := NewMarket("America/New_York", []string{"2025-06-19"})

	sat := time.Date(2025, 6, 21, 12, 0, 0, 0, m.Location)
	assert.False(t, m.IsTradingDay(sat), "Saturday is never a trading day")

	holiday := time.Date(2025, 6, 19, 12, 0, 0, 0, m.Location)
	assert.False(t, m.IsTradingDay(holiday), "configured holiday is not a trading day")

	weekday := time.Date(2025, 6, 18, 12, 0, 0, 0, m.Location)
	assert.True(t, m.IsTradingDay(weekday))
}

func TestEffectiveTTL(t *testing.T) {
	m := NewMarket("America/New_York", nil)

	duringHours := time.Date(2025, 6, 18, 10, 0, 0, 0, m.Location)
	assert.Equal(t, 300*time.Second, m.EffectiveTTL(duringHours))

	afterHours := time.Date(2025, 6, 18, 20, 0, 0, 0, m.Location)
	assert.Equal(t, 3600*time.Second, m.EffectiveTTL(afterHours))

	weekend := time.Date(2025, 6, 21, 10, 0, 0, 0, m.Location)
	assert.Equal(t, 3600*time.Second, m.EffectiveTTL(weekend))
}

func TestLastNTradingDays(t *testing.T) {
	m := NewMarket("America/New_York", nil)
	asOf := time.Date(2025, 6, 18, 0, 0, 0, 0, m.Location) // Wednesday

	days := m.LastNTradingDays(asOf, 5)
	assert.Len(t, days, 5)
	assert.True(t, days[len(days)-1].Equal(asOf))
	for _, d := range days {
		assert.True(t, m.IsTradingDay(d))
	}
}
