package feed

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_RSSFiltersJunkAndKeepsRelevantItems(t *testing.T) {
	goodContent := "Apple reported strong quarterly earnings and revenue growth, beating analyst estimates for the stock this quarter with solid guidance. " +
		strings.Repeat("More detail about the market reaction. ", 3)
	body := `<?xml version="1.0"?>
<rss version="2.0">
  <channel>
    <title>Test Feed</title>
    <link>https://example.com</link>
    <item>
      <title>Apple beats earnings</title>
      <link>https://example.com/aapl</link>
      <description>` + goodContent + `</description>
      <pubDate>Mon, 02 Jan 2026 15:04:05 GMT</pubDate>
      <symbol>AAPL</symbol>
      <category>Markets</category>
    </item>
    <item>
      <title>Click here to win a prize</title>
      <link>https://example.com/spam</link>
      <description>Sign up now for this limited time offer, click here!</description>
    </item>
    <item>
      <title>Too short</title>
      <link>https://example.com/short</link>
      <description>stock market</description>
    </item>
  </channel>
</rss>`

	result, err := Parse([]byte(body), "https://example.com/feed.xml")
	require.NoError(t, err)
	assert.Equal(t, 3, result.TotalItems)
	assert.Equal(t, 2, result.JunkFiltered)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "Apple beats earnings", result.Items[0].Title)
	assert.Equal(t, []string{"AAPL"}, result.Items[0].Tickers)
	assert.Equal(t, "example.com", result.Items[0].Source)
}

func TestParse_AtomFeed(t *testing.T) {
	goodContent := "The market rally continued as investors cheered strong earnings and revenue across the technology sector this quarter with upgraded guidance. " +
		strings.Repeat("Additional analysis follows. ", 3)
	body := `<?xml version="1.0"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Feed</title>
  <link rel="alternate" href="https://example.com"/>
  <entry>
    <title>Market rally continues</title>
    <link rel="alternate" href="https://example.com/rally"/>
    <summary>` + goodContent + `</summary>
    <published>2026-01-02T15:04:05Z</published>
  </entry>
</feed>`

	result, err := Parse([]byte(body), "https://example.com/atom.xml")
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "Market rally continues", result.Items[0].Title)
	require.NotNil(t, result.Items[0].PublishedAt)
}

func TestPassesJunkFilter_RejectsIrrelevantCategory(t *testing.T) {
	longEnough := strings.Repeat("market stock trading ", 10)
	assert.False(t, passesJunkFilter("Some headline", longEnough, []string{"Sponsored"}))
}
