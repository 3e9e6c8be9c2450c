package congressimport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractTradesFromHTML_FindsEmbeddedTrade(t *testing.T) {
	html := `<html><body>
<script>self.__next_f.push([1,"trade wrapper noise {\"_txId\":12345,\"politician\":{\"firstName\":\"Jane\",\"lastName\":\"Doe\",\"chamber\":\"Senate\",\"party\":\"Democrat\"},\"issuer\":{\"issuerTicker\":\"NVDA:US\",\"issuerName\":\"NVIDIA Corp\"},\"txDate\":\"2024-03-01\",\"pubDate\":\"2024-03-15\",\"txType\":\"buy\",\"value\":75000} trailing noise"])</script>
</body></html>`

	trades, err := ExtractTradesFromHTML(html)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "12345", trades[0].TxID.String())
	assert.Equal(t, "2024-03-01", trades[0].TxDate)
}

func TestExtractTradesFromHTML_DeduplicatesByTxID(t *testing.T) {
	html := `<script>self.__next_f.push([1,"a {\"_txId\":1,\"politician\":{},\"issuer\":{}} b {\"_txId\":1,\"politician\":{},\"issuer\":{}} c"])</script>`

	trades, err := ExtractTradesFromHTML(html)
	require.NoError(t, err)
	assert.Len(t, trades, 1)
}

func TestExtractTradesFromHTML_NoNextScriptsReturnsEmpty(t *testing.T) {
	trades, err := ExtractTradesFromHTML(`<html><body>no data here</body></html>`)
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestMapToSchema_HappyPath(t *testing.T) {
	trade := RawTrade{
		Politician: map[string]any{
			"firstName": "Jane",
			"lastName":  "Doe",
			"chamber":   "Senate",
			"party":     "Democrat",
		},
		Issuer: map[string]any{
			"issuerTicker": "NVDA:US",
			"issuerName":   "NVIDIA Corp",
		},
		TxDate:  "2024-03-01",
		PubDate: "2024-03-15",
		TxType:  "buy",
		Value:   float64(75000),
	}

	row, ok := MapToSchema(trade, "batch-1")
	require.True(t, ok)
	assert.Equal(t, "Jane Doe", row.Politician)
	assert.Equal(t, "Senate", row.Chamber)
	assert.Equal(t, "Democrat", row.Party)
	assert.Equal(t, "NVDA", row.Ticker)
	assert.Equal(t, "Purchase", row.TransactionType)
	assert.Equal(t, "$50,001 - $100,000", row.Amount)
	assert.Equal(t, "batch-1", row.BatchID)
}

func TestMapToSchema_MissingTickerSkips(t *testing.T) {
	trade := RawTrade{
		Politician: map[string]any{"firstName": "Jane", "lastName": "Doe"},
		Issuer:     map[string]any{},
		TxDate:     "2024-03-01",
		TxType:     "buy",
	}
	_, ok := MapToSchema(trade, "batch-1")
	assert.False(t, ok)
}

func TestMapToSchema_MissingPoliticianNameSkips(t *testing.T) {
	trade := RawTrade{
		Issuer: map[string]any{"issuerTicker": "NVDA"},
		TxDate: "2024-03-01",
		TxType: "buy",
	}
	_, ok := MapToSchema(trade, "batch-1")
	assert.False(t, ok)
}

func TestMapToSchema_PartyFallsBackToTextExtraction(t *testing.T) {
	trade := RawTrade{
		Politician: map[string]any{"firstName": "Angus", "lastName": "King (I)"},
		Issuer:     map[string]any{"issuerTicker": "AAPL"},
		TxDate:     "2024-01-05",
		TxType:     "sell",
	}
	row, ok := MapToSchema(trade, "batch-2")
	require.True(t, ok)
	assert.Equal(t, "Independent", row.Party)
	assert.Equal(t, "Sale", row.TransactionType)
}

func TestBracketFor(t *testing.T) {
	cases := []struct {
		value float64
		want  string
	}{
		{500, "$1 - $1,000"},
		{10000, "$1,001 - $15,000"},
		{2000000, "Over $1,000,000"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, BracketFor(c.value))
	}
}

func TestCleanTicker_RejectsInvalid(t *testing.T) {
	assert.Equal(t, "", cleanTicker(map[string]any{"issuerTicker": "--"}))
	assert.Equal(t, "", cleanTicker(map[string]any{"issuerTicker": "N/A"}))
	assert.Equal(t, "BRK.B", cleanTicker(map[string]any{"issuerTicker": "BRK.B:US"}))
}
