package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CreamyG31337/portfolio-pipeline/internal/domain"
)

func TestOllamaBackend_CompleteParsesStreamedJSONChunks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chunks := []string{
			`{"message":{"content":"{\"summary\":"},"done":false}`,
			`{"message":{"content":"\"quarter was strong\",\"sentiment\":\"BULLISH\",\"sentiment_score\":0.7,\"claims\":[],\"fact_check\":\"ok\",\"conclusion\":\"buy\",\"relevance_score\":0.9}"},"done":true}`,
		}
		for _, c := range chunks {
			fmt.Fprintln(w, c)
		}
	}))
	defer srv.Close()

	backend := NewOllamaBackend(srv.URL, "llama3", 0)
	result, err := backend.Complete(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, "quarter was strong", result.Summary)
	assert.Equal(t, "BULLISH", result.Sentiment)
	assert.InDelta(t, 0.7, result.SentimentScore, 0.0001)
}

func TestOllamaBackend_Embed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"embedding":[0.1,0.2,0.3]}`)
	}))
	defer srv.Close()

	backend := NewOllamaBackend(srv.URL, "llama3", 0)
	vec, err := backend.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Len(t, vec, 3)
	assert.InDelta(t, 0.2, vec[1], 0.0001)
}

func TestSentimentFromScore(t *testing.T) {
	assert.Equal(t, domain.SentimentVeryBullish, SentimentFromScore(0.9))
	assert.Equal(t, domain.SentimentBullish, SentimentFromScore(0.3))
	assert.Equal(t, domain.SentimentNeutral, SentimentFromScore(0.0))
	assert.Equal(t, domain.SentimentBearish, SentimentFromScore(-0.3))
	assert.Equal(t, domain.SentimentVeryBearish, SentimentFromScore(-0.9))
}

type stubCookieProvider struct {
	bundle *domain.CookieBundle
	err    error
}

func (s stubCookieProvider) Current() (*domain.CookieBundle, error) { return s.bundle, s.err }

func TestCookieWebBackend_RequiresValidSession(t *testing.T) {
	backend := NewCookieWebBackend(stubCookieProvider{bundle: &domain.CookieBundle{}}, "glm-web")
	_, err := backend.Complete(context.Background(), "s", "u")
	assert.Error(t, err)
}
