package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CreamyG31337/portfolio-pipeline/infrastructure/logging"
)

func TestUnwrapXMLFromHTML_ExtractsFromPreTag(t *testing.T) {
	html := `<html><body><pre>&lt;?xml version="1.0"?&gt;&lt;rss&gt;&lt;channel&gt;&lt;title&gt;Feed&lt;/title&gt;&lt;/channel&gt;&lt;/rss&gt;</pre></body></html>`
	out := unwrapXMLFromHTML(html, "text/html")
	assert.Contains(t, string(out), "<rss>")
	assert.Contains(t, string(out), "</rss>")
}

func TestUnwrapXMLFromHTML_PassesThroughPlainXML(t *testing.T) {
	xml := `<?xml version="1.0"?><rss><channel><title>Feed</title></channel></rss>`
	out := unwrapXMLFromHTML(xml, "application/rss+xml")
	assert.Equal(t, xml, string(out))
}

func TestFetcher_AutoModeFallsBackToDirectWhenSolverUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`<rss><channel><title>ok</title></channel></rss>`))
	}))
	defer srv.Close()

	log := logging.New("fetcher-test", "error", "text")
	f := New(log, WithMode(ModeAuto)) // no solver URL configured -> immediate fallback

	body, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, string(body), "<rss>")
}

func TestFetcher_DirectModeSurfacesHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	log := logging.New("fetcher-test", "error", "text")
	f := New(log, WithMode(ModeDirect))
	f.retryConfig.MaxAttempts = 1

	_, err := f.Fetch(context.Background(), srv.URL)
	assert.Error(t, err)
}
