package appconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("RESEARCH_DATABASE_URL", "postgres://localhost/research")
	t.Setenv("ADMIN_API_TOKEN", "test-token")
}

func TestLoad_AppliesDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "http://flaresolverr:8191", cfg.Fetcher.SolverURL)
	assert.True(t, cfg.Fetcher.RobotsTxtEnabled)
	assert.Equal(t, "llama3", cfg.LLM.OllamaModel)
	assert.Equal(t, 8090, cfg.AdminAPI.Port)
	assert.True(t, cfg.AdminAPI.MetricsEnabled)
	assert.Equal(t, "America/New_York", cfg.Scheduler.Timezone)
}

func TestLoad_ProductionDefaultsToJSONLogs(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestLoad_ExplicitLogFormatOverridesDefault(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("APP_ENV", "production")
	t.Setenv("LOG_FORMAT", "text")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "text", cfg.LogFormat)
}

func TestLoad_MissingRequiredFieldFails(t *testing.T) {
	t.Setenv("ADMIN_API_TOKEN", "test-token")
	// RESEARCH_DATABASE_URL intentionally unset.

	_, err := Load()
	assert.Error(t, err)
}

func TestResolveInitialCookieBundle_PrefersRawJSONOverOthers(t *testing.T) {
	cfg := CookiesConfig{
		CookiesJSON: `{"__Secure-1PSID":"from-json"}`,
		Secure1PSID: "from-fields",
	}
	bundle, err := cfg.ResolveInitialCookieBundle()
	require.NoError(t, err)
	require.NotNil(t, bundle)
	assert.Equal(t, "from-json", bundle.Secure1PSID)
}

func TestResolveInitialCookieBundle_FallsBackToBase64(t *testing.T) {
	// {"__Secure-1PSID":"from-b64"}
	cfg := CookiesConfig{CookiesJSONB64: "eyJfX1NlY3VyZS0xUFNJRCI6ImZyb20tYjY0In0="}
	bundle, err := cfg.ResolveInitialCookieBundle()
	require.NoError(t, err)
	require.NotNil(t, bundle)
	assert.Equal(t, "from-b64", bundle.Secure1PSID)
}

func TestResolveInitialCookieBundle_FallsBackToIndividualFields(t *testing.T) {
	cfg := CookiesConfig{Secure1PSID: "sid", Secure1PSIDTS: "ts"}
	bundle, err := cfg.ResolveInitialCookieBundle()
	require.NoError(t, err)
	require.NotNil(t, bundle)
	assert.Equal(t, "sid", bundle.Secure1PSID)
	assert.Equal(t, "ts", bundle.Secure1PSIDTS)
}

func TestResolveInitialCookieBundle_NoneSetReturnsNil(t *testing.T) {
	bundle, err := CookiesConfig{}.ResolveInitialCookieBundle()
	require.NoError(t, err)
	assert.Nil(t, bundle)
}

func TestResolveInitialCookieBundle_InvalidJSONErrors(t *testing.T) {
	cfg := CookiesConfig{CookiesJSON: "not-json"}
	_, err := cfg.ResolveInitialCookieBundle()
	assert.Error(t, err)
}
