// Package appconfig composes the pipeline's environment-variable driven
// configuration into one Config struct, assembled once at process start
// in cmd/pipelinectl and passed explicitly to component constructors.
// There is no global config singleton; callers that need a value receive
// it through a constructor argument, never through a package-level getter.
package appconfig

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/CreamyG31337/portfolio-pipeline/infrastructure/config"
	"github.com/CreamyG31337/portfolio-pipeline/internal/domain"
)

// FetcherConfig configures the HTTP Fetcher (§4.4).
type FetcherConfig struct {
	SolverURL         string `env:"FLARESOLVERR_URL,default=http://flaresolverr:8191"`
	RobotsTxtEnabled  bool   `env:"ENABLE_ROBOTS_TXT_CHECKS,default=true"`
	CongressTradesURL string `env:"CONGRESS_TRADES_BASE_URL"`
}

// LLMConfig configures the LLM Adapter's two backends: a local Ollama
// instance and the optional ZhipuAI-backed remote chat model.
type LLMConfig struct {
	OllamaBaseURL string        `env:"OLLAMA_BASE_URL,default=http://ollama:11434"`
	OllamaModel   string        `env:"OLLAMA_MODEL,default=llama3"`
	OllamaTimeout time.Duration `env:"OLLAMA_TIMEOUT,default=30s"`
	OllamaEnabled bool          `env:"OLLAMA_ENABLED,default=true"`
	ZhipuAPIKey   string        `env:"ZHIPU_API_KEY"`
}

// CookiesConfig configures the Cookie Refresher sidecar and the initial
// cookie bundle readers fall back to when no on-disk bundle exists yet.
type CookiesConfig struct {
	CookiesJSON     string        `env:"WEBAI_COOKIES_JSON"`
	CookiesJSONB64  string        `env:"WEBAI_COOKIES_JSON_B64"`
	Secure1PSID     string        `env:"WEBAI_SECURE_1PSID"`
	Secure1PSIDTS   string        `env:"WEBAI_SECURE_1PSIDTS"`
	AIServiceWebURL string        `env:"AI_SERVICE_WEB_URL"`
	DriverBinPath   string        `env:"COOKIE_DRIVER_BIN,default=/usr/local/bin/cookie-browser-driver"`
	RefreshInterval time.Duration `env:"COOKIE_REFRESH_INTERVAL,default=6h"`
	OutputFile      string        `env:"COOKIE_OUTPUT_FILE,default=/shared/webai_cookies.json"`
	InputFile       string        `env:"COOKIE_INPUT_FILE"`
}

// PersistenceConfig points at the research and operational databases.
type PersistenceConfig struct {
	SupabaseURL            string `env:"SUPABASE_URL"`
	SupabaseDatabaseURL    string `env:"SUPABASE_DATABASE_URL"`
	ResearchDatabaseURL    string `env:"RESEARCH_DATABASE_URL,required"`
	SupabasePublishableKey string `env:"SUPABASE_PUBLISHABLE_KEY"`
}

// AdminAPIConfig configures the Admin HTTP API (§6).
type AdminAPIConfig struct {
	AdminToken     string `env:"ADMIN_API_TOKEN,required"`
	Port           int    `env:"ADMIN_API_PORT,default=8090"`
	MetricsEnabled bool   `env:"METRICS_ENABLED,default=true"`
}

// SchedulerConfig configures cron interpretation.
type SchedulerConfig struct {
	Timezone string `env:"SCHEDULER_TIMEZONE,default=America/New_York"`
}

// Config is the fully assembled, typed configuration for one process. It
// is built once by Load and threaded explicitly into every component's
// constructor; nothing in this package or any caller reads os.Getenv
// directly after Load returns.
type Config struct {
	AppEnv      string
	LogLevel    string
	LogFormat   string
	Fetcher     FetcherConfig
	LLM         LLMConfig
	Cookies     CookiesConfig
	Persistence PersistenceConfig
	AdminAPI    AdminAPIConfig
	Scheduler   SchedulerConfig
}

// Load reads .env (if present, local development only — a missing file is
// not an error) then decodes environment variables into a Config,
// applying the APP_ENV-gated defaults §6 describes for log format.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("appconfig: loading .env: %w", err)
	}

	cfg := &Config{
		AppEnv: config.GetEnv("APP_ENV", "development"),
	}
	if err := envdecode.Decode(cfg); err != nil {
		return nil, fmt.Errorf("appconfig: %w", err)
	}

	cfg.LogLevel = config.GetEnv("LOG_LEVEL", "info")
	cfg.LogFormat = config.GetEnv("LOG_FORMAT", defaultLogFormat(cfg.AppEnv))

	return cfg, nil
}

// defaultLogFormat mirrors the teacher's own dev/prod split: human-readable
// text locally, structured JSON once deployed.
func defaultLogFormat(appEnv string) string {
	if appEnv == "production" {
		return "json"
	}
	return "text"
}

// ResolveInitialCookieBundle builds the seed CookieBundle the refresher
// writes to OutputFile on first start, from WEBAI_COOKIES_JSON,
// WEBAI_COOKIES_JSON_B64, or the individual SID/TS pair, tried in that
// priority order (§6's "cookie provisioning, in priority order"). Returns
// nil, nil if none of the three sources are set — the refresher then
// starts from whatever bundle (if any) already exists at InputFile.
func (c CookiesConfig) ResolveInitialCookieBundle() (*domain.CookieBundle, error) {
	if c.CookiesJSON != "" {
		var bundle domain.CookieBundle
		if err := json.Unmarshal([]byte(c.CookiesJSON), &bundle); err != nil {
			return nil, fmt.Errorf("appconfig: WEBAI_COOKIES_JSON: %w", err)
		}
		return &bundle, nil
	}
	if c.CookiesJSONB64 != "" {
		raw, err := base64.StdEncoding.DecodeString(c.CookiesJSONB64)
		if err != nil {
			return nil, fmt.Errorf("appconfig: WEBAI_COOKIES_JSON_B64: %w", err)
		}
		var bundle domain.CookieBundle
		if err := json.Unmarshal(raw, &bundle); err != nil {
			return nil, fmt.Errorf("appconfig: WEBAI_COOKIES_JSON_B64: %w", err)
		}
		return &bundle, nil
	}
	if c.Secure1PSID != "" {
		return &domain.CookieBundle{
			Secure1PSID:   c.Secure1PSID,
			Secure1PSIDTS: c.Secure1PSIDTS,
		}, nil
	}
	return nil, nil
}
