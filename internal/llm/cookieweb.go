package llm

import (
	"context"
	"fmt"

	"github.com/CreamyG31337/portfolio-pipeline/internal/domain"
)

// CookieProvider supplies the current browser-session cookie bundle the
// Cookie Refresher sidecar maintains. Implementations read the shared
// artifact atomically (invariant C1); the LLM adapter never writes it.
type CookieProvider interface {
	Current() (*domain.CookieBundle, error)
}

// CookieWebBackend drives a free-tier web AI chat UI using a refreshed
// browser session cookie instead of an API key, grounded on
// webai_wrapper.py's cookie-authenticated access pattern. It has no public
// HTTP API of its own to call; a concrete deployment wires Complete/Embed
// through a headless-browser driver the same way internal/cookies does for
// refreshing, which is out of scope for the representative job set this
// implementation builds (see DESIGN.md scope note).
type CookieWebBackend struct {
	cookies CookieProvider
	model   string
}

func NewCookieWebBackend(cookies CookieProvider, model string) *CookieWebBackend {
	return &CookieWebBackend{cookies: cookies, model: model}
}

func (b *CookieWebBackend) Name() string { return "cookie-web:" + b.model }

func (b *CookieWebBackend) Complete(ctx context.Context, systemPrompt, userPrompt string) (*AnalysisResult, error) {
	bundle, err := b.cookies.Current()
	if err != nil {
		return nil, fmt.Errorf("cookie-web backend: %w", err)
	}
	if bundle.Secure1PSID == "" {
		return nil, fmt.Errorf("cookie-web backend: no valid session cookie available")
	}
	return nil, fmt.Errorf("cookie-web backend: browser-driven completion requires a headless driver, not wired in this deployment")
}

func (b *CookieWebBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("cookie-web backend does not support embeddings")
}
