// Package llm implements the unified LLM Adapter (SPEC_FULL.md §4.6):
// one Backend interface with local (Ollama-compatible), remote-chat, and
// cookie-authenticated web backends, selected by config rather than by
// import-time branching. Grounded on
// original_source/web_dashboard/ollama_client.py (streaming deadline,
// JSON-mode, embeddings) and webai_wrapper.py (cookie-backed backend).
package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/CreamyG31337/portfolio-pipeline/internal/domain"
)

// StreamingDeadline matches ollama_client.py's default streaming_timeout.
const StreamingDeadline = 90 * time.Second

// AnalysisResult is the chain-of-thought summary contract every backend
// must fill in, regardless of which model answered (invariant L1).
type AnalysisResult struct {
	Summary        string   `json:"summary"`
	Sentiment      string   `json:"sentiment"`
	SentimentScore float64  `json:"sentiment_score"`
	Claims         []string `json:"claims"`
	FactCheck      string   `json:"fact_check"`
	Conclusion     string   `json:"conclusion"`
	RelevanceScore float64  `json:"relevance_score"`
}

// Backend is one LLM provider. Implementations: Ollama (local), RemoteChat
// (hosted API), CookieWeb (browser-session-authenticated free-tier UI).
type Backend interface {
	// Complete runs a single non-streaming JSON-mode completion and parses
	// it into the chain-of-thought contract.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (*AnalysisResult, error)
	// Embed returns a dense embedding vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
}

// OllamaBackend talks to a local Ollama-compatible HTTP API.
type OllamaBackend struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewOllamaBackend(baseURL, model string, timeout time.Duration) *OllamaBackend {
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &OllamaBackend{baseURL: baseURL, model: model, client: &http.Client{Timeout: timeout}}
}

func (b *OllamaBackend) Name() string { return "ollama:" + b.model }

type ollamaChatRequest struct {
	Model    string                   `json:"model"`
	Messages []map[string]string      `json:"messages"`
	Stream   bool                     `json:"stream"`
	Format   string                   `json:"format,omitempty"`
	Options  map[string]interface{}   `json:"options,omitempty"`
}

type ollamaChatChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// Complete issues a streaming JSON-mode chat request under a fixed 90s
// wall-clock deadline (StreamingDeadline) for the whole request; reading a
// chunk does not extend it.
func (b *OllamaBackend) Complete(ctx context.Context, systemPrompt, userPrompt string) (*AnalysisResult, error) {
	reqBody := ollamaChatRequest{
		Model: b.model,
		Messages: []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
		Stream: true,
		Format: "json",
	}
	buf, err := json.Marshal(reqBody)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithTimeout(ctx, StreamingDeadline)
	defer cancel()

	req, err := http.NewRequestWithContext(streamCtx, http.MethodPost, b.baseURL+"/api/chat", bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama chat: status %d", resp.StatusCode)
	}

	var full bytes.Buffer
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var chunk ollamaChatChunk
		if err := json.Unmarshal(scanner.Bytes(), &chunk); err != nil {
			continue
		}
		full.WriteString(chunk.Message.Content)
		if chunk.Done {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("ollama stream read: %w", err)
	}

	return parseAnalysis(full.String())
}

type ollamaEmbeddingRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

func (b *OllamaBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	buf, err := json.Marshal(ollamaEmbeddingRequest{Model: "nomic-embed-text", Prompt: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/embeddings", bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	defer resp.Body.Close()

	var body bytes.Buffer
	if _, err := body.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	values := gjson.GetBytes(body.Bytes(), "embedding").Array()
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(v.Float())
	}
	return out, nil
}

// parseAnalysis decodes a JSON-mode model response into the chain-of-
// thought contract, tolerating fields the model omitted.
func parseAnalysis(raw string) (*AnalysisResult, error) {
	if !gjson.Valid(raw) {
		return nil, fmt.Errorf("model response is not valid json: %.200s", raw)
	}
	var a AnalysisResult
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, fmt.Errorf("decode analysis: %w", err)
	}
	return &a, nil
}

// SentimentFromScore maps a [-1,1] score to the domain's coarse label set,
// used when a backend returns a numeric score but no label.
func SentimentFromScore(score float64) domain.Sentiment {
	switch {
	case score >= 0.6:
		return domain.SentimentVeryBullish
	case score >= 0.2:
		return domain.SentimentBullish
	case score > -0.2:
		return domain.SentimentNeutral
	case score > -0.6:
		return domain.SentimentBearish
	default:
		return domain.SentimentVeryBearish
	}
}
