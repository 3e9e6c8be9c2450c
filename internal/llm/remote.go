package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// RemoteChatBackend talks to a hosted chat-completion API (e.g. a
// GLM-compatible endpoint) using an API key, for deployments without a
// local Ollama instance. Response parsing uses gjson since the remote
// schema is a third party's and only a few fields are needed.
type RemoteChatBackend struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

func NewRemoteChatBackend(baseURL, apiKey, model string) *RemoteChatBackend {
	return &RemoteChatBackend{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: StreamingDeadline},
	}
}

func (b *RemoteChatBackend) Name() string { return "remote-chat:" + b.model }

func (b *RemoteChatBackend) Complete(ctx context.Context, systemPrompt, userPrompt string) (*AnalysisResult, error) {
	payload := map[string]interface{}{
		"model": b.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
		"response_format": map[string]string{"type": "json_object"},
	}
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, StreamingDeadline)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/chat/completions", bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote chat: %w", err)
	}
	defer resp.Body.Close()

	var body bytes.Buffer
	if _, err := body.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remote chat: status %d: %s", resp.StatusCode, gjson.GetBytes(body.Bytes(), "error.message").String())
	}

	content := gjson.GetBytes(body.Bytes(), "choices.0.message.content").String()
	return parseAnalysis(content)
}

func (b *RemoteChatBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	payload := map[string]interface{}{"model": b.model, "input": text}
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/embeddings", bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remote embed: %w", err)
	}
	defer resp.Body.Close()

	var body bytes.Buffer
	if _, err := body.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	values := gjson.GetBytes(body.Bytes(), "data.0.embedding").Array()
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(v.Float())
	}
	return out, nil
}
