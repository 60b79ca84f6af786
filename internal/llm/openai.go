package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"llm-tradebot/internal/logger"
	"llm-tradebot/internal/retry"
	"llm-tradebot/internal/store"
)

// OpenAIClient speaks the OpenAI-compatible chat completions protocol, which
// also covers DeepSeek and most self-hosted gateways via base_url. Requests
// retry on 429 and 5xx with the shared backoff policy.
type OpenAIClient struct {
	cfg    *store.Config
	http   *http.Client
	policy retry.Policy
}

func NewOpenAIClient(cfg *store.Config) *OpenAIClient {
	policy := retry.Default()
	if cfg.LLM.MaxRetries > 0 {
		policy.MaxAttempts = cfg.LLM.MaxRetries
	}
	return &OpenAIClient{
		cfg:    cfg,
		http:   &http.Client{Timeout: 120 * time.Second},
		policy: policy,
	}
}

func (c *OpenAIClient) Chat(ctx context.Context, system, user string) (string, error) {
	ctx, span := logger.StartSpan(ctx, "llm-chat")
	defer span.End()

	apiKey := os.Getenv("TRADER_LLM_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return "", errors.New("TRADER_LLM_API_KEY or OPENAI_API_KEY missing")
	}

	body := map[string]any{
		"model": c.cfg.LLM.Model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": user},
		},
		"temperature": c.cfg.LLM.Temperature,
		"max_tokens":  c.cfg.LLM.MaxTokens,
	}
	bb, err := json.Marshal(body)
	if err != nil {
		return "", err
	}

	var content string
	err = c.policy.Do(ctx, func() error {
		var callErr error
		content, callErr = c.call(ctx, apiKey, bb)
		return callErr
	})
	return content, err
}

func (c *OpenAIClient) call(ctx context.Context, apiKey string, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &retry.HTTPError{Status: resp.StatusCode, Body: string(snippet)}
	}

	var r struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", err
	}
	if len(r.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return strings.TrimSpace(r.Choices[0].Message.Content), nil
}

func (c *OpenAIClient) endpoint() string {
	base := c.cfg.LLM.BaseURL
	if base == "" {
		base = "https://api.openai.com"
	}
	return fmt.Sprintf("%s/v1/chat/completions", strings.TrimSuffix(base, "/"))
}
