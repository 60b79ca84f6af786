package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-tradebot/internal/store"
)

func chatConfig(baseURL string) *store.Config {
	cfg := store.Default()
	cfg.LLM.Provider = "OPENAI"
	cfg.LLM.BaseURL = baseURL
	cfg.LLM.Model = "gpt-4o-mini"
	cfg.LLM.MaxRetries = 3
	return cfg
}

func completionBody(content string) string {
	b, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
	return string(b)
}

func TestNewFromConfig(t *testing.T) {
	cfg := store.Default()

	cfg.LLM.Provider = "NOOP"
	c, err := NewFromConfig(cfg)
	require.NoError(t, err)
	assert.IsType(t, NoopClient{}, c)

	cfg.LLM.Provider = "deepseek"
	c, err = NewFromConfig(cfg)
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, c)

	cfg.LLM.Provider = "carrier-pigeon"
	_, err = NewFromConfig(cfg)
	assert.Error(t, err)
}

func TestNoopClientAnswersWait(t *testing.T) {
	out, err := NoopClient{}.Chat(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Contains(t, out, `"action": "wait"`)
	assert.Contains(t, out, "<decision>")
}

func TestOpenAIClientChat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body["model"])

		w.Write([]byte(completionBody("  the answer  ")))
	}))
	defer srv.Close()

	t.Setenv("TRADER_LLM_API_KEY", "test-key")
	c := NewOpenAIClient(chatConfig(srv.URL))

	out, err := c.Chat(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "the answer", out)
}

func TestOpenAIClientRetriesOn429(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(completionBody("ok")))
	}))
	defer srv.Close()

	t.Setenv("TRADER_LLM_API_KEY", "test-key")
	c := NewOpenAIClient(chatConfig(srv.URL))
	c.policy.BaseDelay = time.Millisecond

	out, err := c.Chat(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestOpenAIClientDoesNotRetryOn401(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	t.Setenv("TRADER_LLM_API_KEY", "test-key")
	c := NewOpenAIClient(chatConfig(srv.URL))
	c.policy.BaseDelay = time.Millisecond

	_, err := c.Chat(context.Background(), "sys", "user")
	assert.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestOpenAIClientMissingKey(t *testing.T) {
	t.Setenv("TRADER_LLM_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	c := NewOpenAIClient(chatConfig("http://127.0.0.1:1"))
	_, err := c.Chat(context.Background(), "sys", "user")
	assert.Error(t, err)
}
