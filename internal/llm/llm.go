// Package llm holds the chat clients behind the decision pipeline's optional
// language-model stage. Providers only transport text; extracting a
// structured decision from the reply is internal/decision's job.
package llm

import (
	"context"
	"fmt"
	"strings"

	"llm-tradebot/internal/store"
)

// Client is a single-turn chat call. Implementations must be safe for
// sequential reuse across cycles and must honor ctx cancellation.
type Client interface {
	Chat(ctx context.Context, system, user string) (string, error)
}

// NewFromConfig picks the provider named in config. Unknown providers are a
// configuration error, not a silent noop.
func NewFromConfig(cfg *store.Config) (Client, error) {
	switch strings.ToUpper(cfg.LLM.Provider) {
	case "OPENAI", "DEEPSEEK", "OPENAI_COMPAT":
		return NewOpenAIClient(cfg), nil
	case "NOOP", "":
		return NoopClient{}, nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}
