package llm

import "context"

// NoopClient stands in when no LLM is configured. It answers every prompt
// with a structured wait decision so the downstream normalizer and validator
// exercise the same path as a real provider.
type NoopClient struct{}

func (NoopClient) Chat(ctx context.Context, system, user string) (string, error) {
	return `<reasoning>No language model is configured.</reasoning>
<decision>
{"symbol": "", "action": "wait", "confidence": 0, "reasoning": "noop provider, waiting"}
</decision>`, nil
}
