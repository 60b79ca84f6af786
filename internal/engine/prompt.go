package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"llm-tradebot/internal/decision"
	"llm-tradebot/internal/types"
)

const defaultSystemPrompt = `You are a cautious crypto futures trading assistant. ` +
	`You receive a technical summary and a preliminary vote. Reply with a short ` +
	`reasoning paragraph followed by exactly one decision object wrapped in ` +
	`<decision></decision> tags. The object must use these JSON fields: symbol, ` +
	`action (open_long, open_short, close_long, close_short, hold or wait), ` +
	`confidence (0-100), leverage, position_size_usd, entry_price, stop_loss, ` +
	`take_profit, reasoning. All numbers must be plain JSON numbers with no ` +
	`thousands separators and no ranges. When in doubt choose wait.`

// buildUserPrompt folds one cycle's evidence into the model's user turn.
// Everything the model sees is also what the logs see, so the decision is
// reviewable after the fact.
func buildUserPrompt(snap *types.MarketSnapshot, scores decision.ScoreSet, vote types.VoteResult) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Symbol: %s\n", snap.Symbol)
	fmt.Fprintf(&sb, "Current price: %.2f\n", snap.CurrentPrice())
	if snap.HasFundingRate {
		fmt.Fprintf(&sb, "Funding rate: %.6f\n", snap.FundingRate)
	}

	sb.WriteString("\nSignal scores (-100 bearish .. +100 bullish):\n")
	writeScore(&sb, "trend", scores.Trend)
	writeScore(&sb, "oscillator", scores.Oscillator)
	writeScore(&sb, "sentiment", scores.Sentiment)
	writeScore(&sb, "ml", scores.ML)

	fmt.Fprintf(&sb, "\nPreliminary vote: %s (weighted score %.1f, confidence %.0f)\n",
		vote.Action, vote.WeightedScore, vote.Confidence)
	fmt.Fprintf(&sb, "Vote reason: %s\n", vote.Reason)
	if len(vote.Position) > 0 {
		if b, err := json.Marshal(vote.Position); err == nil {
			fmt.Fprintf(&sb, "Open position: %s\n", b)
		}
	}

	sb.WriteString("\nConfirm or override the vote. Answer with your reasoning and one <decision> object.")
	return sb.String()
}

func writeScore(sb *strings.Builder, name string, s types.SignalScore) {
	if !s.Defined {
		fmt.Fprintf(sb, "  %s: undefined\n", name)
		return
	}
	fmt.Fprintf(sb, "  %s: %+d (confidence %d)\n", name, s.Score, s.Confidence)
}
