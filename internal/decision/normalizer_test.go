package decision

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-tradebot/internal/action"
)

func TestParseTaggedDecision(t *testing.T) {
	n := NewNormalizer("BTCUSDT")
	got := n.Parse(`
<reasoning>
1h uptrend, 15m breakout confirmed.
</reasoning>

<decision>
{
  "symbol": "BTCUSDT",
  "action": "open_long",
  "leverage": 2,
  "position_size_usd": 200.0,
  "stop_loss": 84710.0,
  "take_profit": 88580.0,
  "confidence": 75,
  "risk_usd": 30.0
}
</decision>
`)
	require.Empty(t, got.ParseError)
	assert.Equal(t, "1h uptrend, 15m breakout confirmed.", got.Reasoning)
	assert.Equal(t, "open_long", got.Decision.Action)
	require.NotNil(t, got.Decision.Leverage)
	assert.Equal(t, 2.0, *got.Decision.Leverage)
	require.NotNil(t, got.Decision.StopLoss)
	assert.Equal(t, 84710.0, *got.Decision.StopLoss)
}

func TestParseFinalVoteTagWithFence(t *testing.T) {
	n := NewNormalizer("BTCUSDT")
	got := n.Parse("<final_vote>\n```json\n{\"symbol\": \"ETHUSDT\", \"action\": \"hold\", \"confidence\": 50}\n```\n</final_vote>")
	require.Empty(t, got.ParseError)
	assert.Equal(t, "hold", got.Decision.Action)
	assert.Equal(t, "ETHUSDT", got.Decision.Symbol)
}

func TestParseArrayTakesFirstElement(t *testing.T) {
	n := NewNormalizer("BTCUSDT")
	got := n.Parse(`<decision>[{"symbol": "BTCUSDT", "action": "wait", "confidence": 10}, {"symbol": "ETHUSDT", "action": "open_long"}]</decision>`)
	require.Empty(t, got.ParseError)
	assert.Equal(t, "wait", got.Decision.Action)
	assert.Equal(t, "BTCUSDT", got.Decision.Symbol)
}

func TestParseUntaggedJSONInProse(t *testing.T) {
	n := NewNormalizer("BTCUSDT")
	got := n.Parse(`Based on the current market structure [which is bearish], my decision:
{"symbol": "BTCUSDT", "action": "open_short", "confidence": 60, "leverage": 2, "position_size_usd": 100, "stop_loss": 88000, "take_profit": 82000}`)
	require.Empty(t, got.ParseError)
	assert.Equal(t, "open_short", got.Decision.Action)
}

func TestParseFullWidthCharacters(t *testing.T) {
	n := NewNormalizer("BTCUSDT")
	got := n.Parse("<decision>｛\"symbol\"：\"BTCUSDT\"，\"action\"：\"hold\"，\"confidence\"：50｝</decision>")
	require.Empty(t, got.ParseError)
	assert.Equal(t, "hold", got.Decision.Action)
	require.NotNil(t, got.Decision.Confidence)
	assert.Equal(t, 50.0, *got.Decision.Confidence)
}

func TestParseRepairsTildeRangeAndThousands(t *testing.T) {
	n := NewNormalizer("BTCUSDT")
	got := n.Parse(`<decision>{"symbol": "BTCUSDT", "action": "open_long", "stop_loss": 84,710.0, "take_profit": 88000~89000, "leverage": 2, "position_size_usd": 100}</decision>`)
	require.Empty(t, got.ParseError)
	require.NotNil(t, got.Decision.StopLoss)
	assert.Equal(t, 84710.0, *got.Decision.StopLoss)
	require.NotNil(t, got.Decision.TakeProfit)
	assert.Equal(t, 88000.0, *got.Decision.TakeProfit)
}

func TestParseTrailingComma(t *testing.T) {
	n := NewNormalizer("BTCUSDT")
	got := n.Parse(`<decision>{"symbol": "BTCUSDT", "action": "wait", "confidence": 20,}</decision>`)
	require.Empty(t, got.ParseError)
	assert.Equal(t, "wait", got.Decision.Action)
}

func TestParseStringNumbersLandInRaw(t *testing.T) {
	n := NewNormalizer("BTCUSDT")
	got := n.Parse(`<decision>{"symbol": "BTCUSDT", "action": "open_long", "leverage": 2, "position_size_usd": "balance * 0.2", "stop_loss": 84000, "take_profit": 88000}</decision>`)
	require.Empty(t, got.ParseError)
	assert.Nil(t, got.Decision.PositionSizeUSD)
	assert.Equal(t, "balance * 0.2", got.Decision.Raw["position_size_usd"])
}

func TestParseGarbageFallsBackToWait(t *testing.T) {
	n := NewNormalizer("BTCUSDT")
	got := n.Parse("I cannot decide right now, the market is too uncertain.")
	assert.NotEmpty(t, got.ParseError)
	assert.Equal(t, action.Wait, got.Decision.Action)
	assert.Equal(t, "BTCUSDT", got.Decision.Symbol)
	require.NotNil(t, got.Decision.Confidence)
	assert.Zero(t, *got.Decision.Confidence)
}

func TestParseMissingActionFallsBack(t *testing.T) {
	n := NewNormalizer("BTCUSDT")
	got := n.Parse(`<decision>{"symbol": "BTCUSDT", "confidence": 80}</decision>`)
	assert.NotEmpty(t, got.ParseError)
	assert.Equal(t, action.Wait, got.Decision.Action)
}

func TestParseSkipsNonJSONBracketsBeforeRealPayload(t *testing.T) {
	n := NewNormalizer("BTCUSDT")
	got := n.Parse(`Signal summary {trend: up} then the verdict:
{"symbol": "BTCUSDT", "action": "hold", "confidence": 40}`)
	require.Empty(t, got.ParseError)
	assert.Equal(t, "hold", got.Decision.Action)
}

func TestParseBraceInsideStringValue(t *testing.T) {
	n := NewNormalizer("BTCUSDT")
	got := n.Parse(`The model noted: {"symbol": "BTC}USDT", "action": "hold", "confidence": 40} and nothing else.`)
	require.Empty(t, got.ParseError)
	assert.Equal(t, "hold", got.Decision.Action)
	assert.Equal(t, "BTC}USDT", got.Decision.Symbol)
}

func TestParseEscapedQuoteInsideStringValue(t *testing.T) {
	n := NewNormalizer("BTCUSDT")
	got := n.Parse(`{"symbol": "BTCUSDT", "action": "hold", "reasoning": "breakout \"confirmed\" on 15m {strong}", "confidence": 55}`)
	require.Empty(t, got.ParseError)
	assert.Equal(t, "hold", got.Decision.Action)
	assert.Equal(t, "BTCUSDT", got.Decision.Symbol)
}
