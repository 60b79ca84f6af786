// Package signal holds the per-timeframe scorers that feed the decision
// aggregator. Scorers are pure and total: any well-formed snapshot yields a
// valid score, degrading to neutral/undefined instead of failing.
package signal

import (
	"fmt"
	"math"

	"llm-tradebot/internal/ta"
	"llm-tradebot/internal/types"
)

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// TrendScorer blends the long-timeframe EMA cross, the medium-timeframe MACD
// histogram, and the short-timeframe live candle body into one trend score.
type TrendScorer struct{}

// Score returns Defined=false when long-timeframe history is missing: an
// unknown main trend is not the same thing as a neutral one, and the
// aggregator must drop this vote rather than count it as zero.
func (TrendScorer) Score(s *types.MarketSnapshot) types.SignalScore {
	details := map[string]any{}

	longScore, longOK := scoreLongTrend(s.StableLong, details)
	if !longOK {
		return types.SignalScore{Details: details}
	}

	total := longScore
	total += scoreMediumTrend(s.StableMedium, details)
	total += scoreShortMomentum(s.LiveShort, details)
	total = clamp(total, -100, 100)

	return types.SignalScore{
		Score:      total,
		Confidence: clamp(abs(total), 0, 100),
		Defined:    true,
		Details:    details,
	}
}

// scoreLongTrend is the dominant component: EMA(12) above EMA(26) on the
// long timeframe is worth a flat +40, below it -40.
func scoreLongTrend(series types.Series, details map[string]any) (int, bool) {
	if len(series) <= 50 {
		return 0, false
	}
	closes := series.Closes()
	ema12 := ta.LastEMA(closes, 12)
	ema26 := ta.LastEMA(closes, 26)
	if math.IsNaN(ema12) || math.IsNaN(ema26) {
		return 0, false
	}

	details["long_ema12"] = ema12
	details["long_ema26"] = ema26
	if ema12 > ema26 {
		details["long_trend"] = "up"
		return 40, true
	}
	details["long_trend"] = "down"
	return -40, true
}

// scoreMediumTrend reads the MACD histogram with two magnitude tiers:
// accelerating in its own direction is worth twice a decelerating reading.
func scoreMediumTrend(series types.Series, details map[string]any) int {
	if len(series) <= 30 {
		return 0
	}
	prev, curr := ta.MACDHist(series.Closes())
	if math.IsNaN(curr) {
		return 0
	}
	details["medium_macd_hist"] = curr

	switch {
	case curr > 0 && curr > prev:
		details["medium_trend"] = "up_accelerating"
		return 30
	case curr > 0:
		details["medium_trend"] = "up_fading"
		return 15
	case curr < 0 && curr < prev:
		details["medium_trend"] = "down_accelerating"
		return -30
	case curr < 0:
		details["medium_trend"] = "down_fading"
		return -15
	}
	details["medium_trend"] = "flat"
	return 0
}

// scoreShortMomentum reads the in-progress short candle body as a small
// momentum kicker with two thresholds per direction.
func scoreShortMomentum(live *types.Candle, details map[string]any) int {
	if live == nil || live.Open <= 0 {
		return 0
	}
	change := (live.Close - live.Open) / live.Open
	details["live_candle_change"] = fmt.Sprintf("%.2f%%", change*100)

	switch {
	case change > 0.005:
		details["live_momentum"] = "strong_up"
		return 30
	case change > 0.002:
		details["live_momentum"] = "mild_up"
		return 15
	case change < -0.005:
		details["live_momentum"] = "strong_down"
		return -30
	case change < -0.002:
		details["live_momentum"] = "mild_down"
		return -15
	}
	details["live_momentum"] = "normal"
	return 0
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
