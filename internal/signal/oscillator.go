package signal

import (
	"math"

	"llm-tradebot/internal/ta"
	"llm-tradebot/internal/types"
)

// OscillatorScorer reads RSI on all three timeframes as a mean-reversion
// voice. Overbought yields negative scores (fade longs), oversold positive.
// The short timeframe includes the live candle so extremes register the
// moment they print rather than one bar later.
type OscillatorScorer struct{}

func (OscillatorScorer) Score(s *types.MarketSnapshot) types.SignalScore {
	details := map[string]any{}

	short, shortOK := rsiWithLive(s.StableShort, s.LiveShort)
	medium, mediumOK := rsiClosed(s.StableMedium)
	long, longOK := rsiClosed(s.StableLong)

	// A short-timeframe extreme alone is noise. Without at least one slower
	// timeframe the whole reading stays undefined.
	if !mediumOK && !longOK {
		return types.SignalScore{Details: details}
	}

	var weighted float64
	var weightSum float64
	if shortOK {
		details["rsi_short"] = short
		weighted += 0.3 * float64(scoreShortRSI(short))
		weightSum += 0.3
	}
	if mediumOK {
		details["rsi_medium"] = medium
		weighted += 0.3 * float64(scoreMediumRSI(medium))
		weightSum += 0.3
	}
	if longOK {
		details["rsi_long"] = long
		weighted += 0.4 * float64(scoreLongRSI(long))
		weightSum += 0.4
	}

	total := clamp(int(math.Round(weighted/weightSum)), -100, 100)
	return types.SignalScore{
		Score:      total,
		Confidence: clamp(abs(total), 0, 100),
		Defined:    true,
		Details:    details,
	}
}

func rsiClosed(series types.Series) (float64, bool) {
	v := ta.RSI(series.Closes(), 14)
	return v, !math.IsNaN(v)
}

func rsiWithLive(series types.Series, live *types.Candle) (float64, bool) {
	closes := series.Closes()
	if live != nil && live.Close > 0 {
		closes = append(closes, live.Close)
	}
	v := ta.RSI(closes, 14)
	return v, !math.IsNaN(v)
}

// Short-timeframe bands are the widest scores: a fresh intraday extreme is
// the strongest fade signal this scorer produces.
func scoreShortRSI(v float64) int {
	switch {
	case v > 75:
		return -80
	case v > 65:
		return -40
	case v < 25:
		return 80
	case v < 35:
		return 40
	}
	return 0
}

func scoreMediumRSI(v float64) int {
	switch {
	case v > 75:
		return -60
	case v > 65:
		return -30
	case v < 25:
		return 60
	case v < 35:
		return 30
	}
	return 0
}

// Long-timeframe RSI needs more room before it means anything, hence the
// wider 80/20 outer band and the smallest scores.
func scoreLongRSI(v float64) int {
	switch {
	case v > 80:
		return -40
	case v > 70:
		return -20
	case v < 20:
		return 40
	case v < 30:
		return 20
	}
	return 0
}
