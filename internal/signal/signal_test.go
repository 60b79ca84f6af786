package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-tradebot/internal/types"
)

func mkSeries(closes []float64) types.Series {
	out := make(types.Series, len(closes))
	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	for i, c := range closes {
		out[i] = types.Candle{
			Ts:    ts + int64(i)*300,
			Open:  c * 0.999,
			High:  c * 1.001,
			Low:   c * 0.998,
			Close: c,
			Vol:   100,
		}
	}
	return out
}

func ramp(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

func flat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestTrendUndefinedWithoutLongTimeframe(t *testing.T) {
	snap := &types.MarketSnapshot{
		Symbol:       "BTCUSDT",
		StableShort:  mkSeries(ramp(100, 1, 60)),
		StableMedium: mkSeries(ramp(100, 1, 60)),
		StableLong:   mkSeries(ramp(100, 1, 40)), // not enough bars
	}
	got := TrendScorer{}.Score(snap)
	assert.False(t, got.Defined)
	assert.Zero(t, got.Score)
}

func TestTrendUptrendScoresPositive(t *testing.T) {
	up := mkSeries(ramp(100, 1, 80))
	live := &types.Candle{Open: 180, Close: 182} // +1.1% body
	snap := &types.MarketSnapshot{
		Symbol:       "BTCUSDT",
		StableShort:  up,
		StableMedium: up,
		StableLong:   up,
		LiveShort:    live,
	}
	got := TrendScorer{}.Score(snap)
	require.True(t, got.Defined)
	// +40 EMA cross, +30 or +15 MACD, +30 live candle.
	assert.GreaterOrEqual(t, got.Score, 85)
	assert.Equal(t, "up", got.Details["long_trend"])
	assert.Equal(t, "strong_up", got.Details["live_momentum"])
}

func TestTrendDowntrendMirrors(t *testing.T) {
	down := mkSeries(ramp(200, -1, 80))
	snap := &types.MarketSnapshot{
		Symbol:       "BTCUSDT",
		StableShort:  down,
		StableMedium: down,
		StableLong:   down,
		LiveShort:    &types.Candle{Open: 120, Close: 119.6}, // -0.33% body
	}
	got := TrendScorer{}.Score(snap)
	require.True(t, got.Defined)
	assert.Less(t, got.Score, -40)
	assert.Equal(t, "down", got.Details["long_trend"])
	assert.Equal(t, "mild_down", got.Details["live_momentum"])
}

func TestTrendScoreClamped(t *testing.T) {
	up := mkSeries(ramp(100, 2, 120))
	snap := &types.MarketSnapshot{
		StableShort:  up,
		StableMedium: up,
		StableLong:   up,
		LiveShort:    &types.Candle{Open: 100, Close: 110},
	}
	got := TrendScorer{}.Score(snap)
	assert.LessOrEqual(t, got.Score, 100)
	assert.LessOrEqual(t, got.Confidence, 100)
}

func TestOscillatorUndefinedWithoutSlowTimeframes(t *testing.T) {
	snap := &types.MarketSnapshot{
		StableShort: mkSeries(ramp(100, 1, 30)),
	}
	got := OscillatorScorer{}.Score(snap)
	assert.False(t, got.Defined)
}

func TestOscillatorOverboughtScoresNegative(t *testing.T) {
	// Monotonic rise pins RSI at 100 on every timeframe.
	up := mkSeries(ramp(100, 1, 60))
	snap := &types.MarketSnapshot{
		StableShort:  up,
		StableMedium: up,
		StableLong:   up,
	}
	got := OscillatorScorer{}.Score(snap)
	require.True(t, got.Defined)
	// 0.3*-80 + 0.3*-60 + 0.4*-40 = -58
	assert.Equal(t, -58, got.Score)
	assert.Equal(t, 58, got.Confidence)
}

func TestOscillatorOversoldScoresPositive(t *testing.T) {
	down := mkSeries(ramp(300, -1, 60))
	snap := &types.MarketSnapshot{
		StableShort:  down,
		StableMedium: down,
		StableLong:   down,
	}
	got := OscillatorScorer{}.Score(snap)
	require.True(t, got.Defined)
	assert.Equal(t, 58, got.Score)
}

func TestOscillatorNeutralMidRange(t *testing.T) {
	// Alternating closes keep RSI near 50.
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i%2)
	}
	chop := mkSeries(closes)
	snap := &types.MarketSnapshot{
		StableShort:  chop,
		StableMedium: chop,
		StableLong:   chop,
	}
	got := OscillatorScorer{}.Score(snap)
	require.True(t, got.Defined)
	assert.Zero(t, got.Score)
}

func TestSentimentCrowdedLongFades(t *testing.T) {
	snap := &types.MarketSnapshot{
		StableShort:    mkSeries(flat(100, 30)),
		FundingRate:    0.0005,
		HasFundingRate: true,
	}
	got := SentimentScorer{}.Score(snap)
	require.True(t, got.Defined)
	assert.Equal(t, -30, got.Score)
	assert.Equal(t, "crowded_long", got.Details["funding_read"])
	assert.Equal(t, true, got.Details["has_data"])
}

func TestSentimentCrowdedShortSqueezes(t *testing.T) {
	snap := &types.MarketSnapshot{
		StableShort:    mkSeries(flat(100, 30)),
		FundingRate:    -0.0002,
		HasFundingRate: true,
	}
	got := SentimentScorer{}.Score(snap)
	assert.Equal(t, 30, got.Score)
}

func TestSentimentVolumeSpikeFollowsCandleDirection(t *testing.T) {
	series := mkSeries(flat(100, 30))
	series[len(series)-1].Vol = 500 // 5x trailing average
	series[len(series)-1].Open = 99
	series[len(series)-1].Close = 101

	snap := &types.MarketSnapshot{StableShort: series}
	got := SentimentScorer{}.Score(snap)
	require.True(t, got.Defined)
	assert.Equal(t, 10, got.Score)
	assert.Equal(t, true, got.Details["has_data"])
}

func TestSentimentNoDataIsNeutralButDefined(t *testing.T) {
	snap := &types.MarketSnapshot{StableShort: mkSeries(flat(100, 30))}
	got := SentimentScorer{}.Score(snap)
	require.True(t, got.Defined)
	assert.Zero(t, got.Score)
	assert.Equal(t, false, got.Details["has_data"])
}
