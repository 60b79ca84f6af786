package signal

import (
	"llm-tradebot/internal/ta"
	"llm-tradebot/internal/types"
)

// SentimentScorer is the crowd-positioning voice: perpetual funding as a
// contrarian signal plus relative volume as directional fuel. It is the one
// scorer allowed to report Defined=true with no inputs at all, because "no
// crowd signal" is itself a neutral reading; HasData in the details tells the
// aggregator whether anything real went in.
type SentimentScorer struct{}

func (SentimentScorer) Score(s *types.MarketSnapshot) types.SignalScore {
	details := map[string]any{}
	total := 0
	hasData := false

	if s.HasFundingRate {
		hasData = true
		details["funding_rate"] = s.FundingRate
		total += scoreFunding(s.FundingRate, details)
	}

	if rvol := ta.RVOL(s.StableShort.Vols(), 20); rvol > 1.5 {
		hasData = true
		details["rvol"] = rvol
		// Elevated volume amplifies whichever way the current bar leans.
		if last, ok := s.StableShort.Last(); ok {
			if last.Close > last.Open {
				total += 10
			} else if last.Close < last.Open {
				total -= 10
			}
		}
	}

	details["has_data"] = hasData
	total = clamp(total, -100, 100)

	return types.SignalScore{
		Score:      total,
		Confidence: clamp(abs(total), 0, 100),
		Defined:    true,
		Details:    details,
	}
}

// Positive funding means longs pay shorts: the crowd is long and paying for
// it, which historically resolves downward. The short side threshold is
// tighter because funding skews positive in perpetual markets.
func scoreFunding(rate float64, details map[string]any) int {
	switch {
	case rate > 0.0003:
		details["funding_read"] = "crowded_long"
		return -30
	case rate < -0.0001:
		details["funding_read"] = "crowded_short"
		return 30
	}
	details["funding_read"] = "balanced"
	return 0
}
