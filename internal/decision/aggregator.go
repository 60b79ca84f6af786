// Package decision turns scorer output and LLM text into a single validated
// order intent. It has three stages: the weighted-vote aggregator, the
// response normalizer, and the decision validator. Each stage is pure; the
// engine owns all side effects.
package decision

import (
	"fmt"
	"math"

	"llm-tradebot/internal/action"
	"llm-tradebot/internal/store"
	"llm-tradebot/internal/types"
)

// ScoreSet is one cycle's scorer output. Any member may be undefined; the
// aggregator renormalizes weights over whatever is present.
type ScoreSet struct {
	Trend      types.SignalScore
	Oscillator types.SignalScore
	Sentiment  types.SignalScore
	ML         types.SignalScore
}

// Aggregator folds the scorers into one action by weighted vote. The weights
// and thresholds come from config and are policy, not ground truth; tune them
// against backtests, not intuition.
type Aggregator struct {
	weightTrend      float64
	weightOscillator float64
	weightSentiment  float64
	weightML         float64
	waitThreshold    float64
	openThreshold    float64
	twoOfThree       bool
}

func NewAggregator(cfg *store.Config) *Aggregator {
	return &Aggregator{
		weightTrend:      cfg.Vote.WeightTrend,
		weightOscillator: cfg.Vote.WeightOscillator,
		weightSentiment:  cfg.Vote.WeightSentiment,
		weightML:         cfg.Vote.WeightML,
		waitThreshold:    cfg.Vote.WaitThreshold,
		openThreshold:    cfg.Vote.OpenThreshold,
		twoOfThree:       cfg.Vote.RequireTwoOfThree,
	}
}

// Vote maps the weighted score into an action. Undefined scorers drop out of
// the vote entirely instead of counting as zero. Confirmation gates only ever
// weaken the verdict, never strengthen it.
func (a *Aggregator) Vote(scores ScoreSet, position *types.Position) types.VoteResult {
	type member struct {
		name   string
		score  types.SignalScore
		weight float64
	}
	members := []member{
		{"trend", scores.Trend, a.weightTrend},
		{"oscillator", scores.Oscillator, a.weightOscillator},
		{"sentiment", scores.Sentiment, a.weightSentiment},
		{"ml", scores.ML, a.weightML},
	}

	details := map[string]any{}
	var weighted, weightSum float64
	defined := 0
	for _, m := range members {
		if !m.score.Defined || m.weight <= 0 {
			continue
		}
		defined++
		weighted += m.weight * float64(m.score.Score)
		weightSum += m.weight
		details[m.name] = map[string]any{
			"score":      m.score.Score,
			"confidence": m.score.Confidence,
			"weight":     m.weight,
		}
	}

	if defined == 0 || weightSum == 0 {
		return types.VoteResult{
			Action:      action.Wait,
			Confidence:  0,
			Reason:      "no usable signals this cycle",
			VoteDetails: details,
			Position:    positionDetails(position),
		}
	}

	agg := weighted / weightSum
	details["aggregate"] = agg
	details["defined_scorers"] = defined

	act, reason := a.band(agg, position)

	if a.twoOfThree && action.IsOpen(act) {
		if !a.confirmed(scores, agg) {
			act, reason = degrade(position, "open vetoed: fewer than two scorers agree on direction")
			details["confirmation"] = "failed"
		} else {
			details["confirmation"] = "passed"
		}
	}

	return types.VoteResult{
		Action:        act,
		Confidence:    math.Min(math.Abs(agg), 100),
		Reason:        reason,
		WeightedScore: agg,
		VoteDetails:   details,
		Position:      positionDetails(position),
	}
}

func (a *Aggregator) band(agg float64, position *types.Position) (string, string) {
	mag := math.Abs(agg)
	switch {
	case mag < a.waitThreshold:
		return action.Wait, fmt.Sprintf("aggregate %.1f inside the no-trade band", agg)
	case mag >= a.openThreshold && agg > 0:
		return action.OpenLong, fmt.Sprintf("aggregate %.1f above the long threshold", agg)
	case mag >= a.openThreshold:
		return action.OpenShort, fmt.Sprintf("aggregate %.1f below the short threshold", agg)
	}
	return degrade(position, fmt.Sprintf("aggregate %.1f is directional but not conclusive", agg))
}

// confirmed requires at least two of the trend/oscillator/sentiment trio to
// share the aggregate's sign. ML stays out of the count so a single model
// output can never manufacture a confirmation.
func (a *Aggregator) confirmed(scores ScoreSet, agg float64) bool {
	agree := 0
	for _, s := range []types.SignalScore{scores.Trend, scores.Oscillator, scores.Sentiment} {
		if !s.Defined {
			continue
		}
		if (agg > 0 && s.Score > 0) || (agg < 0 && s.Score < 0) {
			agree++
		}
	}
	return agree >= 2
}

// degrade is the only downgrade path: hold when exposed, wait when flat.
func degrade(position *types.Position, reason string) (string, string) {
	if position != nil {
		return action.Hold, reason
	}
	return action.Wait, reason
}

func positionDetails(p *types.Position) map[string]any {
	if p == nil {
		return nil
	}
	return map[string]any{
		"symbol":         p.Symbol,
		"side":           string(p.Side),
		"entry_price":    p.EntryPrice,
		"quantity":       p.Quantity,
		"unrealized_pnl": p.UnrealizedPnL,
	}
}
