// Package risk is the final gate between a validated decision and execution.
// One failed check vetoes the cycle no matter how confident the upstream
// stages were. The gate never mutates the decision: corrections come back as
// a field map the caller applies before placing the order.
package risk

import (
	"fmt"
	"math"

	"llm-tradebot/internal/action"
	"llm-tradebot/internal/store"
	"llm-tradebot/internal/types"
)

// Gate audits open decisions against account and position context. Close,
// wait and hold actions pass through untouched; reducing exposure is never
// riskier than keeping it.
type Gate struct {
	maxLeverage    float64
	maxPositionPct float64
	minStopLossPct float64
	maxStopLossPct float64
}

func NewGate(cfg *store.Config) *Gate {
	return &Gate{
		maxLeverage:    cfg.Audit.MaxLeverage,
		maxPositionPct: cfg.Audit.MaxPositionPct,
		minStopLossPct: cfg.Audit.MinStopLossPct,
		maxStopLossPct: cfg.Audit.MaxStopLossPct,
	}
}

// Audit runs every check even after one blocks, so the result carries the
// complete picture for logging. The first blocking reason wins BlockedReason.
func (g *Gate) Audit(d *types.Decision, position *types.Position, account types.AccountContext, currentPrice float64) types.AuditResult {
	res := types.AuditResult{
		Passed:      true,
		RiskLevel:   types.RiskSafe,
		Corrections: map[string]float64{},
	}

	if !action.IsOpen(d.Action) {
		return res
	}

	g.checkDirection(d, position, &res)
	g.checkLeverage(d, &res)
	g.checkPositionSize(d, account, &res)
	g.checkStopLossBand(d, currentPrice, &res)

	res.RiskLevel = deriveRiskLevel(&res)
	if len(res.Corrections) == 0 {
		res.Corrections = nil
	}
	return res
}

// checkDirection blocks an opposite-direction open while a position is held.
// Flipping is the run loop's job via close-then-open; the gate only ever
// authorizes or refuses the order in front of it.
func (g *Gate) checkDirection(d *types.Decision, position *types.Position, res *types.AuditResult) {
	if position == nil {
		return
	}
	wantLong := d.Action == action.OpenLong
	haveLong := position.Side == types.Long
	if wantLong != haveLong {
		block(res, fmt.Sprintf("opposite-direction open while holding %s position: close it first", position.Side))
		return
	}
	block(res, fmt.Sprintf("already holding %s position, pyramiding is not allowed", position.Side))
}

// checkLeverage clamps mild overshoot back to the ceiling and blocks beyond
// twice the ceiling, where the request stops looking like rounding and
// starts looking like a runaway model.
func (g *Gate) checkLeverage(d *types.Decision, res *types.AuditResult) {
	if d.Leverage == nil {
		return
	}
	lev := *d.Leverage
	switch {
	case lev <= g.maxLeverage:
	case lev <= 2*g.maxLeverage:
		res.Corrections["leverage"] = g.maxLeverage
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("leverage %.1f clamped to ceiling %.1f", lev, g.maxLeverage))
	default:
		block(res, fmt.Sprintf("leverage %.1f exceeds twice the ceiling %.1f", lev, g.maxLeverage))
	}
}

// checkPositionSize caps the order at maxPositionPct of equity. Up to 1.5x
// over is corrected downward; beyond that it blocks.
func (g *Gate) checkPositionSize(d *types.Decision, account types.AccountContext, res *types.AuditResult) {
	if d.PositionSizeUSD == nil || account.Equity <= 0 {
		return
	}
	size := *d.PositionSizeUSD
	limit := g.maxPositionPct * account.Equity
	switch {
	case size <= limit:
	case size <= 1.5*limit:
		res.Corrections["position_size_usd"] = limit
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("position size %.2f reduced to %.2f (%.0f%% of equity)", size, limit, g.maxPositionPct*100))
	default:
		block(res, fmt.Sprintf("position size %.2f exceeds 1.5x the %.0f%% equity limit (%.2f)",
			size, g.maxPositionPct*100, limit))
	}
}

// checkStopLossBand keeps the stop distance inside the configured band of
// current price. Too tight gets stopped out by noise, too wide risks more
// than the sizing math assumes. Either way the stop is moved to the nearest
// bound on the correct side of entry.
func (g *Gate) checkStopLossBand(d *types.Decision, currentPrice float64, res *types.AuditResult) {
	if d.StopLoss == nil || currentPrice <= 0 {
		return
	}
	entry := currentPrice
	if d.EntryPrice != nil && *d.EntryPrice > 0 {
		entry = *d.EntryPrice
	}

	dist := math.Abs(entry-*d.StopLoss) / currentPrice
	if dist >= g.minStopLossPct && dist <= g.maxStopLossPct {
		return
	}

	target := g.minStopLossPct
	label := "widened"
	if dist > g.maxStopLossPct {
		target = g.maxStopLossPct
		label = "tightened"
	}

	corrected := entry * (1 - target)
	if d.Action == action.OpenShort {
		corrected = entry * (1 + target)
	}
	res.Corrections["stop_loss"] = corrected
	res.Warnings = append(res.Warnings,
		fmt.Sprintf("stop-loss distance %.2f%% outside band [%.2f%%, %.2f%%], %s to %.2f",
			dist*100, g.minStopLossPct*100, g.maxStopLossPct*100, label, corrected))
}

func block(res *types.AuditResult, reason string) {
	if res.Passed {
		res.BlockedReason = reason
	}
	res.Passed = false
	res.Warnings = append(res.Warnings, reason)
}

// deriveRiskLevel is operator-facing severity, not gating logic. Blocked is
// always dangerous; any correction or warning downgrades safe to caution.
func deriveRiskLevel(res *types.AuditResult) types.RiskLevel {
	if !res.Passed {
		return types.RiskDangerous
	}
	if len(res.Corrections) > 0 || len(res.Warnings) > 0 {
		return types.RiskCaution
	}
	return types.RiskSafe
}
