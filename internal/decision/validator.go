package decision

import (
	"fmt"
	"regexp"
	"strings"

	"llm-tradebot/internal/action"
	"llm-tradebot/internal/store"
	"llm-tradebot/internal/types"
)

// Validator checks a normalized decision against structural and risk rules
// before it reaches the audit gate. It collects every violation rather than
// stopping at the first, except when the basic identity fields are missing,
// in which case nothing else is worth checking. The only field it may
// rewrite is Action, via the alias table.
type Validator struct {
	maxLeverage        float64
	maxPositionPct     float64
	minConfidence      float64
	maxConfidence      float64
	minRiskRewardRatio float64
}

func NewValidator(cfg *store.Config) *Validator {
	return &Validator{
		maxLeverage:        cfg.Validator.MaxLeverage,
		maxPositionPct:     cfg.Validator.MaxPositionPct,
		minConfidence:      cfg.Validator.MinConfidence,
		maxConfidence:      cfg.Validator.MaxConfidence,
		minRiskRewardRatio: cfg.Validator.MinRiskRewardRatio,
	}
}

var thousandsNumberRe = regexp.MustCompile(`^\d{1,3}(,\d{3})+(\.\d+)?$`)

// Validate reports whether the decision may proceed, with the full list of
// violations. Calling it twice on the same decision yields the same result;
// the Action rewrite is idempotent.
func (v *Validator) Validate(d *types.Decision) (bool, []string) {
	var errs []string

	if d.Symbol == "" {
		errs = append(errs, "missing required field: symbol")
	}
	if strings.TrimSpace(d.Action) == "" {
		errs = append(errs, "missing required field: action")
	}
	if strings.TrimSpace(d.Reasoning) == "" {
		errs = append(errs, "missing required field: reasoning")
	}
	if len(errs) > 0 {
		return false, errs
	}

	d.Action = action.Normalize(d.Action, d.PositionSide)
	if !action.Valid(d.Action) {
		errs = append(errs, fmt.Sprintf("invalid action: %s", d.Action))
	}

	if d.Confidence != nil {
		if *d.Confidence < v.minConfidence || *d.Confidence > v.maxConfidence {
			errs = append(errs, fmt.Sprintf("confidence out of range [%g, %g]: %g",
				v.minConfidence, v.maxConfidence, *d.Confidence))
		}
	}

	errs = append(errs, v.formatErrors(d)...)

	if action.IsOpen(d.Action) {
		openErrs, fatal := v.validateOpen(d)
		errs = append(errs, openErrs...)
		if fatal {
			return false, errs
		}
	}

	return len(errs) == 0, errs
}

// formatErrors scans every string-typed field for the two formats the
// upstream prompt forbids: range notation and thousands separators. These
// reach the validator either as identity fields or as numeric fields the
// normalizer refused to coerce.
func (v *Validator) formatErrors(d *types.Decision) []string {
	var errs []string

	fields := map[string]string{
		"symbol":        d.Symbol,
		"action":        d.Action,
		"reasoning":     d.Reasoning,
		"position_side": d.PositionSide,
	}
	for key, val := range d.Raw {
		fields[key] = val
	}

	for key, val := range fields {
		if key == "reasoning" {
			// Free text may legitimately contain '~' or formatted numbers.
			continue
		}
		if strings.Contains(val, "~") {
			errs = append(errs, fmt.Sprintf("field %s contains forbidden range notation '~': %s", key, val))
		}
		if thousandsNumberRe.MatchString(val) {
			errs = append(errs, fmt.Sprintf("field %s contains forbidden thousands separator: %s", key, val))
		}
	}
	return errs
}

// validateOpen applies the extra rules for position-opening actions. A
// missing required field is fatal: the remaining checks would dereference it.
func (v *Validator) validateOpen(d *types.Decision) (errs []string, fatal bool) {
	required := map[string]*float64{
		"leverage":          d.Leverage,
		"position_size_usd": d.PositionSizeUSD,
		"stop_loss":         d.StopLoss,
		"take_profit":       d.TakeProfit,
	}
	for _, name := range []string{"leverage", "position_size_usd", "stop_loss", "take_profit"} {
		if _, asString := d.Raw[name]; required[name] == nil && !asString {
			errs = append(errs, fmt.Sprintf("open action missing required field: %s", name))
		}
	}
	if len(errs) > 0 {
		return errs, true
	}

	if d.Leverage != nil && (*d.Leverage < 1 || *d.Leverage > v.maxLeverage) {
		errs = append(errs, fmt.Sprintf("leverage out of range [1, %g]: %g", v.maxLeverage, *d.Leverage))
	}

	if d.PositionSizePct != nil {
		if *d.PositionSizePct < 0 || *d.PositionSizePct > v.maxPositionPct {
			errs = append(errs, fmt.Sprintf("position_size_pct out of range [0, %g]: %g",
				v.maxPositionPct, *d.PositionSizePct))
		}
	}

	for _, name := range []string{"leverage", "position_size_usd", "stop_loss", "take_profit", "risk_usd"} {
		if raw, ok := d.Raw[name]; ok {
			errs = append(errs, fmt.Sprintf("field %s must be numeric, got string (possible formula): %s", name, raw))
		}
	}

	if ok, msg := v.stopLossDirection(d); !ok {
		errs = append(errs, msg)
	}

	if ratio, ok := RiskReward(d); ok && ratio < v.minRiskRewardRatio {
		errs = append(errs, fmt.Sprintf("risk/reward ratio too low: %.2f < %g", ratio, v.minRiskRewardRatio))
	}

	return errs, false
}

// stopLossDirection requires the stop on the losing side of entry. Entry
// falls back to current price; with neither available the check is skipped
// rather than guessed.
func (v *Validator) stopLossDirection(d *types.Decision) (bool, string) {
	entry := d.EntryPrice
	if entry == nil {
		entry = d.CurrentPrice
	}
	if entry == nil || d.StopLoss == nil {
		return true, ""
	}

	switch d.Action {
	case action.OpenLong:
		if *d.StopLoss >= *entry {
			return false, fmt.Sprintf("long stop_loss (%g) must be below entry price (%g)", *d.StopLoss, *entry)
		}
	case action.OpenShort:
		if *d.StopLoss <= *entry {
			return false, fmt.Sprintf("short stop_loss (%g) must be above entry price (%g)", *d.StopLoss, *entry)
		}
	}
	return true, ""
}

// RiskReward computes reward-to-risk for an open decision. The second return
// is false when the ratio is undefined, including the zero-risk case, which
// the validator deliberately does not block on.
func RiskReward(d *types.Decision) (float64, bool) {
	if !action.IsOpen(d.Action) {
		return 0, false
	}
	entry := d.EntryPrice
	if entry == nil {
		entry = d.CurrentPrice
	}
	if entry == nil || d.StopLoss == nil || d.TakeProfit == nil {
		return 0, false
	}

	var risk, reward float64
	switch d.Action {
	case action.OpenLong:
		risk = *entry - *d.StopLoss
		reward = *d.TakeProfit - *entry
	case action.OpenShort:
		risk = *d.StopLoss - *entry
		reward = *entry - *d.TakeProfit
	}
	if risk < 0 {
		risk = -risk
	}
	if reward < 0 {
		reward = -reward
	}
	if risk == 0 {
		return 0, false
	}
	return reward / risk, true
}
