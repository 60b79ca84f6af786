// Package engine runs the per-cycle decision pipeline: score the snapshot,
// take the weighted vote, optionally consult the language model, validate,
// audit, then fill against the paper book. One cycle per symbol at a time;
// the caller's loop enforces that.
package engine

import (
	"context"
	"strings"
	"time"

	"llm-tradebot/internal/action"
	"llm-tradebot/internal/decision"
	"llm-tradebot/internal/llm"
	"llm-tradebot/internal/logger"
	"llm-tradebot/internal/risk"
	"llm-tradebot/internal/signal"
	"llm-tradebot/internal/state"
	"llm-tradebot/internal/store"
	"llm-tradebot/internal/tradelog"
	"llm-tradebot/internal/types"
)

type Engine struct {
	cfg        *store.Config
	llm        llm.Client
	normalizer *decision.Normalizer
	trend      signal.TrendScorer
	oscillator signal.OscillatorScorer
	sentiment  signal.SentimentScorer
	aggregator *decision.Aggregator
	validator  *decision.Validator
	gate       *risk.Gate
	state      *state.RunState

	book *paperBook
	// protective levels for the held paper position
	stop   float64
	target float64
}

func New(cfg *store.Config, client llm.Client, st *state.RunState) *Engine {
	return &Engine{
		cfg:        cfg,
		llm:        client,
		normalizer: decision.NewNormalizer(cfg.Trading.Symbol),
		aggregator: decision.NewAggregator(cfg),
		validator:  decision.NewValidator(cfg),
		gate:       risk.NewGate(cfg),
		state:      st,
		book:       newPaperBook(cfg.Backtest.InitialCapital),
	}
}

// Account reports the paper account marked at the given price.
func (e *Engine) Account(price float64) types.AccountContext {
	return e.book.account(price)
}

// RunCycle executes one full pipeline pass. It never returns an error:
// every outcome, including transport failures, maps onto a cycle status
// so the surrounding loop cannot be crashed by one bad cycle.
func (e *Engine) RunCycle(ctx context.Context, snap *types.MarketSnapshot, account types.AccountContext) types.CycleResult {
	ctx, span := logger.StartSpan(ctx, "trade-cycle")
	defer span.End()

	price := snap.CurrentPrice()
	ts := snap.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	if res, exited := e.checkProtectiveExit(ctx, price, ts); exited {
		return e.finish(res)
	}

	scores := decision.ScoreSet{
		Trend:      e.trend.Score(snap),
		Oscillator: e.oscillator.Score(snap),
		Sentiment:  e.sentiment.Score(snap),
	}
	vote := e.aggregator.Vote(scores, e.book.position)
	logger.Debug(ctx, "Vote computed",
		"symbol", snap.Symbol,
		"action", vote.Action,
		"weighted_score", vote.WeightedScore,
		"confidence", vote.Confidence,
	)

	switch {
	case vote.Action == action.Wait:
		return e.finish(e.passiveResult(ctx, types.StatusWait, vote, price))
	case vote.Action == action.Hold:
		return e.finish(e.passiveResult(ctx, types.StatusHold, vote, price))
	}

	// The vote wants a directional open. A held opposite position is closed
	// this cycle; re-entry is next cycle's vote to make.
	if p := e.book.position; p != nil {
		if sameDirection(vote.Action, p.Side) {
			return e.finish(e.passiveResult(ctx, types.StatusHold, vote, price))
		}
		return e.finish(e.closePosition(ctx, price, ts, "signal flipped against the open position"))
	}

	d, res := e.buildDecision(ctx, snap, scores, vote, price, account)
	if res != nil {
		return e.finish(*res)
	}

	if ok, errs := e.validator.Validate(d); !ok {
		reason := strings.Join(errs, "; ")
		logger.Warn(ctx, "Decision rejected by validator", "symbol", d.Symbol, "action", d.Action, "errors", errs)
		_ = tradelog.AppendDecision(*d, types.StatusRejected, nil, price)
		return e.finish(types.CycleResult{Status: types.StatusRejected, Action: d.Action, Reason: reason})
	}

	audit := e.gate.Audit(d, e.book.position, account, price)
	logger.Audit(ctx, d.Symbol, audit.Passed, string(audit.RiskLevel), audit.BlockedReason,
		"corrections", audit.Corrections, "warnings", audit.Warnings)
	e.state.RecordDecision(*d, audit)

	if !audit.Passed {
		_ = tradelog.AppendDecision(*d, types.StatusBlocked, &audit, price)
		return e.finish(types.CycleResult{
			Status:  types.StatusBlocked,
			Action:  d.Action,
			Reason:  audit.BlockedReason,
			Details: map[string]any{"risk_level": audit.RiskLevel},
		})
	}
	applyCorrections(d, audit.Corrections)
	_ = tradelog.AppendDecision(*d, types.StatusSuccess, &audit, price)

	return e.finish(e.openPosition(ctx, d, price, ts))
}

func (e *Engine) finish(res types.CycleResult) types.CycleResult {
	e.state.RecordCycle(res)
	return res
}

// checkProtectiveExit closes the paper position when price has crossed the
// stored stop or target. It runs before scoring so a breached stop cannot
// wait out a slow pipeline stage.
func (e *Engine) checkProtectiveExit(ctx context.Context, price float64, ts time.Time) (types.CycleResult, bool) {
	p := e.book.position
	if p == nil {
		return types.CycleResult{}, false
	}
	var reason string
	switch p.Side {
	case types.Long:
		if price <= e.stop {
			reason = "stop loss hit"
		} else if price >= e.target {
			reason = "take profit hit"
		}
	case types.Short:
		if price >= e.stop {
			reason = "stop loss hit"
		} else if price <= e.target {
			reason = "take profit hit"
		}
	}
	if reason == "" {
		return types.CycleResult{}, false
	}
	logger.Warn(ctx, "Protective exit triggered",
		"symbol", p.Symbol, "side", p.Side, "price", price, "stop", e.stop, "target", e.target, "reason", reason)
	return e.closePosition(ctx, price, ts, reason), true
}

// buildDecision produces the order intent for a directional vote. With the
// model enabled the vote becomes a prompt and the reply is normalized; a
// transport failure is this cycle's error, a parse failure degrades to wait.
func (e *Engine) buildDecision(ctx context.Context, snap *types.MarketSnapshot, scores decision.ScoreSet, vote types.VoteResult, price float64, account types.AccountContext) (*types.Decision, *types.CycleResult) {
	if !e.cfg.LLM.Enabled {
		d := e.voteDecision(vote, price)
		return d, nil
	}

	system := e.cfg.LLM.System
	if system == "" {
		system = defaultSystemPrompt
	}
	raw, err := e.llm.Chat(ctx, system, buildUserPrompt(snap, scores, vote))
	if err != nil {
		logger.ErrorWithErr(ctx, "LLM call failed", err, "symbol", snap.Symbol)
		return nil, &types.CycleResult{Status: types.StatusError, Action: action.Wait, Reason: "llm call failed: " + err.Error()}
	}

	parsed := e.normalizer.Parse(raw)
	d := parsed.Decision
	if parsed.ParseError != "" {
		logger.Warn(ctx, "Model response unusable, waiting", "symbol", snap.Symbol, "parse_error", parsed.ParseError)
		return nil, &types.CycleResult{Status: types.StatusWait, Action: action.Wait, Reason: d.Reasoning}
	}
	if !action.IsOpen(d.Action) {
		// the model overrode the vote toward caution; honor it
		status := types.StatusWait
		if d.Action == action.Hold {
			status = types.StatusHold
		}
		logger.Decision(ctx, d.Symbol, d.Action, deref(d.Confidence), d.Reasoning)
		_ = tradelog.AppendDecision(d, status, nil, price)
		return nil, &types.CycleResult{Status: status, Action: d.Action, Reason: d.Reasoning}
	}

	e.fillDefaults(&d, price, account.Equity)
	logger.Decision(ctx, d.Symbol, d.Action, deref(d.Confidence), d.Reasoning)
	return &d, nil
}

// voteDecision synthesizes an order intent straight from the vote when the
// model stage is disabled. Protective levels come from config fractions.
func (e *Engine) voteDecision(vote types.VoteResult, price float64) *types.Decision {
	conf := vote.Confidence
	lev := e.cfg.Trading.Leverage
	size := e.cfg.Trading.MaxPositionUSD
	stop, target := e.protectiveLevels(vote.Action, price)

	return &types.Decision{
		Symbol:          e.cfg.Trading.Symbol,
		Action:          vote.Action,
		Confidence:      &conf,
		Leverage:        &lev,
		PositionSizeUSD: &size,
		EntryPrice:      &price,
		CurrentPrice:    &price,
		StopLoss:        &stop,
		TakeProfit:      &target,
		Reasoning:       vote.Reason,
	}
}

// fillDefaults completes a model decision with the fields it may omit.
// Existing values are never overwritten.
func (e *Engine) fillDefaults(d *types.Decision, price, equity float64) {
	if d.Symbol == "" {
		d.Symbol = e.cfg.Trading.Symbol
	}
	if d.CurrentPrice == nil {
		p := price
		d.CurrentPrice = &p
	}
	if d.EntryPrice == nil {
		p := price
		d.EntryPrice = &p
	}
	if d.Leverage == nil {
		lev := e.cfg.Trading.Leverage
		d.Leverage = &lev
	}
	if d.PositionSizeUSD == nil {
		size := e.cfg.Trading.MaxPositionUSD
		if d.PositionSizePct != nil && equity > 0 {
			size = equity * *d.PositionSizePct / 100
		}
		d.PositionSizeUSD = &size
	}
	if d.StopLoss == nil || d.TakeProfit == nil {
		stop, target := e.protectiveLevels(d.Action, *d.EntryPrice)
		if d.StopLoss == nil {
			d.StopLoss = &stop
		}
		if d.TakeProfit == nil {
			d.TakeProfit = &target
		}
	}
}

func (e *Engine) protectiveLevels(act string, price float64) (stop, target float64) {
	slPct := e.cfg.Trading.StopLossPct
	tpPct := e.cfg.Trading.TakeProfitPct
	if act == action.OpenShort {
		return price * (1 + slPct), price * (1 - tpPct)
	}
	return price * (1 - slPct), price * (1 + tpPct)
}

func (e *Engine) openPosition(ctx context.Context, d *types.Decision, price float64, ts time.Time) types.CycleResult {
	side := types.Long
	if d.Action == action.OpenShort {
		side = types.Short
	}
	size := deref(d.PositionSizeUSD)
	tr := e.book.open(d.Symbol, side, size, price, ts)
	e.stop = deref(d.StopLoss)
	e.target = deref(d.TakeProfit)

	logger.Trade(ctx, tr.Symbol, string(tr.Side), tr.Quantity, tr.Price, tr.ID,
		"action", "open", "stop_loss", e.stop, "take_profit", e.target, "confidence", deref(d.Confidence))
	_ = tradelog.AppendTrade(tr, d.Reasoning)
	return types.CycleResult{
		Status: types.StatusSuccess,
		Action: d.Action,
		Reason: d.Reasoning,
		Details: map[string]any{
			"quantity":    tr.Quantity,
			"stop_loss":   e.stop,
			"take_profit": e.target,
		},
	}
}

func (e *Engine) passiveResult(ctx context.Context, status types.CycleStatus, vote types.VoteResult, price float64) types.CycleResult {
	logger.Decision(ctx, e.cfg.Trading.Symbol, vote.Action, vote.Confidence, vote.Reason)
	d := types.Decision{Symbol: e.cfg.Trading.Symbol, Action: vote.Action, Reasoning: vote.Reason}
	_ = tradelog.AppendDecision(d, status, nil, price)
	return types.CycleResult{
		Status:  status,
		Action:  vote.Action,
		Reason:  vote.Reason,
		Details: vote.VoteDetails,
	}
}

func (e *Engine) closePosition(ctx context.Context, price float64, ts time.Time, reason string) types.CycleResult {
	p := e.book.position
	act := action.CloseLong
	if p.Side == types.Short {
		act = action.CloseShort
	}
	tr := e.book.close(price, ts)
	e.stop, e.target = 0, 0

	logger.Trade(ctx, tr.Symbol, string(tr.Side), tr.Quantity, tr.Price, tr.ID, "action", "close", "pnl", deref(tr.PnL), "reason", reason)
	_ = tradelog.AppendTrade(tr, reason)
	return types.CycleResult{
		Status: types.StatusSuccess,
		Action: act,
		Reason: reason,
		Details: map[string]any{
			"pnl":     deref(tr.PnL),
			"pnl_pct": deref(tr.PnLPct),
		},
	}
}

func sameDirection(openAction string, side types.Side) bool {
	return (openAction == action.OpenLong && side == types.Long) ||
		(openAction == action.OpenShort && side == types.Short)
}

func applyCorrections(d *types.Decision, corrections map[string]float64) {
	for field, value := range corrections {
		v := value
		switch field {
		case "leverage":
			d.Leverage = &v
		case "position_size_usd":
			d.PositionSizeUSD = &v
		case "stop_loss":
			d.StopLoss = &v
		case "take_profit":
			d.TakeProfit = &v
		}
	}
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
