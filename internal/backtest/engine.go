package backtest

import (
	"fmt"
	"time"

	"llm-tradebot/internal/action"
	"llm-tradebot/internal/decision"
	"llm-tradebot/internal/risk"
	"llm-tradebot/internal/signal"
	"llm-tradebot/internal/store"
	"llm-tradebot/internal/types"
)

// warmup is the number of base candles consumed before the first decision so
// every scorer has enough history to be defined.
const warmup = 60

// Engine replays the scoring, voting, validation and audit stages over a
// base candle series. The LLM stage is elided: replay runs the pure technical
// path so results are reproducible. Medium and long timeframes are resampled
// from the base series at fixed multiples.
type Engine struct {
	cfg        *store.Config
	trend      signal.TrendScorer
	oscillator signal.OscillatorScorer
	sentiment  signal.SentimentScorer
	aggregator *decision.Aggregator
	validator  *decision.Validator
	gate       *risk.Gate
}

func NewEngine(cfg *store.Config) *Engine {
	return &Engine{
		cfg:        cfg,
		aggregator: decision.NewAggregator(cfg),
		validator:  decision.NewValidator(cfg),
		gate:       risk.NewGate(cfg),
	}
}

// Result is one finished replay: the scorecard plus everything needed to
// persist or compare the run.
type Result struct {
	Symbol      string
	Metrics     MetricsResult
	Trades      []types.Trade
	EquityCurve []types.EquityPoint
	Statuses    map[types.CycleStatus]int
}

// Run replays the pipeline over candles (base timeframe, oldest first).
// Candles before the warmup window only feed history. Any position still
// open at the last candle is closed there so the metrics see realized PnL.
func (e *Engine) Run(candles []types.Candle) (*Result, error) {
	if len(candles) <= warmup {
		return nil, fmt.Errorf("need more than %d candles, got %d", warmup, len(candles))
	}

	symbol := e.cfg.Trading.Symbol
	ledger := NewLedger(symbol, e.cfg.Backtest.InitialCapital, e.cfg.Backtest.CommissionPct, e.cfg.Backtest.SlippagePct)
	statuses := map[types.CycleStatus]int{}
	levels := &protectiveLevels{}

	for i := warmup; i < len(candles); i++ {
		snap := e.snapshotAt(candles, i)
		price := snap.CurrentPrice()
		ts := time.Unix(candles[i].Ts, 0).UTC()

		status := e.step(ledger, levels, snap, price, ts)
		statuses[status]++

		ledger.MarkToMarket(price, ts)
	}

	if ledger.Position() != nil {
		last := candles[len(candles)-1]
		ts := time.Unix(last.Ts, 0).UTC()
		if _, err := ledger.Close(last.Close, ts); err != nil {
			return nil, fmt.Errorf("closing final position: %w", err)
		}
		ledger.MarkToMarket(last.Close, ts)
	}

	return &Result{
		Symbol:      symbol,
		Metrics:     ComputeMetrics(ledger.EquityCurve(), ledger.Trades(), ledger.InitialCapital()),
		Trades:      ledger.Trades(),
		EquityCurve: ledger.EquityCurve(),
		Statuses:    statuses,
	}, nil
}

// protectiveLevels carries the open position's stop and target between
// steps, the replay counterpart of the stop/target the live engine holds
// across cycles.
type protectiveLevels struct {
	stop, target float64
}

func (p *protectiveLevels) arm(d *types.Decision) {
	p.clear()
	if d.StopLoss != nil {
		p.stop = *d.StopLoss
	}
	if d.TakeProfit != nil {
		p.target = *d.TakeProfit
	}
}

func (p *protectiveLevels) clear() { p.stop, p.target = 0, 0 }

// breach reports whether the candle swept the stop or target and the price
// the exit fills at. The stop wins when a single candle touches both.
func (p *protectiveLevels) breach(side types.Side, c types.Candle) (float64, bool) {
	if side == types.Long {
		if p.stop > 0 && c.Low <= p.stop {
			return p.stop, true
		}
		if p.target > 0 && c.High >= p.target {
			return p.target, true
		}
		return 0, false
	}
	if p.stop > 0 && c.High >= p.stop {
		return p.stop, true
	}
	if p.target > 0 && c.Low <= p.target {
		return p.target, true
	}
	return 0, false
}

// step runs one pipeline cycle against the ledger and reports its status
// using the same classification the live engine uses. Protective exits are
// checked against the candle's range before scoring, like the live engine
// checks them before asking for a new decision.
func (e *Engine) step(ledger *Ledger, levels *protectiveLevels, snap *types.MarketSnapshot, price float64, ts time.Time) types.CycleStatus {
	if pos := ledger.Position(); pos != nil {
		if fill, hit := levels.breach(pos.Side, *snap.LiveShort); hit {
			if _, err := ledger.Close(fill, ts); err != nil {
				return types.StatusFailed
			}
			levels.clear()
			return types.StatusSuccess
		}
	}

	scores := decision.ScoreSet{
		Trend:      e.trend.Score(snap),
		Oscillator: e.oscillator.Score(snap),
		Sentiment:  e.sentiment.Score(snap),
	}
	vote := e.aggregator.Vote(scores, ledger.Position())

	switch vote.Action {
	case action.Wait:
		return types.StatusWait
	case action.Hold:
		return types.StatusHold
	}

	if action.IsClose(vote.Action) {
		if ledger.Position() == nil {
			return types.StatusWait
		}
		if _, err := ledger.Close(price, ts); err != nil {
			return types.StatusFailed
		}
		levels.clear()
		return types.StatusSuccess
	}

	// A directional open against an existing same-side position degrades to
	// hold; an opposite-side signal closes first and re-enters next cycle.
	if pos := ledger.Position(); pos != nil {
		sameSide := (pos.Side == types.Long) == (vote.Action == action.OpenLong)
		if sameSide {
			return types.StatusHold
		}
		if _, err := ledger.Close(price, ts); err != nil {
			return types.StatusFailed
		}
		levels.clear()
		return types.StatusSuccess
	}

	d := e.buildDecision(vote, price)
	if ok, _ := e.validator.Validate(d); !ok {
		return types.StatusRejected
	}

	account := types.AccountContext{Balance: ledger.Cash(), Equity: ledger.Cash()}
	audit := e.gate.Audit(d, ledger.Position(), account, price)
	if !audit.Passed {
		return types.StatusBlocked
	}
	applyCorrections(d, audit.Corrections)

	side := types.Long
	if d.Action == action.OpenShort {
		side = types.Short
	}
	if _, err := ledger.Open(side, *d.PositionSizeUSD, price, ts); err != nil {
		return types.StatusFailed
	}
	levels.arm(d)
	return types.StatusSuccess
}

// buildDecision synthesizes the structured decision the LLM would have
// produced, with stops and targets at the configured distances from price.
func (e *Engine) buildDecision(vote types.VoteResult, price float64) *types.Decision {
	slPct := e.cfg.Trading.StopLossPct
	tpPct := e.cfg.Trading.TakeProfitPct
	size := e.cfg.Trading.MaxPositionUSD
	lev := e.cfg.Trading.Leverage

	stop := price * (1 - slPct)
	target := price * (1 + tpPct)
	if vote.Action == action.OpenShort {
		stop = price * (1 + slPct)
		target = price * (1 - tpPct)
	}
	conf := vote.Confidence

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

// snapshotAt builds the market view as of base candle i: the short series is
// the trailing base window, medium and long are resampled at 3x and 12x, and
// candle i itself is the in-progress short candle.
func (e *Engine) snapshotAt(candles []types.Candle, i int) *types.MarketSnapshot {
	history := candles[:i]
	live := candles[i]

	short := history
	if len(short) > e.cfg.Trading.HistoryLimit {
		short = short[len(short)-e.cfg.Trading.HistoryLimit:]
	}

	return &types.MarketSnapshot{
		Symbol:       e.cfg.Trading.Symbol,
		Timestamp:    time.Unix(live.Ts, 0).UTC(),
		StableShort:  types.Series(short),
		StableMedium: Resample(history, 3),
		StableLong:   Resample(history, 12),
		LiveShort:    &live,
	}
}

// Resample aggregates base candles into buckets of factor bars. A trailing
// partial bucket is dropped so every output candle is fully closed.
func Resample(candles []types.Candle, factor int) types.Series {
	if factor <= 1 {
		return types.Series(candles)
	}
	n := len(candles) / factor
	out := make(types.Series, 0, n)
	for b := 0; b < n; b++ {
		chunk := candles[b*factor : (b+1)*factor]
		agg := types.Candle{
			Ts:    chunk[0].Ts,
			Open:  chunk[0].Open,
			High:  chunk[0].High,
			Low:   chunk[0].Low,
			Close: chunk[len(chunk)-1].Close,
		}
		for _, c := range chunk {
			if c.High > agg.High {
				agg.High = c.High
			}
			if c.Low < agg.Low {
				agg.Low = c.Low
			}
			agg.Vol += c.Vol
		}
		out = append(out, agg)
	}
	return out
}
