// Package backtest replays the decision pipeline over historical candles and
// scores the outcome. Replay is single-threaded and deterministic: the same
// candles always produce the same ledger and the same metrics. Costs enter
// only as the configured commission and slippage percentages.
package backtest

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"llm-tradebot/internal/types"
)

var (
	ErrAlreadyOpen = errors.New("position already open, close it before opening another")
	ErrNoPosition  = errors.New("no open position to close")
)

// Ledger is the simulated account: cash, at most one position per run, the
// immutable trade list, and the equity curve. Per symbol the state machine is
// flat, then open on one side, then flat again; a second open while open is
// an error the engine must route through a close first.
type Ledger struct {
	symbol         string
	initialCapital float64
	cash           float64
	commissionPct  float64
	slippagePct    float64

	position *types.Position
	margin   float64
	openFee  float64

	trades []types.Trade
	equity []types.EquityPoint
	peak   float64
}

func NewLedger(symbol string, initialCapital, commissionPct, slippagePct float64) *Ledger {
	return &Ledger{
		symbol:         symbol,
		initialCapital: initialCapital,
		cash:           initialCapital,
		commissionPct:  commissionPct,
		slippagePct:    slippagePct,
		peak:           initialCapital,
	}
}

// Open fills sizeUSD of exposure at price slipped against the trade and
// debits cash for margin plus commission.
func (l *Ledger) Open(side types.Side, sizeUSD, price float64, ts time.Time) (types.Trade, error) {
	if l.position != nil {
		return types.Trade{}, ErrAlreadyOpen
	}
	if sizeUSD <= 0 || price <= 0 {
		return types.Trade{}, fmt.Errorf("invalid open: size %.2f at price %.2f", sizeUSD, price)
	}

	fill := l.slip(side, price, true)
	qty := sizeUSD / fill
	margin := qty * fill
	fee := margin * l.commissionPct

	if margin+fee > l.cash {
		return types.Trade{}, fmt.Errorf("insufficient cash: need %.2f, have %.2f", margin+fee, l.cash)
	}

	l.cash -= margin + fee
	l.margin = margin
	l.openFee = fee
	l.position = &types.Position{
		Symbol:     l.symbol,
		Side:       side,
		EntryPrice: fill,
		Quantity:   qty,
		EntryTime:  ts,
	}

	trade := types.Trade{
		ID:        uuid.NewString(),
		Symbol:    l.symbol,
		Side:      side,
		Action:    "open",
		Quantity:  qty,
		Price:     fill,
		Timestamp: ts,
	}
	l.trades = append(l.trades, trade)
	return trade, nil
}

// Close unwinds the position at price slipped against the trade, credits
// margin plus realized profit back to cash, and records the round-trip net
// PnL on the close trade.
func (l *Ledger) Close(price float64, ts time.Time) (types.Trade, error) {
	if l.position == nil {
		return types.Trade{}, ErrNoPosition
	}
	if price <= 0 {
		return types.Trade{}, fmt.Errorf("invalid close price %.2f", price)
	}

	p := l.position
	fill := l.slip(p.Side, price, false)
	gross := p.Quantity * (fill - p.EntryPrice)
	if p.Side == types.Short {
		gross = p.Quantity * (p.EntryPrice - fill)
	}
	closeFee := p.Quantity * fill * l.commissionPct

	l.cash += l.margin + gross - closeFee

	pnl := gross - closeFee - l.openFee
	pnlPct := 0.0
	if l.margin > 0 {
		pnlPct = pnl / l.margin * 100
	}
	holding := ts.Sub(p.EntryTime).Hours()

	trade := types.Trade{
		ID:          uuid.NewString(),
		Symbol:      l.symbol,
		Side:        p.Side,
		Action:      "close",
		Quantity:    p.Quantity,
		Price:       fill,
		Timestamp:   ts,
		PnL:         &pnl,
		PnLPct:      &pnlPct,
		HoldingTime: &holding,
	}
	l.trades = append(l.trades, trade)

	l.position = nil
	l.margin = 0
	l.openFee = 0
	return trade, nil
}

// MarkToMarket appends one equity point: cash plus the position valued at
// the given price. Call it exactly once per replay step.
func (l *Ledger) MarkToMarket(price float64, ts time.Time) types.EquityPoint {
	equity := l.cash
	if l.position != nil {
		unrealized := l.position.Quantity * (price - l.position.EntryPrice)
		if l.position.Side == types.Short {
			unrealized = l.position.Quantity * (l.position.EntryPrice - price)
		}
		l.position.UnrealizedPnL = unrealized
		equity += l.margin + unrealized
	}

	if equity > l.peak {
		l.peak = equity
	}
	dd := l.peak - equity
	ddPct := 0.0
	if l.peak > 0 {
		ddPct = dd / l.peak * 100
	}

	point := types.EquityPoint{
		Timestamp:   ts,
		TotalEquity: equity,
		Drawdown:    dd,
		DrawdownPct: ddPct,
	}
	l.equity = append(l.equity, point)
	return point
}

// slip moves the fill against the trade: buys pay up, sells receive less.
// Opening long and closing short are buys; the other two are sells.
func (l *Ledger) slip(side types.Side, price float64, opening bool) float64 {
	buying := (side == types.Long) == opening
	if buying {
		return price * (1 + l.slippagePct)
	}
	return price * (1 - l.slippagePct)
}

func (l *Ledger) Position() *types.Position        { return l.position }
func (l *Ledger) Cash() float64                    { return l.cash }
func (l *Ledger) InitialCapital() float64          { return l.initialCapital }
func (l *Ledger) Trades() []types.Trade            { return l.trades }
func (l *Ledger) EquityCurve() []types.EquityPoint { return l.equity }
