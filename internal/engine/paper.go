package engine

import (
	"time"

	"github.com/google/uuid"

	"llm-tradebot/internal/types"
)

// paperBook is the dry-run position manager. Fills are immediate at the
// given price with no costs; realized PnL folds into the balance on close.
// Live execution would sit behind the same open/close calls.
type paperBook struct {
	balance  float64
	position *types.Position
}

func newPaperBook(initialBalance float64) *paperBook {
	return &paperBook{balance: initialBalance}
}

func (b *paperBook) account(price float64) types.AccountContext {
	equity := b.balance
	if b.position != nil {
		b.position.UnrealizedPnL = b.unrealized(price)
		equity += b.position.UnrealizedPnL
	}
	return types.AccountContext{Balance: b.balance, Equity: equity, Position: b.position}
}

func (b *paperBook) unrealized(price float64) float64 {
	p := b.position
	if p == nil {
		return 0
	}
	if p.Side == types.Long {
		return (price - p.EntryPrice) * p.Quantity
	}
	return (p.EntryPrice - price) * p.Quantity
}

func (b *paperBook) open(symbol string, side types.Side, notionalUSD, price float64, ts time.Time) types.Trade {
	qty := notionalUSD / price
	b.position = &types.Position{
		Symbol:     symbol,
		Side:       side,
		EntryPrice: price,
		Quantity:   qty,
		EntryTime:  ts,
	}
	return types.Trade{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Side:      side,
		Action:    "open",
		Quantity:  qty,
		Price:     price,
		Timestamp: ts,
	}
}

func (b *paperBook) close(price float64, ts time.Time) types.Trade {
	p := b.position
	pnl := b.unrealized(price)
	b.balance += pnl
	b.position = nil

	notional := p.EntryPrice * p.Quantity
	pnlPct := 0.0
	if notional != 0 {
		pnlPct = pnl / notional * 100
	}
	held := ts.Sub(p.EntryTime).Hours()
	return types.Trade{
		ID:          uuid.NewString(),
		Symbol:      p.Symbol,
		Side:        p.Side,
		Action:      "close",
		Quantity:    p.Quantity,
		Price:       price,
		Timestamp:   ts,
		PnL:         &pnl,
		PnLPct:      &pnlPct,
		HoldingTime: &held,
	}
}
