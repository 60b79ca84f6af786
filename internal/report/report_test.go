package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"llm-tradebot/internal/backtest"
	"llm-tradebot/internal/storage"
	"llm-tradebot/internal/types"
)

func TestScorecardRendersAllRows(t *testing.T) {
	m := backtest.MetricsResult{
		FinalEquity:    11500,
		TotalReturn:    15,
		TotalTrades:    4,
		WinRate:        75,
	}
	var buf bytes.Buffer
	Scorecard(&buf, "BTCUSDT", m)

	out := buf.String()
	assert.Contains(t, out, "BTCUSDT")
	assert.Contains(t, out, "total_return")
	assert.Contains(t, out, "15.00%")
	assert.Contains(t, out, "win_rate")
}

func TestTradesEmptyBlotter(t *testing.T) {
	var buf bytes.Buffer
	Trades(&buf, nil)
	assert.Contains(t, buf.String(), "no trades executed")
}

func TestTradesFormatsOptionalColumns(t *testing.T) {
	pnl, pct, held := -3.25, -1.6, 4.5
	trades := []types.Trade{
		{Symbol: "BTCUSDT", Side: types.Long, Action: "open", Quantity: 0.0023, Price: 86000, Timestamp: time.Unix(1700000000, 0)},
		{Symbol: "BTCUSDT", Side: types.Long, Action: "close", Quantity: 0.0023, Price: 85500, Timestamp: time.Unix(1700014400, 0), PnL: &pnl, PnLPct: &pct, HoldingTime: &held},
	}
	var buf bytes.Buffer
	Trades(&buf, trades)

	out := buf.String()
	assert.Contains(t, out, "open")
	assert.Contains(t, out, "-3.25")
	assert.Contains(t, out, "-1.60%")
	assert.Contains(t, out, "4.5")
}

func TestComparisonShortensIDs(t *testing.T) {
	runs := []storage.RunSummary{
		{ID: "0123456789abcdef", CreatedAt: time.Unix(1700000000, 0), Symbol: "ETHUSDT", Label: "baseline", TotalReturn: 2.5, MaxDDPct: 1.1, Sharpe: 0.8, Trades: 12},
	}
	var buf bytes.Buffer
	Comparison(&buf, runs)

	out := buf.String()
	assert.Contains(t, out, "01234567")
	assert.NotContains(t, out, "0123456789abcdef")
	assert.Contains(t, out, "baseline")
	assert.Contains(t, out, "2.50%")
}
