// Package report renders backtest scorecards and run comparisons as
// console tables.
package report

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"llm-tradebot/internal/backtest"
	"llm-tradebot/internal/storage"
	"llm-tradebot/internal/types"
)

// Scorecard writes the full metrics table for one run.
func Scorecard(w io.Writer, symbol string, m backtest.MetricsResult) {
	fmt.Fprintf(w, "\nBacktest results for %s\n", symbol)
	table := tablewriter.NewWriter(w)
	table.Header("Metric", "Value")
	for _, row := range m.Rows() {
		table.Append(row[0], row[1])
	}
	table.Render()
}

// Trades writes the fill-by-fill trade blotter.
func Trades(w io.Writer, trades []types.Trade) {
	if len(trades) == 0 {
		fmt.Fprintln(w, "no trades executed")
		return
	}
	table := tablewriter.NewWriter(w)
	table.Header("Time", "Side", "Action", "Qty", "Price", "PnL", "PnL %", "Held (h)")
	for _, tr := range trades {
		pnl, pnlPct, held := "", "", ""
		if tr.PnL != nil {
			pnl = fmt.Sprintf("%.2f", *tr.PnL)
		}
		if tr.PnLPct != nil {
			pnlPct = fmt.Sprintf("%.2f%%", *tr.PnLPct)
		}
		if tr.HoldingTime != nil {
			held = fmt.Sprintf("%.1f", *tr.HoldingTime)
		}
		table.Append(
			tr.Timestamp.UTC().Format("2006-01-02 15:04"),
			string(tr.Side),
			tr.Action,
			fmt.Sprintf("%.6f", tr.Quantity),
			fmt.Sprintf("%.2f", tr.Price),
			pnl, pnlPct, held,
		)
	}
	table.Render()
}

// Comparison writes a one-row-per-run summary table for saved runs.
func Comparison(w io.Writer, runs []storage.RunSummary) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no saved runs")
		return
	}
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Created", "Symbol", "Label", "Return", "Max DD", "Sharpe", "Trades")
	for _, r := range runs {
		table.Append(
			shortID(r.ID),
			r.CreatedAt.UTC().Format("2006-01-02 15:04"),
			r.Symbol,
			r.Label,
			fmt.Sprintf("%.2f%%", r.TotalReturn),
			fmt.Sprintf("%.2f%%", r.MaxDDPct),
			fmt.Sprintf("%.2f", r.Sharpe),
			fmt.Sprintf("%d", r.Trades),
		)
	}
	table.Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
