package backtest

import (
	"encoding/json"
	"fmt"
	"math"

	"llm-tradebot/internal/types"
)

const (
	riskFreeRate = 0.02
	daysPerYear  = 365
)

// MetricsResult is the full scorecard for one run. All percentage fields are
// already in percent units.
type MetricsResult struct {
	TotalReturn       float64 `json:"total_return"`
	FinalEquity       float64 `json:"final_equity"`
	ProfitAmount      float64 `json:"profit_amount"`
	MaxDrawdown       float64 `json:"max_drawdown"`
	MaxDrawdownPct    float64 `json:"max_drawdown_pct"`
	DrawdownDays      float64 `json:"drawdown_days"`
	DrawdownRecovered bool    `json:"drawdown_recovered"`

	SharpeRatio  float64 `json:"sharpe_ratio"`
	SortinoRatio float64 `json:"sortino_ratio"`
	CalmarRatio  float64 `json:"calmar_ratio"`
	Volatility   float64 `json:"volatility"`

	TotalTrades    int     `json:"total_trades"`
	WinningTrades  int     `json:"winning_trades"`
	LosingTrades   int     `json:"losing_trades"`
	WinRate        float64 `json:"win_rate"`
	ProfitFactor   float64 `json:"profit_factor"`
	AvgTradePnL    float64 `json:"avg_trade_pnl"`
	AvgWin         float64 `json:"avg_win"`
	AvgLoss        float64 `json:"avg_loss"`
	LargestWin     float64 `json:"largest_win"`
	LargestLoss    float64 `json:"largest_loss"`
	AvgHoldingTime float64 `json:"avg_holding_time"`

	LongTrades   int     `json:"long_trades"`
	ShortTrades  int     `json:"short_trades"`
	LongWinRate  float64 `json:"long_win_rate"`
	ShortWinRate float64 `json:"short_win_rate"`
	LongPnL      float64 `json:"long_pnl"`
	ShortPnL     float64 `json:"short_pnl"`

	StartDate string  `json:"start_date"`
	EndDate   string  `json:"end_date"`
	TotalDays float64 `json:"total_days"`
}

// ComputeMetrics scores a finished run. An empty equity curve or trade list
// yields zeroed results, never a panic; a run with no trades is a valid run.
func ComputeMetrics(equity []types.EquityPoint, trades []types.Trade, initialCapital float64) MetricsResult {
	var m MetricsResult
	m.StartDate = "N/A"
	m.EndDate = "N/A"
	m.FinalEquity = initialCapital

	if len(equity) > 0 {
		m.StartDate = equity[0].Timestamp.Format("2006-01-02")
		m.EndDate = equity[len(equity)-1].Timestamp.Format("2006-01-02")
		m.TotalDays = equity[len(equity)-1].Timestamp.Sub(equity[0].Timestamp).Hours() / 24
		m.FinalEquity = equity[len(equity)-1].TotalEquity
		if initialCapital > 0 {
			m.TotalReturn = (m.FinalEquity - initialCapital) / initialCapital * 100
		}
	}
	m.ProfitAmount = m.FinalEquity - initialCapital

	computeDrawdown(equity, &m)
	computeRiskRatios(equity, &m)
	computeTradeStats(closedTrades(trades), &m)
	return m
}

func closedTrades(trades []types.Trade) []types.Trade {
	out := make([]types.Trade, 0, len(trades)/2)
	for _, t := range trades {
		if t.Action == "close" && t.PnL != nil {
			out = append(out, t)
		}
	}
	return out
}

// computeDrawdown finds the deepest peak-to-trough fall and measures how long
// the curve took to regain the peak. An unrecovered drawdown runs to the end
// of the curve.
func computeDrawdown(equity []types.EquityPoint, m *MetricsResult) {
	if len(equity) == 0 {
		m.DrawdownRecovered = true
		return
	}

	peak := equity[0].TotalEquity
	peakIdx := 0
	var maxDD, maxDDPct float64
	troughPeakIdx := 0

	for i, p := range equity {
		if p.TotalEquity > peak {
			peak = p.TotalEquity
			peakIdx = i
		}
		dd := peak - p.TotalEquity
		if dd > maxDD {
			maxDD = dd
			troughPeakIdx = peakIdx
			if peak > 0 {
				maxDDPct = dd / peak * 100
			}
		}
	}
	m.MaxDrawdown = maxDD
	m.MaxDrawdownPct = maxDDPct
	m.DrawdownRecovered = true
	if maxDD == 0 {
		return
	}

	peakValue := equity[troughPeakIdx].TotalEquity
	for i := troughPeakIdx + 1; i < len(equity); i++ {
		if equity[i].TotalEquity >= peakValue {
			m.DrawdownDays = equity[i].Timestamp.Sub(equity[troughPeakIdx].Timestamp).Hours() / 24
			return
		}
	}
	m.DrawdownRecovered = false
	m.DrawdownDays = equity[len(equity)-1].Timestamp.Sub(equity[troughPeakIdx].Timestamp).Hours() / 24
}

// computeRiskRatios derives Sharpe, Sortino, Calmar and volatility from step
// returns. The ratios use the run's total excess return, not an annualized
// figure: annualizing a two-week backtest manufactures numbers that look
// meaningful and are not. Keep them unannualized.
func computeRiskRatios(equity []types.EquityPoint, m *MetricsResult) {
	if len(equity) < 2 {
		return
	}

	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].TotalEquity
		if prev == 0 {
			continue
		}
		returns = append(returns, (equity[i].TotalEquity-prev)/prev)
	}
	if len(returns) == 0 {
		return
	}

	n := float64(len(returns))
	vol := stddev(returns) * 100
	m.Volatility = stddev(returns) * math.Sqrt(daysPerYear) * 100

	riskFreeReturn := riskFreeRate * n / daysPerYear * 100
	excess := m.TotalReturn - riskFreeReturn

	if vol > 0 {
		m.SharpeRatio = excess / (vol * math.Sqrt(n))
	}

	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) > 0 {
		downVol := stddev(downside) * 100
		if downVol > 0 {
			m.SortinoRatio = excess / (downVol * math.Sqrt(n))
		}
	}

	if m.MaxDrawdownPct > 0 {
		m.CalmarRatio = m.TotalReturn / m.MaxDrawdownPct
	}
}

func computeTradeStats(closed []types.Trade, m *MetricsResult) {
	if len(closed) == 0 {
		return
	}

	var totalPnL, totalWin, totalLoss, totalHolding float64
	var holdingCount int
	m.LargestWin = math.Inf(-1)
	m.LargestLoss = math.Inf(1)

	type sideAgg struct {
		count, wins int
		pnl         float64
	}
	var long, short sideAgg

	for _, t := range closed {
		pnl := *t.PnL
		totalPnL += pnl
		switch {
		case pnl > 0:
			m.WinningTrades++
			totalWin += pnl
		case pnl < 0:
			m.LosingTrades++
			totalLoss += -pnl
		}
		if pnl > m.LargestWin {
			m.LargestWin = pnl
		}
		if pnl < m.LargestLoss {
			m.LargestLoss = pnl
		}
		if t.HoldingTime != nil {
			totalHolding += *t.HoldingTime
			holdingCount++
		}

		agg := &long
		if t.Side == types.Short {
			agg = &short
		}
		agg.count++
		agg.pnl += pnl
		if pnl > 0 {
			agg.wins++
		}
	}

	m.TotalTrades = len(closed)
	m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
	m.AvgTradePnL = totalPnL / float64(m.TotalTrades)
	if m.WinningTrades > 0 {
		m.AvgWin = totalWin / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = -totalLoss / float64(m.LosingTrades)
	}
	if totalLoss > 0 {
		m.ProfitFactor = totalWin / totalLoss
	} else {
		m.ProfitFactor = math.Inf(1)
	}
	if holdingCount > 0 {
		m.AvgHoldingTime = totalHolding / float64(holdingCount)
	}

	m.LongTrades = long.count
	m.ShortTrades = short.count
	m.LongPnL = long.pnl
	m.ShortPnL = short.pnl
	if long.count > 0 {
		m.LongWinRate = float64(long.wins) / float64(long.count) * 100
	}
	if short.count > 0 {
		m.ShortWinRate = float64(short.wins) / float64(short.count) * 100
	}
}

// MarshalJSON encodes the infinite profit factor of a loss-free run as null,
// which encoding/json otherwise refuses to serialize.
func (m MetricsResult) MarshalJSON() ([]byte, error) {
	type alias MetricsResult
	wrapped := struct {
		alias
		ProfitFactor *float64 `json:"profit_factor"`
	}{alias: alias(m)}
	if !math.IsInf(m.ProfitFactor, 1) {
		wrapped.ProfitFactor = &m.ProfitFactor
	}
	return json.Marshal(wrapped)
}

func (m *MetricsResult) UnmarshalJSON(data []byte) error {
	type alias MetricsResult
	wrapped := struct {
		*alias
		ProfitFactor *float64 `json:"profit_factor"`
	}{alias: (*alias)(m)}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return err
	}
	if wrapped.ProfitFactor != nil {
		m.ProfitFactor = *wrapped.ProfitFactor
	} else if m.TotalTrades > 0 {
		m.ProfitFactor = math.Inf(1)
	}
	return nil
}

// Rows returns the scorecard as ordered label/value pairs for table output.
func (m MetricsResult) Rows() [][]string {
	pf := fmt.Sprintf("%.2f", m.ProfitFactor)
	if math.IsInf(m.ProfitFactor, 1) {
		pf = "inf"
	}
	recovery := fmt.Sprintf("%.1f days", m.DrawdownDays)
	if !m.DrawdownRecovered {
		recovery += " (not yet recovered)"
	}
	return [][]string{
		{"period", fmt.Sprintf("%s to %s (%.1f days)", m.StartDate, m.EndDate, m.TotalDays)},
		{"total_return", fmt.Sprintf("%.2f%%", m.TotalReturn)},
		{"final_equity", fmt.Sprintf("%.2f", m.FinalEquity)},
		{"profit_amount", fmt.Sprintf("%+.2f", m.ProfitAmount)},
		{"max_drawdown", fmt.Sprintf("$%.2f (%.2f%%)", m.MaxDrawdown, m.MaxDrawdownPct)},
		{"drawdown_recovery", recovery},
		{"sharpe_ratio", fmt.Sprintf("%.2f", m.SharpeRatio)},
		{"sortino_ratio", fmt.Sprintf("%.2f", m.SortinoRatio)},
		{"calmar_ratio", fmt.Sprintf("%.2f", m.CalmarRatio)},
		{"volatility", fmt.Sprintf("%.2f%%", m.Volatility)},
		{"total_trades", fmt.Sprintf("%d", m.TotalTrades)},
		{"win_rate", fmt.Sprintf("%.1f%%", m.WinRate)},
		{"profit_factor", pf},
		{"avg_trade_pnl", fmt.Sprintf("$%.2f", m.AvgTradePnL)},
		{"avg_win / avg_loss", fmt.Sprintf("$%.2f / $%.2f", m.AvgWin, m.AvgLoss)},
		{"largest_win / largest_loss", fmt.Sprintf("$%.2f / $%.2f", m.LargestWin, m.LargestLoss)},
		{"avg_holding_time", fmt.Sprintf("%.1fh", m.AvgHoldingTime)},
		{"long trades", fmt.Sprintf("%d (win %.1f%%, pnl $%.2f)", m.LongTrades, m.LongWinRate, m.LongPnL)},
		{"short trades", fmt.Sprintf("%d (win %.1f%%, pnl $%.2f)", m.ShortTrades, m.ShortWinRate, m.ShortPnL)},
	}
}

// stddev is the sample standard deviation (n-1 denominator, pandas default).
// A single observation has no spread.
func stddev(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))
	var sq float64
	for _, v := range vals {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(vals)-1))
}
