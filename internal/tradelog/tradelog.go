// Package tradelog writes append-only JSONL files of decisions and fills,
// one file per UTC day, with gzip compaction of files past retention.
package tradelog

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"llm-tradebot/internal/types"
)

var mu sync.Mutex

// TradeEntry records one executed fill.
type TradeEntry struct {
	Time     string     `json:"time"`
	Symbol   string     `json:"symbol"`
	Side     types.Side `json:"side"`
	Action   string     `json:"action"` // "open" or "close"
	Quantity float64    `json:"quantity"`
	Price    float64    `json:"price"`
	PnL      *float64   `json:"pnl,omitempty"`
	PnLPct   *float64   `json:"pnl_pct,omitempty"`
	Reason   string     `json:"reason,omitempty"`
}

// DecisionEntry records one pipeline decision together with its audit verdict.
type DecisionEntry struct {
	Time       string             `json:"time"`
	Symbol     string             `json:"symbol"`
	Action     string             `json:"action"`
	Confidence *float64           `json:"confidence,omitempty"`
	Price      float64            `json:"price,omitempty"`
	Leverage   *float64           `json:"leverage,omitempty"`
	SizeUSD    *float64           `json:"position_size_usd,omitempty"`
	StopLoss   *float64           `json:"stop_loss,omitempty"`
	TakeProfit *float64           `json:"take_profit,omitempty"`
	Reasoning  string             `json:"reasoning,omitempty"`
	Status     types.CycleStatus  `json:"status"`
	RiskLevel  types.RiskLevel    `json:"risk_level,omitempty"`
	Blocked    string             `json:"blocked_reason,omitempty"`
	Corrected  map[string]float64 `json:"corrections,omitempty"`
	Warnings   []string           `json:"warnings,omitempty"`
	Extra      map[string]any     `json:"extra,omitempty"`
}

func logDir() string {
	if v := os.Getenv("TRADER_LOG_DIR"); v != "" {
		return v
	}
	return "logs"
}

func dailyFilepath(t time.Time) string {
	return filepath.Join(logDir(), t.UTC().Format("2006-01-02")+".jsonl")
}

func decisionsFilepath(t time.Time) string {
	return filepath.Join(logDir(), "decisions", t.UTC().Format("2006-01-02")+".jsonl")
}

// AppendTrade appends one fill to the daily trade file.
func AppendTrade(tr types.Trade, reason string) error {
	mu.Lock()
	defer mu.Unlock()
	now := time.Now().UTC()
	e := TradeEntry{
		Time:     now.Format("2006-01-02 15:04:05"),
		Symbol:   tr.Symbol,
		Side:     tr.Side,
		Action:   tr.Action,
		Quantity: tr.Quantity,
		Price:    tr.Price,
		PnL:      tr.PnL,
		PnLPct:   tr.PnLPct,
		Reason:   reason,
	}
	return appendLine(dailyFilepath(now), e)
}

// AppendDecision appends one decision, post-audit, to the daily decision file.
// The audit pointer may be nil when the cycle never reached the gate.
func AppendDecision(d types.Decision, status types.CycleStatus, audit *types.AuditResult, price float64) error {
	mu.Lock()
	defer mu.Unlock()
	now := time.Now().UTC()
	e := DecisionEntry{
		Time:       now.Format("2006-01-02 15:04:05"),
		Symbol:     d.Symbol,
		Action:     d.Action,
		Confidence: d.Confidence,
		Price:      price,
		Leverage:   d.Leverage,
		SizeUSD:    d.PositionSizeUSD,
		StopLoss:   d.StopLoss,
		TakeProfit: d.TakeProfit,
		Reasoning:  d.Reasoning,
		Status:     status,
	}
	if audit != nil {
		e.RiskLevel = audit.RiskLevel
		e.Blocked = audit.BlockedReason
		e.Corrected = audit.Corrections
		e.Warnings = audit.Warnings
	}
	return appendLine(decisionsFilepath(now), e)
}

func appendLine(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(f, string(b))
	return err
}

// CompressOlder gzips every .jsonl file whose mtime is older than
// retentionDays and removes the original. Zero or negative retention is a
// no-op. Per-file failures are skipped so one bad file cannot stall the
// sweep.
func CompressOlder(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	return filepath.WalkDir(logDir(), func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(p) != ".jsonl" {
			return nil
		}
		info, er := os.Stat(p)
		if er != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		compressFile(p)
		return nil
	})
}

func compressFile(p string) {
	gz := p + ".gz"
	if _, err := os.Stat(gz); err == nil {
		// a prior sweep already produced the archive
		_ = os.Remove(p)
		return
	}
	in, err := os.Open(p)
	if err != nil {
		return
	}
	defer in.Close()

	out, err := os.OpenFile(gz, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return
	}
	gw := gzip.NewWriter(out)
	_, copyErr := io.Copy(gw, in)
	if err := gw.Close(); copyErr == nil {
		copyErr = err
	}
	if err := out.Close(); copyErr == nil {
		copyErr = err
	}
	if copyErr != nil {
		_ = os.Remove(gz)
		return
	}
	_ = os.Remove(p)
}
