// Package storage persists finished backtest runs so strategies can be
// compared across parameter changes. SQLite keeps the whole history in one
// file with no external service; the pure-Go driver avoids CGo.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"llm-tradebot/internal/backtest"
	"llm-tradebot/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id           TEXT PRIMARY KEY,
    created_at   DATETIME NOT NULL,
    symbol       TEXT NOT NULL,
    label        TEXT NOT NULL DEFAULT '',
    config_json  TEXT NOT NULL,
    metrics_json TEXT NOT NULL,
    total_return REAL NOT NULL,
    max_dd_pct   REAL NOT NULL,
    sharpe       REAL NOT NULL,
    trades       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS run_trades (
    run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    seq          INTEGER NOT NULL,
    trade_json   TEXT NOT NULL,
    PRIMARY KEY (run_id, seq)
);

CREATE TABLE IF NOT EXISTS run_equity (
    run_id       TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    seq          INTEGER NOT NULL,
    ts           DATETIME NOT NULL,
    total_equity REAL NOT NULL,
    drawdown_pct REAL NOT NULL,
    PRIMARY KEY (run_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_symbol  ON runs(symbol);
`

// RunSummary is the comparison row: enough to rank runs without loading
// their full trade lists.
type RunSummary struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Symbol      string    `json:"symbol"`
	Label       string    `json:"label"`
	TotalReturn float64   `json:"total_return"`
	MaxDDPct    float64   `json:"max_dd_pct"`
	Sharpe      float64   `json:"sharpe"`
	Trades      int       `json:"trades"`
}

// Run is a fully loaded backtest run.
type Run struct {
	RunSummary
	ConfigYAML  string
	Metrics     backtest.MetricsResult
	Trades      []types.Trade
	EquityCurve []types.EquityPoint
}

// RunStore owns the SQLite handle. SQLite is single-writer, so the pool is
// pinned to one connection.
type RunStore struct {
	db *sql.DB
}

func Open(path string) (*RunStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.Open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.Open: apply schema: %w", err)
	}
	return &RunStore{db: db}, nil
}

func (s *RunStore) Close() error { return s.db.Close() }

// SaveRun persists one finished run and returns its generated id.
func (s *RunStore) SaveRun(ctx context.Context, label, configYAML string, res *backtest.Result) (string, error) {
	id := uuid.NewString()

	metricsJSON, err := json.Marshal(res.Metrics)
	if err != nil {
		return "", fmt.Errorf("marshal metrics: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, created_at, symbol, label, config_json, metrics_json, total_return, max_dd_pct, sharpe, trades)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, time.Now().UTC(), res.Symbol, label, configYAML, string(metricsJSON),
		res.Metrics.TotalReturn, res.Metrics.MaxDrawdownPct, res.Metrics.SharpeRatio, res.Metrics.TotalTrades)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}

	for i, trade := range res.Trades {
		tj, err := json.Marshal(trade)
		if err != nil {
			return "", fmt.Errorf("marshal trade %d: %w", i, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_trades (run_id, seq, trade_json) VALUES (?, ?, ?)`,
			id, i, string(tj)); err != nil {
			return "", fmt.Errorf("insert trade %d: %w", i, err)
		}
	}

	for i, p := range res.EquityCurve {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO run_equity (run_id, seq, ts, total_equity, drawdown_pct) VALUES (?, ?, ?, ?, ?)`,
			id, i, p.Timestamp, p.TotalEquity, p.DrawdownPct); err != nil {
			return "", fmt.Errorf("insert equity point %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return id, nil
}

// ListRuns returns run summaries, newest first, up to limit (0 means all).
func (s *RunStore) ListRuns(ctx context.Context, symbol string, limit int) ([]RunSummary, error) {
	query := `SELECT id, created_at, symbol, label, total_return, max_dd_pct, sharpe, trades
	          FROM runs`
	var args []any
	if symbol != "" {
		query += ` WHERE symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.Symbol, &r.Label, &r.TotalReturn, &r.MaxDDPct, &r.Sharpe, &r.Trades); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetRun loads one run in full.
func (s *RunStore) GetRun(ctx context.Context, id string) (*Run, error) {
	var run Run
	var metricsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, symbol, label, config_json, metrics_json, total_return, max_dd_pct, sharpe, trades
		 FROM runs WHERE id = ?`, id).
		Scan(&run.ID, &run.CreatedAt, &run.Symbol, &run.Label, &run.ConfigYAML, &metricsJSON,
			&run.TotalReturn, &run.MaxDDPct, &run.Sharpe, &run.Trades)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(metricsJSON), &run.Metrics); err != nil {
		return nil, fmt.Errorf("decode metrics for run %s: %w", id, err)
	}

	tradeRows, err := s.db.QueryContext(ctx,
		`SELECT trade_json FROM run_trades WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer tradeRows.Close()
	for tradeRows.Next() {
		var tj string
		if err := tradeRows.Scan(&tj); err != nil {
			return nil, err
		}
		var trade types.Trade
		if err := json.Unmarshal([]byte(tj), &trade); err != nil {
			return nil, fmt.Errorf("decode trade for run %s: %w", id, err)
		}
		run.Trades = append(run.Trades, trade)
	}
	if err := tradeRows.Err(); err != nil {
		return nil, err
	}

	eqRows, err := s.db.QueryContext(ctx,
		`SELECT ts, total_equity, drawdown_pct FROM run_equity WHERE run_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, err
	}
	defer eqRows.Close()
	for eqRows.Next() {
		var p types.EquityPoint
		if err := eqRows.Scan(&p.Timestamp, &p.TotalEquity, &p.DrawdownPct); err != nil {
			return nil, err
		}
		run.EquityCurve = append(run.EquityCurve, p)
	}
	return &run, eqRows.Err()
}
