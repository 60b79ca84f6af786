package tradelog

import (
	"compress/gzip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-tradebot/internal/types"
)

func readLines(t *testing.T, path string) []string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(b)), "\n")
}

func TestAppendTradeWritesDailyJSONL(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TRADER_LOG_DIR", dir)

	pnl := 12.5
	tr := types.Trade{
		ID:       "t1",
		Symbol:   "BTCUSDT",
		Side:     types.Short,
		Action:   "close",
		Quantity: 0.01,
		Price:    86000,
		PnL:      &pnl,
	}
	require.NoError(t, AppendTrade(tr, "take profit hit"))
	require.NoError(t, AppendTrade(tr, ""))

	path := filepath.Join(dir, time.Now().UTC().Format("2006-01-02")+".jsonl")
	lines := readLines(t, path)
	require.Len(t, lines, 2)

	var e TradeEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &e))
	assert.Equal(t, "BTCUSDT", e.Symbol)
	assert.Equal(t, types.Short, e.Side)
	assert.Equal(t, "close", e.Action)
	require.NotNil(t, e.PnL)
	assert.Equal(t, 12.5, *e.PnL)
	assert.Equal(t, "take profit hit", e.Reason)
}

func TestAppendDecisionCarriesAuditVerdict(t *testing.T) {
	t.Setenv("TRADER_LOG_DIR", t.TempDir())

	conf := 72.0
	lev := 3.0
	d := types.Decision{
		Symbol:     "ETHUSDT",
		Action:     "open_long",
		Confidence: &conf,
		Leverage:   &lev,
		Reasoning:  "trend and oscillator agree",
	}
	audit := &types.AuditResult{
		Passed:      true,
		RiskLevel:   types.RiskCaution,
		Corrections: map[string]float64{"leverage": 10},
		Warnings:    []string{"leverage 14.0 clamped to 10.0"},
	}
	require.NoError(t, AppendDecision(d, types.StatusSuccess, audit, 3200.5))

	path := filepath.Join(os.Getenv("TRADER_LOG_DIR"), "decisions", time.Now().UTC().Format("2006-01-02")+".jsonl")
	lines := readLines(t, path)
	require.Len(t, lines, 1)

	var e DecisionEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &e))
	assert.Equal(t, "open_long", e.Action)
	assert.Equal(t, types.StatusSuccess, e.Status)
	assert.Equal(t, types.RiskCaution, e.RiskLevel)
	assert.Equal(t, map[string]float64{"leverage": 10}, e.Corrected)
	assert.Equal(t, 3200.5, e.Price)
}

func TestAppendDecisionWithoutAudit(t *testing.T) {
	t.Setenv("TRADER_LOG_DIR", t.TempDir())

	d := types.Decision{Symbol: "BTCUSDT", Action: "wait"}
	require.NoError(t, AppendDecision(d, types.StatusWait, nil, 86000))

	path := filepath.Join(os.Getenv("TRADER_LOG_DIR"), "decisions", time.Now().UTC().Format("2006-01-02")+".jsonl")
	var e DecisionEntry
	require.NoError(t, json.Unmarshal([]byte(readLines(t, path)[0]), &e))
	assert.Equal(t, types.StatusWait, e.Status)
	assert.Empty(t, e.RiskLevel)
	assert.Empty(t, e.Blocked)
}

func TestCompressOlderGzipsAndRemovesOriginal(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TRADER_LOG_DIR", dir)

	old := filepath.Join(dir, "2026-01-01.jsonl")
	require.NoError(t, os.WriteFile(old, []byte("{\"symbol\":\"BTCUSDT\"}\n"), 0o644))
	stale := time.Now().AddDate(0, 0, -10)
	require.NoError(t, os.Chtimes(old, stale, stale))

	fresh := filepath.Join(dir, time.Now().UTC().Format("2006-01-02")+".jsonl")
	require.NoError(t, os.WriteFile(fresh, []byte("{}\n"), 0o644))

	require.NoError(t, CompressOlder(7))

	_, err := os.Stat(old)
	assert.True(t, os.IsNotExist(err), "stale file should be removed")
	_, err = os.Stat(fresh)
	assert.NoError(t, err, "fresh file must survive")

	f, err := os.Open(old + ".gz")
	require.NoError(t, err)
	defer f.Close()
	gr, err := gzip.NewReader(f)
	require.NoError(t, err)
	b, err := io.ReadAll(gr)
	require.NoError(t, err)
	assert.Contains(t, string(b), "BTCUSDT")
}

func TestCompressOlderZeroRetentionIsNoop(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("TRADER_LOG_DIR", dir)

	p := filepath.Join(dir, "2026-01-01.jsonl")
	require.NoError(t, os.WriteFile(p, []byte("{}\n"), 0o644))
	stale := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(p, stale, stale))

	require.NoError(t, CompressOlder(0))
	_, err := os.Stat(p)
	assert.NoError(t, err)
}
