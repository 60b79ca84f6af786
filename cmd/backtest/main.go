package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"llm-tradebot/internal/backtest"
	"llm-tradebot/internal/logger"
	"llm-tradebot/internal/market"
	"llm-tradebot/internal/report"
	"llm-tradebot/internal/storage"
	"llm-tradebot/internal/store"
	"llm-tradebot/internal/types"
)

const dateLayout = "2006-01-02"

func main() {
	var (
		configPath = flag.String("config", "", "yaml config file (defaults apply when empty)")
		csvPath    = flag.String("csv", "", "candle CSV file; when empty candles are fetched from Binance")
		symbol     = flag.String("symbol", "", "override trading symbol")
		startStr   = flag.String("start", "", "range start, YYYY-MM-DD (default: 30 days ago)")
		endStr     = flag.String("end", "", "range end, YYYY-MM-DD (default: now)")
		step       = flag.String("step", "", "base candle interval for fetched data (default: config short_tf)")
		capital    = flag.Float64("capital", 0, "override initial capital")
		commission = flag.Float64("commission", -1, "override commission fraction per fill")
		slippage   = flag.Float64("slippage", -1, "override slippage fraction per fill")
		label      = flag.String("label", "", "label stored with the run")
		dbPath     = flag.String("db", "", "sqlite path for run persistence (default: config backtest.db_path)")
		compare    = flag.Bool("compare", false, "list saved runs instead of running a backtest")
		limit      = flag.Int("limit", 20, "max runs listed with -compare")
	)
	flag.Parse()

	_ = godotenv.Load()
	must(logger.InitWithConfig(logger.LogConfig{
		Level:  getenvDefault("LOG_LEVEL", "WARN"),
		Format: "text",
	}))

	cfg, err := loadConfig(*configPath)
	must(err)
	applyOverrides(cfg, *symbol, *capital, *commission, *slippage)

	db := *dbPath
	if db == "" {
		db = cfg.Backtest.DBPath
	}

	ctx := context.Background()

	if *compare {
		runStore, err := storage.Open(db)
		must(err)
		defer runStore.Close()
		runs, err := runStore.ListRuns(ctx, *symbol, *limit)
		must(err)
		report.Comparison(os.Stdout, runs)
		return
	}

	candles, err := loadCandles(ctx, cfg, *csvPath, *startStr, *endStr, *step)
	must(err)
	fmt.Printf("replaying %d candles for %s\n", len(candles), cfg.Trading.Symbol)

	engine := backtest.NewEngine(cfg)
	result, err := engine.Run(candles)
	must(err)

	report.Scorecard(os.Stdout, result.Symbol, result.Metrics)
	report.Trades(os.Stdout, result.Trades)
	printStatuses(result.Statuses)

	runStore, err := storage.Open(db)
	must(err)
	defer runStore.Close()

	cfgYAML, err := yaml.Marshal(cfg)
	must(err)
	id, err := runStore.SaveRun(ctx, *label, string(cfgYAML), result)
	must(err)
	fmt.Printf("run saved: %s (db %s)\n", id, db)
}

func must(err error) {
	if err != nil {
		log.Fatal(err)
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func loadConfig(path string) (*store.Config, error) {
	if path == "" {
		return store.Default(), nil
	}
	return store.LoadConfig(path)
}

func applyOverrides(cfg *store.Config, symbol string, capital, commission, slippage float64) {
	if symbol != "" {
		cfg.Trading.Symbol = symbol
	}
	if capital > 0 {
		cfg.Backtest.InitialCapital = capital
	}
	if commission >= 0 {
		cfg.Backtest.CommissionPct = commission
	}
	if slippage >= 0 {
		cfg.Backtest.SlippagePct = slippage
	}
}

func loadCandles(ctx context.Context, cfg *store.Config, csvPath, startStr, endStr, step string) (types.Series, error) {
	if csvPath != "" {
		return readCandleCSV(csvPath)
	}

	end := time.Now().UTC()
	if endStr != "" {
		t, err := time.Parse(dateLayout, endStr)
		if err != nil {
			return nil, fmt.Errorf("bad -end: %w", err)
		}
		end = t
	}
	start := end.AddDate(0, 0, -30)
	if startStr != "" {
		t, err := time.Parse(dateLayout, startStr)
		if err != nil {
			return nil, fmt.Errorf("bad -start: %w", err)
		}
		start = t
	}
	if !start.Before(end) {
		return nil, fmt.Errorf("start %s is not before end %s", start.Format(dateLayout), end.Format(dateLayout))
	}

	interval := step
	if interval == "" {
		interval = cfg.Trading.ShortTF
	}

	provider := market.NewProvider(cfg)
	return provider.History(ctx, cfg.Trading.Symbol, interval, start, end)
}

// readCandleCSV parses "timestamp,open,high,low,close,volume" rows. The
// timestamp column takes unix seconds or RFC3339; a header row is skipped.
func readCandleCSV(path string) (types.Series, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 6

	var out types.Series
	line := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		line++

		c, err := parseCandleRow(rec)
		if err != nil {
			if line == 1 {
				continue // header
			}
			return nil, fmt.Errorf("%s line %d: %w", path, line, err)
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: no candles", path)
	}
	return out, nil
}

func parseCandleRow(rec []string) (types.Candle, error) {
	ts, err := strconv.ParseInt(rec[0], 10, 64)
	if err != nil {
		t, terr := time.Parse(time.RFC3339, rec[0])
		if terr != nil {
			return types.Candle{}, fmt.Errorf("bad timestamp %q", rec[0])
		}
		ts = t.Unix()
	}

	vals := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		v, err := strconv.ParseFloat(rec[i], 64)
		if err != nil {
			return types.Candle{}, fmt.Errorf("bad number %q", rec[i])
		}
		vals[i-1] = v
	}
	return types.Candle{Ts: ts, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Vol: vals[4]}, nil
}

func printStatuses(statuses map[types.CycleStatus]int) {
	order := []types.CycleStatus{
		types.StatusSuccess, types.StatusHold, types.StatusWait,
		types.StatusRejected, types.StatusBlocked, types.StatusFailed, types.StatusError,
	}
	fmt.Print("cycles:")
	for _, s := range order {
		if n := statuses[s]; n > 0 {
			fmt.Printf(" %s=%d", s, n)
		}
	}
	fmt.Println()
}
