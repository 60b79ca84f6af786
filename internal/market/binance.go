// Package market fetches the per-cycle market snapshot from Binance
// USDT-futures REST. The three timeframe fetches fan out concurrently and
// fan in to one immutable snapshot; everything downstream of this package is
// synchronous.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"llm-tradebot/internal/logger"
	"llm-tradebot/internal/retry"
	"llm-tradebot/internal/store"
	"llm-tradebot/internal/types"
)

const defaultBaseURL = "https://fapi.binance.com"

// Binance allows 2400 request weight/min on futures; staying well under it
// leaves room for other consumers of the same IP.
const requestsPerSec = 10

// Provider is the REST market data source. Safe for use from one engine
// loop; the limiter and retry policy make it polite under transient failure.
type Provider struct {
	cfg     *store.Config
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	policy  retry.Policy
}

func NewProvider(cfg *store.Config) *Provider {
	base := os.Getenv("TRADER_BINANCE_BASE_URL")
	if base == "" {
		base = defaultBaseURL
	}
	return &Provider{
		cfg:     cfg,
		baseURL: base,
		http:    &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(requestsPerSec, 5),
		policy:  retry.Default(),
	}
}

// Snapshot fetches all three timeframes plus the funding rate and assembles
// one MarketSnapshot. Any failed kline fetch fails the snapshot; a failed
// funding fetch only clears HasFundingRate, since sentiment degrades
// gracefully without it.
func (p *Provider) Snapshot(ctx context.Context) (*types.MarketSnapshot, error) {
	ctx, span := logger.StartSpan(ctx, "market-snapshot")
	defer span.End()

	symbol := p.cfg.Trading.Symbol
	limit := p.cfg.Trading.HistoryLimit

	type tfResult struct {
		stable types.Series
		live   *types.Candle
		err    error
	}
	intervals := []string{p.cfg.Trading.ShortTF, p.cfg.Trading.MediumTF, p.cfg.Trading.LongTF}
	results := make([]tfResult, len(intervals))

	var wg sync.WaitGroup
	for i, interval := range intervals {
		wg.Add(1)
		go func(i int, interval string) {
			defer wg.Done()
			stable, live, err := p.fetchKlines(ctx, symbol, interval, limit)
			results[i] = tfResult{stable: stable, live: live, err: err}
		}(i, interval)
	}

	var funding float64
	var fundingErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		funding, fundingErr = p.fetchFundingRate(ctx, symbol)
	}()
	wg.Wait()

	for i, r := range results {
		if r.err != nil {
			return nil, fmt.Errorf("klines %s %s: %w", symbol, intervals[i], r.err)
		}
	}
	if fundingErr != nil {
		logger.Warn(ctx, "funding rate unavailable", "symbol", symbol, "error", fundingErr.Error())
	}

	return &types.MarketSnapshot{
		Symbol:         symbol,
		Timestamp:      time.Now().UTC(),
		StableShort:    results[0].stable,
		StableMedium:   results[1].stable,
		StableLong:     results[2].stable,
		LiveShort:      results[0].live,
		LiveMedium:     results[1].live,
		LiveLong:       results[2].live,
		FundingRate:    funding,
		HasFundingRate: fundingErr == nil,
	}, nil
}

// History fetches closed candles covering [start, end), oldest first, paging
// through Binance's 1500-candle response cap. Backtests use it; the live
// loop never does.
func (p *Provider) History(ctx context.Context, symbol, interval string, start, end time.Time) (types.Series, error) {
	const pageLimit = 1500

	var out types.Series
	cursor := start.UnixMilli()
	endMs := end.UnixMilli()
	for cursor < endMs {
		url := fmt.Sprintf("%s/fapi/v1/klines?symbol=%s&interval=%s&startTime=%d&endTime=%d&limit=%d",
			p.baseURL, symbol, interval, cursor, endMs, pageLimit)

		var raw [][]any
		if err := p.getJSON(ctx, url, &raw); err != nil {
			return nil, err
		}
		if len(raw) == 0 {
			break
		}
		for _, k := range raw {
			c, err := parseKline(k)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		next := out[len(out)-1].Ts*1000 + 1
		if next <= cursor {
			break
		}
		cursor = next
		if len(raw) < pageLimit {
			break
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no candles for %s %s in range", symbol, interval)
	}
	return out, nil
}

// fetchKlines returns closed candles and the in-progress one separately.
// Binance always includes the current unfinished kline as the last element.
func (p *Provider) fetchKlines(ctx context.Context, symbol, interval string, limit int) (types.Series, *types.Candle, error) {
	url := fmt.Sprintf("%s/fapi/v1/klines?symbol=%s&interval=%s&limit=%d", p.baseURL, symbol, interval, limit+1)

	var raw [][]any
	if err := p.getJSON(ctx, url, &raw); err != nil {
		return nil, nil, err
	}
	if len(raw) == 0 {
		return nil, nil, fmt.Errorf("empty kline response")
	}

	candles := make(types.Series, 0, len(raw))
	for _, k := range raw {
		c, err := parseKline(k)
		if err != nil {
			return nil, nil, err
		}
		candles = append(candles, c)
	}

	live := candles[len(candles)-1]
	return candles[:len(candles)-1], &live, nil
}

func (p *Provider) fetchFundingRate(ctx context.Context, symbol string) (float64, error) {
	url := fmt.Sprintf("%s/fapi/v1/premiumIndex?symbol=%s", p.baseURL, symbol)

	var out struct {
		LastFundingRate string `json:"lastFundingRate"`
	}
	if err := p.getJSON(ctx, url, &out); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(out.LastFundingRate, 64)
}

func (p *Provider) getJSON(ctx context.Context, url string, out any) error {
	return p.policy.Do(ctx, func() error {
		if err := p.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := p.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return &retry.HTTPError{Status: resp.StatusCode, Body: string(snippet)}
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
}

// parseKline decodes one element of Binance's mixed-type kline array:
// open time, then OHLCV as strings.
func parseKline(k []any) (types.Candle, error) {
	if len(k) < 6 {
		return types.Candle{}, fmt.Errorf("kline has %d fields, want at least 6", len(k))
	}
	openTime, ok := k[0].(float64)
	if !ok {
		return types.Candle{}, fmt.Errorf("kline open time is %T, want number", k[0])
	}

	vals := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		s, ok := k[i].(string)
		if !ok {
			return types.Candle{}, fmt.Errorf("kline field %d is %T, want string", i, k[i])
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return types.Candle{}, fmt.Errorf("kline field %d: %w", i, err)
		}
		vals[i-1] = f
	}

	return types.Candle{
		Ts:    int64(openTime) / 1000,
		Open:  vals[0],
		High:  vals[1],
		Low:   vals[2],
		Close: vals[3],
		Vol:   vals[4],
	}, nil
}
