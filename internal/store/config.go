package store

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Mode string `yaml:"mode"` // DRY_RUN or LIVE

	// Trading rate fields (stop_loss_pct, take_profit_pct) are fractions:
	// 0.01 means one percent of price.
	Trading struct {
		Symbol         string  `yaml:"symbol"`
		PollSeconds    int     `yaml:"poll_seconds"`
		ShortTF        string  `yaml:"short_tf"`
		MediumTF       string  `yaml:"medium_tf"`
		LongTF         string  `yaml:"long_tf"`
		HistoryLimit   int     `yaml:"history_limit"`
		Leverage       float64 `yaml:"leverage"`
		MaxPositionUSD float64 `yaml:"max_position_usd"`
		StopLossPct    float64 `yaml:"stop_loss_pct"`
		TakeProfitPct  float64 `yaml:"take_profit_pct"`
	} `yaml:"trading"`

	// Vote holds the aggregator policy. The weights and threshold bands are
	// tunable policy, not laws; see internal/decision.
	Vote struct {
		WeightTrend       float64 `yaml:"weight_trend"`
		WeightOscillator  float64 `yaml:"weight_oscillator"`
		WeightSentiment   float64 `yaml:"weight_sentiment"`
		WeightML          float64 `yaml:"weight_ml"`
		WaitThreshold     float64 `yaml:"wait_threshold"`
		OpenThreshold     float64 `yaml:"open_threshold"`
		RequireTwoOfThree bool    `yaml:"require_two_of_three"`
	} `yaml:"vote"`

	Validator struct {
		MaxLeverage        float64 `yaml:"max_leverage"`
		MaxPositionPct     float64 `yaml:"max_position_pct"`
		MinConfidence      float64 `yaml:"min_confidence"`
		MaxConfidence      float64 `yaml:"max_confidence"`
		MinRiskRewardRatio float64 `yaml:"min_risk_reward_ratio"`
	} `yaml:"validator"`

	Audit struct {
		MaxLeverage    float64 `yaml:"max_leverage"`
		MaxPositionPct float64 `yaml:"max_position_pct"`
		MinStopLossPct float64 `yaml:"min_stop_loss_pct"`
		MaxStopLossPct float64 `yaml:"max_stop_loss_pct"`
	} `yaml:"audit"`

	LLM struct {
		Enabled     bool    `yaml:"enabled"`
		Provider    string  `yaml:"provider"`
		BaseURL     string  `yaml:"base_url"`
		Model       string  `yaml:"model"`
		MaxTokens   int     `yaml:"max_tokens"`
		Temperature float32 `yaml:"temperature"`
		MaxRetries  int     `yaml:"max_retries"`
		System      string  `yaml:"system"`
	} `yaml:"llm"`

	// Backtest cost fields are fractions of notional charged per fill.
	Backtest struct {
		InitialCapital float64 `yaml:"initial_capital"`
		CommissionPct  float64 `yaml:"commission_pct"`
		SlippagePct    float64 `yaml:"slippage_pct"`
		DBPath         string  `yaml:"db_path"`
	} `yaml:"backtest"`
}

func (c *Config) Validate() error {
	if c.Mode != "DRY_RUN" && c.Mode != "LIVE" {
		return fmt.Errorf("invalid mode '%s': must be 'DRY_RUN' or 'LIVE'", c.Mode)
	}
	if c.Trading.Symbol == "" {
		return fmt.Errorf("trading.symbol cannot be empty")
	}
	if c.Validator.MinRiskRewardRatio < 0 {
		return fmt.Errorf("validator.min_risk_reward_ratio must be >= 0, got %.2f", c.Validator.MinRiskRewardRatio)
	}
	if c.Audit.MinStopLossPct > c.Audit.MaxStopLossPct {
		return fmt.Errorf("audit stop-loss band inverted: [%.4f, %.4f]", c.Audit.MinStopLossPct, c.Audit.MaxStopLossPct)
	}
	if c.Backtest.CommissionPct < 0 || c.Backtest.SlippagePct < 0 {
		return fmt.Errorf("backtest costs must be non-negative")
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	applyDefaults(&c)
	applyEnvOverrides(&c)

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}

// Default returns a Config with every default applied and no file read.
// Backtests use it when no config file is given.
func Default() *Config {
	var c Config
	c.Mode = "DRY_RUN"
	applyDefaults(&c)
	applyEnvOverrides(&c)
	return &c
}

func applyDefaults(c *Config) {
	if c.Mode == "" {
		c.Mode = "DRY_RUN"
	}
	if c.Trading.Symbol == "" {
		c.Trading.Symbol = "BTCUSDT"
	}
	if c.Trading.PollSeconds == 0 {
		c.Trading.PollSeconds = 60
	}
	if c.Trading.ShortTF == "" {
		c.Trading.ShortTF = "5m"
	}
	if c.Trading.MediumTF == "" {
		c.Trading.MediumTF = "15m"
	}
	if c.Trading.LongTF == "" {
		c.Trading.LongTF = "1h"
	}
	if c.Trading.HistoryLimit == 0 {
		c.Trading.HistoryLimit = 200
	}
	if c.Trading.Leverage == 0 {
		c.Trading.Leverage = 1
	}
	if c.Trading.MaxPositionUSD == 0 {
		c.Trading.MaxPositionUSD = 100
	}
	if c.Trading.StopLossPct == 0 {
		c.Trading.StopLossPct = 0.01
	}
	if c.Trading.TakeProfitPct == 0 {
		c.Trading.TakeProfitPct = 0.025
	}

	if c.Vote.WeightTrend == 0 {
		c.Vote.WeightTrend = 0.45
	}
	if c.Vote.WeightOscillator == 0 {
		c.Vote.WeightOscillator = 0.25
	}
	if c.Vote.WeightSentiment == 0 {
		c.Vote.WeightSentiment = 0.15
	}
	if c.Vote.WeightML == 0 {
		c.Vote.WeightML = 0.15
	}
	if c.Vote.WaitThreshold == 0 {
		c.Vote.WaitThreshold = 20
	}
	if c.Vote.OpenThreshold == 0 {
		c.Vote.OpenThreshold = 45
	}

	if c.Validator.MaxLeverage == 0 {
		c.Validator.MaxLeverage = 5
	}
	if c.Validator.MaxPositionPct == 0 {
		c.Validator.MaxPositionPct = 30
	}
	if c.Validator.MaxConfidence == 0 {
		c.Validator.MaxConfidence = 100
	}
	if c.Validator.MinRiskRewardRatio == 0 {
		c.Validator.MinRiskRewardRatio = 2.0
	}

	if c.Audit.MaxLeverage == 0 {
		c.Audit.MaxLeverage = 10
	}
	if c.Audit.MaxPositionPct == 0 {
		c.Audit.MaxPositionPct = 0.30
	}
	if c.Audit.MinStopLossPct == 0 {
		c.Audit.MinStopLossPct = 0.005
	}
	if c.Audit.MaxStopLossPct == 0 {
		c.Audit.MaxStopLossPct = 0.05
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "NOOP"
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 4096
	}
	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = 5
	}

	if c.Backtest.InitialCapital == 0 {
		c.Backtest.InitialCapital = 10000
	}
	if c.Backtest.CommissionPct == 0 {
		c.Backtest.CommissionPct = 0.0004 // Binance USDT-futures taker
	}
	if c.Backtest.DBPath == "" {
		c.Backtest.DBPath = "backtests.db"
	}
}

// applyEnvOverrides resolves env > file > default for the handful of knobs
// operators override in deployment.
func applyEnvOverrides(c *Config) {
	if v := os.Getenv("TRADER_MODE"); v != "" {
		c.Mode = v
	}
	if v := os.Getenv("TRADER_SYMBOL"); v != "" {
		c.Trading.Symbol = v
	}
	if v := os.Getenv("TRADER_LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("TRADER_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v, ok := envFloat("TRADER_MAX_POSITION_USD"); ok {
		c.Trading.MaxPositionUSD = v
	}
	if v, ok := envFloat("TRADER_MAX_LEVERAGE"); ok {
		c.Audit.MaxLeverage = v
	}
}

func envFloat(key string) (float64, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
