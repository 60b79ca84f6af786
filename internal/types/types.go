package types

import "time"

type Candle struct {
	Ts                          int64
	Open, High, Low, Close, Vol float64
}

// Series is closed candle history for one timeframe, oldest first.
type Series []Candle

func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.Close
	}
	return out
}

func (s Series) Highs() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.High
	}
	return out
}

func (s Series) Lows() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.Low
	}
	return out
}

func (s Series) Vols() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.Vol
	}
	return out
}

func (s Series) Last() (Candle, bool) {
	if len(s) == 0 {
		return Candle{}, false
	}
	return s[len(s)-1], true
}

// MarketSnapshot bundles the three timeframes plus one in-progress candle
// per timeframe. Produced once per cycle and never mutated afterwards.
type MarketSnapshot struct {
	Symbol    string
	Timestamp time.Time

	StableShort  Series // e.g. 5m
	StableMedium Series // e.g. 15m
	StableLong   Series // e.g. 1h

	LiveShort  *Candle
	LiveMedium *Candle
	LiveLong   *Candle

	FundingRate    float64
	HasFundingRate bool
}

func (s *MarketSnapshot) CurrentPrice() float64 {
	if s.LiveShort != nil && s.LiveShort.Close > 0 {
		return s.LiveShort.Close
	}
	if c, ok := s.StableShort.Last(); ok {
		return c.Close
	}
	return 0
}

// SignalScore is one scorer's verdict. Score and Confidence are clamped to
// [-100,100] and [0,100]. Defined=false means the scorer had no usable data,
// which downstream must treat differently from a neutral zero.
type SignalScore struct {
	Score      int            `json:"score"`
	Confidence int            `json:"confidence"`
	Defined    bool           `json:"defined"`
	Details    map[string]any `json:"details,omitempty"`
}

// VoteResult is the aggregator's decision for one cycle. Read-only downstream.
type VoteResult struct {
	Action        string         `json:"action"`
	Confidence    float64        `json:"confidence"`
	Reason        string         `json:"reason"`
	WeightedScore float64        `json:"weighted_score"`
	VoteDetails   map[string]any `json:"vote_details,omitempty"`
	Regime        map[string]any `json:"regime,omitempty"`
	Position      map[string]any `json:"position,omitempty"`
}

// Decision is the structured order intent handed to the validator and the
// audit gate. Only the validator may rewrite Action; numeric fields stay as
// the caller produced them. Pointer fields distinguish absent from zero.
type Decision struct {
	Symbol          string   `json:"symbol"`
	Action          string   `json:"action"`
	Confidence      *float64 `json:"confidence,omitempty"`
	Leverage        *float64 `json:"leverage,omitempty"`
	PositionSizeUSD *float64 `json:"position_size_usd,omitempty"`
	PositionSizePct *float64 `json:"position_size_pct,omitempty"`
	EntryPrice      *float64 `json:"entry_price,omitempty"`
	CurrentPrice    *float64 `json:"current_price,omitempty"`
	StopLoss        *float64 `json:"stop_loss,omitempty"`
	TakeProfit      *float64 `json:"take_profit,omitempty"`
	RiskUSD         *float64 `json:"risk_usd,omitempty"`
	Reasoning       string   `json:"reasoning"`
	PositionSide    string   `json:"position_side,omitempty"`

	// Raw holds string-typed values the normalizer refused to coerce, so the
	// validator can reject formula-like fields by name.
	Raw map[string]string `json:"-"`
}

type RiskLevel string

const (
	RiskSafe      RiskLevel = "safe"
	RiskCaution   RiskLevel = "caution"
	RiskDangerous RiskLevel = "dangerous"
)

// AuditResult is the gate's verdict. Corrections are advisory edits the
// caller must apply before execution; they never flip Passed.
type AuditResult struct {
	Passed        bool               `json:"passed"`
	RiskLevel     RiskLevel          `json:"risk_level"`
	BlockedReason string             `json:"blocked_reason,omitempty"`
	Corrections   map[string]float64 `json:"corrections,omitempty"`
	Warnings      []string           `json:"warnings,omitempty"`
}

type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// Position exists only while a symbol has open exposure.
type Position struct {
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	EntryPrice    float64   `json:"entry_price"`
	Quantity      float64   `json:"quantity"`
	EntryTime     time.Time `json:"entry_time"`
	UnrealizedPnL float64   `json:"unrealized_pnl"`
}

// Trade is an immutable, append-only ledger entry. A close trade always
// carries PnL; an open trade's PnL pointers are nil.
type Trade struct {
	ID          string    `json:"id"`
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Action      string    `json:"action"` // "open" or "close"
	Quantity    float64   `json:"quantity"`
	Price       float64   `json:"price"`
	Timestamp   time.Time `json:"timestamp"`
	PnL         *float64  `json:"pnl,omitempty"`
	PnLPct      *float64  `json:"pnl_pct,omitempty"`
	HoldingTime *float64  `json:"holding_time,omitempty"` // hours
}

type EquityPoint struct {
	Timestamp   time.Time `json:"timestamp"`
	TotalEquity float64   `json:"total_equity"`
	Drawdown    float64   `json:"drawdown"`
	DrawdownPct float64   `json:"drawdown_pct"`
}

// AccountContext is the account-side input to the audit gate.
type AccountContext struct {
	Balance  float64
	Equity   float64
	Position *Position
}

type CycleStatus string

const (
	StatusSuccess  CycleStatus = "success"
	StatusBlocked  CycleStatus = "blocked"
	StatusRejected CycleStatus = "rejected"
	StatusWait     CycleStatus = "wait"
	StatusHold     CycleStatus = "hold"
	StatusFailed   CycleStatus = "failed"
	StatusError    CycleStatus = "error"
)

// CycleResult is what every cycle reports, whatever happened inside it.
type CycleResult struct {
	Status  CycleStatus    `json:"status"`
	Action  string         `json:"action"`
	Reason  string         `json:"reason"`
	Details map[string]any `json:"details,omitempty"`
}
