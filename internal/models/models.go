package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds every runtime parameter of the bot. It is loaded once at
// startup and treated as immutable for the lifetime of the process.
type Config struct {
	BaseURL   string `json:"base_url"`    // REST base, e.g. "https://api.bitkub.com"
	WSBaseURL string `json:"ws_base_url"` // WebSocket base, e.g. "wss://api.bitkub.com/websocket-api"

	DryRun bool `json:"dry_run"` // true = simulated exchange, no real orders

	StateBackend string `json:"state_backend"` // "badger" or "file"
	DBPath       string `json:"db_path"`       // badger directory
	StateDir     string `json:"state_dir"`     // directory for file-backed state records

	MetricsListenAddr string `json:"metrics_listen_addr,omitempty"` // e.g. ":9090", empty disables /metrics

	HTTPTimeoutSec        int   `json:"http_timeout_sec"`
	TimeSyncIntervalSec   int   `json:"time_sync_interval_sec"`
	MaxConcurrentRequests int64 `json:"max_concurrent_requests"` // shared gate across all symbol loops

	Retry RetryConfig `json:"retry"`

	Symbols []SymbolConfig `json:"symbols"`

	Log LogConfig `json:"log"`
}

// RetryConfig parameterizes the exponential backoff policy used by the
// exchange client.
type RetryConfig struct {
	MaxAttempts int     `json:"max_attempts"`
	BaseDelayMs int     `json:"base_delay_ms"`
	Multiplier  float64 `json:"multiplier"`
	MaxDelayMs  int     `json:"max_delay_ms"`
}

// SymbolConfig is the per-symbol trading configuration. The grid can be given
// either as explicit bounds plus a line count, or as a center price with a
// percentage step and a number of levels on each side.
type SymbolConfig struct {
	Symbol string `json:"symbol"` // BASE_QUOTE, e.g. "USDT_THB"

	GridLower float64 `json:"grid_lower,omitempty"`
	GridUpper float64 `json:"grid_upper,omitempty"`
	GridLines int     `json:"grid_lines,omitempty"`

	GridCenter  float64 `json:"grid_center,omitempty"`
	GridStepPct float64 `json:"grid_step_pct,omitempty"`
	LevelsDown  int     `json:"levels_down,omitempty"`
	LevelsUp    int     `json:"levels_up,omitempty"`

	OrderNotional  float64 `json:"order_notional"` // quote currency per grid line
	FeeRate        float64 `json:"fee_rate"`       // per side, e.g. 0.0025
	SlippageBps    float64 `json:"slippage_bps"`   // limit price offset from working price
	MinMovePct     float64 `json:"min_move_pct"`   // hysteresis threshold vs last trade price
	RefreshSec     int     `json:"refresh_sec"`
	CooldownSec    int     `json:"cooldown_sec"`
	TradesFetch    int     `json:"trades_fetch"` // public trades pulled per cycle for VWAP
	PriceDecimals  int32   `json:"price_decimals"`
	AmountDecimals int32   `json:"amount_decimals"`
}

// LogConfig mirrors the zap/lumberjack setup knobs.
type LogConfig struct {
	Level      string `json:"level"`
	Output     string `json:"output"` // "console", "file", "both"
	File       string `json:"file"`
	MaxSize    int    `json:"max_size"`
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"`
	Compress   bool   `json:"compress"`
}

// Side is the direction of an order.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// OrderStatus tracks the lifecycle NEW -> SUBMITTED -> {FILLED | REJECTED | CANCELLED}.
type OrderStatus string

const (
	OrderNew       OrderStatus = "NEW"
	OrderSubmitted OrderStatus = "SUBMITTED"
	OrderFilled    OrderStatus = "FILLED"
	OrderRejected  OrderStatus = "REJECTED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// Terminal reports whether the status will not change again.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderRejected || s == OrderCancelled
}

// OrderRequest is a client-side order before submission. ClientID is the
// idempotency token: the venue deduplicates a retried submission carrying the
// same id, which is what makes PlaceOrder safe to retry.
type OrderRequest struct {
	Symbol   string
	Side     Side
	Quantity decimal.Decimal // base quantity, used for SELL
	Notional decimal.Decimal // quote amount, used for BUY
	Price    decimal.Decimal // limit price
	ClientID string
}

// OrderResult is the venue's view of an order.
type OrderResult struct {
	OrderID     string
	ClientID    string
	Symbol      string
	Side        Side
	Status      OrderStatus
	FilledQty   decimal.Decimal
	FilledPrice decimal.Decimal
	Fee         decimal.Decimal
	Timestamp   time.Time
}

// / Trade is one normalized public trade: timestamp (ms), rate, base amount,
// ordered oldest to newest by the client.
type Trade struct {
	Ts     int64
	Rate   decimal.Decimal
	Amount decimal.Decimal
}

// PriceTick is the working price of one loop cycle.
type PriceTick struct {
	Price decimal.Decimal
	Time  time.Time
}

// Candle is one OHLCV bar, used by backtests and indicator collaborators.
type Candle struct {
	Time   time.Time
	Open   decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal
	Volume decimal.Decimal
}

// Action is the outcome of one hysteresis decision.
type Action int

const (
	Hold Action = iota
	DoBuy
	DoSell
)

func (a Action) String() string {
	switch a {
	case DoBuy:
		return "BUY"
	case DoSell:
		return "SELL"
	default:
		return "HOLD"
	}
}

// Decision carries the action plus the band movement that produced it.
// Crossed is the number of grid lines the price moved through; the trade loop
// places one order per crossed line.
type Decision struct {
	Action   Action
	FromBand int
	ToBand   int
	Crossed  int
	Reason   string
}

// Position is the ledger's view of one symbol's holdings.
type Position struct {
	Quantity    decimal.Decimal
	AverageCost decimal.Decimal // defined only when Quantity > 0
	RealizedPnL decimal.Decimal
}

// HasPosition reports whether AverageCost is defined.
func (p Position) HasPosition() bool {
	return p.Quantity.IsPositive()
}

func (p Position) String() string {
	if !p.HasPosition() {
		return fmt.Sprintf("flat | realized=%s", p.RealizedPnL.StringFixed(2))
	}
	return fmt.Sprintf("qty=%s avg_cost=%s realized=%s",
		p.Quantity.String(), p.AverageCost.StringFixed(4), p.RealizedPnL.StringFixed(2))
}

// CompletedTrade is one fill recorded by the simulated exchange for reporting.
type CompletedTrade struct {
	Symbol    string
	Side      Side
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	Fee       decimal.Decimal
	Profit    decimal.Decimal
	Timestamp time.Time
}
