package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SymbolState is the durable per-symbol record. It is written after every
// ledger mutation and reloaded at startup, so a restart never resets the
// cost basis of an open position.
type SymbolState struct {
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	AverageCost decimal.Decimal `json:"average_cost"` // CostBasis/Quantity; zero when flat
	CostBasis   decimal.Decimal `json:"cost_basis"`   // total cost of the open position, fees included
	RealizedPnL decimal.Decimal `json:"realized_pnl"`

	// Hysteresis state. LastTradePrice and CurrentBand are meaningful only
	// when HasTraded is true; both are mutated exclusively on a confirmed
	// fill, never on a submitted or rejected order.
	LastTradePrice decimal.Decimal `json:"last_trade_price"`
	HasTraded      bool            `json:"has_traded"`
	CurrentBand    int             `json:"current_band"`
	LastTradeTime  time.Time       `json:"last_trade_time"` // cooldown anchor

	// GridSlots maps a grid level to the open quantity bought at that level.
	// A SELL triggered by crossing line L closes the slot at level L-1.
	GridSlots map[int]decimal.Decimal `json:"grid_slots"`

	LastUpdateTime time.Time `json:"last_update_time"`
}

// NewSymbolState returns an empty state for a symbol's first run.
func NewSymbolState(symbol string) *SymbolState {
	return &SymbolState{
		Symbol:    symbol,
		GridSlots: make(map[int]decimal.Decimal),
	}
}

// Position projects the ledger fields out of the state.
func (s *SymbolState) Position() Position {
	return Position{
		Quantity:    s.Quantity,
		AverageCost: s.AverageCost,
		RealizedPnL: s.RealizedPnL,
	}
}

// OpenSlots counts grid levels currently holding bought quantity.
func (s *SymbolState) OpenSlots() int {
	n := 0
	for _, qty := range s.GridSlots {
		if qty.IsPositive() {
			n++
		}
	}
	return n
}

// Touch stamps the record's last update time.
func (s *SymbolState) Touch() {
	s.LastUpdateTime = time.Now()
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *SymbolState) Clone() *SymbolState {
	cp := *s
	cp.GridSlots = make(map[int]decimal.Decimal, len(s.GridSlots))
	for lvl, qty := range s.GridSlots {
		cp.GridSlots[lvl] = qty
	}
	return &cp
}
