package strategy

import (
	"bitkub-grid-bot-go/internal/models"

	"github.com/shopspring/decimal"
)

// SignalFunc is the contract for pluggable indicator collaborators
// (MACD, RSI, EMA crossover, Z-score and the like). Implementations must be
// pure: the same candle series and params always produce the same value.
// Non-grid trade loop variants call these instead of the grid ladder.
type SignalFunc func(candles []models.Candle, params map[string]float64) (decimal.Decimal, error)

// VWAP returns the volume-weighted average price of the last tail trades,
// the working price of each live cycle. Returns false when no trade in the
// tail has positive rate and amount.
func VWAP(trades []models.Trade, tail int) (decimal.Decimal, bool) {
	if len(trades) == 0 {
		return decimal.Zero, false
	}
	if tail > len(trades) {
		tail = len(trades)
	}

	var notional, qty decimal.Decimal
	for _, t := range trades[len(trades)-tail:] {
		if !t.Rate.IsPositive() || !t.Amount.IsPositive() {
			continue
		}
		notional = notional.Add(t.Rate.Mul(t.Amount))
		qty = qty.Add(t.Amount)
	}
	if !qty.IsPositive() {
		// Degenerate tail: fall back to the newest rate if it is usable.
		last := trades[len(trades)-1]
		if last.Rate.IsPositive() {
			return last.Rate, true
		}
		return decimal.Zero, false
	}
	return notional.Div(qty), true
}
