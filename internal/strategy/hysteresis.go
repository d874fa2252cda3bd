// Package strategy holds the hysteresis-based grid decision state machine
// and the pluggable indicator signature used by non-grid strategies.
package strategy

import (
	"fmt"
	"time"

	"bitkub-grid-bot-go/internal/grid"
	"bitkub-grid-bot-go/internal/models"

	"github.com/shopspring/decimal"
)

// Signal decides BUY/SELL/HOLD for one symbol. Decide is a pure function of
// the current state and the price; the state advances only through Confirm,
// which the trade loop calls after an order is confirmed FILLED. A rejected
// or timed-out order therefore leaves the next cycle's decision unchanged.
type Signal struct {
	ladder     *grid.Ladder
	minMovePct decimal.Decimal // percent, e.g. 1 means 1%
	cooldown   time.Duration

	lastTradePrice decimal.Decimal
	hasTraded      bool
	currentBand    int
	lastTradeTime  time.Time

	now func() time.Time
}

// New creates a signal with empty state (first run for the symbol).
func New(ladder *grid.Ladder, cfg models.SymbolConfig) *Signal {
	return &Signal{
		ladder:     ladder,
		minMovePct: decimal.NewFromFloat(cfg.MinMovePct),
		cooldown:   time.Duration(cfg.CooldownSec) * time.Second,
		now:        time.Now,
	}
}

// Restore rebuilds the signal from a persisted record so a restart carries
// the hysteresis anchor over.
func Restore(ladder *grid.Ladder, cfg models.SymbolConfig, st *models.SymbolState) *Signal {
	s := New(ladder, cfg)
	s.lastTradePrice = st.LastTradePrice
	s.hasTraded = st.HasTraded
	s.currentBand = st.CurrentBand
	s.lastTradeTime = st.LastTradeTime
	return s
}

// Decide evaluates one price tick. It never mutates state.
func (s *Signal) Decide(price decimal.Decimal) models.Decision {
	newBand := s.ladder.BandOf(price)

	if !s.hasTraded {
		// No trade yet: the only eligible entry is the bottom of the grid.
		// A price already under the grid still enters at band 0, the lowest
		// line that exists.
		if newBand <= 0 {
			return models.Decision{
				Action:   models.DoBuy,
				FromBand: 1,
				ToBand:   0,
				Crossed:  1,
				Reason:   "initial entry at lowest band",
			}
		}
		return models.Decision{Action: models.Hold, FromBand: newBand, ToBand: newBand,
			Reason: fmt.Sprintf("warmup, band %d above entry band", newBand)}
	}

	if s.cooldown > 0 && !s.lastTradeTime.IsZero() {
		if left := s.cooldown - s.now().Sub(s.lastTradeTime); left > 0 {
			return models.Decision{Action: models.Hold, FromBand: s.currentBand, ToBand: newBand,
				Reason: fmt.Sprintf("cooldown, %s left", left.Round(time.Second))}
		}
	}

	// Hysteresis filter: the price must move a minimum percentage away from
	// the last executed trade before any band crossing counts. This is what
	// stops fee-burning oscillation right at a grid line.
	movePct := price.Sub(s.lastTradePrice).Abs().
		Div(s.lastTradePrice).
		Mul(decimal.NewFromInt(100))
	if movePct.LessThan(s.minMovePct) {
		return models.Decision{Action: models.Hold, FromBand: s.currentBand, ToBand: newBand,
			Reason: fmt.Sprintf("hysteresis, move %s%% < %s%%", movePct.StringFixed(3), s.minMovePct.String())}
	}

	switch {
	case newBand < s.currentBand:
		return models.Decision{
			Action:   models.DoBuy,
			FromBand: s.currentBand,
			ToBand:   newBand,
			Crossed:  s.currentBand - newBand,
			Reason:   "price fell through grid line(s)",
		}
	case newBand > s.currentBand:
		return models.Decision{
			Action:   models.DoSell,
			FromBand: s.currentBand,
			ToBand:   newBand,
			Crossed:  newBand - s.currentBand,
			Reason:   "price rose through grid line(s)",
		}
	default:
		return models.Decision{Action: models.Hold, FromBand: s.currentBand, ToBand: newBand,
			Reason: "same band"}
	}
}

// Confirm advances the state after a confirmed fill. The band is taken from
// the decision that produced the order, so a fill at a slipped price cannot
// land the state in a band the decision never saw.
func (s *Signal) Confirm(fillPrice decimal.Decimal, band int) {
	s.lastTradePrice = fillPrice
	s.hasTraded = true
	s.currentBand = band
	s.lastTradeTime = s.now()
}

// Snapshot writes the signal's state into a persistable record.
func (s *Signal) Snapshot(st *models.SymbolState) {
	st.LastTradePrice = s.lastTradePrice
	st.HasTraded = s.hasTraded
	st.CurrentBand = s.currentBand
	st.LastTradeTime = s.lastTradeTime
}

// LastTradePrice returns the hysteresis anchor and whether it is set.
func (s *Signal) LastTradePrice() (decimal.Decimal, bool) {
	return s.lastTradePrice, s.hasTraded
}

// CurrentBand returns the band of the last confirmed trade. Valid only when
// a trade exists.
func (s *Signal) CurrentBand() (int, bool) {
	return s.currentBand, s.hasTraded
}
