package strategy

import (
	"testing"
	"time"

	"bitkub-grid-bot-go/internal/grid"
	"bitkub-grid-bot-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLadder(t *testing.T) *grid.Ladder {
	t.Helper()
	ladder, err := grid.New(models.SymbolConfig{
		Symbol: "USDT_THB", GridLower: 90, GridUpper: 110, GridLines: 3,
	})
	require.NoError(t, err)
	return ladder
}

func price(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// Walk through the canonical sequence: anchored at 100 in band 1, a drop to
// 95 buys one line, the bounce to 94 holds, and the rise to 105 sells and
// closes the cycle.
func TestDecideGridCycle(t *testing.T) {
	s := New(testLadder(t), models.SymbolConfig{MinMovePct: 1})
	s.Confirm(price(100), 1)

	d := s.Decide(price(95))
	assert.Equal(t, models.DoBuy, d.Action)
	assert.Equal(t, 1, d.FromBand)
	assert.Equal(t, 0, d.ToBand)
	assert.Equal(t, 1, d.Crossed)
	s.Confirm(price(95), 0)

	// 94 moved 1.05% from 95 but stayed in band 0: same band, no action.
	d = s.Decide(price(94))
	assert.Equal(t, models.Hold, d.Action)

	d = s.Decide(price(105))
	assert.Equal(t, models.DoSell, d.Action)
	assert.Equal(t, 0, d.FromBand)
	assert.Equal(t, 1, d.ToBand)
	assert.Equal(t, 1, d.Crossed)
}

func TestDecideHysteresisSuppressesSmallMoves(t *testing.T) {
	s := New(testLadder(t), models.SymbolConfig{MinMovePct: 1})
	s.Confirm(price(100), 1)

	// 99.5 crosses down into band 0 but moved only 0.5% from the anchor.
	d := s.Decide(price(99.5))
	assert.Equal(t, models.Hold, d.Action)

	// Same crossing with a large enough move trades.
	d = s.Decide(price(98.9))
	assert.Equal(t, models.DoBuy, d.Action)
}

func TestDecideWarmup(t *testing.T) {
	s := New(testLadder(t), models.SymbolConfig{MinMovePct: 1})

	// Above the entry band: wait, and keep waiting however often it's asked.
	for i := 0; i < 3; i++ {
		d := s.Decide(price(105))
		assert.Equal(t, models.Hold, d.Action)
	}

	// In the bottom band: enter at line 0.
	d := s.Decide(price(95))
	assert.Equal(t, models.DoBuy, d.Action)
	assert.Equal(t, 0, d.ToBand)
	assert.Equal(t, 1, d.Crossed)

	// Below the grid entirely still enters at line 0.
	d = s.Decide(price(80))
	assert.Equal(t, models.DoBuy, d.Action)
	assert.Equal(t, 0, d.ToBand)
}

func TestDecideUnconfirmedOrderChangesNothing(t *testing.T) {
	s := New(testLadder(t), models.SymbolConfig{MinMovePct: 1})
	s.Confirm(price(100), 1)

	first := s.Decide(price(95))
	require.Equal(t, models.DoBuy, first.Action)

	// The order was never confirmed; the same tick must produce the same
	// decision.
	second := s.Decide(price(95))
	assert.Equal(t, first, second)
}

func TestDecideCooldown(t *testing.T) {
	now := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	s := New(testLadder(t), models.SymbolConfig{MinMovePct: 1, CooldownSec: 60})
	s.now = func() time.Time { return now }
	s.Confirm(price(100), 1)

	// 30s after the trade: crossing move is suppressed by the cooldown.
	now = now.Add(30 * time.Second)
	d := s.Decide(price(95))
	assert.Equal(t, models.Hold, d.Action)

	// Past the cooldown the same tick trades.
	now = now.Add(31 * time.Second)
	d = s.Decide(price(95))
	assert.Equal(t, models.DoBuy, d.Action)
}

func TestDecideMultiLineCrossing(t *testing.T) {
	ladder, err := grid.New(models.SymbolConfig{
		Symbol: "USDT_THB", GridLower: 80, GridUpper: 120, GridLines: 5,
	})
	require.NoError(t, err)

	s := New(ladder, models.SymbolConfig{MinMovePct: 1})
	s.Confirm(price(115), 3)

	// 115 -> 85 falls through three lines.
	d := s.Decide(price(85))
	assert.Equal(t, models.DoBuy, d.Action)
	assert.Equal(t, 3, d.FromBand)
	assert.Equal(t, 0, d.ToBand)
	assert.Equal(t, 3, d.Crossed)
}

func TestRestoreCarriesAnchor(t *testing.T) {
	cfg := models.SymbolConfig{MinMovePct: 1}
	st := models.NewSymbolState("USDT_THB")
	st.HasTraded = true
	st.LastTradePrice = price(100)
	st.CurrentBand = 1

	s := Restore(testLadder(t), cfg, st)

	anchor, ok := s.LastTradePrice()
	require.True(t, ok)
	assert.True(t, anchor.Equal(price(100)))

	band, ok := s.CurrentBand()
	require.True(t, ok)
	assert.Equal(t, 1, band)

	// Restored state behaves exactly like a live one.
	d := s.Decide(price(95))
	assert.Equal(t, models.DoBuy, d.Action)
}

func TestConfirmUsesDecisionBandNotFillBand(t *testing.T) {
	s := New(testLadder(t), models.SymbolConfig{MinMovePct: 1})
	s.Confirm(price(100), 1)

	d := s.Decide(price(95))
	require.Equal(t, models.DoBuy, d.Action)

	// The fill slipped above the line, into what BandOf would call band 1.
	// The state must still land in the decision's band.
	s.Confirm(price(100.5), d.ToBand)
	band, _ := s.CurrentBand()
	assert.Equal(t, 0, band)
}
