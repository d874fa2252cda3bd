package grid

import (
	"testing"

	"bitkub-grid-bot-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boundsConfig(lower, upper float64, lines int) models.SymbolConfig {
	return models.SymbolConfig{Symbol: "USDT_THB", GridLower: lower, GridUpper: upper, GridLines: lines}
}

func TestNewFromBounds(t *testing.T) {
	ladder, err := New(boundsConfig(90, 110, 3))
	require.NoError(t, err)

	assert.Equal(t, 3, ladder.NumLines())
	assert.Equal(t, 2, ladder.NumBands())
	assert.True(t, ladder.Line(0).Equal(decimal.NewFromInt(90)))
	assert.True(t, ladder.Line(1).Equal(decimal.NewFromInt(100)))
	assert.True(t, ladder.Line(2).Equal(decimal.NewFromInt(110)))
	assert.True(t, ladder.Step().Equal(decimal.NewFromInt(10)))
}

func TestNewFromCenter(t *testing.T) {
	cfg := models.SymbolConfig{
		Symbol: "USDT_THB", GridCenter: 100, GridStepPct: 10, LevelsDown: 2, LevelsUp: 1,
	}
	ladder, err := New(cfg)
	require.NoError(t, err)

	require.Equal(t, 4, ladder.NumLines())
	assert.True(t, ladder.Line(0).Equal(decimal.NewFromInt(80)))
	assert.True(t, ladder.Line(1).Equal(decimal.NewFromInt(90)))
	assert.True(t, ladder.Line(2).Equal(decimal.NewFromInt(100)))
	assert.True(t, ladder.Line(3).Equal(decimal.NewFromInt(110)))
}

func TestNewRejectsBadConfigs(t *testing.T) {
	cases := []models.SymbolConfig{
		{Symbol: "X_Y"},          // no grid at all
		boundsConfig(90, 110, 1), // too few lines
		boundsConfig(110, 90, 3), // inverted bounds
		boundsConfig(0, 110, 3),  // non-positive lower
		{Symbol: "X_Y", GridCenter: 100, GridStepPct: 60, LevelsDown: 2, LevelsUp: 1}, // line would go non-positive
	}
	for _, cfg := range cases {
		_, err := New(cfg)
		assert.Error(t, err)
	}
}

func TestBandOf(t *testing.T) {
	ladder, err := New(boundsConfig(90, 110, 3))
	require.NoError(t, err)

	cases := []struct {
		price float64
		band  int
	}{
		{80, BelowGrid},
		{89.99, BelowGrid},
		{90, 0}, // exactly on a line belongs to the band above it
		{95, 0},
		{99.99, 0},
		{100, 1},
		{105, 1},
		{109.99, 1},
		{110, 2}, // at or above the top maps to NumBands()
		{500, 2},
	}
	for _, tc := range cases {
		got := ladder.BandOf(decimal.NewFromFloat(tc.price))
		assert.Equal(t, tc.band, got, "price %v", tc.price)
	}
}

func TestBandOfMonotonic(t *testing.T) {
	ladder, err := New(boundsConfig(50, 150, 11))
	require.NoError(t, err)

	prev := BelowGrid - 1
	for p := 40.0; p <= 160.0; p += 0.5 {
		band := ladder.BandOf(decimal.NewFromFloat(p))
		assert.GreaterOrEqual(t, band, prev, "band regressed at price %v", p)
		prev = band
	}
	assert.Equal(t, ladder.NumBands(), prev)
}
