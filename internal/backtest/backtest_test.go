package backtest

import (
	"context"
	"testing"
	"time"

	"bitkub-grid-bot-go/internal/models"
	"bitkub-grid-bot-go/internal/persistence"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func candleSeries(closes ...float64) []models.Candle {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	candles := make([]models.Candle, len(closes))
	for i, c := range closes {
		px := decimal.NewFromFloat(c)
		candles[i] = models.Candle{
			Time: base.Add(time.Duration(i) * time.Hour),
			Open: px, High: px, Low: px, Close: px,
			Volume: decimal.NewFromInt(100),
		}
	}
	return candles
}

func TestRunnerReplaysAGridCycle(t *testing.T) {
	repo, err := persistence.NewFileRepository(t.TempDir())
	require.NoError(t, err)
	defer repo.Close()

	cfg := models.SymbolConfig{
		Symbol:         "USDT_THB",
		GridLower:      90,
		GridUpper:      110,
		GridLines:      3,
		OrderNotional:  90,
		FeeRate:        0,
		MinMovePct:     1,
		RefreshSec:     10,
		TradesFetch:    10,
		PriceDecimals:  2,
		AmountDecimals: 6,
	}

	runner, err := NewRunner(cfg, repo, zap.NewNop().Sugar())
	require.NoError(t, err)

	// Warmup above the entry band, enter at the bottom, chop, take profit.
	candles := candleSeries(105, 95, 94, 105)
	result, err := runner.Run(context.Background(), candles)
	require.NoError(t, err)

	assert.Equal(t, 4, result.Candles)
	require.Len(t, result.Trades, 2)
	assert.Equal(t, models.Buy, result.Trades[0].Side)
	assert.Equal(t, models.Sell, result.Trades[1].Side)
	assert.True(t, result.FinalState.RealizedPnL.Equal(decimal.NewFromInt(9)),
		"got %s", result.FinalState.RealizedPnL)
}

func TestRunnerRejectsEmptySeries(t *testing.T) {
	repo, err := persistence.NewFileRepository(t.TempDir())
	require.NoError(t, err)
	defer repo.Close()

	cfg := models.SymbolConfig{
		Symbol: "USDT_THB", GridLower: 90, GridUpper: 110, GridLines: 3,
		OrderNotional: 90, RefreshSec: 10, TradesFetch: 10,
		PriceDecimals: 2, AmountDecimals: 6,
	}
	runner, err := NewRunner(cfg, repo, zap.NewNop().Sugar())
	require.NoError(t, err)

	_, err = runner.Run(context.Background(), nil)
	assert.Error(t, err)
}
