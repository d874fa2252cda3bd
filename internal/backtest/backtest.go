// Package backtest replays historical candles through the real trade loop
// against the simulated exchange, so the strategy code under test is the
// same code that trades live.
package backtest

import (
	"context"
	"fmt"
	"time"

	"bitkub-grid-bot-go/internal/bot"
	"bitkub-grid-bot-go/internal/exchange"
	"bitkub-grid-bot-go/internal/models"
	"bitkub-grid-bot-go/internal/persistence"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Result summarizes one backtest run.
type Result struct {
	Symbol        string
	Candles       int
	Trades        []models.CompletedTrade
	FinalState    *models.SymbolState
	FinalBalances map[string]decimal.Decimal
	Start         time.Time
	End           time.Time
}

// Runner wires a trade loop to a simulated exchange and drives it one
// candle at a time.
type Runner struct {
	cfg    models.SymbolConfig
	sim    *exchange.SimulatedExchange
	loop   *bot.TradeLoop
	logger *zap.SugaredLogger
}

// NewRunner seeds the simulator with enough quote currency to fill every
// grid line once, plus headroom. State lives in the given repository, which
// backtests normally point at a throwaway directory.
func NewRunner(cfg models.SymbolConfig, repo persistence.StateRepository, logger *zap.SugaredLogger) (*Runner, error) {
	// The cooldown is wall-clock time; replaying months of candles in
	// seconds would starve every trade behind it.
	cfg.CooldownSec = 0

	_, quote := exchange.SplitSymbol(cfg.Symbol)

	lines := cfg.GridLines
	if lines == 0 {
		lines = cfg.LevelsDown + cfg.LevelsUp + 1
	}
	seed := decimal.NewFromFloat(cfg.OrderNotional).
		Mul(decimal.NewFromInt(int64(lines + 1)))

	sim := exchange.NewSimulatedExchange(nil, cfg.FeeRate,
		map[string]decimal.Decimal{quote: seed}, logger)

	loop, err := bot.NewTradeLoop(cfg, sim, repo, logger)
	if err != nil {
		return nil, err
	}
	return &Runner{cfg: cfg, sim: sim, loop: loop, logger: logger}, nil
}

// Run replays the candles in order. Each candle's close is the cycle's
// working price.
func (r *Runner) Run(ctx context.Context, candles []models.Candle) (*Result, error) {
	if len(candles) == 0 {
		return nil, fmt.Errorf("backtest: no candles")
	}

	for i, c := range candles {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.sim.SetTick(models.PriceTick{Price: c.Close, Time: c.Time})
		if err := r.loop.RunCycle(ctx); err != nil {
			return nil, fmt.Errorf("backtest: candle %d (%s): %w", i, c.Time.Format(time.RFC3339), err)
		}
	}

	return &Result{
		Symbol:        r.cfg.Symbol,
		Candles:       len(candles),
		Trades:        r.sim.CompletedTrades(),
		FinalState:    r.loop.State(),
		FinalBalances: r.sim.Balances(),
		Start:         candles[0].Time,
		End:           candles[len(candles)-1].Time,
	}, nil
}
