// Package bot runs the per-symbol trade loop: fetch a working price, ask
// the signal for a decision, walk the grid lines the move crossed, and
// confirm each fill into the ledger before moving on.
package bot

import (
	"context"
	"fmt"
	"time"

	"bitkub-grid-bot-go/internal/exchange"
	"bitkub-grid-bot-go/internal/grid"
	"bitkub-grid-bot-go/internal/ledger"
	"bitkub-grid-bot-go/internal/metrics"
	"bitkub-grid-bot-go/internal/models"
	"bitkub-grid-bot-go/internal/persistence"
	"bitkub-grid-bot-go/internal/strategy"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	priceTail       = 20
	fillPollEvery   = time.Second
	fillPollTimeout = 45 * time.Second
)

// TradeLoop drives one symbol. Loops for different symbols share the
// exchange client (and its request gate) but nothing else.
type TradeLoop struct {
	cfg    models.SymbolConfig
	ex     exchange.Exchange
	ladder *grid.Ladder
	signal *strategy.Signal
	ledger *ledger.Ledger
	logger *zap.SugaredLogger

	base  string
	quote string

	ticks      <-chan models.PriceTick
	lastWSTick models.PriceTick
	lastSeen   time.Time // newest tick timestamp accepted so far

	// Confirmation poll timing, overridable in tests.
	pollEvery   time.Duration
	pollTimeout time.Duration
}

// NewTradeLoop builds the ladder, opens the ledger (restoring any persisted
// record) and rehydrates the signal from it.
func NewTradeLoop(cfg models.SymbolConfig, ex exchange.Exchange, repo persistence.StateRepository, logger *zap.SugaredLogger) (*TradeLoop, error) {
	ladder, err := grid.New(cfg)
	if err != nil {
		return nil, err
	}

	log := logger.With("symbol", cfg.Symbol)
	led, err := ledger.Open(repo, cfg.Symbol, cfg.FeeRate, log)
	if err != nil {
		return nil, err
	}
	sig := strategy.Restore(ladder, cfg, led.State())

	base, quote := exchange.SplitSymbol(cfg.Symbol)

	t := &TradeLoop{
		cfg:         cfg,
		ex:          ex,
		ladder:      ladder,
		signal:      sig,
		ledger:      led,
		logger:      log,
		base:        base,
		quote:       quote,
		pollEvery:   fillPollEvery,
		pollTimeout: fillPollTimeout,
	}
	t.warnIfUnprofitableGrid()
	t.publishGauges()
	return t, nil
}

// warnIfUnprofitableGrid flags a grid whose step cannot cover the fees of a
// buy-then-sell round trip. The bot still runs; the operator decides.
func (t *TradeLoop) warnIfUnprofitableGrid() {
	stepPct := t.ladder.Step().Div(t.ladder.Line(0)).Mul(decimal.NewFromInt(100))
	feeRoundTrip := decimal.NewFromFloat(t.cfg.FeeRate).Mul(decimal.NewFromInt(200))
	if stepPct.LessThanOrEqual(feeRoundTrip) {
		t.logger.Warnw("grid step does not cover round-trip fees, every cycle loses money",
			"step_pct", stepPct.StringFixed(3), "fee_round_trip_pct", feeRoundTrip.StringFixed(3))
	}
}

// Run executes cycles every RefreshSec until ctx is cancelled or a fatal
// error halts the symbol. When the exchange can stream ticks, fresh stream
// prices take precedence over REST polling.
func (t *TradeLoop) Run(ctx context.Context) error {
	if streamer, ok := t.ex.(exchange.TickStreamer); ok {
		ticks, err := streamer.StreamTicks(ctx, t.cfg.Symbol)
		if err != nil {
			t.logger.Warnw("tick stream unavailable, falling back to polling", "err", err)
		} else {
			t.ticks = ticks
		}
	}

	interval := time.Duration(t.cfg.RefreshSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	t.logger.Infow("trade loop started",
		"grid_lines", t.ladder.NumLines(),
		"low", t.ladder.Line(0), "high", t.ladder.Line(t.ladder.NumLines()-1),
		"refresh", interval)

	for {
		select {
		case <-ctx.Done():
			t.logger.Infow("trade loop stopped")
			return ctx.Err()
		case tick, ok := <-t.ticks:
			if !ok {
				t.ticks = nil
				continue
			}
			t.lastWSTick = tick
		case <-ticker.C:
			if err := t.RunCycle(ctx); err != nil {
				if models.IsFatal(err) {
					t.logger.Errorw("fatal error, halting symbol", "err", err)
					return err
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				t.logger.Warnw("cycle failed", "err", err)
			}
		}
	}
}

// RunCycle performs a single decide-and-execute pass. Backtest drivers call
// it directly, once per candle.
func (t *TradeLoop) RunCycle(ctx context.Context) error {
	tick, err := t.workingPrice(ctx)
	if err != nil {
		return err
	}
	if !tick.Time.IsZero() && tick.Time.Before(t.lastSeen) {
		t.logger.Debugw("stale tick ignored", "tick", tick.Time, "newest", t.lastSeen)
		return nil
	}
	if tick.Time.After(t.lastSeen) {
		t.lastSeen = tick.Time
	}
	metrics.WorkingPrice.WithLabelValues(t.cfg.Symbol).Set(tick.Price.InexactFloat64())

	decision := t.signal.Decide(tick.Price)
	switch decision.Action {
	case models.DoBuy:
		return t.executeBuyWalk(ctx, decision)
	case models.DoSell:
		return t.executeSellWalk(ctx, decision)
	default:
		t.logger.Debugw("hold", "price", tick.Price, "reason", decision.Reason)
		return nil
	}
}

// workingPrice prefers a recent streamed tick and falls back to the VWAP of
// recently executed trades. Order book quotes are never used; only prices
// something actually traded at.
func (t *TradeLoop) workingPrice(ctx context.Context) (models.PriceTick, error) {
	maxAge := time.Duration(t.cfg.RefreshSec) * time.Second
	if !t.lastWSTick.Price.IsZero() && time.Since(t.lastWSTick.Time) < maxAge {
		return t.lastWSTick, nil
	}

	trades, err := t.ex.GetRecentTrades(ctx, t.cfg.Symbol, t.cfg.TradesFetch)
	if err != nil {
		return models.PriceTick{}, fmt.Errorf("fetch trades: %w", err)
	}
	if px, ok := strategy.VWAP(trades, priceTail); ok {
		return models.PriceTick{Price: px, Time: time.Now()}, nil
	}

	// No trades at all; last resort is the exchange's own notion of price.
	return t.ex.GetPrice(ctx, t.cfg.Symbol)
}

// executeBuyWalk places one BUY per band entered on the way down, each at
// its band's lower line. The walk runs top-down so a partial failure leaves
// the state consistent with the fills that did confirm.
func (t *TradeLoop) executeBuyWalk(ctx context.Context, d models.Decision) error {
	notional := decimal.NewFromFloat(t.cfg.OrderNotional)

	for b := d.FromBand - 1; b >= d.ToBand; b-- {
		if b < 0 {
			// The move went under the grid; there is no line to buy there.
			break
		}

		avail, err := t.ex.GetAvailableBalance(ctx, t.quote)
		if err != nil {
			return fmt.Errorf("quote balance: %w", err)
		}
		if avail.LessThan(notional) {
			t.logger.Warnw("quote balance too low, stopping buy walk",
				"band", b, "available", avail, "needed", notional)
			return nil
		}

		price := t.ladder.Line(b).
			Mul(decimal.NewFromInt(1).Add(decimal.NewFromFloat(t.cfg.SlippageBps).Div(decimal.NewFromInt(10000)))).
			Round(t.cfg.PriceDecimals)

		result, err := t.submitAndAwait(ctx, models.OrderRequest{
			Symbol:   t.cfg.Symbol,
			Side:     models.Buy,
			Notional: notional,
			Price:    price,
			ClientID: exchange.NewClientOrderID(),
		})
		if err != nil {
			return fmt.Errorf("buy at band %d: %w", b, err)
		}
		if result.Status != models.OrderFilled {
			metrics.OrdersFailed.WithLabelValues(t.cfg.Symbol, string(models.Buy)).Inc()
			t.logger.Warnw("buy did not fill, stopping buy walk",
				"band", b, "status", result.Status, "order_id", result.OrderID)
			return nil
		}

		if err := t.confirmFill(result, b, b); err != nil {
			return err
		}
		t.logger.Infow("bought grid line",
			"band", b, "price", result.FilledPrice, "qty", result.FilledQty)
	}
	return nil
}

// executeSellWalk places one SELL per line crossed on the way up, each
// closing the slot of the band below that line. Lines whose slot is empty
// are skipped, never shorted.
func (t *TradeLoop) executeSellWalk(ctx context.Context, d models.Decision) error {
	notional := decimal.NewFromFloat(t.cfg.OrderNotional)

	for line := d.FromBand + 1; line <= d.ToBand; line++ {
		slot := line - 1
		held := t.ledger.SlotQuantity(slot)
		if !held.IsPositive() {
			t.logger.Debugw("no open slot under line, skipping", "line", line)
			continue
		}

		avail, err := t.ex.GetAvailableBalance(ctx, t.base)
		if err != nil {
			return fmt.Errorf("base balance: %w", err)
		}

		price := t.ladder.Line(line).
			Mul(decimal.NewFromInt(1).Sub(decimal.NewFromFloat(t.cfg.SlippageBps).Div(decimal.NewFromInt(10000)))).
			Round(t.cfg.PriceDecimals)

		qty := decimal.Min(notional.Div(price), held, avail).
			RoundDown(t.cfg.AmountDecimals)
		if !qty.IsPositive() {
			t.logger.Warnw("nothing sellable at line, skipping",
				"line", line, "slot_qty", held, "available", avail)
			continue
		}

		result, err := t.submitAndAwait(ctx, models.OrderRequest{
			Symbol:   t.cfg.Symbol,
			Side:     models.Sell,
			Quantity: qty,
			Price:    price,
			ClientID: exchange.NewClientOrderID(),
		})
		if err != nil {
			return fmt.Errorf("sell at line %d: %w", line, err)
		}
		if result.Status != models.OrderFilled {
			metrics.OrdersFailed.WithLabelValues(t.cfg.Symbol, string(models.Sell)).Inc()
			t.logger.Warnw("sell did not fill, stopping sell walk",
				"line", line, "status", result.Status, "order_id", result.OrderID)
			return nil
		}

		if err := t.confirmFill(result, line, slot); err != nil {
			return err
		}
		t.logger.Infow("sold grid line",
			"line", line, "price", result.FilledPrice, "qty", result.FilledQty)
	}
	return nil
}

// confirmFill advances the signal to the decision's band and folds both the
// fill and the new signal state into one durable write. A persistence
// failure here surfaces as fatal.
//
// The fill is validated before the signal moves: a degenerate venue response
// must not advance the hysteresis anchor when nothing will be booked. Past
// validation, every ApplyFill failure is fatal and halts the loop, so the
// in-memory anchor never outlives a write it disagrees with.
func (t *TradeLoop) confirmFill(result *models.OrderResult, band, slot int) error {
	if !result.FilledQty.IsPositive() || !result.FilledPrice.IsPositive() {
		metrics.OrdersFailed.WithLabelValues(t.cfg.Symbol, string(result.Side)).Inc()
		return fmt.Errorf("venue reported a filled order with qty=%s price=%s, refusing to book it",
			result.FilledQty, result.FilledPrice)
	}
	metrics.OrdersFilled.WithLabelValues(t.cfg.Symbol, string(result.Side)).Inc()

	t.signal.Confirm(result.FilledPrice, band)
	pos, err := t.ledger.ApplyFill(result.Side, result.FilledQty, result.FilledPrice, slot, t.signal.Snapshot)
	if err != nil {
		return err
	}

	metrics.RealizedPnL.WithLabelValues(t.cfg.Symbol).Set(pos.RealizedPnL.InexactFloat64())
	metrics.PositionQuantity.WithLabelValues(t.cfg.Symbol).Set(pos.Quantity.InexactFloat64())
	return nil
}

// submitAndAwait places an order and polls it to a terminal status. The
// await phase deliberately survives ctx cancellation: once an order is on
// the venue, abandoning it half-confirmed is worse than delaying shutdown a
// few seconds.
func (t *TradeLoop) submitAndAwait(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error) {
	metrics.OrdersSubmitted.WithLabelValues(req.Symbol, string(req.Side)).Inc()
	t.logger.Infow("submitting order",
		"side", req.Side, "price", req.Price, "qty", req.Quantity,
		"notional", req.Notional, "client_id", req.ClientID)

	result, err := t.ex.PlaceOrder(ctx, req)
	if err != nil {
		return nil, err
	}
	if result.Status.Terminal() {
		return result, nil
	}

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.pollTimeout)
	defer cancel()

	ticker := time.NewTicker(t.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			return t.resolveStuckOrder(result)
		case <-ticker.C:
			status, err := t.ex.GetOrderStatus(waitCtx, req.Symbol, result.OrderID, req.Side)
			if err != nil {
				t.logger.Warnw("order status poll failed", "order_id", result.OrderID, "err", err)
				continue
			}
			if status.Status.Terminal() {
				status.ClientID = req.ClientID
				return status, nil
			}
		}
	}
}

// resolveStuckOrder cancels an order that outlived the confirmation window,
// then checks once more: if it filled in the race, the fill wins. A
// cancelled order that executed partially before the cancel landed is a fill
// of that quantity; real base changed hands and the ledger must learn of it.
func (t *TradeLoop) resolveStuckOrder(order *models.OrderResult) (*models.OrderResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	t.logger.Warnw("order confirmation timed out, cancelling", "order_id", order.OrderID)
	if err := t.ex.CancelOrder(ctx, order.Symbol, order.OrderID, order.Side); err != nil {
		t.logger.Warnw("cancel failed", "order_id", order.OrderID, "err", err)
	}

	status, err := t.ex.GetOrderStatus(ctx, order.Symbol, order.OrderID, order.Side)
	if err != nil {
		return nil, fmt.Errorf("order %s unresolved after timeout: %w", order.OrderID, err)
	}
	if status.Status == models.OrderCancelled && status.FilledQty.IsPositive() {
		t.logger.Warnw("cancelled order had executed partially, booking the fill",
			"order_id", order.OrderID, "filled_qty", status.FilledQty, "price", status.FilledPrice)
		status.Status = models.OrderFilled
	}
	status.ClientID = order.ClientID
	return status, nil
}

// Position returns the current position for reporting.
func (t *TradeLoop) Position() models.Position {
	return t.ledger.Position()
}

// State returns a copy of the durable record for reporting.
func (t *TradeLoop) State() *models.SymbolState {
	return t.ledger.State()
}

// Symbol returns the symbol this loop trades.
func (t *TradeLoop) Symbol() string {
	return t.cfg.Symbol
}

func (t *TradeLoop) publishGauges() {
	pos := t.ledger.Position()
	metrics.RealizedPnL.WithLabelValues(t.cfg.Symbol).Set(pos.RealizedPnL.InexactFloat64())
	metrics.PositionQuantity.WithLabelValues(t.cfg.Symbol).Set(pos.Quantity.InexactFloat64())
}
