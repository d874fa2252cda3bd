package exchange

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"bitkub-grid-bot-go/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SimulatedExchange fills every order immediately at its limit price. It
// backs two modes: dry-run, where marketData is a live client supplying real
// public prices while orders stay local, and backtest, where the driver
// feeds prices through SetTick.
//
// Client ids are honored as idempotency tokens the way the live venue honors
// them: re-submitting an already seen id returns the original result instead
// of executing a second fill.
type SimulatedExchange struct {
	mu         sync.Mutex
	marketData Exchange // nil in backtest mode
	feeRate    decimal.Decimal
	balances   map[string]decimal.Decimal
	orders     map[string]*models.OrderResult
	byClientID map[string]*models.OrderResult
	trades     []models.CompletedTrade
	tick       models.PriceTick
	nextID     int64
	logger     *zap.SugaredLogger
}

// NewSimulatedExchange creates a simulator with the given starting balances
// (asset -> amount). marketData may be nil; then GetPrice serves the tick
// set by SetTick.
func NewSimulatedExchange(marketData Exchange, feeRate float64, balances map[string]decimal.Decimal, logger *zap.SugaredLogger) *SimulatedExchange {
	b := make(map[string]decimal.Decimal, len(balances))
	for asset, amt := range balances {
		b[asset] = amt
	}
	return &SimulatedExchange{
		marketData: marketData,
		feeRate:    decimal.NewFromFloat(feeRate),
		balances:   b,
		orders:     make(map[string]*models.OrderResult),
		byClientID: make(map[string]*models.OrderResult),
		logger:     logger,
	}
}

// SetTick installs the current market price. Backtest drivers call this
// before each cycle.
func (s *SimulatedExchange) SetTick(tick models.PriceTick) {
	s.mu.Lock()
	s.tick = tick
	s.mu.Unlock()
}

func (s *SimulatedExchange) GetPrice(ctx context.Context, symbol string) (models.PriceTick, error) {
	if s.marketData != nil {
		return s.marketData.GetPrice(ctx, symbol)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tick.Price.IsZero() {
		return models.PriceTick{}, fmt.Errorf("no tick set for %s", symbol)
	}
	return s.tick, nil
}

func (s *SimulatedExchange) GetRecentTrades(ctx context.Context, symbol string, limit int) ([]models.Trade, error) {
	if s.marketData != nil {
		return s.marketData.GetRecentTrades(ctx, symbol, limit)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tick.Price.IsZero() {
		return nil, nil
	}
	return []models.Trade{{Ts: s.tick.Time.UnixMilli(), Rate: s.tick.Price, Amount: decimal.NewFromInt(1)}}, nil
}

func (s *SimulatedExchange) GetServerTime(ctx context.Context) (int64, error) {
	if s.marketData != nil {
		return s.marketData.GetServerTime(ctx)
	}
	return time.Now().UnixMilli(), nil
}

func (s *SimulatedExchange) GetAvailableBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[asset], nil
}

// PlaceOrder fills the order at req.Price and settles balances with the
// configured fee. The fee is charged in the received asset, matching the
// venue.
func (s *SimulatedExchange) PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ClientID != "" {
		if prev, ok := s.byClientID[req.ClientID]; ok {
			s.logger.Warnw("duplicate client id, returning original fill",
				"client_id", req.ClientID, "order_id", prev.OrderID)
			cp := *prev
			return &cp, nil
		}
	}
	if !req.Price.IsPositive() {
		return nil, fmt.Errorf("order price must be positive")
	}

	base, quote := SplitSymbol(req.Symbol)

	var qty, fee decimal.Decimal
	switch req.Side {
	case models.Buy:
		if !req.Notional.IsPositive() {
			return nil, fmt.Errorf("buy notional must be positive")
		}
		if s.balances[quote].LessThan(req.Notional) {
			return nil, fmt.Errorf("insufficient %s balance: have %s, need %s",
				quote, s.balances[quote], req.Notional)
		}
		qty = req.Notional.Div(req.Price)
		fee = qty.Mul(s.feeRate)
		s.balances[quote] = s.balances[quote].Sub(req.Notional)
		s.balances[base] = s.balances[base].Add(qty.Sub(fee))
	case models.Sell:
		if !req.Quantity.IsPositive() {
			return nil, fmt.Errorf("sell quantity must be positive")
		}
		if s.balances[base].LessThan(req.Quantity) {
			return nil, fmt.Errorf("insufficient %s balance: have %s, need %s",
				base, s.balances[base], req.Quantity)
		}
		qty = req.Quantity
		proceeds := qty.Mul(req.Price)
		fee = proceeds.Mul(s.feeRate)
		s.balances[base] = s.balances[base].Sub(qty)
		s.balances[quote] = s.balances[quote].Add(proceeds.Sub(fee))
	default:
		return nil, fmt.Errorf("unknown side %q", req.Side)
	}

	s.nextID++
	ts := s.tick.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	result := &models.OrderResult{
		OrderID:     strconv.FormatInt(s.nextID, 10),
		ClientID:    req.ClientID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Status:      models.OrderFilled,
		FilledQty:   qty,
		FilledPrice: req.Price,
		Fee:         fee,
		Timestamp:   ts,
	}
	s.orders[result.OrderID] = result
	if req.ClientID != "" {
		s.byClientID[req.ClientID] = result
	}
	s.trades = append(s.trades, models.CompletedTrade{
		Symbol:    req.Symbol,
		Side:      req.Side,
		Quantity:  qty,
		Price:     req.Price,
		Fee:       fee,
		Timestamp: ts,
	})
	return result, nil
}

func (s *SimulatedExchange) GetOrderStatus(ctx context.Context, symbol, orderID string, side models.Side) (*models.OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("unknown order %s", orderID)
	}
	cp := *result
	return &cp, nil
}

func (s *SimulatedExchange) CancelOrder(ctx context.Context, symbol, orderID string, side models.Side) error {
	// Orders fill instantly; there is never anything open to cancel.
	return fmt.Errorf("order %s is already terminal", orderID)
}

// CompletedTrades returns a copy of the fill log for reporting.
func (s *SimulatedExchange) CompletedTrades() []models.CompletedTrade {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.CompletedTrade, len(s.trades))
	copy(out, s.trades)
	return out
}

// Balances returns a copy of the current balances.
func (s *SimulatedExchange) Balances() map[string]decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(s.balances))
	for asset, amt := range s.balances {
		out[asset] = amt
	}
	return out
}

// StreamTicks passes through to the market data source, so dry-run sees the
// same live prices the real bot would.
func (s *SimulatedExchange) StreamTicks(ctx context.Context, symbol string) (<-chan models.PriceTick, error) {
	if streamer, ok := s.marketData.(TickStreamer); ok {
		return streamer.StreamTicks(ctx, symbol)
	}
	return nil, fmt.Errorf("no market data source to stream from")
}

func (s *SimulatedExchange) Close() error {
	if s.marketData != nil {
		return s.marketData.Close()
	}
	return nil
}
