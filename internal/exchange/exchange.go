// Package exchange provides authenticated access to the trading venue. The
// live client owns retry/backoff, clock-skew correction and the shared
// request concurrency gate; the simulated client fills every order
// immediately and is used by dry-run and backtest sessions.
package exchange

import (
	"context"
	"crypto/rand"
	"strings"

	"bitkub-grid-bot-go/internal/models"

	"github.com/jxskiss/base62"
	"github.com/shopspring/decimal"
)

// Exchange is the contract the trade loop depends on. Implementations never
// mutate position or hysteresis state; they only do I/O.
type Exchange interface {
	// GetPrice returns the symbol's working price (VWAP over the recent
	// trade tail) with its timestamp.
	GetPrice(ctx context.Context, symbol string) (models.PriceTick, error)

	// GetRecentTrades returns up to limit normalized public trades, oldest
	// first.
	GetRecentTrades(ctx context.Context, symbol string, limit int) ([]models.Trade, error)

	// PlaceOrder submits an order. The request's ClientID is the idempotency
	// token: resubmitting with the same id is recognized as a duplicate by
	// the venue, not executed twice.
	PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error)

	// GetOrderStatus fetches the venue's current view of an order.
	GetOrderStatus(ctx context.Context, symbol, orderID string, side models.Side) (*models.OrderResult, error)

	// CancelOrder cancels an open order.
	CancelOrder(ctx context.Context, symbol, orderID string, side models.Side) error

	// GetServerTime returns the venue clock in unix milliseconds.
	GetServerTime(ctx context.Context) (int64, error)

	// GetAvailableBalance returns the spendable amount of one asset.
	GetAvailableBalance(ctx context.Context, asset string) (decimal.Decimal, error)

	// Close stops background tasks.
	Close() error
}

// TickStreamer is implemented by exchanges that can push live trade ticks.
// The trade loop prefers a fresh streamed tick over a REST poll.
type TickStreamer interface {
	StreamTicks(ctx context.Context, symbol string) (<-chan models.PriceTick, error)
}

// NewClientOrderID returns a fresh idempotency token: 12 random bytes,
// base62-encoded so it stays short and URL/JSON safe.
func NewClientOrderID() string {
	var b [12]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("exchange: crypto/rand unavailable: " + err.Error())
	}
	return "grid-" + base62.EncodeToString(b[:])
}

// SplitSymbol splits a BASE_QUOTE pair into its assets.
func SplitSymbol(symbol string) (base, quote string) {
	parts := strings.SplitN(symbol, "_", 2)
	if len(parts) != 2 {
		return symbol, ""
	}
	return parts[0], parts[1]
}
