// Package ledger tracks per-symbol position quantity, weighted-average cost
// and realized P&L, and persists every mutation before acknowledging it.
package ledger

import (
	"fmt"
	"sync"

	"bitkub-grid-bot-go/internal/models"
	"bitkub-grid-bot-go/internal/persistence"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ledger owns one symbol's durable record. All mutations go through
// ApplyFill, which mutates a copy, persists it, and only then swaps it in:
// a failed durable write leaves the in-memory state untouched and surfaces
// a PersistenceError, which the trade loop treats as fatal for the symbol.
type Ledger struct {
	mu      sync.Mutex
	repo    persistence.StateRepository
	state   *models.SymbolState
	feeRate decimal.Decimal
	logger  *zap.SugaredLogger
}

// Open loads the symbol's persisted record, or starts a fresh one on first
// run. A restart therefore never resets the cost basis of an open position.
func Open(repo persistence.StateRepository, symbol string, feeRate float64, logger *zap.SugaredLogger) (*Ledger, error) {
	state, err := repo.LoadState(symbol)
	if err != nil {
		return nil, &models.PersistenceError{Err: err}
	}
	if state == nil {
		state = models.NewSymbolState(symbol)
		logger.Infow("no persisted state, starting fresh", "symbol", symbol)
	} else {
		logger.Infow("restored persisted state",
			"symbol", symbol,
			"quantity", state.Quantity,
			"average_cost", state.AverageCost,
			"realized_pnl", state.RealizedPnL,
			"open_slots", state.OpenSlots())
	}
	return &Ledger{
		repo:    repo,
		state:   state,
		feeRate: decimal.NewFromFloat(feeRate),
		logger:  logger,
	}, nil
}

// ApplyFill applies one confirmed fill. level is the grid line the order was
// derived from: a BUY opens that level's slot, a SELL closes it. snapshot,
// when non-nil, lets the caller fold its own state (the hysteresis anchor)
// into the same durable write, so fill accounting and signal state can never
// be persisted apart.
func (l *Ledger) ApplyFill(side models.Side, qty, price decimal.Decimal, level int, snapshot func(*models.SymbolState)) (models.Position, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !qty.IsPositive() || !price.IsPositive() {
		return l.state.Position(), fmt.Errorf("ledger: non-positive fill qty=%s price=%s", qty, price)
	}

	next := l.state.Clone()

	switch side {
	case models.Buy:
		applyBuy(next, qty, price, l.feeRate, level)
	case models.Sell:
		if qty.GreaterThan(next.Quantity) {
			return l.state.Position(), fmt.Errorf("%w: sell %s exceeds held %s",
				models.ErrInsufficientPosition, qty, next.Quantity)
		}
		applySell(next, qty, price, l.feeRate, level)
	default:
		return l.state.Position(), fmt.Errorf("ledger: unknown side %q", side)
	}

	if snapshot != nil {
		snapshot(next)
	}

	if err := l.persist(next); err != nil {
		return l.state.Position(), err
	}
	l.state = next

	l.logger.Infow("fill applied",
		"symbol", next.Symbol, "side", side, "level", level,
		"qty", qty, "price", price, "position", next.Position().String(),
		"open_slots", next.OpenSlots())
	return next.Position(), nil
}

func applyBuy(st *models.SymbolState, qty, price, feeRate decimal.Decimal, level int) {
	gross := qty.Mul(price)
	cost := gross.Add(gross.Mul(feeRate))

	st.CostBasis = st.CostBasis.Add(cost)
	st.Quantity = st.Quantity.Add(qty)
	st.AverageCost = st.CostBasis.Div(st.Quantity)

	st.GridSlots[level] = st.GridSlots[level].Add(qty)
}

func applySell(st *models.SymbolState, qty, price, feeRate decimal.Decimal, level int) {
	// Cost released is proportional to the quantity sold; a full exit
	// releases the entire basis exactly.
	costPart := st.CostBasis.Mul(qty).Div(st.Quantity)
	gross := qty.Mul(price)
	proceeds := gross.Sub(gross.Mul(feeRate))

	st.RealizedPnL = st.RealizedPnL.Add(proceeds.Sub(costPart))
	st.Quantity = st.Quantity.Sub(qty)
	st.CostBasis = st.CostBasis.Sub(costPart)

	if st.Quantity.IsZero() {
		// Average cost is undefined with no position.
		st.CostBasis = decimal.Zero
		st.AverageCost = decimal.Zero
	} else {
		st.AverageCost = st.CostBasis.Div(st.Quantity)
	}

	remaining := st.GridSlots[level].Sub(qty)
	if remaining.IsPositive() {
		st.GridSlots[level] = remaining
	} else {
		delete(st.GridSlots, level)
	}
}

// SlotQuantity returns the open quantity held at one grid level. The trade
// loop sizes a SELL by this before submitting; the slot itself only shrinks
// once the fill is confirmed and applied.
func (l *Ledger) SlotQuantity(level int) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.GridSlots[level]
}

// Position returns the current holdings view.
func (l *Ledger) Position() models.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Position()
}

// OpenSlots returns the number of grid levels with bought quantity.
func (l *Ledger) OpenSlots() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.OpenSlots()
}

// State returns a deep copy of the durable record, for restoring the signal
// at startup and for reporting.
func (l *Ledger) State() *models.SymbolState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Clone()
}

// SaveSignal persists a signal-only state change (no fill accounting). Not
// used on the fill path, which folds the snapshot into ApplyFill's write.
func (l *Ledger) SaveSignal(snapshot func(*models.SymbolState)) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := l.state.Clone()
	snapshot(next)
	if err := l.persist(next); err != nil {
		return err
	}
	l.state = next
	return nil
}

func (l *Ledger) persist(st *models.SymbolState) error {
	st.Touch()
	if err := l.repo.SaveState(st); err != nil {
		return &models.PersistenceError{Err: err}
	}
	return nil
}
