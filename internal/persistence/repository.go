package persistence

import "bitkub-grid-bot-go/internal/models"

// StateRepository abstracts durable per-symbol state storage. Each symbol
// owns exactly one record; there is no process-wide shared state object.
type StateRepository interface {
	// SaveState atomically writes one symbol's record. The write must be
	// durable before the call returns (write-then-acknowledge).
	SaveState(state *models.SymbolState) error

	// LoadState loads one symbol's record. A symbol with no record yet
	// returns (nil, nil).
	LoadState(symbol string) (*models.SymbolState, error)

	// Close releases the underlying store.
	Close() error
}
