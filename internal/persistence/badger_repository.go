package persistence

import (
	"encoding/json"
	"errors"
	"fmt"

	"bitkub-grid-bot-go/internal/models"

	"github.com/dgraph-io/badger/v3"
	"github.com/shopspring/decimal"
)

// badgerRepository stores one JSON-encoded record per symbol in BadgerDB.
// Badger's transactional Set gives the crash-atomicity the ledger requires.
type badgerRepository struct {
	db *badger.DB
}

// NewBadgerRepository opens (or creates) a BadgerDB at dbPath.
func NewBadgerRepository(dbPath string) (StateRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logger is noisy; errors still surface from operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dbPath, err)
	}
	return &badgerRepository{db: db}, nil
}

func stateKey(symbol string) []byte {
	return []byte("symbol_state/" + symbol)
}

func (r *badgerRepository) SaveState(state *models.SymbolState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return r.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stateKey(state.Symbol), data)
	})
}

func (r *badgerRepository) LoadState(symbol string) (*models.SymbolState, error) {
	var state models.SymbolState

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(stateKey(symbol))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("state value is empty in database")
			}
			return json.Unmarshal(val, &state)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil // first run for this symbol
	}
	if err != nil {
		return nil, err
	}
	if state.GridSlots == nil {
		state.GridSlots = make(map[int]decimal.Decimal)
	}
	return &state, nil
}

func (r *badgerRepository) Close() error {
	return r.db.Close()
}
