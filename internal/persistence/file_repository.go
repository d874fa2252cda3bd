package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"bitkub-grid-bot-go/internal/models"

	"github.com/shopspring/decimal"
)

// fileRepository keeps one human-readable JSON file per symbol, written with
// a temp-file + rename so a crash mid-write can never leave a half-written
// record behind. Used by dry-run and backtest sessions, and selectable in
// live config for operators who want to inspect state with a text editor.
type fileRepository struct {
	dir string
}

// NewFileRepository creates the state directory if needed.
func NewFileRepository(dir string) (StateRepository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir %s: %w", dir, err)
	}
	return &fileRepository{dir: dir}, nil
}

func (r *fileRepository) pathFor(symbol string) string {
	name := strings.ToLower(strings.ReplaceAll(symbol, "/", "_"))
	return filepath.Join(r.dir, name+".json")
}

func (r *fileRepository) SaveState(state *models.SymbolState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	final := r.pathFor(state.Symbol)
	tmp, err := os.CreateTemp(r.dir, filepath.Base(final)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), final)
}

func (r *fileRepository) LoadState(symbol string) (*models.SymbolState, error) {
	data, err := os.ReadFile(r.pathFor(symbol))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}

	var state models.SymbolState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode state for %s: %w", symbol, err)
	}
	if state.GridSlots == nil {
		state.GridSlots = make(map[int]decimal.Decimal)
	}
	return &state, nil
}

func (r *fileRepository) Close() error {
	return nil
}
