// Package config loads and validates the bot configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"bitkub-grid-bot-go/internal/models"
)

// Load reads a JSON config file, applies defaults and validates it.
func Load(path string) (*models.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg models.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *models.Config) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.bitkub.com"
	}
	if cfg.WSBaseURL == "" {
		cfg.WSBaseURL = "wss://api.bitkub.com"
	}
	if cfg.StateBackend == "" {
		cfg.StateBackend = "badger"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./state"
	}
	if cfg.StateDir == "" {
		cfg.StateDir = "./state"
	}
	if cfg.HTTPTimeoutSec <= 0 {
		cfg.HTTPTimeoutSec = 12
	}
	if cfg.TimeSyncIntervalSec <= 0 {
		cfg.TimeSyncIntervalSec = 300
	}
	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = 4
	}
	for i := range cfg.Symbols {
		s := &cfg.Symbols[i]
		if s.RefreshSec <= 0 {
			s.RefreshSec = 10
		}
		if s.TradesFetch <= 0 {
			s.TradesFetch = 100
		}
		if s.PriceDecimals <= 0 {
			s.PriceDecimals = 2
		}
		if s.AmountDecimals <= 0 {
			s.AmountDecimals = 6
		}
	}
}

// Validate checks structural and per-symbol constraints. It returns the
// first problem found.
func Validate(cfg *models.Config) error {
	switch cfg.StateBackend {
	case "badger", "file":
	default:
		return fmt.Errorf("state_backend must be \"badger\" or \"file\", got %q", cfg.StateBackend)
	}
	if len(cfg.Symbols) == 0 {
		return fmt.Errorf("at least one symbol must be configured")
	}

	seen := make(map[string]bool, len(cfg.Symbols))
	for i := range cfg.Symbols {
		s := &cfg.Symbols[i]
		if err := validateSymbol(s); err != nil {
			return fmt.Errorf("symbol %d (%s): %w", i, s.Symbol, err)
		}
		if seen[s.Symbol] {
			return fmt.Errorf("symbol %s configured twice", s.Symbol)
		}
		seen[s.Symbol] = true
	}
	return nil
}

func validateSymbol(s *models.SymbolConfig) error {
	if s.Symbol == "" || !strings.Contains(s.Symbol, "_") {
		return fmt.Errorf("symbol must be BASE_QUOTE, got %q", s.Symbol)
	}

	boundsForm := s.GridLower > 0 || s.GridUpper > 0 || s.GridLines > 0
	centerForm := s.GridCenter > 0 || s.GridStepPct > 0 || s.LevelsDown > 0 || s.LevelsUp > 0
	switch {
	case boundsForm && centerForm:
		return fmt.Errorf("grid given both as bounds and as center/step; pick one form")
	case boundsForm:
		if s.GridLower <= 0 || s.GridUpper <= s.GridLower {
			return fmt.Errorf("need 0 < grid_lower < grid_upper, got [%v, %v]", s.GridLower, s.GridUpper)
		}
		if s.GridLines < 2 {
			return fmt.Errorf("grid_lines must be at least 2, got %d", s.GridLines)
		}
	case centerForm:
		if s.GridCenter <= 0 || s.GridStepPct <= 0 {
			return fmt.Errorf("need positive grid_center and grid_step_pct")
		}
		if s.LevelsDown < 1 || s.LevelsUp < 1 {
			return fmt.Errorf("need at least one level on each side of the center")
		}
	default:
		return fmt.Errorf("no grid configured")
	}

	if s.OrderNotional <= 0 {
		return fmt.Errorf("order_notional must be positive")
	}
	if s.FeeRate < 0 || s.FeeRate >= 0.1 {
		return fmt.Errorf("fee_rate out of range: %v", s.FeeRate)
	}
	if s.MinMovePct < 0 {
		return fmt.Errorf("min_move_pct must not be negative")
	}
	if s.SlippageBps < 0 {
		return fmt.Errorf("slippage_bps must not be negative")
	}
	if s.CooldownSec < 0 {
		return fmt.Errorf("cooldown_sec must not be negative")
	}
	return nil
}
