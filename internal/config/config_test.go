package config

import (
	"os"
	"path/filepath"
	"testing"

	"bitkub-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSymbol() models.SymbolConfig {
	return models.SymbolConfig{
		Symbol:        "USDT_THB",
		GridLower:     30,
		GridUpper:     40,
		GridLines:     11,
		OrderNotional: 500,
		FeeRate:       0.0025,
		MinMovePct:    0.5,
	}
}

func validConfig() *models.Config {
	return &models.Config{
		StateBackend: "file",
		Symbols:      []models.SymbolConfig{validSymbol()},
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"state_backend": "file",
		"symbols": [{
			"symbol": "USDT_THB",
			"grid_lower": 30,
			"grid_upper": 40,
			"grid_lines": 11,
			"order_notional": 500,
			"fee_rate": 0.0025,
			"min_move_pct": 0.5
		}]
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.bitkub.com", cfg.BaseURL, "defaulted")
	assert.Equal(t, int64(4), cfg.MaxConcurrentRequests, "defaulted")
	require.Len(t, cfg.Symbols, 1)
	assert.Equal(t, 10, cfg.Symbols[0].RefreshSec, "defaulted")
	assert.Equal(t, int32(2), cfg.Symbols[0].PriceDecimals, "defaulted")
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestLoadRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(validConfig()))
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*models.Config){
		"bad backend": func(c *models.Config) { c.StateBackend = "postgres" },
		"no symbols":  func(c *models.Config) { c.Symbols = nil },
		"bad symbol":  func(c *models.Config) { c.Symbols[0].Symbol = "USDTTHB" },
		"duplicate symbol": func(c *models.Config) {
			c.Symbols = append(c.Symbols, validSymbol())
		},
		"no grid": func(c *models.Config) {
			c.Symbols[0].GridLower, c.Symbols[0].GridUpper, c.Symbols[0].GridLines = 0, 0, 0
		},
		"both grid forms": func(c *models.Config) {
			c.Symbols[0].GridCenter, c.Symbols[0].GridStepPct = 35, 1
			c.Symbols[0].LevelsDown, c.Symbols[0].LevelsUp = 5, 5
		},
		"inverted bounds":   func(c *models.Config) { c.Symbols[0].GridUpper = 20 },
		"one line":          func(c *models.Config) { c.Symbols[0].GridLines = 1 },
		"zero notional":     func(c *models.Config) { c.Symbols[0].OrderNotional = 0 },
		"absurd fee":        func(c *models.Config) { c.Symbols[0].FeeRate = 0.5 },
		"negative move":     func(c *models.Config) { c.Symbols[0].MinMovePct = -1 },
		"negative cooldown": func(c *models.Config) { c.Symbols[0].CooldownSec = -5 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestValidateCenterForm(t *testing.T) {
	cfg := validConfig()
	cfg.Symbols[0] = models.SymbolConfig{
		Symbol:        "BTC_THB",
		GridCenter:    2000000,
		GridStepPct:   1,
		LevelsDown:    5,
		LevelsUp:      5,
		OrderNotional: 1000,
		FeeRate:       0.0025,
	}
	assert.NoError(t, Validate(cfg))

	cfg.Symbols[0].LevelsUp = 0
	assert.Error(t, Validate(cfg))
}
