package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bitkub-grid-bot-go/internal/backtest"
	"bitkub-grid-bot-go/internal/bot"
	"bitkub-grid-bot-go/internal/config"
	"bitkub-grid-bot-go/internal/downloader"
	"bitkub-grid-bot-go/internal/exchange"
	"bitkub-grid-bot-go/internal/logger"
	"bitkub-grid-bot-go/internal/models"
	"bitkub-grid-bot-go/internal/persistence"
	"bitkub-grid-bot-go/internal/reporter"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		configPath = flag.String("config", "config.json", "path to config file")
		mode       = flag.String("mode", "live", "run mode: live, backtest or download")
		dataPath   = flag.String("data", "", "candle CSV for backtest mode")
		symbol     = flag.String("symbol", "", "symbol for backtest/download mode, e.g. USDT_THB")
		startStr   = flag.String("start", "", "range start, YYYY-MM-DD")
		endStr     = flag.String("end", "", "range end, YYYY-MM-DD")
		resolution = flag.String("resolution", "60", "candle resolution in minutes, or D")
		outPath    = flag.String("out", "candles.csv", "output CSV for download mode")
	)
	flag.Parse()

	// Bootstrap logger so config errors are visible; re-initialized from
	// the config right after it loads.
	logger.Init(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.S().Warnw("failed to load .env", "err", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.S().Fatalw("config load failed", "err", err)
	}
	logger.Init(cfg.Log)
	log := logger.S()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "live":
		err = runLive(ctx, cfg)
	case "backtest":
		err = runBacktest(ctx, cfg, *symbol, *dataPath, *startStr, *endStr)
	case "download":
		err = runDownload(ctx, cfg, *symbol, *resolution, *startStr, *endStr, *outPath)
	default:
		err = fmt.Errorf("unknown mode %q", *mode)
	}
	if err != nil && ctx.Err() == nil {
		log.Fatalw("run failed", "mode", *mode, "err", err)
	}
	log.Infow("shutdown complete")
}

func runLive(ctx context.Context, cfg *models.Config) error {
	log := logger.S()

	ex, err := buildExchange(cfg)
	if err != nil {
		return err
	}
	defer ex.Close()

	repo, err := buildRepository(cfg)
	if err != nil {
		return err
	}
	defer repo.Close()

	if cfg.MetricsListenAddr != "" {
		go serveMetrics(cfg.MetricsListenAddr)
	}

	loops := make([]*bot.TradeLoop, 0, len(cfg.Symbols))
	for _, sc := range cfg.Symbols {
		loop, err := bot.NewTradeLoop(sc, ex, repo, log)
		if err != nil {
			return fmt.Errorf("symbol %s: %w", sc.Symbol, err)
		}
		loops = append(loops, loop)
	}

	// One fatal symbol does not take the others down; the group waits for
	// all of them and reports the first real error.
	g := &errgroup.Group{}
	for _, loop := range loops {
		loop := loop
		g.Go(func() error {
			err := loop.Run(ctx)
			if err != nil && ctx.Err() == nil {
				log.Errorw("symbol halted", "symbol", loop.Symbol(), "err", err)
				return err
			}
			return nil
		})
	}
	err = g.Wait()

	states := make([]*models.SymbolState, 0, len(loops))
	for _, loop := range loops {
		states = append(states, loop.State())
	}
	reporter.PrintPositionSummary(os.Stdout, states)
	return err
}

// buildExchange returns the live client, or for dry-run a simulator fed by
// live market data with a paper balance.
func buildExchange(cfg *models.Config) (exchange.Exchange, error) {
	log := logger.S()

	if !cfg.DryRun {
		apiKey := os.Getenv("BITKUB_API_KEY")
		apiSecret := os.Getenv("BITKUB_API_SECRET")
		if apiKey == "" || apiSecret == "" {
			return nil, fmt.Errorf("BITKUB_API_KEY and BITKUB_API_SECRET must be set for live trading")
		}
		return exchange.NewBitkubExchange(apiKey, apiSecret, cfg, log)
	}

	log.Infow("dry run: orders are simulated, market data is live")
	marketData, err := exchange.NewBitkubExchange("", "", cfg, log)
	if err != nil {
		return nil, err
	}

	balances := map[string]decimal.Decimal{}
	feeRate := 0.0025
	for _, sc := range cfg.Symbols {
		lines := sc.GridLines
		if lines == 0 {
			lines = sc.LevelsDown + sc.LevelsUp + 1
		}
		_, quote := exchange.SplitSymbol(sc.Symbol)
		seed := decimal.NewFromFloat(sc.OrderNotional).Mul(decimal.NewFromInt(int64(lines + 1)))
		balances[quote] = balances[quote].Add(seed)
		feeRate = sc.FeeRate
	}
	return exchange.NewSimulatedExchange(marketData, feeRate, balances, log), nil
}

func buildRepository(cfg *models.Config) (persistence.StateRepository, error) {
	switch cfg.StateBackend {
	case "file":
		return persistence.NewFileRepository(cfg.StateDir)
	default:
		return persistence.NewBadgerRepository(cfg.DBPath)
	}
}

func runBacktest(ctx context.Context, cfg *models.Config, symbol, dataPath, startStr, endStr string) error {
	log := logger.S()
	if dataPath == "" {
		return fmt.Errorf("backtest mode requires -data")
	}
	sc, err := findSymbol(cfg, symbol)
	if err != nil {
		return err
	}
	start, end, err := parseRange(startStr, endStr)
	if err != nil {
		return err
	}

	candles, err := backtest.LoadCandlesCSV(dataPath, start, end)
	if err != nil {
		return err
	}
	log.Infow("candles loaded", "file", dataPath, "count", len(candles))

	stateDir, err := os.MkdirTemp("", "gridbot-backtest-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(stateDir)
	repo, err := persistence.NewFileRepository(stateDir)
	if err != nil {
		return err
	}
	defer repo.Close()

	runner, err := backtest.NewRunner(*sc, repo, log)
	if err != nil {
		return err
	}
	result, err := runner.Run(ctx, candles)
	if err != nil {
		return err
	}
	reporter.PrintBacktestReport(os.Stdout, result)
	return nil
}

func runDownload(ctx context.Context, cfg *models.Config, symbol, resolution, startStr, endStr, outPath string) error {
	log := logger.S()
	if symbol == "" {
		return fmt.Errorf("download mode requires -symbol")
	}
	start, end, err := parseRange(startStr, endStr)
	if err != nil {
		return err
	}
	if start.IsZero() {
		start = time.Now().AddDate(0, -3, 0)
	}
	if end.IsZero() {
		end = time.Now()
	}

	d := downloader.New(cfg.BaseURL, log)
	n, err := d.Download(ctx, symbol, resolution, start, end, outPath)
	if err != nil {
		return err
	}
	log.Infow("download complete", "file", outPath, "candles", n)
	return nil
}

func findSymbol(cfg *models.Config, symbol string) (*models.SymbolConfig, error) {
	if symbol == "" {
		if len(cfg.Symbols) == 1 {
			return &cfg.Symbols[0], nil
		}
		return nil, fmt.Errorf("multiple symbols configured, pick one with -symbol")
	}
	for i := range cfg.Symbols {
		if cfg.Symbols[i].Symbol == symbol {
			return &cfg.Symbols[i], nil
		}
	}
	return nil, fmt.Errorf("symbol %s not in config", symbol)
}

func parseRange(startStr, endStr string) (start, end time.Time, err error) {
	if startStr != "" {
		start, err = time.Parse("2006-01-02", startStr)
		if err != nil {
			return start, end, fmt.Errorf("bad -start %q: %w", startStr, err)
		}
	}
	if endStr != "" {
		end, err = time.Parse("2006-01-02", endStr)
		if err != nil {
			return start, end, fmt.Errorf("bad -end %q: %w", endStr, err)
		}
	}
	if !start.IsZero() && !end.IsZero() && !start.Before(end) {
		return start, end, fmt.Errorf("-start must be before -end")
	}
	return start, end, nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.S().Infow("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.S().Errorw("metrics server stopped", "err", err)
	}
}
