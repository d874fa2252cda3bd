// Package downloader fetches historical candles from Bitkub's tradingview
// endpoint and writes them as CSV for the backtester.
package downloader

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"bitkub-grid-bot-go/internal/exchange"

	"go.uber.org/zap"
)

const historyPath = "/tradingview/history"

// one request covers at most this many bars; longer ranges are chunked
const maxBarsPerRequest = 1000

// Downloader pulls candle history over plain HTTP. The endpoint is public,
// so no signing is involved.
type Downloader struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.SugaredLogger
}

func New(baseURL string, logger *zap.SugaredLogger) *Downloader {
	return &Downloader{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

type historyResponse struct {
	Status string        `json:"s"`
	T      []int64       `json:"t"`
	O      []json.Number `json:"o"`
	H      []json.Number `json:"h"`
	L      []json.Number `json:"l"`
	C      []json.Number `json:"c"`
	V      []json.Number `json:"v"`
}

// tvSymbol maps BASE_QUOTE to the tradingview chart symbol, which is
// quote-first: USDT_THB charts as THB_USDT.
func tvSymbol(symbol string) string {
	base, quote := exchange.SplitSymbol(symbol)
	return strings.ToUpper(quote) + "_" + strings.ToUpper(base)
}

// Download fetches candles of the given resolution (minutes, or "D") between
// start and end, and writes them to outPath in the backtester's CSV layout.
func (d *Downloader) Download(ctx context.Context, symbol, resolution string, start, end time.Time, outPath string) (int, error) {
	step := resolutionDuration(resolution)
	if step <= 0 {
		return 0, fmt.Errorf("unsupported resolution %q", resolution)
	}

	out, err := os.Create(outPath)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", outPath, err)
	}
	defer out.Close()

	w := csv.NewWriter(out)
	if err := w.Write([]string{"timestamp", "open", "high", "low", "close", "volume"}); err != nil {
		return 0, err
	}

	total := 0
	lastTs := int64(0)
	for from := start; from.Before(end); {
		to := from.Add(step * maxBarsPerRequest)
		if to.After(end) {
			to = end
		}

		resp, err := d.fetchChunk(ctx, symbol, resolution, from, to)
		if err != nil {
			return total, err
		}

		for i, ts := range resp.T {
			if ts <= lastTs {
				continue // chunks overlap at the boundary bar
			}
			lastTs = ts
			row := []string{
				strconv.FormatInt(ts, 10),
				resp.O[i].String(), resp.H[i].String(),
				resp.L[i].String(), resp.C[i].String(),
				resp.V[i].String(),
			}
			if err := w.Write(row); err != nil {
				return total, err
			}
			total++
		}
		d.logger.Infow("downloaded chunk",
			"symbol", symbol, "from", from.Format(time.RFC3339), "bars", len(resp.T))
		from = to
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return total, err
	}
	return total, nil
}

func (d *Downloader) fetchChunk(ctx context.Context, symbol, resolution string, from, to time.Time) (*historyResponse, error) {
	query := url.Values{}
	query.Set("symbol", tvSymbol(symbol))
	query.Set("resolution", resolution)
	query.Set("from", strconv.FormatInt(from.Unix(), 10))
	query.Set("to", strconv.FormatInt(to.Unix(), 10))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		d.baseURL+historyPath+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history request failed: http %d", resp.StatusCode)
	}

	var hist historyResponse
	if err := json.Unmarshal(body, &hist); err != nil {
		return nil, fmt.Errorf("parse history response: %w", err)
	}
	if hist.Status != "ok" && hist.Status != "no_data" {
		return nil, fmt.Errorf("history response status %q", hist.Status)
	}
	if len(hist.T) != len(hist.O) || len(hist.T) != len(hist.C) {
		return nil, fmt.Errorf("history response arrays disagree in length")
	}
	return &hist, nil
}

func resolutionDuration(resolution string) time.Duration {
	if strings.EqualFold(resolution, "D") {
		return 24 * time.Hour
	}
	mins, err := strconv.Atoi(resolution)
	if err != nil || mins <= 0 {
		return 0
	}
	return time.Duration(mins) * time.Minute
}
