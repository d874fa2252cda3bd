package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"bitkub-grid-bot-go/internal/models"
	"bitkub-grid-bot-go/internal/strategy"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const (
	pathServerTime  = "/api/v3/servertime"
	pathTrades      = "/api/v3/market/trades"
	pathBalances    = "/api/v3/market/balances"
	pathPlaceBid    = "/api/v3/market/place-bid"
	pathPlaceAsk    = "/api/v3/market/place-ask"
	pathOrderInfo   = "/api/v3/market/order-info"
	pathCancelOrder = "/api/v3/market/cancel-order"

	vwapTail = 20
)

// BitkubExchange talks to the Bitkub v3 REST API. Every authenticated
// request is signed with HMAC-SHA256 over timestamp+METHOD+path+body, where
// the timestamp is local time corrected by a cached server clock offset. The
// offset refreshes on a timer and whenever the venue rejects a request for a
// timestamp or signature reason, so clock skew self-heals instead of killing
// the session.
type BitkubExchange struct {
	apiKey    string
	apiSecret []byte
	baseURL   string
	wsBaseURL string

	httpClient *http.Client
	policy     RetryPolicy
	gate       *semaphore.Weighted // shared budget across all symbol loops
	logger     *zap.SugaredLogger

	timeOffset atomic.Int64 // serverMs - localMs
	stop       chan struct{}
}

// NewBitkubExchange creates the client and performs the initial time sync.
func NewBitkubExchange(apiKey, apiSecret string, cfg *models.Config, logger *zap.SugaredLogger) (*BitkubExchange, error) {
	maxInflight := cfg.MaxConcurrentRequests
	if maxInflight <= 0 {
		maxInflight = 4
	}
	timeout := time.Duration(cfg.HTTPTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 12 * time.Second
	}

	e := &BitkubExchange{
		apiKey:     apiKey,
		apiSecret:  []byte(apiSecret),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		wsBaseURL:  strings.TrimRight(cfg.WSBaseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		policy:     NewRetryPolicy(cfg.Retry, logger),
		gate:       semaphore.NewWeighted(maxInflight),
		logger:     logger,
		stop:       make(chan struct{}),
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := e.syncTime(ctx); err != nil {
		return nil, fmt.Errorf("initial server time sync: %w", err)
	}

	syncEvery := time.Duration(cfg.TimeSyncIntervalSec) * time.Second
	if syncEvery <= 0 {
		syncEvery = 5 * time.Minute
	}
	go e.timeSyncLoop(syncEvery)

	return e, nil
}

// syncTime refreshes the cached clock offset from the venue.
func (e *BitkubExchange) syncTime(ctx context.Context) error {
	serverMs, err := e.GetServerTime(ctx)
	if err != nil {
		return err
	}
	offset := serverMs - time.Now().UnixMilli()
	e.timeOffset.Store(offset)
	e.logger.Infow("server time synced", "offset_ms", offset)
	return nil
}

func (e *BitkubExchange) timeSyncLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), e.httpClient.Timeout)
			if err := e.syncTime(ctx); err != nil {
				e.logger.Warnw("periodic time sync failed", "err", err)
			}
			cancel()
		}
	}
}

// serverNowMs is the corrected timestamp used on every signed request.
func (e *BitkubExchange) serverNowMs() int64 {
	return time.Now().UnixMilli() + e.timeOffset.Load()
}

// sign computes HMAC-SHA256(timestamp + METHOD + requestPath + body). For
// GET requests the path includes the encoded query string.
func (e *BitkubExchange) sign(timestampMs, method, requestPath, body string) string {
	mac := hmac.New(sha256.New, e.apiSecret)
	mac.Write([]byte(timestampMs + strings.ToUpper(method) + requestPath + body))
	return hex.EncodeToString(mac.Sum(nil))
}

type apiEnvelope struct {
	Error  int             `json:"error"`
	Result json.RawMessage `json:"result"`
}

// doRequest performs one HTTP call through the shared concurrency gate and
// maps the response into the error taxonomy. It does not retry; callers wrap
// it with the retry policy.
func (e *BitkubExchange) doRequest(ctx context.Context, method, path string, query url.Values, body []byte, signed bool) (json.RawMessage, error) {
	if err := e.gate.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer e.gate.Release(1)

	requestPath := path
	if len(query) > 0 {
		requestPath = path + "?" + query.Encode()
	}

	var reader io.Reader
	if method != http.MethodGet {
		if body == nil {
			body = []byte("{}")
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, e.baseURL+requestPath, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	if signed {
		ts := strconv.FormatInt(e.serverNowMs(), 10)
		req.Header.Set("X-BTK-APIKEY", e.apiKey)
		req.Header.Set("X-BTK-TIMESTAMP", ts)
		req.Header.Set("X-BTK-SIGN", e.sign(ts, method, requestPath, string(body)))
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &models.RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &models.HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(respBody), 300)}
	}

	var env apiEnvelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		// Some endpoints (servertime) return a bare value, not an envelope.
		return respBody, nil
	}
	if env.Error != 0 {
		return nil, &models.APIError{Code: env.Error}
	}
	if env.Result != nil {
		return env.Result, nil
	}
	return respBody, nil
}

// doSigned wraps doRequest with the retry policy and the clock-skew
// recovery: a timestamp/signature rejection triggers an offset refresh and
// one immediate retry before the error is given up on.
func (e *BitkubExchange) doSigned(ctx context.Context, op, method, path string, query url.Values, body []byte) (json.RawMessage, error) {
	var result json.RawMessage
	err := e.policy.Do(ctx, op, func() error {
		var err error
		result, err = e.doRequest(ctx, method, path, query, body, true)
		if err != nil && models.IsClockSkew(err) {
			e.logger.Warnw("request rejected for clock skew, resyncing", "op", op, "err", err)
			if syncErr := e.syncTime(ctx); syncErr != nil {
				return err
			}
			result, err = e.doRequest(ctx, method, path, query, body, true)
		}
		return err
	})
	return result, err
}

func (e *BitkubExchange) doPublic(ctx context.Context, op, method, path string, query url.Values) (json.RawMessage, error) {
	var result json.RawMessage
	err := e.policy.Do(ctx, op, func() error {
		var err error
		result, err = e.doRequest(ctx, method, path, query, nil, false)
		return err
	})
	return result, err
}

// GetServerTime returns the venue clock in unix milliseconds.
func (e *BitkubExchange) GetServerTime(ctx context.Context) (int64, error) {
	raw, err := e.doPublic(ctx, "servertime", http.MethodGet, pathServerTime, nil)
	if err != nil {
		return 0, err
	}
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse server time %q: %w", s, err)
	}
	return ms, nil
}

// GetRecentTrades fetches and normalizes public trades, oldest first. The
// venue has returned both array-form and object-form entries across API
// revisions; both are accepted.
func (e *BitkubExchange) GetRecentTrades(ctx context.Context, symbol string, limit int) ([]models.Trade, error) {
	query := url.Values{}
	query.Set("sym", symbol)
	query.Set("lmt", strconv.Itoa(limit))

	raw, err := e.doPublic(ctx, "trades", http.MethodGet, pathTrades, query)
	if err != nil {
		return nil, err
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("trades payload is not a list: %w", err)
	}

	trades := make([]models.Trade, 0, len(entries))
	for _, entry := range entries {
		t, ok := parseTradeEntry(entry)
		if !ok {
			continue
		}
		trades = append(trades, t)
	}

	// Oldest first, so VWAP tails read chronologically.
	sort.Slice(trades, func(i, j int) bool { return trades[i].Ts < trades[j].Ts })
	return trades, nil
}

func parseTradeEntry(entry json.RawMessage) (models.Trade, bool) {
	// Array form: [ts, rate, amount, side]. The trailing side string is not
	// numeric, so fields are decoded individually.
	var arr []json.RawMessage
	if err := json.Unmarshal(entry, &arr); err == nil {
		if len(arr) < 3 {
			return models.Trade{}, false
		}
		var ts, rate, amt json.Number
		if json.Unmarshal(arr[0], &ts) != nil ||
			json.Unmarshal(arr[1], &rate) != nil ||
			json.Unmarshal(arr[2], &amt) != nil {
			return models.Trade{}, false
		}
		return normalizeTrade(ts, rate, amt)
	}

	var obj struct {
		Ts     json.Number `json:"ts"`
		Rat    json.Number `json:"rat"`
		Amt    json.Number `json:"amt"`
		Rate   json.Number `json:"rate"`
		Amount json.Number `json:"amount"`
	}
	if err := json.Unmarshal(entry, &obj); err != nil {
		return models.Trade{}, false
	}
	rate, amt := obj.Rat, obj.Amt
	if rate == "" {
		rate, amt = obj.Rate, obj.Amount
	}
	return normalizeTrade(obj.Ts, rate, amt)
}

func normalizeTrade(tsN, rateN, amtN json.Number) (models.Trade, bool) {
	ts, err := tsN.Int64()
	if err != nil {
		return models.Trade{}, false
	}
	rate, err := decimal.NewFromString(rateN.String())
	if err != nil || !rate.IsPositive() {
		return models.Trade{}, false
	}
	amt, err := decimal.NewFromString(amtN.String())
	if err != nil || !amt.IsPositive() {
		return models.Trade{}, false
	}
	return models.Trade{Ts: ts, Rate: rate, Amount: amt}, true
}

// GetPrice computes the working price as the VWAP of the recent trade tail.
func (e *BitkubExchange) GetPrice(ctx context.Context, symbol string) (models.PriceTick, error) {
	trades, err := e.GetRecentTrades(ctx, symbol, 200)
	if err != nil {
		return models.PriceTick{}, err
	}
	px, ok := strategy.VWAP(trades, vwapTail)
	if !ok {
		return models.PriceTick{}, fmt.Errorf("no usable trades for %s", symbol)
	}
	return models.PriceTick{Price: px, Time: time.Now()}, nil
}

// GetAvailableBalance returns the spendable amount of one asset.
func (e *BitkubExchange) GetAvailableBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	raw, err := e.doSigned(ctx, "balances", http.MethodPost, pathBalances, nil, nil)
	if err != nil {
		return decimal.Zero, err
	}

	var balances map[string]struct {
		Available json.Number `json:"available"`
		Reserved  json.Number `json:"reserved"`
	}
	if err := json.Unmarshal(raw, &balances); err != nil {
		return decimal.Zero, fmt.Errorf("parse balances: %w", err)
	}

	node, ok := balances[strings.ToUpper(asset)]
	if !ok {
		return decimal.Zero, nil
	}
	avail, err := decimal.NewFromString(node.Available.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse balance for %s: %w", asset, err)
	}
	return avail, nil
}

type placeOrderPayload struct {
	Sym      string  `json:"sym"`
	Amt      float64 `json:"amt"`
	Rat      float64 `json:"rat"`
	Typ      string  `json:"typ"`
	ClientID string  `json:"client_id"`
}

type placeOrderResult struct {
	ID   json.Number `json:"id"`
	Hash string      `json:"hash"`
	Typ  string      `json:"typ"`
	Amt  json.Number `json:"amt"`
	Rat  json.Number `json:"rat"`
	Fee  json.Number `json:"fee"`
	Ts   json.Number `json:"ts"`
	CI   string      `json:"ci"`
}

// PlaceOrder submits a limit order. BUY spends req.Notional of the quote
// asset, SELL sells req.Quantity of the base asset. The venue treats the
// client id as an idempotency token, so a retried submission after an
// unacknowledged success is reported as a duplicate rather than re-executed.
func (e *BitkubExchange) PlaceOrder(ctx context.Context, req models.OrderRequest) (*models.OrderResult, error) {
	path := pathPlaceBid
	amt := req.Notional
	if req.Side == models.Sell {
		path = pathPlaceAsk
		amt = req.Quantity
	}

	payload := placeOrderPayload{
		Sym:      req.Symbol,
		Amt:      amt.InexactFloat64(),
		Rat:      req.Price.InexactFloat64(),
		Typ:      "limit",
		ClientID: req.ClientID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	raw, err := e.doSigned(ctx, "place-order", http.MethodPost, path, nil, body)
	if err != nil {
		return nil, err
	}

	var res placeOrderResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("parse order response: %w", err)
	}

	return &models.OrderResult{
		OrderID:   res.ID.String(),
		ClientID:  req.ClientID,
		Symbol:    req.Symbol,
		Side:      req.Side,
		Status:    models.OrderSubmitted,
		Timestamp: time.Now(),
	}, nil
}

type orderInfoResult struct {
	ID            json.Number `json:"id"`
	Amount        json.Number `json:"amount"`
	Rate          json.Number `json:"rate"`
	Fee           json.Number `json:"fee"`
	Filled        json.Number `json:"filled"`
	Status        string      `json:"status"`
	PartialFilled bool        `json:"partial_filled"`
	Remaining     json.Number `json:"remaining"`
}

// GetOrderStatus maps the venue's order view onto the NEW -> SUBMITTED ->
// terminal lifecycle. BUY fills are reported by the venue in quote units and
// converted to base quantity here.
func (e *BitkubExchange) GetOrderStatus(ctx context.Context, symbol, orderID string, side models.Side) (*models.OrderResult, error) {
	query := url.Values{}
	query.Set("sym", symbol)
	query.Set("id", orderID)
	query.Set("sd", sideParam(side))

	raw, err := e.doSigned(ctx, "order-info", http.MethodGet, pathOrderInfo, query, nil)
	if err != nil {
		return nil, err
	}

	var info orderInfoResult
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("parse order info: %w", err)
	}

	rate, _ := decimal.NewFromString(info.Rate.String())
	filled, _ := decimal.NewFromString(info.Filled.String())
	fee, _ := decimal.NewFromString(info.Fee.String())

	result := &models.OrderResult{
		OrderID:     orderID,
		Symbol:      symbol,
		Side:        side,
		FilledPrice: rate,
		Fee:         fee,
		Timestamp:   time.Now(),
	}

	filledQty := filled
	if side == models.Buy && rate.IsPositive() {
		filledQty = filled.Div(rate)
	}

	switch strings.ToLower(info.Status) {
	case "filled":
		result.Status = models.OrderFilled
		result.FilledQty = filledQty
	case "cancelled", "canceled":
		// The venue reports partial executions on cancelled orders too.
		result.Status = models.OrderCancelled
		result.FilledQty = filledQty
	default:
		result.Status = models.OrderSubmitted
	}
	return result, nil
}

// CancelOrder cancels an open order.
func (e *BitkubExchange) CancelOrder(ctx context.Context, symbol, orderID string, side models.Side) error {
	payload := map[string]string{
		"sym": symbol,
		"id":  orderID,
		"sd":  sideParam(side),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = e.doSigned(ctx, "cancel-order", http.MethodPost, pathCancelOrder, nil, body)
	return err
}

// Close stops the background time sync.
func (e *BitkubExchange) Close() error {
	close(e.stop)
	return nil
}

func sideParam(side models.Side) string {
	if side == models.Sell {
		return "sell"
	}
	return "buy"
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(+)"
}
