package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"bitkub-grid-bot-go/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	testAPIKey    = "test-key"
	testAPISecret = "test-secret"
)

func testClient(t *testing.T, server *httptest.Server) *BitkubExchange {
	t.Helper()
	cfg := &models.Config{
		BaseURL:               server.URL,
		HTTPTimeoutSec:        5,
		TimeSyncIntervalSec:   3600,
		MaxConcurrentRequests: 2,
		Retry: models.RetryConfig{
			MaxAttempts: 3,
			BaseDelayMs: 1,
			Multiplier:  2,
			MaxDelayMs:  1,
		},
	}
	ex, err := NewBitkubExchange(testAPIKey, testAPISecret, cfg, zap.NewNop().Sugar())
	require.NoError(t, err)
	ex.policy.Jitter = func(time.Duration) time.Duration { return 0 }
	t.Cleanup(func() { ex.Close() })
	return ex
}

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func serveTime(w http.ResponseWriter) {
	w.Write([]byte(strconv.FormatInt(time.Now().UnixMilli(), 10)))
}

func TestSignedRequestCarriesValidSignature(t *testing.T) {
	var gotKey, gotTs, gotSign, gotBody string
	mux := http.NewServeMux()
	mux.HandleFunc(pathServerTime, func(w http.ResponseWriter, r *http.Request) { serveTime(w) })
	mux.HandleFunc(pathBalances, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-BTK-APIKEY")
		gotTs = r.Header.Get("X-BTK-TIMESTAMP")
		gotSign = r.Header.Get("X-BTK-SIGN")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Write([]byte(`{"error":0,"result":{"THB":{"available":"1000","reserved":"0"}}}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ex := testClient(t, server)
	avail, err := ex.GetAvailableBalance(context.Background(), "THB")
	require.NoError(t, err)
	assert.Equal(t, "1000", avail.String())

	assert.Equal(t, testAPIKey, gotKey)
	require.NotEmpty(t, gotTs)

	// Recompute the signature over the canonical string the venue verifies:
	// timestamp + METHOD + path + body.
	mac := hmac.New(sha256.New, []byte(testAPISecret))
	mac.Write([]byte(gotTs + "POST" + pathBalances + gotBody))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)), gotSign)
}

func TestClockSkewResyncsAndRetriesOnce(t *testing.T) {
	timeCalls := 0
	balanceCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc(pathServerTime, func(w http.ResponseWriter, r *http.Request) {
		timeCalls++
		serveTime(w)
	})
	mux.HandleFunc(pathBalances, func(w http.ResponseWriter, r *http.Request) {
		balanceCalls++
		if balanceCalls == 1 {
			w.Write([]byte(`{"error":7}`)) // invalid timestamp
			return
		}
		w.Write([]byte(`{"error":0,"result":{"THB":{"available":"5","reserved":"0"}}}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ex := testClient(t, server)
	avail, err := ex.GetAvailableBalance(context.Background(), "THB")
	require.NoError(t, err)
	assert.Equal(t, "5", avail.String())

	assert.Equal(t, 2, balanceCalls, "one resync retry, no more")
	assert.Equal(t, 2, timeCalls, "startup sync plus the skew resync")
}

func TestRateLimitSurfacesAfterCooldownBudget(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc(pathServerTime, func(w http.ResponseWriter, r *http.Request) { serveTime(w) })
	mux.HandleFunc(pathBalances, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusTooManyRequests)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ex := testClient(t, server)
	_, err := ex.GetAvailableBalance(context.Background(), "THB")
	require.Error(t, err)
	assert.True(t, models.IsRateLimited(err))
	assert.Equal(t, ex.policy.MaxCooldowns+1, calls)
}

func TestTransientServerErrorsAreRetried(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc(pathServerTime, func(w http.ResponseWriter, r *http.Request) { serveTime(w) })
	mux.HandleFunc(pathTrades, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"error":0,"result":[[1700000300,35.5,10,"BUY"],[1700000100,35.0,5,"SELL"]]}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ex := testClient(t, server)
	trades, err := ex.GetRecentTrades(context.Background(), "USDT_THB", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	require.Len(t, trades, 2)
	assert.Less(t, trades[0].Ts, trades[1].Ts, "normalized oldest first")
	assert.Equal(t, "35", trades[0].Rate.String())
	assert.Equal(t, "35.5", trades[1].Rate.String())
}

func TestGetRecentTradesAcceptsObjectForm(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(pathServerTime, func(w http.ResponseWriter, r *http.Request) { serveTime(w) })
	mux.HandleFunc(pathTrades, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":0,"result":[{"ts":1700000100,"rat":34.8,"amt":2.5}]}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ex := testClient(t, server)
	trades, err := ex.GetRecentTrades(context.Background(), "USDT_THB", 10)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, int64(1700000100), trades[0].Ts)
	assert.Equal(t, "34.8", trades[0].Rate.String())
	assert.Equal(t, "2.5", trades[0].Amount.String())
}

func TestGetOrderStatusMapsBuyFillToBaseQuantity(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(pathServerTime, func(w http.ResponseWriter, r *http.Request) { serveTime(w) })
	mux.HandleFunc(pathOrderInfo, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "USDT_THB", r.URL.Query().Get("sym"))
		assert.Equal(t, "123", r.URL.Query().Get("id"))
		assert.Equal(t, "buy", r.URL.Query().Get("sd"))
		// BUY fills are reported in quote units: 350 THB at 35 = 10 USDT.
		w.Write([]byte(`{"error":0,"result":{"id":123,"rate":35,"filled":350,"fee":0.875,"status":"filled"}}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ex := testClient(t, server)
	result, err := ex.GetOrderStatus(context.Background(), "USDT_THB", "123", models.Buy)
	require.NoError(t, err)
	assert.Equal(t, models.OrderFilled, result.Status)
	assert.Equal(t, "10", result.FilledQty.String())
	assert.Equal(t, "35", result.FilledPrice.String())
}

func TestGetOrderStatusUnfilledStaysSubmitted(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(pathServerTime, func(w http.ResponseWriter, r *http.Request) { serveTime(w) })
	mux.HandleFunc(pathOrderInfo, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":0,"result":{"id":123,"rate":35,"filled":0,"status":"unfilled"}}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ex := testClient(t, server)
	result, err := ex.GetOrderStatus(context.Background(), "USDT_THB", "123", models.Sell)
	require.NoError(t, err)
	assert.Equal(t, models.OrderSubmitted, result.Status)
	assert.False(t, result.Status.Terminal())
}

func TestGetOrderStatusCancelledKeepsPartialFill(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(pathServerTime, func(w http.ResponseWriter, r *http.Request) { serveTime(w) })
	mux.HandleFunc(pathOrderInfo, func(w http.ResponseWriter, r *http.Request) {
		// Cancelled after a partial execution: 140 of 350 THB went through.
		w.Write([]byte(`{"error":0,"result":{"id":123,"rate":35,"filled":140,"fee":0.35,"status":"cancelled","partial_filled":true}}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ex := testClient(t, server)
	result, err := ex.GetOrderStatus(context.Background(), "USDT_THB", "123", models.Buy)
	require.NoError(t, err)
	assert.Equal(t, models.OrderCancelled, result.Status)
	assert.Equal(t, "4", result.FilledQty.String())
	assert.Equal(t, "35", result.FilledPrice.String())
}

func TestPlaceOrderRoutesBySide(t *testing.T) {
	var bidCalls, askCalls int
	mux := http.NewServeMux()
	mux.HandleFunc(pathServerTime, func(w http.ResponseWriter, r *http.Request) { serveTime(w) })
	mux.HandleFunc(pathPlaceBid, func(w http.ResponseWriter, r *http.Request) {
		bidCalls++
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), `"client_id":"grid-`)
		w.Write([]byte(`{"error":0,"result":{"id":11,"typ":"limit"}}`))
	})
	mux.HandleFunc(pathPlaceAsk, func(w http.ResponseWriter, r *http.Request) {
		askCalls++
		w.Write([]byte(`{"error":0,"result":{"id":22,"typ":"limit"}}`))
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	ex := testClient(t, server)

	buy, err := ex.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol: "USDT_THB", Side: models.Buy,
		Notional: dec(350), Price: dec(35), ClientID: NewClientOrderID(),
	})
	require.NoError(t, err)
	assert.Equal(t, "11", buy.OrderID)
	assert.Equal(t, models.OrderSubmitted, buy.Status)

	sell, err := ex.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol: "USDT_THB", Side: models.Sell,
		Quantity: dec(10), Price: dec(36), ClientID: NewClientOrderID(),
	})
	require.NoError(t, err)
	assert.Equal(t, "22", sell.OrderID)

	assert.Equal(t, 1, bidCalls)
	assert.Equal(t, 1, askCalls)
}
