package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"bitkub-grid-bot-go/internal/models"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	wsPingInterval = 20 * time.Second
	wsPongWait     = 60 * time.Second
	wsReconnectMin = 2 * time.Second
	wsReconnectMax = 60 * time.Second
)

// streamName maps a symbol to the Bitkub trade stream name. The websocket
// uses quote-first lowercase naming, so USDT_THB subscribes to
// market.trade.thb_usdt.
func streamName(symbol string) string {
	base, quote := SplitSymbol(symbol)
	return "market.trade." + strings.ToLower(quote) + "_" + strings.ToLower(base)
}

type wsTradeMessage struct {
	Stream string      `json:"stream"`
	Sym    string      `json:"sym"`
	Rat    json.Number `json:"rat"`
	Amt    json.Number `json:"amt"`
	Ts     json.Number `json:"ts"`
}

// StreamTicks subscribes to the public trade stream and emits one tick per
// executed trade. The channel closes when ctx is cancelled; connection drops
// are reconnected internally with backoff, so consumers never see them. The
// channel has a small buffer and the newest tick wins when the consumer lags.
func (e *BitkubExchange) StreamTicks(ctx context.Context, symbol string) (<-chan models.PriceTick, error) {
	if e.wsBaseURL == "" {
		return nil, fmt.Errorf("websocket base url not configured")
	}
	endpoint := e.wsBaseURL + "/websocket-api/" + streamName(symbol)

	out := make(chan models.PriceTick, 8)
	go func() {
		defer close(out)
		delay := wsReconnectMin
		for {
			err := e.streamOnce(ctx, endpoint, out)
			if ctx.Err() != nil {
				return
			}
			e.logger.Warnw("trade stream disconnected, reconnecting",
				"symbol", symbol, "delay", delay, "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > wsReconnectMax {
				delay = wsReconnectMax
			}
		}
	}()
	return out, nil
}

// streamOnce runs a single connection until it fails or ctx is cancelled.
func (e *BitkubExchange) streamOnce(ctx context.Context, endpoint string, out chan models.PriceTick) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", endpoint, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// Ping loop also watches ctx so a cancelled consumer tears the
	// connection down instead of leaving the read blocked.
	pingDone := make(chan struct{})
	go func() {
		defer conn.Close()
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-pingDone:
				return
			case <-ticker.C:
				deadline := time.Now().Add(5 * time.Second)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			}
		}
	}()
	defer close(pingDone)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		tick, ok := parseWSTrade(payload)
		if !ok {
			continue
		}
		offerTick(out, tick)
	}
}

// offerTick delivers a tick without blocking the read loop. When the buffer
// is full the oldest tick is dropped in favour of the new one, so a lagging
// consumer always wakes to the most recent prices.
func offerTick(out chan models.PriceTick, tick models.PriceTick) {
	select {
	case out <- tick:
	default:
		select {
		case <-out:
		default:
		}
		select {
		case out <- tick:
		default:
		}
	}
}

func parseWSTrade(payload []byte) (models.PriceTick, bool) {
	var msg wsTradeMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return models.PriceTick{}, false
	}
	rate, err := decimal.NewFromString(msg.Rat.String())
	if err != nil || !rate.IsPositive() {
		return models.PriceTick{}, false
	}
	return models.PriceTick{Price: rate, Time: time.Now()}, true
}
