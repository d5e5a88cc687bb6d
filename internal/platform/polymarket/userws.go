package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pinbar/polywatcher/internal/crypto"
	"github.com/pinbar/polywatcher/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// TradeHandler is called for every normalized trade event on the user channel.
type TradeHandler func(domain.Trade)

// OrderHandler is called for every normalized order event on the user channel.
type OrderHandler func(domain.Order)

// UserWSClient is a WebSocket client for the authenticated Polymarket CLOB
// user channel. It manages the connection lifecycle, the auth subscription,
// and dispatches trade/order events to registered handlers. A dropped
// connection is retried with exponential backoff until Close.
type UserWSClient struct {
	wsURL       string
	creds       crypto.APICreds
	userAddress string
	proxyURL    *url.URL
	markets     []string
	logger      *slog.Logger

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool

	handlerMu     sync.RWMutex
	tradeHandlers []TradeHandler
	orderHandlers []OrderHandler

	// done is closed when the client is shut down.
	done chan struct{}
}

// NewUserWSClient creates a client for the given websocket host.
//
// wsURL is the subscriptions endpoint root, e.g.
// "wss://ws-subscriptions-clob.polymarket.com"; the user channel path is
// appended. proxyURL may be nil. An empty markets list subscribes to all of
// the account's markets.
func NewUserWSClient(wsURL string, creds crypto.APICreds, userAddress string, markets []string, proxyURL *url.URL, logger *slog.Logger) *UserWSClient {
	return &UserWSClient{
		wsURL:       strings.TrimRight(wsURL, "/") + "/ws/user",
		creds:       creds,
		userAddress: userAddress,
		proxyURL:    proxyURL,
		markets:     markets,
		logger:      logger.With(slog.String("component", "user_ws")),
		done:        make(chan struct{}),
	}
}

// Connect establishes the websocket connection and sends the auth
// subscription. On success the read and ping loops run until the
// connection drops, after which the client reconnects on its own.
func (w *UserWSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("polymarket/user_ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}
	if w.proxyURL != nil {
		dialer.Proxy = http.ProxyURL(w.proxyURL)
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/user_ws: connect: %w", err)
	}

	w.conn = conn

	// Set up pong handler for keep-alive.
	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if err := w.sendSubscribe(); err != nil {
		w.conn.Close()
		w.conn = nil
		return fmt.Errorf("polymarket/user_ws: subscribe: %w", err)
	}

	go w.readLoop()
	go w.pingLoop()

	return nil
}

// Close shuts down the websocket connection and stops the read loop.
func (w *UserWSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}

	return nil
}

// OnTrade registers a handler invoked for every trade event.
func (w *UserWSClient) OnTrade(handler TradeHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.tradeHandlers = append(w.tradeHandlers, handler)
}

// OnOrder registers a handler invoked for every order event.
func (w *UserWSClient) OnOrder(handler OrderHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.orderHandlers = append(w.orderHandlers, handler)
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// sendSubscribe sends the user-channel auth subscription. Caller must hold w.mu.
func (w *UserWSClient) sendSubscribe() error {
	sub := wsSubscribe{
		Auth: wsAuth{
			APIKey:     w.creds.Key,
			Secret:     w.creds.Secret,
			Passphrase: w.creds.Passphrase,
		},
		Type:    "USER",
		Markets: w.markets,
	}
	if sub.Markets == nil {
		sub.Markets = []string{}
	}

	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshal subscribe: %w", err)
	}

	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop continuously reads frames from the websocket and dispatches
// them. On disconnect it hands off to reconnect, which restarts the loop
// after the connection is re-established.
func (w *UserWSClient) readLoop() {
	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()

		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			// Check if we've been shut down.
			select {
			case <-w.done:
				return
			default:
			}

			w.logger.Warn("connection lost, reconnecting",
				slog.String("error", err.Error()),
			)
			conn.Close()
			w.reconnect()
			return // readLoop is restarted by reconnect -> Connect
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic ping frames to keep the websocket alive.
func (w *UserWSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()

			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage parses one raw frame and routes it by event type. A frame
// that fails to parse is logged and dropped; it is never fatal.
func (w *UserWSClient) handleMessage(raw []byte) {
	// The server answers application-level pings with a bare text PONG.
	if string(raw) == "PONG" {
		return
	}

	// The user channel may batch events into a JSON array.
	if len(raw) > 0 && raw[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(raw, &batch); err != nil {
			w.logger.Warn("dropping malformed frame", slog.String("error", err.Error()))
			return
		}
		for _, item := range batch {
			w.handleEvent(item)
		}
		return
	}

	w.handleEvent(raw)
}

func (w *UserWSClient) handleEvent(raw []byte) {
	var envelope struct {
		EventType string `json:"event_type"`
		Type      string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		w.logger.Warn("dropping malformed frame", slog.String("error", err.Error()))
		return
	}

	switch {
	case strings.EqualFold(envelope.EventType, "trade") || strings.EqualFold(envelope.Type, "TRADE"):
		var msg APITradeMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			w.logger.Warn("dropping malformed trade frame", slog.String("error", err.Error()))
			return
		}
		trades := msg.ToDomainTrades(w.userAddress, domain.OriginStream)

		w.handlerMu.RLock()
		handlers := w.tradeHandlers
		w.handlerMu.RUnlock()

		for _, t := range trades {
			for _, h := range handlers {
				h(t)
			}
		}

	case strings.EqualFold(envelope.EventType, "order"),
		strings.EqualFold(envelope.Type, "PLACEMENT"),
		strings.EqualFold(envelope.Type, "UPDATE"),
		strings.EqualFold(envelope.Type, "CANCELLATION"):
		var msg APIOrderMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			w.logger.Warn("dropping malformed order frame", slog.String("error", err.Error()))
			return
		}
		order := msg.ToDomainOrder(domain.OriginStream)

		w.handlerMu.RLock()
		handlers := w.orderHandlers
		w.handlerMu.RUnlock()

		for _, h := range handlers {
			h(order)
		}

	default:
		w.logger.Debug("ignoring frame",
			slog.String("event_type", envelope.EventType),
			slog.String("type", envelope.Type),
		)
	}
}

// reconnect re-establishes the websocket connection with exponential
// backoff. It blocks until successful or the client is closed; there is no
// retry limit.
func (w *UserWSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			w.logger.Info("reconnected")
			return
		}

		w.logger.Warn("reconnect failed, backing off",
			slog.Duration("next_delay", delay),
			slog.String("error", err.Error()),
		)

		// Exponential backoff.
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
