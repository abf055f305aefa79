// Package bybit adapts the Bybit v5 public market-data surface to the
// internal stream model: WebSocket topics for klines, public trades and the
// 200-level order book, plus REST for candle backfill and the liveness probe.
package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantfold/marketfuse/internal/domain"
	"github.com/quantfold/marketfuse/internal/exchange"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends the v5 JSON ping at this interval; Bybit closes
	// connections idle for more than 30 seconds.
	pingPeriod = 20 * time.Second

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// WSClient is a WebSocket client for a Bybit v5 public stream. It manages the
// connection lifecycle and topic subscriptions and dispatches decoded
// messages to registered handlers.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// Topics to restore on reconnect.
	subscriptions []string

	msgHandlers   []exchange.MessageHandler
	stateHandlers []exchange.StateHandler
	handlerMu     sync.RWMutex

	// done is closed when the client is shut down; connDone when the current
	// connection is replaced, so the previous keep-alive loop stops instead
	// of pinging a dead socket.
	done     chan struct{}
	connDone chan struct{}
}

var _ exchange.Stream = (*WSClient)(nil)

// NewWSClient creates a client for the given public stream endpoint,
// e.g. "wss://stream.bybit.com/v5/public/spot".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		done:  make(chan struct{}),
	}
}

// Topics builds the v5 topic names for one symbol: one kline topic per
// timeframe, public trades, and the 200-level order book.
func Topics(symbol string, tfs []domain.Timeframe) []string {
	out := make([]string, 0, len(tfs)+2)
	for _, tf := range tfs {
		out = append(out, fmt.Sprintf("kline.%s.%s", intervals[tf], symbol))
	}
	out = append(out, "publicTrade."+symbol, "orderbook.200."+symbol)
	return out
}

// Connect establishes the WebSocket connection and restores subscriptions.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("bybit/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("bybit/ws: connect: %w", err)
	}

	if w.connDone != nil {
		close(w.connDone)
	}
	connDone := make(chan struct{})
	w.connDone = connDone
	w.conn = conn
	conn.SetReadDeadline(time.Now().Add(pongWait))

	go w.readLoop()
	go w.pingLoop(conn, connDone)

	// Restore any previous subscriptions after reconnect.
	if len(w.subscriptions) > 0 {
		if err := w.sendOp("subscribe", w.subscriptions); err != nil {
			return fmt.Errorf("bybit/ws: restore subscriptions: %w", err)
		}
	}

	w.notifyState(true)
	return nil
}

// Subscribe subscribes to the given topics.
func (w *WSClient) Subscribe(ctx context.Context, topics []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("bybit/ws: %w", domain.ErrNotConnected)
	}
	if err := w.sendOp("subscribe", topics); err != nil {
		return fmt.Errorf("bybit/ws: subscribe: %w", err)
	}

	// Track subscriptions for reconnection.
	w.subscriptions = append(w.subscriptions, topics...)
	return nil
}

// Close shuts down the WebSocket connection and stops the read loop.
func (w *WSClient) Close() error {
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

// OnMessage registers a handler called for every decoded stream message.
func (w *WSClient) OnMessage(handler exchange.MessageHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.msgHandlers = append(w.msgHandlers, handler)
}

// OnConnectionState registers a handler called on connect and disconnect.
func (w *WSClient) OnConnectionState(handler exchange.StateHandler) {
	w.handlerMu.Lock()
	defer w.handlerMu.Unlock()
	w.stateHandlers = append(w.stateHandlers, handler)
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// sendOp sends a v5 op frame. Caller must hold w.mu.
func (w *WSClient) sendOp(op string, args []string) error {
	cmd := struct {
		Op   string   `json:"op"`
		Args []string `json:"args,omitempty"`
	}{Op: op, Args: args}

	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal op: %w", err)
	}
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

func (w *WSClient) notifyState(connected bool) {
	w.handlerMu.RLock()
	handlers := w.stateHandlers
	w.handlerMu.RUnlock()
	for _, h := range handlers {
		h(connected)
	}
}

// readLoop continuously reads frames and dispatches decoded messages. On
// disconnect it attempts to reconnect with exponential backoff.
func (w *WSClient) readLoop() {
	defer func() {
		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn != nil {
			conn.Close()
		}
	}()

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
			select {
			case <-w.done:
				return
			default:
			}

			w.notifyState(false)
			w.reconnect()
			return // readLoop is restarted by reconnect -> Connect
		}

		w.handleMessage(message)
	}
}

// pingLoop sends the v5 JSON ping on one connection; the pong arrives as a
// regular text frame handled in handleMessage, which also refreshes the read
// deadline. The loop ends with its connection: connDone is closed when a
// reconnect replaces it.
func (w *WSClient) pingLoop(conn *websocket.Conn, connDone <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-connDone:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"op":"ping"}`)); err != nil {
				return
			}
		}
	}
}

// handleMessage routes a v5 frame by its topic. Op acks and pongs refresh the
// read deadline; unparseable frames are dropped silently.
func (w *WSClient) handleMessage(raw []byte) {
	var env struct {
		Topic string          `json:"topic"`
		Type  string          `json:"type"`
		TS    int64           `json:"ts"`
		Op    string          `json:"op"`
		Data  json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}

	w.mu.RLock()
	conn := w.conn
	w.mu.RUnlock()
	if conn != nil {
		conn.SetReadDeadline(time.Now().Add(pongWait))
	}

	if env.Topic == "" {
		return // op ack or pong
	}

	parts := topicParts(env.Topic)
	eventTime := time.UnixMilli(env.TS)

	var msgs []domain.StreamMessage
	switch parts[0] {
	case "kline":
		if len(parts) != 3 {
			return
		}
		var data []klineData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return
		}
		for i := range data {
			if m, ok := data[i].ToDomain(parts[2], eventTime); ok {
				msgs = append(msgs, m)
			}
		}

	case "publicTrade":
		var data []tradeData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return
		}
		for i := range data {
			msgs = append(msgs, data[i].ToDomain(eventTime))
		}

	case "orderbook":
		var data bookData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return
		}
		msgs = append(msgs, data.ToDomain(env.Type == "snapshot", eventTime))

	default:
		return
	}

	w.handlerMu.RLock()
	handlers := w.msgHandlers
	w.handlerMu.RUnlock()
	for _, msg := range msgs {
		for _, h := range handlers {
			h(msg)
		}
	}
}

// reconnect attempts to re-establish the WebSocket connection with
// exponential backoff. It blocks until successful or the client is closed.
func (w *WSClient) reconnect() {
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
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
