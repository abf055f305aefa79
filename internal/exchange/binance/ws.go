// Package binance adapts the Binance spot market-data surface to the internal
// stream model: combined-stream WebSocket for klines, aggregated trades and
// depth diffs, plus REST for candle backfill and the liveness probe.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
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

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// WSClient is a WebSocket client for the Binance combined market stream. It
// manages the connection lifecycle and subscriptions and dispatches decoded
// messages to registered handlers.
type WSClient struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool

	// Subscriptions to restore on reconnect.
	subscriptions []string
	nextID        int

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

// NewWSClient creates a client for the given combined-stream endpoint,
// e.g. "wss://stream.binance.com:9443/stream".
func NewWSClient(wsURL string) *WSClient {
	return &WSClient{
		wsURL: wsURL,
		done:  make(chan struct{}),
	}
}

// Streams builds the combined-stream names for one symbol: one kline stream
// per timeframe, aggregated trades, and the 100ms depth diff.
func Streams(symbol string, tfs []domain.Timeframe) []string {
	s := strings.ToLower(symbol)
	out := make([]string, 0, len(tfs)+2)
	for _, tf := range tfs {
		out = append(out, fmt.Sprintf("%s@kline_%s", s, intervals[tf]))
	}
	out = append(out, s+"@aggTrade", s+"@depth@100ms")
	return out
}

// Connect establishes the WebSocket connection and restores subscriptions.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("binance/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("binance/ws: connect: %w", err)
	}

	if w.connDone != nil {
		close(w.connDone)
	}
	connDone := make(chan struct{})
	w.connDone = connDone
	w.conn = conn

	// Set up pong handler for keep-alive.
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop()
	go w.pingLoop(conn, connDone)

	// Restore any previous subscriptions after reconnect.
	if len(w.subscriptions) > 0 {
		if err := w.sendSubscribe(w.subscriptions); err != nil {
			return fmt.Errorf("binance/ws: restore subscriptions: %w", err)
		}
	}

	w.notifyState(true)
	return nil
}

// Subscribe subscribes to the given stream names.
func (w *WSClient) Subscribe(ctx context.Context, streams []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return fmt.Errorf("binance/ws: %w", domain.ErrNotConnected)
	}
	if err := w.sendSubscribe(streams); err != nil {
		return fmt.Errorf("binance/ws: subscribe: %w", err)
	}

	// Track subscriptions for reconnection.
	w.subscriptions = append(w.subscriptions, streams...)
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

// sendSubscribe sends a SUBSCRIBE frame. Caller must hold w.mu.
func (w *WSClient) sendSubscribe(streams []string) error {
	w.nextID++
	cmd := struct {
		Method string   `json:"method"`
		Params []string `json:"params"`
		ID     int      `json:"id"`
	}{Method: "SUBSCRIBE", Params: streams, ID: w.nextID}

	w.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
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

// readLoop continuously reads frames from the WebSocket and dispatches
// decoded messages to the handlers. On disconnect it attempts to reconnect
// with exponential backoff.
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

// pingLoop sends periodic ping frames to keep one connection alive. It ends
// with that connection: connDone is closed when a reconnect replaces it.
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
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage unwraps the combined-stream envelope and routes the payload
// by its event type. Unparseable frames are dropped silently.
func (w *WSClient) handleMessage(raw []byte) {
	var env streamEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}
	payload := env.Data
	if payload == nil {
		payload = raw // raw-stream endpoint delivers the event directly
	}

	var header eventHeader
	if err := json.Unmarshal(payload, &header); err != nil {
		return
	}

	var msg domain.StreamMessage
	switch header.Event {
	case "kline":
		var ev klineEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return
		}
		m, ok := ev.ToDomain()
		if !ok {
			return
		}
		msg = m

	case "aggTrade":
		var ev aggTradeEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return
		}
		msg = ev.ToDomain()

	case "depthUpdate":
		var ev depthEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return
		}
		msg = ev.ToDomain()

	default:
		return
	}

	w.handlerMu.RLock()
	handlers := w.msgHandlers
	w.handlerMu.RUnlock()
	for _, h := range handlers {
		h(msg)
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
