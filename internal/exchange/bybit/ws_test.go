package bybit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// newWSTestServer runs a WebSocket endpoint that accepts the upgrade and
// drains frames until the peer goes away.
func newWSTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(rw, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	return srv, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestReconnectStopsStaleKeepAlive(t *testing.T) {
	srv, wsURL := newWSTestServer(t)
	defer srv.Close()

	w := NewWSClient(wsURL)
	defer w.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := w.Connect(ctx); err != nil {
		t.Fatalf("first connect: %v", err)
	}

	w.mu.RLock()
	firstConn, firstDone := w.conn, w.connDone
	w.mu.RUnlock()

	// Watch a keep-alive loop bound to the first connection; it must end
	// when that connection is replaced.
	exited := make(chan struct{})
	go func() {
		w.pingLoop(firstConn, firstDone)
		close(exited)
	}()

	if err := w.Connect(ctx); err != nil {
		t.Fatalf("second connect: %v", err)
	}

	select {
	case <-firstDone:
	default:
		t.Fatal("keep-alive channel of the replaced connection not closed")
	}

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("keep-alive loop of the replaced connection still running")
	}

	w.mu.RLock()
	secondDone := w.connDone
	w.mu.RUnlock()
	if secondDone == firstDone {
		t.Fatal("expected a fresh keep-alive channel after reconnect")
	}
	select {
	case <-secondDone:
		t.Fatal("keep-alive channel of the live connection already closed")
	default:
	}
}
