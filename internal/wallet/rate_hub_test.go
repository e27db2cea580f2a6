package wallet

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fxwallet/wallet-engine/internal/model"
)

func dialHub(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	return conn
}

func waitForClients(t *testing.T, hub *RateHub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		hub.mu.RLock()
		n := len(hub.clients)
		hub.mu.RUnlock()
		if n == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, still at %d", want, n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRateHub_BroadcastDeliversToClient(t *testing.T) {
	hub := NewRateHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dialHub(t, srv)
	defer conn.Close()
	waitForClients(t, hub, 1)

	hub.BroadcastRate(model.RateQuote{
		Source:     model.NGN,
		Dest:       model.USD,
		Rate:       d(0.000650),
		ObservedAt: time.Now().UTC(),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}

	var msg RateMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if msg.Type != "rate_update" {
		t.Errorf("expected type rate_update, got %q", msg.Type)
	}
	if msg.Source != "NGN" || msg.Dest != "USD" {
		t.Errorf("expected NGN→USD, got %s→%s", msg.Source, msg.Dest)
	}
}

func TestRateHub_DeadClientRemoved(t *testing.T) {
	hub := NewRateHub()
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	conn := dialHub(t, srv)
	waitForClients(t, hub, 1)
	conn.Close()

	// Broadcasting against the dead connection must remove it, not panic.
	for i := 0; i < 3; i++ {
		hub.BroadcastRate(model.RateQuote{
			Source:     model.USD,
			Dest:       model.EUR,
			Rate:       d(0.9),
			ObservedAt: time.Now().UTC(),
		})
		time.Sleep(10 * time.Millisecond)
	}
	waitForClients(t, hub, 0)
}
