package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantfeed/coinbase-ingest/internal/model"
)

func testManagerConfig(url string) ManagerConfig {
	cfg := DefaultManagerConfig()
	cfg.URL = url
	cfg.ReconnectBaseDelay = 100 * time.Millisecond
	cfg.ReconnectMaxDelay = time.Second
	cfg.ReconnectDelay = time.Second
	return cfg
}

func candleFrame(symbols ...string) []byte {
	type candle struct {
		ProductID string `json:"product_id"`
		Start     string `json:"start"`
		Open      string `json:"open"`
		High      string `json:"high"`
		Low       string `json:"low"`
		Close     string `json:"close"`
		Volume    string `json:"volume"`
	}
	candles := make([]candle, len(symbols))
	for i, s := range symbols {
		candles[i] = candle{
			ProductID: s,
			Start:     "1637001600",
			Open:      "1", High: "2", Low: "0.5", Close: "1.5", Volume: "9",
		}
	}
	frame := map[string]any{
		"channel": "candles",
		"events":  []map[string]any{{"type": "update", "candles": candles}},
	}
	data, _ := json.Marshal(frame)
	return data
}

// waitForState polls until the manager reaches the wanted state.
func waitForState(t *testing.T, m *Manager, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if m.State() == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("manager never reached %v, stuck at %v", want, m.State())
}

func TestManager_SubscribesOnConnect(t *testing.T) {
	var mu sync.Mutex
	var subscribes []subscribeRequest

	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req subscribeRequest
			if json.Unmarshal(msg, &req) == nil && req.Type == "subscribe" {
				mu.Lock()
				subscribes = append(subscribes, req)
				mu.Unlock()
			}
		}
	})
	defer server.Close()

	mgr := NewManager(testManagerConfig(wsURL(server)), nil, nil)

	done := make(chan error, 1)
	go func() {
		done <- mgr.Run(context.Background(), Subscription{
			ProductIDs: []string{"BTC-USD", "ETH-USD"},
			Channels:   []string{"candles", "heartbeats"},
		})
	}()

	waitForState(t, mgr, StateSubscribed)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	got := append([]subscribeRequest(nil), subscribes...)
	mu.Unlock()

	if len(got) != 2 {
		t.Fatalf("got %d subscribe frames, want 2 (one per channel)", len(got))
	}
	if got[0].Channel != "candles" || got[1].Channel != "heartbeats" {
		t.Errorf("channels = %q, %q", got[0].Channel, got[1].Channel)
	}
	for _, req := range got {
		if len(req.ProductIDs) != 2 || req.ProductIDs[0] != "BTC-USD" {
			t.Errorf("ProductIDs = %v, want [BTC-USD ETH-USD]", req.ProductIDs)
		}
	}

	mgr.RequestStop()
	if err := <-done; err != nil {
		t.Errorf("Run = %v, want nil on clean shutdown", err)
	}
	if mgr.State() != StateClosed {
		t.Errorf("State = %v, want Closed", mgr.State())
	}
}

func TestManager_DispatchOrder(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, candleFrame("C1-USD", "C2-USD", "C3-USD"))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	var mu sync.Mutex
	var symbols []string

	mgr := NewManager(testManagerConfig(wsURL(server)), nil, nil)
	mgr.OnRecord = func(rec model.CandleRecord, receivedAt time.Time) {
		mu.Lock()
		symbols = append(symbols, rec.Symbol)
		mu.Unlock()
		if receivedAt.IsZero() {
			t.Error("receive timestamp not stamped")
		}
	}

	done := make(chan error, 1)
	go func() {
		done <- mgr.Run(context.Background(), Subscription{
			ProductIDs: []string{"BTC-USD"},
			Channels:   []string{"candles"},
		})
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(symbols)
		mu.Unlock()
		if n == 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	got := append([]string(nil), symbols...)
	mu.Unlock()

	want := []string{"C1-USD", "C2-USD", "C3-USD"}
	if len(got) != 3 {
		t.Fatalf("got %d records, want 3", len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("symbols[%d] = %q, want %q (wire order)", i, got[i], want[i])
		}
	}

	mgr.RequestStop()
	<-done
}

func TestManager_MalformedFrameKeepsConnectionOpen(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{not json`))
		conn.WriteMessage(websocket.TextMessage, candleFrame("BTC-USD"))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	var mu sync.Mutex
	var errs int
	var records []model.CandleRecord

	mgr := NewManager(testManagerConfig(wsURL(server)), nil, nil)
	mgr.OnError = func(error) {
		mu.Lock()
		errs++
		mu.Unlock()
	}
	mgr.OnRecord = func(rec model.CandleRecord, _ time.Time) {
		mu.Lock()
		records = append(records, rec)
		mu.Unlock()
	}

	done := make(chan error, 1)
	go func() {
		done <- mgr.Run(context.Background(), Subscription{
			ProductIDs: []string{"BTC-USD"},
			Channels:   []string{"candles"},
		})
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(records)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if errs != 1 {
		t.Errorf("error count = %d, want 1 for the malformed frame", errs)
	}
	if len(records) != 1 || records[0].Symbol != "BTC-USD" {
		t.Fatalf("records = %+v, want the frame after the malformed one", records)
	}
	if mgr.State() != StateSubscribed {
		t.Errorf("State = %v, want Subscribed (connection stays open)", mgr.State())
	}

	mgr.RequestStop()
	<-done
}

func TestManager_InitialBackoffPolicy(t *testing.T) {
	var mu sync.Mutex
	var attempts []time.Time

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts = append(attempts, time.Now())
		n := len(attempts)
		mu.Unlock()

		// Two handshake failures, then accept.
		if n <= 2 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
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
	defer server.Close()

	mgr := NewManager(testManagerConfig(wsURL(server)), nil, nil)

	done := make(chan error, 1)
	go func() {
		done <- mgr.Run(context.Background(), Subscription{
			ProductIDs: []string{"BTC-USD"},
			Channels:   []string{"candles"},
		})
	}()

	waitForState(t, mgr, StateSubscribed)

	mu.Lock()
	got := append([]time.Time(nil), attempts...)
	mu.Unlock()

	if len(got) != 3 {
		t.Fatalf("got %d connect attempts, want exactly 3", len(got))
	}

	// Backoff doubles, so the delay before each retry is non-decreasing.
	firstGap := got[1].Sub(got[0])
	secondGap := got[2].Sub(got[1])
	if secondGap < firstGap {
		t.Errorf("retry delays decreased: %v then %v", firstGap, secondGap)
	}

	mgr.RequestStop()
	<-done
}

func TestManager_ConnectExhausted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := testManagerConfig(wsURL(server))
	cfg.MaxConnectAttempts = 2
	cfg.ReconnectBaseDelay = 10 * time.Millisecond

	var mu sync.Mutex
	var errs int

	mgr := NewManager(cfg, nil, nil)
	mgr.OnError = func(error) {
		mu.Lock()
		errs++
		mu.Unlock()
	}

	err := mgr.Run(context.Background(), Subscription{
		ProductIDs: []string{"BTC-USD"},
		Channels:   []string{"candles"},
	})

	if err != ErrConnectExhausted {
		t.Errorf("Run = %v, want ErrConnectExhausted", err)
	}
	if mgr.State() != StateClosed {
		t.Errorf("State = %v, want Closed after fatal exhaustion", mgr.State())
	}

	mu.Lock()
	defer mu.Unlock()
	if errs != 2 {
		t.Errorf("error count = %d, want one per failed attempt", errs)
	}
}

func TestManager_MidSessionReconnect(t *testing.T) {
	var mu sync.Mutex
	connCount := 0

	server := mockWSServer(t, func(conn *websocket.Conn) {
		mu.Lock()
		connCount++
		n := connCount
		mu.Unlock()

		if n == 1 {
			// Drop the first connection after one record.
			conn.WriteMessage(websocket.TextMessage, candleFrame("FIRST-USD"))
			time.Sleep(50 * time.Millisecond)
			return
		}

		conn.WriteMessage(websocket.TextMessage, candleFrame("SECOND-USD"))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	var recMu sync.Mutex
	var symbols []string

	mgr := NewManager(testManagerConfig(wsURL(server)), nil, nil)
	mgr.OnRecord = func(rec model.CandleRecord, _ time.Time) {
		recMu.Lock()
		symbols = append(symbols, rec.Symbol)
		recMu.Unlock()
	}

	done := make(chan error, 1)
	go func() {
		done <- mgr.Run(context.Background(), Subscription{
			ProductIDs: []string{"BTC-USD"},
			Channels:   []string{"candles"},
		})
	}()

	// The mid-session policy waits a fixed delay (clamped to >= 1s)
	// before redialing.
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		recMu.Lock()
		n := len(symbols)
		recMu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(25 * time.Millisecond)
	}

	recMu.Lock()
	got := append([]string(nil), symbols...)
	recMu.Unlock()

	if len(got) < 2 || got[0] != "FIRST-USD" || got[1] != "SECOND-USD" {
		t.Fatalf("symbols = %v, want records from both sessions", got)
	}

	mu.Lock()
	if connCount < 2 {
		t.Errorf("connCount = %d, want a reconnect", connCount)
	}
	mu.Unlock()

	mgr.RequestStop()
	if err := <-done; err != nil {
		t.Errorf("Run = %v, want nil", err)
	}
}

func TestManager_RunNotIdleIsNoOp(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	mgr := NewManager(testManagerConfig(wsURL(server)), nil, nil)
	sub := Subscription{ProductIDs: []string{"BTC-USD"}, Channels: []string{"candles"}}

	done := make(chan error, 1)
	go func() {
		done <- mgr.Run(context.Background(), sub)
	}()
	waitForState(t, mgr, StateSubscribed)

	// Second Run on a non-Idle manager returns immediately.
	if err := mgr.Run(context.Background(), sub); err != nil {
		t.Errorf("second Run = %v, want nil no-op", err)
	}

	mgr.RequestStop()
	<-done

	// Closed is terminal; Run cannot restart the manager.
	if err := mgr.Run(context.Background(), sub); err != nil {
		t.Errorf("Run after Closed = %v, want nil no-op", err)
	}
	if mgr.State() != StateClosed {
		t.Errorf("State = %v, want Closed", mgr.State())
	}
}

func TestManager_RequestStopIdempotent(t *testing.T) {
	mgr := NewManager(DefaultManagerConfig(), nil, nil)
	mgr.RequestStop()
	mgr.RequestStop()
	mgr.RequestStop()
}

func TestManager_CloseSocketIdempotent(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	mgr := NewManager(testManagerConfig(wsURL(server)), nil, nil)

	done := make(chan error, 1)
	go func() {
		done <- mgr.Run(context.Background(), Subscription{
			ProductIDs: []string{"BTC-USD"},
			Channels:   []string{"candles"},
		})
	}()
	waitForState(t, mgr, StateSubscribed)

	// Handle goes nil after the first close; the rest are no-ops.
	mgr.CloseSocket()
	mgr.CloseSocket()

	mgr.RequestStop()
	<-done
}

func TestShutdownSignal(t *testing.T) {
	sig := NewShutdownSignal()
	if sig.IsSet() {
		t.Error("new signal should not be set")
	}

	select {
	case <-sig.Done():
		t.Error("Done channel closed before Set")
	default:
	}

	sig.Set()
	sig.Set() // idempotent

	if !sig.IsSet() {
		t.Error("signal should be set")
	}
	select {
	case <-sig.Done():
	default:
		t.Error("Done channel should be closed after Set")
	}
}
