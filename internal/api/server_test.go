package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"galactic/internal/config"
	"galactic/internal/ledger"
)

func newTestServer(t *testing.T) (*Server, *ledger.Memory) {
	t.Helper()
	store := ledger.NewMemory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewHub(logger)
	go hub.Run()
	return New(config.Config{}, logger, store, nil, hub), store
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rec.Code)
	}
}

func TestStocksEndpoint(t *testing.T) {
	s, store := newTestServer(t)
	ctx := context.Background()
	if err := store.AddStock(ctx, "Acme Labs", "ACME", 50); err != nil {
		t.Fatalf("add stock: %v", err)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stocks", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d want 200: %s", rec.Code, rec.Body.String())
	}

	var payload struct {
		Stocks []ledger.StockQuote `json:"stocks"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Stocks) != 1 || payload.Stocks[0].Symbol != "ACME" {
		t.Fatalf("payload %+v want one ACME quote", payload.Stocks)
	}
}

func TestStockHistoryNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stocks/NOPE/history", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d want 404", rec.Code)
	}
}

func TestPortfolioEndpoint(t *testing.T) {
	s, store := newTestServer(t)
	ctx := context.Background()
	if err := store.AddUser(ctx, 1, "ana", 1_000); err != nil {
		t.Fatalf("add user: %v", err)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/users/1/portfolio", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d want 200: %s", rec.Code, rec.Body.String())
	}
	var snap ledger.UserSnapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Username != "ana" || snap.Cash != 1_000 {
		t.Fatalf("snapshot %+v", snap)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/users/404/portfolio", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown user status=%d want 404", rec.Code)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/users/abc/portfolio", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status=%d want 400", rec.Code)
	}
}

func TestStreamEndpointDeliversPriceEvents(t *testing.T) {
	s, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	// The upgrade must succeed through the full middleware stack, metrics
	// instrumentation included.
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial: %v (status=%d)", err, status)
	}
	defer conn.Close()

	// Registration races the first broadcast, so keep broadcasting until the
	// client sees an event.
	done := make(chan struct{})
	defer close(done)
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				s.hub.Broadcast(PriceEvent{Symbol: "ACME", Price: 51.5, At: time.Now().UTC().Format(time.RFC3339)})
			}
		}
	}()

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev PriceEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if ev.Symbol != "ACME" || ev.Price != 51.5 {
		t.Fatalf("event %+v", ev)
	}
}

func TestLeaderboardEndpoint(t *testing.T) {
	s, store := newTestServer(t)
	ctx := context.Background()
	if err := store.AddUser(ctx, 1, "ana", 1_000); err != nil {
		t.Fatalf("add user: %v", err)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/leaderboard", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rec.Code)
	}
	var payload struct {
		Leaderboard []ledger.LeaderboardRow `json:"leaderboard"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(payload.Leaderboard) != 1 || payload.Leaderboard[0].Rank != 1 {
		t.Fatalf("payload %+v", payload.Leaderboard)
	}
}
