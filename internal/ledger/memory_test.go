package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMemoryTradingRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.AddStock(ctx, "Apple Orchards", "AAPL", 50.00); err != nil {
		t.Fatalf("add stock: %v", err)
	}
	if err := m.AddStock(ctx, "Tesla Coils", "TSLA", 100.25); err != nil {
		t.Fatalf("add stock: %v", err)
	}
	if err := m.AddUser(ctx, 1, "ana", 100_000); err != nil {
		t.Fatalf("add user: %v", err)
	}

	if _, err := m.Buy(ctx, 1, "AAPL", 10); err != nil {
		t.Fatalf("buy AAPL: %v", err)
	}
	snap, err := m.Portfolio(ctx, 1)
	if err != nil {
		t.Fatalf("portfolio: %v", err)
	}
	if !almostEqual(snap.Cash, 99_500) {
		t.Fatalf("cash=%v want 99500", snap.Cash)
	}
	if !almostEqual(snap.Balance, 100_000) {
		t.Fatalf("balance=%v want 100000 (price unchanged)", snap.Balance)
	}

	if _, err := m.Buy(ctx, 1, "TSLA", 5); err != nil {
		t.Fatalf("buy TSLA: %v", err)
	}
	snap, _ = m.Portfolio(ctx, 1)
	if !almostEqual(snap.Cash, 98_998.75) {
		t.Fatalf("cash=%v want 98998.75", snap.Cash)
	}

	username, err := m.Sell(ctx, 1, "AAPL", 6)
	if err != nil {
		t.Fatalf("sell AAPL: %v", err)
	}
	if username != "ana" {
		t.Fatalf("username=%q want ana", username)
	}
	snap, _ = m.Portfolio(ctx, 1)
	if !almostEqual(snap.Cash, 99_298.75) {
		t.Fatalf("cash=%v want 99298.75", snap.Cash)
	}
	if pos := snap.Holdings["AAPL"]; pos.Quantity != 4 || !almostEqual(pos.AveragePrice, 50) {
		t.Fatalf("AAPL pos=%+v want qty=4 avg=50", pos)
	}
	if pos := snap.Holdings["TSLA"]; pos.Quantity != 5 || !almostEqual(pos.AveragePrice, 100.25) {
		t.Fatalf("TSLA pos=%+v want qty=5 avg=100.25", pos)
	}
}

func TestMemoryRejectedTradeLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.AddStock(ctx, "Apple Orchards", "AAPL", 50); err != nil {
		t.Fatalf("add stock: %v", err)
	}

	if _, err := m.Sell(ctx, 404, "AAPL", 1); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("got %v want ErrUnknownUser", err)
	}
	if _, err := m.Portfolio(ctx, 404); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("rejected trade created a user: %v", err)
	}

	if err := m.AddUser(ctx, 1, "ana", 100); err != nil {
		t.Fatalf("add user: %v", err)
	}
	if _, err := m.Buy(ctx, 1, "AAPL", 100); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("got %v want ErrInsufficientFunds", err)
	}
	if _, err := m.Buy(ctx, 1, "NOPE", 1); !errors.Is(err, ErrUnknownSymbol) {
		t.Fatalf("got %v want ErrUnknownSymbol", err)
	}
	snap, _ := m.Portfolio(ctx, 1)
	if !almostEqual(snap.Cash, 100) || len(snap.Holdings) != 0 {
		t.Fatalf("state changed by rejected trades: %+v", snap)
	}
}

func TestMemoryIdempotentRegistration(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.AddUser(ctx, 1, "ana", 100_000); err != nil {
		t.Fatalf("add user: %v", err)
	}
	if err := m.AddUser(ctx, 1, "impostor", 5); err != nil {
		t.Fatalf("re-add user: %v", err)
	}
	snap, _ := m.Portfolio(ctx, 1)
	if snap.Username != "ana" || !almostEqual(snap.Cash, 100_000) {
		t.Fatalf("re-registration changed user: %+v", snap)
	}

	if err := m.AddStock(ctx, "Apple Orchards", "AAPL", 50); err != nil {
		t.Fatalf("add stock: %v", err)
	}
	if err := m.AddStock(ctx, "Apple Orchards", "APLO", 9_999); err != nil {
		t.Fatalf("re-add stock: %v", err)
	}
	quotes, _ := m.AllStocks(ctx)
	if len(quotes) != 1 {
		t.Fatalf("got %d stocks want 1", len(quotes))
	}
	if quotes[0].Symbol != "AAPL" || !almostEqual(quotes[0].Price, 50) {
		t.Fatalf("re-listing changed stock: %+v", quotes[0])
	}
}

func TestMemoryWidensDuplicateSymbols(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.AddStock(ctx, "Acme Corp", "AC", 10); err != nil {
		t.Fatalf("add stock: %v", err)
	}
	if err := m.AddStock(ctx, "Arc Co", "AC", 20); err != nil {
		t.Fatalf("add stock with duplicate symbol: %v", err)
	}

	quotes, err := m.AllStocks(ctx)
	if err != nil {
		t.Fatalf("all stocks: %v", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("got %d stocks want 2", len(quotes))
	}
	if quotes[0].Symbol != "AC" || quotes[1].Symbol != "AC2" {
		t.Fatalf("symbols %q/%q want AC/AC2", quotes[0].Symbol, quotes[1].Symbol)
	}
	price, err := m.LatestPrice(ctx, "AC2")
	if err != nil || !almostEqual(price, 20) {
		t.Fatalf("AC2 price=%v err=%v want 20", price, err)
	}
}

func TestMemoryTrailingReturnWindow(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	m.SetClock(func() time.Time { return now })

	if err := m.AddStock(ctx, "Apple Orchards", "AAPL", 80); err != nil {
		t.Fatalf("add stock: %v", err)
	}
	now = t0.Add(2 * time.Hour)
	if err := m.UpdateStockPrice(ctx, "AAPL", 100); err != nil {
		t.Fatalf("update price: %v", err)
	}
	now = t0.Add(25 * time.Hour)
	if err := m.UpdateStockPrice(ctx, "AAPL", 110); err != nil {
		t.Fatalf("update price: %v", err)
	}

	// The 80 snapshot is older than 24h; the window opens at the 100 one.
	quotes, err := m.AllStocks(ctx)
	if err != nil {
		t.Fatalf("all stocks: %v", err)
	}
	if !almostEqual(quotes[0].Return24h, 10) {
		t.Fatalf("return=%v want 10", quotes[0].Return24h)
	}
}

func TestMemoryReturnZeroWithoutWindowData(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	m.SetClock(func() time.Time { return now })

	if err := m.AddStock(ctx, "Apple Orchards", "AAPL", 80); err != nil {
		t.Fatalf("add stock: %v", err)
	}
	// Jump the clock so the only snapshot falls outside the window.
	now = t0.Add(48 * time.Hour)

	quotes, _ := m.AllStocks(ctx)
	if quotes[0].Return24h != 0 {
		t.Fatalf("return=%v want 0 when no snapshot is inside the window", quotes[0].Return24h)
	}
}

func TestMemoryLeaderboardOrdering(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.AddStock(ctx, "Apple Orchards", "AAPL", 100); err != nil {
		t.Fatalf("add stock: %v", err)
	}
	for id, name := range map[int64]string{1: "ana", 2: "bo", 3: "cy"} {
		if err := m.AddUser(ctx, id, name, 1_000); err != nil {
			t.Fatalf("add user: %v", err)
		}
	}

	// bo buys, then the price doubles: bo's balance pulls ahead.
	if _, err := m.Buy(ctx, 2, "AAPL", 5); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if err := m.UpdateStockPrice(ctx, "AAPL", 200); err != nil {
		t.Fatalf("update price: %v", err)
	}
	// A later trade reprices bo's snapshot at the new level.
	if _, err := m.Sell(ctx, 2, "AAPL", 1); err != nil {
		t.Fatalf("sell: %v", err)
	}

	rows, err := m.Leaderboard(ctx, 2)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows want 2", len(rows))
	}
	if rows[0].Username != "bo" || rows[0].Rank != 1 {
		t.Fatalf("top row %+v want bo at rank 1", rows[0])
	}
	if !almostEqual(rows[0].Balance, 1_500) {
		t.Fatalf("balance=%v want 1500", rows[0].Balance)
	}
}

func TestMemoryConcurrentBuysSerialize(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if err := m.AddStock(ctx, "Apple Orchards", "AAPL", 10); err != nil {
		t.Fatalf("add stock: %v", err)
	}
	if err := m.AddUser(ctx, 1, "ana", 10_000); err != nil {
		t.Fatalf("add user: %v", err)
	}

	// N concurrent one-share buys must land exactly like N serial ones: no
	// lost updates on cash or quantity.
	const buyers = 50
	var wg sync.WaitGroup
	errs := make(chan error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Buy(ctx, 1, "AAPL", 1)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("buy: %v", err)
		}
	}

	snap, err := m.Portfolio(ctx, 1)
	if err != nil {
		t.Fatalf("portfolio: %v", err)
	}
	if !almostEqual(snap.Cash, 10_000-buyers*10) {
		t.Fatalf("cash=%v want %v", snap.Cash, 10_000-buyers*10)
	}
	pos := snap.Holdings["AAPL"]
	if pos.Quantity != buyers || !almostEqual(pos.AveragePrice, 10) {
		t.Fatalf("pos=%+v want qty=%d avg=10", pos, buyers)
	}
}

func TestMemoryStockHistory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	if _, err := m.StockHistory(ctx, "AAPL"); !errors.Is(err, ErrNoHistory) {
		t.Fatalf("got %v want ErrNoHistory", err)
	}

	if err := m.AddStock(ctx, "Apple Orchards", "AAPL", 50); err != nil {
		t.Fatalf("add stock: %v", err)
	}
	if err := m.UpdateStockPrice(ctx, "AAPL", 60); err != nil {
		t.Fatalf("update price: %v", err)
	}
	hist, err := m.StockHistory(ctx, "AAPL")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 || !almostEqual(hist[0].Price, 50) || !almostEqual(hist[1].Price, 60) {
		t.Fatalf("history %+v want [50 60]", hist)
	}
}
