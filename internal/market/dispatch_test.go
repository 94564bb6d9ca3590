package market

import (
	"context"
	"errors"
	"strings"
	"testing"

	"galactic/internal/ledger"
)

func newDispatchEngine(t *testing.T) (*Engine, *ledger.Memory) {
	t.Helper()
	ctx := context.Background()
	store := ledger.NewMemory()
	if err := store.AddStock(ctx, "Quantum Nebula Mining", "QNM", 100); err != nil {
		t.Fatalf("add stock: %v", err)
	}
	if err := store.AddUser(ctx, 1, "ana", 1_000); err != nil {
		t.Fatalf("add user: %v", err)
	}
	e := newTestEngine(store, stepModel{})
	if err := e.Initialize(ctx, nil, nil); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return e, store
}

func TestDispatchBuyConfirmation(t *testing.T) {
	e, _ := newDispatchEngine(t)
	got := e.Dispatch(context.Background(), TopicBuy, Order{UserID: 1, Symbol: "qnm", Qty: 2})
	want := "ana bought 2 share(s) of QNM."
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestDispatchSellConfirmation(t *testing.T) {
	e, _ := newDispatchEngine(t)
	ctx := context.Background()
	if msg := e.Dispatch(ctx, TopicBuy, Order{UserID: 1, Symbol: "QNM", Qty: 3}); !strings.Contains(msg, "bought") {
		t.Fatalf("setup buy failed: %q", msg)
	}
	got := e.Dispatch(ctx, TopicSell, Order{UserID: 1, Symbol: "QNM", Qty: 3})
	want := "ana sold 3 share(s) of QNM."
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestDispatchOrderRejections(t *testing.T) {
	e, _ := newDispatchEngine(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		topic Topic
		msg   any
		want  string
	}{
		{
			name:  "non-positive quantity",
			topic: TopicBuy,
			msg:   Order{UserID: 1, Symbol: "QNM", Qty: 0},
			want:  "Quantity must be a positive whole number of shares.",
		},
		{
			name:  "unregistered user",
			topic: TopicBuy,
			msg:   Order{UserID: 404, Symbol: "QNM", Qty: 1},
			want:  "You are not registered in the game yet.",
		},
		{
			name:  "unknown symbol",
			topic: TopicBuy,
			msg:   Order{UserID: 1, Symbol: "nope", Qty: 1},
			want:  "No stock trades under the symbol NOPE.",
		},
		{
			name:  "insufficient funds",
			topic: TopicBuy,
			msg:   Order{UserID: 1, Symbol: "QNM", Qty: 9_999},
			want:  "You do not have enough cash for that order.",
		},
		{
			name:  "insufficient shares",
			topic: TopicSell,
			msg:   Order{UserID: 1, Symbol: "QNM", Qty: 50},
			want:  "You do not hold enough shares of QNM to sell.",
		},
		{
			name:  "malformed payload",
			topic: TopicBuy,
			msg:   "not an order",
			want:  "That buy request was malformed.",
		},
	}
	for _, tc := range tests {
		if got := e.Dispatch(ctx, tc.topic, tc.msg); got != tc.want {
			t.Fatalf("%s: got %q want %q", tc.name, got, tc.want)
		}
	}
}

func TestDispatchPortfolio(t *testing.T) {
	e, _ := newDispatchEngine(t)
	ctx := context.Background()
	e.Dispatch(ctx, TopicBuy, Order{UserID: 1, Symbol: "QNM", Qty: 2})

	got := e.Dispatch(ctx, TopicPortfolio, PortfolioQuery{UserID: 1})
	for _, frag := range []string{"ana", "QNM", "AVG PRICE"} {
		if !strings.Contains(got, frag) {
			t.Fatalf("portfolio output missing %q:\n%s", frag, got)
		}
	}

	got = e.Dispatch(ctx, TopicPortfolio, PortfolioQuery{UserID: 404})
	if got != "You are not registered in the game yet." {
		t.Fatalf("got %q", got)
	}
}

// portfolioDownStore fails direct portfolio lookups so tests can tell mirror
// hits apart from store reads.
type portfolioDownStore struct {
	ledger.Store
}

func (s portfolioDownStore) Portfolio(_ context.Context, _ int64) (ledger.UserSnapshot, error) {
	return ledger.UserSnapshot{}, errors.New("store offline")
}

func TestDispatchPortfolioServedFromMirror(t *testing.T) {
	ctx := context.Background()
	mem := ledger.NewMemory()
	if err := mem.AddUser(ctx, 1, "ana", 1_000); err != nil {
		t.Fatalf("add user: %v", err)
	}

	e := newTestEngine(portfolioDownStore{mem}, stepModel{})
	if err := e.Initialize(ctx, nil, nil); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	// Hydration loaded ana into the mirror; the query must succeed without a
	// per-user store read.
	got := e.Dispatch(ctx, TopicPortfolio, PortfolioQuery{UserID: 1})
	if !strings.Contains(got, "ana") {
		t.Fatalf("portfolio not served from mirror:\n%s", got)
	}
}

func TestDispatchLeaderboardAndStocks(t *testing.T) {
	e, _ := newDispatchEngine(t)
	ctx := context.Background()

	board := e.Dispatch(ctx, TopicLeaderboard, nil)
	for _, frag := range []string{"RANK", "PLAYER", "ana"} {
		if !strings.Contains(board, frag) {
			t.Fatalf("leaderboard missing %q:\n%s", frag, board)
		}
	}

	stocks := e.Dispatch(ctx, TopicAllStocks, nil)
	for _, frag := range []string{"SYMBOL", "QNM", "Quantum Nebula Mining"} {
		if !strings.Contains(stocks, frag) {
			t.Fatalf("stock overview missing %q:\n%s", frag, stocks)
		}
	}
}

func TestDispatchCompareStocks(t *testing.T) {
	e, store := newDispatchEngine(t)
	ctx := context.Background()
	if err := store.AddStock(ctx, "Galactic Mining", "GM", 40); err != nil {
		t.Fatalf("add stock: %v", err)
	}

	got := e.Dispatch(ctx, TopicCompareStocks, Compare{SymbolA: "qnm", SymbolB: "gm"})
	if !strings.Contains(got, "QNM (*) vs GM (o)") {
		t.Fatalf("chart header missing:\n%s", got)
	}

	got = e.Dispatch(ctx, TopicCompareStocks, Compare{SymbolA: "QNM", SymbolB: "NOPE"})
	if got != "No price history recorded for NOPE." {
		t.Fatalf("got %q", got)
	}
}

func TestDispatchNewUserRegisters(t *testing.T) {
	e, store := newDispatchEngine(t)
	ctx := context.Background()

	if got := e.Dispatch(ctx, TopicNewUser, NewMember{UserID: 7, Username: "zed"}); got != "" {
		t.Fatalf("new-user dispatch returned %q want empty", got)
	}
	ok, err := store.UserExists(ctx, 7)
	if err != nil || !ok {
		t.Fatalf("user not registered: ok=%v err=%v", ok, err)
	}
}

func TestDispatchUnknownTopic(t *testing.T) {
	e, _ := newDispatchEngine(t)
	if got := e.Dispatch(context.Background(), Topic("SHRUG"), nil); got != "" {
		t.Fatalf("got %q want empty", got)
	}
}
