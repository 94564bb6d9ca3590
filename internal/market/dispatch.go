package market

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"galactic/internal/ledger"
	"galactic/internal/metrics"
	"galactic/internal/render"
)

// Topic identifies an inbound command kind. The set is closed; Dispatch
// switches over it exhaustively.
type Topic string

const (
	TopicBuy           Topic = "BUY"
	TopicSell          Topic = "SELL"
	TopicPortfolio     Topic = "PORTFOLIO"
	TopicLeaderboard   Topic = "LEADERBOARD"
	TopicAllStocks     Topic = "ALL_STOCKS"
	TopicCompareStocks Topic = "COMPARE_STOCKS"
	TopicNewUser       Topic = "NEW_USER"
)

// Order is the message for TopicBuy and TopicSell.
type Order struct {
	UserID int64
	Symbol string
	Qty    int64
}

// Compare is the message for TopicCompareStocks.
type Compare struct {
	SymbolA string
	SymbolB string
}

// NewMember is the message for TopicNewUser.
type NewMember struct {
	UserID   int64
	Username string
}

// PortfolioQuery is the message for TopicPortfolio.
type PortfolioQuery struct {
	UserID int64
}

const leaderboardSize = 10

// Dispatch routes one inbound command to its handler and always returns a
// user-facing string. Business failures come back as short messages, never
// as errors: the chat platform expects something it can post.
func (e *Engine) Dispatch(ctx context.Context, topic Topic, msg any) string {
	switch topic {
	case TopicBuy:
		order, ok := msg.(Order)
		if !ok {
			return "That buy request was malformed."
		}
		return e.handleOrder(ctx, order, true)
	case TopicSell:
		order, ok := msg.(Order)
		if !ok {
			return "That sell request was malformed."
		}
		return e.handleOrder(ctx, order, false)
	case TopicPortfolio:
		q, ok := msg.(PortfolioQuery)
		if !ok {
			return "That portfolio request was malformed."
		}
		return e.handlePortfolio(ctx, q.UserID)
	case TopicLeaderboard:
		return e.handleLeaderboard(ctx)
	case TopicAllStocks:
		return e.handleAllStocks(ctx)
	case TopicCompareStocks:
		cmp, ok := msg.(Compare)
		if !ok {
			return "That comparison request was malformed."
		}
		return e.handleCompare(ctx, cmp)
	case TopicNewUser:
		member, ok := msg.(NewMember)
		if !ok {
			return ""
		}
		e.handleNewUser(ctx, member)
		return ""
	default:
		e.log.Error("unrecognized topic", "topic", string(topic))
		return ""
	}
}

func (e *Engine) handleOrder(ctx context.Context, order Order, buy bool) string {
	if order.Qty <= 0 {
		return "Quantity must be a positive whole number of shares."
	}
	symbol := strings.ToUpper(strings.TrimSpace(order.Symbol))
	start := time.Now()

	var username string
	var err error
	if buy {
		username, err = e.store.Buy(ctx, order.UserID, symbol, order.Qty)
	} else {
		username, err = e.store.Sell(ctx, order.UserID, symbol, order.Qty)
	}
	verb := "buy"
	if !buy {
		verb = "sell"
	}
	metrics.OrderDuration.WithLabelValues(verb).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.OrdersTotal.WithLabelValues(verb, "rejected").Inc()
		e.log.Error("order rejected", "side", verb, "user_id", order.UserID, "symbol", symbol, "qty", order.Qty, "err", err)
		return orderFailureMessage(err, symbol)
	}
	metrics.OrdersTotal.WithLabelValues(verb, "filled").Inc()

	e.refreshUser(ctx, order.UserID)
	if buy {
		return fmt.Sprintf("%s bought %d share(s) of %s.", username, order.Qty, symbol)
	}
	return fmt.Sprintf("%s sold %d share(s) of %s.", username, order.Qty, symbol)
}

func orderFailureMessage(err error, symbol string) string {
	switch {
	case errors.Is(err, ledger.ErrUnknownSymbol):
		return fmt.Sprintf("No stock trades under the symbol %s.", symbol)
	case errors.Is(err, ledger.ErrUnknownUser):
		return "You are not registered in the game yet."
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return "You do not have enough cash for that order."
	case errors.Is(err, ledger.ErrInsufficientShares):
		return fmt.Sprintf("You do not hold enough shares of %s to sell.", symbol)
	case errors.Is(err, ledger.ErrTxConflict):
		return "The market is busy, try that order again."
	default:
		return "Something went wrong executing that order."
	}
}

func (e *Engine) handlePortfolio(ctx context.Context, userID int64) string {
	if snap, ok := e.userMirror(userID); ok {
		return render.Portfolio(snap)
	}
	snap, err := e.store.Portfolio(ctx, userID)
	if err != nil {
		if errors.Is(err, ledger.ErrUnknownUser) {
			return "You are not registered in the game yet."
		}
		e.log.Error("portfolio lookup failed", "user_id", userID, "err", err)
		return "Something went wrong fetching your portfolio."
	}
	e.mu.Lock()
	e.users[userID] = snap
	e.mu.Unlock()
	return render.Portfolio(snap)
}

func (e *Engine) handleLeaderboard(ctx context.Context) string {
	rows, err := e.store.Leaderboard(ctx, leaderboardSize)
	if err != nil {
		e.log.Error("leaderboard failed", "err", err)
		return "Something went wrong building the leaderboard."
	}
	return render.Leaderboard(rows)
}

func (e *Engine) handleAllStocks(ctx context.Context) string {
	quotes, err := e.store.AllStocks(ctx)
	if err != nil {
		e.log.Error("stock overview failed", "err", err)
		return "Something went wrong fetching the market overview."
	}
	return render.Stocks(quotes)
}

func (e *Engine) handleCompare(ctx context.Context, cmp Compare) string {
	a := strings.ToUpper(strings.TrimSpace(cmp.SymbolA))
	b := strings.ToUpper(strings.TrimSpace(cmp.SymbolB))
	histA, err := e.store.StockHistory(ctx, a)
	if err != nil {
		return compareFailureMessage(err, a)
	}
	histB, err := e.store.StockHistory(ctx, b)
	if err != nil {
		return compareFailureMessage(err, b)
	}
	chart, err := render.CompareChart(a, b, histA, histB)
	if err != nil {
		e.log.Error("chart render failed", "a", a, "b", b, "err", err)
		return "Something went wrong rendering that comparison."
	}
	return chart
}

func compareFailureMessage(err error, symbol string) string {
	if errors.Is(err, ledger.ErrNoHistory) || errors.Is(err, ledger.ErrUnknownSymbol) {
		return fmt.Sprintf("No price history recorded for %s.", symbol)
	}
	return "Something went wrong fetching price history."
}

func (e *Engine) handleNewUser(ctx context.Context, member NewMember) {
	if err := e.store.AddUser(ctx, member.UserID, member.Username, e.startingCash); err != nil {
		e.log.Error("new user registration failed", "user_id", member.UserID, "err", err)
		return
	}
	e.refreshUser(ctx, member.UserID)
	e.log.Info("registered new player", "user_id", member.UserID, "username", member.Username)
}
