// Package ledger is the durable book of record for the game: stocks with
// their append-only price history, and users with their append-only
// balance/portfolio history. "Latest" always means max timestamp per key.
package ledger

import (
	"context"
	"errors"
	"time"
)

const (
	// MinPrice is the hard floor for any persisted stock price.
	MinPrice = 0.01

	// ReturnWindow is the trailing window used for the "24h return" columns.
	ReturnWindow = 24 * time.Hour
)

var (
	ErrUnknownSymbol      = errors.New("unknown stock symbol")
	ErrUnknownUser        = errors.New("unknown user")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientShares = errors.New("insufficient shares")
	ErrNoHistory          = errors.New("no price history")
	ErrTxConflict         = errors.New("transaction conflict, retry")
)

// Position is one holding inside a user's portfolio. Quantity is always a
// positive integer; a position with quantity 0 is removed, never stored.
type Position struct {
	Quantity     int64   `json:"quantity"`
	AveragePrice float64 `json:"average_price"`
}

// Holdings maps stock symbol to position.
type Holdings map[string]Position

// UserSnapshot is the latest persisted state of one user.
// Balance = Cash + market value of all holdings at snapshot time.
type UserSnapshot struct {
	UserID   int64    `json:"user_id"`
	Username string   `json:"username"`
	Balance  float64  `json:"balance"`
	Cash     float64  `json:"cash"`
	Holdings Holdings `json:"holdings"`
}

// StockQuote is one row of the market overview.
type StockQuote struct {
	Symbol    string  `json:"symbol"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Return24h float64 `json:"return_24h"`
}

// LeaderboardRow is one row of the balance leaderboard.
type LeaderboardRow struct {
	Rank      int     `json:"rank"`
	Username  string  `json:"username"`
	Balance   float64 `json:"balance"`
	Return24h float64 `json:"return_24h"`
}

// PricePoint is one entry of a stock's price history.
type PricePoint struct {
	At    time.Time `json:"at"`
	Price float64   `json:"price"`
}

// Store is the transactional surface the market engine runs against.
// Buy and Sell are atomic: they either append exactly one new user snapshot
// or leave the ledger untouched and return one of the sentinel errors above.
type Store interface {
	// AddStock registers a stock. Idempotent by company name: if a stock
	// with that name is already on record nothing changes.
	AddStock(ctx context.Context, name, symbol string, initialPrice float64) error

	// UpdateStockPrice appends a new price snapshot for the symbol.
	UpdateStockPrice(ctx context.Context, symbol string, price float64) error

	// LatestPrice returns the most recent price snapshot for the symbol.
	LatestPrice(ctx context.Context, symbol string) (float64, error)

	// AddUser registers a user with a starting cash balance and an empty
	// portfolio. Idempotent by user id.
	AddUser(ctx context.Context, userID int64, username string, initialCash float64) error

	UserExists(ctx context.Context, userID int64) (bool, error)

	// Buy purchases qty shares at the latest price, returning the username.
	Buy(ctx context.Context, userID int64, symbol string, qty int64) (string, error)

	// Sell disposes qty shares at the latest price, returning the username.
	Sell(ctx context.Context, userID int64, symbol string, qty int64) (string, error)

	// Portfolio returns the latest snapshot for one user.
	Portfolio(ctx context.Context, userID int64) (UserSnapshot, error)

	// AllUsers returns the latest snapshot of every user.
	AllUsers(ctx context.Context) ([]UserSnapshot, error)

	// AllStocks returns the latest quote of every stock with its trailing
	// 24h return, sorted by symbol.
	AllStocks(ctx context.Context) ([]StockQuote, error)

	// Leaderboard returns up to limit users sorted by balance descending.
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error)

	// StockHistory returns the full price series for a symbol ascending by
	// time. ErrNoHistory when the symbol has no snapshots.
	StockHistory(ctx context.Context, symbol string) ([]PricePoint, error)

	Close()
}

// windowReturn computes the percentage return of latest against the earliest
// value inside the trailing window. Returns 0.0 when there is no reference
// value in the window, which deliberately conflates "no data" with "flat".
func windowReturn(latest float64, earliest *float64) float64 {
	if earliest == nil || *earliest == 0 {
		return 0.0
	}
	return (latest - *earliest) / *earliest * 100
}
