// Package market owns the running game: the in-memory mirror of stocks and
// users, the periodic price-update loop, and the topic dispatch that turns
// chat commands into ledger transactions.
package market

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"

	"galactic/internal/ledger"
	"galactic/internal/metrics"
	"galactic/internal/ticker"
)

// State is the engine lifecycle. Initialization runs exactly once.
type State int

const (
	Uninitialized State = iota
	Initializing
	Running
)

const (
	DefaultTickEvery    = 30 * time.Second
	DefaultStartingCash = 100000.0

	initialPriceMin = 10.0
	initialPriceMax = 1000.0
)

// Options configures an Engine. Zero values fall back to defaults.
type Options struct {
	TickEvery    time.Duration
	StartingCash float64
	SymbolMaxLen int
	Seed         int64
}

// Engine is the market state machine. All exported methods are safe for
// concurrent use; the stock/user mirrors are guarded by mu because the price
// loop and command handlers run on different goroutines.
type Engine struct {
	store ledger.Store
	model Model
	log   *slog.Logger

	tickEvery    time.Duration
	startingCash float64
	symbolMaxLen int

	// OnPriceUpdate, when set before Run, is invoked after each persisted
	// price change. Used to fan out to caches, metrics, and stream hubs.
	OnPriceUpdate func(symbol string, price float64)

	mu     sync.RWMutex
	state  State
	stocks map[string]ledger.StockQuote
	users  map[int64]ledger.UserSnapshot
	rand   *rand.Rand
}

func NewEngine(store ledger.Store, model Model, logger *slog.Logger, opts Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.TickEvery <= 0 {
		opts.TickEvery = DefaultTickEvery
	}
	if opts.StartingCash <= 0 {
		opts.StartingCash = DefaultStartingCash
	}
	if opts.SymbolMaxLen <= 0 {
		opts.SymbolMaxLen = ticker.DefaultMaxLen
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	return &Engine{
		store:        store,
		model:        model,
		log:          logger,
		tickEvery:    opts.TickEvery,
		startingCash: opts.StartingCash,
		symbolMaxLen: opts.SymbolMaxLen,
		stocks:       make(map[string]ledger.StockQuote),
		users:        make(map[int64]ledger.UserSnapshot),
		rand:         rand.New(rand.NewSource(opts.Seed)),
	}
}

func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Initialize registers every known member, lists every company name on the
// exchange, and hydrates the in-memory mirrors from the ledger's latest
// snapshots. It runs exactly once; later calls fail.
//
// Both members and names may be nil, in which case only hydration happens —
// galacticctl uses that to operate on an already-seeded ledger.
func (e *Engine) Initialize(ctx context.Context, members map[int64]string, names []string) error {
	e.mu.Lock()
	if e.state != Uninitialized {
		e.mu.Unlock()
		return fmt.Errorf("engine already initialized")
	}
	e.state = Initializing
	e.mu.Unlock()

	memberIDs := make([]int64, 0, len(members))
	for id := range members {
		memberIDs = append(memberIDs, id)
	}
	sort.Slice(memberIDs, func(i, j int) bool { return memberIDs[i] < memberIDs[j] })
	for _, id := range memberIDs {
		exists, err := e.store.UserExists(ctx, id)
		if err != nil {
			return fmt.Errorf("check user %d: %w", id, err)
		}
		if exists {
			continue
		}
		if err := e.store.AddUser(ctx, id, members[id], e.startingCash); err != nil {
			return fmt.Errorf("add user %d: %w", id, err)
		}
		e.log.Info("registered new player", "user_id", id, "username", members[id])
	}

	symbols := ticker.Generate(names, e.symbolMaxLen)
	listed := make([]string, 0, len(symbols))
	for name := range symbols {
		listed = append(listed, name)
	}
	sort.Strings(listed)
	for _, name := range listed {
		price := initialPriceMin + e.nextFloat()*(initialPriceMax-initialPriceMin)
		if err := e.store.AddStock(ctx, name, symbols[name], price); err != nil {
			return fmt.Errorf("add stock %q: %w", name, err)
		}
	}

	if err := e.hydrate(ctx); err != nil {
		return err
	}

	e.mu.Lock()
	e.state = Running
	stocks, users := len(e.stocks), len(e.users)
	e.mu.Unlock()
	e.log.Info("game initialized", "stocks", stocks, "users", users)
	return nil
}

func (e *Engine) hydrate(ctx context.Context) error {
	quotes, err := e.store.AllStocks(ctx)
	if err != nil {
		return fmt.Errorf("load stocks: %w", err)
	}
	snaps, err := e.store.AllUsers(ctx)
	if err != nil {
		return fmt.Errorf("load users: %w", err)
	}
	e.mu.Lock()
	for _, q := range quotes {
		e.stocks[q.Symbol] = q
	}
	for _, s := range snaps {
		e.users[s.UserID] = s
	}
	e.mu.Unlock()
	return nil
}

// Run drives the periodic price-update cycle until ctx is cancelled. A
// failing tick is logged and the loop keeps going; it never takes down
// request handling.
func (e *Engine) Run(ctx context.Context) error {
	if e.State() != Running {
		return fmt.Errorf("engine not initialized")
	}
	t := time.NewTicker(e.tickEvery)
	defer t.Stop()

	e.log.Info("price loop started", "tick_every", e.tickEvery.String())
	for {
		select {
		case <-ctx.Done():
			e.log.Info("price loop stopped")
			return ctx.Err()
		case <-t.C:
			if err := e.Tick(ctx); err != nil {
				e.log.Error("market tick failed", "err", err)
			}
		}
	}
}

// Tick recomputes every stock's price once and persists each change before
// mirroring it. Per-stock failures are logged and skipped so one bad symbol
// cannot stall the rest of the market.
func (e *Engine) Tick(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.TicksTotal.Inc()
		metrics.TickDuration.Observe(time.Since(start).Seconds())
	}()

	e.mu.RLock()
	quotes := make([]ledger.StockQuote, 0, len(e.stocks))
	for _, q := range e.stocks {
		quotes = append(quotes, q)
	}
	e.mu.RUnlock()
	sort.Slice(quotes, func(i, j int) bool { return quotes[i].Symbol < quotes[j].Symbol })

	var failed int
	for _, q := range quotes {
		next := e.model.Next(q.Price)
		if err := e.store.UpdateStockPrice(ctx, q.Symbol, next); err != nil {
			failed++
			e.log.Error("price update failed", "symbol", q.Symbol, "err", err)
			continue
		}
		metrics.PriceUpdatesTotal.Inc()
		e.mu.Lock()
		q.Price = next
		e.stocks[q.Symbol] = q
		e.mu.Unlock()
		if e.OnPriceUpdate != nil {
			e.OnPriceUpdate(q.Symbol, next)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d price updates failed", failed, len(quotes))
	}
	return nil
}

// Stocks returns the in-memory market mirror sorted by symbol.
func (e *Engine) Stocks() []ledger.StockQuote {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]ledger.StockQuote, 0, len(e.stocks))
	for _, q := range e.stocks {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// userMirror returns the in-memory snapshot for a user, when one is loaded.
// The mirror is kept current by hydrate, refreshUser after every trade, and
// new-player registration, so a hit is as fresh as the store's latest row.
func (e *Engine) userMirror(userID int64) (ledger.UserSnapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snap, ok := e.users[userID]
	return snap, ok
}

func (e *Engine) refreshUser(ctx context.Context, userID int64) {
	snap, err := e.store.Portfolio(ctx, userID)
	if err != nil {
		e.log.Error("user refresh failed", "user_id", userID, "err", err)
		return
	}
	e.mu.Lock()
	e.users[userID] = snap
	e.mu.Unlock()
}

func (e *Engine) nextFloat() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rand.Float64()
}
