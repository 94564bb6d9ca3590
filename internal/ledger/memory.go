package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Store with the same semantics as Postgres. It backs
// the test suite and galacticctl dry runs. All history is kept, snapshots are
// append-only, and a single mutex serializes writers the way row locks do in
// the durable store.
type Memory struct {
	mu sync.RWMutex

	// symbol -> company name, insertion guarded by nameIndex for idempotence.
	stockNames map[string]string
	nameIndex  map[string]string // company name -> symbol
	priceHist  map[string][]PricePoint

	usernames map[int64]string
	userHist  map[int64][]memSnapshot

	now func() time.Time
}

type memSnapshot struct {
	at       time.Time
	balance  float64
	cash     float64
	holdings Holdings
}

func NewMemory() *Memory {
	return &Memory{
		stockNames: make(map[string]string),
		nameIndex:  make(map[string]string),
		priceHist:  make(map[string][]PricePoint),
		usernames:  make(map[int64]string),
		userHist:   make(map[int64][]memSnapshot),
		now:        time.Now,
	}
}

// SetClock overrides the snapshot clock. Tests use it to place history inside
// or outside the trailing return window.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) AddStock(_ context.Context, name, symbol string, initialPrice float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.nameIndex[name]; ok {
		return nil
	}
	// Symbol derivation can degrade to a duplicate; widen with a numeric
	// suffix rather than refuse the listing.
	if _, taken := m.stockNames[symbol]; taken {
		base := symbol
		for i := 2; ; i++ {
			candidate := fmt.Sprintf("%s%d", base, i)
			if _, taken := m.stockNames[candidate]; !taken {
				symbol = candidate
				break
			}
		}
	}
	m.nameIndex[name] = symbol
	m.stockNames[symbol] = name
	m.priceHist[symbol] = append(m.priceHist[symbol], PricePoint{At: m.now(), Price: initialPrice})
	return nil
}

func (m *Memory) UpdateStockPrice(_ context.Context, symbol string, price float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stockNames[symbol]; !ok {
		return ErrUnknownSymbol
	}
	m.priceHist[symbol] = append(m.priceHist[symbol], PricePoint{At: m.now(), Price: price})
	return nil
}

func (m *Memory) LatestPrice(_ context.Context, symbol string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latestPriceLocked(symbol)
}

func (m *Memory) latestPriceLocked(symbol string) (float64, error) {
	hist := m.priceHist[symbol]
	if len(hist) == 0 {
		return 0, ErrUnknownSymbol
	}
	return hist[len(hist)-1].Price, nil
}

func (m *Memory) AddUser(_ context.Context, userID int64, username string, initialCash float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.usernames[userID]; ok {
		return nil
	}
	m.usernames[userID] = username
	m.userHist[userID] = append(m.userHist[userID], memSnapshot{
		at:       m.now(),
		balance:  initialCash,
		cash:     initialCash,
		holdings: Holdings{},
	})
	return nil
}

func (m *Memory) UserExists(_ context.Context, userID int64) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.usernames[userID]
	return ok, nil
}

func (m *Memory) Buy(_ context.Context, userID int64, symbol string, qty int64) (string, error) {
	return m.trade(userID, symbol, qty, applyBuy)
}

func (m *Memory) Sell(_ context.Context, userID int64, symbol string, qty int64) (string, error) {
	return m.trade(userID, symbol, qty, applySell)
}

func (m *Memory) trade(userID int64, symbol string, qty int64, apply func(Holdings, string, int64, float64, float64) (Holdings, float64, error)) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	username, ok := m.usernames[userID]
	if !ok {
		return "", ErrUnknownUser
	}
	price, err := m.latestPriceLocked(symbol)
	if err != nil {
		return "", err
	}
	last := m.userHist[userID][len(m.userHist[userID])-1]

	holdings, cash, err := apply(last.holdings, symbol, qty, price, last.cash)
	if err != nil {
		return "", err
	}
	value, err := marketValue(holdings, m.latestPriceLocked)
	if err != nil {
		return "", err
	}
	m.userHist[userID] = append(m.userHist[userID], memSnapshot{
		at:       m.now(),
		balance:  cash + value,
		cash:     cash,
		holdings: holdings,
	})
	return username, nil
}

func (m *Memory) Portfolio(_ context.Context, userID int64) (UserSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	username, ok := m.usernames[userID]
	if !ok {
		return UserSnapshot{}, ErrUnknownUser
	}
	last := m.userHist[userID][len(m.userHist[userID])-1]
	return UserSnapshot{
		UserID:   userID,
		Username: username,
		Balance:  last.balance,
		Cash:     last.cash,
		Holdings: last.holdings.clone(),
	}, nil
}

func (m *Memory) AllUsers(ctx context.Context) ([]UserSnapshot, error) {
	m.mu.RLock()
	ids := make([]int64, 0, len(m.usernames))
	for id := range m.usernames {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]UserSnapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := m.Portfolio(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func (m *Memory) AllStocks(_ context.Context) ([]StockQuote, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := m.now().Add(-ReturnWindow)
	out := make([]StockQuote, 0, len(m.stockNames))
	for symbol, name := range m.stockNames {
		hist := m.priceHist[symbol]
		latest := hist[len(hist)-1].Price
		out = append(out, StockQuote{
			Symbol:    symbol,
			Name:      name,
			Price:     latest,
			Return24h: windowReturn(latest, earliestSince(hist, cutoff)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (m *Memory) Leaderboard(_ context.Context, limit int) ([]LeaderboardRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := m.now().Add(-ReturnWindow)
	rows := make([]LeaderboardRow, 0, len(m.usernames))
	for id, username := range m.usernames {
		hist := m.userHist[id]
		latest := hist[len(hist)-1].balance
		rows = append(rows, LeaderboardRow{
			Username:  username,
			Balance:   latest,
			Return24h: windowReturn(latest, earliestBalanceSince(hist, cutoff)),
		})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Balance > rows[j].Balance })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows, nil
}

func (m *Memory) StockHistory(_ context.Context, symbol string) ([]PricePoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	hist := m.priceHist[symbol]
	if len(hist) == 0 {
		return nil, ErrNoHistory
	}
	out := make([]PricePoint, len(hist))
	copy(out, hist)
	return out, nil
}

func (m *Memory) Close() {}

func earliestSince(hist []PricePoint, cutoff time.Time) *float64 {
	for _, p := range hist {
		if !p.At.Before(cutoff) {
			v := p.Price
			return &v
		}
	}
	return nil
}

func earliestBalanceSince(hist []memSnapshot, cutoff time.Time) *float64 {
	for _, s := range hist {
		if !s.at.Before(cutoff) {
			v := s.balance
			return &v
		}
	}
	return nil
}
