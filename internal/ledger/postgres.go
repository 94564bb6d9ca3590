package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Store on top of a pgx pool. Every trade runs inside a
// serializable transaction that locks the user row, so the read-latest /
// compute / append sequence cannot lose updates under concurrent writers.
type Postgres struct {
	db  *pgxpool.Pool
	log *slog.Logger
}

func NewPostgres(db *pgxpool.Pool, logger *slog.Logger) *Postgres {
	if logger == nil {
		logger = slog.Default()
	}
	return &Postgres{db: db, log: logger}
}

func (s *Postgres) Close() {
	s.db.Close()
}

func (s *Postgres) AddStock(ctx context.Context, name, symbol string, initialPrice float64) error {
	// Symbol derivation can degrade to a duplicate; the unique index turns
	// that into a conflict, which we resolve by widening with a numeric
	// suffix rather than failing the listing.
	candidate := symbol
	for attempt := 2; ; attempt++ {
		err := s.addStockOnce(ctx, name, candidate, initialPrice)
		if err == nil {
			if candidate != symbol {
				s.log.Warn("symbol already listed, widened", "name", name, "symbol", candidate)
			}
			return nil
		}
		if !isSymbolConflict(err) || attempt > 9 {
			return err
		}
		candidate = fmt.Sprintf("%s%d", symbol, attempt)
	}
}

func (s *Postgres) addStockOnce(ctx context.Context, name, symbol string, initialPrice float64) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var stockID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO stocks (symbol, name)
		VALUES ($1, $2)
		ON CONFLICT (name) DO NOTHING
		RETURNING id
	`, symbol, name).Scan(&stockID)
	if err == pgx.ErrNoRows {
		// Name already on record; keep its existing symbol and history.
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO stock_history (stock_id, price, volume)
		VALUES ($1, $2, 0)
	`, stockID, initialPrice); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Postgres) UpdateStockPrice(ctx context.Context, symbol string, price float64) error {
	cmd, err := s.db.Exec(ctx, `
		INSERT INTO stock_history (stock_id, price, volume)
		SELECT id, $2, 0 FROM stocks WHERE symbol = $1
	`, symbol, price)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrUnknownSymbol
	}
	return nil
}

func (s *Postgres) LatestPrice(ctx context.Context, symbol string) (float64, error) {
	var price float64
	err := s.db.QueryRow(ctx, `
		SELECT sh.price
		FROM stock_history sh
		JOIN stocks st ON st.id = sh.stock_id
		WHERE st.symbol = $1
		ORDER BY sh.ts DESC
		LIMIT 1
	`, symbol).Scan(&price)
	if err == pgx.ErrNoRows {
		return 0, ErrUnknownSymbol
	}
	return price, err
}

func (s *Postgres) AddUser(ctx context.Context, userID int64, username string, initialCash float64) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	cmd, err := tx.Exec(ctx, `
		INSERT INTO users (user_id, username)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, username)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return nil
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO user_history (tx_id, user_id, balance, cash, portfolio)
		VALUES ($1, $2, $3, $3, '{}'::jsonb)
	`, uuid.NewString(), userID, initialCash); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Postgres) UserExists(ctx context.Context, userID int64) (bool, error) {
	var one int
	err := s.db.QueryRow(ctx, `SELECT 1 FROM users WHERE user_id = $1`, userID).Scan(&one)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (s *Postgres) Buy(ctx context.Context, userID int64, symbol string, qty int64) (string, error) {
	return s.trade(ctx, userID, symbol, qty, applyBuy)
}

func (s *Postgres) Sell(ctx context.Context, userID int64, symbol string, qty int64) (string, error) {
	return s.trade(ctx, userID, symbol, qty, applySell)
}

func (s *Postgres) trade(ctx context.Context, userID int64, symbol string, qty int64, apply func(Holdings, string, int64, float64, float64) (Holdings, float64, error)) (string, error) {
	const maxAttempts = 8
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		username, err := s.tradeOnce(ctx, userID, symbol, qty, apply)
		if err == nil {
			return username, nil
		}
		if !isSerializationError(err) {
			return "", err
		}
		if attempt == maxAttempts-1 {
			return "", ErrTxConflict
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return "", err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}
	return "", ErrTxConflict
}

func (s *Postgres) tradeOnce(ctx context.Context, userID int64, symbol string, qty int64, apply func(Holdings, string, int64, float64, float64) (Holdings, float64, error)) (string, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	var username string
	if err := tx.QueryRow(ctx, `
		SELECT username FROM users WHERE user_id = $1 FOR UPDATE
	`, userID).Scan(&username); err != nil {
		if err == pgx.ErrNoRows {
			return "", ErrUnknownUser
		}
		return "", err
	}

	price, err := latestPriceTx(ctx, tx, symbol)
	if err != nil {
		return "", err
	}

	var cash float64
	var portfolioJSON []byte
	if err := tx.QueryRow(ctx, `
		SELECT cash, portfolio
		FROM user_history
		WHERE user_id = $1
		ORDER BY ts DESC
		LIMIT 1
	`, userID).Scan(&cash, &portfolioJSON); err != nil {
		if err == pgx.ErrNoRows {
			return "", ErrUnknownUser
		}
		return "", err
	}
	holdings := Holdings{}
	if len(portfolioJSON) > 0 {
		if err := json.Unmarshal(portfolioJSON, &holdings); err != nil {
			return "", err
		}
	}

	holdings, cash, err = apply(holdings, symbol, qty, price, cash)
	if err != nil {
		return "", err
	}
	value, err := marketValue(holdings, func(sym string) (float64, error) {
		return latestPriceTx(ctx, tx, sym)
	})
	if err != nil {
		return "", err
	}

	raw, err := json.Marshal(holdings)
	if err != nil {
		return "", err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO user_history (tx_id, user_id, balance, cash, portfolio)
		VALUES ($1, $2, $3, $4, $5::jsonb)
	`, uuid.NewString(), userID, cash+value, cash, string(raw)); err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	return username, nil
}

func latestPriceTx(ctx context.Context, tx pgx.Tx, symbol string) (float64, error) {
	var price float64
	err := tx.QueryRow(ctx, `
		SELECT sh.price
		FROM stock_history sh
		JOIN stocks st ON st.id = sh.stock_id
		WHERE st.symbol = $1
		ORDER BY sh.ts DESC
		LIMIT 1
	`, symbol).Scan(&price)
	if err == pgx.ErrNoRows {
		return 0, ErrUnknownSymbol
	}
	return price, err
}

func (s *Postgres) Portfolio(ctx context.Context, userID int64) (UserSnapshot, error) {
	var out UserSnapshot
	var portfolioJSON []byte
	err := s.db.QueryRow(ctx, `
		SELECT u.user_id, u.username, uh.balance, uh.cash, uh.portfolio
		FROM users u
		JOIN LATERAL (
			SELECT balance, cash, portfolio
			FROM user_history
			WHERE user_id = u.user_id
			ORDER BY ts DESC
			LIMIT 1
		) uh ON true
		WHERE u.user_id = $1
	`, userID).Scan(&out.UserID, &out.Username, &out.Balance, &out.Cash, &portfolioJSON)
	if err == pgx.ErrNoRows {
		return out, ErrUnknownUser
	}
	if err != nil {
		return out, err
	}
	out.Holdings = Holdings{}
	if len(portfolioJSON) > 0 {
		if err := json.Unmarshal(portfolioJSON, &out.Holdings); err != nil {
			return out, err
		}
	}
	return out, nil
}

func (s *Postgres) AllUsers(ctx context.Context) ([]UserSnapshot, error) {
	rows, err := s.db.Query(ctx, `
		SELECT u.user_id, u.username, uh.balance, uh.cash, uh.portfolio
		FROM users u
		JOIN LATERAL (
			SELECT balance, cash, portfolio
			FROM user_history
			WHERE user_id = u.user_id
			ORDER BY ts DESC
			LIMIT 1
		) uh ON true
		ORDER BY u.user_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []UserSnapshot
	for rows.Next() {
		var snap UserSnapshot
		var portfolioJSON []byte
		if err := rows.Scan(&snap.UserID, &snap.Username, &snap.Balance, &snap.Cash, &portfolioJSON); err != nil {
			return nil, err
		}
		snap.Holdings = Holdings{}
		if len(portfolioJSON) > 0 {
			if err := json.Unmarshal(portfolioJSON, &snap.Holdings); err != nil {
				return nil, err
			}
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *Postgres) AllStocks(ctx context.Context) ([]StockQuote, error) {
	rows, err := s.db.Query(ctx, `
		SELECT st.symbol, st.name, sh.price,
		       (SELECT price FROM stock_history
		        WHERE stock_id = st.id AND ts >= now() - interval '24 hours'
		        ORDER BY ts ASC
		        LIMIT 1) AS earliest_price
		FROM stocks st
		JOIN LATERAL (
			SELECT price
			FROM stock_history
			WHERE stock_id = st.id
			ORDER BY ts DESC
			LIMIT 1
		) sh ON true
		ORDER BY st.symbol
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StockQuote
	for rows.Next() {
		var q StockQuote
		var earliest *float64
		if err := rows.Scan(&q.Symbol, &q.Name, &q.Price, &earliest); err != nil {
			return nil, err
		}
		q.Return24h = windowReturn(q.Price, earliest)
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *Postgres) Leaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT u.username, uh.balance,
		       (SELECT balance FROM user_history
		        WHERE user_id = u.user_id AND ts >= now() - interval '24 hours'
		        ORDER BY ts ASC
		        LIMIT 1) AS old_balance
		FROM users u
		JOIN LATERAL (
			SELECT balance
			FROM user_history
			WHERE user_id = u.user_id
			ORDER BY ts DESC
			LIMIT 1
		) uh ON true
		ORDER BY uh.balance DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LeaderboardRow
	rank := 1
	for rows.Next() {
		var r LeaderboardRow
		var earliest *float64
		if err := rows.Scan(&r.Username, &r.Balance, &earliest); err != nil {
			return nil, err
		}
		r.Return24h = windowReturn(r.Balance, earliest)
		r.Rank = rank
		rank++
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Postgres) StockHistory(ctx context.Context, symbol string) ([]PricePoint, error) {
	rows, err := s.db.Query(ctx, `
		SELECT sh.ts, sh.price
		FROM stock_history sh
		JOIN stocks st ON st.id = sh.stock_id
		WHERE st.symbol = $1
		ORDER BY sh.ts ASC
	`, symbol)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PricePoint
	for rows.Next() {
		var p PricePoint
		if err := rows.Scan(&p.At, &p.Price); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNoHistory
	}
	return out, nil
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func isSymbolConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "stocks_symbol_key"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
