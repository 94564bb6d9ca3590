package ledger

import "context"

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS stocks (
		id      bigserial PRIMARY KEY,
		symbol  text NOT NULL UNIQUE,
		name    text NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS stock_history (
		id       bigserial PRIMARY KEY,
		stock_id bigint NOT NULL REFERENCES stocks(id),
		ts       timestamptz NOT NULL DEFAULT now(),
		price    double precision NOT NULL,
		volume   bigint NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS stock_history_stock_ts ON stock_history (stock_id, ts DESC)`,
	`CREATE TABLE IF NOT EXISTS users (
		user_id  bigint PRIMARY KEY,
		username text NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS user_history (
		id        bigserial PRIMARY KEY,
		tx_id     uuid NOT NULL,
		user_id   bigint NOT NULL REFERENCES users(user_id),
		ts        timestamptz NOT NULL DEFAULT now(),
		balance   double precision NOT NULL,
		cash      double precision NOT NULL,
		portfolio jsonb NOT NULL DEFAULT '{}'::jsonb
	)`,
	`CREATE INDEX IF NOT EXISTS user_history_user_ts ON user_history (user_id, ts DESC)`,
}

// EnsureSchema creates the ledger tables when they are missing. Statements
// are individually idempotent so a partial earlier run is harmless.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
