package artifact

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxPersister is the production Persister backed by a pgxpool.Pool,
// adapted from the teacher's internal/modules/artifacts.Builder (which
// wraps a pgxpool.Pool behind a small persister interface for exactly
// this testability reason).
type PgxPersister struct {
	pool *pgxpool.Pool
}

// NewPgxPersister connects to Postgres and ensures the artifact tables
// exist. A fixed two-table schema doesn't warrant a migration framework
// (see DESIGN.md's dropped-dependency note on golang-migrate).
func NewPgxPersister(ctx context.Context, dsn string) (*PgxPersister, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("artifact: connecting to postgres: %w", err)
	}
	p := &PgxPersister{pool: pool}
	if err := p.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *PgxPersister) ensureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS backtest_trades (
			run_id        TEXT NOT NULL,
			order_id      TEXT NOT NULL,
			symbol        TEXT NOT NULL,
			name          TEXT NOT NULL,
			trade_number  INT  NOT NULL,
			exit_sequence INT  NOT NULL,
			direction     TEXT NOT NULL,
			entry_time    TIMESTAMPTZ NOT NULL,
			entry_price   NUMERIC NOT NULL,
			exit_time     TIMESTAMPTZ NOT NULL,
			exit_price    NUMERIC NOT NULL,
			size          NUMERIC NOT NULL,
			pnl           NUMERIC NOT NULL,
			commission    NUMERIC NOT NULL,
			liquidated    BOOLEAN NOT NULL
		);
		CREATE TABLE IF NOT EXISTS backtest_config_snapshots (
			run_id     TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL,
			config     JSONB NOT NULL,
			hash       TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("artifact: ensuring schema: %w", err)
	}
	return nil
}

func (p *PgxPersister) InsertTrade(ctx context.Context, t TradeRecord) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO backtest_trades
			(run_id, order_id, symbol, name, trade_number, exit_sequence, direction,
			 entry_time, entry_price, exit_time, exit_price, size, pnl, commission, liquidated)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
	`, t.RunID, t.Order, t.Symbol, t.Name, t.TradeNumber, t.ExitSequence, t.Direction,
		t.EntryTime, t.EntryPrice, t.ExitTime, t.ExitPrice, t.Size, t.PnL, t.Commission, t.Liquidated)
	if err != nil {
		return fmt.Errorf("artifact: inserting trade: %w", err)
	}
	return nil
}

func (p *PgxPersister) InsertConfigSnapshot(ctx context.Context, s ConfigSnapshot) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO backtest_config_snapshots (run_id, created_at, config, hash)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id) DO NOTHING
	`, s.RunID, s.CreatedAt, s.CanonicalPayload(), s.Hash)
	if err != nil {
		return fmt.Errorf("artifact: inserting config snapshot: %w", err)
	}
	return nil
}

func (p *PgxPersister) Close() {
	p.pool.Close()
}
