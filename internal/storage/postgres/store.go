package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/enliven17/somnia-predict/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS market_events (
	id           TEXT PRIMARY KEY,
	event_type   TEXT NOT NULL,
	market_id    TEXT NOT NULL,
	block_number BIGINT NOT NULL,
	log_index    INTEGER NOT NULL,
	tx_hash      TEXT NOT NULL,
	source       TEXT NOT NULL,
	event_ts     TIMESTAMPTZ NOT NULL,
	data         JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS market_events_market_idx ON market_events (market_id, block_number DESC);

CREATE TABLE IF NOT EXISTS bet_activities (
	id           TEXT PRIMARY KEY,
	market_id    TEXT NOT NULL,
	user_address TEXT NOT NULL,
	option       SMALLINT NOT NULL,
	amount       NUMERIC(78, 0) NOT NULL,
	shares       NUMERIC(78, 0) NOT NULL,
	tx_hash      TEXT NOT NULL,
	market_title TEXT,
	option_a     TEXT,
	option_b     TEXT,
	created_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS bet_activities_market_idx ON bet_activities (market_id);
`

// Store archives market events and bet activity rows in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// EnsureSchema creates the archive tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// PutEventBatch inserts events and their bet activity rows. Existing ids are left untouched.
func (s *Store) PutEventBatch(ctx context.Context, events []model.MarketEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	queued := 0
	for _, event := range events {
		data, err := json.Marshal(event.Data)
		if err != nil {
			return fmt.Errorf("marshal event data %s: %w", event.ID, err)
		}
		batch.Queue(`
			INSERT INTO market_events (
				id, event_type, market_id, block_number, log_index, tx_hash, source, event_ts, data
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO NOTHING
		`,
			event.ID,
			string(event.Type),
			event.MarketID,
			int64(event.BlockNumber),
			int32(event.LogIndex),
			event.TxHash,
			string(event.Source),
			time.UnixMilli(event.Timestamp).UTC(),
			data,
		)
		queued++

		activity, ok := model.BetActivityFromEvent(event)
		if !ok {
			continue
		}
		batch.Queue(`
			INSERT INTO bet_activities (
				id, market_id, user_address, option, amount, shares, tx_hash,
				market_title, option_a, option_b, created_at
			) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9, $10, $11)
			ON CONFLICT (id) DO NOTHING
		`,
			activity.ID,
			activity.MarketID,
			activity.UserAddress,
			int16(activity.Option),
			numericOrZero(activity.Amount),
			numericOrZero(activity.Shares),
			activity.TxHash,
			activity.MarketTitle,
			activity.OptionA,
			activity.OptionB,
			activity.CreatedAt,
		)
		queued++
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := 0; i < queued; i++ {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadMarketStats returns the archived bet count and wei volume of a market.
func (s *Store) LoadMarketStats(ctx context.Context, marketID string) (uint64, decimal.Decimal, error) {
	return s.LoadMarketStatsUpTo(ctx, marketID, math.MaxInt64)
}

// LoadMarketStatsUpTo is LoadMarketStats limited to bets mined at or below block.
func (s *Store) LoadMarketStatsUpTo(ctx context.Context, marketID string, block uint64) (uint64, decimal.Decimal, error) {
	if marketID == "" {
		return 0, decimal.Zero, fmt.Errorf("market id required")
	}
	if block > math.MaxInt64 {
		block = math.MaxInt64
	}
	var (
		count  int64
		volume string
	)
	row := s.pool.QueryRow(ctx, `
		SELECT count(*), COALESCE(sum(b.amount), 0)::text
		FROM bet_activities b
		JOIN market_events e ON e.id = b.id
		WHERE b.market_id = $1 AND e.block_number <= $2
	`, marketID, int64(block))
	if err := row.Scan(&count, &volume); err != nil {
		return 0, decimal.Zero, err
	}
	parsed, err := decimal.NewFromString(volume)
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("parse volume: %w", err)
	}
	return uint64(count), parsed, nil
}

func numericOrZero(value string) string {
	if value == "" {
		return "0"
	}
	return value
}
