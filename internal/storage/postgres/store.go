package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rangeKeeper/internal/model"
)

// Schema creates the tables used by Store.
const Schema = `
CREATE TABLE IF NOT EXISTS vault_state (
	key        TEXT PRIMARY KEY,
	value      BYTEA NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS repositions (
	id               BIGSERIAL PRIMARY KEY,
	vault            TEXT NOT NULL,
	old_position_id  BIGINT NOT NULL,
	new_position_id  BIGINT NOT NULL,
	tick_lower       INTEGER NOT NULL,
	tick_upper       INTEGER NOT NULL,
	liquidity        NUMERIC(78, 0) NOT NULL,
	start_value      NUMERIC(78, 0) NOT NULL,
	end_value        NUMERIC(78, 0) NOT NULL,
	fees0            NUMERIC(78, 0) NOT NULL,
	fees1            NUMERIC(78, 0) NOT NULL,
	principal0       NUMERIC(78, 0) NOT NULL,
	principal1       NUMERIC(78, 0) NOT NULL,
	minted0          NUMERIC(78, 0) NOT NULL,
	minted1          NUMERIC(78, 0) NOT NULL,
	sqrt_price_x96   NUMERIC(78, 0) NOT NULL,
	tick             INTEGER NOT NULL,
	loss_ppm         BIGINT NOT NULL,
	swapped          BOOLEAN NOT NULL,
	event_ts         BIGINT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (vault, new_position_id)
);

CREATE TABLE IF NOT EXISTS position_events (
	chain_id      BIGINT NOT NULL,
	position_id   BIGINT NOT NULL,
	event         TEXT NOT NULL,
	block_number  BIGINT NOT NULL,
	tx_hash       TEXT NOT NULL,
	log_index     BIGINT NOT NULL,
	event_ts      BIGINT NOT NULL,
	liquidity     NUMERIC(78, 0),
	amount0       NUMERIC(78, 0),
	amount1       NUMERIC(78, 0),
	recipient     TEXT,
	from_address  TEXT,
	to_address    TEXT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (chain_id, tx_hash, log_index)
);
`

// Store provides Postgres persistence for custody state and reposition events.
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

// EnsureSchema creates missing tables.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	return err
}

// Get returns the value stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, fmt.Errorf("state key required")
	}
	var value []byte
	row := s.pool.QueryRow(ctx, `SELECT value FROM vault_state WHERE key=$1`, key)
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

// Set upserts value under key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("state key required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO vault_state (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = now()
	`, key, value)
	return err
}

// Keys lists state keys with the given prefix.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT key FROM vault_state WHERE starts_with(key, $1) ORDER BY key`, prefix)
	if err != nil {
		return nil, err
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// PutRepositionEvent inserts a reposition event. Re-inserting the same
// (vault, new position) pair is a no-op.
func (s *Store) PutRepositionEvent(ctx context.Context, event model.RepositionEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO repositions (
			vault, old_position_id, new_position_id, tick_lower, tick_upper, liquidity,
			start_value, end_value, fees0, fees1, principal0, principal1, minted0, minted1,
			sqrt_price_x96, tick, loss_ppm, swapped, event_ts, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,now())
		ON CONFLICT (vault, new_position_id) DO NOTHING
	`,
		event.Vault,
		int64(event.OldPositionID),
		int64(event.NewPositionID),
		event.TickLower,
		event.TickUpper,
		event.Liquidity,
		event.StartValue,
		event.EndValue,
		event.Fees0,
		event.Fees1,
		event.Principal0,
		event.Principal1,
		event.Minted0,
		event.Minted1,
		event.SqrtPriceX96,
		event.Tick,
		event.LossPPM,
		event.Swapped,
		int64(event.Timestamp),
	)
	if err != nil {
		return fmt.Errorf("insert reposition: %w", err)
	}
	return nil
}

// PutPositionEvents inserts decoded position events in one batch. Events
// already stored are skipped, so a rescanned range is harmless.
func (s *Store) PutPositionEvents(ctx context.Context, events []model.PositionEvent) error {
	if len(events) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, event := range events {
		batch.Queue(`
			INSERT INTO position_events (
				chain_id, position_id, event, block_number, tx_hash, log_index, event_ts,
				liquidity, amount0, amount1, recipient, from_address, to_address, created_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now())
			ON CONFLICT (chain_id, tx_hash, log_index) DO NOTHING
		`,
			int64(event.ChainID),
			int64(event.PositionID),
			event.Event,
			int64(event.BlockNumber),
			event.TxHash,
			int64(event.LogIndex),
			int64(event.Timestamp),
			nullIfEmpty(event.Liquidity),
			nullIfEmpty(event.Amount0),
			nullIfEmpty(event.Amount1),
			nullIfEmpty(event.Recipient),
			nullIfEmpty(event.From),
			nullIfEmpty(event.To),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert position event: %w", err)
		}
	}
	return nil
}

func nullIfEmpty(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

// ListRepositionEvents returns the latest events of vault, newest first.
func (s *Store) ListRepositionEvents(ctx context.Context, vault string, limit int) ([]model.RepositionEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT vault, old_position_id, new_position_id, tick_lower, tick_upper,
			liquidity::text, start_value::text, end_value::text, fees0::text, fees1::text,
			principal0::text, principal1::text, minted0::text, minted1::text,
			sqrt_price_x96::text, tick, loss_ppm, swapped, event_ts
		FROM repositions
		WHERE vault=$1
		ORDER BY id DESC
		LIMIT $2
	`, vault, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.RepositionEvent
	for rows.Next() {
		var (
			event          model.RepositionEvent
			oldID, newID   int64
			eventTimestamp int64
		)
		if err := rows.Scan(
			&event.Vault, &oldID, &newID, &event.TickLower, &event.TickUpper,
			&event.Liquidity, &event.StartValue, &event.EndValue, &event.Fees0, &event.Fees1,
			&event.Principal0, &event.Principal1, &event.Minted0, &event.Minted1,
			&event.SqrtPriceX96, &event.Tick, &event.LossPPM, &event.Swapped, &eventTimestamp,
		); err != nil {
			return nil, err
		}
		event.OldPositionID = uint64(oldID)
		event.NewPositionID = uint64(newID)
		event.Timestamp = uint64(eventTimestamp)
		events = append(events, event)
	}
	return events, rows.Err()
}

// ListPositionEvents returns the stored events of position id on chainID in
// chain order.
func (s *Store) ListPositionEvents(ctx context.Context, chainID, id uint64) ([]model.PositionEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT chain_id, position_id, event, block_number, tx_hash, log_index, event_ts,
			COALESCE(liquidity::text, ''), COALESCE(amount0::text, ''), COALESCE(amount1::text, ''),
			COALESCE(recipient, ''), COALESCE(from_address, ''), COALESCE(to_address, '')
		FROM position_events
		WHERE chain_id=$1 AND position_id=$2
		ORDER BY block_number, log_index
	`, int64(chainID), int64(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []model.PositionEvent
	for rows.Next() {
		var (
			event                      model.PositionEvent
			chain, position, block, ts int64
			logIndex                   int64
		)
		if err := rows.Scan(
			&chain, &position, &event.Event, &block, &event.TxHash, &logIndex, &ts,
			&event.Liquidity, &event.Amount0, &event.Amount1,
			&event.Recipient, &event.From, &event.To,
		); err != nil {
			return nil, err
		}
		event.ChainID = uint64(chain)
		event.PositionID = uint64(position)
		event.BlockNumber = uint64(block)
		event.LogIndex = uint64(logIndex)
		event.Timestamp = uint64(ts)
		events = append(events, event)
	}
	return events, rows.Err()
}
